package gormstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"botwatch/internal/store"
	"botwatch/internal/store/model"
)

func openTestJournal(t *testing.T) *JournalStore {
	t.Helper()
	s, err := NewJournalStore(filepath.Join(t.TempDir(), "db", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestJournalAppendAndRecent(t *testing.T) {
	s := openTestJournal(t)
	ctx := context.Background()
	active := false
	for i := 1; i <= 5; i++ {
		kind := "close_position"
		if i%2 == 0 {
			kind = "kill_switch"
		}
		require.NoError(t, s.Append(ctx, &model.ActionRecord{
			ID:         fmt.Sprintf("id-%d", i),
			Kind:       kind,
			Target:     fmt.Sprintf("%d", i),
			Success:    i != 4,
			BotActive:  &active,
			Details:    datatypes.JSON(`{"positions_closed":2}`),
			StartedAt:  int64(i * 1000),
			FinishedAt: int64(i*1000 + 10),
		}))
	}

	all, err := s.Recent(ctx, store.Query{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "id-5", all[0].ID)

	kills, err := s.Recent(ctx, store.Query{Kind: "kill_switch"})
	require.NoError(t, err)
	require.Len(t, kills, 2)
	assert.Equal(t, "id-4", kills[0].ID)
	assert.False(t, kills[0].Success)
	require.NotNil(t, kills[0].BotActive)
	assert.JSONEq(t, `{"positions_closed":2}`, string(kills[0].Details))

	limited, err := s.Recent(ctx, store.Query{Limit: 2, Target: "3"})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "id-3", limited[0].ID)
}

func TestJournalRejectsMissingID(t *testing.T) {
	s := openTestJournal(t)
	assert.Error(t, s.Append(context.Background(), &model.ActionRecord{Kind: "toggle_bot"}))
	assert.Error(t, s.Append(context.Background(), nil))
}

func TestJournalPrune(t *testing.T) {
	s := openTestJournal(t)
	ctx := context.Background()
	for i := 1; i <= 6; i++ {
		require.NoError(t, s.Append(ctx, &model.ActionRecord{ID: fmt.Sprintf("id-%d", i), Kind: "toggle_bot", FinishedAt: int64(i)}))
	}
	n, err := s.Prune(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	left, err := s.Recent(ctx, store.Query{})
	require.NoError(t, err)
	require.Len(t, left, 4)
	assert.Equal(t, "id-3", left[3].ID)
}

func TestNewJournalStoreEmptyPath(t *testing.T) {
	_, err := NewJournalStore("  ")
	assert.Error(t, err)
}
