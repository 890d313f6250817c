package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botwatch/internal/config"
	"botwatch/internal/gateway"
	"botwatch/internal/store"
)

type captureNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureNotifier) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, text)
	return nil
}

func fakeBot(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/dashboard/stats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"total_trades":3,"total_profit":42.5,"bot_active":true}`))
	})
	mux.HandleFunc("/dashboard/positions", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"positions":[]}`))
	})
	mux.HandleFunc("/dashboard/toggle-bot", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte(`{"is_active":false,"message":"Bot deactivated"}`))
	})
	mux.HandleFunc("/settings/config", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"risk_level":"low","max_position_size":250,"demo_mode":true}`))
	})
	mux.HandleFunc("/settings/broker", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"broker_name":"alpaca","is_connected":false,"api_secret":"leak"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Gateway.APIURL = url
	cfg.Gateway.APIToken = "secret"
	cfg.HTTP.Enabled = false
	cfg.Store.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.Poll.Feeds = []string{"stats", "positions"}
	return cfg
}

func TestRunPollsUntilCancelled(t *testing.T) {
	bot := fakeBot(t)
	a, err := NewAppBuilder(testConfig(t, bot.URL), WithNotifier(&captureNotifier{})).Build(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, RunOptions{}) }()

	require.Eventually(t, func() bool {
		snap := a.View().Snapshot()
		return snap.Stats != nil && snap.Feeds["positions"].Loaded
	}, 3*time.Second, 20*time.Millisecond)
	view := a.View().Snapshot().View()
	assert.Equal(t, 42.5, view.Realized)
	assert.True(t, view.Stats.BotActive)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, a.View().Sealed())
}

func TestToggleIsJournaled(t *testing.T) {
	bot := fakeBot(t)
	a, err := NewAppBuilder(testConfig(t, bot.URL), WithNotifier(&captureNotifier{})).Build(context.Background())
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Actions().ToggleBot(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.BotActive)
	assert.False(t, *res.BotActive)
	a.Actions().Wait()

	history, err := a.Actions().History(context.Background(), store.Query{Kind: "toggle_bot"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, res.ID, history[0].ID)
	assert.Equal(t, "Bot deactivated", history[0].Message)
}

func TestSummaryListsFeeds(t *testing.T) {
	bot := fakeBot(t)
	cfg := testConfig(t, bot.URL)
	a, err := NewAppBuilder(cfg).Build(context.Background())
	require.NoError(t, err)
	defer a.Close()

	out := a.Summary.String()
	assert.Contains(t, out, bot.URL)
	assert.Contains(t, out, "stats")
	assert.Contains(t, out, "positions")
	assert.NotContains(t, out, "equity_curve")
	assert.Contains(t, out, "(disabled)")
}

func TestRemoteSettings(t *testing.T) {
	bot := fakeBot(t)
	a, err := NewAppBuilder(testConfig(t, bot.URL)).Build(context.Background())
	require.NoError(t, err)
	defer a.Close()

	rs, err := a.RemoteSettings(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rs.Config.RiskLevel)
	assert.Equal(t, "low", *rs.Config.RiskLevel)
	assert.Equal(t, "alpaca", rs.Broker.BrokerName)
	assert.Equal(t, "****", rs.Broker.APISecret)
}

func TestRemoteSettingsFailure(t *testing.T) {
	bot := fakeBot(t)
	cfg := testConfig(t, bot.URL)
	cfg.Gateway.APIToken = ""
	a, err := NewAppBuilder(cfg).Build(context.Background())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.RemoteSettings(context.Background())
	require.Error(t, err)
	assert.True(t, gateway.IsAuth(err))
}

func TestNilConfig(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)
}
