package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botwatch/internal/config"
)

func TestMessageMarkdown(t *testing.T) {
	msg := Message{
		Icon:  "🛑",
		Title: "Kill switch",
		Sections: []Section{
			{Title: "Result", Lines: []string{"positions_closed=3", "  ", "bot_active=false"}},
			{Title: "Empty", Lines: []string{""}},
		},
		Footer:    "reason: manual_panic",
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	out := msg.Markdown()
	assert.Contains(t, out, "*🛑 Kill switch*")
	assert.Contains(t, out, "- positions_closed=3")
	assert.NotContains(t, out, "Empty")
	assert.Contains(t, out, `manual\_panic`)
	assert.Contains(t, out, "2024-03-01 10:00:00 UTC")
}

func TestMessageMarkdownTruncates(t *testing.T) {
	out := Message{Title: "x", Sections: []Section{{Lines: []string{strings.Repeat("0123456789", 500)}}}}.Markdown()
	assert.LessOrEqual(t, utf8.RuneCountInString(out), maxMessageLen+1)
	assert.True(t, strings.HasSuffix(out, "…"))
}

func TestTelegramRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "42", body["chat_id"])
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := newTelegram(srv.URL, "TOKEN", "42")
	tg.rest.SetRetryWaitTime(10 * time.Millisecond).SetRetryMaxWaitTime(20 * time.Millisecond)
	require.NoError(t, tg.SendText("hello"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestTelegramIncompleteConfig(t *testing.T) {
	assert.Error(t, NewTelegram("", "1").SendText("x"))
}

func TestFromConfig(t *testing.T) {
	assert.IsType(t, Logging{}, FromConfig(config.NotifyConfig{}))
	assert.IsType(t, Logging{}, FromConfig(config.NotifyConfig{Telegram: config.TelegramConfig{Enabled: true}}))
	assert.IsType(t, &Telegram{}, FromConfig(config.NotifyConfig{Telegram: config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c"}}))
}
