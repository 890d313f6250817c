package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botwatch/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(config.GatewayConfig{
		APIURL:               srv.URL,
		APIToken:             "tok-123",
		TimeoutSeconds:       2,
		ActionTimeoutSeconds: 5,
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewClient(config.GatewayConfig{APIURL: "/api"})
	assert.Error(t, err)
	_, err = NewClient(config.GatewayConfig{})
	assert.Error(t, err)
}

func TestClient_StatsSendsBearer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "/dashboard/stats", r.URL.Path)
		_, _ = io.WriteString(w, `{"total_trades":12,"winning_trades":7,"losing_trades":5,"win_rate":58.33,"total_profit":120.5,"open_positions":2,"bot_active":true,"demo_mode":false}`)
	})
	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, stats.TotalTrades)
	assert.Equal(t, 120.5, stats.TotalProfit)
	assert.True(t, stats.BotActive)
}

func TestClient_PositionsNullableFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"positions":[
			{"id":1,"symbol":"AAPL","side":"buy","quantity":10,"remaining_quantity":4,"entry_price":100,"current_price":105,"pnl":20,"status":"open"},
			{"id":2,"symbol":"TSLA","side":"sell","quantity":5,"entry_price":200,"current_price":null,"pnl":null,"status":"open"}
		]}`)
	})
	positions, err := c.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, 4.0, positions[0].Remaining())
	assert.Nil(t, positions[1].PnL)
	assert.Nil(t, positions[1].CurrentPrice)
	assert.Equal(t, 5.0, positions[1].Remaining())
	assert.Equal(t, 0.0, positions[1].PnLValue())
}

func TestClient_EmptyPositionsIsNotNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"positions":null}`)
	})
	positions, err := c.Positions(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, positions)
	assert.Empty(t, positions)
}

func TestClient_ErrorClassification(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		kind    Kind
		message string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"Token has expired"}`, KindAuth, "Token has expired"},
		{"forbidden", http.StatusForbidden, ``, KindAuth, "Forbidden"},
		{"bad request", http.StatusBadRequest, `{"error":"risk_level invalid"}`, KindValidation, "risk_level invalid"},
		{"not found", http.StatusNotFound, `{"error":"Bot config not found"}`, KindBusiness, "Bot config not found"},
		{"server error", http.StatusInternalServerError, `{"message":"broker offline"}`, KindBusiness, "broker offline"},
		{"bad gateway", http.StatusBadGateway, `upstream down`, KindTransport, "upstream down"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := c.Stats(context.Background())
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err))
			assert.Equal(t, tc.message, Message(err))
		})
	}
}

func TestClient_MissingTokenIsAuthFailure(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()
	c, err := NewClient(config.GatewayConfig{APIURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Stats(context.Background())
	assert.True(t, IsAuth(err))
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.False(t, called)
}

func TestClient_TimeoutIsTransportFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	c.readTimeout = 50 * time.Millisecond
	_, err := c.Stats(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestClient_UndecodableBodyIsTransportFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html>oops</html>`)
	})
	_, err := c.Stats(context.Background())
	assert.True(t, IsTransport(err))
}

func TestClient_KillSwitch(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/safety/panic/kill-switch", r.URL.Path)
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "test", body["reason"])
			_, _ = io.WriteString(w, `{"success":true,"message":"Kill switch activated. Closed 3 positions.","positions_closed":3,"bot_deactivated":true}`)
		})
		res, err := c.KillSwitch(context.Background(), "test")
		require.NoError(t, err)
		assert.Equal(t, 3, res.PositionsClosed)
		assert.True(t, res.BotDeactivated)
	})
	t.Run("partial failure", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"success":false,"message":"Kill switch partially failed","errors":["AAPL: market closed"]}`)
		})
		_, err := c.KillSwitch(context.Background(), "test")
		require.Error(t, err)
		assert.True(t, IsBusiness(err))
		assert.Equal(t, "Kill switch partially failed", Message(err))
	})
	t.Run("2xx with success false", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"success":false,"message":"nothing to close","errors":["no broker"]}`)
		})
		_, err := c.KillSwitch(context.Background(), "test")
		require.Error(t, err)
		assert.True(t, IsBusiness(err))
		assert.Equal(t, "nothing to close: no broker", Message(err))
	})
}

func TestClient_ConnectionStates(t *testing.T) {
	cases := map[string]string{
		`{"success":true,"status":"connected","source":"alpaca","latency_ms":12}`: ConnConnected,
		`{"success":false,"error":"no broker"}`:                                   ConnDisconnected,
		`{"success":true,"status":"weird"}`:                                       ConnUnknown,
	}
	for body, want := range cases {
		body := body
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, body)
		})
		state, err := c.Connection(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, state.Status, body)
	}
}

func TestClient_PricesAndEquity(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dashboard/realtime-prices":
			_, _ = io.WriteString(w, `{"success":true,"prices":{"aapl":{"price":190.1},"TSLA":{"price":250}}}`)
		case "/dashboard/equity-curve":
			assert.Equal(t, "24", r.URL.Query().Get("hours"))
			_, _ = io.WriteString(w, `{"success":true,"equity_curve":[{"timestamp":"2024-01-01T00:00:00","equity":1000},{"timestamp":"2024-01-01T01:00:00","equity":1010}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	prices, err := c.Prices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 190.1, prices["AAPL"])
	assert.Equal(t, 250.0, prices["TSLA"])

	points, err := c.EquityCurve(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 1010.0, points[1].Equity)
}

func TestClient_AnalyticsNestedOrBare(t *testing.T) {
	for _, body := range []string{
		`{"success":true,"analytics":{"total_trades":4,"profit_factor":2.5}}`,
		`{"total_trades":4,"profit_factor":2.5}`,
	} {
		body := body
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, body)
		})
		a, err := c.Analytics(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 4, a.TotalTrades)
		assert.Equal(t, 2.5, a.ProfitFactor)
		assert.Equal(t, 0.0, a.MaxDrawdown)
	}
}

func TestClient_UpdateConfigSendsOnlyProvidedFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		raw, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"risk_level":"low","demo_mode":true}`, string(raw))
		_, _ = io.WriteString(w, `{"message":"Configuration updated successfully"}`)
	})
	level, demo := "low", true
	msg, err := c.UpdateConfig(context.Background(), BotConfig{RiskLevel: &level, DemoMode: &demo})
	require.NoError(t, err)
	assert.Equal(t, "Configuration updated successfully", msg)
}

func TestClient_SettingsReads(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/settings/config":
			_, _ = io.WriteString(w, `{"risk_level":"medium","max_position_size":1000,"stop_loss_percent":2,"take_profit_percent":5,"demo_mode":true,"auto_close_enabled":false}`)
		case "/settings/broker":
			_, _ = io.WriteString(w, `{"broker_name":"alpaca","is_connected":true}`)
		case "/safety/panic/history":
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			_, _ = io.WriteString(w, `{"success":true,"history":[{"position_id":9,"action":"PANIC_CLOSE","reason":"drawdown","timestamp":"2024-03-01 10:00:00"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	cfg, err := c.Config(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg.RiskLevel)
	assert.Equal(t, "medium", *cfg.RiskLevel)
	require.NotNil(t, cfg.DemoMode)
	assert.True(t, *cfg.DemoMode)

	broker, err := c.Broker(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alpaca", broker.BrokerName)
	require.NotNil(t, broker.IsConnected)
	assert.True(t, *broker.IsConnected)

	events, err := c.PanicHistory(ctx, 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(9), events[0].PositionID)
	assert.Equal(t, "drawdown", events[0].Reason)
}

func TestClient_PanicHistoryRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"error":"no such table: panic_log"}`)
	})
	_, err := c.PanicHistory(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, KindBusiness, KindOf(err))
	assert.Equal(t, "no such table: panic_log", Message(err))
}

func TestBrokerSettingsRedacted(t *testing.T) {
	b := BrokerSettings{BrokerName: "alpaca", APIKey: "AKX", APISecret: "shh"}.Redacted()
	assert.Equal(t, "alpaca", b.BrokerName)
	assert.Equal(t, "****", b.APIKey)
	assert.Equal(t, "****", b.APISecret)
	assert.Empty(t, BrokerSettings{}.Redacted().APIKey)
}

func TestWebhookSignal(t *testing.T) {
	cases := []struct {
		payload string
		want    Signal
	}{
		{`{"ticker":"aapl","action":"BUY","price":"190.5","message":"breakout"}`, Signal{Ticker: "AAPL", Direction: "buy", Price: 190.5, Message: "breakout"}},
		{`"{\"symbol\":\"TSLA\",\"side\":\"sell\",\"close\":250}"`, Signal{Ticker: "TSLA", Direction: "sell", Price: 250}},
		{`"plain text alert"`, Signal{Message: "plain text alert", Raw: "plain text alert"}},
		{`[1,2]`, Signal{Raw: "[1,2]"}},
		{`"long entry {\"ticker\":\"eth\",\"price\":3000}"`, Signal{Ticker: "ETH", Price: 3000, Message: `long entry {"ticker":"eth","price":3000}`}},
		{`"alert:\n` + "```json" + `\n{\"pair\":\"BTC/USDT\",\"signal\":\"Long\"}\n` + "```" + `"`, Signal{Ticker: "BTC/USDT", Direction: "long", Message: "alert:\n```json\n{\"pair\":\"BTC/USDT\",\"signal\":\"Long\"}\n```"}},
	}
	for _, tc := range cases {
		got := Webhook{Payload: json.RawMessage(tc.payload)}.Signal()
		if tc.want.Raw == "" {
			tc.want.Raw = got.Raw
		}
		assert.Equal(t, tc.want, got, tc.payload)
	}
}

func TestParseTime(t *testing.T) {
	for _, raw := range []string{"2024-03-01T10:00:00", "2024-03-01 10:00:00", "2024-03-01T10:00:00Z", "2024-03-01T10:00:00.123456"} {
		ts, ok := ParseTime(raw)
		require.True(t, ok, raw)
		assert.Equal(t, 2024, ts.Year())
		assert.Equal(t, 10, ts.Hour())
	}
	_, ok := ParseTime("yesterday")
	assert.False(t, ok)
}

func TestPositionRemainingClamp(t *testing.T) {
	over := 15.0
	p := Position{Quantity: 10, RemainingQuantity: &over}
	assert.Equal(t, 10.0, p.Remaining())
}
