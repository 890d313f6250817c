package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"botwatch/internal/config"
)

const (
	defaultReadTimeout   = 8 * time.Second
	defaultActionTimeout = 30 * time.Second
)

// Client talks to the trading bot's dashboard/settings/safety API. Reads and
// control writes use separate timeouts; there is no built-in retry because
// the poll cadence already retries reads and writes must not repeat.
type Client struct {
	rest          *resty.Client
	token         string
	readTimeout   time.Duration
	actionTimeout time.Duration
}

// NewClient constructs a gateway client from configuration.
func NewClient(cfg config.GatewayConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.APIURL)
	if raw == "" {
		return nil, fmt.Errorf("gateway.api_url 不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("解析 gateway.api_url 失败: %q", raw)
	}
	rest := resty.New().
		SetBaseURL(strings.TrimRight(parsed.String(), "/")).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if ua := strings.TrimSpace(cfg.UserAgent); ua != "" {
		rest.SetHeader("User-Agent", ua)
	}
	if cfg.InsecureSkipVerify {
		rest.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) // #nosec G402
	}
	c := &Client{
		rest:          rest,
		token:         strings.TrimSpace(cfg.APIToken),
		readTimeout:   cfg.RequestTimeout(),
		actionTimeout: cfg.ActionTimeout(),
	}
	if c.readTimeout <= 0 {
		c.readTimeout = defaultReadTimeout
	}
	if c.actionTimeout <= 0 {
		c.actionTimeout = defaultActionTimeout
	}
	return c, nil
}

// SetHTTPClient swaps the underlying transport, mainly for tests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	if hc == nil {
		return
	}
	base := c.rest.BaseURL
	c.rest = resty.NewWithClient(hc).
		SetBaseURL(base).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
}

// ReadTimeout reports the per-request bound applied to reads.
func (c *Client) ReadTimeout() time.Duration { return c.readTimeout }

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := c.read(ctx, "/dashboard/stats", nil, &out)
	return out, err
}

func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var out struct {
		Positions []Position `json:"positions"`
	}
	if err := c.read(ctx, "/dashboard/positions", nil, &out); err != nil {
		return nil, err
	}
	if out.Positions == nil {
		out.Positions = []Position{}
	}
	return out.Positions, nil
}

func (c *Client) Webhooks(ctx context.Context) ([]Webhook, error) {
	var out struct {
		Webhooks []Webhook `json:"webhooks"`
	}
	if err := c.read(ctx, "/dashboard/webhooks", nil, &out); err != nil {
		return nil, err
	}
	if out.Webhooks == nil {
		out.Webhooks = []Webhook{}
	}
	return out.Webhooks, nil
}

// Analytics accepts both {"analytics": {...}} and a bare object.
func (c *Client) Analytics(ctx context.Context) (Analytics, error) {
	var raw json.RawMessage
	if err := c.read(ctx, "/dashboard/analytics", nil, &raw); err != nil {
		return Analytics{}, err
	}
	if err := successFlag("GET /dashboard/analytics", raw); err != nil {
		return Analytics{}, err
	}
	body := raw
	if nested := gjson.GetBytes(raw, "analytics"); nested.IsObject() {
		body = json.RawMessage(nested.Raw)
	}
	var out Analytics
	if err := json.Unmarshal(body, &out); err != nil {
		return Analytics{}, &Error{Kind: KindTransport, Op: "GET /dashboard/analytics", Message: "解析响应失败", Err: err}
	}
	return out, nil
}

// Prices returns ticker → last price.
func (c *Client) Prices(ctx context.Context) (map[string]float64, error) {
	var out struct {
		Success *bool                 `json:"success"`
		Prices  map[string]PriceQuote `json:"prices"`
		Error   string                `json:"error"`
	}
	if err := c.read(ctx, "/dashboard/realtime-prices", nil, &out); err != nil {
		return nil, err
	}
	if out.Success != nil && !*out.Success {
		return nil, &Error{Kind: KindBusiness, Op: "GET /dashboard/realtime-prices", Message: nonEmpty(out.Error, "price feed unavailable")}
	}
	prices := make(map[string]float64, len(out.Prices))
	for ticker, q := range out.Prices {
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		if ticker == "" {
			continue
		}
		prices[ticker] = q.Price
	}
	return prices, nil
}

// Connection probes the bot's upstream link. A success=false body is a
// valid "disconnected" reading, not an error.
func (c *Client) Connection(ctx context.Context) (ConnectionState, error) {
	var out struct {
		Success   *bool   `json:"success"`
		Status    string  `json:"status"`
		Source    string  `json:"source"`
		LatencyMs float64 `json:"latency_ms"`
	}
	if err := c.read(ctx, "/dashboard/connection-status", nil, &out); err != nil {
		return ConnectionState{}, err
	}
	state := ConnectionState{
		Status:    strings.ToLower(strings.TrimSpace(out.Status)),
		Source:    out.Source,
		LatencyMs: out.LatencyMs,
	}
	if out.Success != nil && !*out.Success {
		state.Status = ConnDisconnected
	}
	switch state.Status {
	case ConnConnected, ConnDisconnected, ConnError:
	case "":
		state.Status = ConnConnected
	default:
		state.Status = ConnUnknown
	}
	return state, nil
}

func (c *Client) EquityCurve(ctx context.Context, hours int) ([]EquityPoint, error) {
	if hours <= 0 {
		hours = 24
	}
	var out struct {
		Success     *bool         `json:"success"`
		EquityCurve []EquityPoint `json:"equity_curve"`
		Data        []EquityPoint `json:"data"`
		Error       string        `json:"error"`
	}
	query := map[string]string{"hours": strconv.Itoa(hours)}
	if err := c.read(ctx, "/dashboard/equity-curve", query, &out); err != nil {
		return nil, err
	}
	if out.Success != nil && !*out.Success {
		return nil, &Error{Kind: KindBusiness, Op: "GET /dashboard/equity-curve", Message: nonEmpty(out.Error, "equity curve unavailable")}
	}
	points := out.EquityCurve
	if points == nil {
		points = out.Data
	}
	if points == nil {
		points = []EquityPoint{}
	}
	return points, nil
}

func (c *Client) Config(ctx context.Context) (BotConfig, error) {
	var out BotConfig
	err := c.read(ctx, "/settings/config", nil, &out)
	return out, err
}

func (c *Client) Broker(ctx context.Context) (BrokerSettings, error) {
	var out BrokerSettings
	err := c.read(ctx, "/settings/broker", nil, &out)
	return out, err
}

func (c *Client) PanicHistory(ctx context.Context, limit int) ([]PanicEvent, error) {
	var out struct {
		Success *bool        `json:"success"`
		Error   string       `json:"error"`
		History []PanicEvent `json:"history"`
	}
	var query map[string]string
	if limit > 0 {
		query = map[string]string{"limit": strconv.Itoa(limit)}
	}
	if err := c.read(ctx, "/safety/panic/history", query, &out); err != nil {
		return nil, err
	}
	if out.Success != nil && !*out.Success {
		return nil, &Error{Kind: KindBusiness, Op: "GET /safety/panic/history", Message: nonEmpty(out.Error, "panic history unavailable")}
	}
	if out.History == nil {
		out.History = []PanicEvent{}
	}
	return out.History, nil
}

func (c *Client) ToggleBot(ctx context.Context) (ToggleResult, error) {
	var out ToggleResult
	err := c.write(ctx, http.MethodPost, "/dashboard/toggle-bot", nil, &out)
	return out, err
}

func (c *Client) ClosePosition(ctx context.Context, id int64) (CloseResult, error) {
	var out CloseResult
	path := "/dashboard/close-position/" + strconv.FormatInt(id, 10)
	err := c.write(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

// KillSwitch closes every open position and deactivates the bot. A body
// reporting success=false is a rejection even on a 2xx status.
func (c *Client) KillSwitch(ctx context.Context, reason string) (KillSwitchResult, error) {
	var out KillSwitchResult
	payload := map[string]string{"reason": reason}
	if err := c.write(ctx, http.MethodPost, "/safety/panic/kill-switch", payload, &out); err != nil {
		return out, err
	}
	if !out.Success {
		msg := out.Message
		if len(out.Errors) > 0 {
			msg = nonEmpty(msg, "kill switch failed") + ": " + strings.Join(out.Errors, "; ")
		}
		return out, &Error{Kind: KindBusiness, Op: "POST /safety/panic/kill-switch", Message: nonEmpty(msg, "kill switch failed")}
	}
	return out, nil
}

func (c *Client) UpdateConfig(ctx context.Context, cfg BotConfig) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	err := c.write(ctx, http.MethodPut, "/settings/config", cfg, &out)
	return out.Message, err
}

func (c *Client) UpdateBroker(ctx context.Context, b BrokerSettings) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	err := c.write(ctx, http.MethodPut, "/settings/broker", b, &out)
	return out.Message, err
}

func (c *Client) read(ctx context.Context, path string, query map[string]string, out any) error {
	return c.doRequest(ctx, c.readTimeout, http.MethodGet, path, query, nil, out)
}

func (c *Client) write(ctx context.Context, method, path string, payload any, out any) error {
	return c.doRequest(ctx, c.actionTimeout, method, path, nil, payload, out)
}

func (c *Client) doRequest(ctx context.Context, timeout time.Duration, method, path string, query map[string]string, payload any, out any) error {
	op := method + " " + path
	if c == nil || c.rest == nil {
		return &Error{Kind: KindTransport, Op: op, Message: "gateway client 未初始化"}
	}
	if c.token == "" {
		return &Error{Kind: KindAuth, Op: op, Err: ErrNoCredential}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req := c.rest.R().
		SetContext(ctx).
		SetAuthToken(c.token)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if payload != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, Err: fmt.Errorf("调用远端服务失败: %w", err)}
	}
	status := resp.StatusCode()
	body := resp.Body()
	if status >= 300 {
		msg := serverMessage(body)
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &Error{Kind: kindForStatus(status), Op: op, Status: status, Message: msg}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Kind: KindTransport, Op: op, Status: status, Message: "解析响应失败", Err: err}
	}
	return nil
}

func successFlag(op string, body []byte) error {
	v := gjson.GetBytes(body, "success")
	if v.Exists() && v.Type == gjson.False {
		return &Error{Kind: KindBusiness, Op: op, Message: nonEmpty(serverMessage(body), "request rejected")}
	}
	return nil
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
