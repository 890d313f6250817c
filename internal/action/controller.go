// Package action mediates control writes (bot toggle, kill switch, close
// position, settings) through one state machine per action key.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"botwatch/internal/gateway"
	"botwatch/internal/logger"
	"botwatch/internal/notifier"
	"botwatch/internal/store"
	"botwatch/internal/store/model"
	"botwatch/internal/viewmodel"
)

// Gateway is the write side of the remote service.
type Gateway interface {
	ToggleBot(ctx context.Context) (gateway.ToggleResult, error)
	ClosePosition(ctx context.Context, id int64) (gateway.CloseResult, error)
	KillSwitch(ctx context.Context, reason string) (gateway.KillSwitchResult, error)
	UpdateConfig(ctx context.Context, cfg gateway.BotConfig) (string, error)
	UpdateBroker(ctx context.Context, b gateway.BrokerSettings) (string, error)
}

// Refresher triggers out-of-band feed reads.
type Refresher interface {
	RefreshNow(ctx context.Context, feeds ...viewmodel.Feed) error
}

// Observer receives finished actions, e.g. for metrics.
type Observer interface {
	ActionFinished(kind Kind, success bool, elapsed time.Duration)
}

type Options struct {
	ReportWindow   time.Duration
	RefreshTimeout time.Duration
	DefaultReason  string
	Now            func() time.Time
}

type Controller struct {
	gw        Gateway
	refresher Refresher
	journal   store.Journal
	notifier  notifier.TextNotifier
	validator *Validator

	reportWindow   time.Duration
	refreshTimeout time.Duration
	defaultReason  string
	now            func() time.Time

	mu       sync.Mutex
	machines map[string]*machine
	observer Observer

	bg sync.WaitGroup

	subMu sync.Mutex
	subs  map[int]chan struct{}
	subID int
}

// NewController wires a controller. journal and notify may be nil.
func NewController(gw Gateway, refresher Refresher, journal store.Journal, notify notifier.TextNotifier, opts Options) (*Controller, error) {
	if gw == nil {
		return nil, fmt.Errorf("action controller: gateway 不能为空")
	}
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("action controller: 编译 schema 失败: %w", err)
	}
	if opts.ReportWindow <= 0 {
		opts.ReportWindow = 5 * time.Second
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 15 * time.Second
	}
	if strings.TrimSpace(opts.DefaultReason) == "" {
		opts.DefaultReason = "Manual panic button activation by user"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notify == nil {
		notify = notifier.Nop{}
	}
	return &Controller{
		gw:             gw,
		refresher:      refresher,
		journal:        journal,
		notifier:       notify,
		validator:      validator,
		reportWindow:   opts.ReportWindow,
		refreshTimeout: opts.RefreshTimeout,
		defaultReason:  opts.DefaultReason,
		now:            opts.Now,
		machines:       make(map[string]*machine),
		subs:           make(map[int]chan struct{}),
	}, nil
}

// SetReportWindow changes how long results stay in Reporting. Reports
// already showing keep their timer.
func (c *Controller) SetReportWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.reportWindow = d
	c.mu.Unlock()
}

func (c *Controller) SetObserver(o Observer) {
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

// ToggleBot flips the bot's active flag. No confirmation step.
func (c *Controller) ToggleBot(ctx context.Context) (Result, error) {
	return c.execute(ctx, request{
		kind:    KindToggleBot,
		refresh: []viewmodel.Feed{viewmodel.FeedStats},
		call: func(ctx context.Context, res *Result) error {
			out, err := c.gw.ToggleBot(ctx)
			if err != nil {
				return err
			}
			active := out.IsActive
			res.BotActive = &active
			res.Message = out.Message
			if res.Message == "" {
				res.Message = "Bot deactivated"
				if active {
					res.Message = "Bot activated"
				}
			}
			return nil
		},
	})
}

// ArmKillSwitch enters Confirming. Arming an armed switch is a no-op.
func (c *Controller) ArmKillSwitch() error {
	c.mu.Lock()
	m := c.machineLocked(Key(KindKillSwitch, ""), KindKillSwitch, "")
	switch m.state {
	case StateInFlight:
		c.mu.Unlock()
		return ErrInFlight
	case StateConfirming:
		c.mu.Unlock()
		return nil
	}
	m.stopTimer()
	m.state = StateConfirming
	m.since = c.now()
	m.result = nil
	c.mu.Unlock()
	logger.Infof("action: kill switch armed")
	c.notifyChange()
	return nil
}

// CancelKillSwitch leaves Confirming without any request.
func (c *Controller) CancelKillSwitch() error {
	c.mu.Lock()
	m := c.machineLocked(Key(KindKillSwitch, ""), KindKillSwitch, "")
	if m.state != StateConfirming {
		c.mu.Unlock()
		return ErrNotArmed
	}
	m.state = StateIdle
	m.since = c.now()
	c.mu.Unlock()
	logger.Infof("action: kill switch cancelled")
	c.notifyChange()
	return nil
}

// ConfirmKillSwitch sends the kill switch once. It must be armed first;
// while the request is pending further confirms return ErrInFlight.
func (c *Controller) ConfirmKillSwitch(ctx context.Context, reason string) (Result, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = c.defaultReason
	}
	res, err := c.execute(ctx, request{
		kind:        KindKillSwitch,
		reason:      reason,
		needsArming: true,
		refresh:     []viewmodel.Feed{viewmodel.FeedPositions, viewmodel.FeedStats, viewmodel.FeedAnalytics},
		call: func(ctx context.Context, res *Result) error {
			out, err := c.gw.KillSwitch(ctx, reason)
			res.PositionsClosed = out.PositionsClosed
			res.Errors = out.Errors
			if out.Success || out.BotDeactivated {
				active := !out.BotDeactivated
				res.BotActive = &active
			}
			if err != nil {
				return err
			}
			res.Message = nonEmpty(out.Message, fmt.Sprintf("Kill switch executed: %d positions closed", out.PositionsClosed))
			return nil
		},
	})
	if err == nil {
		c.notifyKillSwitch(res)
	}
	return res, err
}

// ClosePosition closes one position. Different ids run in parallel; the
// same id is rejected while its close is pending.
func (c *Controller) ClosePosition(ctx context.Context, id int64) (Result, error) {
	req := request{
		kind:    KindClosePosition,
		target:  strconv.FormatInt(id, 10),
		refresh: []viewmodel.Feed{viewmodel.FeedPositions, viewmodel.FeedStats, viewmodel.FeedAnalytics},
		call: func(ctx context.Context, res *Result) error {
			out, err := c.gw.ClosePosition(ctx, id)
			if err != nil {
				return err
			}
			res.Message = out.Message
			if res.Message == "" {
				res.Message = fmt.Sprintf("Position %d closed", id)
			}
			return nil
		},
	}
	if id <= 0 {
		req.invalid = gateway.NewValidationError("POST /dashboard/close-position", fmt.Sprintf("invalid position id %d", id))
	}
	return c.execute(ctx, req)
}

// UpdateConfig sends a partial bot configuration after schema validation.
func (c *Controller) UpdateConfig(ctx context.Context, cfg gateway.BotConfig) (Result, error) {
	req := request{
		kind:    KindUpdateConfig,
		refresh: []viewmodel.Feed{viewmodel.FeedStats},
		call: func(ctx context.Context, res *Result) error {
			msg, err := c.gw.UpdateConfig(ctx, cfg)
			if err != nil {
				return err
			}
			res.Message = nonEmpty(msg, "Configuration updated")
			return nil
		},
	}
	if err := c.validator.ValidateConfig(cfg); err != nil {
		req.invalid = gateway.NewValidationError("PUT /settings/config", err.Error())
	}
	return c.execute(ctx, req)
}

// UpdateBroker sends broker credentials after schema validation.
func (c *Controller) UpdateBroker(ctx context.Context, b gateway.BrokerSettings) (Result, error) {
	req := request{
		kind:    KindUpdateBroker,
		refresh: []viewmodel.Feed{viewmodel.FeedConnection},
		call: func(ctx context.Context, res *Result) error {
			msg, err := c.gw.UpdateBroker(ctx, b)
			if err != nil {
				return err
			}
			res.Message = nonEmpty(msg, "Broker settings updated")
			return nil
		},
	}
	if err := c.validator.ValidateBroker(b); err != nil {
		req.invalid = gateway.NewValidationError("PUT /settings/broker", err.Error())
	}
	return c.execute(ctx, req)
}

// Status returns one machine; unknown keys report Idle.
func (c *Controller) Status(key string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.machines[key]; ok {
		return m.status()
	}
	kind, target, _ := strings.Cut(key, ":")
	return Status{Key: key, Kind: Kind(kind), Target: target, State: StateIdle}
}

// Statuses lists every machine that is not Idle, sorted by key.
func (c *Controller) Statuses() []Status {
	c.mu.Lock()
	out := make([]Status, 0, len(c.machines))
	for _, m := range c.machines {
		if m.state != StateIdle {
			out = append(out, m.status())
		}
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// History reads journaled results, newest first.
func (c *Controller) History(ctx context.Context, q store.Query) ([]Result, error) {
	if c.journal == nil {
		return []Result{}, nil
	}
	recs, err := c.journal.Recent(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

// Subscribe signals every state change. Slow readers coalesce.
func (c *Controller) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.subMu.Lock()
	id := c.subID
	c.subID++
	c.subs[id] = ch
	c.subMu.Unlock()
	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if s, ok := c.subs[id]; ok {
			close(s)
			delete(c.subs, id)
		}
	}
}

// Wait blocks until background refreshes and notifications finish.
func (c *Controller) Wait() {
	c.bg.Wait()
}

type request struct {
	kind        Kind
	target      string
	reason      string
	needsArming bool
	refresh     []viewmodel.Feed
	invalid     error
	call        func(ctx context.Context, res *Result) error
}

func (c *Controller) execute(ctx context.Context, req request) (Result, error) {
	key := Key(req.kind, req.target)

	c.mu.Lock()
	m := c.machineLocked(key, req.kind, req.target)
	if m.state == StateInFlight {
		c.mu.Unlock()
		logger.Infof("action: %s ignored, already in flight", key)
		return Result{}, ErrInFlight
	}
	if req.needsArming && m.state != StateConfirming {
		c.mu.Unlock()
		return Result{}, ErrNotArmed
	}
	m.stopTimer()
	m.state = StateInFlight
	m.since = c.now()
	m.result = nil
	observer := c.observer
	c.mu.Unlock()
	c.notifyChange()

	res := Result{
		ID:        uuid.NewString(),
		Kind:      req.kind,
		Target:    req.target,
		Reason:    req.reason,
		StartedAt: c.now(),
	}
	var err error
	if req.invalid != nil {
		err = req.invalid
	} else {
		err = req.call(ctx, &res)
	}
	res.FinishedAt = c.now()
	if err != nil {
		res.Success = false
		res.Message = gateway.Message(err)
		res.ErrorKind = gateway.KindOf(err).String()
		logger.With("action", key, "id", res.ID, "error_kind", res.ErrorKind).Warn("action failed", "message", res.Message)
	} else {
		res.Success = true
		logger.With("action", key, "id", res.ID).Info("action succeeded", "message", res.Message)
	}

	c.report(m, res)
	c.record(ctx, res)
	if observer != nil {
		observer.ActionFinished(res.Kind, res.Success, res.FinishedAt.Sub(res.StartedAt))
	}
	if res.Success && c.refresher != nil && len(req.refresh) > 0 {
		c.refresh(ctx, key, req.refresh)
	}
	return res, nil
}

// report moves m to Reporting and arms the auto-return to Idle. A newer
// report bumps seq, so an older timer does nothing.
func (c *Controller) report(m *machine, res Result) {
	c.mu.Lock()
	m.seq++
	seq := m.seq
	m.state = StateReporting
	m.since = c.now()
	m.result = &res
	m.timer = time.AfterFunc(c.reportWindow, func() {
		c.mu.Lock()
		if m.seq != seq || m.state != StateReporting {
			c.mu.Unlock()
			return
		}
		m.state = StateIdle
		m.since = c.now()
		m.timer = nil
		c.mu.Unlock()
		c.notifyChange()
	})
	c.mu.Unlock()
	c.notifyChange()
}

func (c *Controller) refresh(ctx context.Context, key string, feeds []viewmodel.Feed) {
	base := context.WithoutCancel(ctx)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		rctx, cancel := context.WithTimeout(base, c.refreshTimeout)
		defer cancel()
		if err := c.refresher.RefreshNow(rctx, feeds...); err != nil {
			logger.Warnf("action: refresh after %s failed: %v", key, err)
		}
	}()
}

func (c *Controller) record(ctx context.Context, res Result) {
	if c.journal == nil {
		return
	}
	rec := toRecord(res)
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.journal.Append(jctx, rec); err != nil {
		logger.Errorf("action: 写入 journal 失败 id=%s: %v", res.ID, err)
	}
}

func (c *Controller) notifyKillSwitch(res Result) {
	msg := KillSwitchMessage(res)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if err := c.notifier.SendText(msg); err != nil {
			logger.Warnf("action: kill switch 通知发送失败: %v", err)
		}
	}()
}

func (c *Controller) machineLocked(key string, kind Kind, target string) *machine {
	m, ok := c.machines[key]
	if !ok {
		m = &machine{key: key, kind: kind, target: target, state: StateIdle, since: c.now()}
		c.machines[key] = m
	}
	return m
}

func (c *Controller) notifyChange() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// KillSwitchMessage renders the operator notification for a kill switch.
func KillSwitchMessage(res Result) string {
	icon, title := "🛑", "Kill switch executed"
	if !res.Success {
		icon, title = "⚠️", "Kill switch FAILED"
	}
	lines := []string{
		"success=" + strconv.FormatBool(res.Success),
		"positions_closed=" + strconv.Itoa(res.PositionsClosed),
	}
	if res.BotActive != nil {
		lines = append(lines, "bot_active="+strconv.FormatBool(*res.BotActive))
	}
	if res.ErrorKind != "" {
		lines = append(lines, "error_kind="+res.ErrorKind)
	}
	sections := []notifier.Section{{Title: "Result", Lines: lines}}
	if len(res.Errors) > 0 {
		sections = append(sections, notifier.Section{Title: "Errors", Lines: res.Errors})
	}
	return notifier.Message{
		Icon:      icon,
		Title:     title,
		Sections:  sections,
		Footer:    strings.TrimSpace(res.Message + "\nreason: " + res.Reason),
		Timestamp: res.FinishedAt,
	}.Markdown()
}

type recordDetails struct {
	Errors []string `json:"errors,omitempty"`
}

func toRecord(res Result) *model.ActionRecord {
	rec := &model.ActionRecord{
		ID:              res.ID,
		Kind:            string(res.Kind),
		Target:          res.Target,
		Success:         res.Success,
		Message:         res.Message,
		ErrorKind:       res.ErrorKind,
		Reason:          res.Reason,
		PositionsClosed: res.PositionsClosed,
		BotActive:       res.BotActive,
		StartedAt:       res.StartedAt.UnixMilli(),
		FinishedAt:      res.FinishedAt.UnixMilli(),
	}
	if len(res.Errors) > 0 {
		if raw, err := json.Marshal(recordDetails{Errors: res.Errors}); err == nil {
			rec.Details = datatypes.JSON(raw)
		}
	}
	return rec
}

func fromRecord(rec model.ActionRecord) Result {
	res := Result{
		ID:              rec.ID,
		Kind:            Kind(rec.Kind),
		Target:          rec.Target,
		Success:         rec.Success,
		Message:         rec.Message,
		ErrorKind:       rec.ErrorKind,
		Reason:          rec.Reason,
		PositionsClosed: rec.PositionsClosed,
		BotActive:       rec.BotActive,
		StartedAt:       time.UnixMilli(rec.StartedAt),
		FinishedAt:      time.UnixMilli(rec.FinishedAt),
	}
	if len(rec.Details) > 0 {
		var d recordDetails
		if err := json.Unmarshal(rec.Details, &d); err == nil {
			res.Errors = d.Errors
		}
	}
	return res
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
