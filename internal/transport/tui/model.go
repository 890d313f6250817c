// Package tui renders the view model in the terminal and forwards operator
// keys to the action controller.
package tui

import (
	"context"
	"errors"
	"time"

	"botwatch/internal/action"
	"botwatch/internal/viewmodel"

	tea "github.com/charmbracelet/bubbletea"
)

// ViewSource 由 viewmodel.Store 实现。
type ViewSource interface {
	Snapshot() viewmodel.Snapshot
	Subscribe() (<-chan uint64, func())
}

// Actions 是终端可触发的操作子集。
type Actions interface {
	ToggleBot(ctx context.Context) (action.Result, error)
	ArmKillSwitch() error
	CancelKillSwitch() error
	ConfirmKillSwitch(ctx context.Context, reason string) (action.Result, error)
	ClosePosition(ctx context.Context, id int64) (action.Result, error)
	Statuses() []action.Status
	Subscribe() (<-chan struct{}, func())
}

type Refresher interface {
	RefreshNow(ctx context.Context, feeds ...viewmodel.Feed) error
}

type Options struct {
	// Tick 用于刷新"x 秒前"之类的相对时间。
	Tick             time.Duration
	KillSwitchReason string
	ActionTimeout    time.Duration
}

type (
	viewMsg    uint64
	sealedMsg  struct{}
	actionsMsg struct{}
	tickMsg    time.Time
	resultMsg  struct {
		label string
		res   action.Result
		err   error
	}
	refreshedMsg struct{ err error }
)

type panel int

const (
	panelOpen panel = iota
	panelClosed
	panelSignals
	panelCount
)

func (p panel) String() string {
	switch p {
	case panelClosed:
		return "closed"
	case panelSignals:
		return "signals"
	default:
		return "open"
	}
}

// Model 是 bubbletea 的状态；所有字段只在 Update 中修改。
type Model struct {
	ctx       context.Context
	source    ViewSource
	actions   Actions
	refresher Refresher
	opts      Options

	viewCh    <-chan uint64
	actionsCh <-chan struct{}

	view     viewmodel.View
	statuses []action.Status
	sealed   bool

	panel    panel
	cursor   int
	flash    string
	flashErr bool
	now      time.Time
	width    int
}

// NewModel subscribes to the view and the action controller. The returned
// cancel func releases both subscriptions.
func NewModel(ctx context.Context, source ViewSource, actions Actions, refresher Refresher, opts Options) (Model, func()) {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 35 * time.Second
	}
	viewCh, unsubView := source.Subscribe()
	m := Model{
		ctx:       ctx,
		source:    source,
		actions:   actions,
		refresher: refresher,
		opts:      opts,
		viewCh:    viewCh,
		view:      source.Snapshot().View(),
		now:       time.Now(),
	}
	cancel := unsubView
	if actions != nil {
		ch, unsubActions := actions.Subscribe()
		m.actionsCh = ch
		m.statuses = actions.Statuses()
		cancel = func() {
			unsubView()
			unsubActions()
		}
	}
	return m, cancel
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{waitView(m.viewCh), tick(m.opts.Tick)}
	if m.actionsCh != nil {
		cmds = append(cmds, waitActions(m.actionsCh))
	}
	return tea.Batch(cmds...)
}

func waitView(ch <-chan uint64) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return sealedMsg{}
		}
		return viewMsg(v)
	}
}

func waitActions(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return actionsMsg{}
	}
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case viewMsg:
		m.view = m.source.Snapshot().View()
		m.clampCursor()
		return m, waitView(m.viewCh)
	case sealedMsg:
		m.sealed = true
		m.view = m.source.Snapshot().View()
		return m, nil
	case actionsMsg:
		m.statuses = m.actions.Statuses()
		return m, waitActions(m.actionsCh)
	case tickMsg:
		m.now = time.Time(msg)
		return m, tick(m.opts.Tick)
	case resultMsg:
		m.setResult(msg)
		return m, nil
	case refreshedMsg:
		if msg.err != nil {
			m.flash, m.flashErr = "refresh: "+msg.err.Error(), true
		} else {
			m.flash, m.flashErr = "refreshed", false
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if m.killSwitchArmed() {
		switch key {
		case "y", "Y":
			return m, m.run("kill switch", func(ctx context.Context) (action.Result, error) {
				return m.actions.ConfirmKillSwitch(ctx, m.opts.KillSwitchReason)
			})
		case "n", "N", "esc":
			if err := m.actions.CancelKillSwitch(); err != nil {
				m.flash, m.flashErr = err.Error(), true
			}
			m.statuses = m.actions.Statuses()
			return m, nil
		case "ctrl+c":
			return m, tea.Quit
		}
		// 确认期间忽略其他按键。
		return m, nil
	}

	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "tab":
		m.panel = (m.panel + 1) % panelCount
		m.cursor = 0
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		m.cursor++
		m.clampCursor()
	case "r":
		if m.refresher != nil {
			return m, m.refresh()
		}
	case "t":
		if m.actions != nil {
			return m, m.run("toggle", m.actions.ToggleBot)
		}
	case "K":
		if m.actions != nil {
			if err := m.actions.ArmKillSwitch(); err != nil {
				m.flash, m.flashErr = err.Error(), true
			} else {
				m.statuses = m.actions.Statuses()
			}
		}
	case "c":
		if m.actions != nil && m.panel == panelOpen && m.cursor < len(m.view.Open) {
			id := m.view.Open[m.cursor].ID
			return m, m.run("close", func(ctx context.Context) (action.Result, error) {
				return m.actions.ClosePosition(ctx, id)
			})
		}
	}
	return m, nil
}

// run 在 bubbletea 的协程里执行动作，结果以 resultMsg 回到 Update。
func (m Model) run(label string, fn func(ctx context.Context) (action.Result, error)) tea.Cmd {
	parent := m.ctx
	timeout := m.opts.ActionTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		res, err := fn(ctx)
		return resultMsg{label: label, res: res, err: err}
	}
}

func (m Model) refresh() tea.Cmd {
	parent := m.ctx
	refresher := m.refresher
	timeout := m.opts.ActionTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		return refreshedMsg{err: refresher.RefreshNow(ctx)}
	}
}

func (m *Model) setResult(msg resultMsg) {
	switch {
	case errors.Is(msg.err, action.ErrInFlight):
		m.flash, m.flashErr = msg.label+": already in flight", true
	case msg.err != nil:
		m.flash, m.flashErr = msg.label+": "+msg.err.Error(), true
	case msg.res.Success:
		m.flash, m.flashErr = msg.label+": "+msg.res.Message, false
	default:
		m.flash, m.flashErr = msg.label+" failed: "+msg.res.Message, true
	}
	if m.actions != nil {
		m.statuses = m.actions.Statuses()
	}
}

func (m Model) killSwitchArmed() bool {
	key := action.Key(action.KindKillSwitch, "")
	for _, st := range m.statuses {
		if st.Key == key && st.State == action.StateConfirming {
			return true
		}
	}
	return false
}

func (m *Model) clampCursor() {
	n := m.panelLen()
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) panelLen() int {
	switch m.panel {
	case panelClosed:
		return len(m.view.Closed)
	case panelSignals:
		return len(m.view.Signals)
	default:
		return len(m.view.Open)
	}
}

// Run blocks until the user quits or ctx is cancelled.
func Run(ctx context.Context, source ViewSource, actions Actions, refresher Refresher, opts Options) error {
	m, cancel := NewModel(ctx, source, actions, refresher, opts)
	defer cancel()
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}
