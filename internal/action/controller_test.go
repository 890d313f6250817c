package action

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"botwatch/internal/gateway"
	"botwatch/internal/store"
	"botwatch/internal/store/model"
	"botwatch/internal/viewmodel"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) ToggleBot(ctx context.Context) (gateway.ToggleResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(gateway.ToggleResult), args.Error(1)
}
func (m *MockGateway) ClosePosition(ctx context.Context, id int64) (gateway.CloseResult, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(gateway.CloseResult), args.Error(1)
}
func (m *MockGateway) KillSwitch(ctx context.Context, reason string) (gateway.KillSwitchResult, error) {
	args := m.Called(ctx, reason)
	return args.Get(0).(gateway.KillSwitchResult), args.Error(1)
}
func (m *MockGateway) UpdateConfig(ctx context.Context, cfg gateway.BotConfig) (string, error) {
	args := m.Called(ctx, cfg)
	return args.String(0), args.Error(1)
}
func (m *MockGateway) UpdateBroker(ctx context.Context, b gateway.BrokerSettings) (string, error) {
	args := m.Called(ctx, b)
	return args.String(0), args.Error(1)
}

type recordingRefresher struct {
	mu    sync.Mutex
	calls [][]viewmodel.Feed
}

func (r *recordingRefresher) RefreshNow(_ context.Context, feeds ...viewmodel.Feed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]viewmodel.Feed(nil), feeds...))
	return nil
}

func (r *recordingRefresher) Calls() [][]viewmodel.Feed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]viewmodel.Feed(nil), r.calls...)
}

type memJournal struct {
	mu   sync.Mutex
	recs []model.ActionRecord
}

func (j *memJournal) Append(_ context.Context, rec *model.ActionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, *rec)
	return nil
}

func (j *memJournal) Recent(_ context.Context, q store.Query) ([]model.ActionRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []model.ActionRecord
	for i := len(j.recs) - 1; i >= 0; i-- {
		if q.Kind != "" && j.recs[i].Kind != q.Kind {
			continue
		}
		out = append(out, j.recs[i])
	}
	return out, nil
}

func (j *memJournal) Prune(context.Context, int) (int64, error) { return 0, nil }
func (j *memJournal) Close() error                              { return nil }

type captureNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *captureNotifier) SendText(text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
	return nil
}

func (n *captureNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type fixture struct {
	gw      *MockGateway
	refresh *recordingRefresher
	journal *memJournal
	notify  *captureNotifier
	ctrl    *Controller
}

func newFixture(t *testing.T, window time.Duration) *fixture {
	t.Helper()
	fx := &fixture{
		gw:      new(MockGateway),
		refresh: &recordingRefresher{},
		journal: &memJournal{},
		notify:  &captureNotifier{},
	}
	ctrl, err := NewController(fx.gw, fx.refresh, fx.journal, fx.notify, Options{ReportWindow: window})
	require.NoError(t, err)
	fx.ctrl = ctrl
	return fx
}

func TestKillSwitchDoubleConfirmSendsOneWrite(t *testing.T) {
	fx := newFixture(t, time.Minute)
	release := make(chan time.Time)
	fx.gw.On("KillSwitch", mock.Anything, "test").
		WaitUntil(release).
		Return(gateway.KillSwitchResult{Success: true, Message: "Closed 3 positions", PositionsClosed: 3, BotDeactivated: true}, nil).
		Once()

	require.NoError(t, fx.ctrl.ArmKillSwitch())
	assert.Equal(t, StateConfirming, fx.ctrl.Status("kill_switch").State)

	var first Result
	done := make(chan struct{})
	go func() {
		defer close(done)
		first, _ = fx.ctrl.ConfirmKillSwitch(context.Background(), "test")
	}()
	require.Eventually(t, func() bool {
		return fx.ctrl.Status("kill_switch").State == StateInFlight
	}, time.Second, time.Millisecond)

	_, err := fx.ctrl.ConfirmKillSwitch(context.Background(), "test")
	assert.ErrorIs(t, err, ErrInFlight)
	assert.ErrorIs(t, fx.ctrl.ArmKillSwitch(), ErrInFlight)

	close(release)
	<-done
	fx.ctrl.Wait()

	fx.gw.AssertNumberOfCalls(t, "KillSwitch", 1)
	assert.True(t, first.Success)
	assert.Equal(t, 3, first.PositionsClosed)
	require.NotNil(t, first.BotActive)
	assert.False(t, *first.BotActive)
	assert.Equal(t, StateReporting, fx.ctrl.Status("kill_switch").State)

	calls := fx.refresh.Calls()
	require.Len(t, calls, 1)
	assert.ElementsMatch(t, []viewmodel.Feed{viewmodel.FeedPositions, viewmodel.FeedStats, viewmodel.FeedAnalytics}, calls[0])

	msgs := fx.notify.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "positions_closed=3")
}

func TestKillSwitchRequiresArming(t *testing.T) {
	fx := newFixture(t, time.Minute)
	_, err := fx.ctrl.ConfirmKillSwitch(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotArmed)
	assert.ErrorIs(t, fx.ctrl.CancelKillSwitch(), ErrNotArmed)

	require.NoError(t, fx.ctrl.ArmKillSwitch())
	require.NoError(t, fx.ctrl.ArmKillSwitch())
	require.NoError(t, fx.ctrl.CancelKillSwitch())
	assert.Equal(t, StateIdle, fx.ctrl.Status("kill_switch").State)
	fx.gw.AssertNotCalled(t, "KillSwitch", mock.Anything, mock.Anything)
}

func TestKillSwitchDefaultReasonAndFailure(t *testing.T) {
	fx := newFixture(t, time.Minute)
	fx.gw.On("KillSwitch", mock.Anything, "Manual panic button activation by user").
		Return(gateway.KillSwitchResult{}, &gateway.Error{Kind: gateway.KindBusiness, Status: 500, Message: "Kill switch partially failed"})

	require.NoError(t, fx.ctrl.ArmKillSwitch())
	res, err := fx.ctrl.ConfirmKillSwitch(context.Background(), "  ")
	require.NoError(t, err)
	fx.ctrl.Wait()

	assert.False(t, res.Success)
	assert.Equal(t, "Kill switch partially failed", res.Message)
	assert.Equal(t, "business_rejection", res.ErrorKind)
	assert.Empty(t, fx.refresh.Calls())
	require.Len(t, fx.notify.Messages(), 1)
	assert.Contains(t, fx.notify.Messages()[0], "FAILED")
}

func TestKillSwitchMessageDefaultsToClosedCount(t *testing.T) {
	fx := newFixture(t, time.Minute)
	fx.gw.On("KillSwitch", mock.Anything, "drill").
		Return(gateway.KillSwitchResult{Success: true, PositionsClosed: 4, BotDeactivated: true}, nil).Once()

	require.NoError(t, fx.ctrl.ArmKillSwitch())
	res, err := fx.ctrl.ConfirmKillSwitch(context.Background(), "drill")
	require.NoError(t, err)
	fx.ctrl.Wait()

	assert.True(t, res.Success)
	assert.Equal(t, "Kill switch executed: 4 positions closed", res.Message)
}

func TestClosePositionRefreshesAndReports(t *testing.T) {
	fx := newFixture(t, time.Minute)
	fx.gw.On("ClosePosition", mock.Anything, int64(1)).Return(gateway.CloseResult{Message: "Position closed"}, nil)

	res, err := fx.ctrl.ClosePosition(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "1", res.Target)
	assert.NotEmpty(t, res.ID)

	st := fx.ctrl.Status("close_position:1")
	assert.Equal(t, StateReporting, st.State)
	require.NotNil(t, st.Result)
	assert.Equal(t, "Position closed", st.Result.Message)

	assert.Eventually(t, func() bool { return len(fx.refresh.Calls()) == 1 }, time.Second, time.Millisecond)
	assert.Contains(t, fx.refresh.Calls()[0], viewmodel.FeedPositions)
	assert.Contains(t, fx.refresh.Calls()[0], viewmodel.FeedStats)
}

func TestClosePositionSameIDRejectedDifferentIDsParallel(t *testing.T) {
	fx := newFixture(t, time.Minute)
	release := make(chan time.Time)
	fx.gw.On("ClosePosition", mock.Anything, int64(1)).WaitUntil(release).Return(gateway.CloseResult{}, nil).Once()
	fx.gw.On("ClosePosition", mock.Anything, int64(2)).Return(gateway.CloseResult{}, nil).Once()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = fx.ctrl.ClosePosition(context.Background(), 1)
	}()
	require.Eventually(t, func() bool {
		return fx.ctrl.Status("close_position:1").State == StateInFlight
	}, time.Second, time.Millisecond)

	_, err := fx.ctrl.ClosePosition(context.Background(), 1)
	assert.ErrorIs(t, err, ErrInFlight)

	res, err := fx.ctrl.ClosePosition(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, res.Success)

	close(release)
	<-done
	fx.ctrl.Wait()
	fx.gw.AssertNumberOfCalls(t, "ClosePosition", 2)

	keys := make([]string, 0)
	for _, st := range fx.ctrl.Statuses() {
		keys = append(keys, st.Key)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"close_position:1", "close_position:2"}, keys)
}

func TestReportingExpiresToIdle(t *testing.T) {
	fx := newFixture(t, 30*time.Millisecond)
	fx.gw.On("ToggleBot", mock.Anything).Return(gateway.ToggleResult{Message: "Bot activated", IsActive: true}, nil)

	changes, cancel := fx.ctrl.Subscribe()
	defer cancel()

	res, err := fx.ctrl.ToggleBot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.BotActive)
	assert.True(t, *res.BotActive)
	assert.Equal(t, StateReporting, fx.ctrl.Status("toggle_bot").State)

	assert.Eventually(t, func() bool {
		return fx.ctrl.Status("toggle_bot").State == StateIdle
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, fx.ctrl.Statuses())

	select {
	case <-changes:
	default:
		t.Fatal("expected a change signal")
	}
	fx.ctrl.Wait()
	assert.Equal(t, [][]viewmodel.Feed{{viewmodel.FeedStats}}, fx.refresh.Calls())
}

func TestNewerReportIsNotClearedByOlderTimer(t *testing.T) {
	fx := newFixture(t, 200*time.Millisecond)
	fx.gw.On("ToggleBot", mock.Anything).Return(gateway.ToggleResult{IsActive: true}, nil)

	_, err := fx.ctrl.ToggleBot(context.Background())
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	second, err := fx.ctrl.ToggleBot(context.Background())
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	st := fx.ctrl.Status("toggle_bot")
	assert.Equal(t, StateReporting, st.State)
	assert.Equal(t, second.ID, st.Result.ID)
}

func TestToggleFailureReportsMessage(t *testing.T) {
	fx := newFixture(t, time.Minute)
	fx.gw.On("ToggleBot", mock.Anything).Return(gateway.ToggleResult{}, &gateway.Error{Kind: gateway.KindBusiness, Status: 404, Message: "Bot config not found"})

	res, err := fx.ctrl.ToggleBot(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Bot config not found", res.Message)
	assert.Nil(t, res.BotActive)
	fx.ctrl.Wait()
	assert.Empty(t, fx.refresh.Calls())
	assert.Empty(t, fx.notify.Messages())
}

func TestUpdateConfigValidation(t *testing.T) {
	fx := newFixture(t, time.Minute)
	bad := "extreme"
	res, err := fx.ctrl.UpdateConfig(context.Background(), gateway.BotConfig{RiskLevel: &bad})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "validation_failure", res.ErrorKind)
	assert.Contains(t, res.Message, "risk_level")
	fx.gw.AssertNotCalled(t, "UpdateConfig", mock.Anything, mock.Anything)

	level, size := "low", 250.0
	cfg := gateway.BotConfig{RiskLevel: &level, MaxPositionSize: &size}
	fx.gw.On("UpdateConfig", mock.Anything, cfg).Return("Configuration updated successfully", nil)
	res, err = fx.ctrl.UpdateConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Configuration updated successfully", res.Message)

	history, err := fx.ctrl.History(context.Background(), store.Query{Kind: string(KindUpdateConfig)})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Success)
	assert.False(t, history[1].Success)
}

func TestUpdateBrokerAuthFailure(t *testing.T) {
	fx := newFixture(t, time.Minute)
	b := gateway.BrokerSettings{BrokerName: "alpaca", APIKey: "k", APISecret: "s"}
	fx.gw.On("UpdateBroker", mock.Anything, b).Return("", &gateway.Error{Kind: gateway.KindAuth, Status: 401, Message: "Token has expired"})
	res, err := fx.ctrl.UpdateBroker(context.Background(), b)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "auth_failure", res.ErrorKind)

	res, err = fx.ctrl.UpdateBroker(context.Background(), gateway.BrokerSettings{})
	require.NoError(t, err)
	assert.Equal(t, "validation_failure", res.ErrorKind)
	fx.gw.AssertNumberOfCalls(t, "UpdateBroker", 1)
}

func TestClosePositionInvalidID(t *testing.T) {
	fx := newFixture(t, time.Minute)
	res, err := fx.ctrl.ClosePosition(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "validation_failure", res.ErrorKind)
	fx.gw.AssertNotCalled(t, "ClosePosition", mock.Anything, mock.Anything)
}

func TestHistoryRoundTripsErrors(t *testing.T) {
	fx := newFixture(t, time.Minute)
	fx.gw.On("KillSwitch", mock.Anything, "r").
		Return(gateway.KillSwitchResult{Success: false, Message: "partial", Errors: []string{"AAPL: halted"}}, &gateway.Error{Kind: gateway.KindBusiness, Message: "partial: AAPL: halted"})
	require.NoError(t, fx.ctrl.ArmKillSwitch())
	_, err := fx.ctrl.ConfirmKillSwitch(context.Background(), "r")
	require.NoError(t, err)
	fx.ctrl.Wait()

	history, err := fx.ctrl.History(context.Background(), store.Query{Kind: string(KindKillSwitch)})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, []string{"AAPL: halted"}, history[0].Errors)
	assert.Equal(t, "r", history[0].Reason)
}

func TestValidatorMessages(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidateConfig([]byte(`{"demo_mode":true}`)))
	err = v.ValidateConfig([]byte(`{"max_position_size":0,"stop_loss_percent":-1}`))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "max_position_size"))
	assert.True(t, strings.Contains(err.Error(), "stop_loss_percent"))
	assert.Error(t, v.ValidateConfig([]byte(`{}`)))
	assert.Error(t, v.ValidateConfig([]byte(`{"leverage":3}`)))
	assert.Error(t, v.ValidateConfig([]byte(`not json`)))
	assert.NoError(t, v.ValidateBroker(map[string]any{"broker_name": "alpaca"}))
}
