package livehttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"botwatch/internal/action"
	"botwatch/internal/gateway"
	"botwatch/internal/logger"
	"botwatch/internal/store"
	"botwatch/internal/viewmodel"

	"github.com/gin-gonic/gin"
)

// ViewSource 由 viewmodel.Store 实现。
type ViewSource interface {
	Snapshot() viewmodel.Snapshot
	Subscribe() (<-chan uint64, func())
}

// ActionService 由 action.Controller 实现。
type ActionService interface {
	ToggleBot(ctx context.Context) (action.Result, error)
	ArmKillSwitch() error
	CancelKillSwitch() error
	ConfirmKillSwitch(ctx context.Context, reason string) (action.Result, error)
	ClosePosition(ctx context.Context, id int64) (action.Result, error)
	UpdateConfig(ctx context.Context, cfg gateway.BotConfig) (action.Result, error)
	UpdateBroker(ctx context.Context, b gateway.BrokerSettings) (action.Result, error)
	Status(key string) action.Status
	Statuses() []action.Status
	History(ctx context.Context, q store.Query) ([]action.Result, error)
	Subscribe() (<-chan struct{}, func())
}

// Refresher 由 scheduler.Poller 实现。
type Refresher interface {
	RefreshNow(ctx context.Context, feeds ...viewmodel.Feed) error
}

// SettingsSource 由 gateway.Client 实现，直接读取远端设置。
type SettingsSource interface {
	Config(ctx context.Context) (gateway.BotConfig, error)
	Broker(ctx context.Context) (gateway.BrokerSettings, error)
	PanicHistory(ctx context.Context, limit int) ([]gateway.PanicEvent, error)
}

// Router 暴露视图查询与操作转发接口。
type Router struct {
	view      ViewSource
	actions   ActionService
	refresher Refresher
	settings  SettingsSource
	streams   StreamObserver
	ping      time.Duration
}

// NewRouter 构造 live HTTP router。
func NewRouter(cfg ServerConfig) *Router {
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = 30 * time.Second
	}
	return &Router{
		view:      cfg.View,
		actions:   cfg.Actions,
		refresher: cfg.Refresher,
		settings:  cfg.Settings,
		streams:   cfg.Streams,
		ping:      ping,
	}
}

// Register 将 /api 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/view", r.handleView)
	group.GET("/view/equity.html", r.handleEquityChart)
	group.GET("/snapshot", r.handleSnapshot)
	group.GET("/feeds", r.handleFeeds)
	group.GET("/stream", r.handleStream)
	if r.refresher != nil {
		group.POST("/refresh", r.handleRefresh)
	}
	if r.settings != nil {
		set := group.Group("/settings")
		set.GET("/config", r.handleRemoteConfig)
		set.GET("/broker", r.handleRemoteBroker)
		set.GET("/panic-history", r.handlePanicHistory)
	}
	if r.actions != nil {
		acts := group.Group("/actions")
		acts.GET("", r.handleStatuses)
		acts.GET("/history", r.handleHistory)
		acts.POST("/toggle", r.handleToggle)
		acts.POST("/kill-switch/arm", r.handleArm)
		acts.POST("/kill-switch/cancel", r.handleCancel)
		acts.POST("/kill-switch/confirm", r.handleConfirm)
		acts.POST("/positions/:id/close", r.handleClose)
		acts.PUT("/config", r.handleConfig)
		acts.PUT("/broker", r.handleBroker)
	}
}

func (r *Router) handleView(c *gin.Context) {
	c.JSON(http.StatusOK, r.view.Snapshot().View())
}

func (r *Router) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, r.view.Snapshot())
}

func (r *Router) handleFeeds(c *gin.Context) {
	snap := r.view.Snapshot()
	feeds := make([]viewmodel.FeedStatus, 0, len(viewmodel.AllFeeds))
	for _, f := range viewmodel.AllFeeds {
		feeds = append(feeds, snap.Feeds[f])
	}
	c.JSON(http.StatusOK, gin.H{
		"version":      snap.Version,
		"last_updated": snap.LastUpdated,
		"auth_failed":  snap.AuthFailed(),
		"feeds":        feeds,
	})
}

func (r *Router) handleRefresh(c *gin.Context) {
	var feeds []viewmodel.Feed
	for _, raw := range c.QueryArray("feed") {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			f, err := viewmodel.ParseFeed(part)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			feeds = append(feeds, f)
		}
	}
	if err := r.refresher.RefreshNow(c.Request.Context(), feeds...); err != nil {
		// 单个 feed 失败不影响其他 feed 的合并结果。
		logger.Warnf("[api] refresh ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusOK, gin.H{"version": r.view.Snapshot().Version, "error": err.Error(), "error_kind": gateway.KindOf(err).String()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": r.view.Snapshot().Version})
}

func (r *Router) handleStatuses(c *gin.Context) {
	statuses := r.actions.Statuses()
	if key := strings.TrimSpace(c.Query("key")); key != "" {
		statuses = []action.Status{r.actions.Status(key)}
	}
	c.JSON(http.StatusOK, gin.H{"actions": statuses})
}

func (r *Router) handleHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	q := store.Query{
		Kind:   strings.TrimSpace(c.Query("kind")),
		Target: strings.TrimSpace(c.Query("target")),
		Limit:  limit,
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	results, err := r.actions.History(ctx, q)
	if err != nil {
		logger.Errorf("[api] action history failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (r *Router) handleToggle(c *gin.Context) {
	res, err := r.actions.ToggleBot(writeContext(c))
	r.respond(c, res, err)
}

func (r *Router) handleArm(c *gin.Context) {
	if err := r.actions.ArmKillSwitch(); err != nil {
		r.respond(c, action.Result{}, err)
		return
	}
	c.JSON(http.StatusOK, r.actions.Status(action.Key(action.KindKillSwitch, "")))
}

func (r *Router) handleCancel(c *gin.Context) {
	if err := r.actions.CancelKillSwitch(); err != nil {
		r.respond(c, action.Result{}, err)
		return
	}
	c.JSON(http.StatusOK, r.actions.Status(action.Key(action.KindKillSwitch, "")))
}

type confirmRequest struct {
	Reason string `json:"reason"`
}

func (r *Router) handleConfirm(c *gin.Context) {
	var req confirmRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
			return
		}
	}
	res, err := r.actions.ConfirmKillSwitch(writeContext(c), req.Reason)
	r.respond(c, res, err)
}

func (r *Router) handleClose(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid position id"})
		return
	}
	res, err := r.actions.ClosePosition(writeContext(c), id)
	r.respond(c, res, err)
}

func (r *Router) handleConfig(c *gin.Context) {
	var cfg gateway.BotConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	res, err := r.actions.UpdateConfig(writeContext(c), cfg)
	r.respond(c, res, err)
}

func (r *Router) handleBroker(c *gin.Context) {
	var b gateway.BrokerSettings
	if err := c.ShouldBindJSON(&b); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	res, err := r.actions.UpdateBroker(writeContext(c), b)
	r.respond(c, res, err)
}

// writeContext 与请求断开：客户端断线不能中止已发出的控制写入，
// 写入只受 action timeout 约束。
func writeContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (r *Router) handleRemoteConfig(c *gin.Context) {
	cfg, err := r.settings.Config(c.Request.Context())
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (r *Router) handleRemoteBroker(c *gin.Context) {
	b, err := r.settings.Broker(c.Request.Context())
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b.Redacted())
}

func (r *Router) handlePanicHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit <= 0 || limit > 500 {
		limit = 10
	}
	events, err := r.settings.PanicHistory(c.Request.Context(), limit)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": events})
}

func (r *Router) fail(c *gin.Context, err error) {
	kind := gateway.KindOf(err)
	logger.Warnf("[api] %s failed ip=%s err=%v", c.Request.URL.Path, c.ClientIP(), err)
	c.JSON(statusForKind(kind.String()), gin.H{"error": gateway.Message(err), "error_kind": kind.String()})
}

// respond 将动作结果映射为 HTTP 状态码；结果体总是原样返回。
func (r *Router) respond(c *gin.Context, res action.Result, err error) {
	switch {
	case errors.Is(err, action.ErrInFlight), errors.Is(err, action.ErrNotArmed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(statusForResult(res), res)
}

func statusForResult(res action.Result) int {
	if res.Success {
		return http.StatusOK
	}
	return statusForKind(res.ErrorKind)
}

func statusForKind(kind string) int {
	switch kind {
	case gateway.KindValidation.String():
		return http.StatusUnprocessableEntity
	case gateway.KindAuth.String():
		return http.StatusUnauthorized
	case gateway.KindBusiness.String():
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
