package livehttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"botwatch/internal/logger"

	"github.com/gin-gonic/gin"
)

// Server 提供本地只读视图 + 操作转发的 HTTP/WebSocket 服务。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 live HTTP 服务依赖。
type ServerConfig struct {
	Addr      string
	View      ViewSource
	Actions   ActionService
	Refresher Refresher
	// Settings 为 nil 时不挂载 /api/settings。
	Settings SettingsSource
	// Metrics 为 nil 时不挂载 /metrics。
	Metrics http.Handler
	Streams StreamObserver
	// PingInterval 控制 websocket 保活，默认 30s。
	PingInterval time.Duration
}

// NewServer 构建 live HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.View == nil {
		return nil, errors.New("live http server requires a view source")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		snap := cfg.View.Snapshot()
		status := "ok"
		if snap.AuthFailed() {
			status = "auth_failed"
		} else if len(snap.Degraded()) > 0 {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "version": snap.Version, "sealed": snap.Sealed})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	NewRouter(cfg).Register(router.Group("/api", originGuard()))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// requestLogger 记录接口调用，便于追踪人工操作。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler exposes the router for in-process use.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// 请求上下文随服务退出取消，websocket 连接也会收到。
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("live http listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
