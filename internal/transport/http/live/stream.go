package livehttp

import (
	"time"

	"botwatch/internal/action"
	"botwatch/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// StreamObserver 记录 websocket 连接数，由 telemetry.Metrics 实现。
type StreamObserver interface {
	StreamOpened()
	StreamClosed()
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       sameOrigin,
	EnableCompression: true,
}

const writeWait = 10 * time.Second

// streamFrame 每次视图或动作状态变化推送一帧。
type streamFrame struct {
	Type    string          `json:"type"`
	View    any             `json:"view,omitempty"`
	Actions []action.Status `json:"actions,omitempty"`
}

// handleStream pushes the derived view on every snapshot version and the
// action statuses on every state change. The stream ends when the store is
// sealed or the client goes away.
func (r *Router) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[api] ws upgrade failed ip=%s err=%v", c.ClientIP(), err)
		return
	}
	defer conn.Close()
	if r.streams != nil {
		r.streams.StreamOpened()
		defer r.streams.StreamClosed()
	}

	versions, unsubView := r.view.Subscribe()
	defer unsubView()
	var changes <-chan struct{}
	if r.actions != nil {
		ch, unsubActions := r.actions.Subscribe()
		defer unsubActions()
		changes = ch
	}

	// 读协程只负责感知断开。
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := r.writeView(conn); err != nil {
		return
	}
	if r.actions != nil {
		if err := r.writeActions(conn); err != nil {
			return
		}
	}

	ping := time.NewTicker(r.ping)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case _, ok := <-versions:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "view sealed"),
					time.Now().Add(writeWait))
				return
			}
			if err := r.writeView(conn); err != nil {
				return
			}
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if err := r.writeActions(conn); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (r *Router) writeView(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(streamFrame{Type: "view", View: r.view.Snapshot().View()})
}

func (r *Router) writeActions(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(streamFrame{Type: "actions", Actions: r.actions.Statuses()})
}
