package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"paneld/internal/progress"
	logx "paneld/pkg/logx"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 60 * time.Second
	// wsBuffer is per-connection; a stalled client loses updates rather
	// than stalling the publisher.
	wsBuffer = 32
)

// ProgressBridge fans progress updates out to websocket clients. Each connection
// gets its own hub subscription so one slow consumer cannot block another.
type ProgressBridge struct {
	hub      progress.Hub
	log      logx.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewProgressBridge wires the progress hub to the /ws/progress endpoint.
func NewProgressBridge(hub progress.Hub, log logx.Logger) *ProgressBridge {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ProgressBridge{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Token auth already ran in the middleware chain.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: map[*websocket.Conn]struct{}{},
	}
}

func (b *ProgressBridge) handle(c echo.Context) error {
	conn, err := b.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return nil
	}
	b.track(conn)
	defer b.untrack(conn)

	updates, unsub := b.hub.Subscribe(wsBuffer)
	defer unsub()

	// Reader only services control frames and detects disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(u); err != nil {
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

func (b *ProgressBridge) track(conn *websocket.Conn) {
	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()
}

func (b *ProgressBridge) untrack(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()
	_ = conn.Close()
}

// closeAll severs every client during server shutdown.
func (b *ProgressBridge) closeAll() {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()
	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.Close()
	}
}
