// Package httpapi exposes the management API: schedule listing, manual
// execution, run history and the live progress stream.
//
// Schedule CRUD stays with the panel frontend; this surface only reads
// definitions and triggers runs.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"paneld/internal/scheduler"
	"paneld/internal/store"
	logx "paneld/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	// Token, when set, is required as "Authorization: Bearer <token>" on
	// every route except /healthz.
	Token string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	// WriteTimeout deliberately defaults to 0: the websocket stream is
	// long-lived and a server-wide write deadline would sever it.
	return c
}

// Scheduler is the slice of the scheduler service the API needs.
type Scheduler interface {
	RunNow(ctx context.Context, scheduleID string) error
	Running(scheduleID string) bool
	Snapshot() scheduler.Snapshot
}

type Server struct {
	cfg   Config
	st    store.Store
	sched Scheduler
	log   logx.Logger

	e  *echo.Echo
	ws *ProgressBridge

	mu       sync.Mutex
	stopCh   chan struct{}
	stopDone chan struct{}
}

func New(cfg Config, st store.Store, sched Scheduler, bridge *ProgressBridge, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:   cfg.withDefaults(),
		st:    st,
		sched: sched,
		ws:    bridge,
		log:   log,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(s.authMiddleware)
	e.Server.ReadTimeout = s.cfg.ReadTimeout
	e.Server.WriteTimeout = s.cfg.WriteTimeout
	e.Server.IdleTimeout = s.cfg.IdleTimeout

	e.GET("/healthz", s.handleHealthz)
	e.GET("/api/schedules", s.handleListSchedules)
	e.GET("/api/schedules/:id", s.handleGetSchedule)
	e.POST("/api/schedules/:id/execute", s.handleExecute)
	e.GET("/api/schedules/:id/runs", s.handleListRuns)
	e.GET("/api/system", s.handleSystem)
	if s.ws != nil {
		e.GET("/ws/progress", s.ws.handle)
	}

	s.e = e
	return s
}

func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.stopDone = make(chan struct{})
	stopDone := s.stopDone
	s.mu.Unlock()

	go func() {
		defer close(stopDone)
		s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
		if err := s.e.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http api failed", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	stopDone := s.stopDone
	s.stopCh = nil
	s.stopDone = nil
	s.mu.Unlock()

	close(stopCh)
	if s.ws != nil {
		s.ws.closeAll()
	}
	if err := s.e.Shutdown(ctx); err != nil {
		s.log.Warn("http api shutdown", logx.Err(err))
	}
	select {
	case <-stopDone:
	case <-ctx.Done():
	}
	s.log.Info("http api stopped")
}

func (s *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Path() == "/healthz" || s.cfg.Token == "" {
			return next(c)
		}
		got := bearerToken(c.Request())
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
			return c.JSON(http.StatusUnauthorized, errBody("unauthorized"))
		}
		return next(c)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	// Browsers cannot set headers on websocket dials.
	return r.URL.Query().Get("token")
}

func errBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
