// Package pprofsrv serves net/http/pprof on a dedicated listener so
// profiling never shares a port with the management API.
package pprofsrv

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	logx "paneld/pkg/logx"
)

// Config controls the optional pprof HTTP server.
//
// Prefer binding to localhost (the default). A non-loopback bind requires
// Token or an explicit AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log}
}

// Start begins serving. Returns nil without serving when disabled.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.srv != nil {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:6060"
	}
	if !s.cfg.AllowInsecure && strings.TrimSpace(s.cfg.Token) == "" && !isLoopbackAddr(addr) {
		return errors.New("pprof refused to start: non-loopback addr requires token or allow_insecure")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:     s.mux(),
		ReadTimeout: 10 * time.Second,
		// No write timeout: /profile legitimately runs 30s+.
		IdleTimeout: time.Minute,
	}
	s.ln = ln
	s.srv = srv

	go func() {
		s.log.Info("pprof listening", logx.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("pprof server exited", logx.Err(err))
		}
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	ln := s.ln
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	if srv != nil {
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}
}

func (s *Service) mux() *http.ServeMux {
	prefix := normalizePrefix(s.cfg.Prefix)
	base := strings.TrimSuffix(prefix, "/")
	token := strings.TrimSpace(s.cfg.Token)

	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }

	mux := http.NewServeMux()
	mux.HandleFunc(prefix, wrap(hpprof.Index))
	mux.HandleFunc(base+"/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc(base+"/profile", wrap(hpprof.Profile))
	mux.HandleFunc(base+"/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc(base+"/trace", wrap(hpprof.Trace))
	return mux
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				got = strings.TrimSpace(auth[len("Bearer "):])
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "" || strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
