// Package daemon is the HTTP client for the node daemon that actually runs
// game-server containers.
//
// The scheduler only "fires and observes": each call returns once the daemon
// acknowledged (or refused) the action; eventual daemon-side completion is
// never polled here.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	logx "paneld/pkg/logx"

	"paneld/internal/panel"
)

// ErrTimeout marks a dispatch call that exceeded its deadline. Callers treat
// it like any other dispatch failure (continue-on-failure), but it is kept
// distinguishable for logs and run records.
var ErrTimeout = errors.New("daemon: dispatch timed out")

// Dispatcher is the narrow surface the runner depends on.
type Dispatcher interface {
	PowerAction(ctx context.Context, serverID string, kind panel.PowerKind) error
	CreateBackup(ctx context.Context, serverID string) error
	RunCommand(ctx context.Context, serverID, line string) error
}

type Config struct {
	BaseURL string
	Token   string

	// Timeout bounds each dispatch call. 0 means the default (15s).
	Timeout time.Duration

	// RatePerSec caps dispatch calls per node so a burst of chains cannot
	// flood the daemon. 0 means the default (10).
	RatePerSec int
}

// Client talks to one node daemon.
type Client struct {
	rc      *resty.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("daemon: base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	rc := resty.New()
	rc.SetBaseURL(base)
	rc.SetTimeout(timeout)
	rc.SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		rc.SetHeader("Authorization", "Bearer "+cfg.Token)
	}
	// Actions are not idempotent at the transport level; never auto-retry.
	rc.SetRetryCount(0)

	return &Client{
		rc:      rc,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

type powerPayload struct {
	Action string `json:"action"`
}

type commandPayload struct {
	Command string `json:"command"`
}

func (c *Client) PowerAction(ctx context.Context, serverID string, kind panel.PowerKind) error {
	return c.post(ctx, fmt.Sprintf("/api/servers/%s/power", serverID), powerPayload{Action: string(kind)})
}

func (c *Client) CreateBackup(ctx context.Context, serverID string) error {
	return c.post(ctx, fmt.Sprintf("/api/servers/%s/backup", serverID), nil)
}

func (c *Client) RunCommand(ctx context.Context, serverID, line string) error {
	if strings.TrimSpace(line) == "" {
		return errors.New("daemon: command line is empty")
	}
	return c.post(ctx, fmt.Sprintf("/api/servers/%s/commands", serverID), commandPayload{Command: line})
}

func (c *Client) post(ctx context.Context, url string, body any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req := c.rc.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(url)
	if err != nil {
		if isTimeout(ctx, err) {
			return fmt.Errorf("%w: POST %s: %v", ErrTimeout, url, err)
		}
		return fmt.Errorf("daemon: POST %s: %w", url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("daemon: POST %s: status %d: %s", url, resp.StatusCode(), truncateBody(resp.String()))
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

func truncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:197] + "..."
	}
	return s
}
