package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "paneld/pkg/logx"

	"paneld/internal/panel"
)

type recordedRequest struct {
	path string
	body map[string]string
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]recordedRequest) {
	t.Helper()
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		reqs = append(reqs, recordedRequest{path: r.URL.Path, body: body})
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, Token: "node-token", Timeout: 2 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, &reqs
}

func TestDispatchRoutesAndPayloads(t *testing.T) {
	t.Parallel()
	c, reqs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	ctx := context.Background()

	if err := c.PowerAction(ctx, "srv-1", panel.PowerRestart); err != nil {
		t.Fatalf("PowerAction: %v", err)
	}
	if err := c.CreateBackup(ctx, "srv-1"); err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	if err := c.RunCommand(ctx, "srv-1", "save-all"); err != nil {
		t.Fatalf("RunCommand: %v", err)
	}

	got := *reqs
	if len(got) != 3 {
		t.Fatalf("recorded %d requests, want 3", len(got))
	}
	if got[0].path != "/api/servers/srv-1/power" || got[0].body["action"] != "restart" {
		t.Fatalf("power request = %+v", got[0])
	}
	if got[1].path != "/api/servers/srv-1/backup" {
		t.Fatalf("backup request = %+v", got[1])
	}
	if got[2].path != "/api/servers/srv-1/commands" || got[2].body["command"] != "save-all" {
		t.Fatalf("command request = %+v", got[2])
	}
}

func TestDispatchErrorStatus(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server is suspended", http.StatusConflict)
	})
	err := c.PowerAction(context.Background(), "srv-1", panel.PowerStart)
	if err == nil {
		t.Fatal("expected error on 409")
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatal("status error misclassified as timeout")
	}
}

func TestDispatchTimeout(t *testing.T) {
	t.Parallel()
	started := make(chan struct{}, 1)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		time.Sleep(500 * time.Millisecond)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := c.CreateBackup(ctx, "srv-1")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error %v is not ErrTimeout", err)
	}
	<-started
}

func TestEmptyCommandRejected(t *testing.T) {
	t.Parallel()
	c, reqs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	if err := c.RunCommand(context.Background(), "srv-1", "  "); err == nil {
		t.Fatal("empty command accepted")
	}
	if len(*reqs) != 0 {
		t.Fatal("empty command reached the daemon")
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing base url")
	}
}
