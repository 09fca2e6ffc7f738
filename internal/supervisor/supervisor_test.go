package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRunsAndWaits(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var ran atomic.Bool
	s.Go("worker", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !ran.Load() {
		t.Fatal("goroutine did not run")
	}
	if c := s.Counters(); c.Started != 1 || c.Active != 0 {
		t.Fatalf("counters: %+v", c)
	}
}

func TestPanicRecovered(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("boom", func(ctx context.Context) error {
		panic("kaboom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Stop(ctx)
	if err == nil {
		t.Fatal("expected error from panic")
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	sentinel := errors.New("bad")
	s.Go("failing", func(ctx context.Context) error {
		return sentinel
	})
	s.Go("blocked", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if !errors.Is(err, sentinel) {
		t.Fatalf("want sentinel error, got %v", err)
	}
}

func TestContextCanceledNotRecorded(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("canceled", func(ctx context.Context) error {
		return context.Canceled
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("context.Canceled should not surface: %v", err)
	}
}
