package remote

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakePinger struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakePinger) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakePinger) set(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func TestMonitor_TracksReachability(t *testing.T) {
	p := &fakePinger{}
	m := NewMonitor(p, time.Minute, slog.Default())

	if !m.Online() {
		t.Fatal("monitor must start online")
	}
	p.set(errors.New("dial tcp: connection refused"))
	if m.Check(context.Background()) || m.Online() {
		t.Error("Online() = true after failed ping")
	}
	p.set(nil)
	if !m.Check(context.Background()) || !m.Online() {
		t.Error("Online() = false after successful ping")
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	p := &fakePinger{}
	m := NewMonitor(p, 5*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls < 2 {
		t.Errorf("pinged %d times, want at least 2", p.calls)
	}
}
