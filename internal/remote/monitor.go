package remote

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Pinger is implemented by [Client].
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor tracks whether the remote store is reachable by pinging it on a
// fixed interval. It starts out assuming the store is online.
type Monitor struct {
	p        Pinger
	interval time.Duration
	log      *slog.Logger
	online   atomic.Bool
}

// NewMonitor creates a Monitor. Call [Monitor.Run] to start probing.
func NewMonitor(p Pinger, interval time.Duration, logger *slog.Logger) *Monitor {
	m := &Monitor{p: p, interval: interval, log: logger}
	m.online.Store(true)
	return m
}

// Online reports the result of the most recent probe.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Check probes the store once and records the result.
func (m *Monitor) Check(ctx context.Context) bool {
	err := m.p.Ping(ctx)
	online := err == nil
	if prev := m.online.Swap(online); prev != online {
		if online {
			m.log.Info("remote store reachable again")
		} else {
			m.log.Warn("remote store unreachable", "error", err)
		}
	}
	return online
}

// Run probes immediately and then every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
