package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Prober reports whether the remote store is reachable right now.
// remote.Client's health endpoint satisfies this.
type Prober interface {
	Health(ctx context.Context) error
}

// Monitor polls a Prober and emits edge-triggered signals on reachability
// transitions. Delivery is at-least-once: a callback may fire again for a
// state the consumer already observed, so consumers must be idempotent.
type Monitor struct {
	Prober   Prober
	Logger   *logrus.Logger
	Interval time.Duration

	mu        sync.Mutex
	online    bool
	known     bool
	onOnline  []func()
	onOffline []func()
}

func NewMonitor(prober Prober, logger *logrus.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		Prober:   prober,
		Logger:   logger,
		Interval: interval,
	}
}

// Online reports the last observed reachability. False until the first
// probe completes.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known && m.online
}

// OnOnline registers an edge-triggered became-online callback.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

// OnOffline registers an edge-triggered became-offline callback.
func (m *Monitor) OnOffline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOffline = append(m.onOffline, fn)
}

// Run probes until ctx is done. Call from a goroutine owned by the shell.
func (m *Monitor) Run(ctx context.Context) {
	m.ProbeOnce(ctx)
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce performs one reachability check and fires callbacks when the
// state flipped. Exposed so the shell can force a check (e.g. after an OS
// network-change event).
func (m *Monitor) ProbeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := m.Prober.Health(probeCtx)
	m.observe(err == nil)
}

func (m *Monitor) observe(online bool) {
	m.mu.Lock()
	changed := !m.known || m.online != online
	m.known = true
	m.online = online
	var fns []func()
	if changed {
		if online {
			fns = append(fns, m.onOnline...)
		} else {
			fns = append(fns, m.onOffline...)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	if m.Logger != nil {
		m.Logger.WithFields(logrus.Fields{
			"module": "connectivity",
			"online": online,
		}).Info("reachability changed")
	}
	for _, fn := range fns {
		fn()
	}
}
