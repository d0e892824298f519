// Package netmon observes backend reachability and reports transitions.
// It is the Go stand-in for browser online/offline events: a periodic probe
// of the backend health endpoint, with callbacks on edge transitions only.
package netmon

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const probeTimeout = 5 * time.Second

// Monitor polls a health URL and flips Online() on transitions. Forms keep
// accepting input and writing locally regardless of what it reports.
type Monitor struct {
	healthURL string
	interval  time.Duration
	client    *http.Client
	log       *slog.Logger

	mu       sync.Mutex
	online   bool
	onOnline []func()
	stopCh   chan struct{}
	running  bool
}

// New returns a monitor probing healthURL every interval.
func New(healthURL string, interval time.Duration, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		healthURL: healthURL,
		interval:  interval,
		client:    &http.Client{Timeout: probeTimeout},
		log:       log,
		stopCh:    make(chan struct{}),
	}
}

// Online reports the last observed reachability.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnOnline registers a callback fired on each offline-to-online transition.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

// Start launches the probe loop. The first probe runs immediately so the
// initial state is known before any sync decision.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go func() {
		m.SetOnline(m.probe())
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.SetOnline(m.probe())
			}
		}
	}()
}

// Stop halts the probe loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	m.running = false
}

// SetOnline records the observed state and fires callbacks on the
// offline-to-online edge. Exported so tests can drive transitions directly.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	var callbacks []func()
	if online && !was {
		callbacks = append(callbacks, m.onOnline...)
	}
	m.mu.Unlock()

	if online != was {
		m.log.Info("connectivity changed", "online", online)
	}
	for _, fn := range callbacks {
		fn()
	}
}

func (m *Monitor) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}
