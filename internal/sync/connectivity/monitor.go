// Package connectivity tracks reachability of the central service. The
// monitor is deliberately pessimistic: a single failed probe flips the state
// to offline, and only a successful probe flips it back.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/itadriver/fieldsync/internal/logging"
	"github.com/itadriver/fieldsync/internal/sync/remote"
)

// Config tunes the probe loop.
type Config struct {
	// ProbeInterval is how often to confirm reachability while online
	// (default 30s).
	ProbeInterval time.Duration

	// OfflineBackoffInitial is the first re-probe delay after going offline
	// (default 5s). Subsequent delays grow exponentially up to
	// OfflineBackoffMax (default 2m).
	OfflineBackoffInitial time.Duration
	OfflineBackoffMax     time.Duration

	// ProbeTimeout bounds a single probe (default 10s).
	ProbeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 30 * time.Second
	}
	if c.OfflineBackoffInitial <= 0 {
		c.OfflineBackoffInitial = 5 * time.Second
	}
	if c.OfflineBackoffMax <= 0 {
		c.OfflineBackoffMax = 2 * time.Minute
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	return c
}

// Monitor probes the central service and reports transitions. Callbacks run
// on the monitor goroutine; keep them short or hand off.
type Monitor struct {
	client   remote.Client
	config   Config
	logger   *logging.Logger
	onChange func(online bool)

	mu     sync.RWMutex
	online bool

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
	wake    chan struct{}
}

// NewMonitor creates a monitor. onChange may be nil; it fires on every state
// transition, including the initial probe result.
func NewMonitor(client remote.Client, config Config, logger *logging.Logger, onChange func(online bool)) *Monitor {
	return &Monitor{
		client:   client,
		config:   config.withDefaults(),
		logger:   logger,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Online reports the last known reachability state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline feeds an external reachability signal (OS network change, a
// request that just succeeded or failed). The probe loop re-checks promptly
// after a signal rather than waiting out its current delay.
func (m *Monitor) SetOnline(online bool) {
	m.setState(online)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Start launches the probe loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop terminates the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopped.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()

	// Initial probe establishes the starting state.
	m.probe()

	offlineBackoff := m.newBackoff()
	for {
		var delay time.Duration
		if m.Online() {
			delay = m.config.ProbeInterval
			offlineBackoff.Reset()
		} else {
			delay = offlineBackoff.NextBackOff()
			if delay == backoff.Stop {
				offlineBackoff.Reset()
				delay = m.config.OfflineBackoffMax
			}
		}

		select {
		case <-m.stopCh:
			return
		case <-m.wake:
			// External signal; re-probe to confirm.
		case <-time.After(delay):
		}

		m.probe()
	}
}

func (m *Monitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ProbeTimeout)
	defer cancel()

	err := m.client.Ping(ctx)
	m.setState(err == nil)
}

// setState records the new state and fires onChange on transitions.
func (m *Monitor) setState(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}
	if m.logger != nil {
		if online {
			m.logger.Info("Connectivity restored", map[string]interface{}{"online": true})
		} else {
			m.logger.Warn("Connectivity lost", map[string]interface{}{"online": false})
		}
	}
	if m.onChange != nil {
		m.onChange(online)
	}
}

func (m *Monitor) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.config.OfflineBackoffInitial
	b.MaxInterval = m.config.OfflineBackoffMax
	b.MaxElapsedTime = 0 // keep probing forever
	b.Reset()
	return b
}
