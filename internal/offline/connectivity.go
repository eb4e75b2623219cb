package offline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/dominotes/internal/remote"
	"go.uber.org/zap"
)

const (
	defaultProbeInterval = 5 * time.Second
	defaultProbeTimeout  = 3 * time.Second
)

// Probe reports current reachability of the server.
type Probe interface {
	Reachable(ctx context.Context) bool
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) bool

func (f ProbeFunc) Reachable(ctx context.Context) bool {
	return f(ctx)
}

// Pinger is the reachability call exposed by the remote client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingProbe treats any answer that is not a transient failure as reachable.
type PingProbe struct {
	Pinger  Pinger
	Timeout time.Duration
}

func (p PingProbe) Reachable(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := p.Pinger.Ping(probeCtx)
	return err == nil || !remote.IsTransient(err)
}

type MonitorConfig struct {
	Probe Probe
	// OnReconnect runs on the goroutine that observed the offline to online transition.
	OnReconnect func(ctx context.Context)
	Interval    time.Duration
	Logger      *zap.Logger
}

// Monitor tracks the online flag and fires OnReconnect once per transition to online.
type Monitor struct {
	mu          sync.Mutex
	online      bool
	started     bool
	probe       Probe
	onReconnect func(ctx context.Context)
	interval    time.Duration
	logger      *zap.Logger
}

func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Probe == nil {
		return nil, errors.New("offline: connectivity probe required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	onReconnect := cfg.OnReconnect
	if onReconnect == nil {
		onReconnect = func(context.Context) {}
	}
	return &Monitor{
		probe:       cfg.Probe,
		onReconnect: onReconnect,
		interval:    interval,
		logger:      logger,
	}, nil
}

// Online returns the current flag.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Start seeds the flag from the probe and reconciles once if already online.
// Later calls are no-ops.
func (m *Monitor) Start(ctx context.Context) {
	reachable := m.probe.Reachable(ctx)
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.online = reachable
	m.mu.Unlock()

	m.logger.Info("connectivity initialized", zap.Bool("online", reachable))
	if reachable {
		m.onReconnect(ctx)
	}
}

// Notify applies a reachability event. Only an offline to online transition triggers reconciliation.
func (m *Monitor) Notify(ctx context.Context, online bool) {
	m.mu.Lock()
	previous := m.online
	m.online = online
	m.started = true
	m.mu.Unlock()

	if previous == online {
		return
	}
	m.logger.Info("connectivity changed", zap.Bool("online", online))
	if online {
		m.onReconnect(ctx)
	}
}

// Run starts the monitor and polls the probe until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	m.Start(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Notify(ctx, m.probe.Reachable(ctx))
		}
	}
}
