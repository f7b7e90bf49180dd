package network

import (
	"context"
	"sync"
	"time"

	"github.com/emberwallet/ember/internal/log"
)

// DefaultMonitorInterval is how often the monitor probes each chain's
// active endpoint.
const DefaultMonitorInterval = 30 * time.Second

// Monitor periodically probes the active endpoint of each watched chain
// and forces a failover when its uptime average falls too low. One
// goroutine per watched chain; all of them stop on Stop.
type Monitor struct {
	registry *Registry
	interval time.Duration

	mu      sync.Mutex
	cancels map[uint64]context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitor creates a monitor over a registry. A non-positive interval
// falls back to the default.
func NewMonitor(registry *Registry, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{
		registry: registry,
		interval: interval,
		cancels:  make(map[uint64]context.CancelFunc),
	}
}

// Watch starts the health loop for a chain. Watching an already watched
// chain is a no-op.
func (m *Monitor) Watch(chainID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cancels[chainID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancels[chainID] = cancel
	m.wg.Add(1)
	go m.run(ctx, chainID)
	log.Network.Debug().Uint64("chain_id", chainID).Dur("interval", m.interval).Msg("health monitor started")
}

// Unwatch stops the health loop for a chain.
func (m *Monitor) Unwatch(chainID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[chainID]; ok {
		cancel()
		delete(m.cancels, chainID)
	}
}

// Stop cancels every health loop and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	for id, cancel := range m.cancels {
		cancel()
		delete(m.cancels, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context, chainID uint64) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx, chainID)
		}
	}
}

// check probes the active endpoint once and reacts to the result. A
// failed probe or an uptime average below the failover threshold hands
// the chain to the failover path.
func (m *Monitor) check(ctx context.Context, chainID uint64) {
	r := m.registry

	r.mu.RLock()
	cs, ok := r.chains[chainID]
	if !ok {
		r.mu.RUnlock()
		return
	}
	activeURL := cs.activeURL
	r.mu.RUnlock()

	if activeURL == "" {
		if _, _, err := r.Failover(ctx, chainID); err != nil {
			log.Network.Warn().Uint64("chain_id", chainID).Err(err).Msg("health monitor: no live endpoint")
		}
		return
	}

	client, err := r.clientFor(chainID, activeURL)
	if err != nil {
		r.recordProbe(chainID, activeURL, 0, false)
		r.Failover(ctx, chainID)
		return
	}

	latency, err := r.probe(ctx, client)
	if err != nil {
		r.recordProbe(chainID, activeURL, 0, false)
		log.Network.Warn().
			Uint64("chain_id", chainID).
			Str("endpoint", activeURL).
			Err(err).
			Msg("active endpoint failed health check")
		r.Failover(ctx, chainID)
		return
	}
	r.recordProbe(chainID, activeURL, latency, true)

	health, herr := r.Health(chainID)
	if herr == nil && health.Uptime < failoverUptime {
		log.Network.Warn().
			Uint64("chain_id", chainID).
			Float64("uptime", health.Uptime).
			Msg("uptime below failover threshold")
		r.Failover(ctx, chainID)
		return
	}

	// Refresh the degraded/healthy classification after a clean probe.
	r.mu.Lock()
	if cs, ok := r.chains[chainID]; ok && cs.activeURL == activeURL {
		if cs.health.Uptime < degradedUptime {
			cs.health.Status = StatusDegraded
		} else {
			cs.health.Status = StatusHealthy
		}
	}
	r.mu.Unlock()
}
