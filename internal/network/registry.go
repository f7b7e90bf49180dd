package network

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/emberwallet/ember/internal/log"
	"github.com/emberwallet/ember/internal/walleterr"
)

// DefaultProbeTimeout bounds each liveness probe.
const DefaultProbeTimeout = 5 * time.Second

// chainState holds the endpoint pool and health for one chain. The
// endpoints slice is kept sorted by priority.
type chainState struct {
	chainID   uint64
	endpoints []*Endpoint
	clients   map[string]Client // keyed by endpoint URL
	activeURL string            // "" when no endpoint is active
	health    Health
}

// Registry owns the per-chain endpoint tables. It is read-mostly: callers
// fetch the active client under a read lock, only failover and the health
// monitor mutate state.
type Registry struct {
	dial         Dialer
	probeTimeout time.Duration

	mu     sync.RWMutex
	chains map[uint64]*chainState
}

// NewRegistry creates an empty registry using the given dialer.
func NewRegistry(dial Dialer) *Registry {
	return &Registry{
		dial:         dial,
		probeTimeout: DefaultProbeTimeout,
		chains:       make(map[uint64]*chainState),
	}
}

// AddChain registers a chain with its endpoint URLs in priority order.
// Re-adding a chain replaces its endpoint list.
func (r *Registry) AddChain(chainID uint64, urls []string) error {
	if len(urls) == 0 {
		return walleterr.Validation("chain needs at least one endpoint")
	}

	endpoints := make([]*Endpoint, len(urls))
	for i, u := range urls {
		endpoints[i] = &Endpoint{URL: u, Priority: i}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.chains[chainID]; ok {
		for _, c := range old.clients {
			c.Close()
		}
	}
	r.chains[chainID] = &chainState{
		chainID:   chainID,
		endpoints: endpoints,
		clients:   make(map[string]Client),
		health: Health{
			ChainID: chainID,
			Status:  StatusDown,
			Uptime:  1.0,
		},
	}
	log.Network.Info().Uint64("chain_id", chainID).Int("endpoints", len(urls)).Msg("chain registered")
	return nil
}

// AddEndpoint appends a user-supplied endpoint with the lowest priority.
func (r *Registry) AddEndpoint(chainID uint64, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.chains[chainID]
	if !ok {
		return walleterr.Newf(walleterr.CodeValidation, "unknown chain %d", chainID)
	}
	for _, ep := range cs.endpoints {
		if ep.URL == url {
			return walleterr.Validation("endpoint already registered")
		}
	}
	cs.endpoints = append(cs.endpoints, &Endpoint{URL: url, Priority: len(cs.endpoints)})
	return nil
}

// RemoveChain drops a chain and closes its clients.
func (r *Registry) RemoveChain(chainID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cs, ok := r.chains[chainID]; ok {
		for _, c := range cs.clients {
			c.Close()
		}
		delete(r.chains, chainID)
	}
}

// Chains lists registered chain ids.
func (r *Registry) Chains() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint64, 0, len(r.chains))
	for id := range r.chains {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ActiveEndpoint returns the current best endpoint and its client for a
// chain. When no endpoint is marked active it triggers a failover.
func (r *Registry) ActiveEndpoint(ctx context.Context, chainID uint64) (*Endpoint, Client, error) {
	r.mu.RLock()
	cs, ok := r.chains[chainID]
	if ok && cs.activeURL != "" {
		ep := cs.endpointByURL(cs.activeURL)
		client := cs.clients[cs.activeURL]
		r.mu.RUnlock()
		if ep != nil && client != nil {
			return ep, client, nil
		}
	} else {
		r.mu.RUnlock()
	}
	if !ok {
		return nil, nil, walleterr.Newf(walleterr.CodeValidation, "unknown chain %d", chainID)
	}
	return r.Failover(ctx, chainID)
}

// NextEndpoint returns the endpoint following the given URL in priority
// order, dialing it if needed. Used by the broadcast retry path.
func (r *Registry) NextEndpoint(ctx context.Context, chainID uint64, afterURL string) (*Endpoint, Client, error) {
	r.mu.RLock()
	cs, ok := r.chains[chainID]
	if !ok {
		r.mu.RUnlock()
		return nil, nil, walleterr.Newf(walleterr.CodeValidation, "unknown chain %d", chainID)
	}
	ordered := cs.sortedEndpoints()
	r.mu.RUnlock()

	idx := -1
	for i, ep := range ordered {
		if ep.URL == afterURL {
			idx = i
			break
		}
	}
	if idx < 0 || idx+1 >= len(ordered) {
		return nil, nil, walleterr.NoEndpoint(chainID)
	}
	next := ordered[idx+1]
	client, err := r.clientFor(chainID, next.URL)
	if err != nil {
		return nil, nil, walleterr.Network("dial endpoint", err)
	}
	return next, client, nil
}

// Failover probes each configured endpoint in priority order with a
// bounded timeout; the first to answer a liveness check becomes active.
// When every endpoint fails, health goes down and the call fails with a
// no-endpoint error.
func (r *Registry) Failover(ctx context.Context, chainID uint64) (*Endpoint, Client, error) {
	r.mu.RLock()
	cs, ok := r.chains[chainID]
	if !ok {
		r.mu.RUnlock()
		return nil, nil, walleterr.Newf(walleterr.CodeValidation, "unknown chain %d", chainID)
	}
	ordered := cs.sortedEndpoints()
	r.mu.RUnlock()

	var failed []string
	for _, ep := range ordered {
		client, err := r.clientFor(chainID, ep.URL)
		if err != nil {
			failed = append(failed, ep.URL)
			r.recordProbe(chainID, ep.URL, 0, false)
			continue
		}

		latency, err := r.probe(ctx, client)
		if err != nil {
			failed = append(failed, ep.URL)
			r.recordProbe(chainID, ep.URL, 0, false)
			log.Network.Debug().
				Uint64("chain_id", chainID).
				Str("endpoint", ep.URL).
				Err(err).
				Msg("liveness probe failed")
			continue
		}

		r.recordProbe(chainID, ep.URL, latency, true)
		r.setActive(chainID, ep.URL, failed)
		log.Network.Info().
			Uint64("chain_id", chainID).
			Str("endpoint", ep.URL).
			Dur("latency", latency).
			Msg("failover selected endpoint")

		r.mu.RLock()
		active := r.chains[chainID].endpointByURL(ep.URL)
		client = r.chains[chainID].clients[ep.URL]
		r.mu.RUnlock()
		return active, client, nil
	}

	r.markDown(chainID, failed)
	log.Network.Error().Uint64("chain_id", chainID).Msg("all endpoints failed liveness checks")
	return nil, nil, walleterr.NoEndpoint(chainID)
}

// HasActivity reports whether an address has any on-chain history on the
// given chain (nonzero balance or a nonzero nonce). Used by account
// discovery.
func (r *Registry) HasActivity(ctx context.Context, chainID uint64, addr common.Address) (bool, error) {
	_, client, err := r.ActiveEndpoint(ctx, chainID)
	if err != nil {
		return false, err
	}
	balance, err := client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return false, walleterr.Network("balance lookup", err)
	}
	if balance.Sign() > 0 {
		return true, nil
	}
	nonce, err := client.NonceAt(ctx, addr, nil)
	if err != nil {
		return false, walleterr.Network("nonce lookup", err)
	}
	return nonce > 0, nil
}

// Health returns the current health snapshot for a chain.
func (r *Registry) Health(chainID uint64) (Health, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs, ok := r.chains[chainID]
	if !ok {
		return Health{}, walleterr.Newf(walleterr.CodeValidation, "unknown chain %d", chainID)
	}
	h := cs.health
	return h, nil
}

// RestoreHealth seeds a freshly registered chain's health from a persisted
// snapshot, so uptime history and the last gas estimate survive restarts.
// The status and active endpoint are still established by live probes.
func (r *Registry) RestoreHealth(h Health) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.chains[h.ChainID]
	if !ok {
		return
	}
	cs.health.Uptime = h.Uptime
	cs.health.LastGas = h.LastGas
	cs.health.CheckedAt = h.CheckedAt
}

// Endpoints returns a copy of a chain's endpoint table in priority order.
func (r *Registry) Endpoints(chainID uint64) ([]Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs, ok := r.chains[chainID]
	if !ok {
		return nil, walleterr.Newf(walleterr.CodeValidation, "unknown chain %d", chainID)
	}
	ordered := cs.sortedEndpoints()
	out := make([]Endpoint, len(ordered))
	for i, ep := range ordered {
		out[i] = *ep
	}
	return out, nil
}

// Close shuts down all dialed clients.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cs := range r.chains {
		for _, c := range cs.clients {
			c.Close()
		}
		cs.clients = make(map[string]Client)
		cs.activeURL = ""
	}
}

// probe runs a bounded liveness check against a client.
func (r *Registry) probe(ctx context.Context, client Client) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	start := time.Now()
	if _, err := client.BlockNumber(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// clientFor returns (dialing if necessary) the client for an endpoint.
func (r *Registry) clientFor(chainID uint64, url string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("unknown chain %d", chainID)
	}
	if c, ok := cs.clients[url]; ok {
		return c, nil
	}
	c, err := r.dial(url)
	if err != nil {
		return nil, err
	}
	cs.clients[url] = c
	return c, nil
}

// recordProbe updates one endpoint's latency/failure counters and folds
// the result into the chain's uptime EMA.
func (r *Registry) recordProbe(chainID uint64, url string, latency time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.chains[chainID]
	if !ok {
		return
	}
	if ep := cs.endpointByURL(url); ep != nil {
		if success {
			ep.Latency = latency
			ep.ConsecutiveFailures = 0
		} else {
			ep.ConsecutiveFailures++
		}
	}

	signal := 0.0
	if success {
		signal = 1.0
	}
	cs.health.Uptime = 0.9*cs.health.Uptime + 0.1*signal
	cs.health.CheckedAt = time.Now().UTC()
}

// setActive commits a failover decision.
func (r *Registry) setActive(chainID uint64, url string, failed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.chains[chainID]
	if !ok {
		return
	}
	cs.activeURL = url
	cs.health.ActiveEndpoint = url
	cs.health.FailedEndpoints = failed
	if cs.health.Uptime < degradedUptime {
		cs.health.Status = StatusDegraded
	} else {
		cs.health.Status = StatusHealthy
	}
}

// markDown records that every endpoint failed.
func (r *Registry) markDown(chainID uint64, failed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.chains[chainID]
	if !ok {
		return
	}
	cs.activeURL = ""
	cs.health.ActiveEndpoint = ""
	cs.health.FailedEndpoints = failed
	cs.health.Status = StatusDown
	cs.health.CheckedAt = time.Now().UTC()
}

func (cs *chainState) endpointByURL(url string) *Endpoint {
	for _, ep := range cs.endpoints {
		if ep.URL == url {
			return ep
		}
	}
	return nil
}

func (cs *chainState) sortedEndpoints() []*Endpoint {
	ordered := make([]*Endpoint, len(cs.endpoints))
	copy(ordered, cs.endpoints)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })
	return ordered
}
