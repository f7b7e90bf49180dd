package pipeline

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/emberwallet/ember/internal/network"
)

// Poll cadence and budget for receipt tracking.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 60
)

// Pipeline turns transfer requests into tracked on-chain transactions.
// All RPC traffic goes through the network registry's active endpoint.
type Pipeline struct {
	registry *network.Registry
	store    *Store

	pollInterval time.Duration
	maxAttempts  int

	// sendMu serializes Build per (chain, sender) so concurrent sends
	// from one account get strictly increasing nonces.
	sendMu  sync.Mutex
	senders map[string]*sync.Mutex

	// trackMu guards the background tracker set.
	trackMu  sync.Mutex
	trackers map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a pipeline over a registry and a transaction store.
func New(registry *network.Registry, store *Store) *Pipeline {
	return &Pipeline{
		registry:     registry,
		store:        store,
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxAttempts,
		senders:      make(map[string]*sync.Mutex),
		trackers:     make(map[string]context.CancelFunc),
	}
}

// Store exposes the underlying record store for history queries.
func (p *Pipeline) Store() *Store {
	return p.store
}

// Send runs the full path: build, sign, submit, and start background
// receipt tracking. The private key is used only for the signature and
// never retained.
func (p *Pipeline) Send(ctx context.Context, key *ecdsa.PrivateKey, req Request) (*Record, error) {
	rec, err := p.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	signed, err := p.Sign(rec, key)
	if err != nil {
		return nil, err
	}
	if err := p.Submit(ctx, rec, signed); err != nil {
		return nil, err
	}
	p.Track(rec.ID)
	return rec, nil
}

// Track starts background receipt polling for a submitted record.
// Tracking an already tracked record is a no-op.
func (p *Pipeline) Track(id string) {
	p.trackMu.Lock()
	defer p.trackMu.Unlock()
	if _, ok := p.trackers[id]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.trackers[id] = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.untrack(id)
		p.Await(ctx, id)
	}()
}

// Resume restarts tracking for every record on a chain still awaiting a
// receipt. Called once per chain after startup.
func (p *Pipeline) Resume(chainID uint64) error {
	open, err := p.store.Open(chainID)
	if err != nil {
		return fmt.Errorf("resume tracking: %w", err)
	}
	for _, rec := range open {
		p.Track(rec.ID)
	}
	return nil
}

// StopTracking cancels the background trackers for every record sent by
// one of the given addresses. The records stay submitted; Resume picks
// them up again. Used when a wallet's session is invalidated.
func (p *Pipeline) StopTracking(addrs ...common.Address) {
	set := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}

	p.trackMu.Lock()
	ids := make([]string, 0, len(p.trackers))
	for id := range p.trackers {
		ids = append(ids, id)
	}
	p.trackMu.Unlock()

	for _, id := range ids {
		rec, err := p.store.ByID(id)
		if err != nil {
			continue
		}
		if _, ok := set[rec.From]; ok {
			p.untrack(id)
		}
	}
}

// Tracking returns how many records currently have a background tracker.
func (p *Pipeline) Tracking() int {
	p.trackMu.Lock()
	defer p.trackMu.Unlock()
	return len(p.trackers)
}

// Close cancels all background trackers and waits for them to exit.
// Untracked records are picked up again by Resume on the next start.
func (p *Pipeline) Close() {
	p.trackMu.Lock()
	for id, cancel := range p.trackers {
		cancel()
		delete(p.trackers, id)
	}
	p.trackMu.Unlock()
	p.wg.Wait()
}

func (p *Pipeline) untrack(id string) {
	p.trackMu.Lock()
	defer p.trackMu.Unlock()
	if cancel, ok := p.trackers[id]; ok {
		cancel()
		delete(p.trackers, id)
	}
}

// senderLock returns the mutex serializing one sender's builds on one
// chain.
func (p *Pipeline) senderLock(chainID uint64, from common.Address) *sync.Mutex {
	key := fmt.Sprintf("%d/%s", chainID, from.Hex())
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	mu, ok := p.senders[key]
	if !ok {
		mu = &sync.Mutex{}
		p.senders[key] = mu
	}
	return mu
}
