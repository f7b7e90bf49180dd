package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emberwallet/ember/internal/storage"
)

// Storage layout:
//
//	n/<chainID> -> JSON endpoint list, priority order
//	h/<chainID> -> JSON health snapshot
var (
	endpointPrefix = []byte("n/")
	healthPrefix   = []byte("h/")
)

// Store persists per-chain endpoint configuration and the last known
// health snapshot, so a restarted wallet resumes with the same endpoint
// pools without re-probing from scratch.
type Store struct {
	db storage.DB
}

// NewStore creates a network store over a database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// SaveEndpoints writes a chain's endpoint table.
func (s *Store) SaveEndpoints(chainID uint64, endpoints []Endpoint) error {
	data, err := json.Marshal(endpoints)
	if err != nil {
		return fmt.Errorf("encode endpoints: %w", err)
	}
	return s.db.Put(chainKey(endpointPrefix, chainID), data)
}

// Endpoints loads a chain's endpoint table. A chain with no stored
// configuration returns (nil, nil).
func (s *Store) Endpoints(chainID uint64) ([]Endpoint, error) {
	data, err := s.db.Get(chainKey(endpointPrefix, chainID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load endpoints: %w", err)
	}
	var endpoints []Endpoint
	if err := json.Unmarshal(data, &endpoints); err != nil {
		return nil, fmt.Errorf("decode endpoints: %w", err)
	}
	return endpoints, nil
}

// SaveHealth writes a chain's health snapshot.
func (s *Store) SaveHealth(h Health) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode health: %w", err)
	}
	return s.db.Put(chainKey(healthPrefix, h.ChainID), data)
}

// LastHealth loads a chain's most recent stored health snapshot. A chain
// with no snapshot returns (Health{}, nil).
func (s *Store) LastHealth(chainID uint64) (Health, error) {
	data, err := s.db.Get(chainKey(healthPrefix, chainID))
	if errors.Is(err, storage.ErrNotFound) {
		return Health{}, nil
	}
	if err != nil {
		return Health{}, fmt.Errorf("load health: %w", err)
	}
	var h Health
	if err := json.Unmarshal(data, &h); err != nil {
		return Health{}, fmt.Errorf("decode health: %w", err)
	}
	return h, nil
}

// Chains lists every chain id with stored endpoint configuration.
func (s *Store) Chains() ([]uint64, error) {
	var ids []uint64
	err := s.db.ForEach(endpointPrefix, func(key, _ []byte) error {
		if len(key) == len(endpointPrefix)+8 {
			ids = append(ids, binary.BigEndian.Uint64(key[len(endpointPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan chains: %w", err)
	}
	return ids, nil
}

// DeleteChain removes a chain's stored endpoints and health.
func (s *Store) DeleteChain(chainID uint64) error {
	if err := s.db.Delete(chainKey(endpointPrefix, chainID)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err := s.db.Delete(chainKey(healthPrefix, chainID)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// chainKey builds a prefixed big-endian key so ForEach scans see chain
// ids in numeric order.
func chainKey(prefix []byte, chainID uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], chainID)
	return key
}
