package pipeline

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/emberwallet/ember/internal/storage"
)

// Storage layout:
//
//	t/<id>                               -> JSON record
//	ts/<chainID BE><from><nonce BE><id>  -> id  (history scans)
//	th/<hash>                            -> id  (receipt lookups)
var (
	recordPrefix = []byte("t/")
	scanPrefix   = []byte("ts/")
	hashPrefix   = []byte("th/")
)

// ErrRecordNotFound is returned when no record matches a lookup.
var ErrRecordNotFound = errors.New("pipeline: record not found")

// Store persists transaction records with secondary indexes by
// (chain, sender, nonce) and by transaction hash.
type Store struct {
	db storage.DB
}

// NewStore creates a transaction store over a database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// Put writes a record and its indexes. Safe to call repeatedly as the
// record advances through its lifecycle.
func (s *Store) Put(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := s.db.Put(recordKey(rec.ID), data); err != nil {
		return err
	}
	if err := s.db.Put(scanKey(rec.ChainID, rec.From, rec.Nonce, rec.ID), []byte(rec.ID)); err != nil {
		return err
	}
	if rec.Hash != (common.Hash{}) {
		if err := s.db.Put(hashKey(rec.Hash), []byte(rec.ID)); err != nil {
			return err
		}
	}
	return nil
}

// ByID loads one record.
func (s *Store) ByID(id string) (*Record, error) {
	data, err := s.db.Get(recordKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

// ByHash loads the record for a transaction hash.
func (s *Store) ByHash(hash common.Hash) (*Record, error) {
	id, err := s.db.Get(hashKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve hash: %w", err)
	}
	return s.ByID(string(id))
}

// History returns a sender's records on one chain, newest nonce first.
func (s *Store) History(chainID uint64, from common.Address) ([]*Record, error) {
	recs, err := s.scan(senderPrefix(chainID, from))
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Nonce != recs[j].Nonce {
			return recs[i].Nonce > recs[j].Nonce
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	return recs, nil
}

// OpenByNonce returns records at a given nonce that could still land on
// chain. Used by the tracker to mark replaced transactions.
func (s *Store) OpenByNonce(chainID uint64, from common.Address, nonce uint64) ([]*Record, error) {
	recs, err := s.scan(noncePrefix(chainID, from, nonce))
	if err != nil {
		return nil, err
	}
	open := recs[:0]
	for _, r := range recs {
		if r.Status.open() {
			open = append(open, r)
		}
	}
	return open, nil
}

// NextLocalNonce returns one past the highest nonce among a sender's open
// records, and whether any open record exists. Keeps rapid sequential
// sends from colliding before the node's pending pool catches up.
func (s *Store) NextLocalNonce(chainID uint64, from common.Address) (uint64, bool, error) {
	recs, err := s.scan(senderPrefix(chainID, from))
	if err != nil {
		return 0, false, err
	}
	var max uint64
	found := false
	for _, r := range recs {
		if !r.Status.open() {
			continue
		}
		if !found || r.Nonce > max {
			max = r.Nonce
		}
		found = true
	}
	if !found {
		return 0, false, nil
	}
	return max + 1, true, nil
}

// Open returns every record on a chain still awaiting a receipt, oldest
// first. Used to resume tracking after a restart.
func (s *Store) Open(chainID uint64) ([]*Record, error) {
	var chainPfx bytes.Buffer
	chainPfx.Write(scanPrefix)
	binary.Write(&chainPfx, binary.BigEndian, chainID)

	recs, err := s.scan(chainPfx.Bytes())
	if err != nil {
		return nil, err
	}
	open := recs[:0]
	for _, r := range recs {
		if r.Status == StatusSubmitted {
			open = append(open, r)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open, nil
}

func (s *Store) scan(prefix []byte) ([]*Record, error) {
	var ids []string
	err := s.db.ForEach(prefix, func(_, value []byte) error {
		ids = append(ids, string(value))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	recs := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.ByID(id)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func recordKey(id string) []byte {
	return append(append([]byte{}, recordPrefix...), id...)
}

func hashKey(hash common.Hash) []byte {
	return append(append([]byte{}, hashPrefix...), hash.Bytes()...)
}

func senderPrefix(chainID uint64, from common.Address) []byte {
	var b bytes.Buffer
	b.Write(scanPrefix)
	binary.Write(&b, binary.BigEndian, chainID)
	b.Write(from.Bytes())
	return b.Bytes()
}

func noncePrefix(chainID uint64, from common.Address, nonce uint64) []byte {
	b := bytes.NewBuffer(senderPrefix(chainID, from))
	binary.Write(b, binary.BigEndian, nonce)
	return b.Bytes()
}

func scanKey(chainID uint64, from common.Address, nonce uint64, id string) []byte {
	b := bytes.NewBuffer(noncePrefix(chainID, from, nonce))
	b.WriteString(id)
	return b.Bytes()
}
