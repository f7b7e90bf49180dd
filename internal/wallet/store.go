package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emberwallet/ember/internal/storage"
	"github.com/emberwallet/ember/internal/vault"
	"github.com/emberwallet/ember/internal/walleterr"
)

// Store key layout:
//
//	w/<id>/meta  -> Wallet JSON (no secrets)
//	w/<id>/vault -> EncryptedVault JSON (the only persisted seed form)
//	w/<id>/auth  -> encoded password hash
var (
	prefixWallet = []byte("w/")
	suffixMeta   = "/meta"
	suffixVault  = "/vault"
	suffixAuth   = "/auth"
)

// ErrWalletNotFound is returned when the wallet id is unknown.
var ErrWalletNotFound = errors.New("wallet not found")

// ErrWalletExists is returned when creating a wallet whose name collides.
var ErrWalletExists = errors.New("wallet already exists")

// Store persists the wallet index, encrypted vault blobs and password
// hashes in a storage.DB.
type Store struct {
	db storage.DB
}

// NewStore creates a wallet store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

func metaKey(id string) []byte  { return append(append([]byte{}, prefixWallet...), []byte(id+suffixMeta)...) }
func vaultKey(id string) []byte { return append(append([]byte{}, prefixWallet...), []byte(id+suffixVault)...) }
func authKey(id string) []byte  { return append(append([]byte{}, prefixWallet...), []byte(id+suffixAuth)...) }

// Create persists a new wallet: metadata, encrypted vault and password
// hash. Fails if another wallet already uses the same name.
func (s *Store) Create(w *Wallet, ev *vault.EncryptedVault, passwordHash string) error {
	summaries, err := s.List()
	if err != nil {
		return err
	}
	for _, sum := range summaries {
		if sum.Name == w.Name {
			return fmt.Errorf("%w: %q", ErrWalletExists, w.Name)
		}
	}

	if err := s.putJSON(metaKey(w.ID), w); err != nil {
		return fmt.Errorf("write wallet meta: %w", err)
	}
	if err := s.putJSON(vaultKey(w.ID), ev); err != nil {
		return fmt.Errorf("write wallet vault: %w", err)
	}
	if err := s.db.Put(authKey(w.ID), []byte(passwordHash)); err != nil {
		return fmt.Errorf("write wallet auth: %w", err)
	}
	return nil
}

// Get loads wallet metadata by id.
func (s *Store) Get(id string) (*Wallet, error) {
	var w Wallet
	if err := s.getJSON(metaKey(id), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Save rewrites wallet metadata (accounts, timestamps, settings).
func (s *Store) Save(w *Wallet) error {
	if ok, err := s.db.Has(metaKey(w.ID)); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", ErrWalletNotFound, w.ID)
	}
	return s.putJSON(metaKey(w.ID), w)
}

// Touch updates the last-accessed timestamp.
func (s *Store) Touch(id string) error {
	w, err := s.Get(id)
	if err != nil {
		return err
	}
	w.LastAccessedAt = time.Now().UTC()
	return s.Save(w)
}

// Vault loads the encrypted vault blob for a wallet.
func (s *Store) Vault(id string) (*vault.EncryptedVault, error) {
	var ev vault.EncryptedVault
	if err := s.getJSON(vaultKey(id), &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ReplaceVault atomically swaps the vault blob and password hash. Used on
// password change; the caller has already re-encrypted the seed.
func (s *Store) ReplaceVault(id string, ev *vault.EncryptedVault, passwordHash string) error {
	if ok, err := s.db.Has(metaKey(id)); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", ErrWalletNotFound, id)
	}
	if err := s.putJSON(vaultKey(id), ev); err != nil {
		return fmt.Errorf("write wallet vault: %w", err)
	}
	return s.db.Put(authKey(id), []byte(passwordHash))
}

// PasswordHash loads the encoded password hash for a wallet.
func (s *Store) PasswordHash(id string) (string, error) {
	data, err := s.db.Get(authKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrWalletNotFound, id)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// List returns summaries of every stored wallet.
func (s *Store) List() ([]Summary, error) {
	var out []Summary
	err := s.db.ForEach(prefixWallet, func(key, value []byte) error {
		if len(key) < len(suffixMeta) || string(key[len(key)-len(suffixMeta):]) != suffixMeta {
			return nil
		}
		var w Wallet
		if err := json.Unmarshal(value, &w); err != nil {
			return walleterr.Integrity("corrupt wallet index entry", err)
		}
		out = append(out, w.Summary())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindByName resolves a wallet id from its display name.
func (s *Store) FindByName(name string) (*Wallet, error) {
	summaries, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, sum := range summaries {
		if sum.Name == name {
			return s.Get(sum.ID)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrWalletNotFound, name)
}

// Delete removes a wallet's metadata, vault and password hash.
func (s *Store) Delete(id string) error {
	if ok, err := s.db.Has(metaKey(id)); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", ErrWalletNotFound, id)
	}
	if err := s.db.Delete(metaKey(id)); err != nil {
		return err
	}
	if err := s.db.Delete(vaultKey(id)); err != nil {
		return err
	}
	return s.db.Delete(authKey(id))
}

func (s *Store) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.db.Put(key, data)
}

func (s *Store) getJSON(key []byte, v any) error {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrWalletNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return walleterr.Integrity("corrupt wallet record", err)
	}
	return nil
}
