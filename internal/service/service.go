// Package service composes the wallet core: identity, vault, sessions,
// networks and the transaction pipeline behind one explicitly wired
// facade. Everything session-scoped (the decrypted seed above all) lives
// here and nowhere else.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/emberwallet/ember/internal/log"
	"github.com/emberwallet/ember/internal/network"
	"github.com/emberwallet/ember/internal/pipeline"
	"github.com/emberwallet/ember/internal/price"
	"github.com/emberwallet/ember/internal/session"
	"github.com/emberwallet/ember/internal/storage"
	"github.com/emberwallet/ember/internal/vault"
	"github.com/emberwallet/ember/internal/wallet"
	"github.com/emberwallet/ember/internal/walleterr"
)

// DiscoveryDepth is how many address indices an import scans for
// on-chain activity.
const DiscoveryDepth = 20

// sessionSweepInterval is the cadence of the proactive expired-session
// sweep; expiry is also checked lazily on every Validate.
const sessionSweepInterval = time.Minute

// Service is the wallet core facade. One instance serves the whole
// process.
type Service struct {
	wallets  *wallet.Store
	guard    *session.Guard
	registry *network.Registry
	monitor  *network.Monitor
	netstore *network.Store
	pipeline *pipeline.Pipeline
	prices   *price.Client

	defaultChain uint64

	sweepCancel context.CancelFunc
	wg          sync.WaitGroup

	// mu guards seeds: decrypted seed material per active session token.
	// Zeroed and dropped on lock, logout, sweep and shutdown.
	mu    sync.Mutex
	seeds map[string][]byte
}

// New wires a service over a database and an RPC dialer. Chains persisted
// by an earlier run are re-registered and their open transactions resume
// tracking.
func New(db storage.DB, dial network.Dialer, defaultChain uint64, factors ...session.Factor) (*Service, error) {
	wallets := wallet.NewStore(db)
	registry := network.NewRegistry(dial)

	s := &Service{
		wallets:      wallets,
		guard:        session.NewGuard(wallets, db, factors...),
		registry:     registry,
		monitor:      network.NewMonitor(registry, network.DefaultMonitorInterval),
		netstore:     network.NewStore(db),
		pipeline:     pipeline.New(registry, pipeline.NewStore(db)),
		prices:       price.NewClient(),
		defaultChain: defaultChain,
		seeds:        make(map[string][]byte),
	}
	if err := s.restoreNetworks(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	s.wg.Add(1)
	go s.runSessionSweeper(ctx)

	return s, nil
}

// runSessionSweeper proactively removes expired sessions so stale refresh
// tokens and their cached seeds cannot linger between Validate calls.
func (s *Service) runSessionSweeper(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepSessions()
		}
	}
}

// sweepSessions is one pass of the periodic sweep: expired sessions are
// deleted and any seed whose session is gone gets zeroed.
func (s *Service) sweepSessions() {
	if _, err := s.guard.Sweep(); err != nil {
		log.Session.Warn().Err(err).Msg("session sweep failed")
		return
	}

	s.mu.Lock()
	for token, seed := range s.seeds {
		if s.guard.Peek(token) {
			continue
		}
		wallet.ZeroSeed(seed)
		delete(s.seeds, token)
	}
	s.mu.Unlock()
}

// restoreNetworks re-registers every persisted chain and resumes
// tracking its open transactions.
func (s *Service) restoreNetworks() error {
	ids, err := s.netstore.Chains()
	if err != nil {
		return fmt.Errorf("restore networks: %w", err)
	}
	for _, id := range ids {
		eps, err := s.netstore.Endpoints(id)
		if err != nil {
			return fmt.Errorf("restore chain %d: %w", id, err)
		}
		urls := make([]string, len(eps))
		for i, ep := range eps {
			urls[i] = ep.URL
		}
		if err := s.registry.AddChain(id, urls); err != nil {
			return fmt.Errorf("restore chain %d: %w", id, err)
		}
		if h, err := s.netstore.LastHealth(id); err == nil && h.ChainID == id {
			s.registry.RestoreHealth(h)
		}
		s.monitor.Watch(id)
		if err := s.pipeline.Resume(id); err != nil {
			return err
		}
	}
	return nil
}

// Close locks every session, stops background work and zeroes all seed
// material.
func (s *Service) Close() {
	if s.sweepCancel != nil {
		s.sweepCancel()
	}
	s.wg.Wait()

	s.pipeline.Close()
	s.monitor.Stop()
	s.registry.Close()

	s.mu.Lock()
	for token, seed := range s.seeds {
		wallet.ZeroSeed(seed)
		delete(s.seeds, token)
	}
	s.mu.Unlock()
}

// CreateWallet generates a new HD wallet protected by the password. The
// mnemonic is returned exactly once, for the user to back up; only its
// encrypted seed is persisted.
func (s *Service) CreateWallet(name, password string, entropyBits int) (*wallet.Wallet, string, error) {
	if name == "" {
		return nil, "", walleterr.Validation("wallet name required")
	}
	if err := vault.ValidatePasswordPolicy(password); err != nil {
		return nil, "", err
	}

	mnemonic, err := wallet.GenerateMnemonic(entropyBits)
	if err != nil {
		return nil, "", err
	}

	w, err := s.storeWallet(name, wallet.TypeHD, mnemonic, password, nil)
	if err != nil {
		return nil, "", err
	}
	return w, mnemonic, nil
}

// ImportWallet restores a wallet from an existing mnemonic, discovering
// accounts with on-chain history on the default chain.
func (s *Service) ImportWallet(ctx context.Context, name, mnemonic, password string) (*wallet.Wallet, error) {
	if name == "" {
		return nil, walleterr.Validation("wallet name required")
	}
	if !wallet.ValidateMnemonic(mnemonic) {
		return nil, walleterr.Validation("invalid mnemonic")
	}
	if err := vault.ValidatePasswordPolicy(password); err != nil {
		return nil, err
	}

	discover := func(seed []byte) ([]*wallet.Account, error) {
		return wallet.DiscoverAccounts(ctx, seed, DiscoveryDepth, 1, &chainActivity{
			registry: s.registry,
			chainID:  s.defaultChain,
		})
	}
	return s.storeWallet(name, wallet.TypeImported, mnemonic, password, discover)
}

// storeWallet derives the seed, builds account metadata, encrypts the
// seed and persists the whole wallet. The discover hook supplies the
// initial account set; nil means just account 0.
func (s *Service) storeWallet(name string, typ wallet.Type, mnemonic, password string, discover func(seed []byte) ([]*wallet.Account, error)) (*wallet.Wallet, error) {
	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, err
	}
	defer wallet.ZeroSeed(seed)

	var accounts []*wallet.Account
	if discover != nil {
		accounts, err = discover(seed)
	} else {
		var acct *wallet.Account
		if acct, err = wallet.DeriveAccount(seed, 0); err == nil {
			accounts = []*wallet.Account{acct}
		}
	}
	if err != nil {
		return nil, err
	}

	ev, err := vault.Encrypt(seed, []byte(password), vault.DefaultParams())
	if err != nil {
		return nil, err
	}
	hash, err := vault.HashPassword([]byte(password))
	if err != nil {
		return nil, err
	}

	w := wallet.New(name, typ, s.defaultChain)
	w.Accounts = accounts
	if err := s.wallets.Create(w, ev, hash); err != nil {
		return nil, err
	}

	log.Wallet.Info().
		Str("wallet_id", w.ID).
		Str("type", string(typ)).
		Int("accounts", len(accounts)).
		Msg("wallet stored")
	return w, nil
}

// Unlock authenticates a wallet and decrypts its seed for the lifetime
// of the issued session.
func (s *Service) Unlock(ctx context.Context, walletID, password, deviceID string) (*session.Session, error) {
	sess, err := s.guard.Authenticate(ctx, walletID, []byte(password), deviceID)
	if err != nil {
		return nil, err
	}

	ev, err := s.wallets.Vault(walletID)
	if err != nil {
		return nil, err
	}
	seed, err := vault.Decrypt(ev, []byte(password))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.seeds[sess.Token] = seed
	s.mu.Unlock()

	_ = s.wallets.Touch(walletID)
	return sess, nil
}

// Lock ends the current session, zeroes its seed and stops the
// confirmation trackers of the wallet's transactions. Untracked records
// stay submitted and resume tracking on the next start. Idempotent.
func (s *Service) Lock() error {
	current := s.guard.Current()
	if current != nil {
		s.dropSeed(current.Token)
		s.stopWalletTracking(current.WalletID)
	}
	return s.guard.Logout()
}

// stopWalletTracking cancels confirmation tracking for every account of a
// wallet.
func (s *Service) stopWalletTracking(walletID string) {
	w, err := s.wallets.Get(walletID)
	if err != nil {
		return
	}
	addrs := make([]common.Address, len(w.Accounts))
	for i, a := range w.Accounts {
		addrs[i] = a.Address
	}
	s.pipeline.StopTracking(addrs...)
}

// Sessions returns the session guard for validation and refresh flows.
func (s *Service) Sessions() *session.Guard {
	return s.guard
}

// Wallets lists stored wallet summaries.
func (s *Service) Wallets() ([]wallet.Summary, error) {
	return s.wallets.List()
}

// WalletByName resolves a wallet from its display name.
func (s *Service) WalletByName(name string) (*wallet.Wallet, error) {
	return s.wallets.FindByName(name)
}

// ChangePassword re-encrypts the seed vault under a new password and
// invalidates every session issued for the wallet.
func (s *Service) ChangePassword(walletID, oldPassword, newPassword string) error {
	if err := vault.ValidatePasswordPolicy(newPassword); err != nil {
		return err
	}

	hash, err := s.wallets.PasswordHash(walletID)
	if err != nil {
		return err
	}
	if !vault.VerifyPassword([]byte(oldPassword), hash) {
		return walleterr.Authentication("invalid password")
	}

	ev, err := s.wallets.Vault(walletID)
	if err != nil {
		return err
	}
	seed, err := vault.Decrypt(ev, []byte(oldPassword))
	if err != nil {
		return err
	}
	defer wallet.ZeroSeed(seed)

	newVault, err := vault.Encrypt(seed, []byte(newPassword), vault.DefaultParams())
	if err != nil {
		return err
	}
	newHash, err := vault.HashPassword([]byte(newPassword))
	if err != nil {
		return err
	}
	if err := s.wallets.ReplaceVault(walletID, newVault, newHash); err != nil {
		return err
	}
	s.dropWalletSeeds(walletID)
	s.stopWalletTracking(walletID)
	if err := s.guard.InvalidateWallet(walletID); err != nil {
		return err
	}
	log.Wallet.Info().Str("wallet_id", walletID).Msg("password changed")
	return nil
}

// DeleteWallet removes a wallet after confirming its password. The seed
// is unrecoverable afterwards unless the user kept the mnemonic.
func (s *Service) DeleteWallet(walletID, password string) error {
	hash, err := s.wallets.PasswordHash(walletID)
	if err != nil {
		return err
	}
	if !vault.VerifyPassword([]byte(password), hash) {
		return walleterr.Authentication("invalid password")
	}
	s.dropWalletSeeds(walletID)
	s.stopWalletTracking(walletID)
	if err := s.guard.InvalidateWallet(walletID); err != nil {
		return err
	}
	if err := s.wallets.Delete(walletID); err != nil {
		return err
	}
	log.Wallet.Info().Str("wallet_id", walletID).Msg("wallet deleted")
	return nil
}

// seedFor resolves the decrypted seed for a session token, validating
// the session on the way. The returned slice is shared: callers must not
// retain or zero it.
func (s *Service) seedFor(token string) (*session.Session, []byte, error) {
	sess, err := s.guard.Validate(token)
	if err != nil {
		s.dropSeed(token)
		return nil, nil, err
	}
	s.mu.Lock()
	seed, ok := s.seeds[token]
	s.mu.Unlock()
	if !ok {
		return nil, nil, walleterr.SessionExpired("session holds no unlocked seed")
	}
	return sess, seed, nil
}

func (s *Service) dropSeed(token string) {
	s.mu.Lock()
	if seed, ok := s.seeds[token]; ok {
		wallet.ZeroSeed(seed)
		delete(s.seeds, token)
	}
	s.mu.Unlock()
}

// dropWalletSeeds zeroes the seeds of every session issued for a wallet.
func (s *Service) dropWalletSeeds(walletID string) {
	current := s.guard.Current()
	if current != nil && current.WalletID == walletID {
		s.dropSeed(current.Token)
	}
}

// chainActivity adapts the network registry to the account-discovery
// interface for one chain.
type chainActivity struct {
	registry *network.Registry
	chainID  uint64
}

func (c *chainActivity) HasActivity(ctx context.Context, addr common.Address) (bool, error) {
	return c.registry.HasActivity(ctx, c.chainID, addr)
}
