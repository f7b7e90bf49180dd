package service

import (
	"context"

	"github.com/emberwallet/ember/internal/log"
	"github.com/emberwallet/ember/internal/network"
	"github.com/emberwallet/ember/internal/pipeline"
	"github.com/emberwallet/ember/internal/price"
)

// AddNetwork registers a chain with its endpoint URLs in priority order,
// persists the configuration and starts health monitoring.
func (s *Service) AddNetwork(chainID uint64, urls []string) error {
	if err := s.registry.AddChain(chainID, urls); err != nil {
		return err
	}
	eps, err := s.registry.Endpoints(chainID)
	if err != nil {
		return err
	}
	if err := s.netstore.SaveEndpoints(chainID, eps); err != nil {
		return err
	}
	s.monitor.Watch(chainID)
	return s.pipeline.Resume(chainID)
}

// AddEndpoint appends a user-supplied endpoint to a chain's pool with the
// lowest priority.
func (s *Service) AddEndpoint(chainID uint64, url string) error {
	if err := s.registry.AddEndpoint(chainID, url); err != nil {
		return err
	}
	eps, err := s.registry.Endpoints(chainID)
	if err != nil {
		return err
	}
	return s.netstore.SaveEndpoints(chainID, eps)
}

// RemoveNetwork stops monitoring a chain and drops its configuration.
// Historical transaction records for the chain are kept.
func (s *Service) RemoveNetwork(chainID uint64) error {
	s.monitor.Unwatch(chainID)
	s.registry.RemoveChain(chainID)
	return s.netstore.DeleteChain(chainID)
}

// SwitchNetwork changes the session wallet's default chain. Operations
// called without an explicit chain id run against this default. The chain
// must already be registered.
func (s *Service) SwitchNetwork(token string, chainID uint64) error {
	sess, err := s.guard.Validate(token)
	if err != nil {
		return err
	}
	if _, err := s.registry.Health(chainID); err != nil {
		return err
	}
	w, err := s.wallets.Get(sess.WalletID)
	if err != nil {
		return err
	}
	w.Network.DefaultChainID = chainID
	if err := s.wallets.Save(w); err != nil {
		return err
	}
	log.Wallet.Info().
		Str("wallet_id", w.ID).
		Uint64("chain_id", chainID).
		Msg("default network switched")
	return nil
}

// Networks lists registered chain ids.
func (s *Service) Networks() []uint64 {
	return s.registry.Chains()
}

// NetworkHealth returns the live health snapshot for a chain and persists
// it for the next start.
func (s *Service) NetworkHealth(chainID uint64) (network.Health, error) {
	h, err := s.registry.Health(chainID)
	if err != nil {
		return network.Health{}, err
	}
	if err := s.netstore.SaveHealth(h); err != nil {
		return network.Health{}, err
	}
	return h, nil
}

// GasEstimate returns tiered fee suggestions for a chain.
func (s *Service) GasEstimate(ctx context.Context, chainID uint64) (*network.FeeEstimate, error) {
	return s.registry.GasEstimate(ctx, chainID)
}

// Fees converts a chain's live estimate into a concrete fee model at the
// given tier.
func (s *Service) Fees(ctx context.Context, chainID uint64, tier pipeline.Tier) (pipeline.FeeModel, error) {
	est, err := s.registry.GasEstimate(ctx, chainID)
	if err != nil {
		return pipeline.FeeModel{}, err
	}
	return pipeline.FeeFromEstimate(est, tier)
}

// Quote returns a display-only fiat price for an asset.
func (s *Service) Quote(ctx context.Context, asset, currency string) (price.Quote, error) {
	return s.prices.Lookup(ctx, asset, currency)
}
