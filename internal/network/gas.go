package network

import (
	"context"
	"math/big"
	"time"

	"github.com/emberwallet/ember/internal/log"
	"github.com/emberwallet/ember/internal/walleterr"
)

// FeeTier is one speed level of a fee suggestion. Exactly one fee shape is
// populated: GasPrice for legacy chains, MaxFee+PriorityFee for fee-market
// chains.
type FeeTier struct {
	GasPrice    *big.Int `json:"gas_price,omitempty"`
	MaxFee      *big.Int `json:"max_fee,omitempty"`
	PriorityFee *big.Int `json:"priority_fee,omitempty"`
}

// FeeEstimate is a tiered fee suggestion for one chain.
type FeeEstimate struct {
	ChainID    uint64    `json:"chain_id"`
	DynamicFee bool      `json:"dynamic_fee"`
	Slow       FeeTier   `json:"slow"`
	Standard   FeeTier   `json:"standard"`
	Fast       FeeTier   `json:"fast"`
	Instant    FeeTier   `json:"instant"`
	Fallback   bool      `json:"fallback"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Tier multipliers, in percent of the suggested price.
var tierPct = map[string]int64{
	"slow":     80,
	"standard": 100,
	"fast":     125,
	"instant":  150,
}

// Conservative fallback when the fee oracle is unreachable. High enough to
// land on busy mainnet, harmless on quiet chains.
var (
	fallbackGasPrice = big.NewInt(50_000_000_000) // 50 gwei
	fallbackTip      = big.NewInt(2_000_000_000)  // 2 gwei
)

// GasEstimate returns tiered fee suggestions for a chain. When the
// upstream fee oracle is unreachable it degrades to a hardcoded
// conservative estimate instead of surfacing an error: transaction
// construction must never block on a dead oracle. Only an unknown chain
// id is an error.
func (r *Registry) GasEstimate(ctx context.Context, chainID uint64) (*FeeEstimate, error) {
	r.mu.RLock()
	_, known := r.chains[chainID]
	r.mu.RUnlock()
	if !known {
		return nil, walleterr.Newf(walleterr.CodeValidation, "unknown chain %d", chainID)
	}

	est := r.fetchGasEstimate(ctx, chainID)

	r.mu.Lock()
	if cs, ok := r.chains[chainID]; ok {
		cs.health.LastGas = est
	}
	r.mu.Unlock()

	return est, nil
}

func (r *Registry) fetchGasEstimate(ctx context.Context, chainID uint64) *FeeEstimate {
	_, client, err := r.ActiveEndpoint(ctx, chainID)
	if err != nil {
		log.Network.Warn().Uint64("chain_id", chainID).Err(err).Msg("fee oracle unreachable, using fallback")
		return fallbackEstimate(chainID)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		log.Network.Warn().Uint64("chain_id", chainID).Err(err).Msg("gas price query failed, using fallback")
		return fallbackEstimate(chainID)
	}

	// A chain that answers eth_maxPriorityFeePerGas supports the fee
	// market; otherwise fall back to legacy pricing.
	tip, tipErr := client.SuggestGasTipCap(ctx)

	est := &FeeEstimate{
		ChainID:    chainID,
		DynamicFee: tipErr == nil,
		FetchedAt:  time.Now().UTC(),
	}

	for name, tier := range map[string]*FeeTier{
		"slow": &est.Slow, "standard": &est.Standard, "fast": &est.Fast, "instant": &est.Instant,
	} {
		pct := tierPct[name]
		if est.DynamicFee {
			tier.MaxFee = scale(gasPrice, pct)
			tier.PriorityFee = scale(tip, pct)
			if tier.PriorityFee.Cmp(tier.MaxFee) > 0 {
				tier.PriorityFee = new(big.Int).Set(tier.MaxFee)
			}
		} else {
			tier.GasPrice = scale(gasPrice, pct)
		}
	}
	return est
}

func fallbackEstimate(chainID uint64) *FeeEstimate {
	est := &FeeEstimate{
		ChainID:    chainID,
		DynamicFee: true,
		Fallback:   true,
		FetchedAt:  time.Now().UTC(),
	}
	for name, tier := range map[string]*FeeTier{
		"slow": &est.Slow, "standard": &est.Standard, "fast": &est.Fast, "instant": &est.Instant,
	} {
		pct := tierPct[name]
		tier.MaxFee = scale(fallbackGasPrice, pct)
		tier.PriorityFee = scale(fallbackTip, pct)
	}
	return est
}

// scale returns v * pct / 100.
func scale(v *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(pct))
	return out.Div(out, big.NewInt(100))
}
