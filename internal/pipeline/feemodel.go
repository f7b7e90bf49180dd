// Package pipeline builds, signs, broadcasts and tracks transactions.
// Construction serializes per sender and chain so concurrent sends never
// reuse a nonce.
package pipeline

import (
	"math/big"

	"github.com/emberwallet/ember/internal/network"
	"github.com/emberwallet/ember/internal/walleterr"
)

// FeeKind tags the pricing shape of a transaction.
type FeeKind string

const (
	// FeeLegacy is single-price gas (pre fee-market chains).
	FeeLegacy FeeKind = "legacy"
	// FeeDynamic is fee-market pricing with a cap and a tip.
	FeeDynamic FeeKind = "dynamic"
)

// Tier selects a speed level from a fee estimate.
type Tier string

const (
	TierSlow     Tier = "slow"
	TierStandard Tier = "standard"
	TierFast     Tier = "fast"
	TierInstant  Tier = "instant"
)

// FeeModel is the priced fee of one transaction. Exactly the fields for
// its kind are set: GasPrice for legacy, MaxFee+PriorityFee for dynamic.
type FeeModel struct {
	Kind        FeeKind  `json:"kind"`
	GasPrice    *big.Int `json:"gas_price,omitempty"`
	MaxFee      *big.Int `json:"max_fee,omitempty"`
	PriorityFee *big.Int `json:"priority_fee,omitempty"`
}

// LegacyFee builds a legacy fee model.
func LegacyFee(gasPrice *big.Int) FeeModel {
	return FeeModel{Kind: FeeLegacy, GasPrice: gasPrice}
}

// DynamicFee builds a fee-market fee model.
func DynamicFee(maxFee, priorityFee *big.Int) FeeModel {
	return FeeModel{Kind: FeeDynamic, MaxFee: maxFee, PriorityFee: priorityFee}
}

// Validate checks the model carries the fields its kind requires.
func (f FeeModel) Validate() error {
	switch f.Kind {
	case FeeLegacy:
		if f.GasPrice == nil || f.GasPrice.Sign() <= 0 {
			return walleterr.Validation("legacy fee needs a positive gas price")
		}
		if f.MaxFee != nil || f.PriorityFee != nil {
			return walleterr.Validation("legacy fee must not carry fee-market fields")
		}
	case FeeDynamic:
		if f.MaxFee == nil || f.MaxFee.Sign() <= 0 {
			return walleterr.Validation("dynamic fee needs a positive max fee")
		}
		if f.PriorityFee == nil || f.PriorityFee.Sign() < 0 {
			return walleterr.Validation("dynamic fee needs a priority fee")
		}
		if f.PriorityFee.Cmp(f.MaxFee) > 0 {
			return walleterr.Validation("priority fee exceeds max fee")
		}
		if f.GasPrice != nil {
			return walleterr.Validation("dynamic fee must not carry a gas price")
		}
	default:
		return walleterr.Validation("unknown fee kind")
	}
	return nil
}

// Cap returns the worst-case price per gas unit.
func (f FeeModel) Cap() *big.Int {
	if f.Kind == FeeLegacy {
		return f.GasPrice
	}
	return f.MaxFee
}

// Exceeds reports whether this model outbids other on every priced field,
// the condition for a valid same-nonce replacement.
func (f FeeModel) Exceeds(other FeeModel) bool {
	if f.Kind != other.Kind {
		return f.Cap().Cmp(other.Cap()) > 0
	}
	if f.Kind == FeeLegacy {
		return f.GasPrice.Cmp(other.GasPrice) > 0
	}
	return f.MaxFee.Cmp(other.MaxFee) > 0 && f.PriorityFee.Cmp(other.PriorityFee) > 0
}

// FeeFromEstimate prices a transaction from a network fee estimate at the
// given tier.
func FeeFromEstimate(est *network.FeeEstimate, tier Tier) (FeeModel, error) {
	var ft network.FeeTier
	switch tier {
	case TierSlow:
		ft = est.Slow
	case TierStandard, "":
		ft = est.Standard
	case TierFast:
		ft = est.Fast
	case TierInstant:
		ft = est.Instant
	default:
		return FeeModel{}, walleterr.Newf(walleterr.CodeValidation, "unknown fee tier %q", tier)
	}
	if est.DynamicFee {
		return DynamicFee(ft.MaxFee, ft.PriorityFee), nil
	}
	return LegacyFee(ft.GasPrice), nil
}
