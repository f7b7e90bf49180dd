package pipeline

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/emberwallet/ember/internal/log"
	"github.com/emberwallet/ember/internal/network"
	"github.com/emberwallet/ember/internal/walleterr"
)

// Gas defaults when estimation is unavailable: a plain transfer costs
// exactly transferGas, anything carrying data gets a generous flat limit.
const (
	transferGas     = 21_000
	fallbackCallGas = 250_000
	gasHeadroomPct  = 120
)

// Request describes a transfer to build. Either Tier or Fee prices it;
// an explicit Fee wins.
type Request struct {
	ChainID uint64
	From    common.Address
	To      common.Address
	Value   *big.Int
	Data    []byte
	// Tier selects a speed level from the live fee estimate. Defaults to
	// standard.
	Tier Tier
	// Fee overrides tier-based pricing when set.
	Fee *FeeModel
	// GasLimit overrides gas estimation when nonzero.
	GasLimit uint64
}

func (req *Request) validate() error {
	if req.From == (common.Address{}) {
		return walleterr.Validation("sender address required")
	}
	if req.To == (common.Address{}) {
		return walleterr.Validation("recipient address required")
	}
	if req.Value == nil || req.Value.Sign() < 0 {
		return walleterr.Validation("value must be zero or positive")
	}
	if req.Fee != nil {
		return req.Fee.Validate()
	}
	return nil
}

// Build constructs a priced, nonce-assigned record for a request. Builds
// for the same sender and chain are serialized: the nonce is the higher
// of the node's pending nonce and the local open-record watermark, so
// back-to-back sends never collide even before the node sees the first
// one.
func (p *Pipeline) Build(ctx context.Context, req Request) (*Record, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	mu := p.senderLock(req.ChainID, req.From)
	mu.Lock()
	defer mu.Unlock()

	_, client, err := p.registry.ActiveEndpoint(ctx, req.ChainID)
	if err != nil {
		return nil, err
	}

	rec := newRecord(req.ChainID, req.From, req.To, req.Value, req.Data)

	pending, err := client.PendingNonceAt(ctx, req.From)
	if err != nil {
		return nil, walleterr.Network("pending nonce lookup", err)
	}
	rec.Nonce = pending
	if local, ok, err := p.store.NextLocalNonce(req.ChainID, req.From); err != nil {
		return nil, err
	} else if ok && local > rec.Nonce {
		rec.Nonce = local
	}

	rec.GasLimit = req.GasLimit
	if rec.GasLimit == 0 {
		rec.GasLimit = p.estimateGasLimit(ctx, client, req)
	}

	if req.Fee != nil {
		rec.Fee = *req.Fee
	} else {
		est, err := p.registry.GasEstimate(ctx, req.ChainID)
		if err != nil {
			return nil, err
		}
		rec.Fee, err = FeeFromEstimate(est, req.Tier)
		if err != nil {
			return nil, err
		}
	}

	balance, err := client.BalanceAt(ctx, req.From, nil)
	if err != nil {
		return nil, walleterr.Network("balance lookup", err)
	}
	if balance.Cmp(rec.MaxCost()) < 0 {
		return nil, walleterr.Newf(walleterr.CodeInsufficientFunds,
			"balance %s below worst-case cost %s", balance, rec.MaxCost())
	}

	if err := p.store.Put(rec); err != nil {
		return nil, err
	}
	log.Pipeline.Debug().
		Uint64("chain_id", rec.ChainID).
		Str("from", rec.From.Hex()).
		Uint64("nonce", rec.Nonce).
		Uint64("gas_limit", rec.GasLimit).
		Msg("transaction built")
	return rec, nil
}

// Replace rebuilds an open transaction at the same nonce with a fee high
// enough to outbid it. Used for speed-ups; nodes reject same-nonce
// replacements that do not raise every priced field.
func (p *Pipeline) Replace(ctx context.Context, id string, fee FeeModel) (*Record, error) {
	old, err := p.store.ByID(id)
	if err != nil {
		return nil, err
	}
	if !old.Status.open() {
		return nil, walleterr.Newf(walleterr.CodeValidation, "transaction %s already %s", id, old.Status)
	}
	if err := fee.Validate(); err != nil {
		return nil, err
	}
	if !fee.Exceeds(old.Fee) {
		return nil, walleterr.Validation("replacement fee must outbid the original on every field")
	}

	mu := p.senderLock(old.ChainID, old.From)
	mu.Lock()
	defer mu.Unlock()

	rec := newRecord(old.ChainID, old.From, old.To, old.Value, old.Data)
	rec.Nonce = old.Nonce
	rec.GasLimit = old.GasLimit
	rec.Fee = fee
	if err := p.store.Put(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Cancel rebuilds an open transaction as a zero-value self-transfer at
// the same nonce, with the given (outbidding) fee. If it confirms first,
// the original is marked replaced.
func (p *Pipeline) Cancel(ctx context.Context, id string, fee FeeModel) (*Record, error) {
	old, err := p.store.ByID(id)
	if err != nil {
		return nil, err
	}
	if !old.Status.open() {
		return nil, walleterr.Newf(walleterr.CodeValidation, "transaction %s already %s", id, old.Status)
	}
	if err := fee.Validate(); err != nil {
		return nil, err
	}
	if !fee.Exceeds(old.Fee) {
		return nil, walleterr.Validation("cancel fee must outbid the original on every field")
	}

	mu := p.senderLock(old.ChainID, old.From)
	mu.Lock()
	defer mu.Unlock()

	rec := newRecord(old.ChainID, old.From, old.From, big.NewInt(0), nil)
	rec.Nonce = old.Nonce
	rec.GasLimit = transferGas
	rec.Fee = fee
	if err := p.store.Put(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// estimateGasLimit asks the node for a gas estimate and pads it. A failed
// estimate falls back to a flat limit rather than blocking the send.
func (p *Pipeline) estimateGasLimit(ctx context.Context, client network.Client, req Request) uint64 {
	est, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From:  req.From,
		To:    &req.To,
		Value: req.Value,
		Data:  req.Data,
	})
	if err != nil {
		log.Pipeline.Warn().Err(err).Msg("gas estimation failed, using flat limit")
		if len(req.Data) == 0 {
			return transferGas
		}
		return fallbackCallGas
	}
	return est * gasHeadroomPct / 100
}
