package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/emberwallet/ember/internal/log"
)

// Await polls for the receipt of a submitted record until it resolves,
// the attempt budget runs out, or the context is canceled. A record
// whose budget runs out stays submitted; Resume picks it up again later.
// The returned record reflects the final observed state.
func (p *Pipeline) Await(ctx context.Context, id string) (*Record, error) {
	rec, err := p.store.ByID(id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.open() {
		return rec, nil
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		_, client, err := p.registry.ActiveEndpoint(ctx, rec.ChainID)
		if err == nil {
			receipt, rerr := client.TransactionReceipt(ctx, rec.Hash)
			if rerr == nil && receipt != nil {
				return p.resolve(rec, receipt)
			}
			if rerr != nil && !errors.Is(rerr, ethereum.NotFound) {
				log.Pipeline.Debug().Str("hash", rec.Hash.Hex()).Err(rerr).Msg("receipt poll failed")
			}
		}

		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}

	log.Pipeline.Warn().
		Str("hash", rec.Hash.Hex()).
		Int("attempts", p.maxAttempts).
		Msg("receipt not found within poll budget")
	return rec, nil
}

// resolve applies a receipt to a record and retires any competing
// transactions at the same nonce: once one lands, the others can never
// be mined.
func (p *Pipeline) resolve(rec *Record, receipt *types.Receipt) (*Record, error) {
	now := time.Now().UTC()
	rec.BlockNumber = receipt.BlockNumber.Uint64()
	rec.GasUsed = receipt.GasUsed
	rec.ResolvedAt = &now
	if receipt.Status == types.ReceiptStatusSuccessful {
		rec.Status = StatusConfirmed
	} else {
		rec.Status = StatusFailed
	}
	if err := p.store.Put(rec); err != nil {
		return nil, err
	}

	siblings, err := p.store.OpenByNonce(rec.ChainID, rec.From, rec.Nonce)
	if err != nil {
		return nil, err
	}
	for _, sib := range siblings {
		if sib.ID == rec.ID {
			continue
		}
		sib.Status = StatusReplaced
		sib.ReplacedBy = rec.ID
		sib.ResolvedAt = &now
		if err := p.store.Put(sib); err != nil {
			return nil, err
		}
		log.Pipeline.Info().
			Str("hash", sib.Hash.Hex()).
			Str("replaced_by", rec.Hash.Hex()).
			Msg("transaction replaced")
	}

	log.Pipeline.Info().
		Uint64("chain_id", rec.ChainID).
		Str("hash", rec.Hash.Hex()).
		Uint64("block", rec.BlockNumber).
		Str("status", string(rec.Status)).
		Msg("transaction resolved")
	return rec, nil
}
