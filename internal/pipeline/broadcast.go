package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/emberwallet/ember/internal/log"
	"github.com/emberwallet/ember/internal/walleterr"
)

// Submit broadcasts a signed transaction through the chain's active
// endpoint, retrying once on the next endpoint in priority order before
// giving up. On success the record moves to submitted.
func (p *Pipeline) Submit(ctx context.Context, rec *Record, signed *types.Transaction) error {
	ep, client, err := p.registry.ActiveEndpoint(ctx, rec.ChainID)
	if err != nil {
		return err
	}

	sendErr := client.SendTransaction(ctx, signed)
	url := ep.URL
	if sendErr != nil && !isRejection(sendErr) {
		log.Pipeline.Warn().
			Str("endpoint", ep.URL).
			Err(sendErr).
			Msg("broadcast failed, retrying on next endpoint")

		next, nextClient, nerr := p.registry.NextEndpoint(ctx, rec.ChainID, ep.URL)
		if nerr != nil {
			return walleterr.Broadcast("all broadcast attempts failed", sendErr)
		}
		if sendErr = nextClient.SendTransaction(ctx, signed); sendErr == nil {
			url = next.URL
		}
	}
	if sendErr != nil {
		if strings.Contains(sendErr.Error(), "insufficient funds") {
			return walleterr.Wrap(walleterr.CodeInsufficientFunds, "broadcast rejected", sendErr)
		}
		return walleterr.Broadcast("broadcast rejected", sendErr)
	}

	now := time.Now().UTC()
	rec.Status = StatusSubmitted
	rec.SubmittedAt = &now
	rec.Endpoint = url
	if err := p.store.Put(rec); err != nil {
		return err
	}
	log.Pipeline.Info().
		Uint64("chain_id", rec.ChainID).
		Str("hash", rec.Hash.Hex()).
		Uint64("nonce", rec.Nonce).
		Str("endpoint", url).
		Msg("transaction submitted")
	return nil
}

// isRejection reports whether a send error is a validity verdict from
// the node rather than a transport failure. Verdicts are final; retrying
// them on another endpoint only repeats the rejection.
func isRejection(err error) bool {
	msg := err.Error()
	for _, s := range []string{
		"insufficient funds",
		"nonce too low",
		"replacement transaction underpriced",
		"already known",
		"exceeds block gas limit",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
