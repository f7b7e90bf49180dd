package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/emberwallet/ember/internal/log"
)

// ActivityChecker reports whether an address has on-chain history (nonzero
// balance or past transactions). Implemented by the network layer.
type ActivityChecker interface {
	HasActivity(ctx context.Context, addr common.Address) (bool, error)
}

// DiscoverAccounts derives indices 0..maxIndex-1 and keeps those with
// on-chain activity. Index 0 is always kept so a fresh wallet has one
// usable account. The first minCount indices are kept regardless of
// activity, letting callers opt out of the activity heuristic entirely.
func DiscoverAccounts(ctx context.Context, seed []byte, maxIndex, minCount uint32, src ActivityChecker) ([]*Account, error) {
	if minCount > maxIndex {
		minCount = maxIndex
	}

	var accounts []*Account
	for index := uint32(0); index < maxIndex; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		acct, err := DeriveAccount(seed, index)
		if err != nil {
			return nil, fmt.Errorf("derive index %d: %w", index, err)
		}

		if index == 0 || index < minCount {
			accounts = append(accounts, acct)
			continue
		}

		active, err := src.HasActivity(ctx, acct.Address)
		if err != nil {
			// Discovery is best-effort: an oracle failure stops the
			// scan with whatever was found so far.
			log.Wallet.Warn().
				Uint32("index", index).
				Err(err).
				Msg("activity check failed, stopping discovery")
			break
		}
		if active {
			accounts = append(accounts, acct)
		}
	}
	return accounts, nil
}
