package pipeline

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/emberwallet/ember/internal/walleterr"
)

// Sign produces the signed transaction for a built record and stamps the
// record with its hash. The signature commits to the chain id, so a
// transaction signed for one chain is invalid on every other.
func (p *Pipeline) Sign(rec *Record, key *ecdsa.PrivateKey) (*types.Transaction, error) {
	if got := crypto.PubkeyToAddress(key.PublicKey); got != rec.From {
		return nil, walleterr.Newf(walleterr.CodeValidation,
			"signing key derives %s, transaction is from %s", got.Hex(), rec.From.Hex())
	}
	if err := rec.Fee.Validate(); err != nil {
		return nil, err
	}

	chainID := new(big.Int).SetUint64(rec.ChainID)
	to := rec.To

	var tx *types.Transaction
	switch rec.Fee.Kind {
	case FeeDynamic:
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     rec.Nonce,
			GasTipCap: rec.Fee.PriorityFee,
			GasFeeCap: rec.Fee.MaxFee,
			Gas:       rec.GasLimit,
			To:        &to,
			Value:     rec.Value,
			Data:      rec.Data,
		})
	default:
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    rec.Nonce,
			GasPrice: rec.Fee.GasPrice,
			Gas:      rec.GasLimit,
			To:       &to,
			Value:    rec.Value,
			Data:     rec.Data,
		})
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.CodeValidation, "sign transaction", err)
	}

	rec.Hash = signed.Hash()
	if err := p.store.Put(rec); err != nil {
		return nil, err
	}
	return signed, nil
}
