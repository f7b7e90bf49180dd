package service

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/emberwallet/ember/internal/pipeline"
	"github.com/emberwallet/ember/internal/wallet"
	"github.com/emberwallet/ember/internal/walleterr"
)

// SendRequest describes a transfer from one of the session's accounts.
type SendRequest struct {
	// ChainID zero means the wallet's default network.
	ChainID      uint64
	AccountIndex uint32
	To           common.Address
	Value        *big.Int
	Data         []byte
	Tier         pipeline.Tier
	// Fee overrides tier pricing when set.
	Fee *pipeline.FeeModel
}

// Send builds, signs, broadcasts and tracks a transfer. The signing key
// is re-derived from the session seed for this one call and destroyed
// afterwards.
func (s *Service) Send(ctx context.Context, token string, req SendRequest) (*pipeline.Record, error) {
	sess, seed, err := s.seedFor(token)
	if err != nil {
		return nil, err
	}
	w, err := s.wallets.Get(sess.WalletID)
	if err != nil {
		return nil, err
	}
	acct := w.AccountByIndex(req.AccountIndex)
	if acct == nil {
		return nil, walleterr.Newf(walleterr.CodeValidation, "no account at index %d", req.AccountIndex)
	}

	key, err := wallet.SigningKey(seed, req.AccountIndex)
	if err != nil {
		return nil, err
	}
	defer zeroKey(key)

	return s.pipeline.Send(ctx, key, pipeline.Request{
		ChainID: chainFor(w, req.ChainID),
		From:    acct.Address,
		To:      req.To,
		Value:   req.Value,
		Data:    req.Data,
		Tier:    req.Tier,
		Fee:     req.Fee,
	})
}

// SpeedUp re-issues an open transaction at the same nonce with a higher
// fee.
func (s *Service) SpeedUp(ctx context.Context, token, txID string, fee pipeline.FeeModel) (*pipeline.Record, error) {
	return s.reissue(ctx, token, txID, fee, s.pipeline.Replace)
}

// CancelTx replaces an open transaction with a zero-value self-transfer,
// burning the nonce so the original can never confirm.
func (s *Service) CancelTx(ctx context.Context, token, txID string, fee pipeline.FeeModel) (*pipeline.Record, error) {
	return s.reissue(ctx, token, txID, fee, s.pipeline.Cancel)
}

func (s *Service) reissue(ctx context.Context, token, txID string, fee pipeline.FeeModel,
	rebuild func(context.Context, string, pipeline.FeeModel) (*pipeline.Record, error)) (*pipeline.Record, error) {

	sess, seed, err := s.seedFor(token)
	if err != nil {
		return nil, err
	}
	orig, err := s.pipeline.Store().ByID(txID)
	if err != nil {
		return nil, err
	}

	w, err := s.wallets.Get(sess.WalletID)
	if err != nil {
		return nil, err
	}
	acct := accountByAddress(w, orig.From)
	if acct == nil {
		return nil, walleterr.Validation("transaction does not belong to this wallet")
	}

	rec, err := rebuild(ctx, txID, fee)
	if err != nil {
		return nil, err
	}

	key, err := wallet.SigningKey(seed, acct.Index)
	if err != nil {
		return nil, err
	}
	defer zeroKey(key)

	signed, err := s.pipeline.Sign(rec, key)
	if err != nil {
		return nil, err
	}
	if err := s.pipeline.Submit(ctx, rec, signed); err != nil {
		return nil, err
	}
	s.pipeline.Track(rec.ID)
	return rec, nil
}

// History returns an account's transaction records on a chain, newest
// first.
func (s *Service) History(token string, index uint32, chainID uint64) ([]*pipeline.Record, error) {
	sess, err := s.guard.Validate(token)
	if err != nil {
		return nil, err
	}
	w, err := s.wallets.Get(sess.WalletID)
	if err != nil {
		return nil, err
	}
	acct := w.AccountByIndex(index)
	if acct == nil {
		return nil, walleterr.Newf(walleterr.CodeValidation, "no account at index %d", index)
	}
	return s.pipeline.Store().History(chainFor(w, chainID), acct.Address)
}

// chainFor resolves an explicit chain id, falling back to the wallet's
// default network.
func chainFor(w *wallet.Wallet, chainID uint64) uint64 {
	if chainID != 0 {
		return chainID
	}
	return w.Network.DefaultChainID
}

// TxStatus returns the current record for a transaction id.
func (s *Service) TxStatus(token, txID string) (*pipeline.Record, error) {
	if _, err := s.guard.Validate(token); err != nil {
		return nil, err
	}
	return s.pipeline.Store().ByID(txID)
}

func accountByAddress(w *wallet.Wallet, addr common.Address) *wallet.Account {
	for _, a := range w.Accounts {
		if a.Address == addr {
			return a
		}
	}
	return nil
}

// zeroKey destroys a re-derived signing key once the signature is made.
func zeroKey(key *ecdsa.PrivateKey) {
	if key != nil && key.D != nil {
		key.D.SetInt64(0)
	}
}
