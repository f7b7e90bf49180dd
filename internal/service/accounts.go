package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/emberwallet/ember/internal/wallet"
	"github.com/emberwallet/ember/internal/walleterr"
)

// Accounts lists the accounts of the session's wallet.
func (s *Service) Accounts(token string) ([]*wallet.Account, error) {
	sess, err := s.guard.Validate(token)
	if err != nil {
		return nil, err
	}
	w, err := s.wallets.Get(sess.WalletID)
	if err != nil {
		return nil, err
	}
	return w.Accounts, nil
}

// AddAccount derives the next address index for the session's wallet and
// persists it. The label defaults to a numbered one.
func (s *Service) AddAccount(token, label string) (*wallet.Account, error) {
	sess, seed, err := s.seedFor(token)
	if err != nil {
		return nil, err
	}
	w, err := s.wallets.Get(sess.WalletID)
	if err != nil {
		return nil, err
	}

	var next uint32
	for _, a := range w.Accounts {
		if a.Index >= next {
			next = a.Index + 1
		}
	}

	acct, err := wallet.DeriveAccount(seed, next)
	if err != nil {
		return nil, err
	}
	if label != "" {
		acct.Label = label
	}
	w.Accounts = append(w.Accounts, acct)
	if err := s.wallets.Save(w); err != nil {
		return nil, err
	}
	return acct, nil
}

// RenameAccount updates an account's label.
func (s *Service) RenameAccount(token string, index uint32, label string) error {
	sess, err := s.guard.Validate(token)
	if err != nil {
		return err
	}
	if label == "" {
		return walleterr.Validation("label required")
	}
	w, err := s.wallets.Get(sess.WalletID)
	if err != nil {
		return err
	}
	acct := w.AccountByIndex(index)
	if acct == nil {
		return walleterr.Newf(walleterr.CodeValidation, "no account at index %d", index)
	}
	acct.Label = label
	acct.UpdatedAt = time.Now().UTC()
	return s.wallets.Save(w)
}

// Balance fetches an account's live balance in wei and refreshes the
// cached display value on the wallet record.
func (s *Service) Balance(ctx context.Context, token string, index uint32, chainID uint64) (*big.Int, error) {
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

	_, client, err := s.registry.ActiveEndpoint(ctx, chainFor(w, chainID))
	if err != nil {
		return nil, err
	}
	balance, err := client.BalanceAt(ctx, acct.Address, nil)
	if err != nil {
		return nil, walleterr.Network("balance lookup", err)
	}

	acct.Balance = balance.String()
	acct.UpdatedAt = time.Now().UTC()
	if err := s.wallets.Save(w); err != nil {
		return nil, fmt.Errorf("cache balance: %w", err)
	}
	return balance, nil
}
