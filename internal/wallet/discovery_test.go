package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// fakeActivity marks a fixed set of addresses as active.
type fakeActivity struct {
	active map[common.Address]bool
	err    error
	calls  int
}

func (f *fakeActivity) HasActivity(_ context.Context, addr common.Address) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.active[addr], nil
}

func TestDiscoverAccounts_IndexZeroAlwaysKept(t *testing.T) {
	seed := testSeed(t)
	src := &fakeActivity{active: map[common.Address]bool{}}

	accounts, err := DiscoverAccounts(context.Background(), seed, 5, 1, src)
	if err != nil {
		t.Fatalf("DiscoverAccounts() error: %v", err)
	}

	if len(accounts) != 1 {
		t.Fatalf("accounts = %d, want 1 (only index 0)", len(accounts))
	}
	if accounts[0].Index != 0 {
		t.Errorf("kept index = %d, want 0", accounts[0].Index)
	}
}

func TestDiscoverAccounts_KeepsActiveIndices(t *testing.T) {
	seed := testSeed(t)

	// Mark index 2 as active.
	a2, err := DeriveAccount(seed, 2)
	if err != nil {
		t.Fatalf("DeriveAccount() error: %v", err)
	}
	src := &fakeActivity{active: map[common.Address]bool{a2.Address: true}}

	accounts, err := DiscoverAccounts(context.Background(), seed, 5, 1, src)
	if err != nil {
		t.Fatalf("DiscoverAccounts() error: %v", err)
	}

	if len(accounts) != 2 {
		t.Fatalf("accounts = %d, want 2 (index 0 + active index 2)", len(accounts))
	}
	if accounts[1].Index != 2 {
		t.Errorf("second kept index = %d, want 2", accounts[1].Index)
	}
}

func TestDiscoverAccounts_MinCountBypassesActivity(t *testing.T) {
	seed := testSeed(t)
	src := &fakeActivity{active: map[common.Address]bool{}}

	accounts, err := DiscoverAccounts(context.Background(), seed, 5, 3, src)
	if err != nil {
		t.Fatalf("DiscoverAccounts() error: %v", err)
	}

	if len(accounts) != 3 {
		t.Fatalf("accounts = %d, want 3 (minCount)", len(accounts))
	}
	// The activity oracle is only consulted beyond minCount.
	if src.calls != 2 {
		t.Errorf("oracle calls = %d, want 2", src.calls)
	}
}

func TestDiscoverAccounts_OracleFailureStopsScan(t *testing.T) {
	seed := testSeed(t)
	src := &fakeActivity{err: errors.New("rpc down")}

	accounts, err := DiscoverAccounts(context.Background(), seed, 10, 1, src)
	if err != nil {
		t.Fatalf("DiscoverAccounts() error: %v", err)
	}

	// Best effort: index 0 survives, the scan stops at the first failure.
	if len(accounts) != 1 {
		t.Errorf("accounts = %d, want 1", len(accounts))
	}
}

func TestDiscoverAccounts_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DiscoverAccounts(ctx, testSeed(t), 5, 1, &fakeActivity{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("DiscoverAccounts(cancelled) = %v, want context.Canceled", err)
	}
}
