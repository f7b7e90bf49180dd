package wallet

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tyler-smith/go-bip32"

	"github.com/emberwallet/ember/internal/walleterr"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testSeed(t *testing.T) []byte {
	t.Helper()
	seed, err := SeedFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	return seed
}

func TestDeriveAccount_KnownVector(t *testing.T) {
	// Reference vector for the BIP-39 test mnemonic at m/44'/60'/0'/0/0.
	want := common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94")

	acct, err := DeriveAccount(testSeed(t), 0)
	if err != nil {
		t.Fatalf("DeriveAccount() error: %v", err)
	}
	if acct.Address != want {
		t.Errorf("address = %s, want %s", acct.Address.Hex(), want.Hex())
	}
	if acct.Path != "m/44'/60'/0'/0/0" {
		t.Errorf("path = %q, want m/44'/60'/0'/0/0", acct.Path)
	}
}

func TestDeriveAccount_Deterministic(t *testing.T) {
	seed := testSeed(t)

	for _, index := range []uint32{0, 1, 7} {
		a1, err := DeriveAccount(seed, index)
		if err != nil {
			t.Fatalf("DeriveAccount(%d) error: %v", index, err)
		}
		a2, err := DeriveAccount(seed, index)
		if err != nil {
			t.Fatalf("DeriveAccount(%d) error: %v", index, err)
		}

		if a1.Address != a2.Address {
			t.Errorf("index %d: addresses differ between derivations", index)
		}
		if a1.PublicKey != a2.PublicKey {
			t.Errorf("index %d: public keys differ between derivations", index)
		}
	}
}

func TestDeriveAccount_DistinctIndices(t *testing.T) {
	seed := testSeed(t)

	seen := make(map[common.Address]uint32)
	for index := uint32(0); index < 5; index++ {
		acct, err := DeriveAccount(seed, index)
		if err != nil {
			t.Fatalf("DeriveAccount(%d) error: %v", index, err)
		}
		if prev, dup := seen[acct.Address]; dup {
			t.Errorf("index %d and %d derived the same address", prev, index)
		}
		seen[acct.Address] = index
	}
}

func TestDeriveAddressKey_HardenedBoundary(t *testing.T) {
	master, err := NewMasterKey(testSeed(t))
	if err != nil {
		t.Fatalf("NewMasterKey() error: %v", err)
	}

	_, err = master.DeriveAddressKey(bip32.FirstHardenedChild)
	if !errors.Is(err, walleterr.New(walleterr.CodeDerivationRange, "")) {
		t.Errorf("DeriveAddressKey(hardened) = %v, want derivation range error", err)
	}

	// Just below the boundary is legal.
	if _, err := master.DeriveAddressKey(bip32.FirstHardenedChild - 1); err != nil {
		t.Errorf("DeriveAddressKey(boundary-1) error: %v", err)
	}
}

func TestNewMasterKey_BadSeedLength(t *testing.T) {
	if _, err := NewMasterKey(make([]byte, 32)); err == nil {
		t.Error("NewMasterKey() should reject a short seed")
	}
}

func TestSigningKey_MatchesAccountAddress(t *testing.T) {
	seed := testSeed(t)

	acct, err := DeriveAccount(seed, 3)
	if err != nil {
		t.Fatalf("DeriveAccount() error: %v", err)
	}

	key, err := SigningKey(seed, 3)
	if err != nil {
		t.Fatalf("SigningKey() error: %v", err)
	}

	master, err := NewMasterKey(seed)
	if err != nil {
		t.Fatalf("NewMasterKey() error: %v", err)
	}
	hd, err := master.DeriveAddressKey(3)
	if err != nil {
		t.Fatalf("DeriveAddressKey() error: %v", err)
	}
	addr, err := hd.Address()
	if err != nil {
		t.Fatalf("Address() error: %v", err)
	}

	if addr != acct.Address {
		t.Error("HD key address does not match derived account address")
	}
	if key == nil || key.D.Sign() == 0 {
		t.Error("signing key should be a usable private key")
	}
}

func TestNeuter_DropsPrivateKey(t *testing.T) {
	master, err := NewMasterKey(testSeed(t))
	if err != nil {
		t.Fatalf("NewMasterKey() error: %v", err)
	}

	pub := master.Neuter()
	if pub.IsPrivate() {
		t.Error("neutered key should not be private")
	}
	if pub.PrivateKeyBytes() != nil {
		t.Error("neutered key should not expose private key bytes")
	}
	if _, err := pub.ECDSA(); err == nil {
		t.Error("neutered key should refuse to produce a signing key")
	}
}
