// derive_address.go prints the addresses for a BIP-39 recovery phrase
// without touching any wallet database. Handy for verifying a backup
// phrase offline.
// Usage: go run scripts/derive_address.go <mnemonic-file> [count]
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/emberwallet/ember/internal/wallet"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: derive_address <mnemonic-file> [count]")
		os.Exit(1)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	mnemonic := strings.TrimSpace(string(data))
	if !wallet.ValidateMnemonic(mnemonic) {
		fmt.Fprintln(os.Stderr, "invalid mnemonic")
		os.Exit(1)
	}

	count := 1
	if len(os.Args) > 2 {
		count, err = strconv.Atoi(os.Args[2])
		if err != nil || count < 1 {
			fmt.Fprintln(os.Stderr, "count must be a positive integer")
			os.Exit(1)
		}
	}

	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer wallet.ZeroSeed(seed)

	for i := 0; i < count; i++ {
		acct, err := wallet.DeriveAccount(seed, uint32(i))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("%s  %s\n", acct.Path, acct.Address.Hex())
	}
}
