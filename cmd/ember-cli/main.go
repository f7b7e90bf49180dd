// ember-cli is a command-line client for the Ember wallet core.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/term"

	"github.com/emberwallet/ember/config"
	"github.com/emberwallet/ember/internal/log"
	"github.com/emberwallet/ember/internal/network"
	"github.com/emberwallet/ember/internal/pipeline"
	"github.com/emberwallet/ember/internal/service"
	"github.com/emberwallet/ember/internal/storage"
)

const version = "0.3.0"

func main() {
	flags := config.ParseFlags()

	if flags.Version {
		fmt.Printf("ember-cli %s\n", version)
		return
	}
	if flags.Help || len(flags.Args) == 0 {
		usage()
		if len(flags.Args) == 0 && !flags.Help {
			os.Exit(1)
		}
		return
	}

	cmd := flags.Args[0]
	cmdArgs := flags.Args[1:]

	// init works without an existing config.
	if cmd == "init" {
		cmdInit(flags)
		return
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fatal("load config: %v", err)
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fatal("init logging: %v", err)
	}

	svc, db := openService(cfg)
	defer db.Close()
	defer svc.Close()

	switch cmd {
	case "create":
		cmdCreate(svc, cmdArgs)
	case "import":
		cmdImport(svc, cmdArgs)
	case "list":
		cmdList(svc)
	case "accounts":
		cmdAccounts(svc, cmdArgs)
	case "new-account":
		cmdNewAccount(svc, cmdArgs)
	case "balance":
		cmdBalance(svc, cfg, flags.Chain, cmdArgs)
	case "send":
		cmdSend(svc, flags.Chain, cmdArgs)
	case "history":
		cmdHistory(svc, flags.Chain, cmdArgs)
	case "tx":
		cmdTx(svc, cmdArgs)
	case "networks":
		cmdNetworks(svc)
	case "network":
		cmdNetwork(svc, cmdArgs)
	case "fees":
		cmdFees(svc, cfg, cmdArgs)
	case "price":
		cmdPrice(svc, cfg, cmdArgs)
	case "passwd":
		cmdPasswd(svc, cmdArgs)
	case "delete":
		cmdDelete(svc, cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

// openService opens the wallet database and wires the service, then
// registers any configured chains the database does not know yet.
func openService(cfg *config.Config) (*service.Service, storage.DB) {
	if err := os.MkdirAll(cfg.WalletDir(), 0700); err != nil {
		fatal("create data directory: %v", err)
	}
	db, err := storage.NewBadger(cfg.WalletDir())
	if err != nil {
		fatal("open wallet database: %v", err)
	}

	svc, err := service.New(db, network.DialEthclient, cfg.Network.DefaultChainID)
	if err != nil {
		db.Close()
		fatal("start wallet service: %v", err)
	}

	known := make(map[uint64]bool)
	for _, id := range svc.Networks() {
		known[id] = true
	}
	for _, chain := range cfg.Network.Chains {
		if known[chain.ChainID] {
			continue
		}
		if err := svc.AddNetwork(chain.ChainID, chain.Endpoints); err != nil {
			fatal("register chain %d: %v", chain.ChainID, err)
		}
	}
	return svc, db
}

// unlock resolves a wallet by name, prompts for its password and opens a
// session.
func unlock(svc *service.Service, name string) string {
	w, err := svc.WalletByName(name)
	if err != nil {
		fatal("wallet %q: %v", name, err)
	}
	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	sess, err := svc.Unlock(context.Background(), w.ID, string(password), "ember-cli")
	if err != nil {
		fatal("unlock: %v", err)
	}
	return sess.Token
}

// ── init ────────────────────────────────────────────────────────────────

func cmdInit(flags *config.Flags) {
	cfg := config.Default()
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		fatal("create data directory: %v", err)
	}
	path := cfg.ConfigFile()
	if _, err := os.Stat(path); err == nil {
		fatal("config file already exists: %s", path)
	}
	if err := config.WriteDefaultConfig(path); err != nil {
		fatal("write config: %v", err)
	}
	fmt.Printf("Wrote %s\n", path)
}

// ── wallets ─────────────────────────────────────────────────────────────

func cmdCreate(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name")
	words := fs.Int("words", 12, "Mnemonic length (12 or 24)")
	fs.Parse(args)

	if *name == "" {
		fatal("Usage: ember-cli create --name <name> [--words 12|24]")
	}
	bits := 128
	if *words == 24 {
		bits = 256
	} else if *words != 12 {
		fatal("words must be 12 or 24")
	}

	password := promptNewPassword()
	w, mnemonic, err := svc.CreateWallet(*name, string(password), bits)
	if err != nil {
		fatal("create wallet: %v", err)
	}

	fmt.Println("Recovery phrase (write this down, it is shown only once!):")
	fmt.Printf("  %s\n\n", mnemonic)
	fmt.Printf("Wallet:  %s (%s)\n", w.Name, w.ID)
	fmt.Printf("Account: %s\n", w.Accounts[0].Address.Hex())
}

func cmdImport(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name")
	mnemonic := fs.String("mnemonic", "", "BIP-39 recovery phrase")
	fs.Parse(args)

	if *name == "" || *mnemonic == "" {
		fatal("Usage: ember-cli import --name <name> --mnemonic \"word1 word2 ...\"")
	}

	password := promptNewPassword()
	w, err := svc.ImportWallet(context.Background(), *name, *mnemonic, string(password))
	if err != nil {
		fatal("import wallet: %v", err)
	}

	fmt.Printf("Wallet: %s (%s)\n", w.Name, w.ID)
	fmt.Printf("Recovered %d account(s):\n", len(w.Accounts))
	for _, a := range w.Accounts {
		fmt.Printf("  [%d] %s  %s\n", a.Index, a.Address.Hex(), a.Label)
	}
}

func cmdList(svc *service.Service) {
	wallets, err := svc.Wallets()
	if err != nil {
		fatal("list wallets: %v", err)
	}
	if len(wallets) == 0 {
		fmt.Println("No wallets. Create one with: ember-cli create --name <name>")
		return
	}
	for _, w := range wallets {
		fmt.Printf("%-20s %-10s created %s\n", w.Name, w.Type, w.CreatedAt.Format("2006-01-02"))
	}
}

func cmdPasswd(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	name := fs.String("wallet", "", "Wallet name")
	fs.Parse(args)
	if *name == "" {
		fatal("Usage: ember-cli passwd --wallet <name>")
	}

	w, err := svc.WalletByName(*name)
	if err != nil {
		fatal("wallet %q: %v", *name, err)
	}
	oldPassword, err := readPassword("Current password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	newPassword := promptNewPassword()

	if err := svc.ChangePassword(w.ID, string(oldPassword), string(newPassword)); err != nil {
		fatal("change password: %v", err)
	}
	fmt.Println("Password changed. All sessions have been invalidated.")
}

func cmdDelete(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	name := fs.String("wallet", "", "Wallet name")
	fs.Parse(args)
	if *name == "" {
		fatal("Usage: ember-cli delete --wallet <name>")
	}

	w, err := svc.WalletByName(*name)
	if err != nil {
		fatal("wallet %q: %v", *name, err)
	}
	fmt.Printf("Deleting %q. The seed is unrecoverable without the recovery phrase.\n", *name)
	password, err := readPassword("Enter password to confirm: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if err := svc.DeleteWallet(w.ID, string(password)); err != nil {
		fatal("delete wallet: %v", err)
	}
	fmt.Println("Wallet deleted.")
}

// ── accounts ────────────────────────────────────────────────────────────

func cmdAccounts(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("accounts", flag.ExitOnError)
	name := fs.String("wallet", "", "Wallet name")
	fs.Parse(args)
	if *name == "" {
		fatal("Usage: ember-cli accounts --wallet <name>")
	}

	token := unlock(svc, *name)
	accounts, err := svc.Accounts(token)
	if err != nil {
		fatal("list accounts: %v", err)
	}
	for _, a := range accounts {
		balance := a.Balance
		if balance == "" {
			balance = "-"
		}
		fmt.Printf("[%d] %s  %-20s %s wei\n", a.Index, a.Address.Hex(), a.Label, balance)
	}
}

func cmdNewAccount(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("new-account", flag.ExitOnError)
	name := fs.String("wallet", "", "Wallet name")
	label := fs.String("label", "", "Account label")
	fs.Parse(args)
	if *name == "" {
		fatal("Usage: ember-cli new-account --wallet <name> [--label <label>]")
	}

	token := unlock(svc, *name)
	acct, err := svc.AddAccount(token, *label)
	if err != nil {
		fatal("add account: %v", err)
	}
	fmt.Printf("[%d] %s  %s\n", acct.Index, acct.Address.Hex(), acct.Label)
}

func cmdBalance(svc *service.Service, cfg *config.Config, chain uint64, args []string) {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	name := fs.String("wallet", "", "Wallet name")
	index := fs.Uint("index", 0, "Account index")
	fs.Parse(args)
	if *name == "" {
		fatal("Usage: ember-cli balance --wallet <name> [--index <n>]")
	}

	token := unlock(svc, *name)
	balance, err := svc.Balance(context.Background(), token, uint32(*index), chain)
	if err != nil {
		fatal("balance: %v", err)
	}
	fmt.Printf("%s wei (%s ETH)\n", balance, formatEther(balance))

	if cfg.Price.Enabled {
		quote, err := svc.Quote(context.Background(), cfg.Price.Asset, cfg.Price.Currency)
		if err == nil {
			eth := new(big.Float).Quo(new(big.Float).SetInt(balance), big.NewFloat(1e18))
			fiat := new(big.Float).Mul(eth, big.NewFloat(quote.Price))
			fmt.Printf("≈ %.2f %s\n", fiat, strings.ToUpper(quote.Currency))
		}
	}
}

// ── transactions ────────────────────────────────────────────────────────

func cmdSend(svc *service.Service, chain uint64, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	name := fs.String("wallet", "", "Wallet name")
	index := fs.Uint("index", 0, "Account index to send from")
	to := fs.String("to", "", "Recipient address (0x...)")
	amount := fs.String("amount", "", "Amount in ETH (e.g. 0.25)")
	tier := fs.String("tier", "standard", "Fee tier: slow, standard, fast, instant")
	fs.Parse(args)

	if *name == "" || *to == "" || *amount == "" {
		fatal("Usage: ember-cli send --wallet <name> --to <addr> --amount <eth> [--index <n>] [--tier <t>]")
	}
	if !common.IsHexAddress(*to) {
		fatal("invalid recipient address: %s", *to)
	}
	value, err := parseEther(*amount)
	if err != nil {
		fatal("invalid amount: %v", err)
	}

	token := unlock(svc, *name)
	rec, err := svc.Send(context.Background(), token, service.SendRequest{
		ChainID:      chain,
		AccountIndex: uint32(*index),
		To:           common.HexToAddress(*to),
		Value:        value,
		Tier:         pipeline.Tier(*tier),
	})
	if err != nil {
		fatal("send: %v", err)
	}

	fmt.Printf("Submitted %s\n", rec.Hash.Hex())
	fmt.Printf("  nonce %d, gas limit %d, status %s\n", rec.Nonce, rec.GasLimit, rec.Status)
	fmt.Printf("Track it with: ember-cli tx --wallet %s %s\n", *name, rec.ID)
}

func cmdHistory(svc *service.Service, chain uint64, args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	name := fs.String("wallet", "", "Wallet name")
	index := fs.Uint("index", 0, "Account index")
	fs.Parse(args)
	if *name == "" {
		fatal("Usage: ember-cli history --wallet <name> [--index <n>]")
	}

	token := unlock(svc, *name)
	records, err := svc.History(token, uint32(*index), chain)
	if err != nil {
		fatal("history: %v", err)
	}
	if len(records) == 0 {
		fmt.Println("No transactions.")
		return
	}
	for _, r := range records {
		fmt.Printf("%-10s nonce %-4d %s ETH -> %s  %s\n",
			r.Status, r.Nonce, formatEther(r.Value), r.To.Hex(), r.Hash.Hex())
	}
}

func cmdTx(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("tx", flag.ExitOnError)
	name := fs.String("wallet", "", "Wallet name")
	fs.Parse(args)
	if *name == "" || fs.NArg() != 1 {
		fatal("Usage: ember-cli tx --wallet <name> <id>")
	}

	token := unlock(svc, *name)
	rec, err := svc.TxStatus(token, fs.Arg(0))
	if err != nil {
		fatal("tx: %v", err)
	}

	fmt.Printf("Hash:    %s\n", rec.Hash.Hex())
	fmt.Printf("Status:  %s\n", rec.Status)
	fmt.Printf("From:    %s\n", rec.From.Hex())
	fmt.Printf("To:      %s\n", rec.To.Hex())
	fmt.Printf("Value:   %s ETH\n", formatEther(rec.Value))
	fmt.Printf("Nonce:   %d\n", rec.Nonce)
	if rec.BlockNumber != 0 {
		fmt.Printf("Block:   %d (gas used %d)\n", rec.BlockNumber, rec.GasUsed)
	}
	if rec.ReplacedBy != "" {
		fmt.Printf("Replaced by: %s\n", rec.ReplacedBy)
	}
}

// ── networks ────────────────────────────────────────────────────────────

func cmdNetworks(svc *service.Service) {
	ids := svc.Networks()
	if len(ids) == 0 {
		fmt.Println("No networks registered.")
		return
	}
	for _, id := range ids {
		h, err := svc.NetworkHealth(id)
		if err != nil {
			fmt.Printf("chain %-8d (health unavailable: %v)\n", id, err)
			continue
		}
		fmt.Printf("chain %-8d %-9s uptime %.0f%%  active: %s\n",
			id, h.Status, h.Uptime*100, orDash(h.ActiveEndpoint))
	}
}

func cmdNetwork(svc *service.Service, args []string) {
	if len(args) < 1 {
		fatal("Usage: ember-cli network <add|add-endpoint|switch|remove> [flags]")
	}
	switch args[0] {
	case "switch":
		fs := flag.NewFlagSet("network switch", flag.ExitOnError)
		chain := fs.Uint64("chain", 0, "Chain id")
		name := fs.String("wallet", "", "Wallet name")
		fs.Parse(args[1:])
		if *chain == 0 || *name == "" {
			fatal("Usage: ember-cli network switch --wallet <name> --chain <id>")
		}
		token := unlock(svc, *name)
		if err := svc.SwitchNetwork(token, *chain); err != nil {
			fatal("switch network: %v", err)
		}
		fmt.Printf("Wallet %q now defaults to chain %d\n", *name, *chain)
	case "add":
		fs := flag.NewFlagSet("network add", flag.ExitOnError)
		chain := fs.Uint64("chain", 0, "Chain id")
		endpoints := fs.String("endpoints", "", "Comma-separated RPC URLs in priority order")
		fs.Parse(args[1:])
		if *chain == 0 || *endpoints == "" {
			fatal("Usage: ember-cli network add --chain <id> --endpoints <url,url,...>")
		}
		urls := strings.Split(*endpoints, ",")
		for i := range urls {
			urls[i] = strings.TrimSpace(urls[i])
		}
		if err := svc.AddNetwork(*chain, urls); err != nil {
			fatal("add network: %v", err)
		}
		fmt.Printf("Registered chain %d with %d endpoint(s)\n", *chain, len(urls))
	case "add-endpoint":
		fs := flag.NewFlagSet("network add-endpoint", flag.ExitOnError)
		chain := fs.Uint64("chain", 0, "Chain id")
		url := fs.String("url", "", "RPC URL")
		fs.Parse(args[1:])
		if *chain == 0 || *url == "" {
			fatal("Usage: ember-cli network add-endpoint --chain <id> --url <url>")
		}
		if err := svc.AddEndpoint(*chain, *url); err != nil {
			fatal("add endpoint: %v", err)
		}
		fmt.Println("Endpoint added with lowest priority.")
	case "remove":
		fs := flag.NewFlagSet("network remove", flag.ExitOnError)
		chain := fs.Uint64("chain", 0, "Chain id")
		fs.Parse(args[1:])
		if *chain == 0 {
			fatal("Usage: ember-cli network remove --chain <id>")
		}
		if err := svc.RemoveNetwork(*chain); err != nil {
			fatal("remove network: %v", err)
		}
		fmt.Printf("Removed chain %d (transaction history kept)\n", *chain)
	default:
		fatal("Unknown network command: %s", args[0])
	}
}

func cmdFees(svc *service.Service, cfg *config.Config, args []string) {
	est, err := svc.GasEstimate(context.Background(), cfg.Network.DefaultChainID)
	if err != nil {
		fatal("fees: %v", err)
	}
	fmt.Printf("Chain %d fee estimate", est.ChainID)
	if est.Fallback {
		fmt.Print(" (fallback, oracle unreachable)")
	}
	fmt.Println(":")
	tiers := []struct {
		name string
		tier network.FeeTier
	}{
		{"slow", est.Slow}, {"standard", est.Standard}, {"fast", est.Fast}, {"instant", est.Instant},
	}
	for _, t := range tiers {
		if est.DynamicFee {
			fmt.Printf("  %-9s max %s gwei, tip %s gwei\n", t.name, toGwei(t.tier.MaxFee), toGwei(t.tier.PriorityFee))
		} else {
			fmt.Printf("  %-9s %s gwei\n", t.name, toGwei(t.tier.GasPrice))
		}
	}
}

func cmdPrice(svc *service.Service, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("price", flag.ExitOnError)
	asset := fs.String("asset", cfg.Price.Asset, "Asset id (e.g. ethereum)")
	currency := fs.String("currency", cfg.Price.Currency, "Fiat currency (e.g. usd)")
	fs.Parse(args)

	quote, err := svc.Quote(context.Background(), *asset, *currency)
	if err != nil {
		fatal("price: %v", err)
	}
	fmt.Printf("1 %s = %.2f %s (as of %s)\n",
		quote.Asset, quote.Price, strings.ToUpper(quote.Currency),
		quote.FetchedAt.Format(time.RFC3339))
}

// ── helpers ─────────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// parseEther converts a decimal ETH amount to wei.
func parseEther(s string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok || r.Sign() < 0 {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	wei := new(big.Rat).Mul(r, new(big.Rat).SetInt64(1e18))
	if !wei.IsInt() {
		return nil, fmt.Errorf("amount %q has more than 18 decimal places", s)
	}
	return wei.Num(), nil
}

// formatEther renders wei as a decimal ETH string.
func formatEther(wei *big.Int) string {
	f := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18))
	return f.Text('f', -1)
}

func toGwei(v *big.Int) string {
	if v == nil {
		return "-"
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(1e9))
	return f.Text('f', 2)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// promptNewPassword prompts twice and checks the confirmation matches.
func promptNewPassword() []byte {
	password, err := readPassword("Enter new password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}
	return password
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ember-cli [global flags] <command> [flags]

Global flags:
  --datadir <path>    Data directory (default: ~/.ember)
  --config <path>     Config file path (default: <datadir>/ember.conf)
  --chain <id>        Chain id to operate on (default: configured default)
  --log-level <lvl>   debug, info, warn, error

Commands:
  init                            Write a default config file
  create --name <n> [--words 12|24]
                                  Create a new wallet
  import --name <n> --mnemonic "..."
                                  Restore a wallet from a recovery phrase
  list                            List wallets
  accounts --wallet <w>           List wallet accounts
  new-account --wallet <w>        Derive the next account
  balance --wallet <w> [--index <n>]
                                  Show an account balance
  send --wallet <w> --to <addr> --amount <eth> [--tier <t>]
                                  Send a transaction
  history --wallet <w> [--index <n>]
                                  Show transaction history
  tx --wallet <w> <id>            Show transaction details

  networks                        List chains and their health
  network add --chain <id> --endpoints <url,...>
                                  Register a chain
  network add-endpoint --chain <id> --url <url>
                                  Add an endpoint to a chain
  network switch --wallet <w> --chain <id>
                                  Set a wallet's default chain
  network remove --chain <id>     Remove a chain
  fees                            Show the live fee estimate
  price [--asset <a>] [--currency <c>]
                                  Show the fiat price of an asset

  passwd --wallet <w>             Change a wallet password
  delete --wallet <w>             Delete a wallet

Version: %s
`, version)
}
