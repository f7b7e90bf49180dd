package pipeline

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/emberwallet/ember/internal/network"
	"github.com/emberwallet/ember/internal/storage"
	"github.com/emberwallet/ember/internal/walleterr"
)

// Well-known throwaway key for signing tests.
const testKeyHex = "fad9c8855b740a0b7ed4c221dbad0f33a83a49cad6b3fe8d5817ac83d38b6a19"

// rpcFake is a scripted endpoint for pipeline tests.
type rpcFake struct {
	mu sync.Mutex

	balance      *big.Int
	pendingNonce uint64
	gasEstimate  uint64
	estimateErr  error
	sendErr      error
	receipts     map[common.Hash]*types.Receipt

	sent []*types.Transaction
}

func newRPCFake() *rpcFake {
	return &rpcFake{
		balance:     new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18)),
		gasEstimate: 21000,
		receipts:    make(map[common.Hash]*types.Receipt),
	}
}

func (f *rpcFake) BlockNumber(context.Context) (uint64, error) { return 1, nil }

func (f *rpcFake) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *rpcFake) NonceAt(context.Context, common.Address, *big.Int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingNonce, nil
}

func (f *rpcFake) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingNonce, nil
}

func (f *rpcFake) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *rpcFake) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(100_000_000), nil
}

func (f *rpcFake) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return f.gasEstimate, nil
}

func (f *rpcFake) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *rpcFake) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *rpcFake) Close() {}

func (f *rpcFake) addReceipt(hash common.Hash, status uint64, block int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = &types.Receipt{
		Status:      status,
		BlockNumber: big.NewInt(block),
		GasUsed:     21000,
		TxHash:      hash,
	}
}

// fixture wires a pipeline over one fake endpoint on chain 1.
func fixture(t *testing.T) (*Pipeline, *rpcFake) {
	t.Helper()
	fake := newRPCFake()
	extra := newRPCFake()
	registry := network.NewRegistry(func(url string) (network.Client, error) {
		switch url {
		case "primary":
			return fake, nil
		case "backup":
			return extra, nil
		}
		return nil, errors.New("unknown endpoint")
	})
	if err := registry.AddChain(1, []string{"primary"}); err != nil {
		t.Fatalf("AddChain() error: %v", err)
	}

	p := New(registry, NewStore(storage.NewMemory()))
	p.pollInterval = time.Millisecond
	p.maxAttempts = 50
	t.Cleanup(p.Close)
	return p, fake
}

func testRequest(t *testing.T) Request {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("HexToECDSA() error: %v", err)
	}
	return Request{
		ChainID: 1,
		From:    crypto.PubkeyToAddress(key.PublicKey),
		To:      common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94"),
		Value:   big.NewInt(1e15),
	}
}

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("HexToECDSA() error: %v", err)
	}
	return key
}

func TestBuild_AssignsNonceGasAndFee(t *testing.T) {
	p, fake := fixture(t)
	fake.mu.Lock()
	fake.pendingNonce = 5
	fake.mu.Unlock()

	rec, err := p.Build(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if rec.Nonce != 5 {
		t.Errorf("nonce = %d, want 5", rec.Nonce)
	}
	if want := uint64(21000 * 120 / 100); rec.GasLimit != want {
		t.Errorf("gas limit = %d, want %d (padded estimate)", rec.GasLimit, want)
	}
	if rec.Fee.Kind != FeeDynamic {
		t.Errorf("fee kind = %s, want dynamic", rec.Fee.Kind)
	}
	if rec.Status != StatusPending {
		t.Errorf("status = %s, want pending", rec.Status)
	}
}

func TestBuild_LocalNonceWatermark(t *testing.T) {
	p, _ := fixture(t)
	ctx := context.Background()

	// The node's pending nonce stays at 0, but the second build must not
	// reuse the nonce held by the first open record.
	r1, err := p.Build(ctx, testRequest(t))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	r2, err := p.Build(ctx, testRequest(t))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if r1.Nonce != 0 || r2.Nonce != 1 {
		t.Errorf("nonces = %d, %d, want 0, 1", r1.Nonce, r2.Nonce)
	}
}

func TestBuild_ConcurrentSendsGetDistinctNonces(t *testing.T) {
	p, _ := fixture(t)
	req := testRequest(t)

	const workers = 8
	var wg sync.WaitGroup
	nonces := make(chan uint64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := p.Build(context.Background(), req)
			if err != nil {
				t.Errorf("Build() error: %v", err)
				return
			}
			nonces <- rec.Nonce
		}()
	}
	wg.Wait()
	close(nonces)

	seen := make(map[uint64]bool, workers)
	for n := range nonces {
		if seen[n] {
			t.Fatalf("nonce %d assigned twice", n)
		}
		seen[n] = true
	}
	if len(seen) != workers {
		t.Errorf("distinct nonces = %d, want %d", len(seen), workers)
	}
}

func TestBuild_InsufficientFunds(t *testing.T) {
	p, fake := fixture(t)
	fake.mu.Lock()
	fake.balance = big.NewInt(1) // far below value + worst-case gas
	fake.mu.Unlock()

	_, err := p.Build(context.Background(), testRequest(t))
	if !errors.Is(err, walleterr.InsufficientFunds("")) {
		t.Errorf("Build() = %v, want insufficient funds", err)
	}
}

func TestBuild_Validation(t *testing.T) {
	p, _ := fixture(t)
	ctx := context.Background()

	bad := testRequest(t)
	bad.To = common.Address{}
	if _, err := p.Build(ctx, bad); !errors.Is(err, walleterr.Validation("")) {
		t.Errorf("Build(no recipient) = %v, want validation error", err)
	}

	bad = testRequest(t)
	bad.Value = big.NewInt(-1)
	if _, err := p.Build(ctx, bad); !errors.Is(err, walleterr.Validation("")) {
		t.Errorf("Build(negative value) = %v, want validation error", err)
	}
}

func TestBuild_GasEstimateFallback(t *testing.T) {
	p, fake := fixture(t)
	fake.mu.Lock()
	fake.estimateErr = errors.New("execution reverted")
	fake.mu.Unlock()

	rec, err := p.Build(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if rec.GasLimit != transferGas {
		t.Errorf("gas limit = %d, want flat transfer gas %d", rec.GasLimit, transferGas)
	}
}

func TestSign(t *testing.T) {
	p, _ := fixture(t)
	key := testKey(t)

	rec, err := p.Build(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	signed, err := p.Sign(rec, key)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if signed.Type() != types.DynamicFeeTxType {
		t.Errorf("tx type = %d, want dynamic fee", signed.Type())
	}
	if rec.Hash != signed.Hash() {
		t.Error("record should carry the signed transaction hash")
	}
	if signed.ChainId().Uint64() != 1 {
		t.Errorf("chain id = %d, want 1", signed.ChainId().Uint64())
	}
}

func TestSign_WrongKey(t *testing.T) {
	p, _ := fixture(t)

	rec, err := p.Build(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	other, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	if _, err := p.Sign(rec, other); !errors.Is(err, walleterr.Validation("")) {
		t.Errorf("Sign(wrong key) = %v, want validation error", err)
	}
}

func TestSign_LegacyChain(t *testing.T) {
	p, _ := fixture(t)
	key := testKey(t)

	req := testRequest(t)
	fee := LegacyFee(big.NewInt(2_000_000_000))
	req.Fee = &fee

	rec, err := p.Build(context.Background(), req)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	signed, err := p.Sign(rec, key)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if signed.Type() != types.LegacyTxType {
		t.Errorf("tx type = %d, want legacy", signed.Type())
	}
}

func TestSubmit_RetriesOnNextEndpoint(t *testing.T) {
	p, fake := fixture(t)
	if err := p.registry.AddEndpoint(1, "backup"); err != nil {
		t.Fatalf("AddEndpoint() error: %v", err)
	}
	fake.mu.Lock()
	fake.sendErr = errors.New("connection reset")
	fake.mu.Unlock()

	key := testKey(t)
	rec, err := p.Build(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	signed, err := p.Sign(rec, key)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	if err := p.Submit(context.Background(), rec, signed); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if rec.Status != StatusSubmitted {
		t.Errorf("status = %s, want submitted", rec.Status)
	}
	if rec.Endpoint != "backup" {
		t.Errorf("endpoint = %s, want backup", rec.Endpoint)
	}
}

func TestSubmit_AllEndpointsFail(t *testing.T) {
	p, fake := fixture(t)
	fake.mu.Lock()
	fake.sendErr = errors.New("connection reset")
	fake.mu.Unlock()

	key := testKey(t)
	rec, err := p.Build(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	signed, err := p.Sign(rec, key)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	err = p.Submit(context.Background(), rec, signed)
	if !errors.Is(err, walleterr.Broadcast("", nil)) {
		t.Fatalf("Submit() = %v, want broadcast error", err)
	}
	if rec.Status != StatusPending {
		t.Errorf("status = %s, want still pending", rec.Status)
	}
}

func TestSubmit_RejectionIsNotRetried(t *testing.T) {
	p, fake := fixture(t)
	if err := p.registry.AddEndpoint(1, "backup"); err != nil {
		t.Fatalf("AddEndpoint() error: %v", err)
	}
	fake.mu.Lock()
	fake.sendErr = errors.New("nonce too low")
	fake.mu.Unlock()

	key := testKey(t)
	rec, err := p.Build(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	signed, err := p.Sign(rec, key)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	if err := p.Submit(context.Background(), rec, signed); !errors.Is(err, walleterr.Broadcast("", nil)) {
		t.Errorf("Submit(rejected) = %v, want broadcast error", err)
	}
}

func TestAwait_Confirmed(t *testing.T) {
	p, fake := fixture(t)
	key := testKey(t)

	rec, err := p.Send(context.Background(), key, testRequest(t))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	fake.addReceipt(rec.Hash, types.ReceiptStatusSuccessful, 42)

	got, err := p.Await(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Await() error: %v", err)
	}
	if got.Status != StatusConfirmed {
		t.Errorf("status = %s, want confirmed", got.Status)
	}
	if got.BlockNumber != 42 {
		t.Errorf("block = %d, want 42", got.BlockNumber)
	}
	if got.GasUsed == 0 {
		t.Error("gas used should be recorded")
	}
}

func TestAwait_Reverted(t *testing.T) {
	p, fake := fixture(t)
	key := testKey(t)

	rec, err := p.Send(context.Background(), key, testRequest(t))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	fake.addReceipt(rec.Hash, types.ReceiptStatusFailed, 43)

	got, err := p.Await(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Await() error: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestAwait_BudgetExhausted(t *testing.T) {
	p, _ := fixture(t)
	p.maxAttempts = 3
	key := testKey(t)

	rec, err := p.Send(context.Background(), key, testRequest(t))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	// No receipt ever appears; the record stays submitted for a later
	// resume rather than being marked failed.
	got, err := p.Await(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Await() error: %v", err)
	}
	if got.Status != StatusSubmitted {
		t.Errorf("status = %s, want still submitted", got.Status)
	}
}

func TestReplace_MarksOriginalReplaced(t *testing.T) {
	p, fake := fixture(t)
	key := testKey(t)
	ctx := context.Background()

	orig, err := p.Send(ctx, key, testRequest(t))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	bumped := DynamicFee(
		new(big.Int).Mul(orig.Fee.MaxFee, big.NewInt(2)),
		new(big.Int).Mul(orig.Fee.PriorityFee, big.NewInt(2)),
	)
	repl, err := p.Replace(ctx, orig.ID, bumped)
	if err != nil {
		t.Fatalf("Replace() error: %v", err)
	}
	if repl.Nonce != orig.Nonce {
		t.Fatalf("replacement nonce = %d, want %d", repl.Nonce, orig.Nonce)
	}

	signed, err := p.Sign(repl, key)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if err := p.Submit(ctx, repl, signed); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	fake.addReceipt(repl.Hash, types.ReceiptStatusSuccessful, 50)

	if _, err := p.Await(ctx, repl.ID); err != nil {
		t.Fatalf("Await() error: %v", err)
	}

	old, err := p.store.ByID(orig.ID)
	if err != nil {
		t.Fatalf("ByID() error: %v", err)
	}
	if old.Status != StatusReplaced {
		t.Errorf("original status = %s, want replaced", old.Status)
	}
	if old.ReplacedBy != repl.ID {
		t.Errorf("replaced-by = %s, want %s", old.ReplacedBy, repl.ID)
	}
}

func TestReplace_RequiresOutbiddingFee(t *testing.T) {
	p, _ := fixture(t)
	key := testKey(t)
	ctx := context.Background()

	orig, err := p.Send(ctx, key, testRequest(t))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	same := DynamicFee(orig.Fee.MaxFee, orig.Fee.PriorityFee)
	if _, err := p.Replace(ctx, orig.ID, same); !errors.Is(err, walleterr.Validation("")) {
		t.Errorf("Replace(equal fee) = %v, want validation error", err)
	}
}

func TestCancel_IsZeroValueSelfTransfer(t *testing.T) {
	p, _ := fixture(t)
	key := testKey(t)
	ctx := context.Background()

	orig, err := p.Send(ctx, key, testRequest(t))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	bumped := DynamicFee(
		new(big.Int).Mul(orig.Fee.MaxFee, big.NewInt(2)),
		new(big.Int).Mul(orig.Fee.PriorityFee, big.NewInt(2)),
	)
	cancel, err := p.Cancel(ctx, orig.ID, bumped)
	if err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	if cancel.To != orig.From {
		t.Errorf("cancel recipient = %s, want sender %s", cancel.To.Hex(), orig.From.Hex())
	}
	if cancel.Value.Sign() != 0 {
		t.Errorf("cancel value = %s, want 0", cancel.Value)
	}
	if cancel.Nonce != orig.Nonce {
		t.Errorf("cancel nonce = %d, want %d", cancel.Nonce, orig.Nonce)
	}
}

func TestStopTracking(t *testing.T) {
	p, _ := fixture(t)
	p.maxAttempts = 1 << 20 // keep the tracker alive until cancelled
	key := testKey(t)

	rec, err := p.Send(context.Background(), key, testRequest(t))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if got := p.Tracking(); got != 1 {
		t.Fatalf("Tracking() after send = %d, want 1", got)
	}

	// An address with no open records leaves the tracker running.
	p.StopTracking(common.HexToAddress("0x000000000000000000000000000000000000dEaD"))
	if got := p.Tracking(); got != 1 {
		t.Fatalf("Tracking() after unrelated stop = %d, want 1", got)
	}

	p.StopTracking(rec.From)
	if got := p.Tracking(); got != 0 {
		t.Errorf("Tracking() after stop = %d, want 0", got)
	}

	// The record stays submitted for a later Resume.
	got, err := p.store.ByID(rec.ID)
	if err != nil {
		t.Fatalf("ByID() error: %v", err)
	}
	if got.Status != StatusSubmitted {
		t.Errorf("status = %s, want still submitted", got.Status)
	}
}

func TestResume_TracksOpenRecords(t *testing.T) {
	p, fake := fixture(t)
	key := testKey(t)
	ctx := context.Background()

	rec, err := p.Send(ctx, key, testRequest(t))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	p.Close() // drop the tracker started by Send

	fake.addReceipt(rec.Hash, types.ReceiptStatusSuccessful, 60)
	if err := p.Resume(1); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := p.store.ByID(rec.ID)
		if err != nil {
			t.Fatalf("ByID() error: %v", err)
		}
		if got.Status == StatusConfirmed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("resumed record never confirmed")
}
