package pipeline

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a tracked transaction.
type Status string

const (
	// StatusPending: built and signed, not yet accepted by any endpoint.
	StatusPending Status = "pending"
	// StatusSubmitted: accepted by an endpoint, waiting for a receipt.
	StatusSubmitted Status = "submitted"
	// StatusConfirmed: included in a block and executed successfully.
	StatusConfirmed Status = "confirmed"
	// StatusFailed: included in a block but reverted.
	StatusFailed Status = "failed"
	// StatusReplaced: superseded by a confirmed transaction with the same
	// nonce (speed-up or cancel).
	StatusReplaced Status = "replaced"
)

// open reports whether the transaction can still land on chain.
func (s Status) open() bool {
	return s == StatusPending || s == StatusSubmitted
}

// Record is the persisted history entry for one transaction. Within one
// sender and chain, at most one non-replaced record exists per nonce.
type Record struct {
	ID      string         `json:"id"`
	ChainID uint64         `json:"chain_id"`
	Hash    common.Hash    `json:"hash"`
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	Value   *big.Int       `json:"value"`
	Data    []byte         `json:"data,omitempty"`

	Nonce    uint64   `json:"nonce"`
	GasLimit uint64   `json:"gas_limit"`
	Fee      FeeModel `json:"fee"`

	Status      Status `json:"status"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
	ReplacedBy  string `json:"replaced_by,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

func newRecord(chainID uint64, from, to common.Address, value *big.Int, data []byte) *Record {
	return &Record{
		ID:        uuid.NewString(),
		ChainID:   chainID,
		From:      from,
		To:        to,
		Value:     value,
		Data:      data,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// MaxCost returns the worst-case total spend of the transaction: value
// plus gas limit times the fee cap.
func (r *Record) MaxCost() *big.Int {
	gas := new(big.Int).Mul(new(big.Int).SetUint64(r.GasLimit), r.Fee.Cap())
	return gas.Add(gas, r.Value)
}
