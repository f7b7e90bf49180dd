// Package network maintains redundant RPC endpoint pools per chain, with
// periodic health checks, latency-aware failover and tiered fee estimates.
package network

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the narrow RPC surface the wallet core consumes from a chain
// endpoint. *ethclient.Client satisfies it; tests substitute fakes.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Dialer opens a Client for an endpoint URL. Injectable so tests can run
// against scripted fakes instead of live RPC servers.
type Dialer func(url string) (Client, error)

// DialEthclient is the production dialer.
func DialEthclient(url string) (Client, error) {
	c, err := ethclient.Dial(url)
	if err != nil {
		return nil, err
	}
	return c, nil
}
