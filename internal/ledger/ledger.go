// Package ledger adapts the remote JSON-RPC node to the narrow surface the
// gateway needs and classifies node failures at their origin.
package ledger

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/vault-gateway/internal/errors"
)

// Reader covers read-only calls.
type Reader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Backend is the node surface used for reads and write submission.
// *ethclient.Client satisfies it.
type Backend interface {
	Reader
	ChainID(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to the node at rawURL.
func Dial(ctx context.Context, rawURL string) (*ethclient.Client, error) {
	clean := strings.TrimSpace(rawURL)
	if clean == "" {
		return nil, clierr.New(clierr.CodeValidation, "missing rpc url")
	}
	client, err := ethclient.DialContext(ctx, clean)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	return client, nil
}
