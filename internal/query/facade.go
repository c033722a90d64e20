// Package query runs read-only vault and token calls.
package query

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/vault-gateway/internal/binding"
	clierr "github.com/ggonzalez94/vault-gateway/internal/errors"
	"github.com/ggonzalez94/vault-gateway/internal/ledger"
	"github.com/ggonzalez94/vault-gateway/internal/registry"
	"github.com/ggonzalez94/vault-gateway/internal/wide"
	"golang.org/x/sync/errgroup"
)

type Position struct {
	Collateral   wide.Int `json:"collateral"`
	Debt         wide.Int `json:"debt"`
	HealthFactor wide.Int `json:"healthFactor"`
}

// VaultResolver supplies the resolved vault binding.
type VaultResolver interface {
	Resolve(ctx context.Context) (*binding.Vault, error)
}

type Facade struct {
	reader   ledger.Reader
	vaults   VaultResolver
	tokenABI abi.ABI
}

func NewFacade(reader ledger.Reader, vaults VaultResolver, tokenABI abi.ABI) *Facade {
	return &Facade{reader: reader, vaults: vaults, tokenABI: tokenABI}
}

func (f *Facade) Price(ctx context.Context) (wide.Int, error) {
	vault, err := f.vaults.Resolve(ctx)
	if err != nil {
		return wide.Int{}, err
	}
	out, err := f.call(ctx, vault.Address, vault.ABI, registry.EntrypointGetPrice)
	if err != nil {
		return wide.Int{}, err
	}
	return wordsAt(out, 0, registry.EntrypointGetPrice)
}

// Position reads the position and health factor concurrently. The two reads
// are not atomic with respect to each other.
func (f *Facade) Position(ctx context.Context, account common.Address) (Position, error) {
	vault, err := f.vaults.Resolve(ctx)
	if err != nil {
		return Position{}, err
	}

	var pos Position
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := f.call(gctx, vault.Address, vault.ABI, registry.EntrypointGetPosition, account)
		if err != nil {
			return err
		}
		if pos.Collateral, err = wordsAt(out, 0, registry.EntrypointGetPosition); err != nil {
			return err
		}
		pos.Debt, err = wordsAt(out, 2, registry.EntrypointGetPosition)
		return err
	})
	g.Go(func() error {
		out, err := f.call(gctx, vault.Address, vault.ABI, registry.EntrypointHealthFactor, account)
		if err != nil {
			return err
		}
		pos.HealthFactor, err = wordsAt(out, 0, registry.EntrypointHealthFactor)
		return err
	})
	if err := g.Wait(); err != nil {
		return Position{}, err
	}
	return pos, nil
}

// Balance reads a token balance; it does not need the vault binding.
func (f *Facade) Balance(ctx context.Context, token, holder common.Address) (wide.Int, error) {
	out, err := f.call(ctx, token, f.tokenABI, registry.EntrypointBalanceOf, holder)
	if err != nil {
		return wide.Int{}, err
	}
	return wordsAt(out, 0, registry.EntrypointBalanceOf)
}

func (f *Facade) call(ctx context.Context, target common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s calldata", method), err)
	}
	raw, err := f.reader.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
	if err != nil {
		return nil, ledger.ClassifyCallError("call "+method, err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("decode %s result", method), err)
	}
	return out, nil
}

func wordsAt(out []any, idx int, method string) (wide.Int, error) {
	if len(out) < idx+2 {
		return wide.Int{}, clierr.New(clierr.CodeInternal, fmt.Sprintf("%s returned %d values", method, len(out)))
	}
	return wide.FromWordValues(out[idx], out[idx+1])
}
