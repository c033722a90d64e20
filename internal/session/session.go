// Package session holds the process-wide signing identity and contract
// addresses. A Context is immutable once built.
package session

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/vault-gateway/internal/signer"
)

type TokenKind string

const (
	TokenCollateral TokenKind = "collateral"
	TokenDebt       TokenKind = "debt"
)

func ParseTokenKind(raw string) (TokenKind, bool) {
	switch TokenKind(strings.ToLower(strings.TrimSpace(raw))) {
	case TokenCollateral:
		return TokenCollateral, true
	case TokenDebt:
		return TokenDebt, true
	}
	return "", false
}

type Params struct {
	Endpoint          string
	ChainID           *big.Int
	Signer            signer.Signer
	VaultAddress      string
	CollateralAddress string
	DebtAddress       string
}

type Context struct {
	endpoint string
	chainID  *big.Int
	signer   signer.Signer
	vault    common.Address
	tokens   map[TokenKind]common.Address
}

func New(p Params) (*Context, error) {
	if strings.TrimSpace(p.Endpoint) == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if p.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if p.ChainID == nil || p.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id is required")
	}
	vault, err := parseAddress("vault", p.VaultAddress)
	if err != nil {
		return nil, err
	}
	collateral, err := parseAddress("collateral token", p.CollateralAddress)
	if err != nil {
		return nil, err
	}
	debt, err := parseAddress("debt token", p.DebtAddress)
	if err != nil {
		return nil, err
	}
	return &Context{
		endpoint: strings.TrimSpace(p.Endpoint),
		chainID:  new(big.Int).Set(p.ChainID),
		signer:   p.Signer,
		vault:    vault,
		tokens: map[TokenKind]common.Address{
			TokenCollateral: collateral,
			TokenDebt:       debt,
		},
	}, nil
}

func parseAddress(name, raw string) (common.Address, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return common.Address{}, fmt.Errorf("%s address is required", name)
	}
	if !common.IsHexAddress(clean) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", name, clean)
	}
	addr := common.HexToAddress(clean)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s address must not be zero", name)
	}
	return addr, nil
}

func (c *Context) Endpoint() string { return c.endpoint }

func (c *Context) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *Context) Signer() signer.Signer { return c.signer }

func (c *Context) Account() common.Address { return c.signer.Address() }

func (c *Context) Vault() common.Address { return c.vault }

func (c *Context) Token(kind TokenKind) (common.Address, bool) {
	addr, ok := c.tokens[kind]
	return addr, ok
}
