package registry

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Vault entrypoints.
const (
	EntrypointGetPrice     = "get_btc_price"
	EntrypointSetPrice     = "set_btc_price"
	EntrypointGetPosition  = "get_position"
	EntrypointHealthFactor = "get_health_factor"
	EntrypointDeposit      = "deposit_collateral"
	EntrypointWithdraw     = "withdraw_collateral"
	EntrypointBorrow       = "borrow"
	EntrypointRepay        = "repay"
	EntrypointLiquidate    = "liquidate"
)

// Token entrypoints.
const (
	EntrypointMint      = "mint"
	EntrypointApprove   = "approve"
	EntrypointBalanceOf = "balance_of"
)

// RequiredVaultEntrypoints must all be present in a resolved vault interface.
var RequiredVaultEntrypoints = []string{
	EntrypointGetPrice,
	EntrypointSetPrice,
	EntrypointGetPosition,
	EntrypointHealthFactor,
	EntrypointDeposit,
	EntrypointWithdraw,
	EntrypointBorrow,
	EntrypointRepay,
	EntrypointLiquidate,
}

func ParseABI(doc string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(doc))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	return parsed, nil
}

// CheckEntrypoints reports the first required method missing from parsed.
func CheckEntrypoints(parsed abi.ABI, required []string) error {
	for _, name := range required {
		if _, ok := parsed.Methods[name]; !ok {
			return fmt.Errorf("interface is missing entrypoint %q", name)
		}
	}
	return nil
}

func MustTokenABI() abi.ABI {
	parsed, err := ParseABI(TokenABI)
	if err != nil {
		panic(err)
	}
	return parsed
}
