// Package id validates account and contract identifiers taken from requests.
package id

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/vault-gateway/internal/errors"
)

var evmAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ParseAddress requires a 0x-prefixed 20-byte hex address. Mixed-case input
// must carry a valid checksum.
func ParseAddress(field, raw string) (common.Address, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return common.Address{}, clierr.New(clierr.CodeValidation, field+" is required")
	}
	if !evmAddressPattern.MatchString(clean) {
		return common.Address{}, clierr.New(clierr.CodeValidation, field+" must be a 0x-prefixed 20-byte hex address")
	}
	addr := common.HexToAddress(clean)
	if isMixedCase(clean[2:]) && addr.Hex() != clean {
		return common.Address{}, clierr.New(clierr.CodeValidation, field+" has an invalid checksum")
	}
	return addr, nil
}

// ParseRecipient is ParseAddress that also rejects the zero address.
func ParseRecipient(field, raw string) (common.Address, error) {
	addr, err := ParseAddress(field, raw)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, clierr.New(clierr.CodeValidation, field+" must not be the zero address")
	}
	return addr, nil
}

func isMixedCase(hex string) bool {
	return strings.ToLower(hex) != hex && strings.ToUpper(hex) != hex
}
