package binding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/vault-gateway/internal/errors"
	"github.com/ggonzalez94/vault-gateway/internal/httpx"
	"github.com/ggonzalez94/vault-gateway/internal/ledger"
	"github.com/ggonzalez94/vault-gateway/internal/registry"
)

const addressPlaceholder = "{address}"

// CodeLookup confirms a contract is deployed at the vault address and binds
// the bundled vault ABI to it.
type CodeLookup struct {
	Reader   ledger.Reader
	Document string
}

func (l CodeLookup) Name() string { return "node" }

func (l CodeLookup) Lookup(ctx context.Context, address common.Address) (abi.ABI, error) {
	code, err := l.Reader.CodeAt(ctx, address, nil)
	if err != nil {
		return abi.ABI{}, clierr.Wrap(clierr.CodeUnavailable, "fetch vault code", err)
	}
	if len(code) == 0 {
		return abi.ABI{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("no contract deployed at vault address %s", address.Hex()))
	}
	doc := l.Document
	if strings.TrimSpace(doc) == "" {
		doc = registry.VaultABI
	}
	return parseVaultABI([]byte(doc))
}

// HTTPLookup fetches the vault ABI from an explorer-style endpoint. URL may
// contain an {address} placeholder; otherwise the address is passed as the
// "address" query parameter.
type HTTPLookup struct {
	Client *httpx.Client
	URL    string
}

func (l HTTPLookup) Name() string { return "abi-source" }

func (l HTTPLookup) Lookup(ctx context.Context, address common.Address) (abi.ABI, error) {
	target, err := l.endpoint(address)
	if err != nil {
		return abi.ABI{}, err
	}
	var raw json.RawMessage
	if err := l.Client.GetJSON(ctx, target, &raw); err != nil {
		return abi.ABI{}, err
	}
	doc, err := extractABIDocument(raw)
	if err != nil {
		return abi.ABI{}, clierr.Wrap(clierr.CodeUnavailable, "decode abi source response", err)
	}
	return parseVaultABI(doc)
}

func (l HTTPLookup) endpoint(address common.Address) (string, error) {
	raw := strings.TrimSpace(l.URL)
	if strings.Contains(raw, addressPlaceholder) {
		return strings.ReplaceAll(raw, addressPlaceholder, address.Hex()), nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "", clierr.New(clierr.CodeUnavailable, fmt.Sprintf("invalid abi source url %q", raw))
	}
	q := u.Query()
	q.Set("address", address.Hex())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// extractABIDocument accepts a bare ABI array, {"abi": [...]}, or an
// explorer envelope {"result": "<abi json string>"}.
func extractABIDocument(raw json.RawMessage) ([]byte, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		return []byte(trimmed), nil
	}
	var envelope struct {
		ABI    json.RawMessage `json:"abi"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	for _, field := range []json.RawMessage{envelope.ABI, envelope.Result} {
		if len(field) == 0 {
			continue
		}
		value := strings.TrimSpace(string(field))
		if strings.HasPrefix(value, "[") {
			return []byte(value), nil
		}
		var nested string
		if err := json.Unmarshal(field, &nested); err == nil && strings.HasPrefix(strings.TrimSpace(nested), "[") {
			return []byte(nested), nil
		}
	}
	return nil, fmt.Errorf("response contains no abi document")
}

func parseVaultABI(doc []byte) (abi.ABI, error) {
	parsed, err := registry.ParseABI(string(doc))
	if err != nil {
		return abi.ABI{}, clierr.Wrap(clierr.CodeUnavailable, "parse vault interface", err)
	}
	if err := registry.CheckEntrypoints(parsed, registry.RequiredVaultEntrypoints); err != nil {
		return abi.ABI{}, clierr.Wrap(clierr.CodeUnavailable, "vault interface incomplete", err)
	}
	return parsed, nil
}
