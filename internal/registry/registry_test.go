package registry

import "testing"

func TestVaultABIHasRequiredEntrypoints(t *testing.T) {
	parsed, err := ParseABI(VaultABI)
	if err != nil {
		t.Fatalf("ParseABI failed: %v", err)
	}
	if err := CheckEntrypoints(parsed, RequiredVaultEntrypoints); err != nil {
		t.Fatalf("expected all entrypoints present: %v", err)
	}
}

func TestCheckEntrypointsReportsMissing(t *testing.T) {
	parsed := MustTokenABI()
	if err := CheckEntrypoints(parsed, []string{EntrypointMint, EntrypointLiquidate}); err == nil {
		t.Fatal("expected missing liquidate entrypoint")
	}
}

func TestAmountArgumentsAreWordPairs(t *testing.T) {
	parsed, err := ParseABI(VaultABI)
	if err != nil {
		t.Fatalf("ParseABI failed: %v", err)
	}
	for _, name := range []string{EntrypointDeposit, EntrypointWithdraw, EntrypointBorrow, EntrypointRepay, EntrypointSetPrice} {
		method := parsed.Methods[name]
		if len(method.Inputs) != 2 {
			t.Fatalf("%s: expected two inputs, got %d", name, len(method.Inputs))
		}
		for _, in := range method.Inputs {
			if in.Type.String() != "uint128" {
				t.Fatalf("%s: expected uint128 input, got %s", name, in.Type.String())
			}
		}
	}
}

func TestResolveRPCURL(t *testing.T) {
	got, err := ResolveRPCURL(" http://node:8545 ", 0)
	if err != nil || got != "http://node:8545" {
		t.Fatalf("expected override to win, got %q err=%v", got, err)
	}
	got, err = ResolveRPCURL("", 31337)
	if err != nil || got != "http://127.0.0.1:8545" {
		t.Fatalf("expected local devnet default, got %q err=%v", got, err)
	}
	if _, err := ResolveRPCURL("", 0); err == nil {
		t.Fatal("expected error without url or chain id")
	}
	if _, err := ResolveRPCURL("", 999999); err == nil {
		t.Fatal("expected error for unknown chain id")
	}
}
