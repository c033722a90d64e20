package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"RPC_URL", "CHAIN_ID", "ACCOUNT_ADDRESS", "PRIVATE_KEY", "PRIVATE_KEY_FILE",
	"KEYSTORE_PATH", "KEYSTORE_PASSWORD", "KEYSTORE_PASSWORD_FILE",
	"VAULT_ADDRESS", "COLLATERAL_TOKEN_ADDRESS", "DEBT_TOKEN_ADDRESS", "PORT",
	"GATEWAY_CONFIG", "GATEWAY_ABI_URL", "GATEWAY_LOG_LEVEL", "GATEWAY_ENV",
	"GATEWAY_CONFIRM_TIMEOUT", "GATEWAY_POLL_INTERVAL", "GATEWAY_REQUEST_TIMEOUT",
	"GATEWAY_LOOKUP_TIMEOUT", "GATEWAY_GAS_MULTIPLIER", "GATEWAY_RETRIES",
	"GATEWAY_RATE_LIMIT", "GATEWAY_RATE_BURST", "GATEWAY_CORS_ORIGINS",
	"GATEWAY_MAX_FEE_GWEI", "GATEWAY_MAX_PRIORITY_FEE_GWEI", "GATEWAY_DISABLE_MINT",
}

// isolate clears every variable Load reads.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RPC_URL", "http://127.0.0.1:8545")
	t.Setenv("ACCOUNT_ADDRESS", "0x00000000000000000000000000000000000000aa")
	t.Setenv("PRIVATE_KEY", "0x59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1")
	t.Setenv("VAULT_ADDRESS", "0x00000000000000000000000000000000000000a1")
	t.Setenv("COLLATERAL_TOKEN_ADDRESS", "0x00000000000000000000000000000000000000c1")
	t.Setenv("DEBT_TOKEN_ADDRESS", "0x00000000000000000000000000000000000000d1")
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	settings, err := Load(Flags{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Port != DefaultPort {
		t.Fatalf("expected default port %d, got %d", DefaultPort, settings.Port)
	}
	if settings.ConfirmTimeout != 2*time.Minute {
		t.Fatalf("unexpected confirm timeout %s", settings.ConfirmTimeout)
	}
	if settings.ListenAddress() != ":3001" {
		t.Fatalf("unexpected listen address %s", settings.ListenAddress())
	}
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	isolate(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	doc := "port: 4000\nrpc_url: http://file:8545\ntransactions:\n  confirm_timeout: 30s\n  gas_multiplier: 1.5\nlogging:\n  level: debug\n"
	if err := os.WriteFile(configPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PORT", "5000")
	t.Setenv("GATEWAY_CONFIRM_TIMEOUT", "45s")

	settings, err := Load(Flags{ConfigPath: configPath, Port: 6000})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Port != 6000 {
		t.Fatalf("expected flag to win, got port=%d", settings.Port)
	}
	if settings.ConfirmTimeout != 45*time.Second {
		t.Fatalf("expected env to beat file, got %s", settings.ConfirmTimeout)
	}
	if settings.RPCURL != "http://file:8545" || settings.GasMultiplier != 1.5 || settings.LogLevel != "debug" {
		t.Fatalf("expected file values, got %+v", settings)
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("VAULT_ADDRESS", "0x00000000000000000000000000000000000000a1")
	os.Unsetenv("DEBT_TOKEN_ADDRESS")
	t.Cleanup(func() { os.Unsetenv("DEBT_TOKEN_ADDRESS") })

	envPath := filepath.Join(t.TempDir(), "gateway.env")
	doc := "VAULT_ADDRESS=0x00000000000000000000000000000000000000ff\nDEBT_TOKEN_ADDRESS=0x00000000000000000000000000000000000000d1\n"
	if err := os.WriteFile(envPath, []byte(doc), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	settings, err := Load(Flags{EnvFile: envPath})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.VaultAddress != "0x00000000000000000000000000000000000000a1" {
		t.Fatalf("expected process env to win, got %s", settings.VaultAddress)
	}
	if settings.DebtAddress != "0x00000000000000000000000000000000000000d1" {
		t.Fatalf("expected dotenv value, got %q", settings.DebtAddress)
	}
}

func TestLoadMissingExplicitEnvFile(t *testing.T) {
	isolate(t)
	if _, err := Load(Flags{EnvFile: filepath.Join(t.TempDir(), "missing.env")}); err == nil {
		t.Fatal("expected error for missing explicit env file")
	}
}

func TestLoadRejectsMalformedEnv(t *testing.T) {
	isolate(t)
	t.Setenv("GATEWAY_POLL_INTERVAL", "soon")
	if _, err := Load(Flags{}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadChainDefaultRPC(t *testing.T) {
	isolate(t)
	t.Setenv("CHAIN_ID", "31337")
	settings, err := Load(Flags{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.RPCURL != "http://127.0.0.1:8545" {
		t.Fatalf("expected chain default rpc, got %q", settings.RPCURL)
	}
}

func TestValidate(t *testing.T) {
	isolate(t)
	validEnv(t)
	settings, err := Load(Flags{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := settings.Validate(); err != nil {
		t.Fatalf("expected valid settings, got %v", err)
	}

	cases := map[string]func(s *Settings){
		"RPC_URL is required":     func(s *Settings) { s.RPCURL = "" },
		"PRIVATE_KEY is required": func(s *Settings) { s.PrivateKey = "" },
		"VAULT_ADDRESS":           func(s *Settings) { s.VaultAddress = "0x1234" },
		"DEBT_TOKEN_ADDRESS":      func(s *Settings) { s.DebtAddress = "" },
		"poll interval":           func(s *Settings) { s.PollInterval = 5 * time.Minute },
		"gas multiplier":          func(s *Settings) { s.GasMultiplier = 1 },
		"unsupported log level":   func(s *Settings) { s.LogLevel = "trace" },
		"out of range":            func(s *Settings) { s.Port = 70000 },
		"http(s) or ws(s)":        func(s *Settings) { s.RPCURL = "127.0.0.1:8545" },
	}
	for want, mutate := range cases {
		broken := settings
		mutate(&broken)
		err := broken.Validate()
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error containing %q, got %v", want, err)
		}
	}
}
