package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/vault-gateway/internal/registry"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort    = 3001
	DefaultEnvFile = ".env"
)

type Flags struct {
	ConfigPath string
	EnvFile    string
	Port       int
	RPCURL     string
	LogLevel   string
}

type Settings struct {
	RPCURL  string
	ChainID int64

	AccountAddress       string
	PrivateKey           string
	PrivateKeyFile       string
	KeystorePath         string
	KeystorePassword     string
	KeystorePasswordFile string

	VaultAddress      string
	CollateralAddress string
	DebtAddress       string
	ABIURL            string

	Port           int
	RequestTimeout time.Duration
	LookupTimeout  time.Duration
	Retries        int

	ConfirmTimeout     time.Duration
	PollInterval       time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string

	LogLevel          string
	Env               string
	RateLimitPerMin   float64
	RateLimitBurst    int
	CORSOrigins       []string
	MaxBodyBytes      int64
	ShutdownTimeout   time.Duration
	MetricsEnabled    bool
	RequestLogEnabled bool
	DisableMint       bool
}

type fileConfig struct {
	RPCURL  string `yaml:"rpc_url"`
	ChainID *int64 `yaml:"chain_id"`
	Port    *int   `yaml:"port"`
	Account struct {
		Address              string `yaml:"address"`
		PrivateKeyEnv        string `yaml:"private_key_env"`
		PrivateKeyFile       string `yaml:"private_key_file"`
		KeystorePath         string `yaml:"keystore_path"`
		KeystorePasswordFile string `yaml:"keystore_password_file"`
	} `yaml:"account"`
	Contracts struct {
		Vault      string `yaml:"vault"`
		Collateral string `yaml:"collateral_token"`
		Debt       string `yaml:"debt_token"`
		ABIURL     string `yaml:"abi_url"`
	} `yaml:"contracts"`
	Transactions struct {
		ConfirmTimeout     string   `yaml:"confirm_timeout"`
		PollInterval       string   `yaml:"poll_interval"`
		GasMultiplier      *float64 `yaml:"gas_multiplier"`
		MaxFeeGwei         string   `yaml:"max_fee_gwei"`
		MaxPriorityFeeGwei string   `yaml:"max_priority_fee_gwei"`
	} `yaml:"transactions"`
	HTTP struct {
		RequestTimeout  string   `yaml:"request_timeout"`
		LookupTimeout   string   `yaml:"lookup_timeout"`
		Retries         *int     `yaml:"retries"`
		RateLimit       *float64 `yaml:"rate_limit_per_minute"`
		RateBurst       *int     `yaml:"rate_burst"`
		CORSOrigins     []string `yaml:"cors_origins"`
		MaxBodyBytes    *int64   `yaml:"max_body_bytes"`
		ShutdownTimeout string   `yaml:"shutdown_timeout"`
		Metrics         *bool    `yaml:"metrics"`
		LogRequests     *bool    `yaml:"log_requests"`
		DisableMint     *bool    `yaml:"disable_mint"`
	} `yaml:"http"`
	Logging struct {
		Level string `yaml:"level"`
		Env   string `yaml:"env"`
	} `yaml:"logging"`
}

// Load layers defaults, the YAML file, the dotenv file, the environment and
// flags, in increasing precedence. Variables already present in the process
// environment are never overwritten by the dotenv file.
func Load(flags Flags) (Settings, error) {
	settings := defaultSettings()

	if err := loadDotEnv(flags.EnvFile); err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}
	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}
	applyFlags(flags, &settings)

	// An unresolvable endpoint is left empty for Validate to report.
	if url, err := registry.ResolveRPCURL(settings.RPCURL, settings.ChainID); err == nil {
		settings.RPCURL = url
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	return settings, nil
}

func defaultSettings() Settings {
	return Settings{
		Port:              DefaultPort,
		RequestTimeout:    15 * time.Second,
		LookupTimeout:     15 * time.Second,
		Retries:           2,
		ConfirmTimeout:    2 * time.Minute,
		PollInterval:      2 * time.Second,
		GasMultiplier:     1.2,
		LogLevel:          "info",
		RateLimitPerMin:   0,
		RateLimitBurst:    10,
		CORSOrigins:       []string{"*"},
		MaxBodyBytes:      64 << 10,
		ShutdownTimeout:   10 * time.Second,
		MetricsEnabled:    true,
		RequestLogEnabled: true,
	}
}

func loadDotEnv(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultEnvFile
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read env file: %w", err)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("parse env file %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	if v := os.Getenv("GATEWAY_CONFIG"); v != "" {
		return v, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "vault-gateway", "config.yaml"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	setString(&settings.RPCURL, cfg.RPCURL)
	if cfg.ChainID != nil {
		settings.ChainID = *cfg.ChainID
	}
	if cfg.Port != nil {
		settings.Port = *cfg.Port
	}

	setString(&settings.AccountAddress, cfg.Account.Address)
	if cfg.Account.PrivateKeyEnv != "" {
		settings.PrivateKey = os.Getenv(cfg.Account.PrivateKeyEnv)
	}
	setString(&settings.PrivateKeyFile, cfg.Account.PrivateKeyFile)
	setString(&settings.KeystorePath, cfg.Account.KeystorePath)
	setString(&settings.KeystorePasswordFile, cfg.Account.KeystorePasswordFile)

	setString(&settings.VaultAddress, cfg.Contracts.Vault)
	setString(&settings.CollateralAddress, cfg.Contracts.Collateral)
	setString(&settings.DebtAddress, cfg.Contracts.Debt)
	setString(&settings.ABIURL, cfg.Contracts.ABIURL)

	if err := setDuration(&settings.ConfirmTimeout, cfg.Transactions.ConfirmTimeout, "transactions.confirm_timeout"); err != nil {
		return err
	}
	if err := setDuration(&settings.PollInterval, cfg.Transactions.PollInterval, "transactions.poll_interval"); err != nil {
		return err
	}
	if cfg.Transactions.GasMultiplier != nil {
		settings.GasMultiplier = *cfg.Transactions.GasMultiplier
	}
	setString(&settings.MaxFeeGwei, cfg.Transactions.MaxFeeGwei)
	setString(&settings.MaxPriorityFeeGwei, cfg.Transactions.MaxPriorityFeeGwei)

	if err := setDuration(&settings.RequestTimeout, cfg.HTTP.RequestTimeout, "http.request_timeout"); err != nil {
		return err
	}
	if err := setDuration(&settings.LookupTimeout, cfg.HTTP.LookupTimeout, "http.lookup_timeout"); err != nil {
		return err
	}
	if err := setDuration(&settings.ShutdownTimeout, cfg.HTTP.ShutdownTimeout, "http.shutdown_timeout"); err != nil {
		return err
	}
	if cfg.HTTP.Retries != nil {
		settings.Retries = *cfg.HTTP.Retries
	}
	if cfg.HTTP.RateLimit != nil {
		settings.RateLimitPerMin = *cfg.HTTP.RateLimit
	}
	if cfg.HTTP.RateBurst != nil {
		settings.RateLimitBurst = *cfg.HTTP.RateBurst
	}
	if len(cfg.HTTP.CORSOrigins) > 0 {
		settings.CORSOrigins = cfg.HTTP.CORSOrigins
	}
	if cfg.HTTP.MaxBodyBytes != nil {
		settings.MaxBodyBytes = *cfg.HTTP.MaxBodyBytes
	}
	if cfg.HTTP.Metrics != nil {
		settings.MetricsEnabled = *cfg.HTTP.Metrics
	}
	if cfg.HTTP.LogRequests != nil {
		settings.RequestLogEnabled = *cfg.HTTP.LogRequests
	}
	if cfg.HTTP.DisableMint != nil {
		settings.DisableMint = *cfg.HTTP.DisableMint
	}

	setString(&settings.LogLevel, strings.ToLower(cfg.Logging.Level))
	setString(&settings.Env, cfg.Logging.Env)
	return nil
}

func applyEnv(settings *Settings) error {
	setString(&settings.RPCURL, os.Getenv("RPC_URL"))
	setString(&settings.AccountAddress, os.Getenv("ACCOUNT_ADDRESS"))
	setString(&settings.PrivateKey, os.Getenv("PRIVATE_KEY"))
	setString(&settings.PrivateKeyFile, os.Getenv("PRIVATE_KEY_FILE"))
	setString(&settings.KeystorePath, os.Getenv("KEYSTORE_PATH"))
	setString(&settings.KeystorePassword, os.Getenv("KEYSTORE_PASSWORD"))
	setString(&settings.KeystorePasswordFile, os.Getenv("KEYSTORE_PASSWORD_FILE"))
	setString(&settings.VaultAddress, os.Getenv("VAULT_ADDRESS"))
	setString(&settings.CollateralAddress, os.Getenv("COLLATERAL_TOKEN_ADDRESS"))
	setString(&settings.DebtAddress, os.Getenv("DEBT_TOKEN_ADDRESS"))
	setString(&settings.ABIURL, os.Getenv("GATEWAY_ABI_URL"))
	setString(&settings.MaxFeeGwei, os.Getenv("GATEWAY_MAX_FEE_GWEI"))
	setString(&settings.MaxPriorityFeeGwei, os.Getenv("GATEWAY_MAX_PRIORITY_FEE_GWEI"))
	setString(&settings.LogLevel, strings.ToLower(os.Getenv("GATEWAY_LOG_LEVEL")))
	setString(&settings.Env, os.Getenv("GATEWAY_ENV"))

	if v := os.Getenv("CHAIN_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse CHAIN_ID: %w", err)
		}
		settings.ChainID = n
	}
	if v := os.Getenv("PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse PORT: %w", err)
		}
		settings.Port = n
	}
	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"GATEWAY_CONFIRM_TIMEOUT", &settings.ConfirmTimeout},
		{"GATEWAY_POLL_INTERVAL", &settings.PollInterval},
		{"GATEWAY_REQUEST_TIMEOUT", &settings.RequestTimeout},
		{"GATEWAY_LOOKUP_TIMEOUT", &settings.LookupTimeout},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, os.Getenv(d.name), d.name); err != nil {
			return err
		}
	}
	if v := os.Getenv("GATEWAY_GAS_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse GATEWAY_GAS_MULTIPLIER: %w", err)
		}
		settings.GasMultiplier = f
	}
	if v := os.Getenv("GATEWAY_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse GATEWAY_RETRIES: %w", err)
		}
		settings.Retries = n
	}
	if v := os.Getenv("GATEWAY_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse GATEWAY_RATE_LIMIT: %w", err)
		}
		settings.RateLimitPerMin = f
	}
	if v := os.Getenv("GATEWAY_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse GATEWAY_RATE_BURST: %w", err)
		}
		settings.RateLimitBurst = n
	}
	if v := os.Getenv("GATEWAY_DISABLE_MINT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse GATEWAY_DISABLE_MINT: %w", err)
		}
		settings.DisableMint = b
	}
	if v := os.Getenv("GATEWAY_CORS_ORIGINS"); v != "" {
		settings.CORSOrigins = splitList(v)
	}
	return nil
}

func applyFlags(flags Flags, settings *Settings) {
	setString(&settings.RPCURL, flags.RPCURL)
	setString(&settings.LogLevel, strings.ToLower(flags.LogLevel))
	if flags.Port > 0 {
		settings.Port = flags.Port
	}
}

// Validate reports the first missing or malformed startup setting.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.RPCURL) == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if !strings.HasPrefix(s.RPCURL, "http://") && !strings.HasPrefix(s.RPCURL, "https://") &&
		!strings.HasPrefix(s.RPCURL, "ws://") && !strings.HasPrefix(s.RPCURL, "wss://") {
		return fmt.Errorf("RPC_URL must be an http(s) or ws(s) url")
	}
	if s.PrivateKey == "" && s.PrivateKeyFile == "" && s.KeystorePath == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}
	addresses := []struct {
		name  string
		value string
	}{
		{"ACCOUNT_ADDRESS", s.AccountAddress},
		{"VAULT_ADDRESS", s.VaultAddress},
		{"COLLATERAL_TOKEN_ADDRESS", s.CollateralAddress},
		{"DEBT_TOKEN_ADDRESS", s.DebtAddress},
	}
	for _, a := range addresses {
		v := strings.TrimSpace(a.value)
		if v == "" {
			return fmt.Errorf("%s is required", a.name)
		}
		if !common.IsHexAddress(v) {
			return fmt.Errorf("%s is not a valid address", a.name)
		}
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	if s.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm timeout must be positive")
	}
	if s.PollInterval <= 0 || s.PollInterval >= s.ConfirmTimeout {
		return fmt.Errorf("poll interval must be positive and shorter than the confirm timeout")
	}
	if s.GasMultiplier <= 1 {
		return fmt.Errorf("gas multiplier must be > 1")
	}
	if s.RateLimitPerMin < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", s.LogLevel)
	}
	return nil
}

// ListenAddress is the TCP address the server binds.
func (s Settings) ListenAddress() string {
	return fmt.Sprintf(":%d", s.Port)
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, name string) error {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
