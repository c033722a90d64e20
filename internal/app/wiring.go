package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ggonzalez94/vault-gateway/internal/binding"
	"github.com/ggonzalez94/vault-gateway/internal/config"
	"github.com/ggonzalez94/vault-gateway/internal/httpx"
	"github.com/ggonzalez94/vault-gateway/internal/ledger"
	"github.com/ggonzalez94/vault-gateway/internal/query"
	"github.com/ggonzalez94/vault-gateway/internal/registry"
	"github.com/ggonzalez94/vault-gateway/internal/server"
	"github.com/ggonzalez94/vault-gateway/internal/session"
	"github.com/ggonzalez94/vault-gateway/internal/signer"
	"github.com/ggonzalez94/vault-gateway/internal/txn"
)

// DialFunc connects to the ledger node. The returned func releases it.
type DialFunc func(ctx context.Context, rawURL string) (ledger.Backend, func(), error)

func dialLedger(ctx context.Context, rawURL string) (ledger.Backend, func(), error) {
	client, err := ledger.Dial(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

type gateway struct {
	handler http.Handler
	session *session.Context
	close   func()
}

func (r *Runner) build(ctx context.Context, settings config.Settings, logger *slog.Logger) (*gateway, error) {
	if err := txn.ValidateGwei(settings.MaxFeeGwei); err != nil {
		return nil, configError{fmt.Errorf("max fee: %w", err)}
	}
	if err := txn.ValidateGwei(settings.MaxPriorityFeeGwei); err != nil {
		return nil, configError{fmt.Errorf("max priority fee: %w", err)}
	}

	txSigner, err := signer.NewLocalSignerForAccount(signer.Config{
		PrivateKeyHex:        settings.PrivateKey,
		PrivateKeyFile:       settings.PrivateKeyFile,
		KeystorePath:         settings.KeystorePath,
		KeystorePassword:     settings.KeystorePassword,
		KeystorePasswordFile: settings.KeystorePasswordFile,
	}, settings.AccountAddress)
	if err != nil {
		return nil, configError{fmt.Errorf("load signer: %w", err)}
	}

	backend, closeBackend, err := r.dial(ctx, settings.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect to ledger: %w", err)
	}
	ok := false
	defer func() {
		if !ok && closeBackend != nil {
			closeBackend()
		}
	}()

	chainID, err := resolveChainID(ctx, backend, settings.ChainID, settings.RequestTimeout)
	if err != nil {
		return nil, err
	}

	sess, err := session.New(session.Params{
		Endpoint:          settings.RPCURL,
		ChainID:           chainID,
		Signer:            txSigner,
		VaultAddress:      settings.VaultAddress,
		CollateralAddress: settings.CollateralAddress,
		DebtAddress:       settings.DebtAddress,
	})
	if err != nil {
		return nil, configError{err}
	}

	var (
		metrics  *server.Metrics
		onLookup func(string, error)
		observer txn.Observer
	)
	if settings.MetricsEnabled {
		metrics = server.NewMetrics()
		onLookup = metrics.ObserveLookup
		observer = metrics.ObserveTxn
	}

	cache := binding.NewCache(sess.Vault(), vaultLookup(settings, backend), binding.Options{
		Timeout:  settings.LookupTimeout,
		Logger:   logger,
		OnLookup: onLookup,
	})
	manager := txn.NewManager(backend, txSigner, sess.ChainID(), txn.Options{
		PollInterval:       settings.PollInterval,
		ConfirmTimeout:     settings.ConfirmTimeout,
		GasMultiplier:      settings.GasMultiplier,
		MaxFeeGwei:         settings.MaxFeeGwei,
		MaxPriorityFeeGwei: settings.MaxPriorityFeeGwei,
	}, logger, observer)
	tokenABI := registry.MustTokenABI()

	srv := server.New(server.Config{
		CORSOrigins:     settings.CORSOrigins,
		RateLimitPerMin: settings.RateLimitPerMin,
		RateLimitBurst:  settings.RateLimitBurst,
		MaxBodyBytes:    settings.MaxBodyBytes,
		ReadTimeout:     settings.RequestTimeout,
		LogRequests:     settings.RequestLogEnabled,
		DisableMint:     settings.DisableMint,
	}, server.Deps{
		Session:  sess,
		Vaults:   cache,
		Reader:   query.NewFacade(backend, cache, tokenABI),
		Txns:     manager,
		TokenABI: tokenABI,
		Metrics:  metrics,
		Logger:   logger,
	})

	ok = true
	closeFn := func() {}
	if closeBackend != nil {
		closeFn = closeBackend
	}
	return &gateway{handler: srv.Handler(), session: sess, close: closeFn}, nil
}

// vaultLookup prefers an explicit ABI source; otherwise the bundled vault
// interface is bound after confirming code exists at the address.
func vaultLookup(settings config.Settings, backend ledger.Reader) binding.Lookup {
	if settings.ABIURL != "" {
		return binding.HTTPLookup{
			Client: httpx.New(settings.LookupTimeout, settings.Retries),
			URL:    settings.ABIURL,
		}
	}
	return binding.CodeLookup{Reader: backend}
}

// resolveChainID asks the node for its chain ID and checks it against the
// configured one, if any.
func resolveChainID(ctx context.Context, backend ledger.Backend, configured int64, timeout time.Duration) (*big.Int, error) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	remote, err := backend.ChainID(callCtx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	if configured > 0 && remote.Cmp(big.NewInt(configured)) != 0 {
		return nil, configError{fmt.Errorf("CHAIN_ID %d does not match node chain id %s", configured, remote)}
	}
	return remote, nil
}
