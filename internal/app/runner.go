package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggonzalez94/vault-gateway/internal/config"
	"github.com/ggonzalez94/vault-gateway/internal/logging"
	"github.com/ggonzalez94/vault-gateway/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	// dial and listen are replaced in tests.
	dial   DialFunc
	listen func(network, address string) (net.Listener, error)
	// ready, when set, receives the bound address once the server accepts.
	ready chan<- string
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
		dial:   dialLedger,
		listen: net.Listen,
	}
}

type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func (r *Runner) Run(args []string) int {
	return r.RunContext(context.Background(), args)
}

func (r *Runner) RunContext(ctx context.Context, args []string) int {
	root := r.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	_, _ = fmt.Fprintf(r.stderr, "error: %v\n", err)
	var cfgErr configError
	if errors.As(err, &cfgErr) {
		return exitConfig
	}
	return exitError
}

func (r *Runner) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.Name,
		Short: "HTTP gateway for a collateralized debt position vault",
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return configError{fmt.Errorf("parse flags: %w", err)}
	})
	cmd.AddCommand(r.newServeCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func (r *Runner) newServeCommand() *cobra.Command {
	var flags config.Flags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(flags)
			if err != nil {
				return configError{fmt.Errorf("load configuration: %w", err)}
			}
			if err := settings.Validate(); err != nil {
				return configError{fmt.Errorf("invalid configuration: %w", err)}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger := logging.Setup(version.Name, settings.Env, settings.LogLevel, r.stdout)
			return r.serve(ctx, settings, logger)
		},
	}
	bindServeFlags(cmd.Flags(), &flags)
	return cmd
}

func bindServeFlags(fs *pflag.FlagSet, flags *config.Flags) {
	fs.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	fs.StringVar(&flags.EnvFile, "env-file", "", "Path to a dotenv file (default .env when present)")
	fs.IntVar(&flags.Port, "port", 0, "Listen port (overrides PORT)")
	fs.StringVar(&flags.RPCURL, "rpc-url", "", "Ledger JSON-RPC endpoint (overrides RPC_URL)")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func (r *Runner) serve(ctx context.Context, settings config.Settings, logger *slog.Logger) error {
	gw, err := r.build(ctx, settings, logger)
	if err != nil {
		return err
	}
	defer gw.close()

	listener, err := r.listen("tcp", settings.ListenAddress())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	// Request contexts end when shutdown starts, so confirmation waits
	// answer with TimedOut and their hash instead of a dropped connection.
	requests, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRequests()
	srv := &http.Server{
		Handler:           gw.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return requests },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening",
			"addr", listener.Addr().String(), "vault", gw.session.Vault().Hex(),
			"account", gw.session.Account().Hex(), "chain_id", gw.session.ChainID().String())
		serveErr <- srv.Serve(listener)
	}()
	if r.ready != nil {
		r.ready <- listener.Addr().String()
	}

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", settings.ShutdownTimeout.String())
	cancelRequests()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print gateway version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}
