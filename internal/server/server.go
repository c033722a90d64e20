// Package server exposes the vault gateway's HTTP surface.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/vault-gateway/internal/query"
	"github.com/ggonzalez94/vault-gateway/internal/registry"
	"github.com/ggonzalez94/vault-gateway/internal/session"
	"github.com/ggonzalez94/vault-gateway/internal/txn"
	"github.com/ggonzalez94/vault-gateway/internal/wide"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Reader serves the read-only routes.
type Reader interface {
	Price(ctx context.Context) (wide.Int, error)
	Position(ctx context.Context, account common.Address) (query.Position, error)
	Balance(ctx context.Context, token, holder common.Address) (wide.Int, error)
}

// Submitter runs one write to finality.
type Submitter interface {
	Submit(ctx context.Context, call txn.Call) (txn.Receipt, error)
}

type Config struct {
	CORSOrigins     []string
	RateLimitPerMin float64
	RateLimitBurst  int
	MaxBodyBytes    int64
	ReadTimeout     time.Duration
	LogRequests     bool
	// DisableMint removes the test-only mint routes.
	DisableMint bool
}

type Deps struct {
	Session  *session.Context
	Vaults   query.VaultResolver
	Reader   Reader
	Txns     Submitter
	TokenABI abi.ABI
	// Metrics is optional; /metrics is only mounted when set.
	Metrics *Metrics
	Logger  *slog.Logger
}

type Server struct {
	cfg      Config
	session  *session.Context
	vaults   query.VaultResolver
	reader   Reader
	txns     Submitter
	tokenABI abi.ABI
	metrics  *Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		session:  deps.Session,
		vaults:   deps.Vaults,
		reader:   deps.Reader,
		txns:     deps.Txns,
		tokenABI: deps.TokenABI,
		metrics:  deps.Metrics,
		logger:   logger,
		tracer:   otel.Tracer("vault-gateway/server"),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(cors(corsConfig{AllowedOrigins: s.cfg.CORSOrigins}))
	r.Use(s.observe)
	r.Use(s.recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(timeout(s.cfg.ReadTimeout))
		r.Get("/price", s.getPrice)
		r.Get("/position/{address}", s.getPosition)
		r.Get("/balance/{token}/{address}", s.getBalance)
	})

	r.Group(func(r chi.Router) {
		r.Use(limitBody(s.cfg.MaxBodyBytes))
		if s.cfg.RateLimitPerMin > 0 {
			r.Use(newRateLimiter(s.cfg.RateLimitPerMin, s.cfg.RateLimitBurst, s.logger).middleware)
		}
		r.Post("/price", s.setPrice)
		r.Post("/deposit", s.vaultAmountWrite(registry.EntrypointDeposit))
		r.Post("/borrow", s.vaultAmountWrite(registry.EntrypointBorrow))
		r.Post("/repay", s.vaultAmountWrite(registry.EntrypointRepay))
		r.Post("/withdraw", s.vaultAmountWrite(registry.EntrypointWithdraw))
		r.Post("/liquidate", s.liquidate)
		if !s.cfg.DisableMint {
			r.Post("/mint/collateral", s.mint(session.TokenCollateral))
			r.Post("/mint/debt", s.mint(session.TokenDebt))
		}
		r.Post("/approve/collateral", s.approve(session.TokenCollateral))
		r.Post("/approve/debt", s.approve(session.TokenDebt))
	})

	r.NotFound(s.notFound)
	r.MethodNotAllowed(s.methodNotAllowed)
	return r
}

// requestLogger tags log lines with the request ID.
func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	if id := RequestID(r.Context()); id != "" {
		return s.logger.With("request_id", id)
	}
	return s.logger
}
