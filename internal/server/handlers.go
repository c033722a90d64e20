package server

import (
	"net/http"

	clierr "github.com/ggonzalez94/vault-gateway/internal/errors"
	"github.com/ggonzalez94/vault-gateway/internal/id"
	"github.com/ggonzalez94/vault-gateway/internal/out"
	"github.com/ggonzalez94/vault-gateway/internal/registry"
	"github.com/ggonzalez94/vault-gateway/internal/session"
	"github.com/ggonzalez94/vault-gateway/internal/txn"
	"github.com/go-chi/chi/v5"
)

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	out.Error(w, s.requestLogger(r), err)
}

func (s *Server) getPrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.reader.Price(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out.JSON(w, http.StatusOK, priceResponse{Price: price})
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	account, err := id.ParseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	pos, err := s.reader.Position(r.Context(), account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out.JSON(w, http.StatusOK, pos)
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	kind, ok := session.ParseTokenKind(chi.URLParam(r, "token"))
	if !ok {
		s.fail(w, r, clierr.New(clierr.CodeValidation, "token must be collateral or debt"))
		return
	}
	holder, err := id.ParseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	token, _ := s.session.Token(kind)
	balance, err := s.reader.Balance(r.Context(), token, holder)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out.JSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

func (s *Server) setPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	price, err := req.Price.parse("price")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.submitVault(w, r, registry.EntrypointSetPrice, price.Words()...)
}

func (s *Server) vaultAmountWrite(entrypoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req amountRequest
		if err := decodeBody(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		amount, err := req.Amount.parse("amount")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.submitVault(w, r, entrypoint, amount.Words()...)
	}
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := id.ParseRecipient("user", req.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.submitVault(w, r, registry.EntrypointLiquidate, user)
}

func (s *Server) mint(kind session.TokenKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req mintRequest
		if err := decodeBody(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		to, err := id.ParseRecipient("to", req.To)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		amount, err := req.Amount.parse("amount")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		token, _ := s.session.Token(kind)
		args := append([]any{to}, amount.Words()...)
		s.submit(w, r, txn.Call{Target: token, Entrypoint: registry.EntrypointMint, ABI: s.tokenABI, Args: args})
	}
}

// approve lets the vault spend amount of the signer's tokens.
func (s *Server) approve(kind session.TokenKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req amountRequest
		if err := decodeBody(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		amount, err := req.Amount.parse("amount")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		token, _ := s.session.Token(kind)
		args := append([]any{s.session.Vault()}, amount.Words()...)
		s.submit(w, r, txn.Call{Target: token, Entrypoint: registry.EntrypointApprove, ABI: s.tokenABI, Args: args})
	}
}

func (s *Server) submitVault(w http.ResponseWriter, r *http.Request, entrypoint string, args ...any) {
	vault, err := s.vaults.Resolve(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.submit(w, r, txn.Call{Target: vault.Address, Entrypoint: entrypoint, ABI: vault.ABI, Args: args})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, call txn.Call) {
	receipt, err := s.txns.Submit(r.Context(), call)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out.JSON(w, http.StatusOK, txResponse{Tx: receipt.TxHash})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	out.Message(w, http.StatusNotFound, "route not found: "+r.Method+" "+r.URL.Path)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	out.Message(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed on "+r.URL.Path)
}
