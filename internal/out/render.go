// Package out writes HTTP response bodies.
package out

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	clierr "github.com/ggonzalez94/vault-gateway/internal/errors"
)

// ErrorBody is the shape of every non-2xx response. Tx is only set for a
// timed-out write whose outcome is unknown; a mined revert reports its hash
// as RevertedTx so it never reads like a success body.
type ErrorBody struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	Tx         string `json:"tx,omitempty"`
	RevertedTx string `json:"revertedTx,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("write response failed", "error", err)
	}
}

// Error classifies err and writes it with the mapped status. Server-side
// failures are logged at error level; caller and upstream faults at warn.
func Error(w http.ResponseWriter, logger *slog.Logger, err error) {
	typed := clierr.Classify(err)
	status := typed.Code.HTTPStatus()
	if logger != nil {
		level := slog.LevelWarn
		if status == http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(context.Background(), level, "request failed",
			"code", typed.Code.String(), "status", status, "tx", typed.TxHash, "error", typed.Error())
	}
	body := ErrorBody{Error: typed.Error(), Code: typed.Code.String()}
	if typed.Code == clierr.CodeReverted {
		body.RevertedTx = typed.TxHash
	} else {
		body.Tx = typed.TxHash
	}
	JSON(w, status, body)
}

// Message writes an error body that did not come from the error taxonomy.
func Message(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorBody{Error: message})
}
