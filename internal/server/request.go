package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	clierr "github.com/ggonzalez94/vault-gateway/internal/errors"
	"github.com/ggonzalez94/vault-gateway/internal/wide"
)

// amountField accepts a JSON string or a bare JSON integer. Either way the
// text must be a base-10 integer; the literal is parsed as written so large
// values keep full precision.
type amountField struct {
	raw string
	set bool
}

func (a *amountField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		a.raw, a.set = s, true
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("amount must be a string or integer")
	}
	a.raw, a.set = n.String(), true
	return nil
}

func (a amountField) parse(field string) (wide.Int, error) {
	if !a.set {
		return wide.Int{}, clierr.New(clierr.CodeValidation, field+" is required")
	}
	v, err := wide.ParseDecimal(a.raw)
	if err != nil {
		return wide.Int{}, clierr.Wrap(clierr.CodeValidation, "invalid "+field, err)
	}
	return v, nil
}

type amountRequest struct {
	Amount amountField `json:"amount"`
}

type priceRequest struct {
	Price amountField `json:"price"`
}

type liquidateRequest struct {
	User string `json:"user"`
}

type mintRequest struct {
	To     string      `json:"to"`
	Amount amountField `json:"amount"`
}

type txResponse struct {
	Tx string `json:"tx"`
}

type priceResponse struct {
	Price wide.Int `json:"price"`
}

type balanceResponse struct {
	Balance wide.Int `json:"balance"`
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return clierr.New(clierr.CodeValidation, "request body is required")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return clierr.New(clierr.CodeValidation, "request body is required")
		case errors.As(err, &maxErr):
			return clierr.New(clierr.CodeValidation, "request body too large")
		default:
			return clierr.Wrap(clierr.CodeValidation, "invalid JSON body", err)
		}
	}
	if dec.More() {
		return clierr.New(clierr.CodeValidation, "request body must be a single JSON object")
	}
	return nil
}
