package errors

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestHTTPStatusByCode(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:  http.StatusBadRequest,
		CodeUnavailable: http.StatusBadGateway,
		CodeReverted:    http.StatusUnprocessableEntity,
		CodeTimedOut:    http.StatusGatewayTimeout,
		CodeInternal:    http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatus(New(code, "x")); got != want {
			t.Fatalf("%s: expected %d, got %d", code, want, got)
		}
	}
}

func TestClassifyIsTotal(t *testing.T) {
	if got := Classify(fmt.Errorf("boom")); got.Code != CodeInternal {
		t.Fatalf("expected internal for untyped error, got %s", got.Code)
	}
	if got := Classify(context.DeadlineExceeded); got.Code != CodeUnavailable {
		t.Fatalf("expected unavailable for deadline, got %s", got.Code)
	}
	if Classify(nil) != nil {
		t.Fatal("expected nil classification for nil error")
	}
}

func TestClassifyKeepsWrappedTypedError(t *testing.T) {
	inner := Reverted("transaction reverted", "insufficient collateral", "0xabc")
	outer := fmt.Errorf("deposit: %w", inner)
	got := Classify(outer)
	if got != inner {
		t.Fatalf("expected the original typed error, got %#v", got)
	}
	if !strings.Contains(got.Error(), "insufficient collateral") {
		t.Fatalf("expected reason in message, got %q", got.Error())
	}
}

func TestCodeString(t *testing.T) {
	if CodeTimedOut.String() != "TimedOut" {
		t.Fatalf("unexpected name %q", CodeTimedOut.String())
	}
	if Code(99).String() != "Code(99)" {
		t.Fatalf("unexpected fallback name %q", Code(99).String())
	}
}
