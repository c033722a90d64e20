package ledger

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/vault-gateway/internal/errors"
)

type testRPCDataError struct {
	msg  string
	data any
}

func (e testRPCDataError) Error() string { return e.msg }

func (e testRPCDataError) ErrorData() interface{} { return e.data }

type testRPCCodeError struct{ msg string }

func (e testRPCCodeError) Error() string { return e.msg }

func (e testRPCCodeError) ErrorCode() int { return revertErrorCode }

func TestDecodeRevertDataReasonString(t *testing.T) {
	if got := DecodeRevertData(encodeErrorString(t, "health factor too low")); got != "health factor too low" {
		t.Fatalf("unexpected reason %q", got)
	}
}

func TestDecodeRevertDataCustomErrorSelector(t *testing.T) {
	got := DecodeRevertData(common.FromHex("0x12345678"))
	if !strings.Contains(got, "0x12345678") {
		t.Fatalf("expected selector in reason, got %q", got)
	}
}

func TestRevertReasonFromDataError(t *testing.T) {
	err := testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(encodeErrorString(t, "position is healthy")),
	}
	reason, ok := RevertReason(err)
	if !ok || reason != "position is healthy" {
		t.Fatalf("unexpected reason %q ok=%v", reason, ok)
	}
}

func TestRevertReasonFromMessage(t *testing.T) {
	reason, ok := RevertReason(fmt.Errorf("execution reverted: only owner"))
	if !ok || reason != "only owner" {
		t.Fatalf("unexpected reason %q ok=%v", reason, ok)
	}
	reason, ok = RevertReason(testRPCCodeError{msg: "vm error"})
	if !ok || reason != revertedMessage {
		t.Fatalf("expected generic revert for code 3, got %q ok=%v", reason, ok)
	}
	if _, ok := RevertReason(fmt.Errorf("dial tcp: connection refused")); ok {
		t.Fatal("network error must not be treated as revert")
	}
}

func TestClassifyCallError(t *testing.T) {
	err := ClassifyCallError("estimate gas", fmt.Errorf("execution reverted: paused"))
	typed, ok := clierr.As(err)
	if !ok || typed.Code != clierr.CodeReverted || typed.Reason != "paused" {
		t.Fatalf("expected reverted with reason, got %#v", err)
	}
	err = ClassifyCallError("call get_position", fmt.Errorf("connection reset"))
	typed, ok = clierr.As(err)
	if !ok || typed.Code != clierr.CodeUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func encodeErrorString(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("create abi string type: %v", err)
	}
	args := abi.Arguments{{Type: stringTy}}
	encoded, err := args.Pack(reason)
	if err != nil {
		t.Fatalf("pack revert reason: %v", err)
	}
	return append(common.FromHex("0x08c379a0"), encoded...)
}
