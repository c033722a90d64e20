package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	clierr "github.com/ggonzalez94/vault-gateway/internal/errors"
)

// JSON-RPC error code nodes use for execution reverts.
const revertErrorCode = 3

const revertedMessage = "execution reverted"

// DecodeRevertData turns raw revert bytes into a readable reason.
func DecodeRevertData(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	if len(data) >= 4 {
		return "custom error 0x" + hex.EncodeToString(data[:4])
	}
	return "revert data 0x" + hex.EncodeToString(data)
}

// RevertReason extracts a revert reason from a node error. The boolean is
// false when err does not describe an execution revert.
func RevertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if reason := decodeErrorData(dataErr.ErrorData()); reason != "" {
			return reason, true
		}
	}
	var codeErr rpc.Error
	isRevertCode := errors.As(err, &codeErr) && codeErr.ErrorCode() == revertErrorCode
	msg := err.Error()
	idx := strings.Index(strings.ToLower(msg), revertedMessage)
	if idx < 0 && !isRevertCode {
		return "", false
	}
	if idx >= 0 {
		rest := strings.TrimSpace(msg[idx+len(revertedMessage):])
		rest = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
		if rest != "" {
			return rest, true
		}
	}
	return revertedMessage, true
}

func decodeErrorData(data any) string {
	switch v := data.(type) {
	case string:
		if !strings.HasPrefix(v, "0x") {
			return ""
		}
		return DecodeRevertData(common.FromHex(v))
	case []byte:
		return DecodeRevertData(v)
	default:
		return ""
	}
}

// ClassifyCallError maps a node error from a call or gas estimate: reverts
// become CodeReverted with the reason, everything else is unavailability.
func ClassifyCallError(action string, err error) error {
	if err == nil {
		return nil
	}
	if typed, ok := clierr.As(err); ok {
		return typed
	}
	if reason, ok := RevertReason(err); ok {
		return clierr.Reverted(fmt.Sprintf("%s reverted", action), reason, "")
	}
	return clierr.Wrap(clierr.CodeUnavailable, action, err)
}
