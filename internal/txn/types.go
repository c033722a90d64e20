package txn

import (
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

type Status string

const (
	StatusBuilding   Status = "building"
	StatusSubmitted  Status = "submitted"
	StatusConfirming Status = "confirming"
	StatusConfirmed  Status = "confirmed"
	StatusReverted   Status = "reverted"
	StatusTimedOut   Status = "timed_out"
	// StatusFailed covers build and submission failures before a hash exists.
	StatusFailed Status = "failed"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusReverted, StatusTimedOut, StatusFailed:
		return true
	}
	return false
}

// Call is one state-changing contract invocation.
type Call struct {
	Target     common.Address
	Entrypoint string
	ABI        abi.ABI
	Args       []any
}

// Pending tracks a single submission. Only the Manager mutates it.
type Pending struct {
	Entrypoint  string
	Hash        common.Hash
	SubmittedAt time.Time
	Status      Status
}

// Receipt is returned once finality is observed.
type Receipt struct {
	TxHash      string `json:"tx"`
	BlockNumber uint64 `json:"-"`
}

// Observer sees every status transition of a submission.
type Observer func(p Pending)
