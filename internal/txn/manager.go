// Package txn submits state-changing calls and waits for finality.
package txn

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/vault-gateway/internal/errors"
	"github.com/ggonzalez94/vault-gateway/internal/ledger"
	"github.com/ggonzalez94/vault-gateway/internal/signer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const revertedOnChain = "transaction reverted on-chain"

type Options struct {
	PollInterval       time.Duration
	ConfirmTimeout     time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
}

func DefaultOptions() Options {
	return Options{
		PollInterval:   2 * time.Second,
		ConfirmTimeout: 2 * time.Minute,
		GasMultiplier:  1.2,
	}
}

type Manager struct {
	backend  ledger.Backend
	signer   signer.Signer
	chainID  *big.Int
	opts     Options
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer
	now      func() time.Time

	// sendMu serializes nonce selection through broadcast for the signer.
	sendMu sync.Mutex
}

func NewManager(backend ledger.Backend, txSigner signer.Signer, chainID *big.Int, opts Options, logger *slog.Logger, observer Observer) *Manager {
	defaults := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = defaults.ConfirmTimeout
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = defaults.GasMultiplier
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend:  backend,
		signer:   txSigner,
		chainID:  new(big.Int).Set(chainID),
		opts:     opts,
		logger:   logger,
		tracer:   otel.Tracer("vault-gateway/txn"),
		observer: observer,
		now:      time.Now,
	}
}

// Submit runs one attempt of call through building, submission and
// confirmation. It succeeds only once the receipt reports success. Once a hash
// exists, cancelling ctx stops the wait but not the transaction.
func (m *Manager) Submit(ctx context.Context, call Call) (Receipt, error) {
	ctx, span := m.tracer.Start(ctx, "txn.submit", trace.WithAttributes(
		attribute.String("txn.entrypoint", call.Entrypoint),
		attribute.String("txn.target", call.Target.Hex()),
	))
	defer span.End()

	p := &Pending{Entrypoint: call.Entrypoint, Status: StatusBuilding}
	m.transition(p, StatusBuilding)

	receipt, err := m.submit(ctx, call, p)
	if err != nil {
		if !p.Status.Terminal() {
			m.transition(p, StatusFailed)
		}
		span.SetStatus(codes.Error, err.Error())
		m.logger.Warn("transaction failed",
			"entrypoint", call.Entrypoint, "tx", hashString(p.Hash), "status", string(p.Status), "error", err)
	} else {
		m.logger.Info("transaction confirmed",
			"entrypoint", call.Entrypoint, "tx", receipt.TxHash, "block", receipt.BlockNumber,
			"elapsed_ms", m.now().Sub(p.SubmittedAt).Milliseconds())
	}
	span.SetAttributes(attribute.String("txn.status", string(p.Status)))
	if p.Hash != (common.Hash{}) {
		span.SetAttributes(attribute.String("txn.hash", p.Hash.Hex()))
	}
	return receipt, err
}

func (m *Manager) submit(ctx context.Context, call Call, p *Pending) (Receipt, error) {
	data, err := call.ABI.Pack(call.Entrypoint, call.Args...)
	if err != nil {
		return Receipt{}, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s calldata", call.Entrypoint), err)
	}
	target := call.Target
	msg := ethereum.CallMsg{From: m.signer.Address(), To: &target, Value: big.NewInt(0), Data: data}

	gasLimit, err := m.backend.EstimateGas(ctx, msg)
	if err != nil {
		return Receipt{}, ledger.ClassifyCallError(call.Entrypoint, err)
	}
	gasLimit = uint64(float64(gasLimit) * m.opts.GasMultiplier)

	tipCap, err := m.resolveTipCap(ctx)
	if err != nil {
		return Receipt{}, err
	}
	header, err := m.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return Receipt{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, m.opts.MaxFeeGwei)
	if err != nil {
		return Receipt{}, err
	}

	signed, err := m.signAndSend(ctx, &target, data, gasLimit, tipCap, feeCap)
	if err != nil {
		return Receipt{}, err
	}
	p.Hash = signed.Hash()
	p.SubmittedAt = m.now()
	m.transition(p, StatusSubmitted)

	return m.awaitFinality(ctx, msg, p)
}

func (m *Manager) signAndSend(ctx context.Context, target *common.Address, data []byte, gasLimit uint64, tipCap, feeCap *big.Int) (*types.Transaction, error) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	nonce, err := m.backend.PendingNonceAt(ctx, m.signer.Address())
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   m.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        target,
		Value:     big.NewInt(0),
		Data:      data,
	})
	signed, err := m.signer.SignTx(m.chainID, tx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "sign transaction", err)
	}
	if err := m.backend.SendTransaction(ctx, signed); err != nil {
		return nil, ledger.ClassifyCallError("broadcast transaction", err)
	}
	return signed, nil
}

func (m *Manager) awaitFinality(ctx context.Context, msg ethereum.CallMsg, p *Pending) (Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.opts.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	m.transition(p, StatusConfirming)
	hash := p.Hash.Hex()
	for {
		receipt, err := m.backend.TransactionReceipt(waitCtx, p.Hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				m.transition(p, StatusConfirmed)
				return Receipt{TxHash: hash, BlockNumber: blockNumber(receipt)}, nil
			}
			m.transition(p, StatusReverted)
			return Receipt{}, clierr.Reverted("transaction reverted", m.replayReason(ctx, msg, receipt), hash)
		}
		// Transient polling failures are ignored until the budget expires.
		select {
		case <-waitCtx.Done():
			m.transition(p, StatusTimedOut)
			if ctx.Err() != nil {
				return Receipt{}, clierr.TimedOut("confirmation wait cancelled; transaction may still land", hash, ctx.Err())
			}
			return Receipt{}, clierr.TimedOut(fmt.Sprintf("confirmation not observed within %s; transaction may still land", m.opts.ConfirmTimeout), hash, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// replayReason re-executes the call against the parent of the receipt's
// block to recover the revert reason. Transactions later in the same block
// are not visible to the replay.
func (m *Manager) replayReason(ctx context.Context, msg ethereum.CallMsg, receipt *types.Receipt) string {
	replayCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	_, err := m.backend.CallContract(replayCtx, msg, parentBlock(receipt.BlockNumber))
	if reason, ok := ledger.RevertReason(err); ok {
		return reason
	}
	return revertedOnChain
}

func (m *Manager) transition(p *Pending, status Status) {
	p.Status = status
	if m.observer != nil {
		m.observer(*p)
	}
	if status == StatusSubmitted {
		m.logger.Info("transaction submitted", "entrypoint", p.Entrypoint, "tx", p.Hash.Hex())
	}
}

func (m *Manager) resolveTipCap(ctx context.Context) (*big.Int, error) {
	if strings.TrimSpace(m.opts.MaxPriorityFeeGwei) != "" {
		v, err := parseGwei(m.opts.MaxPriorityFeeGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "parse max priority fee", err)
		}
		return v, nil
	}
	tipCap, err := m.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "parse max fee", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeInternal, "max fee must be >= max priority fee")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

// ValidateGwei reports whether v is an acceptable fee override.
func ValidateGwei(v string) error {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	_, err := parseGwei(v)
	return err
}

func blockNumber(r *types.Receipt) uint64 {
	if r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}

// parentBlock is nil (latest) when the block is unknown or genesis.
func parentBlock(n *big.Int) *big.Int {
	if n == nil || n.Sign() <= 0 {
		return nil
	}
	return new(big.Int).Sub(n, big.NewInt(1))
}

func hashString(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}
