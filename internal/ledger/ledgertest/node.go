// Package ledgertest provides an in-memory vault node that satisfies
// ledger.Backend and reflects state changes from mined transactions.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/vault-gateway/internal/registry"
)

var (
	VaultAddress      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	CollateralAddress = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	DebtAddress       = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

var word = new(big.Int).Lsh(big.NewInt(1), 128)

// RevertError mimics a node's execution-reverted JSON-RPC error.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string { return "execution reverted: " + e.Reason }

func (e *RevertError) ErrorCode() int { return 3 }

func (e *RevertError) ErrorData() interface{} {
	stringTy, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: stringTy}}.Pack(e.Reason)
	return hexutil.Encode(append(common.FromHex("0x08c379a0"), packed...))
}

type position struct {
	collateral *big.Int
	debt       *big.Int
}

// Node is safe for concurrent use. Exported fields configure failures and
// must be set before the node is shared.
type Node struct {
	ChainIDValue *big.Int
	// DefaultSender is used when a transaction sender cannot be recovered.
	DefaultSender common.Address

	// EstimateReverts makes gas estimation for an entrypoint revert.
	EstimateReverts map[string]string
	// MinedReverts mines transactions for an entrypoint with a failed status;
	// replaying the call returns the reason.
	MinedReverts map[string]string
	// WithholdReceipts keeps every receipt unavailable.
	WithholdReceipts bool
	// PendingPolls is how many receipt polls return NotFound before mining.
	PendingPolls int
	// CallErr fails every CallContract with a transport error.
	CallErr error
	// SendErr fails every SendTransaction.
	SendErr error
	// Code overrides deployed code per address.
	Code map[common.Address][]byte

	CodeAtCalls atomic.Int32
	CallCount   atomic.Int32
	SendCount   atomic.Int32

	vaultABI abi.ABI
	tokenABI abi.ABI

	mu        sync.Mutex
	price     *big.Int
	positions map[common.Address]*position
	balances  map[common.Address]map[common.Address]*big.Int
	receipts  map[common.Hash]*types.Receipt
	polls     map[common.Hash]int
	block     uint64
	nonces    map[common.Address]uint64
	// callBlocks records the block argument of every CallContract; nil is latest.
	callBlocks []*big.Int
}

// CallBlocks returns the block argument of each CallContract so far.
func (n *Node) CallBlocks() []*big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*big.Int(nil), n.callBlocks...)
}

func NewNode() *Node {
	vaultABI, err := registry.ParseABI(registry.VaultABI)
	if err != nil {
		panic(err)
	}
	return &Node{
		ChainIDValue:  big.NewInt(31337),
		DefaultSender: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		vaultABI:      vaultABI,
		tokenABI:      registry.MustTokenABI(),
		price:         big.NewInt(0),
		positions:     map[common.Address]*position{},
		balances:      map[common.Address]map[common.Address]*big.Int{},
		receipts:      map[common.Hash]*types.Receipt{},
		polls:         map[common.Hash]int{},
		block:         1,
		nonces:        map[common.Address]uint64{},
	}
}

func (n *Node) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(n.ChainIDValue), nil
}

func (n *Node) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	n.CodeAtCalls.Add(1)
	if code, ok := n.Code[account]; ok {
		return code, nil
	}
	switch account {
	case VaultAddress, CollateralAddress, DebtAddress:
		return []byte{0x60, 0x80, 0x60, 0x40}, nil
	}
	return nil, nil
}

func (n *Node) CallContract(_ context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	n.CallCount.Add(1)
	n.mu.Lock()
	n.callBlocks = append(n.callBlocks, blockNumber)
	n.mu.Unlock()
	if n.CallErr != nil {
		return nil, n.CallErr
	}
	method, args, err := n.decode(msg.To, msg.Data)
	if err != nil {
		return nil, err
	}
	if reason, ok := n.MinedReverts[method.Name]; ok {
		return nil, &RevertError{Reason: reason}
	}
	if reason, ok := n.EstimateReverts[method.Name]; ok {
		return nil, &RevertError{Reason: reason}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	switch method.Name {
	case registry.EntrypointGetPrice:
		return method.Outputs.Pack(lowHigh(n.price)...)
	case registry.EntrypointGetPosition:
		pos := n.position(args[0].(common.Address))
		return method.Outputs.Pack(append(lowHigh(pos.collateral), lowHigh(pos.debt)...)...)
	case registry.EntrypointHealthFactor:
		pos := n.position(args[0].(common.Address))
		return method.Outputs.Pack(lowHigh(healthFactor(pos, n.price))...)
	case registry.EntrypointBalanceOf:
		return method.Outputs.Pack(lowHigh(n.balance(*msg.To, args[0].(common.Address)))...)
	}
	// Non-view entrypoints replay successfully with empty output.
	return nil, nil
}

func (n *Node) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	method, _, err := n.decode(msg.To, msg.Data)
	if err != nil {
		return 0, err
	}
	if reason, ok := n.EstimateReverts[method.Name]; ok {
		return 0, &RevertError{Reason: reason}
	}
	return 100_000, nil
}

func (n *Node) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (n *Node) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(n.block), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (n *Node) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nonces[account], nil
}

func (n *Node) SendTransaction(_ context.Context, tx *types.Transaction) error {
	n.SendCount.Add(1)
	if n.SendErr != nil {
		return n.SendErr
	}
	method, args, err := n.decode(tx.To(), tx.Data())
	if err != nil {
		return err
	}
	sender := n.sender(tx)

	n.mu.Lock()
	defer n.mu.Unlock()
	if tx.Nonce() != n.nonces[sender] {
		return fmt.Errorf("nonce too low: have %d, want %d", tx.Nonce(), n.nonces[sender])
	}
	n.nonces[sender]++
	n.block++
	receipt := &types.Receipt{
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(n.block),
		Status:      types.ReceiptStatusSuccessful,
	}
	if _, ok := n.MinedReverts[method.Name]; ok {
		receipt.Status = types.ReceiptStatusFailed
	} else {
		n.apply(*tx.To(), sender, method.Name, args)
	}
	n.receipts[tx.Hash()] = receipt
	return nil
}

func (n *Node) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if n.WithholdReceipts {
		return nil, ethereum.NotFound
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	receipt, ok := n.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	if n.polls[hash] < n.PendingPolls {
		n.polls[hash]++
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// Collateral returns the recorded collateral for account.
func (n *Node) Collateral(account common.Address) *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return new(big.Int).Set(n.position(account).collateral)
}

// Price returns the current oracle price.
func (n *Node) Price() *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return new(big.Int).Set(n.price)
}

// Balance returns the token balance of holder.
func (n *Node) Balance(token, holder common.Address) *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return new(big.Int).Set(n.balance(token, holder))
}

func (n *Node) decode(to *common.Address, data []byte) (*abi.Method, []interface{}, error) {
	if to == nil {
		return nil, nil, fmt.Errorf("contract creation not supported")
	}
	if len(data) < 4 {
		return nil, nil, &RevertError{Reason: "missing selector"}
	}
	contract := n.tokenABI
	if *to == VaultAddress {
		contract = n.vaultABI
	}
	method, err := contract.MethodById(data[:4])
	if err != nil {
		return nil, nil, &RevertError{Reason: "unknown selector"}
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, &RevertError{Reason: "malformed calldata"}
	}
	return method, args, nil
}

func (n *Node) sender(tx *types.Transaction) common.Address {
	from, err := types.Sender(types.LatestSignerForChainID(n.ChainIDValue), tx)
	if err != nil {
		return n.DefaultSender
	}
	return from
}

func (n *Node) apply(target, sender common.Address, name string, args []interface{}) {
	switch name {
	case registry.EntrypointSetPrice:
		n.price = combine(args[0], args[1])
	case registry.EntrypointDeposit:
		pos := n.position(sender)
		pos.collateral.Add(pos.collateral, combine(args[0], args[1]))
	case registry.EntrypointWithdraw:
		pos := n.position(sender)
		pos.collateral.Sub(pos.collateral, combine(args[0], args[1]))
	case registry.EntrypointBorrow:
		pos := n.position(sender)
		pos.debt.Add(pos.debt, combine(args[0], args[1]))
	case registry.EntrypointRepay:
		pos := n.position(sender)
		pos.debt.Sub(pos.debt, combine(args[0], args[1]))
	case registry.EntrypointLiquidate:
		delete(n.positions, args[0].(common.Address))
	case registry.EntrypointMint:
		holder := args[0].(common.Address)
		bal := n.balance(target, holder)
		n.balances[target][holder] = new(big.Int).Add(bal, combine(args[1], args[2]))
	}
}

func (n *Node) position(account common.Address) *position {
	pos, ok := n.positions[account]
	if !ok {
		pos = &position{collateral: new(big.Int), debt: new(big.Int)}
		n.positions[account] = pos
	}
	return pos
}

func (n *Node) balance(token, holder common.Address) *big.Int {
	if n.balances[token] == nil {
		n.balances[token] = map[common.Address]*big.Int{}
	}
	bal, ok := n.balances[token][holder]
	if !ok {
		return new(big.Int)
	}
	return bal
}

func healthFactor(pos *position, price *big.Int) *big.Int {
	if pos.debt.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(pos.collateral, price)
	return out.Div(out, pos.debt)
}

func combine(low, high interface{}) *big.Int {
	out := new(big.Int).Mul(high.(*big.Int), word)
	return out.Add(out, low.(*big.Int))
}

func lowHigh(v *big.Int) []interface{} {
	return []interface{}{new(big.Int).Mod(v, word), new(big.Int).Div(v, word)}
}
