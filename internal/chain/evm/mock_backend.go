package evm

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// MockBackend 内存中的 Backend 实现，用于测试。
// 它理解 ERC-20 decimals/allowance、QuoterV2 两种报价，以及 approve / exactInputSingle 交易。
type MockBackend struct {
	mu sync.Mutex

	Decimals   map[common.Address]uint8
	Allowances map[common.Address]*big.Int // token -> allowance（任意 owner/spender）

	// QuoteIn exact-input 报价：给定 amountIn 返回 amountOut
	QuoteIn func(tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
	// QuoteOut exact-output 报价：给定目标 amountOut 返回所需 amountIn
	QuoteOut func(tokenIn, tokenOut common.Address, amountOut *big.Int) (*big.Int, error)
	// SwapOut swap 上链后 Transfer 事件里的实际到账量；为 nil 时不产生事件
	SwapOut func(p SwapParams) *big.Int

	// Reverted 为 true 时所有交易回执 status=0
	Reverted bool

	// Call tracking
	Calls map[string]int
	Sent  []*ethtypes.Transaction
	Swaps []SwapParams

	// Error injection
	ErrorOnNext map[string]error

	receipts map[common.Hash]*ethtypes.Receipt
	nonce    uint64
}

// NewMockBackend creates a new mock backend
func NewMockBackend() *MockBackend {
	return &MockBackend{
		Decimals:    make(map[common.Address]uint8),
		Allowances:  make(map[common.Address]*big.Int),
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
		receipts:    make(map[common.Hash]*ethtypes.Receipt),
	}
}

func (m *MockBackend) trackCall(name string) error {
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

// CallCount 线程安全读取调用次数
func (m *MockBackend) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[name]
}

func methodFor(data []byte) (abi.ABI, *abi.Method, bool) {
	if len(data) < 4 {
		return abi.ABI{}, nil, false
	}
	for _, a := range []abi.ABI{erc20ABI, quoterABI, routerABI} {
		if method, err := a.MethodById(data[:4]); err == nil {
			return a, method, true
		}
	}
	return abi.ABI{}, nil, false
}

func (m *MockBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, method, ok := methodFor(msg.Data)
	if !ok {
		return nil, fmt.Errorf("mock: unknown selector")
	}
	if err := m.trackCall(method.Name); err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "decimals":
		d, ok := m.Decimals[*msg.To]
		if !ok {
			return nil, fmt.Errorf("mock: execution reverted")
		}
		return method.Outputs.Pack(d)
	case "allowance":
		a := m.Allowances[*msg.To]
		if a == nil {
			a = big.NewInt(0)
		}
		return method.Outputs.Pack(a)
	case "quoteExactInputSingle":
		p := *abi.ConvertType(args[0], new(quoteExactInputSingleParams)).(*quoteExactInputSingleParams)
		if m.QuoteIn == nil {
			return nil, fmt.Errorf("mock: execution reverted")
		}
		out, err := m.QuoteIn(p.TokenIn, p.TokenOut, p.AmountIn)
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(out, big.NewInt(0), uint32(1), big.NewInt(100000))
	case "quoteExactOutputSingle":
		p := *abi.ConvertType(args[0], new(quoteExactOutputSingleParams)).(*quoteExactOutputSingleParams)
		if m.QuoteOut == nil {
			return nil, fmt.Errorf("mock: execution reverted")
		}
		in, err := m.QuoteOut(p.TokenIn, p.TokenOut, p.Amount)
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(in, big.NewInt(0), uint32(1), big.NewInt(100000))
	default:
		return nil, fmt.Errorf("mock: %s is not a view call", method.Name)
	}
}

func (m *MockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("PendingNonceAt"); err != nil {
		return 0, err
	}
	return m.nonce, nil
}

func (m *MockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("SuggestGasPrice"); err != nil {
		return nil, err
	}
	return big.NewInt(1_000_000_000), nil
}

func (m *MockBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("EstimateGas"); err != nil {
		return 0, err
	}
	return 150_000, nil
}

func (m *MockBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, method, ok := methodFor(tx.Data())
	name := "unknown"
	if ok {
		name = method.Name
	}
	if err := m.trackCall("send:" + name); err != nil {
		return err
	}
	m.nonce++
	m.Sent = append(m.Sent, tx)

	receipt := &ethtypes.Receipt{
		Status: ethtypes.ReceiptStatusSuccessful,
		TxHash: tx.Hash(),
	}
	if m.Reverted {
		receipt.Status = ethtypes.ReceiptStatusFailed
	}

	switch name {
	case "approve":
		args, err := method.Inputs.Unpack(tx.Data()[4:])
		if err != nil {
			return err
		}
		m.Allowances[*tx.To()] = args[1].(*big.Int)
	case "exactInputSingle":
		p, err := DecodeExactInputSingle(tx.Data())
		if err != nil {
			return err
		}
		m.Swaps = append(m.Swaps, p)
		if m.SwapOut != nil && !m.Reverted {
			out := m.SwapOut(p)
			receipt.Logs = []*ethtypes.Log{{
				Address: p.TokenOut,
				Topics: []common.Hash{
					TransferTopic,
					common.BytesToHash(tx.To().Bytes()),
					common.BytesToHash(p.Recipient.Bytes()),
				},
				Data: common.LeftPadBytes(out.Bytes(), 32),
			}}
		}
	}
	m.receipts[tx.Hash()] = receipt
	return nil
}

func (m *MockBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("TransactionReceipt"); err != nil {
		return nil, err
	}
	r, ok := m.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// DecodeExactInputSingle 解析 exactInputSingle 调用数据
func DecodeExactInputSingle(data []byte) (SwapParams, error) {
	method, ok := routerABI.Methods["exactInputSingle"]
	if !ok || len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return SwapParams{}, fmt.Errorf("not an exactInputSingle call")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return SwapParams{}, err
	}
	p := *abi.ConvertType(args[0], new(exactInputSingleParams)).(*exactInputSingleParams)
	return SwapParams{
		TokenIn:          p.TokenIn,
		TokenOut:         p.TokenOut,
		Fee:              p.Fee.Int64(),
		Recipient:        p.Recipient,
		AmountIn:         p.AmountIn,
		AmountOutMinimum: p.AmountOutMinimum,
	}, nil
}
