package solana

import (
	"context"
	"fmt"
	"sync"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// MockRPC 内存中的 RPC 实现，用于测试
type MockRPC struct {
	mu sync.Mutex

	Lamports uint64
	// AirdropFailures 前 N 次空投返回错误
	AirdropFailures int
	// MintDecimals mint -> decimals
	MintDecimals map[string]uint8
	// Statuses 预置签名状态；未预置的已发送签名视为 confirmed
	Statuses map[sol.Signature]*rpc.SignatureStatusesResult

	Calls map[string]int
	Sent  []*sol.Transaction

	ErrorOnNext map[string]error
}

func NewMockRPC() *MockRPC {
	return &MockRPC{
		MintDecimals: make(map[string]uint8),
		Statuses:     make(map[sol.Signature]*rpc.SignatureStatusesResult),
		Calls:        make(map[string]int),
		ErrorOnNext:  make(map[string]error),
	}
}

func (m *MockRPC) trackCall(name string) error {
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

// CallCount 线程安全读取调用次数
func (m *MockRPC) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[name]
}

func (m *MockRPC) GetBalance(ctx context.Context, account sol.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetBalance"); err != nil {
		return nil, err
	}
	return &rpc.GetBalanceResult{Value: m.Lamports}, nil
}

func (m *MockRPC) RequestAirdrop(ctx context.Context, account sol.PublicKey, lamports uint64, commitment rpc.CommitmentType) (sol.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("RequestAirdrop"); err != nil {
		return sol.Signature{}, err
	}
	if m.AirdropFailures > 0 {
		m.AirdropFailures--
		return sol.Signature{}, fmt.Errorf("429 Too Many Requests")
	}
	m.Lamports += lamports
	var sig sol.Signature
	sig[0] = byte(m.Calls["RequestAirdrop"])
	m.confirm(sig)
	return sig, nil
}

func (m *MockRPC) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetLatestBlockhash"); err != nil {
		return nil, err
	}
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: sol.Hash{1, 2, 3}}}, nil
}

func (m *MockRPC) SendTransaction(ctx context.Context, transaction *sol.Transaction) (sol.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("SendTransaction"); err != nil {
		return sol.Signature{}, err
	}
	if len(transaction.Signatures) == 0 {
		return sol.Signature{}, fmt.Errorf("transaction is not signed")
	}
	m.Sent = append(m.Sent, transaction)
	sig := transaction.Signatures[0]
	m.confirm(sig)
	return sig, nil
}

func (m *MockRPC) confirm(sig sol.Signature) {
	if _, ok := m.Statuses[sig]; !ok {
		m.Statuses[sig] = &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}
	}
}

func (m *MockRPC) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...sol.Signature) (*rpc.GetSignatureStatusesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetSignatureStatuses"); err != nil {
		return nil, err
	}
	out := &rpc.GetSignatureStatusesResult{}
	for _, s := range transactionSignatures {
		out.Value = append(out.Value, m.Statuses[s])
	}
	return out, nil
}

func (m *MockRPC) GetTokenSupply(ctx context.Context, tokenMint sol.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetTokenSupply"); err != nil {
		return nil, err
	}
	d, ok := m.MintDecimals[tokenMint.String()]
	if !ok {
		return nil, fmt.Errorf("Invalid param: not a Token mint")
	}
	return &rpc.GetTokenSupplyResult{Value: &rpc.UiTokenAmount{Decimals: d}}, nil
}
