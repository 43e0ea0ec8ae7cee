// Package execution turns a decided side and notional into a balance-changing
// operation on one chain. Engines never panic or return errors: every attempt
// produces a Result whose Outcome callers switch on.
package execution

import (
	"context"
	"fmt"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
)

// Outcome 执行结果的类型标签
type Outcome int

const (
	OK Outcome = iota
	// RiskBlocked 安全护栏拦截（kill switch / 名义上限 / 冷却），没有发起任何网络调用
	RiskBlocked
	// QuoteFailed 报价模拟失败（通常是流动性或 fee tier 不对）
	QuoteFailed
	// NetworkError RPC / 签名 / 发送 / 回执失败
	NetworkError
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case RiskBlocked:
		return "risk_blocked"
	case QuoteFailed:
		return "quote_failed"
	case NetworkError:
		return "network_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Request 一次执行请求。BUY 永远是花 quote 买 base，SELL 相反。
type Request struct {
	Pair           string
	Side           domain.Side
	NotionalUSD    float64
	MaxSlippagePct float64
	Reasons        []string
	// Paper 纸交易：Solana 仍发 memo，Base 只报价不发交易
	Paper bool
	// BaseToken / QuoteToken 按请求覆盖代币地址，空则使用引擎默认
	BaseToken  string
	QuoteToken string
	// PriceHint 调用方已有的价格（>0 时 Solana 引擎不再重新报价）
	PriceHint float64
}

// Result 带标签的执行结果
type Result struct {
	Outcome     Outcome
	TxHash      string
	ExplorerURL string
	TokenIn     string
	TokenOut    string
	AmountIn    float64
	AmountOut   float64
	Notes       string
}

// OK 是否成功
func (r Result) OK() bool {
	return r.Outcome == OK
}

// Amounts 按方向换算为 (base 数量, quote 数量)
func (r Result) Amounts(side domain.Side) (base, quote float64) {
	if side == domain.SideSell {
		return r.AmountIn, r.AmountOut
	}
	return r.AmountOut, r.AmountIn
}

// FillPrice quote / base；base 为 0 时返回 0
func (r Result) FillPrice(side domain.Side) float64 {
	base, quote := r.Amounts(side)
	if base <= 0 {
		return 0
	}
	return quote / base
}

func blocked(format string, args ...interface{}) Result {
	return Result{Outcome: RiskBlocked, TxHash: domain.NoTxHash, Notes: fmt.Sprintf(format, args...)}
}

func quoteFailed(format string, args ...interface{}) Result {
	return Result{Outcome: QuoteFailed, TxHash: domain.NoTxHash, Notes: fmt.Sprintf(format, args...)}
}

func networkError(format string, args ...interface{}) Result {
	return Result{Outcome: NetworkError, TxHash: domain.NoTxHash, Notes: fmt.Sprintf(format, args...)}
}

// Failed 由调用方构造的 NetworkError（例如捕获到的 panic）
func Failed(format string, args ...interface{}) Result {
	return networkError(format, args...)
}

// Engine 单链执行引擎
type Engine interface {
	Execute(ctx context.Context, req Request) Result
	// Wallet 服务端钱包地址；未配置时为空
	Wallet(ctx context.Context) string
}
