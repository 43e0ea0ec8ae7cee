package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/chain/evm"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/config"
)

// EVM Base 引擎需要的链上能力（*evm.Client 满足）
type EVM interface {
	Address() common.Address
	HasSigner() bool
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	QuoteExactInputSingle(ctx context.Context, quoter common.Address, p evm.QuoteParams) (*big.Int, error)
	QuoteExactOutputSingle(ctx context.Context, quoter common.Address, p evm.QuoteParams) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*ethtypes.Receipt, error)
	ExactInputSingle(ctx context.Context, router common.Address, p evm.SwapParams) (*ethtypes.Receipt, error)
}

// BaseEngine 通过 SwapRouter02 在 Base 上做真实 swap
type BaseEngine struct {
	client EVM
	// config 每次执行重新读取（kill switch 等可以运行中修改）
	config func() config.BaseConfig
	now    func() time.Time

	mu          sync.Mutex
	lastTradeAt time.Time
}

func NewBaseEngine(client EVM, cfg func() config.BaseConfig) *BaseEngine {
	if cfg == nil {
		cfg = config.Base
	}
	return &BaseEngine{client: client, config: cfg, now: time.Now}
}

func (e *BaseEngine) Wallet(ctx context.Context) string {
	if e.client == nil || !e.client.HasSigner() {
		return ""
	}
	return e.client.Address().Hex()
}

// checkRails 安全护栏，在任何网络调用之前
func (e *BaseEngine) checkRails(cfg config.BaseConfig, notional float64) (Result, bool) {
	if cfg.KillSwitch {
		return blocked("kill switch engaged (BASE_KILL_SWITCH=true)"), false
	}
	if cfg.MaxNotionalUSD > 0 && notional > cfg.MaxNotionalUSD {
		return blocked("notional $%.2f exceeds BASE_MAX_NOTIONAL_USD $%.2f", notional, cfg.MaxNotionalUSD), false
	}
	e.mu.Lock()
	last := e.lastTradeAt
	e.mu.Unlock()
	if !last.IsZero() && cfg.CooldownSec > 0 {
		cooldown := time.Duration(cfg.CooldownSec) * time.Second
		if elapsed := e.now().Sub(last); elapsed < cooldown {
			remaining := int(math.Ceil((cooldown - elapsed).Seconds()))
			return blocked("base cooldown active: %ds remaining", remaining), false
		}
	}
	return Result{}, true
}

// SwapPlan 一次 Base swap 的完整参数（报价后、发送前）
type SwapPlan struct {
	Router      common.Address
	Fee         int64
	TokenIn     common.Address
	TokenOut    common.Address
	InDecimals  uint8
	OutDecimals uint8
	AmountIn    *big.Int
	// ExpectedOut 保护性报价；为 nil 表示报价失败且允许无保护 swap
	ExpectedOut *big.Int
	MinOut      *big.Int
	TokenInSym  string
	TokenOutSym string
	Notes       []string
}

// Result 按计划填充数量（AmountOut 为报价值）
func (p SwapPlan) Result() Result {
	res := Result{
		Outcome:  OK,
		TokenIn:  p.TokenInSym,
		TokenOut: p.TokenOutSym,
		AmountIn: evm.FromUnits(p.AmountIn, p.InDecimals),
	}
	if p.ExpectedOut != nil {
		res.AmountOut = evm.FromUnits(p.ExpectedOut, p.OutDecimals)
	}
	return res
}

// Plan 读取精度、确定输入量、取保护性报价。不检查护栏，不发送交易。
// 第二个返回值只在 ok=false 时有意义。
func (e *BaseEngine) Plan(ctx context.Context, req Request) (SwapPlan, Result, bool) {
	cfg := e.config()
	if !req.Side.IsTrade() {
		return SwapPlan{}, blocked("side %s is not executable", req.Side), false
	}
	if req.NotionalUSD <= 0 {
		return SwapPlan{}, blocked("notional must be positive"), false
	}
	if e.client == nil {
		return SwapPlan{}, networkError("base client is not configured"), false
	}

	baseHex := orDefault(req.BaseToken, cfg.TokenAddress)
	quoteHex := orDefault(req.QuoteToken, cfg.USDCAddress)
	if !common.IsHexAddress(baseHex) || !common.IsHexAddress(quoteHex) {
		return SwapPlan{}, blocked("invalid token address base=%q quote=%q", baseHex, quoteHex), false
	}
	if !common.IsHexAddress(cfg.SwapRouter) {
		return SwapPlan{}, blocked("invalid BASE_SWAP_ROUTER %q", cfg.SwapRouter), false
	}
	baseToken := common.HexToAddress(baseHex)
	quoteToken := common.HexToAddress(quoteHex)
	quoter := common.HexToAddress(cfg.Quoter)

	baseDec, err := e.client.Decimals(ctx, baseToken)
	if err != nil {
		return SwapPlan{}, networkError("read base token decimals: %v", err), false
	}
	quoteDec, err := e.client.Decimals(ctx, quoteToken)
	if err != nil {
		return SwapPlan{}, networkError("read quote token decimals: %v", err), false
	}

	baseSym, quoteSym := domain.SplitPair(req.Pair)
	plan := SwapPlan{Router: common.HexToAddress(cfg.SwapRouter), Fee: cfg.PoolFee}
	notionalUnits := evm.ToUnits(req.NotionalUSD, quoteDec)
	switch req.Side {
	case domain.SideBuy:
		plan.TokenIn, plan.TokenOut = quoteToken, baseToken
		plan.InDecimals, plan.OutDecimals = quoteDec, baseDec
		plan.TokenInSym, plan.TokenOutSym = quoteSym, baseSym
		plan.AmountIn = notionalUnits
	case domain.SideSell:
		plan.TokenIn, plan.TokenOut = baseToken, quoteToken
		plan.InDecimals, plan.OutDecimals = baseDec, quoteDec
		plan.TokenInSym, plan.TokenOutSym = baseSym, quoteSym
		// 卖出：先用 exact-output 模拟出“得到 notional USDC 需要多少 base”
		plan.AmountIn, err = e.client.QuoteExactOutputSingle(ctx, quoter, evm.QuoteParams{
			TokenIn:  baseToken,
			TokenOut: quoteToken,
			Amount:   notionalUnits,
			Fee:      cfg.PoolFee,
		})
		if err != nil {
			return SwapPlan{}, quoteFailed("quoteExactOutputSingle failed: %v (check pool liquidity and BASE_POOL_FEE=%d)", err, cfg.PoolFee), false
		}
	}
	if plan.AmountIn == nil || plan.AmountIn.Sign() <= 0 {
		return SwapPlan{}, quoteFailed("computed zero input amount (check pool liquidity)"), false
	}

	expectedOut, err := e.client.QuoteExactInputSingle(ctx, quoter, evm.QuoteParams{
		TokenIn:  plan.TokenIn,
		TokenOut: plan.TokenOut,
		Amount:   plan.AmountIn,
		Fee:      cfg.PoolFee,
	})
	switch {
	case err == nil:
		plan.ExpectedOut = expectedOut
		plan.MinOut = evm.ApplySlippage(expectedOut, req.MaxSlippagePct)
	case cfg.AllowUnprotectedSwap:
		plan.MinOut = big.NewInt(0)
		plan.Notes = append(plan.Notes, fmt.Sprintf("protective quote failed (%v); swapping with amountOutMinimum=0", err))
		log.Warnf("Base 保护性报价失败，按 BASE_ALLOW_UNPROTECTED_SWAP 继续无保护 swap: %v", err)
	default:
		return SwapPlan{}, quoteFailed("quoteExactInputSingle failed: %v (check pool liquidity and BASE_POOL_FEE=%d)", err, cfg.PoolFee), false
	}
	return plan, Result{}, true
}

func (e *BaseEngine) Execute(ctx context.Context, req Request) Result {
	cfg := e.config()
	if !req.Side.IsTrade() {
		return blocked("side %s is not executable", req.Side)
	}
	if req.NotionalUSD <= 0 {
		return blocked("notional must be positive")
	}
	if r, ok := e.checkRails(cfg, req.NotionalUSD); !ok {
		return r
	}

	plan, failed, ok := e.Plan(ctx, req)
	if !ok {
		return failed
	}
	res := plan.Result()
	notes := plan.Notes

	if req.Paper {
		if plan.ExpectedOut == nil {
			return quoteFailed("paper mode needs a quote: %s", joinNotes(notes))
		}
		res.TxHash = domain.NoTxHash
		res.Notes = joinNotes(append(notes, "paper mode: quoted only, no transaction sent"))
		return res
	}
	if !e.client.HasSigner() {
		return networkError("BASE_PRIVATE_KEY is not configured")
	}
	owner := e.client.Address()

	allowance, err := e.client.Allowance(ctx, plan.TokenIn, owner, plan.Router)
	if err != nil {
		return networkError("read allowance: %v", err)
	}
	if allowance.Cmp(plan.AmountIn) < 0 {
		if _, err := e.client.Approve(ctx, plan.TokenIn, plan.Router, plan.AmountIn); err != nil {
			return networkError("approve failed: %v", err)
		}
		notes = append(notes, "approved router")
	}

	receipt, err := e.client.ExactInputSingle(ctx, plan.Router, evm.SwapParams{
		TokenIn:          plan.TokenIn,
		TokenOut:         plan.TokenOut,
		Fee:              plan.Fee,
		Recipient:        owner,
		AmountIn:         plan.AmountIn,
		AmountOutMinimum: plan.MinOut,
	})
	if err != nil {
		r := networkError("swap failed: %v", err)
		var reverted *evm.RevertedError
		if errors.As(err, &reverted) {
			r.TxHash = reverted.TxHash.Hex()
			r.ExplorerURL = cfg.ExplorerTxURL(r.TxHash)
		}
		return r
	}

	e.mu.Lock()
	e.lastTradeAt = e.now()
	e.mu.Unlock()

	received := evm.TransferredTo(receipt, plan.TokenOut, owner)
	if received.Sign() > 0 {
		res.AmountOut = evm.FromUnits(received, plan.OutDecimals)
	} else {
		notes = append(notes, "output amount taken from quote")
	}
	res.TxHash = receipt.TxHash.Hex()
	res.ExplorerURL = cfg.ExplorerTxURL(res.TxHash)
	res.Notes = joinNotes(notes)
	log.Infof("Base swap 已上链: %s %s in=%.6f out=%.6f tx=%s", req.Pair, req.Side, res.AmountIn, res.AmountOut, res.TxHash)
	return res
}

func joinNotes(notes []string) string {
	out := ""
	for i, n := range notes {
		if i > 0 {
			out += "; "
		}
		out += n
	}
	return out
}

// Config 当前生效的 Base 配置
func (e *BaseEngine) Config() config.BaseConfig {
	return e.config()
}
