// Package trading is the single funnel every trade goes through: the UI,
// the autonomous loop and skill callers all end up in Handler.Execute.
package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/execution"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/metrics"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/receipts"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/risk"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/state"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/config"
)

var log = logrus.WithField("component", "trading")

// ErrUnsupportedChain 没有为该链注册执行引擎
var ErrUnsupportedChain = errors.New("unsupported chain")

// Request 一次交易请求。Chain/Pair/Token 为空时使用共享状态中的当前值。
type Request struct {
	Chain       domain.Chain
	Pair        string
	Side        domain.Side
	NotionalUSD float64
	Confidence  float64
	Reasons     []string
	Mode        domain.Mode
	Source      domain.Source
	BaseToken   string
	QuoteToken  string
	// PriceHint 调用方已经拿到的报价
	PriceHint float64
	// SlippageBps 写入收据风控快照的滑点；0 时使用最近一次报价
	SlippageBps float64
}

// Options Handler 依赖
type Options struct {
	Store    *state.Store
	Receipts receipts.Store
	Engines  map[domain.Chain]execution.Engine
	// Trading / Base 每次调用时读取；nil 使用 config 包的 getter
	Trading func() config.TradingConfig
	Base    func() config.BaseConfig
}

// Handler 交易漏斗。执行过程串行化，保证引擎返回与账本更新之间不会交错。
type Handler struct {
	store    *state.Store
	receipts receipts.Store
	engines  map[domain.Chain]execution.Engine
	trading  func() config.TradingConfig
	base     func() config.BaseConfig
	now      func() time.Time

	mu sync.Mutex
}

func NewHandler(opts Options) *Handler {
	h := &Handler{
		store:    opts.Store,
		receipts: opts.Receipts,
		engines:  opts.Engines,
		trading:  opts.Trading,
		base:     opts.Base,
		now:      time.Now,
	}
	if h.trading == nil {
		h.trading = config.Trading
	}
	if h.base == nil {
		h.base = config.Base
	}
	if h.engines == nil {
		h.engines = make(map[domain.Chain]execution.Engine)
	}
	return h
}

// Engine 取某条链的执行引擎
func (h *Handler) Engine(chain domain.Chain) (execution.Engine, bool) {
	e, ok := h.engines[chain]
	return e, ok
}

// Wallet 某条链的服务端钱包地址
func (h *Handler) Wallet(ctx context.Context, chain domain.Chain) string {
	if e, ok := h.engines[chain]; ok {
		return e.Wallet(ctx)
	}
	return ""
}

// CheckRisk 用当前共享状态跑一次风控
func (h *Handler) CheckRisk(notional, slippageBps float64) domain.RiskChecks {
	snap := h.store.Snapshot()
	return risk.Check(risk.Input{
		Notional:    notional,
		SlippageBps: slippageBps,
		Config:      h.trading(),
		LastTradeAt: snap.LastTradeAt,
		DailyLoss:   snap.DailyLoss,
		Now:         h.now(),
	})
}

// validate 返回的错误只代表请求或配置问题；链上失败以 FAILED 收据表示
func (h *Handler) validate(req *Request, snap state.State) (execution.Engine, error) {
	if req.Chain == "" {
		req.Chain = snap.Chain
	}
	// Base 未配置时引擎根本不会注册，先报出缺失的变量名
	if req.Chain == domain.ChainBase {
		if err := h.base().Validate(); err != nil {
			return nil, err
		}
	}
	engine, ok := h.engines[req.Chain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, req.Chain)
	}
	if !req.Side.IsTrade() {
		return nil, fmt.Errorf("side must be BUY or SELL, got %q", req.Side)
	}
	if req.NotionalUSD <= 0 {
		return nil, fmt.Errorf("notional must be positive, got %v", req.NotionalUSD)
	}
	if req.Pair == "" {
		if req.Chain == snap.Chain {
			req.Pair = snap.Pair
		} else if req.Chain == domain.ChainBase {
			req.Pair = domain.DefaultBasePair
		} else {
			req.Pair = domain.DefaultSolanaPair
		}
	}
	// 只在请求的是当前活跃链时继承共享状态里的代币地址
	if req.Chain == snap.Chain {
		if req.BaseToken == "" {
			req.BaseToken = snap.BaseToken
		}
		if req.QuoteToken == "" {
			req.QuoteToken = snap.QuoteToken
		}
	}
	switch {
	case snap.PaperMode:
		req.Mode = domain.ModePaper
	case req.Mode == "":
		req.Mode = domain.ModeLive
	}
	if req.Source == "" {
		req.Source = domain.SourceUI
	}
	if req.SlippageBps == 0 && snap.LastMarket.Chain == req.Chain {
		req.SlippageBps = snap.LastMarket.SlippageBps
	}
	return engine, nil
}

// Execute 执行一笔交易并写入收据。只有请求/配置错误返回 error。
func (h *Handler) Execute(ctx context.Context, req Request) (*domain.Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pre := h.store.Snapshot()
	engine, err := h.validate(&req, pre)
	if err != nil {
		return nil, err
	}

	res := h.safeExecute(ctx, engine, execution.Request{
		Pair:           req.Pair,
		Side:           req.Side,
		NotionalUSD:    req.NotionalUSD,
		MaxSlippagePct: h.trading().MaxSlippagePct(),
		Reasons:        req.Reasons,
		Paper:          req.Mode == domain.ModePaper,
		BaseToken:      req.BaseToken,
		QuoteToken:     req.QuoteToken,
		PriceHint:      req.PriceHint,
	})
	receipt := h.finish(ctx, req, pre, res, engine.Wallet(ctx))
	return receipt, nil
}

func (h *Handler) safeExecute(ctx context.Context, engine execution.Engine, req execution.Request) (res execution.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("❌ 执行引擎发生 panic: %v, pair=%s side=%s", r, req.Pair, req.Side)
			res = execution.Failed("engine panic: %v", r)
		}
	}()
	return engine.Execute(ctx, req)
}

// finish 成交价 -> 纸账本 -> 风控快照 -> 收据
func (h *Handler) finish(ctx context.Context, req Request, pre state.State, res execution.Result, wallet string) *domain.Receipt {
	now := h.now()
	fillPrice := res.FillPrice(req.Side)

	if res.OK() && fillPrice > 0 {
		baseAmt, quoteAmt := res.Amounts(req.Side)
		pf := h.store.ApplyFill(state.Fill{
			Side:        req.Side,
			BaseAmount:  baseAmt,
			QuoteAmount: quoteAmt,
			Price:       fillPrice,
			At:          now,
		})
		log.Infof("纸账本更新: position=%.6f quote=%.2f pnl=%.2f", pf.Position, pf.QuoteBalance, pf.RealizedPnL)
	}

	checks := risk.Check(risk.Input{
		Notional:    req.NotionalUSD,
		SlippageBps: req.SlippageBps,
		Config:      h.trading(),
		LastTradeAt: pre.LastTradeAt,
		DailyLoss:   pre.DailyLoss,
		Now:         now,
	})

	receipt := &domain.Receipt{
		ID:            receipts.NewID(),
		Timestamp:     now,
		Pair:          req.Pair,
		Side:          req.Side,
		Mode:          req.Mode,
		Notional:      req.NotionalUSD,
		FillPrice:     fillPrice,
		Confidence:    req.Confidence,
		Reasons:       append([]string{}, req.Reasons...),
		RiskChecks:    checks,
		TxHash:        res.TxHash,
		Status:        domain.StatusSuccess,
		Chain:         req.Chain,
		Source:        req.Source,
		WalletAddress: wallet,
		ExplorerURL:   res.ExplorerURL,
		Notes:         res.Notes,
	}
	if receipt.TxHash == "" {
		receipt.TxHash = domain.NoTxHash
	}

	switch res.Outcome {
	case execution.OK:
		metrics.TradesOK.Add(1)
	case execution.RiskBlocked:
		receipt.Status = domain.StatusFailed
		metrics.TradesBlocked.Add(1)
	default:
		receipt.Status = domain.StatusFailed
		metrics.TradesFailed.Add(1)
	}
	if !res.OK() {
		receipt.Notes = fmt.Sprintf("%s: %s", res.Outcome, res.Notes)
		h.store.Update(func(st *state.State) { st.LastError = receipt.Notes })
	}

	if err := h.receipts.Append(ctx, *receipt); err != nil {
		metrics.ReceiptErrors.Add(1)
		log.Errorf("写入收据失败 %s: %v", receipt.ID, err)
	} else {
		metrics.ReceiptsWritten.Add(1)
	}
	log.WithFields(logrus.Fields{
		"id":     receipt.ID,
		"chain":  receipt.Chain,
		"source": receipt.Source,
		"status": receipt.Status,
	}).Infof("收据: %s %s $%.2f @ %.6f tx=%s", receipt.Pair, receipt.Side, receipt.Notional, receipt.FillPrice, receipt.TxHash)
	return receipt
}

// Confirmed 浏览器钱包签名、已在链上确认的交易
type Confirmed struct {
	Chain         domain.Chain
	Pair          string
	Side          domain.Side
	NotionalUSD   float64
	TxHash        string
	ExplorerURL   string
	WalletAddress string
	// BaseAmount / QuoteAmount 实际成交量（来自链上或报价）
	BaseAmount  float64
	QuoteAmount float64
	Source      domain.Source
	Notes       string
}

// RecordConfirmed 为钱包签名的交易补记账本与收据
func (h *Handler) RecordConfirmed(ctx context.Context, c Confirmed) (*domain.Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.Side.IsTrade() {
		return nil, fmt.Errorf("side must be BUY or SELL, got %q", c.Side)
	}
	if c.TxHash == "" {
		return nil, errors.New("txHash is required")
	}
	pre := h.store.Snapshot()
	if c.Source == "" {
		c.Source = domain.SourceUI
	}
	req := Request{
		Chain:       c.Chain,
		Pair:        c.Pair,
		Side:        c.Side,
		NotionalUSD: c.NotionalUSD,
		Mode:        domain.ModeLive,
		Source:      c.Source,
		Reasons:     []string{"wallet-signed transaction confirmed on chain"},
	}
	if req.Chain == "" {
		req.Chain = pre.Chain
	}
	if req.Pair == "" {
		req.Pair = pre.Pair
	}
	if pre.LastMarket.Chain == req.Chain {
		req.SlippageBps = pre.LastMarket.SlippageBps
	}

	res := execution.Result{
		Outcome:     execution.OK,
		TxHash:      c.TxHash,
		ExplorerURL: c.ExplorerURL,
		Notes:       c.Notes,
	}
	if c.Side == domain.SideBuy {
		res.AmountIn, res.AmountOut = c.QuoteAmount, c.BaseAmount
	} else {
		res.AmountIn, res.AmountOut = c.BaseAmount, c.QuoteAmount
	}
	return h.finish(ctx, req, pre, res, c.WalletAddress), nil
}
