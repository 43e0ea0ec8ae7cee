// Package skill exposes the copilot as a small action surface for external
// agents: a static manifest plus a single invoke entry point.
package skill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/loop"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/market"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/planner"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/receipts"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/signal"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/state"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/trading"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/config"
)

var log = logrus.WithField("component", "skill")

var (
	// ErrUnknownAction invoke 的 action 不在 manifest 中
	ErrUnknownAction = errors.New("unknown skill action")
	// ErrBadArgs 参数无法解析或不合法
	ErrBadArgs = errors.New("invalid skill arguments")
)

const (
	ActionGetMarket    = "get_market"
	ActionGetSignal    = "get_signal"
	ActionProposeTrade = "propose_trade"
	ActionExecuteTrade = "execute_trade"
	ActionGetReceipt   = "get_receipt"
	ActionSetChain     = "set_chain"
)

// Arg manifest 中的参数说明
type Arg struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// Action manifest 中的一个动作
type Action struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Args        []Arg  `json:"args"`
}

// Manifest GET /api/skill/manifest
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Invoke      string   `json:"invoke"`
	Actions     []Action `json:"actions"`
}

var manifest = Manifest{
	Name:        "psyops-trading-copilot",
	Version:     "1.0.0",
	Description: "Breakout-signal trading copilot for Solana (Jupiter) and Base (Uniswap V3) with paper and live execution.",
	Invoke:      "POST /api/skill/invoke {action, args}",
	Actions: []Action{
		{Name: ActionGetMarket, Description: "Fresh quote for the active pair: implied price, slippage, route."},
		{Name: ActionGetSignal, Description: "Breakout signal over the rolling price window."},
		{
			Name:        ActionProposeTrade,
			Description: "Quote, signal, risk check and planner decision without executing.",
			Args:        []Arg{{Name: "notional", Type: "number", Description: "USD notional; defaults to the configured trade size"}},
		},
		{
			Name:        ActionExecuteTrade,
			Description: "Execute a trade through the risk-checked funnel and return the receipt.",
			Args: []Arg{
				{Name: "side", Type: "string", Required: true, Description: "BUY or SELL"},
				{Name: "notional", Type: "number", Description: "USD notional; defaults to the configured trade size"},
				{Name: "confidence", Type: "number", Description: "caller confidence in [0,1]"},
				{Name: "reasons", Type: "string[]", Description: "free-form reasons stored on the receipt"},
				{Name: "source", Type: "string", Description: "skill (default) or acp"},
			},
		},
		{
			Name:        ActionGetReceipt,
			Description: "One receipt by id, or the latest receipts.",
			Args: []Arg{
				{Name: "id", Type: "string", Description: "receipt id"},
				{Name: "limit", Type: "number", Description: "number of latest receipts when id is empty"},
			},
		},
		{
			Name:        ActionSetChain,
			Description: "Switch active chain and pair; resets the rolling window.",
			Args: []Arg{
				{Name: "chain", Type: "string", Required: true, Description: "solana or base"},
				{Name: "pair", Type: "string", Description: "e.g. SOL/USDC"},
				{Name: "baseToken", Type: "string", Description: "base token mint/address override"},
				{Name: "quoteToken", Type: "string", Description: "quote token mint/address override"},
			},
		},
	},
}

// Market *market.Router 满足
type Market interface {
	Fetch(ctx context.Context, chain domain.Chain, req market.Request) domain.MarketSnapshot
}

// Trader *trading.Handler 满足
type Trader interface {
	CheckRisk(notional, slippageBps float64) domain.RiskChecks
	Execute(ctx context.Context, req trading.Request) (*domain.Receipt, error)
	SetChain(sel trading.ChainSelection) (state.State, error)
}

// Options Service 依赖
type Options struct {
	Store    *state.Store
	Market   Market
	Planner  planner.Planner
	Trader   Trader
	Receipts receipts.Store
	Trading  func() config.TradingConfig
}

// Service skill 调用分发
type Service struct {
	opts Options
}

func New(opts Options) *Service {
	if opts.Trading == nil {
		opts.Trading = config.Trading
	}
	return &Service{opts: opts}
}

// Manifest 动作清单
func (s *Service) Manifest() Manifest {
	return manifest
}

// Invoke 执行一个动作；未知动作返回 ErrUnknownAction，参数错误返回 ErrBadArgs
func (s *Service) Invoke(ctx context.Context, action string, args json.RawMessage) (interface{}, error) {
	action = strings.ToLower(strings.TrimSpace(action))
	log.WithField("action", action).Debug("skill invoke")
	switch action {
	case ActionGetMarket:
		return s.getMarket(ctx)
	case ActionGetSignal:
		return s.getSignal(), nil
	case ActionProposeTrade:
		return s.proposeTrade(ctx, args)
	case ActionExecuteTrade:
		return s.executeTrade(ctx, args)
	case ActionGetReceipt:
		return s.getReceipt(ctx, args)
	case ActionSetChain:
		return s.setChain(args)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	return nil
}

// fetch 按当前活跃链报价，同时返回报价时的状态快照；报价期间链/交易对已切换时不写 LastMarket
func (s *Service) fetch(ctx context.Context, notional float64) (state.State, domain.MarketSnapshot) {
	snap := s.opts.Store.Snapshot()
	cfg := s.opts.Trading()
	m := s.opts.Market.Fetch(ctx, snap.Chain, market.Request{
		Pair:        snap.Pair,
		BaseToken:   snap.BaseToken,
		QuoteToken:  snap.QuoteToken,
		NotionalUSD: notional,
		SlippageBps: cfg.MaxSlippageBps,
	})
	if m.Usable() {
		s.opts.Store.Update(func(st *state.State) {
			if st.Chain == snap.Chain && st.Pair == snap.Pair {
				st.LastMarket = m
			}
		})
	}
	return snap, m
}

func (s *Service) getMarket(ctx context.Context) (domain.MarketSnapshot, error) {
	_, m := s.fetch(ctx, s.opts.Trading().TradeNotionalUSD)
	if !m.Usable() {
		return m, fmt.Errorf("market quote unavailable for %s", m.Pair)
	}
	return m, nil
}

// SignalView get_signal 的返回
type SignalView struct {
	domain.SignalResult
	Chain   domain.Chain `json:"chain"`
	Pair    string       `json:"pair"`
	Samples int          `json:"samples"`
}

func (s *Service) getSignal() SignalView {
	snap := s.opts.Store.Snapshot()
	return SignalView{
		SignalResult: signal.Compute(snap.Prices, s.opts.Trading().BreakoutBps),
		Chain:        snap.Chain,
		Pair:         snap.Pair,
		Samples:      len(snap.Prices),
	}
}

type tradeArgs struct {
	Side       string   `json:"side"`
	Notional   float64  `json:"notional"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
	Source     string   `json:"source"`
}

// Proposal propose_trade 的返回
type Proposal struct {
	Market      domain.MarketSnapshot `json:"market"`
	Signal      domain.SignalResult   `json:"signal"`
	Risk        domain.RiskChecks     `json:"risk"`
	Decision    domain.Decision       `json:"decision"`
	Notional    float64               `json:"notional"`
	WouldTrade  bool                  `json:"wouldTrade"`
	PlannerMode string                `json:"plannerMode"`
}

func (s *Service) proposeTrade(ctx context.Context, args json.RawMessage) (*Proposal, error) {
	var a tradeArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	cfg := s.opts.Trading()
	notional := a.Notional
	if notional <= 0 {
		notional = cfg.TradeNotionalUSD
	}

	snap, m := s.fetch(ctx, notional)
	if !m.Usable() {
		return nil, fmt.Errorf("market quote unavailable for %s", m.Pair)
	}
	// 提案不写入滚动窗口，只在副本上计算
	prices := append(append([]float64(nil), snap.Prices...), m.ImpliedPrice)
	if len(prices) > signal.DefaultWindowSize {
		prices = prices[len(prices)-signal.DefaultWindowSize:]
	}
	sig := signal.Compute(prices, cfg.BreakoutBps)
	rc := s.opts.Trader.CheckRisk(notional, m.SlippageBps)
	res := s.opts.Planner.Decide(ctx, planner.Context{
		Chain:          snap.Chain,
		Pair:           snap.Pair,
		Market:         m,
		Signal:         sig,
		Risk:           rc,
		Portfolio:      snap.Portfolio,
		RecentTrades:   snap.History,
		TradeNotional:  notional,
		MaxSlippageBps: cfg.MaxSlippageBps,
	})
	return &Proposal{
		Market:      m,
		Signal:      sig,
		Risk:        rc,
		Decision:    res.Decision,
		Notional:    notional,
		WouldTrade:  loop.ShouldAct(res.Decision, rc),
		PlannerMode: res.Outcome.String(),
	}, nil
}

// ExecuteResult execute_trade 的返回；风控拦截时 Executed=false 且没有收据
type ExecuteResult struct {
	Executed bool              `json:"executed"`
	Risk     domain.RiskChecks `json:"risk"`
	Receipt  *domain.Receipt   `json:"receipt,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func (s *Service) executeTrade(ctx context.Context, args json.RawMessage) (*ExecuteResult, error) {
	var a tradeArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	side, ok := domain.ParseSide(a.Side)
	if !ok || !side.IsTrade() {
		return nil, fmt.Errorf("%w: side must be BUY or SELL", ErrBadArgs)
	}
	notional := a.Notional
	if notional <= 0 {
		notional = s.opts.Trading().TradeNotionalUSD
	}
	source := domain.SourceSkill
	if strings.EqualFold(a.Source, string(domain.SourceACP)) {
		source = domain.SourceACP
	}

	snap, m := s.fetch(ctx, notional)
	rc := s.opts.Trader.CheckRisk(notional, m.SlippageBps)
	if !rc.Allowed {
		return &ExecuteResult{Risk: rc, Error: "risk checks failed"}, nil
	}
	reasons := a.Reasons
	if len(reasons) == 0 {
		reasons = []string{"skill invocation"}
	}
	// 请求固定在报价时的链与交易对上，报价期间发生的 set-chain 不会把价格带到另一条链
	receipt, err := s.opts.Trader.Execute(ctx, trading.Request{
		Chain:       snap.Chain,
		Pair:        snap.Pair,
		BaseToken:   snap.BaseToken,
		QuoteToken:  snap.QuoteToken,
		Side:        side,
		NotionalUSD: notional,
		Confidence:  clamp01(a.Confidence),
		Reasons:     reasons,
		Mode:        domain.ModeSkill,
		Source:      source,
		PriceHint:   m.ImpliedPrice,
		SlippageBps: m.SlippageBps,
	})
	if err != nil {
		return nil, err
	}
	return &ExecuteResult{Executed: receipt.Status == domain.StatusSuccess, Risk: rc, Receipt: receipt}, nil
}

func (s *Service) getReceipt(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a struct {
		ID    string `json:"id"`
		Limit int    `json:"limit"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.ID != "" {
		r, err := s.opts.Receipts.Get(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	limit := a.Limit
	if limit <= 0 {
		limit = 1
	}
	return s.opts.Receipts.List(ctx, limit)
}

func (s *Service) setChain(args json.RawMessage) (interface{}, error) {
	var sel trading.ChainSelection
	if err := decodeArgs(args, &sel); err != nil {
		return nil, err
	}
	if sel.Chain == "" {
		return nil, fmt.Errorf("%w: chain is required", ErrBadArgs)
	}
	st, err := s.opts.Trader.SetChain(sel)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"chain":      st.Chain,
		"pair":       st.Pair,
		"baseToken":  st.BaseToken,
		"quoteToken": st.QuoteToken,
	}, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
