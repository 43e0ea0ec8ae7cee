// Package loop runs the autonomous fetch → signal → risk → planner → trade cycle.
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/market"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/metrics"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/planner"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/signal"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/state"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/trading"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/config"
)

var log = logrus.WithField("component", "loop")

// MinConfidence 规划器置信度必须严格大于该值才会下单
const MinConfidence = 0.3

// RecentTradesInPrompt 传给规划器的最近成交条数
const RecentTradesInPrompt = 10

// Market 报价来源（*market.Router 满足）
type Market interface {
	Fetch(ctx context.Context, chain domain.Chain, req market.Request) domain.MarketSnapshot
}

// Trader 交易漏斗（*trading.Handler 满足）
type Trader interface {
	CheckRisk(notional, slippageBps float64) domain.RiskChecks
	Execute(ctx context.Context, req trading.Request) (*domain.Receipt, error)
}

// Options Scheduler 依赖
type Options struct {
	Store   *state.Store
	Market  Market
	Planner planner.Planner
	Trader  Trader
	Trading func() config.TradingConfig
	// Interval 两次 tick 之间的间隔；nil 时使用 cooldownSec
	Interval func() time.Duration
}

// Scheduler 单 goroutine 持有 tick：上一次 tick 结束后才重新计时，tick 之间不会重叠
type Scheduler struct {
	store    *state.Store
	market   Market
	planner  planner.Planner
	trader   Trader
	trading  func() config.TradingConfig
	interval func() time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options) *Scheduler {
	s := &Scheduler{
		store:    opts.Store,
		market:   opts.Market,
		planner:  opts.Planner,
		trader:   opts.Trader,
		trading:  opts.Trading,
		interval: opts.Interval,
	}
	if s.trading == nil {
		s.trading = config.Trading
	}
	if s.interval == nil {
		s.interval = func() time.Duration { return s.trading().Cooldown() }
	}
	return s
}

// Start 已在运行时返回 false
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.store.SetRunning(true)
	go s.run(ctx, s.done)
	log.Info("▶️ 自动交易循环已启动")
	return true
}

// Stop 等待正在进行的 tick 退出；未运行时返回 false
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	s.store.SetRunning(false)
	cancel()
	<-done
	log.Info("⏹️ 自动交易循环已停止")
	return true
}

// Running 是否在运行
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.safeTick(ctx)

		d := s.interval()
		if d < time.Second {
			d = time.Second
		}
		timer.Reset(d)
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.LoopPanics.Add(1)
			log.Errorf("❌ tick 发生 panic: %v", r)
			s.store.Update(func(st *state.State) { st.LastError = fmt.Sprintf("tick panic: %v", r) })
		}
	}()
	if err := s.Tick(ctx); err != nil {
		log.Warnf("tick 失败: %v", err)
		s.store.Update(func(st *state.State) { st.LastError = err.Error() })
	}
}

// TickResult 一次 tick 的产出，供测试与调用方检查
type TickResult struct {
	Market   domain.MarketSnapshot
	Signal   domain.SignalResult
	Risk     domain.RiskChecks
	Decision domain.Decision
	Receipt  *domain.Receipt
	Skipped  bool
}

// Tick 跑一轮：报价 -> 窗口 -> 信号 -> 风控 -> 规划器 -> 条件下单
func (s *Scheduler) Tick(ctx context.Context) error {
	_, err := s.TickOnce(ctx)
	return err
}

func (s *Scheduler) TickOnce(ctx context.Context) (TickResult, error) {
	metrics.LoopTicks.Add(1)
	cfg := s.trading()
	snap := s.store.Snapshot()

	var out TickResult
	out.Market = s.market.Fetch(ctx, snap.Chain, market.Request{
		Pair:        snap.Pair,
		BaseToken:   snap.BaseToken,
		QuoteToken:  snap.QuoteToken,
		NotionalUSD: cfg.TradeNotionalUSD,
		SlippageBps: cfg.MaxSlippageBps,
	})
	now := time.Now()
	if !out.Market.Usable() {
		metrics.LoopTicksSkipped.Add(1)
		s.store.Update(func(st *state.State) {
			st.LastTickAt = now
			if st.Chain == snap.Chain && st.Pair == snap.Pair {
				st.LastMarket = out.Market
			}
		})
		log.Warnf("%s %s 报价不可用 (route=%s)，跳过本轮", snap.Chain, snap.Pair, out.Market.RouteSummary)
		out.Skipped = true
		return out, nil
	}

	// 报价期间发生 set-chain 时，这个价格属于旧交易对，不能进入新窗口
	switched := false
	s.store.Update(func(st *state.State) {
		st.LastTickAt = now
		if st.Chain != snap.Chain || st.Pair != snap.Pair {
			switched = true
			return
		}
		st.LastMarket = out.Market
		st.PushPrice(out.Market.ImpliedPrice)
		out.Signal = signal.Compute(st.Window().Prices(), cfg.BreakoutBps)
		st.LastSignal = out.Signal
	})
	if switched {
		metrics.LoopTicksSkipped.Add(1)
		log.Infof("报价期间交易对已切换 (%s %s)，丢弃本轮报价", snap.Chain, snap.Pair)
		out.Skipped = true
		return out, nil
	}

	out.Risk = s.trader.CheckRisk(cfg.TradeNotionalUSD, out.Market.SlippageBps)
	s.store.Update(func(st *state.State) { st.LastRisk = out.Risk })

	after := s.store.Snapshot()
	recent := after.History
	if len(recent) > RecentTradesInPrompt {
		recent = recent[len(recent)-RecentTradesInPrompt:]
	}
	res := s.planner.Decide(ctx, planner.Context{
		Chain:          snap.Chain,
		Pair:           snap.Pair,
		Market:         out.Market,
		Signal:         out.Signal,
		Risk:           out.Risk,
		Portfolio:      after.Portfolio,
		RecentTrades:   recent,
		TradeNotional:  cfg.TradeNotionalUSD,
		MaxSlippageBps: cfg.MaxSlippageBps,
	})
	out.Decision = res.Decision
	s.store.Update(func(st *state.State) { st.LastDecision = out.Decision })

	if !ShouldAct(out.Decision, out.Risk) {
		log.Debugf("不下单: action=%s confidence=%.2f allowed=%v", out.Decision.Action, out.Decision.Confidence, out.Risk.Allowed)
		return out, nil
	}

	receipt, err := s.trader.Execute(ctx, trading.Request{
		Chain:       snap.Chain,
		Pair:        snap.Pair,
		BaseToken:   snap.BaseToken,
		QuoteToken:  snap.QuoteToken,
		Side:        out.Decision.Action,
		NotionalUSD: cfg.TradeNotionalUSD,
		Confidence:  out.Decision.Confidence,
		Reasons:     out.Decision.Reasons,
		Mode:        domain.ModeAuto,
		Source:      domain.SourceLoop,
		PriceHint:   out.Market.ImpliedPrice,
		SlippageBps: out.Market.SlippageBps,
	})
	if err != nil {
		return out, fmt.Errorf("自动交易失败: %w", err)
	}
	out.Receipt = receipt
	return out, nil
}

// ShouldAct 规划器只是建议：这里独立复核方向、风控与置信度
func ShouldAct(d domain.Decision, rc domain.RiskChecks) bool {
	return d.Action.IsTrade() && rc.Allowed && d.Confidence > MinConfidence
}
