// Package state holds the process-wide trading context shared by the loop,
// the trade handler and the HTTP handlers.
package state

import (
	"sync"
	"time"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/risk"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/signal"
)

// MaxHistory 交易历史保留条数
const MaxHistory = 50

// State 一份交易上下文。通过 Store.Snapshot 拿到的是深拷贝，可以随意读取。
type State struct {
	Chain      domain.Chain `json:"chain"`
	Pair       string       `json:"pair"`
	BaseToken  string       `json:"baseToken"`
	QuoteToken string       `json:"quoteToken"`

	Prices []float64 `json:"rollingPrices"`

	LastMarket   domain.MarketSnapshot `json:"lastMarket"`
	LastSignal   domain.SignalResult   `json:"lastSignal"`
	LastRisk     domain.RiskChecks     `json:"lastRisk"`
	LastDecision domain.Decision       `json:"lastDecision"`

	Portfolio   domain.Portfolio     `json:"portfolio"`
	LastTradeAt time.Time            `json:"lastTradeAt"`
	DailyLoss   float64              `json:"dailyLoss"`
	History     []domain.TradeRecord `json:"history"`

	Running    bool      `json:"running"`
	PaperMode  bool      `json:"paperMode"`
	LastTickAt time.Time `json:"lastTickAt"`
	LastError  string    `json:"lastError,omitempty"`

	window *signal.Window
}

// PushPrice 把价格放入滚动窗口（最旧的被挤出）
func (s *State) PushPrice(price float64) {
	s.window.Push(price)
	s.Prices = s.window.Prices()
}

// ResetWindow 清空滚动窗口（切换交易对时）
func (s *State) ResetWindow() {
	s.window.Reset()
	s.Prices = nil
}

// Window 当前窗口（只在 Update 回调内使用）
func (s *State) Window() *signal.Window {
	return s.window
}

// Store 单实例的共享状态。所有写入都走 Update，读取走 Snapshot。
type Store struct {
	mu     sync.RWMutex
	st     State
	losses *risk.DailyLossLedger
	now    func() time.Time
}

// New 默认 Solana SOL/USDC，纸账户 $1000
func New(paperMode bool) *Store {
	return &Store{
		st: State{
			Chain:      domain.ChainSolana,
			Pair:       domain.DefaultSolanaPair,
			BaseToken:  domain.SolMint,
			QuoteToken: domain.UsdcMint,
			Portfolio:  domain.NewPortfolio(),
			PaperMode:  paperMode,
			window:     signal.NewWindow(signal.DefaultWindowSize),
		},
		losses: risk.NewDailyLossLedger(),
		now:    time.Now,
	}
}

// Snapshot 返回深拷贝；DailyLoss 按当前 UTC 日重新计算
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := s.st
	cp.window = nil
	cp.Prices = s.st.window.Prices()
	cp.History = append([]domain.TradeRecord(nil), s.st.History...)
	cp.LastSignal.Reasons = append([]string(nil), s.st.LastSignal.Reasons...)
	cp.LastDecision.Reasons = append([]string(nil), s.st.LastDecision.Reasons...)
	cp.DailyLoss = s.losses.Loss(s.now())
	return cp
}

// Update 在写锁内修改状态
func (s *Store) Update(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st)
}

// Fill 一笔成交对纸账本的影响
type Fill struct {
	Side        domain.Side
	BaseAmount  float64
	QuoteAmount float64
	Price       float64
	At          time.Time
}

// ApplyFill 更新纸账本、交易历史、最后成交时间，并记录当日亏损
func (s *Store) ApplyFill(f Fill) domain.Portfolio {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 先用成交前的 PnL 确定当日基线
	s.losses.Observe(s.st.Portfolio.RealizedPnL, f.At)
	s.st.Portfolio.Apply(f.Side, f.BaseAmount, f.QuoteAmount, f.Price)
	s.st.LastTradeAt = f.At
	s.st.History = append(s.st.History, domain.TradeRecord{Timestamp: f.At, Side: f.Side, Price: f.Price})
	if n := len(s.st.History); n > MaxHistory {
		s.st.History = append([]domain.TradeRecord(nil), s.st.History[n-MaxHistory:]...)
	}
	s.st.DailyLoss = s.losses.Observe(s.st.Portfolio.RealizedPnL, f.At)
	return s.st.Portfolio
}

// SetChain 切换链与交易对，滚动窗口清空
func (s *Store) SetChain(chain domain.Chain, pair, baseToken, quoteToken string) {
	s.Update(func(st *State) {
		st.Chain = chain
		st.Pair = pair
		st.BaseToken = baseToken
		st.QuoteToken = quoteToken
		st.ResetWindow()
		st.LastMarket = domain.MarketSnapshot{}
		st.LastSignal = domain.SignalResult{}
	})
}

// SetRunning 设置运行标志，返回之前的值
func (s *Store) SetRunning(running bool) (was bool) {
	s.Update(func(st *State) {
		was = st.Running
		st.Running = running
	})
	return was
}

// SetPaperMode 切换纸交易模式
func (s *Store) SetPaperMode(enabled bool) {
	s.Update(func(st *State) { st.PaperMode = enabled })
}
