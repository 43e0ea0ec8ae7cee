package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/signal"
)

func TestNew_Defaults(t *testing.T) {
	snap := New(true).Snapshot()
	assert.Equal(t, domain.ChainSolana, snap.Chain)
	assert.Equal(t, "SOL/USDC", snap.Pair)
	assert.Equal(t, domain.SolMint, snap.BaseToken)
	assert.Equal(t, 1000.0, snap.Portfolio.QuoteBalance)
	assert.True(t, snap.PaperMode)
	assert.False(t, snap.Running)
	assert.Empty(t, snap.Prices)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	s := New(true)
	s.Update(func(st *State) {
		st.PushPrice(1)
		st.PushPrice(2)
		st.LastDecision = domain.Decision{Action: domain.SideBuy, Reasons: []string{"a"}}
	})
	snap := s.Snapshot()
	snap.Prices[0] = 99
	snap.LastDecision.Reasons[0] = "mutated"

	again := s.Snapshot()
	assert.Equal(t, []float64{1, 2}, again.Prices)
	assert.Equal(t, []string{"a"}, again.LastDecision.Reasons)
}

func TestWindowIsBounded(t *testing.T) {
	s := New(true)
	s.Update(func(st *State) {
		for i := 0; i < signal.DefaultWindowSize+5; i++ {
			st.PushPrice(float64(i))
		}
	})
	snap := s.Snapshot()
	require.Len(t, snap.Prices, signal.DefaultWindowSize)
	assert.Equal(t, 5.0, snap.Prices[0])
}

func TestSetChain_ResetsWindow(t *testing.T) {
	s := New(true)
	s.Update(func(st *State) { st.PushPrice(10) })
	s.SetChain(domain.ChainBase, "WETH/USDC", "0xweth", "0xusdc")
	snap := s.Snapshot()
	assert.Equal(t, domain.ChainBase, snap.Chain)
	assert.Equal(t, "0xweth", snap.BaseToken)
	assert.Empty(t, snap.Prices)
}

func TestApplyFill_HistoryAndDailyLoss(t *testing.T) {
	s := New(true)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	p := s.ApplyFill(Fill{Side: domain.SideBuy, BaseAmount: 1, QuoteAmount: 100, Price: 100, At: at})
	assert.InDelta(t, 0, p.RealizedPnL, 1e-9)
	// 价格下跌后卖出，亏损 10
	p = s.ApplyFill(Fill{Side: domain.SideSell, BaseAmount: 1, QuoteAmount: 90, Price: 90, At: at})
	assert.InDelta(t, -10, p.RealizedPnL, 1e-9)

	snap := s.Snapshot()
	assert.InDelta(t, 10, snap.DailyLoss, 1e-9)
	assert.Equal(t, at, snap.LastTradeAt)
	assert.Len(t, snap.History, 2)

	for i := 0; i < MaxHistory+10; i++ {
		s.ApplyFill(Fill{Side: domain.SideBuy, BaseAmount: 0, QuoteAmount: 0, Price: 90, At: at})
	}
	assert.Len(t, s.Snapshot().History, MaxHistory)
}

func TestSetRunning_ReturnsPrevious(t *testing.T) {
	s := New(false)
	assert.False(t, s.SetRunning(true))
	assert.True(t, s.SetRunning(true))
	assert.True(t, s.SetRunning(false))
}

func TestConcurrentAccess(t *testing.T) {
	s := New(true)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.Update(func(st *State) { st.PushPrice(float64(i)) })
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
		}()
	}
	wg.Wait()
	assert.Len(t, s.Snapshot().Prices, 8)
}
