package risk

import (
	"math"
	"sync"
	"time"
)

// DailyLossLedger 记录每个自然日（UTC）开始时的 PnL，
// 当日累计亏损 = max(0, 日初 PnL - 当前 PnL)。
//
// 第一次观察到新日期时切换日初基线；盈利不会抵消历史，只影响当前值。
type DailyLossLedger struct {
	mu       sync.Mutex
	dayKey   int
	startPnL float64
	loss     float64
}

func NewDailyLossLedger() *DailyLossLedger {
	return &DailyLossLedger{}
}

// Observe 以最新 PnL 更新当日亏损并返回它
func (l *DailyLossLedger) Observe(pnl float64, now time.Time) float64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollDayIfNeeded(pnl, now)
	l.loss = math.Max(0, l.startPnL-pnl)
	return l.loss
}

// Loss 当日累计亏损；跨日后返回 0，直到下一次 Observe 重建基线
func (l *DailyLossLedger) Loss(now time.Time) float64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if dayKeyOf(now) != l.dayKey {
		return 0
	}
	return l.loss
}

func (l *DailyLossLedger) rollDayIfNeeded(pnl float64, now time.Time) {
	key := dayKeyOf(now)
	if key == l.dayKey {
		return
	}
	// 新的一天：以本次观察到的成交前 PnL 作为基线
	l.dayKey = key
	l.startPnL = pnl
	l.loss = 0
}

// YYYYMMDD
func dayKeyOf(t time.Time) int {
	t = t.UTC()
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}
