package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDailyLossLedger(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewDailyLossLedger()

	assert.Zero(t, l.Observe(0, day1))
	assert.InDelta(t, 12.5, l.Observe(-12.5, day1.Add(time.Hour)), 1e-9)
	// 回本后亏损归零，不会变成负数
	assert.Zero(t, l.Observe(3, day1.Add(2*time.Hour)))
	assert.InDelta(t, 2, l.Observe(-2, day1.Add(3*time.Hour)), 1e-9)
	assert.InDelta(t, 2, l.Loss(day1.Add(3*time.Hour)), 1e-9)

	// 第二天以新的 PnL 为基线
	day2 := day1.Add(24 * time.Hour)
	assert.Zero(t, l.Loss(day2))
	assert.Zero(t, l.Observe(-2, day2))
	assert.InDelta(t, 8, l.Observe(-10, day2.Add(time.Minute)), 1e-9)
}

func TestDailyLossLedger_NilSafe(t *testing.T) {
	var l *DailyLossLedger
	assert.Zero(t, l.Observe(-5, time.Now()))
	assert.Zero(t, l.Loss(time.Now()))
}
