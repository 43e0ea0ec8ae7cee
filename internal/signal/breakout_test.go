package signal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
)

func TestCompute_TooFewSamples(t *testing.T) {
	for _, prices := range [][]float64{nil, {100}, {100, 200}} {
		res := Compute(prices, 200)
		assert.Equal(t, domain.SideHold, res.Signal)
		assert.Zero(t, res.Strength)
	}
}

func TestCompute_FlatRange(t *testing.T) {
	res := Compute([]float64{100, 100, 100, 100}, 200)
	assert.Equal(t, domain.SideHold, res.Signal)
	assert.Zero(t, res.Strength)
	assert.False(t, math.IsNaN(res.Strength))
	assert.False(t, math.IsInf(res.Strength, 0))
}

func TestCompute_InsideRangeHolds(t *testing.T) {
	res := Compute([]float64{100, 110, 90, 95}, 200)
	assert.Equal(t, domain.SideHold, res.Signal)
	assert.Equal(t, 110.0, res.RollingHigh)
	assert.Equal(t, 90.0, res.RollingLow)
	assert.Zero(t, res.Strength)
}

func TestCompute_BreakoutBuy(t *testing.T) {
	res := Compute([]float64{100, 105, 108, 130}, 200)
	require.Equal(t, domain.SideBuy, res.Signal)
	assert.Equal(t, 108.0, res.RollingHigh)
	assert.Equal(t, 1.0, res.Strength)
}

func TestCompute_BreakdownSell(t *testing.T) {
	// 跌破 100 约 100bps，阈值 50bps -> 强度 100/150
	res := Compute([]float64{100, 102, 101, 99}, 50)
	require.Equal(t, domain.SideSell, res.Signal)
	assert.InDelta(t, 100.0/150.0, res.Strength, 1e-9)
}

func TestCompute_RangeHeuristic(t *testing.T) {
	// 未达到阈值的小幅突破之外：位置 0.9 -> 弱多
	res := Compute([]float64{90, 110, 100, 108}, 200)
	require.Equal(t, domain.SideBuy, res.Signal)
	assert.InDelta(t, (0.9-0.8)*5*0.3, res.Strength, 1e-9)

	res = Compute([]float64{90, 110, 100, 92}, 200)
	require.Equal(t, domain.SideSell, res.Signal)
	assert.InDelta(t, (0.2-0.1)*5*0.3, res.Strength, 1e-9)
}

func TestWindow_EvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for _, p := range []float64{1, 2, 3, 4, 5} {
		w.Push(p)
	}
	assert.Equal(t, []float64{3, 4, 5}, w.Prices())

	c := w.Clone()
	w.Reset()
	assert.Zero(t, w.Len())
	assert.Equal(t, 3, c.Len())
}

func TestWindow_DefaultSize(t *testing.T) {
	w := NewWindow(0)
	for i := 0; i < 40; i++ {
		w.Push(float64(i))
	}
	assert.Equal(t, DefaultWindowSize, w.Len())
	assert.Equal(t, 10.0, w.Prices()[0])
}
