package signal

import (
	"fmt"
	"math"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
)

const (
	minSamples = 3

	// 区间位置启发式：高于 0.8 视为弱多，低于 0.2 视为弱空
	rangeUpper    = 0.8
	rangeLower    = 0.2
	rangeScale    = 5.0
	rangeMaxScore = 0.3
)

// Compute 根据滚动窗口计算突破信号。
//
// 最后一个样本是当前价，其余样本构成先前窗口；当前价向上突破先前最高价
// thresholdBps 以上时给出 BUY，向下跌破最低价时给出 SELL，强度为
// min(1, breakoutBps / (3 * thresholdBps))。没有突破时退回区间位置启发式。
func Compute(prices []float64, thresholdBps float64) domain.SignalResult {
	if len(prices) < minSamples {
		return domain.SignalResult{
			Signal:  domain.SideHold,
			Reasons: []string{fmt.Sprintf("warming up: %d/%d samples", len(prices), minSamples)},
		}
	}

	current := prices[len(prices)-1]
	prior := prices[:len(prices)-1]
	high, low := prior[0], prior[0]
	for _, p := range prior[1:] {
		high = math.Max(high, p)
		low = math.Min(low, p)
	}

	res := domain.SignalResult{Signal: domain.SideHold, RollingHigh: high, RollingLow: low}

	if high > 0 && current > high {
		bps := (current - high) / high * 10000
		if bps >= thresholdBps {
			res.Signal = domain.SideBuy
			res.Strength = breakoutStrength(bps, thresholdBps)
			res.Reasons = []string{fmt.Sprintf("breakout above %.6g by %.1f bps", high, bps)}
			return res
		}
	}
	if low > 0 && current < low {
		bps := (low - current) / low * 10000
		if bps >= thresholdBps {
			res.Signal = domain.SideSell
			res.Strength = breakoutStrength(bps, thresholdBps)
			res.Reasons = []string{fmt.Sprintf("breakdown below %.6g by %.1f bps", low, bps)}
			return res
		}
	}

	width := high - low
	if width <= 0 {
		res.Reasons = []string{"flat range"}
		return res
	}

	pos := (current - low) / width
	switch {
	case pos > rangeUpper:
		res.Signal = domain.SideBuy
		res.Strength = (pos - rangeUpper) * rangeScale * rangeMaxScore
	case pos < rangeLower:
		res.Signal = domain.SideSell
		res.Strength = (rangeLower - pos) * rangeScale * rangeMaxScore
	}
	res.Reasons = []string{fmt.Sprintf("position in range %.2f", pos)}
	return res
}

func breakoutStrength(bps, thresholdBps float64) float64 {
	if thresholdBps <= 0 {
		return 1
	}
	return math.Min(1, bps/(3*thresholdBps))
}
