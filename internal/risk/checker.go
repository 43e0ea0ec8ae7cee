package risk

import (
	"time"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/config"
)

// Input 风控检查输入。纯数据，Check 不做任何 I/O。
type Input struct {
	Notional    float64
	SlippageBps float64
	Config      config.TradingConfig
	LastTradeAt time.Time // 零值表示从未交易
	DailyLoss   float64
	Now         time.Time
}

// Check 四项独立检查，全部通过才允许交易；任意一项失败即阻断，不做部分放行。
func Check(in Input) domain.RiskChecks {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	rc := domain.RiskChecks{
		CooldownOK:  in.LastTradeAt.IsZero() || now.Sub(in.LastTradeAt) >= in.Config.Cooldown(),
		NotionalOK:  in.Notional <= in.Config.MaxNotionalUSD,
		DailyLossOK: in.DailyLoss <= in.Config.MaxDailyLossUSD,
		SlippageOK:  in.SlippageBps <= in.Config.MaxSlippageBps,
	}
	rc.Allowed = rc.CooldownOK && rc.NotionalOK && rc.DailyLossOK && rc.SlippageOK
	return rc
}

// CooldownRemaining 距离冷却结束还剩多久（已结束返回 0）
func CooldownRemaining(cfg config.TradingConfig, lastTradeAt, now time.Time) time.Duration {
	if lastTradeAt.IsZero() {
		return 0
	}
	left := cfg.Cooldown() - now.Sub(lastTradeAt)
	if left < 0 {
		return 0
	}
	return left
}
