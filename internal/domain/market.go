package domain

import "time"

// MarketSnapshot 一次报价得到的市场快照（每个 tick / 请求重新生成）
type MarketSnapshot struct {
	Chain        Chain     `json:"chain"`
	Pair         string    `json:"pair"`
	ImpliedPrice float64   `json:"impliedPrice"` // quote / base
	SlippageBps  float64   `json:"slippageBps"`
	Impact       float64   `json:"impact"`
	RouteSummary string    `json:"routeSummary"`
	FetchedAt    time.Time `json:"fetchedAt"`
}

// Usable 价格 <= 0 表示本轮报价不可用，调用方应跳过
func (m MarketSnapshot) Usable() bool {
	return m.ImpliedPrice > 0
}

// SignalResult 突破信号
type SignalResult struct {
	Signal      Side     `json:"signal"`
	Strength    float64  `json:"strength"`
	RollingHigh float64  `json:"rollingHigh"`
	RollingLow  float64  `json:"rollingLow"`
	Reasons     []string `json:"reasons"`
}

// RiskChecks 风控结果：四项检查全部通过才允许交易
type RiskChecks struct {
	Allowed     bool `json:"allowed"`
	CooldownOK  bool `json:"cooldownOk"`
	NotionalOK  bool `json:"notionalOk"`
	DailyLossOK bool `json:"dailyLossOk"`
	SlippageOK  bool `json:"slippageOk"`
}

// Decision 规划器（LLM）给出的建议
type Decision struct {
	Action     Side     `json:"action"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}
