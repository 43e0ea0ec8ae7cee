package domain

import "time"

// TradeRecord 交易历史中的一条（有界列表）
type TradeRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
}

// Portfolio 纸交易账本。只做展示性记账，不代表真实持仓。
type Portfolio struct {
	Position     float64 `json:"position"`     // base 数量
	QuoteBalance float64 `json:"quoteBalance"` // quote（USDC）余额
	RealizedPnL  float64 `json:"realizedPnl"`
}

// NewPortfolio 初始账本：$1000 quote，0 持仓
func NewPortfolio() Portfolio {
	return Portfolio{QuoteBalance: PaperStartingBalance}
}

// Apply 按成交更新持仓与余额，并以 fillPrice 重新计算 PnL（不做增量累计）
func (p *Portfolio) Apply(side Side, baseAmount, quoteAmount, fillPrice float64) {
	switch side {
	case SideBuy:
		p.Position += baseAmount
		p.QuoteBalance -= quoteAmount
	case SideSell:
		p.Position -= baseAmount
		p.QuoteBalance += quoteAmount
	}
	p.RealizedPnL = p.Position*fillPrice + p.QuoteBalance - PaperStartingBalance
}

// Receipt 一次交易尝试的不可变记录
type Receipt struct {
	ID            string     `json:"id"`
	Timestamp     time.Time  `json:"timestamp"`
	Pair          string     `json:"pair"`
	Side          Side       `json:"side"`
	Mode          Mode       `json:"mode"`
	Notional      float64    `json:"notional"`
	FillPrice     float64    `json:"fillPrice"`
	Confidence    float64    `json:"confidence"`
	Reasons       []string   `json:"reasons"`
	RiskChecks    RiskChecks `json:"riskChecks"`
	TxHash        string     `json:"txHash"`
	Status        Status     `json:"status"`
	Chain         Chain      `json:"chain"`
	Source        Source     `json:"source"`
	WalletAddress string     `json:"walletAddress,omitempty"`
	ExplorerURL   string     `json:"explorerUrl,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// NoTxHash 没有链上交易时的占位
const NoTxHash = "N/A"
