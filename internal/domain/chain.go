package domain

import (
	"fmt"
	"strings"
)

// Chain 交易所在的链
type Chain string

const (
	ChainSolana Chain = "solana"
	ChainBase   Chain = "base"
)

// ParseChain 解析链名称（大小写不敏感）
func ParseChain(s string) (Chain, error) {
	switch Chain(strings.ToLower(strings.TrimSpace(s))) {
	case ChainSolana:
		return ChainSolana, nil
	case ChainBase:
		return ChainBase, nil
	default:
		return "", fmt.Errorf("unsupported chain %q", s)
	}
}

// Side 交易方向。信号与决策复用同一组取值（HOLD 表示不动）。
// BUY 永远表示“花费 quote，得到 base”，SELL 相反。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideHold Side = "HOLD"
)

// ParseSide 解析方向；未知取值返回 false
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	case SideHold:
		return SideHold, true
	default:
		return SideHold, false
	}
}

// IsTrade 是否为可执行的方向
func (s Side) IsTrade() bool {
	return s == SideBuy || s == SideSell
}

// Mode 收据上记录的执行模式
type Mode string

const (
	ModePaper  Mode = "paper"
	ModeLive   Mode = "live"
	ModeSkill  Mode = "skill"
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
)

// Source 交易入口
type Source string

const (
	SourceUI    Source = "ui"
	SourceSkill Source = "skill"
	SourceACP   Source = "acp"
	SourceLoop  Source = "loop"
)

// Status 收据状态
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)
