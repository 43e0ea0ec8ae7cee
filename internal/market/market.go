// Package market turns DEX quotes into normalized market snapshots.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/metrics"
)

var log = logrus.WithField("component", "market")

// RouteError 报价失败时快照的 RouteSummary
const RouteError = "error"

// Request 一次报价请求
type Request struct {
	Pair        string
	BaseToken   string
	QuoteToken  string
	NotionalUSD float64
	SlippageBps float64
}

// Adapter 单链报价
type Adapter interface {
	Quote(ctx context.Context, req Request) (domain.MarketSnapshot, error)
}

// Router 按链分发报价请求，并把错误转换为零价格快照
type Router struct {
	adapters map[domain.Chain]Adapter
	now      func() time.Time
}

func NewRouter() *Router {
	return &Router{adapters: make(map[domain.Chain]Adapter), now: time.Now}
}

// Register 注册某条链的报价器
func (r *Router) Register(chain domain.Chain, a Adapter) *Router {
	r.adapters[chain] = a
	return r
}

// Adapter 取某条链的报价器
func (r *Router) Adapter(chain domain.Chain) (Adapter, bool) {
	a, ok := r.adapters[chain]
	return a, ok
}

// Quote 原样返回错误
func (r *Router) Quote(ctx context.Context, chain domain.Chain, req Request) (domain.MarketSnapshot, error) {
	a, ok := r.adapters[chain]
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("no market adapter for chain %s", chain)
	}
	snap, err := a.Quote(ctx, req)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	snap.Chain = chain
	snap.Pair = req.Pair
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = r.now()
	}
	return snap, nil
}

// Fetch 任何错误都返回零价格快照（RouteSummary="error"），调用方用 Usable() 判断是否跳过
func (r *Router) Fetch(ctx context.Context, chain domain.Chain, req Request) domain.MarketSnapshot {
	snap, err := r.Quote(ctx, chain, req)
	if err != nil {
		metrics.QuoteErrors.Add(1)
		log.WithField("chain", chain).Warnf("报价失败: %v", err)
		return ErrorSnapshot(chain, req.Pair, r.now())
	}
	return snap
}

// ErrorSnapshot 零价格哨兵
func ErrorSnapshot(chain domain.Chain, pair string, at time.Time) domain.MarketSnapshot {
	return domain.MarketSnapshot{Chain: chain, Pair: pair, RouteSummary: RouteError, FetchedAt: at}
}

// Unavailable 配置缺失时注册的占位报价器，每次都返回同一个错误
type Unavailable struct {
	Err error
}

func (u Unavailable) Quote(ctx context.Context, req Request) (domain.MarketSnapshot, error) {
	return domain.MarketSnapshot{}, u.Err
}
