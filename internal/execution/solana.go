package execution

import (
	"context"
	"fmt"

	sol "github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/market"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/config"
)

var log = logrus.WithField("component", "execution")

// MemoSender 服务端 Solana 钱包（internal/chain/solana.Client 满足）
type MemoSender interface {
	PublicKey() sol.PublicKey
	EnsureFunded(ctx context.Context) error
	SendMemo(ctx context.Context, memo string) (sol.Signature, error)
}

// SolanaEngine 不做真实 swap：用 Jupiter 隐含价格计算成交量，
// 再发一笔 memo 交易作为纸交易的链上标记。
type SolanaEngine struct {
	wallet MemoSender
	quotes market.Adapter
	cfg    config.SolanaConfig
}

func NewSolanaEngine(wallet MemoSender, quotes market.Adapter, cfg config.SolanaConfig) *SolanaEngine {
	return &SolanaEngine{wallet: wallet, quotes: quotes, cfg: cfg}
}

func (e *SolanaEngine) Wallet(ctx context.Context) string {
	if e.wallet == nil {
		return ""
	}
	return e.wallet.PublicKey().String()
}

// Memo PSYOPS|<pair>|<side>|<notional>|<price>
func Memo(pair string, side domain.Side, notional, price float64) string {
	return fmt.Sprintf("PSYOPS|%s|%s|%.2f|%.6f", pair, side, notional, price)
}

func (e *SolanaEngine) Execute(ctx context.Context, req Request) Result {
	if !req.Side.IsTrade() {
		return blocked("side %s is not executable", req.Side)
	}
	if req.NotionalUSD <= 0 {
		return blocked("notional must be positive")
	}
	base := orDefault(req.BaseToken, domain.SolMint)
	quote := orDefault(req.QuoteToken, domain.UsdcMint)

	price := req.PriceHint
	if price <= 0 {
		snap, err := e.quotes.Quote(ctx, market.Request{
			Pair:        req.Pair,
			BaseToken:   base,
			QuoteToken:  quote,
			NotionalUSD: req.NotionalUSD,
			SlippageBps: req.MaxSlippagePct * 100,
		})
		if err != nil {
			return quoteFailed("jupiter quote failed: %v (check the pair has a route)", err)
		}
		price = snap.ImpliedPrice
	}
	if price <= 0 {
		return quoteFailed("no usable price for %s", req.Pair)
	}

	baseSym, quoteSym := symbols(req.Pair, base, quote)
	baseAmount := req.NotionalUSD / price
	res := Result{Outcome: OK}
	if req.Side == domain.SideBuy {
		res.TokenIn, res.TokenOut = quoteSym, baseSym
		res.AmountIn, res.AmountOut = req.NotionalUSD, baseAmount
	} else {
		res.TokenIn, res.TokenOut = baseSym, quoteSym
		res.AmountIn, res.AmountOut = baseAmount, req.NotionalUSD
	}

	if e.wallet == nil {
		return networkError("solana wallet is not configured")
	}
	if err := e.wallet.EnsureFunded(ctx); err != nil {
		return networkError("fund wallet: %v", err)
	}
	sig, err := e.wallet.SendMemo(ctx, Memo(req.Pair, req.Side, req.NotionalUSD, price))
	if err != nil {
		r := networkError("memo transaction failed: %v", err)
		if sig != (sol.Signature{}) {
			r.TxHash = sig.String()
		}
		return r
	}

	res.TxHash = sig.String()
	res.ExplorerURL = e.cfg.ExplorerTxURL(res.TxHash)
	res.Notes = "paper trade recorded as memo"
	log.Infof("Solana memo 已确认: %s %s %.2f @ %.6f sig=%s", req.Pair, req.Side, req.NotionalUSD, price, res.TxHash)
	return res
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// symbols 优先用已知 mint 的符号，其次用交易对标签
func symbols(pair, baseMint, quoteMint string) (string, string) {
	baseSym, quoteSym := domain.SplitPair(pair)
	if t, ok := domain.LookupSolanaToken(baseMint); ok {
		baseSym = t.Symbol
	}
	if t, ok := domain.LookupSolanaToken(quoteMint); ok {
		quoteSym = t.Symbol
	}
	return baseSym, quoteSym
}
