package market

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/config"
	sdkhttp "github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/sdk/http"
)

// DecimalsResolver 查询未收录 mint 的精度（internal/chain/solana.Client 满足）
type DecimalsResolver interface {
	MintDecimals(ctx context.Context, mint string) (uint8, error)
}

// Jupiter Solana 报价（Jupiter quote API）
type Jupiter struct {
	http     *sdkhttp.Client
	quoteURL string
	resolver DecimalsResolver
}

func NewJupiter(cfg config.SolanaConfig, resolver DecimalsResolver) *Jupiter {
	return &Jupiter{
		http:     sdkhttp.NewClient("", sdkhttp.Options{RPS: cfg.QuoteRPS, RetryCount: 1}),
		quoteURL: cfg.JupiterQuoteURL,
		resolver: resolver,
	}
}

// jupiterQuote v6 quote 响应中用到的字段
type jupiterQuote struct {
	InAmount       string    `json:"inAmount"`
	OutAmount      string    `json:"outAmount"`
	PriceImpactPct flexFloat `json:"priceImpactPct"`
	SlippageBps    int       `json:"slippageBps"`
	RoutePlan      []struct {
		SwapInfo struct {
			Label string `json:"label"`
		} `json:"swapInfo"`
		Percent int `json:"percent"`
	} `json:"routePlan"`
}

// flexFloat 兼容字符串或数字
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

func (j *Jupiter) decimals(ctx context.Context, mint string) (int, error) {
	if t, ok := domain.LookupSolanaToken(mint); ok {
		return t.Decimals, nil
	}
	if j.resolver == nil {
		return 0, fmt.Errorf("unknown mint %s", mint)
	}
	d, err := j.resolver.MintDecimals(ctx, mint)
	if err != nil {
		return 0, err
	}
	return int(d), nil
}

// QuoteRaw 原始 quote 响应（执行引擎需要 in/out 数量）
func (j *Jupiter) QuoteRaw(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (json.RawMessage, error) {
	var raw json.RawMessage
	_, err := j.http.DoRequest(ctx, http.MethodGet, j.quoteURL, &sdkhttp.RequestOptions{
		Params: map[string]any{
			"inputMint":   inputMint,
			"outputMint":  outputMint,
			"amount":      strconv.FormatUint(amount, 10),
			"slippageBps": slippageBps,
		},
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("jupiter quote: %w", err)
	}
	return raw, nil
}

// Quote 用 USDC 名义金额买 base 的报价：price = (inAmount/10^qd) / (outAmount/10^bd)
func (j *Jupiter) Quote(ctx context.Context, req Request) (domain.MarketSnapshot, error) {
	qd, err := j.decimals(ctx, req.QuoteToken)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("quote token decimals: %w", err)
	}
	bd, err := j.decimals(ctx, req.BaseToken)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("base token decimals: %w", err)
	}
	amount := uint64(math.Round(req.NotionalUSD * math.Pow10(qd)))
	if amount == 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("notional too small: %v", req.NotionalUSD)
	}

	raw, err := j.QuoteRaw(ctx, req.QuoteToken, req.BaseToken, amount, int(req.SlippageBps))
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	var q jupiterQuote
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("decode jupiter quote: %w", err)
	}
	in, err1 := strconv.ParseFloat(q.InAmount, 64)
	out, err2 := strconv.ParseFloat(q.OutAmount, 64)
	if err1 != nil || err2 != nil || in <= 0 || out <= 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("invalid jupiter amounts in=%q out=%q", q.InAmount, q.OutAmount)
	}

	price := (in / math.Pow10(qd)) / (out / math.Pow10(bd))
	impact := math.Abs(float64(q.PriceImpactPct))
	return domain.MarketSnapshot{
		ImpliedPrice: price,
		SlippageBps:  math.Ceil(impact * 10000),
		Impact:       impact,
		RouteSummary: routeLabel(q),
	}, nil
}

func routeLabel(q jupiterQuote) string {
	var labels []string
	for _, hop := range q.RoutePlan {
		if hop.SwapInfo.Label != "" {
			labels = append(labels, hop.SwapInfo.Label)
		}
	}
	if len(labels) == 0 {
		return "jupiter"
	}
	return "jupiter:" + strings.Join(labels, ">")
}
