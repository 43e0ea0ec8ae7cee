package execution

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	sol "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/chain/evm"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/market"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/config"
)

var (
	usdcAddr   = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	wethAddr   = common.HexToAddress("0x4200000000000000000000000000000000000006")
	quoterAddr = common.HexToAddress("0x3d4e44Eb1374240CE5F1B871ab261CD16335B76a")
	routerAddr = common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481")
)

func baseConfig() config.BaseConfig {
	return config.BaseConfig{
		RPCURL:         "http://localhost:8545",
		ChainID:        8453,
		TokenAddress:   wethAddr.Hex(),
		USDCAddress:    usdcAddr.Hex(),
		SwapRouter:     routerAddr.Hex(),
		Quoter:         quoterAddr.Hex(),
		PoolFee:        500,
		MaxNotionalUSD: 100,
		CooldownSec:    60,
		ExplorerURL:    "https://basescan.org/tx/",
	}
}

// 1 WETH = 2000 USDC
func newBaseFixture(t *testing.T, cfg config.BaseConfig) (*BaseEngine, *evm.MockBackend) {
	t.Helper()
	mb := evm.NewMockBackend()
	mb.Decimals[usdcAddr] = 6
	mb.Decimals[wethAddr] = 18
	mb.QuoteIn = func(tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
		if tokenIn == usdcAddr {
			// usdc(6) -> weth(18): amount * 1e12 / 2000
			out := new(big.Int).Mul(amountIn, big.NewInt(1_000_000_000_000))
			return out.Div(out, big.NewInt(2000)), nil
		}
		out := new(big.Int).Mul(amountIn, big.NewInt(2000))
		return out.Div(out, big.NewInt(1_000_000_000_000)), nil
	}
	mb.QuoteOut = func(tokenIn, tokenOut common.Address, amountOut *big.Int) (*big.Int, error) {
		// 需要多少 weth 才能换出 amountOut usdc
		in := new(big.Int).Mul(amountOut, big.NewInt(1_000_000_000_000))
		return in.Div(in, big.NewInt(2000)), nil
	}

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	client := evm.NewClient(mb, 8453, key)
	client.PollInterval = time.Millisecond
	t.Cleanup(client.Close)

	e := NewBaseEngine(client, func() config.BaseConfig { return cfg })
	return e, mb
}

func TestBaseEngine_BuySwapsNotionalOfUSDC(t *testing.T) {
	e, mb := newBaseFixture(t, baseConfig())
	mb.SwapOut = func(p evm.SwapParams) *big.Int {
		return new(big.Int).Set(p.AmountOutMinimum)
	}

	res := e.Execute(context.Background(), Request{Pair: "WETH/USDC", Side: domain.SideBuy, NotionalUSD: 20, MaxSlippagePct: 1})
	require.Equal(t, OK, res.Outcome, res.Notes)

	require.Len(t, mb.Swaps, 1)
	swap := mb.Swaps[0]
	assert.Equal(t, usdcAddr, swap.TokenIn)
	assert.Equal(t, wethAddr, swap.TokenOut)
	assert.Equal(t, big.NewInt(20_000_000), swap.AmountIn)
	// 0.01 WETH 的 99%
	assert.Equal(t, "9900000000000000", swap.AmountOutMinimum.String())
	assert.Equal(t, int64(500), swap.Fee)

	assert.Equal(t, 1, mb.CallCount("send:approve"))
	assert.Equal(t, "USDC", res.TokenIn)
	assert.Equal(t, "WETH", res.TokenOut)
	assert.InDelta(t, 20.0, res.AmountIn, 1e-9)
	assert.InDelta(t, 0.0099, res.AmountOut, 1e-12)
	assert.True(t, strings.HasPrefix(res.ExplorerURL, "https://basescan.org/tx/0x"))
}

func TestBaseEngine_SellSizesInputFromExactOutputQuote(t *testing.T) {
	e, mb := newBaseFixture(t, baseConfig())
	var askedOut *big.Int
	mb.QuoteOut = func(tokenIn, tokenOut common.Address, amountOut *big.Int) (*big.Int, error) {
		askedOut = amountOut
		// 0.025 WETH 换 50 USDC
		return big.NewInt(25_000_000_000_000_000), nil
	}

	res := e.Execute(context.Background(), Request{Pair: "WETH/USDC", Side: domain.SideSell, NotionalUSD: 50, MaxSlippagePct: 1})
	require.Equal(t, OK, res.Outcome, res.Notes)

	require.NotNil(t, askedOut)
	assert.Equal(t, big.NewInt(50_000_000), askedOut)
	require.Len(t, mb.Swaps, 1)
	assert.Equal(t, wethAddr, mb.Swaps[0].TokenIn)
	assert.Equal(t, big.NewInt(25_000_000_000_000_000), mb.Swaps[0].AmountIn)
	assert.NotEqual(t, evm.ToUnits(50, 18), mb.Swaps[0].AmountIn)
	assert.InDelta(t, 0.025, res.AmountIn, 1e-12)
}

func TestBaseEngine_SellQuoteFailureIsQuoteFailed(t *testing.T) {
	e, mb := newBaseFixture(t, baseConfig())
	mb.QuoteOut = nil

	res := e.Execute(context.Background(), Request{Pair: "WETH/USDC", Side: domain.SideSell, NotionalUSD: 50})
	assert.Equal(t, QuoteFailed, res.Outcome)
	assert.Contains(t, res.Notes, "liquidity")
	assert.Equal(t, domain.NoTxHash, res.TxHash)
	assert.Empty(t, mb.Sent)
}

func TestBaseEngine_ProtectiveQuoteFailureAborts(t *testing.T) {
	e, mb := newBaseFixture(t, baseConfig())
	mb.QuoteIn = nil

	res := e.Execute(context.Background(), Request{Pair: "WETH/USDC", Side: domain.SideBuy, NotionalUSD: 20, MaxSlippagePct: 1})
	assert.Equal(t, QuoteFailed, res.Outcome)
	assert.Empty(t, mb.Sent)
}

func TestBaseEngine_UnprotectedSwapIsOptIn(t *testing.T) {
	cfg := baseConfig()
	cfg.AllowUnprotectedSwap = true
	e, mb := newBaseFixture(t, cfg)
	mb.QuoteIn = nil

	res := e.Execute(context.Background(), Request{Pair: "WETH/USDC", Side: domain.SideBuy, NotionalUSD: 20, MaxSlippagePct: 1})
	require.Equal(t, OK, res.Outcome, res.Notes)
	require.Len(t, mb.Swaps, 1)
	assert.Equal(t, 0, mb.Swaps[0].AmountOutMinimum.Sign())
	assert.Contains(t, res.Notes, "amountOutMinimum=0")
}

func TestBaseEngine_UnprotectedSwapFromEnv(t *testing.T) {
	t.Setenv("BASE_ALLOW_UNPROTECTED_SWAP", "true")
	cfg := baseConfig()
	cfg.AllowUnprotectedSwap = config.Base().AllowUnprotectedSwap
	assert.True(t, cfg.AllowUnprotectedSwap)
}

func TestBaseEngine_SkipsApproveWhenAllowanceSuffices(t *testing.T) {
	e, mb := newBaseFixture(t, baseConfig())
	mb.Allowances[usdcAddr] = evm.ToUnits(1_000_000, 6)

	res := e.Execute(context.Background(), Request{Pair: "WETH/USDC", Side: domain.SideBuy, NotionalUSD: 20, MaxSlippagePct: 1})
	require.Equal(t, OK, res.Outcome, res.Notes)
	assert.Equal(t, 0, mb.CallCount("send:approve"))
	assert.Equal(t, 1, mb.CallCount("send:exactInputSingle"))
}

func TestBaseEngine_Rails(t *testing.T) {
	t.Run("kill switch", func(t *testing.T) {
		cfg := baseConfig()
		cfg.KillSwitch = true
		e, mb := newBaseFixture(t, cfg)
		res := e.Execute(context.Background(), Request{Pair: "WETH/USDC", Side: domain.SideBuy, NotionalUSD: 20})
		assert.Equal(t, RiskBlocked, res.Outcome)
		assert.Empty(t, mb.Calls)
	})

	t.Run("max notional", func(t *testing.T) {
		e, mb := newBaseFixture(t, baseConfig())
		res := e.Execute(context.Background(), Request{Pair: "WETH/USDC", Side: domain.SideBuy, NotionalUSD: 101})
		assert.Equal(t, RiskBlocked, res.Outcome)
		assert.Contains(t, res.Notes, "BASE_MAX_NOTIONAL_USD")
		assert.Empty(t, mb.Calls)
	})

	t.Run("cooldown", func(t *testing.T) {
		e, mb := newBaseFixture(t, baseConfig())
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		e.now = func() time.Time { return now }

		first := e.Execute(context.Background(), Request{Pair: "WETH/USDC", Side: domain.SideBuy, NotionalUSD: 20, MaxSlippagePct: 1})
		require.Equal(t, OK, first.Outcome, first.Notes)

		now = now.Add(15 * time.Second)
		second := e.Execute(context.Background(), Request{Pair: "WETH/USDC", Side: domain.SideBuy, NotionalUSD: 20, MaxSlippagePct: 1})
		assert.Equal(t, RiskBlocked, second.Outcome)
		assert.Contains(t, second.Notes, "45s remaining")
		assert.Len(t, mb.Swaps, 1)

		now = now.Add(46 * time.Second)
		third := e.Execute(context.Background(), Request{Pair: "WETH/USDC", Side: domain.SideBuy, NotionalUSD: 20, MaxSlippagePct: 1})
		assert.Equal(t, OK, third.Outcome, third.Notes)
	})
}

func TestBaseEngine_PaperModeQuotesOnly(t *testing.T) {
	e, mb := newBaseFixture(t, baseConfig())

	res := e.Execute(context.Background(), Request{Pair: "WETH/USDC", Side: domain.SideBuy, NotionalUSD: 20, MaxSlippagePct: 1, Paper: true})
	require.Equal(t, OK, res.Outcome, res.Notes)
	assert.Equal(t, domain.NoTxHash, res.TxHash)
	assert.InDelta(t, 0.01, res.AmountOut, 1e-12)
	assert.Empty(t, mb.Sent)
}

func TestBaseEngine_RevertedSwapIsNetworkError(t *testing.T) {
	e, mb := newBaseFixture(t, baseConfig())
	mb.Allowances[usdcAddr] = evm.ToUnits(1_000_000, 6)
	mb.Reverted = true

	res := e.Execute(context.Background(), Request{Pair: "WETH/USDC", Side: domain.SideBuy, NotionalUSD: 20, MaxSlippagePct: 1})
	assert.Equal(t, NetworkError, res.Outcome)
	assert.True(t, strings.HasPrefix(res.TxHash, "0x"))
}

func TestBaseEngine_NoSigner(t *testing.T) {
	mb := evm.NewMockBackend()
	mb.Decimals[usdcAddr] = 6
	mb.Decimals[wethAddr] = 18
	mb.QuoteIn = func(_, _ common.Address, amountIn *big.Int) (*big.Int, error) { return amountIn, nil }
	e := NewBaseEngine(evm.NewClient(mb, 8453, nil), func() config.BaseConfig { return baseConfig() })

	assert.Empty(t, e.Wallet(context.Background()))
	res := e.Execute(context.Background(), Request{Pair: "WETH/USDC", Side: domain.SideBuy, NotionalUSD: 20})
	assert.Equal(t, NetworkError, res.Outcome)
}

type fakeMemo struct {
	key     sol.PrivateKey
	memos   []string
	fundErr error
	sendErr error
}

func (f *fakeMemo) PublicKey() sol.PublicKey { return f.key.PublicKey() }

func (f *fakeMemo) EnsureFunded(ctx context.Context) error { return f.fundErr }

func (f *fakeMemo) SendMemo(ctx context.Context, memo string) (sol.Signature, error) {
	if f.sendErr != nil {
		return sol.Signature{}, f.sendErr
	}
	f.memos = append(f.memos, memo)
	sig, err := f.key.Sign([]byte(memo))
	return sig, err
}

type fixedQuote struct {
	price float64
	err   error
	calls int
}

func (q *fixedQuote) Quote(ctx context.Context, req market.Request) (domain.MarketSnapshot, error) {
	q.calls++
	if q.err != nil {
		return domain.MarketSnapshot{}, q.err
	}
	return domain.MarketSnapshot{ImpliedPrice: q.price, RouteSummary: "jupiter"}, nil
}

func solanaConfig() config.SolanaConfig {
	return config.SolanaConfig{ExplorerURL: "https://explorer.solana.com/tx/{tx}?cluster=devnet"}
}

func TestSolanaEngine_BuyRecordsMemo(t *testing.T) {
	key, err := sol.NewRandomPrivateKey()
	require.NoError(t, err)
	wallet := &fakeMemo{key: key}
	quotes := &fixedQuote{price: 150}
	e := NewSolanaEngine(wallet, quotes, solanaConfig())

	res := e.Execute(context.Background(), Request{Pair: "SOL/USDC", Side: domain.SideBuy, NotionalUSD: 30})
	require.Equal(t, OK, res.Outcome, res.Notes)

	require.Len(t, wallet.memos, 1)
	assert.Equal(t, "PSYOPS|SOL/USDC|BUY|30.00|150.000000", wallet.memos[0])
	assert.Equal(t, "USDC", res.TokenIn)
	assert.Equal(t, "SOL", res.TokenOut)
	assert.InDelta(t, 30.0, res.AmountIn, 1e-9)
	assert.InDelta(t, 0.2, res.AmountOut, 1e-9)
	assert.InDelta(t, 150.0, res.FillPrice(domain.SideBuy), 1e-9)
	assert.Contains(t, res.ExplorerURL, res.TxHash)
	assert.Equal(t, key.PublicKey().String(), e.Wallet(context.Background()))
}

func TestSolanaEngine_SellWithPriceHintSkipsQuote(t *testing.T) {
	key, err := sol.NewRandomPrivateKey()
	require.NoError(t, err)
	quotes := &fixedQuote{price: 1}
	e := NewSolanaEngine(&fakeMemo{key: key}, quotes, solanaConfig())

	res := e.Execute(context.Background(), Request{Pair: "SOL/USDC", Side: domain.SideSell, NotionalUSD: 50, PriceHint: 100})
	require.Equal(t, OK, res.Outcome, res.Notes)
	assert.Equal(t, 0, quotes.calls)
	base, quote := res.Amounts(domain.SideSell)
	assert.InDelta(t, 0.5, base, 1e-9)
	assert.InDelta(t, 50.0, quote, 1e-9)
}

func TestSolanaEngine_Failures(t *testing.T) {
	key, err := sol.NewRandomPrivateKey()
	require.NoError(t, err)

	res := NewSolanaEngine(&fakeMemo{key: key}, &fixedQuote{err: errors.New("no route")}, solanaConfig()).
		Execute(context.Background(), Request{Pair: "SOL/USDC", Side: domain.SideBuy, NotionalUSD: 10})
	assert.Equal(t, QuoteFailed, res.Outcome)

	res = NewSolanaEngine(&fakeMemo{key: key, fundErr: errors.New("airdrop limit")}, &fixedQuote{price: 100}, solanaConfig()).
		Execute(context.Background(), Request{Pair: "SOL/USDC", Side: domain.SideBuy, NotionalUSD: 10})
	assert.Equal(t, NetworkError, res.Outcome)
	assert.Contains(t, res.Notes, "airdrop limit")

	res = NewSolanaEngine(&fakeMemo{key: key, sendErr: errors.New("blockhash not found")}, &fixedQuote{price: 100}, solanaConfig()).
		Execute(context.Background(), Request{Pair: "SOL/USDC", Side: domain.SideSell, NotionalUSD: 10})
	assert.Equal(t, NetworkError, res.Outcome)
	assert.Equal(t, domain.NoTxHash, res.TxHash)

	res = NewSolanaEngine(&fakeMemo{key: key}, &fixedQuote{price: 100}, solanaConfig()).
		Execute(context.Background(), Request{Pair: "SOL/USDC", Side: domain.SideHold, NotionalUSD: 10})
	assert.Equal(t, RiskBlocked, res.Outcome)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ok", OK.String())
	assert.Equal(t, "risk_blocked", RiskBlocked.String())
	assert.Equal(t, "quote_failed", QuoteFailed.String())
	assert.Equal(t, "network_error", NetworkError.String())
}
