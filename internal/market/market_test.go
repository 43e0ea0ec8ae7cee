package market

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/chain/evm"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/config"
)

func jupiterServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, domain.UsdcMint, q.Get("inputMint"))
		assert.Equal(t, domain.SolMint, q.Get("outputMint"))
		assert.Equal(t, "25000000", q.Get("amount"))
		assert.Equal(t, "100", q.Get("slippageBps"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func solRequest() Request {
	return Request{Pair: "SOL/USDC", BaseToken: domain.SolMint, QuoteToken: domain.UsdcMint, NotionalUSD: 25, SlippageBps: 100}
}

func TestJupiter_Quote(t *testing.T) {
	// 25 USDC -> 0.2 SOL => 125 USDC/SOL
	srv := jupiterServer(t, `{"inAmount":"25000000","outAmount":"200000000","priceImpactPct":"0.00123",
		"routePlan":[{"swapInfo":{"label":"Whirlpool"},"percent":100}]}`, http.StatusOK)
	j := NewJupiter(config.SolanaConfig{JupiterQuoteURL: srv.URL + "/v6/quote"}, nil)

	snap, err := j.Quote(context.Background(), solRequest())
	require.NoError(t, err)
	assert.InDelta(t, 125.0, snap.ImpliedPrice, 1e-9)
	assert.Equal(t, 13.0, snap.SlippageBps)
	assert.InDelta(t, 0.00123, snap.Impact, 1e-12)
	assert.Equal(t, "jupiter:Whirlpool", snap.RouteSummary)
}

func TestRouter_FetchConvertsErrorsToSentinel(t *testing.T) {
	srv := jupiterServer(t, `{"error":"no route"}`, http.StatusBadRequest)
	r := NewRouter().Register(domain.ChainSolana, NewJupiter(config.SolanaConfig{JupiterQuoteURL: srv.URL}, nil))

	snap := r.Fetch(context.Background(), domain.ChainSolana, solRequest())
	assert.False(t, snap.Usable())
	assert.Equal(t, 0.0, snap.ImpliedPrice)
	assert.Equal(t, RouteError, snap.RouteSummary)
	assert.Equal(t, domain.ChainSolana, snap.Chain)

	snap = r.Fetch(context.Background(), domain.ChainBase, solRequest())
	assert.Equal(t, RouteError, snap.RouteSummary)
}

func TestRouter_FetchMalformedBody(t *testing.T) {
	srv := jupiterServer(t, `{"inAmount":"abc"}`, http.StatusOK)
	r := NewRouter().Register(domain.ChainSolana, NewJupiter(config.SolanaConfig{JupiterQuoteURL: srv.URL}, nil))
	snap := r.Fetch(context.Background(), domain.ChainSolana, solRequest())
	assert.False(t, snap.Usable())
}

type fakeResolver map[string]uint8

func (f fakeResolver) MintDecimals(ctx context.Context, mint string) (uint8, error) {
	d, ok := f[mint]
	if !ok {
		return 0, errors.New("unknown")
	}
	return d, nil
}

func TestJupiter_UnknownMintUsesResolver(t *testing.T) {
	mint := "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"inAmount":"25000000","outAmount":"50000","priceImpactPct":0}`))
	}))
	defer srv.Close()
	j := NewJupiter(config.SolanaConfig{JupiterQuoteURL: srv.URL}, fakeResolver{mint: 2})

	req := solRequest()
	req.BaseToken = mint
	snap, err := j.Quote(context.Background(), req)
	require.NoError(t, err)
	// 25 USDC / 500 tokens
	assert.InDelta(t, 0.05, snap.ImpliedPrice, 1e-12)
	assert.Equal(t, "jupiter", snap.RouteSummary)
}

func TestUniswap_Quote(t *testing.T) {
	usdc := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	weth := common.HexToAddress("0x4200000000000000000000000000000000000006")
	mb := evm.NewMockBackend()
	mb.Decimals[usdc] = 6
	mb.Decimals[weth] = 18
	mb.QuoteIn = func(in, out common.Address, amountIn *big.Int) (*big.Int, error) {
		// 2500 USDC/WETH
		wei := new(big.Int).Mul(amountIn, big.NewInt(1_000_000_000_000))
		return wei.Div(wei, big.NewInt(2500)), nil
	}
	client := evm.NewClient(mb, 8453, nil)
	defer client.Close()

	u := NewUniswap(client, "0x3d4e44Eb1374240CE5F1B871ab261CD16335B76a", 500)
	snap, err := u.Quote(context.Background(), Request{
		Pair: "WETH/USDC", BaseToken: weth.Hex(), QuoteToken: usdc.Hex(), NotionalUSD: 25,
	})
	require.NoError(t, err)
	assert.InDelta(t, 2500, snap.ImpliedPrice, 1e-6)
	assert.Equal(t, float64(BaseSlippageBps), snap.SlippageBps)
	assert.Equal(t, "uniswap-v3:500", snap.RouteSummary)

	mb.QuoteIn = func(in, out common.Address, amountIn *big.Int) (*big.Int, error) {
		return nil, errors.New("execution reverted: SPL")
	}
	_, err = u.Quote(context.Background(), Request{BaseToken: weth.Hex(), QuoteToken: usdc.Hex(), NotionalUSD: 25})
	assert.Error(t, err)
}
