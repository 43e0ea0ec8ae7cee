package trading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/execution"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/state"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/config"
)

func TestSetChain(t *testing.T) {
	store := state.New(true)
	h := NewHandler(Options{
		Store:   store,
		Engines: map[domain.Chain]execution.Engine{domain.ChainSolana: &priceEngine{}, domain.ChainBase: &priceEngine{}},
		Base: func() config.BaseConfig {
			return config.BaseConfig{
				TokenAddress: "0x4200000000000000000000000000000000000006",
				USDCAddress:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			}
		},
	})
	store.Update(func(st *state.State) { st.PushPrice(150) })

	st, err := h.SetChain(ChainSelection{Chain: "BASE"})
	require.NoError(t, err)
	assert.Equal(t, domain.ChainBase, st.Chain)
	assert.Equal(t, domain.DefaultBasePair, st.Pair)
	assert.Equal(t, "0x4200000000000000000000000000000000000006", st.BaseToken)
	assert.Empty(t, st.Prices)

	st, err = h.SetChain(ChainSelection{Chain: "solana", Pair: "jup/usdc"})
	require.NoError(t, err)
	assert.Equal(t, "JUP/USDC", st.Pair)
	assert.Equal(t, "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", st.BaseToken)
	assert.Equal(t, domain.UsdcMint, st.QuoteToken)

	_, err = h.SetChain(ChainSelection{Chain: "solana", Pair: "FOO/USDC"})
	assert.Error(t, err)
	_, err = h.SetChain(ChainSelection{Chain: "base", BaseToken: "not-an-address"})
	assert.Error(t, err)
	_, err = h.SetChain(ChainSelection{Chain: "ethereum"})
	assert.Error(t, err)

	// 失败的切换不改变当前选择
	assert.Equal(t, "JUP/USDC", store.Snapshot().Pair)
}
