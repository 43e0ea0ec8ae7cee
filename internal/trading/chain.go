package trading

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	sol "github.com/gagliardetto/solana-go"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/state"
)

// ChainSelection POST /api/ui/set-chain 与 skill set_chain
type ChainSelection struct {
	Chain      string `json:"chain"`
	Pair       string `json:"pair,omitempty"`
	BaseToken  string `json:"baseToken,omitempty"`
	QuoteToken string `json:"quoteToken,omitempty"`
}

// SetChain 切换活跃链/交易对并清空滚动窗口。
// 未给出的代币地址按链默认值补齐：Base 取 BASE_TOKEN_ADDRESS / BASE_USDC_ADDRESS，
// Solana 按交易对符号查已知 mint。
func (h *Handler) SetChain(sel ChainSelection) (state.State, error) {
	chain, err := domain.ParseChain(sel.Chain)
	if err != nil {
		return state.State{}, err
	}
	if _, ok := h.engines[chain]; !ok {
		return state.State{}, fmt.Errorf("%w: %s", ErrUnsupportedChain, chain)
	}
	pair := strings.ToUpper(strings.TrimSpace(sel.Pair))
	base := strings.TrimSpace(sel.BaseToken)
	quote := strings.TrimSpace(sel.QuoteToken)

	switch chain {
	case domain.ChainBase:
		if pair == "" {
			pair = domain.DefaultBasePair
		}
		cfg := h.base()
		if base == "" {
			base = cfg.TokenAddress
		}
		if quote == "" {
			quote = cfg.USDCAddress
		}
		for _, addr := range []string{base, quote} {
			if addr != "" && !common.IsHexAddress(addr) {
				return state.State{}, fmt.Errorf("invalid base token address %q", addr)
			}
		}
	case domain.ChainSolana:
		if pair == "" {
			pair = domain.DefaultSolanaPair
		}
		baseSym, quoteSym := domain.SplitPair(pair)
		if base == "" {
			t, ok := domain.LookupSolanaSymbol(baseSym)
			if !ok {
				return state.State{}, fmt.Errorf("unknown solana token %q: pass baseToken", baseSym)
			}
			base = t.Address
		}
		if quote == "" {
			t, ok := domain.LookupSolanaSymbol(quoteSym)
			if !ok {
				return state.State{}, fmt.Errorf("unknown solana token %q: pass quoteToken", quoteSym)
			}
			quote = t.Address
		}
		for _, mint := range []string{base, quote} {
			if _, err := sol.PublicKeyFromBase58(mint); err != nil {
				return state.State{}, fmt.Errorf("invalid solana mint %q: %w", mint, err)
			}
		}
	}

	h.store.SetChain(chain, pair, base, quote)
	log.Infof("切换到 %s %s (base=%s quote=%s)", chain, pair, base, quote)
	return h.store.Snapshot(), nil
}
