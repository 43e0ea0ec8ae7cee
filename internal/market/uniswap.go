package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/chain/evm"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
)

// BaseSlippageBps Base 报价不从 quote 推导滑点，固定 0.5%；真正的保护在执行时的 amountOutMinimum
const BaseSlippageBps = 50

// EVMQuoter Uniswap 报价需要的链上读取（*evm.Client 满足）
type EVMQuoter interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	QuoteExactInputSingle(ctx context.Context, quoter common.Address, p evm.QuoteParams) (*big.Int, error)
}

// Uniswap Base 链 Uniswap V3 QuoterV2 报价
type Uniswap struct {
	client EVMQuoter
	quoter common.Address
	fee    int64
}

func NewUniswap(client EVMQuoter, quoter string, fee int64) *Uniswap {
	return &Uniswap{client: client, quoter: common.HexToAddress(quoter), fee: fee}
}

// Quote 以 notional USDC 模拟 exact-input 买入 base：price = notional / amountOut
func (u *Uniswap) Quote(ctx context.Context, req Request) (domain.MarketSnapshot, error) {
	if !common.IsHexAddress(req.BaseToken) || !common.IsHexAddress(req.QuoteToken) {
		return domain.MarketSnapshot{}, fmt.Errorf("invalid token address base=%q quote=%q", req.BaseToken, req.QuoteToken)
	}
	base := common.HexToAddress(req.BaseToken)
	quote := common.HexToAddress(req.QuoteToken)

	qd, err := u.client.Decimals(ctx, quote)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	bd, err := u.client.Decimals(ctx, base)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	amountIn := evm.ToUnits(req.NotionalUSD, qd)
	out, err := u.client.QuoteExactInputSingle(ctx, u.quoter, evm.QuoteParams{
		TokenIn:  quote,
		TokenOut: base,
		Amount:   amountIn,
		Fee:      u.fee,
	})
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("uniswap quote (fee %d): %w", u.fee, err)
	}
	baseOut := evm.FromUnits(out, bd)
	if baseOut <= 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("uniswap quote returned zero output")
	}
	return domain.MarketSnapshot{
		ImpliedPrice: req.NotionalUSD / baseOut,
		SlippageBps:  BaseSlippageBps,
		RouteSummary: fmt.Sprintf("uniswap-v3:%d", u.fee),
	}, nil
}
