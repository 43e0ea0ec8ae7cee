// Package walletflow builds unsigned transactions for browser wallets and
// records them once they are confirmed on chain.
package walletflow

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	sol "github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/chain/evm"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/chain/solana"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/execution"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/market"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/receipts"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/trading"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/config"
)

var log = logrus.WithField("component", "walletflow")

var (
	// ErrNotConfirmed 交易尚未确认（或未找到）
	ErrNotConfirmed = errors.New("transaction not confirmed")
	// ErrTxFailed 交易已上链但执行失败
	ErrTxFailed = errors.New("transaction failed on chain")
)

// SolanaWallet *solana.Client 满足
type SolanaWallet interface {
	BuildUnsignedMemo(ctx context.Context, payer sol.PublicKey, memo string) (string, error)
	Status(ctx context.Context, sig sol.Signature) (solana.SignatureState, error)
}

// BasePlanner *execution.BaseEngine 满足
type BasePlanner interface {
	Plan(ctx context.Context, req execution.Request) (execution.SwapPlan, execution.Result, bool)
	Config() config.BaseConfig
}

// BaseChain *evm.Client 满足
type BaseChain interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Recorder *trading.Handler 满足
type Recorder interface {
	RecordConfirmed(ctx context.Context, c trading.Confirmed) (*domain.Receipt, error)
}

// TxLookup receipts.Store 满足
type TxLookup interface {
	FindByTx(ctx context.Context, txHash string) (domain.Receipt, error)
}

// Quoter *market.Router 满足
type Quoter interface {
	Quote(ctx context.Context, chain domain.Chain, req market.Request) (domain.MarketSnapshot, error)
}

// Options Service 依赖；某条链的依赖为 nil 时该链不可用
type Options struct {
	Solana       SolanaWallet
	SolanaConfig func() config.SolanaConfig
	BasePlanner  BasePlanner
	BaseChain    BaseChain
	Quotes       Quoter
	Recorder     Recorder
	Trading      func() config.TradingConfig
	// ConfirmTimeout Base 等待回执的上限
	ConfirmTimeout time.Duration
	// Dedupe 挡住同一 txHash 的并发确认
	Dedupe *execution.InFlightDeduper
	// Receipts 已记账的 txHash 永久只记一次
	Receipts TxLookup
}

// Service 钱包签名流程
type Service struct {
	opts Options
}

func New(opts Options) *Service {
	if opts.SolanaConfig == nil {
		opts.SolanaConfig = config.Solana
	}
	if opts.Trading == nil {
		opts.Trading = config.Trading
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 60 * time.Second
	}
	if opts.Dedupe == nil {
		opts.Dedupe = execution.NewInFlightDeduper(0)
	}
	return &Service{opts: opts}
}

// BuildRequest POST /api/ui/build-transaction
type BuildRequest struct {
	Chain         domain.Chain `json:"chain"`
	Pair          string       `json:"pair"`
	Side          domain.Side  `json:"side"`
	NotionalUSD   float64      `json:"notional"`
	WalletAddress string       `json:"walletAddress"`
	BaseToken     string       `json:"baseToken,omitempty"`
	QuoteToken    string       `json:"quoteToken,omitempty"`
}

// EVMTx 待钱包签名的 EVM 交易
type EVMTx struct {
	To          string `json:"to"`
	Data        string `json:"data"`
	Value       string `json:"value"`
	ChainID     int64  `json:"chainId"`
	Description string `json:"description"`
}

// BuildResult 未签名交易
type BuildResult struct {
	Chain domain.Chain `json:"chain"`
	// Transaction Solana：base64 序列化的未签名交易
	Transaction string `json:"transaction,omitempty"`
	// Transactions Base：按顺序签名发送（approve 可选，然后 swap）
	Transactions []EVMTx `json:"transactions,omitempty"`
	Memo         string  `json:"memo,omitempty"`
	Price        float64 `json:"price"`
	AmountIn     float64 `json:"amountIn"`
	AmountOut    float64 `json:"amountOut"`
	MinAmountOut float64 `json:"minAmountOut,omitempty"`
}

func (s *Service) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	if !req.Side.IsTrade() {
		return nil, fmt.Errorf("side must be BUY or SELL, got %q", req.Side)
	}
	if req.NotionalUSD <= 0 {
		return nil, fmt.Errorf("notional must be positive, got %v", req.NotionalUSD)
	}
	if maxNotional := s.opts.Trading().MaxNotionalUSD; maxNotional > 0 && req.NotionalUSD > maxNotional {
		return nil, fmt.Errorf("notional $%.2f exceeds max $%.2f", req.NotionalUSD, maxNotional)
	}
	if strings.TrimSpace(req.WalletAddress) == "" {
		return nil, errors.New("walletAddress is required")
	}
	switch req.Chain {
	case domain.ChainSolana:
		return s.buildSolana(ctx, req)
	case domain.ChainBase:
		return s.buildBase(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %s", trading.ErrUnsupportedChain, req.Chain)
	}
}

func (s *Service) buildSolana(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	if s.opts.Solana == nil || s.opts.Quotes == nil {
		return nil, fmt.Errorf("%w: solana wallet flow is not configured", trading.ErrUnsupportedChain)
	}
	payer, err := sol.PublicKeyFromBase58(req.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid solana wallet address: %w", err)
	}
	if req.Pair == "" {
		req.Pair = domain.DefaultSolanaPair
	}
	snap, err := s.opts.Quotes.Quote(ctx, domain.ChainSolana, market.Request{
		Pair:        req.Pair,
		BaseToken:   orDefault(req.BaseToken, domain.SolMint),
		QuoteToken:  orDefault(req.QuoteToken, domain.UsdcMint),
		NotionalUSD: req.NotionalUSD,
		SlippageBps: s.opts.Trading().MaxSlippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("quote failed: %w", err)
	}
	if !snap.Usable() {
		return nil, errors.New("quote returned no usable price")
	}
	memo := execution.Memo(req.Pair, req.Side, req.NotionalUSD, snap.ImpliedPrice)
	raw, err := s.opts.Solana.BuildUnsignedMemo(ctx, payer, memo)
	if err != nil {
		return nil, err
	}
	out := &BuildResult{Chain: domain.ChainSolana, Transaction: raw, Memo: memo, Price: snap.ImpliedPrice}
	base := req.NotionalUSD / snap.ImpliedPrice
	if req.Side == domain.SideBuy {
		out.AmountIn, out.AmountOut = req.NotionalUSD, base
	} else {
		out.AmountIn, out.AmountOut = base, req.NotionalUSD
	}
	return out, nil
}

func (s *Service) buildBase(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	if s.opts.BasePlanner == nil || s.opts.BaseChain == nil {
		return nil, fmt.Errorf("%w: base wallet flow is not configured", trading.ErrUnsupportedChain)
	}
	if !common.IsHexAddress(req.WalletAddress) {
		return nil, fmt.Errorf("invalid base wallet address %q", req.WalletAddress)
	}
	cfg := s.opts.BasePlanner.Config()
	if cfg.KillSwitch {
		return nil, errors.New("kill switch engaged (BASE_KILL_SWITCH=true)")
	}
	if req.Pair == "" {
		req.Pair = domain.DefaultBasePair
	}
	owner := common.HexToAddress(req.WalletAddress)

	plan, failed, ok := s.opts.BasePlanner.Plan(ctx, execution.Request{
		Pair:           req.Pair,
		Side:           req.Side,
		NotionalUSD:    req.NotionalUSD,
		MaxSlippagePct: s.opts.Trading().MaxSlippagePct(),
		BaseToken:      req.BaseToken,
		QuoteToken:     req.QuoteToken,
	})
	if !ok {
		return nil, fmt.Errorf("%s: %s", failed.Outcome, failed.Notes)
	}

	var txs []EVMTx
	allowance, err := s.opts.BaseChain.Allowance(ctx, plan.TokenIn, owner, plan.Router)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	if allowance.Cmp(plan.AmountIn) < 0 {
		data, err := evm.ApproveCalldata(plan.Router, plan.AmountIn)
		if err != nil {
			return nil, err
		}
		txs = append(txs, EVMTx{
			To:          plan.TokenIn.Hex(),
			Data:        "0x" + hex.EncodeToString(data),
			Value:       "0",
			ChainID:     cfg.ChainID,
			Description: fmt.Sprintf("approve %s for router", plan.TokenInSym),
		})
	}
	data, err := evm.ExactInputSingleCalldata(evm.SwapParams{
		TokenIn:          plan.TokenIn,
		TokenOut:         plan.TokenOut,
		Fee:              plan.Fee,
		Recipient:        owner,
		AmountIn:         plan.AmountIn,
		AmountOutMinimum: plan.MinOut,
	})
	if err != nil {
		return nil, err
	}
	txs = append(txs, EVMTx{
		To:          plan.Router.Hex(),
		Data:        "0x" + hex.EncodeToString(data),
		Value:       "0",
		ChainID:     cfg.ChainID,
		Description: fmt.Sprintf("swap %s -> %s", plan.TokenInSym, plan.TokenOutSym),
	})

	res := plan.Result()
	out := &BuildResult{
		Chain:        domain.ChainBase,
		Transactions: txs,
		AmountIn:     res.AmountIn,
		AmountOut:    res.AmountOut,
		MinAmountOut: evm.FromUnits(plan.MinOut, plan.OutDecimals),
	}
	out.Price = res.FillPrice(req.Side)
	return out, nil
}

// ConfirmRequest POST /api/ui/confirm-transaction
type ConfirmRequest struct {
	Chain         domain.Chain `json:"chain"`
	TxHash        string       `json:"txHash"`
	WalletAddress string       `json:"walletAddress"`
	Pair          string       `json:"pair"`
	Side          domain.Side  `json:"side"`
	NotionalUSD   float64      `json:"notional"`
	// Price 构建时的报价（Solana 成交价来源）
	Price float64 `json:"price,omitempty"`
}

// Confirm 校验交易已在链上成功，然后记账并写收据
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*domain.Receipt, error) {
	if strings.TrimSpace(req.TxHash) == "" {
		return nil, errors.New("txHash is required")
	}
	if !req.Side.IsTrade() {
		return nil, fmt.Errorf("side must be BUY or SELL, got %q", req.Side)
	}
	if err := s.opts.Dedupe.TryAcquire(req.TxHash); err != nil {
		return nil, fmt.Errorf("%s: %w", req.TxHash, err)
	}
	if s.opts.Receipts != nil {
		prev, err := s.opts.Receipts.FindByTx(ctx, req.TxHash)
		switch {
		case err == nil:
			log.Infof("交易已记账，直接返回原收据: %s -> %s", req.TxHash, prev.ID)
			return &prev, nil
		case !errors.Is(err, receipts.ErrNotFound):
			s.opts.Dedupe.Release(req.TxHash)
			return nil, fmt.Errorf("lookup receipt for %s: %w", req.TxHash, err)
		}
	}

	var (
		c   trading.Confirmed
		err error
	)
	switch req.Chain {
	case domain.ChainSolana:
		c, err = s.confirmSolana(ctx, req)
	case domain.ChainBase:
		c, err = s.confirmBase(ctx, req)
	default:
		err = fmt.Errorf("%w: %s", trading.ErrUnsupportedChain, req.Chain)
	}
	if err != nil {
		// 未确认时允许稍后重试
		s.opts.Dedupe.Release(req.TxHash)
		return nil, err
	}
	log.Infof("钱包交易已确认: %s %s %s", req.Chain, req.Side, req.TxHash)
	return s.opts.Recorder.RecordConfirmed(ctx, c)
}

func (s *Service) confirmSolana(ctx context.Context, req ConfirmRequest) (trading.Confirmed, error) {
	if s.opts.Solana == nil {
		return trading.Confirmed{}, fmt.Errorf("%w: solana wallet flow is not configured", trading.ErrUnsupportedChain)
	}
	sig, err := sol.SignatureFromBase58(req.TxHash)
	if err != nil {
		return trading.Confirmed{}, fmt.Errorf("invalid solana signature: %w", err)
	}
	st, err := s.opts.Solana.Status(ctx, sig)
	if err != nil {
		return trading.Confirmed{}, err
	}
	if st.Err != "" {
		return trading.Confirmed{}, fmt.Errorf("%w: %s", ErrTxFailed, st.Err)
	}
	if !st.Found || !st.Confirmed {
		return trading.Confirmed{}, ErrNotConfirmed
	}

	price := req.Price
	if price <= 0 && s.opts.Quotes != nil {
		snap, err := s.opts.Quotes.Quote(ctx, domain.ChainSolana, market.Request{
			Pair:        orDefault(req.Pair, domain.DefaultSolanaPair),
			BaseToken:   domain.SolMint,
			QuoteToken:  domain.UsdcMint,
			NotionalUSD: req.NotionalUSD,
		})
		if err == nil {
			price = snap.ImpliedPrice
		}
	}
	c := trading.Confirmed{
		Chain:         domain.ChainSolana,
		Pair:          orDefault(req.Pair, domain.DefaultSolanaPair),
		Side:          req.Side,
		NotionalUSD:   req.NotionalUSD,
		TxHash:        req.TxHash,
		ExplorerURL:   s.opts.SolanaConfig().ExplorerTxURL(req.TxHash),
		WalletAddress: req.WalletAddress,
		QuoteAmount:   req.NotionalUSD,
	}
	if price > 0 {
		c.BaseAmount = req.NotionalUSD / price
	} else {
		c.Notes = "no price available; portfolio not updated"
	}
	return c, nil
}

func (s *Service) confirmBase(ctx context.Context, req ConfirmRequest) (trading.Confirmed, error) {
	if s.opts.BaseChain == nil || s.opts.BasePlanner == nil {
		return trading.Confirmed{}, fmt.Errorf("%w: base wallet flow is not configured", trading.ErrUnsupportedChain)
	}
	raw := strings.TrimPrefix(req.TxHash, "0x")
	if b, err := hex.DecodeString(raw); err != nil || len(b) != common.HashLength {
		return trading.Confirmed{}, fmt.Errorf("invalid base tx hash %q", req.TxHash)
	}
	cfg := s.opts.BasePlanner.Config()

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ConfirmTimeout)
	defer cancel()
	receipt, err := s.opts.BaseChain.WaitMined(waitCtx, common.HexToHash(req.TxHash))
	if err != nil {
		var reverted *evm.RevertedError
		if errors.As(err, &reverted) {
			return trading.Confirmed{}, fmt.Errorf("%w: %v", ErrTxFailed, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return trading.Confirmed{}, fmt.Errorf("%w: %v", ErrNotConfirmed, err)
		}
		return trading.Confirmed{}, err
	}

	c := trading.Confirmed{
		Chain:         domain.ChainBase,
		Pair:          orDefault(req.Pair, domain.DefaultBasePair),
		Side:          req.Side,
		NotionalUSD:   req.NotionalUSD,
		TxHash:        receipt.TxHash.Hex(),
		ExplorerURL:   cfg.ExplorerTxURL(receipt.TxHash.Hex()),
		WalletAddress: req.WalletAddress,
		QuoteAmount:   req.NotionalUSD,
	}
	if common.IsHexAddress(req.WalletAddress) && common.IsHexAddress(cfg.TokenAddress) {
		wallet := common.HexToAddress(req.WalletAddress)
		baseToken := common.HexToAddress(cfg.TokenAddress)
		quoteToken := common.HexToAddress(cfg.USDCAddress)
		// BUY 看 base 到账，SELL 看 USDC 到账
		if req.Side == domain.SideBuy {
			c.BaseAmount = s.received(ctx, receipt, baseToken, wallet)
		} else {
			c.QuoteAmount = s.received(ctx, receipt, quoteToken, wallet)
			if req.Price > 0 {
				c.BaseAmount = req.NotionalUSD / req.Price
			}
		}
	}
	if c.BaseAmount <= 0 && req.Price > 0 {
		c.BaseAmount = req.NotionalUSD / req.Price
	}
	if c.BaseAmount <= 0 {
		c.Notes = "received amount unknown; portfolio not updated"
	}
	return c, nil
}

func (s *Service) received(ctx context.Context, receipt *ethtypes.Receipt, token, to common.Address) float64 {
	units := evm.TransferredTo(receipt, token, to)
	if units.Sign() == 0 {
		return 0
	}
	dec, err := s.opts.BaseChain.Decimals(ctx, token)
	if err != nil {
		log.Warnf("读取 %s 精度失败: %v", token.Hex(), err)
		return 0
	}
	return evm.FromUnits(units, dec)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
