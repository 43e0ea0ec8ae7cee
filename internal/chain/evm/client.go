package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/cache"
)

var log = logrus.WithField("component", "evm")

// ErrNoSigner 客户端没有配置私钥，只能做只读调用
var ErrNoSigner = errors.New("evm: no signer configured")

// Backend 需要的 RPC 能力；*ethclient.Client 满足该接口，测试使用假实现
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Dial 连接 RPC 节点
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接RPC节点失败: %w", err)
	}
	return client, nil
}

// Client ERC-20 / Uniswap V3 调用封装
type Client struct {
	backend  Backend
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	decimals *cache.InMemoryCache[common.Address, uint8]

	// PollInterval 等待回执的轮询间隔
	PollInterval time.Duration
	// GasBufferPct 估算 gas 之上的余量（百分比）
	GasBufferPct int64
}

// NewClient key 可以为 nil（只读）
func NewClient(backend Backend, chainID int64, key *ecdsa.PrivateKey) *Client {
	return &Client{
		backend:      backend,
		chainID:      big.NewInt(chainID),
		key:          key,
		decimals:     cache.NewInMemoryCache[common.Address, uint8](-1),
		PollInterval: 2 * time.Second,
		GasBufferPct: 20,
	}
}

// Close 释放缓存的后台清理
func (c *Client) Close() {
	c.decimals.Close()
}

// Address 签名账户地址；未配置私钥时为零地址
func (c *Client) Address() common.Address {
	if c.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

// HasSigner 是否可以发送交易
func (c *Client) HasSigner() bool {
	return c.key != nil
}

func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// Decimals 读取代币精度（链上读取，永久缓存）
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	return c.decimals.GetOrLoad(token, 0, func() (uint8, error) {
		data, err := erc20ABI.Pack("decimals")
		if err != nil {
			return 0, fmt.Errorf("打包decimals参数失败: %w", err)
		}
		out, err := c.call(ctx, token, data)
		if err != nil {
			return 0, fmt.Errorf("调用decimals失败 (%s): %w", token.Hex(), err)
		}
		vals, err := erc20ABI.Unpack("decimals", out)
		if err != nil || len(vals) == 0 {
			return 0, fmt.Errorf("解析decimals结果失败 (%s): %v", token.Hex(), err)
		}
		d, ok := vals[0].(uint8)
		if !ok {
			return 0, fmt.Errorf("decimals 返回类型异常: %T", vals[0])
		}
		return d, nil
	})
}

// Allowance owner 授权给 spender 的额度
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("打包allowance参数失败: %w", err)
	}
	out, err := c.call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("调用allowance失败: %w", err)
	}
	return unpackBig(erc20ABI.Unpack("allowance", out))
}

// QuoteParams QuoterV2 单池报价参数。Amount 在 exact-input 时是输入量，exact-output 时是目标输出量。
type QuoteParams struct {
	TokenIn  common.Address
	TokenOut common.Address
	Amount   *big.Int
	Fee      int64
}

type quoteExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

type quoteExactOutputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Amount            *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// QuoteExactInputSingle 给定输入量，模拟可得输出量
func (c *Client) QuoteExactInputSingle(ctx context.Context, quoter common.Address, p QuoteParams) (*big.Int, error) {
	data, err := quoterABI.Pack("quoteExactInputSingle", quoteExactInputSingleParams{
		TokenIn:           p.TokenIn,
		TokenOut:          p.TokenOut,
		AmountIn:          p.Amount,
		Fee:               big.NewInt(p.Fee),
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, fmt.Errorf("打包quoteExactInputSingle参数失败: %w", err)
	}
	out, err := c.call(ctx, quoter, data)
	if err != nil {
		return nil, fmt.Errorf("quoteExactInputSingle 失败: %w", err)
	}
	return unpackBig(quoterABI.Unpack("quoteExactInputSingle", out))
}

// QuoteExactOutputSingle 给定目标输出量，模拟所需输入量
func (c *Client) QuoteExactOutputSingle(ctx context.Context, quoter common.Address, p QuoteParams) (*big.Int, error) {
	data, err := quoterABI.Pack("quoteExactOutputSingle", quoteExactOutputSingleParams{
		TokenIn:           p.TokenIn,
		TokenOut:          p.TokenOut,
		Amount:            p.Amount,
		Fee:               big.NewInt(p.Fee),
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, fmt.Errorf("打包quoteExactOutputSingle参数失败: %w", err)
	}
	out, err := c.call(ctx, quoter, data)
	if err != nil {
		return nil, fmt.Errorf("quoteExactOutputSingle 失败: %w", err)
	}
	return unpackBig(quoterABI.Unpack("quoteExactOutputSingle", out))
}

// SwapParams SwapRouter02.exactInputSingle 参数
type SwapParams struct {
	TokenIn          common.Address
	TokenOut         common.Address
	Fee              int64
	Recipient        common.Address
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
}

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// ApproveCalldata ERC-20 approve 调用数据
func ApproveCalldata(spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("打包approve参数失败: %w", err)
	}
	return data, nil
}

// ExactInputSingleCalldata SwapRouter02.exactInputSingle 调用数据
func ExactInputSingleCalldata(p SwapParams) ([]byte, error) {
	minOut := p.AmountOutMinimum
	if minOut == nil {
		minOut = big.NewInt(0)
	}
	data, err := routerABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           p.TokenIn,
		TokenOut:          p.TokenOut,
		Fee:               big.NewInt(p.Fee),
		Recipient:         p.Recipient,
		AmountIn:          p.AmountIn,
		AmountOutMinimum:  minOut,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, fmt.Errorf("打包exactInputSingle参数失败: %w", err)
	}
	return data, nil
}

// Approve 发送 approve 并等待上链
func (c *Client) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*ethtypes.Receipt, error) {
	data, err := ApproveCalldata(spender, amount)
	if err != nil {
		return nil, err
	}
	return c.Transact(ctx, token, data)
}

// ExactInputSingle 发送 swap 并等待上链
func (c *Client) ExactInputSingle(ctx context.Context, router common.Address, p SwapParams) (*ethtypes.Receipt, error) {
	data, err := ExactInputSingleCalldata(p)
	if err != nil {
		return nil, err
	}
	return c.Transact(ctx, router, data)
}

// Transact 签名发送一笔 0 value 交易并等待回执
func (c *Client) Transact(ctx context.Context, to common.Address, data []byte) (*ethtypes.Receipt, error) {
	if c.key == nil {
		return nil, ErrNoSigner
	}
	from := c.Address()

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("获取nonce失败: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取gas价格失败: %w", err)
	}
	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Data:  data,
		Value: big.NewInt(0),
	})
	if err != nil {
		return nil, fmt.Errorf("估算gas失败: %w", err)
	}
	gasLimit += gasLimit * uint64(c.GasBufferPct) / 100

	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("发送交易失败: %w", err)
	}
	log.Infof("交易已发送: %s -> %s nonce=%d gas=%d", signedTx.Hash().Hex(), to.Hex(), nonce, gasLimit)

	return c.WaitMined(ctx, signedTx.Hash())
}

// RevertedError 交易上链但执行失败
type RevertedError struct {
	TxHash common.Hash
}

func (e *RevertedError) Error() string {
	return fmt.Sprintf("交易执行失败 (reverted): %s", e.TxHash.Hex())
}

// WaitMined 轮询回执直到上链或 ctx 结束；status=0 返回 *RevertedError（同时返回回执）
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != ethtypes.ReceiptStatusSuccessful {
				return receipt, &RevertedError{TxHash: txHash}
			}
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("获取交易回执失败: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("等待交易上链超时 %s: %w", txHash.Hex(), ctx.Err())
		case <-time.After(interval):
		}
	}
}

// TransferredTo 回执中 token 转给 to 的总量（Transfer 事件）
func TransferredTo(receipt *ethtypes.Receipt, token, to common.Address) *big.Int {
	total := new(big.Int)
	if receipt == nil {
		return total
	}
	for _, l := range receipt.Logs {
		if l == nil || l.Address != token || len(l.Topics) < 3 || l.Topics[0] != TransferTopic {
			continue
		}
		if common.BytesToAddress(l.Topics[2].Bytes()) != to {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(l.Data))
	}
	return total
}

func unpackBig(vals []interface{}, err error) (*big.Int, error) {
	if err != nil {
		return nil, fmt.Errorf("解析返回值失败: %w", err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("返回值为空")
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("返回值类型异常: %T", vals[0])
	}
	return v, nil
}
