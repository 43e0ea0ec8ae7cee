// Package solana wraps the Solana RPC calls the copilot needs: a server
// keypair, faucet funding, memo transactions and signature status.
package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sirupsen/logrus"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/cache"
)

var log = logrus.WithField("component", "solana")

// KeySecretName secret store 中保存服务端 keypair 的键
const KeySecretName = "env/SOLANA_PRIVATE_KEY"

// RPC 用到的 RPC 方法；*rpc.Client 满足该接口
type RPC interface {
	GetBalance(ctx context.Context, account sol.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	RequestAirdrop(ctx context.Context, account sol.PublicKey, lamports uint64, commitment rpc.CommitmentType) (sol.Signature, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransaction(ctx context.Context, transaction *sol.Transaction) (sol.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...sol.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTokenSupply(ctx context.Context, tokenMint sol.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error)
}

// NewRPC 连接 RPC 节点
func NewRPC(endpoint string) *rpc.Client {
	return rpc.New(endpoint)
}

// SecretStore keypair 的持久化位置（pkg/secretstore.Store 满足）
type SecretStore interface {
	GetString(key string) (string, bool, error)
	SetString(key, val string) error
}

// ParsePrivateKey 支持 base58 和 solana-keygen 的 JSON 数组两种格式
func ParsePrivateKey(raw string) (sol.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("private key is empty")
	}
	if strings.HasPrefix(raw, "[") {
		var bs []byte
		var ints []int
		if err := json.Unmarshal([]byte(raw), &ints); err != nil {
			return nil, fmt.Errorf("invalid keypair json: %w", err)
		}
		for _, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("invalid keypair byte %d", v)
			}
			bs = append(bs, byte(v))
		}
		if len(bs) != 64 {
			return nil, fmt.Errorf("keypair must be 64 bytes, got %d", len(bs))
		}
		return sol.PrivateKey(bs), nil
	}
	key, err := sol.PrivateKeyFromBase58(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid base58 private key: %w", err)
	}
	if len(key) != 64 {
		return nil, fmt.Errorf("keypair must be 64 bytes, got %d", len(key))
	}
	return key, nil
}

// LoadOrCreateKey 顺序：环境变量 -> secret store -> 新生成（并写回 store）
func LoadOrCreateKey(envValue string, store SecretStore) (sol.PrivateKey, error) {
	if strings.TrimSpace(envValue) != "" {
		return ParsePrivateKey(envValue)
	}
	if store != nil {
		if v, ok, err := store.GetString(KeySecretName); err != nil {
			return nil, fmt.Errorf("读取 keypair 失败: %w", err)
		} else if ok && strings.TrimSpace(v) != "" {
			return ParsePrivateKey(v)
		}
	}

	key, err := sol.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("生成 keypair 失败: %w", err)
	}
	if store != nil {
		if err := store.SetString(KeySecretName, key.String()); err != nil {
			return nil, fmt.Errorf("保存 keypair 失败: %w", err)
		}
		log.Infof("已生成新的 Solana keypair 并保存: %s", key.PublicKey())
	} else {
		log.Warnf("已生成临时 Solana keypair（未配置 secret store，重启后丢失）: %s", key.PublicKey())
	}
	return key, nil
}

// FundingPolicy 水龙头领取策略
type FundingPolicy struct {
	MinBalanceSOL float64
	AirdropSOL    float64
	Attempts      int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
}

// DefaultFundingPolicy 5 次尝试，1s 起步翻倍，上限 30s
func DefaultFundingPolicy(minBalanceSOL, airdropSOL float64) FundingPolicy {
	return FundingPolicy{
		MinBalanceSOL: minBalanceSOL,
		AirdropSOL:    airdropSOL,
		Attempts:      5,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
	}
}

// Client 服务端钱包
type Client struct {
	rpc      RPC
	key      sol.PrivateKey
	policy   FundingPolicy
	decimals *cache.InMemoryCache[string, uint8]

	fundMu sync.Mutex
	funded bool

	// sleep 可在测试中替换
	sleep func(ctx context.Context, d time.Duration) error
	// ConfirmTimeout 等待签名确认的上限
	ConfirmTimeout time.Duration
}

func NewClient(r RPC, key sol.PrivateKey, policy FundingPolicy) *Client {
	return &Client{
		rpc:            r,
		key:            key,
		policy:         policy,
		decimals:       cache.NewInMemoryCache[string, uint8](-1),
		sleep:          sleepCtx,
		ConfirmTimeout: 30 * time.Second,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close 释放缓存的后台清理
func (c *Client) Close() {
	c.decimals.Close()
}

// PublicKey 服务端钱包地址
func (c *Client) PublicKey() sol.PublicKey {
	return c.key.PublicKey()
}

// BalanceSOL 余额（SOL）
func (c *Client) BalanceSOL(ctx context.Context) (float64, error) {
	res, err := c.rpc.GetBalance(ctx, c.PublicKey(), rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("getBalance 失败: %w", err)
	}
	return float64(res.Value) / float64(sol.LAMPORTS_PER_SOL), nil
}

// EnsureFunded 余额不足时向水龙头申请空投（指数退避）。成功一次后不再检查。
func (c *Client) EnsureFunded(ctx context.Context) error {
	c.fundMu.Lock()
	defer c.fundMu.Unlock()
	if c.funded {
		return nil
	}

	balance, err := c.BalanceSOL(ctx)
	if err == nil && balance >= c.policy.MinBalanceSOL {
		c.funded = true
		return nil
	}

	lamports := uint64(c.policy.AirdropSOL * float64(sol.LAMPORTS_PER_SOL))
	attempts := c.policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := c.policy.InitialDelay
	var lastErr error
	for i := 1; i <= attempts; i++ {
		sig, err := c.rpc.RequestAirdrop(ctx, c.PublicKey(), lamports, rpc.CommitmentConfirmed)
		if err == nil {
			log.Infof("水龙头空投已提交 (第 %d 次): %s", i, sig)
			if err := c.WaitConfirmed(ctx, sig); err != nil {
				lastErr = err
			} else {
				c.funded = true
				return nil
			}
		} else {
			lastErr = err
		}
		log.Warnf("水龙头空投失败 (第 %d/%d 次): %v", i, attempts, lastErr)
		if i == attempts {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if c.policy.MaxDelay > 0 && delay > c.policy.MaxDelay {
			delay = c.policy.MaxDelay
		}
	}
	return fmt.Errorf("水龙头空投失败（%d 次尝试）: %w", attempts, lastErr)
}

// MemoInstruction 以 signer 为签名账户的 memo 指令
func MemoInstruction(signer sol.PublicKey, memo string) sol.Instruction {
	return sol.NewInstruction(
		sol.MemoProgramID,
		sol.AccountMetaSlice{sol.Meta(signer).SIGNER().WRITE()},
		[]byte(memo),
	)
}

// SendMemo 服务端钱包签名并发送 memo 交易，等待确认
func (c *Client) SendMemo(ctx context.Context, memo string) (sol.Signature, error) {
	bh, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return sol.Signature{}, fmt.Errorf("获取 blockhash 失败: %w", err)
	}
	tx, err := sol.NewTransaction(
		[]sol.Instruction{MemoInstruction(c.PublicKey(), memo)},
		bh.Value.Blockhash,
		sol.TransactionPayer(c.PublicKey()),
	)
	if err != nil {
		return sol.Signature{}, fmt.Errorf("构建 memo 交易失败: %w", err)
	}
	if _, err := tx.Sign(func(pub sol.PublicKey) *sol.PrivateKey {
		if pub.Equals(c.PublicKey()) {
			return &c.key
		}
		return nil
	}); err != nil {
		return sol.Signature{}, fmt.Errorf("签名 memo 交易失败: %w", err)
	}
	sig, err := c.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return sol.Signature{}, fmt.Errorf("发送 memo 交易失败: %w", err)
	}
	if err := c.WaitConfirmed(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// BuildUnsignedMemo 为浏览器钱包构建待签名的 memo 交易（base64，签名位留空）
func (c *Client) BuildUnsignedMemo(ctx context.Context, payer sol.PublicKey, memo string) (string, error) {
	bh, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("获取 blockhash 失败: %w", err)
	}
	tx, err := sol.NewTransaction(
		[]sol.Instruction{MemoInstruction(payer, memo)},
		bh.Value.Blockhash,
		sol.TransactionPayer(payer),
	)
	if err != nil {
		return "", fmt.Errorf("构建 memo 交易失败: %w", err)
	}
	tx.Signatures = make([]sol.Signature, tx.Message.Header.NumRequiredSignatures)
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("序列化交易失败: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// SignatureState 签名的链上状态
type SignatureState struct {
	Found     bool
	Confirmed bool
	Err       string
}

// Status 查询签名状态（包含历史）
func (c *Client) Status(ctx context.Context, sig sol.Signature) (SignatureState, error) {
	res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return SignatureState{}, fmt.Errorf("getSignatureStatuses 失败: %w", err)
	}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return SignatureState{}, nil
	}
	st := res.Value[0]
	out := SignatureState{Found: true}
	if st.Err != nil {
		out.Err = fmt.Sprint(st.Err)
		return out, nil
	}
	out.Confirmed = st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
		st.ConfirmationStatus == rpc.ConfirmationStatusFinalized
	return out, nil
}

// WaitConfirmed 轮询直到 confirmed/finalized、链上失败或超时
func (c *Client) WaitConfirmed(ctx context.Context, sig sol.Signature) error {
	timeout := c.ConfirmTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		st, err := c.Status(ctx, sig)
		if err != nil {
			return err
		}
		if st.Err != "" {
			return fmt.Errorf("交易执行失败 %s: %s", sig, st.Err)
		}
		if st.Confirmed {
			return nil
		}
		if err := c.sleep(ctx, 500*time.Millisecond); err != nil {
			return fmt.Errorf("等待确认超时 %s: %w", sig, err)
		}
	}
}

// MintDecimals 读取 SPL mint 精度（永久缓存）
func (c *Client) MintDecimals(ctx context.Context, mint string) (uint8, error) {
	return c.decimals.GetOrLoad(mint, 0, func() (uint8, error) {
		pub, err := sol.PublicKeyFromBase58(mint)
		if err != nil {
			return 0, fmt.Errorf("invalid mint %q: %w", mint, err)
		}
		res, err := c.rpc.GetTokenSupply(ctx, pub, rpc.CommitmentConfirmed)
		if err != nil {
			return 0, fmt.Errorf("getTokenSupply 失败 (%s): %w", mint, err)
		}
		if res == nil || res.Value == nil {
			return 0, fmt.Errorf("getTokenSupply 返回为空 (%s)", mint)
		}
		return res.Value.Decimals, nil
	})
}
