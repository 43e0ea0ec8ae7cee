package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	usdc = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	weth = common.HexToAddress("0x4200000000000000000000000000000000000006")
	quot = common.HexToAddress("0x3d4e44Eb1374240CE5F1B871ab261CD16335B76a")
	rtr  = common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481")
)

func newTestClient(t *testing.T, mb *MockBackend) *Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c := NewClient(mb, 8453, key)
	c.PollInterval = time.Millisecond
	t.Cleanup(c.Close)
	return c
}

func TestDecimals_Cached(t *testing.T) {
	mb := NewMockBackend()
	mb.Decimals[usdc] = 6
	c := newTestClient(t, mb)

	for i := 0; i < 3; i++ {
		d, err := c.Decimals(context.Background(), usdc)
		require.NoError(t, err)
		assert.Equal(t, uint8(6), d)
	}
	assert.Equal(t, 1, mb.CallCount("decimals"))

	_, err := c.Decimals(context.Background(), weth)
	assert.Error(t, err)
}

func TestQuotes(t *testing.T) {
	mb := NewMockBackend()
	mb.QuoteIn = func(in, out common.Address, amountIn *big.Int) (*big.Int, error) {
		assert.Equal(t, usdc, in)
		return new(big.Int).Mul(amountIn, big.NewInt(2)), nil
	}
	mb.QuoteOut = func(in, out common.Address, amountOut *big.Int) (*big.Int, error) {
		assert.Equal(t, usdc, out)
		return new(big.Int).Div(amountOut, big.NewInt(2)), nil
	}
	c := newTestClient(t, mb)

	out, err := c.QuoteExactInputSingle(context.Background(), quot, QuoteParams{TokenIn: usdc, TokenOut: weth, Amount: big.NewInt(10), Fee: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(20), out.Int64())

	in, err := c.QuoteExactOutputSingle(context.Background(), quot, QuoteParams{TokenIn: weth, TokenOut: usdc, Amount: big.NewInt(10), Fee: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(5), in.Int64())
}

func TestApproveAndSwap(t *testing.T) {
	mb := NewMockBackend()
	mb.SwapOut = func(p SwapParams) *big.Int { return big.NewInt(777) }
	c := newTestClient(t, mb)
	ctx := context.Background()

	_, err := c.Approve(ctx, usdc, rtr, big.NewInt(1000))
	require.NoError(t, err)
	allowance, err := c.Allowance(ctx, usdc, c.Address(), rtr)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), allowance.Int64())

	receipt, err := c.ExactInputSingle(ctx, rtr, SwapParams{
		TokenIn: usdc, TokenOut: weth, Fee: 500, Recipient: c.Address(),
		AmountIn: big.NewInt(1000), AmountOutMinimum: big.NewInt(700),
	})
	require.NoError(t, err)
	require.Len(t, mb.Swaps, 1)
	assert.Equal(t, int64(700), mb.Swaps[0].AmountOutMinimum.Int64())
	assert.Equal(t, int64(777), TransferredTo(receipt, weth, c.Address()).Int64())
	assert.Equal(t, int64(0), TransferredTo(receipt, usdc, c.Address()).Int64())
}

func TestTransact_Reverted(t *testing.T) {
	mb := NewMockBackend()
	mb.Reverted = true
	c := newTestClient(t, mb)

	_, err := c.Approve(context.Background(), usdc, rtr, big.NewInt(1))
	var reverted *RevertedError
	assert.True(t, errors.As(err, &reverted))
}

func TestTransact_NoSigner(t *testing.T) {
	c := NewClient(NewMockBackend(), 8453, nil)
	defer c.Close()
	_, err := c.Approve(context.Background(), usdc, rtr, big.NewInt(1))
	assert.ErrorIs(t, err, ErrNoSigner)
}

func TestUnits(t *testing.T) {
	assert.Equal(t, "25000000", ToUnits(25, 6).String())
	assert.Equal(t, "1500000000000000000", ToUnits(1.5, 18).String())
	assert.InDelta(t, 0.01, FromUnits(big.NewInt(10_000_000_000_000_000), 18), 1e-12)
	assert.Equal(t, "995", ApplySlippage(big.NewInt(1000), 0.5).String())
	assert.Equal(t, "0", ApplySlippage(big.NewInt(1000), 150).String())
}

func TestLoadKey(t *testing.T) {
	key, err := LoadKey("", "test test test test test test test test test test test junk", "")
	require.NoError(t, err)
	// hardhat 默认助记词的第一个账户
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", crypto.PubkeyToAddress(key.PublicKey).Hex())

	_, err = LoadKey("", "", "")
	assert.Error(t, err)
	_, err = LoadKey("0xnothex", "", "")
	assert.Error(t, err)
}
