package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrading_Defaults(t *testing.T) {
	require.NoError(t, LoadFile(""))
	for _, k := range []string{"MAX_NOTIONAL_USD", "TRADE_NOTIONAL_USD", "MAX_SLIPPAGE_BPS", "COOLDOWN_SEC", "MAX_DAILY_LOSS_USD", "BREAKOUT_BPS"} {
		t.Setenv(k, "")
	}
	cfg := Trading()
	assert.Equal(t, 100.0, cfg.MaxNotionalUSD)
	assert.Equal(t, 25.0, cfg.TradeNotionalUSD)
	assert.Equal(t, 60, cfg.CooldownSec)
	assert.Equal(t, 1.0, cfg.MaxSlippagePct())
}

func TestTrading_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "copilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trading:\n  max_notional_usd: 250\n  cooldown_sec: 15\n"), 0o644))
	require.NoError(t, LoadFile(path))
	t.Cleanup(func() { _ = LoadFile("") })

	t.Setenv("MAX_NOTIONAL_USD", "")
	t.Setenv("COOLDOWN_SEC", "")
	cfg := Trading()
	assert.Equal(t, 250.0, cfg.MaxNotionalUSD)
	assert.Equal(t, 15, cfg.CooldownSec)
	assert.Equal(t, path, GetConfigPath())

	// 环境变量优先于文件，且每次调用重新读取
	t.Setenv("COOLDOWN_SEC", "5")
	assert.Equal(t, 5, Trading().CooldownSec)
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copilot.toml")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o644))
	assert.Error(t, LoadFile(path))
}

func TestBase_MissingEnv(t *testing.T) {
	for _, k := range []string{"BASE_PRIVATE_KEY", "BASE_MNEMONIC", "BASE_RPC_URL", "BASE_TOKEN_ADDRESS", "BASE_USDC_ADDRESS", "BASE_SWAP_ROUTER"} {
		t.Setenv(k, "")
	}
	t.Setenv("BASE_RPC_URL", "http://localhost:8545")

	err := Base().Validate()
	var missing *MissingEnvError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"BASE_PRIVATE_KEY", "BASE_TOKEN_ADDRESS", "BASE_USDC_ADDRESS", "BASE_SWAP_ROUTER"}, missing.Names)
	assert.Contains(t, err.Error(), "BASE_SWAP_ROUTER")

	t.Setenv("BASE_MNEMONIC", "test test test test test test test test test test test junk")
	t.Setenv("BASE_TOKEN_ADDRESS", "0x4200000000000000000000000000000000000006")
	t.Setenv("BASE_USDC_ADDRESS", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	t.Setenv("BASE_SWAP_ROUTER", "0x2626664c2603336E57B271c5C0b26F421741e481")
	assert.NoError(t, Base().Validate())
}

func TestExplorerURL(t *testing.T) {
	assert.Equal(t, "https://basescan.org/tx/0xabc", BaseConfig{ExplorerURL: "https://basescan.org/tx/"}.ExplorerTxURL("0xabc"))
	assert.Equal(t, "https://x/tx/sig?cluster=devnet", SolanaConfig{ExplorerURL: "https://x/tx/{tx}?cluster=devnet"}.ExplorerTxURL("sig"))
	assert.Empty(t, SolanaConfig{}.ExplorerTxURL("sig"))
}
