package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/config"
)

func testConfig() config.TradingConfig {
	return config.TradingConfig{
		MaxNotionalUSD:   100,
		TradeNotionalUSD: 25,
		MaxSlippageBps:   100,
		CooldownSec:      60,
		MaxDailyLossUSD:  50,
		BreakoutBps:      20,
	}
}

func TestCheck_AllPass(t *testing.T) {
	now := time.Now()
	rc := Check(Input{
		Notional:    25,
		SlippageBps: 10,
		Config:      testConfig(),
		LastTradeAt: now.Add(-2 * time.Minute),
		DailyLoss:   0,
		Now:         now,
	})
	assert.True(t, rc.Allowed)
	assert.True(t, rc.CooldownOK)
	assert.True(t, rc.NotionalOK)
	assert.True(t, rc.DailyLossOK)
	assert.True(t, rc.SlippageOK)
}

func TestCheck_NeverTradedPassesCooldown(t *testing.T) {
	rc := Check(Input{Notional: 1, Config: testConfig()})
	assert.True(t, rc.CooldownOK)
	assert.True(t, rc.Allowed)
}

func TestCheck_AnySingleFailureBlocks(t *testing.T) {
	now := time.Now()
	base := Input{
		Notional:    25,
		SlippageBps: 10,
		Config:      testConfig(),
		LastTradeAt: now.Add(-time.Hour),
		Now:         now,
	}

	cases := map[string]func(in *Input){
		"cooldown":  func(in *Input) { in.LastTradeAt = now.Add(-10 * time.Second) },
		"notional":  func(in *Input) { in.Notional = 100.01 },
		"dailyLoss": func(in *Input) { in.DailyLoss = 50.5 },
		"slippage":  func(in *Input) { in.SlippageBps = 101 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := base
			mutate(&in)
			rc := Check(in)
			assert.False(t, rc.Allowed)
			failed := 0
			for _, ok := range []bool{rc.CooldownOK, rc.NotionalOK, rc.DailyLossOK, rc.SlippageOK} {
				if !ok {
					failed++
				}
			}
			assert.Equal(t, 1, failed)
		})
	}
}

func TestCheck_BoundariesAreInclusive(t *testing.T) {
	now := time.Now()
	rc := Check(Input{
		Notional:    100,
		SlippageBps: 100,
		DailyLoss:   50,
		Config:      testConfig(),
		LastTradeAt: now.Add(-60 * time.Second),
		Now:         now,
	})
	assert.True(t, rc.Allowed)
}

func TestCooldownRemaining(t *testing.T) {
	now := time.Now()
	cfg := testConfig()
	assert.Zero(t, CooldownRemaining(cfg, time.Time{}, now))
	assert.Equal(t, 45*time.Second, CooldownRemaining(cfg, now.Add(-15*time.Second), now))
	assert.Zero(t, CooldownRemaining(cfg, now.Add(-2*time.Minute), now))
}
