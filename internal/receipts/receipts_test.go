package receipts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
)

func sampleReceipt(i int) domain.Receipt {
	return domain.Receipt{
		ID:         fmt.Sprintf("r%07d", i),
		Timestamp:  time.Date(2026, 3, 1, 12, i, 0, 0, time.UTC),
		Pair:       "SOL/USDC",
		Side:       domain.SideBuy,
		Mode:       domain.ModePaper,
		Notional:   25,
		FillPrice:  150 + float64(i),
		Confidence: 0.8,
		Reasons:    []string{"breakout"},
		RiskChecks: domain.RiskChecks{Allowed: true, CooldownOK: true, NotionalOK: true, DailyLossOK: true, SlippageOK: true},
		TxHash:     "sig",
		Status:     domain.StatusSuccess,
		Chain:      domain.ChainSolana,
		Source:     domain.SourceLoop,
	}
}

func TestNewID(t *testing.T) {
	id := NewID()
	assert.Len(t, id, 8)
	assert.Regexp(t, "^[0-9a-f]{8}$", id)
	assert.NotEqual(t, id, NewID())
}

func TestJSONL_RoundTripSkipsCorruptedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "receipts.jsonl")
	s, err := NewJSONL(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, sampleReceipt(1)))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, s.Append(ctx, sampleReceipt(2)))

	got, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, sampleReceipt(1), got[0])
	assert.Equal(t, sampleReceipt(2), got[1])

	r, err := s.Get(ctx, sampleReceipt(2).ID)
	require.NoError(t, err)
	assert.Equal(t, 152.0, r.FillPrice)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJSONL_ListReturnsLastN(t *testing.T) {
	s, err := NewJSONL(filepath.Join(t.TempDir(), "receipts.jsonl"))
	require.NoError(t, err)
	ctx := context.Background()

	empty, err := s.List(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, sampleReceipt(i)))
	}
	got, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, sampleReceipt(3).ID, got[0].ID)
	assert.Equal(t, sampleReceipt(4).ID, got[1].ID)
}

func TestSQLite_AppendListGet(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "receipts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Append(ctx, sampleReceipt(i)))
	}
	got, err := s.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, sampleReceipt(1), got[0])
	assert.Equal(t, sampleReceipt(3), got[2])

	r, err := s.Get(ctx, sampleReceipt(0).ID)
	require.NoError(t, err)
	assert.Equal(t, sampleReceipt(0), r)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("postgres", "", "")
	assert.Error(t, err)
}

func TestFindByTx_OnlySuccessfulReceipts(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJSONL(filepath.Join(dir, "receipts.jsonl"))
	require.NoError(t, err)
	s, err := OpenSQLite(filepath.Join(dir, "receipts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	for name, store := range map[string]Store{"jsonl": j, "sqlite": s} {
		t.Run(name, func(t *testing.T) {
			failed := sampleReceipt(0)
			failed.TxHash = "0xabc"
			failed.Status = domain.StatusFailed
			require.NoError(t, store.Append(ctx, failed))

			_, err := store.FindByTx(ctx, "0xabc")
			assert.ErrorIs(t, err, ErrNotFound)

			ok := sampleReceipt(1)
			ok.TxHash = "0xabc"
			require.NoError(t, store.Append(ctx, ok))
			require.NoError(t, store.Append(ctx, sampleReceipt(2)))

			got, err := store.FindByTx(ctx, "0xabc")
			require.NoError(t, err)
			assert.Equal(t, ok.ID, got.ID)

			_, err = store.FindByTx(ctx, "")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
