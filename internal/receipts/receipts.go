// Package receipts stores execution receipts append-only.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
)

var log = logrus.WithField("component", "receipts")

// ErrNotFound 没有该 id 的收据
var ErrNotFound = errors.New("receipt not found")

// DefaultLimit List 未指定 limit 时返回的条数
const DefaultLimit = 50

// Store 收据存储（只追加）
type Store interface {
	Append(ctx context.Context, r domain.Receipt) error
	// List 最近 limit 条，按写入顺序（旧 -> 新）
	List(ctx context.Context, limit int) ([]domain.Receipt, error)
	Get(ctx context.Context, id string) (domain.Receipt, error)
	// FindByTx 该 txHash 最近一条成功收据，没有时返回 ErrNotFound
	FindByTx(ctx context.Context, txHash string) (domain.Receipt, error)
	Close() error
}

// NewID 8 位十六进制短 id
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Open 按 backend 打开存储：jsonl（默认）或 sqlite
func Open(backend, jsonlPath, sqlitePath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "jsonl":
		return NewJSONL(jsonlPath)
	case "sqlite":
		return OpenSQLite(sqlitePath)
	default:
		return nil, fmt.Errorf("unknown receipts backend %q (jsonl|sqlite)", backend)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
