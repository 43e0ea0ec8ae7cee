package receipts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
)

// SQLite 同样的只追加语义，收据整体以 JSON 存放，几个常用列单独索引
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "data/receipts.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS receipts (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL,
  ts TEXT NOT NULL,
  chain TEXT NOT NULL,
  status TEXT NOT NULL,
  tx_hash TEXT NOT NULL,
  body TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_id ON receipts(id);`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_tx ON receipts(tx_hash);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Append(ctx context.Context, r domain.Receipt) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("序列化收据失败: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO receipts (id, ts, chain, status, tx_hash, body) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Timestamp.UTC().Format(time.RFC3339Nano), string(r.Chain), string(r.Status), r.TxHash, string(body))
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, limit int) ([]domain.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT body FROM (SELECT seq, body FROM receipts ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	var out []domain.Receipt
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r domain.Receipt
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			log.Warnf("跳过损坏的收据记录: %v", err)
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Get(ctx context.Context, id string) (domain.Receipt, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM receipts WHERE id=? ORDER BY seq DESC LIMIT 1`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Receipt{}, ErrNotFound
	}
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("query receipt: %w", err)
	}
	var r domain.Receipt
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return domain.Receipt{}, fmt.Errorf("decode receipt %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLite) FindByTx(ctx context.Context, txHash string) (domain.Receipt, error) {
	if txHash == "" {
		return domain.Receipt{}, ErrNotFound
	}
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM receipts WHERE tx_hash=? AND status=? ORDER BY seq DESC LIMIT 1`,
		txHash, string(domain.StatusSuccess)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Receipt{}, ErrNotFound
	}
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("query receipt by tx: %w", err)
	}
	var r domain.Receipt
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return domain.Receipt{}, fmt.Errorf("decode receipt for tx %s: %w", txHash, err)
	}
	return r, nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
