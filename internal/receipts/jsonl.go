package receipts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
)

// JSONL 每行一条 JSON 收据。坏行在读取时跳过。
type JSONL struct {
	mu   sync.Mutex
	path string
}

func NewJSONL(path string) (*JSONL, error) {
	if path == "" {
		path = "receipts.jsonl"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建收据目录失败: %w", err)
		}
	}
	return &JSONL{path: path}, nil
}

func (s *JSONL) Path() string { return s.path }

func (s *JSONL) Append(ctx context.Context, r domain.Receipt) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("序列化收据失败: %w", err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("打开收据文件失败: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return fmt.Errorf("写入收据失败: %w", err)
	}
	return f.Close()
}

// readAll 文件不存在视为空
func (s *JSONL) readAll() ([]domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("打开收据文件失败: %w", err)
	}
	defer f.Close()

	var out []domain.Receipt
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var r domain.Receipt
		if err := json.Unmarshal(raw, &r); err != nil {
			log.Warnf("跳过损坏的收据行 %s:%d: %v", s.path, line, err)
			continue
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("读取收据文件失败: %w", err)
	}
	return out, nil
}

func (s *JSONL) List(ctx context.Context, limit int) ([]domain.Receipt, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *JSONL) Get(ctx context.Context, id string) (domain.Receipt, error) {
	all, err := s.readAll()
	if err != nil {
		return domain.Receipt{}, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].ID == id {
			return all[i], nil
		}
	}
	return domain.Receipt{}, ErrNotFound
}

func (s *JSONL) FindByTx(ctx context.Context, txHash string) (domain.Receipt, error) {
	if txHash == "" {
		return domain.Receipt{}, ErrNotFound
	}
	all, err := s.readAll()
	if err != nil {
		return domain.Receipt{}, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].TxHash == txHash && all[i].Status == domain.StatusSuccess {
			return all[i], nil
		}
	}
	return domain.Receipt{}, ErrNotFound
}

func (s *JSONL) Close() error { return nil }
