package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"namingpush/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.push.jsonl (append-only JSON Lines)
//
// Recent traces are served from an in-memory ring seeded from the file tail.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	path string
	f    *os.File

	recent []PushTrace
	next   int
	full   bool
}

const fileRecentCap = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	tracePath := filepath.Join(dir, base) + ".push.jsonl"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: tracePath, recent: make([]PushTrace, fileRecentCap)}
	if err := s.replay(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Debug("push trace replay failed", logx.String("path", tracePath), logx.Err(err))
	}

	f, err := os.OpenFile(tracePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	return s, nil
}

func (s *fileStore) replay() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var t PushTrace
		if err := json.Unmarshal(sc.Bytes(), &t); err != nil {
			continue
		}
		s.remember(t)
	}
	return sc.Err()
}

func (s *fileStore) remember(t PushTrace) {
	s.recent[s.next] = t
	s.next = (s.next + 1) % len(s.recent)
	if s.next == 0 {
		s.full = true
	}
}

func (s *fileStore) AppendTrace(ctx context.Context, t PushTrace) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(t); err != nil {
		return err
	}
	s.remember(t)
	return nil
}

func (s *fileStore) RecentTraces(ctx context.Context, limit int) ([]PushTrace, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.next
	if s.full {
		n = len(s.recent)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]PushTrace, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.recent)) % len(s.recent)
		out = append(out, s.recent[idx])
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
