//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"namingpush/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	maxTraces  int
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	maxTraces := cfg.MaxTraces
	if maxTraces <= 0 {
		maxTraces = 100_000
	}
	st := &sqliteStore{db: db, log: log, maxTraces: maxTraces, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendTrace(ctx context.Context, t PushTrace) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	ok := 0
	if t.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_trace(id, at, client_id, kind, target, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		t.ID, t.At.Format(time.RFC3339Nano), t.ClientID, t.Kind, t.Target, ok, nullStr(t.Error), t.TookMS,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("push trace prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentTraces(ctx context.Context, limit int) ([]PushTrace, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, client_id, kind, target, ok, COALESCE(err, ''), took_ms
		 FROM push_trace ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PushTrace
	for rows.Next() {
		var (
			t  PushTrace
			at string
			ok int
		)
		if err := rows.Scan(&t.ID, &at, &t.ClientID, &t.Kind, &t.Target, &ok, &t.Error, &t.TookMS); err != nil {
			return nil, err
		}
		t.At, _ = time.Parse(time.RFC3339Nano, at)
		t.OK = ok == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM push_trace WHERE seq <= (SELECT MAX(seq) FROM push_trace) - ?`, s.maxTraces)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
