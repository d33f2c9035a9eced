package storage

import (
	"context"
	"errors"
	"strings"

	"namingpush/pkg/logx"
)

// Store is the persistence API used by the push executor and the HTTP API.
type Store interface {
	AppendTrace(ctx context.Context, t PushTrace) error
	// RecentTraces returns up to limit traces, newest first.
	RecentTraces(ctx context.Context, limit int) ([]PushTrace, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
