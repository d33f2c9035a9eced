package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// MaxTraces bounds the sqlite trace table; 0 keeps the default.
	MaxTraces int
}

// PushTrace records one push handed to the transport.
// Keep it compact and schema-stable.
type PushTrace struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	ClientID string    `json:"client_id"`
	Kind     string    `json:"kind"`
	Target   string    `json:"target"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}
