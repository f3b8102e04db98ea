// Package history keeps a durable audit trail of emitted alerts, separate
// from the drain-and-clear alert log (which the relay truncates).
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "catpanel/pkg/logx"
)

var ErrDisabled = errors.New("history disabled")

// Config configures the history store.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "" or "none": history disabled
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Entry records one emitted alert. Keep it compact and schema-stable.
type Entry struct {
	ID   int64     `json:"id"`
	Kind string    `json:"kind"`
	Slot string    `json:"slot"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// Store is the minimal persistence API used by the scheduler and web layer.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if history is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}
