package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the whole panel configuration.
//
// All duration fields are Go duration strings (e.g. "30s", "30m").
// YAML and JSON are both accepted (see yaml.go); unknown fields are rejected.
type Config struct {
	Feeding   FeedingConfig   `json:"feeding"`
	Inventory InventoryConfig `json:"inventory"`
	Web       WebConfig       `json:"web"`
	Relay     *RelayConfig    `json:"relay,omitempty"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
}

// FeedingConfig controls the daily slots and the reminder cadence.
//
// Defaults (when fields are omitted/zero):
//   - times: 09:00, 12:00, 17:00
//   - grace: "30m"
//   - reminder_interval: "30m"
//   - tick: "1m"
//   - timezone: process local time
type FeedingConfig struct {
	Times            []string `json:"times,omitempty"` // "HH:MM", 24h
	Timezone         string   `json:"timezone,omitempty"`
	Grace            string   `json:"grace,omitempty"`
	ReminderInterval string   `json:"reminder_interval,omitempty"`
	Tick             string   `json:"tick,omitempty"`
}

// InventoryConfig controls the pouch counter and the restock policy.
type InventoryConfig struct {
	LowStockThreshold int    `json:"low_stock_threshold,omitempty"` // default 3
	MaxAdjust         int    `json:"max_adjust,omitempty"`          // default 100 (per-call |delta| clamp)
	MaxTotal          int    `json:"max_total,omitempty"`           // default 999 (absolute ceiling)
	RestockList       string `json:"restock_list,omitempty"`        // default "shopping"
	RestockItem       string `json:"restock_item,omitempty"`        // default "Buy cat food pouches"
}

type WebConfig struct {
	Addr      string `json:"addr,omitempty"`      // default ":5000"
	Heartbeat string `json:"heartbeat,omitempty"` // SSE heartbeat, default "30s"
}

// RelayConfig controls the Telegram alert relay.
// If the whole section is omitted, the relay is disabled.
type RelayConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	Poll       string `json:"poll,omitempty"` // default "30s"
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type StorageConfig struct {
	DataDir  string         `json:"data_dir,omitempty"`  // default "./data"
	AlertLog string         `json:"alert_log,omitempty"` // default "<data_dir>/alerts.log"
	History  *HistoryConfig `json:"history,omitempty"`
}

// HistoryConfig controls the durable alert audit trail.
// Driver "none" (or omitted section) disables it; "sqlite" stores to Path.
type HistoryConfig struct {
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// DefaultFeedTimes is used when feeding.times is absent.
var DefaultFeedTimes = []string{"09:00", "12:00", "17:00"}

// Validate rejects values that cannot be defaulted away.
// It is also used as the Watch() pre-commit hook.
func (c *Config) Validate() error {
	for _, t := range c.Feeding.Times {
		if _, err := ParseClock(t); err != nil {
			return err
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"feeding.grace", c.Feeding.Grace},
		{"feeding.reminder_interval", c.Feeding.ReminderInterval},
		{"feeding.tick", c.Feeding.Tick},
		{"web.heartbeat", c.Web.Heartbeat},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(c.Feeding.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("feeding.timezone: %w", err)
		}
	}
	if c.Inventory.LowStockThreshold < 0 {
		return fmt.Errorf("inventory.low_stock_threshold: must be >= 0")
	}
	if c.Relay != nil {
		if _, err := ParseDurationField("relay.poll", c.Relay.Poll); err != nil {
			return err
		}
		if c.Relay.Enabled && strings.TrimSpace(c.Relay.Token) == "" {
			return fmt.Errorf("relay.token: required when relay is enabled")
		}
	}
	if h := c.Storage.History; h != nil {
		switch strings.ToLower(strings.TrimSpace(h.Driver)) {
		case "", "none", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.history.driver: unknown driver %q", h.Driver)
		}
	}
	return nil
}

// Clock is a time-of-day trigger ("HH:MM", 24h).
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// At anchors the clock on day's calendar date in day's location.
func (c Clock) At(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, day.Location())
}

func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time-of-day %q (want HH:MM): %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}
