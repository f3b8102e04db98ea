package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
feeding:
  times: ["08:00", "20:00"]
  grace: 15m
  tick: 30s
inventory:
  low_stock_threshold: 5
web:
  addr: ":8080"
storage:
  data_dir: /tmp/panel
logging:
  level: debug
  console: true
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff([]string{"08:00", "20:00"}, cfg.Feeding.Times); diff != "" {
		t.Fatalf("Times mismatch (-want +got):\n%s", diff)
	}
	if cfg.Feeding.Grace != "15m" || cfg.Web.Addr != ":8080" || cfg.Inventory.LowStockThreshold != 5 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get returned a different config than Load")
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"feeding": {"times": ["09:00"]}, "logging": {"console": true}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Feeding.Times) != 1 || cfg.Feeding.Times[0] != "09:00" {
		t.Fatalf("Times = %v", cfg.Feeding.Times)
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, "config.yaml", "feedng:\n  grace: 10m\n")
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"logging":{"console":true}} {"extra":1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{name: "bad time", mut: func(c *Config) { c.Feeding.Times = []string{"25:99"} }, want: "time-of-day"},
		{name: "bad grace", mut: func(c *Config) { c.Feeding.Grace = "soon" }, want: "feeding.grace"},
		{name: "bad timezone", mut: func(c *Config) { c.Feeding.Timezone = "Mars/Olympus" }, want: "feeding.timezone"},
		{name: "negative threshold", mut: func(c *Config) { c.Inventory.LowStockThreshold = -1 }, want: "low_stock_threshold"},
		{name: "relay without token", mut: func(c *Config) { c.Relay = &RelayConfig{Enabled: true} }, want: "relay.token"},
		{name: "bad history driver", mut: func(c *Config) {
			c.Storage.History = &HistoryConfig{Driver: "postgres"}
		}, want: "history.driver"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			tt.mut(&c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	var c Config
	if err := c.Validate(); err != nil {
		t.Fatalf("empty config must validate: %v", err)
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock(" 09:05 ")
	if err != nil {
		t.Fatalf("ParseClock: %v", err)
	}
	if c.Hour != 9 || c.Minute != 5 {
		t.Fatalf("Clock = %+v", c)
	}
	if c.String() != "09:05" {
		t.Fatalf("String = %q", c.String())
	}

	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	at := c.At(day)
	if at.Hour() != 9 || at.Minute() != 5 || at.Day() != 14 {
		t.Fatalf("At = %v", at)
	}

	if _, err := ParseClock("9am"); err == nil {
		t.Fatal("expected error for non-HH:MM input")
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "ninety"); err == nil {
		t.Fatal("expected error")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("got (%v, %v)", d, err)
	}
}
