package alertlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "catpanel/pkg/logx"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := New(filepath.Join(t.TempDir(), "alerts.log"), logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestAppendLineFormat(t *testing.T) {
	l := newTestLog(t)
	at := time.Date(2025, 3, 14, 9, 31, 0, 0, time.UTC)

	if err := l.Append(KindMissed, "09:00", at, ""); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(KindFed, "12:00", at, "via panel"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	b, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	want := "MISSED 09:00 at 2025-03-14 09:31:00\nFED 12:00 at 2025-03-14 09:31:00 (via panel)\n"
	if string(b) != want {
		t.Fatalf("file = %q, want %q", b, want)
	}
}

func TestDrainReturnsAndClears(t *testing.T) {
	l := newTestLog(t)
	at := time.Now()
	for _, k := range []Kind{KindMissed, KindReminder} {
		if err := l.Append(k, "17:00", at, ""); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	lines, err := l.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %v", len(lines), lines)
	}

	// A second drain must see nothing.
	lines, err = l.Drain()
	if err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if lines != nil {
		t.Fatalf("second Drain = %v, want nil", lines)
	}
}

func TestDrainMissingFile(t *testing.T) {
	l := newTestLog(t)
	lines, err := l.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if lines != nil {
		t.Fatalf("Drain on missing file = %v, want nil", lines)
	}
}
