// Package alertlog writes the append-only alert file consumed by the chat
// relay. The file is an external, best-effort channel: the consumer drains
// and clears it, so duplicates or losses around the clear are acceptable by
// contract. It doubles as a human-readable audit trail between drains.
package alertlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "catpanel/pkg/logx"
)

type Kind string

const (
	KindFed      Kind = "FED"
	KindUnset    Kind = "UNSET"
	KindMissed   Kind = "MISSED"
	KindReminder Kind = "REMINDER"
)

const timeLayout = "2006-01-02 15:04:05"

type Log struct {
	mu   sync.Mutex
	path string
	log  logx.Logger
}

func New(path string, log logx.Logger) (*Log, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("alertlog: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("alertlog: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{path: path, log: log}, nil
}

func (l *Log) Path() string { return l.path }

// Append writes one "<KIND> <slot> at <timestamp>" line. A non-empty note is
// appended in parentheses (e.g. "(via panel)").
func (l *Log) Append(kind Kind, slot string, at time.Time, note string) error {
	line := fmt.Sprintf("%s %s at %s", kind, slot, at.Format(timeLayout))
	if note = strings.TrimSpace(note); note != "" {
		line += " (" + note + ")"
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("alertlog: append: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("alertlog: append: %w", err)
	}
	return nil
}

// Drain returns all pending lines and truncates the file in one critical
// section. A missing file means nothing is pending.
func (l *Log) Drain() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("alertlog: drain: %w", err)
	}

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if s := strings.TrimSpace(sc.Text()); s != "" {
			lines = append(lines, s)
		}
	}
	scanErr := sc.Err()
	_ = f.Close()
	if scanErr != nil {
		return nil, fmt.Errorf("alertlog: drain: %w", scanErr)
	}
	if len(lines) == 0 {
		return nil, nil
	}
	if err := os.Truncate(l.path, 0); err != nil {
		return nil, fmt.Errorf("alertlog: clear: %w", err)
	}
	return lines, nil
}
