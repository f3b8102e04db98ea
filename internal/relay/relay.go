// Package relay forwards alert lines to a Telegram chat. It drains the
// append-only alert file on a fixed poll cadence, so a relay outage never
// loses alerts: lines simply wait in the file until the next successful
// drain.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"catpanel/internal/alertlog"
	"catpanel/internal/feeding"
	"catpanel/internal/inventory"
	logx "catpanel/pkg/logx"
)

type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	Poll       time.Duration // drain cadence (default 30s)
	RatePerSec float64       // outbound message rate (default 1/s)
}

func (c Config) withDefaults() Config {
	if c.Poll <= 0 {
		c.Poll = 30 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	return c
}

type Service struct {
	cfg Config
	log logx.Logger

	alog    *alertlog.Log
	tracker *feeding.Tracker
	food    *inventory.Counter

	bot     *tele.Bot
	limiter *rate.Limiter

	runMu     sync.Mutex
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfg Config, alog *alertlog.Log, tracker *feeding.Tracker, food *inventory.Counter, log logx.Logger) (*Service, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("relay token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("relay chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		alog:    alog,
		tracker: tracker,
		food:    food,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}, nil
}

func (s *Service) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.runCancel != nil {
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	s.bot.Handle("/status", func(c tele.Context) error {
		return c.Send(s.statusText())
	})

	s.runWG.Add(2)
	go func() {
		defer s.runWG.Done()
		s.bot.Start()
	}()
	go func() {
		defer s.runWG.Done()
		s.drainLoop(rctx)
	}()
	s.log.Info("relay started",
		logx.Int64("chat_id", s.cfg.ChatID),
		logx.Duration("poll", s.cfg.Poll))
}

func (s *Service) Stop(ctx context.Context) {
	s.runMu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	s.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.bot.Stop()

	done := make(chan struct{})
	go func() { s.runWG.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Service) drainLoop(ctx context.Context) {
	t := time.NewTicker(s.cfg.Poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.drainOnce(ctx)
		}
	}
}

func (s *Service) drainOnce(ctx context.Context) {
	lines, err := s.alog.Drain()
	if err != nil {
		s.log.Warn("alert drain failed", logx.Err(err))
		return
	}
	for _, line := range lines {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		msg := formatLine(line)
		if _, err := s.bot.Send(tele.ChatID(s.cfg.ChatID), msg); err != nil {
			// The line is already consumed; log it so it isn't silently lost.
			s.log.Error("relay send failed", logx.String("line", line), logx.Err(err))
		}
	}
	if len(lines) > 0 {
		s.log.Debug("alerts relayed", logx.Int("count", len(lines)))
	}
}

// formatLine turns a raw alert line ("KIND slot at ts (note)") into chat
// phrasing. Unknown kinds pass through verbatim.
func formatLine(line string) string {
	kind, rest, ok := strings.Cut(line, " ")
	if !ok {
		return line
	}
	switch alertlog.Kind(kind) {
	case alertlog.KindMissed:
		return "Missed feeding for " + rest
	case alertlog.KindReminder:
		return "Reminder: still not fed for " + rest
	case alertlog.KindFed:
		return "Fed confirmed: " + rest
	case alertlog.KindUnset:
		return "Feeding unmarked: " + rest
	default:
		return line
	}
}

func (s *Service) statusText() string {
	var b strings.Builder
	b.WriteString("Feeding today:\n")
	snap, err := s.tracker.Snapshot()
	if err != nil {
		fmt.Fprintf(&b, "  unavailable (%v)\n", err)
	} else {
		for _, slot := range s.tracker.Slots() {
			mark := "✗"
			if snap[slot] {
				mark = "✓"
			}
			fmt.Fprintf(&b, "  %s %s\n", mark, slot)
		}
	}
	if rec, err := s.food.Get(); err == nil {
		fmt.Fprintf(&b, "Pouches left: %d", rec.Count)
	}
	return b.String()
}
