// Package reminder runs the background tick that turns missed feeding slots
// into alerts. One recurring task, fixed cadence; each slot's evaluation is
// fault-isolated so a bad record can never stall the loop.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"catpanel/internal/alertlog"
	"catpanel/internal/eventbus"
	"catpanel/internal/feeding"
	"catpanel/internal/history"
	logx "catpanel/pkg/logx"
)

// Config controls the reminder cadence. Zero fields fall back to the
// defaults noted per field.
type Config struct {
	Grace            time.Duration // delay after trigger before a slot is alert-worthy (default 30m)
	ReminderInterval time.Duration // repeat cadence while unacknowledged (default 30m)
	Tick             time.Duration // evaluation cadence (default 1m)
}

func (c Config) withDefaults() Config {
	if c.Grace <= 0 {
		c.Grace = 30 * time.Minute
	}
	if c.ReminderInterval <= 0 {
		c.ReminderInterval = 30 * time.Minute
	}
	if c.Tick <= 0 {
		c.Tick = time.Minute
	}
	return c
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	tracker *feeding.Tracker
	alog    *alertlog.Log
	hist    history.Store // may be nil
	bus     eventbus.Bus

	now func() time.Time

	c         *cron.Cron
	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, tracker *feeding.Tracker, alog *alertlog.Log, hist history.Store, bus eventbus.Bus, log logx.Logger) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		log:     log,
		tracker: tracker,
		alog:    alog,
		hist:    hist,
		bus:     bus,
		now:     time.Now,
	}
}

// SetClock overrides the time source (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Apply updates the cadence at runtime (config hot reload). A tick change
// while running restarts the cron entry.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	var old *cron.Cron
	if s.c != nil && cfg.Tick != s.cfg.Tick {
		old = s.c
		s.c = cron.New(cron.WithLocation(s.tracker.Location()))
		s.c.Schedule(cron.Every(cfg.Tick), cron.FuncJob(s.tickJob))
		s.c.Start()
	}
	s.cfg = cfg
	s.mu.Unlock()

	// Wait for the old entry outside the lock; a running tick needs it.
	if old != nil {
		<-old.Stop().Done()
	}
	s.log.Info("reminder cadence applied",
		logx.Duration("tick", cfg.Tick),
		logx.Duration("grace", cfg.Grace),
		logx.Duration("reminder_interval", cfg.ReminderInterval))
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithLocation(s.tracker.Location()))
	s.c.Schedule(cron.Every(s.cfg.Tick), cron.FuncJob(s.tickJob))
	s.c.Start()

	// Evaluate once right away; the first cron fire is a full tick out.
	go s.tickJob()

	s.log.Info("service started",
		logx.Duration("tick", s.cfg.Tick),
		logx.String("tz", s.tracker.Location().String()),
		logx.Int("slots", len(s.tracker.Slots())))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		// stop continues in background
	}
}

func (s *Service) tickJob() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	s.RunTick(ctx, s.now())
}

// RunTick evaluates every slot once against now. Exported for tests and for
// the immediate evaluation on Start. Per-slot failures are logged and never
// abort the remaining slots.
func (s *Service) RunTick(ctx context.Context, now time.Time) {
	now = now.In(s.tracker.Location())
	for _, slot := range s.tracker.Slots() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic evaluating slot",
						logx.String("slot", slot), logx.Any("panic", r),
						logx.Stack(string(debug.Stack())))
				}
			}()
			if err := s.evalSlot(ctx, slot, now); err != nil {
				s.log.Warn("slot evaluation failed", logx.String("slot", slot), logx.Err(err))
			}
		}()
	}
}

// evalSlot advances one slot through the state machine:
//
//	PENDING -> OVERDUE_UNALERTED            when now > trigger+grace and not fed
//	OVERDUE_UNALERTED -> OVERDUE_ALERTED    emits MISSED, records last_alert_at
//	OVERDUE_ALERTED self-loop               emits REMINDER every ReminderInterval
//	* -> SATISFIED                          external (slot marked fed), not here
//
// The decision runs inside Transition so it can't race a concurrent mark-fed,
// and the slot record is persisted before anything is emitted.
func (s *Service) evalSlot(ctx context.Context, slot string, now time.Time) error {
	s.mu.Lock()
	grace, interval := s.cfg.Grace, s.cfg.ReminderInterval
	s.mu.Unlock()

	clock, err := s.tracker.Clock(slot)
	if err != nil {
		return err
	}
	deadline := clock.At(now).Add(grace)

	var emit alertlog.Kind
	_, err = s.tracker.Transition(slot, now, func(cur feeding.SlotState) (feeding.SlotState, error) {
		if cur.Fed || !now.After(deadline) {
			return cur, feeding.ErrUnchanged
		}
		if !cur.Alerted {
			emit = alertlog.KindMissed
			at := now
			cur.Alerted = true
			cur.LastAlertAt = &at
			return cur, nil
		}
		if cur.LastAlertAt == nil {
			// Alerted without a timestamp (hand-edited file): repair silently.
			at := now
			cur.LastAlertAt = &at
			return cur, nil
		}
		// A negative delta here means the wall clock jumped backwards;
		// never re-alert for that.
		if now.Sub(*cur.LastAlertAt) >= interval {
			emit = alertlog.KindReminder
			at := now
			cur.LastAlertAt = &at
			return cur, nil
		}
		return cur, feeding.ErrUnchanged
	})
	if errors.Is(err, feeding.ErrUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	if emit == "" {
		return nil
	}

	if err := s.alog.Append(emit, slot, now, ""); err != nil {
		s.log.Warn("alert line append failed", logx.String("slot", slot), logx.Err(err))
	}
	if s.hist != nil {
		if err := s.hist.Append(ctx, history.Entry{Kind: string(emit), Slot: slot, At: now}); err != nil {
			s.log.Warn("alert history append failed", logx.String("slot", slot), logx.Err(err))
		}
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeAlertsNew, Data: map[string]any{
		"kind": string(emit),
		"slot": slot,
		"at":   now.Format(time.RFC3339),
	}})
	s.log.Info("alert emitted", logx.String("kind", string(emit)), logx.String("slot", slot))
	return nil
}

// Snapshot reports the service's effective cadence (health endpoint).
func (s *Service) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"running":           s.c != nil,
		"tick":              s.cfg.Tick.String(),
		"grace":             s.cfg.Grace.String(),
		"reminder_interval": s.cfg.ReminderInterval.String(),
		"slots":             fmt.Sprint(s.tracker.Slots()),
	}
}
