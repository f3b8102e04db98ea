package reminder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"catpanel/internal/alertlog"
	"catpanel/internal/eventbus"
	"catpanel/internal/feeding"
	"catpanel/internal/state"
	logx "catpanel/pkg/logx"
)

type fixture struct {
	svc     *Service
	tracker *feeding.Tracker
	alog    *alertlog.Log
	sub     *eventbus.Subscription
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := state.Open(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	alog, err := alertlog.New(filepath.Join(t.TempDir(), "alerts.log"), logx.Nop())
	if err != nil {
		t.Fatalf("alertlog.New: %v", err)
	}
	bus := eventbus.New()
	tracker, err := feeding.New(store, bus, alog, logx.Nop(), nil, time.UTC)
	if err != nil {
		t.Fatalf("feeding.New: %v", err)
	}
	// Pin the tracker's clock to the test day so Set stamps matching dates.
	tracker.SetClock(func() time.Time { return at(10, 0) })
	svc := New(Config{
		Grace:            30 * time.Minute,
		ReminderInterval: 30 * time.Minute,
		Tick:             time.Minute,
	}, tracker, alog, nil, bus, logx.Nop())

	sub := bus.Subscribe(16, time.Hour)
	t.Cleanup(sub.Close)
	return &fixture{svc: svc, tracker: tracker, alog: alog, sub: sub}
}

func at(hour, min int) time.Time {
	return time.Date(2025, 3, 14, hour, min, 0, 0, time.UTC)
}

func (f *fixture) drainAlerts(t *testing.T) []string {
	t.Helper()
	lines, err := f.alog.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	return lines
}

func (f *fixture) alertEvents() []eventbus.Event {
	var out []eventbus.Event
	for {
		select {
		case e := <-f.sub.Events():
			if e.Type == eventbus.TypeAlertsNew {
				out = append(out, e)
			}
		default:
			return out
		}
	}
}

func TestNoAlertWithinGrace(t *testing.T) {
	f := newFixture(t)
	// 09:29 is before trigger+grace for the 09:00 slot.
	f.svc.RunTick(context.Background(), at(9, 29))
	if lines := f.drainAlerts(t); lines != nil {
		t.Fatalf("unexpected alerts: %v", lines)
	}
	// Exactly at the deadline still counts as within grace.
	f.svc.RunTick(context.Background(), at(9, 30))
	if lines := f.drainAlerts(t); lines != nil {
		t.Fatalf("alert at exact deadline: %v", lines)
	}
}

func TestMissedOncePastGrace(t *testing.T) {
	f := newFixture(t)
	f.svc.RunTick(context.Background(), at(9, 31))

	lines := f.drainAlerts(t)
	if len(lines) != 1 || lines[0] != "MISSED 09:00 at 2025-03-14 09:31:00" {
		t.Fatalf("lines = %v", lines)
	}
	if evs := f.alertEvents(); len(evs) != 1 {
		t.Fatalf("got %d alerts:new events, want 1", len(evs))
	}

	// Subsequent ticks before the reminder interval stay quiet.
	for m := 32; m < 60; m++ {
		f.svc.RunTick(context.Background(), at(9, m))
	}
	if lines := f.drainAlerts(t); lines != nil {
		t.Fatalf("unexpected repeats before interval: %v", lines)
	}
}

func TestReminderEveryInterval(t *testing.T) {
	f := newFixture(t)
	f.svc.RunTick(context.Background(), at(9, 31)) // MISSED
	f.svc.RunTick(context.Background(), at(10, 1)) // first REMINDER
	f.svc.RunTick(context.Background(), at(10, 2)) // quiet
	f.svc.RunTick(context.Background(), at(10, 31)) // second REMINDER

	lines := f.drainAlerts(t)
	want := []string{
		"MISSED 09:00 at 2025-03-14 09:31:00",
		"REMINDER 09:00 at 2025-03-14 10:01:00",
		"REMINDER 09:00 at 2025-03-14 10:31:00",
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestAckStopsReminders(t *testing.T) {
	f := newFixture(t)
	f.svc.RunTick(context.Background(), at(9, 31))
	f.drainAlerts(t)

	if _, err := f.tracker.Set("09:00", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	f.drainAlerts(t) // consume the FED ack line

	f.svc.RunTick(context.Background(), at(10, 1))
	f.svc.RunTick(context.Background(), at(11, 1))
	if lines := f.drainAlerts(t); lines != nil {
		t.Fatalf("reminders after ack: %v", lines)
	}
}

func TestUnsetReAlertsSameDay(t *testing.T) {
	f := newFixture(t)
	f.svc.RunTick(context.Background(), at(9, 31))
	if _, err := f.tracker.Set("09:00", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := f.tracker.Set("09:00", false); err != nil {
		t.Fatalf("unset: %v", err)
	}
	f.drainAlerts(t)

	// Unset cleared the alert flags, so the next overdue tick is a fresh MISSED.
	f.svc.RunTick(context.Background(), at(11, 0))
	lines := f.drainAlerts(t)
	if len(lines) != 1 || lines[0] != "MISSED 09:00 at 2025-03-14 11:00:00" {
		t.Fatalf("lines = %v", lines)
	}
}

func TestMultipleSlotsOverdue(t *testing.T) {
	f := newFixture(t)
	// 17:31 puts all three default slots past grace.
	f.svc.RunTick(context.Background(), at(17, 31))
	lines := f.drainAlerts(t)
	if len(lines) != 3 {
		t.Fatalf("got %d alerts, want 3: %v", len(lines), lines)
	}
}

func TestDayRolloverReArms(t *testing.T) {
	f := newFixture(t)
	f.svc.RunTick(context.Background(), at(9, 31))
	f.drainAlerts(t)

	// Next day, same wall time: the previous day's alerted flag must not
	// suppress a fresh MISSED.
	next := at(9, 31).Add(24 * time.Hour)
	f.svc.RunTick(context.Background(), next)
	lines := f.drainAlerts(t)
	if len(lines) != 1 || lines[0] != "MISSED 09:00 at 2025-03-15 09:31:00" {
		t.Fatalf("lines = %v", lines)
	}
}

func TestBackwardClockJumpStaysQuiet(t *testing.T) {
	f := newFixture(t)
	f.svc.RunTick(context.Background(), at(10, 31)) // MISSED + reminder state at 10:31
	f.drainAlerts(t)

	// Clock jumps back before the last alert: no reminder may fire.
	f.svc.RunTick(context.Background(), at(9, 45))
	if lines := f.drainAlerts(t); lines != nil {
		t.Fatalf("alert on backward clock jump: %v", lines)
	}
}

func TestFedSlotNeverAlerts(t *testing.T) {
	f := newFixture(t)
	if _, err := f.tracker.Set("09:00", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	f.drainAlerts(t)

	f.svc.RunTick(context.Background(), at(11, 0))
	lines := f.drainAlerts(t)
	// 09:00 is fed; only slots not yet due stay quiet too, so nothing fires
	// before 12:30.
	if lines != nil {
		t.Fatalf("alerts for fed slot: %v", lines)
	}
}

func TestApplyChangesCadence(t *testing.T) {
	f := newFixture(t)
	f.svc.Apply(Config{Grace: 5 * time.Minute, ReminderInterval: 10 * time.Minute, Tick: time.Minute})

	f.svc.RunTick(context.Background(), at(9, 6)) // past the shorter grace
	lines := f.drainAlerts(t)
	if len(lines) != 1 || lines[0] != "MISSED 09:00 at 2025-03-14 09:06:00" {
		t.Fatalf("lines = %v", lines)
	}
}
