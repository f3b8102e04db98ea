// Package feeding tracks the daily feeding slots. Slot state is keyed by
// (slot, local calendar date): a stored state whose date differs from today
// reads as unfed and unalerted, which gives the implicit daily reset without
// a midnight job.
package feeding

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"catpanel/internal/alertlog"
	"catpanel/internal/config"
	"catpanel/internal/eventbus"
	"catpanel/internal/state"
	logx "catpanel/pkg/logx"
)

const StoreKey = "feeding"

const dateLayout = "2006-01-02"

var (
	ErrUnknownSlot = errors.New("unknown feeding slot")

	// ErrUnchanged aborts a Transition without persisting anything.
	ErrUnchanged = errors.New("slot state unchanged")
)

// SlotState is the persisted per-slot record. Date is the local calendar day
// the flags belong to; flags from another day are ignored on read.
type SlotState struct {
	Fed         bool       `json:"fed"`
	Alerted     bool       `json:"alerted"`
	LastAlertAt *time.Time `json:"last_alert_at,omitempty"`
	Date        string     `json:"date,omitempty"`
}

// Day maps "HH:MM" slot labels to their state. This is the on-disk shape.
type Day map[string]SlotState

type Tracker struct {
	store *state.Store
	bus   eventbus.Bus
	alog  *alertlog.Log
	log   logx.Logger

	slots []config.Clock
	loc   *time.Location
	now   func() time.Time
}

// New loads (or initializes) the feeding record. The slot set is fixed for
// the lifetime of the tracker; unknown slots in a stale file are kept on
// disk but not served.
func New(store *state.Store, bus eventbus.Bus, alog *alertlog.Log, log logx.Logger, times []string, loc *time.Location) (*Tracker, error) {
	if len(times) == 0 {
		times = config.DefaultFeedTimes
	}
	if loc == nil {
		loc = time.Local
	}
	slots := make([]config.Clock, 0, len(times))
	seen := map[string]bool{}
	for _, raw := range times {
		c, err := config.ParseClock(raw)
		if err != nil {
			return nil, fmt.Errorf("feeding: %w", err)
		}
		if seen[c.String()] {
			continue
		}
		seen[c.String()] = true
		slots = append(slots, c)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Hour != slots[j].Hour {
			return slots[i].Hour < slots[j].Hour
		}
		return slots[i].Minute < slots[j].Minute
	})

	t := &Tracker{store: store, bus: bus, alog: alog, log: log, slots: slots, loc: loc, now: time.Now}

	def := Day{}
	for _, c := range slots {
		def[c.String()] = SlotState{}
	}
	if err := store.Load(StoreKey, def); err != nil {
		return nil, err
	}
	return t, nil
}

// SetClock overrides the time source (tests).
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

func (t *Tracker) Location() *time.Location { return t.loc }

// Slots returns the fixed slot labels in trigger order.
func (t *Tracker) Slots() []string {
	out := make([]string, len(t.slots))
	for i, c := range t.slots {
		out[i] = c.String()
	}
	return out
}

// Clock returns the trigger time-of-day for slot.
func (t *Tracker) Clock(slot string) (config.Clock, error) {
	for _, c := range t.slots {
		if c.String() == slot {
			return c, nil
		}
	}
	return config.Clock{}, fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
}

func (t *Tracker) today(now time.Time) string {
	return now.In(t.loc).Format(dateLayout)
}

// normalize applies the daily-epoch rule: state from another calendar day
// reads as a fresh slot.
func normalize(st SlotState, today string) SlotState {
	if st.Date != today {
		return SlotState{Date: today}
	}
	return st
}

// State returns slot's day-normalized state.
func (t *Tracker) State(slot string) (SlotState, error) {
	if _, err := t.Clock(slot); err != nil {
		return SlotState{}, err
	}
	day, err := state.Get[Day](t.store, StoreKey)
	if err != nil {
		return SlotState{}, err
	}
	return normalize(day[slot], t.today(t.now())), nil
}

// Snapshot returns the {slot: fed} map served by the panel API.
func (t *Tracker) Snapshot() (map[string]bool, error) {
	day, err := state.Get[Day](t.store, StoreKey)
	if err != nil {
		return nil, err
	}
	today := t.today(t.now())
	out := make(map[string]bool, len(t.slots))
	for _, c := range t.slots {
		out[c.String()] = normalize(day[c.String()], today).Fed
	}
	return out, nil
}

// Set marks a slot fed or not fed from a user action. Any change clears the
// alert flags (acknowledgement), so a later unset can re-trigger a fresh
// first alert the same day. An alert line (FED/UNSET) is appended and a
// feeding:update event published after commit.
func (t *Tracker) Set(slot string, fed bool) (map[string]bool, error) {
	if _, err := t.Clock(slot); err != nil {
		return nil, err
	}
	now := t.now().In(t.loc)
	today := t.today(now)

	_, err := state.Mutate(t.store, StoreKey, func(day Day) (Day, error) {
		if day == nil {
			day = Day{}
		}
		day[slot] = SlotState{Fed: fed, Date: today}
		return day, nil
	})
	if err != nil {
		return nil, err
	}

	kind := alertlog.KindFed
	if !fed {
		kind = alertlog.KindUnset
	}
	if err := t.alog.Append(kind, slot, now, "via panel"); err != nil {
		t.log.Warn("alert line append failed", logx.String("slot", slot), logx.Err(err))
	}

	snap, err := t.Snapshot()
	if err != nil {
		return nil, err
	}
	t.bus.Publish(eventbus.Event{Type: eventbus.TypeFeedingUpdate, Data: map[string]any{"feeding": snap}})
	return snap, nil
}

// Transition applies fn to slot's day-normalized state under the record
// lock and persists the result before returning. fn may return ErrUnchanged
// to abort without a write. Used by the reminder scheduler so its
// read-decide-write is atomic with respect to concurrent Set calls.
func (t *Tracker) Transition(slot string, now time.Time, fn func(cur SlotState) (SlotState, error)) (SlotState, error) {
	if _, err := t.Clock(slot); err != nil {
		return SlotState{}, err
	}
	today := t.today(now)

	var out SlotState
	_, err := state.Mutate(t.store, StoreKey, func(day Day) (Day, error) {
		if day == nil {
			day = Day{}
		}
		next, err := fn(normalize(day[slot], today))
		if err != nil {
			return nil, err
		}
		next.Date = today
		day[slot] = next
		out = next
		return day, nil
	})
	if err != nil {
		return SlotState{}, err
	}
	return out, nil
}
