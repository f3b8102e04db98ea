package inventory

import (
	"strings"
	"testing"

	"catpanel/internal/eventbus"
	"catpanel/internal/state"
	logx "catpanel/pkg/logx"
)

type fakeLists struct {
	ensured []string
	removed []string
}

func (f *fakeLists) EnsureItem(list, text string) error {
	f.ensured = append(f.ensured, list+"/"+text)
	return nil
}

func (f *fakeLists) RemoveItemsByText(list, text string) (int, error) {
	f.removed = append(f.removed, list+"/"+text)
	return 1, nil
}

func newTestCounter(t *testing.T) (*Counter, *fakeLists) {
	t.Helper()
	store, err := state.Open(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	fl := &fakeLists{}
	c, err := New(Config{}, store, eventbus.New(), fl, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, fl
}

func TestEvaluateCrossings(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name             string
		prev, next, thresh int
		want             Effect
	}{
		{name: "cross down", prev: 5, next: 2, thresh: 3, want: EffectEnsureReminder},
		{name: "land on threshold", prev: 4, next: 3, thresh: 3, want: EffectEnsureReminder},
		{name: "cross up", prev: 2, next: 5, thresh: 3, want: EffectRemoveReminder},
		{name: "stay low", prev: 2, next: 1, thresh: 3, want: EffectNone},
		{name: "stay high", prev: 10, next: 8, thresh: 3, want: EffectNone},
		{name: "no movement", prev: 3, next: 3, thresh: 3, want: EffectNone},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.prev, tt.next, tt.thresh); got != tt.want {
				t.Fatalf("Evaluate(%d, %d, %d) = %v, want %v", tt.prev, tt.next, tt.thresh, got, tt.want)
			}
		})
	}
}

func TestAdjustNeverNegative(t *testing.T) {
	c, _ := newTestCounter(t)
	rec, err := c.Adjust(-10)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if rec.Count != 0 {
		t.Fatalf("Count = %d, want 0", rec.Count)
	}
}

func TestAdjustClampsDeltaAndCeiling(t *testing.T) {
	c, _ := newTestCounter(t)

	// |delta| clamps to MaxAdjust (100) per call.
	rec, err := c.Adjust(100000)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if rec.Count != 100 {
		t.Fatalf("Count = %d, want 100 (delta clamp)", rec.Count)
	}

	// Absolute ceiling at MaxTotal (999).
	if _, err := c.Set(5000); err != nil {
		t.Fatalf("Set: %v", err)
	}
	rec, err = c.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Count != 999 {
		t.Fatalf("Count = %d, want ceiling 999", rec.Count)
	}
}

func TestCrossingDownEnsuresReminderOnce(t *testing.T) {
	c, fl := newTestCounter(t)
	if _, err := c.Set(5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	fl.ensured = nil

	if _, err := c.Set(2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(fl.ensured) != 1 || !strings.HasPrefix(fl.ensured[0], "shopping/") {
		t.Fatalf("ensured = %v", fl.ensured)
	}

	// Moving further below the threshold is not a crossing.
	if _, err := c.Adjust(-1); err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if len(fl.ensured) != 1 {
		t.Fatalf("ensured again below threshold: %v", fl.ensured)
	}
}

func TestCrossingUpRemovesReminder(t *testing.T) {
	c, fl := newTestCounter(t)
	if _, err := c.Set(2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	fl.removed = nil

	if _, err := c.Set(12); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(fl.removed) != 1 {
		t.Fatalf("removed = %v", fl.removed)
	}
}

func TestPouchesUpdatePublished(t *testing.T) {
	store, err := state.Open(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	bus := eventbus.New()
	c, err := New(Config{}, store, bus, nil, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sub := bus.Subscribe(4, 0)
	defer sub.Close()

	if _, err := c.Set(7); err != nil {
		t.Fatalf("Set: %v", err)
	}
	select {
	case e := <-sub.Events():
		if e.Type != eventbus.TypePouchesUpdate {
			t.Fatalf("Type = %q", e.Type)
		}
		data, ok := e.Data.(map[string]any)
		if !ok || data["pouches_left"] != 7 {
			t.Fatalf("Data = %#v", e.Data)
		}
	default:
		t.Fatal("no pouches:update published")
	}
}
