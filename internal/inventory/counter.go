// Package inventory owns the pouch counter record and the pure restock
// policy that watches it cross the low-stock threshold.
package inventory

import (
	"time"

	"catpanel/internal/eventbus"
	"catpanel/internal/state"
	logx "catpanel/pkg/logx"
)

const StoreKey = "food"

// Record is the persisted counter: {count, updated_at}.
type Record struct {
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListCollaborator is the idempotent list-management surface the policy
// effects are applied against.
type ListCollaborator interface {
	EnsureItem(list, text string) error
	RemoveItemsByText(list, text string) (int, error)
}

type Config struct {
	LowStockThreshold int // default 3
	MaxAdjust         int // per-call |delta| clamp, default 100
	MaxTotal          int // absolute ceiling, default 999
	RestockList       string
	RestockItem       string
}

func (c Config) withDefaults() Config {
	if c.LowStockThreshold <= 0 {
		c.LowStockThreshold = 3
	}
	if c.MaxAdjust <= 0 {
		c.MaxAdjust = 100
	}
	if c.MaxTotal <= 0 {
		c.MaxTotal = 999
	}
	if c.RestockList == "" {
		c.RestockList = "shopping"
	}
	if c.RestockItem == "" {
		c.RestockItem = "Buy cat food pouches"
	}
	return c
}

type Counter struct {
	cfg   Config
	store *state.Store
	bus   eventbus.Bus
	lists ListCollaborator
	log   logx.Logger
	now   func() time.Time
}

func New(cfg Config, store *state.Store, bus eventbus.Bus, lists ListCollaborator, log logx.Logger) (*Counter, error) {
	c := &Counter{cfg: cfg.withDefaults(), store: store, bus: bus, lists: lists, log: log, now: time.Now}
	if err := store.Load(StoreKey, Record{}); err != nil {
		return nil, err
	}
	return c, nil
}

// SetClock overrides the time source (tests).
func (c *Counter) SetClock(now func() time.Time) { c.now = now }

func (c *Counter) Get() (Record, error) {
	return state.Get[Record](c.store, StoreKey)
}

// Adjust applies a relative change. |delta| is clamped to MaxAdjust, the
// result is floored at zero and capped at MaxTotal.
func (c *Counter) Adjust(delta int) (Record, error) {
	if delta > c.cfg.MaxAdjust {
		delta = c.cfg.MaxAdjust
	}
	if delta < -c.cfg.MaxAdjust {
		delta = -c.cfg.MaxAdjust
	}
	return c.commit(func(cur int) int { return cur + delta })
}

// Set replaces the count, clamped into [0, MaxTotal].
func (c *Counter) Set(total int) (Record, error) {
	return c.commit(func(int) int { return total })
}

func (c *Counter) commit(next func(cur int) int) (Record, error) {
	var prev int
	rec, err := state.Mutate(c.store, StoreKey, func(cur Record) (Record, error) {
		prev = cur.Count
		n := next(cur.Count)
		if n < 0 {
			n = 0
		}
		if n > c.cfg.MaxTotal {
			n = c.cfg.MaxTotal
		}
		return Record{Count: n, UpdatedAt: c.now()}, nil
	})
	if err != nil {
		return Record{}, err
	}

	c.applyEffect(Evaluate(prev, rec.Count, c.cfg.LowStockThreshold))

	c.bus.Publish(eventbus.Event{Type: eventbus.TypePouchesUpdate, Data: map[string]any{"pouches_left": rec.Count}})
	return rec, nil
}

// applyEffect runs after commit. Collaborator failures are logged, never
// propagated: the counter mutation already happened and both requests are
// idempotent, so the next crossing repairs the list.
func (c *Counter) applyEffect(eff Effect) {
	if c.lists == nil || eff == EffectNone {
		return
	}
	switch eff {
	case EffectEnsureReminder:
		if err := c.lists.EnsureItem(c.cfg.RestockList, c.cfg.RestockItem); err != nil {
			c.log.Warn("restock reminder ensure failed",
				logx.String("list", c.cfg.RestockList), logx.Err(err))
		}
	case EffectRemoveReminder:
		if _, err := c.lists.RemoveItemsByText(c.cfg.RestockList, c.cfg.RestockItem); err != nil {
			c.log.Warn("restock reminder remove failed",
				logx.String("list", c.cfg.RestockList), logx.Err(err))
		}
	}
	c.log.Debug("restock policy applied", logx.String("effect", eff.String()))
}
