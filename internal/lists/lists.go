// Package lists manages the shopping/todo list documents. Each list is one
// state-store record (lists/<name>), so cross-list operations never contend.
// EnsureItem/RemoveItemsByText are the idempotent collaborator surface the
// inventory restock policy talks to.
package lists

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"catpanel/internal/eventbus"
	"catpanel/internal/state"
	logx "catpanel/pkg/logx"
)

const keyPrefix = "lists/"

var (
	ErrBadName      = errors.New("invalid list name")
	ErrEmptyText    = errors.New("item text is required")
	ErrItemNotFound = errors.New("item not found")
)

type Item struct {
	ID   string    `json:"id"`
	Text string    `json:"text"`
	Done bool      `json:"done"`
	TS   time.Time `json:"ts"`
}

type Document struct {
	Title     string    `json:"title"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemPatch updates the named fields only; nil leaves a field alone.
type ItemPatch struct {
	Text *string `json:"text,omitempty"`
	Done *bool   `json:"done,omitempty"`
}

type Service struct {
	store *state.Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

func New(store *state.Store, bus eventbus.Bus, log logx.Logger) (*Service, error) {
	s := &Service{store: store, bus: bus, log: log, now: time.Now}
	if err := s.loadExisting(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadExisting re-registers list files a previous run left under the data
// dir. Without this, Names/Get would come up empty after a restart even
// though the documents are still on disk.
func (s *Service) loadExisting() error {
	matches, err := filepath.Glob(filepath.Join(s.store.Dir(), "lists", "*.json"))
	if err != nil {
		return fmt.Errorf("lists: scan data dir: %w", err)
	}
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		// Our writes always use normalized names; anything else is foreign.
		if n, err := NormalizeName(name); err != nil || n != name {
			s.log.Warn("skipping foreign file in lists dir", logx.String("path", path))
			continue
		}
		if err := s.store.Load(key(name), Document{Title: name, Items: []Item{}, UpdatedAt: s.now()}); err != nil {
			return fmt.Errorf("lists: load %q: %w", name, err)
		}
	}
	return nil
}

// SetClock overrides the time source (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// NormalizeName canonicalizes a list name: trim, lower, spaces to dashes,
// restricted to [a-z0-9_-] because list names become file names.
func NormalizeName(raw string) (string, error) {
	n := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "-")
	if n == "" {
		return "", ErrBadName
	}
	for _, r := range n {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return "", fmt.Errorf("%w: %q", ErrBadName, raw)
		}
	}
	return n, nil
}

func key(name string) string { return keyPrefix + name }

// Names returns the known list names, sorted.
func (s *Service) Names() []string {
	keys := s.store.Keys(keyPrefix)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = strings.TrimPrefix(k, keyPrefix)
	}
	return out
}

// Create registers a list (loading an existing file if one is on disk).
// Creating an existing list is a no-op returning the current document.
func (s *Service) Create(rawName string) (string, Document, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return "", Document{}, err
	}
	if doc, err := state.Get[Document](s.store, key(name)); err == nil {
		return name, doc, nil
	}
	if err := s.store.Load(key(name), Document{Title: name, Items: []Item{}, UpdatedAt: s.now()}); err != nil {
		return "", Document{}, err
	}
	doc, err := state.Get[Document](s.store, key(name))
	if err != nil {
		return "", Document{}, err
	}
	s.publish(name)
	return name, doc, nil
}

func (s *Service) Get(rawName string) (Document, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return Document{}, err
	}
	return state.Get[Document](s.store, key(name))
}

// Delete removes the list and its file.
func (s *Service) Delete(rawName string) error {
	name, err := NormalizeName(rawName)
	if err != nil {
		return err
	}
	if err := s.store.Forget(key(name)); err != nil {
		return err
	}
	s.publish(name)
	return nil
}

func (s *Service) AddItem(rawName, text string) (Item, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return Item{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Item{}, ErrEmptyText
	}
	it := Item{ID: "it_" + uuid.NewString(), Text: text, TS: s.now()}
	_, err = state.Mutate(s.store, key(name), func(doc Document) (Document, error) {
		doc.Items = append(doc.Items, it)
		doc.UpdatedAt = s.now()
		return doc, nil
	})
	if err != nil {
		return Item{}, err
	}
	s.publish(name)
	return it, nil
}

func (s *Service) UpdateItem(rawName, id string, patch ItemPatch) (Item, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return Item{}, err
	}
	var out Item
	_, err = state.Mutate(s.store, key(name), func(doc Document) (Document, error) {
		for i := range doc.Items {
			if doc.Items[i].ID != id {
				continue
			}
			if patch.Text != nil {
				t := strings.TrimSpace(*patch.Text)
				if t == "" {
					return doc, ErrEmptyText
				}
				doc.Items[i].Text = t
			}
			if patch.Done != nil {
				doc.Items[i].Done = *patch.Done
			}
			doc.UpdatedAt = s.now()
			out = doc.Items[i]
			return doc, nil
		}
		return doc, fmt.Errorf("%w: %q", ErrItemNotFound, id)
	})
	if err != nil {
		return Item{}, err
	}
	s.publish(name)
	return out, nil
}

func (s *Service) RemoveItem(rawName, id string) error {
	name, err := NormalizeName(rawName)
	if err != nil {
		return err
	}
	_, err = state.Mutate(s.store, key(name), func(doc Document) (Document, error) {
		for i := range doc.Items {
			if doc.Items[i].ID == id {
				doc.Items = append(doc.Items[:i], doc.Items[i+1:]...)
				doc.UpdatedAt = s.now()
				return doc, nil
			}
		}
		return doc, fmt.Errorf("%w: %q", ErrItemNotFound, id)
	})
	if err != nil {
		return err
	}
	s.publish(name)
	return nil
}

// ClearDone removes all completed items, returning how many went away.
func (s *Service) ClearDone(rawName string) (int, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return 0, err
	}
	removed := 0
	_, err = state.Mutate(s.store, key(name), func(doc Document) (Document, error) {
		kept := doc.Items[:0]
		for _, it := range doc.Items {
			if it.Done {
				removed++
				continue
			}
			kept = append(kept, it)
		}
		if removed == 0 {
			return doc, errNoChange
		}
		doc.Items = kept
		doc.UpdatedAt = s.now()
		return doc, nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		return 0, err
	}
	if removed > 0 {
		s.publish(name)
	}
	return removed, nil
}

// EnsureItem adds text to the list unless an open (not done) item with the
// same text already exists. The list is created on demand. Idempotent.
func (s *Service) EnsureItem(rawName, text string) error {
	name, err := NormalizeName(rawName)
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if _, _, err := s.Create(name); err != nil {
		return err
	}

	added := false
	_, err = state.Mutate(s.store, key(name), func(doc Document) (Document, error) {
		for _, it := range doc.Items {
			if !it.Done && strings.EqualFold(it.Text, text) {
				return doc, errNoChange
			}
		}
		doc.Items = append(doc.Items, Item{ID: "it_" + uuid.NewString(), Text: text, TS: s.now()})
		doc.UpdatedAt = s.now()
		added = true
		return doc, nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		return err
	}
	if added {
		s.publish(name)
	}
	return nil
}

// RemoveItemsByText deletes every item matching text (done or not).
// Removing when nothing matches is a no-op.
func (s *Service) RemoveItemsByText(rawName, text string) (int, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return 0, err
	}
	if _, err := s.Get(name); errors.Is(err, state.ErrNotFound) {
		return 0, nil
	}

	removed := 0
	_, err = state.Mutate(s.store, key(name), func(doc Document) (Document, error) {
		kept := doc.Items[:0]
		for _, it := range doc.Items {
			if strings.EqualFold(it.Text, strings.TrimSpace(text)) {
				removed++
				continue
			}
			kept = append(kept, it)
		}
		if removed == 0 {
			return doc, errNoChange
		}
		doc.Items = kept
		doc.UpdatedAt = s.now()
		return doc, nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		return 0, err
	}
	if removed > 0 {
		s.publish(name)
	}
	return removed, nil
}

// errNoChange aborts a Mutate without persisting (see state.MutateRaw:
// a non-nil error from fn skips the write entirely).
var errNoChange = errors.New("no change")

func (s *Service) publish(name string) {
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeListsUpdate, Data: map[string]any{"name": name}})
}
