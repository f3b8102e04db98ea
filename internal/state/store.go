// Package state holds the panel's named records: in-memory values, each
// backed by one JSON file written atomically (tmp + fsync + rename).
//
// Records are registered at startup via Load. Mutations on the same key are
// serialized; different keys proceed independently. A mutation is committed
// only after its durable write succeeds (write-then-return).
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	logx "catpanel/pkg/logx"
)

var ErrNotFound = errors.New("record not found")

type Store struct {
	dir string
	log logx.Logger

	mu   sync.Mutex // guards recs map only, never held during I/O
	recs map[string]*record
}

type record struct {
	mu      sync.Mutex
	val     json.RawMessage // last committed value
	version uint64
}

func Open(dir string, log logx.Logger) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("state: data dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create data dir: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{dir: dir, log: log, recs: map[string]*record{}}, nil
}

// Dir returns the data directory, so callers can enumerate record files
// left behind by a previous run.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key)+".json")
}

// Load registers key, reading its file if present. A missing or corrupt file
// falls back to def, and a fresh file is written immediately rather than
// deferred, so a crash right after startup still leaves a valid file behind.
func (s *Store) Load(key string, def any) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("state: load %q: %w", key, err)
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if decodesAs(raw, def) {
			s.register(key, raw)
			return nil
		}
		s.log.Warn("corrupt record file; falling back to default",
			logx.String("key", key), logx.String("path", path))
	case os.IsNotExist(err):
		// first run for this record
	default:
		return fmt.Errorf("state: load %q: %w", key, err)
	}

	b, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("state: load %q: marshal default: %w", key, err)
	}
	if err := writeAtomic(path, b); err != nil {
		return fmt.Errorf("state: load %q: %w", key, err)
	}
	s.register(key, b)
	return nil
}

// decodesAs reports whether raw is usable as a value of def's type. A file
// holding valid JSON of the wrong shape (say, an array where a map is
// expected) is as unusable as a torn write and must fall back the same way.
func decodesAs(raw []byte, def any) bool {
	if def == nil {
		return json.Valid(raw)
	}
	probe := reflect.New(reflect.TypeOf(def)).Interface()
	return json.Unmarshal(raw, probe) == nil
}

func (s *Store) register(key string, raw json.RawMessage) {
	s.mu.Lock()
	s.recs[key] = &record{val: raw}
	s.mu.Unlock()
}

func (s *Store) lookup(key string) *record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs[key]
}

// Forget drops key from the store and removes its file.
func (s *Store) Forget(key string) error {
	s.mu.Lock()
	r := s.recs[key]
	delete(s.recs, key)
	s.mu.Unlock()
	if r == nil {
		return ErrNotFound
	}
	// Hold the record lock so an in-flight Mutate finishes first.
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("state: forget %q: %w", key, err)
	}
	return nil
}

// Keys returns registered keys with the given prefix, sorted.
func (s *Store) Keys(prefix string) []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.recs))
	for k := range s.recs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// GetRaw returns the committed value for key.
func (s *Store) GetRaw(key string) (json.RawMessage, error) {
	r := s.lookup(key)
	if r == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(json.RawMessage(nil), r.val...), nil
}

// Version reports how many mutations have committed for key since startup.
func (s *Store) Version(key string) uint64 {
	r := s.lookup(key)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// MutateRaw applies fn to the current value under the key's lock and
// persists the result before returning. If the durable write fails the
// in-memory value is left at the previous committed state and the error is
// surfaced; the caller must not treat the mutation as applied.
func (s *Store) MutateRaw(key string, fn func(cur json.RawMessage) (any, error)) (json.RawMessage, error) {
	r := s.lookup(key)
	if r == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := fn(append(json.RawMessage(nil), r.val...))
	if err != nil {
		return nil, err
	}
	nb, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("state: mutate %q: marshal: %w", key, err)
	}
	if err := writeAtomic(s.path(key), nb); err != nil {
		return nil, fmt.Errorf("state: persist %q: %w", key, err)
	}
	r.val = nb
	r.version++
	return nb, nil
}

// Get unmarshals the committed value for key.
func Get[T any](s *Store, key string) (T, error) {
	var out T
	raw, err := s.GetRaw(key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("state: get %q: %w", key, err)
	}
	return out, nil
}

// Mutate is the typed form of MutateRaw.
func Mutate[T any](s *Store, key string, fn func(cur T) (T, error)) (T, error) {
	var out T
	raw, err := s.MutateRaw(key, func(cur json.RawMessage) (any, error) {
		var v T
		if len(cur) > 0 {
			if err := json.Unmarshal(cur, &v); err != nil {
				return nil, fmt.Errorf("state: mutate %q: decode current: %w", key, err)
			}
		}
		return fn(v)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("state: mutate %q: %w", key, err)
	}
	return out, nil
}

// writeAtomic writes b to path so that a crash at any point leaves either
// the previous valid file or the new one, never a torn write. The temp file
// is fsynced before the rename so the rename never publishes empty content.
func writeAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
