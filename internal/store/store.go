package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"beast_bridge/internal/models"
)

// ErrMissingIdentity is returned when a partial record has no aircraft address
var ErrMissingIdentity = errors.New("store: partial record has no identity")

// Store keeps the merged record of every aircraft heard on one source
type Store struct {
	mu       sync.RWMutex
	aircraft map[string]models.Aircraft
	now      func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock sets the time source stamped on merged records
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		aircraft: make(map[string]models.Aircraft),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Merge overlays p onto the record for its identity, creating the record on
// first sight, and returns the merged result. LastSeen is refreshed even when
// no field changed.
func (s *Store) Merge(p models.PartialRecord) (models.Aircraft, error) {
	if p.Hex == "" {
		return models.Aircraft{}, ErrMissingIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.aircraft[p.Hex]
	if !ok {
		rec = models.Aircraft{Hex: p.Hex}
	}
	rec.AircraftFields.Overlay(p.AircraftFields)
	rec.LastSeen = s.now()
	s.aircraft[p.Hex] = rec
	return rec, nil
}

// Get returns the record for one aircraft
func (s *Store) Get(hex string) (models.Aircraft, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.aircraft[hex]
	return rec, ok
}

// Snapshot returns a copy of every record ordered by identity
func (s *Store) Snapshot() []models.Aircraft {
	s.mu.RLock()
	out := make([]models.Aircraft, 0, len(s.aircraft))
	for _, rec := range s.aircraft {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Hex < out[j].Hex })
	return out
}

// Evict removes every record whose age at now exceeds maxAge and returns how
// many were removed
func (s *Store) Evict(maxAge time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.aircraft))
	for hex := range s.aircraft {
		keys = append(keys, hex)
	}

	removed := 0
	for _, hex := range keys {
		if now.Sub(s.aircraft[hex].LastSeen) > maxAge {
			delete(s.aircraft, hex)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked aircraft
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.aircraft)
}

// Clear removes every record
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aircraft = make(map[string]models.Aircraft)
}
