// Package memstore provides an in-memory implementation of
// lifecycle.Store. Suitable for dev/testing.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/Al3x2023/AlertaRaven4/internal/alert"
	"github.com/Al3x2023/AlertaRaven4/internal/lifecycle"
)

// Store holds alerts in memory, newest first for listing.
type Store struct {
	mu     sync.RWMutex
	alerts map[string]*alert.Alert // alert ID -> record
	order  []string                // IDs in creation order
	now    func() time.Time
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		alerts: make(map[string]*alert.Alert),
		now:    time.Now,
	}
}

// Create stores a copy of the alert. Repeating a Create with the same ID
// overwrites the record without duplicating it in listings.
func (s *Store) Create(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.alerts[a.ID]; !exists {
		s.order = append(s.order, a.ID)
	}
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

// Get retrieves an alert by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

// UpdateStatus overwrites the status unconditionally and bumps
// updated_at. Returns the updated record as a copy.
func (s *Store) UpdateStatus(_ context.Context, id string, status alert.Status) (*alert.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	a.Status = status
	a.UpdatedAt = s.now().UTC()
	cp := *a
	return &cp, true, nil
}

// List returns alerts newest first, filtered by exact status and
// accident-type match.
func (s *Store) List(_ context.Context, f lifecycle.Filter) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*alert.Alert, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		a := s.alerts[s.order[i]]
		if f.Status != "" && string(a.Status) != f.Status {
			continue
		}
		if f.AccidentType != "" && string(a.AccidentType) != f.AccidentType {
			continue
		}
		matched = append(matched, a)
	}

	if f.Offset >= len(matched) {
		return []*alert.Alert{}, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}

	out := make([]*alert.Alert, len(matched))
	for i, a := range matched {
		cp := *a
		out[i] = &cp
	}
	return out, nil
}

// Statistics aggregates counts over every stored alert.
func (s *Store) Statistics(_ context.Context) (*lifecycle.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &lifecycle.Statistics{
		ByStatus: make(map[string]int),
		ByType:   make(map[string]int),
	}
	cutoff := s.now().UTC().Add(-24 * time.Hour)

	for _, a := range s.alerts {
		stats.TotalAlerts++
		stats.ByStatus[string(a.Status)]++
		stats.ByType[string(a.AccidentType)]++
		if a.CreatedAt.After(cutoff) {
			stats.Last24h++
		}
		switch a.Status {
		case alert.StatusCompleted, alert.StatusCancelled, alert.StatusFailed:
		default:
			stats.ActiveAlerts++
		}
	}
	return stats, nil
}
