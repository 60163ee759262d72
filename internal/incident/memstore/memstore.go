// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/medlog/internal/incident"
)

// Store holds incidents in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	records map[string]*incident.Incident // incident ID -> record
	byOwner map[string][]string           // owner ID -> incident IDs
	now     func() time.Time
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		records: make(map[string]*incident.Incident),
		byOwner: make(map[string][]string),
		now:     time.Now,
	}
}

// Insert stores a copy of a new incident and stamps its timestamps.
func (s *Store) Insert(_ context.Context, inc *incident.Incident) (*incident.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[inc.ID]; ok {
		return nil, fmt.Errorf("insert %s: %w", inc.ID, incident.ErrDuplicateID)
	}
	cp := inc.Clone()
	cp.CreatedAt = s.now().UTC().Truncate(time.Microsecond)
	cp.UpdatedAt = cp.CreatedAt
	s.records[cp.ID] = cp
	s.byOwner[cp.OwnerID] = append(s.byOwner[cp.OwnerID], cp.ID)
	return cp.Clone(), nil
}

// Get retrieves an incident by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

// Update applies p to an existing incident under the write lock.
func (s *Store) Update(_ context.Context, id string, p incident.Patch) (*incident.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", id, incident.ErrNotFound)
	}
	cp := prev.Clone()
	p.Apply(cp)
	cp.UpdatedAt = incident.NextUpdatedAt(s.now(), prev.UpdatedAt)
	s.records[id] = cp
	return cp.Clone(), nil
}

// ListByOwner returns copies of every incident owned by ownerID, newest first.
func (s *Store) ListByOwner(_ context.Context, ownerID string) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byOwner[ownerID]
	out := make([]*incident.Incident, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
