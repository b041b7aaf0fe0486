package group

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store. It backs tests and the "memory"
// store mode; documents do not survive a restart.
//
// Update holds the store lock for the whole read-modify-write sequence,
// so updates to one document are linearizable by construction.
type MemoryStore struct {
	mu     sync.RWMutex
	groups map[string]*Group
	order  []string
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		groups: make(map[string]*Group),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a new document with version 1 and empty history.
func (s *MemoryStore) Create(_ context.Context, g *Group) (*Group, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		if s.groups[id].GroupID == g.GroupID && g.GroupID != "" {
			return nil, ErrDuplicateGroupID
		}
	}

	stored := g.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.Version = 1
	stored.History = []HistoryEntry{}
	stored.UpdatedAt = s.now()

	s.groups[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	return stored.Clone(), nil
}

// Get returns the current document or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

// List returns all documents in creation order.
func (s *MemoryStore) List(_ context.Context) ([]*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Group, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.groups[id].Clone())
	}
	return out, nil
}

// Update applies a patch, snapshots the prior state into history, and
// bumps the version by one.
func (s *MemoryStore) Update(_ context.Context, id string, p Patch, changeReason string) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.groups[id]
	if !ok {
		return 0, ErrNotFound
	}

	next := NextVersion(current, p, changeReason, s.now())
	if next.GroupID != "" && next.GroupID != current.GroupID {
		for _, existing := range s.order {
			if existing != id && s.groups[existing].GroupID == next.GroupID {
				return 0, ErrDuplicateGroupID
			}
		}
	}
	s.groups[id] = next
	return next.Version, nil
}

// Delete removes the document and its history.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return ErrNotFound
	}
	delete(s.groups, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
