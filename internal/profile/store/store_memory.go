package store

import (
	"context"
	"slices"
	"sync"

	"zodiac/internal/profile/models"
	id "zodiac/pkg/domain"
	"zodiac/pkg/platform/sentinel"
	"zodiac/pkg/requestcontext"
)

// InMemory keeps profiles in a map. Used when no database is configured and
// in tests.
type InMemory struct {
	mu       sync.RWMutex
	profiles map[id.ParticipantID]models.Profile
}

func NewInMemory() *InMemory {
	return &InMemory{profiles: make(map[id.ParticipantID]models.Profile)}
}

// Create stores p. A second Create for the same participant returns
// sentinel.ErrAlreadyUsed and leaves the stored record unchanged.
func (s *InMemory) Create(ctx context.Context, p models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ParticipantID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	now := requestcontext.Now(ctx)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	s.profiles[p.ParticipantID] = cloneProfile(p)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, pid id.ParticipantID) (models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[pid]
	if !ok {
		return models.Profile{}, sentinel.ErrNotFound
	}
	return cloneProfile(p), nil
}

func (s *InMemory) UpdateField(ctx context.Context, pid id.ParticipantID, u models.FieldUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[pid]
	if !ok {
		return sentinel.ErrNotFound
	}
	u.Apply(&p)
	p.UpdatedAt = requestcontext.Now(ctx)
	s.profiles[pid] = cloneProfile(p)
	return nil
}

// ListIDs returns all participant ids in ascending order.
func (s *InMemory) ListIDs(_ context.Context) ([]id.ParticipantID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]id.ParticipantID, 0, len(s.profiles))
	for pid := range s.profiles {
		ids = append(ids, pid)
	}
	slices.Sort(ids)
	return ids, nil
}

func cloneProfile(p models.Profile) models.Profile {
	if p.BirthTime != nil {
		bt := *p.BirthTime
		p.BirthTime = &bt
	}
	return p
}
