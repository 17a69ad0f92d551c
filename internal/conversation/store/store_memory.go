package store

import (
	"context"
	"sync"

	"zodiac/internal/conversation/models"
	id "zodiac/pkg/domain"
	"zodiac/pkg/platform/sentinel"
)

// InMemory holds sessions in process memory.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[id.ParticipantID]models.Session
}

func NewInMemory() *InMemory {
	return &InMemory{sessions: make(map[id.ParticipantID]models.Session)}
}

func (s *InMemory) Get(_ context.Context, pid id.ParticipantID) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[pid]
	if !ok {
		return models.Session{}, sentinel.ErrNotFound
	}
	return sess, nil
}

func (s *InMemory) Save(_ context.Context, sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ParticipantID] = sess
	return nil
}
