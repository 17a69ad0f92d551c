package audit

import (
	"context"
	"errors"
	"sync"

	id "zodiac/pkg/domain"
)

// Sink persists or forwards audit events.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// MemorySink keeps events in process and can list them per participant for
// the admin API.
type MemorySink struct {
	mu     sync.RWMutex
	events map[id.ParticipantID][]Event
	limit  int
}

const defaultMemoryLimit = 256

// NewMemorySink keeps at most limit events per participant, dropping the
// oldest first.
func NewMemorySink(limit int) *MemorySink {
	if limit <= 0 {
		limit = defaultMemoryLimit
	}
	return &MemorySink{events: make(map[id.ParticipantID][]Event), limit: limit}
}

func (s *MemorySink) Write(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.events[e.ParticipantID], e)
	if len(list) > s.limit {
		list = list[len(list)-s.limit:]
	}
	s.events[e.ParticipantID] = list
	return nil
}

func (s *MemorySink) ListByParticipant(_ context.Context, pid id.ParticipantID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events[pid]))
	copy(out, s.events[pid])
	return out, nil
}

// FanOut writes to every sink and joins their errors.
type FanOut []Sink

func (f FanOut) Write(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
