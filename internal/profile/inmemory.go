package profile

import (
	"context"
	"sync"
	"time"

	"github.com/ent0n29/voicecart/internal/extract"
)

// InMemoryStore keeps profiles in process for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[string]Profile)}
}

func (s *InMemoryStore) Get(_ context.Context, userID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (s *InMemoryStore) Update(_ context.Context, userID string, partial map[extract.Field]string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[userID]
	p.UserID = userID
	p.Apply(partial)
	p.UpdatedAt = time.Now().UTC()
	s.profiles[userID] = p
	return p, nil
}

func (s *InMemoryStore) Close() error { return nil }
