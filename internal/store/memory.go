package store

import (
	"context"
	"sync"

	"github.com/dkeye/Agora/internal/domain"
)

type memoryMessageStore struct {
	mu        sync.RWMutex
	messages  map[domain.MessageID]*domain.Message
	reactions map[domain.MessageID]domain.Reactions
}

func newMemoryMessageStore() *memoryMessageStore {
	return &memoryMessageStore{
		messages:  make(map[domain.MessageID]*domain.Message),
		reactions: make(map[domain.MessageID]domain.Reactions),
	}
}

// Save implements MessageStore.
func (s *memoryMessageStore) Save(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *msg
	s.messages[msg.ID] = &cp
	return nil
}

// Get implements MessageStore.
func (s *memoryMessageStore) Get(_ context.Context, id domain.MessageID) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

// Update implements MessageStore.
func (s *memoryMessageStore) Update(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; !ok {
		return ErrNotFound
	}
	cp := *msg
	s.messages[msg.ID] = &cp
	return nil
}

// Delete implements MessageStore.
func (s *memoryMessageStore) Delete(_ context.Context, id domain.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	delete(s.reactions, id)
	return nil
}

// ToggleReaction implements MessageStore.
func (s *memoryMessageStore) ToggleReaction(_ context.Context, id domain.MessageID, who domain.IdentityID, emoji string) ([]domain.ReactionCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return nil, ErrNotFound
	}
	r, ok := s.reactions[id]
	if !ok {
		r = make(domain.Reactions)
		s.reactions[id] = r
	}
	r.Toggle(emoji, who)
	return r.Counts(), nil
}

// Close implements MessageStore.
func (s *memoryMessageStore) Close() error { return nil }

type memoryModerationStore struct {
	mu       sync.RWMutex
	requests map[domain.RequestID]*domain.ModerationRequest
}

func newMemoryModerationStore() *memoryModerationStore {
	return &memoryModerationStore{requests: make(map[domain.RequestID]*domain.ModerationRequest)}
}

// Save implements ModerationStore.
func (s *memoryModerationStore) Save(_ context.Context, req *domain.ModerationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

// Get implements ModerationStore.
func (s *memoryModerationStore) Get(_ context.Context, id domain.RequestID) (*domain.ModerationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

// Close implements ModerationStore.
func (s *memoryModerationStore) Close() error { return nil }
