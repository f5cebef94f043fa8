// Package store holds the expedient repository adapters. Every adapter hands
// out copies: callers mutate what they receive and Save it back.
package store

import (
	"context"
	"sync"

	"expedients/internal/expedient/models"
	"expedients/pkg/platform/sentinel"
)

// InMemory keeps expedients in a map and remembers insertion order for FindAll.
type InMemory struct {
	mu    sync.RWMutex
	items map[string]*models.Expedient
	order []string
}

func NewInMemory() *InMemory {
	return &InMemory{items: make(map[string]*models.Expedient)}
}

// Save inserts or replaces the expedient. Replacing keeps its original
// position in FindAll.
func (s *InMemory) Save(_ context.Context, e *models.Expedient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	s.items[e.ID] = e.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id string) (*models.Expedient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *InMemory) FindAll(_ context.Context) ([]*models.Expedient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Expedient, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].Clone())
	}
	return out, nil
}

func (s *InMemory) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.items, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
