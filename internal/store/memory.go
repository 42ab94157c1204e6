package store

import (
	"context"
	"sort"
	"sync"

	"marketplace-responder/backend/internal/models"
)

// MemoryStore keeps senders, listings and templates in process memory
type MemoryStore struct {
	mu        sync.RWMutex
	senders   map[string]*models.SenderContext
	listings  map[string]*models.ListingContext
	templates map[string]models.Template
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		senders:   make(map[string]*models.SenderContext),
		listings:  make(map[string]*models.ListingContext),
		templates: make(map[string]models.Template),
	}
}

// GetSender returns a copy of the stored sender context
func (s *MemoryStore) GetSender(_ context.Context, senderID string) (*models.SenderContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sender, ok := s.senders[senderID]
	if !ok {
		return nil, ErrNotFound
	}
	return sender.Clone(), nil
}

// SaveSender stores a copy of sender
func (s *MemoryStore) SaveSender(_ context.Context, sender *models.SenderContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senders[sender.SenderID] = sender.Clone()
	return nil
}

// Senders returns the number of known senders
func (s *MemoryStore) Senders() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.senders)
}

// GetListing returns a copy of the stored listing
func (s *MemoryStore) GetListing(_ context.Context, listingID string) (*models.ListingContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listing, ok := s.listings[listingID]
	if !ok {
		return nil, ErrNotFound
	}
	l := *listing
	return &l, nil
}

// SaveListing stores a copy of listing
func (s *MemoryStore) SaveListing(_ context.Context, listing *models.ListingContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := *listing
	s.listings[l.ID] = &l
	return nil
}

// ListTemplates returns every template ordered by category and name
func (s *MemoryStore) ListTemplates(_ context.Context) ([]models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Template, 0, len(s.templates))
	for _, t := range s.templates {
		t.Variables = append([]string(nil), t.Variables...)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// SaveTemplate inserts or replaces t
func (s *MemoryStore) SaveTemplate(_ context.Context, t *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *t
	c.Variables = append([]string(nil), t.Variables...)
	s.templates[c.Name] = c
	return nil
}

// DeleteTemplate removes the named template
func (s *MemoryStore) DeleteTemplate(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[name]; !ok {
		return ErrNotFound
	}
	delete(s.templates, name)
	return nil
}
