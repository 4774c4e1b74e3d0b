// Package memstore is an in-memory item.Store. It applies the same conflict
// and transition rules as the PostgreSQL store and backs the unit tests of
// the packages that depend on item.Store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/maraichr/docflow/internal/item"
)

type Store struct {
	mu    sync.Mutex
	items map[uuid.UUID]*item.Item

	// OnUpdate, when set, observes every committed update.
	OnUpdate func(it item.Item)
}

func New() *Store {
	return &Store{items: map[uuid.UUID]*item.Item{}}
}

func (s *Store) CreateItem(_ context.Context, it *item.Item) (*item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !it.MarkedForDeletion {
		for _, existing := range s.items {
			if !existing.MarkedForDeletion && existing.Kind == it.Kind && existing.SourceKey() == it.SourceKey() {
				return nil, fmt.Errorf("%w: %s", item.ErrConflict, it.SourceKey())
			}
		}
	}
	if _, ok := s.items[it.ID]; ok {
		return nil, fmt.Errorf("duplicate id %s", it.ID)
	}
	c := it.Clone()
	s.items[c.ID] = c
	return c.Clone(), nil
}

func (s *Store) GetItem(_ context.Context, kind item.Kind, id uuid.UUID) (*item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok || it.Kind != kind {
		return nil, fmt.Errorf("%w: %s %s", item.ErrNotFound, kind, id)
	}
	return it.Clone(), nil
}

func (s *Store) UpdateItem(_ context.Context, kind item.Kind, id uuid.UUID, p *item.Patch) (*item.Item, error) {
	s.mu.Lock()
	it, ok := s.items[id]
	if !ok || it.Kind != kind {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s %s", item.ErrNotFound, kind, id)
	}
	next := it.Clone()
	if err := p.Apply(next); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.items[id] = next
	out := next.Clone()
	hook := s.OnUpdate
	s.mu.Unlock()

	if hook != nil {
		hook(*out)
	}
	return out, nil
}

func (s *Store) ListItems(_ context.Context, f item.Filter) ([]item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []item.Item
	for _, it := range s.items {
		if matches(it, f) {
			out = append(out, *it.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) DeleteItem(_ context.Context, kind item.Kind, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok || it.Kind != kind {
		return fmt.Errorf("%w: %s %s", item.ErrNotFound, kind, id)
	}
	delete(s.items, id)
	return nil
}

func matches(it *item.Item, f item.Filter) bool {
	if f.Kind != "" && it.Kind != f.Kind {
		return false
	}
	if f.MarkedForDeletion != nil && it.MarkedForDeletion != *f.MarkedForDeletion {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if it.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.BucketName != "" && it.BucketName != f.BucketName {
		return false
	}
	if f.ObjectName != "" && it.ObjectName != f.ObjectName {
		return false
	}
	if f.URI != "" && it.URI != f.URI {
		return false
	}
	return true
}
