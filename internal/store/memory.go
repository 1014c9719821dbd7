package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/nupips/team-engine/internal/model"
)

// MemoryStore implements NodeStore with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	nodes    map[string]*model.UserNode
	children map[string][]string // parent ID → sorted child IDs
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    make(map[string]*model.UserNode),
		children: make(map[string][]string),
	}
}

// Put inserts or replaces a node. If the node has no ID one is assigned.
// Returns the node's ID. Intended for seeding test and dev forests.
func (s *MemoryStore) Put(u model.UserNode) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.New().String()
	}

	if prev, ok := s.nodes[u.ID]; ok && prev.ParentID != u.ParentID {
		s.unlink(prev.ParentID, u.ID)
	}
	if _, ok := s.nodes[u.ID]; !ok || s.nodes[u.ID].ParentID != u.ParentID {
		s.children[u.ParentID] = append(s.children[u.ParentID], u.ID)
		sort.Strings(s.children[u.ParentID])
	}

	copy := u
	s.nodes[u.ID] = &copy
	return u.ID
}

func (s *MemoryStore) unlink(parentID, childID string) {
	ids := s.children[parentID]
	for i, id := range ids {
		if id == childID {
			s.children[parentID] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

func (s *MemoryStore) GetNode(_ context.Context, id string) (*model.UserNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *n
	return &copy, nil
}

func (s *MemoryStore) GetChildren(_ context.Context, parentIDs []string) ([]model.UserNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.UserNode
	for _, pid := range parentIDs {
		for _, cid := range s.children[pid] {
			if n, ok := s.nodes[cid]; ok {
				result = append(result, *n)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
