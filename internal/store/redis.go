package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nupips/team-engine/internal/model"
)

// CachedStore wraps a primary NodeStore (PostgreSQL) with a Redis
// read-through cache. The forest is mutated by external services only, so
// there is no invalidation path here; the TTL bounds staleness.
type CachedStore struct {
	primary NodeStore
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary NodeStore, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) GetNode(ctx context.Context, id string) (*model.UserNode, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, nodeKey(id)).Bytes()
	if err == nil {
		var u model.UserNode
		if json.Unmarshal(data, &u) == nil {
			return &u, nil
		}
	}

	// Cache miss: read from primary.
	u, err := s.primary.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheNode(ctx, u)
	return u, nil
}

// GetChildren caches per parent so a hot subtree only hits the primary
// once per TTL, regardless of how batches are grouped across queries.
func (s *CachedStore) GetChildren(ctx context.Context, parentIDs []string) ([]model.UserNode, error) {
	var nodes []model.UserNode
	var misses []string

	for _, pid := range parentIDs {
		data, err := s.rdb.Get(ctx, childrenKey(pid)).Bytes()
		if err != nil {
			misses = append(misses, pid)
			continue
		}
		var cached []model.UserNode
		if json.Unmarshal(data, &cached) != nil {
			misses = append(misses, pid)
			continue
		}
		nodes = append(nodes, cached...)
	}

	if len(misses) > 0 {
		fetched, err := s.primary.GetChildren(ctx, misses)
		if err != nil {
			return nil, err
		}

		byParent := make(map[string][]model.UserNode, len(misses))
		for _, u := range fetched {
			byParent[u.ParentID] = append(byParent[u.ParentID], u)
		}
		for _, pid := range misses {
			s.cacheChildren(ctx, pid, byParent[pid])
		}
		nodes = append(nodes, fetched...)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheNode(ctx context.Context, u *model.UserNode) {
	if data, err := json.Marshal(u); err == nil {
		s.rdb.Set(ctx, nodeKey(u.ID), data, s.ttl)
	}
}

func (s *CachedStore) cacheChildren(ctx context.Context, parentID string, children []model.UserNode) {
	if children == nil {
		children = []model.UserNode{} // cache empty sets too
	}
	if data, err := json.Marshal(children); err == nil {
		s.rdb.Set(ctx, childrenKey(parentID), data, s.ttl)
	}
}

func nodeKey(id string) string     { return fmt.Sprintf("node:%s", id) }
func childrenKey(id string) string { return fmt.Sprintf("children:%s", id) }
