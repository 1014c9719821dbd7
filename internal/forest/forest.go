// Package forest materializes query-scoped views of the referral forest:
// the descendant tree below a node and the sponsor chain above it.
//
// The forest lives in an external store and is assumed acyclic, but that
// invariant is never trusted: every traversal carries its own visited set
// and fails loudly on a repeated ID instead of looping or silently
// dropping nodes.
package forest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/nupips/team-engine/internal/metrics"
	"github.com/nupips/team-engine/internal/model"
	"github.com/nupips/team-engine/internal/store"
)

// ErrCycleDetected is returned when a traversal encounters a node that is
// its own ancestor. The forest data is corrupted; the traversal is
// abandoned rather than truncated, because a partial tree would produce
// silently wrong financial aggregates.
var ErrCycleDetected = errors.New("forest: referral cycle detected")

// Traversal bounds. These guarantee termination and bounded response size
// even under adversarial or corrupted data.
const (
	DefaultMaxDepth = 10
	DefaultMaxHops  = 10

	// fetchChunkSize caps how many parent IDs go into one batch fetch.
	// Larger frontiers are split and fetched concurrently.
	fetchChunkSize = 64
)

// Builder performs bounded, cycle-guarded traversals against a NodeStore.
type Builder struct {
	store store.NodeStore
}

// NewBuilder creates a traversal builder over the given store.
func NewBuilder(st store.NodeStore) *Builder {
	return &Builder{store: st}
}

// BuildDescendantTree materializes the subtree below rootID, breadth-first,
// down to maxDepth levels (root is level 0). The returned truncated flag is
// set when nodes exist at the depth bound, meaning deeper levels were not
// explored.
func (b *Builder) BuildDescendantTree(ctx context.Context, rootID string, maxDepth int) (*model.TreeNode, bool, error) {
	root, err := b.store.GetNode(ctx, rootID)
	if err != nil {
		return nil, false, err
	}

	childrenOf := make(map[string][]model.UserNode)
	truncated, err := b.walk(ctx, root, maxDepth, func(u model.UserNode, _ int) {
		childrenOf[u.ParentID] = append(childrenOf[u.ParentID], u)
	})
	if err != nil {
		return nil, false, err
	}

	tree := assemble(*root, 0, childrenOf)
	return &tree, truncated, nil
}

// WalkDescendants visits every node strictly below rootID in BFS order,
// calling visit with the raw node and its level (>= 1). Used by the
// aggregator, which needs unredacted nodes but no materialized tree.
func (b *Builder) WalkDescendants(ctx context.Context, rootID string, maxDepth int, visit func(model.UserNode, int)) (bool, error) {
	root, err := b.store.GetNode(ctx, rootID)
	if err != nil {
		return false, err
	}
	return b.walk(ctx, root, maxDepth, visit)
}

// BuildAncestorChain follows parent pointers upward from rootID, one fetch
// per hop, stopping at a forest root, the maxHops bound, or a cycle. The
// chain is returned nearest-first (hop 1 is the immediate sponsor); the
// query root itself is not included. Nodes are raw: the sponsor opt-out
// policy is applied by the visibility layer before anything is rendered.
// The truncated flag is set when the hop bound cut the chain short of a
// forest root.
func (b *Builder) BuildAncestorChain(ctx context.Context, rootID string, maxHops int) ([]model.Ancestor, bool, error) {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}

	current, err := b.store.GetNode(ctx, rootID)
	if err != nil {
		return nil, false, err
	}

	visited := map[string]bool{rootID: true}
	var chain []model.Ancestor

	for hop := 1; hop <= maxHops; hop++ {
		if current.ParentID == "" {
			return chain, false, nil
		}
		if visited[current.ParentID] {
			return nil, false, b.cycleError(current.ParentID)
		}

		parent, err := b.store.GetNode(ctx, current.ParentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Dangling parent pointer: treat as forest root rather
				// than failing the whole chain.
				slog.Warn("dangling parent pointer", "node", current.ID, "parent", current.ParentID)
				return chain, false, nil
			}
			return nil, false, err
		}

		visited[parent.ID] = true
		chain = append(chain, model.Ancestor{Node: *parent, Hop: hop})
		current = parent
	}

	truncated := current.ParentID != ""
	if truncated {
		metrics.TruncatedTraversals.Inc()
	}
	return chain, truncated, nil
}

// walk runs the shared BFS, batch-fetching each level's children in one
// store call per chunk. visit is called once per node below the root.
func (b *Builder) walk(ctx context.Context, root *model.UserNode, maxDepth int, visit func(model.UserNode, int)) (bool, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	visited := map[string]bool{root.ID: true}
	frontier := []string{root.ID}
	visitedCount := 0
	deepest := 0
	truncated := false

	for level := 1; level <= maxDepth && len(frontier) > 0; level++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		children, err := b.fetchChildren(ctx, frontier)
		if err != nil {
			return false, err
		}

		frontier = frontier[:0]
		for _, child := range children {
			if visited[child.ID] {
				return false, b.cycleError(child.ID)
			}
			visited[child.ID] = true
			visit(child, level)
			visitedCount++
			deepest = level
			frontier = append(frontier, child.ID)
		}

		if level == maxDepth && len(frontier) > 0 {
			truncated = true
			metrics.TruncatedTraversals.Inc()
		}
	}

	metrics.TraversalNodes.Observe(float64(visitedCount))
	metrics.TraversalDepth.Observe(float64(deepest))
	return truncated, nil
}

// fetchChildren retrieves all children of the given parents. Frontiers
// larger than one chunk are fetched concurrently; children of different
// parents are independent reads. The merged result is re-sorted by node ID
// so concurrent fetch ordering never affects output ordering.
func (b *Builder) fetchChildren(ctx context.Context, parentIDs []string) ([]model.UserNode, error) {
	if len(parentIDs) <= fetchChunkSize {
		return b.store.GetChildren(ctx, parentIDs)
	}

	var chunks [][]string
	for start := 0; start < len(parentIDs); start += fetchChunkSize {
		end := start + fetchChunkSize
		if end > len(parentIDs) {
			end = len(parentIDs)
		}
		chunks = append(chunks, parentIDs[start:end])
	}

	g, ctx := errgroup.WithContext(ctx)
	results := make([][]model.UserNode, len(chunks))
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			nodes, err := b.store.GetChildren(ctx, chunk)
			results[i] = nodes
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []model.UserNode
	for _, r := range results {
		merged = append(merged, r...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged, nil
}

func (b *Builder) cycleError(id string) error {
	metrics.CycleAlarms.Inc()
	slog.Error("referral cycle detected, forest data is corrupted", "node", id)
	return fmt.Errorf("%w: node %s is its own ancestor", ErrCycleDetected, id)
}

// assemble recursively converts the flat child index into a TreeNode tree.
// Children arrive already sorted by ID from the fetch layer.
func assemble(u model.UserNode, level int, childrenOf map[string][]model.UserNode) model.TreeNode {
	n := model.NewTreeNode(u, level)
	for _, c := range childrenOf[u.ID] {
		n.Children = append(n.Children, assemble(c, level+1, childrenOf))
	}
	return n
}
