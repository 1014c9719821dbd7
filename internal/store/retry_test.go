package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nupips/team-engine/internal/model"
	"github.com/nupips/team-engine/internal/store"
)

// flakyStore fails a fixed number of calls before delegating to the inner
// store.
type flakyStore struct {
	inner    store.NodeStore
	failures int
	err      error
	calls    int
}

func (f *flakyStore) GetNode(ctx context.Context, id string) (*model.UserNode, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.inner.GetNode(ctx, id)
}

func (f *flakyStore) GetChildren(ctx context.Context, parentIDs []string) ([]model.UserNode, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.inner.GetChildren(ctx, parentIDs)
}

func TestRetryStore_RecoversFromTransientFailure(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Put(model.UserNode{ID: "u1", Username: "one"})

	flaky := &flakyStore{inner: ms, failures: 2, err: errors.New("connection reset")}
	rs := store.NewRetryStore(flaky, 3, time.Millisecond)

	u, err := rs.GetNode(context.Background(), "u1")
	if err != nil {
		t.Fatalf("expected recovery on third attempt, got %v", err)
	}
	if u.Username != "one" {
		t.Errorf("unexpected node: %+v", u)
	}
	if flaky.calls != 3 {
		t.Errorf("expected 3 calls, got %d", flaky.calls)
	}
}

func TestRetryStore_ExhaustionIsUnavailable(t *testing.T) {
	flaky := &flakyStore{failures: 100, err: errors.New("connection reset")}
	rs := store.NewRetryStore(flaky, 3, time.Millisecond)

	_, err := rs.GetChildren(context.Background(), []string{"u1"})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if flaky.calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", flaky.calls)
	}
}

func TestRetryStore_NotFoundIsNotRetried(t *testing.T) {
	ms := store.NewMemoryStore()
	flaky := &flakyStore{inner: ms, failures: 0}
	rs := store.NewRetryStore(flaky, 3, time.Millisecond)

	_, err := rs.GetNode(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if flaky.calls != 1 {
		t.Errorf("missing nodes must not be retried, got %d calls", flaky.calls)
	}
}

func TestRetryStore_CancelledContextStopsRetries(t *testing.T) {
	flaky := &flakyStore{failures: 100, err: errors.New("connection reset")}
	rs := store.NewRetryStore(flaky, 5, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rs.GetNode(ctx, "u1")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, store.ErrUnavailable) {
		t.Errorf("cancellation must not be reported as store exhaustion: %v", err)
	}
	if flaky.calls != 1 {
		t.Errorf("expected 1 call under cancelled context, got %d", flaky.calls)
	}
}

func TestMemoryStore_ChildrenSortedAcrossParents(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Put(model.UserNode{ID: "p1"})
	ms.Put(model.UserNode{ID: "p2"})
	ms.Put(model.UserNode{ID: "c", ParentID: "p2"})
	ms.Put(model.UserNode{ID: "a", ParentID: "p1"})
	ms.Put(model.UserNode{ID: "b", ParentID: "p2"})

	nodes, err := ms.GetChildren(context.Background(), []string{"p1", "p2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := make([]string, len(nodes))
	for i, n := range nodes {
		got[i] = n.ID
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestMemoryStore_PutReparents(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Put(model.UserNode{ID: "p1"})
	ms.Put(model.UserNode{ID: "p2"})
	ms.Put(model.UserNode{ID: "c", ParentID: "p1"})
	ms.Put(model.UserNode{ID: "c", ParentID: "p2"})

	old, _ := ms.GetChildren(context.Background(), []string{"p1"})
	if len(old) != 0 {
		t.Errorf("expected p1 to have no children after reparent, got %d", len(old))
	}
	now, _ := ms.GetChildren(context.Background(), []string{"p2"})
	if len(now) != 1 || now[0].ID != "c" {
		t.Errorf("expected p2 to own c, got %+v", now)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Put(model.UserNode{ID: "u1", Name: "Original"})

	u, _ := ms.GetNode(context.Background(), "u1")
	u.Name = "Mutated"

	again, _ := ms.GetNode(context.Background(), "u1")
	if again.Name != "Original" {
		t.Error("store handed out a reference to its internal node")
	}
}
