package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"tokosync/backend/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveEntityAndEnqueueIsAtomicPair(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	payload := json.RawMessage(`{"id":"p1","name":"Kopi","price_cents":1800,"active":true}`)

	opID, err := s.SaveEntityAndEnqueue(ctx, domain.EntityProduct, "p1", domain.OpCreate, payload)
	if err != nil {
		t.Fatalf("save and enqueue: %v", err)
	}

	cached, err := s.GetEntity(ctx, domain.EntityProduct, "p1")
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if string(cached) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", cached)
	}

	pending, err := s.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != opID {
		t.Fatalf("unexpected pending %+v", pending)
	}
	if pending[0].EntityID != "p1" || pending[0].OperationKind != domain.OpCreate {
		t.Fatalf("unexpected pending row %+v", pending[0])
	}
}

func TestListPendingIsOldestFirstAndNonDestructive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, entityID := range []string{"a", "b", "c"} {
		opID, err := s.EnqueuePending(ctx, domain.EntityProduct, entityID, domain.OpUpdate, json.RawMessage(`{}`))
		if err != nil {
			t.Fatalf("enqueue %s: %v", entityID, err)
		}
		ids = append(ids, opID)
	}

	for round := 0; round < 2; round++ {
		pending, err := s.ListPending(ctx, 10)
		if err != nil {
			t.Fatalf("list round %d: %v", round, err)
		}
		if len(pending) != 3 {
			t.Fatalf("round %d: expected 3 rows, got %d", round, len(pending))
		}
		for i, op := range pending {
			if op.ID != ids[i] {
				t.Fatalf("round %d: expected order %v, got %+v", round, ids, pending)
			}
		}
		if pending[0].EnqueuedAt >= pending[1].EnqueuedAt || pending[1].EnqueuedAt >= pending[2].EnqueuedAt {
			t.Fatalf("sequence not monotonic: %+v", pending)
		}
	}
}

func TestDeletePendingIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	opID, err := s.EnqueuePending(ctx, domain.EntityProduct, "p1", domain.OpDelete, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.DeletePending(ctx, opID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.DeletePending(ctx, opID); err != nil {
		t.Fatalf("second delete: %v", err)
	}

	pending, err := s.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %+v", pending)
	}
}

func TestMarkDeadExcludesFromDraining(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	opID, err := s.EnqueuePending(ctx, domain.EntityProduct, "p1", domain.OpCreate, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.MarkDead(ctx, opID); err != nil {
		t.Fatalf("mark dead: %v", err)
	}

	pending, err := s.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("dead row still drained: %+v", pending)
	}

	dead, err := s.ListDeadLetters(ctx)
	if err != nil {
		t.Fatalf("list dead: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != opID || !dead[0].Dead {
		t.Fatalf("unexpected dead letters %+v", dead)
	}
}

func TestGetEntityMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetEntity(context.Background(), domain.EntityProduct, "nope")
	if !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestSyncRunHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AppendSyncRun(ctx, domain.SyncRun{ItemsSynced: 3, Message: "ok"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	runs, err := s.ListSyncRuns(ctx, 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 1 || runs[0].ItemsSynced != 3 || runs[0].Message != "ok" {
		t.Fatalf("unexpected runs %+v", runs)
	}
}
