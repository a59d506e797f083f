package outbox

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"tokosync/backend/internal/domain"
	"tokosync/backend/internal/localstore"
)

func newTestQueue(t *testing.T, maxAttempts int) *Queue {
	t.Helper()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, maxAttempts)
}

func TestEnqueueRejectsUnknownKinds(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "gadget", "g1", domain.OpCreate, nil); err == nil {
		t.Fatal("expected error for unknown entity type")
	}
	if _, err := q.Enqueue(ctx, domain.EntityProduct, "p1", "upsert", nil); err == nil {
		t.Fatal("expected error for unknown operation kind")
	}
}

func TestAcknowledgeRemovesAndIsIdempotent(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx := context.Background()

	opID, err := q.Enqueue(ctx, domain.EntityProduct, "p1", domain.OpCreate, json.RawMessage(`{"id":"p1"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := q.Acknowledge(ctx, opID); err != nil {
		t.Fatalf("first ack: %v", err)
	}
	if err := q.Acknowledge(ctx, opID); err != nil {
		t.Fatalf("second ack: %v", err)
	}

	batch, err := q.DrainBatch(ctx, 10)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected empty queue, got %+v", batch)
	}
}

func TestRecordFailureDeadLettersAtCeiling(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx := context.Background()

	opID, err := q.Enqueue(ctx, domain.EntityProduct, "p1", domain.OpUpdate, json.RawMessage(`{"id":"p1"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := q.RecordFailure(ctx, opID); err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		batch, err := q.DrainBatch(ctx, 10)
		if err != nil {
			t.Fatalf("drain %d: %v", i, err)
		}
		if len(batch) != 1 {
			t.Fatalf("failure %d: operation should still drain, got %+v", i, batch)
		}
		if batch[0].AttemptCount != i+1 {
			t.Fatalf("failure %d: expected attempt count %d, got %d", i, i+1, batch[0].AttemptCount)
		}
	}

	// Third failure hits the ceiling.
	if err := q.RecordFailure(ctx, opID); err != nil {
		t.Fatalf("final failure: %v", err)
	}
	batch, err := q.DrainBatch(ctx, 10)
	if err != nil {
		t.Fatalf("drain after ceiling: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("dead letter still draining: %+v", batch)
	}

	dead, err := q.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != opID || dead[0].AttemptCount != 3 {
		t.Fatalf("unexpected dead letters %+v", dead)
	}
}

func TestDeadLetterBypassesCeiling(t *testing.T) {
	q := newTestQueue(t, 5)
	ctx := context.Background()

	opID, err := q.Enqueue(ctx, domain.EntityProduct, "p1", domain.OpCreate, json.RawMessage(`{"id":"p1"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.DeadLetter(ctx, opID); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	batch, err := q.DrainBatch(ctx, 10)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected empty drain, got %+v", batch)
	}
}
