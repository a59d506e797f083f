// Package outbox is the pending-operation queue on top of the local
// durable store. Rows survive process restarts and leave the queue only
// through acknowledgement or dead-lettering.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"tokosync/backend/internal/domain"
	"tokosync/backend/internal/localstore"
)

type Queue struct {
	store       *localstore.Store
	maxAttempts int
}

func New(store *localstore.Store, maxAttempts int) *Queue {
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	return &Queue{store: store, maxAttempts: maxAttempts}
}

// Enqueue appends one operation. The store assigns a monotonic sequence
// so drain order matches enqueue order per entity.
func (q *Queue) Enqueue(ctx context.Context, entityType, entityID, opKind string, payload json.RawMessage) (string, error) {
	if !domain.IsKnownEntityType(entityType) {
		return "", fmt.Errorf("unknown entity type %q", entityType)
	}
	if !domain.IsKnownOperationKind(opKind) {
		return "", fmt.Errorf("unknown operation kind %q", opKind)
	}
	return q.store.EnqueuePending(ctx, entityType, entityID, opKind, payload)
}

// DrainBatch reads up to max live operations oldest-first. Reading does
// not remove them; a crashed cycle re-drains the same rows.
func (q *Queue) DrainBatch(ctx context.Context, max int) ([]domain.PendingOperation, error) {
	return q.store.ListPending(ctx, max)
}

// Acknowledge removes a delivered operation. Safe to call twice.
func (q *Queue) Acknowledge(ctx context.Context, opID string) error {
	return q.store.DeletePending(ctx, opID)
}

// RecordFailure bumps the attempt counter and dead-letters the row once
// it reaches the retry ceiling.
func (q *Queue) RecordFailure(ctx context.Context, opID string) error {
	attempts, err := q.store.BumpAttempt(ctx, opID)
	if err != nil {
		return err
	}
	if attempts >= q.maxAttempts {
		log.Printf("[outbox] WARN: operation %s dead-lettered after %d attempts", opID, attempts)
		return q.store.MarkDead(ctx, opID)
	}
	return nil
}

// DeadLetter parks a row immediately, bypassing the retry ceiling. Used
// for rejects that can never succeed as submitted.
func (q *Queue) DeadLetter(ctx context.Context, opID string) error {
	return q.store.MarkDead(ctx, opID)
}

func (q *Queue) DeadLetters(ctx context.Context) ([]domain.PendingOperation, error) {
	return q.store.ListDeadLetters(ctx)
}
