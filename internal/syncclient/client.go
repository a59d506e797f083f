// Package syncclient drains the terminal outbox to the sync endpoint.
// Delivery is at-least-once: a batch whose response is lost is simply
// resubmitted, and the endpoint's idempotent apply makes the retry safe.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"tokosync/backend/internal/config"
	"tokosync/backend/internal/domain"
	"tokosync/backend/internal/localstore"
	"tokosync/backend/internal/outbox"
	"tokosync/backend/internal/xid"
)

var ErrSyncInProgress = errors.New("sync already in progress")

const (
	StatusOffline = "offline"
	StatusBackoff = "waiting to retry"
)

type Client struct {
	queue      *outbox.Queue
	store      *localstore.Store
	baseURL    string
	terminalID string
	token      string
	httpClient *http.Client
	batchSize  int
	interval   time.Duration
	backoffMin time.Duration
	backoffMax time.Duration
	reachable  func(ctx context.Context) bool
	now        func() time.Time

	inProgress atomic.Bool
	notifyCh   chan struct{}

	mu          sync.Mutex
	retryDelay  time.Duration
	nextAttempt time.Time
	lastRun     domain.LastRunSummary
}

func New(queue *outbox.Queue, store *localstore.Store, cfg config.AgentConfig) *Client {
	c := &Client{
		queue:      queue,
		store:      store,
		baseURL:    cfg.ServerURL,
		terminalID: cfg.TerminalID,
		token:      cfg.AuthToken,
		httpClient: &http.Client{Timeout: time.Duration(cfg.RequestTimeoutMS) * time.Millisecond},
		batchSize:  cfg.SyncBatchSize,
		interval:   cfg.SyncInterval,
		backoffMin: cfg.BackoffMin,
		backoffMax: cfg.BackoffMax,
		notifyCh:   make(chan struct{}, 1),
		now:        time.Now,
	}
	c.reachable = c.probeHealth
	return c
}

// LastRun returns the outcome of the most recent cycle for UI display.
func (c *Client) LastRun() domain.LastRunSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun
}

// Notify wakes the run loop after a local mutation. Non-blocking; a
// pending wakeup absorbs further notifies.
func (c *Client) Notify() {
	select {
	case c.notifyCh <- struct{}{}:
	default:
	}
}

// SyncNow forces a cycle, ignoring any pending backoff window.
func (c *Client) SyncNow(ctx context.Context) (domain.LastRunSummary, error) {
	c.mu.Lock()
	c.nextAttempt = time.Time{}
	c.mu.Unlock()
	return c.SyncOnce(ctx)
}

// Run drains on a fixed interval and on Notify wakeups until ctx ends.
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.notifyCh:
		}

		summary, err := c.SyncOnce(ctx)
		if err != nil {
			if !errors.Is(err, ErrSyncInProgress) {
				log.Printf("[syncclient] WARN: cycle failed: %v", err)
			}
			continue
		}
		if !summary.Success {
			log.Printf("[syncclient] WARN: %s (synced %d, failed %d)", summary.Message, summary.ItemsSynced, summary.ItemsFailed)
		}
	}
}

// SyncOnce performs a single drain cycle. Overlapping cycles are
// suppressed; the caller that lost the race gets ErrSyncInProgress.
func (c *Client) SyncOnce(ctx context.Context) (domain.LastRunSummary, error) {
	if !c.inProgress.CompareAndSwap(false, true) {
		return c.LastRun(), ErrSyncInProgress
	}
	defer c.inProgress.Store(false)

	started := c.now()

	c.mu.Lock()
	waiting := !c.nextAttempt.IsZero() && started.Before(c.nextAttempt)
	c.mu.Unlock()
	if waiting {
		return c.setLastRun(domain.LastRunSummary{Message: StatusBackoff}), nil
	}

	if !c.reachable(ctx) {
		return c.setLastRun(domain.LastRunSummary{Message: StatusOffline}), nil
	}

	batch, err := c.queue.DrainBatch(ctx, c.batchSize)
	if err != nil {
		return c.setLastRun(domain.LastRunSummary{Message: "outbox unavailable"}), err
	}
	if len(batch) == 0 {
		c.resetBackoff()
		return c.setLastRun(domain.LastRunSummary{Success: true, Message: "nothing to sync"}), nil
	}

	resp, err := c.submit(ctx, batch)
	if err != nil {
		delay := c.bumpBackoff()
		summary := domain.LastRunSummary{
			ItemsFailed: len(batch),
			Message:     fmt.Sprintf("transport failure, retrying in %s", delay),
		}
		c.appendRun(ctx, started, summary, err.Error())
		return c.setLastRun(summary), nil
	}
	c.resetBackoff()

	synced, failed := c.settle(ctx, batch, resp.Results)
	summary := domain.LastRunSummary{
		Success:     failed == 0,
		ItemsSynced: synced,
		ItemsFailed: failed,
		Message:     fmt.Sprintf("synced %d of %d operations", synced, len(batch)),
	}
	c.appendRun(ctx, started, summary, "")
	return c.setLastRun(summary), nil
}

func (c *Client) submit(ctx context.Context, batch []domain.PendingOperation) (domain.SyncBatchResponse, error) {
	items := make([]domain.SyncItem, 0, len(batch))
	for _, op := range batch {
		items = append(items, domain.SyncItem{
			ID:            fmt.Sprintf("%s-%s", domain.EntityIDPrefix(op.EntityType), op.EntityID),
			OperationKind: op.OperationKind,
			EntityType:    op.EntityType,
			Payload:       op.Payload,
			EnqueuedAt:    op.EnqueuedAt,
		})
	}
	req := domain.SyncBatchRequest{
		TerminalID: c.terminalID,
		EnvelopeID: xid.New("env"),
		Items:      items,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return domain.SyncBatchResponse{}, fmt.Errorf("encode batch: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/sync/operations", bytes.NewReader(body))
	if err != nil {
		return domain.SyncBatchResponse{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.SyncBatchResponse{}, fmt.Errorf("post batch: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return domain.SyncBatchResponse{}, fmt.Errorf("endpoint returned %d", httpResp.StatusCode)
	}

	var resp domain.SyncBatchResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return domain.SyncBatchResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Results) != len(batch) {
		return domain.SyncBatchResponse{}, fmt.Errorf("expected %d results, got %d", len(batch), len(resp.Results))
	}
	return resp, nil
}

// settle applies per-item results positionally. Fulfilled items are
// acknowledged and mirrored locally; rejects are classified. A reject
// whose entity has a newer fulfilled operation in the same batch is a
// stale retry and goes straight to the dead letters.
func (c *Client) settle(ctx context.Context, batch []domain.PendingOperation, results []domain.SyncItemResult) (synced, failed int) {
	newestFulfilled := make(map[string]int64)
	for i, result := range results {
		if result.Status != domain.ItemStatusFulfilled {
			continue
		}
		op := batch[i]
		key := op.EntityType + ":" + op.EntityID
		if op.EnqueuedAt > newestFulfilled[key] {
			newestFulfilled[key] = op.EnqueuedAt
		}
	}

	for i, result := range results {
		op := batch[i]
		if result.Status == domain.ItemStatusFulfilled {
			if err := c.queue.Acknowledge(ctx, op.ID); err != nil {
				log.Printf("[syncclient] WARN: acknowledge %s: %v", op.ID, err)
				failed++
				continue
			}
			c.mirror(ctx, op)
			synced++
			continue
		}

		failed++
		key := op.EntityType + ":" + op.EntityID
		switch {
		case result.Error == domain.ReasonValidationError:
			// Resubmitting the same payload can never succeed.
			if err := c.queue.DeadLetter(ctx, op.ID); err != nil {
				log.Printf("[syncclient] WARN: dead-letter %s: %v", op.ID, err)
			}
		case newestFulfilled[key] > op.EnqueuedAt:
			// A newer write for this entity already landed; retrying
			// this one would resurrect stale state.
			if err := c.queue.DeadLetter(ctx, op.ID); err != nil {
				log.Printf("[syncclient] WARN: dead-letter %s: %v", op.ID, err)
			}
		default:
			if err := c.queue.RecordFailure(ctx, op.ID); err != nil {
				log.Printf("[syncclient] WARN: record failure %s: %v", op.ID, err)
			}
		}
	}
	return synced, failed
}

func (c *Client) mirror(ctx context.Context, op domain.PendingOperation) {
	var err error
	if op.OperationKind == domain.OpDelete {
		err = c.store.DeleteEntity(ctx, op.EntityType, op.EntityID)
	} else if len(op.Payload) > 0 {
		err = c.store.PutEntity(ctx, op.EntityType, op.EntityID, op.Payload)
	}
	if err != nil {
		log.Printf("[syncclient] WARN: mirror %s %s: %v", op.EntityType, op.EntityID, err)
	}
}

func (c *Client) appendRun(ctx context.Context, started time.Time, summary domain.LastRunSummary, detail string) {
	run := domain.SyncRun{
		StartedAt:   started.UTC(),
		DurationMS:  c.now().Sub(started).Milliseconds(),
		ItemsSynced: summary.ItemsSynced,
		ItemsFailed: summary.ItemsFailed,
		Message:     summary.Message,
		Detail:      detail,
	}
	if err := c.store.AppendSyncRun(ctx, run); err != nil {
		log.Printf("[syncclient] WARN: append sync run: %v", err)
	}
}

func (c *Client) setLastRun(summary domain.LastRunSummary) domain.LastRunSummary {
	c.mu.Lock()
	c.lastRun = summary
	c.mu.Unlock()
	return summary
}

// bumpBackoff doubles the retry delay up to the cap and returns it.
func (c *Client) bumpBackoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retryDelay == 0 {
		c.retryDelay = c.backoffMin
	} else {
		c.retryDelay *= 2
	}
	if c.retryDelay > c.backoffMax {
		c.retryDelay = c.backoffMax
	}
	c.nextAttempt = c.now().Add(c.retryDelay)
	return c.retryDelay
}

func (c *Client) resetBackoff() {
	c.mu.Lock()
	c.retryDelay = 0
	c.nextAttempt = time.Time{}
	c.mu.Unlock()
}

func (c *Client) probeHealth(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
