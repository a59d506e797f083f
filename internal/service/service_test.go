package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tokosync/backend/internal/cache"
	"tokosync/backend/internal/domain"
	"tokosync/backend/internal/store"
	"tokosync/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	return New(repo, cache.NoopEntityCache{}, 30*time.Second), repo
}

func productItem(t *testing.T, id string, name string, priceCents int64) domain.SyncItem {
	t.Helper()
	payload, err := json.Marshal(domain.Product{ID: id, Name: name, PriceCents: priceCents, Active: true})
	if err != nil {
		t.Fatalf("marshal product: %v", err)
	}
	return domain.SyncItem{
		ID:            "prod-" + id,
		OperationKind: domain.OpCreate,
		EntityType:    domain.EntityProduct,
		Payload:       payload,
	}
}

func TestApplyBatchIdempotentUpsert(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	req := domain.SyncBatchRequest{
		TerminalID: "terminal-a1",
		EnvelopeID: "env-1",
		Items:      []domain.SyncItem{productItem(t, "p1", "Kopi Susu", 1800)},
	}

	for i := 0; i < 2; i++ {
		resp, err := svc.ApplyBatch(ctx, req)
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		if len(resp.Results) != 1 || resp.Results[0].Status != domain.ItemStatusFulfilled {
			t.Fatalf("apply %d: unexpected results %+v", i, resp.Results)
		}
	}

	p, err := repo.GetProduct(ctx, "p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.Name != "Kopi Susu" || p.PriceCents != 1800 {
		t.Fatalf("unexpected product %+v", p)
	}
}

func TestApplyBatchDeleteMissingIsFulfilled(t *testing.T) {
	svc, _ := newTestService(t)
	req := domain.SyncBatchRequest{
		EnvelopeID: "env-del",
		Items: []domain.SyncItem{{
			ID:            "prod-ghost",
			OperationKind: domain.OpDelete,
			EntityType:    domain.EntityProduct,
		}},
	}

	for i := 0; i < 2; i++ {
		resp, err := svc.ApplyBatch(context.Background(), req)
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		if resp.Results[0].Status != domain.ItemStatusFulfilled {
			t.Fatalf("apply %d: expected fulfilled, got %+v", i, resp.Results[0])
		}
		if resp.Results[0].EntityID != "ghost" {
			t.Fatalf("expected entity id ghost, got %s", resp.Results[0].EntityID)
		}
	}
}

func TestApplyBatchSettlesAllItems(t *testing.T) {
	svc, repo := newTestService(t)
	items := []domain.SyncItem{
		productItem(t, "p1", "Kopi", 1800),
		productItem(t, "p2", "", 2500), // missing name
		productItem(t, "p3", "Roti", 2500),
	}

	resp, err := svc.ApplyBatch(context.Background(), domain.SyncBatchRequest{EnvelopeID: "env-mix", Items: items})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}
	if resp.Results[0].Status != domain.ItemStatusFulfilled {
		t.Fatalf("item 0: %+v", resp.Results[0])
	}
	if resp.Results[1].Status != domain.ItemStatusRejected || resp.Results[1].Error != domain.ReasonValidationError {
		t.Fatalf("item 1: %+v", resp.Results[1])
	}
	if resp.Results[2].Status != domain.ItemStatusFulfilled {
		t.Fatalf("item 2: %+v", resp.Results[2])
	}

	if _, err := repo.GetProduct(context.Background(), "p3"); err != nil {
		t.Fatalf("item after the rejected one was not applied: %v", err)
	}
}

func TestApplyBatchRejectsDanglingReference(t *testing.T) {
	svc, _ := newTestService(t)
	payload, _ := json.Marshal(domain.StockItem{ID: "s1", ProductID: "nope", StoreID: "main-store", Qty: 3})
	resp, err := svc.ApplyBatch(context.Background(), domain.SyncBatchRequest{
		EnvelopeID: "env-ref",
		Items: []domain.SyncItem{{
			ID:            "stock-s1",
			OperationKind: domain.OpCreate,
			EntityType:    domain.EntityStockItem,
			Payload:       payload,
		}},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if resp.Results[0].Status != domain.ItemStatusRejected || resp.Results[0].Error != domain.ReasonInvalidReference {
		t.Fatalf("expected invalid_reference, got %+v", resp.Results[0])
	}
}

func TestApplyBatchLastWriterWinsInOrder(t *testing.T) {
	svc, repo := newTestService(t)
	first := productItem(t, "p1", "Version A", 1000)
	second := productItem(t, "p1", "Version B", 2000)
	second.OperationKind = domain.OpUpdate

	resp, err := svc.ApplyBatch(context.Background(), domain.SyncBatchRequest{
		EnvelopeID: "env-ord",
		Items:      []domain.SyncItem{first, second},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	for i, r := range resp.Results {
		if r.Status != domain.ItemStatusFulfilled {
			t.Fatalf("item %d: %+v", i, r)
		}
	}

	p, err := repo.GetProduct(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.Name != "Version B" || p.PriceCents != 2000 {
		t.Fatalf("expected the later write to win, got %+v", p)
	}
}

func TestRegisterLifecycle(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	actor := domain.Actor{Username: "siti", Role: "cashier"}

	session, err := svc.OpenRegister(ctx, "main-store", actor, 20000)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.OpenRegister(ctx, "main-store", actor, 5000); !errors.Is(err, store.ErrDrawerAlreadyOpen) {
		t.Fatalf("expected ErrDrawerAlreadyOpen, got %v", err)
	}

	sale := domain.StockTransaction{
		ID: "tx-1", StoreID: "main-store", PaymentMethod: domain.PaymentCash,
		TotalCents: 4550, Status: domain.TxStatusCompleted, OccurredAt: session.OpenedAt.Add(time.Minute),
	}
	payout := domain.StockTransaction{
		ID: "tx-2", StoreID: "main-store", PaymentMethod: domain.PaymentCash,
		TotalCents: -1000, Status: domain.TxStatusCompleted, OccurredAt: session.OpenedAt.Add(2 * time.Minute),
	}
	if err := repo.UpsertStockTransaction(ctx, sale); err != nil {
		t.Fatalf("seed sale: %v", err)
	}
	if err := repo.UpsertStockTransaction(ctx, payout); err != nil {
		t.Fatalf("seed payout: %v", err)
	}

	status, err := svc.RegisterStatus(ctx, "main-store")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.ExpectedCents != 23550 {
		t.Fatalf("expected 23550, got %d", status.ExpectedCents)
	}

	closed, err := svc.CloseRegister(ctx, "main-store", 23000)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.ExpectedCents != 23550 || closed.DifferenceCents != -550 {
		t.Fatalf("unexpected close %+v", closed)
	}
	if closed.Status != domain.SessionStatusClosed || closed.ClosedAt == nil {
		t.Fatalf("session not closed: %+v", closed)
	}

	if _, err := svc.RegisterStatus(ctx, "main-store"); !errors.Is(err, store.ErrNoOpenDrawer) {
		t.Fatalf("expected ErrNoOpenDrawer after close, got %v", err)
	}
	if _, err := svc.CloseRegister(ctx, "main-store", 0); !errors.Is(err, store.ErrNoOpenDrawer) {
		t.Fatalf("expected ErrNoOpenDrawer on double close, got %v", err)
	}
}

func TestApplyBatchRecordsSyncRun(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ApplyBatch(context.Background(), domain.SyncBatchRequest{
		TerminalID: "terminal-a1",
		EnvelopeID: "env-run",
		Items:      []domain.SyncItem{productItem(t, "p1", "Kopi", 1800)},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	runs, err := svc.ListSyncRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ItemsSynced != 1 || runs[0].TerminalID != "terminal-a1" {
		t.Fatalf("unexpected runs %+v", runs)
	}
}
