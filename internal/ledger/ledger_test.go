package ledger

import (
	"testing"
	"time"

	"tokosync/backend/internal/domain"
)

func cashTx(id string, totalCents int64, occurredAt time.Time) domain.StockTransaction {
	return domain.StockTransaction{
		ID:            id,
		StoreID:       "main-store",
		PaymentMethod: domain.PaymentCash,
		TotalCents:    totalCents,
		Status:        domain.TxStatusCompleted,
		OccurredAt:    occurredAt,
	}
}

func TestComputeExpectedSalesAndPayouts(t *testing.T) {
	openedAt := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)
	txs := []domain.StockTransaction{
		cashTx("tx-1", 4550, openedAt.Add(time.Hour)),
		cashTx("tx-2", -1000, openedAt.Add(2*time.Hour)),
	}

	expected := ComputeExpected(20000, txs, openedAt)
	if expected != 23550 {
		t.Fatalf("expected 23550, got %d", expected)
	}
}

func TestComputeExpectedIgnoresNonCashAndPreOpen(t *testing.T) {
	openedAt := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)
	card := cashTx("tx-card", 9900, openedAt.Add(time.Hour))
	card.PaymentMethod = domain.PaymentCard
	voided := cashTx("tx-void", 5000, openedAt.Add(time.Hour))
	voided.Status = domain.TxStatusVoided
	txs := []domain.StockTransaction{
		card,
		voided,
		cashTx("tx-old", 3000, openedAt.Add(-time.Hour)),
		cashTx("tx-1", 1500, openedAt.Add(time.Hour)),
	}

	expected := ComputeExpected(10000, txs, openedAt)
	if expected != 11500 {
		t.Fatalf("expected 11500, got %d", expected)
	}
}

func TestDifference(t *testing.T) {
	if d := Difference(23550, 23550); d != 0 {
		t.Fatalf("expected zero difference, got %d", d)
	}
	if d := Difference(23000, 23550); d != -550 {
		t.Fatalf("expected -550, got %d", d)
	}
}

func TestCombineOnceCountsSharedTransactionOnce(t *testing.T) {
	openedAt := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)
	shared := cashTx("tx-shared", 2000, openedAt.Add(time.Hour))
	synced := []domain.StockTransaction{shared, cashTx("tx-synced", 1000, openedAt.Add(time.Hour))}
	pending := []domain.StockTransaction{shared, cashTx("tx-pending", 500, openedAt.Add(2*time.Hour))}

	merged := CombineOnce(synced, pending)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged transactions, got %d", len(merged))
	}

	expected := ComputeExpected(10000, merged, openedAt)
	if expected != 13500 {
		t.Fatalf("expected 13500, got %d", expected)
	}
}
