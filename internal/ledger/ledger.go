// Package ledger computes expected cash drawer balances. It is pure
// arithmetic over integer cents; fetching transactions is the caller's
// job so the same math serves the server API and terminal-side status.
package ledger

import (
	"time"

	"tokosync/backend/internal/domain"
)

// ComputeExpected returns the cash the drawer should hold:
// opening balance plus cash sales minus cash payouts since openedAt.
// Payouts are cash transactions with a negative total. Only completed
// transactions count; voided and refunded ones never move the drawer.
func ComputeExpected(openingCents int64, txs []domain.StockTransaction, openedAt time.Time) int64 {
	expected := openingCents
	for _, tx := range txs {
		if tx.Status != domain.TxStatusCompleted {
			continue
		}
		if tx.PaymentMethod != domain.PaymentCash {
			continue
		}
		if tx.OccurredAt.Before(openedAt) {
			continue
		}
		// Signed totals make sales and payouts a single sum.
		expected += tx.TotalCents
	}
	return expected
}

// Difference returns counted minus expected. Negative means a shortfall.
func Difference(countedCents, expectedCents int64) int64 {
	return countedCents - expectedCents
}

// CombineOnce merges synced and locally pending transactions, keeping
// each transaction id exactly once. Synced rows win over pending copies
// of the same transaction.
func CombineOnce(synced, pending []domain.StockTransaction) []domain.StockTransaction {
	seen := make(map[string]struct{}, len(synced))
	out := make([]domain.StockTransaction, 0, len(synced)+len(pending))
	for _, tx := range synced {
		if _, dup := seen[tx.ID]; dup {
			continue
		}
		seen[tx.ID] = struct{}{}
		out = append(out, tx)
	}
	for _, tx := range pending {
		if _, dup := seen[tx.ID]; dup {
			continue
		}
		seen[tx.ID] = struct{}{}
		out = append(out, tx)
	}
	return out
}
