// Package service applies terminal sync batches to the system of record
// and runs the register ledger. Upserts are last-writer-wins by entity
// id with no version check, so whichever terminal syncs last owns the
// row.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tokosync/backend/internal/cache"
	"tokosync/backend/internal/domain"
	"tokosync/backend/internal/ledger"
	"tokosync/backend/internal/store"
	"tokosync/backend/internal/xid"
)

// Service applies sync batches to the system of record and serves the
// register ledger operations.
type Service struct {
	repo     store.Repository
	cache    cache.EntityCache
	cacheTTL time.Duration
	now      func() time.Time
}

func New(repo store.Repository, entityCache cache.EntityCache, cacheTTL time.Duration) *Service {
	if entityCache == nil {
		entityCache = cache.NoopEntityCache{}
	}
	return &Service{
		repo:     repo,
		cache:    entityCache,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// ApplyBatch applies every item in submission order and returns one
// result per item, same order, same length. A failed item never aborts
// the batch. Upserts and deletes are idempotent, so a terminal may
// resubmit a batch whose response it lost and converge to the same
// state.
func (s *Service) ApplyBatch(ctx context.Context, req domain.SyncBatchRequest) (domain.SyncBatchResponse, error) {
	started := s.now()
	results := make([]domain.SyncItemResult, 0, len(req.Items))
	fulfilled := 0

	for _, item := range req.Items {
		entityID, err := s.applyItem(ctx, item)
		result := domain.SyncItemResult{
			ID:         item.ID,
			EntityType: item.EntityType,
			EntityID:   entityID,
			Status:     domain.ItemStatusFulfilled,
		}
		if err != nil {
			result.Status = domain.ItemStatusRejected
			result.Error = classify(err)
			log.Printf("[sync] WARN: item %s rejected (%s): %v", item.ID, result.Error, err)
		} else {
			fulfilled++
			key := cache.Key(item.EntityType, entityID)
			if cerr := s.cache.Invalidate(ctx, key); cerr != nil {
				log.Printf("[sync] WARN: invalidate %s: %v", key, cerr)
			}
		}
		results = append(results, result)
	}

	run := domain.SyncRun{
		ID:          xid.New("run"),
		TerminalID:  req.TerminalID,
		StartedAt:   started,
		DurationMS:  s.now().Sub(started).Milliseconds(),
		ItemsSynced: fulfilled,
		ItemsFailed: len(req.Items) - fulfilled,
		Message:     fmt.Sprintf("batch %s applied", req.EnvelopeID),
	}
	if err := s.repo.CreateSyncRun(ctx, run); err != nil {
		log.Printf("[sync] WARN: record sync run: %v", err)
	}

	return domain.SyncBatchResponse{EnvelopeID: req.EnvelopeID, Results: results}, nil
}

func (s *Service) applyItem(ctx context.Context, item domain.SyncItem) (string, error) {
	if !domain.IsKnownEntityType(item.EntityType) {
		return "", fmt.Errorf("unknown entity type %q: %w", item.EntityType, store.ErrInvalidEntity)
	}
	if !domain.IsKnownOperationKind(item.OperationKind) {
		return "", fmt.Errorf("unknown operation kind %q: %w", item.OperationKind, store.ErrInvalidEntity)
	}

	entityID := entityIDFromWire(item.ID, item.EntityType)
	if entityID == "" {
		return "", fmt.Errorf("item %s has no entity id: %w", item.ID, store.ErrInvalidEntity)
	}

	if item.OperationKind == domain.OpDelete {
		return entityID, s.deleteEntity(ctx, item.EntityType, entityID)
	}
	return s.upsertEntity(ctx, item.EntityType, entityID, item.Payload)
}

// entityIDFromWire strips the entity-type prefix from a composite wire
// id "<prefix>-<entityId>". Deletes carry no payload, so the wire id is
// the only place the target id travels.
func entityIDFromWire(wireID, entityType string) string {
	prefix := domain.EntityIDPrefix(entityType) + "-"
	if strings.HasPrefix(wireID, prefix) {
		return strings.TrimPrefix(wireID, prefix)
	}
	return wireID
}

func (s *Service) upsertEntity(ctx context.Context, entityType, entityID string, payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return entityID, fmt.Errorf("missing payload for %s %s: %w", entityType, entityID, store.ErrInvalidEntity)
	}

	switch entityType {
	case domain.EntityProduct:
		var p domain.Product
		if err := decodePayload(payload, &p); err != nil {
			return entityID, err
		}
		if p.ID == "" {
			p.ID = entityID
		}
		if p.Name == "" {
			return p.ID, fmt.Errorf("product name required: %w", store.ErrInvalidEntity)
		}
		if p.PriceCents < 0 {
			return p.ID, fmt.Errorf("product price must be non-negative: %w", store.ErrInvalidEntity)
		}
		return p.ID, s.repo.UpsertProduct(ctx, p)

	case domain.EntitySupplier:
		var sup domain.Supplier
		if err := decodePayload(payload, &sup); err != nil {
			return entityID, err
		}
		if sup.ID == "" {
			sup.ID = entityID
		}
		if sup.Name == "" {
			return sup.ID, fmt.Errorf("supplier name required: %w", store.ErrInvalidEntity)
		}
		return sup.ID, s.repo.UpsertSupplier(ctx, sup)

	case domain.EntityStockItem:
		var stockItem domain.StockItem
		if err := decodePayload(payload, &stockItem); err != nil {
			return entityID, err
		}
		if stockItem.ID == "" {
			stockItem.ID = entityID
		}
		if stockItem.ProductID == "" {
			return stockItem.ID, fmt.Errorf("stock item product id required: %w", store.ErrInvalidEntity)
		}
		if stockItem.Qty < 0 {
			return stockItem.ID, fmt.Errorf("stock item qty must be non-negative: %w", store.ErrInvalidEntity)
		}
		if _, err := s.repo.GetProduct(ctx, stockItem.ProductID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return stockItem.ID, fmt.Errorf("stock item references product %s: %w", stockItem.ProductID, store.ErrInvalidReference)
			}
			return stockItem.ID, err
		}
		return stockItem.ID, s.repo.UpsertStockItem(ctx, stockItem)

	case domain.EntityStockTransaction:
		var tx domain.StockTransaction
		if err := decodePayload(payload, &tx); err != nil {
			return entityID, err
		}
		if tx.ID == "" {
			tx.ID = entityID
		}
		if err := validateTransaction(tx); err != nil {
			return tx.ID, err
		}
		for _, line := range tx.Items {
			if _, err := s.repo.GetStockItem(ctx, line.StockItemID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return tx.ID, fmt.Errorf("transaction references stock item %s: %w", line.StockItemID, store.ErrInvalidReference)
				}
				return tx.ID, err
			}
		}
		return tx.ID, s.repo.UpsertStockTransaction(ctx, tx)

	case domain.EntityUser:
		var u domain.User
		if err := decodePayload(payload, &u); err != nil {
			return entityID, err
		}
		if u.ID == "" {
			u.ID = entityID
		}
		if u.Username == "" {
			return u.ID, fmt.Errorf("user username required: %w", store.ErrInvalidEntity)
		}
		return u.ID, s.repo.UpsertUser(ctx, u)
	}

	return entityID, fmt.Errorf("unknown entity type %q: %w", entityType, store.ErrInvalidEntity)
}

func (s *Service) deleteEntity(ctx context.Context, entityType, entityID string) error {
	switch entityType {
	case domain.EntityProduct:
		return s.repo.DeleteProduct(ctx, entityID)
	case domain.EntitySupplier:
		return s.repo.DeleteSupplier(ctx, entityID)
	case domain.EntityStockItem:
		return s.repo.DeleteStockItem(ctx, entityID)
	case domain.EntityStockTransaction:
		return s.repo.DeleteStockTransaction(ctx, entityID)
	case domain.EntityUser:
		return s.repo.DeleteUser(ctx, entityID)
	}
	return fmt.Errorf("unknown entity type %q: %w", entityType, store.ErrInvalidEntity)
}

func validateTransaction(tx domain.StockTransaction) error {
	if tx.StoreID == "" {
		return fmt.Errorf("transaction store id required: %w", store.ErrInvalidEntity)
	}
	switch tx.PaymentMethod {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentQRIS:
	default:
		return fmt.Errorf("unknown payment method %q: %w", tx.PaymentMethod, store.ErrInvalidEntity)
	}
	switch tx.Status {
	case domain.TxStatusCompleted, domain.TxStatusVoided, domain.TxStatusRefunded:
	default:
		return fmt.Errorf("unknown transaction status %q: %w", tx.Status, store.ErrInvalidEntity)
	}
	if tx.OccurredAt.IsZero() {
		return fmt.Errorf("transaction occurred_at required: %w", store.ErrInvalidEntity)
	}
	for _, line := range tx.Items {
		if line.StockItemID == "" {
			return fmt.Errorf("transaction line stock item id required: %w", store.ErrInvalidEntity)
		}
		if line.Qty < 1 {
			return fmt.Errorf("transaction line qty must be positive: %w", store.ErrInvalidEntity)
		}
	}
	return nil
}

func decodePayload(payload json.RawMessage, target any) error {
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, store.ErrInvalidEntity)
	}
	return nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, store.ErrInvalidEntity):
		return domain.ReasonValidationError
	case errors.Is(err, store.ErrInvalidReference):
		return domain.ReasonInvalidReference
	default:
		return domain.ReasonServerError
	}
}

// OpenRegister starts a drawer session. The single-open invariant lives
// in the repository so concurrent opens cannot race past it.
func (s *Service) OpenRegister(ctx context.Context, storeID string, actor domain.Actor, openingCents int64) (domain.RegisterSession, error) {
	if openingCents < 0 {
		return domain.RegisterSession{}, fmt.Errorf("opening balance must be non-negative: %w", store.ErrInvalidEntity)
	}
	session := domain.RegisterSession{
		ID:                  xid.New("rs"),
		StoreID:             storeID,
		CashierID:           actor.Username,
		OpeningBalanceCents: openingCents,
		Status:              domain.SessionStatusOpen,
		OpenedAt:            s.now().UTC(),
	}
	if err := s.repo.CreateRegisterSession(ctx, session); err != nil {
		return domain.RegisterSession{}, err
	}
	return session, nil
}

// RegisterStatus returns the open session plus the expected drawer cash
// computed from completed cash transactions since the drawer opened.
func (s *Service) RegisterStatus(ctx context.Context, storeID string) (domain.RegisterStatusResponse, error) {
	session, err := s.repo.GetOpenSession(ctx, storeID)
	if err != nil {
		return domain.RegisterStatusResponse{}, err
	}
	expected, err := s.expectedForSession(ctx, session)
	if err != nil {
		return domain.RegisterStatusResponse{}, err
	}
	return domain.RegisterStatusResponse{Session: session, ExpectedCents: expected}, nil
}

// CloseRegister settles the open session against the counted cash.
// Difference is counted minus expected; negative means a shortfall.
func (s *Service) CloseRegister(ctx context.Context, storeID string, countedCents int64) (domain.RegisterSession, error) {
	session, err := s.repo.GetOpenSession(ctx, storeID)
	if err != nil {
		return domain.RegisterSession{}, err
	}
	expected, err := s.expectedForSession(ctx, session)
	if err != nil {
		return domain.RegisterSession{}, err
	}

	closedAt := s.now().UTC()
	session.ClosingBalanceCents = countedCents
	session.ExpectedCents = expected
	session.DifferenceCents = ledger.Difference(countedCents, expected)
	session.Status = domain.SessionStatusClosed
	session.ClosedAt = &closedAt

	if err := s.repo.CloseRegisterSession(ctx, session); err != nil {
		return domain.RegisterSession{}, err
	}
	return session, nil
}

func (s *Service) expectedForSession(ctx context.Context, session domain.RegisterSession) (int64, error) {
	txs, err := s.repo.ListTransactionsSince(ctx, session.StoreID, session.OpenedAt)
	if err != nil {
		return 0, err
	}
	return ledger.ComputeExpected(session.OpeningBalanceCents, txs, session.OpenedAt), nil
}

func (s *Service) ListSyncRuns(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	return s.repo.ListSyncRuns(ctx, limit)
}

// GetEntity is a read-through diagnostic lookup. Only entity types with
// a repository getter are served.
func (s *Service) GetEntity(ctx context.Context, entityType, entityID string) ([]byte, error) {
	key := cache.Key(entityType, entityID)
	if cached, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		return cached, nil
	} else if err != nil {
		log.Printf("[sync] WARN: cache get %s: %v", key, err)
	}

	var entity any
	switch entityType {
	case domain.EntityProduct:
		p, err := s.repo.GetProduct(ctx, entityID)
		if err != nil {
			return nil, err
		}
		entity = p
	case domain.EntityStockItem:
		item, err := s.repo.GetStockItem(ctx, entityID)
		if err != nil {
			return nil, err
		}
		entity = item
	default:
		return nil, fmt.Errorf("entity type %q not readable: %w", entityType, store.ErrInvalidEntity)
	}

	payload, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encode entity: %w", err)
	}
	if err := s.cache.Set(ctx, key, payload, s.cacheTTL); err != nil {
		log.Printf("[sync] WARN: cache set %s: %v", key, err)
	}
	return payload, nil
}
