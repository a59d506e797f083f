package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tokosync/backend/internal/domain"
	"tokosync/backend/internal/store"
	"tokosync/backend/internal/xid"
)

// Store is an in-memory Repository for development and tests.
type Store struct {
	mu           sync.RWMutex
	products     map[string]domain.Product
	suppliers    map[string]domain.Supplier
	stockItems   map[string]domain.StockItem
	transactions map[string]domain.StockTransaction
	users        map[string]domain.User
	sessions     map[string]domain.RegisterSession
	syncRuns     []domain.SyncRun
	accounts     map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:     make(map[string]domain.Product),
		suppliers:    make(map[string]domain.Supplier),
		stockItems:   make(map[string]domain.StockItem),
		transactions: make(map[string]domain.StockTransaction),
		users:        make(map[string]domain.User),
		sessions:     make(map[string]domain.RegisterSession),
		accounts:     make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store pre-populated with a small catalog so the
// server is usable without Postgres.
func NewSeeded(storeID string) *Store {
	s := New()
	seedProducts := []domain.Product{
		{ID: xid.New("prod"), Name: "Kopi Susu Botol", Category: "beverage", PriceCents: 1800, Active: true},
		{ID: xid.New("prod"), Name: "Roti Bakar Cokelat", Category: "food", PriceCents: 2500, Active: true},
		{ID: xid.New("prod"), Name: "Air Mineral 600ml", Category: "beverage", PriceCents: 500, Active: true},
	}
	for _, p := range seedProducts {
		s.products[p.ID] = p
		item := domain.StockItem{ID: xid.New("stock"), ProductID: p.ID, StoreID: storeID, Qty: 40}
		s.stockItems[item.ID] = item
	}
	return s
}

func (s *Store) GetProduct(_ context.Context, id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	return p, nil
}

func (s *Store) UpsertProduct(_ context.Context, p domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
	return nil
}

func (s *Store) UpsertSupplier(_ context.Context, sup domain.Supplier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppliers[sup.ID] = sup
	return nil
}

func (s *Store) DeleteSupplier(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.suppliers, id)
	return nil
}

func (s *Store) GetStockItem(_ context.Context, id string) (domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.stockItems[id]
	if !ok {
		return domain.StockItem{}, fmt.Errorf("stock item %s: %w", id, store.ErrNotFound)
	}
	return item, nil
}

func (s *Store) UpsertStockItem(_ context.Context, item domain.StockItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[item.ProductID]; !ok {
		return fmt.Errorf("stock item %s references product %s: %w", item.ID, item.ProductID, store.ErrInvalidReference)
	}
	s.stockItems[item.ID] = item
	return nil
}

func (s *Store) DeleteStockItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stockItems, id)
	return nil
}

func (s *Store) UpsertStockTransaction(_ context.Context, tx domain.StockTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range tx.Items {
		if _, ok := s.stockItems[line.StockItemID]; !ok {
			return fmt.Errorf("transaction %s references stock item %s: %w", tx.ID, line.StockItemID, store.ErrInvalidReference)
		}
	}
	s.transactions[tx.ID] = tx
	return nil
}

func (s *Store) DeleteStockTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transactions, id)
	return nil
}

func (s *Store) ListTransactionsSince(_ context.Context, storeID string, since time.Time) ([]domain.StockTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.StockTransaction, 0)
	for _, tx := range s.transactions {
		if tx.StoreID != storeID {
			continue
		}
		if tx.OccurredAt.Before(since) {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (s *Store) UpsertUser(_ context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	return nil
}

func (s *Store) CreateRegisterSession(_ context.Context, session domain.RegisterSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.StoreID == session.StoreID && existing.Status == domain.SessionStatusOpen {
			return fmt.Errorf("store %s: %w", session.StoreID, store.ErrDrawerAlreadyOpen)
		}
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) GetOpenSession(_ context.Context, storeID string) (domain.RegisterSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.StoreID == storeID && session.Status == domain.SessionStatusOpen {
			return session, nil
		}
	}
	return domain.RegisterSession{}, fmt.Errorf("store %s: %w", storeID, store.ErrNoOpenDrawer)
}

func (s *Store) CloseRegisterSession(_ context.Context, session domain.RegisterSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[session.ID]
	if !ok || existing.Status != domain.SessionStatusOpen {
		return fmt.Errorf("session %s: %w", session.ID, store.ErrNoOpenDrawer)
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) CreateSyncRun(_ context.Context, run domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncRuns = append(s.syncRuns, run)
	return nil
}

func (s *Store) ListSyncRuns(_ context.Context, limit int) ([]domain.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]domain.SyncRun, len(s.syncRuns))
	copy(runs, s.syncRuns)
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Store) CreateUserAccount(_ context.Context, account domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.Username]; ok {
		return fmt.Errorf("username %s: %w", account.Username, store.ErrUsernameTaken)
	}
	s.accounts[account.Username] = account
	return nil
}

func (s *Store) GetUserAccount(_ context.Context, username string) (domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[username]
	if !ok {
		return domain.UserAccount{}, fmt.Errorf("username %s: %w", username, store.ErrNotFound)
	}
	return account, nil
}

func (s *Store) ListUserAccounts(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := make([]domain.UserAccount, 0, len(s.accounts))
	for _, account := range s.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Username < accounts[j].Username })
	return accounts, nil
}
