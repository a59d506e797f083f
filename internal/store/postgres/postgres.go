package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokosync/backend/internal/domain"
	"tokosync/backend/internal/store"
)

// Store is the Postgres-backed Repository.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			price_cents BIGINT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS suppliers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS stock_items (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL REFERENCES products(id),
			store_id TEXT NOT NULL,
			qty INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS stock_transactions (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			payment_method TEXT NOT NULL,
			total_cents BIGINT NOT NULL,
			status TEXT NOT NULL,
			cashier_id TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMPTZ NOT NULL,
			items JSONB NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_transactions_store_occurred
			ON stock_transactions (store_id, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS synced_users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS register_sessions (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			cashier_id TEXT NOT NULL,
			opening_balance_cents BIGINT NOT NULL,
			closing_balance_cents BIGINT NOT NULL DEFAULT 0,
			expected_cents BIGINT NOT NULL DEFAULT 0,
			difference_cents BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_register_sessions_single_open
			ON register_sessions (store_id) WHERE status = 'open'`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id TEXT PRIMARY KEY,
			terminal_id TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			items_synced INTEGER NOT NULL DEFAULT 0,
			items_failed INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS user_accounts (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, category, price_cents, active FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Category, &p.PriceCents, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, name, category, price_cents, active)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			price_cents = EXCLUDED.price_cents,
			active = EXCLUDED.active`,
		p.ID, p.Name, p.Category, p.PriceCents, p.Active)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}

func (s *Store) UpsertSupplier(ctx context.Context, sup domain.Supplier) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO suppliers (id, name, phone)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone`,
		sup.ID, sup.Name, sup.Phone)
	if err != nil {
		return fmt.Errorf("upsert supplier: %w", err)
	}
	return nil
}

func (s *Store) DeleteSupplier(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM suppliers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete supplier: %w", err)
	}
	return nil
}

func (s *Store) GetStockItem(ctx context.Context, id string) (domain.StockItem, error) {
	var item domain.StockItem
	err := s.db.QueryRowContext(ctx,
		`SELECT id, product_id, store_id, qty FROM stock_items WHERE id = $1`, id,
	).Scan(&item.ID, &item.ProductID, &item.StoreID, &item.Qty)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockItem{}, fmt.Errorf("stock item %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("get stock item: %w", err)
	}
	return item, nil
}

func (s *Store) UpsertStockItem(ctx context.Context, item domain.StockItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stock_items (id, product_id, store_id, qty)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			store_id = EXCLUDED.store_id,
			qty = EXCLUDED.qty`,
		item.ID, item.ProductID, item.StoreID, item.Qty)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("stock item %s references product %s: %w", item.ID, item.ProductID, store.ErrInvalidReference)
	}
	if err != nil {
		return fmt.Errorf("upsert stock item: %w", err)
	}
	return nil
}

func (s *Store) DeleteStockItem(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM stock_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete stock item: %w", err)
	}
	return nil
}

func (s *Store) UpsertStockTransaction(ctx context.Context, tx domain.StockTransaction) error {
	for _, line := range tx.Items {
		if _, err := s.GetStockItem(ctx, line.StockItemID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("transaction %s references stock item %s: %w", tx.ID, line.StockItemID, store.ErrInvalidReference)
			}
			return err
		}
	}
	items, err := json.Marshal(tx.Items)
	if err != nil {
		return fmt.Errorf("encode transaction items: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stock_transactions (id, store_id, payment_method, total_cents, status, cashier_id, occurred_at, items)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			store_id = EXCLUDED.store_id,
			payment_method = EXCLUDED.payment_method,
			total_cents = EXCLUDED.total_cents,
			status = EXCLUDED.status,
			cashier_id = EXCLUDED.cashier_id,
			occurred_at = EXCLUDED.occurred_at,
			items = EXCLUDED.items`,
		tx.ID, tx.StoreID, tx.PaymentMethod, tx.TotalCents, tx.Status, tx.CashierID, tx.OccurredAt, items)
	if err != nil {
		return fmt.Errorf("upsert stock transaction: %w", err)
	}
	return nil
}

func (s *Store) DeleteStockTransaction(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM stock_transactions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete stock transaction: %w", err)
	}
	return nil
}

func (s *Store) ListTransactionsSince(ctx context.Context, storeID string, since time.Time) ([]domain.StockTransaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, store_id, payment_method, total_cents, status, cashier_id, occurred_at, items
		 FROM stock_transactions
		 WHERE store_id = $1 AND occurred_at >= $2
		 ORDER BY occurred_at ASC`,
		storeID, since)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.StockTransaction, 0)
	for rows.Next() {
		var tx domain.StockTransaction
		var items []byte
		if err := rows.Scan(&tx.ID, &tx.StoreID, &tx.PaymentMethod, &tx.TotalCents, &tx.Status, &tx.CashierID, &tx.OccurredAt, &items); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if len(items) > 0 {
			if err := json.Unmarshal(items, &tx.Items); err != nil {
				return nil, fmt.Errorf("decode transaction items: %w", err)
			}
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

func (s *Store) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO synced_users (id, username, role, active)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			role = EXCLUDED.role,
			active = EXCLUDED.active`,
		u.ID, u.Username, u.Role, u.Active)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM synced_users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *Store) CreateRegisterSession(ctx context.Context, session domain.RegisterSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO register_sessions
			(id, store_id, cashier_id, opening_balance_cents, status, opened_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.StoreID, session.CashierID, session.OpeningBalanceCents, session.Status, session.OpenedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("store %s: %w", session.StoreID, store.ErrDrawerAlreadyOpen)
	}
	if err != nil {
		return fmt.Errorf("create register session: %w", err)
	}
	return nil
}

func (s *Store) GetOpenSession(ctx context.Context, storeID string) (domain.RegisterSession, error) {
	var session domain.RegisterSession
	err := s.db.QueryRowContext(ctx,
		`SELECT id, store_id, cashier_id, opening_balance_cents, closing_balance_cents,
			expected_cents, difference_cents, status, opened_at, closed_at
		 FROM register_sessions
		 WHERE store_id = $1 AND status = 'open'`,
		storeID,
	).Scan(&session.ID, &session.StoreID, &session.CashierID, &session.OpeningBalanceCents,
		&session.ClosingBalanceCents, &session.ExpectedCents, &session.DifferenceCents,
		&session.Status, &session.OpenedAt, &session.ClosedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RegisterSession{}, fmt.Errorf("store %s: %w", storeID, store.ErrNoOpenDrawer)
	}
	if err != nil {
		return domain.RegisterSession{}, fmt.Errorf("get open session: %w", err)
	}
	return session, nil
}

func (s *Store) CloseRegisterSession(ctx context.Context, session domain.RegisterSession) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE register_sessions SET
			closing_balance_cents = $1,
			expected_cents = $2,
			difference_cents = $3,
			status = $4,
			closed_at = $5
		 WHERE id = $6 AND status = 'open'`,
		session.ClosingBalanceCents, session.ExpectedCents, session.DifferenceCents,
		session.Status, session.ClosedAt, session.ID)
	if err != nil {
		return fmt.Errorf("close register session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close register session: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", session.ID, store.ErrNoOpenDrawer)
	}
	return nil
}

func (s *Store) CreateSyncRun(ctx context.Context, run domain.SyncRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, terminal_id, started_at, duration_ms, items_synced, items_failed, message, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.TerminalID, run.StartedAt, run.DurationMS, run.ItemsSynced, run.ItemsFailed, run.Message, run.Detail)
	if err != nil {
		return fmt.Errorf("create sync run: %w", err)
	}
	return nil
}

func (s *Store) ListSyncRuns(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, terminal_id, started_at, duration_ms, items_synced, items_failed, message, detail
		 FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SyncRun, 0, limit)
	for rows.Next() {
		var run domain.SyncRun
		if err := rows.Scan(&run.ID, &run.TerminalID, &run.StartedAt, &run.DurationMS,
			&run.ItemsSynced, &run.ItemsFailed, &run.Message, &run.Detail); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	return out, nil
}

func (s *Store) CreateUserAccount(ctx context.Context, account domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_accounts (username, password, role, active, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		account.Username, account.Password, account.Role, account.Active, account.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("username %s: %w", account.Username, store.ErrUsernameTaken)
	}
	if err != nil {
		return fmt.Errorf("create user account: %w", err)
	}
	return nil
}

func (s *Store) GetUserAccount(ctx context.Context, username string) (domain.UserAccount, error) {
	var account domain.UserAccount
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password, role, active, created_at FROM user_accounts WHERE username = $1`,
		username,
	).Scan(&account.Username, &account.Password, &account.Role, &account.Active, &account.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserAccount{}, fmt.Errorf("username %s: %w", username, store.ErrNotFound)
	}
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("get user account: %w", err)
	}
	return account, nil
}

func (s *Store) ListUserAccounts(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, password, role, active, created_at FROM user_accounts ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("list user accounts: %w", err)
	}
	defer rows.Close()

	out := make([]domain.UserAccount, 0)
	for rows.Next() {
		var account domain.UserAccount
		if err := rows.Scan(&account.Username, &account.Password, &account.Role, &account.Active, &account.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user account: %w", err)
		}
		out = append(out, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list user accounts: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
