package store

import (
	"context"
	"errors"
	"time"

	"tokosync/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidEntity     = errors.New("invalid entity")
	ErrInvalidReference  = errors.New("invalid reference")
	ErrDrawerAlreadyOpen = errors.New("register session already open")
	ErrNoOpenDrawer      = errors.New("no open register session")
	ErrUsernameTaken     = errors.New("username already taken")
)

// Repository is the system of record behind the sync endpoint and the
// register API. Upserts are idempotent by entity id and deletes of a
// missing id succeed, so re-delivered operations converge.
type Repository interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	UpsertProduct(ctx context.Context, p domain.Product) error
	DeleteProduct(ctx context.Context, id string) error

	UpsertSupplier(ctx context.Context, s domain.Supplier) error
	DeleteSupplier(ctx context.Context, id string) error

	GetStockItem(ctx context.Context, id string) (domain.StockItem, error)
	UpsertStockItem(ctx context.Context, item domain.StockItem) error
	DeleteStockItem(ctx context.Context, id string) error

	UpsertStockTransaction(ctx context.Context, tx domain.StockTransaction) error
	DeleteStockTransaction(ctx context.Context, id string) error
	ListTransactionsSince(ctx context.Context, storeID string, since time.Time) ([]domain.StockTransaction, error)

	UpsertUser(ctx context.Context, u domain.User) error
	DeleteUser(ctx context.Context, id string) error

	// CreateRegisterSession enforces the single-open invariant: it fails
	// with ErrDrawerAlreadyOpen when the store already has an open session.
	CreateRegisterSession(ctx context.Context, session domain.RegisterSession) error
	GetOpenSession(ctx context.Context, storeID string) (domain.RegisterSession, error)
	CloseRegisterSession(ctx context.Context, session domain.RegisterSession) error

	CreateSyncRun(ctx context.Context, run domain.SyncRun) error
	ListSyncRuns(ctx context.Context, limit int) ([]domain.SyncRun, error)

	UserStore
}

// UserStore holds auth credentials, separate from the synced user entity.
type UserStore interface {
	CreateUserAccount(ctx context.Context, account domain.UserAccount) error
	GetUserAccount(ctx context.Context, username string) (domain.UserAccount, error)
	ListUserAccounts(ctx context.Context) ([]domain.UserAccount, error)
}
