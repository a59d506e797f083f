package domain

import (
	"encoding/json"
	"time"
)

// Entity types accepted by the sync endpoint. Each type has its own
// strongly-typed payload schema; the wire format is a tagged union keyed
// by EntityType.
const (
	EntityProduct          = "product"
	EntitySupplier         = "supplier"
	EntityStockItem        = "stock_item"
	EntityStockTransaction = "stock_transaction"
	EntityUser             = "user"
)

const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

const (
	ItemStatusFulfilled = "fulfilled"
	ItemStatusRejected  = "rejected"
)

// Rejection reasons. Validation rejects must not be retried verbatim;
// reference rejects may succeed later once the referenced entity lands.
const (
	ReasonValidationError  = "validation_error"
	ReasonInvalidReference = "invalid_reference"
	ReasonServerError      = "server_error"
)

const (
	TxStatusCompleted = "completed"
	TxStatusVoided    = "voided"
	TxStatusRefunded  = "refunded"
)

const (
	PaymentCash = "cash"
	PaymentCard = "card"
	PaymentQRIS = "qris"
)

const (
	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)

type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	PriceCents int64  `json:"price_cents"`
	Active     bool   `json:"active"`
}

type Supplier struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// StockItem is a per-store stock row. It references a Product; the sync
// endpoint rejects a stock item whose product is unknown.
type StockItem struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	StoreID   string `json:"store_id"`
	Qty       int    `json:"qty"`
}

type TransactionLine struct {
	StockItemID    string `json:"stock_item_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// StockTransaction is append-only once completed. Cash payouts are modeled
// as negative-total cash transactions on the same ledger; the register
// ledger partitions by sign.
type StockTransaction struct {
	ID            string            `json:"id"`
	StoreID       string            `json:"store_id"`
	PaymentMethod string            `json:"payment_method"`
	TotalCents    int64             `json:"total_cents"`
	Status        string            `json:"status"`
	CashierID     string            `json:"cashier_id"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Items         []TransactionLine `json:"items,omitempty"`
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Active   bool   `json:"active"`
}

// PendingOperation is one outbox row awaiting transmission. EnqueuedAt is
// a monotonic logical sequence, not wall-clock time. Rows are never
// mutated in place except to bump AttemptCount; removal happens only on
// acknowledgement.
type PendingOperation struct {
	ID            string          `json:"id"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	OperationKind string          `json:"operation_kind"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt    int64           `json:"enqueued_at"`
	AttemptCount  int             `json:"attempt_count"`
	Dead          bool            `json:"dead"`
}

// SyncItem is one element of the wire batch. ID is a composite
// "<prefix>-<entityId>" so the endpoint can recover the target entity id
// for deletes, which carry no payload.
type SyncItem struct {
	ID            string          `json:"id"`
	OperationKind string          `json:"operation_kind"`
	EntityType    string          `json:"entity_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt    int64           `json:"enqueued_at"`
}

type SyncBatchRequest struct {
	TerminalID string     `json:"terminal_id"`
	EnvelopeID string     `json:"envelope_id"`
	Items      []SyncItem `json:"items"`
}

// SyncItemResult mirrors one submitted item, in submission order.
type SyncItemResult struct {
	ID         string `json:"id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

type SyncBatchResponse struct {
	EnvelopeID string           `json:"envelope_id"`
	Results    []SyncItemResult `json:"results"`
}

// RegisterSession is one drawer lifecycle: Closed -> Open -> Closed.
// At most one session per store may be Open at a time; the store enforces
// this before insert.
type RegisterSession struct {
	ID                  string     `json:"id"`
	StoreID             string     `json:"store_id"`
	CashierID           string     `json:"cashier_id"`
	OpeningBalanceCents int64      `json:"opening_balance_cents"`
	ClosingBalanceCents int64      `json:"closing_balance_cents,omitempty"`
	ExpectedCents       int64      `json:"expected_cents,omitempty"`
	DifferenceCents     int64      `json:"difference_cents,omitempty"`
	Status              string     `json:"status"`
	OpenedAt            time.Time  `json:"opened_at"`
	ClosedAt            *time.Time `json:"closed_at,omitempty"`
}

type RegisterOpenRequest struct {
	StoreID             string `json:"store_id"`
	OpeningBalanceCents int64  `json:"opening_balance_cents"`
}

type RegisterCloseRequest struct {
	StoreID      string `json:"store_id"`
	CountedCents int64  `json:"counted_cents"`
}

type RegisterStatusResponse struct {
	Session       RegisterSession `json:"session"`
	ExpectedCents int64           `json:"expected_cents"`
}

// SyncRun is one sync-history entry: on the agent, one per drain cycle;
// on the server, one per accepted batch.
type SyncRun struct {
	ID          string    `json:"id"`
	TerminalID  string    `json:"terminal_id,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
	ItemsSynced int       `json:"items_synced"`
	ItemsFailed int       `json:"items_failed"`
	Message     string    `json:"message,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// LastRunSummary is the sync client's exit surface for UI display.
type LastRunSummary struct {
	Success     bool   `json:"success"`
	ItemsSynced int    `json:"items_synced"`
	ItemsFailed int    `json:"items_failed"`
	Message     string `json:"message"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// EntityIDPrefix returns the composite-id prefix for an entity type.
func EntityIDPrefix(entityType string) string {
	switch entityType {
	case EntityProduct:
		return "prod"
	case EntitySupplier:
		return "sup"
	case EntityStockItem:
		return "stock"
	case EntityStockTransaction:
		return "tx"
	case EntityUser:
		return "user"
	default:
		return "ent"
	}
}

func IsKnownEntityType(entityType string) bool {
	switch entityType {
	case EntityProduct, EntitySupplier, EntityStockItem, EntityStockTransaction, EntityUser:
		return true
	default:
		return false
	}
}

func IsKnownOperationKind(kind string) bool {
	switch kind {
	case OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}
