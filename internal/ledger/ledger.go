// Package ledger is the sole writer of durable cart, order and payment state.
// Every mutation runs inside Store.WithinTx and commits or aborts as a unit.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

var (
	ErrNotFound          = errors.New("ledger: record not found")
	ErrVersionConflict   = errors.New("ledger: version conflict")
	ErrDuplicate         = errors.New("ledger: duplicate record")
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
)

// Store runs fn inside one transaction. A non-nil return, a panic or an
// expired context rolls back every write issued through tx.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the repositories bound to a single transaction.
type Tx interface {
	Carts() CartRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Idempotency() IdempotencyRepository
	Inventory() InventoryRepository
	Audit() AuditRepository
	Outbox() OutboxWriter
}

type CartRepository interface {
	Create(ctx context.Context, cart *models.Cart) error
	// FindByID loads the cart with items ordered by position.
	FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	// BumpVersion advances an open cart from expected to expected+1.
	BumpVersion(ctx context.Context, id uuid.UUID, expected int64) error
	InsertItem(ctx context.Context, item *models.CartItem) error
	UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int64) error
	DeleteItem(ctx context.Context, itemID uuid.UUID) error
	DeleteItems(ctx context.Context, cartID uuid.UUID) error
	// MarkCheckedOut freezes an open cart observed at expected.
	MarkCheckedOut(ctx context.Context, id uuid.UUID, expected int64, at time.Time) error
}

// OrderTransition is a conditional status write at an observed version.
type OrderTransition struct {
	ID              uuid.UUID
	ExpectedVersion int64
	To              enums.OrderStatus
	At              time.Time
}

// ListFilter scopes list queries. A nil UserID lists every owner.
type ListFilter struct {
	UserID *uuid.UUID
	Cursor *pagination.Cursor
	Limit  int
}

type OrderRepository interface {
	// Create inserts the order and its line items. Unique violations return ErrDuplicate.
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// FindByIDForUpdate row-locks the order for the rest of the transaction.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.Order, error)
	List(ctx context.Context, filter ListFilter) ([]models.Order, error)
	// ListAwaitingPaymentBefore returns unpaid orders created before the cutoff, oldest first.
	ListAwaitingPaymentBefore(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
	Transition(ctx context.Context, t OrderTransition) error
}

// PaymentSettlement moves an initiated payment to its settled state.
type PaymentSettlement struct {
	ID           uuid.UUID
	ProviderTxID string
	Status       enums.PaymentStatus
	AmountCents  int64
	ReceivedAt   time.Time
}

type PaymentRepository interface {
	// Create inserts a payment. A duplicate provider_tx_id returns ErrDuplicate.
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByProviderRef(ctx context.Context, ref string) (*models.Payment, error)
	FindByProviderTxID(ctx context.Context, txID string) (*models.Payment, error)
	FindLatestSucceeded(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	List(ctx context.Context, filter ListFilter) ([]models.Payment, error)
	// ListByOrder returns every attempt for the order, oldest first.
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	ListInitiatedBefore(ctx context.Context, before time.Time, limit int) ([]models.Payment, error)
	// Settle updates a payment still in initiated status.
	Settle(ctx context.Context, s PaymentSettlement) error
	// UpdateStatus moves a payment from one status to another.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus) error
}

type IdempotencyRepository interface {
	Find(ctx context.Context, scope, key string) (*models.IdempotencyRecord, error)
	// Insert returns ErrDuplicate when (scope, key) already exists.
	Insert(ctx context.Context, record *models.IdempotencyRecord) error
}

type InventoryRepository interface {
	// Reserve decrements stock or returns ErrInsufficientStock.
	Reserve(ctx context.Context, productID uuid.UUID, quantity int64) error
	Release(ctx context.Context, productID uuid.UUID, quantity int64) error
}

type AuditRepository interface {
	Append(ctx context.Context, entry *models.PaymentEventLog) error
	ListByProviderTxID(ctx context.Context, txID string) ([]models.PaymentEventLog, error)
}

type OutboxWriter interface {
	Emit(ctx context.Context, event outbox.DomainEvent) error
}

// CheckoutScope is the idempotency scope for a user's checkout keys.
func CheckoutScope(userID uuid.UUID) string {
	return "checkout:" + userID.String()
}

// PaymentEventScope is the idempotency scope for provider transaction ids.
const PaymentEventScope = "payment_event"
