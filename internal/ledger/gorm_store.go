package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

// GormStore implements Store on Postgres (production) or SQLite (tests).
type GormStore struct {
	client *db.Client
	outbox *outbox.Service
}

// NewGormStore binds the store to conn. Outbox events are staged through svc.
func NewGormStore(conn *gorm.DB, svc *outbox.Service) *GormStore {
	return &GormStore{client: db.NewFromConn(conn), outbox: svc}
}

func (s *GormStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var fnErr error
	err := s.client.WithTx(ctx, func(conn *gorm.DB) error {
		fnErr = fn(ctx, &gormTx{conn: conn, outbox: s.outbox})
		if fnErr != nil {
			return fnErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			fnErr = pkgerrors.Wrap(pkgerrors.CodeUnavailable, ctxErr, "transaction deadline exceeded")
			return fnErr
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return unavailable(err, "commit transaction")
	}
	return nil
}

type gormTx struct {
	conn   *gorm.DB
	outbox *outbox.Service
}

func (t *gormTx) Carts() CartRepository              { return &gormCarts{conn: t.conn} }
func (t *gormTx) Orders() OrderRepository            { return &gormOrders{conn: t.conn} }
func (t *gormTx) Payments() PaymentRepository        { return &gormPayments{conn: t.conn} }
func (t *gormTx) Idempotency() IdempotencyRepository { return &gormIdempotency{conn: t.conn} }
func (t *gormTx) Inventory() InventoryRepository     { return &gormInventory{conn: t.conn} }
func (t *gormTx) Audit() AuditRepository             { return &gormAudit{conn: t.conn} }
func (t *gormTx) Outbox() OutboxWriter               { return &gormOutbox{conn: t.conn, svc: t.outbox} }

// translate maps driver errors onto ledger sentinels; everything else is a storage outage.
func translate(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case db.IsNotFound(err):
		return ErrNotFound
	case db.IsUniqueViolation(err, ""):
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, op)
	default:
		return unavailable(err, op)
	}
}

func unavailable(err error, op string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, op)
}

// conditional reports ErrVersionConflict when a guarded write matched no rows.
func conditional(res *gorm.DB, op string) error {
	if res.Error != nil {
		return translate(res.Error, op)
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}
