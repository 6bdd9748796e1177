package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

type gormCarts struct {
	conn *gorm.DB
}

func (r *gormCarts) Create(ctx context.Context, cart *models.Cart) error {
	if cart.ID == uuid.Nil {
		cart.ID = uuid.New()
	}
	if cart.Version == 0 {
		cart.Version = 1
	}
	if cart.Status == "" {
		cart.Status = enums.CartStatusOpen
	}
	return translate(r.conn.WithContext(ctx).Omit("Items").Create(cart).Error, "create cart")
}

func (r *gormCarts) FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.conn.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("id = ?", id).
		First(&cart).Error
	if err != nil {
		return nil, translate(err, "find cart")
	}
	return &cart, nil
}

func (r *gormCarts) BumpVersion(ctx context.Context, id uuid.UUID, expected int64) error {
	res := r.conn.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND version = ? AND status = ?", id, expected, enums.CartStatusOpen).
		Updates(map[string]any{
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	return conditional(res, "bump cart version")
}

func (r *gormCarts) InsertItem(ctx context.Context, item *models.CartItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	return translate(r.conn.WithContext(ctx).Create(item).Error, "insert cart item")
}

func (r *gormCarts) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int64) error {
	res := r.conn.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{
			"quantity":   quantity,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return translate(res.Error, "update cart item")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormCarts) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	return translate(r.conn.WithContext(ctx).Where("id = ?", itemID).Delete(&models.CartItem{}).Error, "delete cart item")
}

func (r *gormCarts) DeleteItems(ctx context.Context, cartID uuid.UUID) error {
	return translate(r.conn.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error, "clear cart items")
}

func (r *gormCarts) MarkCheckedOut(ctx context.Context, id uuid.UUID, expected int64, at time.Time) error {
	res := r.conn.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND version = ? AND status = ?", id, expected, enums.CartStatusOpen).
		Updates(map[string]any{
			"status":         enums.CartStatusCheckedOut,
			"version":        gorm.Expr("version + 1"),
			"checked_out_at": at,
			"updated_at":     at,
		})
	return conditional(res, "mark cart checked out")
}
