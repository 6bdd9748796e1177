package product

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

type productStore interface {
	Create(ctx context.Context, p *models.Product) error
	Save(ctx context.Context, p *models.Product) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	List(ctx context.Context, cursor *pagination.Cursor, limit int, includeInactive bool) ([]models.Product, error)
}

// Service exposes catalog reads, admin writes and price quotes for checkout.
type Service struct {
	repo productStore
}

func NewService(repo productStore) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	return &Service{repo: repo}, nil
}

func (s *Service) CreateProduct(ctx context.Context, input CreateProductInput) (*ProductDTO, error) {
	sku := strings.TrimSpace(input.SKU)
	name := strings.TrimSpace(input.Name)
	if sku == "" || name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku and name are required")
	}
	if input.PriceCents < 0 || input.AvailableQty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price and quantity must be non-negative")
	}
	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}

	p := &models.Product{
		ID:           uuid.New(),
		SKU:          sku,
		Name:         name,
		Description:  input.Description,
		PriceCents:   input.PriceCents,
		AvailableQty: input.AvailableQty,
		IsActive:     active,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, mapWriteError(err, "create product")
	}
	return NewProductDTO(p), nil
}

func (s *Service) UpdateProduct(ctx context.Context, id uuid.UUID, input UpdateProductInput) (*ProductDTO, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.SKU != nil {
		if p.SKU = strings.TrimSpace(*input.SKU); p.SKU == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku cannot be empty")
		}
	}
	if input.Name != nil {
		if p.Name = strings.TrimSpace(*input.Name); p.Name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "name cannot be empty")
		}
	}
	if input.Description != nil {
		p.Description = input.Description
	}
	if input.PriceCents != nil {
		if *input.PriceCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must be non-negative")
		}
		p.PriceCents = *input.PriceCents
	}
	if input.AvailableQty != nil {
		if *input.AvailableQty < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be non-negative")
		}
		p.AvailableQty = *input.AvailableQty
	}
	if input.IsActive != nil {
		p.IsActive = *input.IsActive
	}
	if err := s.repo.Save(ctx, p); err != nil {
		return nil, mapWriteError(err, "update product")
	}
	return NewProductDTO(p), nil
}

// DeleteProduct deactivates the listing. Order line items keep referencing it.
func (s *Service) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	p, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !p.IsActive {
		return nil
	}
	p.IsActive = false
	if err := s.repo.Save(ctx, p); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "deactivate product")
	}
	return nil
}

// GetProduct returns a listing. Inactive listings are only visible to admins.
func (s *Service) GetProduct(ctx context.Context, id uuid.UUID, includeInactive bool) (*ProductDTO, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive && !includeInactive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return NewProductDTO(p), nil
}

func (s *Service) ListProducts(ctx context.Context, params pagination.Params, includeInactive bool) (*pagination.Page[ProductDTO], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, cursor, params.Limit, includeInactive)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "list products")
	}
	page := pagination.BuildPage(rows, params.Limit, func(p models.Product) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	out := &pagination.Page[ProductDTO]{Items: make([]ProductDTO, 0, len(page.Items)), NextCursor: page.NextCursor}
	for i := range page.Items {
		out.Items = append(out.Items, *NewProductDTO(&page.Items[i]))
	}
	return out, nil
}

// ResolvePrice returns the current unit price of an active listing.
func (s *Service) ResolvePrice(ctx context.Context, id uuid.UUID) (int64, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return 0, err
	}
	if !p.IsActive {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "product is not available").
			WithDetails(map[string]any{"product_id": id})
	}
	return p.PriceCents, nil
}

// CurrentPrices quotes the listed products. Unknown ids are absent from the map.
func (s *Service) CurrentPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]PriceQuote, error) {
	rows, err := s.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "load catalog prices")
	}
	out := make(map[uuid.UUID]PriceQuote, len(rows))
	for _, p := range rows {
		out[p.ID] = PriceQuote{PriceCents: p.PriceCents, AvailableQty: p.AvailableQty, Active: p.IsActive}
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "load product")
	}
	return p, nil
}

func mapWriteError(err error, op string) error {
	if db.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "sku already exists")
	}
	return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, op)
}
