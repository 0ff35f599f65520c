package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
)

type UpsertProductInput struct {
	ID                string `json:"id"`
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	Category          string `json:"category"`
	Price             int64  `json:"price"`
	StockQuantity     int64  `json:"stockQuantity"`
	LowStockThreshold *int64 `json:"lowStockThreshold"`
	Active            *bool  `json:"active"`
}

func (in UpsertProductInput) validate() error {
	switch {
	case strings.TrimSpace(in.SKU) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "sku is required")
	case strings.TrimSpace(in.Name) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	case in.Price < 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "price cannot be negative")
	case in.StockQuantity < 0:
		return ErrNegativeStock
	case in.LowStockThreshold != nil && *in.LowStockThreshold < 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "low stock threshold cannot be negative")
	}
	return nil
}

// UpsertProduct creates a product or replaces its catalog fields. Reserved
// quantity is owned by reservations and is never written here.
func (s *Service) UpsertProduct(ctx context.Context, in UpsertProductInput) (Product, error) {
	if err := in.validate(); err != nil {
		return Product{}, err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	unlock := s.locks.Lock(productKey(in.ID))
	defer unlock()

	var out Product
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		now := s.clock.Now()
		products, err := s.store.GetProductsForUpdate(ctx, []string{in.ID})
		if err != nil {
			return err
		}
		p, exists := products[in.ID]
		if !exists {
			p = Product{ID: in.ID, Active: true, LowStockThreshold: s.lowStockThreshold, CreatedAt: now}
		}
		if in.StockQuantity < p.ReservedQuantity {
			return fmt.Errorf("stock %d, reserved %d: %w", in.StockQuantity, p.ReservedQuantity, ErrBelowReserved)
		}
		p.SKU = in.SKU
		p.Name = in.Name
		p.Category = in.Category
		p.Price = in.Price
		p.StockQuantity = in.StockQuantity
		if in.LowStockThreshold != nil {
			p.LowStockThreshold = *in.LowStockThreshold
		}
		if in.Active != nil {
			p.Active = *in.Active
		}
		p.UpdatedAt = now
		if err := s.store.SaveProduct(ctx, p); err != nil {
			return err
		}
		out = p
		if p.lowOnStock() {
			return s.emitLowStock(ctx, p)
		}
		return nil
	})
	return out, err
}

// AdjustStock adds delta to a product's stock. The result may not go
// negative or below what is currently reserved.
func (s *Service) AdjustStock(ctx context.Context, productID string, delta int64, reason string) (Product, error) {
	if delta == 0 {
		return Product{}, pkgerrors.New(pkgerrors.CodeValidation, "delta must be non-zero")
	}
	unlock := s.locks.Lock(productKey(productID))
	defer unlock()

	var out Product
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		products, err := s.store.GetProductsForUpdate(ctx, []string{productID})
		if err != nil {
			return err
		}
		p, ok := products[productID]
		if !ok {
			return ErrProductNotFound
		}
		next, err := addQuantity(p.StockQuantity, delta)
		if err != nil {
			return err
		}
		if next < 0 {
			return ErrNegativeStock
		}
		if next < p.ReservedQuantity {
			return fmt.Errorf("stock %d, reserved %d: %w", next, p.ReservedQuantity, ErrBelowReserved)
		}
		p.StockQuantity = next
		p.UpdatedAt = s.clock.Now()
		if err := s.store.SaveProduct(ctx, p); err != nil {
			return err
		}
		out = p
		if delta < 0 && p.lowOnStock() {
			return s.emitLowStock(ctx, p)
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"product_id": productID,
		"delta":      delta,
		"reason":     reason,
	}), "stock adjusted")
	return out, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	return s.store.GetProduct(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.store.ListProducts(ctx)
}

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// SearchProducts finds active products whose name, SKU or category contains
// term. limit 0 means the default of 10.
func (s *Service) SearchProducts(ctx context.Context, term string, limit int) ([]Product, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "search term is required")
	}
	switch {
	case limit < 0 || limit > maxSearchLimit:
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "limit must be between 1 and %d", maxSearchLimit)
	case limit == 0:
		limit = defaultSearchLimit
	}
	return s.store.SearchProducts(ctx, term, limit)
}

// AvailableQuantity is what a new reservation could still take of a product.
func (s *Service) AvailableQuantity(ctx context.Context, id string) (int64, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.Available(), nil
}

// DeactivateProduct takes a product off sale. The row stays so pending
// reservations can still be confirmed or released against it.
func (s *Service) DeactivateProduct(ctx context.Context, id string) (Product, error) {
	unlock := s.locks.Lock(productKey(id))
	defer unlock()

	var out Product
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		products, err := s.store.GetProductsForUpdate(ctx, []string{id})
		if err != nil {
			return err
		}
		p, ok := products[id]
		if !ok {
			return ErrProductNotFound
		}
		out = p
		if !p.Active {
			return nil
		}
		p.Active = false
		p.UpdatedAt = s.clock.Now()
		out = p
		return s.store.SaveProduct(ctx, p)
	})
	if err != nil {
		return Product{}, err
	}
	s.logg.Info(s.logg.WithField(ctx, "product_id", id), "product deactivated")
	return out, nil
}
