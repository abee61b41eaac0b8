package services

import (
	"errors"
	"fmt"

	"duka/internal/models"
	"duka/internal/repositories"
)

// InventoryLedger applies stock movements for orders. It is a thin layer
// over a ProductRepository so it can be constructed over transaction-bound
// repositories during callback reconciliation.
type InventoryLedger struct {
	products repositories.ProductRepository
}

// NewInventoryLedger creates a new InventoryLedger.
func NewInventoryLedger(products repositories.ProductRepository) *InventoryLedger {
	return &InventoryLedger{
		products: products,
	}
}

// ReserveCheck validates that each line item's quantity is covered by
// current stock. It is advisory only and places no hold; stock can still be
// taken by another order before the callback commits.
func (l *InventoryLedger) ReserveCheck(items []models.OrderItem) error {
	for _, item := range items {
		product, err := l.products.GetByID(item.ProductID)
		if err != nil {
			return err
		}
		if product.Stock < item.Quantity {
			return fmt.Errorf("product %s (requested: %d, available: %d): %w",
				product.Name, item.Quantity, product.Stock, repositories.ErrInsufficientStock)
		}
	}
	return nil
}

// CommitDecrement subtracts the ordered quantities from stock. It must be
// called at most once per order; the caller's idempotency guard enforces
// that. If any item's stock has vanished since checkout, already-applied
// decrements are put back and ErrOversellConflict is returned.
func (l *InventoryLedger) CommitDecrement(items []models.OrderItem) error {
	applied := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		if err := l.products.DecrementStock(item.ProductID, item.Quantity); err != nil {
			for _, done := range applied {
				if restoreErr := l.products.IncrementStock(done.ProductID, done.Quantity); restoreErr != nil {
					// The surrounding transaction rolls everything back.
					return fmt.Errorf("failed to compensate stock decrement for product %s: %w", done.ProductID, restoreErr)
				}
			}
			if errors.Is(err, repositories.ErrInsufficientStock) {
				return fmt.Errorf("product %s: %w", item.ProductID, ErrOversellConflict)
			}
			return err
		}
		applied = append(applied, item)
	}
	return nil
}

// Restore adds the ordered quantities back to stock. It compensates a
// committed decrement when a paid order is cancelled; the payment path
// itself never calls it.
func (l *InventoryLedger) Restore(items []models.OrderItem) error {
	for _, item := range items {
		if err := l.products.IncrementStock(item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}
