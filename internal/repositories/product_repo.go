package repositories

import (
	"errors"

	"duka/internal/models"
)

// ErrInsufficientStock is returned by DecrementStock when a product's
// current stock is lower than the requested quantity.
var ErrInsufficientStock = errors.New("insufficient stock")

// ProductRepository defines the interface for product data access.
type ProductRepository interface {
	GetAll() ([]models.Product, error)
	GetByID(id string) (*models.Product, error)
	Create(product *models.Product) error
	Update(product *models.Product) error
	Delete(id string) error
	// DecrementStock atomically subtracts quantity from the product's stock,
	// failing with ErrInsufficientStock if stock would go negative.
	DecrementStock(id string, quantity int) error
	// IncrementStock adds quantity back to the product's stock.
	IncrementStock(id string, quantity int) error
}
