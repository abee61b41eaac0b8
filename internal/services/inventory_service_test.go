package services_test

import (
	"testing"

	"duka/internal/models"
	"duka/internal/repositories"
	"duka/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedgerFixture(t *testing.T) (*services.InventoryLedger, *repositories.MockProductRepository) {
	t.Helper()
	products := repositories.NewMockProductRepository()
	require.NoError(t, products.Create(&models.Product{ID: "prod-1", Name: "Moringa Powder", Price: 250, Stock: 10}))
	require.NoError(t, products.Create(&models.Product{ID: "prod-2", Name: "Cinnamon Sticks", Price: 125, Stock: 3}))
	return services.NewInventoryLedger(products), products
}

func TestReserveCheck(t *testing.T) {
	ledger, _ := newLedgerFixture(t)

	err := ledger.ReserveCheck([]models.OrderItem{
		{ProductID: "prod-1", Quantity: 10},
		{ProductID: "prod-2", Quantity: 3},
	})
	assert.NoError(t, err)

	err = ledger.ReserveCheck([]models.OrderItem{
		{ProductID: "prod-2", Quantity: 4},
	})
	assert.ErrorIs(t, err, repositories.ErrInsufficientStock)

	err = ledger.ReserveCheck([]models.OrderItem{
		{ProductID: "missing", Quantity: 1},
	})
	assert.Error(t, err)
}

func TestCommitDecrement(t *testing.T) {
	ledger, products := newLedgerFixture(t)

	err := ledger.CommitDecrement([]models.OrderItem{
		{ProductID: "prod-1", Quantity: 4},
		{ProductID: "prod-2", Quantity: 2},
	})
	require.NoError(t, err)

	p1, _ := products.GetByID("prod-1")
	p2, _ := products.GetByID("prod-2")
	assert.Equal(t, 6, p1.Stock)
	assert.Equal(t, 1, p2.Stock)
}

func TestCommitDecrement_OversellCompensatesAppliedItems(t *testing.T) {
	ledger, products := newLedgerFixture(t)

	// The first item fits, the second does not; the first decrement must be
	// put back before the conflict is reported.
	err := ledger.CommitDecrement([]models.OrderItem{
		{ProductID: "prod-1", Quantity: 4},
		{ProductID: "prod-2", Quantity: 5},
	})
	assert.ErrorIs(t, err, services.ErrOversellConflict)

	p1, _ := products.GetByID("prod-1")
	p2, _ := products.GetByID("prod-2")
	assert.Equal(t, 10, p1.Stock)
	assert.Equal(t, 3, p2.Stock)
}

func TestRestore(t *testing.T) {
	ledger, products := newLedgerFixture(t)

	require.NoError(t, ledger.CommitDecrement([]models.OrderItem{{ProductID: "prod-1", Quantity: 4}}))
	require.NoError(t, ledger.Restore([]models.OrderItem{{ProductID: "prod-1", Quantity: 4}}))

	p1, _ := products.GetByID("prod-1")
	assert.Equal(t, 10, p1.Stock)
}
