package repositories

import "sync"

// MockTxManager is an in-memory TxManager over the mock repositories. A
// single mutex serializes transactions, which also stands in for the
// row-level lock concurrent callbacks take in the GORM implementation.
// On error the repositories are restored from a snapshot taken at the
// start of the transaction, giving all-or-nothing semantics.
type MockTxManager struct {
	orders   *MockOrderRepository
	products *MockProductRepository
	payments *MockPaymentRepository
	mu       sync.Mutex
}

// NewMockTxManager creates a MockTxManager over the given mock repositories.
func NewMockTxManager(orders *MockOrderRepository, products *MockProductRepository, payments *MockPaymentRepository) *MockTxManager {
	return &MockTxManager{
		orders:   orders,
		products: products,
		payments: payments,
	}
}

func (m *MockTxManager) Orders() OrderRepository     { return m.orders }
func (m *MockTxManager) Products() ProductRepository { return m.products }
func (m *MockTxManager) Payments() PaymentRepository { return m.payments }

// InTransaction executes fn while holding the transaction mutex, rolling the
// repositories back to their pre-transaction state if fn fails.
func (m *MockTxManager) InTransaction(fn func(repos TxRepos) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	orderState := m.orders.snapshot()
	productState := m.products.snapshot()
	paymentState := m.payments.snapshot()

	if err := fn(m); err != nil {
		m.orders.restore(orderState)
		m.products.restore(productState)
		m.payments.restore(paymentState)
		return err
	}
	return nil
}
