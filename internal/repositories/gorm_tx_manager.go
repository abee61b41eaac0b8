package repositories

import (
	"gorm.io/gorm"
)

// GORMTxManager runs functions inside a database transaction, handing them
// repositories bound to that transaction.
type GORMTxManager struct {
	db *gorm.DB
}

// NewGORMTxManager creates a new instance of GORMTxManager.
func NewGORMTxManager(db *gorm.DB) *GORMTxManager {
	return &GORMTxManager{db: db}
}

type gormTxRepos struct {
	tx *gorm.DB
}

func (r *gormTxRepos) Orders() OrderRepository     { return NewGORMOrderRepository(r.tx) }
func (r *gormTxRepos) Products() ProductRepository { return NewGORMProductRepository(r.tx) }
func (r *gormTxRepos) Payments() PaymentRepository { return NewGORMPaymentRepository(r.tx) }

// InTransaction executes fn inside a transaction; an error from fn rolls
// back every write made through the bound repositories.
func (m *GORMTxManager) InTransaction(fn func(repos TxRepos) error) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormTxRepos{tx: tx})
	})
}
