package repositories

// TxRepos exposes repositories bound to a single transaction.
type TxRepos interface {
	Orders() OrderRepository
	Products() ProductRepository
	Payments() PaymentRepository
}

// TxManager runs a function inside a transaction. If the function returns an
// error, every write made through the transaction-bound repositories is
// rolled back.
type TxManager interface {
	InTransaction(fn func(repos TxRepos) error) error
}
