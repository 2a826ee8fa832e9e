package output

import (
	"context"
)

// TransactionManager runs a unit of work against one store atomically
type TransactionManager interface {
	// InTransaction executes fn within a transaction carried by txCtx.
	// If fn returns an error or panics, the transaction is rolled back.
	InTransaction(ctx context.Context, fn func(txCtx context.Context) error) error
}
