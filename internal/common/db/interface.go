package db

import "context"

// Database is a pooled SQL connection.
type Database interface {
	Querier

	// Transaction runs fn inside a transaction. It commits when fn returns
	// nil and rolls back otherwise.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Transaction is an open transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Rows iterates a result set.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is a single-row result. Scan returns sql.ErrNoRows when empty.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result reports the outcome of Exec.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
