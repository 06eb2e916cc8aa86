package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type contextKey string

// DBTxKey carries an open transaction through a request context so that
// repository calls inside the same unit of work share it.
const DBTxKey contextKey = "db_tx"

// WithTx returns a child context carrying tx.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// TxFromContext returns the transaction stored in ctx, or nil when the
// context carries none. Repositories fall back to the pool in that case.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, ok := ctx.Value(DBTxKey).(pgx.Tx)
	if !ok {
		return nil
	}
	return tx
}
