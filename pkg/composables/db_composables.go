package composables

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spkampus/portal/pkg/constants"
	"github.com/spkampus/portal/pkg/repo"
)

var (
	ErrNoTx   = errors.New("no transaction found in context")
	ErrNoPool = errors.New("no database pool found in context")
)

func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, constants.TxKey, tx)
}

// UseTx returns the transaction bound to ctx, falling back to the pool.
func UseTx(ctx context.Context) (repo.Tx, error) {
	if tx, ok := ctx.Value(constants.TxKey).(pgx.Tx); ok && tx != nil {
		return tx, nil
	}
	return UsePool(ctx)
}

func WithPool(ctx context.Context, pool *pgxpool.Pool) context.Context {
	return context.WithValue(ctx, constants.PoolKey, pool)
}

func UsePool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, ok := ctx.Value(constants.PoolKey).(*pgxpool.Pool)
	if !ok || pool == nil {
		return nil, ErrNoPool
	}
	return pool, nil
}

// InTx runs fn in a read-committed transaction. An outer transaction already
// bound to ctx is reused so nested calls commit once.
func InTx(ctx context.Context, fn func(context.Context) error) error {
	return inTxWithOptions(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

// InSnapshotTx runs fn in a read-only repeatable-read transaction so every
// query inside fn observes the same snapshot.
func InSnapshotTx(ctx context.Context, fn func(context.Context) error) error {
	return inTxWithOptions(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, fn)
}

func inTxWithOptions(ctx context.Context, opts pgx.TxOptions, fn func(context.Context) error) error {
	if existing, ok := ctx.Value(constants.TxKey).(pgx.Tx); ok && existing != nil {
		return fn(ctx)
	}

	pool, err := UsePool(ctx)
	if err != nil {
		return err
	}

	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	if err := fn(WithTx(ctx, tx)); err != nil {
		if rErr := tx.Rollback(ctx); rErr != nil && !errors.Is(rErr, pgx.ErrTxClosed) {
			return errors.Join(err, rErr)
		}
		return err
	}
	return tx.Commit(ctx)
}
