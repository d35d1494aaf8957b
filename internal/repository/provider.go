package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Querier is the part of sqlx shared by *sqlx.DB and *sqlx.Tx.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

var _ Querier = &sqlx.DB{}
var _ Querier = &sqlx.Tx{}

// Provider runs a function inside one transaction carried by the context.
type Provider interface {
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
}

type providerImpl struct {
	db *sqlx.DB
}

// NewProvider ...
func NewProvider(db *sqlx.DB) Provider {
	return &providerImpl{db: db}
}

type ctxTxKeyType struct{}

var ctxTxKey = ctxTxKeyType{}

// Transact commits when fn returns nil. A nested call joins the outer transaction.
func (p *providerImpl) Transact(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(ctxTxKey).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = fn(context.WithValue(ctx, ctxTxKey, tx))
	if err != nil {
		return err
	}
	return tx.Commit()
}

// querier returns the transaction in ctx, or db outside of one.
func querier(ctx context.Context, db *sqlx.DB) Querier {
	if tx, ok := ctx.Value(ctxTxKey).(*sqlx.Tx); ok {
		return tx
	}
	return db
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func isPostgres(q Querier) bool {
	return q.DriverName() == "postgres"
}
