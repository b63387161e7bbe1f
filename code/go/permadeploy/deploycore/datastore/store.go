package datastore

import (
	"context"

	"gorm.io/gorm"
)

type contextKey string

// ContextKeyTransaction is where WithTransaction stores the open transaction.
const ContextKeyTransaction contextKey = "transaction"

type Store interface {
	Open() error
	Close()
	GetDB() *gorm.DB
	AutoMigrate() error
}

var instance Store

// GetStore returns the store selected by one of the Use* functions.
func GetStore() Store {
	return instance
}

// GetTransaction returns the transaction stored in ctx, or a session on db bound to ctx.
func GetTransaction(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(ContextKeyTransaction).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return db.WithContext(ctx)
}

// WithTransaction runs f inside a transaction on db, reusing one already present in ctx.
func WithTransaction(ctx context.Context, db *gorm.DB, f func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(ContextKeyTransaction).(*gorm.DB); ok && tx != nil {
		return f(ctx)
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return f(context.WithValue(ctx, ContextKeyTransaction, tx))
	})
}
