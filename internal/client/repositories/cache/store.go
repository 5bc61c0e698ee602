package cache

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/plotkeeper/internal/dbx"
)

// Store owns the cache database and hands out repositories bound either to
// the database or to a transaction.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Repository returns a repository running outside any transaction.
func (s *Store) Repository() Repository {
	return NewSQLiteRepository(s.db)
}

// WithTx runs fn against a transactional repository. The transaction commits
// when fn returns nil and rolls back otherwise. fn must not use the database
// directly: the cache runs with a single connection.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, NewSQLiteRepository(tx))
	})
}
