package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/internal/store/postgres"
)

// beginner is the part of *pgxpool.Pool and *pgxpool.Conn used to open transactions.
type beginner interface {
	postgres.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the PostgreSQL item store. It implements item.Store.
type Store struct {
	*postgres.Queries
	db   beginner
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Queries: postgres.New(pool),
		db:      pool,
		pool:    pool,
	}
}

// NewScoped returns a store bound to a single acquired connection. The caller
// keeps ownership of conn and releases it when the task that uses it ends.
func NewScoped(conn *pgxpool.Conn) *Store {
	return &Store{
		Queries: postgres.New(conn),
		db:      conn,
	}
}

// Pool returns the backing pool, or nil for a connection-scoped store.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) WithTx(ctx context.Context, fn func(*postgres.Queries) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.Queries.WithTx(tx)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) CreateItem(ctx context.Context, it *item.Item) (*item.Item, error) {
	if err := s.InsertItemRow(ctx, it); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", item.ErrConflict, it.SourceKey())
		}
		return nil, fmt.Errorf("insert %s: %w", it.Kind, err)
	}
	return s.GetItem(ctx, it.Kind, it.ID)
}

func (s *Store) GetItem(ctx context.Context, kind item.Kind, id uuid.UUID) (*item.Item, error) {
	it, err := s.GetItemRow(ctx, kind, id, false)
	if err != nil {
		return nil, mapNotFound(err, kind, id)
	}
	return it, nil
}

// UpdateItem locks the row, checks the status transition and applies the
// patch in one transaction.
func (s *Store) UpdateItem(ctx context.Context, kind item.Kind, id uuid.UUID, p *item.Patch) (*item.Item, error) {
	var updated *item.Item
	err := s.WithTx(ctx, func(q *postgres.Queries) error {
		current, err := q.GetItemRow(ctx, kind, id, true)
		if err != nil {
			return mapNotFound(err, kind, id)
		}
		if p.Status != nil {
			if err := item.ValidateTransition(current.Status, *p.Status); err != nil {
				return err
			}
		}
		updated, err = q.UpdateItemRow(ctx, kind, id, p)
		if err != nil {
			return fmt.Errorf("update %s %s: %w", kind, id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) ListItems(ctx context.Context, f item.Filter) ([]item.Item, error) {
	kinds := []item.Kind{item.KindFile, item.KindLink}
	if f.Kind != "" {
		kinds = []item.Kind{f.Kind}
	}

	var out []item.Item
	for _, k := range kinds {
		items, err := s.ListItemRows(ctx, k, f)
		if err != nil {
			return nil, fmt.Errorf("list %s items: %w", k, err)
		}
		out = append(out, items...)
	}
	return out, nil
}

func (s *Store) DeleteItem(ctx context.Context, kind item.Kind, id uuid.UUID) error {
	n, err := s.DeleteItemRow(ctx, kind, id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", item.ErrNotFound, kind, id)
	}
	return nil
}

func mapNotFound(err error, kind item.Kind, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", item.ErrNotFound, kind, id)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
