// Package postgres stores orders in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/checkout-saga/internal/order-service/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id          TEXT        PRIMARY KEY,
    user_id     TEXT        NOT NULL,
    paid        BOOLEAN     NOT NULL DEFAULT FALSE,
    paid_by     TEXT        NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id, created_at);

-- One row per unit; position keeps insertion order.
CREATE TABLE IF NOT EXISTS order_items (
    position    BIGSERIAL   PRIMARY KEY,
    order_id    TEXT        NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    item_id     TEXT        NOT NULL,
    price       NUMERIC     NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id, position);
`

// Open connects a pool with the otelpgx tracer and applies the schema.
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return pool, nil
}

type Repository struct {
	pool *pgxpool.Pool
}

var _ domain.Repository = (*Repository)(nil)

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, order *domain.Order) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO orders (id, user_id, paid, paid_by, created_at) VALUES ($1, $2, $3, $4, $5)`,
		order.ID, order.UserID, order.Paid, order.PaidBy, order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", order.ID, err)
	}
	return nil
}

var snapshotRead = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// Get reads the order row and its items from one snapshot.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Order, error) {
	var o domain.Order
	err := pgx.BeginTxFunc(ctx, r.pool, snapshotRead, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT id, user_id, paid, paid_by, created_at FROM orders WHERE id = $1`, id,
		).Scan(&o.ID, &o.UserID, &o.Paid, &o.PaidBy, &o.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres: get order %s: %w", id, err)
		}

		o.Items, err = items(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func items(ctx context.Context, tx pgx.Tx, id string) ([]domain.OrderItem, error) {
	rows, err := tx.Query(ctx,
		`SELECT item_id, price::text FROM order_items WHERE order_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: get items of %s: %w", id, err)
	}
	defer rows.Close()

	var out []domain.OrderItem
	for rows.Next() {
		var itemID, price string
		if err := rows.Scan(&itemID, &price); err != nil {
			return nil, fmt.Errorf("postgres: scan item of %s: %w", id, err)
		}
		amount, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("postgres: price of %s in %s: %w", itemID, id, err)
		}
		out = append(out, domain.OrderItem{ItemID: itemID, Price: amount})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get items of %s: %w", id, err)
	}
	return out, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM orders WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders of %s: %w", userID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders of %s: %w", userID, err)
	}
	return ids, nil
}

func (r *Repository) AddItem(ctx context.Context, id string, item domain.OrderItem) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockUnpaid(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO order_items (order_id, item_id, price) VALUES ($1, $2, $3::numeric)`,
			id, item.ItemID, item.Price.String(),
		)
		if err != nil {
			return fmt.Errorf("postgres: add item %s to %s: %w", item.ItemID, id, err)
		}
		return nil
	})
}

func (r *Repository) RemoveItem(ctx context.Context, id, itemID string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockUnpaid(ctx, tx, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			DELETE FROM order_items
			WHERE position = (
				SELECT position FROM order_items
				WHERE order_id = $1 AND item_id = $2
				ORDER BY position DESC
				LIMIT 1
			)`, id, itemID)
		if err != nil {
			return fmt.Errorf("postgres: remove item %s from %s: %w", itemID, id, err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrItemNotInOrder
		}
		return nil
	})
}

// MarkPaid holds the order row lock while it compares the items, so AddItem
// and RemoveItem cannot slip in between.
func (r *Repository) MarkPaid(ctx context.Context, id, sagaID string, expected []string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			paid   bool
			paidBy string
		)
		err := tx.QueryRow(ctx, `SELECT paid, paid_by FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&paid, &paidBy)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return domain.ErrOrderNotFound
		case err != nil:
			return fmt.Errorf("postgres: lock order %s: %w", id, err)
		case paid && paidBy == sagaID:
			return nil
		case paid:
			return domain.ErrOrderPaid
		}

		current, err := items(ctx, tx, id)
		if err != nil {
			return err
		}
		if o := (domain.Order{Items: current}); !o.HasItems(expected) {
			return domain.ErrOrderChanged
		}

		if _, err := tx.Exec(ctx, `UPDATE orders SET paid = TRUE, paid_by = $2 WHERE id = $1`, id, sagaID); err != nil {
			return fmt.Errorf("postgres: mark %s paid: %w", id, err)
		}
		return nil
	})
}

// lockUnpaid takes a row lock on the order for the rest of tx.
func lockUnpaid(ctx context.Context, tx pgx.Tx, id string) error {
	var paid bool
	err := tx.QueryRow(ctx, `SELECT paid FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&paid)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrOrderNotFound
	case err != nil:
		return fmt.Errorf("postgres: lock order %s: %w", id, err)
	case paid:
		return domain.ErrOrderPaid
	}
	return nil
}
