// Package mysql implements the ledger store on MySQL.
//
// Every mutation runs in one transaction. Deduplication relies on the
// ledger_operations primary key: a duplicate insert (error 1062) means the
// operation was already applied.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/checkout-saga/internal/payment-service/domain"
)

const errDuplicateEntry = 1062

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		user_id    VARCHAR(64)    NOT NULL PRIMARY KEY,
		credit     DECIMAL(20,4)  NOT NULL DEFAULT 0,
		created_at DATETIME(6)    NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6)    NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
		CHECK (credit >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_operations (
		operation_id VARCHAR(191)  NOT NULL PRIMARY KEY,
		user_id      VARCHAR(64)   NOT NULL,
		kind         VARCHAR(16)   NOT NULL,
		amount       DECIMAL(20,4) NOT NULL,
		created_at   DATETIME(6)   NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		INDEX idx_ledger_operations_user (user_id)
	)`,
}

var _ domain.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}

	s := NewStore(db)
	if err := s.applySchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) applySchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysql: apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, userID string) (*domain.Account, error) {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO accounts (user_id, credit) VALUES (?, 0)`, userID); err != nil {
		return nil, fmt.Errorf("mysql: create account: %w", err)
	}
	return &domain.Account{UserID: userID, Credit: decimal.Zero}, nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*domain.Account, error) {
	return getAccount(ctx, s.db, userID)
}

func (s *Store) AddFunds(ctx context.Context, userID string, amount decimal.Decimal) (*domain.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mysql: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE accounts SET credit = credit + ? WHERE user_id = ?`, amount, userID)
	if err != nil {
		return nil, fmt.Errorf("mysql: add funds: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, domain.ErrAccountNotFound
	}

	acc, err := getAccount(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("mysql: commit: %w", err)
	}
	return acc, nil
}

func (s *Store) Charge(ctx context.Context, userID string, amount decimal.Decimal, operationID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("mysql: begin tx: %w", err)
	}
	defer tx.Rollback()

	if operationID != "" {
		fresh, err := recordOperation(ctx, tx, operationID, userID, domain.OperationCharge, amount)
		if err != nil || !fresh {
			return false, err
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET credit = credit - ?
		WHERE user_id = ? AND credit >= ?`,
		amount, userID, amount,
	)
	if err != nil {
		return false, fmt.Errorf("mysql: charge: %w", err)
	}
	// RowsAffected counts changed rows, so a zero charge reports 0 too.
	if rows, _ := res.RowsAffected(); rows == 0 {
		if _, err := getAccount(ctx, tx, userID); err != nil {
			return false, err
		}
		if !amount.IsZero() {
			return false, domain.ErrInsufficientFunds
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("mysql: commit: %w", err)
	}
	return true, nil
}

func (s *Store) Refund(ctx context.Context, userID string, amount decimal.Decimal, operationID, chargeOperationID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("mysql: begin tx: %w", err)
	}
	defer tx.Rollback()

	if chargeOperationID != "" {
		found, err := lookupCharge(ctx, tx, chargeOperationID, &userID, &amount)
		if err != nil {
			return false, err
		}
		if !found {
			// Cancel the charge id so a charge still in flight dedups.
			cancelled, err := recordOperation(ctx, tx, chargeOperationID, userID, domain.OperationCancelled, decimal.Zero)
			if err != nil {
				return false, err
			}
			if cancelled {
				if err := tx.Commit(); err != nil {
					return false, fmt.Errorf("mysql: commit: %w", err)
				}
				return false, nil
			}
			// The id exists: already cancelled, or the charge committed meanwhile.
			if found, err = lookupCharge(ctx, tx, chargeOperationID, &userID, &amount); err != nil || !found {
				return false, err
			}
		}
	}

	if operationID != "" {
		fresh, err := recordOperation(ctx, tx, operationID, userID, domain.OperationRefund, amount)
		if err != nil || !fresh {
			return false, err
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE accounts SET credit = credit + ? WHERE user_id = ?`, amount, userID)
	if err != nil {
		return false, fmt.Errorf("mysql: refund: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		if _, err := getAccount(ctx, tx, userID); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("mysql: commit: %w", err)
	}
	return true, nil
}

// lookupCharge loads the user and amount of an applied charge.
func lookupCharge(ctx context.Context, tx *sql.Tx, chargeOperationID string, userID *string, amount *decimal.Decimal) (bool, error) {
	err := tx.QueryRowContext(ctx, `
		SELECT user_id, amount FROM ledger_operations
		WHERE operation_id = ? AND kind = ?`,
		chargeOperationID, domain.OperationCharge,
	).Scan(userID, amount)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mysql: lookup charge: %w", err)
	}
	return true, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getAccount(ctx context.Context, q queryer, userID string) (*domain.Account, error) {
	acc := domain.Account{UserID: userID}
	err := q.QueryRowContext(ctx, `SELECT credit FROM accounts WHERE user_id = ?`, userID).Scan(&acc.Credit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mysql: get account: %w", err)
	}
	return &acc, nil
}

// recordOperation reports false when operationID is already present.
func recordOperation(ctx context.Context, tx *sql.Tx, operationID, userID string, kind domain.OperationKind, amount decimal.Decimal) (bool, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_operations (operation_id, user_id, kind, amount)
		VALUES (?, ?, ?, ?)`,
		operationID, userID, kind, amount,
	)
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == errDuplicateEntry {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mysql: record operation: %w", err)
	}
	return true, nil
}
