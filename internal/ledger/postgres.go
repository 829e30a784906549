package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresLedger implements Ledger on the ledger_accounts table.
type PostgresLedger struct {
	db *sqlx.DB
}

// NewPostgresLedger creates a PostgreSQL-backed ledger.
func NewPostgresLedger(db *sqlx.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Balance(ctx context.Context, account string) (int64, error) {
	var balance int64
	err := l.db.GetContext(ctx, &balance, `SELECT balance FROM ledger_accounts WHERE account = $1`, account)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return balance, nil
}

// Credit mints amount into account.
func (l *PostgresLedger) Credit(ctx context.Context, account string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ledger_accounts (account, balance)
		VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET balance = ledger_accounts.balance + EXCLUDED.balance, updated_at = NOW()
	`, account, amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	return nil
}

func (l *PostgresLedger) Transfer(ctx context.Context, from, to string, amount int64) (err error) {
	if err := validateTransfer(from, to, amount); err != nil {
		return err
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var blocked bool
	switch qerr := tx.GetContext(ctx, &blocked, `SELECT blocked FROM ledger_accounts WHERE account = $1`, to); {
	case errors.Is(qerr, sql.ErrNoRows):
	case qerr != nil:
		return fmt.Errorf("query recipient: %w", qerr)
	}
	if blocked {
		return fmt.Errorf("%w: %s", ErrRejected, to)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE ledger_accounts SET balance = balance - $2, updated_at = NOW()
		WHERE account = $1 AND balance >= $2
	`, from, amount)
	if err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, from)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_accounts (account, balance)
		VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET balance = ledger_accounts.balance + EXCLUDED.balance, updated_at = NOW()
	`, to, amount); err != nil {
		return fmt.Errorf("credit %s: %w", to, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer: %w", err)
	}
	return nil
}
