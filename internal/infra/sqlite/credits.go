package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/autopress/autopress/internal/domain"
)

// ─── Credit Account Operations ──────────────────────────────────────────────
// Deduct and Credit run as single BEGIN IMMEDIATE transactions: balances
// are read and written under the write lock, so a balance can never be
// decided from a stale read. On lock contention the caller receives
// ErrStorageConflict and must re-run the whole operation.

// CreateAccount provisions a new account. A nonzero starting balance is
// recorded as an initial-grant ledger row in the same transaction, so the
// ledger reconstructs the balance from the very first row. An existing
// owner fails with ErrAccountExists — provisioning never silently resets
// balances.
func (db *DB) CreateAccount(acct domain.CreditAccount, tx domain.CreditTransaction) error {
	return db.inTx(func(q *sql.Tx) error {
		res, err := q.Exec(`
			INSERT INTO credit_accounts (owner_id, subscription_balance, top_up_balance, unlimited,
				lifetime_used, lifetime_purchased, updated_at)
			VALUES (?, ?, ?, ?, 0, 0, datetime('now'))
			ON CONFLICT(owner_id) DO NOTHING
		`, acct.OwnerID, acct.SubscriptionBalance, acct.TopUpBalance, boolInt(acct.Unlimited))
		if err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		if err := requireRow(res, domain.ErrAccountExists); err != nil {
			return err
		}

		if acct.Total() == 0 {
			return nil
		}
		tx.Amount = acct.Total()
		tx.BalanceAfter = acct.Total()
		return insertLedgerRow(q, tx)
	})
}

// UpsertAccount writes an account row directly, bypassing the ledger.
// Raw fixture/repair write only — provisioning goes through CreateAccount.
func (db *DB) UpsertAccount(acct domain.CreditAccount) error {
	_, err := db.db.Exec(`
		INSERT INTO credit_accounts (owner_id, subscription_balance, top_up_balance, unlimited,
			lifetime_used, lifetime_purchased, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(owner_id) DO UPDATE SET
			subscription_balance = excluded.subscription_balance,
			top_up_balance       = excluded.top_up_balance,
			unlimited            = excluded.unlimited,
			lifetime_used        = excluded.lifetime_used,
			lifetime_purchased   = excluded.lifetime_purchased,
			updated_at           = datetime('now')
	`, acct.OwnerID, acct.SubscriptionBalance, acct.TopUpBalance, boolInt(acct.Unlimited),
		acct.LifetimeUsed, acct.LifetimePurchased)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// GetAccount returns the credit account for an owner.
func (db *DB) GetAccount(ownerID string) (*domain.CreditAccount, error) {
	acct, err := getAccountTx(db.db.QueryRow, ownerID)
	if err != nil {
		return nil, err
	}
	return acct, nil
}

type queryRowFn func(query string, args ...any) *sql.Row

func getAccountTx(queryRow queryRowFn, ownerID string) (*domain.CreditAccount, error) {
	var (
		acct      domain.CreditAccount
		unlimited int
		updated   string
	)
	err := queryRow(`
		SELECT owner_id, subscription_balance, top_up_balance, unlimited,
			lifetime_used, lifetime_purchased, updated_at
		FROM credit_accounts WHERE owner_id = ?
	`, ownerID).Scan(&acct.OwnerID, &acct.SubscriptionBalance, &acct.TopUpBalance,
		&unlimited, &acct.LifetimeUsed, &acct.LifetimePurchased, &updated)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	acct.Unlimited = unlimited == 1
	acct.UpdatedAt = parseTime(updated)
	return &acct, nil
}

// Deduct atomically removes amount from an account, draining top-up before
// subscription, and appends the ledger row. Unlimited accounts get a
// zero-effect ledger row and untouched balances. Insufficient total fails
// with ErrInsufficientCredits and writes nothing — failed checks are not
// spent.
func (db *DB) Deduct(tx domain.CreditTransaction, amount int64) (domain.CreditTransaction, error) {
	err := db.inTx(func(q *sql.Tx) error {
		acct, err := getAccountTx(q.QueryRow, tx.AccountID)
		if err != nil {
			return err
		}

		if acct.Unlimited {
			tx.Amount = 0
			tx.BalanceAfter = acct.Total()
			return insertLedgerRow(q, tx)
		}

		if acct.Total() < amount {
			return domain.ErrInsufficientCredits
		}

		topUpDelta, subDelta := domain.AllocateDeduction(acct.TopUpBalance, acct.SubscriptionBalance, amount)
		res, err := q.Exec(`
			UPDATE credit_accounts
			SET top_up_balance       = top_up_balance - ?,
			    subscription_balance = subscription_balance - ?,
			    lifetime_used        = lifetime_used + ?,
			    updated_at           = datetime('now')
			WHERE owner_id = ? AND top_up_balance >= ? AND subscription_balance >= ?
		`, topUpDelta, subDelta, amount, tx.AccountID, topUpDelta, subDelta)
		if err != nil {
			return fmt.Errorf("apply deduction: %w", err)
		}
		if err := requireRow(res, domain.ErrStorageConflict); err != nil {
			return err
		}

		tx.Amount = -amount
		tx.BalanceAfter = acct.Total() - amount
		return insertLedgerRow(q, tx)
	})
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	return tx, nil
}

// Credit atomically adds amount to the top-up balance (purchases and
// refunds land in top-up by convention) and appends a positive ledger row.
// The unlimited bypass applies to deductions only: a purchase on an
// unlimited account still lands in the top-up tier, so nothing is lost if
// the account is later downgraded.
func (db *DB) Credit(tx domain.CreditTransaction, amount int64, purchase bool) (domain.CreditTransaction, error) {
	err := db.inTx(func(q *sql.Tx) error {
		acct, err := getAccountTx(q.QueryRow, tx.AccountID)
		if err != nil {
			return err
		}

		purchased := int64(0)
		if purchase {
			purchased = amount
		}
		if _, err := q.Exec(`
			UPDATE credit_accounts
			SET top_up_balance     = top_up_balance + ?,
			    lifetime_purchased = lifetime_purchased + ?,
			    updated_at         = datetime('now')
			WHERE owner_id = ?
		`, amount, purchased, tx.AccountID); err != nil {
			return fmt.Errorf("apply credit: %w", err)
		}

		tx.Amount = amount
		tx.BalanceAfter = acct.Total() + amount
		return insertLedgerRow(q, tx)
	})
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	return tx, nil
}

// History returns the most recent ledger rows for an account, newest first.
func (db *DB) History(ownerID string, limit int) ([]domain.CreditTransaction, error) {
	rows, err := db.db.Query(`
		SELECT id, account_id, amount, reason, balance_after, created_at
		FROM credit_transactions
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger history: %w", err)
	}
	defer rows.Close()

	var txs []domain.CreditTransaction
	for rows.Next() {
		var tx domain.CreditTransaction
		var created string
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Amount, &tx.Reason, &tx.BalanceAfter, &created); err != nil {
			return nil, err
		}
		tx.CreatedAt = parseTime(created)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// SumLedger returns the sum of all ledger amounts for an account. For
// non-unlimited accounts this reconstructs the current total balance.
func (db *DB) SumLedger(ownerID string) (int64, error) {
	var sum int64
	err := db.db.QueryRow(`
		SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE account_id = ?
	`, ownerID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return sum, nil
}

// ─── Transaction Helpers ────────────────────────────────────────────────────

func (db *DB) inTx(fn func(*sql.Tx) error) error {
	// The DSN's _txlock=immediate makes this BEGIN IMMEDIATE: the write
	// lock is taken up front, so reads inside the transaction cannot be
	// invalidated by a concurrent writer.
	tx, err := db.db.Begin()
	if err != nil {
		if isBusy(err) {
			return domain.ErrStorageConflict
		}
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return domain.ErrStorageConflict
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func insertLedgerRow(q *sql.Tx, tx domain.CreditTransaction) error {
	_, err := q.Exec(`
		INSERT INTO credit_transactions (id, account_id, amount, reason, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tx.ID, tx.AccountID, tx.Amount, tx.Reason, tx.BalanceAfter, formatTime(tx.CreatedAt))
	if err != nil {
		return fmt.Errorf("append ledger row: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SQLITE_BUSY")
}
