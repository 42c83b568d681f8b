package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"conto/internal/core"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps compare correctly as
// strings in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a transaction id does not exist.
var ErrNotFound = errors.New("transaction not found")

// SQLiteStore is the local backend implementation of TransactionStore and
// BalanceReader, backed by a sqlite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const transactionColumns = `id, user_id, amount, currency, eur_amount, exchange_rate, rate_date,
	tx_type, main_category, sub_category, is_money_transfer, hide_from_totals,
	date, created_at, updated_at, split_across_year`

// List returns transactions matching the query, ordered date desc,
// created_at desc.
func (s *SQLiteStore) List(ctx context.Context, q Query) ([]core.Transaction, error) {
	where := "user_id = ?"
	args := []any{q.UserID}

	if !q.From.IsZero() {
		where += " AND date >= ?"
		args = append(args, q.From.UTC().Format(timeLayout))
	}
	if !q.To.IsZero() {
		where += " AND date < ?"
		args = append(args, q.To.UTC().Format(timeLayout))
	}
	if q.MainCategory != "" {
		where += " AND main_category = ?"
		args = append(args, q.MainCategory)
	}
	if q.SubCategory != "" {
		where += " AND sub_category = ?"
		args = append(args, q.SubCategory)
	}
	if q.SplitOnly {
		where += " AND split_across_year = 1"
	}

	query := fmt.Sprintf("SELECT %s FROM transactions WHERE %s ORDER BY date DESC, created_at DESC", transactionColumns, where)
	if q.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// ListUpdatedSince returns transactions whose updated_at is after the
// given time.
func (s *SQLiteStore) ListUpdatedSince(ctx context.Context, userID string, since time.Time) ([]core.Transaction, error) {
	query := fmt.Sprintf("SELECT %s FROM transactions WHERE user_id = ? AND updated_at > ? ORDER BY date DESC, created_at DESC", transactionColumns)

	rows, err := s.db.QueryContext(ctx, query, userID, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("list updated transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// Insert stores a new transaction. A server id replaces any temporary id,
// and created_at/updated_at are stamped here.
func (s *SQLiteStore) Insert(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	now := s.now().UTC()
	if tx.ID == "" || core.IsTempID(tx.ID) {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = now
	tx.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, user_id, amount, currency, eur_amount, exchange_rate, rate_date,
			tx_type, main_category, sub_category, is_money_transfer, hide_from_totals,
			date, created_at, updated_at, split_across_year
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Amount, tx.Currency, tx.EURAmount, tx.ExchangeRate, tx.RateDate,
		string(tx.Type), tx.MainCategory, tx.SubCategory, tx.IsMoneyTransfer, tx.HideFromTotals,
		tx.Date.UTC().Format(timeLayout),
		tx.CreatedAt.Format(timeLayout),
		tx.UpdatedAt.Format(timeLayout),
		tx.SplitAcrossYear,
	)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	return tx, nil
}

// Update applies a partial patch and returns the stored record.
func (s *SQLiteStore) Update(ctx context.Context, id string, patch core.TransactionPatch) (core.Transaction, error) {
	tx, err := s.get(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}

	tx = tx.Apply(patch)
	tx.UpdatedAt = s.now().UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE transactions SET
			amount = ?, currency = ?, eur_amount = ?, exchange_rate = ?, rate_date = ?,
			tx_type = ?, main_category = ?, sub_category = ?, is_money_transfer = ?,
			hide_from_totals = ?, date = ?, updated_at = ?, split_across_year = ?
		WHERE id = ?`,
		tx.Amount, tx.Currency, tx.EURAmount, tx.ExchangeRate, tx.RateDate,
		string(tx.Type), tx.MainCategory, tx.SubCategory, tx.IsMoneyTransfer,
		tx.HideFromTotals,
		tx.Date.UTC().Format(timeLayout),
		tx.UpdatedAt.Format(timeLayout),
		tx.SplitAcrossYear,
		id,
	)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	return tx, nil
}

// Delete removes a transaction by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// BalanceBeforeDate sums signed EUR amounts of all records strictly before
// the given date. Rows without a resolved conversion do not contribute.
func (s *SQLiteStore) BalanceBeforeDate(ctx context.Context, userID string, date time.Time, includeHidden bool) (float64, error) {
	query := `
		SELECT COALESCE(SUM(CASE WHEN tx_type = 'expense' THEN -eur_amount ELSE eur_amount END), 0)
		FROM transactions
		WHERE user_id = ? AND date < ? AND eur_amount IS NOT NULL`
	args := []any{userID, date.UTC().Format(timeLayout)}
	if !includeHidden {
		query += " AND hide_from_totals = 0"
	}

	var balance float64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&balance); err != nil {
		return 0, fmt.Errorf("balance before date: %w", err)
	}
	return core.RoundEUR(balance), nil
}

func (s *SQLiteStore) get(ctx context.Context, id string) (core.Transaction, error) {
	query := fmt.Sprintf("SELECT %s FROM transactions WHERE id = ?", transactionColumns)
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	defer rows.Close()

	txs, err := scanTransactions(rows)
	if err != nil {
		return core.Transaction{}, err
	}
	if len(txs) == 0 {
		return core.Transaction{}, ErrNotFound
	}
	return txs[0], nil
}

func scanTransactions(rows *sql.Rows) ([]core.Transaction, error) {
	var txs []core.Transaction
	for rows.Next() {
		var (
			tx                         core.Transaction
			txType                     string
			date, createdAt, updatedAt string
		)
		err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.Amount, &tx.Currency, &tx.EURAmount, &tx.ExchangeRate, &tx.RateDate,
			&txType, &tx.MainCategory, &tx.SubCategory, &tx.IsMoneyTransfer, &tx.HideFromTotals,
			&date, &createdAt, &updatedAt, &tx.SplitAcrossYear,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}

		tx.Type = core.TransactionType(txType)
		if tx.Date, err = time.Parse(time.RFC3339Nano, date); err != nil {
			return nil, fmt.Errorf("parse date: %w", err)
		}
		if tx.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if tx.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}

		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}
