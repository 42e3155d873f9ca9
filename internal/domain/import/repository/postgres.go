package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var transactionColumns = []string{
	"id", "import_batch_id", "date", "amount_cents", "description",
	"merchant", "account_source", "reference_id", "fingerprint",
}

// PostgresTransactionRepository implements TransactionRepository using PostgreSQL
type PostgresTransactionRepository struct {
	db DB
}

// NewPostgresTransactionRepository creates a new PostgreSQL transaction repository
func NewPostgresTransactionRepository(db DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

// ListInRange returns transactions dated within [from, to] for all accounts.
func (r *PostgresTransactionRepository) ListInRange(ctx context.Context, from, to time.Time) ([]Transaction, error) {
	query := `
		SELECT id, import_batch_id, date, amount_cents, description, merchant,
			account_source, reference_id, fingerprint, created_at
		FROM transactions
		WHERE date BETWEEN $1 AND $2
		ORDER BY date, created_at`

	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID, &t.ImportBatchID, &t.Date, &t.AmountCents, &t.Description, &t.Merchant,
			&t.AccountSource, &t.ReferenceID, &t.Fingerprint, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// InsertImport records the batch and copies its transactions in one database transaction.
func (r *PostgresTransactionRepository) InsertImport(ctx context.Context, batch ImportBatch, txs []Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin import: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO import_batches (id, filename, account_source, format_name, row_count)
		VALUES ($1, $2, $3, $4, $5)`,
		batch.ID, batch.Filename, batch.AccountSource, batch.FormatName, batch.RowCount,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to insert import batch: %w", err)
	}

	rows := make([][]any, len(txs))
	for i, t := range txs {
		rows[i] = []any{
			t.ID, batch.ID, t.Date, t.AmountCents, t.Description,
			t.Merchant, t.AccountSource, t.ReferenceID, t.Fingerprint,
		}
	}

	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"transactions"}, transactionColumns, pgx.CopyFromRows(rows))
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to copy transactions: %w", err)
	}
	if copied != int64(len(txs)) {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to copy transactions: wrote %d of %d rows", copied, len(txs))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}
	return nil
}
