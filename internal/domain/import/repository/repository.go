// Package repository holds the import data model and its persistence:
// parsed and stored transactions, import batches and saved custom formats.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

var ErrFormatNotFound = errors.New("saved format not found")

// ParsedTransaction is one normalized row produced by the parser.
type ParsedTransaction struct {
	Row           int             `json:"row"`
	Date          time.Time       `json:"date"`
	Amount        decimal.Decimal `json:"amount"` // expenses negative
	Description   string          `json:"description"`
	Merchant      string          `json:"merchant"` // best-effort, derived from Description
	AccountSource string          `json:"account_source"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	Category      string          `json:"category,omitempty"` // raw category cell, preview only
}

// Transaction is a persisted transaction.
type Transaction struct {
	ID            uuid.UUID
	ImportBatchID uuid.UUID
	Date          time.Time
	AmountCents   int64
	Description   string
	Merchant      string
	AccountSource string
	ReferenceID   *string
	Fingerprint   string
	CreatedAt     time.Time
}

// ImportBatch marks the transactions written by one confirmed file.
type ImportBatch struct {
	ID            uuid.UUID
	Filename      string
	AccountSource string
	FormatName    string
	RowCount      int
	CreatedAt     time.Time
}

// SavedCustomFormat is a named, reusable ImportConfig.
type SavedCustomFormat struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Config      ImportConfig `json:"config_json"`
	Fingerprint string       `json:"fingerprint,omitempty"` // header fingerprint of the file it was saved from
	UseCount    int          `json:"use_count"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TransactionRepository reads existing transactions for dedup and writes confirmed imports.
type TransactionRepository interface {
	// ListInRange returns transactions of every account dated within [from, to].
	ListInRange(ctx context.Context, from, to time.Time) ([]Transaction, error)
	// InsertImport writes the batch and all its transactions atomically.
	InsertImport(ctx context.Context, batch ImportBatch, txs []Transaction) error
}

// FormatStore persists saved custom formats.
type FormatStore interface {
	List(ctx context.Context) ([]SavedCustomFormat, error)
	GetByName(ctx context.Context, name string) (*SavedCustomFormat, error)
	// Save upserts by name and keeps the existing use count.
	Save(ctx context.Context, format SavedCustomFormat) (*SavedCustomFormat, error)
	IncrementUseCount(ctx context.Context, name string) error
}

// DB is the subset of *pgxpool.Pool used by the Postgres repositories.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}
