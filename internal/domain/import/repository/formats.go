package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PostgresFormatStore manages saved custom formats in the database
type PostgresFormatStore struct {
	db DB
}

// NewPostgresFormatStore creates a new saved format store
func NewPostgresFormatStore(db DB) *PostgresFormatStore {
	return &PostgresFormatStore{db: db}
}

const savedFormatColumns = `id, name, description, config_json, fingerprint, use_count, created_at, updated_at`

func scanFormat(row pgx.Row) (*SavedCustomFormat, error) {
	var (
		f   SavedCustomFormat
		raw []byte
	)
	if err := row.Scan(&f.ID, &f.Name, &f.Description, &raw, &f.Fingerprint, &f.UseCount, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &f.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config_json for %q: %w", f.Name, err)
	}
	return &f, nil
}

// List returns all saved formats, most used first.
func (s *PostgresFormatStore) List(ctx context.Context) ([]SavedCustomFormat, error) {
	query := `SELECT ` + savedFormatColumns + `
		FROM saved_formats
		ORDER BY use_count DESC, name`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved formats: %w", err)
	}
	defer rows.Close()

	var formats []SavedCustomFormat
	for rows.Next() {
		f, err := scanFormat(rows)
		if err != nil {
			return nil, err
		}
		formats = append(formats, *f)
	}
	return formats, rows.Err()
}

// GetByName returns ErrFormatNotFound when no format has that name.
func (s *PostgresFormatStore) GetByName(ctx context.Context, name string) (*SavedCustomFormat, error) {
	query := `SELECT ` + savedFormatColumns + ` FROM saved_formats WHERE name = $1`

	f, err := scanFormat(s.db.QueryRow(ctx, query, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFormatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get saved format: %w", err)
	}
	return f, nil
}

// Save creates or updates a format by name.
func (s *PostgresFormatStore) Save(ctx context.Context, format SavedCustomFormat) (*SavedCustomFormat, error) {
	raw, err := json.Marshal(format.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	query := `
		INSERT INTO saved_formats (name, description, config_json, fingerprint)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			config_json = EXCLUDED.config_json,
			fingerprint = EXCLUDED.fingerprint,
			updated_at = now()
		RETURNING ` + savedFormatColumns

	f, err := scanFormat(s.db.QueryRow(ctx, query, format.Name, format.Description, raw, format.Fingerprint))
	if err != nil {
		return nil, fmt.Errorf("failed to save format: %w", err)
	}
	return f, nil
}

// IncrementUseCount bumps the counter of a saved format.
func (s *PostgresFormatStore) IncrementUseCount(ctx context.Context, name string) error {
	query := `
		UPDATE saved_formats
		SET use_count = use_count + 1, updated_at = now()
		WHERE name = $1`

	result, err := s.db.Exec(ctx, query, name)
	if err != nil {
		return fmt.Errorf("failed to increment use count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrFormatNotFound
	}
	return nil
}
