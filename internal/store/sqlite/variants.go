// Package sqlite implements the variant persistence collaborator on SQLite.
// It is the source of truth for which variants exist across restarts; the
// core never caches past what the catalog mirrors from here.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"signal-systemv1/internal/model"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// StoreConfig configures the SQLite variant store.
type StoreConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/variants.db"
}

// Store persists indicator variants. Deletes are soft: rows keep their
// deleted_at timestamp and drop out of every listing.
type Store struct {
	db *sqlx.DB
}

// DB returns the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db.DB }

// New opens the store, enabling WAL mode and creating the schema.
func New(cfg StoreConfig) (*Store, error) {
	db, err := sqlx.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer keeps SQLite happy under WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened variant store at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS variants (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			base_type  TEXT NOT NULL,
			symbol     TEXT NOT NULL,
			params     TEXT NOT NULL, -- JSON map
			owner      TEXT,
			base_id    TEXT,
			created_at INTEGER NOT NULL,
			deleted_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_variants_symbol
			ON variants (symbol) WHERE deleted_at IS NULL;
	`)
	return err
}

// variantRow is the flat DB shape; params travel as a JSON column.
type variantRow struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	BaseType  string         `db:"base_type"`
	Symbol    string         `db:"symbol"`
	Params    string         `db:"params"`
	Owner     sql.NullString `db:"owner"`
	BaseID    sql.NullString `db:"base_id"`
	CreatedAt int64          `db:"created_at"`
	DeletedAt sql.NullInt64  `db:"deleted_at"`
}

func (r *variantRow) toModel() (model.Variant, error) {
	var params model.Params
	if err := json.Unmarshal([]byte(r.Params), &params); err != nil {
		return model.Variant{}, fmt.Errorf("sqlite: decode params for %s: %w", r.ID, err)
	}
	v := model.Variant{
		ID:        r.ID,
		Name:      r.Name,
		BaseType:  model.BaseType(r.BaseType),
		Symbol:    r.Symbol,
		Params:    params,
		Owner:     r.Owner.String,
		BaseID:    r.BaseID.String,
		CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
	}
	if r.DeletedAt.Valid {
		ts := time.Unix(r.DeletedAt.Int64, 0).UTC()
		v.DeletedAt = &ts
	}
	return v, nil
}

// Create persists a new variant and returns its id. An empty id gets a
// fresh UUID; CreatedAt defaults to now.
func (s *Store) Create(ctx context.Context, v *model.Variant) (string, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	params, err := json.Marshal(v.Params)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO variants (id, name, base_type, symbol, params, owner, base_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Name, string(v.BaseType), v.Symbol, string(params),
		nullable(v.Owner), nullable(v.BaseID), v.CreatedAt.Unix())
	if err != nil {
		return "", fmt.Errorf("sqlite: insert variant: %w", err)
	}
	return v.ID, nil
}

// ListBySymbol returns all live variants for a symbol.
func (s *Store) ListBySymbol(ctx context.Context, symbol string) ([]model.Variant, error) {
	return s.list(ctx, `SELECT * FROM variants WHERE symbol = ? AND deleted_at IS NULL ORDER BY created_at`, symbol)
}

// ListAll returns every live variant.
func (s *Store) ListAll(ctx context.Context) ([]model.Variant, error) {
	return s.list(ctx, `SELECT * FROM variants WHERE deleted_at IS NULL ORDER BY created_at`)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]model.Variant, error) {
	var rows []variantRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: list variants: %w", err)
	}
	out := make([]model.Variant, 0, len(rows))
	for i := range rows {
		v, err := rows[i].toModel()
		if err != nil {
			// A corrupt row is skipped, not fatal to the listing.
			log.Printf("[sqlite] %v", err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Delete soft-deletes a variant. Deleting an unknown or already deleted id
// is an error so callers notice drift from their own index.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE variants SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("sqlite: delete variant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sqlite: variant %s not found", id)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
