// File path: internal/registry/sqlite.go
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteRegistry persists session records in a SQLite database so the server
// can pick up sessions again after a restart.
type SQLiteRegistry struct {
	db *sqlx.DB
}

// OpenSQLite opens (and migrates) the registry database at the given path.
func OpenSQLite(path string) (*SQLiteRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", abs)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	reg := &SQLiteRegistry{db: db}
	if err := reg.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return reg, nil
}

// Close releases the underlying database resources.
func (r *SQLiteRegistry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

var schemaStatements = []string{
	`PRAGMA journal_mode = WAL;`,
	`CREATE TABLE IF NOT EXISTS sessions (
                id TEXT PRIMARY KEY,
                category TEXT NOT NULL,
                phase TEXT NOT NULL,
                created_at TIMESTAMP NOT NULL,
                updated_at TIMESTAMP NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_category ON sessions(category);`,
}

func (r *SQLiteRegistry) migrate(ctx context.Context) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) Get(ctx context.Context, id string) (Info, error) {
	var info Info
	err := r.db.GetContext(ctx, &info,
		`SELECT id, category, phase, created_at, updated_at FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Info{}, fmt.Errorf("query session: %w", err)
	}
	return info, nil
}

func (r *SQLiteRegistry) Put(ctx context.Context, info Info) error {
	if info.ID == "" {
		return errors.New("registry put: empty session id")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, category, phase, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?)
                 ON CONFLICT(id) DO UPDATE SET
                        category = excluded.category,
                        phase = excluded.phase,
                        updated_at = excluded.updated_at`,
		info.ID, info.Category, info.Phase, info.CreatedAt.UTC(), info.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) List(ctx context.Context) ([]Info, error) {
	var out []Info
	err := r.db.SelectContext(ctx, &out,
		`SELECT id, category, phase, created_at, updated_at FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}
