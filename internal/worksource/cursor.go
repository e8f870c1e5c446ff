package worksource

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// CursorStore persists a (table_name → last emitted row) map in an
// embedded SQLite database, so a restart resumes a Source exactly where
// the previous run left off instead of re-walking completed work.
type CursorStore struct {
	db *sql.DB
}

// OpenCursorStore opens (and migrates) the cursor database at path.
func OpenCursorStore(path string) (*CursorStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("worksource: open cursor db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("worksource: enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cursors (
			key TEXT PRIMARY KEY,
			last_row INTEGER NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("worksource: create cursors table: %w", err)
	}

	return &CursorStore{db: db}, nil
}

// Close closes the underlying database connection.
func (c *CursorStore) Close() error { return c.db.Close() }

// Load returns the persisted cursor for key, or ok=false if none exists yet.
func (c *CursorStore) Load(ctx context.Context, key string) (lastRow int, ok bool, err error) {
	err = c.db.QueryRowContext(ctx, `SELECT last_row FROM cursors WHERE key = ?`, key).Scan(&lastRow)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("worksource: load cursor %s: %w", key, err)
	}
	return lastRow, true, nil
}

// Save persists lastRow for key, overwriting any prior value.
func (c *CursorStore) Save(ctx context.Context, key string, lastRow int) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cursors (key, last_row) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET last_row = excluded.last_row
	`, key, lastRow)
	if err != nil {
		return fmt.Errorf("worksource: save cursor %s: %w", key, err)
	}
	return nil
}
