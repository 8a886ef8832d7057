// SPDX-License-Identifier: BSD-3-Clause

package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteConfig configures a SQLitePort.
type SQLiteConfig struct {
	// Path is the database file path, or ":memory:" for an in-process,
	// non-durable database (tests).
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c SQLiteConfig) withDefaults() SQLiteConfig {
	if c.Path == "" {
		c.Path = ":memory:"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 1
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 1
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 10 * time.Minute
	}
	return c
}

// SQLitePort is a Port backed by a local SQLite database, schema-managed by
// goose. It is safe for concurrent use.
type SQLitePort struct {
	db *sql.DB
}

var _ Port = (*SQLitePort)(nil)

// NewSQLitePort opens (but does not yet migrate) a SQLite database per cfg.
// Call Initialize before use.
func NewSQLitePort(cfg SQLiteConfig) (*SQLitePort, error) {
	cfg = cfg.withDefaults()

	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("persistence: create sqlite dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("persistence: open sqlite: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &SQLitePort{db: db}, nil
}

// Initialize applies pragmas and runs goose migrations. Idempotent.
func (p *SQLitePort) Initialize(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return NewError("initialize", "", true, fmt.Errorf("ping: %w", err))
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := p.db.ExecContext(ctx, pragma); err != nil {
			return NewError("initialize", "", false, fmt.Errorf("%s: %w", pragma, err))
		}
	}

	goose.SetBaseFS(nil)
	provider, err := goose.NewProvider(goose.DialectSQLite3, p.db, nil, goose.WithGoMigrations(sqliteMigrations...))
	if err != nil {
		return NewError("initialize", "", false, fmt.Errorf("migration provider: %w", err))
	}
	if _, err := provider.Up(ctx); err != nil {
		return NewError("initialize", "", false, fmt.Errorf("migrate: %w", err))
	}
	return nil
}

// Save upserts the machine context by id.
func (p *SQLitePort) Save(ctx context.Context, pc *PersistentContext) error {
	if pc == nil || pc.ID == "" {
		return NewError("save", "", false, ErrMissingID)
	}

	attrs, err := json.Marshal(pc.Attributes)
	if err != nil {
		return NewError("save", pc.ID, false, fmt.Errorf("marshal attributes: %w", err))
	}

	const stmt = `
INSERT INTO fsm_contexts (id, current_state, last_state_change, complete, attributes)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	current_state = excluded.current_state,
	last_state_change = excluded.last_state_change,
	complete = excluded.complete,
	attributes = excluded.attributes
`
	if _, err := p.db.ExecContext(ctx, stmt,
		pc.ID, pc.CurrentState, pc.LastStateChange.UnixNano(), pc.Complete, string(attrs),
	); err != nil {
		return NewError("save", pc.ID, true, err)
	}
	return nil
}

// Load returns the stored context for id, if any.
func (p *SQLitePort) Load(ctx context.Context, id string) (*PersistentContext, bool, error) {
	const stmt = `SELECT current_state, last_state_change, complete, attributes FROM fsm_contexts WHERE id = ?`

	var (
		currentState string
		lastChange   int64
		complete     bool
		attrsRaw     string
	)
	err := p.db.QueryRowContext(ctx, stmt, id).Scan(&currentState, &lastChange, &complete, &attrsRaw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, NewError("load", id, true, err)
	}

	var attrs map[string]any
	if attrsRaw != "" {
		if err := json.Unmarshal([]byte(attrsRaw), &attrs); err != nil {
			return nil, false, NewError("load", id, false, fmt.Errorf("unmarshal attributes: %w", err))
		}
	}

	return &PersistentContext{
		ID:              id,
		CurrentState:    currentState,
		LastStateChange: time.Unix(0, lastChange),
		Complete:        complete,
		Attributes:      attrs,
	}, true, nil
}

// Close releases the underlying database handle.
func (p *SQLitePort) Close() error {
	return p.db.Close()
}

var sqliteMigrations = []*goose.Migration{
	goose.NewGoMigration(1, &goose.GoFunc{RunTx: createFSMContextsTable}, &goose.GoFunc{RunTx: dropFSMContextsTable}),
}

func createFSMContextsTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS fsm_contexts (
	id                 TEXT PRIMARY KEY,
	current_state      TEXT NOT NULL,
	last_state_change  INTEGER NOT NULL,
	complete           BOOLEAN NOT NULL DEFAULT 0,
	attributes         TEXT NOT NULL DEFAULT '{}'
)`)
	return err
}

func dropFSMContextsTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS fsm_contexts`)
	return err
}
