package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/AregGevorgyan/tomatocode/pkg/types"
)

// sqliteAdapter keeps the full session document as a JSON blob in a
// single table keyed by session code. WAL mode allows concurrent readers
// while mutations stream in from the engine.
type sqliteAdapter struct {
	db     *sql.DB
	logger *zap.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	code       TEXT PRIMARY KEY,
	document   TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

func newSQLiteAdapter(path string, logger *zap.Logger) (*sqliteAdapter, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	logger.Info("sqlite KV adapter opened", zap.String("path", path))
	return &sqliteAdapter{db: db, logger: logger}, nil
}

func (a *sqliteAdapter) Put(ctx context.Context, code string, doc *types.Session) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", code, err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO sessions (code, document, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(code) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		code, string(data), time.Now().UTC())
	return err
}

func (a *sqliteAdapter) Get(ctx context.Context, code string) (*types.Session, error) {
	var data string
	err := a.db.QueryRowContext(ctx,
		`SELECT document FROM sessions WHERE code = ?`, code).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc types.Session
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", code, err)
	}
	return &doc, nil
}

func (a *sqliteAdapter) Delete(ctx context.Context, code string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM sessions WHERE code = ?`, code)
	return err
}

func (a *sqliteAdapter) Close() error {
	return a.db.Close()
}
