package vfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/webterm/internal/shared/paths"
	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS vfs_files (
	session_id TEXT        NOT NULL,
	path       TEXT        NOT NULL,
	name       TEXT        NOT NULL,
	content    BYTEA       NOT NULL DEFAULT '',
	language   TEXT        NOT NULL DEFAULT '',
	size       BIGINT      NOT NULL DEFAULT 0,
	checksum   TEXT        NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (session_id, path)
)`

const (
	postgresColumns     = "session_id, path, name, language, size, checksum, created_at, updated_at"
	postgresContentCols = postgresColumns + ", content"
	postgresPrefixMatch = "left(path, char_length($2)) = $2"
)

// PostgresBackend stores rows in PostgreSQL
type PostgresBackend struct {
	db *sql.DB
}

// OpenPostgres connects to databaseURL and ensures the schema exists
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresBackend{db: db}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPostgres(r rowScanner, withContent bool) (*File, error) {
	var f File
	dest := []any{&f.SessionID, &f.Path, &f.Name, &f.Language, &f.Size, &f.Checksum, &f.CreatedAt, &f.UpdatedAt}
	var content []byte
	if withContent {
		dest = append(dest, &content)
	}
	if err := r.Scan(dest...); err != nil {
		return nil, err
	}
	f.Content = string(content)
	return &f, nil
}

func (b *PostgresBackend) Get(ctx context.Context, sessionID, path string) (*File, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT `+postgresContentCols+` FROM vfs_files WHERE session_id = $1 AND path = $2`,
		sessionID, path)
	f, err := scanPostgres(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	return f, nil
}

func (b *PostgresBackend) Upsert(ctx context.Context, f *File, keepLanguage bool) (*File, error) {
	row := b.db.QueryRowContext(ctx,
		`INSERT INTO vfs_files (session_id, path, name, content, language, size, checksum, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		 ON CONFLICT (session_id, path) DO UPDATE SET
			name = EXCLUDED.name,
			content = EXCLUDED.content,
			language = CASE WHEN $8 THEN vfs_files.language ELSE EXCLUDED.language END,
			size = EXCLUDED.size,
			checksum = EXCLUDED.checksum,
			updated_at = NOW()
		 RETURNING `+postgresContentCols,
		f.SessionID, f.Path, f.Name, []byte(f.Content), f.Language, f.Size, f.Checksum, keepLanguage)
	out, err := scanPostgres(row, true)
	if err != nil {
		return nil, fmt.Errorf("upsert: %w", err)
	}
	return out, nil
}

func (b *PostgresBackend) Remove(ctx context.Context, sessionID, path string) (bool, error) {
	result, err := b.db.ExecContext(ctx,
		`DELETE FROM vfs_files WHERE session_id = $1 AND path = $2`, sessionID, path)
	if err != nil {
		return false, fmt.Errorf("remove: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (b *PostgresBackend) RemovePrefix(ctx context.Context, sessionID, prefix string) (int64, error) {
	result, err := b.db.ExecContext(ctx,
		`DELETE FROM vfs_files WHERE session_id = $1 AND `+postgresPrefixMatch, sessionID, prefix)
	if err != nil {
		return 0, fmt.Errorf("remove prefix: %w", err)
	}
	return result.RowsAffected()
}

func (b *PostgresBackend) Scan(ctx context.Context, sessionID, prefix string, withContent bool) ([]*File, error) {
	cols := postgresColumns
	if withContent {
		cols = postgresContentCols
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT `+cols+` FROM vfs_files WHERE session_id = $1 AND `+postgresPrefixMatch+` ORDER BY path`,
		sessionID, prefix)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		f, err := scanPostgres(rows, withContent)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (b *PostgresBackend) HasPrefix(ctx context.Context, sessionID, prefix string) (bool, error) {
	var exists bool
	err := b.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM vfs_files WHERE session_id = $1 AND `+postgresPrefixMatch+`)`,
		sessionID, prefix).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has prefix: %w", err)
	}
	return exists, nil
}

func (b *PostgresBackend) Move(ctx context.Context, sessionID, from, to string) (int64, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE vfs_files SET
		   path = $3 || substring(path from char_length($2) + 1),
		   name = CASE WHEN path = $2 THEN $4 ELSE name END,
		   updated_at = NOW()
		 WHERE session_id = $1
		   AND (path = $2 OR left(path, char_length($2) + 1) = $2 || '/')`,
		sessionID, from, to, paths.Base(to))
	if err != nil {
		return 0, fmt.Errorf("move: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, tx.Commit()
}

func (b *PostgresBackend) Purge(ctx context.Context, sessionID string) (int64, error) {
	result, err := b.db.ExecContext(ctx, `DELETE FROM vfs_files WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return result.RowsAffected()
}

func (b *PostgresBackend) Close() error {
	return b.db.Close()
}
