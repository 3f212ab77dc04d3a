package vfs

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/GriffinCanCode/webterm/internal/shared/paths"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS files (
	session_id TEXT NOT NULL,
	path       TEXT NOT NULL,
	name       TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	language   TEXT NOT NULL DEFAULT '',
	size       INTEGER NOT NULL DEFAULT 0,
	checksum   TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, path)
) WITHOUT ROWID;
`

// Prefix matches use substr rather than LIKE so "%" and "_" in file names
// are not treated as wildcards.
const (
	sqliteColumns     = "session_id, path, name, language, size, checksum, created_at, updated_at"
	sqliteContentCols = sqliteColumns + ", content"
	sqlitePrefixMatch = "substr(path, 1, length(?2)) = ?2"
)

// SQLiteBackend stores rows in a SQLite database through a connection pool
type SQLiteBackend struct {
	pool *sqlitex.Pool
	path string
}

// OpenSQLite opens (and creates, if needed) the database at path. Use
// "file::memory:?mode=memory&cache=shared" style URIs only with a pool
// size of one.
func OpenSQLite(path string, poolSize int) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareSQLite,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", path, err)
	}
	return &SQLiteBackend{pool: pool, path: path}, nil
}

func prepareSQLite(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, sqliteSchema, nil); err != nil {
		return fmt.Errorf("sqlite: schema: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: take: %w", err)
	}
	return conn, nil
}

func scanSQLite(stmt *sqlite.Stmt, withContent bool) *File {
	f := &File{
		SessionID: stmt.ColumnText(0),
		Path:      stmt.ColumnText(1),
		Name:      stmt.ColumnText(2),
		Language:  stmt.ColumnText(3),
		Size:      stmt.ColumnInt64(4),
		Checksum:  stmt.ColumnText(5),
		CreatedAt: time.Unix(0, stmt.ColumnInt64(6)),
		UpdatedAt: time.Unix(0, stmt.ColumnInt64(7)),
	}
	if withContent {
		f.Content = stmt.ColumnText(8)
	}
	return f
}

func (b *SQLiteBackend) Get(ctx context.Context, sessionID, path string) (*File, error) {
	conn, err := b.take(ctx)
	if err != nil {
		return nil, err
	}
	defer b.pool.Put(conn)

	var found *File
	err = sqlitex.Execute(conn,
		"SELECT "+sqliteContentCols+" FROM files WHERE session_id = ?1 AND path = ?2",
		&sqlitex.ExecOptions{
			Args: []any{sessionID, path},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = scanSQLite(stmt, true)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite: get: %w", err)
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (b *SQLiteBackend) Upsert(ctx context.Context, f *File, keepLanguage bool) (*File, error) {
	conn, err := b.take(ctx)
	if err != nil {
		return nil, err
	}
	defer b.pool.Put(conn)

	var row *File
	err = sqlitex.Execute(conn, `
		INSERT INTO files (session_id, path, name, content, language, size, checksum, created_at, updated_at)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?8)
		ON CONFLICT (session_id, path) DO UPDATE SET
			name       = excluded.name,
			content    = excluded.content,
			language   = CASE WHEN ?9 THEN files.language ELSE excluded.language END,
			size       = excluded.size,
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
		RETURNING `+sqliteContentCols,
		&sqlitex.ExecOptions{
			Args: []any{
				f.SessionID, f.Path, f.Name, f.Content, f.Language,
				f.Size, f.Checksum, time.Now().UnixNano(), keepLanguage,
			},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				row = scanSQLite(stmt, true)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite: upsert: %w", err)
	}
	return row, nil
}

func (b *SQLiteBackend) Remove(ctx context.Context, sessionID, path string) (bool, error) {
	conn, err := b.take(ctx)
	if err != nil {
		return false, err
	}
	defer b.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM files WHERE session_id = ?1 AND path = ?2",
		&sqlitex.ExecOptions{Args: []any{sessionID, path}})
	if err != nil {
		return false, fmt.Errorf("sqlite: remove: %w", err)
	}
	return conn.Changes() > 0, nil
}

func (b *SQLiteBackend) RemovePrefix(ctx context.Context, sessionID, prefix string) (int64, error) {
	conn, err := b.take(ctx)
	if err != nil {
		return 0, err
	}
	defer b.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM files WHERE session_id = ?1 AND "+sqlitePrefixMatch,
		&sqlitex.ExecOptions{Args: []any{sessionID, prefix}})
	if err != nil {
		return 0, fmt.Errorf("sqlite: remove prefix: %w", err)
	}
	return int64(conn.Changes()), nil
}

func (b *SQLiteBackend) Scan(ctx context.Context, sessionID, prefix string, withContent bool) ([]*File, error) {
	conn, err := b.take(ctx)
	if err != nil {
		return nil, err
	}
	defer b.pool.Put(conn)

	cols := sqliteColumns
	if withContent {
		cols = sqliteContentCols
	}

	var rows []*File
	err = sqlitex.Execute(conn,
		"SELECT "+cols+" FROM files WHERE session_id = ?1 AND "+sqlitePrefixMatch+" ORDER BY path",
		&sqlitex.ExecOptions{
			Args: []any{sessionID, prefix},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rows = append(rows, scanSQLite(stmt, withContent))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan: %w", err)
	}
	return rows, nil
}

func (b *SQLiteBackend) HasPrefix(ctx context.Context, sessionID, prefix string) (bool, error) {
	conn, err := b.take(ctx)
	if err != nil {
		return false, err
	}
	defer b.pool.Put(conn)

	var found bool
	err = sqlitex.Execute(conn,
		"SELECT 1 FROM files WHERE session_id = ?1 AND "+sqlitePrefixMatch+" LIMIT 1",
		&sqlitex.ExecOptions{
			Args: []any{sessionID, prefix},
			ResultFunc: func(*sqlite.Stmt) error {
				found = true
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("sqlite: has prefix: %w", err)
	}
	return found, nil
}

func (b *SQLiteBackend) Move(ctx context.Context, sessionID, from, to string) (n int64, err error) {
	conn, err := b.take(ctx)
	if err != nil {
		return 0, err
	}
	defer b.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	name := paths.Base(to)
	err = sqlitex.Execute(conn, `
		UPDATE files SET
			path       = ?3 || substr(path, length(?2) + 1),
			name       = CASE WHEN path = ?2 THEN ?4 ELSE name END,
			updated_at = ?5
		WHERE session_id = ?1
		  AND (path = ?2 OR substr(path, 1, length(?2) + 1) = ?2 || '/')`,
		&sqlitex.ExecOptions{Args: []any{sessionID, from, to, name, time.Now().UnixNano()}})
	if err != nil {
		return 0, fmt.Errorf("sqlite: move: %w", err)
	}
	return int64(conn.Changes()), nil
}

func (b *SQLiteBackend) Purge(ctx context.Context, sessionID string) (int64, error) {
	conn, err := b.take(ctx)
	if err != nil {
		return 0, err
	}
	defer b.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM files WHERE session_id = ?1",
		&sqlitex.ExecOptions{Args: []any{sessionID}})
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge: %w", err)
	}
	return int64(conn.Changes()), nil
}

func (b *SQLiteBackend) Close() error {
	if err := b.pool.Close(); err != nil {
		return fmt.Errorf("sqlite: closing %s: %w", b.path, err)
	}
	return nil
}
