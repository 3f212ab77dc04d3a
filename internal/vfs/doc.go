/*
Package vfs implements the per-session virtual filesystem the terminal works
against instead of the host filesystem.

Files are rows keyed by (session, path). Directories are never stored: a
directory exists while at least one row lies beneath it, and an otherwise
empty directory is kept alive by a hidden marker row (see package paths).
Callers only see Store; the prefix scanning that synthesizes directories
stays inside it.

# Backends

	memory    map guarded by an RWMutex (tests, ephemeral servers)
	sqlite    zombiezen.com/go/sqlite pool, WAL, default
	postgres  database/sql + lib/pq

# Usage

	store, err := vfs.Open(ctx, cfg.Store, logger, metrics)
	if err != nil {
		return err
	}
	defer store.Close()

	store.Write(ctx, sessionID, "/src/main.py", "print('hi')\n", "")
	entries, _ := store.List(ctx, sessionID, "/src", vfs.ListOptions{})
*/
package vfs
