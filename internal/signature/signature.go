// Package signature implements the per-collection signature-hash side
// table: a local sqlite database mapping content_hash to the entity it
// belongs to, consumed by out-of-core tooling (duplicate-entity guard
// checks) that never touches the vector store directly. Writing it is
// best-effort — the reconciler surfaces a failure here as a pipeline
// warning, never as a pipeline error.
package signature

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver, blank-imported for database/sql

	"github.com/rlefko/codeindex/internal/logging"
)

// Table is the signature-hash side table for one collection's sqlite file.
type Table struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures the signatures schema exists. WAL mode matches the access
// pattern: one writer (the reconciler), many readers (guard tooling).
func Open(path string) (*Table, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("signature: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)

	t := &Table{db: db, logger: logging.WithComponent("signature")}
	if err := t.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *Table) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS signatures (
	content_hash TEXT PRIMARY KEY,
	entity_name  TEXT NOT NULL,
	entity_type  TEXT NOT NULL,
	file_path    TEXT NOT NULL,
	updated_at   INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
CREATE INDEX IF NOT EXISTS idx_signatures_file_path ON signatures(file_path);
`
	_, err := t.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("signature: init schema: %w", err)
	}
	return nil
}

// Upsert records (or replaces) the entity owning contentHash.
func (t *Table) Upsert(contentHash, entityName, entityType, filePath string) error {
	_, err := t.db.Exec(
		`INSERT INTO signatures (content_hash, entity_name, entity_type, file_path)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(content_hash) DO UPDATE SET
		   entity_name = excluded.entity_name,
		   entity_type = excluded.entity_type,
		   file_path   = excluded.file_path,
		   updated_at  = strftime('%s','now')`,
		contentHash, entityName, entityType, filePath,
	)
	if err != nil {
		return fmt.Errorf("signature: upsert %s: %w", contentHash, err)
	}
	return nil
}

// Lookup returns the entity recorded for contentHash, if any.
func (t *Table) Lookup(contentHash string) (entityName, entityType, filePath string, found bool, err error) {
	row := t.db.QueryRow(`SELECT entity_name, entity_type, file_path FROM signatures WHERE content_hash = ?`, contentHash)
	err = row.Scan(&entityName, &entityType, &filePath)
	if err == sql.ErrNoRows {
		return "", "", "", false, nil
	}
	if err != nil {
		return "", "", "", false, fmt.Errorf("signature: lookup %s: %w", contentHash, err)
	}
	return entityName, entityType, filePath, true, nil
}

// DeleteForFile removes every signature row recorded against filePath,
// used when a file is deleted so its hashes don't linger as false
// duplicate-guard hits.
func (t *Table) DeleteForFile(filePath string) error {
	_, err := t.db.Exec(`DELETE FROM signatures WHERE file_path = ?`, filePath)
	if err != nil {
		return fmt.Errorf("signature: delete for file %s: %w", filePath, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (t *Table) Close() error {
	return t.db.Close()
}
