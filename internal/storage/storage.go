// Package storage provides the bridge's SQLite-backed persistence: the six
// tables of §3 (Config, NextAddressIndex, Cosigner, Operation, OpFile,
// CosignerOpStatus), schema migration, and a typed repository over them.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage owns the database connection pool and schema lifecycle.
type Storage struct {
	db     *sql.DB
	dbPath string
}

// Config holds storage configuration.
type Config struct {
	// AppDir is the daemon's app directory; the database file lives directly
	// under it as rgb_multisig_bridge_db, per §6's filesystem layout.
	AppDir string
	// PoolSize is the maximum number of open connections, sized to the
	// cosigner count (§5): unlike a single-writer exchange node, every
	// cosigner's request may need a connection concurrently for read-only
	// work, while the write lock above this package serializes writers.
	PoolSize int
}

// New opens (creating if necessary) the database at cfg.AppDir and ensures
// its schema exists.
func New(cfg *Config) (*Storage, error) {
	if err := os.MkdirAll(cfg.AppDir, 0o700); err != nil {
		return nil, fmt.Errorf("create app directory: %w", err)
	}

	dbPath := filepath.Join(cfg.AppDir, "rgb_multisig_bridge_db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	poolSize := cfg.PoolSize
	if poolSize < 1 {
		poolSize = 1
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(8 * time.Second)

	s := &Storage{db: db, dbPath: dbPath}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection pool.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection pool, for callers (the coordinator)
// that need to run explicit multi-statement transactions.
func (s *Storage) DB() *sql.DB {
	return s.db
}

const schema = `
CREATE TABLE IF NOT EXISTS config (
	idx INTEGER PRIMARY KEY CHECK (idx = 1),
	threshold_colored INTEGER NOT NULL,
	threshold_vanilla INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS next_address_index (
	idx INTEGER PRIMARY KEY CHECK (idx = 1),
	internal INTEGER NOT NULL DEFAULT 0,
	external INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cosigner (
	idx INTEGER PRIMARY KEY AUTOINCREMENT,
	xpub TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS operation (
	idx INTEGER PRIMARY KEY AUTOINCREMENT,
	type INTEGER NOT NULL,
	status INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	initiator_idx INTEGER NOT NULL,
	FOREIGN KEY (initiator_idx) REFERENCES cosigner(idx) ON DELETE RESTRICT ON UPDATE RESTRICT
);

CREATE INDEX IF NOT EXISTS "idx-operation-status" ON operation(status);

CREATE TABLE IF NOT EXISTS op_file (
	idx INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id TEXT NOT NULL,
	type INTEGER NOT NULL,
	operation_idx INTEGER NOT NULL,
	FOREIGN KEY (operation_idx) REFERENCES operation(idx) ON DELETE RESTRICT ON UPDATE RESTRICT
);

CREATE INDEX IF NOT EXISTS "idx-opfile-operationidx" ON op_file(operation_idx);

CREATE TABLE IF NOT EXISTS cosigner_op_status (
	idx INTEGER PRIMARY KEY AUTOINCREMENT,
	cosigner_idx INTEGER NOT NULL,
	operation_idx INTEGER NOT NULL,
	ack INTEGER,
	responded_at INTEGER,
	processed_at INTEGER,
	psbt_op_file_idx INTEGER,
	FOREIGN KEY (cosigner_idx) REFERENCES cosigner(idx) ON DELETE RESTRICT ON UPDATE RESTRICT,
	FOREIGN KEY (operation_idx) REFERENCES operation(idx) ON DELETE RESTRICT ON UPDATE RESTRICT,
	FOREIGN KEY (psbt_op_file_idx) REFERENCES op_file(idx) ON DELETE RESTRICT ON UPDATE RESTRICT,
	UNIQUE (cosigner_idx, operation_idx)
);

CREATE INDEX IF NOT EXISTS "idx-cosigneropstatus-cosigneridx-operationidx" ON cosigner_op_status(cosigner_idx, operation_idx);
CREATE INDEX IF NOT EXISTS "idx-cosigneropstatus-operationidx" ON cosigner_op_status(operation_idx);
CREATE INDEX IF NOT EXISTS "idx-cosigneropstatus-cosigneridx-processedat" ON cosigner_op_status(cosigner_idx, processed_at);
`

func (s *Storage) initSchema() error {
	_, err := s.db.Exec(schema)
	return err
}
