package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/SonGiHyeon/CV-API/internal/errors"
)

// DBFileName is the sqlite file created inside the data directory
const DBFileName = "attribution.db"

// DB represents the database connection with pooling
type DB struct {
	*sql.DB
	pool     *ConnectionPool
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex
}

// ConnectionPool manages database connection pooling
type ConnectionPool struct {
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

// NewConnectionPool applies pool limits to db
func NewConnectionPool(db *sql.DB, maxOpen, maxIdle int, maxLifetime time.Duration) *ConnectionPool {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	return &ConnectionPool{
		db:           db,
		maxOpenConns: maxOpen,
		maxIdleConns: maxIdle,
		maxLifetime:  maxLifetime,
	}
}

// GetStats returns connection pool statistics
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	stats := cp.db.Stats()

	return map[string]interface{}{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": cp.maxOpenConns,
		"max_idle_connections": cp.maxIdleConns,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// NewDB opens (creating if needed) the sqlite database under dataDir
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)

	// _txlock=immediate makes every BeginTx take the write lock up front, so
	// concurrent read-modify-write transactions queue on busy_timeout instead
	// of failing with SQLITE_BUSY on lock upgrade.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pool := NewConnectionPool(db, 8, 4, 5*time.Minute)

	database := &DB{
		DB:       db,
		pool:     pool,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := database.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := database.initPreparedStatements(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Database initialized",
		"path", dbPath,
		"max_open_conns", pool.maxOpenConns,
		"max_idle_conns", pool.maxIdleConns)

	return database, nil
}

// migrate creates the necessary tables
func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS fragments (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			text TEXT NOT NULL,
			is_eligible BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS drafts (
			id TEXT PRIMARY KEY,
			author_id TEXT,
			company TEXT NOT NULL,
			position TEXT NOT NULL,
			jd TEXT NOT NULL,
			tone TEXT NOT NULL,
			text TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'preview', -- 'preview', 'finalized'
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS attributions (
			id TEXT PRIMARY KEY,
			draft_id TEXT NOT NULL,
			contributor_id TEXT NOT NULL,
			weight REAL NOT NULL,
			norm_weight REAL NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (draft_id) REFERENCES drafts(id) ON DELETE CASCADE,
			UNIQUE(draft_id, contributor_id)
		)`,

		// Amounts are decimal strings with one fractional digit
		`CREATE TABLE IF NOT EXISTS reward_ledger (
			id TEXT PRIMARY KEY, -- draft_id || '_' || contributor_id
			draft_id TEXT NOT NULL,
			contributor_id TEXT NOT NULL,
			amount_preview TEXT NOT NULL,
			amount_settled TEXT,
			status TEXT NOT NULL DEFAULT 'preview', -- 'preview', 'settled'
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (draft_id) REFERENCES drafts(id) ON DELETE CASCADE,
			UNIQUE(draft_id, contributor_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_fragments_eligible ON fragments(is_eligible)`,
		`CREATE INDEX IF NOT EXISTS idx_fragments_owner ON fragments(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attributions_draft ON attributions(draft_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reward_ledger_contributor ON reward_ledger(contributor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reward_ledger_draft_status ON reward_ledger(draft_id, status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// Prepared statement names
const (
	stmtGetDraft               = "get_draft"
	stmtListEligible           = "list_eligible_fragments"
	stmtListAttributions       = "list_attributions"
	stmtLedgerByDraft          = "ledger_by_draft"
	stmtLedgerByContributor    = "ledger_by_contributor"
	stmtFragmentStats          = "fragment_stats"
	stmtSetFragmentEligibility = "set_fragment_eligibility"
)

// initPreparedStatements prepares the read paths used on every request
func (db *DB) initPreparedStatements() error {
	statements := map[string]string{
		stmtGetDraft: `SELECT id, author_id, company, position, jd, tone, text, status, created_at, updated_at
			FROM drafts WHERE id = ?`,

		// rowid order keeps ties in insertion order for the aggregator's stable sort
		stmtListEligible: `SELECT id, owner_id, text, is_eligible, created_at
			FROM fragments WHERE is_eligible = TRUE ORDER BY rowid ASC`,

		stmtListAttributions: `SELECT id, draft_id, contributor_id, weight, norm_weight, created_at
			FROM attributions WHERE draft_id = ? ORDER BY rowid ASC`,

		stmtLedgerByDraft: `SELECT ` + ledgerColumns + `
			FROM reward_ledger WHERE draft_id = ? ORDER BY rowid ASC`,

		stmtLedgerByContributor: `SELECT ` + ledgerColumns + `
			FROM reward_ledger WHERE contributor_id = ? ORDER BY draft_id DESC`,

		stmtFragmentStats: `SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_eligible THEN 1 ELSE 0 END), 0)
			FROM fragments`,

		stmtSetFragmentEligibility: `UPDATE fragments SET is_eligible = ? WHERE id = ?`,
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, query := range statements {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		db.prepared[name] = stmt

		slog.Debug("Prepared statement initialized", "name", name)
	}

	return nil
}

// GetPreparedStatement retrieves a prepared statement
func (db *DB) GetPreparedStatement(name string) (*sql.Stmt, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	stmt, exists := db.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}

	return stmt, nil
}

// WithTx runs fn inside one transaction. The transaction commits only when fn
// returns nil. AppErrors from fn pass through untouched; anything else is
// reported as a storage failure of op.
func (db *DB) WithTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return apperrors.NewStorageError(op, err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError(op, err)
	}
	return nil
}

// GetPoolStats returns database connection pool statistics
func (db *DB) GetPoolStats() map[string]interface{} {
	return db.pool.GetStats()
}

// Close closes the database connection and prepared statements
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}
	db.prepared = make(map[string]*sql.Stmt)

	return db.DB.Close()
}
