package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/peerpulse/peerpulse/internal/resilience"
)

// DB wraps the SQLite connection with pooling and migrations.
type DB struct {
	*sql.DB
	pool *ConnectionPool
}

// ConnectionPool manages database connection pooling
type ConnectionPool struct {
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

// NewConnectionPool creates a new database connection pool
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
		"max_lifetime_seconds": cp.maxLifetime.Seconds(),
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
		"max_idle_closed":      stats.MaxIdleClosed,
		"max_lifetime_closed":  stats.MaxLifetimeClosed,
	}
}

// NewDB opens (creating if necessary) the database under dataDir.
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "peerpulse.db")
	connStr := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	return open(connStr)
}

// NewMemoryDB opens a shared in-memory database, mostly useful in tests.
func NewMemoryDB() (*DB, error) {
	return open("file::memory:?cache=shared&_foreign_keys=on")
}

func open(connStr string) (*DB, error) {
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pool := NewConnectionPool(db, 25, 5, 5*time.Minute)

	database := &DB{
		DB:   db,
		pool: pool,
	}

	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("Database initialized with connection pooling",
		"max_open_conns", pool.maxOpenConns,
		"max_idle_conns", pool.maxIdleConns,
		"max_lifetime", pool.maxLifetime)

	return database, nil
}

// migrate creates the necessary tables
func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS criteria (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,

		`CREATE TABLE IF NOT EXISTS evaluations (
			id TEXT PRIMARY KEY,
			evaluator_id TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			criterion_id INTEGER NOT NULL,
			score INTEGER NOT NULL,
			familiarity INTEGER,
			normalized_score REAL,
			pending BOOLEAN NOT NULL DEFAULT TRUE,
			rater_mean REAL,
			rater_stddev REAL,
			reliability_weight REAL,
			extreme_rate_weight REAL,
			objectivity_score REAL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (evaluator_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (subject_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (criterion_id) REFERENCES criteria(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS evaluation_meta (
			evaluation_id TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'PENDING',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (evaluation_id) REFERENCES evaluations(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS rater_stats (
			user_id TEXT NOT NULL UNIQUE,
			ratings_count INTEGER NOT NULL DEFAULT 0,
			mean_score REAL NOT NULL DEFAULT 0,
			std_score REAL NOT NULL DEFAULT 0,
			extreme_rate REAL NOT NULL DEFAULT 0,
			reliability REAL NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS friendships (
			id TEXT PRIMARY KEY,
			from_user_id TEXT NOT NULL,
			to_user_id TEXT NOT NULL,
			is_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL,
			UNIQUE(from_user_id, to_user_id),
			FOREIGN KEY (from_user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (to_user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		// Indexes for performance
		`CREATE INDEX IF NOT EXISTS idx_evaluations_evaluator ON evaluations(evaluator_id)`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_subject_criterion ON evaluations(subject_id, criterion_id)`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_cooldown ON evaluations(evaluator_id, subject_id, criterion_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_evaluation_meta_status ON evaluation_meta(status)`,
		`CREATE INDEX IF NOT EXISTS idx_friendships_from ON friendships(from_user_id, is_confirmed)`,
		`CREATE INDEX IF NOT EXISTS idx_friendships_to ON friendships(to_user_id, is_confirmed)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. Every recompute triggered by a write runs through
// here so weights can never be observed half-updated.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	// The busy_timeout pragma handles most lock contention; a short retry
	// with backoff covers writers colliding at commit.
	return resilience.Retry(ctx, func() error {
		return db.runTx(ctx, fn)
	})
}

func (db *DB) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("Transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetPoolStats returns database connection pool statistics
func (db *DB) GetPoolStats() map[string]interface{} {
	return db.pool.GetStats()
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
