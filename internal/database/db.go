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
)

// DB is the sqlite connection with pooling configured.
type DB struct {
	*sql.DB
	pool *ConnectionPool
}

// ConnectionPool records the pool limits applied to the connection.
type ConnectionPool struct {
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

// NewConnectionPool applies pool limits to db.
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

// NewDB opens (creating if needed) the scorecard database under dataDir and
// runs migrations.
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "fundscope.db")
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pool := NewConnectionPool(db, 8, 4, 5*time.Minute)

	database := &DB{DB: db, pool: pool}
	if err := database.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("Database initialized",
		"path", dbPath,
		"max_open_conns", pool.maxOpenConns,
		"max_idle_conns", pool.maxIdleConns)

	return database, nil
}

func (db *DB) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS funds (
			id TEXT PRIMARY KEY,
			number INTEGER NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL,
			total_awarded REAL NOT NULL DEFAULT 0,
			total_distributed REAL NOT NULL DEFAULT 0,
			proposal_count INTEGER NOT NULL DEFAULT 0,
			funded_count INTEGER NOT NULL DEFAULT 0,
			completed_count INTEGER NOT NULL DEFAULT 0,
			rollup_at DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			fund_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'proposed',
			funded BOOLEAN NOT NULL DEFAULT FALSE,
			amount_requested REAL NOT NULL DEFAULT 0,
			amount_received REAL NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT '',
			repository_url TEXT NOT NULL DEFAULT '',
			wallet_address TEXT NOT NULL DEFAULT '',
			repo_activity_score REAL,
			repo_stars INTEGER NOT NULL DEFAULT 0,
			repo_forks INTEGER NOT NULL DEFAULT 0,
			repo_contributors INTEGER NOT NULL DEFAULT 0,
			repo_synced_at DATETIME,
			chain_tx_count INTEGER,
			chain_unique_counterparties INTEGER NOT NULL DEFAULT 0,
			chain_total_received REAL NOT NULL DEFAULT 0,
			chain_synced_at DATETIME,
			review_count INTEGER NOT NULL DEFAULT 0,
			mean_rating REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (fund_id) REFERENCES funds(id)
		)`,

		`CREATE TABLE IF NOT EXISTS milestones (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			due_date DATETIME,
			approved_at DATETIME,
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS people (
			id TEXT PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			funded_count INTEGER NOT NULL DEFAULT 0,
			completed_count INTEGER NOT NULL DEFAULT 0,
			total_requested_usd REAL NOT NULL DEFAULT 0,
			total_awarded_usd REAL NOT NULL DEFAULT 0,
			total_received_usd REAL NOT NULL DEFAULT 0,
			rollup_at DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS project_people (
			project_id TEXT NOT NULL,
			person_id TEXT NOT NULL,
			PRIMARY KEY (project_id, person_id),
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
			FOREIGN KEY (person_id) REFERENCES people(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS roi_records (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			repository_score REAL NOT NULL,
			repository_weight REAL NOT NULL,
			deliverable_score REAL NOT NULL,
			deliverable_weight REAL NOT NULL,
			on_chain_score REAL NOT NULL,
			on_chain_weight REAL NOT NULL,
			community_score REAL NOT NULL,
			community_weight REAL NOT NULL,
			outcome_score REAL NOT NULL,
			badge TEXT NOT NULL,
			funding_amount REAL NOT NULL,
			funding_currency TEXT NOT NULL,
			funding_usd REAL NOT NULL,
			conversion_rate REAL NOT NULL,
			rate_source TEXT NOT NULL,
			normalized_funding REAL NOT NULL,
			raw_roi REAL NOT NULL,
			roi_score REAL NOT NULL,
			category_percentile REAL,
			overall_percentile REAL,
			percentile_batch_id TEXT,
			percentile_at DATETIME,
			calculated_at DATETIME NOT NULL,
			FOREIGN KEY (project_id) REFERENCES projects(id)
		)`,

		`CREATE TABLE IF NOT EXISTS accountability_scores (
			id TEXT PRIMARY KEY,
			person_id TEXT NOT NULL UNIQUE,
			completion_score REAL NOT NULL,
			delivery_score REAL NOT NULL,
			community_score REAL NOT NULL,
			efficiency_score REAL NOT NULL,
			communication_score REAL NOT NULL,
			breakdown TEXT NOT NULL DEFAULT '{}',
			overall_score REAL NOT NULL,
			badge TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'preview',
			scoring_version TEXT NOT NULL,
			calculated_at DATETIME NOT NULL,
			FOREIGN KEY (person_id) REFERENCES people(id)
		)`,

		`CREATE TABLE IF NOT EXISTS disputes (
			id TEXT PRIMARY KEY,
			score_id TEXT NOT NULL,
			filed_by TEXT NOT NULL,
			reason TEXT NOT NULL,
			evidence TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			resolved_by TEXT NOT NULL DEFAULT '',
			resolution TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			resolved_at DATETIME,
			FOREIGN KEY (score_id) REFERENCES accountability_scores(id)
		)`,

		`CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			actor TEXT NOT NULL,
			subject_type TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL
		)`,

		// ROI history is append-only; only the ranking columns may change.
		`CREATE TRIGGER IF NOT EXISTS roi_records_no_delete BEFORE DELETE ON roi_records
		BEGIN SELECT RAISE(ABORT, 'roi records are append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS roi_records_immutable BEFORE UPDATE OF
			project_id, repository_score, deliverable_score, on_chain_score, community_score,
			outcome_score, funding_amount, funding_usd, conversion_rate, raw_roi, roi_score, calculated_at
		ON roi_records
		BEGIN SELECT RAISE(ABORT, 'roi records are immutable'); END`,
		`CREATE TRIGGER IF NOT EXISTS audit_entries_no_update BEFORE UPDATE ON audit_entries
		BEGIN SELECT RAISE(ABORT, 'audit entries are append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS audit_entries_no_delete BEFORE DELETE ON audit_entries
		BEGIN SELECT RAISE(ABORT, 'audit entries are append-only'); END`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_disputes_one_pending ON disputes(score_id, filed_by) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_projects_fund ON projects(fund_id)`,
		`CREATE INDEX IF NOT EXISTS idx_milestones_project ON milestones(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_project_people_person ON project_people(person_id)`,
		`CREATE INDEX IF NOT EXISTS idx_roi_records_project_time ON roi_records(project_id, calculated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_disputes_score ON disputes(score_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_subject ON audit_entries(subject_type, subject_id, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// GetPoolStats returns database connection pool statistics
func (db *DB) GetPoolStats() map[string]interface{} {
	return db.pool.GetStats()
}
