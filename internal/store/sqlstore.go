package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLStore is an alternate Store backed by a relational database: one row
// per (task_fingerprint, kind, agent_id) holding the record's JSON payload.
// The filesystem FileStore remains the default; this backend exists for
// deployments where task state must live alongside other operational data
// or survive hosts without a shared filesystem.
type SQLStore struct {
	db      *sql.DB
	logger  *slog.Logger
	timeout time.Duration
}

// PostgresConfig holds connection settings for the Postgres backend.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns the default connection settings.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "mla",
		Password:        "",
		Database:        "mla",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore opens a Postgres-backed store.
func NewPostgresStore(cfg *PostgresConfig, logger *slog.Logger) (*SQLStore, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password,
		cfg.Database, cfg.SSLMode, int(cfg.ConnectTimeout.Seconds()),
	)
	return NewPostgresStoreFromDSN(dsn, cfg, logger)
}

// NewPostgresStoreFromDSN opens a Postgres-backed store from a raw DSN/URL.
func NewPostgresStoreFromDSN(dsn string, cfg *PostgresConfig, logger *slog.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: dsn is required")
	}
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	return newSQLStore(db, logger)
}

// NewSQLiteStore opens an embedded-SQLite-backed store at path. Suitable for
// single-host deployments that want SQL queryability without a server.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store: sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// Concurrent writers on SQLite serialize on a single connection.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, logger)
}

func newSQLStore(db *sql.DB, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLStore{db: db, logger: logger, timeout: 10 * time.Second}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// ensureSchema creates the records table if it does not exist. The DDL is
// shared between Postgres and SQLite.
func (s *SQLStore) ensureSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS task_records (
			task_fingerprint TEXT NOT NULL,
			kind             TEXT NOT NULL,
			agent_id         TEXT NOT NULL DEFAULT '',
			payload          TEXT NOT NULL,
			updated_at       TIMESTAMP NOT NULL,
			PRIMARY KEY (task_fingerprint, kind, agent_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return nil
}

// DB exposes the underlying connection for related tooling (migrations,
// inspection queries).
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// validateKey enforces the same (kind, agent_id) rules as the filesystem
// backend's file-name formatter, so the two stores accept identical keys.
func validateKey(kind RecordKind, agentID string) error {
	_, err := FileName("x", kind, agentID)
	return err
}

// Read implements Store. A malformed payload is logged and treated as
// absent, matching FileStore.
func (s *SQLStore) Read(taskFingerprint string, kind RecordKind, agentID string, v any) (bool, error) {
	if err := validateKey(kind, agentID); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM task_records
		WHERE task_fingerprint = $1 AND kind = $2 AND agent_id = $3
	`, taskFingerprint, string(kind), agentID).Scan(&payload)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: select %s/%s/%s: %w", taskFingerprint, kind, agentID, err)
	}
	if len(payload) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		s.logger.Warn("store: malformed record, treating as absent",
			"task", taskFingerprint, "kind", string(kind), "agent_id", agentID, "error", err)
		return false, nil
	}
	return true, nil
}

// Write implements Store. The row upsert is atomic, giving the same
// no-partial-state guarantee the FileStore's temp-and-rename provides.
func (s *SQLStore) Write(taskFingerprint string, kind RecordKind, agentID string, v any) error {
	if err := validateKey(kind, agentID); err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s/%s/%s: %w", taskFingerprint, kind, agentID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_records (task_fingerprint, kind, agent_id, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_fingerprint, kind, agent_id)
		DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, taskFingerprint, string(kind), agentID, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: upsert %s/%s/%s: %w", taskFingerprint, kind, agentID, err)
	}
	return nil
}

// Delete implements Store. Deleting an absent record is not an error.
func (s *SQLStore) Delete(taskFingerprint string, kind RecordKind, agentID string) error {
	if err := validateKey(kind, agentID); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM task_records
		WHERE task_fingerprint = $1 AND kind = $2 AND agent_id = $3
	`, taskFingerprint, string(kind), agentID)
	if err != nil {
		return fmt.Errorf("store: delete %s/%s/%s: %w", taskFingerprint, kind, agentID, err)
	}
	return nil
}
