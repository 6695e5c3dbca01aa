package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/gatekeeper/pkg/evidence"
	"mercator-hq/gatekeeper/pkg/evidence/query"
)

// SQLiteConfig contains configuration for the SQLite audit store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/audit.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStore implements evidence.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	insert *sql.Stmt
	logger *slog.Logger
}

// NewSQLiteStore opens the database, applies pragmas, and creates the
// schema if needed.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = 5
	}

	logger := slog.Default().With("component", "evidence.storage.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, evidence.NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStore{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite audit store initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)
	return s, nil
}

// initialize sets up the database schema and enables WAL mode.
func (s *SQLiteStore) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return evidence.NewStorageError("sqlite", "enable_wal", err)
		}
		s.logger.Debug("WAL mode enabled")
	}

	busyTimeoutMs := s.config.BusyTimeout.Milliseconds()
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return evidence.NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return evidence.NewStorageError("sqlite", "create_schema", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return evidence.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return evidence.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return evidence.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	stmt, err := s.db.Prepare(insertEntry)
	if err != nil {
		return evidence.NewStorageError("sqlite", "prepare", err)
	}
	s.insert = stmt

	s.logger.Debug("schema version verified", "version", version)
	return nil
}

// Write inserts one entry.
func (s *SQLiteStore) Write(ctx context.Context, entry *evidence.Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return evidence.NewStorageError("sqlite", "encode", err)
	}

	_, err = s.insert.ExecContext(ctx,
		entry.ID,
		entry.Timestamp.UTC().UnixNano(),
		nullIfEmpty(entry.RequestID),
		entry.Tool,
		string(entry.Result),
		nullIfEmpty(strings.ToLower(entry.TransactionHash)),
		string(payload),
	)
	if err != nil {
		return evidence.NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Query returns matching entries, newest first.
func (s *SQLiteStore) Query(ctx context.Context, in *evidence.Query) ([]*evidence.Entry, error) {
	q := &evidence.Query{}
	if in != nil {
		*q = *in
	}
	if err := query.Validate(q); err != nil {
		return nil, err
	}
	query.ApplyDefaults(q)

	where, args := buildWhereClause(q)
	sqlQuery := "SELECT payload FROM audit_entries"
	if where != "" {
		sqlQuery += " WHERE " + where
	}
	sqlQuery += " ORDER BY ts DESC, seq DESC"
	sqlQuery += fmt.Sprintf(" LIMIT %d", q.Limit)
	if q.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, evidence.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	entries := []*evidence.Entry{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, evidence.NewStorageError("sqlite", "scan", err)
		}
		var e evidence.Entry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, evidence.NewStorageError("sqlite", "decode", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, evidence.NewStorageError("sqlite", "query", err)
	}
	return entries, nil
}

// Count returns the number of matching entries, ignoring pagination.
func (s *SQLiteStore) Count(ctx context.Context, q *evidence.Query) (int64, error) {
	where, args := buildWhereClause(q)
	sqlQuery := "SELECT COUNT(*) FROM audit_entries"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, evidence.NewStorageError("sqlite", "count", err)
	}
	return count, nil
}

// DeleteBefore removes entries logged before cutoff.
func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_entries WHERE ts < ?", cutoff.UTC().UnixNano())
	if err != nil {
		return 0, evidence.NewStorageError("sqlite", "delete", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, evidence.NewStorageError("sqlite", "delete", err)
	}
	return count, nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return evidence.NewStorageError("sqlite", "ping", err)
	}
	return nil
}

// Close releases resources held by the store.
func (s *SQLiteStore) Close() error {
	if s.insert != nil {
		s.insert.Close()
	}
	if err := s.db.Close(); err != nil {
		return evidence.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite audit store closed")
	return nil
}

// buildWhereClause builds a SQL WHERE clause from query filters.
// Returns the clause (without "WHERE") and its arguments.
func buildWhereClause(q *evidence.Query) (string, []any) {
	if q == nil {
		return "", nil
	}

	var conditions []string
	var args []any

	if q.Since != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, q.Since.UTC().UnixNano())
	}
	if q.Until != nil {
		conditions = append(conditions, "ts < ?")
		args = append(args, q.Until.UTC().UnixNano())
	}
	if q.RequestID != "" {
		conditions = append(conditions, "request_id = ?")
		args = append(args, q.RequestID)
	}
	if q.Tool != "" {
		conditions = append(conditions, "tool = ?")
		args = append(args, q.Tool)
	}
	if q.TransactionHash != "" {
		conditions = append(conditions, "transaction_hash = ?")
		args = append(args, strings.ToLower(q.TransactionHash))
	}
	if q.Result != "" {
		conditions = append(conditions, "result = ?")
		args = append(args, string(q.Result))
	}

	return strings.Join(conditions, " AND "), args
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
