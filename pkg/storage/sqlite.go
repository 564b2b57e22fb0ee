package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/levenlabs/go-lflag"
	_ "modernc.org/sqlite"

	"github.com/fluviusenergy/fluviusenergy/pkg/log"
	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

var sqliteMigrations = []string{
	`CREATE TABLE lifetime_state (
		account_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE daily_summaries (
		account_id TEXT NOT NULL,
		start_utc TEXT NOT NULL,
		day_id TEXT NOT NULL,
		json TEXT NOT NULL,
		PRIMARY KEY (account_id, start_utc)
	)`,
}

// SQLiteProvider implements the Database interface on a local SQLite file
// using modernc.org/sqlite, so no cgo is needed.
type SQLiteProvider struct {
	db   *sql.DB
	path string
}

func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "fluviusenergy.db", "Path of the SQLite database file")

	s := &SQLiteProvider{}
	lflag.Do(func() {
		s.path = *path
	})
	return s
}

// NewSQLiteProvider opens (or creates) the database at path and migrates it.
func NewSQLiteProvider(ctx context.Context, path string) (*SQLiteProvider, error) {
	s := &SQLiteProvider{path: path}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks if the provider is properly configured.
func (s *SQLiteProvider) Validate() error {
	if s.path == "" {
		return errors.New("sqlite-path is required")
	}
	return nil
}

// Init opens the database file, creating it with 0600 permissions, and runs
// any pending migrations.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("failed to create database file: %w", err)
		}
		_ = f.Close()
	}

	db, err := sql.Open("sqlite", s.path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s.db = db
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteProvider) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	for i := current; i < len(sqliteMigrations); i++ {
		log.Ctx(ctx).InfoContext(ctx, "applying sqlite migration", slog.Int("version", i+1))
		if _, err := s.db.ExecContext(ctx, sqliteMigrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetLifetimeState implements Database.
func (s *SQLiteProvider) GetLifetimeState(ctx context.Context, accountID string) (types.LifetimeState, error) {
	if accountID == "" {
		return types.LifetimeState{}, ErrEmptyAccountID
	}
	var jsonStr string
	err := s.db.QueryRowContext(ctx, "SELECT json FROM lifetime_state WHERE account_id = ?", accountID).Scan(&jsonStr)
	if errors.Is(err, sql.ErrNoRows) {
		return types.NewLifetimeState(), nil
	}
	if err != nil {
		return types.LifetimeState{}, fmt.Errorf("failed to fetch lifetime state: %w", err)
	}

	var state types.LifetimeState
	if err := json.Unmarshal([]byte(jsonStr), &state); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal lifetime json", slog.String("accountID", accountID), slog.Any("err", err))
		return types.LifetimeState{}, fmt.Errorf("failed to unmarshal lifetime json: %w", err)
	}
	state.Normalize()
	return state, nil
}

// SetLifetimeState implements Database.
func (s *SQLiteProvider) SetLifetimeState(ctx context.Context, accountID string, state types.LifetimeState) error {
	if accountID == "" {
		return ErrEmptyAccountID
	}
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal lifetime state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO lifetime_state (account_id, version, json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET version = excluded.version, json = excluded.json, updated_at = excluded.updated_at`,
		accountID, state.Version, string(jsonBytes), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save lifetime state: %w", err)
	}
	return nil
}

// UpsertDailySummaries implements Database. All summaries are written in one
// transaction.
func (s *SQLiteProvider) UpsertDailySummaries(ctx context.Context, accountID string, summaries []types.DailySummary) error {
	if accountID == "" {
		return ErrEmptyAccountID
	}
	if len(summaries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, sum := range summaries {
		if sum.Start.IsZero() {
			return fmt.Errorf("daily summary %q missing start", sum.DayID)
		}
		jsonBytes, err := json.Marshal(sum)
		if err != nil {
			return fmt.Errorf("failed to marshal daily summary: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO daily_summaries (account_id, start_utc, day_id, json)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (account_id, start_utc) DO UPDATE SET day_id = excluded.day_id, json = excluded.json`,
			accountID, summaryKey(sum.Start), sum.DayID, string(jsonBytes))
		if err != nil {
			return fmt.Errorf("failed to upsert daily summary: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit daily summaries: %w", err)
	}
	return nil
}

// GetDailySummaries implements Database.
func (s *SQLiteProvider) GetDailySummaries(ctx context.Context, accountID string, start, end time.Time) ([]types.DailySummary, error) {
	if accountID == "" {
		return nil, ErrEmptyAccountID
	}
	rows, err := s.db.QueryContext(ctx, `SELECT start_utc, json FROM daily_summaries
		WHERE account_id = ? AND start_utc >= ? AND start_utc < ?
		ORDER BY start_utc ASC`,
		accountID, summaryKey(start), summaryKey(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []types.DailySummary
	for rows.Next() {
		var key, jsonStr string
		if err := rows.Scan(&key, &jsonStr); err != nil {
			return nil, fmt.Errorf("failed to scan daily summary: %w", err)
		}
		var sum types.DailySummary
		if err := json.Unmarshal([]byte(jsonStr), &sum); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary (id=%s): %w", key, err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}
