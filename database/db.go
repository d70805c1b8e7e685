package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateTitle is returned when a task title is already used on its board.
	ErrDuplicateTitle = errors.New("task title already exists on this board")

	// ErrDuplicateEmail is returned when a user email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
)

// timeLayout is fixed width so stored timestamps order correctly as text.
const timeLayout = "2006-01-02 15:04:05.000000000"

func dbTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// InitDB opens the SQLite database at path and applies pending migrations.
// Use ":memory:" for a throwaway database.
func InitDB(path string) (*sqlx.DB, error) {
	dsn := path + "?_foreign_keys=1&_busy_timeout=5000&_txlock=immediate"
	if path != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection keeps an
	// in-memory database shared and turns lock contention into queueing.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	slog.Debug("database initialized", "path", path)
	return db, nil
}

func migrate(db *sqlx.DB) error {
	currentVersion := 0

	var tableCount int
	err := db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// DataService is the persistence gateway for boards, tasks, locks,
// conflicts and action logs.
type DataService struct {
	db *sqlx.DB
}

func NewDataService(db *sqlx.DB) *DataService {
	return &DataService{db: db}
}

// Ping checks that the database is reachable.
func (s *DataService) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// inClause expands ids into "(?, ?, ...)" placeholders with matching args.
func inClause(ids []int64) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return "(" + strings.Join(placeholders, ", ") + ")", args
}
