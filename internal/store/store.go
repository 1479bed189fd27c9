// Package store persists exams and grading results in SQLite or Postgres.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Driver selects the database backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver maps a flag value to a Driver.
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", s)
	}
}

type Store struct {
	db       *sql.DB
	driver   Driver
	validate *validator.Validate
}

// New opens a SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), DriverSQLite, dbPath)
}

// Open connects to the database and creates missing tables. For SQLite the
// dsn is a file path or ":memory:"; for Postgres it is a connection URL.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		if dsn != ":memory:" {
			dsn = "file:" + dsn + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/examgrader?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite && dsn == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver, validate: validator.New(validator.WithRequiredStructEnabled())}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS exams (
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL DEFAULT '',
	grade_level TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	schema_version INTEGER NOT NULL DEFAULT 2,
	questions_json TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS grading_results (
	id TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL,
	attempt_number INTEGER NOT NULL,
	total_points REAL NOT NULL,
	max_total_points INTEGER NOT NULL,
	percentage INTEGER NOT NULL,
	final_grade INTEGER NOT NULL,
	methods_json TEXT NOT NULL,
	cost_json TEXT NOT NULL,
	questions_json TEXT NOT NULL,
	submitted_at INTEGER NOT NULL,
	graded_at INTEGER NOT NULL,
	UNIQUE (exam_id, attempt_number)
);

CREATE TABLE IF NOT EXISTS legacy_grading_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	exam_id TEXT NOT NULL,
	attempt_number INTEGER NOT NULL,
	score REAL NOT NULL DEFAULT 0,
	max_score INTEGER NOT NULL DEFAULT 0,
	grade INTEGER NOT NULL DEFAULT 0,
	answers_json TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS exam_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS exams (
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL DEFAULT '',
	grade_level TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	schema_version INTEGER NOT NULL DEFAULT 2,
	questions_json TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS grading_results (
	id TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL,
	attempt_number INTEGER NOT NULL,
	total_points DOUBLE PRECISION NOT NULL,
	max_total_points INTEGER NOT NULL,
	percentage INTEGER NOT NULL,
	final_grade INTEGER NOT NULL,
	methods_json TEXT NOT NULL,
	cost_json TEXT NOT NULL,
	questions_json TEXT NOT NULL,
	submitted_at BIGINT NOT NULL,
	graded_at BIGINT NOT NULL,
	UNIQUE (exam_id, attempt_number)
);

CREATE TABLE IF NOT EXISTS legacy_grading_results (
	id BIGSERIAL PRIMARY KEY,
	exam_id TEXT NOT NULL,
	attempt_number INTEGER NOT NULL,
	score DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_score INTEGER NOT NULL DEFAULT 0,
	grade INTEGER NOT NULL DEFAULT 0,
	answers_json TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS exam_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
