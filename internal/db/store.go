// Package db provides GORM-based persistence for recall.
package db

import (
	"database/sql"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // pure-Go SQLite driver with FTS5 support
)

// Store represents the database connection.
type Store struct {
	DB    *gorm.DB
	sqlDB *sql.DB // for FTS5 and other operations that require raw SQL
}

// Config holds database configuration.
type Config struct {
	Path     string          // path to the SQLite database file
	MaxConns int             // maximum open connections (default 4)
	LogLevel logger.LogLevel // GORM log level (logger.Silent for production)
}

// NewStore opens the database, runs migrations and enables WAL mode.
// CRITICAL: migrations run before the WAL pragma so a fresh database is
// never left half-created in rollback-journal mode.
func NewStore(cfg Config) (*Store, error) {
	dsn := cfg.Path + "?_pragma=foreign_keys(1)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db, err := gorm.Open(sqlite.Dialector{
		Conn: sqlDB,
	}, &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// WAL allows concurrent readers during the agent-loop writes. busy_timeout
	// makes writers wait out short lock contention instead of failing.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	return &Store{DB: db, sqlDB: sqlDB}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping() error {
	return s.sqlDB.Ping()
}

// GetRawDB returns the underlying *sql.DB for FTS5 MATCH queries and other
// SQL GORM cannot express.
func (s *Store) GetRawDB() *sql.DB {
	return s.sqlDB
}

// GetDB returns the GORM DB instance for standard queries.
func (s *Store) GetDB() *gorm.DB {
	return s.DB
}
