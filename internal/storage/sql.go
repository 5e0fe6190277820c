package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/vijoin/tero/internal/secrets"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLConfig configures the SQL connection pool.
type SQLConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns default connection pool settings.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		Driver:          DriverPostgres,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// sqlDB wraps a connection pool and rewrites Postgres-style placeholders
// for dialects that number them differently.
type sqlDB struct {
	db      *sql.DB
	dialect string
}

var placeholderRE = regexp.MustCompile(`\$(\d+)`)

func (d *sqlDB) rebind(query string) string {
	if d.dialect == DriverSQLite {
		return placeholderRE.ReplaceAllString(query, "?$1")
	}
	return query
}

func (d *sqlDB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.rebind(query), args...)
}

func (d *sqlDB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.rebind(query), args...)
}

func (d *sqlDB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, d.rebind(query), args...)
}

// OpenSQL connects to the configured database and returns SQL-backed stores.
// The box encrypts OAuth secrets and must not be nil.
func OpenSQL(cfg SQLConfig, box *secrets.Box) (StoreSet, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return StoreSet{}, fmt.Errorf("dsn is required")
	}
	if box == nil {
		return StoreSet{}, secrets.ErrNoKey
	}
	defaults := DefaultSQLConfig()
	if cfg.Driver == "" {
		cfg.Driver = defaults.Driver
	}
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverSQLite {
		return StoreSet{}, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaults.MaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaults.MaxIdleConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		// SQLite allows a single writer.
		cfg.MaxOpenConns = 1
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("ping database: %w", err)
	}

	return newSQLStores(&sqlDB{db: db, dialect: cfg.Driver}, box), nil
}

func newSQLStores(d *sqlDB, box *secrets.Box) StoreSet {
	return StoreSet{
		Agents:      &sqlAgentStore{d},
		Users:       &sqlUserStore{d},
		Threads:     &sqlThreadStore{d},
		Files:       &sqlFileStore{d},
		ToolConfigs: &sqlToolConfigStore{d},
		ToolFiles:   &sqlToolFileStore{d},
		ToolData:    &sqlToolDataStore{d},
		OAuth:       &sqlOAuthStore{db: d, box: box},
		Usage:       &sqlUsageStore{d},
		TestSuites:  &sqlTestSuiteStore{d},
		Docs:        &sqlDocStore{d},
		closer:      d.db.Close,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil || value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func now() time.Time {
	return time.Now().UTC()
}
