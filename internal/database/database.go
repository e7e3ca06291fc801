// Package database opens the SQL connection pool behind the key stores and owns their
// transactions and schema migrations.
package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	apperrors "github.com/allisson/kms/internal/errors"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

const defaultPingTimeout = 5 * time.Second

// Config describes the pool. PingTimeout bounds the startup reachability check and
// defaults to five seconds.
type Config struct {
	Driver             string
	ConnectionString   string
	MaxOpenConnections int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	PingTimeout        time.Duration
}

// Connect opens and pings the pool. Driver and DSN problems are ErrInvalidInput; an
// unreachable server is ErrUnavailable.
func Connect(cfg Config) (*sql.DB, error) {
	dsn, err := normalizeDSN(cfg.Driver, cfg.ConnectionString)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "failed to open database: "+err.Error())
	}
	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrapf(apperrors.ErrUnavailable, "failed to ping database (%v)", err)
	}
	return db, nil
}

// normalizeDSN forces parseTime on MySQL connections; the stores scan DATETIME columns
// into time.Time.
func normalizeDSN(driver, dsn string) (string, error) {
	switch driver {
	case DriverPostgres:
		return dsn, nil
	case DriverMySQL:
		mysqlCfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", apperrors.Wrapf(apperrors.ErrInvalidInput, "invalid mysql connection string (%v)", err)
		}
		mysqlCfg.ParseTime = true
		return mysqlCfg.FormatDSN(), nil
	default:
		return "", apperrors.Wrapf(apperrors.ErrInvalidInput, "unsupported database driver %q", driver)
	}
}
