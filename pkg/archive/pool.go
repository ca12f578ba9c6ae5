package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fluxorio/maildemo/pkg/config"
)

// PoolConfig configures the database connection pool.
type PoolConfig struct {
	DriverName string
	DSN        string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// PingTimeout bounds the connectivity check in OpenPool.
	PingTimeout time.Duration
}

// DefaultPoolConfig returns pool defaults for the given driver and DSN.
func DefaultPoolConfig(driverName, dsn string) PoolConfig {
	return PoolConfig{
		DriverName:      driverName,
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// PoolConfigFrom derives a PoolConfig from the archive section.
func PoolConfigFrom(cfg config.ArchiveConfig) PoolConfig {
	pc := DefaultPoolConfig(cfg.Driver, cfg.DSN)
	if cfg.MaxOpenConns > 0 {
		pc.MaxOpenConns = cfg.MaxOpenConns
		if pc.MaxIdleConns > pc.MaxOpenConns {
			pc.MaxIdleConns = pc.MaxOpenConns
		}
	}
	return pc
}

// Error is returned for invalid configuration, input or state.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Error codes.
const (
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeInvalidState  = "INVALID_STATE"
	CodeNotFound      = "NOT_FOUND"
)

// Validate checks the pool settings before any connection is made.
func (c PoolConfig) Validate() error {
	if c.DSN == "" {
		return &Error{Code: CodeInvalidConfig, Message: "DSN cannot be empty"}
	}
	if c.DriverName == "" {
		return &Error{Code: CodeInvalidConfig, Message: "DriverName cannot be empty"}
	}
	if _, err := dialectFor(c.DriverName); err != nil {
		return err
	}
	if c.MaxOpenConns <= 0 {
		return &Error{Code: CodeInvalidConfig, Message: "MaxOpenConns must be positive"}
	}
	if c.MaxIdleConns < 0 {
		return &Error{Code: CodeInvalidConfig, Message: "MaxIdleConns cannot be negative"}
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return &Error{Code: CodeInvalidConfig, Message: "MaxIdleConns cannot exceed MaxOpenConns"}
	}
	if c.ConnMaxLifetime < 0 {
		return &Error{Code: CodeInvalidConfig, Message: "ConnMaxLifetime cannot be negative"}
	}
	if c.ConnMaxIdleTime < 0 {
		return &Error{Code: CodeInvalidConfig, Message: "ConnMaxIdleTime cannot be negative"}
	}
	return nil
}

// OpenPool validates c, opens the pool and pings it.
func OpenPool(ctx context.Context, c PoolConfig) (*sql.DB, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(c.DriverName, c.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.DriverName, err)
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)

	timeout := c.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", c.DriverName, err)
	}
	return db, nil
}
