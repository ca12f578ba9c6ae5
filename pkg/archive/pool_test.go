package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fluxorio/maildemo/pkg/config"
)

func TestDefaultPoolConfig(t *testing.T) {
	c := DefaultPoolConfig("sqlite3", "test-dsn")

	if c.DSN != "test-dsn" {
		t.Errorf("DSN = %v, want test-dsn", c.DSN)
	}
	if c.MaxOpenConns != 25 {
		t.Errorf("MaxOpenConns = %v, want 25", c.MaxOpenConns)
	}
	if c.MaxIdleConns != 5 {
		t.Errorf("MaxIdleConns = %v, want 5", c.MaxIdleConns)
	}
	if c.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("ConnMaxLifetime = %v, want 5m", c.ConnMaxLifetime)
	}
}

func TestPoolConfigFrom(t *testing.T) {
	c := PoolConfigFrom(config.ArchiveConfig{Driver: "pgx", DSN: "postgres://x", MaxOpenConns: 2})
	if c.DriverName != "pgx" || c.MaxOpenConns != 2 {
		t.Errorf("unexpected pool config: %+v", c)
	}
	if c.MaxIdleConns != 2 {
		t.Errorf("MaxIdleConns = %d, want clamp to 2", c.MaxIdleConns)
	}
}

func TestPoolConfig_Validate(t *testing.T) {
	valid := DefaultPoolConfig("postgres", "postgres://localhost/db")

	tests := []struct {
		name    string
		mutate  func(*PoolConfig)
		message string
	}{
		{"empty dsn", func(c *PoolConfig) { c.DSN = "" }, "DSN cannot be empty"},
		{"empty driver", func(c *PoolConfig) { c.DriverName = "" }, "DriverName cannot be empty"},
		{"unknown driver", func(c *PoolConfig) { c.DriverName = "mysql" }, "unsupported driver: mysql"},
		{"zero max open", func(c *PoolConfig) { c.MaxOpenConns = 0 }, "MaxOpenConns must be positive"},
		{"negative idle", func(c *PoolConfig) { c.MaxIdleConns = -1 }, "MaxIdleConns cannot be negative"},
		{"idle over open", func(c *PoolConfig) { c.MaxIdleConns = 100 }, "MaxIdleConns cannot exceed MaxOpenConns"},
		{"negative lifetime", func(c *PoolConfig) { c.ConnMaxLifetime = -time.Second }, "ConnMaxLifetime cannot be negative"},
		{"negative idle time", func(c *PoolConfig) { c.ConnMaxIdleTime = -time.Second }, "ConnMaxIdleTime cannot be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)

			err := c.Validate()
			var archiveErr *Error
			if !errors.As(err, &archiveErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if archiveErr.Code != CodeInvalidConfig {
				t.Errorf("Code = %s, want %s", archiveErr.Code, CodeInvalidConfig)
			}
			if archiveErr.Message != tt.message {
				t.Errorf("Message = %q, want %q", archiveErr.Message, tt.message)
			}
		})
	}

	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestOpenPool_FailsFastWithoutConnecting(t *testing.T) {
	_, err := OpenPool(context.Background(), PoolConfig{DriverName: "pgx"})
	if err == nil || err.Error() != "DSN cannot be empty" {
		t.Errorf("expected DSN error, got %v", err)
	}
}

func TestDialect_Rebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = ?"

	if got := dialects["sqlite3"].rebind(q); got != q {
		t.Errorf("sqlite3 rebind = %q", got)
	}
	want := "SELECT * FROM t WHERE a = $1 AND b = $2"
	for _, name := range []string{"pgx", "postgres"} {
		if got := dialects[name].rebind(q); got != want {
			t.Errorf("%s rebind = %q, want %q", name, got, want)
		}
	}
}
