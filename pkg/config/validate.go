package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
)

var (
	tracingExporters = []string{"stdout", "zipkin"}
	archiveDrivers   = []string{"sqlite3", "pgx", "postgres"}
	logLevels        = []string{"debug", "info", "warn", "error"}
	logFormats       = []string{"text", "json"}
)

// Validator checks one aspect of an AppConfig.
type Validator func(cfg *AppConfig) error

// Validate runs every validator and joins the failures.
func (c *AppConfig) Validate(extra ...Validator) error {
	validators := append([]Validator{
		validateServer,
		validateClient,
		validateExecutor,
		validateLogging,
		validateMetrics,
		validateTracing,
		validateArchive,
		validateRelay,
	}, extra...)

	var errs []error
	for _, v := range validators {
		if err := v(c); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func validateServer(c *AppConfig) error {
	if err := validateHostPort("server.addr", c.Server.Addr); err != nil {
		return err
	}
	switch {
	case c.Server.ReadTimeout < 0:
		return fmt.Errorf("server.read_timeout cannot be negative")
	case c.Server.WriteTimeout < 0:
		return fmt.Errorf("server.write_timeout cannot be negative")
	case c.Server.MaxMessageBytes < 0:
		return fmt.Errorf("server.max_message_bytes cannot be negative")
	case c.Server.MaxRecipients < 0:
		return fmt.Errorf("server.max_recipients cannot be negative")
	case c.Server.MaxConnections < 0:
		return fmt.Errorf("server.max_connections cannot be negative")
	}
	return nil
}

func validateClient(c *AppConfig) error {
	if err := validateHostPort("client.addr", c.Client.Addr); err != nil {
		return err
	}
	if c.Client.From == "" {
		return fmt.Errorf("client.from is required")
	}
	if len(c.Client.To) == 0 {
		return fmt.Errorf("client.to requires at least one recipient")
	}
	if c.Client.Timeout < 0 {
		return fmt.Errorf("client.timeout cannot be negative")
	}
	return nil
}

func validateExecutor(c *AppConfig) error {
	if c.Executor.Parallelism < 1 {
		return fmt.Errorf("executor.parallelism must be positive, got %d", c.Executor.Parallelism)
	}
	if c.Executor.DrainTimeout < 0 {
		return fmt.Errorf("executor.drain_timeout cannot be negative")
	}
	return nil
}

func validateLogging(c *AppConfig) error {
	if !slices.Contains(logLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level %q is not one of %v", c.Logging.Level, logLevels)
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		return fmt.Errorf("logging.format %q is not one of %v", c.Logging.Format, logFormats)
	}
	return nil
}

func validateMetrics(c *AppConfig) error {
	if !c.Metrics.Enabled {
		return nil
	}
	return validateHostPort("metrics.addr", c.Metrics.Addr)
}

func validateTracing(c *AppConfig) error {
	if !c.Tracing.Enabled {
		return nil
	}
	if !slices.Contains(tracingExporters, c.Tracing.Exporter) {
		return fmt.Errorf("tracing.exporter %q is not one of %v", c.Tracing.Exporter, tracingExporters)
	}
	if c.Tracing.Exporter == "zipkin" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required for the zipkin exporter")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio %v is out of range [0, 1]", c.Tracing.SampleRatio)
	}
	return nil
}

func validateArchive(c *AppConfig) error {
	if !c.Archive.Enabled {
		return nil
	}
	if !slices.Contains(archiveDrivers, c.Archive.Driver) {
		return fmt.Errorf("archive.driver %q is not one of %v", c.Archive.Driver, archiveDrivers)
	}
	if c.Archive.DSN == "" {
		return fmt.Errorf("archive.dsn is required when the archive is enabled")
	}
	if c.Archive.MaxOpenConns < 1 {
		return fmt.Errorf("archive.max_open_conns must be positive")
	}
	return nil
}

func validateRelay(c *AppConfig) error {
	if !c.Relay.Enabled {
		return nil
	}
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required when the relay is enabled")
	}
	if c.Relay.Subject == "" {
		return fmt.Errorf("relay.subject is required when the relay is enabled")
	}
	if c.Relay.FlushTimeout < 0 {
		return fmt.Errorf("relay.flush_timeout cannot be negative")
	}
	return nil
}

func validateHostPort(field, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", field)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s %q: %w", field, addr, err)
	}
	return nil
}
