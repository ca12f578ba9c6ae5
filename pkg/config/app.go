package config

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// AppConfig is the configuration shared by cmd/mailserver and cmd/mailclient.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Client   ClientConfig   `yaml:"client" json:"client"`
	Executor ExecutorConfig `yaml:"executor" json:"executor"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing" json:"tracing"`
	Archive  ArchiveConfig  `yaml:"archive" json:"archive"`
	Relay    RelayConfig    `yaml:"relay" json:"relay"`
}

// ServerConfig configures the SMTP listener.
type ServerConfig struct {
	Addr   string `yaml:"addr" json:"addr" env:"SERVER_ADDR"`
	Domain string `yaml:"domain" json:"domain" env:"SERVER_DOMAIN"`

	// Zero timeouts disable the deadline.
	ReadTimeout  Duration `yaml:"read_timeout" json:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout Duration `yaml:"write_timeout" json:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`

	MaxMessageBytes int64 `yaml:"max_message_bytes" json:"max_message_bytes" env:"SERVER_MAX_MESSAGE_BYTES"`
	MaxRecipients   int   `yaml:"max_recipients" json:"max_recipients" env:"SERVER_MAX_RECIPIENTS"`

	// MaxConnections caps open SMTP connections. Zero means derive it from
	// executor parallelism at startup.
	MaxConnections int `yaml:"max_connections" json:"max_connections" env:"SERVER_MAX_CONNECTIONS"`
}

// ClientConfig configures the demo client and the message it sends.
type ClientConfig struct {
	Addr         string   `yaml:"addr" json:"addr" env:"CLIENT_ADDR"`
	HeloName     string   `yaml:"helo_name" json:"helo_name" env:"CLIENT_HELO_NAME"`
	From         string   `yaml:"from" json:"from" env:"CLIENT_FROM"`
	To           []string `yaml:"to" json:"to" env:"CLIENT_TO"`
	Subject      string   `yaml:"subject" json:"subject" env:"CLIENT_SUBJECT"`
	BodyResource string   `yaml:"body_resource" json:"body_resource" env:"CLIENT_BODY_RESOURCE"`
	Timeout      Duration `yaml:"timeout" json:"timeout" env:"CLIENT_TIMEOUT"`
}

// ExecutorConfig configures the bounded delivery executor.
type ExecutorConfig struct {
	// Parallelism zero means resolve from the host at startup.
	Parallelism  int      `yaml:"parallelism" json:"parallelism" env:"EXECUTOR_PARALLELISM"`
	DrainTimeout Duration `yaml:"drain_timeout" json:"drain_timeout" env:"EXECUTOR_DRAIN_TIMEOUT"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"METRICS_ENABLED"`
	Addr    string `yaml:"addr" json:"addr" env:"METRICS_ADDR"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled" env:"TRACING_ENABLED"`
	Exporter    string  `yaml:"exporter" json:"exporter" env:"TRACING_EXPORTER"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint" env:"TRACING_ENDPOINT"`
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio" env:"TRACING_SAMPLE_RATIO"`
	ServiceName string  `yaml:"service_name" json:"service_name" env:"TRACING_SERVICE_NAME"`
}

// ArchiveConfig configures the SQL archive sink.
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled" env:"ARCHIVE_ENABLED"`
	Driver       string `yaml:"driver" json:"driver" env:"ARCHIVE_DRIVER"`
	DSN          string `yaml:"dsn" json:"dsn" env:"ARCHIVE_DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns" env:"ARCHIVE_MAX_OPEN_CONNS"`
}

// RelayConfig configures the NATS relay sink.
type RelayConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"RELAY_ENABLED"`
	URL     string `yaml:"url" json:"url" env:"RELAY_URL"`
	Subject string `yaml:"subject" json:"subject" env:"RELAY_SUBJECT"`
	Name    string `yaml:"name" json:"name" env:"RELAY_NAME"`

	// FlushTimeout bounds the publish acknowledgement when the caller's
	// context has no deadline.
	FlushTimeout Duration `yaml:"flush_timeout" json:"flush_timeout" env:"RELAY_FLUSH_TIMEOUT"`
}

// Default returns the configuration the demo runs with out of the box.
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:            "127.0.0.1:25000",
			Domain:          "localhost",
			MaxMessageBytes: 10 << 20,
			MaxRecipients:   1,
		},
		Client: ClientConfig{
			Addr:         "127.0.0.1:25000",
			HeloName:     "localhost",
			From:         "from@mail.com",
			To:           []string{"to@mail.com"},
			Subject:      "Mail Subject",
			BodyResource: "mail.html",
			Timeout:      Duration(30 * time.Second),
		},
		Executor: ExecutorConfig{
			DrainTimeout: Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9090",
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			SampleRatio: 1.0,
			ServiceName: "maildemo",
		},
		Archive: ArchiveConfig{
			Driver:       "sqlite3",
			DSN:          "file:maildemo.db?cache=shared",
			MaxOpenConns: 4,
		},
		Relay: RelayConfig{
			URL:          "nats://127.0.0.1:4222",
			Subject:      "maildemo.received",
			Name:         "maildemo",
			FlushTimeout: Duration(5 * time.Second),
		},
	}
}

// LoadApp builds the effective configuration: defaults, then the file at
// path (skipped when path is empty), then MAILDEMO_* environment overrides,
// then host-derived values. The result is validated.
func LoadApp(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := Load(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(DefaultEnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	ResolveHost(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveHost fills values that depend on the host. It reads host state
// once; nothing downstream reads it again.
func ResolveHost(cfg *AppConfig) {
	if cfg.Executor.Parallelism == 0 {
		cfg.Executor.Parallelism = runtime.GOMAXPROCS(0)
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = max(cfg.Executor.Parallelism, 5) * 10
	}
}
