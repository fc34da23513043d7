package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/liveboard/liveboard/internal/envutil"
	"github.com/liveboard/liveboard/internal/slogging"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Snapshots SnapshotConfig  `yaml:"snapshots"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `yaml:"port" env:"SERVER_PORT"`
	Interface       string        `yaml:"interface" env:"SERVER_INTERFACE"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	TLSEnabled      bool          `yaml:"tls_enabled" env:"SERVER_TLS_ENABLED"`
	TLSCertFile     string        `yaml:"tls_cert_file" env:"SERVER_TLS_CERT_FILE"`
	TLSKeyFile      string        `yaml:"tls_key_file" env:"SERVER_TLS_KEY_FILE"`
}

// DatabaseConfig selects the GORM dialect and holds per-dialect settings.
type DatabaseConfig struct {
	Type      string          `yaml:"type" env:"DATABASE_TYPE"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	SQLServer SQLServerConfig `yaml:"sqlserver"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Pool      PoolConfig      `yaml:"pool"`
	Redis     RedisConfig     `yaml:"redis"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST"`
	Port     string `yaml:"port" env:"POSTGRES_PORT"`
	User     string `yaml:"user" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"` //nolint:gosec // G117
	Database string `yaml:"database" env:"POSTGRES_DATABASE"`
	SSLMode  string `yaml:"sslmode" env:"POSTGRES_SSL_MODE"`
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	Host     string `yaml:"host" env:"MYSQL_HOST"`
	Port     string `yaml:"port" env:"MYSQL_PORT"`
	User     string `yaml:"user" env:"MYSQL_USER"`
	Password string `yaml:"password" env:"MYSQL_PASSWORD"` //nolint:gosec // G117
	Database string `yaml:"database" env:"MYSQL_DATABASE"`
}

// SQLServerConfig holds SQL Server configuration
type SQLServerConfig struct {
	Host     string `yaml:"host" env:"SQLSERVER_HOST"`
	Port     string `yaml:"port" env:"SQLSERVER_PORT"`
	User     string `yaml:"user" env:"SQLSERVER_USER"`
	Password string `yaml:"password" env:"SQLSERVER_PASSWORD"` //nolint:gosec // G117
	Database string `yaml:"database" env:"SQLSERVER_DATABASE"`
}

// SQLiteConfig holds SQLite configuration
type SQLiteConfig struct {
	Path string `yaml:"path" env:"SQLITE_PATH"`
}

// PoolConfig holds connection pool settings
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"DATABASE_CONN_MAX_IDLE_TIME"`
}

// RedisConfig holds Redis configuration. Redis is optional; without it the
// snapshot cache, lifecycle stream and cross-instance relay are disabled.
type RedisConfig struct {
	Enabled           bool          `yaml:"enabled" env:"REDIS_ENABLED"`
	Host              string        `yaml:"host" env:"REDIS_HOST"`
	Port              string        `yaml:"port" env:"REDIS_PORT"`
	Password          string        `yaml:"password" env:"REDIS_PASSWORD"` //nolint:gosec // G117
	DB                int           `yaml:"db" env:"REDIS_DB"`
	SnapshotCacheTTL  time.Duration `yaml:"snapshot_cache_ttl" env:"REDIS_SNAPSHOT_CACHE_TTL"`
	EventStream       string        `yaml:"event_stream" env:"REDIS_EVENT_STREAM"`
	EventStreamMaxLen int64         `yaml:"event_stream_max_len" env:"REDIS_EVENT_STREAM_MAX_LEN"`
	RelayChannel      string        `yaml:"relay_channel" env:"REDIS_RELAY_CHANNEL"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig configures verification of tokens issued by the platform's
// identity service.
type JWTConfig struct {
	Secret        string        `yaml:"secret" env:"JWT_SECRET"` //nolint:gosec // G117
	SigningMethod string        `yaml:"signing_method" env:"JWT_SIGNING_METHOD"`
	Issuer        string        `yaml:"issuer" env:"JWT_ISSUER"`
	Audience      string        `yaml:"audience" env:"JWT_AUDIENCE"`
	Leeway        time.Duration `yaml:"leeway" env:"JWT_LEEWAY"`
}

// WebSocketConfig holds live-session connection settings
type WebSocketConfig struct {
	HeartbeatTimeout    time.Duration `yaml:"heartbeat_timeout" env:"WEBSOCKET_HEARTBEAT_TIMEOUT"`
	WriteTimeout        time.Duration `yaml:"write_timeout" env:"WEBSOCKET_WRITE_TIMEOUT"`
	SendBuffer          int           `yaml:"send_buffer" env:"WEBSOCKET_SEND_BUFFER"`
	EndGracePeriod      time.Duration `yaml:"end_grace_period" env:"WEBSOCKET_END_GRACE_PERIOD"`
	MalformedFrameLimit int           `yaml:"malformed_frame_limit" env:"WEBSOCKET_MALFORMED_FRAME_LIMIT"`
	EchoToOrigin        bool          `yaml:"echo_to_origin" env:"WEBSOCKET_ECHO_TO_ORIGIN"`
	MaxFrameBytes       int64         `yaml:"max_frame_bytes" env:"WEBSOCKET_MAX_FRAME_BYTES"`
	MaxParticipants     int           `yaml:"max_participants" env:"WEBSOCKET_MAX_PARTICIPANTS"`
	AllowedOrigins      []string      `yaml:"allowed_origins" env:"WEBSOCKET_ALLOWED_ORIGINS"`
}

// SnapshotConfig holds snapshot persistence settings
type SnapshotConfig struct {
	MaxPayloadBytes  int           `yaml:"max_payload_bytes" env:"SNAPSHOTS_MAX_PAYLOAD_BYTES"`
	RetryMaxAttempts int           `yaml:"retry_max_attempts" env:"SNAPSHOTS_RETRY_MAX_ATTEMPTS"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay" env:"SNAPSHOTS_RETRY_BASE_DELAY"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay" env:"SNAPSHOTS_RETRY_MAX_DELAY"`
	SaveTimeout      time.Duration `yaml:"save_timeout" env:"SNAPSHOTS_SAVE_TIMEOUT"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level" env:"LOGGING_LEVEL"`
	IsDev            bool   `yaml:"is_dev" env:"LOGGING_IS_DEV"`
	IsTest           bool   `yaml:"is_test" env:"LOGGING_IS_TEST"`
	LogDir           string `yaml:"log_dir" env:"LOGGING_LOG_DIR"`
	MaxAgeDays       int    `yaml:"max_age_days" env:"LOGGING_MAX_AGE_DAYS"`
	MaxSizeMB        int    `yaml:"max_size_mb" env:"LOGGING_MAX_SIZE_MB"`
	MaxBackups       int    `yaml:"max_backups" env:"LOGGING_MAX_BACKUPS"`
	AlsoLogToConsole bool   `yaml:"also_log_to_console" env:"LOGGING_ALSO_LOG_TO_CONSOLE"`
	LogWebSocketMsg  bool   `yaml:"log_websocket_messages" env:"LOGGING_LOG_WEBSOCKET_MESSAGES"`
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	ServiceVersion string `yaml:"service_version" env:"OTEL_SERVICE_VERSION"`
	Environment    string `yaml:"environment" env:"OTEL_ENVIRONMENT"`
	MetricsEnabled bool   `yaml:"metrics_enabled" env:"OTEL_METRICS_ENABLED"`
	TracingEnabled bool   `yaml:"tracing_enabled" env:"OTEL_TRACING_ENABLED"`
	// TraceExporter is "stdout" or "otlp".
	TraceExporter   string  `yaml:"trace_exporter" env:"OTEL_TRACE_EXPORTER"`
	TraceSampleRate float64 `yaml:"trace_sample_rate" env:"OTEL_TRACE_SAMPLE_RATE"`
	OTLPEndpoint    string  `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure    bool    `yaml:"otlp_insecure" env:"OTEL_EXPORTER_OTLP_INSECURE"`
	// OTLPMetrics pushes metrics to OTLPEndpoint as well as serving them
	// on the Prometheus scrape endpoint.
	OTLPMetrics     bool `yaml:"otlp_metrics" env:"OTEL_OTLP_METRICS"`
	InstrumentDB    bool `yaml:"instrument_db" env:"OTEL_INSTRUMENT_DB"`
	InstrumentRedis bool `yaml:"instrument_redis" env:"OTEL_INSTRUMENT_REDIS"`
}

// Load reads an optional .env file, then the YAML file, then environment
// overrides, and validates the result.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	config := getDefaultConfig()

	if configFile != "" {
		if err := loadFromYAML(config, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config from YAML: %w", err)
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, fmt.Errorf("failed to override with environment variables: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Interface:       "0.0.0.0",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Type: "postgres",
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     "5432",
				User:     "liveboard",
				Database: "liveboard",
				SSLMode:  "disable",
			},
			MySQL:     MySQLConfig{Port: "3306"},
			SQLServer: SQLServerConfig{Port: "1433"},
			SQLite:    SQLiteConfig{Path: "liveboard.db"},
			Pool: PoolConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 4 * time.Minute,
				ConnMaxIdleTime: 30 * time.Second,
			},
			Redis: RedisConfig{
				Host:              "localhost",
				Port:              "6379",
				SnapshotCacheTTL:  10 * time.Minute,
				EventStream:       "whiteboard:events",
				EventStreamMaxLen: 10000,
				RelayChannel:      "whiteboard:session-ended",
			},
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				SigningMethod: "HS256",
				Leeway:        30 * time.Second,
			},
		},
		WebSocket: WebSocketConfig{
			HeartbeatTimeout:    60 * time.Second,
			WriteTimeout:        10 * time.Second,
			SendBuffer:          256,
			EndGracePeriod:      2 * time.Second,
			MalformedFrameLimit: 20,
			MaxFrameBytes:       2 << 20,
			MaxParticipants:     200,
		},
		Snapshots: SnapshotConfig{
			MaxPayloadBytes:  1 << 20,
			RetryMaxAttempts: 3,
			RetryBaseDelay:   100 * time.Millisecond,
			RetryMaxDelay:    2 * time.Second,
			SaveTimeout:      10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:            "info",
			LogDir:           "logs",
			MaxAgeDays:       7,
			MaxSizeMB:        100,
			MaxBackups:       10,
			AlsoLogToConsole: true,
		},
		Telemetry: TelemetryConfig{
			ServiceName:     "liveboard",
			ServiceVersion:  "dev",
			Environment:     "development",
			MetricsEnabled:  true,
			TraceExporter:   "stdout",
			TraceSampleRate: 1.0,
			OTLPEndpoint:    "localhost:4317",
			OTLPInsecure:    true,
			InstrumentDB:    true,
			InstrumentRedis: true,
		},
	}
}

func loadFromYAML(config *Config, filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func overrideWithEnv(config *Config) error {
	return overrideStructWithEnv(reflect.ValueOf(config).Elem())
}

// overrideStructWithEnv walks nested structs and sets every field carrying
// an env tag whose variable is present and non-empty.
func overrideStructWithEnv(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := overrideStructWithEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue, ok := envutil.Lookup(envTag)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldFromString(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}
	return nil
}

func setFieldFromString(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool value: %s", value)
		}
		field.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int value: %s", value)
		}
		field.SetInt(int64(n))
	case reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value: %s", value)
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid int64 value: %s", value)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %s", value)
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		field.Set(reflect.ValueOf(out))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.TLSEnabled && (c.Server.TLSCertFile == "" || c.Server.TLSKeyFile == "") {
		return fmt.Errorf("tls cert and key files are required when tls is enabled")
	}

	switch c.Database.Type {
	case "postgres":
		if c.Database.Postgres.Host == "" || c.Database.Postgres.Database == "" {
			return fmt.Errorf("postgres host and database are required")
		}
	case "mysql":
		if c.Database.MySQL.Host == "" || c.Database.MySQL.Database == "" {
			return fmt.Errorf("mysql host and database are required")
		}
	case "sqlserver":
		if c.Database.SQLServer.Host == "" || c.Database.SQLServer.Database == "" {
			return fmt.Errorf("sqlserver host and database are required")
		}
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %q", c.Database.Type)
	}

	if c.Database.Redis.Enabled && (c.Database.Redis.Host == "" || c.Database.Redis.Port == "") {
		return fmt.Errorf("redis host and port are required when redis is enabled")
	}

	if c.Auth.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	switch c.Auth.JWT.SigningMethod {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported jwt signing method: %q", c.Auth.JWT.SigningMethod)
	}

	ws := c.WebSocket
	if ws.HeartbeatTimeout < time.Second {
		return fmt.Errorf("websocket heartbeat timeout must be at least 1s")
	}
	if ws.WriteTimeout <= 0 || ws.EndGracePeriod <= 0 {
		return fmt.Errorf("websocket write timeout and end grace period must be positive")
	}
	if ws.SendBuffer < 1 {
		return fmt.Errorf("websocket send buffer must be at least 1")
	}
	if ws.MalformedFrameLimit < 1 {
		return fmt.Errorf("websocket malformed frame limit must be at least 1")
	}

	s := c.Snapshots
	if s.MaxPayloadBytes < 1 {
		return fmt.Errorf("snapshot max payload bytes must be positive")
	}
	if s.RetryMaxAttempts < 1 {
		return fmt.Errorf("snapshot retry attempts must be at least 1")
	}
	if s.RetryBaseDelay <= 0 || s.RetryMaxDelay < s.RetryBaseDelay {
		return fmt.Errorf("snapshot retry delays must be positive with max >= base")
	}

	if c.Telemetry.TracingEnabled {
		switch c.Telemetry.TraceExporter {
		case "stdout", "otlp":
		default:
			return fmt.Errorf("unsupported trace exporter: %q", c.Telemetry.TraceExporter)
		}
	}
	return nil
}

// IsTestMode returns true if running in test mode
func (c *Config) IsTestMode() bool {
	return c.Logging.IsTest || isRunningInTest()
}

func isRunningInTest() bool {
	return flag.Lookup("test.v") != nil
}

// GetLogLevel returns the parsed log level
func (c *Config) GetLogLevel() slogging.LogLevel {
	return slogging.ParseLogLevel(c.Logging.Level)
}

// ListenAddress is the host:port the HTTP server binds.
func (c *Config) ListenAddress() string {
	return c.Server.Interface + ":" + c.Server.Port
}
