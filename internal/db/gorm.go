package db

import (
	"context"
	"fmt"
	"time"

	"github.com/liveboard/liveboard/internal/slogging"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabaseType names a supported GORM dialect
type DatabaseType string

const (
	DatabaseTypePostgres  DatabaseType = "postgres"
	DatabaseTypeMySQL     DatabaseType = "mysql"
	DatabaseTypeSQLServer DatabaseType = "sqlserver"
	DatabaseTypeSQLite    DatabaseType = "sqlite"
)

// GormConfig holds the configuration for a GORM connection
type GormConfig struct {
	Type DatabaseType

	Host     string
	Port     string
	User     string
	Password string //nolint:gosec // G117
	Database string
	SSLMode  string

	// SQLitePath is a file path or ":memory:".
	SQLitePath string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Tracing registers the otelgorm plugin so every statement becomes a span.
	Tracing bool
}

// GormDB wraps a GORM connection for whichever dialect was configured
type GormDB struct {
	db  *gorm.DB
	cfg GormConfig
}

func dialectorFor(cfg GormConfig) (gorm.Dialector, error) {
	switch cfg.Type {
	case DatabaseTypePostgres:
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
		return postgres.Open(dsn), nil
	case DatabaseTypeMySQL:
		// parseTime=true is required for time.Time scanning
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		return mysql.Open(dsn), nil
	case DatabaseTypeSQLServer:
		dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%s?database=%s",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		return sqlserver.Open(dsn), nil
	case DatabaseTypeSQLite:
		return sqlite.Open(cfg.SQLitePath), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// NewGormDB opens, tunes and pings a connection for cfg.Type.
func NewGormDB(cfg GormConfig) (*GormDB, error) {
	log := slogging.Get()
	log.Debug("Initializing GORM connection for database type: %s", cfg.Type)

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	return OpenGormDB(dialector, cfg)
}

// OpenGormDB opens a connection on an already-built dialector. Tests use it
// to run against sqlmock or in-memory SQLite.
func OpenGormDB(dialector gorm.Dialector, cfg GormConfig) (*GormDB, error) {
	log := slogging.Get()

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(log),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		log.Error("Failed to open GORM connection: %v", err)
		return nil, fmt.Errorf("failed to open gorm connection: %w", err)
	}

	if cfg.Tracing {
		if err := db.Use(otelgorm.NewPlugin(otelgorm.WithDBName(cfg.Database))); err != nil {
			return nil, fmt.Errorf("failed to register gorm tracing plugin: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if cfg.Type == DatabaseTypeSQLite {
		// One writer; an in-memory database also only exists per connection.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
		if cfg.ConnMaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		log.Error("Failed to ping database: %v", err)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Debug("GORM connection established")

	return &GormDB{db: db, cfg: cfg}, nil
}

// Close closes the database connection
func (g *GormDB) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("error closing database connection: %w", err)
	}
	return nil
}

// DB returns the GORM database instance
func (g *GormDB) DB() *gorm.DB {
	return g.db
}

// DatabaseType returns the configured dialect
func (g *GormDB) DatabaseType() DatabaseType {
	return g.cfg.Type
}

// Ping checks if the database connection is alive
func (g *GormDB) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// AutoMigrate runs GORM auto-migration for the given models
func (g *GormDB) AutoMigrate(models ...any) error {
	slogging.Get().Debug("Running GORM auto-migration for %d models", len(models))
	if err := g.db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}

// gormLogger routes GORM output through slogging. Statements log at debug,
// slow statements at warn.
type gormLogger struct {
	log           *slogging.Logger
	slowThreshold time.Duration
}

// NewGormLogger adapts log to GORM's logger interface
func NewGormLogger(log *slogging.Logger) logger.Interface {
	return &gormLogger{log: log, slowThreshold: 500 * time.Millisecond}
}

func (l *gormLogger) LogMode(logger.LogLevel) logger.Interface { return l }

func (l *gormLogger) Info(_ context.Context, msg string, data ...any) { l.log.Info(msg, data...) }

func (l *gormLogger) Warn(_ context.Context, msg string, data ...any) { l.log.Warn(msg, data...) }

func (l *gormLogger) Error(_ context.Context, msg string, data ...any) { l.log.Error(msg, data...) }

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	switch {
	case err != nil && err != gorm.ErrRecordNotFound:
		l.log.Error("GORM query error: %v [%s] (%d rows, %s)", err, sql, rows, elapsed)
	case elapsed > l.slowThreshold:
		l.log.Warn("GORM slow query: %s (%d rows, %s)", sql, rows, elapsed)
	default:
		l.log.Debug("GORM query: %s (%d rows, %s)", sql, rows, elapsed)
	}
}
