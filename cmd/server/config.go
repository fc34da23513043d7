package main

import (
	"github.com/liveboard/liveboard/internal/config"
	"github.com/liveboard/liveboard/internal/db"
	"github.com/liveboard/liveboard/internal/slogging"
	"github.com/liveboard/liveboard/whiteboard"
)

// maxLoggedFrameBytes keeps debug frame logging away from snapshot payloads.
const maxLoggedFrameBytes = 16 << 10

func loggerConfig(cfg *config.Config) slogging.Config {
	return slogging.Config{
		Level:            cfg.GetLogLevel(),
		IsDev:            cfg.Logging.IsDev,
		LogDir:           cfg.Logging.LogDir,
		MaxAgeDays:       cfg.Logging.MaxAgeDays,
		MaxSizeMB:        cfg.Logging.MaxSizeMB,
		MaxBackups:       cfg.Logging.MaxBackups,
		AlsoLogToConsole: cfg.Logging.AlsoLogToConsole,
	}
}

func gormConfig(cfg *config.Config) db.GormConfig {
	d := cfg.Database
	gc := db.GormConfig{
		Type:            db.DatabaseType(d.Type),
		MaxOpenConns:    d.Pool.MaxOpenConns,
		MaxIdleConns:    d.Pool.MaxIdleConns,
		ConnMaxLifetime: d.Pool.ConnMaxLifetime,
		ConnMaxIdleTime: d.Pool.ConnMaxIdleTime,
		Tracing:         cfg.Telemetry.TracingEnabled && cfg.Telemetry.InstrumentDB,
	}
	switch gc.Type {
	case db.DatabaseTypePostgres:
		p := d.Postgres
		gc.Host, gc.Port, gc.User, gc.Password, gc.Database, gc.SSLMode = p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode
	case db.DatabaseTypeMySQL:
		m := d.MySQL
		gc.Host, gc.Port, gc.User, gc.Password, gc.Database = m.Host, m.Port, m.User, m.Password, m.Database
	case db.DatabaseTypeSQLServer:
		s := d.SQLServer
		gc.Host, gc.Port, gc.User, gc.Password, gc.Database = s.Host, s.Port, s.User, s.Password, s.Database
	case db.DatabaseTypeSQLite:
		gc.SQLitePath = d.SQLite.Path
	}
	return gc
}

func redisConfig(cfg *config.Config) db.RedisConfig {
	r := cfg.Database.Redis
	return db.RedisConfig{
		Host:       r.Host,
		Port:       r.Port,
		Password:   r.Password,
		DB:         r.DB,
		Instrument: cfg.Telemetry.TracingEnabled && cfg.Telemetry.InstrumentRedis,
	}
}

// hubConfig overlays configured values on the hub defaults. Zero values keep
// the default.
func hubConfig(cfg *config.Config) whiteboard.HubConfig {
	ws := cfg.WebSocket
	hc := whiteboard.DefaultHubConfig()
	hc.HeartbeatTimeout = ws.HeartbeatTimeout
	hc.WriteTimeout = ws.WriteTimeout
	hc.SendBuffer = ws.SendBuffer
	hc.EndGracePeriod = ws.EndGracePeriod
	hc.MalformedFrameLimit = ws.MalformedFrameLimit
	hc.EchoToOrigin = ws.EchoToOrigin
	hc.MaxFrameBytes = ws.MaxFrameBytes
	hc.MaxParticipants = ws.MaxParticipants
	hc.SnapshotRetry = db.RetryConfig{
		MaxRetries: cfg.Snapshots.RetryMaxAttempts,
		BaseDelay:  cfg.Snapshots.RetryBaseDelay,
		MaxDelay:   cfg.Snapshots.RetryMaxDelay,
	}
	hc.SnapshotSaveTimeout = cfg.Snapshots.SaveTimeout
	hc.Logging = slogging.WebSocketLoggingConfig{
		Enabled:        cfg.Logging.LogWebSocketMsg,
		MaxMessageSize: maxLoggedFrameBytes,
	}
	return hc
}
