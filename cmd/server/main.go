// Command server runs the live whiteboard service: the session REST API,
// the whiteboard WebSocket endpoint and the operational endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/liveboard/liveboard/api"
	"github.com/liveboard/liveboard/api/models"
	"github.com/liveboard/liveboard/auth"
	"github.com/liveboard/liveboard/internal/config"
	"github.com/liveboard/liveboard/internal/db"
	"github.com/liveboard/liveboard/internal/slogging"
	"github.com/liveboard/liveboard/internal/telemetry"
	"github.com/liveboard/liveboard/whiteboard"
	"golang.org/x/sync/errgroup"
)

func main() {
	configFile, err := config.ParseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	if err := run(configFile); err != nil {
		slogging.Get().Error("Server exited with error: %v", err)
		os.Exit(1)
	}
}

// app holds everything that must be closed on shutdown.
type app struct {
	cfg       *config.Config
	telemetry *telemetry.Service
	gormDB    *db.GormDB
	redisDB   *db.RedisDB
	relay     *whiteboard.RedisSessionRelay
	hub       *whiteboard.Hub
	server    *http.Server
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := slogging.Initialize(loggerConfig(cfg)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := slogging.Get()
	defer func() { _ = logger.Close() }()

	if !cfg.Logging.IsDev {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server on %s (tls=%t)", a.server.Addr, cfg.Server.TLSEnabled)
		var err error
		if cfg.Server.TLSEnabled {
			err = a.server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		a.hub.StartCleanupTimer(gctx)
		return nil
	})
	if a.relay != nil {
		g.Go(func() error {
			return a.relay.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := slogging.Get()
	a := &app{cfg: cfg}

	tel, err := telemetry.NewService(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.telemetry = tel

	gormDB, err := db.NewGormDB(gormConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.gormDB = gormDB
	if err := gormDB.AutoMigrate(models.AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	metrics, err := telemetry.NewWhiteboardMetrics(tel.Meter("liveboard/whiteboard"))
	if err != nil {
		return nil, err
	}

	sessions := whiteboard.NewGormSessionStore(gormDB.DB())
	regOpts := []whiteboard.RegistryOption{}
	snapOpts := []whiteboard.SnapshotStoreOption{
		whiteboard.WithSnapshotMetrics(metrics),
		whiteboard.WithMaxPayloadBytes(cfg.Snapshots.MaxPayloadBytes),
	}
	checks := map[string]api.HealthCheck{"database": gormDB.Ping}

	var redisClientDB *db.RedisDB
	if cfg.Database.Redis.Enabled {
		redisClientDB, err = db.NewRedisDB(redisConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redisDB = redisClientDB
		client := redisClientDB.GetClient()
		rc := cfg.Database.Redis

		events := whiteboard.NewRedisEventEmitter(client, rc.EventStream, rc.EventStreamMaxLen)
		regOpts = append(regOpts, whiteboard.WithEventEmitter(events))
		snapOpts = append(snapOpts,
			whiteboard.WithSnapshotCache(whiteboard.NewRedisSnapshotCache(client, rc.SnapshotCacheTTL)),
			whiteboard.WithSnapshotEvents(events),
		)
		checks["redis"] = redisClientDB.Ping
	} else {
		logger.Info("Redis disabled: snapshot cache, lifecycle stream and session relay are off")
	}

	registry := whiteboard.NewRegistry(sessions, regOpts...)
	snapshots := whiteboard.NewSnapshotStore(sessions, whiteboard.NewGormSnapshotRepository(gormDB.DB()), snapOpts...)

	hubOpts := []whiteboard.HubOption{whiteboard.WithHubMetrics(metrics)}
	if cfg.Snapshots.MaxPayloadBytes > 0 {
		hubOpts = append(hubOpts, whiteboard.WithProtocol(whiteboard.NewProtocol(cfg.Snapshots.MaxPayloadBytes)))
	}
	a.hub = whiteboard.NewHub(hubConfig(cfg), registry, snapshots, hubOpts...)

	if redisClientDB != nil {
		a.relay = whiteboard.NewRedisSessionRelay(redisClientDB.GetClient(), cfg.Database.Redis.RelayChannel, a.hub)
		registry.SetTerminator(whiteboard.Terminators{a.hub, a.relay})
		logger.Info("Session relay enabled on channel %s as instance %s", cfg.Database.Redis.RelayChannel, a.relay.InstanceID())
	} else {
		registry.SetTerminator(a.hub)
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWT)
	if err != nil {
		return nil, fmt.Errorf("failed to configure token verification: %w", err)
	}

	srv := api.NewServer(api.Options{
		Registry:       registry,
		Snapshots:      snapshots,
		Hub:            a.hub,
		Auth:           auth.NewMiddleware(verifier),
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		Metrics:        tel.MetricsHandler(),
		HealthChecks:   checks,
		RejectTimeout:  cfg.WebSocket.WriteTimeout,
	})

	a.server = &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           api.NewRouter(srv, cfg.Telemetry.ServiceName),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	return a, nil
}

// shutdown stops accepting requests, closes every live group with going
// away, then flushes telemetry and closes the stores.
func (a *app) shutdown() error {
	logger := slogging.Get()
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	// Hijacked WebSocket connections are not tracked by http.Server, so the
	// hub closes them itself.
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if err := a.hub.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.redisDB != nil {
		if err := a.redisDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if err := a.gormDB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
