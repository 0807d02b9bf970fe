package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/Occupant/server/internal/config"
	"github.com/BrandonDHaskell/Occupant/server/internal/db"
	"github.com/BrandonDHaskell/Occupant/server/internal/healthsrv"
	"github.com/BrandonDHaskell/Occupant/server/internal/httpapi"
	"github.com/BrandonDHaskell/Occupant/server/internal/metrics"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/cache"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/service"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store/postgres"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store/sqlite"
	"github.com/BrandonDHaskell/Occupant/server/internal/platform/otel"
)

// stores is the storage backend selected by config.
type stores struct {
	members  store.MemberStore
	ledger   store.AttendanceStore
	events   store.AccessEventStore
	stations store.StationStore
	ping     func(ctx context.Context) error
	close    func()
}

func main() {
	configPath := flag.String("config", os.Getenv("OCCUPANT_CONFIG"), "path to the YAML config file")
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, otel.Config{
		Enabled:     cfg.OTel.Enabled,
		Endpoint:    cfg.OTel.Endpoint,
		ServiceName: cfg.OTel.ServiceName,
		SampleRatio: cfg.OTel.SampleRatio,
		Environment: cfg.Env,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("open storage")
	}
	defer st.close()

	loc := cfg.Location()

	// Services
	sweeper := service.NewSweeper(st.ledger, cfg.AutoCheckoutThreshold(), logger)
	occupancy := service.NewOccupancyService(st.ledger, sweeper, service.OccupancyConfig{
		CapacityMax:     cfg.Facility.CapacityMax,
		AlertPercentage: cfg.Facility.AlertPercentage,
		Location:        loc,
	}, logger)

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		occupancy.UseCache(cache.NewSnapshotCache(rdb, cfg.SnapshotTTL()))
		logger.Info().Str("addr", cfg.Redis.Address).Msg("occupancy snapshot cache enabled")
	}

	checkIn := service.NewCheckInService(service.CheckInDeps{
		Members:  st.members,
		Ledger:   st.ledger,
		Events:   st.events,
		Notifier: occupancy,
		Logger:   logger,
	}, service.CheckInPolicy{
		Location:          loc,
		ReentryModalities: service.ReentrySet(cfg.Facility.ReentryModalities),
	})

	stations := service.NewStationRegistry(st.stations, service.RegistryConfig{
		DebounceWindow: cfg.DebounceWindow(),
		IdleTimeout:    cfg.StationIdleTimeout(),
		RatePerSecond:  cfg.Station.RatePerSecond,
		Burst:          cfg.Station.Burst,
	}, logger)

	scheduler := service.NewSweepScheduler(sweeper, cfg.SweepInterval(), logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	ready := func(ctx context.Context) error {
		if err := st.ping(ctx); err != nil {
			return err
		}
		if rdb != nil {
			return rdb.Ping(ctx).Err()
		}
		return nil
	}

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:    logger,
		Addr:      cfg.HTTP.Addr,
		CheckIn:   checkIn,
		Occupancy: occupancy,
		Stations:  stations,
		Location:  loc,
		Ready:     ready,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("listening")
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.GRPC.Addr != "" {
		checks := map[string]healthsrv.Checker{"db": st.ping}
		if rdb != nil {
			checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		}
		health := healthsrv.New(healthsrv.Config{
			Addr:          cfg.GRPC.Addr,
			CheckInterval: cfg.HealthInterval(),
		}, checks, logger)
		g.Go(func() error { return health.ListenAndServe(gctx) })
	}

	if cfg.Metrics.Enabled {
		metrics.Register()
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Addr, logger) })
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
	}
	logger.Info().Msg("stopped")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Str("service", "occupant-server").Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "occupant-server").Logger()
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	if cfg.Database.Driver == "postgres" {
		sqlDB, err := db.OpenPostgres(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("using postgres storage")
		return &stores{
			members:  postgres.NewMemberStore(sqlDB),
			ledger:   postgres.NewAttendanceStore(sqlDB),
			events:   postgres.NewAccessEventStore(sqlDB),
			stations: postgres.NewStationStore(sqlDB),
			ping:     pinger(sqlDB),
			close:    func() { _ = sqlDB.Close() },
		}, nil
	}

	sqlDB, err := db.Open(ctx, db.Config{Path: cfg.Database.Path, Env: cfg.Env})
	if err != nil {
		return nil, err
	}
	if cfg.Env == "dev" && cfg.Database.SeedDev {
		if err := db.SeedDev(ctx, sqlDB, db.SeedDevOptions{}); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		logger.Info().Msg("seeded demo members")
	}

	writer := db.NewWorker(sqlDB)
	logger.Info().Str("path", cfg.Database.Path).Msg("using sqlite storage")
	return &stores{
		members:  sqlite.NewMemberStore(sqlDB, writer),
		ledger:   sqlite.NewAttendanceStore(sqlDB, writer),
		events:   sqlite.NewAccessEventStore(sqlDB, writer),
		stations: sqlite.NewStationStore(sqlDB, writer),
		ping:     pinger(sqlDB),
		close: func() {
			writer.Close()
			_ = sqlDB.Close()
		},
	}, nil
}

func pinger(sqlDB *sql.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return sqlDB.PingContext(ctx)
	}
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
