package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/okian/fieldguard/internal/adapters/http/api"
	"github.com/okian/fieldguard/internal/adapters/http/swagger"
	repository "github.com/okian/fieldguard/internal/adapters/repository"
	service "github.com/okian/fieldguard/internal/app"
	"github.com/okian/fieldguard/internal/config"
	"github.com/okian/fieldguard/internal/domain/attendance"
	"github.com/okian/fieldguard/internal/domain/model"
	"github.com/okian/fieldguard/pkg/logger"
	"github.com/okian/fieldguard/pkg/metrics"
)

const (
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Optional .env next to the binary; real environment wins.
	_ = godotenv.Load()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "server exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	store, health, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			log.Warn(ctx, "closing store", logger.Error(cerr))
		}
	}()

	loc, _ := cfg.Location() // validated by config.Load
	svc := service.New(repository.Instrument(store),
		service.WithLogger(log.Named("service")),
		service.WithPartitionCount(cfg.PartitionCount),
		service.WithPartitionQueueSize(cfg.PartitionQueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithMaxBatchSize(cfg.MaxBatchSize),
		service.WithIngestTimeout(cfg.IngestTimeout),
		service.WithGeofencePolicy(model.ParsePolicy(cfg.GeofencePolicy)),
		service.WithAttendanceRules(attendance.Rules{
			OfficeStartHour: cfg.OfficeStartHour,
			LateThreshold:   time.Duration(cfg.LateThresholdMinutes) * time.Minute,
			HalfDay:         time.Duration(cfg.HalfDayHours) * time.Hour,
			Location:        loc,
		}),
	)

	if cfg.DatabaseURL == "" {
		if err := seedGeofences(ctx, svc, cfg.SeedGeofences); err != nil {
			return err
		}
	}

	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Warn(ctx, "service stop", logger.Error(err))
		}
	}()

	go startSystemMetricsUpdater(ctx, log)

	opts := []api.Option{
		api.WithCORSOrigins(cfg.CORSOrigins),
		api.WithDocs(swagger.Handler(ctx)),
	}
	if health != nil {
		opts = append(opts, api.WithHealthChecker(health))
	}
	srv := api.NewServer(svc, svc, api.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer), opts...).
		NewHTTPServer(cfg.Addr)

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("geofence_policy", cfg.GeofencePolicy),
			logger.Int("partitions", cfg.PartitionCount),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// openStore picks Postgres when a DSN is configured. The returned checker is
// nil for the in-memory store.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, api.HealthChecker, error) {
	if cfg.DatabaseURL == "" {
		return repository.NewMemoryStore(), nil, nil
	}
	pg, err := repository.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg, nil
}

func seedGeofences(ctx context.Context, svc *service.Service, seeds []config.SeedGeofence) error {
	for _, s := range seeds {
		g := model.Geofence{
			ID:           s.ID,
			Name:         s.Name,
			Latitude:     s.Latitude,
			Longitude:    s.Longitude,
			RadiusMeters: s.RadiusMeters,
			Type:         model.ParseGeofenceType(s.Type),
			Active:       true,
		}
		if err := svc.SeedGeofence(ctx, g, s.Employees...); err != nil {
			return err
		}
	}
	return nil
}

// startSystemMetricsUpdater samples runtime and process gauges until ctx ends.
func startSystemMetricsUpdater(ctx context.Context, log logger.Logger) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())) //nolint:gosec // pid fits
	if err != nil {
		log.Warn(ctx, "process metrics unavailable", logger.Error(err))
	}

	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics(ctx, proc)
		}
	}
}

func updateSystemMetrics(ctx context.Context, proc *process.Process) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		metrics.RecordSystemGCPauseTime(float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond)
	}

	if proc == nil {
		return
	}
	cpu, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return
	}
	var rss uint64
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		rss = mem.RSS
	}
	metrics.UpdateProcessUsage(cpu, rss)
}
