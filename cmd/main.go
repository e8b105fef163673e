package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/okian/teamcomp/internal/adapters/client/pricing"
	"github.com/okian/teamcomp/internal/adapters/client/stats"
	"github.com/okian/teamcomp/internal/adapters/http/api"
	"github.com/okian/teamcomp/internal/adapters/http/swagger"
	"github.com/okian/teamcomp/internal/adapters/repository"
	"github.com/okian/teamcomp/internal/adapters/scheduler"
	service "github.com/okian/teamcomp/internal/app"
	"github.com/okian/teamcomp/internal/config"
	"github.com/okian/teamcomp/pkg/logger"
	"github.com/okian/teamcomp/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 60 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load configuration (defaults -> dotenv -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.LogFormat != logger.FormatText {
		if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	svc := newService(cfg, store, log)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx, metrics.RefreshInterval())
	go startServiceMetricsUpdater(ctx, svc, metrics.RefreshInterval())
	go newScheduler(cfg, svc).Run(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// openStore returns the configured store and a func that releases it.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres, config.DriverSQLite:
		store, err := repository.NewSQLStore(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return repository.NewMemoryStore(), func() {}, nil
	}
}

func newService(cfg *config.Config, store repository.Store, log logger.Logger) *service.Service {
	opts := []service.Option{
		service.WithLogger(log.Named("service")),
		service.WithStore(store),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithFetchTimeout(cfg.StatsTimeout()),
		service.WithWorkUnitValidation(cfg.ValidateWorkUnits),
		service.WithMonthEndSteps(service.MonthEndSteps{
			Result:   cfg.MonthEndResultEnabled,
			Reset:    cfg.MonthEndResetEnabled,
			Hardware: cfg.MonthEndHardwareEnabled,
			Changes:  cfg.MonthEndChangesEnabled,
		}),
	}
	if cfg.StatsBaseURL != "" {
		opts = append(opts, service.WithStatsFetcher(stats.New(cfg.StatsBaseURL,
			stats.WithTeam(cfg.TeamNumber),
			stats.WithTimeout(cfg.StatsTimeout()),
		)))
	}
	if cfg.PricingBaseURL != "" {
		opts = append(opts, service.WithPricingFetcher(pricing.New(cfg.PricingBaseURL,
			pricing.WithTimeout(cfg.PricingTimeout()),
		)))
	}
	return service.New(opts...)
}

func newScheduler(cfg *config.Config, svc *service.Service) *scheduler.Scheduler {
	return scheduler.New(svc,
		scheduler.WithInterval(cfg.SchedulerInterval()),
		scheduler.WithIngestMinute(cfg.IngestMinute),
		scheduler.WithMonthEndHour(cfg.MonthEndHour),
		scheduler.WithMonthStart(cfg.MonthStartResetEnabled),
		scheduler.WithMonthEnd(cfg.MonthEndResultEnabled || cfg.MonthEndResetEnabled ||
			cfg.MonthEndHardwareEnabled || cfg.MonthEndChangesEnabled),
		scheduler.WithIngest(cfg.IngestEnabled),
		scheduler.WithDedupeSize(cfg.TriggerDedupeSize),
	)
}

func newRouter(svc *service.Service) *mux.Router {
	router := mux.NewRouter()
	swagger.Register(router)
	api.NewServer(svc).Register(router)
	return router
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics updates service-level metrics.
func updateServiceMetrics(svc *service.Service) {
	current := svc.GetStats()

	if queueLen, ok := current["queueLength"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}
	if users, ok := current["ledgerUsers"].(int); ok {
		metrics.UpdateActiveUsers(users)
	}
}
