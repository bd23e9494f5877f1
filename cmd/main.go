// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
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

	"github.com/bwmarrin/snowflake"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/config"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/database"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/handler"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/logging"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/metrics"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/notify"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/ratelimit"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/repository"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/service"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, flush, err := logging.New(cfg.LogVerbosity, cfg.LogDev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error(err, "server exited")
		_ = flush()
		os.Exit(1)
	}
	_ = flush()
}

func run(cfg config.Config, logger logr.Logger) (err error) {
	// Block until SIGINT or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logr.NewContext(ctx, logger)

	// ── 1. Storage ────────────────────────────────────────────────────────
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// ── 2. Collaborators ──────────────────────────────────────────────────
	clk := clock.RealClock{}

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return fmt.Errorf("snowflake node: %w", err)
	}

	var dispatcher notify.Dispatcher = notify.NewLogDispatcher(logger)
	if cfg.NotifyRelayURL != "" {
		dispatcher = notify.NewRelayClient(cfg.NotifyRelayURL, cfg.NotifyRelayKey, &http.Client{Timeout: cfg.NotifyTimeout})
		logger.Info("notifications go to mail relay", "url", cfg.NotifyRelayURL)
	} else {
		logger.Info("no mail relay configured, notifications are only logged")
	}

	metrics.Register(prometheus.DefaultRegisterer)

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit, cfg.RateWindow, clk)
	if cfg.RedisURL != "" {
		opts, perr := redis.ParseURL(cfg.RedisURL)
		if perr != nil {
			return fmt.Errorf("parse REDIS_URL: %w", perr)
		}
		rdb := redis.NewClient(opts)
		defer func() { err = multierr.Append(err, rdb.Close()) }()
		if perr := rdb.Ping(ctx).Err(); perr != nil {
			logger.Error(perr, "redis unreachable, rate limiting fails open until it recovers")
		}
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.RateLimit, cfg.RateWindow, "vendor-directory:signup")
	}

	// ── 3. Wire up layers ─────────────────────────────────────────────────
	categories := service.NewCategoryService(store, cfg.CategoryCacheTTL, clk)
	ledger := service.NewCapacityLedger(store, categories, cfg.VendorCeiling)
	sweeper := service.NewExpirySweeper(store, clk)
	promoter := service.NewPromotionEngine(store, ledger, dispatcher, clk, cfg.ClaimWindow)
	h := handler.New(handler.Services{
		Store:      store,
		Ledger:     ledger,
		Categories: categories,
		Admission:  service.NewAdmissionController(store, ledger, categories, dispatcher, clk, node),
		Promoter:   promoter,
		Sweeper:    sweeper,
		Waitlist:   service.NewWaitlistService(store, sweeper, clk),
		Vendors:    service.NewVendorService(store, ledger, sweeper, promoter, clk, cfg.AutoPromote),
	})

	if cfg.AdminToken == "" {
		logger.Info("ADMIN_TOKEN is empty, admin routes are locked")
	}
	if cfg.CronSecret == "" {
		logger.Info("CRON_SECRET is empty, the sweep endpoint is locked")
	}

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.Port),
		Handler: h.Routes(handler.RouterConfig{
			Logger:     logger.WithName("http"),
			Limiter:    limiter,
			AdminToken: cfg.AdminToken,
			CronSecret: cfg.CronSecret,
			Metrics:    promhttp.Handler(),
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr, "store", cfg.Store, "ceiling", cfg.VendorCeiling)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	if cfg.SweepInterval > 0 {
		g.Go(func() error { return sweeper.Run(gctx, cfg.SweepInterval) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger logr.Logger) (repository.Store, error) {
	if cfg.Store == config.StoreMemory {
		logger.Info("using in-memory store, data is lost on exit")
		return repository.NewMemoryStore(), nil
	}

	pool, err := database.NewPool(ctx, cfg.Database, logger.WithName("database"))
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("connected to PostgreSQL")
	return repository.NewPostgresStore(pool), nil
}
