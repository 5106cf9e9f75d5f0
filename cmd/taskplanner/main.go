package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labdesk/taskplanner/internal/adapter/apiclient"
	tphttp "github.com/labdesk/taskplanner/internal/adapter/http"
	tpnats "github.com/labdesk/taskplanner/internal/adapter/nats"
	tpotel "github.com/labdesk/taskplanner/internal/adapter/otel"
	"github.com/labdesk/taskplanner/internal/adapter/natskv"
	"github.com/labdesk/taskplanner/internal/adapter/postgres"
	"github.com/labdesk/taskplanner/internal/adapter/ristretto"
	"github.com/labdesk/taskplanner/internal/adapter/tiered"
	"github.com/labdesk/taskplanner/internal/adapter/ws"
	"github.com/labdesk/taskplanner/internal/config"
	"github.com/labdesk/taskplanner/internal/logger"
	"github.com/labdesk/taskplanner/internal/middleware"
	"github.com/labdesk/taskplanner/internal/port/cache"
	"github.com/labdesk/taskplanner/internal/port/eventstore"
	"github.com/labdesk/taskplanner/internal/resilience"
	"github.com/labdesk/taskplanner/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"config_file", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"bindings_url", cfg.Bindings.BaseURL,
		"max_parallel", cfg.Orchestrator.MaxParallel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	otelShutdown, err := tpotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := tpotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Event sinks ---

	sinks := service.NewSinkDispatcher(cfg.Orchestrator.SinkBuffer, func(sink string) {
		metrics.EventDropped(context.Background(), sink)
	})
	hub := ws.NewHub(originHost(cfg.Server.CORSOrigin))
	defer hub.Close()
	sinks.Add("ws", hub)

	checks := map[string]func(context.Context) error{}

	var journal eventstore.Store
	if cfg.Postgres.DSN != "" {
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")

		var pool *pgxpool.Pool
		pool, err = postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		slog.Info("postgres connected")

		journal = postgres.NewEventStore(pool)
		sinks.Add("journal", service.JournalSink(journal))
		checks["postgres"] = pool.Ping
	} else {
		slog.Info("event journal disabled")
	}

	var queue *tpnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = tpnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := queue.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
		sinks.Add("nats", tpnats.NewEventPublisher(queue))
		checks["nats"] = func(context.Context) error {
			if !queue.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
	} else {
		slog.Info("message queue disabled")
	}
	// Sinks flush before the queue drains and the pool closes.
	defer sinks.Close()

	// --- Services ---

	client := apiclient.NewClient(cfg.Bindings.BaseURL, cfg.Bindings.Token, cfg.Bindings.Timeout)
	client.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	planner := service.NewPlannerService(client, cfg.Orchestrator)
	planner.SetMetrics(metrics)

	bus := service.NewEventBus(cfg.Orchestrator.StreamBuffer, sinks)
	orch := service.NewOrchestratorService(planner, bus, cfg.Orchestrator)
	orch.SetMetrics(metrics)

	history, closeHistory, err := newSharedCache(ctx, queue, "history", cfg.History.MaxSizeMB, cfg.History.TTL, cfg.History.Bucket)
	if err != nil {
		return fmt.Errorf("history cache: %w", err)
	}
	defer closeHistory()
	orch.SetHistory(history, cfg.History.TTL)

	if queue != nil {
		ctl := service.NewControlSubscriber(orch, queue)
		if err := ctl.Start(ctx); err != nil {
			return fmt.Errorf("control subscriber: %w", err)
		}
		defer ctl.Stop()
	}

	// --- HTTP ---

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	idem, closeIdem, err := newSharedCache(ctx, queue, "idem", cfg.Idempotency.MaxSizeMB, cfg.Idempotency.TTL, cfg.Idempotency.Bucket)
	if err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}
	defer closeIdem()

	handlers := &tphttp.Handlers{
		Planner:      planner,
		Orchestrator: orch,
		Journal:      journal,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(tphttp.CORS(cfg.Server.CORSOrigin))
	r.Use(tphttp.SecurityHeaders)
	r.Use(tphttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(tpotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(limiter.Handler)
	r.Use(middleware.NewAPIKeyAuth(cfg.Server.APIKeyHash).Handler)
	r.Use(middleware.Idempotency(idem, cfg.Idempotency.TTL))

	r.Get("/health", healthHandler(checks))
	r.Get("/ws", hub.HandleWS)
	tphttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newSharedCache builds an in-process ristretto cache, backed by a NATS KV
// bucket when a queue is available so replicas see each other's entries.
func newSharedCache(ctx context.Context, queue *tpnats.Queue, name string, maxSizeMB int64, ttl time.Duration, bucket string) (cache.Cache, func(), error) {
	l1, err := ristretto.New(maxSizeMB<<20, name+":")
	if err != nil {
		return nil, nil, err
	}
	if queue == nil {
		return l1, l1.Close, nil
	}

	l2, err := natskv.Open(ctx, queue.JetStream(), bucket, ttl)
	if err != nil {
		slog.Warn("shared cache unavailable, using local cache only", "cache", name, "bucket", bucket, "error", err)
		return l1, l1.Close, nil
	}
	slog.Info("shared cache enabled", "cache", name, "bucket", bucket)
	return tiered.New(l1, l2, ttl), l1.Close, nil
}

// originHost turns a CORS origin such as "https://ui.example:3000" into the
// host pattern the WebSocket origin check matches against.
func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	return u.Host
}
