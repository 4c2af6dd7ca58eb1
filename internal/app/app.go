package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/campusmarket/internal/health"
	"github.com/vladislavdragonenkov/campusmarket/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/campusmarket/internal/metrics"
	"github.com/vladislavdragonenkov/campusmarket/internal/realtime"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/idempotency"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/listing"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/outbox"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/rating"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/review"
	"github.com/vladislavdragonenkov/campusmarket/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/campusmarket/internal/version"
)

const (
	shutdownTimeout = 5 * time.Second

	outboxBreakerFailures = 5
	outboxBreakerReset    = 30 * time.Second
)

// services: собранный граф сервисов поверх выбранного хранилища.
type services struct {
	coordinator *lifecycle.Coordinator
	listings    *listing.Service
	reviews     *review.Service
	ratings     *rating.Aggregator
	guard       *idempotency.Guard
	metrics     *metrics.LifecycleMetrics
}

func buildServices(cfg Config, deps *runtimeDeps, notifier domain.Notifier, logger *log.Entry) services {
	lifecycleMetrics := metrics.NewLifecycleMetrics()

	coordinator := lifecycle.NewCoordinator(deps.store, deps.transactions,
		lifecycle.WithLogger(logger.WithField("layer", "lifecycle")),
		lifecycle.WithMetrics(lifecycleMetrics),
		lifecycle.WithNotifier(notifier),
	)
	ratings := rating.NewAggregator(deps.reviews, deps.users,
		rating.WithLogger(logger.WithField("layer", "rating")),
		rating.WithMetrics(lifecycleMetrics),
	)
	reviews := review.NewService(deps.reviews, deps.transactions, ratings,
		review.WithLogger(logger.WithField("layer", "review")),
		review.WithMetrics(lifecycleMetrics),
		review.WithNotifier(notifier),
		review.WithTimeline(deps.timelineRepo),
	)
	listings := listing.NewService(deps.listings, coordinator,
		listing.WithLogger(logger.WithField("layer", "listing")),
		listing.WithTimeline(deps.timelineRepo),
	)

	return services{
		coordinator: coordinator,
		listings:    listings,
		reviews:     reviews,
		ratings:     ratings,
		guard:       idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL),
		metrics:     lifecycleMetrics,
	}
}

// newHTTPHandler собирает REST API и websocket-канал.
func newHTTPHandler(cfg Config, svc services, deps *runtimeDeps, hub *realtime.Hub, logger *log.Entry) http.Handler {
	return httpapi.NewRouter(httpapi.RouterConfig{
		Auth: httpapi.AuthConfig{
			Secret:   []byte(cfg.JWTSecret),
			Disabled: cfg.AuthDisabled,
		},
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Logger:         logger.WithField("layer", "http"),
	}, httpapi.Services{
		Lifecycle: svc.coordinator,
		Listings:  svc.listings,
		Reviews:   svc.reviews,
		Ratings:   svc.ratings,
		Timeline:  deps.timelineRepo,
		Realtime:  hub,
	}, svc.guard)
}

// Run поднимает HTTP API, admin gRPC, метрики и фоновые воркеры и ждёт отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger.WithFields(log.Fields(version.Fields())).Info("starting campusmarket service")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	hub := realtime.NewHub(
		realtime.WithLogger(logger.WithField("layer", "realtime")),
		realtime.WithCheckOrigin(originChecker(cfg.CORSOrigins)),
	)
	notifier := lifecycle.MultiNotifier{hub, lifecycle.LogNotifier{Logger: logger.WithField("layer", "notifier")}}
	svc := buildServices(cfg, deps, notifier, logger)

	producer, kafkaErr := initKafkaProducer(cfg.KafkaBrokers, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if len(cfg.KafkaBrokers) > 0 {
		healthHandler.RegisterChecker("kafka", healthcheck.NewSimpleChecker("kafka", kafkaChecker(producer, kafkaErr)).Optional())
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	startWorker := func(fn func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			fn(workerCtx)
		}()
	}

	if producer != nil {
		worker := outbox.NewWorker(
			deps.outboxRepo,
			kafka.NewOutboxPublisher(producer, cfg.KafkaEventsTopic),
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			outbox.WithCircuitBreaker(outbox.NewCircuitBreaker(outboxBreakerFailures, outboxBreakerReset, logger.WithField("layer", "outbox-breaker"))),
		)
		startWorker(worker.Run)
	} else {
		logger.Info("kafka is not configured, outbox events stay pending")
	}

	sweeper := idempotency.NewSweeper(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "idempotency")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	startWorker(sweeper.Run)

	reconciler := lifecycle.NewReconciler(deps.store, deps.listings,
		lifecycle.WithReconcilerLogger(logger.WithField("layer", "reconciler")),
		lifecycle.WithReconcilerMetrics(svc.metrics),
		lifecycle.WithReconcileInterval(cfg.ReconcileInterval),
	)
	startWorker(reconciler.Run)

	grpcServer, healthServer := newAdminGRPCServer(logger)
	startWorker(func(ctx context.Context) {
		followStorageHealth(ctx, healthServer, deps.storageChecker, logger)
	})

	stopAll := func() {
		healthServer.Shutdown()
		stopGRPC(grpcServer, logger)
		cancelWorkers()
		workers.Wait()
		hub.Close()
		closeKafkaProducer(producer, logger)
	}

	grpcLis, err := net.Listen("tcp", cfg.AdminGRPCAddr)
	if err != nil {
		stopAll()
		return fmt.Errorf("listen admin grpc: %w", err)
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		stopAll()
		return fmt.Errorf("listen http: %w", err)
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	httpSrv := &http.Server{
		Handler:           newHTTPHandler(cfg, svc, deps, hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("admin gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("admin grpc server: %w", err)
		}
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервис")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("server failed, shutting down")
	}

	shutdownHTTP(httpSrv, logger)
	shutdownHTTP(metricsSrv, logger)
	stopAll()
	return runErr
}

// stopGRPC останавливает сервер, принудительно после таймаута.
func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// originChecker проверяет Origin websocket-запросов по тому же списку, что и CORS.
func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Не-браузерные клиенты Origin не присылают.
		return origin == "" || allowed[origin]
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics и health probes.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	healthHandler.Mux(mux)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
