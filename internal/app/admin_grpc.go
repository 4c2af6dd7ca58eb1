package app

import (
	"context"
	"errors"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthcheck "github.com/vladislavdragonenkov/campusmarket/internal/health"
)

// Имя сервиса в grpc.health.v1, отражающее готовность жизненного цикла.
const lifecycleHealthService = "campusmarket.Lifecycle"

const healthProbeInterval = 5 * time.Second

// newAdminGRPCServer создаёт gRPC-сервер только с grpc.health.v1 и метриками.
func newAdminGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	grpcMetrics.InitializeMetrics(server)

	return server, healthServer
}

// followStorageHealth переключает статус gRPC health по проверке хранилища, пока ctx жив.
func followStorageHealth(ctx context.Context, hs *health.Server, checker healthcheck.Checker, logger *log.Entry) {
	apply := func() {
		checkCtx, cancel := context.WithTimeout(ctx, healthcheck.DefaultCheckTimeout)
		check := checker.Check(checkCtx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if check.Status == healthcheck.StatusUnhealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			logger.WithField("message", check.Message).Warn("storage is unhealthy")
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(lifecycleHealthService, status)
	}

	apply()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			apply()
		}
	}
}
