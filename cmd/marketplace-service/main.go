package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/app"
)

// startupFields: то, что полезно увидеть в логе при старте. Секреты не попадают.
func startupFields(cfg app.Config) log.Fields {
	return log.Fields{
		"http_addr":       cfg.HTTPAddr,
		"admin_grpc_addr": cfg.AdminGRPCAddr,
		"metrics_addr":    cfg.MetricsAddr,
		"storage_driver":  cfg.StorageDriver,
		"auth_disabled":   cfg.AuthDisabled,
		"kafka_enabled":   len(cfg.KafkaBrokers) > 0,
	}
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("не удалось прочитать конфигурацию")
	}
	if err := app.SetupLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.WithError(err).Fatal("не удалось настроить логирование")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(startupFields(cfg)).Info("запускаем marketplace-service")
	if cfg.AuthDisabled {
		log.Warn("аутентификация отключена, актор берётся из заголовков X-Actor-*")
	}

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("marketplace-service остановлен")
}
