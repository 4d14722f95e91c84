package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/lock"
	"github.com/vladislavdragonenkov/ordersync/internal/magento"
	"github.com/vladislavdragonenkov/ordersync/internal/metrics"
	"github.com/vladislavdragonenkov/ordersync/internal/service/ordersync"
	"github.com/vladislavdragonenkov/ordersync/internal/version"
)

// runLocker: блокировка прогонов с проверкой доступности.
type runLocker interface {
	ordersync.Locker
	Ping(ctx context.Context) error
}

// localPinger делает LocalLocker совместимым с health-проверкой.
type localPinger struct {
	*lock.LocalLocker
}

func (localPinger) Ping(context.Context) error { return nil }

// newLocker выбирает Redis, если задан адрес, иначе блокировку внутри процесса.
func newLocker(cfg RedisConfig, logger *log.Entry) (runLocker, func()) {
	if cfg.Addr == "" {
		logger.Info("redis is not configured, using in-process run lock")
		return localPinger{lock.NewLocalLocker()}, func() {}
	}
	client := lock.NewRedisClient(cfg.Addr)
	logger.WithField("addr", cfg.Addr).Info("redis run lock initialized")
	return lock.NewRedisLocker(client, cfg.KeyPrefix), func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis client")
		}
	}
}

// newEngine собирает клиента Magento и движок синхронизации.
func newEngine(cfg Config, store ordersync.Store, locker ordersync.Locker, syncMetrics *metrics.SyncMetrics) (*ordersync.Engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	client, err := magento.NewClient(magento.Config{
		Endpoint:  cfg.Magento.URL,
		UserAgent: version.UserAgent(),
		Timeout:   cfg.Magento.Timeout,
		Location:  loc,
	}, magento.WithObserver(syncMetrics))
	if err != nil {
		return nil, fmt.Errorf("magento client: %w", err)
	}

	return ordersync.NewEngine(client, store, ordersync.Config{
		Credentials: domain.Credentials{
			Username: cfg.Magento.User,
			APIKey:   cfg.Magento.APIKey,
		},
		Lookback:    time.Duration(cfg.Magento.LookbackHours) * time.Hour,
		WindowWidth: time.Duration(cfg.Magento.WindowHours) * time.Hour,
		Location:    loc,
		BatchSize:   cfg.Magento.BatchSize,
	},
		ordersync.WithRecorder(syncMetrics),
		ordersync.WithLocker(locker),
	), nil
}
