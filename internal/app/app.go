package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	healthcheck "github.com/vladislavdragonenkov/ordersync/internal/health"
	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/metrics"
	"github.com/vladislavdragonenkov/ordersync/internal/service/ordersync"
	"github.com/vladislavdragonenkov/ordersync/internal/service/outbox"
	"github.com/vladislavdragonenkov/ordersync/internal/service/scheduler"
	"github.com/vladislavdragonenkov/ordersync/internal/version"
)

const (
	shutdownTimeout = 30 * time.Second
	drainTimeout    = 30 * time.Second
)

// appRuntime — собранные зависимости одного процесса.
type appRuntime struct {
	cfg     Config
	logger  *log.Entry
	deps    *runtimeDependencies
	pubs    publishers
	locker  runLocker
	engine  *ordersync.Engine
	closers []func()
}

func newRuntime(ctx context.Context, cfg Config, logger *log.Entry) (*appRuntime, error) {
	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt := &appRuntime{cfg: cfg, logger: logger, deps: deps}
	rt.closers = append(rt.closers, func() { deps.close(logger) })

	locker, closeLocker := newLocker(cfg.Redis, logger)
	rt.locker = locker
	rt.closers = append(rt.closers, closeLocker)

	engine, err := newEngine(cfg, deps.store, locker, metrics.NewSyncMetrics())
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.engine = engine

	rt.pubs = initKafka(cfg.Kafka, logger)
	rt.closers = append(rt.closers, func() { rt.pubs.close(logger) })
	return rt, nil
}

// newOutboxWorker возвращает nil, если публиковать некуда.
func (rt *appRuntime) newOutboxWorker() *outbox.Worker {
	if rt.pubs.events == nil {
		return nil
	}
	options := []outbox.Option{
		outbox.WithLogger(rt.logger.WithField("component", "outbox-worker")),
		outbox.WithRecorder(metrics.NewOutboxMetrics()),
		outbox.WithPollInterval(rt.cfg.Outbox.PollInterval),
		outbox.WithBatchSize(rt.cfg.Outbox.BatchSize),
		outbox.WithMaxAttempts(rt.cfg.Outbox.MaxAttempts),
		outbox.WithRetryBaseDelay(rt.cfg.Outbox.RetryDelay),
		outbox.WithRetention(rt.cfg.Outbox.Retention),
	}
	if rt.pubs.dlq != nil {
		options = append(options, outbox.WithDLQPublisher(rt.pubs.dlq))
	}
	return outbox.NewWorker(rt.deps.store.Outbox, rt.pubs.events, options...)
}

// close освобождает ресурсы в обратном порядке.
func (rt *appRuntime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// RunOnce выполняет один прогон и публикует накопленные события перед выходом.
func RunOnce(ctx context.Context, cfg Config, mode domain.SyncMode, opts ordersync.RunOptions) (domain.RunSummary, error) {
	logger := log.WithField("component", "app")
	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return domain.RunSummary{}, err
	}
	defer rt.close()

	summary, runErr := rt.engine.Run(ctx, mode, opts)

	if worker := rt.newOutboxWorker(); worker != nil {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		published := worker.Drain(drainCtx)
		cancel()
		logger.WithField("messages", published).Info("outbox drained")
	}
	return summary, runErr
}

// RunDaemon запускает планировщик, outbox worker и служебные серверы до отмены ctx.
func RunDaemon(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	logger.WithField("version", version.GetVersion()).Info("starting ordersync daemon")

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	sched, err := scheduler.New(rt.engine,
		scheduler.WithLogger(logger.WithField("component", "scheduler")),
		scheduler.WithLocation(loc),
		scheduler.WithSpecs(cfg.Schedule.Rolling, cfg.Schedule.Last50),
		scheduler.WithRunOnStart(cfg.Schedule.RunOnStart, -1),
	)
	if err != nil {
		return err
	}

	checks := newHealthHandler(cfg, rt)

	httpSrv, _, err := startHTTPServer(cfg.MetricsAddr, newRouter(checks, &adminAPI{
		trigger: sched,
		runs:    rt.deps.store.Runs,
		logger:  logger.WithField("layer", "http"),
	}), logger)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", cfg.MetricsAddr, err)
	}

	grpcServer, healthServer := newGRPCServer(logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(httpSrv, logger)
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	var bg sync.WaitGroup
	bg.Add(1)
	go func() {
		defer bg.Done()
		watchReadiness(bgCtx, healthServer, checks, readinessPollInterval)
	}()
	if worker := rt.newOutboxWorker(); worker != nil {
		bg.Add(1)
		go func() {
			defer bg.Done()
			worker.Run(bgCtx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC health слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	sched.Start()

	var result error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки")
		result = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			result = err
		}
	}

	healthServer.Shutdown()
	shutdownHTTP(httpSrv, logger)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("scheduler did not stop in time")
	}
	stopGRPC(grpcServer, logger)

	stopBackground()
	bg.Wait()
	return result
}

// newHealthHandler регистрирует проверки хранилища, блокировки и свежести прогонов.
func newHealthHandler(cfg Config, rt *appRuntime) *healthcheck.Handler {
	checks := healthcheck.NewHandler(version.GetVersion())
	checks.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", rt.deps.ping))
	checks.RegisterChecker("lock", healthcheck.NewSimpleChecker("lock", rt.locker.Ping))
	for _, mode := range []domain.SyncMode{domain.ModeRolling, domain.ModeLast50} {
		checks.RegisterInformational("sync_"+string(mode),
			healthcheck.NewLastRunChecker(rt.deps.store.Runs, mode, cfg.Schedule.StaleAfter))
	}
	return checks
}

// stopGRPC останавливает сервер, принудительно по истечении таймаута.
func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}
