package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// Глубина списка, по которому последовательные режимы определяют интервал id.
const (
	RollingLookback   = 72 * time.Hour
	LastFiftyLookback = 48 * time.Hour

	runLockKey = "ordersync:run"
	runLockTTL = 2 * time.Hour
)

// Recorder получает метрики прогонов.
type Recorder interface {
	RecordRun(mode domain.SyncMode, status domain.RunStatus, summary domain.RunSummary)
	RecordOutcome(mode domain.SyncMode, outcome domain.Outcome)
	RecordFailedWindows(mode domain.SyncMode, count int)
}

// Locker не даёт двум прогонам идти одновременно.
// TryLock возвращает domain.ErrRunInProgress, если блокировка уже занята.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

// Config задаёт параметры движка синхронизации.
type Config struct {
	Credentials domain.Credentials
	// Lookback: глубина по умолчанию для оконного режима без явного from.
	Lookback    time.Duration
	WindowWidth time.Duration
	Location    *time.Location
	BatchSize   int
	TopN        int
}

// RunOptions задают параметры одного прогона.
type RunOptions struct {
	// Filters используются только в оконном режиме.
	Filters domain.Filters
	// FetchDetails включает запрос детали каждого заказа в оконном режиме.
	FetchDetails bool
	BatchSize    int
}

// Engine выполняет прогоны синхронизации.
type Engine struct {
	source   domain.OrderSource
	store    Store
	cfg      Config
	logger   *log.Entry
	recorder Recorder
	locker   Locker
	sleep    SleepFunc
	now      func() time.Time
}

// Option настраивает Engine.
type Option func(*Engine)

// WithLogger задаёт logger движка.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder подключает метрики.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithLocker подключает блокировку прогонов.
func WithLocker(l Locker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithSleep подменяет ожидание между запросами (используется в тестах).
func WithSleep(sleep SleepFunc) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine создаёт движок синхронизации.
func NewEngine(source domain.OrderSource, store Store, cfg Config, opts ...Option) *Engine {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.WindowWidth <= 0 {
		cfg.WindowWidth = DefaultWindowWidth
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}

	e := &Engine{
		source: source,
		store:  store,
		cfg:    cfg,
		logger: log.WithField("component", "ordersync"),
		sleep:  Sleep,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Run выполняет один прогон в заданном режиме. Ошибка возвращается только для фатальных
// сбоев (авторизация, занятая блокировка, отмена ctx); ошибки по отдельным заказам
// попадают в RunSummary.Errors.
func (e *Engine) Run(ctx context.Context, mode domain.SyncMode, opts RunOptions) (domain.RunSummary, error) {
	summary := domain.RunSummary{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: e.now().UTC(),
		Errors:    []string{},
	}
	logger := e.logger.WithFields(log.Fields{
		"run_id": summary.RunID,
		"mode":   mode,
	})

	if e.locker != nil {
		unlock, err := e.locker.TryLock(ctx, runLockKey, runLockTTL)
		if IsRunInProgress(err) {
			logger.WithError(err).Warn("sync run not started")
			return summary, err
		}
		if err != nil {
			err = fmt.Errorf("acquire sync run lock: %w", err)
			summary.FinishedAt = e.now().UTC()
			e.finish(summary, err, logger)
			return summary, err
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				logger.WithError(err).Warn("failed to release sync run lock")
			}
		}()
	}

	logger.Info("sync run started")
	keeper := NewSessionKeeper(e.source, e.cfg.Credentials, logger)

	var err error
	if err = keeper.Open(ctx); err == nil {
		logger.Info("magento session obtained")
		switch mode {
		case domain.ModeWindowed:
			err = e.runWindowed(ctx, keeper, opts, &summary, logger)
		case domain.ModeRolling:
			err = e.runSequential(ctx, keeper, mode, RollingLookback, RollingRecordDelay, &summary, logger)
		case domain.ModeLast50:
			err = e.runSequential(ctx, keeper, mode, LastFiftyLookback, LastFiftyRecordDelay, &summary, logger)
		default:
			err = fmt.Errorf("unknown sync mode %q", mode)
		}
	}

	summary.FinishedAt = e.now().UTC()
	e.finish(summary, err, logger)
	return summary, err
}

func (e *Engine) runWindowed(ctx context.Context, keeper *SessionKeeper, opts RunOptions, summary *domain.RunSummary, logger *log.Entry) error {
	fetcher := NewWindowedFetcher(e.source, e.cfg.Lookback, e.cfg.WindowWidth, e.cfg.Location, logger)
	fetcher.now = e.now

	listed, err := fetcher.List(ctx, keeper, opts.Filters)
	e.recordFailedWindows(domain.ModeWindowed, listed.FailedWindows)
	if err != nil {
		return err
	}

	orders := listed.Orders
	sortByNumericID(orders)
	summary.Total = len(orders)
	logger.WithField("orders", len(orders)).Info("orders listed")

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = e.cfg.BatchSize
	}
	pacer := NewBatchPacer(batchSize, e.sleep)
	reconciler := e.newReconciler(logger)

	for _, batch := range pacer.Batches(len(orders)) {
		for _, order := range orders[batch[0]:batch[1]] {
			if err := ctx.Err(); err != nil {
				return err
			}

			res, err := reconciler.Apply(ctx, keeper, order, ApplyOptions{FetchDetail: opts.FetchDetails})
			if err != nil {
				if domain.IsFatal(err) {
					return err
				}
				summary.Errors = append(summary.Errors, fmt.Sprintf("order %s: %v", order.IncrementID, err))
				logger.WithError(err).WithField("increment_id", order.IncrementID).Error("order sync failed")
				continue
			}
			e.tallyApply(domain.ModeWindowed, order.IncrementID, res, summary, logger)
		}
		if err := pacer.AfterBatch(ctx, batch[1], len(orders)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runSequential(
	ctx context.Context,
	keeper *SessionKeeper,
	mode domain.SyncMode,
	lookback, recordDelay time.Duration,
	summary *domain.RunSummary,
	logger *log.Entry,
) error {
	now := e.now().In(e.cfg.Location)
	fetcher := NewWindowedFetcher(e.source, lookback, e.cfg.WindowWidth, e.cfg.Location, logger)
	fetcher.now = e.now

	listed, err := fetcher.List(ctx, keeper, domain.Filters{Range: &domain.RangeFilter{
		Field: domain.FieldUpdatedAt,
		From:  now.Add(-lookback).Format(time.DateTime),
		To:    now.Format(time.DateTime),
	}})
	e.recordFailedWindows(mode, listed.FailedWindows)
	if err != nil {
		return err
	}

	var (
		rng IDRange
		ok  bool
	)
	if mode == domain.ModeLast50 {
		rng, ok = TopRange(listed.Orders, e.cfg.TopN)
	} else {
		rng, ok = RangeFromSummaries(listed.Orders)
	}
	if !ok {
		logger.Info("no orders found in the listing window")
		return nil
	}

	summary.Total = int(rng.Len())
	logger.WithFields(log.Fields{
		"from_id": rng.Lo,
		"to_id":   rng.Hi,
		"ids":     rng.Len(),
	}).Info("scanning order id range")

	reconciler := e.newReconciler(logger)
	scanner := NewBackfillScanner(e.source, reconciler, NewRecordPacer(recordDelay, e.sleep), logger)
	return scanner.Scan(ctx, keeper, rng, func(res ScanResult) {
		switch res.Kind {
		case ScanApplied:
			e.tallyApply(mode, res.IncrementID, res.Apply, summary, logger)
		case ScanDeleted:
			summary.Updated++
			if res.StatusChanged {
				summary.StatusChanged++
			}
			e.recordOutcome(mode, domain.OutcomeCanceled)
		case ScanAbsent, ScanEmpty:
			summary.Skipped++
			e.recordOutcome(mode, domain.OutcomeSkipped)
		case ScanFailed:
			summary.Errors = append(summary.Errors, fmt.Sprintf("order %s: %v", res.IncrementID, res.Err))
			logger.WithError(res.Err).WithField("increment_id", res.IncrementID).Error("order sync failed")
		}
	})
}

func (e *Engine) tallyApply(mode domain.SyncMode, incrementID string, res ApplyResult, summary *domain.RunSummary, logger *log.Entry) {
	summary.Processed++
	switch res.Outcome {
	case domain.OutcomeNew:
		summary.Created++
	case domain.OutcomeStatusChanged:
		summary.Updated++
		summary.StatusChanged++
		logger.WithFields(log.Fields{
			"increment_id": incrementID,
			"from_status":  res.Prior.Status,
			"from_state":   res.Prior.State,
		}).Info("order status changed")
	default:
		summary.Updated++
	}
	e.recordOutcome(mode, res.Outcome)

	if res.DetailsFetched {
		summary.DetailsFetched++
	}
	if res.DetailErr != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("details %s: %v", incrementID, res.DetailErr))
		logger.WithError(res.DetailErr).WithField("increment_id", incrementID).Warn("order details sync failed")
	}
}

func (e *Engine) finish(summary domain.RunSummary, runErr error, logger *log.Entry) {
	run := domain.SyncRun{Summary: summary, Status: domain.RunSucceeded}
	if runErr != nil {
		run.Status = domain.RunFailed
		run.FatalError = runErr.Error()
	}

	entry := logger.WithFields(log.Fields{
		"total":           summary.Total,
		"processed":       summary.Processed,
		"created":         summary.Created,
		"updated":         summary.Updated,
		"status_changed":  summary.StatusChanged,
		"details_fetched": summary.DetailsFetched,
		"skipped":         summary.Skipped,
		"errors":          summary.ErrorCount(),
		"duration":        summary.Duration().String(),
	})
	if runErr != nil {
		entry.WithError(runErr).Error("sync run failed")
	} else {
		entry.Info("sync run finished")
	}

	if e.recorder != nil {
		e.recorder.RecordRun(summary.Mode, run.Status, summary)
	}
	if e.store.Runs != nil {
		if err := e.store.Runs.Record(run); err != nil {
			logger.WithError(err).Warn("failed to record sync run")
		}
	}
	e.emitRunCompleted(run, logger)
}

func (e *Engine) emitRunCompleted(run domain.SyncRun, logger *log.Entry) {
	if e.store.Outbox == nil {
		return
	}
	payload, err := json.Marshal(struct {
		domain.RunSummary
		Status     domain.RunStatus `json:"status"`
		FatalError string           `json:"fatal_error,omitempty"`
	}{run.Summary, run.Status, run.FatalError})
	if err != nil {
		logger.WithError(err).Error("marshal run event failed")
		return
	}
	if _, err := e.store.Outbox.Enqueue(domain.OutboxMessage{
		AggregateType: domain.AggregateSyncRun,
		AggregateID:   run.Summary.RunID,
		EventType:     domain.EventSyncRunCompleted,
		Payload:       payload,
	}); err != nil {
		logger.WithError(err).Error("enqueue run event failed")
	}
}

func (e *Engine) newReconciler(logger *log.Entry) *Reconciler {
	r := NewReconciler(e.source, e.store, logger)
	r.now = e.now
	return r
}

func (e *Engine) recordOutcome(mode domain.SyncMode, outcome domain.Outcome) {
	if e.recorder != nil {
		e.recorder.RecordOutcome(mode, outcome)
	}
}

func (e *Engine) recordFailedWindows(mode domain.SyncMode, count int) {
	if e.recorder != nil && count > 0 {
		e.recorder.RecordFailedWindows(mode, count)
	}
}

// sortByNumericID упорядочивает заказы по числовому increment id; нечисловые идут как 0.
func sortByNumericID(orders []domain.OrderSummary) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, _ := orders[i].NumericID()
		b, _ := orders[j].NumericID()
		return a < b
	})
}

// IsRunInProgress сообщает, что прогон не начат из-за занятой блокировки.
func IsRunInProgress(err error) bool {
	return errors.Is(err, domain.ErrRunInProgress)
}
