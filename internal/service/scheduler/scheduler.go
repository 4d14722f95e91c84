package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/service/ordersync"
)

const (
	// DefaultRollingSpec: rolling 3-day дважды в день.
	DefaultRollingSpec = "0 5,12 * * *"
	// DefaultLast50Spec: last50 каждый час, кроме часов rolling.
	DefaultLast50Spec = "0 0-4,6-11,13-23 * * *"

	defaultStartupGap = 5 * time.Second
)

var (
	// ErrBusy возвращается, когда прогон, запущенный этим планировщиком, ещё идёт.
	ErrBusy = errors.New("scheduler: sync run already in progress")
	// ErrStopped возвращается из Trigger после Stop.
	ErrStopped = errors.New("scheduler: stopped")
)

// Runner выполняет прогон синхронизации. Реализация: ordersync.Engine.
type Runner interface {
	Run(ctx context.Context, mode domain.SyncMode, opts ordersync.RunOptions) (domain.RunSummary, error)
}

// Options задаёт расписание.
type Options struct {
	Logger      *log.Entry
	Location    *time.Location
	RollingSpec string
	Last50Spec  string
	// RunOnStart запускает rolling сразу после старта, затем last50 через StartupGap.
	RunOnStart bool
	StartupGap time.Duration
}

// Option настраивает Scheduler.
type Option func(*Options)

// WithLogger задаёт logger планировщика.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithLocation задаёт часовой пояс расписания.
func WithLocation(loc *time.Location) Option {
	return func(opts *Options) {
		opts.Location = loc
	}
}

// WithSpecs переопределяет cron-выражения; пустые значения оставляют расписание по умолчанию.
func WithSpecs(rolling, last50 string) Option {
	return func(opts *Options) {
		if rolling != "" {
			opts.RollingSpec = rolling
		}
		if last50 != "" {
			opts.Last50Spec = last50
		}
	}
}

// WithRunOnStart включает стартовые прогоны.
func WithRunOnStart(enabled bool, gap time.Duration) Option {
	return func(opts *Options) {
		opts.RunOnStart = enabled
		if gap >= 0 {
			opts.StartupGap = gap
		}
	}
}

// Scheduler запускает прогоны по cron и по ручному запросу, не допуская наложения.
type Scheduler struct {
	runner Runner
	cron   *cron.Cron
	logger *log.Entry
	opts   Options
	jobs   map[domain.SyncMode]cron.EntryID

	mu      sync.Mutex
	running map[domain.SyncMode]bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New создаёт планировщик и регистрирует задания rolling и last50.
func New(runner Runner, options ...Option) (*Scheduler, error) {
	opts := Options{
		Location:    time.Local,
		RollingSpec: DefaultRollingSpec,
		Last50Spec:  DefaultLast50Spec,
		StartupGap:  defaultStartupGap,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "scheduler")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:  runner,
		logger:  opts.Logger,
		opts:    opts,
		jobs:    make(map[domain.SyncMode]cron.EntryID),
		running: make(map[domain.SyncMode]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.cron = cron.New(
		cron.WithLocation(opts.Location),
		cron.WithLogger(cronLogger{entry: opts.Logger}),
	)

	specs := []struct {
		spec string
		mode domain.SyncMode
	}{
		{spec: opts.RollingSpec, mode: domain.ModeRolling},
		{spec: opts.Last50Spec, mode: domain.ModeLast50},
	}
	for _, job := range specs {
		mode := job.mode
		id, err := s.cron.AddFunc(job.spec, func() { s.runScheduled(mode) })
		if err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %s %q: %w", mode, job.spec, err)
		}
		s.jobs[mode] = id
	}
	return s, nil
}

// Start запускает cron и, если включено, стартовые прогоны.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithFields(log.Fields{
		"rolling":  s.opts.RollingSpec,
		"last50":   s.opts.Last50Spec,
		"timezone": s.opts.Location.String(),
	}).Info("scheduler started")

	if !s.opts.RunOnStart {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runScheduled(domain.ModeRolling)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.opts.StartupGap):
		}
		s.runScheduled(domain.ModeLast50)
	}()
}

// Trigger запускает прогон вне расписания в фоне.
func (s *Scheduler) Trigger(mode domain.SyncMode, opts ordersync.RunOptions) error {
	if _, err := domain.ParseSyncMode(string(mode)); err != nil {
		return err
	}
	if err := s.acquireTracked(mode); err != nil {
		return err
	}
	go func() {
		defer s.wg.Done()
		defer s.release(mode)
		s.run(mode, opts)
	}()
	return nil
}

// Next возвращает время следующего срабатывания каждого режима.
// До Start значения нулевые.
func (s *Scheduler) Next() map[domain.SyncMode]time.Time {
	next := make(map[domain.SyncMode]time.Time, len(s.jobs))
	for mode, id := range s.jobs {
		next[mode] = s.cron.Entry(id).Next
	}
	return next
}

// Schedule возвращает расписание следующего срабатывания режима после t.
func (s *Scheduler) Schedule(mode domain.SyncMode, t time.Time) (time.Time, bool) {
	id, ok := s.jobs[mode]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Schedule.Next(t), true
}

// Stop останавливает cron, отменяет текущие прогоны и ждёт их завершения или ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) runScheduled(mode domain.SyncMode) {
	if !s.acquire(mode) {
		s.logger.WithField("mode", mode).Info("previous run still in progress, skipping")
		return
	}
	defer s.release(mode)
	s.run(mode, ordersync.RunOptions{})
}

func (s *Scheduler) run(mode domain.SyncMode, opts ordersync.RunOptions) {
	if s.ctx.Err() != nil {
		return
	}
	_, err := s.runner.Run(s.ctx, mode, opts)
	switch {
	case err == nil:
	case ordersync.IsRunInProgress(err):
		s.logger.WithField("mode", mode).Info("sync run skipped: lock is held")
	default:
		s.logger.WithError(err).WithField("mode", mode).Error("scheduled sync run failed")
	}
}

func (s *Scheduler) acquire(mode domain.SyncMode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[mode] {
		return false
	}
	s.running[mode] = true
	return true
}

// acquireTracked занимает режим и регистрирует фоновый прогон в wg под одной блокировкой,
// чтобы Stop не начал ждать wg раньше Add.
func (s *Scheduler) acquireTracked(mode domain.SyncMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.running[mode] {
		return ErrBusy
	}
	s.running[mode] = true
	s.wg.Add(1)
	return nil
}

func (s *Scheduler) release(mode domain.SyncMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, mode)
}

// cronLogger направляет сообщения cron в logrus.
type cronLogger struct {
	entry *log.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithError(err).WithFields(fields(keysAndValues)).Error("cron: " + msg)
}

func fields(keysAndValues []interface{}) log.Fields {
	out := make(log.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		out[key] = keysAndValues[i+1]
	}
	return out
}
