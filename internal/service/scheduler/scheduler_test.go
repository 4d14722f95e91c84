package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/service/ordersync"
)

type fakeRunner struct {
	mu    sync.Mutex
	modes []domain.SyncMode
	calls chan domain.SyncMode
	block chan struct{}
	err   error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{calls: make(chan domain.SyncMode, 8)}
}

func (r *fakeRunner) Run(ctx context.Context, mode domain.SyncMode, _ ordersync.RunOptions) (domain.RunSummary, error) {
	r.mu.Lock()
	r.modes = append(r.modes, mode)
	r.mu.Unlock()
	r.calls <- mode

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return domain.RunSummary{Mode: mode}, ctx.Err()
		}
	}
	return domain.RunSummary{Mode: mode}, r.err
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	return log.NewEntry(logger)
}

func waitCall(t *testing.T, calls <-chan domain.SyncMode) domain.SyncMode {
	t.Helper()
	select {
	case mode := <-calls:
		return mode
	case <-time.After(2 * time.Second):
		t.Fatal("runner was not called")
		return ""
	}
}

func TestScheduleMatchesDefaultHours(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	s, err := New(newFakeRunner(), WithLocation(loc), WithLogger(quietLogger()))
	require.NoError(t, err)

	at := func(hour, minute int) time.Time {
		return time.Date(2024, 3, 10, hour, minute, 0, 0, loc)
	}
	tests := []struct {
		mode  domain.SyncMode
		after time.Time
		want  time.Time
	}{
		{mode: domain.ModeRolling, after: at(4, 30), want: at(5, 0)},
		{mode: domain.ModeRolling, after: at(5, 0), want: at(12, 0)},
		{mode: domain.ModeRolling, after: at(12, 0), want: at(5, 0).AddDate(0, 0, 1)},
		{mode: domain.ModeLast50, after: at(4, 10), want: at(6, 0)},
		{mode: domain.ModeLast50, after: at(11, 59), want: at(13, 0)},
		{mode: domain.ModeLast50, after: at(23, 0), want: at(0, 0).AddDate(0, 0, 1)},
	}
	for _, tt := range tests {
		got, ok := s.Schedule(tt.mode, tt.after)
		require.True(t, ok)
		require.True(t, tt.want.Equal(got), "%s after %s: got %s want %s", tt.mode, tt.after, got, tt.want)
	}

	_, ok := s.Schedule(domain.ModeWindowed, at(0, 0))
	require.False(t, ok, "windowed mode is not scheduled")
}

func TestCustomSpecs(t *testing.T) {
	s, err := New(newFakeRunner(), WithLocation(time.UTC), WithSpecs("30 2 * * *", ""), WithLogger(quietLogger()))
	require.NoError(t, err)

	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	got, _ := s.Schedule(domain.ModeRolling, base)
	require.True(t, time.Date(2024, 3, 10, 2, 30, 0, 0, time.UTC).Equal(got), "got %s", got)

	got, _ = s.Schedule(domain.ModeLast50, base)
	require.True(t, time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC).Equal(got), "empty override keeps default, got %s", got)
}

func TestInvalidSpecIsRejected(t *testing.T) {
	_, err := New(newFakeRunner(), WithSpecs("every hour", ""), WithLogger(quietLogger()))
	require.Error(t, err)
	require.Contains(t, err.Error(), "rolling")
}

func TestRunOnStartRunsRollingThenLast50(t *testing.T) {
	runner := newFakeRunner()
	s, err := New(runner, WithRunOnStart(true, 0), WithLogger(quietLogger()))
	require.NoError(t, err)

	s.Start()
	require.Equal(t, domain.ModeRolling, waitCall(t, runner.calls))
	require.Equal(t, domain.ModeLast50, waitCall(t, runner.calls))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestTriggerRejectsOverlappingRunOfSameMode(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	s, err := New(runner, WithLogger(quietLogger()))
	require.NoError(t, err)

	require.NoError(t, s.Trigger(domain.ModeRolling, ordersync.RunOptions{}))
	require.Equal(t, domain.ModeRolling, waitCall(t, runner.calls))

	require.True(t, errors.Is(s.Trigger(domain.ModeRolling, ordersync.RunOptions{}), ErrBusy))
	require.Error(t, s.Trigger(domain.SyncMode("hourly"), ordersync.RunOptions{}))

	close(runner.block)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestStopCancelsRunningJob(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	s, err := New(runner, WithLogger(quietLogger()))
	require.NoError(t, err)

	require.NoError(t, s.Trigger(domain.ModeLast50, ordersync.RunOptions{}))
	waitCall(t, runner.calls)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	// После остановки новые прогоны не выполняются.
	require.ErrorIs(t, s.Trigger(domain.ModeRolling, ordersync.RunOptions{}), ErrStopped)
	require.NoError(t, s.Stop(ctx))
	require.Len(t, runner.modes, 1)
}

func TestTriggerDuringStopIsRejectedOrAwaited(t *testing.T) {
	runner := newFakeRunner()
	runner.calls = make(chan domain.SyncMode, 64)
	s, err := New(runner, WithLogger(quietLogger()))
	require.NoError(t, err)

	modes := []domain.SyncMode{domain.ModeRolling, domain.ModeLast50, domain.ModeWindowed}
	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(mode domain.SyncMode) {
			defer wg.Done()
			errs <- s.Trigger(mode, ordersync.RunOptions{})
		}(modes[i%len(modes)])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, ErrBusy) && !errors.Is(err, ErrStopped) {
			t.Fatalf("unexpected trigger error: %v", err)
		}
	}
	require.ErrorIs(t, s.Trigger(domain.ModeRolling, ordersync.RunOptions{}), ErrStopped)
}

func TestCronLoggerFields(t *testing.T) {
	got := fields([]interface{}{"entry", 1, 42, "answer", "dangling"})
	require.Equal(t, log.Fields{"entry": 1, "42": "answer"}, got)
}
