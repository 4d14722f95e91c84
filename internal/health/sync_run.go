package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// LastRunChecker сообщает degraded, если последний прогон режима упал или слишком давно завершился.
// Отсутствие прогонов после старта не считается проблемой.
type LastRunChecker struct {
	runs   domain.RunRepository
	mode   domain.SyncMode
	maxAge time.Duration
	now    func() time.Time
}

// NewLastRunChecker создаёт проверку свежести прогонов режима mode.
func NewLastRunChecker(runs domain.RunRepository, mode domain.SyncMode, maxAge time.Duration) *LastRunChecker {
	return &LastRunChecker{runs: runs, mode: mode, maxAge: maxAge, now: time.Now}
}

func (c *LastRunChecker) Check(_ context.Context) Check {
	start := c.now()
	check := Check{Name: "sync_" + string(c.mode), Status: StatusHealthy}
	defer func() {
		check.DurationMs = c.now().Sub(start).Milliseconds()
	}()

	run, err := c.runs.Latest(c.mode)
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		check.Message = "no runs recorded yet"
		return check
	case err != nil:
		check.Status = StatusUnhealthy
		check.Message = err.Error()
		return check
	}

	finished := run.Summary.FinishedAt
	if finished.IsZero() {
		finished = run.Summary.StartedAt
	}
	age := start.Sub(finished)

	switch {
	case run.Status == domain.RunFailed:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("last run %s failed: %s", run.Summary.RunID, run.FatalError)
	case c.maxAge > 0 && age > c.maxAge:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("last run finished %s ago", age.Truncate(time.Second))
	default:
		check.Message = fmt.Sprintf("last run %s: %d processed, %d errors", run.Summary.RunID, run.Summary.Processed, run.Summary.ErrorCount())
	}
	return check
}
