package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

func TestRunRepository_PostgresRecordLatestList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewRunRepository(store)

	if _, err := repo.Latest(domain.ModeRolling); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	started := time.Now().UTC().Add(-time.Hour).Round(time.Microsecond)
	older := domain.SyncRun{
		Status: domain.RunSucceeded,
		Summary: domain.RunSummary{
			RunID:      "run-1",
			Mode:       domain.ModeRolling,
			StartedAt:  started,
			FinishedAt: started.Add(time.Minute),
			Total:      4,
			Processed:  2,
			Created:    1,
			Updated:    3,
			Errors:     []string{"order 1001: remote transport error"},
		},
	}
	newer := domain.SyncRun{
		Status:     domain.RunFailed,
		FatalError: "remote authentication failed",
		Summary: domain.RunSummary{
			RunID:     "run-2",
			Mode:      domain.ModeRolling,
			StartedAt: started.Add(30 * time.Minute),
		},
	}
	for _, run := range []domain.SyncRun{older, newer} {
		if err := repo.Record(run); err != nil {
			t.Fatalf("record %s: %v", run.Summary.RunID, err)
		}
	}

	latest, err := repo.Latest(domain.ModeRolling)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Summary.RunID != "run-2" || latest.Status != domain.RunFailed || latest.FatalError == "" {
		t.Fatalf("unexpected latest run: %+v", latest)
	}
	if !latest.Summary.FinishedAt.IsZero() {
		t.Fatalf("unfinished run must have zero finished_at, got %v", latest.Summary.FinishedAt)
	}

	runs, err := repo.List(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 || runs[1].Summary.RunID != "run-1" {
		t.Fatalf("unexpected run list: %+v", runs)
	}
	if runs[1].Summary.Updated != 3 || len(runs[1].Summary.Errors) != 1 {
		t.Fatalf("summary not restored: %+v", runs[1].Summary)
	}

	limited, err := repo.List(1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("list with limit: %d %v", len(limited), err)
	}
}
