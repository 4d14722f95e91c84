package health

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/storage/memory"
)

func TestLastRunChecker(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		runs    []domain.SyncRun
		status  Status
		message string
	}{
		{
			name:    "no runs yet",
			status:  StatusHealthy,
			message: "no runs recorded yet",
		},
		{
			name: "fresh success",
			runs: []domain.SyncRun{{
				Status:  domain.RunSucceeded,
				Summary: domain.RunSummary{RunID: "r1", Mode: domain.ModeRolling, StartedAt: now.Add(-2 * time.Hour), FinishedAt: now.Add(-time.Hour), Processed: 12},
			}},
			status:  StatusHealthy,
			message: "12 processed",
		},
		{
			name: "failed run",
			runs: []domain.SyncRun{{
				Status:     domain.RunFailed,
				FatalError: "remote authentication failed",
				Summary:    domain.RunSummary{RunID: "r2", Mode: domain.ModeRolling, StartedAt: now.Add(-time.Minute)},
			}},
			status:  StatusDegraded,
			message: "remote authentication failed",
		},
		{
			name: "stale run",
			runs: []domain.SyncRun{{
				Status:  domain.RunSucceeded,
				Summary: domain.RunSummary{RunID: "r3", Mode: domain.ModeRolling, StartedAt: now.Add(-20 * time.Hour), FinishedAt: now.Add(-19 * time.Hour)},
			}},
			status:  StatusDegraded,
			message: "19h0m0s ago",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := memory.NewRunRepository()
			for _, run := range tt.runs {
				if err := repo.Record(run); err != nil {
					t.Fatalf("record run: %v", err)
				}
			}
			checker := NewLastRunChecker(repo, domain.ModeRolling, 13*time.Hour)
			checker.now = func() time.Time { return now }

			check := checker.Check(context.Background())
			if check.Status != tt.status {
				t.Fatalf("expected %s, got %s (%s)", tt.status, check.Status, check.Message)
			}
			if !strings.Contains(check.Message, tt.message) {
				t.Fatalf("message %q does not mention %q", check.Message, tt.message)
			}
			if check.Name != "sync_rolling" {
				t.Fatalf("unexpected check name %q", check.Name)
			}
		})
	}
}
