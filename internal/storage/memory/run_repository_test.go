package memory_test

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/storage/memory"
)

func TestRunRepository_LatestAndList(t *testing.T) {
	repo := memory.NewRunRepository()

	if _, err := repo.Latest(domain.ModeRolling); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	runs := []domain.SyncRun{
		{Summary: domain.RunSummary{RunID: "a", Mode: domain.ModeRolling}, Status: domain.RunSucceeded},
		{Summary: domain.RunSummary{RunID: "b", Mode: domain.ModeLast50}, Status: domain.RunFailed},
		{Summary: domain.RunSummary{RunID: "c", Mode: domain.ModeRolling}, Status: domain.RunSucceeded},
	}
	for _, run := range runs {
		if err := repo.Record(run); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	latest, err := repo.Latest(domain.ModeRolling)
	if err != nil || latest.Summary.RunID != "c" {
		t.Fatalf("expected run c, got %+v (%v)", latest, err)
	}

	list, err := repo.List(2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].Summary.RunID != "c" || list[1].Summary.RunID != "b" {
		t.Fatalf("unexpected list order: %+v", list)
	}
}
