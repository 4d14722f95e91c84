package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

type runRepositoryInMemory struct {
	mu   sync.RWMutex
	runs []domain.SyncRun
}

// NewRunRepository создаёт in-memory историю прогонов.
func NewRunRepository() domain.RunRepository {
	return &runRepositoryInMemory{}
}

func (r *runRepositoryInMemory) Record(run domain.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run.Summary.Errors = append([]string(nil), run.Summary.Errors...)
	r.runs = append(r.runs, run)
	return nil
}

// Latest возвращает последний записанный прогон режима.
func (r *runRepositoryInMemory) Latest(mode domain.SyncMode) (domain.SyncRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.runs) - 1; i >= 0; i-- {
		if r.runs[i].Summary.Mode == mode {
			return r.runs[i], nil
		}
	}
	return domain.SyncRun{}, domain.ErrRunNotFound
}

// List возвращает прогоны от новых к старым.
func (r *runRepositoryInMemory) List(limit int) ([]domain.SyncRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.runs) {
		limit = len(r.runs)
	}
	result := make([]domain.SyncRun, 0, limit)
	for i := len(r.runs) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, r.runs[i])
	}
	return result, nil
}

var _ domain.RunRepository = (*runRepositoryInMemory)(nil)
