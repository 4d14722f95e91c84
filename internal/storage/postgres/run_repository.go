package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

const selectRunColumns = `
	SELECT run_id, mode, status, started_at, finished_at, total, processed, created, updated,
	       status_changed, details_fetched, skipped, errors, fatal_error
	FROM sync_runs
`

type runRepository struct {
	db *sql.DB
}

// NewRunRepository создаёт PostgreSQL-реализацию истории прогонов.
func NewRunRepository(store *Store) domain.RunRepository {
	return &runRepository{db: store.DB()}
}

func (r *runRepository) Record(run domain.SyncRun) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	s := run.Summary
	errs := s.Errors
	if errs == nil {
		errs = []string{}
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encode run errors: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sync_runs (
			run_id, mode, status, started_at, finished_at, total, processed, created, updated,
			status_changed, details_fetched, skipped, errors, fatal_error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (run_id) DO UPDATE
		SET status = EXCLUDED.status,
		    finished_at = EXCLUDED.finished_at,
		    total = EXCLUDED.total,
		    processed = EXCLUDED.processed,
		    created = EXCLUDED.created,
		    updated = EXCLUDED.updated,
		    status_changed = EXCLUDED.status_changed,
		    details_fetched = EXCLUDED.details_fetched,
		    skipped = EXCLUDED.skipped,
		    errors = EXCLUDED.errors,
		    fatal_error = EXCLUDED.fatal_error
	`,
		s.RunID, string(s.Mode), string(run.Status), s.StartedAt, nullTime(s.FinishedAt),
		s.Total, s.Processed, s.Created, s.Updated,
		s.StatusChanged, s.DetailsFetched, s.Skipped, errorsJSON, run.FatalError,
	)
	if err != nil {
		return fmt.Errorf("record sync run: %w", err)
	}
	return nil
}

func (r *runRepository) Latest(mode domain.SyncMode) (domain.SyncRun, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	run, err := scanRun(r.db.QueryRowContext(ctx, selectRunColumns+`
		WHERE mode = $1
		ORDER BY started_at DESC
		LIMIT 1
	`, string(mode)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SyncRun{}, domain.ErrRunNotFound
		}
		return domain.SyncRun{}, fmt.Errorf("select latest sync run: %w", err)
	}
	return run, nil
}

func (r *runRepository) List(limit int) ([]domain.SyncRun, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := selectRunColumns + ` ORDER BY started_at DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $1", limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.SyncRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (domain.SyncRun, error) {
	var (
		run          domain.SyncRun
		mode, status string
		finishedAt   sql.NullTime
		errorsRaw    []byte
	)
	s := &run.Summary
	if err := row.Scan(
		&s.RunID, &mode, &status, &s.StartedAt, &finishedAt, &s.Total, &s.Processed, &s.Created, &s.Updated,
		&s.StatusChanged, &s.DetailsFetched, &s.Skipped, &errorsRaw, &run.FatalError,
	); err != nil {
		return domain.SyncRun{}, err
	}
	s.Mode = domain.SyncMode(mode)
	s.FinishedAt = finishedAt.Time
	run.Status = domain.RunStatus(status)
	if err := json.Unmarshal(errorsRaw, &s.Errors); err != nil {
		return domain.SyncRun{}, fmt.Errorf("decode run errors: %w", err)
	}
	return run, nil
}

var _ domain.RunRepository = (*runRepository)(nil)
