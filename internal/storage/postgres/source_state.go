package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"job_harvester/internal/domain"
)

// SourceStateStore keeps a running summary per source and one row per
// completed cycle.
type SourceStateStore struct {
	db *sqlx.DB
	tx *TransactionManager
}

func NewSourceStateStore(db *sqlx.DB, tx *TransactionManager) *SourceStateStore {
	return &SourceStateStore{db: db, tx: tx}
}

func (s *SourceStateStore) Get(ctx context.Context, sourceID string) (*domain.SourceState, error) {
	var state domain.SourceState
	query := `
		SELECT id, source_id, last_run_at, last_status, last_error,
			total_fetched, total_duplicates, total_emitted, runs
		FROM source_state
		WHERE source_id = $1`

	err := s.db.GetContext(ctx, &state, query, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.SourceState{SourceID: sourceID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get source state: %w", err)
	}
	return &state, nil
}

func (s *SourceStateStore) List(ctx context.Context) ([]domain.SourceState, error) {
	var states []domain.SourceState
	query := `
		SELECT id, source_id, last_run_at, last_status, last_error,
			total_fetched, total_duplicates, total_emitted, runs
		FROM source_state
		ORDER BY source_id`

	if err := s.db.SelectContext(ctx, &states, query); err != nil {
		return nil, fmt.Errorf("list source state: %w", err)
	}
	return states, nil
}

// Record stores the cycle and folds each source report into its running
// totals, all in one transaction.
func (s *SourceStateStore) Record(ctx context.Context, report *domain.CycleReport) error {
	fetched, duplicates, emitted := report.Totals()

	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		exec := Executor(ctx, s.db)

		_, err := exec.ExecContext(ctx, `
			INSERT INTO fetch_cycles (cycle_id, started_at, finished_at, sources, fetched, duplicates, emitted)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (cycle_id) DO NOTHING`,
			report.CycleID,
			report.StartedAt,
			report.FinishedAt,
			len(report.Sources),
			fetched,
			duplicates,
			emitted,
		)
		if err != nil {
			return fmt.Errorf("insert cycle: %w", err)
		}

		for _, rep := range report.Sources {
			if err := s.update(ctx, exec, report, rep); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SourceStateStore) update(ctx context.Context, exec sqlx.ExtContext, report *domain.CycleReport, rep domain.SourceReport) error {
	query := `
		INSERT INTO source_state (
			source_id, last_run_at, last_status, last_error,
			total_fetched, total_duplicates, total_emitted, runs
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		ON CONFLICT (source_id) DO UPDATE SET
			last_run_at = EXCLUDED.last_run_at,
			last_status = EXCLUDED.last_status,
			last_error = EXCLUDED.last_error,
			total_fetched = source_state.total_fetched + EXCLUDED.total_fetched,
			total_duplicates = source_state.total_duplicates + EXCLUDED.total_duplicates,
			total_emitted = source_state.total_emitted + EXCLUDED.total_emitted,
			runs = source_state.runs + 1`

	_, err := exec.ExecContext(ctx, query,
		rep.SourceID,
		report.FinishedAt,
		string(rep.Status),
		rep.Error,
		rep.Fetched,
		rep.Duplicates,
		rep.Emitted,
	)
	if err != nil {
		return fmt.Errorf("update source state %s: %w", rep.SourceID, err)
	}
	return nil
}
