package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"job_harvester/internal/dedup"
	"job_harvester/internal/domain"
)

var errDuplicate = errors.New("duplicate")

// DedupStore is a durable dedup.Checker. Keys live in dedup_keys with an
// expiry; an expired key counts as unseen and is overwritten on reuse.
type DedupStore struct {
	db     *sqlx.DB
	tx     *TransactionManager
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewDedupStore(db *sqlx.DB, tx *TransactionManager, ttl time.Duration, logger *slog.Logger) *DedupStore {
	if ttl <= 0 {
		ttl = dedup.DefaultTTL
	}
	return &DedupStore{
		db:     db,
		tx:     tx,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With("component", "dedup_store"),
	}
}

// IsDuplicate inserts every key of job in one transaction. If any key is
// already live the transaction is rolled back, leaving the store untouched.
// Keys are inserted in sorted order so concurrent callers lock rows in the
// same order.
func (s *DedupStore) IsDuplicate(ctx context.Context, job *domain.NormalizedJob) (bool, error) {
	keys := dedup.Keys(job)
	if len(keys) == 0 {
		return false, nil
	}
	slices.Sort(keys)

	now := s.now().UTC()
	query := `
		INSERT INTO dedup_keys (key, first_seen, expires_at)
		SELECT k, $2::timestamptz, $3::timestamptz FROM unnest($1::text[]) AS k
		ON CONFLICT (key) DO UPDATE SET
			first_seen = EXCLUDED.first_seen,
			expires_at = EXCLUDED.expires_at
		WHERE dedup_keys.expires_at <= EXCLUDED.first_seen
		RETURNING key`

	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var inserted []string
		if err := sqlx.SelectContext(ctx, Executor(ctx, s.db), &inserted, query,
			pq.Array(keys), now, now.Add(s.ttl),
		); err != nil {
			return fmt.Errorf("insert dedup keys: %w", err)
		}
		if len(inserted) < len(keys) {
			return errDuplicate
		}
		return nil
	})
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, errDuplicate):
		return true, nil
	default:
		return false, err
	}
}

// Forget deletes the keys of job that were inserted together with its first
// key, restoring the state before IsDuplicate recorded it.
func (s *DedupStore) Forget(ctx context.Context, job *domain.NormalizedJob) error {
	keys := dedup.Keys(job)
	if len(keys) == 0 {
		return nil
	}
	slices.Sort(keys)

	query := `
		DELETE FROM dedup_keys
		WHERE key = ANY($1::text[])
		  AND first_seen = (SELECT first_seen FROM dedup_keys WHERE key = $2)`

	if _, err := Executor(ctx, s.db).ExecContext(ctx, query, pq.Array(keys), keys[0]); err != nil {
		return fmt.Errorf("forget dedup keys: %w", err)
	}
	return nil
}

// Sweep deletes expired keys and then the oldest keys beyond maxEntries.
// maxEntries <= 0 disables trimming.
func (s *DedupStore) Sweep(ctx context.Context, maxEntries int) (int64, error) {
	var removed int64
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		exec := Executor(ctx, s.db)

		res, err := exec.ExecContext(ctx, `DELETE FROM dedup_keys WHERE expires_at <= $1`, s.now().UTC())
		if err != nil {
			return fmt.Errorf("delete expired keys: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n

		if maxEntries <= 0 {
			return nil
		}
		res, err = exec.ExecContext(ctx, `
			DELETE FROM dedup_keys WHERE key IN (
				SELECT key FROM dedup_keys
				ORDER BY first_seen DESC, key
				OFFSET $1
			)`, maxEntries)
		if err != nil {
			return fmt.Errorf("trim keys: %w", err)
		}
		n, _ = res.RowsAffected()
		removed += n
		return nil
	})
	return removed, err
}

// StartSweeper runs Sweep every interval until ctx is done.
func (s *DedupStore) StartSweeper(ctx context.Context, interval time.Duration, maxEntries int) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.Sweep(ctx, maxEntries)
				if err != nil {
					s.logger.Warn("dedup sweep failed", "error", err)
					continue
				}
				if n > 0 {
					s.logger.Debug("dedup sweep", "removed", n)
				}
			}
		}
	}()
}

func (s *DedupStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM dedup_keys WHERE expires_at > $1`, s.now().UTC()); err != nil {
		return 0, fmt.Errorf("count dedup keys: %w", err)
	}
	return n, nil
}
