package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

// WakeupRepository handles execution_wakeups.
type WakeupRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWakeupRepository creates a new wakeup repository.
func NewWakeupRepository(db *sql.DB, logger *slog.Logger) *WakeupRepository {
	return &WakeupRepository{db: db, logger: logger}
}

const wakeupColumns = `id, execution_id, generation, resume_node_id, reason, status, wake_at, created_at, fired_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertWakeup(ctx context.Context, db execer, wakeup *models.Wakeup) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO execution_wakeups (`+wakeupColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`,
		wakeup.ID,
		wakeup.ExecutionID,
		wakeup.Generation,
		wakeup.ResumeNodeID,
		wakeup.Reason,
		wakeup.Status,
		wakeup.WakeAt.UTC(),
		wakeup.CreatedAt.UTC(),
		nullTime(wakeup.FiredAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save wakeup %s: %w", wakeup.ID, err)
	}

	return nil
}

func (wr *WakeupRepository) Save(ctx context.Context, wakeup *models.Wakeup) error {
	return insertWakeup(ctx, wr.db, wakeup)
}

func (wr *WakeupRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Wakeup, error) {
	return wr.query(ctx,
		"WHERE status = 'pending' AND wake_at <= $1 ORDER BY wake_at, id LIMIT $2",
		now.UTC(), limitOrAll(limit))
}

func (wr *WakeupRepository) Pending(ctx context.Context, limit int) ([]*models.Wakeup, error) {
	return wr.query(ctx, "WHERE status = 'pending' ORDER BY wake_at, id LIMIT $1", limitOrAll(limit))
}

func (wr *WakeupRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.Wakeup, error) {
	return wr.query(ctx, "WHERE execution_id = $1 ORDER BY wake_at, id", executionID)
}

func (wr *WakeupRepository) MarkFired(ctx context.Context, id string, at time.Time) error {
	_, err := wr.db.ExecContext(ctx,
		"UPDATE execution_wakeups SET status = 'fired', fired_at = $2 WHERE id = $1 AND status = 'pending'",
		id, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark wakeup %s fired: %w", id, err)
	}

	return nil
}

func (wr *WakeupRepository) CancelByExecution(ctx context.Context, executionID string, at time.Time) error {
	_, err := wr.db.ExecContext(ctx,
		"UPDATE execution_wakeups SET status = 'cancelled', fired_at = $2 WHERE execution_id = $1 AND status = 'pending'",
		executionID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to cancel wakeups of %s: %w", executionID, err)
	}

	return nil
}

// limitOrAll maps a non positive limit to NULL, which LIMIT treats as no limit.
func limitOrAll(limit int) sql.NullInt64 {
	if limit <= 0 {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: int64(limit), Valid: true}
}

func (wr *WakeupRepository) query(ctx context.Context, clause string, args ...any) ([]*models.Wakeup, error) {
	rows, err := wr.db.QueryContext(ctx, "SELECT "+wakeupColumns+" FROM execution_wakeups "+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query wakeups: %w", err)
	}

	defer closeRows(ctx, wr.logger, rows)

	wakeups := make([]*models.Wakeup, 0)

	for rows.Next() {
		var (
			wakeup  models.Wakeup
			firedAt sql.NullTime
		)

		err := rows.Scan(
			&wakeup.ID,
			&wakeup.ExecutionID,
			&wakeup.Generation,
			&wakeup.ResumeNodeID,
			&wakeup.Reason,
			&wakeup.Status,
			&wakeup.WakeAt,
			&wakeup.CreatedAt,
			&firedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wakeup: %w", err)
		}

		wakeup.WakeAt = wakeup.WakeAt.UTC()
		wakeup.CreatedAt = wakeup.CreatedAt.UTC()
		wakeup.FiredAt = timePtr(firedAt)
		wakeups = append(wakeups, &wakeup)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wakeups: %w", err)
	}

	return wakeups, nil
}
