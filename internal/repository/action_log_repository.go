package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/journal-api/internal/models"
)

// ActionLogRepository appends and reads the audit trail.
type ActionLogRepository struct {
	db *sqlx.DB
}

// NewActionLogRepository constructs the repository.
func NewActionLogRepository(db *sqlx.DB) *ActionLogRepository {
	return &ActionLogRepository{db: db}
}

// Append stores a log row, filling id and timestamp when unset.
func (r *ActionLogRepository) Append(ctx context.Context, log *models.ActionLog) error {
	return insertActionLog(ctx, r.db, log)
}

// List returns the newest logs first.
func (r *ActionLogRepository) List(ctx context.Context, filter models.ActionLogFilter) ([]models.ActionLog, error) {
	b := &binder{}
	var conds []string
	if filter.ActorID != "" {
		conds = append(conds, "actor_id = "+b.bind(filter.ActorID))
	}
	if filter.Action != "" {
		conds = append(conds, "action = "+b.bind(filter.Action))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT id, actor_id, actor_role, action, target_id, detail, created_at FROM action_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	logs := make([]models.ActionLog, 0)
	if err := r.db.SelectContext(ctx, &logs, query, b.args...); err != nil {
		return nil, fmt.Errorf("list action logs: %w", err)
	}
	return logs, nil
}

// Clear deletes every log row and returns the number removed. A non-nil log
// is written after the wipe in the same transaction, so the trail always
// records who cleared it; an unset Detail records the count.
func (r *ActionLogRepository) Clear(ctx context.Context, log *models.ActionLog) (int64, error) {
	var n int64
	err := inTx(ctx, r.db, "clear action logs", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM action_logs`)
		if err != nil {
			return fmt.Errorf("clear action logs: %w", err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("clear action logs rows affected: %w", err)
		}
		if log == nil {
			return nil
		}
		countDetail(log, n, "rows")
		return insertActionLog(ctx, tx, log)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
