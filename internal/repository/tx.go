package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/journal-api/internal/models"
)

// inTx runs fn inside a transaction that is committed only when fn succeeds.
func inTx(ctx context.Context, db *sqlx.DB, name string, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", name, err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	commit = true
	return nil
}

// insertActionLog writes a log row through db or an open transaction,
// filling id and timestamp when unset.
func insertActionLog(ctx context.Context, ext sqlx.ExtContext, log *models.ActionLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO action_logs (id, actor_id, actor_role, action, target_id, detail, created_at)
VALUES (:id, :actor_id, :actor_role, :action, :target_id, :detail, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, log); err != nil {
		return fmt.Errorf("append action log: %w", err)
	}
	return nil
}

func countDetail(log *models.ActionLog, n int64, noun string) {
	if log != nil && log.Detail == nil {
		detail := fmt.Sprintf("%d %s", n, noun)
		log.Detail = &detail
	}
}
