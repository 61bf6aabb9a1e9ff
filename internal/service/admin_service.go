package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/journal-api/internal/models"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
)

type entryWiper interface {
	DeleteAll(ctx context.Context, log *models.ActionLog) (int64, error)
}

type actionLogStore interface {
	List(ctx context.Context, filter models.ActionLogFilter) ([]models.ActionLog, error)
	Clear(ctx context.Context, log *models.ActionLog) (int64, error)
}

// AdminService runs bulk maintenance that bypasses the submission and review rules.
type AdminService struct {
	entries  entryWiper
	logs     actionLogStore
	listener entryChangeListener
	logger   *zap.Logger
}

// NewAdminService constructs the maintenance service.
func NewAdminService(entries entryWiper, logs actionLogStore, listener entryChangeListener, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{entries: entries, logs: logs, listener: listener, logger: logger}
}

// ResetEntries deletes every journal entry and returns how many were removed.
// The wipe and its log row commit together.
func (s *AdminService) ResetEntries(ctx context.Context, actor *models.JWTClaims) (int64, error) {
	removed, err := s.entries.DeleteAll(ctx, &models.ActionLog{
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		Action:    models.ActionEntriesWipe,
	})
	if err != nil {
		return 0, appErrors.Store(err, "failed to delete entries")
	}
	if s.listener != nil {
		s.listener.EntryChanged(ctx, models.Group{})
	}
	s.logger.Warn("all journal entries deleted", zap.Int64("removed", removed), zap.String("actor", actor.UserID))
	return removed, nil
}

// ClearLogs empties the action log and records who cleared it in the same
// transaction.
func (s *AdminService) ClearLogs(ctx context.Context, actor *models.JWTClaims) (int64, error) {
	removed, err := s.logs.Clear(ctx, &models.ActionLog{
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		Action:    models.ActionLogsClear,
	})
	if err != nil {
		return 0, appErrors.Store(err, "failed to clear logs")
	}
	s.logger.Warn("action log cleared", zap.Int64("removed", removed), zap.String("actor", actor.UserID))
	return removed, nil
}

// ListLogs returns action log rows, newest first.
func (s *AdminService) ListLogs(ctx context.Context, filter models.ActionLogFilter) ([]models.ActionLog, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	logs, err := s.logs.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Store(err, "failed to list logs")
	}
	return logs, nil
}
