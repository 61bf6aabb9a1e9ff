package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/journal-api/internal/models"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
)

const (
	reviewResultMarked      = "marked"
	reviewResultAlreadyRead = "already_read"
)

type reviewEntryStore interface {
	GetByID(ctx context.Context, id string) (*models.Entry, error)
	Update(ctx context.Context, id string, upd models.EntryUpdate, log *models.ActionLog) (bool, error)
}

// ReviewService moves entries from unread to read on a teacher's behalf.
type ReviewService struct {
	entries   reviewEntryStore
	listener  entryChangeListener
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewReviewService constructs the review workflow.
func NewReviewService(entries reviewEntryStore, listener entryChangeListener, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ReviewService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{
		entries:   entries,
		listener:  listener,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// CanAccess reports whether actor may see entries of group. Only admins have
// school-wide scope; a teacher without a full grade and class sees nothing.
func CanAccess(actor *models.JWTClaims, group models.Group) bool {
	if actor == nil {
		return false
	}
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleTeacher:
		scope := actor.Group()
		return scope.Complete() && scope.Covers(group)
	}
	return false
}

// MarkRead locks an entry against resubmission and stores the teacher's comment.
// Marking an entry that is already read succeeds without changing it.
func (s *ReviewService) MarkRead(ctx context.Context, entryID string, req models.ReviewRequest, actor *models.JWTClaims) (*models.Entry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if actor == nil || (actor.Role != models.RoleTeacher && actor.Role != models.RoleAdmin) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers can review entries")
	}

	entry, err := s.load(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !CanAccess(actor, entry.Group()) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "entry belongs to another class")
	}
	if entry.IsRead() {
		s.metrics.RecordReview(reviewResultAlreadyRead)
		return entry, nil
	}

	read := models.ReviewRead
	annotation := req.Annotation
	acknowledged := req.Acknowledge
	reviewer := actor.UserID
	log := &models.ActionLog{
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		Action:    models.ActionReview,
		TargetID:  strPtr(entry.ID),
	}
	if annotation != "" {
		log.Detail = strPtr(annotation)
	}
	ok, err := s.entries.Update(ctx, entry.ID, models.EntryUpdate{
		ReviewState:    &read,
		TeacherComment: &annotation,
		Acknowledged:   &acknowledged,
		Reviewer:       &reviewer,
		RequireUnread:  true,
	}, log)
	if err != nil {
		return nil, storeError(err, "failed to update entry")
	}
	if !ok {
		// Another reviewer won the race; report their result.
		s.metrics.RecordReview(reviewResultAlreadyRead)
		return s.load(ctx, entryID)
	}

	now := s.now().UTC()
	entry.ReviewState = models.ReviewRead
	entry.TeacherComment = nil
	if annotation != "" {
		entry.TeacherComment = &annotation
	}
	entry.Acknowledged = acknowledged
	entry.ReviewedBy = &reviewer
	entry.ReviewedAt = &now
	entry.UpdatedAt = now

	if s.listener != nil {
		s.listener.EntryChanged(ctx, entry.Group())
	}
	s.metrics.RecordReview(reviewResultMarked)
	s.logger.Info("journal entry reviewed",
		zap.String("entry_id", entry.ID),
		zap.String("reviewer", reviewer),
		zap.Bool("acknowledged", acknowledged))
	return entry, nil
}

func (s *ReviewService) load(ctx context.Context, id string) (*models.Entry, error) {
	entry, err := s.entries.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "entry not found")
		}
		return nil, appErrors.Store(err, "failed to load entry")
	}
	return entry, nil
}
