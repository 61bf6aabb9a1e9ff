package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/journal-api/internal/models"
	"github.com/noah-isme/journal-api/internal/repository"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
	"github.com/noah-isme/journal-api/pkg/schoolday"
)

type submissionEntryStore interface {
	FindByKey(ctx context.Context, studentID string, day schoolday.Day) (*models.Entry, error)
	Insert(ctx context.Context, entry *models.Entry, log *models.ActionLog) (string, error)
	Update(ctx context.Context, id string, upd models.EntryUpdate, log *models.ActionLog) (bool, error)
	ListBySubject(ctx context.Context, studentID string) ([]models.Entry, error)
}

type userLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// entryChangeListener is told about every committed entry mutation.
type entryChangeListener interface {
	EntryChanged(ctx context.Context, group models.Group)
}

// SubmissionConfig tunes the submission gate.
type SubmissionConfig struct {
	Policy    schoolday.Policy
	RatingMin int
	RatingMax int
}

// SubmissionService accepts at most one journal entry per student per school day.
type SubmissionService struct {
	entries   submissionEntryStore
	users     userLookup
	boundary  *schoolday.Boundary
	listener  entryChangeListener
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       SubmissionConfig
}

// NewSubmissionService constructs the gate. The rating rule is (re)registered on validate.
func NewSubmissionService(
	entries submissionEntryStore,
	users userLookup,
	boundary *schoolday.Boundary,
	listener entryChangeListener,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg SubmissionConfig,
) *SubmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if boundary == nil {
		boundary = schoolday.NewBoundary()
	}
	if !cfg.Policy.Valid() {
		cfg.Policy = schoolday.PolicyToday
	}
	if cfg.RatingMin == 0 && cfg.RatingMax == 0 {
		cfg.RatingMin, cfg.RatingMax = DefaultRatingMin, DefaultRatingMax
	}
	if err := RegisterRatingRule(validate, cfg.RatingMin, cfg.RatingMax); err != nil {
		logger.Warn("invalid rating bounds, using defaults", zap.Error(err))
		cfg.RatingMin, cfg.RatingMax = DefaultRatingMin, DefaultRatingMax
		_ = RegisterRatingRule(validate, cfg.RatingMin, cfg.RatingMax)
	}
	return &SubmissionService{
		entries:   entries,
		users:     users,
		boundary:  boundary,
		listener:  listener,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// OpenDay returns the only day currently accepting submissions.
func (s *SubmissionService) OpenDay() schoolday.Day {
	return s.boundary.SubmissionDay(s.cfg.Policy)
}

// Submit creates today's entry or replaces its content while it is still
// unread. A request without a day targets the open day.
func (s *SubmissionService) Submit(ctx context.Context, req models.SubmitRequest) (*models.SubmitResult, error) {
	result, err := s.submit(ctx, req)
	if err != nil {
		s.metrics.RecordSubmission(appErrors.FromError(err).Code)
		return nil, err
	}
	s.metrics.RecordSubmission(string(result.Outcome))
	return result, nil
}

func (s *SubmissionService) submit(ctx context.Context, req models.SubmitRequest) (*models.SubmitResult, error) {
	if err := s.checkRatings(req.Ratings); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}

	subject, err := s.users.FindByID(ctx, req.SubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnknownSubject, fmt.Sprintf("student %s not found", req.SubjectID))
		}
		return nil, appErrors.Store(err, "failed to load student")
	}
	if subject.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrUnknownSubject, fmt.Sprintf("%s is not a student", req.SubjectID))
	}

	open := s.OpenDay()
	if req.Day.IsZero() {
		req.Day = open
	}
	if !req.Day.Equal(open) {
		return nil, appErrors.Clone(appErrors.ErrOutOfWindow, fmt.Sprintf("submissions are only accepted for %s", open))
	}

	// A lost insert race surfaces as ErrDuplicateKey; the second pass then
	// resolves against the winner's row.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.entries.FindByKey(ctx, subject.ID, open)
		if err != nil {
			return nil, appErrors.Store(err, "failed to load entry")
		}
		if existing == nil {
			entry, err := s.create(ctx, subject, open, req)
			if errors.Is(err, repository.ErrDuplicateKey) {
				s.logger.Info("concurrent submission detected",
					zap.String("student_id", subject.ID), zap.String("day", open.String()))
				continue
			}
			if err != nil {
				return nil, err
			}
			return s.commit(ctx, models.OutcomeCreated, entry)
		}

		if existing.IsRead() {
			return nil, appErrors.Clone(appErrors.ErrLockedByReview, "entry was already read by a teacher")
		}
		entry, err := s.resubmit(ctx, existing, req)
		if err != nil {
			return nil, err
		}
		return s.commit(ctx, models.OutcomeResubmitted, entry)
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "entry changed concurrently, please retry")
}

func (s *SubmissionService) checkRatings(r models.Ratings) error {
	if r.Condition == nil || r.Mental == nil {
		return appErrors.Clone(appErrors.ErrInvalidRating, "condition and mental ratings are required")
	}
	if err := s.validator.Struct(r); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInvalidRating.Code, appErrors.ErrInvalidRating.Status,
			fmt.Sprintf("ratings must be between %d and %d", s.cfg.RatingMin, s.cfg.RatingMax))
	}
	return nil
}

func (s *SubmissionService) create(ctx context.Context, subject *models.User, day schoolday.Day, req models.SubmitRequest) (*models.Entry, error) {
	entry := &models.Entry{
		StudentID:   subject.ID,
		StudentName: subject.Name,
		Grade:       subject.Grade,
		ClassName:   subject.ClassName,
		Day:         day,
		Ratings:     req.Ratings,
		Reflection:  req.Reflection,
		ReviewState: models.ReviewUnread,
	}
	if req.Consultation != "" {
		entry.Consultation = strPtr(req.Consultation)
	}
	id, err := s.entries.Insert(ctx, entry, submitLog(models.ActionSubmit, subject.ID, day))
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, err
		}
		return nil, appErrors.Store(err, "failed to store entry")
	}
	entry.ID = id
	return entry, nil
}

// resubmit replaces content and clears review metadata, but only while the
// row is still unread at write time.
func (s *SubmissionService) resubmit(ctx context.Context, existing *models.Entry, req models.SubmitRequest) (*models.Entry, error) {
	ratings := req.Ratings
	reflection := req.Reflection
	consultation := req.Consultation
	empty := ""
	cleared := false
	upd := models.EntryUpdate{
		Ratings:        &ratings,
		Reflection:     &reflection,
		Consultation:   &consultation,
		TeacherComment: &empty,
		Acknowledged:   &cleared,
		Reviewer:       &empty,
		RequireUnread:  true,
	}
	log := submitLog(models.ActionResubmit, existing.StudentID, existing.Day)
	log.TargetID = strPtr(existing.ID)
	ok, err := s.entries.Update(ctx, existing.ID, upd, log)
	if err != nil {
		return nil, storeError(err, "failed to update entry")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrLockedByReview, "entry was already read by a teacher")
	}

	entry := *existing
	entry.Ratings = ratings
	entry.Reflection = reflection
	entry.Consultation = nil
	if consultation != "" {
		entry.Consultation = &consultation
	}
	entry.TeacherComment = nil
	entry.Acknowledged = false
	entry.ReviewedBy = nil
	entry.ReviewedAt = nil
	entry.UpdatedAt = time.Now().UTC()
	return &entry, nil
}

// submitLog describes a student's own write; it is stored with the entry.
func submitLog(action, studentID string, day schoolday.Day) *models.ActionLog {
	return &models.ActionLog{
		ActorID:   studentID,
		ActorRole: models.RoleStudent,
		Action:    action,
		Detail:    strPtr(day.String()),
	}
}

func (s *SubmissionService) commit(ctx context.Context, outcome models.SubmitOutcome, entry *models.Entry) (*models.SubmitResult, error) {
	if s.listener != nil {
		s.listener.EntryChanged(ctx, entry.Group())
	}
	s.logger.Info("journal entry stored",
		zap.String("outcome", string(outcome)),
		zap.String("student_id", entry.StudentID),
		zap.String("day", entry.Day.String()))
	return &models.SubmitResult{Outcome: outcome, Entry: entry}, nil
}

// StudentEntry returns the student's entry for the open day, nil when not yet submitted.
func (s *SubmissionService) StudentEntry(ctx context.Context, studentID string) (*models.Entry, error) {
	entry, err := s.entries.FindByKey(ctx, studentID, s.OpenDay())
	if err != nil {
		return nil, appErrors.Store(err, "failed to load entry")
	}
	return entry, nil
}

// History lists a student's own entries, newest first.
func (s *SubmissionService) History(ctx context.Context, studentID string) ([]models.Entry, error) {
	entries, err := s.entries.ListBySubject(ctx, studentID)
	if err != nil {
		return nil, appErrors.Store(err, "failed to list entries")
	}
	return entries, nil
}
