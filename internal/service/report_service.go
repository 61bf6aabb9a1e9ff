package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/journal-api/internal/models"
	"github.com/noah-isme/journal-api/internal/repository"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
	"github.com/noah-isme/journal-api/pkg/export"
	"github.com/noah-isme/journal-api/pkg/jobs"
	"github.com/noah-isme/journal-api/pkg/schoolday"
	"github.com/noah-isme/journal-api/pkg/storage"
)

// SystemActor is recorded as creator of scheduled jobs.
const SystemActor = "system"

type reportJobStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, upd repository.ReportJobUpdate) error
	ListByStatus(ctx context.Context, limit int, statuses ...models.ReportStatus) ([]models.ReportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type downloadSigner interface {
	Generate(jobID, path string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (storage.Grant, error)
}

type exportFiles interface {
	Open(relPath string) (*os.File, error)
	Delete(relPath string) error
	Cleanup(ttl time.Duration) ([]string, error)
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ReportJob) (string, error)
}

// ReportServiceConfig governs request limits, queue recovery and cleanup.
type ReportServiceConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxRangeDays    int
	WeeklyDays      int
	WeeklyFormat    models.ReportFormat
}

// ReportServiceParams groups constructor dependencies.
type ReportServiceParams struct {
	Repo      reportJobStore
	Queue     jobDispatcher
	Files     exportFiles
	Signer    downloadSigner
	Logs      actionLogAppender
	Boundary  *schoolday.Boundary
	Validator *validator.Validate
	Logger    *zap.Logger
	Config    ReportServiceConfig
}

// ReportService orchestrates report job lifecycle management.
type ReportService struct {
	repo     reportJobStore
	queue    jobDispatcher
	files    exportFiles
	signer   downloadSigner
	logs     actionLogAppender
	boundary *schoolday.Boundary
	validate *validator.Validate
	logger   *zap.Logger
	cfg      ReportServiceConfig
	now      func() time.Time
}

// ReportDownload aggregates resolved download data.
type ReportDownload struct {
	File        *os.File
	Filename    string
	ContentType string
	ExpiresAt   time.Time
}

// NewReportService constructs the report service.
func NewReportService(params ReportServiceParams) *ReportService {
	cfg := params.Config
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = 92
	}
	if cfg.WeeklyDays <= 0 {
		cfg.WeeklyDays = 7
	}
	if cfg.WeeklyFormat == "" {
		cfg.WeeklyFormat = models.ReportFormatPDF
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	boundary := params.Boundary
	if boundary == nil {
		boundary = schoolday.NewBoundary()
	}
	return &ReportService{
		repo:     params.Repo,
		queue:    params.Queue,
		files:    params.Files,
		signer:   params.Signer,
		logs:     params.Logs,
		boundary: boundary,
		validate: validate,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateJob validates the request, persists the job and enqueues it.
// Teachers may only export their own group; an empty group means theirs.
func (s *ReportService) CreateJob(ctx context.Context, req models.ReportRequest, actor *models.JWTClaims) (*models.ReportStatusResponse, error) {
	if actor == nil || (actor.Role != models.RoleTeacher && actor.Role != models.RoleAdmin) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff can request reports")
	}
	req.ClassName = strings.TrimSpace(req.ClassName)
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	group := models.Group{Grade: req.Grade, ClassName: req.ClassName}
	if group.IsZero() && actor.Role == models.RoleTeacher {
		group = actor.Group()
	}
	if !CanAccess(actor, group) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "group is outside your class")
	}

	rng, err := s.resolveRange(req.From, req.To)
	if err != nil {
		return nil, err
	}
	format, err := export.ParseFormat(string(req.Format))
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	job := &models.ReportJob{
		Type: req.Type,
		Params: models.ReportJobParams{
			From:      rng.From,
			To:        rng.To,
			Grade:     group.Grade,
			ClassName: group.ClassName,
			Format:    models.ReportFormat(format),
		},
		Status:    models.ReportStatusQueued,
		CreatedBy: actor.UserID,
	}
	if err := s.submit(ctx, job); err != nil {
		return nil, err
	}

	detail := fmt.Sprintf("%s %s %s..%s %s", job.Type, job.Params.Format, rng.From, rng.To, group)
	// Job is already queued; a lost audit row should not fail the request.
	_ = appendLog(ctx, s.logs, s.logger, models.ActionLog{
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		Action:    models.ActionReportQueue,
		TargetID:  strPtr(job.ID),
		Detail:    strPtr(detail),
	})
	return &models.ReportStatusResponse{ID: job.ID, Type: job.Type, Status: job.Status, Progress: job.Progress}, nil
}

func (s *ReportService) resolveRange(from, to schoolday.Day) (schoolday.DayRange, error) {
	if to.IsZero() {
		to = s.boundary.Today()
	}
	if from.IsZero() {
		from = to
	}
	rng := schoolday.DayRange{From: from, To: to}
	if !rng.Valid() {
		return rng, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}
	if rng.Len() > s.cfg.MaxRangeDays {
		return rng, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("range exceeds %d days", s.cfg.MaxRangeDays))
	}
	return rng, nil
}

func (s *ReportService) submit(ctx context.Context, job *models.ReportJob) error {
	if err := s.repo.Create(ctx, job); err != nil {
		return appErrors.Store(err, "failed to create report job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		status := models.ReportStatusFailed
		msg := "failed to enqueue job"
		now := s.now().UTC()
		progress := 100
		_ = s.repo.Update(ctx, job.ID, repository.ReportJobUpdate{
			Status:       &status,
			Progress:     &progress,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}
	return nil
}

// GetStatus exposes job metadata. Teachers see only their own jobs. A
// finished job gets a freshly signed download link.
func (s *ReportService) GetStatus(ctx context.Context, id string, actor *models.JWTClaims) (*models.ReportStatusResponse, error) {
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case actor == nil:
		return nil, appErrors.ErrForbidden
	case actor.Role == models.RoleAdmin:
	case actor.Role == models.RoleTeacher && job.CreatedBy == actor.UserID:
	default:
		return nil, appErrors.ErrForbidden
	}

	resp := &models.ReportStatusResponse{
		ID:       job.ID,
		Type:     job.Type,
		Status:   job.Status,
		Progress: job.Progress,
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	if job.Status == models.ReportStatusFinished && job.ResultPath != nil {
		token, expiresAt, err := s.signer.Generate(job.ID, *job.ResultPath)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download")
		}
		url := fmt.Sprintf("%s/export/%s", strings.TrimRight(s.cfg.APIPrefix, "/"), token)
		resp.DownloadURL = &url
		resp.ExpiresAt = &expiresAt
	}
	return resp, nil
}

// ResolveDownload validates token and opens the stored export file.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	grant, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.load(ctx, grant.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ReportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "report not ready")
	}
	if job.ResultPath == nil || *job.ResultPath != grant.Path {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.files.Open(grant.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report file expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ReportDownload{
		File:        file,
		Filename:    filepath.Base(grant.Path),
		ContentType: export.Format(job.Params.Format).ContentType(),
		ExpiresAt:   grant.ExpiresAt,
	}, nil
}

func (s *ReportService) load(ctx context.Context, id string) (*models.ReportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Store(err, "failed to load report job")
	}
	return job, nil
}

// ScheduleWeekly queues a school-wide summary of the days ending on the day
// firedAt falls on. Used as a scheduler task.
func (s *ReportService) ScheduleWeekly(ctx context.Context, firedAt time.Time) error {
	end := schoolday.DayOf(firedAt, s.boundary.Location())
	rng := schoolday.TrailingDays(end, s.cfg.WeeklyDays)
	job := &models.ReportJob{
		Type: models.ReportTypeSummary,
		Params: models.ReportJobParams{
			From:   rng.From,
			To:     rng.To,
			Format: s.cfg.WeeklyFormat,
		},
		Status:    models.ReportStatusQueued,
		CreatedBy: SystemActor,
	}
	if err := s.submit(ctx, job); err != nil {
		return err
	}
	s.logger.Info("weekly summary queued", zap.String("job_id", job.ID), zap.String("from", rng.From.String()), zap.String("to", rng.To.String()))
	return nil
}

// RecoverPendingJobs replays queued and interrupted jobs after a restart.
func (s *ReportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListByStatus(ctx, 50, models.ReportStatusQueued, models.ReportStatusProcessing)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued report jobs", "error", err)
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending job", "job_id", job.ID, "error", err)
		}
	}
	if len(pending) > 0 {
		s.logger.Info("report jobs recovered", zap.Int("count", len(pending)))
	}
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ReportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

func (s *ReportService) cleanupExpired(ctx context.Context) {
	const batch = 100
	cutoff := s.now().Add(-s.cfg.ResultTTL)
	for {
		expired, err := s.repo.ListFinishedBefore(ctx, cutoff, batch)
		if err != nil {
			s.logger.Sugar().Warnw("cleanup list failed", "error", err)
			return
		}
		for _, job := range expired {
			if job.ResultPath == nil {
				continue
			}
			if err := s.files.Delete(*job.ResultPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.Sugar().Warnw("cleanup delete failed", "job_id", job.ID, "error", err)
			}
			cleared := ""
			if err := s.repo.Update(ctx, job.ID, repository.ReportJobUpdate{ResultPath: &cleared}); err != nil {
				s.logger.Sugar().Warnw("cleanup update failed", "job_id", job.ID, "error", err)
				return
			}
		}
		if len(expired) < batch {
			break
		}
	}
	if _, err := s.files.Cleanup(s.cfg.ResultTTL); err != nil {
		s.logger.Sugar().Warnw("filesystem cleanup failed", "error", err)
	}
}

// ReportWorker bridges queue jobs to ExportService.
type ReportWorker struct {
	repo       reportJobStore
	exporter   exportGenerator
	metrics    *MetricsService
	logger     *zap.Logger
	maxRetries int
	now        func() time.Time
}

// NewReportWorker constructs a worker. maxRetries matches the queue's retry budget.
func NewReportWorker(repo reportJobStore, exporter exportGenerator, metrics *MetricsService, maxRetries int, logger *zap.Logger) *ReportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &ReportWorker{
		repo:       repo,
		exporter:   exporter,
		metrics:    metrics,
		logger:     logger,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// Handle processes a queue job.
func (w *ReportWorker) Handle(ctx context.Context, job jobs.Job) error {
	start := w.now()
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			w.logger.Warn("report job vanished", zap.String("job_id", job.ID))
			return nil
		}
		return err
	}
	processing := models.ReportStatusProcessing
	progress := 10
	if err := w.repo.Update(ctx, job.ID, repository.ReportJobUpdate{
		Status:   &processing,
		Progress: &progress,
	}); err != nil {
		return err
	}

	relPath, err := w.exporter.Generate(ctx, record)
	if err != nil {
		msg := err.Error()
		if job.Attempt >= w.maxRetries {
			failed := models.ReportStatusFailed
			progress = 100
			now := w.now().UTC()
			if updateErr := w.repo.Update(ctx, job.ID, repository.ReportJobUpdate{
				Status:       &failed,
				Progress:     &progress,
				ErrorMessage: &msg,
				FinishedAt:   &now,
			}); updateErr != nil {
				w.logger.Sugar().Warnw("failed to mark job failed", "job_id", job.ID, "error", updateErr)
			}
			w.metrics.ObserveReportJob(string(record.Type), models.ReportStatusFailed, w.now().Sub(start))
		} else {
			queued := models.ReportStatusQueued
			reset := 0
			if updateErr := w.repo.Update(ctx, job.ID, repository.ReportJobUpdate{
				Status:       &queued,
				Progress:     &reset,
				ErrorMessage: &msg,
			}); updateErr != nil {
				w.logger.Sugar().Warnw("failed to mark job queued", "job_id", job.ID, "error", updateErr)
			}
		}
		return err
	}

	finished := models.ReportStatusFinished
	progress = 100
	now := w.now().UTC()
	clear := ""
	if err := w.repo.Update(ctx, job.ID, repository.ReportJobUpdate{
		Status:       &finished,
		Progress:     &progress,
		ResultPath:   &relPath,
		ErrorMessage: &clear,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark job finished", "job_id", job.ID, "error", err)
		return err
	}
	w.metrics.ObserveReportJob(string(record.Type), models.ReportStatusFinished, w.now().Sub(start))
	w.logger.Info("report job finished", zap.String("job_id", job.ID), zap.String("type", string(record.Type)))
	return nil
}
