package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/journal-api/internal/models"
)

const reportColumns = `id, type, params, status, progress, result_path, created_by, created_at, finished_at, error_message`

// ReportRepository persists report job metadata.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a new job row, defaulting id, status and timestamp.
func (r *ReportRepository) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ReportStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO report_jobs (id, type, params, status, progress, result_path, created_by, created_at, finished_at, error_message)
VALUES (:id, :type, :params, :status, :progress, :result_path, :created_by, :created_at, :finished_at, :error_message)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create report job: %w", err)
	}
	return nil
}

// GetByID returns a job row; sql.ErrNoRows when absent or when id is not a UUID.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, sql.ErrNoRows
	}
	var job models.ReportJob
	if err := r.db.GetContext(ctx, &job, `SELECT `+reportColumns+` FROM report_jobs WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get report job: %w", err)
	}
	return &job, nil
}

// ReportJobUpdate lists the mutable job fields; nil means unchanged. An
// empty ResultPath clears the stored path.
type ReportJobUpdate struct {
	Status       *models.ReportStatus
	Progress     *int
	ResultPath   *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update persists the provided changes for a job row.
func (r *ReportRepository) Update(ctx context.Context, id string, upd ReportJobUpdate) error {
	b := &binder{}
	var set []string
	if upd.Status != nil {
		set = append(set, "status = "+b.bind(string(*upd.Status)))
	}
	if upd.Progress != nil {
		set = append(set, "progress = "+b.bind(*upd.Progress))
	}
	if upd.ResultPath != nil {
		set = append(set, "result_path = "+b.bind(nullIfEmpty(*upd.ResultPath)))
	}
	if upd.ErrorMessage != nil {
		set = append(set, "error_message = "+b.bind(*upd.ErrorMessage))
	}
	if upd.FinishedAt != nil {
		set = append(set, "finished_at = "+b.bind(*upd.FinishedAt))
	}
	if len(set) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE report_jobs SET %s WHERE id = %s", strings.Join(set, ", "), b.bind(id))
	if _, err := r.db.ExecContext(ctx, query, b.args...); err != nil {
		return fmt.Errorf("update report job: %w", err)
	}
	return nil
}

// ListByStatus returns the oldest jobs in any of statuses, used to resume
// work after a restart.
func (r *ReportRepository) ListByStatus(ctx context.Context, limit int, statuses ...models.ReportStatus) ([]models.ReportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	b := &binder{}
	ph := make([]string, len(statuses))
	for i, s := range statuses {
		ph[i] = b.bind(string(s))
	}
	query := fmt.Sprintf("SELECT %s FROM report_jobs WHERE status IN (%s) ORDER BY created_at ASC LIMIT %s",
		reportColumns, strings.Join(ph, ", "), b.bind(limit))
	jobs := make([]models.ReportJob, 0)
	if err := r.db.SelectContext(ctx, &jobs, query, b.args...); err != nil {
		return nil, fmt.Errorf("list report jobs by status: %w", err)
	}
	return jobs, nil
}

// ListFinishedBefore retrieves finished jobs that still hold a file and
// completed before cutoff.
func (r *ReportRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + reportColumns + ` FROM report_jobs
WHERE status = 'FINISHED' AND result_path IS NOT NULL AND finished_at < $1 ORDER BY finished_at ASC LIMIT $2`
	jobs := make([]models.ReportJob, 0)
	if err := r.db.SelectContext(ctx, &jobs, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list finished report jobs: %w", err)
	}
	return jobs, nil
}
