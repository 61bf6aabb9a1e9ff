package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/journal-api/internal/models"
	"github.com/noah-isme/journal-api/pkg/schoolday"
)

var reportCols = []string{"id", "type", "params", "status", "progress", "result_path", "created_by", "created_at", "finished_at", "error_message"}

func TestReportRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO report_jobs")).
		WithArgs(sqlmock.AnyArg(), "summary", sqlmock.AnyArg(), "QUEUED", 0, nil, "t1", sqlmock.AnyArg(), nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	job := &models.ReportJob{
		Type: models.ReportTypeSummary,
		Params: models.ReportJobParams{
			From: schoolday.MustParse("2025-04-07"), To: schoolday.MustParse("2025-04-11"),
			Grade: 2, ClassName: "A", Format: models.ReportFormatPDF,
		},
		CreatedBy: "t1",
	}
	require.NoError(t, repo.Create(context.Background(), job))

	rows := sqlmock.NewRows(reportCols).
		AddRow(job.ID, "summary", `{"from":"2025-04-07","to":"2025-04-11","grade":2,"class_name":"A","format":"pdf"}`, "QUEUED", 0, nil, "t1", time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM report_jobs WHERE id = $1")).
		WithArgs(job.ID).
		WillReturnRows(rows)

	fetched, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Params, fetched.Params)
	assert.Equal(t, models.Group{Grade: 2, ClassName: "A"}, fetched.Params.Group())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryUpdate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	now := time.Now()
	status := models.ReportStatusFinished
	progress := 100
	path := "2025/04/job-1.pdf"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE report_jobs SET status = $1, progress = $2, result_path = $3, finished_at = $4 WHERE id = $5")).
		WithArgs("FINISHED", progress, path, now, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), "job-1", ReportJobUpdate{
		Status:     &status,
		Progress:   &progress,
		ResultPath: &path,
		FinishedAt: &now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryListByStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	rows := sqlmock.NewRows(reportCols).
		AddRow("job-1", "entries", `{"from":"2025-04-10","to":"2025-04-10","format":"csv"}`, "QUEUED", 0, nil, "a1", time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM report_jobs WHERE status IN ($1, $2) ORDER BY created_at ASC LIMIT $3")).
		WithArgs("QUEUED", "PROCESSING", 20).
		WillReturnRows(rows)

	jobs, err := repo.ListByStatus(context.Background(), 0, models.ReportStatusQueued, models.ReportStatusProcessing)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].Params.Group().IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryListFinishedBefore(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	rows := sqlmock.NewRows(reportCols).
		AddRow("job-1", "summary", `{"format":"pdf"}`, "FINISHED", 100, "job-1.pdf", "t1", time.Now().Add(-48*time.Hour), time.Now().Add(-25*time.Hour), nil)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'FINISHED' AND result_path IS NOT NULL AND finished_at < $1 ORDER BY finished_at ASC LIMIT $2")).
		WithArgs(sqlmock.AnyArg(), 50).
		WillReturnRows(rows)

	jobs, err := repo.ListFinishedBefore(context.Background(), time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1.pdf", *jobs[0].ResultPath)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryGetMalformedID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	_, err := repo.GetByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
