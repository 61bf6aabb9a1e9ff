package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/journal-api/internal/models"
	"github.com/noah-isme/journal-api/pkg/export"
	"github.com/noah-isme/journal-api/pkg/schoolday"
)

type reportEntryReader interface {
	ListByGroup(ctx context.Context, group models.Group, rng schoolday.DayRange) ([]models.Entry, error)
}

type summaryProvider interface {
	Summarize(ctx context.Context, group models.Group, rng schoolday.DayRange) (*models.Stats, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	ResultTTL time.Duration
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	entries reportEntryReader
	stats   summaryProvider
	storage fileStorage
	logger  *zap.Logger
	cfg     ExportConfig
	now     func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(entries reportEntryReader, stats summaryProvider, storage fileStorage, logger *zap.Logger, cfg ExportConfig) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		entries: entries,
		stats:   stats,
		storage: storage,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Generate renders the job's dataset and stores it. The returned path is
// relative to the storage root.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (string, error) {
	if job == nil {
		return "", fmt.Errorf("job nil")
	}
	format, err := export.ParseFormat(string(job.Params.Format))
	if err != nil {
		return "", err
	}
	dataset, err := s.buildDataset(ctx, job)
	if err != nil {
		return "", err
	}
	payload, err := export.RendererFor(format).Render(dataset)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", format, err)
	}
	relPath, err := s.storage.Save(s.buildFilename(job, format), payload)
	if err != nil {
		return "", err
	}
	s.logger.Debug("report rendered",
		zap.String("job_id", job.ID),
		zap.String("path", relPath),
		zap.Int("bytes", len(payload)))
	return relPath, nil
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob, format export.Format) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_%s_%s_%s_%s.%s",
		job.Type,
		sanitizeFilename(job.Params.Group().String()),
		job.Params.From,
		job.Params.To,
		timestamp,
		format.Extension())
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, error) {
	switch job.Type {
	case models.ReportTypeEntries:
		return s.buildEntriesDataset(ctx, job.Params)
	case models.ReportTypeSummary:
		return s.buildSummaryDataset(ctx, job.Params)
	default:
		return export.Dataset{}, fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildEntriesDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	entries, err := s.entries.ListByGroup(ctx, params.Group(), params.Range())
	if err != nil {
		return export.Dataset{}, err
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Day.String(),
			e.StudentID,
			e.StudentName,
			e.Group().String(),
			formatRating(e.Condition),
			formatRating(e.Mental),
			e.Reflection,
			deref(e.Consultation),
			string(e.ReviewState),
			deref(e.TeacherComment),
		})
	}
	return export.Dataset{
		Title:   fmt.Sprintf("Journal Entries %s", params.Group()),
		Summary: []string{fmt.Sprintf("Period: %s to %s", params.From, params.To), fmt.Sprintf("Entries: %d", len(entries))},
		Headers: []string{"Day", "Student ID", "Name", "Class", "Condition", "Mental", "Reflection", "Consultation", "Review", "Comment"},
		Rows:    rows,
	}, nil
}

func (s *ExportService) buildSummaryDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	stats, err := s.stats.Summarize(ctx, params.Group(), params.Range())
	if err != nil {
		return export.Dataset{}, err
	}
	rows := make([][]string, 0, len(stats.Daily))
	for _, d := range stats.Daily {
		rows = append(rows, []string{d.Day.String(), d.Day.Weekday().String()[:3], strconv.Itoa(d.Count)})
	}
	return export.Dataset{
		Title: fmt.Sprintf("Journal Summary %s", params.Group()),
		Summary: []string{
			fmt.Sprintf("Period: %s to %s", params.From, params.To),
			fmt.Sprintf("Entries: %d (read %d, unread %d)", stats.TotalRecords, stats.ReadCount, stats.UnreadCount),
			fmt.Sprintf("Average condition: %.2f", stats.Averages.Condition),
			fmt.Sprintf("Average mental: %.2f", stats.Averages.Mental),
			fmt.Sprintf("Submitted on %s: %d of %d (%d%%)", stats.Day, stats.SubmittedSubjects, stats.GroupSize, stats.SubmissionPercent),
		},
		Headers: []string{"Day", "Weekday", "Entries"},
		Rows:    rows,
	}, nil
}

func formatRating(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
