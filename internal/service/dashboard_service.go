package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/journal-api/internal/dto"
	"github.com/noah-isme/journal-api/internal/models"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
	"github.com/noah-isme/journal-api/pkg/schoolday"
)

type journalReader interface {
	OpenDay() schoolday.Day
	History(ctx context.Context, studentID string) ([]models.Entry, error)
}

type statsProvider interface {
	Summarize(ctx context.Context, group models.Group, rng schoolday.DayRange) (*models.Stats, error)
	Unsubmitted(ctx context.Context, group models.Group, day schoolday.Day) ([]models.User, error)
}

type groupEntryLister interface {
	ListByGroup(ctx context.Context, group models.Group, rng schoolday.DayRange) ([]models.Entry, error)
}

type actionLogLister interface {
	List(ctx context.Context, filter models.ActionLogFilter) ([]models.ActionLog, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	ChartPoints    int
	AdminRangeDays int
	AdminLogsLimit int
}

// DashboardService composes the per-role home screens.
type DashboardService struct {
	journal  journalReader
	stats    statsProvider
	entries  groupEntryLister
	logs     actionLogLister
	metrics  *MetricsService
	boundary *schoolday.Boundary
	logger   *zap.Logger
	cfg      DashboardServiceConfig
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Journal  journalReader
	Stats    statsProvider
	Entries  groupEntryLister
	Logs     actionLogLister
	Metrics  *MetricsService
	Boundary *schoolday.Boundary
	Logger   *zap.Logger
	Config   DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	cfg := params.Config
	if cfg.ChartPoints <= 0 {
		cfg.ChartPoints = 10
	}
	if cfg.AdminRangeDays <= 0 {
		cfg.AdminRangeDays = 30
	}
	if cfg.AdminLogsLimit <= 0 {
		cfg.AdminLogsLimit = 100
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	boundary := params.Boundary
	if boundary == nil {
		boundary = schoolday.NewBoundary()
	}
	return &DashboardService{
		journal:  params.Journal,
		stats:    params.Stats,
		entries:  params.Entries,
		logs:     params.Logs,
		metrics:  params.Metrics,
		boundary: boundary,
		logger:   logger,
		cfg:      cfg,
	}
}

// Student returns the student's history, chart and whether today's entry is still editable.
func (s *DashboardService) Student(ctx context.Context, studentID string) (*dto.StudentDashboardResponse, error) {
	history, err := s.journal.History(ctx, studentID)
	if err != nil {
		return nil, err
	}
	open := s.journal.OpenDay()
	resp := &dto.StudentDashboardResponse{
		Today:     s.boundary.Today(),
		OpenDay:   open,
		CanSubmit: true,
		History:   history,
	}
	for i := range history {
		if history[i].Day.Equal(open) {
			entry := history[i]
			resp.Entry = &entry
			resp.CanSubmit = !entry.IsRead()
			break
		}
	}

	n := len(history)
	if n > s.cfg.ChartPoints {
		n = s.cfg.ChartPoints
	}
	resp.Chart = make([]dto.ChartPoint, 0, n)
	for i := n - 1; i >= 0; i-- {
		resp.Chart = append(resp.Chart, dto.ChartPoint{Day: history[i].Day, Condition: history[i].Condition, Mental: history[i].Mental})
	}
	return resp, nil
}

// Teacher returns one group's entries, missing students and stats for day.
// Teachers see their own group; admins pass any group. A zero day means today.
func (s *DashboardService) Teacher(ctx context.Context, actor *models.JWTClaims, group *models.Group, day schoolday.Day) (*dto.TeacherDashboardResponse, error) {
	target := actor.Group()
	if group != nil {
		target = *group
	}
	if !CanAccess(actor, target) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "group is outside your class")
	}
	if day.IsZero() {
		day = s.boundary.Today()
	}

	entries, err := s.entries.ListByGroup(ctx, target, schoolday.SingleDay(day))
	if err != nil {
		return nil, appErrors.Store(err, "failed to list entries")
	}
	missing, err := s.stats.Unsubmitted(ctx, target, day)
	if err != nil {
		return nil, err
	}
	stats, err := s.stats.Summarize(ctx, target, schoolday.SingleDay(day))
	if err != nil {
		return nil, err
	}

	unsubmitted := make([]models.UserInfo, 0, len(missing))
	for i := range missing {
		unsubmitted = append(unsubmitted, userInfo(&missing[i]))
	}
	return &dto.TeacherDashboardResponse{
		Group:       target,
		Day:         day,
		Entries:     entries,
		Unsubmitted: unsubmitted,
		Stats:       stats,
	}, nil
}

// Admin returns school-wide stats over the trailing window plus recent logs.
func (s *DashboardService) Admin(ctx context.Context, days int) (*dto.AdminDashboardResponse, error) {
	if days <= 0 {
		days = s.cfg.AdminRangeDays
	}
	stats, err := s.stats.Summarize(ctx, models.Group{}, schoolday.TrailingDays(s.boundary.Today(), days))
	if err != nil {
		return nil, err
	}
	logs, err := s.logs.List(ctx, models.ActionLogFilter{Limit: s.cfg.AdminLogsLimit})
	if err != nil {
		return nil, appErrors.Store(err, "failed to list logs")
	}
	return &dto.AdminDashboardResponse{
		Stats:  stats,
		Logs:   logs,
		System: s.metrics.Snapshot(),
	}, nil
}
