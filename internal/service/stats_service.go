package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/journal-api/internal/models"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
	"github.com/noah-isme/journal-api/pkg/schoolday"
)

type statsEntryReader interface {
	ListByGroup(ctx context.Context, group models.Group, rng schoolday.DayRange) ([]models.Entry, error)
	DailyCounts(ctx context.Context, group models.Group, rng schoolday.DayRange) ([]models.DailyCount, error)
}

type rosterReader interface {
	ListStudents(ctx context.Context, group models.Group) ([]models.User, error)
}

// StatsConfig tunes aggregation.
type StatsConfig struct {
	RatingMin int
	RatingMax int
	CacheTTL  time.Duration
	// MaxRangeDays bounds a single summary request.
	MaxRangeDays int
}

// StatsService aggregates journal entries per group and day range.
type StatsService struct {
	entries statsEntryReader
	roster  rosterReader
	cache   *CacheService
	logger  *zap.Logger
	cfg     StatsConfig
}

// NewStatsService constructs the aggregator.
func NewStatsService(entries statsEntryReader, roster rosterReader, cache *CacheService, logger *zap.Logger, cfg StatsConfig) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RatingMin == 0 && cfg.RatingMax == 0 {
		cfg.RatingMin, cfg.RatingMax = DefaultRatingMin, DefaultRatingMax
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = 366
	}
	return &StatsService{entries: entries, roster: roster, cache: cache, logger: logger, cfg: cfg}
}

func statsCacheKey(group models.Group, rng schoolday.DayRange) string {
	return fmt.Sprintf("stats:%s:%s:%s", group, rng.From, rng.To)
}

// Summarize returns counts, rating averages and the submission rate for the
// last day of rng. A zero group covers the whole school.
func (s *StatsService) Summarize(ctx context.Context, group models.Group, rng schoolday.DayRange) (*models.Stats, error) {
	if err := s.checkRange(rng); err != nil {
		return nil, err
	}

	key := statsCacheKey(group, rng)
	var cached models.Stats
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	entries, err := s.entries.ListByGroup(ctx, group, rng)
	if err != nil {
		return nil, appErrors.Store(err, "failed to load entries")
	}
	students, err := s.roster.ListStudents(ctx, group)
	if err != nil {
		return nil, appErrors.Store(err, "failed to load students")
	}

	stats := Aggregate(group, rng, entries, students, s.cfg.RatingMin, s.cfg.RatingMax)
	_ = s.cache.Set(ctx, key, stats, s.cfg.CacheTTL)
	return stats, nil
}

// Aggregate computes Stats from already loaded rows.
func Aggregate(group models.Group, rng schoolday.DayRange, entries []models.Entry, students []models.User, ratingMin, ratingMax int) *models.Stats {
	stats := &models.Stats{
		Group:     group,
		Range:     rng,
		Day:       rng.To,
		GroupSize: len(students),
	}

	perDay := make(map[schoolday.Day]int)
	submittedOnDay := make(map[string]struct{})
	var conditionSum, mentalSum int
	inBounds := func(v *int) bool { return v != nil && *v >= ratingMin && *v <= ratingMax }

	for _, entry := range entries {
		stats.TotalRecords++
		if entry.IsRead() {
			stats.ReadCount++
		} else {
			stats.UnreadCount++
		}
		if inBounds(entry.Condition) && inBounds(entry.Mental) {
			stats.RatedRecords++
			conditionSum += *entry.Condition
			mentalSum += *entry.Mental
		}
		perDay[entry.Day]++
		if entry.Day.Equal(rng.To) {
			submittedOnDay[entry.StudentID] = struct{}{}
		}
	}

	if stats.RatedRecords > 0 {
		stats.Averages = models.Averages{
			Condition: round2(float64(conditionSum) / float64(stats.RatedRecords)),
			Mental:    round2(float64(mentalSum) / float64(stats.RatedRecords)),
		}
	}

	for _, student := range students {
		if _, ok := submittedOnDay[student.ID]; ok {
			stats.SubmittedSubjects++
		}
	}
	if stats.GroupSize > 0 {
		stats.SubmissionRate = float64(stats.SubmittedSubjects) / float64(stats.GroupSize)
		stats.SubmissionPercent = int(math.Round(stats.SubmissionRate * 100))
	}

	days := rng.Days()
	stats.Daily = make([]models.DailyCount, 0, len(days))
	for _, day := range days {
		stats.Daily = append(stats.Daily, models.DailyCount{Day: day, Count: perDay[day]})
	}
	return stats
}

// Unsubmitted lists group members without an entry on day, in roster order.
func (s *StatsService) Unsubmitted(ctx context.Context, group models.Group, day schoolday.Day) ([]models.User, error) {
	students, err := s.roster.ListStudents(ctx, group)
	if err != nil {
		return nil, appErrors.Store(err, "failed to load students")
	}
	entries, err := s.entries.ListByGroup(ctx, group, schoolday.SingleDay(day))
	if err != nil {
		return nil, appErrors.Store(err, "failed to load entries")
	}
	submitted := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		submitted[entry.StudentID] = struct{}{}
	}
	missing := make([]models.User, 0)
	for _, student := range students {
		if _, ok := submitted[student.ID]; !ok {
			missing = append(missing, student)
		}
	}
	return missing, nil
}

// Trend returns one count per day of rng, oldest first, zero-filled.
func (s *StatsService) Trend(ctx context.Context, group models.Group, rng schoolday.DayRange) ([]models.DailyCount, error) {
	if err := s.checkRange(rng); err != nil {
		return nil, err
	}
	counts, err := s.entries.DailyCounts(ctx, group, rng)
	if err != nil {
		return nil, appErrors.Store(err, "failed to count entries")
	}
	byDay := make(map[schoolday.Day]int, len(counts))
	for _, c := range counts {
		byDay[c.Day] = c.Count
	}
	days := rng.Days()
	trend := make([]models.DailyCount, 0, len(days))
	for _, day := range days {
		trend = append(trend, models.DailyCount{Day: day, Count: byDay[day]})
	}
	return trend, nil
}

// EntryChanged drops every cached summary whose group covers group: the
// class itself, its grade, any grade with the same class name, and the whole
// school. A zero group drops everything.
func (s *StatsService) EntryChanged(ctx context.Context, group models.Group) {
	if group.IsZero() {
		s.invalidate(ctx, "stats:*")
		return
	}
	s.invalidate(ctx,
		"stats:"+group.String()+":*",
		"stats:"+models.Group{Grade: group.Grade}.String()+":*",
		"stats:"+models.Group{ClassName: group.ClassName}.String()+":*",
		"stats:"+models.Group{}.String()+":*",
	)
}

// RosterChanged drops every cached summary, since student counts feed the
// submission rate of every group.
func (s *StatsService) RosterChanged(ctx context.Context) {
	s.invalidate(ctx, "stats:*")
}

func (s *StatsService) invalidate(ctx context.Context, patterns ...string) {
	for _, pattern := range patterns {
		if err := s.cache.Invalidate(ctx, pattern); err != nil {
			s.logger.Warn("stats cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
		}
	}
}

func (s *StatsService) checkRange(rng schoolday.DayRange) error {
	if !rng.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}
	if n := rng.Len(); n > s.cfg.MaxRangeDays {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("range spans %d days, at most %d allowed", n, s.cfg.MaxRangeDays))
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
