package service

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/journal-api/internal/models"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
	"github.com/noah-isme/journal-api/pkg/schoolday"
)

// memCache stores JSON payloads keyed like redis.
type memCache struct {
	mu       sync.Mutex
	items    map[string][]byte
	gets     int
	patterns []string
}

func newMemCache() *memCache { return &memCache{items: map[string][]byte{}} }

func (m *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	raw, ok := m.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = raw
	return nil
}

func (m *memCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append(m.patterns, pattern)
	removed := 0
	for key := range m.items {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.items, key)
			removed++
		}
	}
	return removed, nil
}

func seedStatsEntries(t *testing.T, entries *memEntries) {
	t.Helper()
	ctx := context.Background()
	rows := []models.Entry{
		{StudentID: "s1", Grade: 2, ClassName: "A", Day: schoolday.MustParse("2025-04-10"), Ratings: ratings(3, 4)},
		{StudentID: "s2", Grade: 2, ClassName: "A", Day: schoolday.MustParse("2025-04-10"), Ratings: ratings(5, 2)},
		{StudentID: "s1", Grade: 2, ClassName: "A", Day: schoolday.MustParse("2025-04-09"), Ratings: models.Ratings{Condition: intPtr(1)}},
		{StudentID: "s9", Grade: 3, ClassName: "B", Day: schoolday.MustParse("2025-04-10"), Ratings: ratings(1, 1)},
	}
	for i := range rows {
		id, err := entries.Insert(ctx, &rows[i], nil)
		require.NoError(t, err)
		if i == 1 {
			read := models.ReviewRead
			_, err = entries.Update(ctx, id, models.EntryUpdate{ReviewState: &read}, nil)
			require.NoError(t, err)
		}
	}
}

func statsRoster() *memUsers {
	return newMemUsers(
		models.User{ID: "s1", Role: models.RoleStudent, Grade: 2, ClassName: "A"},
		models.User{ID: "s2", Role: models.RoleStudent, Grade: 2, ClassName: "A"},
		models.User{ID: "s3", Role: models.RoleStudent, Grade: 2, ClassName: "A"},
		models.User{ID: "s9", Role: models.RoleStudent, Grade: 3, ClassName: "B"},
		models.User{ID: "t1", Role: models.RoleTeacher, Grade: 2, ClassName: "A"},
	)
}

func TestSummarizeGroup(t *testing.T) {
	entries := newMemEntries()
	seedStatsEntries(t, entries)
	svc := NewStatsService(entries, statsRoster(), nil, zap.NewNop(), StatsConfig{})

	rng := schoolday.TrailingDays(schoolday.MustParse("2025-04-10"), 2)
	stats, err := svc.Summarize(context.Background(), models.Group{Grade: 2, ClassName: "A"}, rng)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalRecords)
	assert.Equal(t, 1, stats.ReadCount)
	assert.Equal(t, 2, stats.UnreadCount)
	assert.Equal(t, 2, stats.RatedRecords)
	assert.Equal(t, 4.0, stats.Averages.Condition)
	assert.Equal(t, 3.0, stats.Averages.Mental)
	assert.Equal(t, 3, stats.GroupSize)
	assert.Equal(t, 2, stats.SubmittedSubjects)
	assert.InDelta(t, 0.6667, stats.SubmissionRate, 0.001)
	assert.Equal(t, 67, stats.SubmissionPercent)
	assert.Equal(t, []models.DailyCount{
		{Day: schoolday.MustParse("2025-04-09"), Count: 1},
		{Day: schoolday.MustParse("2025-04-10"), Count: 2},
	}, stats.Daily)
}

func TestSummarizeWholeSchool(t *testing.T) {
	entries := newMemEntries()
	seedStatsEntries(t, entries)
	svc := NewStatsService(entries, statsRoster(), nil, nil, StatsConfig{})

	stats, err := svc.Summarize(context.Background(), models.Group{}, schoolday.SingleDay(schoolday.MustParse("2025-04-10")))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalRecords)
	assert.Equal(t, 4, stats.GroupSize)
	assert.Equal(t, 3, stats.SubmittedSubjects)
	assert.Equal(t, 75, stats.SubmissionPercent)
}

func TestSummarizeEmptyGroupIsZero(t *testing.T) {
	svc := NewStatsService(newMemEntries(), newMemUsers(), nil, nil, StatsConfig{})

	stats, err := svc.Summarize(context.Background(), models.Group{Grade: 1, ClassName: "Z"}, schoolday.SingleDay(schoolday.MustParse("2025-04-10")))
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRecords)
	assert.Zero(t, stats.RatedRecords)
	assert.Equal(t, models.Averages{}, stats.Averages)
	assert.Zero(t, stats.SubmissionRate)
	assert.Zero(t, stats.GroupSize)
	assert.Len(t, stats.Daily, 1)
}

func TestSummarizeIgnoresOutOfBoundsRatings(t *testing.T) {
	stats := Aggregate(models.Group{}, schoolday.SingleDay(schoolday.MustParse("2025-04-10")), []models.Entry{
		{StudentID: "s1", Day: schoolday.MustParse("2025-04-10"), Ratings: ratings(9, 9)},
		{StudentID: "s2", Day: schoolday.MustParse("2025-04-10"), Ratings: ratings(2, 4)},
	}, nil, 1, 5)
	assert.Equal(t, 1, stats.RatedRecords)
	assert.Equal(t, 2.0, stats.Averages.Condition)
	assert.Equal(t, 4.0, stats.Averages.Mental)
}

func TestSummarizeRejectsBadRange(t *testing.T) {
	svc := NewStatsService(newMemEntries(), newMemUsers(), nil, nil, StatsConfig{MaxRangeDays: 7})

	_, err := svc.Summarize(context.Background(), models.Group{}, schoolday.DayRange{From: schoolday.MustParse("2025-04-10"), To: schoolday.MustParse("2025-04-01")})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Summarize(context.Background(), models.Group{}, schoolday.TrailingDays(schoolday.MustParse("2025-04-10"), 8))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestSummarizeUsesCacheUntilEntryChanges(t *testing.T) {
	entries := newMemEntries()
	seedStatsEntries(t, entries)
	cacheRepo := newMemCache()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewStatsService(entries, statsRoster(), cache, nil, StatsConfig{})
	ctx := context.Background()
	group := models.Group{Grade: 2, ClassName: "A"}
	rng := schoolday.SingleDay(schoolday.MustParse("2025-04-10"))

	first, err := svc.Summarize(ctx, group, rng)
	require.NoError(t, err)
	assert.Equal(t, 2, first.TotalRecords)

	_, err = entries.Insert(ctx, &models.Entry{StudentID: "s3", Grade: 2, ClassName: "A", Day: rng.To, Ratings: ratings(3, 3)}, nil)
	require.NoError(t, err)

	cached, err := svc.Summarize(ctx, group, rng)
	require.NoError(t, err)
	assert.Equal(t, 2, cached.TotalRecords)

	svc.EntryChanged(ctx, group)
	assert.Contains(t, cacheRepo.patterns, "stats:2-A:*")
	assert.Contains(t, cacheRepo.patterns, "stats:all:*")

	fresh, err := svc.Summarize(ctx, group, rng)
	require.NoError(t, err)
	assert.Equal(t, 3, fresh.TotalRecords)
}

func TestResetEntriesClearsEveryCachedSummary(t *testing.T) {
	entries := newMemEntries()
	seedStatsEntries(t, entries)
	cache := NewCacheService(newMemCache(), nil, time.Minute, nil, true)
	svc := NewStatsService(entries, statsRoster(), cache, nil, StatsConfig{})
	admin := NewAdminService(entries, entries.logs, svc, nil)
	ctx := context.Background()
	rng := schoolday.SingleDay(schoolday.MustParse("2025-04-10"))
	class := models.Group{Grade: 2, ClassName: "A"}
	classOnly := models.Group{ClassName: "A"}

	for _, g := range []models.Group{class, classOnly} {
		before, err := svc.Summarize(ctx, g, rng)
		require.NoError(t, err)
		assert.Equal(t, 2, before.TotalRecords)
	}

	_, err := admin.ResetEntries(ctx, adminClaims)
	require.NoError(t, err)

	for _, g := range []models.Group{class, classOnly, {}} {
		after, err := svc.Summarize(ctx, g, rng)
		require.NoError(t, err)
		assert.Zero(t, after.TotalRecords, g.String())
	}
}

func TestEntryChangedClearsClassNameSummaries(t *testing.T) {
	entries := newMemEntries()
	seedStatsEntries(t, entries)
	cacheRepo := newMemCache()
	svc := NewStatsService(entries, statsRoster(), NewCacheService(cacheRepo, nil, time.Minute, nil, true), nil, StatsConfig{})
	ctx := context.Background()
	rng := schoolday.SingleDay(schoolday.MustParse("2025-04-10"))
	classOnly := models.Group{ClassName: "A"}

	first, err := svc.Summarize(ctx, classOnly, rng)
	require.NoError(t, err)
	assert.Equal(t, 2, first.TotalRecords)

	_, err = entries.Insert(ctx, &models.Entry{StudentID: "s3", Grade: 2, ClassName: "A", Day: rng.To, Ratings: ratings(3, 3)}, nil)
	require.NoError(t, err)
	svc.EntryChanged(ctx, models.Group{Grade: 2, ClassName: "A"})
	assert.Contains(t, cacheRepo.patterns, "stats:0-A:*")

	fresh, err := svc.Summarize(ctx, classOnly, rng)
	require.NoError(t, err)
	assert.Equal(t, 3, fresh.TotalRecords)
}

func TestRosterChangeClearsCachedGroupSize(t *testing.T) {
	entries := newMemEntries()
	seedStatsEntries(t, entries)
	roster := statsRoster()
	svc := NewStatsService(entries, roster, NewCacheService(newMemCache(), nil, time.Minute, nil, true), nil, StatsConfig{})
	users := NewUserService(roster, svc, nil, nil)
	users.bcryptCost = bcrypt.MinCost
	ctx := context.Background()
	class := models.Group{Grade: 2, ClassName: "A"}
	rng := schoolday.SingleDay(schoolday.MustParse("2025-04-10"))

	before, err := svc.Summarize(ctx, class, rng)
	require.NoError(t, err)
	assert.Equal(t, 3, before.GroupSize)

	_, _, err = users.Upsert(ctx, models.UpsertUserRequest{ID: "s4", Name: "Mio", Role: models.RoleStudent, Grade: 2, ClassName: "A", Password: "pass1"}, adminClaims)
	require.NoError(t, err)

	after, err := svc.Summarize(ctx, class, rng)
	require.NoError(t, err)
	assert.Equal(t, 4, after.GroupSize)
}

func TestUnsubmitted(t *testing.T) {
	entries := newMemEntries()
	seedStatsEntries(t, entries)
	svc := NewStatsService(entries, statsRoster(), nil, nil, StatsConfig{})

	missing, err := svc.Unsubmitted(context.Background(), models.Group{Grade: 2, ClassName: "A"}, schoolday.MustParse("2025-04-10"))
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "s3", missing[0].ID)

	missing, err = svc.Unsubmitted(context.Background(), models.Group{Grade: 2, ClassName: "A"}, schoolday.MustParse("2025-04-09"))
	require.NoError(t, err)
	assert.Len(t, missing, 2)
}

func TestTrendFillsGaps(t *testing.T) {
	entries := newMemEntries()
	seedStatsEntries(t, entries)
	svc := NewStatsService(entries, statsRoster(), nil, nil, StatsConfig{})

	trend, err := svc.Trend(context.Background(), models.Group{}, schoolday.TrailingDays(schoolday.MustParse("2025-04-10"), 3))
	require.NoError(t, err)
	require.Len(t, trend, 3)
	assert.Equal(t, 0, trend[0].Count)
	assert.Equal(t, 1, trend[1].Count)
	assert.Equal(t, 3, trend[2].Count)
}
