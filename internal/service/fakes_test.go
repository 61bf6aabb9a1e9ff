package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/journal-api/internal/models"
	"github.com/noah-isme/journal-api/internal/repository"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
	"github.com/noah-isme/journal-api/pkg/schoolday"
)

// memEntries is an in-memory entry store enforcing the (student, day) key.
// Log rows go to logs before any row changes, so a failing log store leaves
// the entries as they were.
type memEntries struct {
	mu      sync.Mutex
	rows    map[string]*models.Entry
	seq     int64
	failErr error
	logs    *memLogs

	// beforeInsert runs with the lock released, letting tests inject a racing writer.
	beforeInsert func()
	// beforeUpdate runs with the lock released before a conditional update.
	beforeUpdate func()
}

func newMemEntries() *memEntries {
	return &memEntries{rows: make(map[string]*models.Entry), logs: &memLogs{}}
}

func (m *memEntries) FindByKey(ctx context.Context, studentID string, day schoolday.Day) (*models.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	for _, row := range m.rows {
		if row.StudentID == studentID && row.Day.Equal(day) {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memEntries) GetByID(ctx context.Context, id string) (*models.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	row, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *row
	return &cp, nil
}

func (m *memEntries) Insert(ctx context.Context, entry *models.Entry, log *models.ActionLog) (string, error) {
	if hook := m.beforeInsert; hook != nil {
		m.beforeInsert = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return "", m.failErr
	}
	for _, row := range m.rows {
		if row.StudentID == entry.StudentID && row.Day.Equal(entry.Day) {
			return "", repository.ErrDuplicateKey
		}
	}
	id := fmt.Sprintf("entry-%d", m.seq+1)
	if log != nil {
		if log.TargetID == nil {
			log.TargetID = &id
		}
		if err := m.logs.Append(ctx, log); err != nil {
			return "", err
		}
	}
	m.seq++
	cp := *entry
	cp.ID = id
	cp.Seq = m.seq
	cp.ReviewState = models.ReviewUnread
	m.rows[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memEntries) Update(ctx context.Context, id string, upd models.EntryUpdate, log *models.ActionLog) (bool, error) {
	if upd.StudentID != nil || upd.Day != nil {
		return false, appErrors.Clone(appErrors.ErrImmutableField, "immutable")
	}
	if hook := m.beforeUpdate; hook != nil {
		m.beforeUpdate = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	row, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	if upd.RequireUnread && row.IsRead() {
		return false, nil
	}
	if log != nil {
		if err := m.logs.Append(ctx, log); err != nil {
			return false, err
		}
	}
	nullable := func(s *string) *string {
		if *s == "" {
			return nil
		}
		v := *s
		return &v
	}
	if upd.Ratings != nil {
		row.Ratings = *upd.Ratings
	}
	if upd.Reflection != nil {
		row.Reflection = *upd.Reflection
	}
	if upd.Consultation != nil {
		row.Consultation = nullable(upd.Consultation)
	}
	if upd.ReviewState != nil {
		row.ReviewState = *upd.ReviewState
	}
	if upd.TeacherComment != nil {
		row.TeacherComment = nullable(upd.TeacherComment)
	}
	if upd.Acknowledged != nil {
		row.Acknowledged = *upd.Acknowledged
	}
	if upd.Reviewer != nil {
		row.ReviewedBy = nullable(upd.Reviewer)
		if row.ReviewedBy == nil {
			row.ReviewedAt = nil
		} else {
			now := time.Now().UTC()
			row.ReviewedAt = &now
		}
	}
	return true, nil
}

func (m *memEntries) ListByGroup(ctx context.Context, group models.Group, rng schoolday.DayRange) ([]models.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	out := make([]models.Entry, 0)
	for _, row := range m.rows {
		if group.Covers(row.Group()) && rng.Contains(row.Day) {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.After(out[j].Day)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (m *memEntries) ListBySubject(ctx context.Context, studentID string) ([]models.Entry, error) {
	all, err := m.ListByGroup(ctx, models.Group{}, schoolday.DayRange{From: schoolday.MustParse("2000-01-01"), To: schoolday.MustParse("2100-01-01")})
	if err != nil {
		return nil, err
	}
	out := make([]models.Entry, 0)
	for _, e := range all {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEntries) DailyCounts(ctx context.Context, group models.Group, rng schoolday.DayRange) ([]models.DailyCount, error) {
	entries, err := m.ListByGroup(ctx, group, rng)
	if err != nil {
		return nil, err
	}
	counts := map[schoolday.Day]int{}
	for _, e := range entries {
		counts[e.Day]++
	}
	out := make([]models.DailyCount, 0, len(counts))
	for day, n := range counts {
		out = append(out, models.DailyCount{Day: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (m *memEntries) DeleteAll(ctx context.Context, log *models.ActionLog) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}
	n := int64(len(m.rows))
	if log != nil {
		if log.Detail == nil {
			log.Detail = strPtr(fmt.Sprintf("%d entries", n))
		}
		if err := m.logs.Append(ctx, log); err != nil {
			return 0, err
		}
	}
	m.rows = make(map[string]*models.Entry)
	return n, nil
}

func (m *memEntries) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memUsers is an in-memory user table.
type memUsers struct {
	mu      sync.Mutex
	users   map[string]*models.User
	failErr error
	logs    *memLogs
}

func newMemUsers(users ...models.User) *memUsers {
	m := &memUsers{users: make(map[string]*models.User), logs: &memLogs{}}
	for i := range users {
		u := users[i]
		m.users[u.ID] = &u
	}
	return m
}

func (m *memUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) sorted() []models.User {
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memUsers) ListStudents(ctx context.Context, group models.Group) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	out := make([]models.User, 0)
	for _, u := range m.sorted() {
		if u.Role == models.RoleStudent && group.Covers(u.Group()) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memUsers) ListGroups(ctx context.Context) ([]models.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	seen := map[models.Group]bool{}
	out := make([]models.Group, 0)
	for _, u := range m.sorted() {
		if u.Role == models.RoleStudent && !seen[u.Group()] {
			seen[u.Group()] = true
			out = append(out, u.Group())
		}
	}
	return out, nil
}

func (m *memUsers) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, 0, m.failErr
	}
	out := make([]models.User, 0)
	for _, u := range m.sorted() {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		out = append(out, u)
	}
	return out, len(out), nil
}

func (m *memUsers) Upsert(ctx context.Context, user *models.User, log *models.ActionLog) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	existing, ok := m.users[user.ID]
	if log != nil {
		if log.Detail == nil {
			verb := "updated"
			if !ok {
				verb = "created"
			}
			log.Detail = strPtr(verb + " as " + string(user.Role))
		}
		if err := m.logs.Append(ctx, log); err != nil {
			return false, err
		}
	}
	cp := *user
	if ok && cp.PasswordHash == "" {
		cp.PasswordHash = existing.PasswordHash
	}
	m.users[user.ID] = &cp
	return !ok, nil
}

func (m *memUsers) Delete(ctx context.Context, id string, log *models.ActionLog) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	if _, ok := m.users[id]; !ok {
		return false, nil
	}
	if log != nil {
		if err := m.logs.Append(ctx, log); err != nil {
			return false, err
		}
	}
	delete(m.users, id)
	return true, nil
}

// memLogs records appended action logs.
type memLogs struct {
	mu      sync.Mutex
	logs    []models.ActionLog
	failErr error
}

func (m *memLogs) Append(ctx context.Context, log *models.ActionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	log.ID = fmt.Sprintf("log-%d", len(m.logs)+1)
	log.CreatedAt = time.Now().UTC()
	m.logs = append(m.logs, *log)
	return nil
}

func (m *memLogs) List(ctx context.Context, filter models.ActionLogFilter) ([]models.ActionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ActionLog, 0, len(m.logs))
	for i := len(m.logs) - 1; i >= 0; i-- {
		if filter.Action != "" && m.logs[i].Action != filter.Action {
			continue
		}
		out = append(out, m.logs[i])
	}
	return out, nil
}

func (m *memLogs) Clear(ctx context.Context, log *models.ActionLog) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}
	n := int64(len(m.logs))
	m.logs = nil
	if log != nil {
		if log.Detail == nil {
			log.Detail = strPtr(fmt.Sprintf("%d rows", n))
		}
		log.ID = "log-1"
		log.CreatedAt = time.Now().UTC()
		m.logs = append(m.logs, *log)
	}
	return n, nil
}

func (m *memLogs) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, l.Action)
	}
	return out
}

// recordingListener collects EntryChanged notifications.
type recordingListener struct {
	mu     sync.Mutex
	groups []models.Group
}

func (r *recordingListener) EntryChanged(ctx context.Context, group models.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = append(r.groups, group)
}

func intPtr(v int) *int { return &v }

func ratings(condition, mental int) models.Ratings {
	return models.Ratings{Condition: intPtr(condition), Mental: intPtr(mental)}
}

// fixedBoundary pins "now" to the given RFC3339 instant.
func fixedBoundary(instant string, opts ...schoolday.Option) *schoolday.Boundary {
	t, err := time.Parse(time.RFC3339, instant)
	if err != nil {
		panic(err)
	}
	return schoolday.NewBoundary(append([]schoolday.Option{schoolday.WithClock(schoolday.FixedClock(t))}, opts...)...)
}

// countingListener records roster notifications.
type countingListener struct {
	mu    sync.Mutex
	calls int
}

func (c *countingListener) RosterChanged(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}
