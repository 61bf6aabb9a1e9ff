package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/journal-api/internal/models"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
	"github.com/noah-isme/journal-api/pkg/schoolday"
)

type submissionFixture struct {
	svc      *SubmissionService
	review   *ReviewService
	entries  *memEntries
	users    *memUsers
	logs     *memLogs
	listener *recordingListener
}

// 2025-04-10 01:00 JST.
const testInstant = "2025-04-09T16:00:00Z"

func newSubmissionFixture(t *testing.T, cfg SubmissionConfig, opts ...schoolday.Option) *submissionFixture {
	t.Helper()
	entries := newMemEntries()
	f := &submissionFixture{
		entries: entries,
		users: newMemUsers(
			models.User{ID: "s1", Name: "Aoi", Role: models.RoleStudent, Grade: 2, ClassName: "A"},
			models.User{ID: "s2", Name: "Ren", Role: models.RoleStudent, Grade: 2, ClassName: "A"},
			models.User{ID: "t1", Name: "Sato", Role: models.RoleTeacher, Grade: 2, ClassName: "A"},
		),
		logs:     entries.logs,
		listener: &recordingListener{},
	}
	validate := validator.New()
	boundary := fixedBoundary(testInstant, opts...)
	f.svc = NewSubmissionService(f.entries, f.users, boundary, f.listener, nil, validate, zap.NewNop(), cfg)
	f.review = NewReviewService(f.entries, f.listener, nil, validate, zap.NewNop())
	return f
}

func submitReq(subject string, day string, r models.Ratings, reflection string) models.SubmitRequest {
	return models.SubmitRequest{SubjectID: subject, Day: schoolday.MustParse(day), Ratings: r, Reflection: reflection}
}

var teacherClaims = &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher, Grade: 2, ClassName: "A"}

func TestSubmitLifecycle(t *testing.T) {
	f := newSubmissionFixture(t, SubmissionConfig{})
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, submitReq("s1", "2025-04-10", ratings(3, 4), "fine"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, first.Outcome)
	assert.Equal(t, models.ReviewUnread, first.Entry.ReviewState)
	assert.Equal(t, 2, first.Entry.Grade)

	second, err := f.svc.Submit(ctx, submitReq("s1", "2025-04-10", ratings(5, 5), "better"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeResubmitted, second.Outcome)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	stored, err := f.entries.GetByID(ctx, first.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, *stored.Condition)
	assert.Equal(t, 5, *stored.Mental)
	assert.Equal(t, "better", stored.Reflection)

	reviewed, err := f.review.MarkRead(ctx, first.Entry.ID, models.ReviewRequest{Annotation: "良い"}, teacherClaims)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewRead, reviewed.ReviewState)
	require.NotNil(t, reviewed.TeacherComment)
	assert.Equal(t, "良い", *reviewed.TeacherComment)

	_, err = f.svc.Submit(ctx, submitReq("s1", "2025-04-10", ratings(1, 1), "again"))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrLockedByReview)

	stored, err = f.entries.GetByID(ctx, first.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, *stored.Condition)
	assert.Equal(t, 5, *stored.Mental)
	assert.Equal(t, models.ReviewRead, stored.ReviewState)

	assert.Equal(t, 1, f.entries.count())
	assert.Equal(t, []string{models.ActionSubmit, models.ActionResubmit, models.ActionReview}, f.logs.actions())
	assert.Len(t, f.listener.groups, 3)
}

func TestSubmitLogsCarrySubjectAsActor(t *testing.T) {
	f := newSubmissionFixture(t, SubmissionConfig{})

	res, err := f.svc.Submit(context.Background(), submitReq("s1", "2025-04-10", ratings(3, 3), ""))
	require.NoError(t, err)

	require.Len(t, f.logs.logs, 1)
	log := f.logs.logs[0]
	assert.Equal(t, "s1", log.ActorID)
	assert.Equal(t, models.RoleStudent, log.ActorRole)
	assert.Equal(t, models.ActionSubmit, log.Action)
	require.NotNil(t, log.TargetID)
	assert.Equal(t, res.Entry.ID, *log.TargetID)
}

func TestSubmitRejections(t *testing.T) {
	cases := []struct {
		name string
		req  models.SubmitRequest
		want *appErrors.Error
	}{
		{"rating above bounds", submitReq("s1", "2025-04-10", ratings(6, 3), ""), appErrors.ErrInvalidRating},
		{"rating below bounds", submitReq("s1", "2025-04-10", ratings(3, 0), ""), appErrors.ErrInvalidRating},
		{"missing rating", submitReq("s1", "2025-04-10", models.Ratings{Condition: intPtr(3)}, ""), appErrors.ErrInvalidRating},
		{"unknown subject", submitReq("ghost", "2025-04-10", ratings(3, 3), ""), appErrors.ErrUnknownSubject},
		{"staff subject", submitReq("t1", "2025-04-10", ratings(3, 3), ""), appErrors.ErrUnknownSubject},
		{"yesterday", submitReq("s1", "2025-04-09", ratings(3, 3), ""), appErrors.ErrOutOfWindow},
		{"tomorrow", submitReq("s1", "2025-04-11", ratings(3, 3), ""), appErrors.ErrOutOfWindow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newSubmissionFixture(t, SubmissionConfig{})
			_, err := f.svc.Submit(context.Background(), tc.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Zero(t, f.entries.count())
			assert.Empty(t, f.logs.actions())
		})
	}
}

func TestSubmitCustomRatingBounds(t *testing.T) {
	f := newSubmissionFixture(t, SubmissionConfig{RatingMin: 0, RatingMax: 10})

	_, err := f.svc.Submit(context.Background(), submitReq("s1", "2025-04-10", ratings(0, 10), ""))
	require.NoError(t, err)
}

func TestSubmitPreviousDayPolicy(t *testing.T) {
	// 2025-04-14 is a Monday; with weekend skipping the open day is Friday.
	f := &submissionFixture{entries: newMemEntries(), users: newMemUsers(models.User{ID: "s1", Role: models.RoleStudent})}
	boundary := fixedBoundary("2025-04-14T03:00:00Z", schoolday.WithWeekendSkipping(true))
	f.svc = NewSubmissionService(f.entries, f.users, boundary, nil, nil, nil, nil, SubmissionConfig{Policy: schoolday.PolicyPreviousDay})

	assert.Equal(t, "2025-04-11", f.svc.OpenDay().String())
	_, err := f.svc.Submit(context.Background(), submitReq("s1", "2025-04-14", ratings(3, 3), ""))
	assert.ErrorIs(t, err, appErrors.ErrOutOfWindow)
	res, err := f.svc.Submit(context.Background(), submitReq("s1", "2025-04-11", ratings(3, 3), ""))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, res.Outcome)
}

func TestSubmitResubmissionClearsReviewMetadata(t *testing.T) {
	f := newSubmissionFixture(t, SubmissionConfig{})
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, models.SubmitRequest{SubjectID: "s1", Day: schoolday.MustParse("2025-04-10"), Ratings: ratings(3, 3), Consultation: "talk please"})
	require.NoError(t, err)
	require.NotNil(t, res.Entry.Consultation)

	comment := "stale"
	ack := true
	_, err = f.entries.Update(ctx, res.Entry.ID, models.EntryUpdate{TeacherComment: &comment, Acknowledged: &ack}, nil)
	require.NoError(t, err)

	again, err := f.svc.Submit(ctx, submitReq("s1", "2025-04-10", ratings(4, 4), "ok"))
	require.NoError(t, err)
	assert.Nil(t, again.Entry.Consultation)
	assert.Nil(t, again.Entry.TeacherComment)
	assert.False(t, again.Entry.Acknowledged)

	stored, err := f.entries.GetByID(ctx, res.Entry.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.TeacherComment)
	assert.Nil(t, stored.Consultation)
	assert.False(t, stored.Acknowledged)
	assert.Equal(t, models.ReviewUnread, stored.ReviewState)
}

func TestSubmitLosesInsertRace(t *testing.T) {
	f := newSubmissionFixture(t, SubmissionConfig{})
	ctx := context.Background()

	// Another request inserts between our FindByKey and Insert.
	f.entries.beforeInsert = func() {
		_, err := f.entries.Insert(ctx, &models.Entry{StudentID: "s1", Day: schoolday.MustParse("2025-04-10"), Ratings: ratings(1, 1)}, nil)
		require.NoError(t, err)
	}

	res, err := f.svc.Submit(ctx, submitReq("s1", "2025-04-10", ratings(4, 5), "mine"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeResubmitted, res.Outcome)
	assert.Equal(t, 1, f.entries.count())

	stored, err := f.entries.FindByKey(ctx, "s1", schoolday.MustParse("2025-04-10"))
	require.NoError(t, err)
	assert.Equal(t, 4, *stored.Condition)
}

func TestSubmitLockedWhenReadBetweenLoadAndUpdate(t *testing.T) {
	f := newSubmissionFixture(t, SubmissionConfig{})
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, submitReq("s1", "2025-04-10", ratings(3, 3), ""))
	require.NoError(t, err)

	f.entries.beforeUpdate = func() {
		read := models.ReviewRead
		_, err := f.entries.Update(ctx, res.Entry.ID, models.EntryUpdate{ReviewState: &read}, nil)
		require.NoError(t, err)
	}
	_, err = f.svc.Submit(ctx, submitReq("s1", "2025-04-10", ratings(5, 5), ""))
	assert.ErrorIs(t, err, appErrors.ErrLockedByReview)

	stored, err := f.entries.GetByID(ctx, res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, *stored.Condition)
}

func TestSubmitConcurrentSameKeyKeepsOneEntry(t *testing.T) {
	f := newSubmissionFixture(t, SubmissionConfig{})
	ctx := context.Background()

	var wg sync.WaitGroup
	outcomes := make(chan models.SubmitOutcome, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := f.svc.Submit(ctx, submitReq("s1", "2025-04-10", ratings(1+n%5, 3), ""))
			if err == nil {
				outcomes <- res.Outcome
			}
		}(i)
	}
	wg.Wait()
	close(outcomes)

	created := 0
	total := 0
	for o := range outcomes {
		total++
		if o == models.OutcomeCreated {
			created++
		}
	}
	assert.Equal(t, 1, f.entries.count())
	assert.Equal(t, 1, created)
	assert.Equal(t, 8, total)
}

func TestSubmitStoreFailure(t *testing.T) {
	f := newSubmissionFixture(t, SubmissionConfig{})
	f.entries.failErr = errors.New("connection refused")

	_, err := f.svc.Submit(context.Background(), submitReq("s1", "2025-04-10", ratings(3, 3), ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrStoreUnavailable)
	assert.Equal(t, 503, appErrors.FromError(err).Status)
}

func TestSubmitLogFailureLeavesNoEntry(t *testing.T) {
	f := newSubmissionFixture(t, SubmissionConfig{})
	ctx := context.Background()
	f.logs.failErr = errors.New("disk full")

	_, err := f.svc.Submit(ctx, submitReq("s1", "2025-04-10", ratings(3, 3), ""))
	assert.ErrorIs(t, err, appErrors.ErrStoreUnavailable)
	assert.Zero(t, f.entries.count())
	assert.Empty(t, f.listener.groups)

	f.logs.failErr = nil
	res, err := f.svc.Submit(ctx, submitReq("s1", "2025-04-10", ratings(3, 3), ""))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, res.Outcome)
	assert.Equal(t, []string{models.ActionSubmit}, f.logs.actions())
}

func TestResubmitLogFailureKeepsPreviousContent(t *testing.T) {
	f := newSubmissionFixture(t, SubmissionConfig{})
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, submitReq("s1", "2025-04-10", ratings(3, 3), "first"))
	require.NoError(t, err)

	f.logs.failErr = errors.New("disk full")
	_, err = f.svc.Submit(ctx, submitReq("s1", "2025-04-10", ratings(5, 5), "second"))
	assert.ErrorIs(t, err, appErrors.ErrStoreUnavailable)

	stored, err := f.entries.GetByID(ctx, res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Reflection)
	assert.Equal(t, 3, *stored.Condition)
}

func TestSubmitWithoutDayTargetsOpenDay(t *testing.T) {
	f := newSubmissionFixture(t, SubmissionConfig{})

	res, err := f.svc.Submit(context.Background(), models.SubmitRequest{SubjectID: "s1", Ratings: ratings(3, 3)})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, res.Outcome)
	assert.Equal(t, "2025-04-10", res.Entry.Day.String())
}

func TestHistoryAndStudentEntry(t *testing.T) {
	f := newSubmissionFixture(t, SubmissionConfig{})
	ctx := context.Background()

	entry, err := f.svc.StudentEntry(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, err = f.svc.Submit(ctx, submitReq("s1", "2025-04-10", ratings(3, 3), ""))
	require.NoError(t, err)

	entry, err = f.svc.StudentEntry(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, entry)

	history, err := f.svc.History(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
