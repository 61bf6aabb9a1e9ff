package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/journal-api/internal/dto"
	"github.com/noah-isme/journal-api/internal/models"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
	"github.com/noah-isme/journal-api/pkg/schoolday"
)

type fakeJournal struct {
	lastReq models.SubmitRequest
	outcome models.SubmitOutcome
	err     error
	history []models.Entry
}

func (f *fakeJournal) Submit(_ context.Context, req models.SubmitRequest) (*models.SubmitResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.SubmitResult{Outcome: f.outcome, Entry: &models.Entry{ID: "e1", StudentID: req.SubjectID, Day: req.Day}}, nil
}

func (f *fakeJournal) StudentEntry(_ context.Context, studentID string) (*models.Entry, error) {
	return nil, f.err
}

func (f *fakeJournal) History(_ context.Context, studentID string) ([]models.Entry, error) {
	return f.history, f.err
}

type fakeStudentDashboard struct{ lastID string }

func (f *fakeStudentDashboard) Student(_ context.Context, id string) (*dto.StudentDashboardResponse, error) {
	f.lastID = id
	return &dto.StudentDashboardResponse{Today: schoolday.MustParse("2025-04-10"), CanSubmit: true}, nil
}

func TestStudentSubmitUsesCallerAsSubject(t *testing.T) {
	journal := &fakeJournal{outcome: models.OutcomeCreated}
	h := NewStudentHandler(journal, &fakeStudentDashboard{})

	body := `{"day":"2025-04-10","ratings":{"condition":3,"mental":4},"reflection":"ok","subject_id":"s2"}`
	c, rec := newTestContext(http.MethodPost, "/student/entries", body, studentClaims)
	h.Submit(c)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "s1", journal.lastReq.SubjectID)
	assert.Equal(t, "2025-04-10", journal.lastReq.Day.String())
	require.NotNil(t, journal.lastReq.Ratings.Mental)
	assert.Equal(t, 4, *journal.lastReq.Ratings.Mental)
}

func TestStudentSubmitResubmittedIsOK(t *testing.T) {
	h := NewStudentHandler(&fakeJournal{outcome: models.OutcomeResubmitted}, &fakeStudentDashboard{})
	c, rec := newTestContext(http.MethodPost, "/student/entries", `{"day":"2025-04-10"}`, studentClaims)
	h.Submit(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var result models.SubmitResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &result))
	assert.Equal(t, models.OutcomeResubmitted, result.Outcome)
}

func TestStudentSubmitErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		claims *models.JWTClaims
		err    error
		status int
		code   string
	}{
		{"no claims", `{}`, nil, nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"bad json", `{"day":`, studentClaims, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad day", `{"day":"10/04/2025"}`, studentClaims, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"locked", `{"day":"2025-04-10"}`, studentClaims, appErrors.ErrLockedByReview, http.StatusConflict, "LOCKED_BY_REVIEW"},
		{"window", `{"day":"2025-04-09"}`, studentClaims, appErrors.ErrOutOfWindow, http.StatusBadRequest, "OUT_OF_WINDOW"},
		{"store", `{"day":"2025-04-10"}`, studentClaims, appErrors.Store(assert.AnError, ""), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewStudentHandler(&fakeJournal{err: tc.err}, &fakeStudentDashboard{})
			c, rec := newTestContext(http.MethodPost, "/student/entries", tc.body, tc.claims)
			h.Submit(c)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}
}

func TestStudentHistoryAndDashboard(t *testing.T) {
	journal := &fakeJournal{history: []models.Entry{{ID: "e2"}, {ID: "e1"}}}
	dash := &fakeStudentDashboard{}
	h := NewStudentHandler(journal, dash)

	c, rec := newTestContext(http.MethodGet, "/student/entries", nil, studentClaims)
	h.History(c)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.Entry
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &entries))
	assert.Len(t, entries, 2)

	c, rec = newTestContext(http.MethodGet, "/student/dashboard", nil, studentClaims)
	h.Dashboard(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", dash.lastID)
}
