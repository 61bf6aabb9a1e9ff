package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/journal-api/internal/dto"
	"github.com/noah-isme/journal-api/internal/models"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
	"github.com/noah-isme/journal-api/pkg/response"
)

type journalService interface {
	Submit(ctx context.Context, req models.SubmitRequest) (*models.SubmitResult, error)
	StudentEntry(ctx context.Context, studentID string) (*models.Entry, error)
	History(ctx context.Context, studentID string) ([]models.Entry, error)
}

type studentDashboard interface {
	Student(ctx context.Context, studentID string) (*dto.StudentDashboardResponse, error)
}

// StudentHandler serves the student's own journal.
type StudentHandler struct {
	journal   journalService
	dashboard studentDashboard
}

// NewStudentHandler constructs the handler.
func NewStudentHandler(journal journalService, dashboard studentDashboard) *StudentHandler {
	return &StudentHandler{journal: journal, dashboard: dashboard}
}

// Submit godoc
// @Summary Submit today's entry
// @Description Creates the entry for the open day or replaces it while unread
// @Tags Student
// @Accept json
// @Produce json
// @Param payload body models.SubmitRequest true "Entry"
// @Success 201 {object} response.Envelope "created"
// @Success 200 {object} response.Envelope "resubmitted"
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Security BearerAuth
// @Router /student/entries [post]
func (h *StudentHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req models.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid entry payload"))
		return
	}
	// The subject is always the caller.
	req.SubjectID = claims.UserID

	res, err := h.journal.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == models.OutcomeCreated {
		status = http.StatusCreated
	}
	response.JSON(c, status, res, nil)
}

// Today godoc
// @Summary Entry for the open day
// @Tags Student
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /student/entries/today [get]
func (h *StudentHandler) Today(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	entry, err := h.journal.StudentEntry(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entry)
}

// History godoc
// @Summary Own entries, newest first
// @Tags Student
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /student/entries [get]
func (h *StudentHandler) History(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	entries, err := h.journal.History(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entries)
}

// Dashboard godoc
// @Summary Student home screen
// @Tags Student
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /student/dashboard [get]
func (h *StudentHandler) Dashboard(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	dash, err := h.dashboard.Student(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dash)
}
