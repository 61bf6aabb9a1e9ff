package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/journal-api/internal/dto"
	"github.com/noah-isme/journal-api/internal/models"
	"github.com/noah-isme/journal-api/internal/service"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
	"github.com/noah-isme/journal-api/pkg/response"
	"github.com/noah-isme/journal-api/pkg/schoolday"
)

type reviewService interface {
	MarkRead(ctx context.Context, entryID string, req models.ReviewRequest, actor *models.JWTClaims) (*models.Entry, error)
}

type teacherDashboard interface {
	Teacher(ctx context.Context, actor *models.JWTClaims, group *models.Group, day schoolday.Day) (*dto.TeacherDashboardResponse, error)
}

type statsService interface {
	Summarize(ctx context.Context, group models.Group, rng schoolday.DayRange) (*models.Stats, error)
	Trend(ctx context.Context, group models.Group, rng schoolday.DayRange) ([]models.DailyCount, error)
}

type today interface {
	Today() schoolday.Day
}

// TeacherHandler serves class views and read marks for staff.
type TeacherHandler struct {
	review    reviewService
	dashboard teacherDashboard
	stats     statsService
	clock     today
}

// NewTeacherHandler constructs the handler.
func NewTeacherHandler(review reviewService, dashboard teacherDashboard, stats statsService, clock today) *TeacherHandler {
	return &TeacherHandler{review: review, dashboard: dashboard, stats: stats, clock: clock}
}

// Dashboard godoc
// @Summary Group entries, missing students and stats for a day
// @Tags Teacher
// @Produce json
// @Param grade query int false "Grade (admins)"
// @Param class query string false "Class (admins)"
// @Param day query string false "Day YYYY-MM-DD, defaults to today"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /teacher/dashboard [get]
func (h *TeacherHandler) Dashboard(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	group, err := groupQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	day, err := dayQuery(c, "day")
	if err != nil {
		response.Error(c, err)
		return
	}
	dash, err := h.dashboard.Teacher(c.Request.Context(), claims, group, day)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dash)
}

// Review godoc
// @Summary Mark an entry read
// @Description Locks the entry against resubmission and stores an optional comment
// @Tags Teacher
// @Accept json
// @Produce json
// @Param id path string true "Entry ID"
// @Param payload body models.ReviewRequest false "Comment"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /teacher/entries/{id}/review [post]
func (h *TeacherHandler) Review(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req models.ReviewRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
			return
		}
	}
	entry, err := h.review.MarkRead(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entry)
}

// Records godoc
// @Summary Daily submission counts
// @Tags Teacher
// @Produce json
// @Param grade query int false "Grade (admins)"
// @Param class query string false "Class (admins)"
// @Param from query string false "First day, defaults to six days before to"
// @Param to query string false "Last day, defaults to today"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /teacher/records [get]
func (h *TeacherHandler) Records(c *gin.Context) {
	group, rng, ok := h.scope(c, 7)
	if !ok {
		return
	}
	trend, err := h.stats.Trend(c.Request.Context(), group, rng)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"group": group, "range": rng, "daily": trend})
}

// Stats godoc
// @Summary Aggregated stats over a day range
// @Tags Teacher
// @Produce json
// @Param grade query int false "Grade (admins)"
// @Param class query string false "Class (admins)"
// @Param from query string false "First day, defaults to to"
// @Param to query string false "Last day, defaults to today"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /teacher/stats [get]
func (h *TeacherHandler) Stats(c *gin.Context) {
	group, rng, ok := h.scope(c, 1)
	if !ok {
		return
	}
	stats, err := h.stats.Summarize(c.Request.Context(), group, rng)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// scope resolves the caller's group and the requested range, writing the
// error response itself. defaultDays sizes the range when from is absent.
func (h *TeacherHandler) scope(c *gin.Context, defaultDays int) (models.Group, schoolday.DayRange, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Group{}, schoolday.DayRange{}, false
	}
	requested, err := groupQuery(c)
	if err != nil {
		response.Error(c, err)
		return models.Group{}, schoolday.DayRange{}, false
	}
	group := claims.Group()
	if claims.Role == models.RoleAdmin {
		group = models.Group{}
	}
	if requested != nil {
		group = *requested
	}
	if !service.CanAccess(claims, group) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "group is outside your class"))
		return models.Group{}, schoolday.DayRange{}, false
	}

	from, err := dayQuery(c, "from")
	if err != nil {
		response.Error(c, err)
		return models.Group{}, schoolday.DayRange{}, false
	}
	to, err := dayQuery(c, "to")
	if err != nil {
		response.Error(c, err)
		return models.Group{}, schoolday.DayRange{}, false
	}
	if to.IsZero() {
		to = h.clock.Today()
	}
	rng := schoolday.TrailingDays(to, defaultDays)
	if !from.IsZero() {
		rng.From = from
	}
	return group, rng, true
}
