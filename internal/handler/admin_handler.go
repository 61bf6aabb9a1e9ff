package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/journal-api/internal/dto"
	"github.com/noah-isme/journal-api/internal/models"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
	"github.com/noah-isme/journal-api/pkg/response"
)

type adminService interface {
	ResetEntries(ctx context.Context, actor *models.JWTClaims) (int64, error)
	ClearLogs(ctx context.Context, actor *models.JWTClaims) (int64, error)
	ListLogs(ctx context.Context, filter models.ActionLogFilter) ([]models.ActionLog, error)
}

type adminDashboard interface {
	Admin(ctx context.Context, days int) (*dto.AdminDashboardResponse, error)
}

// AdminHandler serves school-wide views and maintenance operations.
type AdminHandler struct {
	admin     adminService
	dashboard adminDashboard
}

// NewAdminHandler constructs the handler.
func NewAdminHandler(admin adminService, dashboard adminDashboard) *AdminHandler {
	return &AdminHandler{admin: admin, dashboard: dashboard}
}

// Dashboard godoc
// @Summary School-wide stats, recent logs and system metrics
// @Tags Admin
// @Produce json
// @Param days query int false "Trailing window in days (default 30)"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/dashboard [get]
func (h *AdminHandler) Dashboard(c *gin.Context) {
	dash, err := h.dashboard.Admin(c.Request.Context(), intQuery(c, "days", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dash)
}

// ResetEntries godoc
// @Summary Delete every journal entry
// @Description Requires confirm=true; the wipe itself is logged
// @Tags Admin
// @Produce json
// @Param confirm query bool true "Must be true"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/entries/reset [post]
func (h *AdminHandler) ResetEntries(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if !strings.EqualFold(c.Query("confirm"), "true") {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "confirm=true is required"))
		return
	}
	n, err := h.admin.ResetEntries(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"deleted": n}, nil)
}

// ClearLogs godoc
// @Summary Clear the action log
// @Description The clear is recorded as the first row of the new log
// @Tags Admin
// @Produce json
// @Param confirm query bool true "Must be true"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/logs/clear [post]
func (h *AdminHandler) ClearLogs(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if !strings.EqualFold(c.Query("confirm"), "true") {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "confirm=true is required"))
		return
	}
	n, err := h.admin.ClearLogs(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"deleted": n}, nil)
}

// ListLogs godoc
// @Summary Recent action logs, newest first
// @Tags Admin
// @Produce json
// @Param actor query string false "Actor id"
// @Param action query string false "Action name"
// @Param limit query int false "Max rows (default 100)"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/logs [get]
func (h *AdminHandler) ListLogs(c *gin.Context) {
	logs, err := h.admin.ListLogs(c.Request.Context(), models.ActionLogFilter{
		ActorID: strings.TrimSpace(c.Query("actor")),
		Action:  strings.TrimSpace(c.Query("action")),
		Limit:   intQuery(c, "limit", 0),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, logs)
}
