package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/journal-api/internal/middleware"
	"github.com/noah-isme/journal-api/internal/models"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
	"github.com/noah-isme/journal-api/pkg/schoolday"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		return nil
	}
	return claims
}

// dayQuery reads an optional YYYY-MM-DD query parameter.
func dayQuery(c *gin.Context, key string) (schoolday.Day, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return schoolday.Day{}, nil
	}
	day, err := schoolday.Parse(raw)
	if err != nil {
		return schoolday.Day{}, appErrors.Clone(appErrors.ErrValidation, key+" must be YYYY-MM-DD")
	}
	return day, nil
}

// groupQuery reads optional grade and class parameters; nil when both are absent.
func groupQuery(c *gin.Context) (*models.Group, error) {
	rawGrade := strings.TrimSpace(c.Query("grade"))
	class := strings.TrimSpace(c.Query("class"))
	if rawGrade == "" && class == "" {
		return nil, nil
	}
	group := &models.Group{ClassName: class}
	if rawGrade != "" {
		grade, err := strconv.Atoi(rawGrade)
		if err != nil || grade < 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "grade must be a non-negative integer")
		}
		group.Grade = grade
	}
	return group, nil
}

func intQuery(c *gin.Context, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil {
		return v
	}
	return def
}
