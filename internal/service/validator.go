package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/journal-api/internal/models"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
)

// Default ordinal bounds for condition and mental ratings.
const (
	DefaultRatingMin = 1
	DefaultRatingMax = 5
)

// RegisterRatingRule installs the "rating" tag on v with inclusive bounds.
// Registering again replaces the previous bounds.
func RegisterRatingRule(v *validator.Validate, min, max int) error {
	if min > max {
		return fmt.Errorf("rating bounds inverted: %d > %d", min, max)
	}
	return v.RegisterValidation("rating", func(fl validator.FieldLevel) bool {
		value := fl.Field().Int()
		return value >= int64(min) && value <= int64(max)
	})
}

// NewValidator returns a validator with the journal rules registered.
func NewValidator(ratingMin, ratingMax int) (*validator.Validate, error) {
	v := validator.New()
	if err := RegisterRatingRule(v, ratingMin, ratingMax); err != nil {
		return nil, err
	}
	return v, nil
}

// describeValidation flattens validator output into "field:tag" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+":"+fe.Tag())
	}
	return strings.Join(parts, ", ")
}

func validationError(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload: "+describeValidation(err))
}

type actionLogAppender interface {
	Append(ctx context.Context, log *models.ActionLog) error
}

// appendLog writes an action log row. A failure is logged and returned as
// StoreUnavailable; callers that must not fail on audit loss ignore it.
func appendLog(ctx context.Context, repo actionLogAppender, logger *zap.Logger, entry models.ActionLog) error {
	if repo == nil {
		return nil
	}
	if err := repo.Append(ctx, &entry); err != nil {
		logger.Warn("append action log failed",
			zap.String("action", entry.Action),
			zap.String("actor_id", entry.ActorID),
			zap.Error(err))
		return appErrors.Store(err, "failed to write action log")
	}
	return nil
}

func strPtr(s string) *string { return &s }

// storeError passes typed domain errors through and wraps everything else
// as StoreUnavailable.
func storeError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Store(err, message)
}
