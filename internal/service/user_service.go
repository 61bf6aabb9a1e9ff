package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/journal-api/internal/models"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Upsert(ctx context.Context, user *models.User, log *models.ActionLog) (bool, error)
	Delete(ctx context.Context, id string, log *models.ActionLog) (bool, error)
}

// rosterListener is told when accounts change, since rosters feed the stats.
type rosterListener interface {
	RosterChanged(ctx context.Context)
}

// UserService handles account management for admins.
type UserService struct {
	repo       userRepository
	listener   rosterListener
	validator  *validator.Validate
	logger     *zap.Logger
	bcryptCost int
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, listener rosterListener, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, listener: listener, validator: validate, logger: logger, bcryptCost: bcrypt.DefaultCost}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Store(err, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	return users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Store(err, "failed to load user")
	}
	return user, nil
}

// Upsert creates or replaces an account keyed by id. New accounts need a
// password; for existing ones an empty password keeps the stored hash.
func (s *UserService) Upsert(ctx context.Context, req models.UpsertUserRequest, actor *models.JWTClaims) (*models.User, bool, error) {
	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	req.ClassName = strings.TrimSpace(req.ClassName)
	if err := s.validator.Struct(req); err != nil {
		return nil, false, validationError(err)
	}
	if req.Role == models.RoleStudent && (req.Grade == 0 || req.ClassName == "") {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "students need a grade and class")
	}

	user := &models.User{
		ID:        req.ID,
		Name:      req.Name,
		Role:      req.Role,
		Grade:     req.Grade,
		ClassName: req.ClassName,
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
		if err != nil {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
		}
		user.PasswordHash = string(hash)
	} else {
		if _, err := s.repo.FindByID(ctx, req.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, false, appErrors.Clone(appErrors.ErrValidation, "password is required for new accounts")
			}
			return nil, false, appErrors.Store(err, "failed to load user")
		}
	}

	created, err := s.repo.Upsert(ctx, user, &models.ActionLog{
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		Action:    models.ActionUserUpsert,
		TargetID:  strPtr(user.ID),
	})
	if err != nil {
		return nil, false, appErrors.Store(err, "failed to save user")
	}
	if s.listener != nil {
		s.listener.RosterChanged(ctx)
	}
	s.logger.Info("user saved", zap.String("user_id", user.ID), zap.Bool("created", created), zap.String("actor", actor.UserID))
	user.PasswordHash = ""
	return user, created, nil
}

// Delete removes an account. Admins cannot delete themselves.
func (s *UserService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if id == actor.UserID {
		return appErrors.Clone(appErrors.ErrConflict, "cannot delete your own account")
	}
	deleted, err := s.repo.Delete(ctx, id, &models.ActionLog{
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		Action:    models.ActionUserDelete,
		TargetID:  strPtr(id),
	})
	if err != nil {
		return appErrors.Store(err, "failed to delete user")
	}
	if !deleted {
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	if s.listener != nil {
		s.listener.RosterChanged(ctx)
	}
	s.logger.Info("user deleted", zap.String("user_id", id), zap.String("actor", actor.UserID))
	return nil
}
