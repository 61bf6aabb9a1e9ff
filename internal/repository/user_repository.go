package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/journal-api/internal/models"
)

const userColumns = `id, name, role, grade, class_name, password_hash, created_at, updated_at`

// UserRepository provides database access for accounts.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a user by identifier; sql.ErrNoRows when absent.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	b := &binder{}
	var conds []string
	if filter.Role != nil {
		conds = append(conds, "role = "+b.bind(string(*filter.Role)))
	}
	if filter.Group != nil {
		conds = append(conds, groupConds(b, "", *filter.Group)...)
	}
	if filter.Search != "" {
		p := b.bind("%" + strings.ToLower(filter.Search) + "%")
		conds = append(conds, fmt.Sprintf("(LOWER(id) LIKE %s OR LOWER(name) LIKE %s)", p, p))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	listQuery := fmt.Sprintf("SELECT %s FROM users%s ORDER BY role ASC, grade ASC, class_name ASC, id ASC LIMIT %d OFFSET %d",
		userColumns, where, pageSize, (page-1)*pageSize)
	users := make([]models.User, 0)
	if err := r.db.SelectContext(ctx, &users, listQuery, b.args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM users"+where, b.args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	return users, total, nil
}

// ListStudents returns the students of group ordered by id. A zero group
// returns every student.
func (r *UserRepository) ListStudents(ctx context.Context, group models.Group) ([]models.User, error) {
	b := &binder{}
	conds := append([]string{"role = " + b.bind(string(models.RoleStudent))}, groupConds(b, "", group)...)
	query := fmt.Sprintf("SELECT %s FROM users WHERE %s ORDER BY grade ASC, class_name ASC, id ASC", userColumns, strings.Join(conds, " AND "))
	users := make([]models.User, 0)
	if err := r.db.SelectContext(ctx, &users, query, b.args...); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return users, nil
}

// ListGroups returns every distinct student group.
func (r *UserRepository) ListGroups(ctx context.Context) ([]models.Group, error) {
	const query = `SELECT DISTINCT grade, class_name FROM users WHERE role = $1 ORDER BY grade ASC, class_name ASC`
	groups := make([]models.Group, 0)
	if err := r.db.SelectContext(ctx, &groups, query, string(models.RoleStudent)); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// Upsert inserts or replaces a user keyed by id and reports whether the row
// was created. An empty PasswordHash keeps the stored hash. A non-nil log is
// written in the same transaction; an unset Detail records the outcome.
func (r *UserRepository) Upsert(ctx context.Context, user *models.User, log *models.ActionLog) (bool, error) {
	now := time.Now().UTC()
	user.UpdatedAt = now
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	const query = `INSERT INTO users (id, name, role, grade, class_name, password_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role, grade = EXCLUDED.grade,
class_name = EXCLUDED.class_name,
password_hash = CASE WHEN EXCLUDED.password_hash = '' THEN users.password_hash ELSE EXCLUDED.password_hash END,
updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted`
	var inserted bool
	err := inTx(ctx, r.db, "upsert user", func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, query, user.ID, user.Name, string(user.Role), user.Grade, user.ClassName,
			user.PasswordHash, user.CreatedAt, user.UpdatedAt).Scan(&inserted)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		if log == nil {
			return nil
		}
		if log.Detail == nil {
			detail := "updated as " + string(user.Role)
			if inserted {
				detail = "created as " + string(user.Role)
			}
			log.Detail = &detail
		}
		return insertActionLog(ctx, tx, log)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// Delete removes a user and, by cascade, their entries. It reports whether a
// row existed. A non-nil log is written in the same transaction, and only
// when a row was removed.
func (r *UserRepository) Delete(ctx context.Context, id string, log *models.ActionLog) (bool, error) {
	deleted := false
	err := inTx(ctx, r.db, "delete user", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete user rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}
		deleted = true
		if log == nil {
			return nil
		}
		return insertActionLog(ctx, tx, log)
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}
