package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/journal-api/internal/models"
	appErrors "github.com/noah-isme/journal-api/pkg/errors"
	"github.com/noah-isme/journal-api/pkg/database"
	"github.com/noah-isme/journal-api/pkg/schoolday"
)

// ErrDuplicateKey is returned when an entry already exists for (student, day).
var ErrDuplicateKey = errors.New("entry already exists for student and day")

const entrySelect = `SELECT e.id, e.seq, e.student_id, COALESCE(u.name, '') AS student_name, e.grade, e.class_name, e.day,
e.condition, e.mental, e.reflection, e.consultation, e.review_state, e.teacher_comment, e.acknowledged,
e.reviewed_by, e.reviewed_at, e.created_at, e.updated_at
FROM entries e LEFT JOIN users u ON u.id = e.student_id`

// EntryRepository persists journal entries. One row per (student_id, day)
// is enforced by the entries_student_day_key constraint.
type EntryRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewEntryRepository constructs the repository.
func NewEntryRepository(db *sqlx.DB) *EntryRepository {
	return &EntryRepository{db: db, now: time.Now}
}

// FindByKey returns the entry for studentID on day, or nil when there is none.
func (r *EntryRepository) FindByKey(ctx context.Context, studentID string, day schoolday.Day) (*models.Entry, error) {
	query := entrySelect + ` WHERE e.student_id = $1 AND e.day = $2`
	var entry models.Entry
	if err := r.db.GetContext(ctx, &entry, query, studentID, day); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find entry by key: %w", err)
	}
	return &entry, nil
}

// GetByID returns an entry by identifier; sql.ErrNoRows when absent or when
// id is not a UUID.
func (r *EntryRepository) GetByID(ctx context.Context, id string) (*models.Entry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, sql.ErrNoRows
	}
	query := entrySelect + ` WHERE e.id = $1`
	var entry models.Entry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return &entry, nil
}

// Insert stores a new unread entry and returns its id. ErrDuplicateKey means
// another writer created the (student, day) row first. A non-nil log is
// written in the same transaction, targeting the new entry.
func (r *EntryRepository) Insert(ctx context.Context, entry *models.Entry, log *models.ActionLog) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := r.now().UTC()
	entry.CreatedAt, entry.UpdatedAt = now, now
	entry.ReviewState = models.ReviewUnread

	const query = `INSERT INTO entries (id, student_id, grade, class_name, day, condition, mental, reflection, consultation, review_state, acknowledged, created_at, updated_at)
VALUES (:id, :student_id, :grade, :class_name, :day, :condition, :mental, :reflection, :consultation, :review_state, :acknowledged, :created_at, :updated_at)
ON CONFLICT (student_id, day) DO NOTHING`
	err := inTx(ctx, r.db, "insert entry", func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, query, entry)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("insert entry: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert entry rows affected: %w", err)
		}
		if n == 0 {
			return ErrDuplicateKey
		}
		if log == nil {
			return nil
		}
		if log.TargetID == nil {
			id := entry.ID
			log.TargetID = &id
		}
		return insertActionLog(ctx, tx, log)
	})
	if err != nil {
		return "", err
	}
	return entry.ID, nil
}

// Update applies a partial update and reports whether a row changed. With
// RequireUnread set, a row that is already read is left alone and false is
// returned. Touching StudentID or Day fails with ImmutableField. A non-nil
// log is written in the same transaction, and only when a row changed.
func (r *EntryRepository) Update(ctx context.Context, id string, upd models.EntryUpdate, log *models.ActionLog) (bool, error) {
	if upd.StudentID != nil || upd.Day != nil {
		return false, appErrors.Clone(appErrors.ErrImmutableField, "student and day of an entry cannot be changed")
	}

	b := &binder{}
	var set []string
	if upd.Ratings != nil {
		set = append(set, "condition = "+b.bind(upd.Ratings.Condition), "mental = "+b.bind(upd.Ratings.Mental))
	}
	if upd.Reflection != nil {
		set = append(set, "reflection = "+b.bind(*upd.Reflection))
	}
	if upd.Consultation != nil {
		set = append(set, "consultation = "+b.bind(nullIfEmpty(*upd.Consultation)))
	}
	if upd.ReviewState != nil {
		set = append(set, "review_state = "+b.bind(string(*upd.ReviewState)))
	}
	if upd.TeacherComment != nil {
		set = append(set, "teacher_comment = "+b.bind(nullIfEmpty(*upd.TeacherComment)))
	}
	if upd.Acknowledged != nil {
		set = append(set, "acknowledged = "+b.bind(*upd.Acknowledged))
	}
	if upd.Reviewer != nil {
		if *upd.Reviewer == "" {
			set = append(set, "reviewed_by = NULL", "reviewed_at = NULL")
		} else {
			now := r.now().UTC()
			set = append(set, "reviewed_by = "+b.bind(*upd.Reviewer), "reviewed_at = "+b.bind(now))
		}
	}
	if len(set) == 0 {
		return false, nil
	}
	set = append(set, "updated_at = "+b.bind(r.now().UTC()))

	query := fmt.Sprintf("UPDATE entries SET %s WHERE id = %s", strings.Join(set, ", "), b.bind(id))
	if upd.RequireUnread {
		query += " AND review_state = " + b.bind(string(models.ReviewUnread))
	}

	changed := false
	err := inTx(ctx, r.db, "update entry", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, b.args...)
		if err != nil {
			return fmt.Errorf("update entry: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update entry rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}
		changed = true
		if log == nil {
			return nil
		}
		return insertActionLog(ctx, tx, log)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ListByGroup returns the group's entries within rng, newest day first and
// in insertion order within a day. A zero group lists every entry.
func (r *EntryRepository) ListByGroup(ctx context.Context, group models.Group, rng schoolday.DayRange) ([]models.Entry, error) {
	b := &binder{}
	conds := []string{"e.day BETWEEN " + b.bind(rng.From) + " AND " + b.bind(rng.To)}
	conds = append(conds, groupConds(b, "e.", group)...)

	query := fmt.Sprintf("%s WHERE %s ORDER BY e.day DESC, e.seq ASC", entrySelect, strings.Join(conds, " AND "))
	entries := make([]models.Entry, 0)
	if err := r.db.SelectContext(ctx, &entries, query, b.args...); err != nil {
		return nil, fmt.Errorf("list entries by group: %w", err)
	}
	return entries, nil
}

// ListBySubject returns a student's entries, newest day first.
func (r *EntryRepository) ListBySubject(ctx context.Context, studentID string) ([]models.Entry, error) {
	query := entrySelect + ` WHERE e.student_id = $1 ORDER BY e.day DESC`
	entries := make([]models.Entry, 0)
	if err := r.db.SelectContext(ctx, &entries, query, studentID); err != nil {
		return nil, fmt.Errorf("list entries by student: %w", err)
	}
	return entries, nil
}

// DailyCounts returns the number of entries per day within rng, oldest first.
func (r *EntryRepository) DailyCounts(ctx context.Context, group models.Group, rng schoolday.DayRange) ([]models.DailyCount, error) {
	b := &binder{}
	conds := []string{"day BETWEEN " + b.bind(rng.From) + " AND " + b.bind(rng.To)}
	conds = append(conds, groupConds(b, "", group)...)

	query := fmt.Sprintf("SELECT day, COUNT(*) AS count FROM entries WHERE %s GROUP BY day ORDER BY day ASC", strings.Join(conds, " AND "))
	counts := make([]models.DailyCount, 0)
	if err := r.db.SelectContext(ctx, &counts, query, b.args...); err != nil {
		return nil, fmt.Errorf("daily entry counts: %w", err)
	}
	return counts, nil
}

// DeleteAll wipes every entry and returns the number removed. A non-nil log
// is written in the same transaction; an unset Detail records the count.
func (r *EntryRepository) DeleteAll(ctx context.Context, log *models.ActionLog) (int64, error) {
	var n int64
	err := inTx(ctx, r.db, "delete entries", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM entries`)
		if err != nil {
			return fmt.Errorf("delete entries: %w", err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("delete entries rows affected: %w", err)
		}
		if log == nil {
			return nil
		}
		countDetail(log, n, "entries")
		return insertActionLog(ctx, tx, log)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func groupConds(b *binder, prefix string, group models.Group) []string {
	var conds []string
	if group.Grade != 0 {
		conds = append(conds, prefix+"grade = "+b.bind(group.Grade))
	}
	if group.ClassName != "" {
		conds = append(conds, prefix+"class_name = "+b.bind(group.ClassName))
	}
	return conds
}
