package models

import (
	"time"

	"github.com/noah-isme/journal-api/pkg/schoolday"
)

// ReviewState gates resubmission of an entry.
type ReviewState string

const (
	ReviewUnread ReviewState = "unread"
	ReviewRead   ReviewState = "read"
)

// Ratings are the ordinal self-ratings. A nil field was not answered.
type Ratings struct {
	Condition *int `db:"condition" json:"condition" validate:"omitempty,rating"`
	Mental    *int `db:"mental" json:"mental" validate:"omitempty,rating"`
}

// Complete reports whether every rating is present.
func (r Ratings) Complete() bool {
	return r.Condition != nil && r.Mental != nil
}

// Entry is one student's journal record for one day.
type Entry struct {
	ID             string        `db:"id" json:"id"`
	Seq            int64         `db:"seq" json:"-"`
	StudentID      string        `db:"student_id" json:"student_id"`
	StudentName    string        `db:"student_name" json:"student_name,omitempty"`
	Grade          int           `db:"grade" json:"grade"`
	ClassName      string        `db:"class_name" json:"class_name"`
	Day            schoolday.Day `db:"day" json:"day"`
	Ratings                      // condition, mental
	Reflection     string        `db:"reflection" json:"reflection"`
	Consultation   *string       `db:"consultation" json:"consultation,omitempty"`
	ReviewState    ReviewState   `db:"review_state" json:"review_state"`
	TeacherComment *string       `db:"teacher_comment" json:"teacher_comment,omitempty"`
	Acknowledged   bool          `db:"acknowledged" json:"acknowledged"`
	ReviewedBy     *string       `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time    `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// Group returns the entry's grade+class snapshot.
func (e Entry) Group() Group {
	return Group{Grade: e.Grade, ClassName: e.ClassName}
}

// IsRead reports whether a teacher has reviewed the entry.
func (e Entry) IsRead() bool { return e.ReviewState == ReviewRead }

// EntryUpdate is a partial update; nil fields are left untouched. Empty
// Consultation, TeacherComment and Reviewer values are stored as NULL.
// StudentID and Day exist so attempts to rekey an entry can be rejected.
type EntryUpdate struct {
	StudentID      *string
	Day            *schoolday.Day
	Ratings        *Ratings
	Reflection     *string
	Consultation   *string
	ReviewState    *ReviewState
	TeacherComment *string
	Acknowledged   *bool
	Reviewer       *string

	// RequireUnread restricts the update to entries still unread.
	RequireUnread bool
}

// SubmitOutcome is the transition a submission caused.
type SubmitOutcome string

const (
	OutcomeCreated     SubmitOutcome = "created"
	OutcomeResubmitted SubmitOutcome = "resubmitted"
)

// SubmitRequest is a student's daily journal submission.
type SubmitRequest struct {
	SubjectID    string        `json:"-" validate:"required"`
	Day          schoolday.Day `json:"day"`
	Ratings      Ratings       `json:"ratings"`
	Reflection   string        `json:"reflection" validate:"max=4000"`
	Consultation string        `json:"consultation" validate:"max=4000"`
}

// SubmitResult carries the outcome and the stored entry.
type SubmitResult struct {
	Outcome SubmitOutcome `json:"outcome"`
	Entry   *Entry        `json:"entry"`
}

// ReviewRequest is a teacher's read mark with optional comment.
type ReviewRequest struct {
	Annotation  string `json:"comment" validate:"max=2000"`
	Acknowledge bool   `json:"acknowledge"`
}

// DailyCount is the number of entries submitted on one day.
type DailyCount struct {
	Day   schoolday.Day `db:"day" json:"day"`
	Count int           `db:"count" json:"count"`
}
