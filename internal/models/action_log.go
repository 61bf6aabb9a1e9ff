package models

import "time"

// Action labels written to the action log.
const (
	ActionSubmit      = "submit"
	ActionResubmit    = "resubmit"
	ActionReview      = "review"
	ActionLogin       = "login"
	ActionUserUpsert  = "user_upsert"
	ActionUserDelete  = "user_delete"
	ActionEntriesWipe = "entries_reset"
	ActionLogsClear   = "logs_clear"
	ActionReportQueue = "report_request"
)

// ActionLog is an append-only audit row.
type ActionLog struct {
	ID        string    `db:"id" json:"id"`
	ActorID   string    `db:"actor_id" json:"actor_id"`
	ActorRole UserRole  `db:"actor_role" json:"actor_role"`
	Action    string    `db:"action" json:"action"`
	TargetID  *string   `db:"target_id" json:"target_id,omitempty"`
	Detail    *string   `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ActionLogFilter narrows log listings.
type ActionLogFilter struct {
	ActorID string
	Action  string
	Limit   int
}
