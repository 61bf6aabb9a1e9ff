package models

import (
	"fmt"
	"time"
)

// UserRole is the role tag carried by every account.
type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleTeacher UserRole = "teacher"
	RoleAdmin   UserRole = "admin"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// Group is the grade+class partition. The zero value means the whole school.
type Group struct {
	Grade     int    `db:"grade" json:"grade"`
	ClassName string `db:"class_name" json:"class_name"`
}

// IsZero reports whether g is the whole-school group.
func (g Group) IsZero() bool { return g.Grade == 0 && g.ClassName == "" }

// Complete reports whether g names a single class.
func (g Group) Complete() bool { return g.Grade != 0 && g.ClassName != "" }

// Covers reports whether other lies within g. An empty grade or class matches any.
func (g Group) Covers(other Group) bool {
	return (g.Grade == 0 || g.Grade == other.Grade) && (g.ClassName == "" || g.ClassName == other.ClassName)
}

func (g Group) String() string {
	if g.IsZero() {
		return "all"
	}
	return fmt.Sprintf("%d-%s", g.Grade, g.ClassName)
}

// User is an account row: students are journal subjects, teachers and admins are staff.
type User struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Role         UserRole  `db:"role" json:"role"`
	Grade        int       `db:"grade" json:"grade"`
	ClassName    string    `db:"class_name" json:"class_name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Group returns the user's grade+class.
func (u User) Group() Group {
	return Group{Grade: u.Grade, ClassName: u.ClassName}
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role     *UserRole
	Group    *Group
	Search   string
	Page     int
	PageSize int
}

// UpsertUserRequest creates or replaces an account. An empty password keeps the existing hash.
type UpsertUserRequest struct {
	ID        string   `json:"id" validate:"required,max=64"`
	Name      string   `json:"name" validate:"required,max=120"`
	Role      UserRole `json:"role" validate:"required,oneof=student teacher admin"`
	Grade     int      `json:"grade" validate:"gte=0,lte=12"`
	ClassName string   `json:"class_name" validate:"max=16"`
	Password  string   `json:"password" validate:"omitempty,min=4"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
