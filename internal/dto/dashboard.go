package dto

import (
	"time"

	"github.com/noah-isme/journal-api/internal/models"
	"github.com/noah-isme/journal-api/pkg/schoolday"
)

// StudentDashboardResponse is the student's home screen.
type StudentDashboardResponse struct {
	Today     schoolday.Day  `json:"today"`
	OpenDay   schoolday.Day  `json:"open_day"`
	Entry     *models.Entry  `json:"entry,omitempty"`
	CanSubmit bool           `json:"can_submit"`
	History   []models.Entry `json:"history"`
	Chart     []ChartPoint   `json:"chart"`
}

// ChartPoint is one day of the student's rating chart, oldest first.
type ChartPoint struct {
	Day       schoolday.Day `json:"day"`
	Condition *int          `json:"condition"`
	Mental    *int          `json:"mental"`
}

// TeacherDashboardResponse covers one group on one day.
type TeacherDashboardResponse struct {
	Group       models.Group      `json:"group"`
	Day         schoolday.Day     `json:"day"`
	Entries     []models.Entry    `json:"entries"`
	Unsubmitted []models.UserInfo `json:"unsubmitted"`
	Stats       *models.Stats     `json:"stats"`
}

// AdminDashboardResponse is the school-wide overview.
type AdminDashboardResponse struct {
	Stats  *models.Stats      `json:"stats"`
	Logs   []models.ActionLog `json:"logs"`
	System SystemMetrics      `json:"system"`
}

// SystemMetrics is a lightweight view of the process counters.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"avg_request_duration_ms"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	Submissions              uint64    `json:"submissions"`
	Reviews                  uint64    `json:"reviews"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
