package models

import "github.com/noah-isme/journal-api/pkg/schoolday"

// Averages are rating means over fully rated entries.
type Averages struct {
	Condition float64 `json:"condition"`
	Mental    float64 `json:"mental"`
}

// Stats summarises a group's entries over a day range.
type Stats struct {
	Group        Group              `json:"group"`
	Range        schoolday.DayRange `json:"range"`
	TotalRecords int                `json:"total_records"`
	UnreadCount  int                `json:"unread_count"`
	ReadCount    int                `json:"read_count"`
	RatedRecords int                `json:"rated_records"`
	Averages     Averages           `json:"averages"`

	// Submission figures refer to Day, the last day of Range.
	Day               schoolday.Day `json:"day"`
	GroupSize         int           `json:"group_size"`
	SubmittedSubjects int           `json:"submitted_subjects"`
	SubmissionRate    float64       `json:"submission_rate"`
	SubmissionPercent int           `json:"submission_percent"`

	Daily []DailyCount `json:"daily"`
}
