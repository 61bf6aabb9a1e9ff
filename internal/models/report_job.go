package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/noah-isme/journal-api/pkg/schoolday"
)

// ReportType enumerates the journal exports.
type ReportType string

const (
	// ReportTypeEntries lists every entry in the range.
	ReportTypeEntries ReportType = "entries"
	// ReportTypeSummary renders aggregated stats plus the daily trend.
	ReportTypeSummary ReportType = "summary"
)

// ReportFormat enumerates supported export formats.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ReportStatus captures background job lifecycle states.
type ReportStatus string

const (
	ReportStatusQueued     ReportStatus = "QUEUED"
	ReportStatusProcessing ReportStatus = "PROCESSING"
	ReportStatusFinished   ReportStatus = "FINISHED"
	ReportStatusFailed     ReportStatus = "FAILED"
)

// ReportJob persisted background job metadata.
type ReportJob struct {
	ID           string          `db:"id" json:"id"`
	Type         ReportType      `db:"type" json:"type"`
	Params       ReportJobParams `db:"params" json:"params"`
	Status       ReportStatus    `db:"status" json:"status"`
	Progress     int             `db:"progress" json:"progress"`
	ResultPath   *string         `db:"result_path" json:"-"`
	CreatedBy    string          `db:"created_by" json:"created_by"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
}

// ReportJobParams is persisted as JSONB.
type ReportJobParams struct {
	From      schoolday.Day `json:"from"`
	To        schoolday.Day `json:"to"`
	Grade     int           `json:"grade,omitempty"`
	ClassName string        `json:"class_name,omitempty"`
	Format    ReportFormat  `json:"format"`
}

// Range returns the requested day range.
func (p ReportJobParams) Range() schoolday.DayRange {
	return schoolday.DayRange{From: p.From, To: p.To}
}

// Group returns the requested group; zero means the whole school.
func (p ReportJobParams) Group() Group {
	return Group{Grade: p.Grade, ClassName: p.ClassName}
}

// Value marshals params to JSON for persistence.
func (p ReportJobParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal report job params: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the params struct.
func (p *ReportJobParams) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*p = ReportJobParams{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ReportJobParams", value)
	}
	if len(data) == 0 {
		*p = ReportJobParams{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal report job params: %w", err)
	}
	return nil
}

// ReportRequest asks for an asynchronous export.
type ReportRequest struct {
	Type      ReportType    `json:"type" validate:"required,oneof=entries summary"`
	From      schoolday.Day `json:"from"`
	To        schoolday.Day `json:"to"`
	Grade     int           `json:"grade" validate:"gte=0,lte=12"`
	ClassName string        `json:"class_name" validate:"max=16"`
	Format    ReportFormat  `json:"format" validate:"omitempty,oneof=csv pdf"`
}

// ReportStatusResponse is returned when polling a job.
type ReportStatusResponse struct {
	ID          string       `json:"id"`
	Type        ReportType   `json:"type"`
	Status      ReportStatus `json:"status"`
	Progress    int          `json:"progress"`
	DownloadURL *string      `json:"download_url,omitempty"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	Error       *string      `json:"error,omitempty"`
}
