package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusError      = "error"
)

// DefaultResultsLimit is used when a start request omits results_limit.
const DefaultResultsLimit = 200

// Job tracks one scraping and analysis request. The API returns a job_id on
// POST /api/v1/scrapings; the external workflow engine reports progress through
// the callback endpoint until status is completed or error.
type Job struct {
	ID             uuid.UUID  `db:"id"              json:"id"`
	OwnerID        uuid.UUID  `db:"owner_id"        json:"owner_id"`
	InputURLs      []string   `db:"input_urls"      json:"input_urls"`
	ResultsLimit   int        `db:"results_limit"   json:"results_limit"`
	Status         string     `db:"status"          json:"status"`
	CurrentStep    *string    `db:"current_step"    json:"current_step,omitempty"`
	Progress       int        `db:"progress"        json:"progress"`
	SpreadsheetURL *string    `db:"spreadsheet_url" json:"spreadsheet_url,omitempty"`
	AnalysisURL    *string    `db:"analysis_url"    json:"analysis_url,omitempty"`
	AssistantID    *string    `db:"assistant_id"    json:"assistant_id,omitempty"`
	AssistantURL   *string    `db:"assistant_url"   json:"assistant_url,omitempty"`
	ThreadID       *string    `db:"thread_id"       json:"thread_id,omitempty"`
	ErrorMessage   *string    `db:"error_message"   json:"error_message,omitempty"`
	CreatedAt      time.Time  `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"      json:"updated_at"`
	CompletedAt    *time.Time `db:"completed_at"    json:"completed_at,omitempty"`
	// Revision starts at 1 and grows by one with every applied JobUpdate.
	Revision int64 `db:"revision" json:"-"`
}

// ChatReady reports whether an assistant has been provisioned for the job.
func (j *Job) ChatReady() bool {
	return j.AssistantID != nil && *j.AssistantID != ""
}

// IsTerminalStatus reports whether status is completed or error.
func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusError
}

// ValidJobStatus reports whether status is one of the four job states.
func ValidJobStatus(status string) bool {
	switch status {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusError:
		return true
	}
	return false
}

// JobUpdate is a partial update to a Job. A nil field means "not supplied";
// only supplied fields are written.
type JobUpdate struct {
	Status         *string `json:"status,omitempty"`
	CurrentStep    *string `json:"current_step,omitempty"`
	Progress       *int    `json:"progress,omitempty"`
	SpreadsheetURL *string `json:"spreadsheet_url,omitempty"`
	AnalysisURL    *string `json:"analysis_url,omitempty"`
	AssistantID    *string `json:"assistant_id,omitempty"`
	AssistantURL   *string `json:"assistant_url,omitempty"`
	ErrorMessage   *string `json:"error_message,omitempty"`
}

// IsEmpty reports whether no field is supplied.
func (u JobUpdate) IsEmpty() bool {
	return u.Status == nil && u.CurrentStep == nil && u.Progress == nil &&
		u.SpreadsheetURL == nil && u.AnalysisURL == nil && u.AssistantID == nil &&
		u.AssistantURL == nil && u.ErrorMessage == nil
}

// Apply merges the supplied fields into j, bumps Revision and stamps
// UpdatedAt. CompletedAt is stamped with now when the job enters a terminal
// status and kept as is on repeated terminal updates. It is cleared if a late
// callback moves the job back to a non-terminal status, so CompletedAt != nil
// iff the status is terminal.
func (u JobUpdate) Apply(j *Job, now time.Time) {
	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.CurrentStep != nil {
		j.CurrentStep = u.CurrentStep
	}
	if u.Progress != nil {
		j.Progress = *u.Progress
	}
	if u.SpreadsheetURL != nil {
		j.SpreadsheetURL = u.SpreadsheetURL
	}
	if u.AnalysisURL != nil {
		j.AnalysisURL = u.AnalysisURL
	}
	if u.AssistantID != nil {
		j.AssistantID = u.AssistantID
	}
	if u.AssistantURL != nil {
		j.AssistantURL = u.AssistantURL
	}
	if u.ErrorMessage != nil {
		j.ErrorMessage = u.ErrorMessage
	}
	switch {
	case IsTerminalStatus(j.Status) && j.CompletedAt == nil:
		t := now
		j.CompletedAt = &t
	case !IsTerminalStatus(j.Status):
		j.CompletedAt = nil
	}
	j.UpdatedAt = now
	j.Revision++
}
