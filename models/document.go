package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RawDocument is a fetched, plain-text-normalized page from an external
// source. Immutable once fetched.
type RawDocument struct {
	ID          uuid.UUID  `json:"id"`
	SourceID    string     `json:"source_id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
}

// JobResult summarizes one pipeline run. Write-once, returned to the
// triggering caller.
type JobResult struct {
	TotalProcessed int      `json:"total_processed"`
	Created        int      `json:"created"`
	Updated        int      `json:"updated"`
	Skipped        int      `json:"skipped"`
	Errors         []string `json:"errors"`
	DurationMs     int64    `json:"duration_ms"`
}

// IngestRunStatus represents the lifecycle state of a recorded run
type IngestRunStatus string

const (
	RunStatusRunning   IngestRunStatus = "running"
	RunStatusCompleted IngestRunStatus = "completed"
	RunStatusFailed    IngestRunStatus = "failed"
)

// RunErrors is a JSONB column holding the capped per-document error sample
type RunErrors []string

// Value implements driver.Valuer for JSONB
func (r RunErrors) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for JSONB
func (r *RunErrors) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	if len(bytes) == 0 {
		*r = nil
		return nil
	}
	return json.Unmarshal(bytes, r)
}

// IngestRun is the persisted ledger entry for one pipeline run, reviewed
// from the admin dashboard.
type IngestRun struct {
	ID          uuid.UUID       `json:"id"`
	Source      string          `json:"source"`
	DryRun      bool            `json:"dry_run"`
	Status      IngestRunStatus `json:"status"`
	Processed   int             `json:"processed"`
	Created     int             `json:"created"`
	Updated     int             `json:"updated"`
	Skipped     int             `json:"skipped"`
	Errors      RunErrors       `json:"errors"`
	DurationMs  int64           `json:"duration_ms"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
