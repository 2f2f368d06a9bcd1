package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("storage disabled")
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrAlreadyPosted is returned when a write would move a posted record back.
	ErrAlreadyPosted = errors.New("delivery already posted")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (Path ":memory:" keeps it in-process)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Job is a job posting.
type Job struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Company     string    `json:"company,omitempty"`
	Location    string    `json:"location,omitempty"`
	Salary      string    `json:"salary,omitempty"`
	JobType     string    `json:"jobType,omitempty"`
	Description string    `json:"description,omitempty"`
	PostedBy    string    `json:"postedBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// JobQuery filters SearchJobs. Text filters are case-insensitive substring matches.
type JobQuery struct {
	Text     string // title, company or description
	Location string
	Company  string
	JobType  string // exact, case-insensitive
	Limit    int
	Offset   int
}

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliveryPosted  DeliveryStatus = "posted"
	DeliveryFailed  DeliveryStatus = "failed"
)

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliveryPosted, DeliveryFailed:
		return true
	}
	return false
}

// DeliveryRecord tracks the broadcast of one job. At most one exists per JobID.
//
// Invariants kept by the store:
//   - posted => ExternalMessageID set, LastError empty
//   - failed => LastError set
//   - Attempts never decreases
type DeliveryRecord struct {
	JobID             string         `json:"jobId"`
	Status            DeliveryStatus `json:"status"`
	Attempts          int            `json:"attempts"`
	ExternalMessageID string         `json:"externalMessageId,omitempty"`
	PostedAt          *time.Time     `json:"postedAt,omitempty"`
	LastError         string         `json:"lastError,omitempty"`
	ClaimedUntil      *time.Time     `json:"claimedUntil,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// DeliveryFilter filters ListDeliveries. Empty Status matches all.
type DeliveryFilter struct {
	Status DeliveryStatus
	Limit  int
	Offset int
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time
	Actor    string
	Action   string
	Target   string
	OK       bool
	Error    string
	TookMS   int64
	MetaJSON string
}
