package db

import (
	"time"
)

type Printer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	DeviceURI string    `json:"device_uri"`
	Stopped   bool      `json:"stopped"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobRecord is the row kept in job_history after a job leaves memory.
type JobRecord struct {
	ID                   int64      `json:"id"`
	Printer              string     `json:"printer"`
	JobID                int        `json:"job_id"`
	Name                 string     `json:"name"`
	Username             string     `json:"username"`
	Format               string     `json:"format"`
	State                string     `json:"state"`
	StateReasons         string     `json:"state_reasons"`
	Message              string     `json:"message"`
	Copies               int        `json:"copies"`
	CopiesCompleted      int        `json:"copies_completed"`
	Impressions          int        `json:"impressions"`
	ImpressionsCompleted int        `json:"impressions_completed"`
	CreatedAt            time.Time  `json:"created_at"`
	ProcessingAt         *time.Time `json:"processing_at"`
	CompletedAt          *time.Time `json:"completed_at"`
	RecordedAt           time.Time  `json:"recorded_at"`
}

type PrintCounter struct {
	ID      int64  `json:"id"`
	Printer string `json:"printer"`
	Date    string `json:"date"`
	Count   int64  `json:"count"`
}

type Webhook struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret,omitempty"`
	EventsJSON string    `json:"events_json"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Encrypted bool      `json:"encrypted"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AuditLog struct {
	ID          int64     `json:"id"`
	Action      string    `json:"action"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	DetailsJSON string    `json:"details_json"`
	IPAddress   string    `json:"ip_address"`
	CreatedAt   time.Time `json:"created_at"`
}

type HistoryFilter struct {
	Printer  string
	State    string
	Username string
	FromDate *time.Time
	ToDate   *time.Time
	OrderDir string
	Limit    int
	Offset   int
}

type AuditFilter struct {
	Action     string
	EntityType string
	EntityID   string
}
