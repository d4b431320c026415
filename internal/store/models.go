package store

import "time"

// Fixed keys of the key/value table
const (
	KeyComments = "xhs_comments"
	KeySettings = "xhs_settings"
)

// SessionRecord is one finished collection run
type SessionRecord struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Outcome    string    `json:"outcome"`
	Status     string    `json:"status"`
	Expected   int       `json:"expected"`
	Actual     int       `json:"actual"`
	Collected  int       `json:"collected"`
	HasEnd     bool      `json:"has_end"`
	Rate       int       `json:"rate"`
	StopReason string    `json:"stop_reason"`
	JSONPath   string    `json:"json_path"`
	CSVPath    string    `json:"csv_path"`
	Error      string    `json:"error"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Snapshot is the modal HTML captured at the end of a run
type Snapshot struct {
	SessionID  string    `json:"session_id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Expected   int       `json:"expected"`
	HTML       string    `json:"html"`
	CapturedAt time.Time `json:"captured_at"`
}
