package client

import "time"

// Tracking mirrors one dashboard tracking row.
type Tracking struct {
	Script            string    `json:"script"`
	Platform          string    `json:"platform"`
	CallType          string    `json:"call_type"`
	Status            string    `json:"status"`
	PrevStatus        string    `json:"previous_status"`
	LastChecked       time.Time `json:"last_checked"`
	RequestsToday     int       `json:"requests_made_today"`
	DailyLimitReached bool      `json:"daily_limit_reached"`
	ForceRestart      bool      `json:"force_restart"`
	StoppedReason     string    `json:"stopped_reason,omitempty"`
	RunID             string    `json:"run_id,omitempty"`
}

// Call mirrors one call audit row.
type Call struct {
	ID              int64  `json:"id"`
	Timestamp       int64  `json:"timestamp"`
	Event           string `json:"event"`
	RequestURL      string `json:"request_url"`
	ResponseCode    int    `json:"response_code"`
	ResponseMessage string `json:"response_message"`
	RetryCount      int    `json:"retry_count"`
	Note            string `json:"note,omitempty"`
}

// Outcome mirrors one store-outcome audit row.
type Outcome struct {
	ID         int64  `json:"id"`
	CallID     int64  `json:"api_call_id"`
	RecordedAt int64  `json:"recorded_at"`
	Status     string `json:"status"`
	Detail     string `json:"detail"`
}

// Overview is the per-call-type one-screen summary: the tracking row, the
// latest call audit, and the latest store outcome.
type Overview struct {
	Tracking    *Tracking `json:"tracking,omitempty"`
	LastCall    *Call     `json:"last_call,omitempty"`
	LastOutcome *Outcome  `json:"last_outcome,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
