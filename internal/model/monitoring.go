package model

import "time"

// Ping statuses.
const (
	PingStatusOK    = "ok"
	PingStatusError = "error"
)

// ServerPing is one liveness probe result. Append-only; response time is in
// milliseconds, 0 on failure.
type ServerPing struct {
	ID           string    `json:"id" db:"id"`
	ServerID     string    `json:"server_id" db:"server_id"`
	ResponseTime int64     `json:"response_time" db:"response_time"`
	Status       string    `json:"status" db:"status"`
	Error        string    `json:"error,omitempty" db:"error"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Success reports whether the probe behind this ping succeeded.
func (p *ServerPing) Success() bool {
	return p.Status == PingStatusOK
}

// ServerStat is a closed fixed-window aggregate of pings. Immutable once
// written.
type ServerStat struct {
	ID                  string    `json:"id" db:"id"`
	ServerID            string    `json:"server_id" db:"server_id"`
	WindowStart         time.Time `json:"window_start" db:"window_start"`
	AverageResponseTime float64   `json:"average_response_time" db:"average_response_time"`
	MinResponseTime     int64     `json:"min_response_time" db:"min_response_time"`
	MaxResponseTime     int64     `json:"max_response_time" db:"max_response_time"`
	SuccessRate         float64   `json:"success_rate" db:"success_rate"`
	PingCount           int64     `json:"ping_count" db:"ping_count"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}

// ServerAccident is a recorded failure event for a server. At most one
// unresolved accident exists per server at a time.
type ServerAccident struct {
	ID           string    `json:"id" db:"id"`
	ServerID     string    `json:"server_id" db:"server_id"`
	Error        string    `json:"error" db:"error"`
	Details      string    `json:"details" db:"details"`
	ResponseTime int64     `json:"response_time" db:"response_time"`
	Resolved     bool      `json:"resolved" db:"resolved"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
