package client

import (
	"fmt"
	"time"
)

// ProcessStatus represents the status of a single process
type ProcessStatus struct {
	Name       string    `json:"name"`
	Running    bool      `json:"running"`
	PID        int       `json:"pid,omitempty"`
	Port       uint16    `json:"port,omitempty"`
	Routes     []string  `json:"routes,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	StoppedAt  time.Time `json:"stopped_at,omitempty"`
	ExitErr    string    `json:"exit_error,omitempty"`
	CPUPercent float64   `json:"cpu_percent,omitempty"`
	MemoryRSS  uint64    `json:"memory_rss,omitempty"`
}

// Route is one entry of the proxy route table
type Route struct {
	Pattern string `json:"pattern"`
	Process string `json:"process"`
	Port    uint16 `json:"port"`
}

// Result is the outcome for one process of a bulk operation
type Result struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HistoryEvent is one recorded lifecycle event
type HistoryEvent struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     struct {
		Name      string    `json:"name"`
		PID       int       `json:"pid"`
		Port      uint16    `json:"port,omitempty"`
		StartedAt time.Time `json:"started_at,omitempty"`
		StoppedAt time.Time `json:"stopped_at,omitempty"`
		ExitErr   string    `json:"exit_err,omitempty"`
	} `json:"record"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for non-2xx responses
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
