package process

import "time"

// Status is an externally consumable snapshot of one registry entry.
type Status struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	Port      uint16    `json:"port,omitempty"`
	Routes    []string  `json:"routes,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	ExitErr   string    `json:"exit_error,omitempty"`

	// Resource usage, sampled only while running.
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	MemoryRSS  uint64  `json:"memory_rss,omitempty"`
}
