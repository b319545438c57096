package server

import "time"

// Status is what the companion UI reports about the current session.
type Status struct {
	RunID     string        `json:"runId"`
	Variant   string        `json:"variant"`
	Label     string        `json:"label"`
	State     string        `json:"state"`
	StartedAt time.Time     `json:"startedAt"`
	Stages    []StageStatus `json:"stages"`
}

// StageStatus is the latest run of one stage.
type StageStatus struct {
	Category   string    `json:"category"`
	Trigger    string    `json:"trigger"`
	Written    []string  `json:"written"`
	Skipped    []string  `json:"skipped,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"durationMs"`
	FinishedAt time.Time `json:"finishedAt"`
}

// StatusSource provides the session status on demand.
type StatusSource interface {
	Status() Status
}

// StatusFunc adapts a function to StatusSource.
type StatusFunc func() Status

func (f StatusFunc) Status() Status { return f() }
