package models

import "time"

// SinkOutcome reports what a single sink did during finalize.
type SinkOutcome struct {
	Name    string `json:"name"`
	Path    string `json:"path,omitempty"`
	Written int    `json:"written"`
	Error   string `json:"error,omitempty"`
}

// RunSummary describes one complete harvest run. It is logged at the end of
// the run and delivered to the optional webhook.
type RunSummary struct {
	URL         string        `json:"url"`
	Mode        string        `json:"mode"`
	Pages       int           `json:"pages"`
	Records     int           `json:"records"`
	Termination string        `json:"termination,omitempty"`
	Partial     bool          `json:"partial"`
	Sinks       []SinkOutcome `json:"sinks,omitempty"`
	ErrorCode   string        `json:"error_code,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
}
