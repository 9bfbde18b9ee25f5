package model

import "time"

// ProgressEvent is a wire-only notification describing one pipeline or
// import step. Events are best-effort: they are never persisted and
// delivery is not guaranteed.
type ProgressEvent struct {
	TaskID     string         `json:"taskId"`
	Step       int            `json:"step"`
	TotalSteps int            `json:"totalSteps"`
	Status     string         `json:"status"`
	Message    string         `json:"message"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
}
