package api

import (
	"time"
)

// RunState represents the state of a whole run.
type RunState struct {
	Name       string      `json:"name"`
	RunID      string      `json:"runID"`
	Status     Status      `json:"status"`
	Tasks      []TaskState `json:"tasks,omitempty"`
	CreateTime *time.Time  `json:"createTime,omitempty"`
	StartTime  *time.Time  `json:"startTime,omitempty"`
	EndTime    *time.Time  `json:"endTime,omitempty"`
}

// TaskState represents the state of one task and its instances.
type TaskState struct {
	Name      string          `json:"name"`
	Tag       string          `json:"tag,omitempty"`
	Status    Status          `json:"status"`
	Instances []InstanceState `json:"instances,omitempty"`
	StartTime *time.Time      `json:"startTime,omitempty"`
	EndTime   *time.Time      `json:"endTime,omitempty"`
}

// InstanceState represents the state of one task instance.
type InstanceState struct {
	ID          string     `json:"id"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	Status      Status     `json:"status"`
	ExitCode    int        `json:"exitCode"`
	Attempts    int        `json:"attempts"`
	Workdir     string     `json:"workdir,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
}
