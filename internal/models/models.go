package models

import (
	"time"
)

// JobStatus is the lifecycle state written into a queue record. Intake only
// ever produces queued records; later states belong to the scheduler.
type JobStatus string

const (
	JobStatusQueued JobStatus = "queued"
)

type Resource struct {
	GPU    int    `json:"gpu"`
	Preset string `json:"preset"`
	CPU    int    `json:"cpu"`
	Memory string `json:"memory"`
}

type Paths struct {
	JobSpec    string `json:"job_spec"`
	UserDir    string `json:"user_dir"`
	ScriptPath string `json:"script_path"`
	DataDir    string `json:"data_dir,omitempty"`
}

// JobMetadata is the queue record consumed by the scheduler. Field names and
// order are part of the on-disk contract.
type JobMetadata struct {
	JobName     string    `json:"job_name"`
	JobID       string    `json:"job_id"`
	SubmittedAt string    `json:"submitted_at"`
	Status      JobStatus `json:"status"`
	Type        string    `json:"type"`
	ID          string    `json:"id"`
	Resource    Resource  `json:"resource"`
	Script      string    `json:"script"`
	Paths       Paths     `json:"paths"`
	Index       any       `json:"index,omitempty"`
	Data        []string  `json:"data,omitempty"`
}

type FailureRecord struct {
	JobFile  string   `json:"job_file"`
	FailedAt string   `json:"failed_at"`
	Errors   []string `json:"errors"`
	Data     any      `json:"data"`
}

type Event struct {
	ID          int64     `json:"id"`
	At          time.Time `json:"at"`
	Type        string    `json:"type"`
	JobName     *string   `json:"job_name,omitempty"`
	JobFile     *string   `json:"job_file,omitempty"`
	PayloadJSON *string   `json:"payload_json,omitempty"`
}
