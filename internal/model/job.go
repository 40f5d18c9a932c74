package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobState is the lifecycle state of a Job. Each implementation carries only
// the fields that are valid in that state, so an in-progress job without a
// start time cannot be represented.
type JobState interface {
	Status() JobStatus
	isJobState()
}

type Pending struct{}

type InProgress struct {
	StartedAt time.Time
}

type Completed struct {
	StartedAt       time.Time
	CompletedAt     time.Time
	PropertiesFound int
}

// Failed may lack a start time: announce failures move a job straight from
// Pending to Failed.
type Failed struct {
	StartedAt    *time.Time
	CompletedAt  time.Time
	ErrorMessage string
}

func (Pending) Status() JobStatus    { return JobStatusPending }
func (InProgress) Status() JobStatus { return JobStatusInProgress }
func (Completed) Status() JobStatus  { return JobStatusCompleted }
func (Failed) Status() JobStatus     { return JobStatusFailed }

func (Pending) isJobState()    {}
func (InProgress) isJobState() {}
func (Completed) isJobState()  {}
func (Failed) isJobState()     {}

// Job is a single scrape task handed to the worker fleet.
type Job struct {
	ID         string
	LocationID string
	Platform   Platform
	Kind       JobKind
	State      JobState
	RetryCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewJob returns a pending job.
func NewJob(id, locationID string, platform Platform, kind JobKind, now time.Time) *Job {
	return &Job{
		ID:         id,
		LocationID: locationID,
		Platform:   platform,
		Kind:       kind,
		State:      Pending{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (j *Job) Status() JobStatus {
	if j.State == nil {
		return JobStatusPending
	}
	return j.State.Status()
}

// Start moves a pending job to in progress.
func (j *Job) Start(now time.Time) error {
	if _, ok := j.State.(Pending); !ok {
		return NewStateConflictError("job already started")
	}
	j.State = InProgress{StartedAt: now}
	j.UpdatedAt = now
	return nil
}

// Complete records a successful scrape. Only legal while in progress.
func (j *Job) Complete(propertiesFound int, now time.Time) error {
	s, ok := j.State.(InProgress)
	if !ok {
		return NewStateConflictError("job not in progress")
	}
	j.State = Completed{StartedAt: s.StartedAt, CompletedAt: now, PropertiesFound: propertiesFound}
	j.UpdatedAt = now
	return nil
}

// Fail marks the job failed from pending or in progress.
func (j *Job) Fail(message string, now time.Time) error {
	switch s := j.State.(type) {
	case Pending:
		j.State = Failed{CompletedAt: now, ErrorMessage: message}
	case InProgress:
		started := s.StartedAt
		j.State = Failed{StartedAt: &started, CompletedAt: now, ErrorMessage: message}
	default:
		return NewStateConflictError(fmt.Sprintf("cannot fail a %s job", j.Status()))
	}
	j.UpdatedAt = now
	return nil
}

// Reset returns a failed job to pending so it can be announced again.
func (j *Job) Reset(now time.Time) error {
	if _, ok := j.State.(Failed); !ok {
		return NewStateConflictError("can only retry failed jobs")
	}
	j.State = Pending{}
	j.RetryCount++
	j.UpdatedAt = now
	return nil
}

// ApplyCompletion is the consumer-side completion. Redelivered results
// overwrite the count and timestamp of an already completed job, and a job
// left pending by a crash between announce and start is started at the
// event time. It reports false when the job is failed and the event was
// not applied.
func (j *Job) ApplyCompletion(propertiesFound int, at time.Time) bool {
	switch s := j.State.(type) {
	case Pending:
		j.State = Completed{StartedAt: at, CompletedAt: at, PropertiesFound: propertiesFound}
	case InProgress:
		completedAt := at
		if completedAt.Before(s.StartedAt) {
			completedAt = s.StartedAt
		}
		j.State = Completed{StartedAt: s.StartedAt, CompletedAt: completedAt, PropertiesFound: propertiesFound}
	case Completed:
		completedAt := at
		if completedAt.Before(s.StartedAt) {
			completedAt = s.StartedAt
		}
		j.State = Completed{StartedAt: s.StartedAt, CompletedAt: completedAt, PropertiesFound: propertiesFound}
	default:
		return false
	}
	j.UpdatedAt = at
	return true
}

// ApplyFailure is the consumer-side failure. A redelivered failure
// overwrites the message; a failure arriving after completion is not
// applied and false is returned.
func (j *Job) ApplyFailure(message string, at time.Time) bool {
	switch s := j.State.(type) {
	case Pending, InProgress:
		_ = j.Fail(message, at)
		return true
	case Failed:
		j.State = Failed{StartedAt: s.StartedAt, CompletedAt: at, ErrorMessage: message}
		j.UpdatedAt = at
		return true
	}
	return false
}

func (j *Job) StartedAt() *time.Time {
	switch s := j.State.(type) {
	case InProgress:
		return &s.StartedAt
	case Completed:
		return &s.StartedAt
	case Failed:
		return s.StartedAt
	}
	return nil
}

func (j *Job) CompletedAt() *time.Time {
	switch s := j.State.(type) {
	case Completed:
		return &s.CompletedAt
	case Failed:
		return &s.CompletedAt
	}
	return nil
}

func (j *Job) PropertiesFound() *int {
	if s, ok := j.State.(Completed); ok {
		return &s.PropertiesFound
	}
	return nil
}

func (j *Job) ErrorMessage() *string {
	if s, ok := j.State.(Failed); ok {
		return &s.ErrorMessage
	}
	return nil
}

// ExecutionTime is completedAt - startedAt, or zero when either is unset.
func (j *Job) ExecutionTime() time.Duration {
	started, completed := j.StartedAt(), j.CompletedAt()
	if started == nil || completed == nil {
		return 0
	}
	d := completed.Sub(*started)
	if d < 0 {
		return 0
	}
	return d
}

// RestoreJobState rebuilds a state from its flattened storage columns and
// rejects rows that break the lifecycle invariants.
func RestoreJobState(status JobStatus, startedAt, completedAt *time.Time, propertiesFound *int, errorMessage *string) (JobState, error) {
	switch status {
	case JobStatusPending:
		return Pending{}, nil
	case JobStatusInProgress:
		if startedAt == nil {
			return nil, fmt.Errorf("in-progress job without startedAt")
		}
		return InProgress{StartedAt: *startedAt}, nil
	case JobStatusCompleted:
		if startedAt == nil || completedAt == nil || propertiesFound == nil {
			return nil, fmt.Errorf("completed job missing timestamps or count")
		}
		return Completed{StartedAt: *startedAt, CompletedAt: *completedAt, PropertiesFound: *propertiesFound}, nil
	case JobStatusFailed:
		if completedAt == nil {
			return nil, fmt.Errorf("failed job without completedAt")
		}
		msg := ""
		if errorMessage != nil {
			msg = *errorMessage
		}
		return Failed{StartedAt: startedAt, CompletedAt: *completedAt, ErrorMessage: msg}, nil
	}
	return nil, fmt.Errorf("unknown job status %q", status)
}

// JobResponse is the flat JSON view of a job.
type JobResponse struct {
	ID              string     `json:"id"`
	LocationID      string     `json:"locationId"`
	Platform        Platform   `json:"platform"`
	Kind            JobKind    `json:"jobKind"`
	Status          JobStatus  `json:"status"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	PropertiesFound *int       `json:"propertiesFound,omitempty"`
	ErrorMessage    *string    `json:"errorMessage,omitempty"`
	ExecutionTimeMs int64      `json:"executionTimeMs"`
	RetryCount      int        `json:"retryCount"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (j *Job) Response() JobResponse {
	return JobResponse{
		ID:              j.ID,
		LocationID:      j.LocationID,
		Platform:        j.Platform,
		Kind:            j.Kind,
		Status:          j.Status(),
		StartedAt:       j.StartedAt(),
		CompletedAt:     j.CompletedAt(),
		PropertiesFound: j.PropertiesFound(),
		ErrorMessage:    j.ErrorMessage(),
		ExecutionTimeMs: j.ExecutionTime().Milliseconds(),
		RetryCount:      j.RetryCount,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

func (j *Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.Response())
}
