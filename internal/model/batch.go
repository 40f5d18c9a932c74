package model

import "time"

// BatchRun describes one fleet-wide refresh campaign.
type BatchRun struct {
	ID                 string        `json:"id,omitempty"`
	Status             BatchStatus   `json:"status"`
	Strategy           BatchStrategy `json:"strategy,omitempty"`
	TotalLocations     int           `json:"totalLocations"`
	CompletedLocations int           `json:"completedLocations"`
	FailedLocations    int           `json:"failedLocations"`
	CurrentLocationID  string        `json:"currentLocationId,omitempty"`
	StartedAt          *time.Time    `json:"startedAt,omitempty"`
	FinishedAt         *time.Time    `json:"finishedAt,omitempty"`
	Delay              time.Duration `json:"-"`
	DelayMinutes       float64       `json:"delayMinutes"`
	FailureReason      string        `json:"failureReason,omitempty"`
}

// Remaining is the number of locations not yet processed.
func (r BatchRun) Remaining() int {
	n := r.TotalLocations - r.CompletedLocations - r.FailedLocations
	if n < 0 {
		return 0
	}
	return n
}

// BatchProgress is a point-in-time view of a run plus its projected end.
type BatchProgress struct {
	BatchRun
	EstimatedCompletion *time.Time `json:"estimatedCompletion,omitempty"`
}

// BatchStartRequest is the control-surface payload for starting a campaign.
type BatchStartRequest struct {
	Strategy     BatchStrategy `json:"strategy" validate:"required,oneof=ALL_LOCATIONS STALE_ONLY"`
	DelayMinutes *int          `json:"delayMinutes" validate:"omitempty,min=0,max=1440"`
	StaleDays    *int          `json:"staleDays" validate:"omitempty,min=1,max=365"`
}

type BatchStartResponse struct {
	RunID  string      `json:"runId"`
	Status BatchStatus `json:"status"`
}

// CreateJobRequest is the control-surface payload for a single job.
type CreateJobRequest struct {
	LocationID string   `json:"locationId" validate:"required"`
	Platform   Platform `json:"platform" validate:"required"`
	JobKind    JobKind  `json:"jobKind" validate:"required"`
	Slot       *int     `json:"slot" validate:"omitempty,min=0,max=11"`
}

// AnalysisRequest asks for the full per-platform fan-out for a location.
type AnalysisRequest struct {
	LocationID string `json:"locationId" validate:"required"`
}

// AnalysisSummary reports how a full analysis fan-out went.
type AnalysisSummary struct {
	LocationID string   `json:"locationId"`
	JobIDs     []string `json:"jobIds"`
	Created    int      `json:"created"`
	Failed     int      `json:"failed"`
	Err        error    `json:"-"`
}
