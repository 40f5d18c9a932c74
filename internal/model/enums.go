package model

import "fmt"

// Platform is one of the listing sources scraped by the worker fleet.
type Platform string

const (
	PlatformAirbnb  Platform = "AIRBNB"
	PlatformVrbo    Platform = "VRBO"
	PlatformBooking Platform = "BOOKING"
)

// Platforms lists every supported platform in fan-out order. Adding a
// platform means adding it here and to the switch in Valid.
func Platforms() []Platform {
	return []Platform{PlatformAirbnb, PlatformVrbo, PlatformBooking}
}

func (p Platform) Valid() bool {
	switch p {
	case PlatformAirbnb, PlatformVrbo, PlatformBooking:
		return true
	}
	return false
}

func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if !p.Valid() {
		return "", NewValidationError(fmt.Sprintf("unknown platform %q", s))
	}
	return p, nil
}

// JobKind selects what the worker scrapes.
type JobKind string

const (
	// JobKindFullProfile is a deep scrape of current listings and availability.
	JobKindFullProfile JobKind = "FULL_PROFILE"
	// JobKindPriceSample is a point-in-time quote for a fixed future stay.
	JobKindPriceSample JobKind = "PRICE_SAMPLE"
)

func (k JobKind) Valid() bool {
	switch k {
	case JobKindFullProfile, JobKindPriceSample:
		return true
	}
	return false
}

func ParseJobKind(s string) (JobKind, error) {
	k := JobKind(s)
	if !k.Valid() {
		return "", NewValidationError(fmt.Sprintf("unknown job kind %q", s))
	}
	return k, nil
}

// Job status
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	if !st.Valid() {
		return "", NewValidationError(fmt.Sprintf("unknown job status %q", s))
	}
	return st, nil
}

// Batch run status
type BatchStatus string

const (
	BatchStatusNotStarted BatchStatus = "NOT_STARTED"
	BatchStatusRunning    BatchStatus = "RUNNING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusFailed     BatchStatus = "FAILED"
)

// BatchStrategy decides which locations a fleet campaign visits.
type BatchStrategy string

const (
	BatchStrategyAllLocations BatchStrategy = "ALL_LOCATIONS"
	BatchStrategyStaleOnly    BatchStrategy = "STALE_ONLY"
)

func (s BatchStrategy) Valid() bool {
	switch s {
	case BatchStrategyAllLocations, BatchStrategyStaleOnly:
		return true
	}
	return false
}
