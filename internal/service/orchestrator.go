package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rentscope/api/internal/model"
	"github.com/rentscope/api/internal/storage"
)

// JobStore persists jobs. State changes go through Update, which applies
// a mutation to the freshly locked row.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	Update(ctx context.Context, id string, fn storage.JobMutation) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, f storage.JobFilter) ([]*model.Job, error)
	FindTimedOut(ctx context.Context, cutoff time.Time) ([]*model.Job, error)
}

// LocationStore resolves the locations jobs are created for.
type LocationStore interface {
	Get(ctx context.Context, id string) (*model.Location, error)
	ListAll(ctx context.Context) ([]*model.Location, error)
	ListStale(ctx context.Context, cutoff time.Time) ([]*model.Location, error)
}

// Announcer hands a job to the worker fleet.
type Announcer interface {
	Announce(ctx context.Context, event model.JobCreatedEvent) error
}

// JobObserver is told about every persisted job state change.
type JobObserver interface {
	JobUpdated(job *model.Job)
}

// NopObserver ignores job updates.
type NopObserver struct{}

func (NopObserver) JobUpdated(*model.Job) {}

// Orchestrator creates, retries and reclaims scrape jobs.
type Orchestrator struct {
	jobs      JobStore
	locations LocationStore
	announcer Announcer
	planner   *SamplingPlanner
	observer  JobObserver
	log       *zap.SugaredLogger

	now   func() time.Time
	newID func() string
}

func NewOrchestrator(jobs JobStore, locations LocationStore, announcer Announcer, planner *SamplingPlanner, observer JobObserver, log *zap.SugaredLogger) *Orchestrator {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Orchestrator{
		jobs:      jobs,
		locations: locations,
		announcer: announcer,
		planner:   planner,
		observer:  observer,
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// CreateJob creates and announces one job. slot picks the sampling window
// for PRICE_SAMPLE jobs and is ignored for FULL_PROFILE.
func (o *Orchestrator) CreateJob(ctx context.Context, locationID string, platform model.Platform, kind model.JobKind, slot int) (*model.Job, error) {
	if !platform.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("unknown platform %q", platform))
	}
	if !kind.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("unknown job kind %q", kind))
	}

	window := o.planner.DefaultWindow()
	if kind == model.JobKindPriceSample {
		w, err := o.planner.Slot(slot)
		if err != nil {
			return nil, err
		}
		window = w
	}

	loc, err := o.locations.Get(ctx, locationID)
	if err != nil {
		return nil, err
	}
	return o.createForLocation(ctx, loc, platform, kind, window)
}

// RunFullAnalysis fans out a full profile per platform, then a price sample
// for every schedule slot and platform. Sub-job failures are collected in
// the summary; only failing to resolve the location returns an error.
func (o *Orchestrator) RunFullAnalysis(ctx context.Context, locationID string) (*model.AnalysisSummary, error) {
	loc, err := o.locations.Get(ctx, locationID)
	if err != nil {
		return nil, err
	}

	summary := &model.AnalysisSummary{LocationID: loc.ID, JobIDs: []string{}}
	submit := func(platform model.Platform, kind model.JobKind, window model.TimeWindow) {
		job, err := o.createForLocation(ctx, loc, platform, kind, window)
		if err != nil {
			o.log.Warnw("sub-job creation failed", "locationId", loc.ID, "platform", platform, "kind", kind, "error", err)
			summary.Failed++
			summary.Err = multierr.Append(summary.Err, fmt.Errorf("%s %s: %w", platform, kind, err))
			return
		}
		summary.Created++
		summary.JobIDs = append(summary.JobIDs, job.ID)
	}

	for _, platform := range model.Platforms() {
		submit(platform, model.JobKindFullProfile, o.planner.DefaultWindow())
	}
	for _, window := range o.planner.SamplingSchedule() {
		for _, platform := range model.Platforms() {
			submit(platform, model.JobKindPriceSample, window)
		}
	}

	o.log.Infow("full analysis scheduled", "locationId", loc.ID, "created", summary.Created, "failed", summary.Failed)
	return summary, nil
}

// Retry resets a failed job and announces it again with a fresh default window.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (*model.Job, error) {
	current, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if current.Status() != model.JobStatusFailed {
		return nil, model.NewStateConflictError("can only retry failed jobs")
	}
	loc, err := o.locations.Get(ctx, current.LocationID)
	if err != nil {
		return nil, err
	}

	job, err := o.jobs.Update(ctx, jobID, func(j *model.Job) (bool, error) {
		if err := j.Reset(o.now()); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	o.observer.JobUpdated(job)

	return o.announceAndStart(ctx, job, loc, o.planner.DefaultWindow())
}

// SweepTimeouts fails every in-progress job started more than threshold ago
// and returns how many were swept.
func (o *Orchestrator) SweepTimeouts(ctx context.Context, threshold time.Duration) (int, error) {
	now := o.now()
	stuck, err := o.jobs.FindTimedOut(ctx, now.Add(-threshold))
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-threshold)
	msg := fmt.Sprintf("job timed out after %d minutes", int(threshold.Minutes()))
	swept := 0
	var errs error
	for _, candidate := range stuck {
		// The row may have moved on since it was listed; decide again under the lock.
		var failed bool
		job, err := o.jobs.Update(ctx, candidate.ID, func(j *model.Job) (bool, error) {
			started := j.StartedAt()
			if j.Status() != model.JobStatusInProgress || started == nil || !started.Before(cutoff) {
				return false, nil
			}
			if err := j.Fail(msg, now); err != nil {
				return false, err
			}
			failed = true
			return true, nil
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", candidate.ID, err))
			continue
		}
		if !failed {
			o.log.Debugw("timeout sweep skipped job that moved on", "jobId", job.ID, "status", job.Status())
			continue
		}
		o.observer.JobUpdated(job)
		swept++
	}

	if swept > 0 {
		o.log.Infow("timed out jobs swept", "count", swept, "thresholdMinutes", int(threshold.Minutes()))
	}
	return swept, errs
}

func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return o.jobs.Get(ctx, jobID)
}

func (o *Orchestrator) ListJobs(ctx context.Context, f storage.JobFilter) ([]*model.Job, error) {
	return o.jobs.List(ctx, f)
}

func (o *Orchestrator) createForLocation(ctx context.Context, loc *model.Location, platform model.Platform, kind model.JobKind, window model.TimeWindow) (*model.Job, error) {
	job := model.NewJob(o.newID(), loc.ID, platform, kind, o.now())
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	return o.announceAndStart(ctx, job, loc, window)
}

// announceAndStart publishes a pending job, then starts it, or fails it
// when the publish fails. The publish error is returned in that case. A
// result that arrived before the start was recorded wins over the start.
func (o *Orchestrator) announceAndStart(ctx context.Context, job *model.Job, loc *model.Location, window model.TimeWindow) (*model.Job, error) {
	event := model.JobCreatedEvent{
		JobID:             job.ID,
		LocationID:        loc.ID,
		LocationName:      loc.Name,
		JobKind:           job.Kind,
		Platform:          job.Platform,
		SearchWindowStart: window.Start.Format(model.DateLayout),
		SearchWindowEnd:   window.End.Format(model.DateLayout),
		BoundingBox:       loc.BoundingBox,
		OccurredAt:        o.now(),
		Attempt:           job.RetryCount,
	}

	pendingOnly := func(transition func(j *model.Job) error) storage.JobMutation {
		return func(j *model.Job) (bool, error) {
			if j.Status() != model.JobStatusPending || j.RetryCount != event.Attempt {
				return false, nil
			}
			return true, transition(j)
		}
	}

	if announceErr := o.announcer.Announce(ctx, event); announceErr != nil {
		failed, err := o.jobs.Update(ctx, job.ID, pendingOnly(func(j *model.Job) error {
			return j.Fail(announceErr.Error(), o.now())
		}))
		if err != nil {
			o.log.Errorw("failed to record announce failure", "jobId", job.ID, "error", err)
			return nil, announceErr
		}
		o.observer.JobUpdated(failed)
		return nil, announceErr
	}

	started, err := o.jobs.Update(ctx, job.ID, pendingOnly(func(j *model.Job) error {
		return j.Start(o.now())
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	o.observer.JobUpdated(started)
	return started, nil
}
