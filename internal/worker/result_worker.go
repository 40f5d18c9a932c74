package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/rentscope/api/internal/client"
	"github.com/rentscope/api/internal/model"
	"github.com/rentscope/api/internal/service"
	"github.com/rentscope/api/internal/storage"
)

type JobStore interface {
	Update(ctx context.Context, id string, fn storage.JobMutation) (*model.Job, error)
}

type PropertyIngester interface {
	IngestRecord(ctx context.Context, locationID, jobID string, attempt int, p model.PropertyPayload, seenAt time.Time) (int64, error)
}

type LocationToucher interface {
	TouchDataUpdated(ctx context.Context, id string, at time.Time) error
}

type DataNotifier interface {
	DataUpdated(event model.DataUpdatedEvent) <-chan struct{}
}

// ResultWorker consumes job results sent back by the worker fleet. Every
// handler is safe to run again for the same message.
type ResultWorker struct {
	jobs       JobStore
	properties PropertyIngester
	locations  LocationToucher
	notifier   DataNotifier
	archive    client.ResultArchive
	observer   service.JobObserver
	validate   *validator.Validate
	log        *zap.SugaredLogger
	now        func() time.Time
}

// NewResultWorker creates a result worker. archive may be nil.
func NewResultWorker(
	jobs JobStore,
	properties PropertyIngester,
	locations LocationToucher,
	notifier DataNotifier,
	archive client.ResultArchive,
	observer service.JobObserver,
	validate *validator.Validate,
	log *zap.SugaredLogger,
) *ResultWorker {
	if observer == nil {
		observer = service.NopObserver{}
	}
	return &ResultWorker{
		jobs:       jobs,
		properties: properties,
		locations:  locations,
		notifier:   notifier,
		archive:    archive,
		observer:   observer,
		validate:   validate,
		log:        log,
		now:        time.Now,
	}
}

// ProcessCompleted handles scrape:job.completed tasks.
func (w *ResultWorker) ProcessCompleted(ctx context.Context, t *asynq.Task) error {
	var event model.JobCompletedEvent
	if err := w.decode(t, &event); err != nil {
		return err
	}

	var stale, applied bool
	job, err := w.jobs.Update(ctx, event.JobID, func(j *model.Job) (bool, error) {
		if stale = event.Attempt < j.RetryCount; stale {
			return false, nil
		}
		applied = j.ApplyCompletion(event.PropertiesFound, event.OccurredAt)
		return applied, nil
	})
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", event.JobID, err)
	}
	if stale {
		w.log.Warnw("ignoring completion from an earlier attempt", "jobId", job.ID, "attempt", event.Attempt, "currentAttempt", job.RetryCount)
		return nil
	}
	if applied {
		w.observer.JobUpdated(job)
	} else {
		w.log.Warnw("completion received for failed job, keeping status and merging data", "jobId", job.ID)
	}

	touched := w.ingest(ctx, job, event.Attempt, event.Properties)

	if w.archive != nil {
		if key, err := w.archive.Store(ctx, job.LocationID, job.ID, t.Payload()); err != nil {
			w.log.Warnw("failed to archive raw result", "jobId", job.ID, "error", err)
		} else {
			w.log.Debugw("raw result archived", "jobId", job.ID, "key", key)
		}
	}

	if err := w.locations.TouchDataUpdated(ctx, job.LocationID, w.now()); err != nil {
		w.log.Warnw("failed to bump location data timestamp", "locationId", job.LocationID, "error", err)
	}

	w.notifier.DataUpdated(model.DataUpdatedEvent{
		LocationID:        job.LocationID,
		JobID:             job.ID,
		PropertiesTouched: touched,
		OccurredAt:        w.now(),
	})

	w.log.Infow("job result ingested",
		"jobId", job.ID,
		"locationId", job.LocationID,
		"reported", event.PropertiesFound,
		"ingested", touched,
		"skipped", len(event.Properties)-touched,
	)
	return nil
}

// ProcessFailed handles scrape:job.failed tasks.
func (w *ResultWorker) ProcessFailed(ctx context.Context, t *asynq.Task) error {
	var event model.JobFailedEvent
	if err := w.decode(t, &event); err != nil {
		return err
	}

	var stale, applied bool
	job, err := w.jobs.Update(ctx, event.JobID, func(j *model.Job) (bool, error) {
		if stale = event.Attempt < j.RetryCount; stale {
			return false, nil
		}
		applied = j.ApplyFailure(event.ErrorMessage, event.OccurredAt)
		return applied, nil
	})
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", event.JobID, err)
	}
	switch {
	case stale:
		w.log.Warnw("ignoring failure from an earlier attempt", "jobId", job.ID, "attempt", event.Attempt, "currentAttempt", job.RetryCount)
		return nil
	case !applied:
		w.log.Warnw("failure received for completed job, ignoring", "jobId", job.ID, "error", event.ErrorMessage)
		return nil
	}
	w.observer.JobUpdated(job)

	w.log.Infow("job failed by worker", "jobId", job.ID, "error", event.ErrorMessage)
	return nil
}

// ingest stores each record on its own and returns how many succeeded.
func (w *ResultWorker) ingest(ctx context.Context, job *model.Job, attempt int, records []model.PropertyPayload) int {
	seenAt := w.now()
	touched := 0
	for i, rec := range records {
		if err := w.validate.Struct(rec); err != nil {
			w.log.Warnw("skipping invalid property record", "jobId", job.ID, "index", i, "platformId", rec.PlatformID, "error", err)
			continue
		}
		if _, err := w.properties.IngestRecord(ctx, job.LocationID, job.ID, attempt, rec, seenAt); err != nil {
			w.log.Warnw("skipping property record", "jobId", job.ID, "index", i, "platformId", rec.PlatformID, "error", err)
			continue
		}
		touched++
	}
	return touched
}

// decode rejects malformed messages permanently so they go to the archive
// instead of being retried.
func (w *ResultWorker) decode(t *asynq.Task, v interface{}) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("malformed %s message: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if err := w.validate.Struct(v); err != nil {
		return fmt.Errorf("invalid %s message: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}
