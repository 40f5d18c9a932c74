package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rentscope/api/internal/model"
	"github.com/rentscope/api/internal/storage"
)

var orchestratorNow = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

type orchestratorFixture struct {
	orch      *Orchestrator
	jobs      *memJobs
	announcer *fakeAnnouncer
	observer  *recordingObserver
}

func newOrchestratorFixture(t *testing.T, locs ...*model.Location) *orchestratorFixture {
	t.Helper()
	if len(locs) == 0 {
		locs = []*model.Location{{
			ID:          "lisbon",
			Name:        "Lisbon",
			BoundingBox: &model.BoundingBox{SwLng: -9.2, SwLat: 38.7, NeLng: -9.1, NeLat: 38.8},
		}}
	}
	f := &orchestratorFixture{
		jobs:      newMemJobs(),
		announcer: &fakeAnnouncer{},
		observer:  &recordingObserver{},
	}
	planner := NewSamplingPlanner(fixedClock(orchestratorNow))
	f.orch = NewOrchestrator(f.jobs, newMemLocations(locs...), f.announcer, planner, f.observer, zap.NewNop().Sugar())
	f.orch.now = fixedClock(orchestratorNow)
	return f
}

func TestCreateJob_PriceSampleSlot(t *testing.T) {
	f := newOrchestratorFixture(t)

	job, err := f.orch.CreateJob(context.Background(), "lisbon", model.PlatformAirbnb, model.JobKindPriceSample, 1)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Status() != model.JobStatusInProgress {
		t.Errorf("status: got %s, want IN_PROGRESS", job.Status())
	}

	events := f.announcer.sent()
	if len(events) != 1 {
		t.Fatalf("events: got %d, want 1", len(events))
	}
	e := events[0]
	if e.SearchWindowStart != "2026-03-11" || e.SearchWindowEnd != "2026-03-18" {
		t.Errorf("window: got %s..%s, want today+60d..today+67d", e.SearchWindowStart, e.SearchWindowEnd)
	}
	if e.LocationName != "Lisbon" || e.BoundingBox == nil {
		t.Errorf("location details missing: %+v", e)
	}

	stored, _ := f.jobs.Get(context.Background(), job.ID)
	if stored.Status() != model.JobStatusInProgress {
		t.Errorf("stored status: got %s", stored.Status())
	}
}

func TestCreateJob_FullProfileUsesDefaultWindow(t *testing.T) {
	f := newOrchestratorFixture(t)

	if _, err := f.orch.CreateJob(context.Background(), "lisbon", model.PlatformBooking, model.JobKindFullProfile, 7); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	e := f.announcer.sent()[0]
	if e.SearchWindowStart != "2026-02-09" || e.SearchWindowEnd != "2026-02-16" {
		t.Errorf("window: got %s..%s", e.SearchWindowStart, e.SearchWindowEnd)
	}
}

func TestCreateJob_ValidationBeforeStateChange(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		platform model.Platform
		kind     model.JobKind
		slot     int
	}{
		{"unknown platform", "MYSPACE", model.JobKindFullProfile, 0},
		{"unknown kind", model.PlatformVrbo, "DEEP", 0},
		{"slot out of range", model.PlatformVrbo, model.JobKindPriceSample, 12},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.orch.CreateJob(ctx, "lisbon", tc.platform, tc.kind, tc.slot)
			if !errors.Is(err, model.ErrValidation) {
				t.Fatalf("got %v, want validation error", err)
			}
		})
	}
	if f.jobs.count() != 0 || len(f.announcer.sent()) != 0 {
		t.Error("validation failures must not persist or announce anything")
	}
}

func TestCreateJob_UnknownLocation(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.orch.CreateJob(context.Background(), "atlantis", model.PlatformVrbo, model.JobKindFullProfile, 0)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("got %v, want not found", err)
	}
	if f.jobs.count() != 0 {
		t.Error("no job should be persisted")
	}
}

func TestCreateJob_AnnounceFailureFailsJob(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.announcer.failIf = func(model.JobCreatedEvent) bool { return true }

	_, err := f.orch.CreateJob(context.Background(), "lisbon", model.PlatformVrbo, model.JobKindFullProfile, 0)
	if !errors.Is(err, model.ErrTransport) {
		t.Fatalf("got %v, want transport error", err)
	}

	if f.jobs.byStatus(model.JobStatusFailed) != 1 {
		t.Fatal("job should be persisted as FAILED")
	}
	jobs, _ := f.jobs.List(context.Background(), storage.JobFilter{})
	if msg := jobs[0].ErrorMessage(); msg == nil || !strings.Contains(*msg, "broker unavailable") {
		t.Errorf("errorMessage: got %v", msg)
	}
	if jobs[0].StartedAt() != nil {
		t.Error("a job never announced should have no startedAt")
	}
}

func TestRunFullAnalysis(t *testing.T) {
	f := newOrchestratorFixture(t)

	summary, err := f.orch.RunFullAnalysis(context.Background(), "lisbon")
	if err != nil {
		t.Fatalf("RunFullAnalysis: %v", err)
	}
	want := len(model.Platforms()) * 13
	if summary.Created != want || summary.Failed != 0 {
		t.Errorf("summary: got created=%d failed=%d, want %d/0", summary.Created, summary.Failed, want)
	}

	events := f.announcer.sent()
	for i, e := range events[:3] {
		if e.JobKind != model.JobKindFullProfile {
			t.Errorf("event %d: got %s, want FULL_PROFILE first", i, e.JobKind)
		}
	}
	if events[3].JobKind != model.JobKindPriceSample {
		t.Errorf("event 3: got %s, want PRICE_SAMPLE", events[3].JobKind)
	}
}

func TestRunFullAnalysis_SubJobFailureDoesNotAbort(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.announcer.failIf = func(e model.JobCreatedEvent) bool {
		return e.Platform == model.PlatformVrbo && e.JobKind == model.JobKindFullProfile
	}

	summary, err := f.orch.RunFullAnalysis(context.Background(), "lisbon")
	if err != nil {
		t.Fatalf("RunFullAnalysis: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("failed: got %d, want 1", summary.Failed)
	}
	if summary.Created != len(model.Platforms())*13-1 {
		t.Errorf("created: got %d", summary.Created)
	}
	if errs := multierr.Errors(summary.Err); len(errs) != 1 || !errors.Is(errs[0], model.ErrTransport) {
		t.Errorf("aggregated errors: got %v", errs)
	}
	if f.jobs.byStatus(model.JobStatusFailed) != 1 {
		t.Error("the failed sub-job should be recorded")
	}
}

func TestRunFullAnalysis_UnknownLocation(t *testing.T) {
	f := newOrchestratorFixture(t)
	if _, err := f.orch.RunFullAnalysis(context.Background(), "atlantis"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("got %v, want not found", err)
	}
}

func TestRetry(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	f.announcer.failIf = func(model.JobCreatedEvent) bool { return true }
	_, _ = f.orch.CreateJob(ctx, "lisbon", model.PlatformAirbnb, model.JobKindPriceSample, 5)
	jobs, _ := f.jobs.List(ctx, storage.JobFilter{Status: model.JobStatusFailed})
	failed := jobs[0]

	f.announcer.failIf = nil
	job, err := f.orch.Retry(ctx, failed.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if job.Status() != model.JobStatusInProgress || job.RetryCount != 1 {
		t.Errorf("got status %s retryCount %d", job.Status(), job.RetryCount)
	}
	if job.ErrorMessage() != nil {
		t.Error("error message should be cleared")
	}

	e := f.announcer.sent()[0]
	if e.SearchWindowStart != "2026-02-09" {
		t.Errorf("retry should use the default window, got %s", e.SearchWindowStart)
	}
	if e.Attempt != 1 {
		t.Errorf("attempt: got %d, want 1", e.Attempt)
	}
}

func TestRetry_OnlyFailedJobs(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	job, _ := f.orch.CreateJob(ctx, "lisbon", model.PlatformAirbnb, model.JobKindFullProfile, 0)
	_, err := f.orch.Retry(ctx, job.ID)
	if !errors.Is(err, model.ErrStateConflict) {
		t.Fatalf("got %v, want state conflict", err)
	}
	if err.Error() != "can only retry failed jobs" {
		t.Errorf("message: got %q", err.Error())
	}

	if _, err := f.orch.Retry(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing job: got %v, want not found", err)
	}
}

func TestSweepTimeouts(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	f.orch.now = fixedClock(orchestratorNow.Add(-3 * time.Hour))
	old, _ := f.orch.CreateJob(ctx, "lisbon", model.PlatformAirbnb, model.JobKindFullProfile, 0)
	f.orch.now = fixedClock(orchestratorNow.Add(-30 * time.Minute))
	recent, _ := f.orch.CreateJob(ctx, "lisbon", model.PlatformVrbo, model.JobKindFullProfile, 0)
	f.orch.now = fixedClock(orchestratorNow)

	n, err := f.orch.SweepTimeouts(ctx, 2*time.Hour)
	if err != nil {
		t.Fatalf("SweepTimeouts: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept: got %d, want 1", n)
	}

	got, _ := f.jobs.Get(ctx, old.ID)
	if got.Status() != model.JobStatusFailed || *got.ErrorMessage() != "job timed out after 120 minutes" {
		t.Errorf("old job: got %s %v", got.Status(), got.ErrorMessage())
	}
	got, _ = f.jobs.Get(ctx, recent.ID)
	if got.Status() != model.JobStatusInProgress {
		t.Errorf("recent job: got %s", got.Status())
	}
}

func TestObserverSeesStateChanges(t *testing.T) {
	f := newOrchestratorFixture(t)
	_, _ = f.orch.CreateJob(context.Background(), "lisbon", model.PlatformAirbnb, model.JobKindFullProfile, 0)

	if len(f.observer.updates) != 1 || f.observer.updates[0] != model.JobStatusInProgress {
		t.Errorf("updates: got %v", f.observer.updates)
	}
}

func TestSweepTimeouts_DoesNotOverwriteConcurrentCompletion(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	f.orch.now = fixedClock(orchestratorNow.Add(-3 * time.Hour))
	job, _ := f.orch.CreateJob(ctx, "lisbon", model.PlatformAirbnb, model.JobKindFullProfile, 0)
	f.orch.now = fixedClock(orchestratorNow)

	// The result lands after the sweep listed the job as stuck.
	f.jobs.afterFind = func() {
		_, err := f.jobs.Update(ctx, job.ID, func(j *model.Job) (bool, error) {
			return j.ApplyCompletion(5, orchestratorNow.Add(-time.Minute)), nil
		})
		if err != nil {
			t.Errorf("completion: %v", err)
		}
	}

	n, err := f.orch.SweepTimeouts(ctx, 2*time.Hour)
	if err != nil {
		t.Fatalf("SweepTimeouts: %v", err)
	}
	if n != 0 {
		t.Errorf("swept: got %d, want 0", n)
	}

	got, _ := f.jobs.Get(ctx, job.ID)
	if got.Status() != model.JobStatusCompleted {
		t.Fatalf("status: got %s, want COMPLETED", got.Status())
	}
	if found := got.PropertiesFound(); found == nil || *found != 5 {
		t.Errorf("propertiesFound: got %v, want 5", found)
	}
}

func TestCreateJob_EarlyResultWinsOverStart(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	// A fast worker completes the job before the start is recorded.
	f.announcer.failIf = func(e model.JobCreatedEvent) bool {
		_, err := f.jobs.Update(ctx, e.JobID, func(j *model.Job) (bool, error) {
			return j.ApplyCompletion(2, orchestratorNow), nil
		})
		if err != nil {
			t.Errorf("completion: %v", err)
		}
		return false
	}

	job, err := f.orch.CreateJob(ctx, "lisbon", model.PlatformVrbo, model.JobKindFullProfile, 0)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Status() != model.JobStatusCompleted {
		t.Errorf("status: got %s, want COMPLETED", job.Status())
	}
}
