package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/rentscope/api/internal/model"
	"github.com/rentscope/api/internal/storage"
)

var testNow = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

type fakeJobService struct {
	jobs       map[string]*model.Job
	createErr  error
	retryErr   error
	lastFilter storage.JobFilter
	lastSlot   int
}

func (f *fakeJobService) CreateJob(_ context.Context, locationID string, platform model.Platform, kind model.JobKind, slot int) (*model.Job, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if !platform.Valid() {
		return nil, model.NewValidationError("unknown platform")
	}
	f.lastSlot = slot
	job := model.NewJob("job-new", locationID, platform, kind, testNow)
	_ = job.Start(testNow)
	return job, nil
}

func (f *fakeJobService) RunFullAnalysis(_ context.Context, locationID string) (*model.AnalysisSummary, error) {
	if locationID == "atlantis" {
		return nil, model.NewNotFoundError("location not found: atlantis")
	}
	return &model.AnalysisSummary{
		LocationID: locationID,
		JobIDs:     []string{"a", "b"},
		Created:    2,
		Failed:     1,
		Err:        model.NewTransportError("failed to publish job c", errors.New("eof")),
	}, nil
}

func (f *fakeJobService) GetJob(_ context.Context, id string) (*model.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, model.NewNotFoundError("job not found: " + id)
	}
	return j, nil
}

func (f *fakeJobService) ListJobs(_ context.Context, filter storage.JobFilter) ([]*model.Job, error) {
	f.lastFilter = filter
	var out []*model.Job
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeJobService) Retry(_ context.Context, id string) (*model.Job, error) {
	if f.retryErr != nil {
		return nil, f.retryErr
	}
	return f.GetJob(context.Background(), id)
}

type fakeBatchService struct {
	progress  model.BatchProgress
	startErr  error
	lastDelay time.Duration
	lastStale int
}

func (f *fakeBatchService) Start(_ context.Context, _ model.BatchStrategy, delay time.Duration, staleDays int) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.lastDelay, f.lastStale = delay, staleDays
	return "run-1", nil
}

func (f *fakeBatchService) Progress() (model.BatchProgress, error) {
	return f.progress, nil
}

func (f *fakeBatchService) Cancel() error {
	if f.progress.Status != model.BatchStatusRunning {
		return model.NewStateConflictError("no batch run in progress")
	}
	f.progress.Status = model.BatchStatusFailed
	f.progress.FailureReason = "cancelled"
	return nil
}

type fakeLocations struct {
	locs map[string]*model.Location
}

func (f *fakeLocations) Get(_ context.Context, id string) (*model.Location, error) {
	l, ok := f.locs[id]
	if !ok {
		return nil, model.NewNotFoundError("location not found: " + id)
	}
	return l, nil
}

func (f *fakeLocations) Upsert(_ context.Context, loc *model.Location) error {
	loc.CreatedAt = testNow
	f.locs[loc.ID] = loc
	return nil
}

type fakeProperties struct{}

func (fakeProperties) Properties(_ context.Context, locationID string) ([]model.Property, error) {
	return []model.Property{{ID: 1, LocationID: locationID, Platform: model.PlatformAirbnb, PlatformID: "p1"}}, nil
}

type testApp struct {
	app   *fiber.App
	jobs  *fakeJobService
	batch *fakeBatchService
}

// setupApp registers the control routes against fake services.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	failed := model.NewJob("job-failed", "lisbon", model.PlatformVrbo, model.JobKindFullProfile, testNow)
	_ = failed.Fail("broker unavailable", testNow)
	running := model.NewJob("job-running", "lisbon", model.PlatformAirbnb, model.JobKindPriceSample, testNow)
	_ = running.Start(testNow)

	ta := &testApp{
		jobs: &fakeJobService{jobs: map[string]*model.Job{
			failed.ID:  failed,
			running.ID: running,
		}},
		batch: &fakeBatchService{progress: model.BatchProgress{BatchRun: model.BatchRun{Status: model.BatchStatusNotStarted}}},
	}
	locations := &fakeLocations{locs: map[string]*model.Location{"lisbon": {ID: "lisbon", Name: "Lisbon"}}}

	validate := validator.New()
	jobHandler := NewJobHandler(ta.jobs, validate)
	batchHandler := NewBatchHandler(ta.batch, validate, BatchDefaults{DelayMinutes: 5, StaleDays: 7})
	locationHandler := NewLocationHandler(locations, fakeProperties{}, validate)

	app := fiber.New()
	api := app.Group("/api")

	jobs := api.Group("/jobs")
	jobs.Post("/", jobHandler.Create)
	jobs.Post("/batch", jobHandler.Batch)
	jobs.Get("/", jobHandler.List)
	jobs.Get("/:jobId", jobHandler.Get)
	jobs.Post("/:jobId/retry", jobHandler.Retry)

	batch := api.Group("/batch")
	batch.Post("/start", batchHandler.Start)
	batch.Get("/progress", batchHandler.Progress)
	batch.Post("/cancel", batchHandler.Cancel)

	locs := api.Group("/locations")
	locs.Put("/:locationId", locationHandler.Upsert)
	locs.Get("/:locationId", locationHandler.Get)
	locs.Get("/:locationId/properties", locationHandler.Properties)

	ta.app = app
	return ta
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(b, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, b)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// assertErrorCode checks the error code in an error response.
func assertErrorCode(t *testing.T, body map[string]interface{}, expected string) {
	t.Helper()
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error object in response, got: %v", body)
	}
	if errObj["code"] != expected {
		t.Errorf("expected error code %q, got %q", expected, errObj["code"])
	}
}
