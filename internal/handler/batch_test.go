package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/rentscope/api/internal/model"
)

func TestBatchStart_Defaults(t *testing.T) {
	ta := setupApp(t)

	resp := doRequest(t, ta.app, "POST", "/api/batch/start", `{"strategy":"STALE_ONLY"}`)
	assertStatus(t, resp, http.StatusAccepted)
	body := parseJSON(t, resp)
	if body["runId"] != "run-1" || body["status"] != "RUNNING" {
		t.Errorf("body: got %v", body)
	}
	if ta.batch.lastDelay != 5*time.Minute || ta.batch.lastStale != 7 {
		t.Errorf("defaults: got delay %v stale %d", ta.batch.lastDelay, ta.batch.lastStale)
	}
}

func TestBatchStart_Overrides(t *testing.T) {
	ta := setupApp(t)

	resp := doRequest(t, ta.app, "POST", "/api/batch/start", `{"strategy":"ALL_LOCATIONS","delayMinutes":0,"staleDays":30}`)
	assertStatus(t, resp, http.StatusAccepted)
	if ta.batch.lastDelay != 0 || ta.batch.lastStale != 30 {
		t.Errorf("overrides: got delay %v stale %d", ta.batch.lastDelay, ta.batch.lastStale)
	}
}

func TestBatchStart_Errors(t *testing.T) {
	ta := setupApp(t)

	resp := doRequest(t, ta.app, "POST", "/api/batch/start", `{"strategy":"EVERYTHING"}`)
	assertStatus(t, resp, http.StatusBadRequest)

	ta.batch.startErr = model.NewStateConflictError("a batch run is already in progress")
	resp = doRequest(t, ta.app, "POST", "/api/batch/start", `{"strategy":"ALL_LOCATIONS"}`)
	assertStatus(t, resp, http.StatusConflict)

	ta.batch.startErr = model.NewValidationError("no locations match the batch strategy")
	resp = doRequest(t, ta.app, "POST", "/api/batch/start", `{"strategy":"STALE_ONLY"}`)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestBatchProgressAndCancel(t *testing.T) {
	ta := setupApp(t)

	resp := doRequest(t, ta.app, "GET", "/api/batch/progress", "")
	assertStatus(t, resp, http.StatusOK)
	if body := parseJSON(t, resp); body["status"] != "NOT_STARTED" {
		t.Errorf("status: got %v", body["status"])
	}

	resp = doRequest(t, ta.app, "POST", "/api/batch/cancel", "")
	assertStatus(t, resp, http.StatusConflict)

	ta.batch.progress.Status = model.BatchStatusRunning
	resp = doRequest(t, ta.app, "POST", "/api/batch/cancel", "")
	assertStatus(t, resp, http.StatusOK)
	body := parseJSON(t, resp)
	if body["status"] != "FAILED" || body["failureReason"] != "cancelled" {
		t.Errorf("body: got %v", body)
	}
}
