package tracking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordingTracker struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingTracker) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.paths = append(r.paths, req.URL.Path)
		r.mu.Unlock()
		if req.URL.Path == "/api/v1/runs" {
			_ = json.NewEncoder(w).Encode(map[string]string{"run_id": "run-42"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestClientRecordsRunLifecycle(t *testing.T) {
	rec := &recordingTracker{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	client, err := NewClient(srv.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	runID := client.StartRun(ctx, "churn-pipeline")
	if runID != "run-42" {
		t.Fatalf("expected server run id, got %q", runID)
	}
	client.LogParam(ctx, runID, "lr", "0.1")
	client.LogMetric(ctx, runID, "loss", 0.25)
	client.LogArtifactRef(ctx, runID, "abc123")
	client.EndRun(ctx, runID, "succeeded")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []string{
		"/api/v1/runs",
		"/api/v1/runs/run-42/params",
		"/api/v1/runs/run-42/metrics",
		"/api/v1/runs/run-42/artifacts",
		"/api/v1/runs/run-42/end",
	}
	if len(rec.paths) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), rec.paths)
	}
	for i, path := range want {
		if rec.paths[i] != path {
			t.Fatalf("expected call %d to be %q, got %q", i, path, rec.paths[i])
		}
	}
}

func TestStartRunFallsBackToLocalID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runID := client.StartRun(context.Background(), "churn-pipeline")
	if runID == "" {
		t.Fatalf("expected a locally generated run id")
	}
}

func TestTrackerFailuresAreSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// None of these may panic or block beyond the client timeout.
	ctx := context.Background()
	client.LogParam(ctx, "run-1", "lr", "0.1")
	client.LogMetric(ctx, "run-1", "loss", 1.0)
	client.LogArtifactRef(ctx, "run-1", "abc")
	client.EndRun(ctx, "run-1", "failed")
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient("  ", time.Second, nil); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}
