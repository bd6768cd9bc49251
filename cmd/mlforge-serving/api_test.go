package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/mlforge-io/mlforge/internal/artifact"
	"github.com/mlforge-io/mlforge/internal/domain"
	"github.com/mlforge-io/mlforge/internal/fingerprint"
	"github.com/mlforge-io/mlforge/internal/metrics"
	"github.com/mlforge-io/mlforge/internal/model"
	"github.com/mlforge-io/mlforge/internal/registry"
	"github.com/mlforge-io/mlforge/internal/serving"
)

type apiFixture struct {
	api   *servingAPI
	mux   *http.ServeMux
	reg   *registry.MemoryRegistry
	store *artifact.MemoryStore
	svc   *serving.Service
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	store := artifact.NewMemoryStore()
	reg := registry.NewMemoryRegistry()

	svc, err := serving.NewService(reg, store, decodeLinearModel, metrics.NewCollector("test"), logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	api := newServingAPI(logger, svc, reg, "churn")
	mux := http.NewServeMux()
	api.register(mux)
	return &apiFixture{api: api, mux: mux, reg: reg, store: store, svc: svc}
}

// registerVersion stores a linear model artifact and registers it as
// the next version of "churn".
func (f *apiFixture) registerVersion(t *testing.T, weight float64) int {
	t.Helper()
	ctx := context.Background()
	payload, err := model.EncodeLinear(model.Linear{
		Features: []string{"x"},
		Weights:  []float64{weight},
		Bias:     1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fp := fingerprint.Content(payload)
	if _, err := f.store.Put(ctx, fp, payload, domain.ArtifactKindModel); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mv, err := f.reg.Register(ctx, "churn", fp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return mv.Version
}

func (f *apiFixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestPredictReturnsPrediction(t *testing.T) {
	f := newAPIFixture(t)
	v := f.registerVersion(t, 2)
	if err := f.reg.Promote(context.Background(), "churn", v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.Load(context.Background(), "churn"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/v1/predict", `{"features":{"x":3}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp predictResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Value != 7 {
		t.Fatalf("value=%v, want 7", resp.Value)
	}
	if resp.Model != "churn" || resp.ModelVersion != 1 {
		t.Fatalf("unexpected model stamp %+v", resp)
	}
}

func TestPredictWhileUnloadedReturns503(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/predict", `{"features":{"x":1}}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "model_not_ready") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestPredictRejectsMalformedBody(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/predict", `{"features":{`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/predict", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestPromoteUnknownVersionReturns404(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/models/churn/versions/9/promote", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestPromoteArchivedVersionReturns409(t *testing.T) {
	f := newAPIFixture(t)
	v1 := f.registerVersion(t, 2)
	v2 := f.registerVersion(t, 3)

	ctx := context.Background()
	if err := f.reg.Promote(ctx, "churn", v1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Promoting v2 archives v1; re-promoting v1 is a dead end.
	if err := f.reg.Promote(ctx, "churn", v2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/v1/models/churn/versions/1/promote", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status=%d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestReloadSwapsToNewProduction(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	v1 := f.registerVersion(t, 2)
	if err := f.reg.Promote(ctx, "churn", v1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.Load(ctx, "churn"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v2 := f.registerVersion(t, 5)
	if err := f.reg.Promote(ctx, "churn", v2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/v1/reload", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200: %s", rec.Code, rec.Body.String())
	}
	current, ok := f.svc.Current()
	if !ok || current.Version != v2 {
		t.Fatalf("expected version %d to be serving, got %+v", v2, current)
	}
}

func TestReloadWithoutProductionReturns409(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/reload", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status=%d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestStatusReflectsLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	rec := f.do(t, http.MethodGet, "/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"state":"unloaded"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	v := f.registerVersion(t, 2)
	if err := f.reg.Promote(ctx, "churn", v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.Load(ctx, "churn"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec = f.do(t, http.MethodGet, "/v1/status", "")
	if !strings.Contains(rec.Body.String(), `"state":"ready"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/v1/unload", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if f.svc.State() != serving.StateUnloaded {
		t.Fatalf("state=%s, want unloaded", f.svc.State())
	}
}

func TestListVersions(t *testing.T) {
	f := newAPIFixture(t)
	f.registerVersion(t, 2)
	f.registerVersion(t, 3)

	rec := f.do(t, http.MethodGet, "/v1/models/churn/versions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	var resp struct {
		Versions []versionResponse `json:"versions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(resp.Versions))
	}
	if resp.Versions[0].State != "staging" || resp.Versions[1].State != "staging" {
		t.Fatalf("unexpected states %+v", resp.Versions)
	}
}
