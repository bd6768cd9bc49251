package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mlforge-io/mlforge/internal/registry"
	"github.com/mlforge-io/mlforge/internal/serving"
)

type servingAPI struct {
	logger    *slog.Logger
	svc       *serving.Service
	registry  registry.Registry
	modelName string
}

func newServingAPI(logger *slog.Logger, svc *serving.Service, reg registry.Registry, modelName string) *servingAPI {
	return &servingAPI{
		logger:    logger,
		svc:       svc,
		registry:  reg,
		modelName: modelName,
	}
}

func (api *servingAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/predict", api.handlePredict)
	mux.HandleFunc("GET /v1/status", api.handleStatus)

	mux.HandleFunc("GET /v1/models/{name}/versions", api.handleListVersions)
	mux.HandleFunc("POST /v1/models/{name}/versions/{version}/promote", api.handlePromote)
	mux.HandleFunc("POST /v1/reload", api.handleReload)
	mux.HandleFunc("POST /v1/unload", api.handleUnload)
}

type predictRequest struct {
	Features map[string]float64 `json:"features"`
}

type predictResponse struct {
	Value        float64 `json:"value"`
	Model        string  `json:"model"`
	ModelVersion int     `json:"model_version"`
}

func (api *servingAPI) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if len(req.Features) == 0 {
		api.writeError(w, r, http.StatusBadRequest, "features_required")
		return
	}

	prediction, err := api.svc.Predict(r.Context(), req.Features)
	if err != nil {
		if errors.Is(err, serving.ErrModelNotReady) {
			api.writeError(w, r, http.StatusServiceUnavailable, "model_not_ready")
			return
		}
		api.writeError(w, r, http.StatusUnprocessableEntity, "inference_failed")
		return
	}

	api.writeJSON(w, http.StatusOK, predictResponse{
		Value:        prediction.Value,
		Model:        prediction.ModelName,
		ModelVersion: prediction.ModelVersion,
	})
}

func (api *servingAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"state": api.svc.State(),
		"model": api.modelName,
	}
	if current, ok := api.svc.Current(); ok {
		body["model_version"] = current.Version
		body["artifact_fingerprint"] = current.ArtifactFingerprint
	}
	api.writeJSON(w, http.StatusOK, body)
}

type versionResponse struct {
	Name                string    `json:"name"`
	Version             int       `json:"version"`
	ArtifactFingerprint string    `json:"artifact_fingerprint"`
	State               string    `json:"state"`
	CreatedAt           time.Time `json:"created_at"`
}

func (api *servingAPI) handleListVersions(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	versions, err := api.registry.List(r.Context(), name)
	if err != nil {
		api.logger.Error("registry list failed", "model", name, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]versionResponse, 0, len(versions))
	for _, v := range versions {
		out = append(out, versionResponse{
			Name:                v.Name,
			Version:             v.Version,
			ArtifactFingerprint: v.ArtifactFingerprint,
			State:               string(v.State),
			CreatedAt:           v.CreatedAt,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"versions": out})
}

func (api *servingAPI) handlePromote(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		api.writeError(w, r, http.StatusBadRequest, "invalid_version")
		return
	}

	if err := api.registry.Promote(r.Context(), name, version); err != nil {
		if errors.Is(err, registry.ErrVersionNotFound) {
			api.writeError(w, r, http.StatusNotFound, "version_not_found")
			return
		}
		api.logger.Warn("promote rejected", "model", name, "version", version, "error", err)
		api.writeError(w, r, http.StatusConflict, "invalid_transition")
		return
	}

	api.logger.Info("model promoted", "model", name, "version", version)
	api.writeJSON(w, http.StatusOK, map[string]any{
		"model":   name,
		"version": version,
		"state":   "production",
	})
}

// handleReload forces a synchronous load of the current production
// version instead of waiting for the next syncer tick.
func (api *servingAPI) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := api.svc.Load(r.Context(), api.modelName); err != nil {
		if errors.Is(err, registry.ErrNoActiveVersion) {
			api.writeError(w, r, http.StatusConflict, "no_production_version")
			return
		}
		api.logger.Error("reload failed", "model", api.modelName, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "load_failed")
		return
	}

	current, _ := api.svc.Current()
	api.writeJSON(w, http.StatusOK, map[string]any{
		"state":         api.svc.State(),
		"model":         api.modelName,
		"model_version": current.Version,
	})
}

func (api *servingAPI) handleUnload(w http.ResponseWriter, r *http.Request) {
	if err := api.svc.Unload(r.Context()); err != nil {
		api.logger.Error("unload failed", "model", api.modelName, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "unload_failed")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"state": api.svc.State()})
}

func (api *servingAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *servingAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}
