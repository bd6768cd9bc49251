package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mlforge-io/mlforge/internal/artifact"
	"github.com/mlforge-io/mlforge/internal/domain"
	"github.com/mlforge-io/mlforge/internal/metrics"
	"github.com/mlforge-io/mlforge/internal/pipelinedef"
	"github.com/mlforge-io/mlforge/internal/platform/env"
	"github.com/mlforge-io/mlforge/internal/platform/objectstore"
	"github.com/mlforge-io/mlforge/internal/platform/postgres"
	"github.com/mlforge-io/mlforge/internal/registry"
	pgrepo "github.com/mlforge-io/mlforge/internal/repo/postgres"
	"github.com/mlforge-io/mlforge/internal/runner"
	"github.com/mlforge-io/mlforge/internal/tracking"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipelineFile := env.String("MLFORGE_PIPELINE_FILE", "pipeline.yaml")
	paramsFile := env.String("MLFORGE_PARAMS_FILE", "")
	cacheDir := env.String("MLFORGE_CACHE_DIR", ".mlforge/cache")

	def, err := pipelinedef.LoadFile(pipelineFile)
	if err != nil {
		logger.Error("invalid pipeline definition", "file", pipelineFile, "error", err)
		os.Exit(2)
	}
	g, err := def.Build()
	if err != nil {
		logger.Error("invalid pipeline definition", "file", pipelineFile, "error", err)
		os.Exit(2)
	}

	params := map[string]string{}
	if paramsFile != "" {
		params, err = pipelinedef.LoadParamsFile(paramsFile)
		if err != nil {
			logger.Error("invalid parameters", "file", paramsFile, "error", err)
			os.Exit(2)
		}
	}

	store, err := buildStore(ctx, logger, cacheDir)
	if err != nil {
		logger.Error("artifact store init failed", "error", err)
		os.Exit(1)
	}

	tracker, err := buildTracker(logger)
	if err != nil {
		logger.Error("invalid tracking config", "error", err)
		os.Exit(2)
	}

	collector := metrics.NewCollector("mlforge")

	r, err := runner.New(store, tracker, collector, logger)
	if err != nil {
		logger.Error("runner init failed", "error", err)
		os.Exit(1)
	}

	run, err := r.Run(ctx, g, def.Pipeline, params)
	if err != nil {
		logger.Error("pipeline run failed",
			"pipeline", def.Pipeline,
			"run_id", run.ID,
			"status", run.Status,
			"error", err,
		)
		os.Exit(1)
	}
	logger.Info("pipeline run succeeded",
		"pipeline", def.Pipeline,
		"run_id", run.ID,
		"stages", len(run.Stages),
		"cache_hits", run.CacheHits(),
	)

	if modelName := strings.TrimSpace(env.String("MLFORGE_REGISTER_MODEL", "")); modelName != "" {
		if err := registerModel(ctx, logger, def, run, modelName); err != nil {
			logger.Error("model registration failed", "model", modelName, "error", err)
			os.Exit(1)
		}
	}
}

// buildStore layers the local content-addressed cache with an optional
// MinIO mirror when MLFORGE_MIRROR is enabled.
func buildStore(ctx context.Context, logger *slog.Logger, cacheDir string) (artifact.Store, error) {
	local, err := artifact.NewFSStore(cacheDir)
	if err != nil {
		return nil, err
	}

	mirrorEnabled, err := env.Bool("MLFORGE_MIRROR", false)
	if err != nil {
		return nil, err
	}
	if !mirrorEnabled {
		return local, nil
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	client, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		return nil, err
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := objectstore.EnsureBucket(startupCtx, client, storeCfg); err != nil {
		return nil, err
	}
	mirror, err := artifact.NewMinioMirror(client, storeCfg.Bucket)
	if err != nil {
		return nil, err
	}
	return artifact.NewMirroredStore(local, mirror, logger)
}

func buildTracker(logger *slog.Logger) (tracking.Tracker, error) {
	trackingURL := strings.TrimSpace(env.String("MLFORGE_TRACKING_URL", ""))
	if trackingURL == "" {
		return tracking.Nop{}, nil
	}
	timeout, err := env.Duration("MLFORGE_TRACKING_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, err
	}
	return tracking.NewClient(trackingURL, timeout, logger)
}

// registerModel records the run's trained model in the registry as a
// new staging version.
func registerModel(ctx context.Context, logger *slog.Logger, def pipelinedef.Definition, run domain.Run, modelName string) error {
	fp := def.ModelFingerprint(run)
	if fp == "" {
		logger.Warn("run produced no model artifact, skipping registration", "model", modelName)
		return nil
	}

	reg, closeReg, err := buildRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeReg()

	mv, err := reg.Register(ctx, modelName, fp)
	if err != nil {
		return err
	}
	logger.Info("model registered",
		"model", mv.Name,
		"version", mv.Version,
		"state", mv.State,
		"fingerprint", mv.ArtifactFingerprint,
	)
	return nil
}

func buildRegistry(ctx context.Context) (registry.Registry, func(), error) {
	backend := strings.ToLower(strings.TrimSpace(env.String("MLFORGE_REGISTRY", "postgres")))
	switch backend {
	case "memory":
		return registry.NewMemoryRegistry(), func() {}, nil
	case "postgres":
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			return nil, nil, err
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			return nil, nil, err
		}
		if err := pgrepo.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		reg, err := pgrepo.NewRegistry(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return reg, func() { _ = db.Close() }, nil
	default:
		return nil, nil, &unsupportedRegistryError{backend: backend}
	}
}

type unsupportedRegistryError struct {
	backend string
}

func (e *unsupportedRegistryError) Error() string {
	return "unsupported registry backend: " + e.backend
}
