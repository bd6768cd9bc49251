package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mlforge-io/mlforge/internal/artifact"
	"github.com/mlforge-io/mlforge/internal/domain"
	"github.com/mlforge-io/mlforge/internal/metrics"
	"github.com/mlforge-io/mlforge/internal/model"
	"github.com/mlforge-io/mlforge/internal/platform/env"
	"github.com/mlforge-io/mlforge/internal/platform/httpserver"
	"github.com/mlforge-io/mlforge/internal/platform/objectstore"
	"github.com/mlforge-io/mlforge/internal/platform/postgres"
	"github.com/mlforge-io/mlforge/internal/registry"
	pgrepo "github.com/mlforge-io/mlforge/internal/repo/postgres"
	"github.com/mlforge-io/mlforge/internal/serving"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("MLFORGE_SERVING_HTTP_ADDR", ":8090")
	shutdownTimeout, err := env.Duration("MLFORGE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	modelName := strings.TrimSpace(env.String("MLFORGE_MODEL_NAME", ""))
	if modelName == "" {
		logger.Error("missing model name", "env", "MLFORGE_MODEL_NAME")
		os.Exit(2)
	}
	reloadInterval, err := env.Duration("MLFORGE_RELOAD_INTERVAL", 15*time.Second)
	if err != nil {
		logger.Error("invalid reload interval", "error", err)
		os.Exit(2)
	}
	cacheDir := env.String("MLFORGE_CACHE_DIR", ".mlforge/cache")

	store, err := buildStore(ctx, logger, cacheDir)
	if err != nil {
		logger.Error("artifact store init failed", "error", err)
		os.Exit(1)
	}

	reg, db, err := buildRegistry(ctx)
	if err != nil {
		logger.Error("registry init failed", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	collector := metrics.NewCollector("mlforge")

	svc, err := serving.NewService(reg, store, decodeLinearModel, collector, logger)
	if err != nil {
		logger.Error("serving init failed", "error", err)
		os.Exit(1)
	}

	// Best effort: a production version may not exist yet, in which
	// case the reload syncer picks it up once one is promoted.
	if err := svc.Load(ctx, modelName); err != nil {
		if errors.Is(err, registry.ErrNoActiveVersion) {
			logger.Warn("no production version yet", "model", modelName)
		} else {
			logger.Error("initial model load failed", "model", modelName, "error", err)
			os.Exit(1)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("mlforge-serving"))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks("mlforge-serving", readinessChecks(svc, db)...))
	mux.Handle("GET /metrics", collector.Handler())

	api := newServingAPI(logger, svc, reg, modelName)
	api.register(mux)

	cfg := httpserver.Config{
		Service:         "mlforge-serving",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpserver.Run(groupCtx, logger, cfg, httpserver.Wrap(logger, "mlforge-serving", mux))
	})
	group.Go(func() error {
		runReloadSyncer(groupCtx, logger, svc, reg, modelName, reloadInterval)
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func decodeLinearModel(payload []byte) (serving.Predictor, error) {
	m, err := model.DecodeLinear(payload)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func readinessChecks(svc *serving.Service, db *sql.DB) []httpserver.ReadinessCheck {
	checks := []httpserver.ReadinessCheck{
		{
			Name: "model",
			Check: func(ctx context.Context) error {
				if svc.State() != serving.StateReady {
					return serving.ErrModelNotReady
				}
				return nil
			},
		},
	}
	if db != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return db.PingContext(checkCtx)
			},
		})
	}
	return checks
}

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

func buildRegistry(ctx context.Context) (registry.Registry, *sql.DB, error) {
	backend := strings.ToLower(strings.TrimSpace(env.String("MLFORGE_REGISTRY", "postgres")))
	switch backend {
	case "memory":
		return registry.NewMemoryRegistry(), nil, nil
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
		return reg, db, nil
	default:
		return nil, nil, errors.New("unsupported registry backend: " + backend)
	}
}

// runReloadSyncer polls the registry and hot-swaps the served model
// when a different version holds production.
func runReloadSyncer(ctx context.Context, logger *slog.Logger, svc *serving.Service, reg registry.Registry, modelName string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			syncOnce(ctx, logger, svc, reg, modelName)
		}
	}
}

func syncOnce(ctx context.Context, logger *slog.Logger, svc *serving.Service, reg registry.Registry, modelName string) {
	resolveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	production, err := reg.Resolve(resolveCtx, modelName, domain.ModelStateProduction)
	if err != nil {
		if !errors.Is(err, registry.ErrNoActiveVersion) {
			logger.Warn("registry resolve failed", "model", modelName, "error", err)
		}
		return
	}
	if current, ok := svc.Current(); ok && current.Version == production.Version {
		return
	}
	if err := svc.Load(ctx, modelName); err != nil {
		logger.Warn("model reload failed", "model", modelName, "version", production.Version, "error", err)
		return
	}
	logger.Info("model reloaded", "model", modelName, "version", production.Version)
}
