// Package runner walks a stage graph in dependency order, skipping
// every stage whose fingerprint already resolves in the artifact
// store.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mlforge-io/mlforge/internal/artifact"
	"github.com/mlforge-io/mlforge/internal/domain"
	"github.com/mlforge-io/mlforge/internal/fingerprint"
	"github.com/mlforge-io/mlforge/internal/graph"
	"github.com/mlforge-io/mlforge/internal/metrics"
	"github.com/mlforge-io/mlforge/internal/tracking"
)

// MissingParameterError reports a parameter a stage declares but the
// run's parameter set does not provide. Raised before any stage runs.
type MissingParameterError struct {
	Stage string
	Key   string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("stage %q: missing parameter %q", e.Stage, e.Key)
}

// StageError wraps a work function failure with the failing stage
// identifier. The run aborts; upstream artifacts stay cached.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Runner executes pipeline runs. Stages of one run execute
// sequentially in topological order; independent runs may share a
// Runner concurrently because all mutable state lives in the run.
type Runner struct {
	store     artifact.Store
	tracker   tracking.Tracker
	collector *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time
}

func New(store artifact.Store, tracker tracking.Tracker, collector *metrics.Collector, logger *slog.Logger) (*Runner, error) {
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if tracker == nil {
		tracker = tracking.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:     store,
		tracker:   tracker,
		collector: collector,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Run executes the graph with the given parameter set. The returned
// Run is finalized even on failure, so callers always get the full
// execution log up to the aborting stage.
func (r *Runner) Run(ctx context.Context, g *graph.Graph, pipeline string, params map[string]string) (domain.Run, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return domain.Run{}, err
	}
	if err := checkParameters(g, order, params); err != nil {
		return domain.Run{}, err
	}

	runID := r.tracker.StartRun(ctx, pipeline)
	run := domain.Run{
		ID:        runID,
		Pipeline:  pipeline,
		Params:    cloneParams(params),
		Status:    domain.RunStatusRunning,
		StartedAt: r.now().UTC(),
	}
	for key, value := range run.Params {
		r.tracker.LogParam(ctx, runID, key, value)
	}
	r.logger.Info("run started", "run", runID, "pipeline", pipeline, "stages", len(order))

	// "<stage>/<output>" -> artifact fingerprint, resolved as the walk
	// proceeds so downstream fingerprints see upstream content.
	outputFPs := make(map[string]string)

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			r.finalize(ctx, &run, domain.RunStatusCancelled)
			return run, fmt.Errorf("run cancelled before stage %q: %w", id, err)
		}

		stage, _ := g.Stage(id)
		upstream, err := upstreamFingerprints(g, stage, outputFPs)
		if err != nil {
			r.finalize(ctx, &run, domain.RunStatusFailed)
			return run, err
		}
		stageFP, err := fingerprint.Stage(id, stage.CodeVersion, upstream, stageParams(stage, params))
		if err != nil {
			r.finalize(ctx, &run, domain.RunStatusFailed)
			return run, fmt.Errorf("fingerprint stage %q: %w", id, err)
		}

		hit, err := r.allOutputsCached(ctx, stage, stageFP)
		if err != nil {
			r.finalize(ctx, &run, domain.RunStatusFailed)
			return run, fmt.Errorf("stage %q cache check: %w", id, err)
		}

		if hit {
			for _, out := range stage.Outputs {
				outputFPs[domain.UpstreamKey(id, out.Name)] = fingerprint.Output(stageFP, out.Name)
			}
			run.Stages = append(run.Stages, domain.StageResult{
				Stage:       id,
				Fingerprint: stageFP,
				CacheHit:    true,
			})
			if r.collector != nil {
				r.collector.RecordStage(pipeline, id, true, 0)
			}
			r.logger.Info("stage resolved", "run", runID, "stage", id, "cache", "hit", "fingerprint", stageFP)
			continue
		}

		duration, err := r.executeStage(ctx, g, stage, stageFP, params, outputFPs, runID)
		result := domain.StageResult{
			Stage:       id,
			Fingerprint: stageFP,
			Duration:    duration,
		}
		if err != nil {
			result.Error = err.Error()
			run.Stages = append(run.Stages, result)
			r.finalize(ctx, &run, domain.RunStatusFailed)
			r.logger.Error("stage failed", "run", runID, "stage", id, "error", err)
			return run, err
		}
		run.Stages = append(run.Stages, result)
		if r.collector != nil {
			r.collector.RecordStage(pipeline, id, false, duration)
		}
		r.tracker.LogMetric(ctx, runID, "stage_duration_seconds."+id, duration.Seconds())
		r.logger.Info("stage executed", "run", runID, "stage", id, "cache", "miss", "fingerprint", stageFP, "duration_ms", duration.Milliseconds())
	}

	r.finalize(ctx, &run, domain.RunStatusSucceeded)
	r.storeRunSummary(ctx, run)
	return run, nil
}

func (r *Runner) executeStage(
	ctx context.Context,
	g *graph.Graph,
	stage domain.Stage,
	stageFP string,
	params map[string]string,
	outputFPs map[string]string,
	runID string,
) (time.Duration, error) {
	input := domain.StageInput{
		Params:   stageParams(stage, params),
		Upstream: make(map[string][]byte),
	}
	for _, dep := range stage.DependsOn {
		depStage, _ := g.Stage(dep)
		for _, out := range depStage.Outputs {
			key := domain.UpstreamKey(dep, out.Name)
			payload, err := r.store.Get(ctx, outputFPs[key])
			if err != nil {
				return 0, fmt.Errorf("stage %q: resolve upstream %q: %w", stage.ID, key, err)
			}
			input.Upstream[key] = payload
		}
	}

	start := r.now()
	outputs, err := stage.Work(ctx, input)
	duration := r.now().Sub(start)
	if err != nil {
		return duration, &StageError{Stage: stage.ID, Err: err}
	}

	if len(outputs) != len(stage.Outputs) {
		return duration, &StageError{
			Stage: stage.ID,
			Err:   fmt.Errorf("returned %d outputs, declared %d", len(outputs), len(stage.Outputs)),
		}
	}
	for _, out := range stage.Outputs {
		payload, ok := outputs[out.Name]
		if !ok {
			return duration, &StageError{Stage: stage.ID, Err: fmt.Errorf("declared output %q not returned", out.Name)}
		}
		outFP := fingerprint.Output(stageFP, out.Name)
		if _, err := r.store.Put(ctx, outFP, payload, out.Kind); err != nil {
			// A CollisionError here means a non-deterministic work
			// function; it must halt the run, never be papered over.
			return duration, fmt.Errorf("stage %q: store output %q: %w", stage.ID, out.Name, err)
		}
		outputFPs[domain.UpstreamKey(stage.ID, out.Name)] = outFP
		r.tracker.LogArtifactRef(ctx, runID, outFP)
	}
	return duration, nil
}

func (r *Runner) allOutputsCached(ctx context.Context, stage domain.Stage, stageFP string) (bool, error) {
	for _, out := range stage.Outputs {
		ok, err := r.store.Has(ctx, fingerprint.Output(stageFP, out.Name))
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (r *Runner) finalize(ctx context.Context, run *domain.Run, status domain.RunStatus) {
	ended := r.now().UTC()
	run.Status = status
	run.EndedAt = &ended
	r.tracker.EndRun(ctx, run.ID, string(status))
}

// storeRunSummary persists the finished run's execution log as a
// metric-set artifact, addressed by its own content hash.
func (r *Runner) storeRunSummary(ctx context.Context, run domain.Run) {
	raw, err := json.Marshal(run)
	if err != nil {
		r.logger.Warn("marshal run summary failed", "run", run.ID, "error", err)
		return
	}
	fp := fingerprint.Content(raw)
	if _, err := r.store.Put(ctx, fp, raw, domain.ArtifactKindMetricSet); err != nil {
		r.logger.Warn("store run summary failed", "run", run.ID, "error", err)
		return
	}
	r.tracker.LogArtifactRef(ctx, run.ID, fp)
}

func checkParameters(g *graph.Graph, order []string, params map[string]string) error {
	for _, id := range order {
		stage, _ := g.Stage(id)
		for _, key := range stage.ParamKeys {
			if _, ok := params[key]; !ok {
				return &MissingParameterError{Stage: id, Key: key}
			}
		}
	}
	return nil
}

func upstreamFingerprints(g *graph.Graph, stage domain.Stage, outputFPs map[string]string) ([]string, error) {
	upstream := make([]string, 0)
	for _, dep := range stage.DependsOn {
		depStage, ok := g.Stage(dep)
		if !ok {
			return nil, fmt.Errorf("%w: stage %q depends on unknown stage %q", graph.ErrDanglingDependency, stage.ID, dep)
		}
		for _, out := range depStage.Outputs {
			fp, ok := outputFPs[domain.UpstreamKey(dep, out.Name)]
			if !ok {
				return nil, fmt.Errorf("stage %q: upstream %q has no resolved fingerprint", stage.ID, domain.UpstreamKey(dep, out.Name))
			}
			upstream = append(upstream, fp)
		}
	}
	return upstream, nil
}

func stageParams(stage domain.Stage, params map[string]string) map[string]string {
	subset := make(map[string]string, len(stage.ParamKeys))
	for _, key := range stage.ParamKeys {
		subset[key] = params[key]
	}
	return subset
}

func cloneParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
