// Package serving loads one production model version from the
// registry and answers concurrent inference requests against it.
package serving

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mlforge-io/mlforge/internal/artifact"
	"github.com/mlforge-io/mlforge/internal/domain"
	"github.com/mlforge-io/mlforge/internal/metrics"
	"github.com/mlforge-io/mlforge/internal/registry"
)

// State is the service lifecycle state.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateDraining State = "draining"
)

// ErrModelNotReady is returned while no model is loaded; callers
// should treat it as retryable.
var ErrModelNotReady = errors.New("model not ready")

// LoadError wraps a failed load attempt. The service stays in a
// well-defined state afterward: Unloaded when nothing was loaded
// before, otherwise still Ready on the previous model.
type LoadError struct {
	Model string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model %q: %v", e.Model, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Predictor is the opaque inference function decoded from a model
// artifact.
type Predictor interface {
	Predict(ctx context.Context, features map[string]float64) (float64, error)
}

// Decoder turns a model artifact payload into a Predictor.
type Decoder func(payload []byte) (Predictor, error)

// Prediction is the answer to one inference request, stamped with the
// exact model version that produced it.
type Prediction struct {
	Value        float64
	ModelName    string
	ModelVersion int
}

type loadedModel struct {
	version   domain.ModelVersion
	predictor Predictor
}

// Service is the serving state machine. Load/Unload transitions are
// mutually exclusive with each other; request handling reads one
// atomic pointer, so a hot swap never blocks Ready traffic and a
// single in-flight request is always answered entirely by the model
// version that admitted it.
type Service struct {
	registry  registry.Registry
	store     artifact.Store
	decode    Decoder
	collector *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time

	loadMu  sync.Mutex
	state   atomic.Value // State
	current atomic.Pointer[loadedModel]
	// reqMu admits requests as readers; Unload takes the writer side to
	// drain in-flight requests.
	reqMu sync.RWMutex
}

func NewService(reg registry.Registry, store artifact.Store, decode Decoder, collector *metrics.Collector, logger *slog.Logger) (*Service, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	if decode == nil {
		return nil, errors.New("decoder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		registry:  reg,
		store:     store,
		decode:    decode,
		collector: collector,
		logger:    logger,
		now:       time.Now,
	}
	s.state.Store(StateUnloaded)
	return s, nil
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	return s.state.Load().(State)
}

// Current returns the model version answering requests right now.
func (s *Service) Current() (domain.ModelVersion, bool) {
	m := s.current.Load()
	if m == nil {
		return domain.ModelVersion{}, false
	}
	return m.version, true
}

// Load resolves the production version of the named model, fetches its
// artifact, and makes it the serving model. While a previous model is
// Ready it keeps answering requests until the single pointer swap at
// the end; on failure the previous model stays in place.
func (s *Service) Load(ctx context.Context, name string) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.State() == StateDraining {
		return &LoadError{Model: name, Err: errors.New("service is draining")}
	}

	previous := s.current.Load()
	s.state.Store(StateLoading)

	restore := func() {
		if previous != nil {
			s.state.Store(StateReady)
		} else {
			s.state.Store(StateUnloaded)
		}
	}

	version, err := s.registry.Resolve(ctx, name, domain.ModelStateProduction)
	if err != nil {
		restore()
		s.recordLoad("error")
		return &LoadError{Model: name, Err: err}
	}
	payload, err := s.store.Get(ctx, version.ArtifactFingerprint)
	if err != nil {
		restore()
		s.recordLoad("error")
		return &LoadError{Model: name, Err: fmt.Errorf("fetch artifact %s: %w", version.ArtifactFingerprint, err)}
	}
	predictor, err := s.decode(payload)
	if err != nil {
		restore()
		s.recordLoad("error")
		return &LoadError{Model: name, Err: fmt.Errorf("decode artifact: %w", err)}
	}

	s.current.Store(&loadedModel{version: version, predictor: predictor})
	s.state.Store(StateReady)
	s.recordLoad("ok")
	s.logger.Info("model loaded", "model", name, "version", version.Version, "fingerprint", version.ArtifactFingerprint)
	return nil
}

// Unload drains in-flight requests and releases the model. New
// requests are rejected as soon as draining starts.
func (s *Service) Unload(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.current.Load() == nil {
		s.state.Store(StateUnloaded)
		return nil
	}

	s.state.Store(StateDraining)
	s.current.Store(nil)
	// Taking the writer lock waits for every admitted request.
	s.reqMu.Lock()
	s.reqMu.Unlock() //nolint:staticcheck // empty critical section is the drain barrier
	s.state.Store(StateUnloaded)
	s.logger.Info("model unloaded")
	return nil
}

// Predict answers one inference request with the currently loaded
// model. The model pointer is read exactly once, so a reload that
// completes mid-request does not change the answering version.
func (s *Service) Predict(ctx context.Context, features map[string]float64) (Prediction, error) {
	s.reqMu.RLock()
	defer s.reqMu.RUnlock()

	m := s.current.Load()
	if m == nil {
		s.recordError("model_not_ready")
		return Prediction{}, ErrModelNotReady
	}

	start := s.now()
	value, err := m.predictor.Predict(ctx, features)
	duration := s.now().Sub(start)
	if err != nil {
		s.recordError("inference_failed")
		return Prediction{}, fmt.Errorf("inference with %s v%d: %w", m.version.Name, m.version.Version, err)
	}
	if s.collector != nil {
		s.collector.RecordInference(m.version.Name, m.version.Version, duration)
	}
	return Prediction{
		Value:        value,
		ModelName:    m.version.Name,
		ModelVersion: m.version.Version,
	}, nil
}

func (s *Service) recordLoad(result string) {
	if s.collector != nil {
		s.collector.RecordModelLoad(result)
	}
}

func (s *Service) recordError(code string) {
	if s.collector != nil {
		s.collector.RecordInferenceError(code)
	}
}
