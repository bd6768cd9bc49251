package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mlforge-io/mlforge/internal/domain"
)

// MemoryRegistry is an in-process Registry. One mutex guards all
// lifecycle state, so a promote is observed all-or-nothing.
type MemoryRegistry struct {
	mu       sync.RWMutex
	versions map[string][]domain.ModelVersion
	now      func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		versions: make(map[string][]domain.ModelVersion),
		now:      time.Now,
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, name, artifactFingerprint string) (domain.ModelVersion, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ModelVersion{}, errors.New("model name is required")
	}
	if strings.TrimSpace(artifactFingerprint) == "" {
		return domain.ModelVersion{}, errors.New("artifact fingerprint is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := 1
	for _, v := range r.versions[name] {
		if v.Version >= next {
			next = v.Version + 1
		}
	}
	version := domain.ModelVersion{
		Name:                name,
		Version:             next,
		ArtifactFingerprint: strings.TrimSpace(artifactFingerprint),
		State:               domain.ModelStateStaging,
		CreatedAt:           r.now().UTC(),
	}
	if err := version.Validate(); err != nil {
		return domain.ModelVersion{}, err
	}
	r.versions[name] = append(r.versions[name], version)
	return version, nil
}

func (r *MemoryRegistry) Promote(ctx context.Context, name string, version int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("model name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.versions[name]
	target := -1
	for i, v := range versions {
		if v.Version == version {
			target = i
			break
		}
	}
	if target == -1 {
		return fmt.Errorf("%w: %s version %d", ErrVersionNotFound, name, version)
	}
	if err := domain.ValidateTransition(versions[target].State, domain.ModelStateProduction); err != nil {
		return err
	}
	// Demotion and promotion happen under the same lock; readers see
	// either the old production holder or the new one, never both.
	for i := range versions {
		if i != target && versions[i].State == domain.ModelStateProduction {
			versions[i].State = domain.ModelStateArchived
		}
	}
	versions[target].State = domain.ModelStateProduction
	return nil
}

func (r *MemoryRegistry) Resolve(ctx context.Context, name string, state domain.ModelState) (domain.ModelVersion, error) {
	if !state.Valid() {
		return domain.ModelVersion{}, fmt.Errorf("invalid model state %q", state)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *domain.ModelVersion
	for i := range r.versions[name] {
		v := r.versions[name][i]
		if v.State != state {
			continue
		}
		if found == nil || v.Version > found.Version {
			found = &v
		}
	}
	if found == nil {
		return domain.ModelVersion{}, fmt.Errorf("%w: %s in state %q", ErrNoActiveVersion, name, state)
	}
	return *found, nil
}

func (r *MemoryRegistry) List(ctx context.Context, name string) ([]domain.ModelVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ModelVersion, len(r.versions[name]))
	copy(out, r.versions[name])
	return out, nil
}
