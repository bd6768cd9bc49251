package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// StageOutput declares one named output of a stage and the kind of
// artifact it produces.
type StageOutput struct {
	Name string
	Kind ArtifactKind
}

// StageInput carries everything a work function may read: the stage's
// declared parameters and the payloads of every upstream output, keyed
// "<upstream-stage>/<output-name>".
type StageInput struct {
	Params   map[string]string
	Upstream map[string][]byte
}

// UpstreamKey builds the key under which an upstream output payload is
// bound in StageInput.Upstream.
func UpstreamKey(stageID, output string) string {
	return stageID + "/" + output
}

// WorkFunc is the opaque transform a stage runs on cache miss. It must
// be deterministic given identical inputs and parameters; any required
// randomness has to enter through a declared parameter so it
// participates in the fingerprint. Returned keys must match the
// stage's declared output names exactly.
type WorkFunc func(ctx context.Context, in StageInput) (map[string][]byte, error)

// Stage is one node of a pipeline graph.
type Stage struct {
	ID        string
	DependsOn []string
	ParamKeys []string
	Outputs   []StageOutput
	// CodeVersion tags the work function implementation and is folded
	// into the fingerprint, so changing the code invalidates the cache.
	CodeVersion string
	Work        WorkFunc
}

func (s Stage) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("stage id is required")
	}
	if s.Work == nil {
		return fmt.Errorf("stage %q: work function is required", s.ID)
	}
	if len(s.Outputs) == 0 {
		return fmt.Errorf("stage %q: at least one output is required", s.ID)
	}
	seenOutputs := make(map[string]struct{}, len(s.Outputs))
	for _, out := range s.Outputs {
		if strings.TrimSpace(out.Name) == "" {
			return fmt.Errorf("stage %q: output name is required", s.ID)
		}
		if !out.Kind.Valid() {
			return fmt.Errorf("stage %q: output %q: invalid artifact kind", s.ID, out.Name)
		}
		if _, ok := seenOutputs[out.Name]; ok {
			return fmt.Errorf("stage %q: duplicate output %q", s.ID, out.Name)
		}
		seenOutputs[out.Name] = struct{}{}
	}
	seenDeps := make(map[string]struct{}, len(s.DependsOn))
	for _, dep := range s.DependsOn {
		if strings.TrimSpace(dep) == "" {
			return fmt.Errorf("stage %q: dependency name is required", s.ID)
		}
		if dep == s.ID {
			return fmt.Errorf("stage %q: depends on itself", s.ID)
		}
		if _, ok := seenDeps[dep]; ok {
			return fmt.Errorf("stage %q: duplicate dependency %q", s.ID, dep)
		}
		seenDeps[dep] = struct{}{}
	}
	seenParams := make(map[string]struct{}, len(s.ParamKeys))
	for _, key := range s.ParamKeys {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("stage %q: parameter key is required", s.ID)
		}
		if _, ok := seenParams[key]; ok {
			return fmt.Errorf("stage %q: duplicate parameter key %q", s.ID, key)
		}
		seenParams[key] = struct{}{}
	}
	return nil
}
