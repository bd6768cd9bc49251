// Package pipelinedef loads declarative pipeline definitions and
// binds their stages to builtin work functions. Malformed definitions
// fail here, before any stage executes.
package pipelinedef

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mlforge-io/mlforge/internal/domain"
	"github.com/mlforge-io/mlforge/internal/fingerprint"
	"github.com/mlforge-io/mlforge/internal/graph"
)

// Definition is the YAML shape of a pipeline.
type Definition struct {
	Pipeline string     `yaml:"pipeline"`
	Stages   []StageDef `yaml:"stages"`
}

// StageDef declares one stage: its builtin kind, upstream
// dependencies, and the parameter keys it reads.
type StageDef struct {
	Name      string   `yaml:"name"`
	Kind      string   `yaml:"kind"`
	DependsOn []string `yaml:"depends_on"`
	Params    []string `yaml:"params"`
}

// Load decodes and shape-checks a definition.
func Load(r io.Reader) (Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return Definition{}, fmt.Errorf("decode pipeline definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// LoadFile loads a definition from a YAML file.
func LoadFile(path string) (Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return Definition{}, fmt.Errorf("open pipeline definition: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

func (d Definition) Validate() error {
	if strings.TrimSpace(d.Pipeline) == "" {
		return errors.New("pipeline name is required")
	}
	if len(d.Stages) == 0 {
		return errors.New("at least one stage is required")
	}
	seen := make(map[string]struct{}, len(d.Stages))
	for _, stage := range d.Stages {
		if strings.TrimSpace(stage.Name) == "" {
			return errors.New("stage name is required")
		}
		if _, ok := seen[stage.Name]; ok {
			return fmt.Errorf("duplicate stage %q", stage.Name)
		}
		seen[stage.Name] = struct{}{}
		if strings.TrimSpace(stage.Kind) == "" {
			return fmt.Errorf("stage %q: kind is required", stage.Name)
		}
	}
	return nil
}

// Build resolves every stage kind and assembles the stage graph.
// Unknown kinds, missing required parameter declarations, and graph
// violations (cycles, duplicates, dangling dependencies) all surface
// here.
func (d Definition) Build() (*graph.Graph, error) {
	g := graph.New()
	for _, def := range d.Stages {
		kind, ok := builtinKind(def.Kind)
		if !ok {
			return nil, fmt.Errorf("stage %q: unknown kind %q", def.Name, def.Kind)
		}
		declared := make(map[string]struct{}, len(def.Params))
		for _, key := range def.Params {
			declared[key] = struct{}{}
		}
		for _, required := range kind.requiredParams {
			if _, ok := declared[required]; !ok {
				return nil, fmt.Errorf("stage %q: kind %q requires parameter %q to be declared", def.Name, def.Kind, required)
			}
		}
		if err := g.Add(kind.stage(def)); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// ModelFingerprint returns the artifact fingerprint of the model
// produced by the run's training stage, or "" when the definition has
// no training stage or the run did not reach it.
func (d Definition) ModelFingerprint(run domain.Run) string {
	trainStages := make(map[string]struct{})
	for _, stage := range d.Stages {
		if stage.Kind == "train-linear" {
			trainStages[stage.Name] = struct{}{}
		}
	}
	for _, res := range run.Stages {
		if _, ok := trainStages[res.Stage]; ok && res.Error == "" {
			return fingerprint.Output(res.Fingerprint, "model")
		}
	}
	return ""
}

// LoadParams reads a flat string-to-string parameter file.
func LoadParams(r io.Reader) (map[string]string, error) {
	params := make(map[string]string)
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&params); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	return params, nil
}

// LoadParamsFile loads parameters from a YAML file.
func LoadParamsFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parameters: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadParams(f)
}
