// Package graph holds the declarative stage DAG a pipeline run walks.
package graph

import (
	"errors"
	"fmt"

	"github.com/mlforge-io/mlforge/internal/domain"
)

var (
	ErrDuplicateStage     = errors.New("duplicate stage")
	ErrCycle              = errors.New("dependency cycle")
	ErrDanglingDependency = errors.New("dangling dependency")
)

// Graph is a stage DAG. Stages keep their insertion order, which
// breaks ordering ties between independent stages deterministically.
type Graph struct {
	stages map[string]domain.Stage
	order  []string
}

func New() *Graph {
	return &Graph{stages: make(map[string]domain.Stage)}
}

// Add inserts a stage. It fails when the identifier already exists or
// when the stage would close a cycle among the stages present so far.
// Dependencies on stages not yet added are allowed until Validate.
func (g *Graph) Add(stage domain.Stage) error {
	if err := stage.Validate(); err != nil {
		return err
	}
	if _, ok := g.stages[stage.ID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateStage, stage.ID)
	}
	g.stages[stage.ID] = stage
	g.order = append(g.order, stage.ID)
	if cycle := g.findCycle(); cycle != "" {
		delete(g.stages, stage.ID)
		g.order = g.order[:len(g.order)-1]
		return fmt.Errorf("%w: adding %q closes a cycle through %q", ErrCycle, stage.ID, cycle)
	}
	return nil
}

// Len returns the number of stages in the graph.
func (g *Graph) Len() int {
	return len(g.stages)
}

// Stage returns a stage by identifier.
func (g *Graph) Stage(id string) (domain.Stage, bool) {
	stage, ok := g.stages[id]
	return stage, ok
}

// Stages returns all stages in insertion order.
func (g *Graph) Stages() []domain.Stage {
	out := make([]domain.Stage, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.stages[id])
	}
	return out
}

// Validate checks that every declared dependency resolves to a stage
// present in the graph and that the graph is acyclic.
func (g *Graph) Validate() error {
	for _, id := range g.order {
		for _, dep := range g.stages[id].DependsOn {
			if _, ok := g.stages[dep]; !ok {
				return fmt.Errorf("%w: stage %q depends on unknown stage %q", ErrDanglingDependency, id, dep)
			}
		}
	}
	if cycle := g.findCycle(); cycle != "" {
		return fmt.Errorf("%w: through %q", ErrCycle, cycle)
	}
	return nil
}

// TopologicalOrder returns the stage identifiers such that every stage
// appears after all of its dependencies. Ties between independent
// stages resolve by insertion order, so the result is deterministic
// for a given construction sequence.
func (g *Graph) TopologicalOrder() ([]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	inDegree := make(map[string]int, len(g.stages))
	dependents := make(map[string][]string, len(g.stages))
	for _, id := range g.order {
		inDegree[id] = len(g.stages[id].DependsOn)
		for _, dep := range g.stages[id].DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	position := make(map[string]int, len(g.order))
	for i, id := range g.order {
		position[id] = i
	}

	ready := make([]string, 0, len(g.stages))
	for _, id := range g.order {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	ordered := make([]string, 0, len(g.stages))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, id)
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = insertByPosition(ready, dependent, position)
			}
		}
	}

	if len(ordered) != len(g.stages) {
		return nil, fmt.Errorf("%w: unreachable stages remain", ErrCycle)
	}
	return ordered, nil
}

func insertByPosition(ready []string, id string, position map[string]int) []string {
	at := len(ready)
	for i, existing := range ready {
		if position[id] < position[existing] {
			at = i
			break
		}
	}
	ready = append(ready, "")
	copy(ready[at+1:], ready[at:])
	ready[at] = id
	return ready
}

// findCycle walks the present stages and returns an identifier on a
// cycle, or "" when the graph is acyclic. Dangling dependencies are
// ignored here; Validate reports those separately.
func (g *Graph) findCycle() string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.stages))

	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		for _, dep := range g.stages[id].DependsOn {
			if _, ok := g.stages[dep]; !ok {
				continue
			}
			if hit := visit(dep); hit != "" {
				return hit
			}
		}
		state[id] = done
		return ""
	}

	for _, id := range g.order {
		if hit := visit(id); hit != "" {
			return hit
		}
	}
	return ""
}
