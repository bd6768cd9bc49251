package domain

import "fmt"

var modelTransitions = map[ModelState][]ModelState{
	ModelStateStaging:    {ModelStateProduction, ModelStateArchived},
	ModelStateProduction: {ModelStateArchived},
	ModelStateArchived:   {},
}

// CanTransition returns true when a state transition is allowed.
func CanTransition(from, to ModelState) bool {
	allowed, ok := modelTransitions[from]
	if !ok {
		return false
	}
	for _, candidate := range allowed {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateTransition ensures a model state transition is valid.
func ValidateTransition(from, to ModelState) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("invalid model state transition")
	}
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("model state transition %q -> %q not allowed", from, to)
	}
	return nil
}
