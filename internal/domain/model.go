package domain

import (
	"errors"
	"strings"
	"time"
)

// ModelState represents the lifecycle state of a model version.
type ModelState string

const (
	ModelStateStaging    ModelState = "staging"
	ModelStateProduction ModelState = "production"
	ModelStateArchived   ModelState = "archived"
)

func (s ModelState) Valid() bool {
	switch s {
	case ModelStateStaging, ModelStateProduction, ModelStateArchived:
		return true
	default:
		return false
	}
}

// ModelVersion is one immutable entry of the model registry. Versions
// are never reused or deleted, only transitioned between states.
type ModelVersion struct {
	Name                string
	Version             int
	ArtifactFingerprint string
	State               ModelState
	CreatedAt           time.Time
}

func (m ModelVersion) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("model name is required")
	}
	if m.Version < 1 {
		return errors.New("model version must be >= 1")
	}
	if strings.TrimSpace(m.ArtifactFingerprint) == "" {
		return errors.New("artifact fingerprint is required")
	}
	if !m.State.Valid() {
		return errors.New("invalid model state")
	}
	return nil
}
