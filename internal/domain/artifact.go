package domain

import (
	"errors"
	"strings"
	"time"
)

// ArtifactKind tags the payload category of a stored artifact.
type ArtifactKind string

const (
	ArtifactKindDataset   ArtifactKind = "dataset"
	ArtifactKindModel     ArtifactKind = "model"
	ArtifactKindMetricSet ArtifactKind = "metric-set"
)

func (k ArtifactKind) Valid() bool {
	switch k {
	case ArtifactKindDataset, ArtifactKindModel, ArtifactKindMetricSet:
		return true
	default:
		return false
	}
}

// Artifact is the record of an immutable, content-addressed payload.
// The payload itself lives in the artifact store under Fingerprint;
// a changed payload always means a new fingerprint and a new record.
type Artifact struct {
	Fingerprint string
	Kind        ArtifactKind
	SHA256      string
	SizeBytes   int64
	CreatedAt   time.Time
}

func (a Artifact) Validate() error {
	if strings.TrimSpace(a.Fingerprint) == "" {
		return errors.New("artifact fingerprint is required")
	}
	if !a.Kind.Valid() {
		return errors.New("invalid artifact kind")
	}
	if strings.TrimSpace(a.SHA256) == "" {
		return errors.New("artifact sha256 is required")
	}
	if a.SizeBytes < 0 {
		return errors.New("artifact size must be >= 0")
	}
	return nil
}
