// Package artifact implements the content-addressed artifact cache
// backing pipeline stage outputs and served model payloads.
package artifact

import (
	"context"
	"errors"
	"fmt"

	"github.com/mlforge-io/mlforge/internal/domain"
)

// ErrNotFound is returned when no artifact exists under a fingerprint,
// locally or in a configured mirror.
var ErrNotFound = errors.New("artifact not found")

// CollisionError signals that a fingerprint was stored twice with
// differing payloads. That is a correctness bug in a work function or
// the fingerprint scheme, so callers must halt rather than proceed.
type CollisionError struct {
	Fingerprint string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("fingerprint collision: %s stored with differing payloads", e.Fingerprint)
}

// Store is the content-addressed artifact cache. Put is idempotent for
// equal payloads and fails with CollisionError for differing ones;
// artifacts are never mutated or overwritten in place.
type Store interface {
	Put(ctx context.Context, fingerprint string, payload []byte, kind domain.ArtifactKind) (domain.Artifact, error)
	Get(ctx context.Context, fingerprint string) ([]byte, error)
	Has(ctx context.Context, fingerprint string) (bool, error)
	Stat(ctx context.Context, fingerprint string) (domain.Artifact, error)
}
