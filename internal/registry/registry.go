// Package registry maintains the versioned index of trained models and
// their lifecycle states.
package registry

import (
	"context"
	"errors"

	"github.com/mlforge-io/mlforge/internal/domain"
)

var (
	// ErrNoActiveVersion is returned by Resolve when no version of the
	// named model currently holds the requested state.
	ErrNoActiveVersion = errors.New("no active model version")
	// ErrVersionNotFound is returned when a named version does not exist.
	ErrVersionNotFound = errors.New("model version not found")
)

// Registry is the only mutation/read surface over model lifecycle
// state. Register always appends the next version in "staging";
// Promote is atomic: concurrent readers never observe two production
// versions for one name, nor zero if one existed before.
type Registry interface {
	Register(ctx context.Context, name, artifactFingerprint string) (domain.ModelVersion, error)
	Promote(ctx context.Context, name string, version int) error
	Resolve(ctx context.Context, name string, state domain.ModelState) (domain.ModelVersion, error)
	List(ctx context.Context, name string) ([]domain.ModelVersion, error)
}
