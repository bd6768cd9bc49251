package artifact

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mlforge-io/mlforge/internal/domain"
)

// Mirror backs the local cache with durable off-process storage.
type Mirror interface {
	Push(ctx context.Context, fingerprint string, payload []byte) error
	Pull(ctx context.Context, fingerprint string) ([]byte, error)
	Exists(ctx context.Context, fingerprint string) (bool, error)
}

// MirroredStore composes a local Store with a Mirror. Writes land
// locally and are pushed through; reads fall back to a pull on local
// miss before declaring the artifact missing.
type MirroredStore struct {
	local  Store
	mirror Mirror
	logger *slog.Logger
}

func NewMirroredStore(local Store, mirror Mirror, logger *slog.Logger) (*MirroredStore, error) {
	if local == nil {
		return nil, fmt.Errorf("local store is required")
	}
	if mirror == nil {
		return nil, fmt.Errorf("mirror is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MirroredStore{local: local, mirror: mirror, logger: logger}, nil
}

func (s *MirroredStore) Put(ctx context.Context, fp string, payload []byte, kind domain.ArtifactKind) (domain.Artifact, error) {
	record, err := s.local.Put(ctx, fp, payload, kind)
	if err != nil {
		return domain.Artifact{}, err
	}
	if err := s.mirror.Push(ctx, fp, payload); err != nil {
		return domain.Artifact{}, fmt.Errorf("mirror push %s: %w", fp, err)
	}
	return record, nil
}

func (s *MirroredStore) Get(ctx context.Context, fp string) ([]byte, error) {
	payload, err := s.local.Get(ctx, fp)
	if err == nil {
		return payload, nil
	}
	payload, pullErr := s.mirror.Pull(ctx, fp)
	if pullErr != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fp)
	}
	// Seed the local cache. The payload kind is unknown at this layer;
	// a mirrored payload re-enters as a dataset record and the content
	// hash still guards against collisions.
	if _, seedErr := s.local.Put(ctx, fp, payload, domain.ArtifactKindDataset); seedErr != nil {
		s.logger.Warn("seeding local cache from mirror failed", "fingerprint", fp, "error", seedErr)
	}
	return payload, nil
}

func (s *MirroredStore) Has(ctx context.Context, fp string) (bool, error) {
	ok, err := s.local.Has(ctx, fp)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return s.mirror.Exists(ctx, fp)
}

func (s *MirroredStore) Stat(ctx context.Context, fp string) (domain.Artifact, error) {
	return s.local.Stat(ctx, fp)
}
