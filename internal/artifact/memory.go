package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mlforge-io/mlforge/internal/domain"
	"github.com/mlforge-io/mlforge/internal/fingerprint"
)

type memoryEntry struct {
	record  domain.Artifact
	payload []byte
}

// MemoryStore is an in-process Store. Safe for concurrent use; the
// idempotent-put contract makes duplicate writes from concurrent runs
// harmless.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, fp string, payload []byte, kind domain.ArtifactKind) (domain.Artifact, error) {
	if strings.TrimSpace(fp) == "" {
		return domain.Artifact{}, errors.New("fingerprint is required")
	}
	if !kind.Valid() {
		return domain.Artifact{}, fmt.Errorf("invalid artifact kind %q", kind)
	}
	sum := fingerprint.Content(payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[fp]; ok {
		if existing.record.SHA256 != sum {
			return domain.Artifact{}, &CollisionError{Fingerprint: fp}
		}
		return existing.record, nil
	}
	record := domain.Artifact{
		Fingerprint: fp,
		Kind:        kind,
		SHA256:      sum,
		SizeBytes:   int64(len(payload)),
		CreatedAt:   s.now().UTC(),
	}
	stored := make([]byte, len(payload))
	copy(stored, payload)
	s.entries[fp] = memoryEntry{record: record, payload: stored}
	return record, nil
}

func (s *MemoryStore) Get(ctx context.Context, fp string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[fp]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fp)
	}
	out := make([]byte, len(entry.payload))
	copy(out, entry.payload)
	return out, nil
}

func (s *MemoryStore) Has(ctx context.Context, fp string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[fp]
	return ok, nil
}

func (s *MemoryStore) Stat(ctx context.Context, fp string) (domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[fp]
	if !ok {
		return domain.Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, fp)
	}
	return entry.record, nil
}
