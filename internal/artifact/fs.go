package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mlforge-io/mlforge/internal/domain"
	"github.com/mlforge-io/mlforge/internal/fingerprint"
)

// FSStore is a filesystem-backed Store so cached artifacts survive
// process restarts. Each artifact is a payload file plus a JSON record
// sidecar, both written via temp file + rename.
type FSStore struct {
	root string
	mu   sync.Mutex
	now  func() time.Time
}

type fsRecord struct {
	Fingerprint string              `json:"fingerprint"`
	Kind        domain.ArtifactKind `json:"kind"`
	SHA256      string              `json:"sha256"`
	SizeBytes   int64               `json:"size_bytes"`
	CreatedAt   time.Time           `json:"created_at"`
}

func NewFSStore(root string) (*FSStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &FSStore{root: root, now: time.Now}, nil
}

func (s *FSStore) payloadPath(fp string) string {
	return filepath.Join(s.root, fp[:2], fp+".bin")
}

func (s *FSStore) recordPath(fp string) string {
	return filepath.Join(s.root, fp[:2], fp+".json")
}

func (s *FSStore) Put(ctx context.Context, fp string, payload []byte, kind domain.ArtifactKind) (domain.Artifact, error) {
	if len(fp) < 2 {
		return domain.Artifact{}, errors.New("fingerprint is required")
	}
	if !kind.Valid() {
		return domain.Artifact{}, fmt.Errorf("invalid artifact kind %q", kind)
	}
	sum := fingerprint.Content(payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.readRecord(fp); err == nil {
		if existing.SHA256 != sum {
			return domain.Artifact{}, &CollisionError{Fingerprint: fp}
		}
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return domain.Artifact{}, err
	}

	record := domain.Artifact{
		Fingerprint: fp,
		Kind:        kind,
		SHA256:      sum,
		SizeBytes:   int64(len(payload)),
		CreatedAt:   s.now().UTC(),
	}
	if err := os.MkdirAll(filepath.Dir(s.payloadPath(fp)), 0o755); err != nil {
		return domain.Artifact{}, fmt.Errorf("create shard dir: %w", err)
	}
	if err := writeAtomic(s.payloadPath(fp), payload); err != nil {
		return domain.Artifact{}, fmt.Errorf("write payload: %w", err)
	}
	raw, err := json.Marshal(fsRecord{
		Fingerprint: record.Fingerprint,
		Kind:        record.Kind,
		SHA256:      record.SHA256,
		SizeBytes:   record.SizeBytes,
		CreatedAt:   record.CreatedAt,
	})
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("marshal record: %w", err)
	}
	if err := writeAtomic(s.recordPath(fp), raw); err != nil {
		return domain.Artifact{}, fmt.Errorf("write record: %w", err)
	}
	return record, nil
}

func (s *FSStore) Get(ctx context.Context, fp string) ([]byte, error) {
	if len(fp) < 2 {
		return nil, errors.New("fingerprint is required")
	}
	payload, err := os.ReadFile(s.payloadPath(fp))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fp)
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}

func (s *FSStore) Has(ctx context.Context, fp string) (bool, error) {
	if len(fp) < 2 {
		return false, errors.New("fingerprint is required")
	}
	if _, err := os.Stat(s.recordPath(fp)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat record: %w", err)
	}
	return true, nil
}

func (s *FSStore) Stat(ctx context.Context, fp string) (domain.Artifact, error) {
	if len(fp) < 2 {
		return domain.Artifact{}, errors.New("fingerprint is required")
	}
	return s.readRecord(fp)
}

func (s *FSStore) readRecord(fp string) (domain.Artifact, error) {
	raw, err := os.ReadFile(s.recordPath(fp))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, fp)
		}
		return domain.Artifact{}, fmt.Errorf("read record: %w", err)
	}
	var rec fsRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.Artifact{}, fmt.Errorf("decode record %s: %w", fp, err)
	}
	return domain.Artifact{
		Fingerprint: rec.Fingerprint,
		Kind:        rec.Kind,
		SHA256:      rec.SHA256,
		SizeBytes:   rec.SizeBytes,
		CreatedAt:   rec.CreatedAt,
	}, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
