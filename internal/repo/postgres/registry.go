// Package postgres provides the durable model registry backed by a
// PostgreSQL database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mlforge-io/mlforge/internal/domain"
	"github.com/mlforge-io/mlforge/internal/registry"
)

// Schema creates the model_versions table. The unique constraint on
// (name, version) makes concurrent registrations safe: one of two
// racing inserts fails instead of duplicating a version number.
const Schema = `
CREATE TABLE IF NOT EXISTS model_versions (
	name                 TEXT        NOT NULL,
	version              INTEGER     NOT NULL,
	artifact_fingerprint TEXT        NOT NULL,
	state                TEXT        NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (name, version)
);
CREATE INDEX IF NOT EXISTS model_versions_state_idx ON model_versions (name, state);
`

// Registry implements registry.Registry on top of *sql.DB with the
// pgx stdlib driver.
type Registry struct {
	db  *sql.DB
	now func() time.Time
}

func NewRegistry(db *sql.DB) (*Registry, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Registry{db: db, now: time.Now}, nil
}

// EnsureSchema applies the registry schema.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("db is required")
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply registry schema: %w", err)
	}
	return nil
}

func (r *Registry) Register(ctx context.Context, name, artifactFingerprint string) (domain.ModelVersion, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ModelVersion{}, errors.New("model name is required")
	}
	artifactFingerprint = strings.TrimSpace(artifactFingerprint)
	if artifactFingerprint == "" {
		return domain.ModelVersion{}, errors.New("artifact fingerprint is required")
	}

	createdAt := r.now().UTC()
	var version int
	err := r.db.QueryRowContext(
		ctx,
		`INSERT INTO model_versions (name, version, artifact_fingerprint, state, created_at)
		 SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4
		 FROM model_versions WHERE name = $1
		 RETURNING version`,
		name,
		artifactFingerprint,
		string(domain.ModelStateStaging),
		createdAt,
	).Scan(&version)
	if err != nil {
		return domain.ModelVersion{}, fmt.Errorf("register model version: %w", err)
	}
	return domain.ModelVersion{
		Name:                name,
		Version:             version,
		ArtifactFingerprint: artifactFingerprint,
		State:               domain.ModelStateStaging,
		CreatedAt:           createdAt,
	}, nil
}

// Promote transitions the target version to production and demotes any
// prior production holder, inside one transaction so readers never
// observe a torn state.
func (r *Registry) Promote(ctx context.Context, name string, version int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("model name is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin promote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(
		ctx,
		`SELECT state FROM model_versions WHERE name = $1 AND version = $2 FOR UPDATE`,
		name,
		version,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s version %d", registry.ErrVersionNotFound, name, version)
	}
	if err != nil {
		return fmt.Errorf("lock model version: %w", err)
	}
	if err := domain.ValidateTransition(domain.ModelState(current), domain.ModelStateProduction); err != nil {
		return err
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE model_versions SET state = $1 WHERE name = $2 AND state = $3 AND version <> $4`,
		string(domain.ModelStateArchived),
		name,
		string(domain.ModelStateProduction),
		version,
	); err != nil {
		return fmt.Errorf("demote prior production: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE model_versions SET state = $1 WHERE name = $2 AND version = $3`,
		string(domain.ModelStateProduction),
		name,
		version,
	); err != nil {
		return fmt.Errorf("promote model version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit promote: %w", err)
	}
	return nil
}

func (r *Registry) Resolve(ctx context.Context, name string, state domain.ModelState) (domain.ModelVersion, error) {
	if !state.Valid() {
		return domain.ModelVersion{}, fmt.Errorf("invalid model state %q", state)
	}
	var out domain.ModelVersion
	var stateRaw string
	err := r.db.QueryRowContext(
		ctx,
		`SELECT name, version, artifact_fingerprint, state, created_at
		 FROM model_versions
		 WHERE name = $1 AND state = $2
		 ORDER BY version DESC
		 LIMIT 1`,
		strings.TrimSpace(name),
		string(state),
	).Scan(&out.Name, &out.Version, &out.ArtifactFingerprint, &stateRaw, &out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ModelVersion{}, fmt.Errorf("%w: %s in state %q", registry.ErrNoActiveVersion, name, state)
	}
	if err != nil {
		return domain.ModelVersion{}, fmt.Errorf("resolve model version: %w", err)
	}
	out.State = domain.ModelState(stateRaw)
	return out, nil
}

func (r *Registry) List(ctx context.Context, name string) ([]domain.ModelVersion, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT name, version, artifact_fingerprint, state, created_at
		 FROM model_versions
		 WHERE name = $1
		 ORDER BY version ASC`,
		strings.TrimSpace(name),
	)
	if err != nil {
		return nil, fmt.Errorf("list model versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	versions := make([]domain.ModelVersion, 0)
	for rows.Next() {
		var v domain.ModelVersion
		var stateRaw string
		if err := rows.Scan(&v.Name, &v.Version, &v.ArtifactFingerprint, &stateRaw, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan model version: %w", err)
		}
		v.State = domain.ModelState(stateRaw)
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model versions: %w", err)
	}
	return versions, nil
}
