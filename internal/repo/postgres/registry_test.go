package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mlforge-io/mlforge/internal/domain"
	"github.com/mlforge-io/mlforge/internal/registry"
)

func newMockRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	reg, err := NewRegistry(db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return reg, mock
}

func TestRegisterInsertsNextVersion(t *testing.T) {
	reg, mock := newMockRegistry(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO model_versions")).
		WithArgs("churn-model", "fp-1", "staging", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))

	version, err := reg.Register(context.Background(), "churn-model", "fp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version.Version != 3 {
		t.Fatalf("expected version 3, got %d", version.Version)
	}
	if version.State != domain.ModelStateStaging {
		t.Fatalf("expected staging state, got %q", version.State)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPromoteRunsInOneTransaction(t *testing.T) {
	reg, mock := newMockRegistry(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT state FROM model_versions")).
		WithArgs("churn-model", 2).
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow("staging"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE model_versions SET state = $1 WHERE name = $2 AND state = $3 AND version <> $4")).
		WithArgs("archived", "churn-model", "production", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE model_versions SET state = $1 WHERE name = $2 AND version = $3")).
		WithArgs("production", "churn-model", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := reg.Promote(context.Background(), "churn-model", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPromoteUnknownVersionRollsBack(t *testing.T) {
	reg, mock := newMockRegistry(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT state FROM model_versions")).
		WithArgs("churn-model", 9).
		WillReturnRows(sqlmock.NewRows([]string{"state"}))
	mock.ExpectRollback()

	err := reg.Promote(context.Background(), "churn-model", 9)
	if !errors.Is(err, registry.ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPromoteRejectsArchivedVersion(t *testing.T) {
	reg, mock := newMockRegistry(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT state FROM model_versions")).
		WithArgs("churn-model", 1).
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow("archived"))
	mock.ExpectRollback()

	if err := reg.Promote(context.Background(), "churn-model", 1); err == nil {
		t.Fatalf("expected transition error for archived version")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResolveNoActiveVersion(t *testing.T) {
	reg, mock := newMockRegistry(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, version, artifact_fingerprint, state, created_at")).
		WithArgs("churn-model", "production").
		WillReturnRows(sqlmock.NewRows([]string{"name", "version", "artifact_fingerprint", "state", "created_at"}))

	_, err := reg.Resolve(context.Background(), "churn-model", domain.ModelStateProduction)
	if !errors.Is(err, registry.ErrNoActiveVersion) {
		t.Fatalf("expected ErrNoActiveVersion, got %v", err)
	}
}

func TestResolveReturnsVersion(t *testing.T) {
	reg, mock := newMockRegistry(t)
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, version, artifact_fingerprint, state, created_at")).
		WithArgs("churn-model", "production").
		WillReturnRows(
			sqlmock.NewRows([]string{"name", "version", "artifact_fingerprint", "state", "created_at"}).
				AddRow("churn-model", 2, "fp-2", "production", created),
		)

	version, err := reg.Resolve(context.Background(), "churn-model", domain.ModelStateProduction)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version.Version != 2 || version.ArtifactFingerprint != "fp-2" {
		t.Fatalf("unexpected version: %+v", version)
	}
}

func TestListReturnsAllVersions(t *testing.T) {
	reg, mock := newMockRegistry(t)
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY version ASC")).
		WithArgs("churn-model").
		WillReturnRows(
			sqlmock.NewRows([]string{"name", "version", "artifact_fingerprint", "state", "created_at"}).
				AddRow("churn-model", 1, "fp-1", "archived", created).
				AddRow("churn-model", 2, "fp-2", "production", created),
		)

	versions, err := reg.List(context.Background(), "churn-model")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[1].State != domain.ModelStateProduction {
		t.Fatalf("expected second version production, got %q", versions[1].State)
	}
}
