package domain

import (
	"errors"
	"strings"
	"time"
)

// RunStatus represents the terminal or in-flight status of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// StageResult is one entry of a run's ordered execution log.
type StageResult struct {
	Stage       string
	Fingerprint string
	CacheHit    bool
	Duration    time.Duration
	Error       string
}

// Run records a single end-to-end execution of a pipeline graph. It is
// created when the pipeline starts and finalized exactly once, at
// completion or on the first fatal failure.
type Run struct {
	ID       string
	Pipeline string
	Params   map[string]string
	Status   RunStatus
	Stages   []StageResult
	StartedAt time.Time
	EndedAt   *time.Time
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.Pipeline) == "" {
		return errors.New("pipeline name is required")
	}
	if !r.Status.Valid() {
		return errors.New("invalid run status")
	}
	if r.StartedAt.IsZero() {
		return errors.New("run start time is required")
	}
	if r.Status.Terminal() && r.EndedAt == nil {
		return errors.New("terminal run requires an end time")
	}
	return nil
}

// CacheHits counts the stages answered from the artifact store.
func (r Run) CacheHits() int {
	hits := 0
	for _, res := range r.Stages {
		if res.CacheHit {
			hits++
		}
	}
	return hits
}
