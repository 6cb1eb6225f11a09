package work

import (
	"context"
	"time"
)

// JobTimeout bounds a job when the caller sets no deadline of its own.
const JobTimeout = 7 * time.Minute

// DefaultTenant is used for jobs submitted without a tenant
const DefaultTenant = "default"

// Job identifies one unit of work submitted to the pool.
type Job struct {
	// ID is unique per submission (a run id for pipeline runs).
	ID string

	// Kind is the tool call being executed (e.g., "signal.compute").
	Kind string

	// Tenant scopes the per-tenant capacity. Empty means DefaultTenant.
	Tenant string
}

// Func is the body of a job
type Func func(ctx context.Context) error

// Outcome labels a finished job
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeError    Outcome = "error"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeCanceled Outcome = "canceled"
)

// Observer is notified of job lifecycle transitions.
// Implementations must be safe for concurrent use.
type Observer interface {
	JobQueued(job Job)
	JobStarted(job Job, waited time.Duration)
	JobFinished(job Job, outcome Outcome, took time.Duration)
}

type nopObserver struct{}

func (nopObserver) JobQueued(Job)                           {}
func (nopObserver) JobStarted(Job, time.Duration)           {}
func (nopObserver) JobFinished(Job, Outcome, time.Duration) {}

func (j Job) tenant() string {
	if j.Tenant == "" {
		return DefaultTenant
	}
	return j.Tenant
}
