package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent jobs globally and per tenant.
type Pool struct {
	capacity       int
	tenantCapacity int
	global         *semaphore.Weighted
	tenants        map[string]*semaphore.Weighted
	tracker        *tracker
	observer       Observer
	log            zerolog.Logger
	mu             sync.Mutex
}

// NewPool creates a pool. A capacity of zero or less uses DefaultCapacity;
// the tenant capacity is clamped to [1, capacity].
func NewPool(capacity, tenantCapacity int, observer Observer, log zerolog.Logger) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity()
	}
	if tenantCapacity < 1 {
		tenantCapacity = 1
	}
	if tenantCapacity > capacity {
		tenantCapacity = capacity
	}
	if observer == nil {
		observer = nopObserver{}
	}

	p := &Pool{
		capacity:       capacity,
		tenantCapacity: tenantCapacity,
		global:         semaphore.NewWeighted(int64(capacity)),
		tenants:        make(map[string]*semaphore.Weighted),
		tracker:        newTracker(),
		observer:       observer,
		log:            log.With().Str("component", "work_pool").Logger(),
	}

	p.log.Info().
		Int("capacity", capacity).
		Int("tenant_capacity", tenantCapacity).
		Msg("Worker pool ready")

	return p
}

// Capacity returns the global job limit
func (p *Pool) Capacity() int {
	return p.capacity
}

// Snapshot reports the current load
func (p *Pool) Snapshot() Snapshot {
	snap := p.tracker.snapshot()
	snap.Capacity = p.capacity
	snap.TenantCapacity = p.tenantCapacity
	return snap
}

// Do runs fn once a tenant slot and a global slot are free. Without a caller
// deadline the job is bounded by JobTimeout. Deadlines, whether they expire
// while queued or while running, are reported as quanterr.ErrDeadlineExceeded.
func (p *Pool) Do(ctx context.Context, job Job, fn Func) error {
	op := "work." + job.Kind
	tenant := job.tenant()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, JobTimeout)
		defer cancel()
	}

	queuedAt := time.Now()
	p.tracker.queued(tenant)
	p.observer.JobQueued(job)

	// Step 1: Tenant slot, then a global slot
	sem := p.tenant(tenant)
	if err := sem.Acquire(ctx, 1); err != nil {
		return p.abandon(job, op, queuedAt, err)
	}
	defer sem.Release(1)

	if err := p.global.Acquire(ctx, 1); err != nil {
		return p.abandon(job, op, queuedAt, err)
	}
	defer p.global.Release(1)

	// Step 2: Run
	startedAt := time.Now()
	p.tracker.started(tenant)
	p.observer.JobStarted(job, startedAt.Sub(queuedAt))

	err := fn(ctx)
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, quanterr.ErrDeadlineExceeded) {
		err = quanterr.FromContext(op, err)
	}

	outcome := classify(err)
	took := time.Since(startedAt)
	p.tracker.done(tenant, outcome, true)
	p.observer.JobFinished(job, outcome, took)

	event := p.log.Debug()
	if outcome != OutcomeSuccess {
		event = p.log.Warn().Err(err)
	}
	event.
		Str("job", job.ID).
		Str("kind", job.Kind).
		Str("tenant", tenant).
		Dur("took", took).
		Str("outcome", string(outcome)).
		Msg("Job finished")

	return err
}

func (p *Pool) abandon(job Job, op string, queuedAt time.Time, err error) error {
	err = quanterr.FromContext(op, err)
	outcome := classify(err)
	p.tracker.done(job.tenant(), outcome, false)
	p.observer.JobFinished(job, outcome, time.Since(queuedAt))
	p.log.Warn().
		Str("job", job.ID).
		Str("kind", job.Kind).
		Str("tenant", job.tenant()).
		Str("outcome", string(outcome)).
		Msg("Job gave up while queued")
	return err
}

func (p *Pool) tenant(name string) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()

	sem, ok := p.tenants[name]
	if !ok {
		sem = semaphore.NewWeighted(int64(p.tenantCapacity))
		p.tenants[name] = sem
	}
	return sem
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, quanterr.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}

// Stage is one independent step of a fan-out
type Stage struct {
	Name string
	Run  Func
}

// Fan runs stages concurrently, at most limit at a time (0 means no limit).
// The first failure cancels the remaining stages and is returned prefixed
// with the stage name.
func Fan(ctx context.Context, limit int, stages ...Stage) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, stage := range stages {
		stage := stage
		g.Go(func() error {
			if err := stage.Run(gctx); err != nil {
				return fmt.Errorf("%s: %w", stage.Name, err)
			}
			return nil
		})
	}

	return g.Wait()
}
