package compliance

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// InMemoryExceptionRepository keeps the exception ledger in process memory
type InMemoryExceptionRepository struct {
	versions map[string][]ExceptionRequest // key: exception id
	order    []string                      // ids in first-appended order
	mu       sync.RWMutex
	log      zerolog.Logger
}

func NewInMemoryExceptionRepository(log zerolog.Logger) *InMemoryExceptionRepository {
	return &InMemoryExceptionRepository{
		versions: make(map[string][]ExceptionRequest),
		log:      log.With().Str("repository", "compliance_exception_inmemory").Logger(),
	}
}

func (r *InMemoryExceptionRepository) Append(ctx context.Context, req ExceptionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.versions[req.ID]
	if len(existing)+1 != req.Version {
		return fmt.Errorf("%w: %s has version %d, got %d", ErrVersionConflict, req.ID, len(existing), req.Version)
	}
	if len(existing) == 0 {
		r.order = append(r.order, req.ID)
	}
	r.versions[req.ID] = append(existing, clone(req))
	return nil
}

func (r *InMemoryExceptionRepository) Latest(ctx context.Context, id string) (*ExceptionRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.versions[id]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrExceptionNotFound, id)
	}
	latest := clone(versions[len(versions)-1])
	return &latest, nil
}

func (r *InMemoryExceptionRepository) History(ctx context.Context, id string) ([]ExceptionRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.versions[id]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrExceptionNotFound, id)
	}
	out := make([]ExceptionRequest, len(versions))
	for i, v := range versions {
		out[i] = clone(v)
	}
	return out, nil
}

func (r *InMemoryExceptionRepository) ByViolation(ctx context.Context, violationID string) ([]ExceptionRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []ExceptionRequest{}
	for _, id := range r.order {
		versions := r.versions[id]
		latest := versions[len(versions)-1]
		if latest.ViolationID == violationID {
			out = append(out, clone(latest))
		}
	}
	return out, nil
}

func clone(req ExceptionRequest) ExceptionRequest {
	if req.ReviewedAt != nil {
		t := *req.ReviewedAt
		req.ReviewedAt = &t
	}
	return req
}
