package compliance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ExceptionStatus is the review state of an exception request
type ExceptionStatus string

const (
	ExceptionPending  ExceptionStatus = "PENDING"
	ExceptionApproved ExceptionStatus = "APPROVED"
	ExceptionRejected ExceptionStatus = "REJECTED"
)

// ErrExceptionNotFound is returned for an unknown exception id
var ErrExceptionNotFound = errors.New("exception request not found")

// ExceptionRequest asks for a waiver of one violation. Requests are never
// modified: a review appends the next Version with the new status.
type ExceptionRequest struct {
	ID            string          `json:"id" yaml:"id" msgpack:"id"`
	Version       int             `json:"version" yaml:"version" msgpack:"version"`
	ViolationID   string          `json:"violation_id" yaml:"violation_id" msgpack:"violation_id"`
	Justification string          `json:"justification" yaml:"justification" msgpack:"justification"`
	RequestedBy   string          `json:"requested_by" yaml:"requested_by" msgpack:"requested_by"`
	Status        ExceptionStatus `json:"status" yaml:"status" msgpack:"status"`
	ReviewedBy    string          `json:"reviewed_by,omitempty" yaml:"reviewed_by,omitempty" msgpack:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time      `json:"reviewed_at,omitempty" yaml:"reviewed_at,omitempty" msgpack:"reviewed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at" yaml:"created_at" msgpack:"created_at"`
}

// NewExceptionRequest validates and builds the first version of a request
func NewExceptionRequest(violationID, justification, requestedBy string, now time.Time) (ExceptionRequest, error) {
	const op = "compliance.exception"

	switch {
	case strings.TrimSpace(violationID) == "":
		return ExceptionRequest{}, quanterr.Configuration(op, "violation_id is required")
	case strings.TrimSpace(justification) == "":
		return ExceptionRequest{}, quanterr.Configuration(op, "justification is required")
	case strings.TrimSpace(requestedBy) == "":
		return ExceptionRequest{}, quanterr.Configuration(op, "requested_by is required")
	}
	return ExceptionRequest{
		ID:            uuid.New().String(),
		Version:       1,
		ViolationID:   violationID,
		Justification: justification,
		RequestedBy:   requestedBy,
		Status:        ExceptionPending,
		CreatedAt:     now,
	}, nil
}

// Review returns the next version of r with the decision applied.
// Only PENDING requests can be reviewed, and never by their requester.
func (r ExceptionRequest) Review(approve bool, reviewer string, now time.Time) (ExceptionRequest, error) {
	const op = "compliance.exception"

	if r.Status != ExceptionPending {
		return ExceptionRequest{}, quanterr.Configuration(op, "exception %s is %s; only PENDING requests can be reviewed", r.ID, r.Status)
	}
	if strings.TrimSpace(reviewer) == "" {
		return ExceptionRequest{}, quanterr.Configuration(op, "reviewer is required")
	}
	if reviewer == r.RequestedBy {
		return ExceptionRequest{}, quanterr.Configuration(op, "exception %s cannot be reviewed by its requester", r.ID)
	}

	next := r
	next.Version = r.Version + 1
	next.Status = ExceptionRejected
	if approve {
		next.Status = ExceptionApproved
	}
	next.ReviewedBy = reviewer
	reviewedAt := now
	next.ReviewedAt = &reviewedAt
	return next, nil
}

// ExceptionService runs the exception workflow over an append-only repository
type ExceptionService struct {
	repo ExceptionRepository
	log  zerolog.Logger
	now  func() time.Time
}

// NewExceptionService creates an exception service
func NewExceptionService(repo ExceptionRepository, log zerolog.Logger) *ExceptionService {
	return &ExceptionService{
		repo: repo,
		log:  log.With().Str("service", "compliance_exceptions").Logger(),
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// Request records a new PENDING exception. When report is given the
// violation id must name one of its violations.
func (s *ExceptionService) Request(ctx context.Context, report *Report, violationID, justification, requestedBy string) (*ExceptionRequest, error) {
	if report != nil {
		rec, ok := report.Find(violationID)
		if !ok || rec.Kind != KindViolation {
			return nil, quanterr.Configuration("compliance.exception", "report has no violation %q", violationID)
		}
	}
	req, err := NewExceptionRequest(violationID, justification, requestedBy, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Append(ctx, req); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("exception_id", req.ID).
		Str("violation_id", violationID).
		Str("requested_by", requestedBy).
		Msg("Exception requested")

	return &req, nil
}

// Approve appends an APPROVED version of the exception
func (s *ExceptionService) Approve(ctx context.Context, id, reviewer string) (*ExceptionRequest, error) {
	return s.review(ctx, id, reviewer, true)
}

// Reject appends a REJECTED version of the exception
func (s *ExceptionService) Reject(ctx context.Context, id, reviewer string) (*ExceptionRequest, error) {
	return s.review(ctx, id, reviewer, false)
}

func (s *ExceptionService) review(ctx context.Context, id, reviewer string, approve bool) (*ExceptionRequest, error) {
	latest, err := s.repo.Latest(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := latest.Review(approve, reviewer, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Append(ctx, next); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("exception_id", id).
		Str("status", string(next.Status)).
		Str("reviewed_by", reviewer).
		Msg("Exception reviewed")

	return &next, nil
}

// Get returns the latest version of an exception
func (s *ExceptionService) Get(ctx context.Context, id string) (*ExceptionRequest, error) {
	return s.repo.Latest(ctx, id)
}

// History returns every version of an exception, oldest first
func (s *ExceptionService) History(ctx context.Context, id string) ([]ExceptionRequest, error) {
	return s.repo.History(ctx, id)
}

// ForViolation returns the latest version of every exception raised against a violation
func (s *ExceptionService) ForViolation(ctx context.Context, violationID string) ([]ExceptionRequest, error) {
	return s.repo.ByViolation(ctx, violationID)
}
