package compliance

import "context"

// ComplianceEngine is the contract implemented by Engine
type ComplianceEngine interface {
	Check(ctx context.Context, proposal Proposal, rs Ruleset, cc Context) (*Report, error)
}

// ExceptionRepository stores exception requests. Implementations only append;
// a version that already exists for an id is an error.
type ExceptionRepository interface {
	Append(ctx context.Context, req ExceptionRequest) error
	Latest(ctx context.Context, id string) (*ExceptionRequest, error)
	History(ctx context.Context, id string) ([]ExceptionRequest, error)
	ByViolation(ctx context.Context, violationID string) ([]ExceptionRequest, error)
}

var (
	_ ComplianceEngine    = (*Engine)(nil)
	_ ExceptionRepository = (*SQLiteExceptionRepository)(nil)
	_ ExceptionRepository = (*InMemoryExceptionRepository)(nil)
)
