package compliance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/quantcore/internal/database"
	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/modules/compliance"
	"github.com/aristath/quantcore/internal/quanterr"
	testutil "github.com/aristath/quantcore/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repositories(t *testing.T) map[string]compliance.ExceptionRepository {
	t.Helper()
	db, cleanup := testutil.NewTestDB(t, database.NameLedger)
	t.Cleanup(cleanup)
	return map[string]compliance.ExceptionRepository{
		"sqlite":    compliance.NewSQLiteExceptionRepository(db.Conn(), zerolog.Nop()),
		"in_memory": compliance.NewInMemoryExceptionRepository(zerolog.Nop()),
	}
}

func blockedReport(t *testing.T) *compliance.Report {
	t.Helper()
	rs := ruleset(compliance.Rule{Name: compliance.RuleMaxSinglePosition, Limit: 0.05})
	report, err := newEngine().Check(context.Background(),
		compliance.Proposal{Weights: domain.Weights{"A": 0.065}}, rs, compliance.Context{})
	require.NoError(t, err)
	return report
}

func TestExceptionWorkflow_ApproveAppendsVersion(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := compliance.NewExceptionService(repo, zerolog.Nop())
			report := blockedReport(t)
			before := *report

			req, err := svc.Request(ctx, report, "max_single_position:A", "Index rebalance", "alice")
			require.NoError(t, err)
			assert.Equal(t, compliance.ExceptionPending, req.Status)
			assert.Equal(t, 1, req.Version)
			assert.Len(t, req.ID, 36)

			approved, err := svc.Approve(ctx, req.ID, "bob")
			require.NoError(t, err)
			assert.Equal(t, compliance.ExceptionApproved, approved.Status)
			assert.Equal(t, 2, approved.Version)
			assert.Equal(t, "bob", approved.ReviewedBy)
			require.NotNil(t, approved.ReviewedAt)

			history, err := svc.History(ctx, req.ID)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, compliance.ExceptionPending, history[0].Status)
			assert.Nil(t, history[0].ReviewedAt)
			assert.Equal(t, compliance.ExceptionApproved, history[1].Status)

			latest, err := svc.Get(ctx, req.ID)
			require.NoError(t, err)
			assert.Equal(t, *approved, *latest)

			// The report itself is untouched
			assert.Equal(t, before, *report)
			assert.Equal(t, compliance.StatusBlock, report.OverallStatus)
		})
	}
}

func TestExceptionWorkflow_OnlyPendingTransitions(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := compliance.NewExceptionService(repo, zerolog.Nop())

			req, err := svc.Request(ctx, nil, "max_single_position:A", "Temporary overweight", "alice")
			require.NoError(t, err)
			_, err = svc.Reject(ctx, req.ID, "bob")
			require.NoError(t, err)

			_, err = svc.Approve(ctx, req.ID, "carol")
			assert.True(t, errors.Is(err, quanterr.ErrConfiguration))

			history, err := svc.History(ctx, req.ID)
			require.NoError(t, err)
			assert.Len(t, history, 2)
			assert.Equal(t, compliance.ExceptionRejected, history[1].Status)
		})
	}
}

func TestExceptionWorkflow_Validation(t *testing.T) {
	ctx := context.Background()
	svc := compliance.NewExceptionService(compliance.NewInMemoryExceptionRepository(zerolog.Nop()), zerolog.Nop())
	report := blockedReport(t)

	_, err := svc.Request(ctx, report, "max_gross_leverage:portfolio", "n/a", "alice")
	assert.True(t, errors.Is(err, quanterr.ErrConfiguration))

	_, err = svc.Request(ctx, report, "max_single_position:A", " ", "alice")
	assert.True(t, errors.Is(err, quanterr.ErrConfiguration))

	req, err := svc.Request(ctx, report, "max_single_position:A", "Index rebalance", "alice")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, req.ID, "alice")
	assert.True(t, errors.Is(err, quanterr.ErrConfiguration), "requester cannot approve")

	_, err = svc.Approve(ctx, "missing", "bob")
	assert.True(t, errors.Is(err, compliance.ErrExceptionNotFound))
}

func TestExceptionRepository_RejectsVersionGaps(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
			req, err := compliance.NewExceptionRequest("max_single_position:A", "reason", "alice", now)
			require.NoError(t, err)
			require.NoError(t, repo.Append(ctx, req))

			// Re-appending the same version conflicts
			err = repo.Append(ctx, req)
			assert.True(t, errors.Is(err, compliance.ErrVersionConflict))

			skipped := req
			skipped.Version = 3
			err = repo.Append(ctx, skipped)
			assert.True(t, errors.Is(err, compliance.ErrVersionConflict))
		})
	}
}

func TestExceptionRequest_ReviewKeepsCreationTime(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	reviewed := created.Add(26 * time.Hour)

	req, err := compliance.NewExceptionRequest("max_single_position:A", "reason", "alice", created)
	require.NoError(t, err)

	next, err := req.Review(false, "bob", reviewed)
	require.NoError(t, err)
	assert.Equal(t, created, next.CreatedAt)
	require.NotNil(t, next.ReviewedAt)
	assert.Equal(t, reviewed, *next.ReviewedAt)

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Append(ctx, req))
			require.NoError(t, repo.Append(ctx, next))

			history, err := repo.History(ctx, req.ID)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.True(t, history[0].CreatedAt.Equal(history[1].CreatedAt))
			require.NotNil(t, history[1].ReviewedAt)
			assert.True(t, history[1].ReviewedAt.Equal(reviewed))
		})
	}
}

func TestExceptionRepository_ByViolationReturnsLatestVersions(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := compliance.NewExceptionService(repo, zerolog.Nop())

			first, err := svc.Request(ctx, nil, "restricted_securities:X", "Legacy holding", "alice")
			require.NoError(t, err)
			second, err := svc.Request(ctx, nil, "restricted_securities:X", "Corporate action", "dave")
			require.NoError(t, err)
			_, err = svc.Request(ctx, nil, "max_var_95:portfolio", "Vol spike", "alice")
			require.NoError(t, err)
			_, err = svc.Approve(ctx, first.ID, "bob")
			require.NoError(t, err)

			found, err := svc.ForViolation(ctx, "restricted_securities:X")
			require.NoError(t, err)
			require.Len(t, found, 2)
			assert.Equal(t, first.ID, found[0].ID)
			assert.Equal(t, compliance.ExceptionApproved, found[0].Status)
			assert.Equal(t, second.ID, found[1].ID)
			assert.Equal(t, compliance.ExceptionPending, found[1].Status)
		})
	}
}

func TestExceptionLedger_IsAppendOnly(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, database.NameLedger)
	defer cleanup()

	repo := compliance.NewSQLiteExceptionRepository(db.Conn(), zerolog.Nop())
	req, err := compliance.NewExceptionRequest("max_single_position:A", "reason", "alice", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, repo.Append(context.Background(), req))

	_, err = db.Conn().Exec(`UPDATE compliance_exceptions SET status = 'APPROVED'`)
	assert.Error(t, err)
	_, err = db.Conn().Exec(`DELETE FROM compliance_exceptions`)
	assert.Error(t, err)
}
