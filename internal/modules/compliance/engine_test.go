package compliance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/modules/compliance"
	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var checkedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine() *compliance.Engine {
	e := compliance.NewEngine(zerolog.Nop())
	e.SetClock(func() time.Time { return checkedAt })
	return e
}

func ruleset(rules ...compliance.Rule) compliance.Ruleset {
	return compliance.Ruleset{Name: "test", Rules: rules}
}

func ptr(v float64) *float64 { return &v }

func TestCheck_SinglePositionBreachBlocks(t *testing.T) {
	rs := ruleset(compliance.Rule{Name: compliance.RuleMaxSinglePosition, Limit: 0.05})

	report, err := newEngine().Check(context.Background(),
		compliance.Proposal{Weights: domain.Weights{"A": 0.065}}, rs, compliance.Context{})
	require.NoError(t, err)

	assert.Equal(t, compliance.StatusBlock, report.OverallStatus)
	require.Len(t, report.Violations, 1)
	assert.Empty(t, report.Warnings)

	v := report.Violations[0]
	assert.Equal(t, "A", v.Symbol)
	assert.Equal(t, compliance.RuleMaxSinglePosition, v.Rule)
	assert.Equal(t, "max_single_position:A", v.ID)
	assert.Equal(t, 0.065, v.Current)
	assert.Equal(t, 0.05, v.Limit)
	assert.Equal(t, compliance.CheckPositionLimits, v.CheckType)
	assert.Equal(t, compliance.KindViolation, v.Kind)
	assert.Equal(t, compliance.SeverityHigh, v.Severity)

	assert.Equal(t, compliance.Summary{TotalChecks: 1, FailedChecks: 1}, report.Summary)
	assert.Equal(t, []string{
		compliance.RecommendAddressViolations,
		"Resize positions outside the single-position limits",
	}, report.Recommendations)
	assert.Equal(t, checkedAt, report.CheckedAt)
	assert.Equal(t, []string{v.Message}, report.Reasons())
}

func TestCheck_PrecedenceIgnoresRuleOrder(t *testing.T) {
	rules := []compliance.Rule{
		{Name: compliance.RuleMinPositionSize, Limit: 0.001},
		{Name: compliance.RuleMaxSinglePosition, Limit: 0.05},
		{Name: compliance.RuleMinESGScore, Limit: 50},
	}
	reversed := []compliance.Rule{rules[2], rules[1], rules[0]}
	proposal := compliance.Proposal{Weights: domain.Weights{"A": 0.065, "B": 0.0005}}
	cc := compliance.Context{ESGScores: map[string]float64{"A": 20, "B": 70}}

	for _, rs := range [][]compliance.Rule{rules, reversed} {
		report, err := newEngine().Check(context.Background(), proposal, ruleset(rs...), cc)
		require.NoError(t, err)
		assert.Equal(t, compliance.StatusBlock, report.OverallStatus)
		assert.Len(t, report.Violations, 1)
		assert.Len(t, report.Warnings, 2)
		assert.Equal(t, compliance.RecommendAddressViolations, report.Recommendations[0])
		assert.Equal(t, compliance.RecommendReviewWarnings, report.Recommendations[1])
	}
}

func TestCheck_WarningsOnlyReview(t *testing.T) {
	rs := ruleset(
		compliance.Rule{Name: compliance.RuleMaxSinglePosition, Limit: 0.5},
		compliance.Rule{Name: compliance.RuleMinPositionSize, Limit: 0.01},
	)
	report, err := newEngine().Check(context.Background(),
		compliance.Proposal{Weights: domain.Weights{"A": 0.4, "B": 0.005}}, rs, compliance.Context{})
	require.NoError(t, err)

	assert.Equal(t, compliance.StatusReview, report.OverallStatus)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "B", report.Warnings[0].Symbol)
	assert.Equal(t, compliance.Summary{TotalChecks: 1, WarningChecks: 1}, report.Summary)
}

func TestCheck_CleanProposalPasses(t *testing.T) {
	rs := ruleset(
		compliance.Rule{Name: compliance.RuleMaxSinglePosition, Limit: 0.5},
		compliance.Rule{Name: compliance.RuleMaxGrossLeverage, Limit: 1},
	)
	report, err := newEngine().Check(context.Background(),
		compliance.Proposal{Weights: domain.Weights{"A": 0.4, "B": 0.4}}, rs, compliance.Context{})
	require.NoError(t, err)

	assert.Equal(t, compliance.StatusOK, report.OverallStatus)
	assert.Equal(t, []string{compliance.RecommendProceed}, report.Recommendations)
	assert.Equal(t, compliance.Summary{TotalChecks: 2, PassedChecks: 2}, report.Summary)
}

func TestCheck_KindFollowsRuleMetadata(t *testing.T) {
	rs := ruleset(compliance.Rule{
		Name:     compliance.RuleMaxSinglePosition,
		Limit:    0.05,
		Kind:     compliance.KindWarning,
		Severity: compliance.SeverityLow,
	})
	report, err := newEngine().Check(context.Background(),
		compliance.Proposal{Weights: domain.Weights{"A": 0.9}}, rs, compliance.Context{})
	require.NoError(t, err)

	assert.Equal(t, compliance.StatusReview, report.OverallStatus)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, compliance.SeverityLow, report.Warnings[0].Severity)
}

func TestCheck_OrdersApplyToCurrentWeights(t *testing.T) {
	rs := ruleset(
		compliance.Rule{Name: compliance.RuleMaxSinglePosition, Limit: 0.05},
		compliance.Rule{Name: compliance.RuleMaxShortPosition, Limit: 0},
	)
	proposal := compliance.Proposal{
		Current: domain.Weights{"A": 0.04, "B": 0.01},
		Orders: []compliance.Order{
			{Instrument: "A", Side: compliance.SideBuy, Weight: 0.02},
			{Instrument: "B", Side: compliance.SideSell, Weight: 0.04},
		},
	}
	report, err := newEngine().Check(context.Background(), proposal, rs, compliance.Context{})
	require.NoError(t, err)

	require.Len(t, report.Violations, 2)
	assert.Equal(t, "A", report.Violations[0].Symbol)
	assert.InDelta(t, 0.06, report.Violations[0].Current, 1e-12)
	assert.Equal(t, compliance.RuleMaxShortPosition, report.Violations[1].Rule)
	assert.InDelta(t, -0.03, report.Violations[1].Current, 1e-12)
	assert.InDelta(t, 0.06, report.Weights["A"], 1e-12)
}

func TestCheck_SectorCapsPreferSectorSpecificRule(t *testing.T) {
	rs := ruleset(
		compliance.Rule{Name: compliance.RuleMaxSectorWeight, Limit: 0.30},
		compliance.Rule{Name: compliance.RuleMaxSectorWeight, Limit: 0.50, Sector: "Tech"},
		compliance.Rule{Name: compliance.RuleMinSectorWeight, Limit: 0.30, Sector: "Health"},
	)
	cc := compliance.Context{Sectors: map[string]string{"A": "Tech", "B": "Energy", "C": "Health"}}
	report, err := newEngine().Check(context.Background(),
		compliance.Proposal{Weights: domain.Weights{"A": 0.40, "B": 0.35, "C": 0.25}}, rs, cc)
	require.NoError(t, err)

	require.Len(t, report.Violations, 2)
	assert.Equal(t, "max_sector_weight:Energy", report.Violations[0].ID)
	assert.InDelta(t, 0.35, report.Violations[0].Current, 1e-12)
	assert.Equal(t, "min_sector_weight:Health", report.Violations[1].ID)
	assert.Equal(t, 0.30, report.Violations[1].Limit)
}

func TestCheck_PortfolioLevelRules(t *testing.T) {
	rs := ruleset(
		compliance.Rule{Name: compliance.RuleMaxGrossLeverage, Limit: 1.0},
		compliance.Rule{Name: compliance.RuleMaxNetLeverage, Limit: 0.5},
		compliance.Rule{Name: compliance.RuleMaxPortfolioBeta, Limit: 1.2},
		compliance.Rule{Name: compliance.RuleMaxConcentration, Limit: 0.3},
		compliance.Rule{Name: compliance.RuleMaxVaR95, Limit: -0.03},
		compliance.Rule{Name: compliance.RuleMaxTrackingError, Limit: 0.05},
	)
	cc := compliance.Context{
		Betas:         map[string]float64{"A": 1.5, "B": 1.0},
		VaR95:         ptr(-0.05),
		TrackingError: ptr(0.06),
	}
	report, err := newEngine().Check(context.Background(),
		compliance.Proposal{Weights: domain.Weights{"A": 0.6, "B": 0.6}}, rs, cc)
	require.NoError(t, err)

	rules := make(map[string]compliance.Record)
	for _, v := range report.Violations {
		rules[v.Rule] = v
	}
	require.Len(t, rules, 6)
	assert.InDelta(t, 1.2, rules[compliance.RuleMaxGrossLeverage].Current, 1e-12)
	assert.InDelta(t, 1.2, rules[compliance.RuleMaxNetLeverage].Current, 1e-12)
	assert.InDelta(t, 1.5, rules[compliance.RuleMaxPortfolioBeta].Current, 1e-12)
	assert.InDelta(t, 0.72, rules[compliance.RuleMaxConcentration].Current, 1e-12)
	assert.Equal(t, -0.05, rules[compliance.RuleMaxVaR95].Current)
	assert.Equal(t, "max_var_95:portfolio", rules[compliance.RuleMaxVaR95].ID)
	assert.Equal(t, 0.06, rules[compliance.RuleMaxTrackingError].Current)

	// A VaR inside its signed limit passes
	cc.VaR95 = ptr(-0.02)
	report, err = newEngine().Check(context.Background(),
		compliance.Proposal{Weights: domain.Weights{"A": 0.6, "B": 0.6}}, ruleset(rs.Rules[4]), cc)
	require.NoError(t, err)
	assert.Equal(t, compliance.StatusOK, report.OverallStatus)
}

func TestCheck_LiquidityWarnsPerNameAndBlocksOnIlliquidWeight(t *testing.T) {
	rs := ruleset(
		compliance.Rule{Name: compliance.RuleMinADVRatio, Limit: 0.01},
		compliance.Rule{Name: compliance.RuleMaxIlliquidWeight, Limit: 0.20},
	)
	cc := compliance.Context{ADVRatios: map[string]float64{"A": 0.005, "B": 0.5, "C": 0.002}}
	report, err := newEngine().Check(context.Background(),
		compliance.Proposal{Weights: domain.Weights{"A": 0.15, "B": 0.7, "C": 0.15}}, rs, cc)
	require.NoError(t, err)

	require.Len(t, report.Warnings, 2)
	assert.Equal(t, "A", report.Warnings[0].Symbol)
	assert.Equal(t, "C", report.Warnings[1].Symbol)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, compliance.RuleMaxIlliquidWeight, report.Violations[0].Rule)
	assert.InDelta(t, 0.30, report.Violations[0].Current, 1e-12)
	assert.Equal(t, compliance.Summary{TotalChecks: 1, FailedChecks: 1}, report.Summary)
}

func TestCheck_ScreeningLists(t *testing.T) {
	rs := compliance.Ruleset{
		Name:                "screens",
		Restricted:          []string{"TOXIC"},
		Watchlist:           []string{"VOLATILE"},
		SanctionedCountries: []string{"KP"},
	}
	cc := compliance.Context{Countries: map[string]string{"TOXIC": "US", "VOLATILE": "US", "X": "KP"}}
	report, err := newEngine().Check(context.Background(),
		compliance.Proposal{Weights: domain.Weights{"TOXIC": 0.1, "VOLATILE": 0.1, "X": 0.1}}, rs, cc)
	require.NoError(t, err)

	require.Len(t, report.Violations, 2)
	assert.Equal(t, "restricted_securities:TOXIC", report.Violations[0].ID)
	assert.Equal(t, "sanctioned_country:X", report.Violations[1].ID)
	assert.Equal(t, "KP", report.Violations[1].Detail)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "watchlist_securities:VOLATILE", report.Warnings[0].ID)
	assert.Equal(t, compliance.Summary{TotalChecks: 3, PassedChecks: 0, WarningChecks: 1, FailedChecks: 2}, report.Summary)
}

func TestCheck_MissingDataIsSkippedOrStrict(t *testing.T) {
	rs := compliance.LongOnlyFund()
	proposal := compliance.Proposal{Weights: domain.Weights{"A": 0.04, "B": 0.04}}

	report, err := newEngine().Check(context.Background(), proposal, *rs, compliance.Context{})
	require.NoError(t, err)
	assert.NotEmpty(t, report.Skipped)
	for _, s := range report.Skipped {
		assert.NotEmpty(t, s.Reason)
	}

	_, err = newEngine().Check(context.Background(), proposal, *rs, compliance.Context{Strict: true})
	assert.True(t, errors.Is(err, quanterr.ErrDataGap))
}

func TestCheck_BuiltinRulesetIsDeterministic(t *testing.T) {
	rs, err := compliance.BuiltinRuleset("long_short_fund")
	require.NoError(t, err)

	proposal := compliance.Proposal{Weights: domain.Weights{"A": 0.09, "B": -0.06, "C": 0.05}}
	cc := compliance.Context{
		Sectors:   map[string]string{"A": "Tech", "B": "Tech", "C": "Energy"},
		Countries: map[string]string{"A": "US", "B": "US", "C": "CU"},
		ESGScores: map[string]float64{"A": 60, "B": 10, "C": 40},
		ADVRatios: map[string]float64{"A": 0.1, "B": 0.1, "C": 0.1},
		Betas:     map[string]float64{"A": 1, "B": 1, "C": 1},
		VaR95:     ptr(-0.01),
	}
	first, err := newEngine().Check(context.Background(), proposal, *rs, cc)
	require.NoError(t, err)
	second, err := newEngine().Check(context.Background(), proposal, *rs, cc)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ids := make([]string, 0, len(first.Violations))
	for _, v := range first.Violations {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{
		"max_single_position:A",
		"max_short_position:B",
		"sanctioned_country:C",
	}, ids)
	require.Len(t, first.Warnings, 1)
	assert.Equal(t, "min_esg_score:B", first.Warnings[0].ID)
	require.Len(t, first.Skipped, 1)
	assert.Equal(t, compliance.RuleMaxTrackingError, first.Skipped[0].Rule)
}

func TestCheck_Failures(t *testing.T) {
	valid := ruleset(compliance.Rule{Name: compliance.RuleMaxSinglePosition, Limit: 0.05})
	weights := compliance.Proposal{Weights: domain.Weights{"A": 0.01}}

	tests := []struct {
		name     string
		proposal compliance.Proposal
		rs       compliance.Ruleset
	}{
		{"unnamed ruleset", weights, compliance.Ruleset{}},
		{"unknown rule", weights, ruleset(compliance.Rule{Name: "max_everything", Limit: 1})},
		{"duplicate rule", weights, ruleset(
			compliance.Rule{Name: compliance.RuleMaxSinglePosition, Limit: 0.05},
			compliance.Rule{Name: compliance.RuleMaxSinglePosition, Limit: 0.06})},
		{"unknown kind", weights, ruleset(compliance.Rule{Name: compliance.RuleMaxSinglePosition, Limit: 0.05, Kind: "fatal"})},
		{"negative cap", weights, ruleset(compliance.Rule{Name: compliance.RuleMaxSinglePosition, Limit: -0.05})},
		{"positive short limit", weights, ruleset(compliance.Rule{Name: compliance.RuleMaxShortPosition, Limit: 0.05})},
		{"sector on position rule", weights, ruleset(compliance.Rule{Name: compliance.RuleMaxSinglePosition, Limit: 0.05, Sector: "Tech"})},
		{"floor above cap", weights, ruleset(
			compliance.Rule{Name: compliance.RuleMaxSectorWeight, Limit: 0.2, Sector: "Tech"},
			compliance.Rule{Name: compliance.RuleMinSectorWeight, Limit: 0.3, Sector: "Tech"})},
		{"illiquid weight without adv rule", weights, ruleset(compliance.Rule{Name: compliance.RuleMaxIlliquidWeight, Limit: 0.2})},
		{"weights and orders", compliance.Proposal{
			Weights: domain.Weights{"A": 0.01},
			Orders:  []compliance.Order{{Instrument: "A", Side: compliance.SideBuy, Weight: 0.01}},
		}, valid},
		{"unknown side", compliance.Proposal{
			Orders: []compliance.Order{{Instrument: "A", Side: "HOLD", Weight: 0.01}},
		}, valid},
		{"non-positive order", compliance.Proposal{
			Orders: []compliance.Order{{Instrument: "A", Side: compliance.SideBuy, Weight: 0}},
		}, valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newEngine().Check(context.Background(), tt.proposal, tt.rs, compliance.Context{})
			assert.True(t, errors.Is(err, quanterr.ErrConfiguration), "got %v", err)
		})
	}
}

func TestBuiltinRulesets(t *testing.T) {
	for _, name := range compliance.BuiltinRulesets() {
		rs, err := compliance.BuiltinRuleset(name)
		require.NoError(t, err)
		assert.Equal(t, name, rs.Name)
		assert.NoError(t, rs.Validate())
	}
	_, err := compliance.BuiltinRuleset("hedge_fund")
	assert.True(t, errors.Is(err, quanterr.ErrConfiguration))
}

func TestCheck_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEngine().Check(ctx, compliance.Proposal{}, *compliance.LongOnlyFund(), compliance.Context{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestVerdict(t *testing.T) {
	assert.Equal(t, compliance.StatusBlock, compliance.Verdict(1, 5))
	assert.Equal(t, compliance.StatusReview, compliance.Verdict(0, 1))
	assert.Equal(t, compliance.StatusOK, compliance.Verdict(0, 0))
}
