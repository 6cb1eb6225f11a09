// Package compliance evaluates weights or orders against a ruleset and
// resolves the breaches into a single verdict.
//
// Every rule is classified as a violation or a warning by its metadata alone.
// The verdict is BLOCK when any violation exists, REVIEW when only warnings
// exist and OK otherwise, whatever order the rules are declared in.
package compliance

import (
	"time"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// Status is the overall verdict of a check
type Status string

const (
	StatusOK     Status = "OK"
	StatusReview Status = "REVIEW"
	StatusBlock  Status = "BLOCK"
)

// Kind classifies a breach of a rule
type Kind string

const (
	KindViolation Kind = "violation"
	KindWarning   Kind = "warning"
)

// Severity ranks breaches for display
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// CheckStatus is the outcome of one check type
type CheckStatus string

const (
	CheckPass    CheckStatus = "PASS"
	CheckWarning CheckStatus = "WARNING"
	CheckFail    CheckStatus = "FAIL"
)

// Order sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Rule is one limit in a ruleset. Sector narrows the sector rules to a single
// sector; left empty they apply to every sector. Kind and Severity default to
// the rule's catalog metadata.
type Rule struct {
	Name     string   `json:"name" yaml:"name" msgpack:"name"`
	Limit    float64  `json:"limit" yaml:"limit" msgpack:"limit"`
	Sector   string   `json:"sector,omitempty" yaml:"sector,omitempty" msgpack:"sector,omitempty"`
	Kind     Kind     `json:"kind,omitempty" yaml:"kind,omitempty" msgpack:"kind,omitempty"`
	Severity Severity `json:"severity,omitempty" yaml:"severity,omitempty" msgpack:"severity,omitempty"`
}

// Ruleset is a named set of rules plus the list-based screens
type Ruleset struct {
	Name                string   `json:"name" yaml:"name" msgpack:"name"`
	Description         string   `json:"description,omitempty" yaml:"description,omitempty" msgpack:"description,omitempty"`
	Rules               []Rule   `json:"rules" yaml:"rules" msgpack:"rules"`
	Restricted          []string `json:"restricted,omitempty" yaml:"restricted,omitempty" msgpack:"restricted,omitempty"`
	Watchlist           []string `json:"watchlist,omitempty" yaml:"watchlist,omitempty" msgpack:"watchlist,omitempty"`
	SanctionedCountries []string `json:"sanctioned_countries,omitempty" yaml:"sanctioned_countries,omitempty" msgpack:"sanctioned_countries,omitempty"`
}

// Order moves the weight of one instrument by Weight (a positive fraction of NAV)
type Order struct {
	Instrument string  `json:"instrument" yaml:"instrument" msgpack:"instrument"`
	Side       string  `json:"side" yaml:"side" msgpack:"side"`
	Weight     float64 `json:"weight" yaml:"weight" msgpack:"weight"`
}

// Proposal is either target weights or orders against Current
type Proposal struct {
	Weights domain.Weights `json:"weights,omitempty" yaml:"weights,omitempty" msgpack:"weights,omitempty"`
	Orders  []Order        `json:"orders,omitempty" yaml:"orders,omitempty" msgpack:"orders,omitempty"`
	Current domain.Weights `json:"current,omitempty" yaml:"current,omitempty" msgpack:"current,omitempty"`
}

// Context supplies the reference data the rules are evaluated against.
// Portfolio-level figures left nil are derived from per-instrument data
// when possible.
type Context struct {
	Sectors       map[string]string  `json:"sectors,omitempty" yaml:"sectors,omitempty" msgpack:"sectors,omitempty"`
	Countries     map[string]string  `json:"countries,omitempty" yaml:"countries,omitempty" msgpack:"countries,omitempty"`
	ESGScores     map[string]float64 `json:"esg_scores,omitempty" yaml:"esg_scores,omitempty" msgpack:"esg_scores,omitempty"`
	ADVRatios     map[string]float64 `json:"adv_ratios,omitempty" yaml:"adv_ratios,omitempty" msgpack:"adv_ratios,omitempty"`
	Betas         map[string]float64 `json:"betas,omitempty" yaml:"betas,omitempty" msgpack:"betas,omitempty"`
	PortfolioBeta *float64           `json:"portfolio_beta,omitempty" yaml:"portfolio_beta,omitempty" msgpack:"portfolio_beta,omitempty"`
	VaR95         *float64           `json:"var_95,omitempty" yaml:"var_95,omitempty" msgpack:"var_95,omitempty"`
	TrackingError *float64           `json:"tracking_error,omitempty" yaml:"tracking_error,omitempty" msgpack:"tracking_error,omitempty"`
	// Strict turns rules that cannot be evaluated into a data gap error
	Strict bool `json:"strict,omitempty" yaml:"strict,omitempty" msgpack:"strict,omitempty"`
}

// Record is one violation or warning
type Record struct {
	ID        string   `json:"id" yaml:"id" msgpack:"id"`
	Rule      string   `json:"rule" yaml:"rule" msgpack:"rule"`
	Symbol    string   `json:"symbol,omitempty" yaml:"symbol,omitempty" msgpack:"symbol,omitempty"`
	Sector    string   `json:"sector,omitempty" yaml:"sector,omitempty" msgpack:"sector,omitempty"`
	Current   float64  `json:"current" yaml:"current" msgpack:"current"`
	Limit     float64  `json:"limit" yaml:"limit" msgpack:"limit"`
	Detail    string   `json:"detail,omitempty" yaml:"detail,omitempty" msgpack:"detail,omitempty"`
	Message   string   `json:"message" yaml:"message" msgpack:"message"`
	CheckType string   `json:"check_type" yaml:"check_type" msgpack:"check_type"`
	Kind      Kind     `json:"kind" yaml:"kind" msgpack:"kind"`
	Severity  Severity `json:"severity" yaml:"severity" msgpack:"severity"`
}

// Skipped is a rule that could not be evaluated for lack of data
type Skipped struct {
	Rule   string `json:"rule" yaml:"rule" msgpack:"rule"`
	Symbol string `json:"symbol,omitempty" yaml:"symbol,omitempty" msgpack:"symbol,omitempty"`
	Reason string `json:"reason" yaml:"reason" msgpack:"reason"`
}

// Summary counts check types by outcome
type Summary struct {
	TotalChecks   int `json:"total_checks" yaml:"total_checks" msgpack:"total_checks"`
	PassedChecks  int `json:"passed_checks" yaml:"passed_checks" msgpack:"passed_checks"`
	WarningChecks int `json:"warning_checks" yaml:"warning_checks" msgpack:"warning_checks"`
	FailedChecks  int `json:"failed_checks" yaml:"failed_checks" msgpack:"failed_checks"`
}

// CheckResult is the outcome of one check type
type CheckResult struct {
	CheckType  string      `json:"check_type" yaml:"check_type" msgpack:"check_type"`
	Status     CheckStatus `json:"status" yaml:"status" msgpack:"status"`
	Violations int         `json:"violations" yaml:"violations" msgpack:"violations"`
	Warnings   int         `json:"warnings" yaml:"warnings" msgpack:"warnings"`
}

// Report is the output of Engine.Check
type Report struct {
	Ruleset         string         `json:"ruleset" yaml:"ruleset" msgpack:"ruleset"`
	OverallStatus   Status         `json:"overall_status" yaml:"overall_status" msgpack:"overall_status"`
	Violations      []Record       `json:"violations" yaml:"violations" msgpack:"violations"`
	Warnings        []Record       `json:"warnings" yaml:"warnings" msgpack:"warnings"`
	Recommendations []string       `json:"recommendations" yaml:"recommendations" msgpack:"recommendations"`
	Checks          []CheckResult  `json:"checks" yaml:"checks" msgpack:"checks"`
	Summary         Summary        `json:"summary" yaml:"summary" msgpack:"summary"`
	Skipped         []Skipped      `json:"skipped,omitempty" yaml:"skipped,omitempty" msgpack:"skipped,omitempty"`
	Weights         domain.Weights `json:"weights" yaml:"weights" msgpack:"weights"`
	CheckedAt       time.Time      `json:"checked_at" yaml:"checked_at" msgpack:"checked_at"`
}

// DecodeMsgpack restores CheckedAt in UTC; msgpack timestamps decode in local time
func (r *Report) DecodeMsgpack(dec *msgpack.Decoder) error {
	type plain Report
	if err := dec.Decode((*plain)(r)); err != nil {
		return err
	}
	r.CheckedAt = r.CheckedAt.UTC()
	return nil
}

// Reasons flattens violations then warnings into their messages
func (r *Report) Reasons() []string {
	reasons := make([]string, 0, len(r.Violations)+len(r.Warnings))
	for _, v := range r.Violations {
		reasons = append(reasons, v.Message)
	}
	for _, w := range r.Warnings {
		reasons = append(reasons, w.Message)
	}
	return reasons
}

// Find returns the violation or warning with the given id
func (r *Report) Find(id string) (Record, bool) {
	for _, v := range r.Violations {
		if v.ID == id {
			return v, true
		}
	}
	for _, w := range r.Warnings {
		if w.ID == id {
			return w, true
		}
	}
	return Record{}, false
}
