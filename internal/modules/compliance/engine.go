package compliance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/rs/zerolog"
)

// Engine evaluates proposals against rulesets. It holds no state between calls.
type Engine struct {
	log zerolog.Logger
	now func() time.Time
}

// NewEngine creates a compliance engine
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		log: log.With().Str("component", "compliance_engine").Logger(),
		now: time.Now,
	}
}

// SetClock replaces the clock used to stamp reports
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Check resolves the proposal to target weights and evaluates every rule of rs.
// Rules whose inputs are missing from cc are listed as skipped, or fail the
// check with a data gap when cc.Strict is set.
func (e *Engine) Check(ctx context.Context, proposal Proposal, rs Ruleset, cc Context) (*Report, error) {
	const op = "compliance.check"

	if err := quanterr.CheckContext(ctx, op); err != nil {
		return nil, err
	}

	// Step 1: Validate inputs
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	weights, err := proposal.Resolve()
	if err != nil {
		return nil, err
	}

	// Step 2: Evaluate check types in fixed order
	ev := newEvaluator(weights, rs, cc)
	for _, checkType := range checkOrder {
		if err := quanterr.CheckContext(ctx, op); err != nil {
			return nil, err
		}
		ev.run(checkType)
	}
	if cc.Strict && len(ev.skipped) > 0 {
		s := ev.skipped[0]
		return nil, quanterr.DataGap(op, "rule %s cannot be evaluated: %s", s.Rule, s.Reason)
	}

	// Step 3: Resolve the verdict
	report := &Report{
		Ruleset:    rs.Name,
		Violations: ev.violations,
		Warnings:   ev.warnings,
		Checks:     ev.checks,
		Skipped:    ev.skipped,
		Weights:    weights,
		CheckedAt:  e.now().UTC(),
	}
	report.OverallStatus = Verdict(len(report.Violations), len(report.Warnings))
	report.Summary = summarize(report.Checks)
	report.Recommendations = recommend(report)

	e.log.Info().
		Str("ruleset", rs.Name).
		Str("status", string(report.OverallStatus)).
		Int("violations", len(report.Violations)).
		Int("warnings", len(report.Warnings)).
		Int("skipped", len(report.Skipped)).
		Msg("Compliance check complete")

	return report, nil
}

// Verdict applies the fixed precedence BLOCK > REVIEW > OK
func Verdict(violations, warnings int) Status {
	switch {
	case violations > 0:
		return StatusBlock
	case warnings > 0:
		return StatusReview
	default:
		return StatusOK
	}
}

// Resolve returns the weights to check: Weights as given, or Orders applied
// to Current.
func (p Proposal) Resolve() (domain.Weights, error) {
	const op = "compliance.proposal"

	if p.Weights != nil && len(p.Orders) > 0 {
		return nil, quanterr.Configuration(op, "pass either weights or orders, not both")
	}

	out := make(domain.Weights)
	if len(p.Orders) == 0 {
		for id, w := range p.Weights {
			out[id] = w
		}
	} else {
		for id, w := range p.Current {
			out[id] = w
		}
		for i, o := range p.Orders {
			if o.Instrument == "" {
				return nil, quanterr.Configuration(op, "order %d has no instrument", i)
			}
			if o.Weight <= 0 || math.IsNaN(o.Weight) || math.IsInf(o.Weight, 0) {
				return nil, quanterr.Configuration(op, "order %d for %s must have a positive weight, got %v", i, o.Instrument, o.Weight)
			}
			switch o.Side {
			case SideBuy:
				out[o.Instrument] += o.Weight
			case SideSell:
				out[o.Instrument] -= o.Weight
			default:
				return nil, quanterr.Configuration(op, "order %d for %s has unknown side %q", i, o.Instrument, o.Side)
			}
		}
	}

	for id, w := range out {
		if id == "" {
			return nil, quanterr.Configuration(op, "weight without an instrument")
		}
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, quanterr.Configuration(op, "weight for %s is not finite", id)
		}
	}
	return out, nil
}

type evaluator struct {
	weights  domain.Weights
	held     []string
	rules    map[string][]Rule
	rs       Ruleset
	cc       Context
	illiquid float64

	violations []Record
	warnings   []Record
	checks     []CheckResult
	skipped    []Skipped
	current    int
}

func newEvaluator(weights domain.Weights, rs Ruleset, cc Context) *evaluator {
	ev := &evaluator{
		weights:    weights,
		rules:      make(map[string][]Rule, len(rs.Rules)),
		rs:         rs,
		cc:         cc,
		violations: []Record{},
		warnings:   []Record{},
		checks:     []CheckResult{},
		current:    -1,
	}
	for _, id := range weights.Symbols() {
		if weights[id] != 0 {
			ev.held = append(ev.held, id)
		}
	}
	for _, r := range rs.Rules {
		ev.rules[r.Name] = append(ev.rules[r.Name], r)
	}
	return ev
}

// rule returns the portfolio-wide rule called name
func (ev *evaluator) rule(name string) (Rule, ruleMeta, bool) {
	for _, r := range ev.rules[name] {
		if r.Sector == "" {
			r, meta := resolve(r)
			return r, meta, true
		}
	}
	return Rule{}, ruleMeta{}, false
}

// listRule returns the metadata of a list screen, honouring overrides in the ruleset
func (ev *evaluator) listRule(name string) (Rule, ruleMeta) {
	if r, meta, ok := ev.rule(name); ok {
		return r, meta
	}
	return resolve(Rule{Name: name})
}

func (ev *evaluator) run(checkType string) {
	ev.current = -1
	switch checkType {
	case CheckPositionLimits:
		ev.checkPositions()
	case CheckRestricted:
		ev.checkList(RuleRestricted, ev.rs.Restricted, "Security %s is on the restricted list")
	case CheckWatchlist:
		ev.checkList(RuleWatchlist, ev.rs.Watchlist, "Security %s is on the watchlist")
	case CheckLeverage:
		ev.checkLeverage()
	case CheckBeta:
		ev.checkBeta()
	case CheckSector:
		ev.checkSectors()
	case CheckLiquidity:
		ev.checkLiquidity()
	case CheckConcentration:
		ev.checkConcentration()
	case CheckVaR:
		ev.checkScalar(RuleMaxVaR95, ev.cc.VaR95, "var_95")
	case CheckTrackingError:
		ev.checkScalar(RuleMaxTrackingError, ev.cc.TrackingError, "tracking_error")
	case CheckESG:
		ev.checkESG()
	case CheckRegulatory:
		ev.checkSanctions()
	}
}

// begin registers checkType as evaluated
func (ev *evaluator) begin(checkType string) {
	if ev.current >= 0 && ev.checks[ev.current].CheckType == checkType {
		return
	}
	ev.checks = append(ev.checks, CheckResult{CheckType: checkType, Status: CheckPass})
	ev.current = len(ev.checks) - 1
}

func (ev *evaluator) breach(r Rule, meta ruleMeta, rec Record) {
	ev.begin(meta.checkType)
	subject := rec.Symbol
	if subject == "" {
		subject = rec.Sector
	}
	if subject == "" {
		subject = portfolioSubject
	}
	rec.ID = r.Name + ":" + subject
	rec.Rule = r.Name
	rec.CheckType = meta.checkType
	rec.Kind = r.Kind
	rec.Severity = r.Severity

	check := &ev.checks[ev.current]
	if r.Kind == KindViolation {
		ev.violations = append(ev.violations, rec)
		check.Violations++
		check.Status = CheckFail
		return
	}
	ev.warnings = append(ev.warnings, rec)
	check.Warnings++
	if check.Status == CheckPass {
		check.Status = CheckWarning
	}
}

func (ev *evaluator) skip(rule, symbol, reason string) {
	ev.skipped = append(ev.skipped, Skipped{Rule: rule, Symbol: symbol, Reason: reason})
}

func (ev *evaluator) checkPositions() {
	if r, meta, ok := ev.rule(RuleMaxSinglePosition); ok {
		ev.begin(meta.checkType)
		for _, id := range ev.held {
			if w := ev.weights[id]; math.Abs(w) > r.Limit {
				ev.breach(r, meta, Record{Symbol: id, Current: w, Limit: r.Limit,
					Message: fmt.Sprintf("Position %s at %s exceeds maximum size %s", id, pct(w), pct(r.Limit))})
			}
		}
	}
	if r, meta, ok := ev.rule(RuleMinPositionSize); ok {
		ev.begin(meta.checkType)
		for _, id := range ev.held {
			if w := ev.weights[id]; math.Abs(w) < r.Limit {
				ev.breach(r, meta, Record{Symbol: id, Current: w, Limit: r.Limit,
					Message: fmt.Sprintf("Position %s at %s is below minimum size %s", id, pct(w), pct(r.Limit))})
			}
		}
	}
	if r, meta, ok := ev.rule(RuleMaxShortPosition); ok {
		ev.begin(meta.checkType)
		for _, id := range ev.held {
			if w := ev.weights[id]; w < r.Limit {
				ev.breach(r, meta, Record{Symbol: id, Current: w, Limit: r.Limit,
					Message: fmt.Sprintf("Short position %s at %s exceeds limit %s", id, pct(w), pct(r.Limit))})
			}
		}
	}
}

func (ev *evaluator) checkList(name string, list []string, format string) {
	if len(list) == 0 {
		return
	}
	r, meta := ev.listRule(name)
	ev.begin(meta.checkType)
	listed := make(map[string]bool, len(list))
	for _, id := range list {
		listed[id] = true
	}
	for _, id := range ev.held {
		if listed[id] {
			ev.breach(r, meta, Record{Symbol: id, Current: ev.weights[id], Message: fmt.Sprintf(format, id)})
		}
	}
}

func (ev *evaluator) checkLeverage() {
	if r, meta, ok := ev.rule(RuleMaxGrossLeverage); ok {
		ev.begin(meta.checkType)
		if gross := ev.weights.Gross(); gross > r.Limit {
			ev.breach(r, meta, Record{Current: gross, Limit: r.Limit,
				Message: fmt.Sprintf("Gross exposure %s exceeds limit %s", pct(gross), pct(r.Limit))})
		}
	}
	if r, meta, ok := ev.rule(RuleMaxNetLeverage); ok {
		ev.begin(meta.checkType)
		if net := ev.weights.Net(); math.Abs(net) > r.Limit {
			ev.breach(r, meta, Record{Current: net, Limit: r.Limit,
				Message: fmt.Sprintf("Net exposure %s exceeds limit %s", pct(net), pct(r.Limit))})
		}
	}
}

func (ev *evaluator) checkBeta() {
	r, meta, ok := ev.rule(RuleMaxPortfolioBeta)
	if !ok {
		return
	}
	var beta float64
	switch {
	case ev.cc.PortfolioBeta != nil:
		beta = *ev.cc.PortfolioBeta
	default:
		for _, id := range ev.held {
			b, ok := ev.cc.Betas[id]
			if !ok {
				ev.skip(r.Name, id, "no beta for held instrument")
				return
			}
			beta += ev.weights[id] * b
		}
	}
	ev.begin(meta.checkType)
	if math.Abs(beta) > r.Limit {
		ev.breach(r, meta, Record{Current: beta, Limit: r.Limit,
			Message: fmt.Sprintf("Portfolio beta %.2f exceeds limit %.2f", beta, r.Limit)})
	}
}

func (ev *evaluator) checkSectors() {
	if len(ev.rules[RuleMaxSectorWeight]) == 0 && len(ev.rules[RuleMinSectorWeight]) == 0 {
		return
	}
	if len(ev.cc.Sectors) == 0 {
		ev.skip(RuleMaxSectorWeight, "", "no sector classification")
		return
	}

	exposure := make(map[string]float64)
	for _, id := range ev.held {
		sector := ev.cc.Sectors[id]
		if sector == "" {
			sector = unclassifiedSector
		}
		exposure[sector] += ev.weights[id]
	}

	for _, name := range []string{RuleMaxSectorWeight, RuleMinSectorWeight} {
		rules := ev.rules[name]
		if len(rules) == 0 {
			continue
		}
		global, hasGlobal := Rule{}, false
		specific := make(map[string]Rule)
		for _, r := range rules {
			if r.Sector == "" {
				global, hasGlobal = r, true
			} else {
				specific[r.Sector] = r
			}
		}

		sectors := make(map[string]bool)
		if hasGlobal {
			for s := range exposure {
				sectors[s] = true
			}
		}
		for s := range specific {
			sectors[s] = true
		}
		for _, sector := range sortedKeys(sectors) {
			r, ok := specific[sector]
			if !ok {
				r = global
			}
			r, meta := resolve(r)
			ev.begin(meta.checkType)
			x := exposure[sector]
			switch {
			case name == RuleMaxSectorWeight && x > r.Limit:
				ev.breach(r, meta, Record{Sector: sector, Current: x, Limit: r.Limit,
					Message: fmt.Sprintf("Sector %s exposure %s exceeds limit %s", sector, pct(x), pct(r.Limit))})
			case name == RuleMinSectorWeight && x < r.Limit:
				ev.breach(r, meta, Record{Sector: sector, Current: x, Limit: r.Limit,
					Message: fmt.Sprintf("Sector %s exposure %s is below limit %s", sector, pct(x), pct(r.Limit))})
			}
		}
	}
}

func (ev *evaluator) checkLiquidity() {
	ev.illiquid = 0
	minRule, minMeta, hasMin := ev.rule(RuleMinADVRatio)
	if !hasMin {
		return
	}
	ev.begin(minMeta.checkType)
	for _, id := range ev.held {
		ratio, ok := ev.cc.ADVRatios[id]
		if !ok {
			ev.skip(minRule.Name, id, "no adv ratio for held instrument")
			continue
		}
		if ratio < minRule.Limit {
			ev.illiquid += math.Abs(ev.weights[id])
			ev.breach(minRule, minMeta, Record{Symbol: id, Current: ratio, Limit: minRule.Limit,
				Message: fmt.Sprintf("Security %s has low liquidity (ADV ratio %.3f)", id, ratio)})
		}
	}
	if r, meta, ok := ev.rule(RuleMaxIlliquidWeight); ok && ev.illiquid > r.Limit {
		ev.breach(r, meta, Record{Current: ev.illiquid, Limit: r.Limit,
			Message: fmt.Sprintf("Illiquid weight %s exceeds limit %s", pct(ev.illiquid), pct(r.Limit))})
	}
}

func (ev *evaluator) checkConcentration() {
	r, meta, ok := ev.rule(RuleMaxConcentration)
	if !ok {
		return
	}
	ev.begin(meta.checkType)
	hhi := 0.0
	for _, id := range ev.held {
		hhi += ev.weights[id] * ev.weights[id]
	}
	if hhi > r.Limit {
		ev.breach(r, meta, Record{Current: hhi, Limit: r.Limit,
			Message: fmt.Sprintf("Concentration index %.3f exceeds limit %.3f", hhi, r.Limit)})
	}
}

// checkScalar compares a supplied portfolio figure. VaR limits are signed
// losses, so a VaR below its limit is the breach.
func (ev *evaluator) checkScalar(name string, value *float64, field string) {
	r, meta, ok := ev.rule(name)
	if !ok {
		return
	}
	if value == nil {
		ev.skip(r.Name, "", "no "+field+" supplied")
		return
	}
	ev.begin(meta.checkType)
	v := *value
	switch name {
	case RuleMaxVaR95:
		if v < r.Limit {
			ev.breach(r, meta, Record{Current: v, Limit: r.Limit,
				Message: fmt.Sprintf("Portfolio VaR %s exceeds limit %s", pct(v), pct(r.Limit))})
		}
	default:
		if v > r.Limit {
			ev.breach(r, meta, Record{Current: v, Limit: r.Limit,
				Message: fmt.Sprintf("Tracking error %s exceeds limit %s", pct(v), pct(r.Limit))})
		}
	}
}

func (ev *evaluator) checkESG() {
	r, meta, ok := ev.rule(RuleMinESGScore)
	if !ok {
		return
	}
	ev.begin(meta.checkType)
	for _, id := range ev.held {
		score, ok := ev.cc.ESGScores[id]
		if !ok {
			ev.skip(r.Name, id, "no esg score for held instrument")
			continue
		}
		if score < r.Limit {
			ev.breach(r, meta, Record{Symbol: id, Current: score, Limit: r.Limit,
				Message: fmt.Sprintf("Security %s has low ESG score (%.1f)", id, score)})
		}
	}
}

func (ev *evaluator) checkSanctions() {
	if len(ev.rs.SanctionedCountries) == 0 {
		return
	}
	r, meta := ev.listRule(RuleSanctionedCountry)
	ev.begin(meta.checkType)
	sanctioned := make(map[string]bool, len(ev.rs.SanctionedCountries))
	for _, c := range ev.rs.SanctionedCountries {
		sanctioned[c] = true
	}
	for _, id := range ev.held {
		country, ok := ev.cc.Countries[id]
		if !ok || country == "" {
			ev.skip(r.Name, id, "no country for held instrument")
			continue
		}
		if sanctioned[country] {
			ev.breach(r, meta, Record{Symbol: id, Current: ev.weights[id], Detail: country,
				Message: fmt.Sprintf("Security %s is from sanctioned country %s", id, country)})
		}
	}
}

func summarize(checks []CheckResult) Summary {
	s := Summary{TotalChecks: len(checks)}
	for _, c := range checks {
		switch c.Status {
		case CheckPass:
			s.PassedChecks++
		case CheckWarning:
			s.WarningChecks++
		case CheckFail:
			s.FailedChecks++
		}
	}
	return s
}

// recommend derives recommendations from the breached check types only
func recommend(r *Report) []string {
	out := []string{}
	if len(r.Violations) > 0 {
		out = append(out, RecommendAddressViolations)
	}
	if len(r.Warnings) > 0 {
		out = append(out, RecommendReviewWarnings)
	}
	if r.OverallStatus == StatusOK {
		out = append(out, RecommendProceed)
	}
	for _, c := range r.Checks {
		if c.Status != CheckPass {
			out = append(out, recommendations[c.CheckType])
		}
	}
	return out
}

func pct(x float64) string {
	return fmt.Sprintf("%.2f%%", x*100)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
