package compliance

import (
	"math"
	"sort"

	"github.com/aristath/quantcore/internal/quanterr"
)

// Rule names
const (
	RuleMaxSinglePosition = "max_single_position"
	RuleMinPositionSize   = "min_position_size"
	RuleMaxShortPosition  = "max_short_position"
	RuleMaxSectorWeight   = "max_sector_weight"
	RuleMinSectorWeight   = "min_sector_weight"
	RuleMaxGrossLeverage  = "max_gross_leverage"
	RuleMaxNetLeverage    = "max_net_leverage"
	RuleMaxPortfolioBeta  = "max_portfolio_beta"
	RuleMaxVaR95          = "max_var_95"
	RuleMaxTrackingError  = "max_tracking_error"
	RuleMinADVRatio       = "min_adv_ratio"
	RuleMaxIlliquidWeight = "max_illiquid_weight"
	RuleMaxConcentration  = "max_concentration_index"
	RuleMinESGScore       = "min_esg_score"
	RuleRestricted        = "restricted_securities"
	RuleWatchlist         = "watchlist_securities"
	RuleSanctionedCountry = "sanctioned_country"
)

const (
	unclassifiedSector   = "unclassified"
	portfolioSubject     = "portfolio"
	builtinLongOnlyFund  = "long_only_fund"
	builtinLongShortFund = "long_short_fund"
)

// Check types, in evaluation order
const (
	CheckPositionLimits = "position_limits"
	CheckRestricted     = "restricted_securities"
	CheckWatchlist      = "watchlist_securities"
	CheckLeverage       = "leverage_limits"
	CheckBeta           = "beta_limits"
	CheckSector         = "sector_limits"
	CheckLiquidity      = "liquidity_requirements"
	CheckConcentration  = "concentration_limits"
	CheckVaR            = "var_limits"
	CheckTrackingError  = "tracking_error_limits"
	CheckESG            = "esg_requirements"
	CheckRegulatory     = "regulatory_limits"
)

var checkOrder = []string{
	CheckPositionLimits,
	CheckRestricted,
	CheckWatchlist,
	CheckLeverage,
	CheckBeta,
	CheckSector,
	CheckLiquidity,
	CheckConcentration,
	CheckVaR,
	CheckTrackingError,
	CheckESG,
	CheckRegulatory,
}

// limit sign accepted by a rule
const (
	signAny = iota
	signNonNegative
	signNonPositive
)

type ruleMeta struct {
	checkType string
	kind      Kind
	severity  Severity
	sign      int
	sectoral  bool
	list      bool
}

var catalog = map[string]ruleMeta{
	RuleMaxSinglePosition: {checkType: CheckPositionLimits, kind: KindViolation, severity: SeverityHigh, sign: signNonNegative},
	RuleMinPositionSize:   {checkType: CheckPositionLimits, kind: KindWarning, severity: SeverityLow, sign: signNonNegative},
	RuleMaxShortPosition:  {checkType: CheckPositionLimits, kind: KindViolation, severity: SeverityHigh, sign: signNonPositive},
	RuleMaxSectorWeight:   {checkType: CheckSector, kind: KindViolation, severity: SeverityHigh, sectoral: true},
	RuleMinSectorWeight:   {checkType: CheckSector, kind: KindViolation, severity: SeverityMedium, sectoral: true},
	RuleMaxGrossLeverage:  {checkType: CheckLeverage, kind: KindViolation, severity: SeverityCritical, sign: signNonNegative},
	RuleMaxNetLeverage:    {checkType: CheckLeverage, kind: KindViolation, severity: SeverityCritical, sign: signNonNegative},
	RuleMaxPortfolioBeta:  {checkType: CheckBeta, kind: KindViolation, severity: SeverityHigh, sign: signNonNegative},
	RuleMaxVaR95:          {checkType: CheckVaR, kind: KindViolation, severity: SeverityHigh, sign: signNonPositive},
	RuleMaxTrackingError:  {checkType: CheckTrackingError, kind: KindViolation, severity: SeverityMedium, sign: signNonNegative},
	RuleMinADVRatio:       {checkType: CheckLiquidity, kind: KindWarning, severity: SeverityMedium, sign: signNonNegative},
	RuleMaxIlliquidWeight: {checkType: CheckLiquidity, kind: KindViolation, severity: SeverityHigh, sign: signNonNegative},
	RuleMaxConcentration:  {checkType: CheckConcentration, kind: KindViolation, severity: SeverityMedium, sign: signNonNegative},
	RuleMinESGScore:       {checkType: CheckESG, kind: KindWarning, severity: SeverityLow, sign: signNonNegative},
	RuleRestricted:        {checkType: CheckRestricted, kind: KindViolation, severity: SeverityCritical, list: true},
	RuleWatchlist:         {checkType: CheckWatchlist, kind: KindWarning, severity: SeverityMedium, list: true},
	RuleSanctionedCountry: {checkType: CheckRegulatory, kind: KindViolation, severity: SeverityCritical, list: true},
}

var recommendations = map[string]string{
	CheckPositionLimits: "Resize positions outside the single-position limits",
	CheckRestricted:     "Remove restricted securities from the proposal",
	CheckWatchlist:      "Confirm watchlist securities with the compliance desk",
	CheckLeverage:       "Reduce gross or net exposure to within leverage limits",
	CheckBeta:           "Hedge market exposure to bring portfolio beta within limit",
	CheckSector:         "Rebalance sector exposures within their caps and floors",
	CheckLiquidity:      "Reduce weight in illiquid securities",
	CheckConcentration:  "Diversify holdings to lower the concentration index",
	CheckVaR:            "Lower portfolio risk to bring VaR within limit",
	CheckTrackingError:  "Move closer to the benchmark to reduce tracking error",
	CheckESG:            "Review holdings with low ESG scores",
	CheckRegulatory:     "Exit securities domiciled in sanctioned countries",
}

// General recommendations
const (
	RecommendAddressViolations = "Address all violations before proceeding with trade"
	RecommendReviewWarnings    = "Review warnings and consider adjustments"
	RecommendProceed           = "All compliance checks passed - trade can proceed"
)

// RuleNames lists every rule the engine evaluates
func RuleNames() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate rejects unknown rules, malformed limits and contradictory bounds
func (rs *Ruleset) Validate() error {
	const op = "compliance.ruleset"

	if rs.Name == "" {
		return quanterr.Configuration(op, "ruleset name is required")
	}

	type key struct{ name, sector string }
	seen := make(map[key]bool, len(rs.Rules))
	limits := make(map[key]float64, len(rs.Rules))
	for _, r := range rs.Rules {
		meta, ok := catalog[r.Name]
		if !ok {
			return quanterr.Configuration(op, "unknown rule %q", r.Name)
		}
		k := key{r.Name, r.Sector}
		if seen[k] {
			if r.Sector != "" {
				return quanterr.Configuration(op, "duplicate rule %s for sector %s", r.Name, r.Sector)
			}
			return quanterr.Configuration(op, "duplicate rule %s", r.Name)
		}
		seen[k] = true

		switch r.Kind {
		case "", KindViolation, KindWarning:
		default:
			return quanterr.Configuration(op, "rule %s has unknown kind %q", r.Name, r.Kind)
		}
		switch r.Severity {
		case "", SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		default:
			return quanterr.Configuration(op, "rule %s has unknown severity %q", r.Name, r.Severity)
		}
		if r.Sector != "" && !meta.sectoral {
			return quanterr.Configuration(op, "rule %s does not take a sector", r.Name)
		}
		if meta.list {
			continue
		}
		if math.IsNaN(r.Limit) || math.IsInf(r.Limit, 0) {
			return quanterr.Configuration(op, "rule %s limit is not finite", r.Name)
		}
		switch {
		case meta.sign == signNonNegative && r.Limit < 0:
			return quanterr.Configuration(op, "rule %s limit must be non-negative, got %v", r.Name, r.Limit)
		case meta.sign == signNonPositive && r.Limit > 0:
			return quanterr.Configuration(op, "rule %s limit must be non-positive, got %v", r.Name, r.Limit)
		}
		limits[k] = r.Limit
	}

	for _, r := range rs.Rules {
		if r.Name != RuleMinSectorWeight {
			continue
		}
		k := key{r.Name, r.Sector}
		floor := limits[k]
		if ceiling, ok := limits[key{RuleMaxSectorWeight, k.sector}]; ok && floor > ceiling {
			sector := k.sector
			if sector == "" {
				sector = "all sectors"
			}
			return quanterr.Configuration(op, "sector floor %v exceeds sector cap %v for %s", floor, ceiling, sector)
		}
	}
	if lo, ok := limits[key{RuleMinPositionSize, ""}]; ok {
		if hi, ok := limits[key{RuleMaxSinglePosition, ""}]; ok && lo > hi {
			return quanterr.Configuration(op, "min_position_size %v exceeds max_single_position %v", lo, hi)
		}
	}
	if _, ok := limits[key{RuleMaxIlliquidWeight, ""}]; ok {
		if _, ok := limits[key{RuleMinADVRatio, ""}]; !ok {
			return quanterr.Configuration(op, "max_illiquid_weight requires min_adv_ratio to define illiquidity")
		}
	}

	for _, list := range [][]string{rs.Restricted, rs.Watchlist, rs.SanctionedCountries} {
		for _, entry := range list {
			if entry == "" {
				return quanterr.Configuration(op, "empty entry in a screening list")
			}
		}
	}
	return nil
}

// resolve fills the kind and severity of r from the catalog
func resolve(r Rule) (Rule, ruleMeta) {
	meta := catalog[r.Name]
	if r.Kind == "" {
		r.Kind = meta.kind
	}
	if r.Severity == "" {
		r.Severity = meta.severity
	}
	return r, meta
}

// BuiltinRulesets lists the names accepted by BuiltinRuleset
func BuiltinRulesets() []string {
	return []string{builtinLongOnlyFund, builtinLongShortFund}
}

// BuiltinRuleset returns a copy of a built-in ruleset
func BuiltinRuleset(name string) (*Ruleset, error) {
	switch name {
	case builtinLongOnlyFund:
		return LongOnlyFund(), nil
	case builtinLongShortFund:
		return LongShortFund(), nil
	default:
		return nil, quanterr.Configuration("compliance.ruleset", "unknown built-in ruleset %q", name)
	}
}

// LongOnlyFund is the standard long-only fund ruleset
func LongOnlyFund() *Ruleset {
	return &Ruleset{
		Name:        builtinLongOnlyFund,
		Description: "Standard long-only fund compliance rules",
		Rules: []Rule{
			{Name: RuleMaxSinglePosition, Limit: 0.05},
			{Name: RuleMinPositionSize, Limit: 0.001},
			{Name: RuleMaxShortPosition, Limit: 0},
			{Name: RuleMaxSectorWeight, Limit: 0.30},
			{Name: RuleMinSectorWeight, Limit: 0},
			{Name: RuleMaxGrossLeverage, Limit: 1.0},
			{Name: RuleMaxNetLeverage, Limit: 1.0},
			{Name: RuleMaxPortfolioBeta, Limit: 1.2},
			{Name: RuleMaxVaR95, Limit: -0.03},
			{Name: RuleMaxTrackingError, Limit: 0.05},
			{Name: RuleMinADVRatio, Limit: 0.01},
			{Name: RuleMaxIlliquidWeight, Limit: 0.20},
			{Name: RuleMaxConcentration, Limit: 0.15},
			{Name: RuleMinESGScore, Limit: 50},
		},
		Restricted:          []string{"TOXIC_STOCK", "SANCTIONED_ENTITY"},
		Watchlist:           []string{"VOLATILE_STOCK", "LOW_LIQUIDITY"},
		SanctionedCountries: []string{"IR", "KP", "CU"},
	}
}

// LongShortFund is the leveraged long-short fund ruleset
func LongShortFund() *Ruleset {
	return &Ruleset{
		Name:        builtinLongShortFund,
		Description: "Long-short fund with leverage",
		Rules: []Rule{
			{Name: RuleMaxSinglePosition, Limit: 0.08},
			{Name: RuleMinPositionSize, Limit: 0.001},
			{Name: RuleMaxShortPosition, Limit: -0.05},
			{Name: RuleMaxSectorWeight, Limit: 0.40},
			{Name: RuleMinSectorWeight, Limit: -0.20},
			{Name: RuleMaxGrossLeverage, Limit: 2.0},
			{Name: RuleMaxNetLeverage, Limit: 0.5},
			{Name: RuleMaxPortfolioBeta, Limit: 0.8},
			{Name: RuleMaxVaR95, Limit: -0.04},
			{Name: RuleMaxTrackingError, Limit: 0.08},
			{Name: RuleMinADVRatio, Limit: 0.005},
			{Name: RuleMaxIlliquidWeight, Limit: 0.30},
			{Name: RuleMaxConcentration, Limit: 0.20},
			{Name: RuleMinESGScore, Limit: 30},
		},
		Restricted:          []string{"TOXIC_STOCK", "SANCTIONED_ENTITY"},
		Watchlist:           []string{"VOLATILE_STOCK", "LOW_LIQUIDITY"},
		SanctionedCountries: []string{"IR", "KP", "CU"},
	}
}
