// Package optimization turns scores and covariance into constrained portfolio weights.
package optimization

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/aristath/quantcore/pkg/formulas"
	"github.com/rs/zerolog"
)

const verifyTolerance = 1e-7

// Constraints bound the optimized portfolio.
// Zero MaxPosition and MaxGrossExposure default to 1. A nil MaxNetExposure
// defaults to the gross cap. Optional limits are skipped when nil.
type Constraints struct {
	MaxPosition        float64            `json:"max_position" yaml:"max_position" msgpack:"max_position"`
	MinPosition        float64            `json:"min_position,omitempty" yaml:"min_position,omitempty" msgpack:"min_position,omitempty"`
	LongOnly           bool               `json:"long_only" yaml:"long_only" msgpack:"long_only"`
	MaxGrossExposure   float64            `json:"max_gross_exposure,omitempty" yaml:"max_gross_exposure,omitempty" msgpack:"max_gross_exposure,omitempty"`
	MaxNetExposure     *float64           `json:"max_net_exposure,omitempty" yaml:"max_net_exposure,omitempty" msgpack:"max_net_exposure,omitempty"`
	SectorCaps         map[string]float64 `json:"sector_caps,omitempty" yaml:"sector_caps,omitempty" msgpack:"sector_caps,omitempty"`
	SectorFloors       map[string]float64 `json:"sector_floors,omitempty" yaml:"sector_floors,omitempty" msgpack:"sector_floors,omitempty"`
	MaxBeta            *float64           `json:"max_beta,omitempty" yaml:"max_beta,omitempty" msgpack:"max_beta,omitempty"`
	MaxVolatility      *float64           `json:"max_volatility,omitempty" yaml:"max_volatility,omitempty" msgpack:"max_volatility,omitempty"`
	MaxTrackingError   *float64           `json:"max_tracking_error,omitempty" yaml:"max_tracking_error,omitempty" msgpack:"max_tracking_error,omitempty"`
	MaxIlliquidWeight  *float64           `json:"max_illiquid_weight,omitempty" yaml:"max_illiquid_weight,omitempty" msgpack:"max_illiquid_weight,omitempty"`
	MinADVRatio        *float64           `json:"min_adv_ratio,omitempty" yaml:"min_adv_ratio,omitempty" msgpack:"min_adv_ratio,omitempty"`
	MaxConcentration   *float64           `json:"max_concentration,omitempty" yaml:"max_concentration,omitempty" msgpack:"max_concentration,omitempty"`
	MinDiversification *float64           `json:"min_diversification,omitempty" yaml:"min_diversification,omitempty" msgpack:"min_diversification,omitempty"`
}

// PositionCap is the absolute per-instrument bound
func (c Constraints) PositionCap() float64 {
	if c.MaxPosition == 0 {
		return 1.0
	}
	return c.MaxPosition
}

// GrossCap is the bound on the sum of absolute weights
func (c Constraints) GrossCap() float64 {
	if c.MaxGrossExposure == 0 {
		return 1.0
	}
	return c.MaxGrossExposure
}

// NetCap is the bound on the absolute sum of weights
func (c Constraints) NetCap() float64 {
	if c.MaxNetExposure == nil {
		return c.GrossCap()
	}
	return *c.MaxNetExposure
}

// Budget is the investable amount of a long-only portfolio
func (c Constraints) Budget() float64 {
	return math.Min(1.0, math.Min(c.GrossCap(), c.NetCap()))
}

// ConcentrationLimit is the tightest Herfindahl bound implied by
// max_concentration and min_diversification, or +Inf.
func (c Constraints) ConcentrationLimit() float64 {
	limit := math.Inf(1)
	if c.MaxConcentration != nil {
		limit = *c.MaxConcentration
	}
	if c.MinDiversification != nil && *c.MinDiversification > 0 {
		limit = math.Min(limit, 1.0 / *c.MinDiversification)
	}
	return limit
}

// Validate rejects malformed bounds with a ConfigurationError and
// floors that cannot fit the budget with an InfeasibleConstraintsError.
func (c Constraints) Validate() error {
	const op = "constraints"

	scalars := []struct {
		name  string
		value float64
	}{
		{"max_position", c.MaxPosition},
		{"min_position", c.MinPosition},
		{"max_gross_exposure", c.MaxGrossExposure},
	}
	optional := []struct {
		name  string
		value *float64
	}{
		{"max_net_exposure", c.MaxNetExposure},
		{"max_beta", c.MaxBeta},
		{"max_volatility", c.MaxVolatility},
		{"max_tracking_error", c.MaxTrackingError},
		{"max_illiquid_weight", c.MaxIlliquidWeight},
		{"min_adv_ratio", c.MinADVRatio},
		{"max_concentration", c.MaxConcentration},
		{"min_diversification", c.MinDiversification},
	}
	for _, o := range optional {
		if o.value != nil {
			scalars = append(scalars, struct {
				name  string
				value float64
			}{o.name, *o.value})
		}
	}
	for _, s := range scalars {
		if math.IsNaN(s.value) || math.IsInf(s.value, 0) || s.value < 0 {
			return quanterr.Configuration(op, "%s must be a non-negative finite number, got %v", s.name, s.value)
		}
	}

	if c.MinPosition > c.PositionCap() {
		return quanterr.Configuration(op, "min_position %.4f exceeds max_position %.4f", c.MinPosition, c.PositionCap())
	}

	for _, sector := range sortedKeys(c.SectorCaps) {
		v := c.SectorCaps[sector]
		if math.IsNaN(v) || v < 0 {
			return quanterr.Configuration(op, "sector_cap for %s must be non-negative, got %v", sector, v)
		}
	}
	floorSum := 0.0
	for _, sector := range sortedKeys(c.SectorFloors) {
		floor := c.SectorFloors[sector]
		if math.IsNaN(floor) || floor < 0 {
			return quanterr.Configuration(op, "sector_floor for %s must be non-negative, got %v", sector, floor)
		}
		if limit, ok := c.SectorCaps[sector]; ok && floor > limit {
			return quanterr.Configuration(op, "sector_floor %.4f for %s above its sector_cap %.4f", floor, sector, limit)
		}
		floorSum += floor
	}

	budget := c.GrossCap()
	name := "max_gross_exposure"
	if c.LongOnly {
		budget = c.Budget()
		name = "the long-only budget"
	} else if c.NetCap() < budget {
		budget = c.NetCap()
		name = "max_net_exposure"
	}
	if floorSum > budget+projectionTolerance {
		return quanterr.Infeasible(op, "sector floors sum to %.4f above %s %.4f", floorSum, name, budget)
	}
	return nil
}

// group is a set of instruments sharing a cap and a floor
type group struct {
	name    string
	members []int
	cap     float64
	floor   float64
	// absolute groups bound the sum of |w| instead of the signed sum
	absolute bool
}

// bounds is the feasible set of one optimization problem
type bounds struct {
	ids      []string
	upper    []float64
	groups   []group
	longOnly bool
	budget   float64
	grossCap float64
	netCap   float64
	minPos   float64
}

func (b *bounds) eligible() []int {
	out := make([]int, 0, len(b.upper))
	for i, u := range b.upper {
		if u > 0 {
			out = append(out, i)
		}
	}
	return out
}

// ConstraintsManager builds the feasible set and projects raw solver output onto it.
type ConstraintsManager struct {
	log zerolog.Logger
}

// NewConstraintsManager creates a new constraints manager.
func NewConstraintsManager(log zerolog.Logger) *ConstraintsManager {
	return &ConstraintsManager{
		log: log.With().Str("component", "constraints").Logger(),
	}
}

// BuildBounds assembles per-instrument caps and groups. Pinned instruments
// get a zero cap. advRatio may be nil when no liquidity limit is set.
func (cm *ConstraintsManager) BuildBounds(ids []string, sectors map[string]string, c Constraints, pinned []bool, advRatio []float64) (*bounds, error) {
	const op = "constraint projection"

	n := len(ids)
	b := &bounds{
		ids:      ids,
		upper:    make([]float64, n),
		longOnly: c.LongOnly,
		budget:   c.Budget(),
		grossCap: c.GrossCap(),
		netCap:   c.NetCap(),
		minPos:   c.MinPosition,
	}
	capPos := c.PositionCap()
	for i := range ids {
		if pinned == nil || !pinned[i] {
			b.upper[i] = capPos
		}
	}

	if c.MinADVRatio != nil {
		if len(advRatio) != n {
			return nil, quanterr.Configuration(op, "min_adv_ratio requires an ADV ratio for each of the %d instruments", n)
		}
		illiquid := group{name: "illiquid", cap: 0, absolute: true}
		for i, r := range advRatio {
			if math.IsNaN(r) || r < *c.MinADVRatio {
				illiquid.members = append(illiquid.members, i)
			}
		}
		if c.MaxIlliquidWeight != nil {
			illiquid.cap = *c.MaxIlliquidWeight
		}
		if illiquid.cap == 0 {
			for _, i := range illiquid.members {
				b.upper[i] = 0
			}
		} else if len(illiquid.members) > 0 {
			b.groups = append(b.groups, illiquid)
		}
	}

	bySector := map[string][]int{}
	for i, id := range ids {
		if s, ok := sectors[id]; ok {
			bySector[s] = append(bySector[s], i)
		}
	}
	names := map[string]bool{}
	for s := range c.SectorCaps {
		names[s] = true
	}
	for s := range c.SectorFloors {
		names[s] = true
	}
	for _, s := range sortedKeys(names) {
		g := group{name: "sector " + s, members: bySector[s], cap: math.Inf(1)}
		if v, ok := c.SectorCaps[s]; ok {
			g.cap = v
		}
		g.floor = c.SectorFloors[s]
		if g.floor > 0 {
			capacity := 0.0
			for _, i := range g.members {
				capacity += b.upper[i]
			}
			if g.floor > capacity+projectionTolerance {
				return nil, quanterr.Infeasible(op, "sector_floor %.4f for %s exceeds the %.4f its %d eligible instruments can hold at max_position %.4f",
					g.floor, s, capacity, countPositive(b.upper, g.members), capPos)
			}
		}
		b.groups = append(b.groups, g)
	}

	return b, nil
}

// Project moves w onto the feasible set by iterated clipping, group
// adjustment and budget rescaling. It returns the number of sweeps.
func (cm *ConstraintsManager) Project(ctx context.Context, w []float64, b *bounds) ([]float64, int, error) {
	const op = "constraint projection"

	out := make([]float64, len(w))
	for i, v := range w {
		if !math.IsNaN(v) {
			out[i] = v
		}
	}

	iter := 0
	for iter < MaxProjectionIters {
		if err := quanterr.CheckContext(ctx, op); err != nil {
			return nil, iter, err
		}
		iter++
		prev := append([]float64(nil), out...)
		if b.longOnly {
			sweepLongOnly(out, b)
		} else {
			sweepLongShort(out, b)
		}
		if maxAbsDiff(prev, out) <= projectionTolerance && b.violation(out, projectionTolerance) == "" {
			break
		}
	}

	if v := b.violation(out, verifyTolerance); v != "" {
		return nil, iter, quanterr.Infeasible(op, "no feasible portfolio after %d iterations: %s", iter, v)
	}
	return out, iter, nil
}

// riskInputs carries what the optional risk limits need
type riskInputs struct {
	cov       [][]float64
	betas     []float64
	benchmark []float64
}

// Enforce projects w, drops positions below min_position, then applies the
// concentration, tracking error, beta and volatility limits.
func (cm *ConstraintsManager) Enforce(ctx context.Context, w []float64, b *bounds, c Constraints, risk riskInputs) ([]float64, int, error) {
	const op = "constraint projection"

	total := 0
	var err error
	var it int
	for round := 0; round <= len(w); round++ {
		w, it, err = cm.Project(ctx, w, b)
		total += it
		if err != nil {
			return nil, total, err
		}
		dropped := 0
		if b.minPos > 0 {
			for i, v := range w {
				if v != 0 && math.Abs(v) < b.minPos-projectionTolerance {
					b.upper[i] = 0
					w[i] = 0
					dropped++
				}
			}
		}
		if dropped == 0 {
			break
		}
		cm.log.Debug().Int("dropped", dropped).Float64("min_position", b.minPos).Msg("Dropped positions below minimum size")
	}

	if limit := c.ConcentrationLimit(); !math.IsInf(limit, 1) && formulas.Herfindahl(w) > limit+verifyTolerance {
		w, it, err = cm.diversify(ctx, w, b, limit)
		total += it
		if err != nil {
			return nil, total, err
		}
	}

	if c.MaxTrackingError != nil {
		if len(risk.benchmark) != len(w) {
			return nil, total, quanterr.Configuration(op, "max_tracking_error requires benchmark weights for each of the %d instruments", len(w))
		}
		active := subtract(w, risk.benchmark)
		te := math.Sqrt(math.Max(0, quadForm(risk.cov, active)))
		if te > *c.MaxTrackingError+verifyTolerance {
			a := 1 - *c.MaxTrackingError/te
			mixed := make([]float64, len(w))
			for i := range w {
				mixed[i] = (1-a)*w[i] + a*risk.benchmark[i]
			}
			w, it, err = cm.Project(ctx, mixed, b)
			total += it
			if err != nil {
				return nil, total, err
			}
		}
	}

	if c.MaxBeta != nil {
		if len(risk.betas) != len(w) {
			return nil, total, quanterr.Configuration(op, "max_beta requires a beta for each of the %d instruments", len(w))
		}
		if beta := dot(risk.betas, w); math.Abs(beta) > *c.MaxBeta+verifyTolerance {
			scale(w, *c.MaxBeta/math.Abs(beta))
		}
	}

	if c.MaxVolatility != nil {
		if vol := math.Sqrt(math.Max(0, quadForm(risk.cov, w))); vol > *c.MaxVolatility+verifyTolerance {
			scale(w, *c.MaxVolatility/vol)
		}
	}

	if v := checkRiskLimits(w, b, c, risk); v != "" {
		return nil, total, quanterr.Infeasible(op, "%s", v)
	}
	return w, total, nil
}

// diversify blends w toward equal weight until the Herfindahl limit holds
func (cm *ConstraintsManager) diversify(ctx context.Context, w []float64, b *bounds, limit float64) ([]float64, int, error) {
	const op = "constraint projection"

	equal := make([]float64, len(w))
	if b.longOnly {
		elig := b.eligible()
		total := sum(w)
		for _, i := range elig {
			equal[i] = total / float64(len(elig))
		}
	} else {
		held := 0
		for _, v := range w {
			if v != 0 {
				held++
			}
		}
		gross := sumAbs(w)
		for i, v := range w {
			if v != 0 {
				equal[i] = math.Copysign(gross/float64(held), v)
			}
		}
	}

	total := 0
	try := func(a float64) ([]float64, bool, error) {
		mixed := make([]float64, len(w))
		for i := range w {
			mixed[i] = (1-a)*w[i] + a*equal[i]
		}
		out, it, err := cm.Project(ctx, mixed, b)
		total += it
		if err != nil {
			return nil, false, err
		}
		return out, formulas.Herfindahl(out) <= limit+verifyTolerance, nil
	}

	best, ok, err := try(1)
	if err != nil {
		return nil, total, err
	}
	if !ok {
		return nil, total, quanterr.Infeasible(op, "concentration %.4f above limit %.4f even at equal weight", formulas.Herfindahl(best), limit)
	}
	lo, hi := 0.0, 1.0
	for k := 0; k < 40 && hi-lo > 1e-6; k++ {
		mid := (lo + hi) / 2
		out, ok, err := try(mid)
		if err != nil {
			return nil, total, err
		}
		if ok {
			hi, best = mid, out
		} else {
			lo = mid
		}
	}
	return best, total, nil
}

func checkRiskLimits(w []float64, b *bounds, c Constraints, risk riskInputs) string {
	if v := b.violation(w, verifyTolerance); v != "" {
		return v
	}
	if limit := c.ConcentrationLimit(); !math.IsInf(limit, 1) {
		if hhi := formulas.Herfindahl(w); hhi > limit+verifyTolerance {
			return fmt.Sprintf("concentration %.4f above limit %.4f", hhi, limit)
		}
	}
	if c.MaxTrackingError != nil {
		te := math.Sqrt(math.Max(0, quadForm(risk.cov, subtract(w, risk.benchmark))))
		if te > *c.MaxTrackingError+verifyTolerance {
			return fmt.Sprintf("tracking error %.4f above max_tracking_error %.4f", te, *c.MaxTrackingError)
		}
	}
	if c.MaxBeta != nil {
		if beta := dot(risk.betas, w); math.Abs(beta) > *c.MaxBeta+verifyTolerance {
			return fmt.Sprintf("beta %.4f above max_beta %.4f", beta, *c.MaxBeta)
		}
	}
	if c.MaxVolatility != nil {
		if vol := math.Sqrt(math.Max(0, quadForm(risk.cov, w))); vol > *c.MaxVolatility+verifyTolerance {
			return fmt.Sprintf("volatility %.4f above max_volatility %.4f", vol, *c.MaxVolatility)
		}
	}
	return ""
}

func sweepLongOnly(w []float64, b *bounds) {
	for i := range w {
		w[i] = math.Max(0, math.Min(w[i], b.upper[i]))
	}
	for _, g := range b.groups {
		if s := sumOf(w, g.members); s > g.cap && s > 0 {
			f := g.cap / s
			for _, i := range g.members {
				w[i] *= f
			}
		}
	}
	for _, g := range b.groups {
		if s := sumOf(w, g.members); s < g.floor {
			allocate(w, b, g.members, g.floor-s)
		}
	}
	total := sum(w)
	switch {
	case total > b.budget:
		release(w, b, total-b.budget)
	case total < b.budget:
		all := make([]int, len(w))
		for i := range all {
			all[i] = i
		}
		allocate(w, b, all, b.budget-total)
	}
}

// allocate spreads amount over candidates in proportion to their headroom
func allocate(w []float64, b *bounds, candidates []int, amount float64) {
	room := make([]float64, len(w))
	for _, i := range candidates {
		room[i] = math.Max(0, b.upper[i]-w[i])
	}
	for _, g := range b.groups {
		if math.IsInf(g.cap, 1) {
			continue
		}
		left := math.Max(0, g.cap-sumOf(w, g.members))
		if h := sumOf(room, g.members); h > left {
			f := 0.0
			if h > 0 {
				f = left / h
			}
			for _, i := range g.members {
				room[i] *= f
			}
		}
	}
	total := sum(room)
	if total <= 0 {
		return
	}
	f := math.Min(1, amount/total)
	for i := range w {
		w[i] += room[i] * f
	}
}

// release removes amount from holdings without breaching group floors
func release(w []float64, b *bounds, amount float64) {
	free := append([]float64(nil), w...)
	for _, g := range b.groups {
		if g.floor <= 0 {
			continue
		}
		slack := math.Max(0, sumOf(w, g.members)-g.floor)
		if r := sumOf(free, g.members); r > slack {
			f := 0.0
			if r > 0 {
				f = slack / r
			}
			for _, i := range g.members {
				free[i] *= f
			}
		}
	}
	total := sum(free)
	if total <= 0 {
		return
	}
	f := math.Min(1, amount/total)
	for i := range w {
		w[i] -= free[i] * f
	}
}

func sweepLongShort(w []float64, b *bounds) {
	for i := range w {
		w[i] = math.Max(-b.upper[i], math.Min(w[i], b.upper[i]))
	}
	for _, g := range b.groups {
		if g.absolute {
			if s := sumAbsOf(w, g.members); s > g.cap && s > 0 {
				f := g.cap / s
				for _, i := range g.members {
					w[i] *= f
				}
			}
			continue
		}
		s := sumOf(w, g.members)
		switch {
		case s > g.cap:
			shift(w, b, g.members, g.cap-s)
		case s < g.floor:
			shift(w, b, g.members, g.floor-s)
		}
	}
	all := b.eligible()
	if s := sum(w); s > b.netCap {
		shift(w, b, all, b.netCap-s)
	} else if s < -b.netCap {
		shift(w, b, all, -b.netCap-s)
	}
	if g := sumAbs(w); g > b.grossCap && g > 0 {
		scale(w, b.grossCap/g)
	}
}

// shift moves the sum of the eligible members by delta in equal parts
func shift(w []float64, b *bounds, members []int, delta float64) {
	k := countPositive(b.upper, members)
	if k == 0 {
		return
	}
	step := delta / float64(k)
	for _, i := range members {
		if b.upper[i] > 0 {
			w[i] += step
		}
	}
}

// violation describes the first bound w breaks, or returns ""
func (b *bounds) violation(w []float64, tol float64) string {
	for i, v := range w {
		if b.longOnly && v < -tol {
			return fmt.Sprintf("%s has negative weight %.6f in a long-only portfolio", b.ids[i], v)
		}
		if math.Abs(v) > b.upper[i]+tol {
			if b.upper[i] == 0 {
				return fmt.Sprintf("%s is excluded but holds %.6f", b.ids[i], v)
			}
			return fmt.Sprintf("%s at %.6f above max_position %.6f", b.ids[i], math.Abs(v), b.upper[i])
		}
	}
	for _, g := range b.groups {
		s := sumOf(w, g.members)
		if g.absolute {
			s = sumAbsOf(w, g.members)
		}
		if s > g.cap+tol {
			return fmt.Sprintf("%s exposure %.6f above cap %.6f", g.name, s, g.cap)
		}
		if s < g.floor-tol {
			return fmt.Sprintf("%s exposure %.6f below floor %.6f", g.name, s, g.floor)
		}
	}
	if g := sumAbs(w); g > b.grossCap+tol {
		return fmt.Sprintf("gross exposure %.6f above max_gross_exposure %.6f", g, b.grossCap)
	}
	if n := sum(w); math.Abs(n) > b.netCap+tol {
		return fmt.Sprintf("net exposure %.6f outside +/-%.6f", n, b.netCap)
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func countPositive(values []float64, idx []int) int {
	n := 0
	for _, i := range idx {
		if values[i] > 0 {
			n++
		}
	}
	return n
}

func sumOf(values []float64, idx []int) float64 {
	s := 0.0
	for _, i := range idx {
		s += values[i]
	}
	return s
}

func sumAbsOf(values []float64, idx []int) float64 {
	s := 0.0
	for _, i := range idx {
		s += math.Abs(values[i])
	}
	return s
}

func sum(values []float64) float64 {
	s := 0.0
	for _, v := range values {
		s += v
	}
	return s
}

func sumAbs(values []float64) float64 {
	s := 0.0
	for _, v := range values {
		s += math.Abs(v)
	}
	return s
}

func scale(values []float64, f float64) {
	for i := range values {
		values[i] *= f
	}
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func subtract(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

func quadForm(m [][]float64, w []float64) float64 {
	s := 0.0
	for i := range w {
		if w[i] == 0 {
			continue
		}
		for j := range w {
			s += w[i] * m[i][j] * w[j]
		}
	}
	return s
}

func maxAbsDiff(a, b []float64) float64 {
	d := 0.0
	for i := range a {
		d = math.Max(d, math.Abs(a[i]-b[i]))
	}
	return d
}
