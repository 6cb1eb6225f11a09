package optimization

import (
	"context"
	"fmt"
	"math"

	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/aristath/quantcore/pkg/formulas"
	"github.com/rs/zerolog"
)

// Linkage is the agglomerative clustering rule used by HRP
type Linkage string

const (
	LinkageSingle   Linkage = "single"
	LinkageComplete Linkage = "complete"
	LinkageAverage  Linkage = "average"
)

// ParseLinkage maps an empty name to single linkage
func ParseLinkage(name string) (Linkage, error) {
	switch Linkage(name) {
	case "", LinkageSingle:
		return LinkageSingle, nil
	case LinkageComplete, LinkageAverage:
		return Linkage(name), nil
	}
	return "", quanterr.Configuration("hrp", "unknown linkage %q", name)
}

// HRPOptimizer allocates by hierarchical risk parity.
type HRPOptimizer struct {
	log zerolog.Logger
}

// NewHRPOptimizer creates a new HRP optimizer
func NewHRPOptimizer(log zerolog.Logger) *HRPOptimizer {
	return &HRPOptimizer{
		log: log.With().Str("component", "hrp").Logger(),
	}
}

type cluster struct {
	left    *cluster
	right   *cluster
	leaves  []int
	minLeaf int
}

// Solve clusters the active instruments on correlation distance, orders them
// quasi-diagonally and splits the budget by recursive bisection.
func (h *HRPOptimizer) Solve(ctx context.Context, cov [][]float64, active []bool, linkage Linkage, budget float64) ([]float64, error) {
	const op = "hrp"

	n := len(cov)
	idx := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if active == nil || active[i] {
			idx = append(idx, i)
		}
	}
	out := make([]float64, n)
	switch len(idx) {
	case 0:
		return out, nil
	case 1:
		out[idx[0]] = budget
		return out, nil
	}

	sub := make([][]float64, len(idx))
	for a, i := range idx {
		sub[a] = make([]float64, len(idx))
		for b, j := range idx {
			sub[a][b] = cov[i][j]
		}
	}
	corr, err := formulas.CorrelationMatrixFromCovariance(sub)
	if err != nil {
		return nil, quanterr.Configuration(op, "%v", err)
	}
	dist := formulas.CorrelationToDistance(corr)

	root, err := h.buildDendrogram(ctx, dist, linkage)
	if err != nil {
		return nil, err
	}
	order := quasiDiagonalOrder(root)
	if len(order) != len(idx) {
		return nil, fmt.Errorf("%s: invalid order length %d", op, len(order))
	}

	weights := make([]float64, len(idx))
	for i := range weights {
		weights[i] = 1.0
	}
	bisect(weights, sub, order)

	total := sum(weights)
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return nil, fmt.Errorf("%s: invalid weight sum %v", op, total)
	}
	for a, i := range idx {
		out[i] = budget * weights[a] / total
	}
	h.log.Debug().Int("instruments", len(idx)).Str("linkage", string(linkage)).Msg("HRP allocation finished")
	return out, nil
}

// buildDendrogram merges the closest pair of clusters until one remains.
// Ties break on the smallest leaf indices so the tree is deterministic.
func (h *HRPOptimizer) buildDendrogram(ctx context.Context, dist [][]float64, linkage Linkage) (*cluster, error) {
	clusters := make([]*cluster, len(dist))
	for i := range dist {
		clusters[i] = &cluster{leaves: []int{i}, minLeaf: i}
	}

	for len(clusters) > 1 {
		if err := quanterr.CheckContext(ctx, "hrp"); err != nil {
			return nil, err
		}
		bestI, bestJ := 0, 1
		bestD := clusterDistance(dist, clusters[0], clusters[1], linkage)
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				d := clusterDistance(dist, clusters[i], clusters[j], linkage)
				if d < bestD || (d == bestD && pairLess(clusters[i], clusters[j], clusters[bestI], clusters[bestJ])) {
					bestD, bestI, bestJ = d, i, j
				}
			}
		}

		left, right := clusters[bestI], clusters[bestJ]
		if right.minLeaf < left.minLeaf {
			left, right = right, left
		}
		merged := &cluster{
			left:    left,
			right:   right,
			leaves:  append(append([]int(nil), left.leaves...), right.leaves...),
			minLeaf: left.minLeaf,
		}

		next := make([]*cluster, 0, len(clusters)-1)
		for k, c := range clusters {
			if k != bestI && k != bestJ {
				next = append(next, c)
			}
		}
		clusters = append(next, merged)
	}
	return clusters[0], nil
}

func pairLess(a1, b1, a2, b2 *cluster) bool {
	x1, y1 := a1.minLeaf, b1.minLeaf
	if y1 < x1 {
		x1, y1 = y1, x1
	}
	x2, y2 := a2.minLeaf, b2.minLeaf
	if y2 < x2 {
		x2, y2 = y2, x2
	}
	if x1 != x2 {
		return x1 < x2
	}
	return y1 < y2
}

func clusterDistance(dist [][]float64, a, b *cluster, linkage Linkage) float64 {
	switch linkage {
	case LinkageComplete:
		worst := math.Inf(-1)
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				worst = math.Max(worst, dist[i][j])
			}
		}
		return worst
	case LinkageAverage:
		total := 0.0
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				total += dist[i][j]
			}
		}
		return total / float64(len(a.leaves)*len(b.leaves))
	default:
		best := math.Inf(1)
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				best = math.Min(best, dist[i][j])
			}
		}
		return best
	}
}

func quasiDiagonalOrder(c *cluster) []int {
	if c == nil {
		return nil
	}
	if c.left == nil && c.right == nil {
		return []int{c.leaves[0]}
	}
	return append(quasiDiagonalOrder(c.left), quasiDiagonalOrder(c.right)...)
}

// bisect splits weight between halves of order in inverse proportion to
// their inverse-variance cluster variances.
func bisect(weights []float64, cov [][]float64, order []int) {
	if len(order) <= 1 {
		return
	}
	split := len(order) / 2
	left, right := order[:split], order[split:]

	vLeft := clusterVariance(cov, left)
	vRight := clusterVariance(cov, right)
	alpha := 0.5
	if vLeft+vRight > 0 {
		alpha = 1.0 - vLeft/(vLeft+vRight)
	}
	alpha = math.Max(0.0, math.Min(1.0, alpha))

	for _, i := range left {
		weights[i] *= alpha
	}
	for _, i := range right {
		weights[i] *= 1.0 - alpha
	}
	bisect(weights, cov, left)
	bisect(weights, cov, right)
}

func clusterVariance(cov [][]float64, members []int) float64 {
	if len(members) == 1 {
		return math.Max(cov[members[0]][members[0]], 0.0)
	}
	const eps = 1e-12
	ivp := make([]float64, len(members))
	for k, i := range members {
		ivp[k] = 1.0 / math.Max(cov[i][i], eps)
	}
	total := sum(ivp)
	for k := range ivp {
		ivp[k] /= total
	}
	v := 0.0
	for a, i := range members {
		for b, j := range members {
			v += ivp[a] * cov[i][j] * ivp[b]
		}
	}
	return math.Max(v, 0.0)
}
