package optimization

import (
	"math"

	"github.com/rs/zerolog"
)

// ReturnsCalculator maps signal scores to expected returns.
type ReturnsCalculator struct {
	log zerolog.Logger
}

// NewReturnsCalculator creates a new returns calculator
func NewReturnsCalculator(log zerolog.Logger) *ReturnsCalculator {
	return &ReturnsCalculator{
		log: log.With().Str("component", "returns").Logger(),
	}
}

// ExpectedReturns converts scores with the alpha = scale * score * volatility rule.
// Instruments with a zero or NaN score get zero expected return and are
// reported as pinned. degenerate is true when every score is zero or NaN.
func (rc *ReturnsCalculator) ExpectedReturns(signal []float64, cov [][]float64, scale float64) (mu []float64, pinned []bool, degenerate bool) {
	if scale == 0 {
		scale = DefaultSignalScale
	}
	n := len(signal)
	mu = make([]float64, n)
	pinned = make([]bool, n)
	active := 0
	for i, s := range signal {
		if math.IsNaN(s) || s == 0 {
			pinned[i] = true
			continue
		}
		active++
		mu[i] = scale * s * math.Sqrt(math.Max(cov[i][i], 0))
	}

	if active == 0 {
		rc.log.Debug().Int("instruments", n).Msg("No usable signal, falling back to equal weight")
		return make([]float64, n), make([]bool, n), true
	}
	if active < n {
		rc.log.Debug().Int("pinned", n-active).Msg("Pinned instruments without signal to zero weight")
	}
	return mu, pinned, false
}
