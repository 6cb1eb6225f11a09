package panel

import "math"

// Returns computes close-to-close simple returns aligned to the calendar.
// Row i holds instrument i; index 0 and any return touching a gap are NaN.
func (p *Panel) Returns() [][]float64 {
	out := make([][]float64, len(p.Instruments))
	for i := range p.Instruments {
		closes := p.Series(FieldClose, i)
		r := make([]float64, len(closes))
		if len(r) > 0 {
			r[0] = math.NaN()
		}
		for t := 1; t < len(closes); t++ {
			prev, cur := closes[t-1], closes[t]
			if prev == 0 || math.IsNaN(prev) || math.IsNaN(cur) {
				r[t] = math.NaN()
				continue
			}
			r[t] = cur/prev - 1
		}
		out[i] = r
	}
	return out
}

// ForwardReturns returns next-day returns aligned to the calendar (last date NaN)
func (p *Panel) ForwardReturns() [][]float64 {
	back := p.Returns()
	out := make([][]float64, len(back))
	for i, r := range back {
		f := make([]float64, len(r))
		for t := range f {
			if t+1 < len(r) {
				f[t] = r[t+1]
			} else {
				f[t] = math.NaN()
			}
		}
		out[i] = f
	}
	return out
}

// ForwardFill fills NaN gaps with the last finite value, then backfills the
// leading gap with the first finite value. All-NaN series are left untouched.
func ForwardFill(series []float64) []float64 {
	out := make([]float64, len(series))
	copy(out, series)

	last := math.NaN()
	for t, v := range out {
		if math.IsNaN(v) {
			out[t] = last
		} else {
			last = v
		}
	}
	first := math.NaN()
	for _, v := range out {
		if !math.IsNaN(v) {
			first = v
			break
		}
	}
	for t := range out {
		if !math.IsNaN(out[t]) {
			break
		}
		out[t] = first
	}
	return out
}
