// Package panel provides the instrument x date x field data panel consumed by the core.
package panel

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/quanterr"
)

// Standard field names
const (
	FieldOpen           = "open"
	FieldHigh           = "high"
	FieldLow            = "low"
	FieldClose          = "close"
	FieldVolume         = "volume"
	FieldMarketCap      = "market_cap"
	FieldBookToPrice    = "book_to_price"
	FieldEarningsYield  = "earnings_yield"
	FieldROE            = "roe"
	FieldDebtToEquity   = "debt_to_equity"
	FieldEarningsGrowth = "earnings_growth"
	FieldESGScore       = "esg_score"
)

// Panel is a rectangular instrument x date x field grid.
// Fields[field][i][t] is the value of instrument i on Dates[t]; gaps are NaN.
type Panel struct {
	Dates       []time.Time                `json:"dates" yaml:"dates" msgpack:"dates"`
	Instruments []string                   `json:"instruments" yaml:"instruments" msgpack:"instruments"`
	Fields      map[string][]domain.Values `json:"fields" yaml:"fields" msgpack:"fields"`
}

// Request selects a panel from a loader
type Request struct {
	UniverseID string    `json:"universe_id" yaml:"universe_id" msgpack:"universe_id"`
	Fields     []string  `json:"fields" yaml:"fields" msgpack:"fields"`
	From       time.Time `json:"from" yaml:"from" msgpack:"from"`
	To         time.Time `json:"to" yaml:"to" msgpack:"to"`
}

// NumDates returns the calendar length
func (p *Panel) NumDates() int {
	return len(p.Dates)
}

// Has reports whether the panel carries field
func (p *Panel) Has(field string) bool {
	_, ok := p.Fields[field]
	return ok
}

// Series returns the time series of field for instrument index i.
// Missing fields yield an all-NaN series.
func (p *Panel) Series(field string, i int) []float64 {
	grid, ok := p.Fields[field]
	if !ok || i >= len(grid) {
		return nanSlice(len(p.Dates))
	}
	return grid[i]
}

// CrossSection returns field for every instrument on date index t
func (p *Panel) CrossSection(field string, t int) []float64 {
	out := make([]float64, len(p.Instruments))
	grid, ok := p.Fields[field]
	for i := range out {
		if !ok {
			out[i] = math.NaN()
			continue
		}
		out[i] = grid[i][t]
	}
	return out
}

// DateIndex finds the index of date in the calendar
func (p *Panel) DateIndex(date time.Time) (int, bool) {
	d := normalizeDate(date)
	t := sort.Search(len(p.Dates), func(k int) bool { return !p.Dates[k].Before(d) })
	if t < len(p.Dates) && p.Dates[t].Equal(d) {
		return t, true
	}
	return 0, false
}

// Validate checks the panel is rectangular and the calendar strictly ascending
func (p *Panel) Validate() error {
	for t := 1; t < len(p.Dates); t++ {
		if !p.Dates[t].After(p.Dates[t-1]) {
			return quanterr.Alignment("panel", "dates not strictly ascending at %s", p.Dates[t].Format("2006-01-02"))
		}
	}
	seen := make(map[string]bool, len(p.Instruments))
	for _, id := range p.Instruments {
		if seen[id] {
			return quanterr.Alignment("panel", "duplicate instrument %s", id)
		}
		seen[id] = true
	}
	for field, grid := range p.Fields {
		if len(grid) != len(p.Instruments) {
			return quanterr.Alignment("panel", "field %s has %d instruments, want %d", field, len(grid), len(p.Instruments))
		}
		for i, series := range grid {
			if len(series) != len(p.Dates) {
				return quanterr.Alignment("panel", "field %s instrument %s has %d dates, want %d",
					field, p.Instruments[i], len(series), len(p.Dates))
			}
		}
	}
	return nil
}

// Align checks that the panel covers exactly the universe, in universe order
func (p *Panel) Align(universe *domain.Universe) error {
	if len(p.Instruments) != len(universe.Instruments) {
		return quanterr.Alignment("panel", "panel has %d instruments, universe %s has %d",
			len(p.Instruments), universe.ID, len(universe.Instruments))
	}
	for i, inst := range universe.Instruments {
		if p.Instruments[i] != inst.ID {
			return quanterr.Alignment("panel", "instrument %d is %s, universe expects %s", i, p.Instruments[i], inst.ID)
		}
	}
	return nil
}

// Window returns the sub-panel covering date indices [from, to]
func (p *Panel) Window(from, to int) *Panel {
	if from < 0 {
		from = 0
	}
	if to >= len(p.Dates) {
		to = len(p.Dates) - 1
	}
	out := &Panel{
		Dates:       append([]time.Time(nil), p.Dates[from:to+1]...),
		Instruments: append([]string(nil), p.Instruments...),
		Fields:      make(map[string][]domain.Values, len(p.Fields)),
	}
	for field, grid := range p.Fields {
		sub := make([]domain.Values, len(grid))
		for i, series := range grid {
			sub[i] = append(domain.Values(nil), series[from:to+1]...)
		}
		out.Fields[field] = sub
	}
	return out
}

// Builder accumulates observations into a panel, rejecting duplicates
type Builder struct {
	instruments []string
	index       map[string]int
	dates       map[time.Time]bool
	cells       map[string]map[cellKey]float64
}

type cellKey struct {
	instrument int
	date       time.Time
}

// NewBuilder creates a builder for the given instrument order
func NewBuilder(instruments []string) *Builder {
	index := make(map[string]int, len(instruments))
	for i, id := range instruments {
		index[id] = i
	}
	return &Builder{
		instruments: instruments,
		index:       index,
		dates:       make(map[time.Time]bool),
		cells:       make(map[string]map[cellKey]float64),
	}
}

// Set records one observation
func (b *Builder) Set(instrument string, date time.Time, field string, value float64) error {
	i, ok := b.index[instrument]
	if !ok {
		return quanterr.Alignment("panel", "instrument %s not in universe", instrument)
	}
	d := normalizeDate(date)
	if b.cells[field] == nil {
		b.cells[field] = make(map[cellKey]float64)
	}
	key := cellKey{instrument: i, date: d}
	if _, dup := b.cells[field][key]; dup {
		return quanterr.Alignment("panel", "duplicate entry for %s %s %s", instrument, d.Format("2006-01-02"), field)
	}
	b.cells[field][key] = value
	b.dates[d] = true
	return nil
}

// AddDate registers a calendar date with no observations (an explicit gap)
func (b *Builder) AddDate(date time.Time) {
	b.dates[normalizeDate(date)] = true
}

// Build assembles the panel on the union calendar; absent cells are NaN
func (b *Builder) Build() *Panel {
	dates := make([]time.Time, 0, len(b.dates))
	for d := range b.dates {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	p := &Panel{
		Dates:       dates,
		Instruments: append([]string(nil), b.instruments...),
		Fields:      make(map[string][]domain.Values, len(b.cells)),
	}
	for field, cells := range b.cells {
		grid := make([]domain.Values, len(b.instruments))
		for i := range grid {
			grid[i] = nanSlice(len(dates))
		}
		for t, d := range dates {
			for i := range b.instruments {
				if v, ok := cells[cellKey{instrument: i, date: d}]; ok {
					grid[i][t] = v
				}
			}
		}
		p.Fields[field] = grid
	}
	return p
}

func normalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// String describes the panel shape
func (p *Panel) String() string {
	return fmt.Sprintf("panel(%d instruments x %d dates x %d fields)", len(p.Instruments), len(p.Dates), len(p.Fields))
}
