package testing

import (
	"math"
	"time"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/modules/panel"
)

// FixtureStart is the first calendar date of generated panels
var FixtureStart = time.Date(2023, time.January, 2, 0, 0, 0, 0, time.UTC)

// NewUniverse returns a universe of the given ids with sectors assigned
// round-robin from sectors.
func NewUniverse(id string, ids []string, sectors []string) *domain.Universe {
	u := &domain.Universe{ID: id}
	for i, inst := range ids {
		sector := ""
		if len(sectors) > 0 {
			sector = sectors[i%len(sectors)]
		}
		u.Instruments = append(u.Instruments, domain.Instrument{ID: inst, Sector: sector, Country: "US"})
	}
	return u
}

// BusinessDays returns n consecutive weekdays starting at start
func BusinessDays(start time.Time, n int) []time.Time {
	days := make([]time.Time, 0, n)
	for d := start; len(days) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		days = append(days, d)
	}
	return days
}

// FlatPanel builds a panel whose closes never move
func FlatPanel(u *domain.Universe, days int, price float64) *panel.Panel {
	return buildPanel(u, days, func(i, t int) float64 { return price })
}

// TrendingPanel builds a deterministic panel in which instrument i drifts at
// drift[i] per day with a small sinusoidal wobble; fundamentals are constant
// per instrument so factor rankings are stable.
func TrendingPanel(u *domain.Universe, days int, drift []float64) *panel.Panel {
	return buildPanel(u, days, func(i, t int) float64 {
		wobble := 0.004 * math.Sin(float64(t)*0.7+float64(i))
		return 100 * math.Exp(drift[i]*float64(t)+wobble)
	})
}

func buildPanel(u *domain.Universe, days int, price func(i, t int) float64) *panel.Panel {
	dates := BusinessDays(FixtureStart, days)
	b := panel.NewBuilder(u.IDs())
	for i, id := range u.IDs() {
		for t, d := range dates {
			p := price(i, t)
			_ = b.Set(id, d, panel.FieldClose, p)
			_ = b.Set(id, d, panel.FieldVolume, 1_000_000*float64(i+1))
			_ = b.Set(id, d, panel.FieldMarketCap, 1e9*float64(i+1)*p/100)
			_ = b.Set(id, d, panel.FieldBookToPrice, 0.2+0.1*float64(i))
			_ = b.Set(id, d, panel.FieldROE, 0.05+0.02*float64(i%3))
			_ = b.Set(id, d, panel.FieldESGScore, 50+5*float64(i))
		}
	}
	return b.Build()
}
