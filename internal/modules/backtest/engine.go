package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/modules/panel"
	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/rs/zerolog"
)

const op = "backtest"

// Engine runs backtests. It holds no state between runs.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a backtest engine
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		log: log.With().Str("component", "backtester").Logger(),
	}
}

// book is the simulated portfolio: per-instrument notional plus cash
type book struct {
	holdings []float64
	cash     float64
}

func (b *book) nav() float64 {
	nav := b.cash
	for _, h := range b.holdings {
		nav += h
	}
	return nav
}

func (b *book) shortNotional() float64 {
	short := 0.0
	for _, h := range b.holdings {
		if h < 0 {
			short -= h
		}
	}
	return short
}

func (b *book) exposures(nav float64) (gross, net float64) {
	for _, h := range b.holdings {
		gross += math.Abs(h)
		net += h
	}
	return gross / nav, net / nav
}

// market is the price and liquidity data the simulation reads
type market struct {
	ids   []string
	raw   [][]float64 // traded closes, NaN where the instrument has no print
	marks [][]float64 // forward-filled closes used for valuation
	adv   [][]float64 // nil when the panel has no volume
}

func newMarket(p *panel.Panel, costs Costs) *market {
	m := &market{
		ids:   p.Instruments,
		raw:   make([][]float64, len(p.Instruments)),
		marks: make([][]float64, len(p.Instruments)),
	}
	for i := range p.Instruments {
		closes := p.Series(panel.FieldClose, i)
		m.raw[i] = closes
		m.marks[i] = panel.ForwardFill(closes)
	}
	if p.Has(panel.FieldVolume) {
		volume := make([][]float64, len(p.Instruments))
		for i := range p.Instruments {
			volume[i] = p.Series(panel.FieldVolume, i)
		}
		m.adv = averageDailyVolume(volume, costs.ADVWindow)
	}
	return m
}

func (m *market) advAt(i, t int) float64 {
	if m.adv == nil {
		return math.NaN()
	}
	return m.adv[i][t]
}

// Run replays fn over the panel calendar. On each rebalance date the book is
// traded to the target weights at that day's close; between rebalances the
// holdings drift with prices and short positions accrue borrow cost.
func (e *Engine) Run(
	ctx context.Context,
	p *panel.Panel,
	universe *domain.Universe,
	fn WeightsFunc,
	costs Costs,
	rebalance Rebalance,
) (*Result, error) {
	// Step 1: Validate inputs
	if fn == nil {
		return nil, quanterr.Configuration(op, "weights function is required")
	}
	if p == nil || universe == nil {
		return nil, quanterr.Configuration(op, "panel and universe are required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := p.Align(universe); err != nil {
		return nil, err
	}
	if p.NumDates() == 0 {
		return nil, quanterr.DataGap(op, "panel has no dates")
	}
	if !p.Has(panel.FieldClose) {
		return nil, quanterr.Configuration(op, "panel has no %s field", panel.FieldClose)
	}
	if err := costs.Validate(); err != nil {
		return nil, err
	}
	cadence, err := ParseCadence(string(rebalance.Cadence))
	if err != nil {
		return nil, err
	}
	capital := rebalance.InitialCapital
	if capital == 0 {
		capital = DefaultInitialCapital
	}
	if capital < 0 || math.IsNaN(capital) || math.IsInf(capital, 0) {
		return nil, quanterr.Configuration(op, "initial_capital must be positive, got %v", capital)
	}

	// Step 2: Prepare market data and schedule
	mkt := newMarket(p, costs)
	schedule := RebalanceSchedule(p.Dates, cadence)
	index := universe.Index()

	b := &book{holdings: make([]float64, len(mkt.ids)), cash: capital}
	res := &Result{
		EquityCurve: make([]EquityPoint, 0, len(p.Dates)),
		Trades:      []Trade{},
		Turnover:    []TurnoverPoint{},
	}
	var tradingCosts, borrowCosts float64
	prevNAV := capital

	for t, date := range p.Dates {
		if err := quanterr.CheckContext(ctx, op); err != nil {
			return nil, err
		}

		// Step 3: Mark to market and accrue financing
		if t > 0 {
			for i, h := range b.holdings {
				if h == 0 {
					continue
				}
				prev, cur := mkt.marks[i][t-1], mkt.marks[i][t]
				if prev > 0 && !math.IsNaN(cur) {
					b.holdings[i] = h * cur / prev
				}
			}
			borrow := costs.DailyBorrow(b.shortNotional())
			b.cash -= borrow
			borrowCosts += borrow
		}
		nav := b.nav()
		if nav <= 0 {
			return nil, quanterr.Ruin(op, "NAV %.2f on %s after mark to market", nav, date.Format("2006-01-02"))
		}

		// Step 4: Rebalance to target
		if schedule[t] {
			target, err := fn(ctx, date)
			if err != nil {
				return nil, fmt.Errorf("weights for %s: %w", date.Format("2006-01-02"), err)
			}
			trades, turnover, cost, err := e.rebalance(b, mkt, t, date, nav, target, index, costs)
			if err != nil {
				return nil, err
			}
			tradingCosts += cost
			res.Trades = append(res.Trades, trades...)
			res.Turnover = append(res.Turnover, TurnoverPoint{Date: date, Turnover: turnover})

			nav = b.nav()
			if nav <= 0 {
				return nil, quanterr.Ruin(op, "NAV %.2f on %s after trading costs", nav, date.Format("2006-01-02"))
			}
		}

		// Step 5: Record the day
		gross, net := b.exposures(nav)
		res.EquityCurve = append(res.EquityCurve, EquityPoint{
			Date:   date,
			NAV:    nav,
			Cash:   b.cash,
			Gross:  gross,
			Net:    net,
			Return: nav/prevNAV - 1,
		})
		prevNAV = nav
	}

	res.Performance = CalculatePerformance(res, capital, cadence, tradingCosts, borrowCosts)

	e.log.Info().
		Str("cadence", string(cadence)).
		Int("days", len(res.EquityCurve)).
		Int("rebalances", len(res.Turnover)).
		Int("trades", len(res.Trades)).
		Float64("total_return", res.Performance.TotalReturn).
		Float64("max_drawdown", res.Performance.MaxDrawdown).
		Msg("Backtest complete")

	return res, nil
}

// rebalance trades the book to target at the close of day t and returns the
// executed trades, the turnover and the commission plus slippage paid.
func (e *Engine) rebalance(
	b *book,
	mkt *market,
	t int,
	date time.Time,
	nav float64,
	target domain.Weights,
	index map[string]int,
	costs Costs,
) ([]Trade, float64, float64, error) {
	for id := range target {
		if _, ok := index[id]; !ok {
			return nil, 0, 0, quanterr.Alignment(op, "weights on %s name %s, which is not in the universe", date.Format("2006-01-02"), id)
		}
	}

	// Instruments without a finite target or a tradable price keep their holding
	n := len(mkt.ids)
	tradable := make([]bool, n)
	invalid := 0
	for i, id := range mkt.ids {
		w := target[id]
		price := mkt.raw[i][t]
		if math.IsNaN(w) || math.IsInf(w, 0) || math.IsNaN(price) || price <= 0 {
			invalid++
			continue
		}
		tradable[i] = true
	}
	if float64(invalid) > MaxInvalidFraction*float64(n) {
		return nil, 0, 0, quanterr.DataGap(op, "%d of %d instruments lack a valid target on %s",
			invalid, n, date.Format("2006-01-02"))
	}
	if invalid > 0 {
		e.log.Warn().
			Str("date", date.Format("2006-01-02")).
			Int("invalid", invalid).
			Msg("Holding positions without a valid target")
	}

	var (
		trades   []Trade
		turnover float64
		paid     float64
	)
	for i, id := range mkt.ids {
		if !tradable[i] {
			continue
		}
		want := target[id] * nav
		delta := want - b.holdings[i]
		if math.Abs(delta) <= 1e-9*nav {
			continue
		}
		price := mkt.raw[i][t]
		commission, slippage, participation := costs.TradeCost(delta, mkt.advAt(i, t), price)

		side := SideBuy
		if delta < 0 {
			side = SideSell
		}
		trades = append(trades, Trade{
			Date:          date,
			Instrument:    id,
			Side:          side,
			Quantity:      math.Abs(delta) / price,
			Price:         price,
			Notional:      delta,
			DeltaWeight:   delta / nav,
			Commission:    commission,
			Slippage:      slippage,
			Participation: participation,
		})

		b.holdings[i] = want
		b.cash -= delta + commission + slippage
		turnover += math.Abs(delta) / nav
		paid += commission + slippage
	}
	return trades, turnover, paid, nil
}
