package risk

import (
	"context"
	"math"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/quanterr"
)

// Liquidity defaults
const (
	DefaultMaxParticipation = 0.2
	DefaultHorizonDays      = 5.0
)

// LiquidityRegime divides available volume by VolumeHaircut
type LiquidityRegime struct {
	Name          string  `json:"name" yaml:"name" msgpack:"name"`
	VolumeHaircut float64 `json:"volume_haircut" yaml:"volume_haircut" msgpack:"volume_haircut"`
}

// DefaultRegimes returns normal, stressed and crisis markets
func DefaultRegimes() []LiquidityRegime {
	return []LiquidityRegime{
		{Name: "normal", VolumeHaircut: 1},
		{Name: "stressed", VolumeHaircut: 3},
		{Name: "crisis", VolumeHaircut: 10},
	}
}

// LiquidityRequest configures a liquidity stress. ADV is average daily traded
// value in the same currency as NAV, aligned to the instruments.
type LiquidityRequest struct {
	NAV              float64           `json:"nav" yaml:"nav" msgpack:"nav"`
	ADV              domain.Values     `json:"adv" yaml:"adv" msgpack:"adv"`
	MaxParticipation float64           `json:"max_participation,omitempty" yaml:"max_participation,omitempty" msgpack:"max_participation,omitempty"`
	HorizonDays      float64           `json:"horizon_days,omitempty" yaml:"horizon_days,omitempty" msgpack:"horizon_days,omitempty"`
	Regimes          []LiquidityRegime `json:"regimes,omitempty" yaml:"regimes,omitempty" msgpack:"regimes,omitempty"`
}

// PositionLiquidity is the time needed to exit one position
type PositionLiquidity struct {
	Instrument      string  `json:"instrument" yaml:"instrument" msgpack:"instrument"`
	Weight          float64 `json:"weight" yaml:"weight" msgpack:"weight"`
	DaysToLiquidate float64 `json:"days_to_liquidate" yaml:"days_to_liquidate" msgpack:"days_to_liquidate"`
	NoVolume        bool    `json:"no_volume,omitempty" yaml:"no_volume,omitempty" msgpack:"no_volume,omitempty"`
	Breach          bool    `json:"breach" yaml:"breach" msgpack:"breach"`
}

// RegimeResult is the liquidity profile under one regime
type RegimeResult struct {
	Regime        string              `json:"regime" yaml:"regime" msgpack:"regime"`
	VolumeHaircut float64             `json:"volume_haircut" yaml:"volume_haircut" msgpack:"volume_haircut"`
	MaxDays       float64             `json:"max_days" yaml:"max_days" msgpack:"max_days"`
	Breaches      int                 `json:"breaches" yaml:"breaches" msgpack:"breaches"`
	BreachWeight  float64             `json:"breach_weight" yaml:"breach_weight" msgpack:"breach_weight"`
	Positions     []PositionLiquidity `json:"positions" yaml:"positions" msgpack:"positions"`
}

// LiquidityReport is the output of Engine.LiquidityStress
type LiquidityReport struct {
	HorizonDays      float64        `json:"horizon_days" yaml:"horizon_days" msgpack:"horizon_days"`
	MaxParticipation float64        `json:"max_participation" yaml:"max_participation" msgpack:"max_participation"`
	Regimes          []RegimeResult `json:"regimes" yaml:"regimes" msgpack:"regimes"`
}

// LiquidityStress computes days to liquidate each position as
// |w| x NAV / (ADV x max_participation / haircut) per regime and flags
// positions that need longer than the horizon. Positions without volume
// cannot be exited and always breach.
func (e *Engine) LiquidityStress(ctx context.Context, instruments []string, weights domain.Weights, req LiquidityRequest) (*LiquidityReport, error) {
	const op = "risk.liquidity"

	if err := quanterr.CheckContext(ctx, op); err != nil {
		return nil, err
	}
	w, err := weightVector(op, instruments, weights)
	if err != nil {
		return nil, err
	}
	if len(req.ADV) != len(w) {
		return nil, quanterr.Alignment(op, "adv has %d entries for %d instruments", len(req.ADV), len(w))
	}
	if req.NAV <= 0 || math.IsNaN(req.NAV) || math.IsInf(req.NAV, 0) {
		return nil, quanterr.Configuration(op, "nav must be positive, got %v", req.NAV)
	}
	participation := req.MaxParticipation
	if participation == 0 {
		participation = DefaultMaxParticipation
	}
	if participation < 0 || participation > 1 || math.IsNaN(participation) {
		return nil, quanterr.Configuration(op, "max_participation %v outside (0, 1]", participation)
	}
	horizon := req.HorizonDays
	if horizon == 0 {
		horizon = DefaultHorizonDays
	}
	if horizon < 0 || math.IsNaN(horizon) {
		return nil, quanterr.Configuration(op, "horizon_days must be positive, got %v", horizon)
	}
	regimes := req.Regimes
	if len(regimes) == 0 {
		regimes = DefaultRegimes()
	}

	report := &LiquidityReport{
		HorizonDays:      horizon,
		MaxParticipation: participation,
		Regimes:          make([]RegimeResult, 0, len(regimes)),
	}
	for _, regime := range regimes {
		if regime.VolumeHaircut < 1 || math.IsNaN(regime.VolumeHaircut) {
			return nil, quanterr.Configuration(op, "regime %s volume_haircut must be at least 1, got %v", regime.Name, regime.VolumeHaircut)
		}
		rr := RegimeResult{Regime: regime.Name, VolumeHaircut: regime.VolumeHaircut, Positions: []PositionLiquidity{}}
		for i, id := range instruments {
			if w[i] == 0 {
				continue
			}
			pl := PositionLiquidity{Instrument: id, Weight: w[i]}
			adv := req.ADV[i]
			if adv > 0 && !math.IsNaN(adv) && !math.IsInf(adv, 0) {
				pl.DaysToLiquidate = math.Abs(w[i]) * req.NAV / (adv * participation / regime.VolumeHaircut)
				pl.Breach = pl.DaysToLiquidate > horizon
			} else {
				pl.NoVolume = true
				pl.Breach = true
			}
			if pl.DaysToLiquidate > rr.MaxDays {
				rr.MaxDays = pl.DaysToLiquidate
			}
			if pl.Breach {
				rr.Breaches++
				rr.BreachWeight += math.Abs(w[i])
			}
			rr.Positions = append(rr.Positions, pl)
		}
		report.Regimes = append(report.Regimes, rr)
	}

	e.log.Debug().
		Int("regimes", len(report.Regimes)).
		Float64("horizon_days", horizon).
		Msg("Liquidity stress complete")

	return report, nil
}
