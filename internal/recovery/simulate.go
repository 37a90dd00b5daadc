package recovery

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"hydropulse/internal/model"
)

// Profile is the cost behaviour of one protocol.
// Units:
// - Efficiency: fraction of the expected improvement the plant realizes
// - LoadImpact: MW of output lost per MW of adjustment (0 = no load cut)
// - InterventionCost: EUR per execution
type Profile struct {
	Efficiency       float64
	LoadImpact       float64
	InterventionCost decimal.Decimal
}

func DefaultProfiles() map[model.Protocol]Profile {
	return map[model.Protocol]Profile{
		model.ProtocolThermalStabilization: {Efficiency: 0.85, LoadImpact: 0, InterventionCost: decimal.NewFromInt(120)},
		model.ProtocolCavitationMitigation: {Efficiency: 0.8, LoadImpact: 0.3, InterventionCost: decimal.NewFromInt(150)},
		model.ProtocolVibrationDamping:     {Efficiency: 0.75, LoadImpact: 1, InterventionCost: decimal.NewFromInt(200)},
		model.ProtocolFlowRebalance:        {Efficiency: 0.65, LoadImpact: 1, InterventionCost: decimal.NewFromInt(100)},
		model.ProtocolSpeedTrim:            {Efficiency: 0.7, LoadImpact: 0.5, InterventionCost: decimal.NewFromInt(80)},
	}
}

// Simulation is the outcome estimate of an action.
type Simulation struct {
	ActualImprovement float64
	PredictedLoss     decimal.Decimal // EUR
}

// Simulator estimates healing outcomes with a deterministic cost model.
// Units:
// - RatedPowerMW: MW
// - MarketPrice: EUR/MWh
// - HorizonHours: how long the adjustment is held
type Simulator struct {
	RatedPowerMW float64
	MarketPrice  decimal.Decimal
	HorizonHours float64
	Profiles     map[model.Protocol]Profile
}

func NewSimulator(ratedPowerMW float64, marketPrice decimal.Decimal) *Simulator {
	return &Simulator{
		RatedPowerMW: ratedPowerMW,
		MarketPrice:  marketPrice,
		HorizonHours: 1,
		Profiles:     DefaultProfiles(),
	}
}

func (s *Simulator) Validate() error {
	if s.RatedPowerMW <= 0 {
		return errors.New("RatedPowerMW must be > 0")
	}
	if s.MarketPrice.IsNegative() {
		return errors.New("MarketPrice must be >= 0")
	}
	if s.HorizonHours <= 0 {
		return errors.New("HorizonHours must be > 0")
	}
	return nil
}

// Simulate has no side effects.
func (s *Simulator) Simulate(a model.HealingAction) (Simulation, error) {
	p, ok := s.Profiles[a.Protocol]
	if !ok {
		return Simulation{}, fmt.Errorf("no cost profile for protocol %s", a.Protocol)
	}
	adj := math.Abs(a.AdjustmentValue)
	actual := a.ExpectedImprovement * p.Efficiency * (1 - overshoot(adj))

	lostMWh := decimal.NewFromFloat(s.RatedPowerMW * adj / 100 * p.LoadImpact * s.HorizonHours)
	loss := lostMWh.Mul(s.MarketPrice).Add(p.InterventionCost).Round(2)
	return Simulation{ActualImprovement: actual, PredictedLoss: loss}, nil
}

// overshoot penalizes adjustments beyond 10% of actuator range, capped at half.
func overshoot(adjPct float64) float64 {
	if adjPct <= 10 {
		return 0
	}
	return math.Min(0.5, (adjPct-10)*0.02)
}
