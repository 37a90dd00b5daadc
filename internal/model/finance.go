package model

import (
	"errors"

	"github.com/shopspring/decimal"
)

// HoursPerYear is used to amortize replacement cost over service life.
const HoursPerYear = 8760

// FinancialContext is externally supplied economics for one unit.
// Units:
// - MarketPriceEurPerMWh: EUR/MWh
// - MaintenanceHourlyRate: EUR/h allocated to maintenance
// - ReplacementCost: EUR for a full runner/bearing replacement
type FinancialContext struct {
	MarketPriceEurPerMWh  decimal.Decimal `json:"market_price_eur_per_mwh"`
	MaintenanceHourlyRate decimal.Decimal `json:"maintenance_hourly_rate"`
	ReplacementCost       decimal.Decimal `json:"replacement_cost"`
}

func (f FinancialContext) Validate() error {
	if f.MarketPriceEurPerMWh.IsNegative() {
		return errors.New("MarketPriceEurPerMWh must be >= 0")
	}
	if f.MaintenanceHourlyRate.IsNegative() {
		return errors.New("MaintenanceHourlyRate must be >= 0")
	}
	if f.ReplacementCost.IsNegative() {
		return errors.New("ReplacementCost must be >= 0")
	}
	return nil
}

// WearParams describes how mechanical stress translates into cost.
// Units:
// - VibrationLimit: mm/s above which VibrationPenalty applies
// - CavitationLimit: index 0..1 above which CavitationPenalty applies
// - Penalties: EUR/h
// - ServiceLifeYears: years over which ReplacementCost is amortized
type WearParams struct {
	VibrationLimit    float64
	VibrationPenalty  decimal.Decimal
	CavitationLimit   float64
	CavitationPenalty decimal.Decimal
	ServiceLifeYears  int
}

func DefaultWearParams() WearParams {
	return WearParams{
		VibrationLimit:    2.5,
		VibrationPenalty:  decimal.NewFromInt(25),
		CavitationLimit:   0.8,
		CavitationPenalty: decimal.NewFromInt(40),
		ServiceLifeYears:  20,
	}
}

func (w WearParams) Validate() error {
	if w.VibrationLimit <= 0 {
		return errors.New("VibrationLimit must be > 0")
	}
	if w.CavitationLimit <= 0 || w.CavitationLimit > 1 {
		return errors.New("CavitationLimit must be in (0, 1]")
	}
	if w.VibrationPenalty.IsNegative() || w.CavitationPenalty.IsNegative() {
		return errors.New("penalties must be >= 0")
	}
	if w.ServiceLifeYears <= 0 {
		return errors.New("ServiceLifeYears must be > 0")
	}
	return nil
}

// AmortizedReplacementRate spreads cost evenly over the service life, in EUR/h.
func (w WearParams) AmortizedReplacementRate(cost decimal.Decimal) decimal.Decimal {
	hours := decimal.NewFromInt(int64(w.ServiceLifeYears) * HoursPerYear)
	return cost.Div(hours)
}

// UnitTelemetry is the slice of live state the strategist prices.
// PowerMW in MW, Vibration in mm/s, Cavitation 0..1, Temperature in degC.
type UnitTelemetry struct {
	PowerMW     float64 `json:"power_mw"`
	Vibration   float64 `json:"vibration"`
	Cavitation  float64 `json:"cavitation"`
	Temperature float64 `json:"temperature"`
}

// ActionKind is the operator-facing verb of a recommendation.
// Keep these values stable; they key operator vetoes.
type ActionKind string

const (
	ActionIncreaseLoad ActionKind = "INCREASE_LOAD"
	ActionReduceLoad   ActionKind = "REDUCE_LOAD"
	ActionHoldLoad     ActionKind = "HOLD_LOAD"
)

// PrescriptiveAction is one strategist recommendation.
type PrescriptiveAction struct {
	Kind        ActionKind `json:"kind"`
	Title       string     `json:"title"`
	Explanation string     `json:"explanation"`
	Confidence  float64    `json:"confidence"`
}

// StrategistOutput carries EUR/h rates and the dimensionless profit-health ratio.
type StrategistOutput struct {
	NetProfitRate     decimal.Decimal      `json:"net_profit_rate"`
	MolecularDebtRate decimal.Decimal      `json:"molecular_debt_rate"`
	ProfitHealthRatio decimal.Decimal      `json:"profit_health_ratio"`
	Recommendations   []PrescriptiveAction `json:"recommendations"`
}

func (o StrategistOutput) Has(kind ActionKind) bool {
	for _, r := range o.Recommendations {
		if r.Kind == kind {
			return true
		}
	}
	return false
}
