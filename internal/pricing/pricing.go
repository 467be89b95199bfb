package pricing

import (
	"math"

	"github.com/samber/lo"

	"github.com/Simplici0/printcost/internal/material"
	"github.com/Simplici0/printcost/internal/printer"
)

const (
	DefaultFillFactor         = 0.18
	DefaultColorSurchargeRate = 0.05

	minFillFactor = 0.1
	maxFillFactor = 1.5
	// Stored fill factors above this are percentages (e.g. 20 means 0.20).
	percentFillThreshold = 2.0

	// The extra hourly surcharge only applies past this many hours.
	surchargeFreeHours = 1.0
)

// builtinPricesPerKg are the last-resort material prices.
var builtinPricesPerKg = map[material.Material]float64{
	material.PLA:  25,
	material.PETG: 30,
	material.ABS:  28,
	material.TPU:  40,
}

// Breakdown contains every intermediate value of an estimate. Costs are
// reported rounded to cents; Price is rounded once from the unrounded base.
type Breakdown struct {
	Material                  material.Material `json:"material"`
	PrinterProfile            string            `json:"printer_profile"`
	VolumeMM3                 float64           `json:"volume_mm3"`
	FillFactor                float64           `json:"fill_factor"`
	EffectiveVolumeCM3        float64           `json:"effective_volume_cm3"`
	NozzleDiameterMM          float64           `json:"nozzle_diameter_mm"`
	VolumetricSpeedCM3PerHour float64           `json:"volumetric_speed_cm3_per_hour"`
	Hours                     float64           `json:"hours"`
	DensityGPerCM3            float64           `json:"density_g_per_cm3"`
	Grams                     float64           `json:"grams"`
	PricePerKg                float64           `json:"price_per_kg"`
	MaterialCost              float64           `json:"material_cost"`
	EnergyRatePerHour         float64           `json:"energy_rate_per_hour"`
	EnergyCost                float64           `json:"energy_cost"`
	ExtraHourlyRate           float64           `json:"extra_hourly_rate"`
	ExtraHourlyCost           float64           `json:"extra_hourly_cost"`
	BaseCost                  float64           `json:"base_cost"`
	MinimumPrice              float64           `json:"minimum_price"`
	MinimumApplied            bool              `json:"minimum_applied"`
	Price                     float64           `json:"price"`
}

// Estimator turns a mesh volume into a price. It holds no mutable state and
// is safe for concurrent use.
type Estimator struct {
	defaults Defaults
}

// NewEstimator returns an Estimator that consults defaults for fields missing
// from a Config. A nil defaults behaves like NoDefaults.
func NewEstimator(defaults Defaults) *Estimator {
	if defaults == nil {
		defaults = NoDefaults
	}
	return &Estimator{defaults: defaults}
}

// Estimate computes the price breakdown for volumeMM3 of material m. It never
// fails; missing inputs resolve through Config, Defaults and constants in
// that order. Negative or NaN volumes are the caller's responsibility.
func (e *Estimator) Estimate(volumeMM3 float64, m material.Material, cfg Config) Breakdown {
	fill := FillFactor(cfg.FillFactor)
	effectiveCM3 := (volumeMM3 / 1000.0) * fill

	profile := printer.Resolve(cfg.ProfileKey())
	override := cfg.Override(profile.Key)
	nozzle := printer.NozzleDiameter(profile, override)
	speed := printer.VolumetricSpeed(profile, cfg.PrintSpeed, nozzle)
	hours := effectiveCM3 / speed

	density := printer.MaterialDensity(m, override)
	grams := effectiveCM3 * density

	pricePerKg := e.PricePerKg(m, cfg)
	materialCost := grams * (pricePerKg / 1000.0)

	extraRate := e.ExtraHourlyRate(cfg)
	extraCost := extraRate * math.Max(0, hours-surchargeFreeHours)

	energyRate := e.EnergyRatePerHour(cfg, profile)
	energyCost := energyRate * hours

	base := materialCost + energyCost + extraCost
	minimum := e.MinimumPrice(cfg)

	return Breakdown{
		Material:                  m,
		PrinterProfile:            profile.Key,
		VolumeMM3:                 Round2(volumeMM3),
		FillFactor:                fill,
		EffectiveVolumeCM3:        Round2(effectiveCM3),
		NozzleDiameterMM:          nozzle,
		VolumetricSpeedCM3PerHour: Round2(speed),
		Hours:                     Round2(hours),
		DensityGPerCM3:            density,
		Grams:                     Round2(grams),
		PricePerKg:                pricePerKg,
		MaterialCost:              Round2(materialCost),
		EnergyRatePerHour:         energyRate,
		EnergyCost:                Round2(energyCost),
		ExtraHourlyRate:           extraRate,
		ExtraHourlyCost:           Round2(extraCost),
		BaseCost:                  Round2(base),
		MinimumPrice:              minimum,
		MinimumApplied:            base < minimum,
		Price:                     Round2(math.Max(base, minimum)),
	}
}

// FillFactor resolves the infill fraction. Raw values above 2 are read as
// percentages; the result is clamped to [0.1, 1.5].
func FillFactor(raw *float64) float64 {
	if !usable(raw) || *raw <= 0 {
		return DefaultFillFactor
	}
	v := *raw
	if v > percentFillThreshold {
		v /= 100
	}
	return lo.Clamp(v, minFillFactor, maxFillFactor)
}

// PricePerKg resolves the price of m. Materials without any configured or
// built-in price are priced like the default material.
func (e *Estimator) PricePerKg(m material.Material, cfg Config) float64 {
	if v := cfg.PricePerKg(m); usable(v) {
		return *v
	}
	if v, ok := e.defaults.MaterialPricePerKg(m); ok && usable(&v) {
		return v
	}
	if v, ok := builtinPricesPerKg[m]; ok {
		return v
	}
	if m != material.Default {
		return e.PricePerKg(material.Default, cfg)
	}
	return builtinPricesPerKg[material.Default]
}

// EnergyRatePerHour resolves the energy rate, falling back to the profile's own.
func (e *Estimator) EnergyRatePerHour(cfg Config, p printer.Profile) float64 {
	return layered(cfg.EnergyRatePerHour, e.defaults.EnergyRatePerHour, p.EnergyUSDPerHour)
}

// MinimumPrice resolves the price floor, rounded to cents.
func (e *Estimator) MinimumPrice(cfg Config) float64 {
	return Round2(layered(cfg.MinimumPrice, e.defaults.MinimumPrice, 0))
}

// ExtraHourlyRate resolves the surcharge per hour beyond the first.
func (e *Estimator) ExtraHourlyRate(cfg Config) float64 {
	return layered(cfg.ExtraHourlyRate, e.defaults.ExtraHourlyRate, 0)
}

// ColorSurchargeRate resolves the per-extra-color surcharge fraction.
func (e *Estimator) ColorSurchargeRate(cfg Config) float64 {
	return layered(cfg.ColorSurchargeRate, e.defaults.ColorSurchargeRate, DefaultColorSurchargeRate)
}

// Rates resolves the values the cart pricer needs from cfg.
func (e *Estimator) Rates(cfg Config) RateTable {
	prices := make(map[material.Material]float64, len(builtinPricesPerKg))
	for _, m := range material.All() {
		prices[m] = e.PricePerKg(m, cfg)
	}
	return RateTable{
		PricesPerKg:    prices,
		ColorSurcharge: e.ColorSurchargeRate(cfg),
	}
}

// RateTable is a resolved snapshot of per-material prices and the color
// surcharge rate.
type RateTable struct {
	PricesPerKg    map[material.Material]float64 `json:"prices_per_kg"`
	ColorSurcharge float64                       `json:"color_surcharge_rate"`
}

// PricePerKg returns the resolved price for m; unknown materials use the
// default material's price.
func (r RateTable) PricePerKg(m material.Material) float64 {
	if v, ok := r.PricesPerKg[m]; ok {
		return v
	}
	return r.PricesPerKg[material.Default]
}

// ColorSurchargeRate returns the resolved color surcharge rate.
func (r RateTable) ColorSurchargeRate() float64 {
	return r.ColorSurcharge
}

// Round2 rounds v to two decimal places, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func layered(cfg *float64, fallback func() (float64, bool), constant float64) float64 {
	if usable(cfg) {
		return *cfg
	}
	if v, ok := fallback(); ok && usable(&v) {
		return v
	}
	return constant
}

// usable reports whether v is present, finite and non-negative.
func usable(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0) && *v >= 0
}
