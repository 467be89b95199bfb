package pricing

import "github.com/Simplici0/printcost/internal/material"

// Defaults supplies deployment-level fallbacks consulted when a Config field
// is absent. Each method reports false when it has no value.
type Defaults interface {
	MaterialPricePerKg(m material.Material) (float64, bool)
	EnergyRatePerHour() (float64, bool)
	MinimumPrice() (float64, bool)
	ExtraHourlyRate() (float64, bool)
	ColorSurchargeRate() (float64, bool)
}

// StaticDefaults is a fixed Defaults value. The zero value provides nothing.
type StaticDefaults struct {
	PricesPerKg    map[material.Material]float64
	EnergyRate     *float64
	Minimum        *float64
	ExtraHourly    *float64
	ColorSurcharge *float64
}

// NoDefaults falls straight through to the built-in constants.
var NoDefaults Defaults = StaticDefaults{}

func (d StaticDefaults) MaterialPricePerKg(m material.Material) (float64, bool) {
	v, ok := d.PricesPerKg[m]
	return v, ok
}

func (d StaticDefaults) EnergyRatePerHour() (float64, bool) { return deref(d.EnergyRate) }
func (d StaticDefaults) MinimumPrice() (float64, bool) { return deref(d.Minimum) }
func (d StaticDefaults) ExtraHourlyRate() (float64, bool) { return deref(d.ExtraHourly) }
func (d StaticDefaults) ColorSurchargeRate() (float64, bool) { return deref(d.ColorSurcharge) }

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}
