package pricing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/Simplici0/printcost/internal/material"
	"github.com/Simplici0/printcost/internal/printer"
)

// Config is a read-only snapshot of the operator's pricing settings. Every
// field is optional; nil or missing entries fall through to Defaults and then
// to the built-in constants.
type Config struct {
	MaterialPricesPerKg map[material.Material]float64 `json:"material_prices_per_kg,omitempty" yaml:"material_prices_per_kg,omitempty"`
	FillFactor          *float64                      `json:"fill_factor,omitempty" yaml:"fill_factor,omitempty"`
	MinimumPrice        *float64                      `json:"minimum_price,omitempty" yaml:"minimum_price,omitempty"`
	EnergyRatePerHour   *float64                      `json:"energy_rate_per_hour,omitempty" yaml:"energy_rate_per_hour,omitempty"`
	ExtraHourlyRate     *float64                      `json:"extra_hourly_rate,omitempty" yaml:"extra_hourly_rate,omitempty"`
	PrintSpeed          *float64                      `json:"print_speed,omitempty" yaml:"print_speed,omitempty"`
	ColorSurchargeRate  *float64                      `json:"color_surcharge_rate,omitempty" yaml:"color_surcharge_rate,omitempty"`
	PrinterProfile      *string                       `json:"printer_profile,omitempty" yaml:"printer_profile,omitempty"`
	ProfileOverrides    map[string]printer.Override   `json:"profile_overrides,omitempty" yaml:"profile_overrides,omitempty"`
}

// PricePerKg returns the configured price for m, if any.
func (c Config) PricePerKg(m material.Material) *float64 {
	if v, ok := c.MaterialPricesPerKg[m]; ok {
		return &v
	}
	return nil
}

// ProfileKey returns the configured printer profile key or "".
func (c Config) ProfileKey() string {
	if c.PrinterProfile == nil {
		return ""
	}
	return *c.PrinterProfile
}

// Override returns the override block for the profile key, matched after
// normalization, or nil.
func (c Config) Override(profileKey string) *printer.Override {
	want := printer.NormalizeKey(profileKey)
	if o, ok := c.ProfileOverrides[want]; ok {
		return &o
	}
	keys := lo.Keys(c.ProfileOverrides)
	sort.Strings(keys)
	for _, key := range keys {
		if printer.NormalizeKey(key) == want {
			o := c.ProfileOverrides[key]
			return &o
		}
	}
	return nil
}

// ErrDuplicateKey reports two keys that collapse to the same canonical key.
var ErrDuplicateKey = errors.New("duplicate key after normalization")

// Normalized returns a copy of c with canonical material keys, profile keys
// and density keys. Keys that collide after normalization are rejected.
func (c Config) Normalized() (Config, error) {
	out := c

	if c.MaterialPricesPerKg != nil {
		prices := make(map[material.Material]float64, len(c.MaterialPricesPerKg))
		for m, price := range c.MaterialPricesPerKg {
			key := material.Normalize(string(m))
			if _, dup := prices[key]; dup {
				return Config{}, fmt.Errorf("material_prices_per_kg.%s: %w", key, ErrDuplicateKey)
			}
			prices[key] = price
		}
		out.MaterialPricesPerKg = prices
	}

	if c.ProfileOverrides != nil {
		overrides := make(map[string]printer.Override, len(c.ProfileOverrides))
		for raw, o := range c.ProfileOverrides {
			key := printer.NormalizeKey(raw)
			if _, dup := overrides[key]; dup {
				return Config{}, fmt.Errorf("profile_overrides.%s: %w", key, ErrDuplicateKey)
			}
			if o.MaterialDensities != nil {
				densities := make(map[string]float64, len(o.MaterialDensities))
				for m, d := range o.MaterialDensities {
					mk := string(material.Normalize(m))
					if _, dup := densities[mk]; dup {
						return Config{}, fmt.Errorf("profile_overrides.%s.material_densities.%s: %w", key, mk, ErrDuplicateKey)
					}
					densities[mk] = d
				}
				o.MaterialDensities = densities
			}
			overrides[key] = o
		}
		out.ProfileOverrides = overrides
	}
	return out, nil
}
