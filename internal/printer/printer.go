package printer

import (
	"math"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/Simplici0/printcost/internal/material"
)

const (
	StandardFDM  = "STANDARD_FDM"
	HighSpeedFDM = "HIGH_SPEED_FDM"
	LargeFormat  = "LARGE_FORMAT"

	// DefaultKey is used when no profile key is configured or the key is unknown.
	DefaultKey = StandardFDM
)

const (
	minNozzleDiameterMM = 0.05
	maxNozzleDiameterMM = 2.0

	// Explicit print speeds at or below this value are read as cm³/minute.
	perMinuteSpeedCeiling = 3.0

	minNozzleSpeedRatio = 0.25
	maxNozzleSpeedRatio = 2.5

	minDensity = 0.3
	maxDensity = 5.0
)

// Profile is a named bundle of hardware constants used to turn extruded
// volume into print time and energy.
type Profile struct {
	Key                       string  `json:"key"`
	Label                     string  `json:"label"`
	VolumetricSpeedCM3PerHour float64 `json:"volumetric_speed_cm3_per_hour"`
	EnergyUSDPerHour          float64 `json:"energy_usd_per_hour"`
	DefaultNozzleDiameterMM   float64 `json:"default_nozzle_diameter_mm"`
}

// Override carries per-deployment adjustments for one profile.
type Override struct {
	NozzleDiameterMM  *float64           `json:"nozzle_diameter_mm,omitempty" yaml:"nozzle_diameter_mm,omitempty"`
	MaterialDensities map[string]float64 `json:"material_densities,omitempty" yaml:"material_densities,omitempty"`
}

var builtins = []Profile{
	{
		Key:                       StandardFDM,
		Label:                     "Standard FDM (0.4 mm)",
		VolumetricSpeedCM3PerHour: 20,
		EnergyUSDPerHour:          0.05,
		DefaultNozzleDiameterMM:   0.4,
	},
	{
		Key:                       HighSpeedFDM,
		Label:                     "High-speed FDM (0.4 mm)",
		VolumetricSpeedCM3PerHour: 45,
		EnergyUSDPerHour:          0.09,
		DefaultNozzleDiameterMM:   0.4,
	},
	{
		Key:                       LargeFormat,
		Label:                     "Large format (0.6 mm)",
		VolumetricSpeedCM3PerHour: 60,
		EnergyUSDPerHour:          0.15,
		DefaultNozzleDiameterMM:   0.6,
	},
}

// densities in g/cm³.
var densities = map[material.Material]float64{
	material.PLA:  1.24,
	material.PETG: 1.27,
	material.ABS:  1.04,
	material.TPU:  1.21,
}

// Profiles returns the built-in profiles, default first.
func Profiles() []Profile {
	out := make([]Profile, len(builtins))
	copy(out, builtins)
	return out
}

// NormalizeKey uppercases key and drops every character outside [A-Z0-9_].
func NormalizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return -1
	}, strings.ToUpper(key))
}

// Resolve returns the profile for key, or the default profile. It never fails.
func Resolve(key string) Profile {
	normalized := NormalizeKey(key)
	for _, p := range builtins {
		if p.Key == normalized {
			return p
		}
	}
	return builtins[0]
}

// NozzleDiameter returns the override's diameter when it is within
// (0.05, 2.0) mm, otherwise the profile default.
func NozzleDiameter(p Profile, o *Override) float64 {
	if o != nil && o.NozzleDiameterMM != nil {
		d := *o.NozzleDiameterMM
		if d > minNozzleDiameterMM && d < maxNozzleDiameterMM {
			return d
		}
	}
	return p.DefaultNozzleDiameterMM
}

// VolumetricSpeed resolves throughput in cm³/hour. An explicit print speed wins;
// values of 3 or less are taken as cm³/minute. Without one, the profile speed is
// scaled by the nozzle ratio, clamped to [0.25, 2.5].
func VolumetricSpeed(p Profile, printSpeed *float64, nozzleDiameterMM float64) float64 {
	if printSpeed != nil && *printSpeed > 0 && !math.IsInf(*printSpeed, 0) {
		if *printSpeed <= perMinuteSpeedCeiling {
			return *printSpeed * 60
		}
		return *printSpeed
	}

	ratio := 1.0
	if p.DefaultNozzleDiameterMM > 0 && nozzleDiameterMM > 0 {
		ratio = lo.Clamp(nozzleDiameterMM/p.DefaultNozzleDiameterMM, minNozzleSpeedRatio, maxNozzleSpeedRatio)
	}
	return p.VolumetricSpeedCM3PerHour * ratio
}

// MaterialDensity returns g/cm³ for m, preferring a sane override entry.
// Unknown materials use the PLA density.
func MaterialDensity(m material.Material, o *Override) float64 {
	if o != nil {
		if d, ok := overrideDensity(o.MaterialDensities, m); ok {
			return d
		}
	}
	if d, ok := densities[m]; ok {
		return d
	}
	return densities[material.Default]
}

// overrideDensity prefers the canonical key, then the first case-insensitive
// match in key order. Out-of-range values are ignored.
func overrideDensity(overrides map[string]float64, m material.Material) (float64, bool) {
	valid := func(d float64) bool { return d > minDensity && d < maxDensity }

	if d, ok := overrides[string(m)]; ok && valid(d) {
		return d, true
	}
	keys := lo.Keys(overrides)
	sort.Strings(keys)
	for _, key := range keys {
		if d := overrides[key]; strings.EqualFold(strings.TrimSpace(key), string(m)) && valid(d) {
			return d, true
		}
	}
	return 0, false
}
