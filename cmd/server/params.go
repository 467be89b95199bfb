package main

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Simplici0/printcost/internal/material"
	"github.com/Simplici0/printcost/internal/pricing"
)

var errInvalidInput = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidInput, fmt.Sprintf(format, args...))
}

func parseMaterial(r *http.Request) material.Material {
	return material.Normalize(r.URL.Query().Get("material"))
}

func parseUUID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, invalidf("%s must be a UUID", field)
	}
	return id, nil
}

func parseNonNegativeFloat(raw, field string) (float64, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, invalidf("%s must be numeric", field)
	}
	if value < 0 {
		return 0, invalidf("%s must be greater than or equal to 0", field)
	}
	return value, nil
}

func parsePositiveFloat(raw, field string) (float64, error) {
	value, err := parseNonNegativeFloat(raw, field)
	if err != nil {
		return 0, err
	}
	if value == 0 {
		return 0, invalidf("%s must be greater than 0", field)
	}
	return value, nil
}

// validatePricingConfig rejects negative rates and sub-cent price floors.
// Values the estimator would clamp or ignore are accepted as stored.
func validatePricingConfig(cfg pricing.Config) error {
	fields := []struct {
		name  string
		value *float64
	}{
		{"fill_factor", cfg.FillFactor},
		{"minimum_price", cfg.MinimumPrice},
		{"energy_rate_per_hour", cfg.EnergyRatePerHour},
		{"extra_hourly_rate", cfg.ExtraHourlyRate},
		{"print_speed", cfg.PrintSpeed},
		{"color_surcharge_rate", cfg.ColorSurchargeRate},
	}
	for _, f := range fields {
		if f.value != nil && *f.value < 0 {
			return invalidf("%s must be greater than or equal to 0", f.name)
		}
	}
	if cfg.MinimumPrice != nil && !wholeCents(*cfg.MinimumPrice) {
		return invalidf("minimum_price must be a whole number of cents")
	}
	for m, price := range cfg.MaterialPricesPerKg {
		if price < 0 {
			return invalidf("material_prices_per_kg.%s must be greater than or equal to 0", m)
		}
	}
	for key, o := range cfg.ProfileOverrides {
		if o.NozzleDiameterMM != nil && *o.NozzleDiameterMM < 0 {
			return invalidf("profile_overrides.%s.nozzle_diameter_mm must be greater than or equal to 0", key)
		}
	}
	return nil
}

func wholeCents(v float64) bool {
	cents := v * 100
	return math.Abs(cents-math.Round(cents)) < 1e-6
}
