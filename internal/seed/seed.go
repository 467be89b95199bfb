package seed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Simplici0/printcost/internal/material"
	"github.com/Simplici0/printcost/internal/pricing"
	"github.com/Simplici0/printcost/internal/printer"
	"github.com/Simplici0/printcost/internal/store"
)

// Config contains the values required by startup seed.
type Config struct {
	// Pricing is written only where the database has no value yet.
	Pricing pricing.Config
}

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
	Updates int
}

// LoadPricingFile reads a YAML pricing document shaped like pricing.Config.
// An empty path yields an empty Config.
func LoadPricingFile(path string) (pricing.Config, error) {
	var cfg pricing.Config
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("load pricing seed %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse pricing seed %q: %w", path, err)
	}

	normalized, err := cfg.Normalized()
	if err != nil {
		return cfg, fmt.Errorf("parse pricing seed %q: %w", path, err)
	}
	return normalized, nil
}

// Run executes the startup seed in an idempotent way.
func Run(ctx context.Context, db *sql.DB, cfg Config) (Stats, error) {
	pricingCfg, err := cfg.Pricing.Normalized()
	if err != nil {
		return Stats{}, fmt.Errorf("normalize seed pricing: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("begin seed transaction: %w", err)
	}

	stats := Stats{}

	if err := ensurePricingConfig(ctx, tx, pricingCfg, &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}
	if err := ensureMaterialPrices(ctx, tx, pricingCfg.MaterialPricesPerKg, &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}
	if err := ensureProfileOverrides(ctx, tx, pricingCfg.ProfileOverrides, &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit seed transaction: %w", err)
	}

	return stats, nil
}

func ensurePricingConfig(ctx context.Context, tx *sql.Tx, cfg pricing.Config, stats *Stats) error {
	exists, err := store.PricingConfigExists(ctx, tx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pricing_config (
			id,
			fill_factor,
			minimum_price,
			energy_rate_per_hour,
			extra_hourly_rate,
			print_speed,
			color_surcharge_rate,
			printer_profile
		)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
	`, cfg.FillFactor, cfg.MinimumPrice, cfg.EnergyRatePerHour, cfg.ExtraHourlyRate,
		cfg.PrintSpeed, cfg.ColorSurchargeRate, cfg.PrinterProfile); err != nil {
		return fmt.Errorf("insert pricing config singleton: %w", err)
	}
	stats.Inserts++
	return nil
}

func ensureMaterialPrices(ctx context.Context, tx *sql.Tx, prices map[material.Material]float64, stats *Stats) error {
	keys := make([]string, 0, len(prices))
	for m := range prices {
		keys = append(keys, string(m))
	}
	sort.Strings(keys)

	for _, key := range keys {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM material_prices WHERE UPPER(TRIM(material)) = ? LIMIT 1)`, key).Scan(&exists); err != nil {
			return fmt.Errorf("check material price existence: %w", err)
		}
		if exists {
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO material_prices (material, price_per_kg)
			VALUES (?, ?)
		`, key, prices[material.Material(key)]); err != nil {
			return fmt.Errorf("insert material price %s: %w", key, err)
		}
		stats.Inserts++
	}
	return nil
}

func ensureProfileOverrides(ctx context.Context, tx *sql.Tx, overrides map[string]printer.Override, stats *Stats) error {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, raw := range keys {
		key := printer.NormalizeKey(raw)

		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM profile_overrides WHERE profile_key = ? LIMIT 1)`, key).Scan(&exists); err != nil {
			return fmt.Errorf("check profile override existence: %w", err)
		}
		if exists {
			continue
		}

		o := overrides[raw]
		densities, err := json.Marshal(o.MaterialDensities)
		if err != nil {
			return fmt.Errorf("encode densities for %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO profile_overrides (profile_key, nozzle_diameter_mm, material_densities_json)
			VALUES (?, ?, ?)
		`, key, o.NozzleDiameterMM, string(densities)); err != nil {
			return fmt.Errorf("insert profile override %s: %w", key, err)
		}
		stats.Inserts++
	}
	return nil
}
