package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"github.com/Simplici0/printcost/internal/material"
	"github.com/Simplici0/printcost/internal/pricing"
	"github.com/Simplici0/printcost/internal/printer"
)

const pricingConfigID = 1

// RowQuerier is satisfied by *sql.DB and *sql.Tx.
type RowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PricingConfigExists reports whether the pricing_config singleton exists.
func PricingConfigExists(ctx context.Context, q RowQuerier) (bool, error) {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM pricing_config WHERE id = ?)`, pricingConfigID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check pricing config existence: %w", err)
	}
	return exists, nil
}

// PricingConfig loads the current pricing snapshot. Missing rows yield an
// empty Config, which resolves entirely through defaults.
func (s *Store) PricingConfig(ctx context.Context) (pricing.Config, error) {
	var cfg pricing.Config

	query, args, err := s.sb.
		Select("fill_factor", "minimum_price", "energy_rate_per_hour", "extra_hourly_rate",
			"print_speed", "color_surcharge_rate", "printer_profile").
		From("pricing_config").
		Where(sq.Eq{"id": pricingConfigID}).
		ToSql()
	if err != nil {
		return cfg, fmt.Errorf("build pricing config query: %w", err)
	}

	var (
		fill, minimum, energy, extra, speed, color sql.NullFloat64
		profile                                    sql.NullString
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&fill, &minimum, &energy, &extra, &speed, &color, &profile)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return cfg, fmt.Errorf("query pricing config: %w", err)
	default:
		cfg.FillFactor = floatPtr(fill)
		cfg.MinimumPrice = floatPtr(minimum)
		cfg.EnergyRatePerHour = floatPtr(energy)
		cfg.ExtraHourlyRate = floatPtr(extra)
		cfg.PrintSpeed = floatPtr(speed)
		cfg.ColorSurchargeRate = floatPtr(color)
		if profile.Valid {
			cfg.PrinterProfile = &profile.String
		}
	}

	if cfg.MaterialPricesPerKg, err = s.materialPrices(ctx); err != nil {
		return cfg, err
	}
	if cfg.ProfileOverrides, err = s.profileOverrides(ctx); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SavePricingConfig replaces the pricing snapshot in one transaction.
func (s *Store) SavePricingConfig(ctx context.Context, cfg pricing.Config) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pricing config transaction: %w", err)
	}

	if err := savePricingConfig(ctx, tx, s.sb, cfg); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pricing config transaction: %w", err)
	}
	return nil
}

func savePricingConfig(ctx context.Context, tx *sql.Tx, sb sq.StatementBuilderType, cfg pricing.Config) error {
	cfg, err := cfg.Normalized()
	if err != nil {
		return fmt.Errorf("normalize pricing config: %w", err)
	}

	upsert := sb.
		Insert("pricing_config").
		Columns("id", "fill_factor", "minimum_price", "energy_rate_per_hour", "extra_hourly_rate",
			"print_speed", "color_surcharge_rate", "printer_profile").
		Values(pricingConfigID, cfg.FillFactor, cfg.MinimumPrice, cfg.EnergyRatePerHour, cfg.ExtraHourlyRate,
			cfg.PrintSpeed, cfg.ColorSurchargeRate, cfg.PrinterProfile).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			fill_factor = excluded.fill_factor,
			minimum_price = excluded.minimum_price,
			energy_rate_per_hour = excluded.energy_rate_per_hour,
			extra_hourly_rate = excluded.extra_hourly_rate,
			print_speed = excluded.print_speed,
			color_surcharge_rate = excluded.color_surcharge_rate,
			printer_profile = excluded.printer_profile,
			updated_at = CURRENT_TIMESTAMP`)
	if err := execBuilder(ctx, tx, upsert); err != nil {
		return fmt.Errorf("upsert pricing config: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM material_prices`); err != nil {
		return fmt.Errorf("clear material prices: %w", err)
	}
	if len(cfg.MaterialPricesPerKg) > 0 {
		insert := sb.Insert("material_prices").Columns("material", "price_per_kg")
		for _, m := range sortedKeys(cfg.MaterialPricesPerKg) {
			insert = insert.Values(string(m), cfg.MaterialPricesPerKg[m])
		}
		if err := execBuilder(ctx, tx, insert); err != nil {
			return fmt.Errorf("insert material prices: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM profile_overrides`); err != nil {
		return fmt.Errorf("clear profile overrides: %w", err)
	}
	if len(cfg.ProfileOverrides) > 0 {
		insert := sb.Insert("profile_overrides").Columns("profile_key", "nozzle_diameter_mm", "material_densities_json")
		for _, key := range sortedKeys(cfg.ProfileOverrides) {
			o := cfg.ProfileOverrides[key]
			densities, err := json.Marshal(o.MaterialDensities)
			if err != nil {
				return fmt.Errorf("encode densities for %s: %w", key, err)
			}
			insert = insert.Values(key, o.NozzleDiameterMM, string(densities))
		}
		if err := execBuilder(ctx, tx, insert); err != nil {
			return fmt.Errorf("insert profile overrides: %w", err)
		}
	}
	return nil
}

func (s *Store) materialPrices(ctx context.Context) (map[material.Material]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT material, price_per_kg FROM material_prices`)
	if err != nil {
		return nil, fmt.Errorf("query material prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[material.Material]float64)
	for rows.Next() {
		var key string
		var price float64
		if err := rows.Scan(&key, &price); err != nil {
			return nil, fmt.Errorf("scan material price: %w", err)
		}
		prices[material.Normalize(key)] = price
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate material prices: %w", err)
	}
	return prices, nil
}

func (s *Store) profileOverrides(ctx context.Context) (map[string]printer.Override, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT profile_key, nozzle_diameter_mm, material_densities_json FROM profile_overrides`)
	if err != nil {
		return nil, fmt.Errorf("query profile overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]printer.Override)
	for rows.Next() {
		var (
			key       string
			nozzle    sql.NullFloat64
			densities string
		)
		if err := rows.Scan(&key, &nozzle, &densities); err != nil {
			return nil, fmt.Errorf("scan profile override: %w", err)
		}
		o := printer.Override{NozzleDiameterMM: floatPtr(nozzle)}
		if err := json.Unmarshal([]byte(densities), &o.MaterialDensities); err != nil {
			return nil, fmt.Errorf("decode densities for %s: %w", key, err)
		}
		overrides[key] = o
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile overrides: %w", err)
	}
	return overrides, nil
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
