package seed

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Simplici0/printcost/internal/db"
	"github.com/Simplici0/printcost/internal/material"
	"github.com/Simplici0/printcost/internal/migrations"
	"github.com/Simplici0/printcost/internal/pricing"
	"github.com/Simplici0/printcost/internal/printer"
	"github.com/Simplici0/printcost/internal/store"
)

const pricingYAML = `
fill_factor: 20
minimum_price: 2.5
printer_profile: high speed fdm
material_prices_per_kg:
  pla: 21
  PETG: 29.5
profile_overrides:
  HIGH_SPEED_FDM:
    nozzle_diameter_mm: 0.6
    material_densities:
      PLA: 1.25
`

func openMigrated(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "seed-test.db"))
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := migrations.Up(ctx, database); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return database
}

func writePricingFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pricing.yaml")
	if err := os.WriteFile(path, []byte(pricingYAML), 0o600); err != nil {
		t.Fatalf("write pricing file: %v", err)
	}
	return path
}

func TestRunIsIdempotent(t *testing.T) {
	database := openMigrated(t)

	pricingCfg, err := LoadPricingFile(writePricingFile(t))
	if err != nil {
		t.Fatalf("load pricing file: %v", err)
	}

	for i := 0; i < 10; i++ {
		stats, err := Run(context.Background(), database, Config{Pricing: pricingCfg})
		if err != nil {
			t.Fatalf("run seed (iteration=%d): %v", i, err)
		}
		if i == 0 {
			if stats.Inserts != 4 {
				t.Fatalf("expected 4 inserts in first run, got %d", stats.Inserts)
			}
			continue
		}
		if stats.Inserts != 0 {
			t.Fatalf("expected 0 inserts in iteration %d, got %d", i, stats.Inserts)
		}
	}

	assertCount(t, database, `SELECT COUNT(*) FROM pricing_config WHERE id = 1`, nil, 1)
	assertCount(t, database, `SELECT COUNT(*) FROM material_prices WHERE material = ?`, "PLA", 1)
	assertCount(t, database, `SELECT COUNT(*) FROM material_prices WHERE material = ?`, "PETG", 1)
	assertCount(t, database, `SELECT COUNT(*) FROM profile_overrides WHERE profile_key = ?`, printer.HighSpeedFDM, 1)
	assertCount(t, database, `SELECT COUNT(*) FROM pricing_config WHERE fill_factor = ? AND printer_profile = ?`, []any{20.0, "high speed fdm"}, 1)
}

func TestRunWithoutPricingFileCreatesEmptySingleton(t *testing.T) {
	database := openMigrated(t)

	stats, err := Run(context.Background(), database, Config{})
	if err != nil {
		t.Fatalf("run seed: %v", err)
	}
	if stats.Inserts != 1 {
		t.Fatalf("expected 1 insert, got %d", stats.Inserts)
	}

	assertCount(t, database, `SELECT COUNT(*) FROM pricing_config WHERE id = 1 AND fill_factor IS NULL`, nil, 1)
	assertCount(t, database, `SELECT COUNT(*) FROM material_prices`, nil, 0)
}

func TestRunKeepsExistingPrices(t *testing.T) {
	database := openMigrated(t)

	if _, err := database.Exec(`INSERT INTO material_prices (material, price_per_kg) VALUES ('PLA', 99)`); err != nil {
		t.Fatalf("insert existing price: %v", err)
	}

	pricingCfg, err := LoadPricingFile(writePricingFile(t))
	if err != nil {
		t.Fatalf("load pricing file: %v", err)
	}
	if _, err := Run(context.Background(), database, Config{Pricing: pricingCfg}); err != nil {
		t.Fatalf("run seed: %v", err)
	}

	assertCount(t, database, `SELECT COUNT(*) FROM material_prices WHERE material = 'PLA' AND price_per_kg = 99`, nil, 1)
}

func TestRunKeepsPricesSavedThroughStore(t *testing.T) {
	database := openMigrated(t)
	ctx := context.Background()
	s := store.New(database)

	saved := pricing.Config{MaterialPricesPerKg: map[material.Material]float64{"pla": 20}}
	if err := s.SavePricingConfig(ctx, saved); err != nil {
		t.Fatalf("save pricing config: %v", err)
	}

	seedCfg := pricing.Config{MaterialPricesPerKg: map[material.Material]float64{material.PLA: 25}}
	if _, err := Run(ctx, database, Config{Pricing: seedCfg}); err != nil {
		t.Fatalf("run seed: %v", err)
	}

	got, err := s.PricingConfig(ctx)
	if err != nil {
		t.Fatalf("load pricing config: %v", err)
	}
	if got.MaterialPricesPerKg[material.PLA] != 20 {
		t.Fatalf("expected saved PLA price 20 to survive seeding, got %v", got.MaterialPricesPerKg)
	}
	assertCount(t, database, `SELECT COUNT(*) FROM material_prices`, nil, 1)
}

func TestRunMatchesLegacyLowercaseRows(t *testing.T) {
	database := openMigrated(t)

	if _, err := database.Exec(`INSERT INTO material_prices (material, price_per_kg) VALUES ('petg', 31)`); err != nil {
		t.Fatalf("insert existing price: %v", err)
	}
	seedCfg := pricing.Config{MaterialPricesPerKg: map[material.Material]float64{material.PETG: 29}}
	if _, err := Run(context.Background(), database, Config{Pricing: seedCfg}); err != nil {
		t.Fatalf("run seed: %v", err)
	}

	assertCount(t, database, `SELECT COUNT(*) FROM material_prices`, nil, 1)
}

func TestRunRejectsCollidingKeys(t *testing.T) {
	database := openMigrated(t)

	seedCfg := pricing.Config{MaterialPricesPerKg: map[material.Material]float64{"pla": 20, "PLA": 30}}
	if _, err := Run(context.Background(), database, Config{Pricing: seedCfg}); !errors.Is(err, pricing.ErrDuplicateKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
	assertCount(t, database, `SELECT COUNT(*) FROM pricing_config`, nil, 0)
}

func TestLoadPricingFile(t *testing.T) {
	cfg, err := LoadPricingFile(writePricingFile(t))
	if err != nil {
		t.Fatalf("load pricing file: %v", err)
	}

	if cfg.MaterialPricesPerKg[material.PLA] != 21 {
		t.Fatalf("expected lowercase key normalized to PLA, got %v", cfg.MaterialPricesPerKg)
	}
	if cfg.FillFactor == nil || *cfg.FillFactor != 20 {
		t.Fatalf("expected raw fill factor 20, got %v", cfg.FillFactor)
	}
	if o := cfg.Override(printer.HighSpeedFDM); o == nil || *o.NozzleDiameterMM != 0.6 {
		t.Fatalf("expected high speed override, got %+v", o)
	}

	empty, err := LoadPricingFile("")
	if err != nil || empty.FillFactor != nil {
		t.Fatalf("expected empty config for empty path, got %+v (err=%v)", empty, err)
	}

	if _, err := LoadPricingFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func assertCount(t *testing.T, database *sql.DB, query string, args any, expected int) {
	t.Helper()

	var count int
	var err error
	switch v := args.(type) {
	case nil:
		err = database.QueryRow(query).Scan(&count)
	case []any:
		err = database.QueryRow(query, v...).Scan(&count)
	default:
		err = database.QueryRow(query, v).Scan(&count)
	}
	if err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != expected {
		t.Fatalf("expected count %d, got %d", expected, count)
	}
}
