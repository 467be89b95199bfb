package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/Simplici0/printcost/internal/material"
	"github.com/Simplici0/printcost/internal/pricing"
)

const defaultDotEnv = ".env"

// Config holds application configuration sourced from environment variables.
type Config struct {
	DBPath          string `env:"DB_PATH" envDefault:"./dev.db"`
	Port            string `env:"PORT" envDefault:"8080"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON         bool   `env:"LOG_JSON" envDefault:"false"`
	PricingSeedFile string `env:"PRICING_SEED_FILE"`
	MaxUploadBytes  int64  `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"`

	Redis     Redis
	Fallbacks Fallbacks
}

// Redis configures the optional geometry cache. An empty Addr disables it.
type Redis struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	TTL      time.Duration `env:"GEOMETRY_CACHE_TTL" envDefault:"24h"`
}

// Fallbacks are deployment-wide pricing values used when the stored pricing
// configuration leaves a field empty.
type Fallbacks struct {
	PLAPricePerKg      *float64 `env:"PRICE_PLA_PER_KG"`
	PETGPricePerKg     *float64 `env:"PRICE_PETG_PER_KG"`
	EnergyRatePerHour  *float64 `env:"ENERGY_RATE_PER_HOUR"`
	MinimumPrice       *float64 `env:"MINIMUM_PRICE"`
	ExtraHourlyRate    *float64 `env:"EXTRA_HOURLY_RATE"`
	ColorSurchargeRate *float64 `env:"COLOR_SURCHARGE_RATE"`
}

// Load reads an optional dotenv file and then the process environment.
// Variables already set in the environment win over the file.
func Load(dotenv ...string) (Config, error) {
	if len(dotenv) == 0 {
		dotenv = []string{defaultDotEnv}
	}
	if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// PricingDefaults exposes the fallbacks to the estimator.
func (c Config) PricingDefaults() pricing.Defaults {
	prices := make(map[material.Material]float64, 2)
	if c.Fallbacks.PLAPricePerKg != nil {
		prices[material.PLA] = *c.Fallbacks.PLAPricePerKg
	}
	if c.Fallbacks.PETGPricePerKg != nil {
		prices[material.PETG] = *c.Fallbacks.PETGPricePerKg
	}
	return pricing.StaticDefaults{
		PricesPerKg:    prices,
		EnergyRate:     c.Fallbacks.EnergyRatePerHour,
		Minimum:        c.Fallbacks.MinimumPrice,
		ExtraHourly:    c.Fallbacks.ExtraHourlyRate,
		ColorSurcharge: c.Fallbacks.ColorSurchargeRate,
	}
}

// CacheEnabled reports whether a Redis address is configured.
func (c Config) CacheEnabled() bool {
	return c.Redis.Addr != ""
}
