package cart

import (
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/Simplici0/printcost/internal/material"
	"github.com/Simplici0/printcost/internal/pricing"
)

const (
	MinScale  = 0.1
	MaxScale  = 5.0
	MaxColors = 4

	minDiscountMultiplier = 0.05
	maxDiscountMultiplier = 1.0
)

// ErrMissingPriceData is returned when no positive base price is available.
// A line is never priced at zero.
var ErrMissingPriceData = errors.New("missing price data")

// Rates provides resolved per-material prices and the color surcharge rate.
type Rates interface {
	PricePerKg(m material.Material) float64
	ColorSurchargeRate() float64
}

// Line is a cart line as configured by the buyer.
type Line struct {
	ModelID       uuid.UUID
	BaseUnitPrice float64
	Scale         float64
	Material      material.Material
	Colors        []string
	Quantity      int
	// DiscountMultiplier comes from discount.Multiplier; 0 means no discount.
	DiscountMultiplier float64
}

// LineItem is a priced cart line. Prices are always derived, never set by hand.
type LineItem struct {
	ModelID               uuid.UUID         `json:"model_id"`
	BaseUnitPrice         float64           `json:"base_unit_price"`
	Scale                 float64           `json:"scale"`
	Material              material.Material `json:"material"`
	Colors                []string          `json:"colors"`
	Quantity              int               `json:"quantity"`
	MaterialMultiplier    float64           `json:"material_multiplier"`
	ColorMultiplier       float64           `json:"color_multiplier"`
	DiscountMultiplier    float64           `json:"discount_multiplier"`
	RawUnitPrice          float64           `json:"raw_unit_price"`
	UnitPrice             float64           `json:"unit_price"`
	LineTotal             float64           `json:"line_total"`
	UndiscountedLineTotal float64           `json:"undiscounted_line_total"`
}

// Pricer prices cart lines against a fixed set of rates.
type Pricer struct {
	rates Rates
}

func NewPricer(rates Rates) *Pricer {
	return &Pricer{rates: rates}
}

// PriceLine applies scale, material, colors, quantity and discount to the
// line's base unit price.
func (p *Pricer) PriceLine(l Line) (LineItem, error) {
	if !positive(l.BaseUnitPrice) {
		return LineItem{}, ErrMissingPriceData
	}

	scale := ClampScale(l.Scale)
	m := l.Material
	if m == "" {
		m = material.Default
	}
	colors := NormalizeColors(l.Colors)
	quantity := max(l.Quantity, 1)
	discount := clampDiscountMultiplier(l.DiscountMultiplier)

	materialMul := p.MaterialMultiplier(m)
	colorMul := p.ColorMultiplier(len(colors))

	raw := pricing.Round2(l.BaseUnitPrice * scale * scale * scale * materialMul * colorMul)
	unit := pricing.Round2(raw * discount)

	return LineItem{
		ModelID:               l.ModelID,
		BaseUnitPrice:         l.BaseUnitPrice,
		Scale:                 scale,
		Material:              m,
		Colors:                colors,
		Quantity:              quantity,
		MaterialMultiplier:    materialMul,
		ColorMultiplier:       colorMul,
		DiscountMultiplier:    discount,
		RawUnitPrice:          raw,
		UnitPrice:             unit,
		LineTotal:             pricing.Round2(unit * float64(quantity)),
		UndiscountedLineTotal: pricing.Round2(raw * float64(quantity)),
	}, nil
}

// MaterialMultiplier is the ratio of m's price per kilogram to the default
// material's, so price changes re-derive the surcharge automatically.
func (p *Pricer) MaterialMultiplier(m material.Material) float64 {
	if m == material.Default {
		return 1
	}
	base := p.rates.PricePerKg(material.Default)
	alt := p.rates.PricePerKg(m)
	if !positive(base) || !positive(alt) {
		return 1
	}
	return alt / base
}

// ColorMultiplier is 1 for up to one color and grows linearly per extra color.
func (p *Pricer) ColorMultiplier(count int) float64 {
	count = min(count, MaxColors)
	if count <= 1 {
		return 1
	}
	rate := p.rates.ColorSurchargeRate()
	if !(rate >= 0) || math.IsInf(rate, 0) {
		rate = pricing.DefaultColorSurchargeRate
	}
	return 1 + float64(count-1)*rate
}

// NormalizeColors trims entries, drops blanks and keeps at most four, in order.
func NormalizeColors(colors []string) []string {
	out := lo.FilterMap(colors, func(c string, _ int) (string, bool) {
		c = strings.TrimSpace(c)
		return c, c != ""
	})
	if len(out) > MaxColors {
		out = out[:MaxColors]
	}
	return out
}

// ClampScale bounds the uniform scale to [0.1, 5]. NaN is treated as 1.
func ClampScale(scale float64) float64 {
	if math.IsNaN(scale) {
		return 1
	}
	return lo.Clamp(scale, MinScale, MaxScale)
}

// ResolveBaseUnitPrice picks the manual override when it is positive, then the
// geometry-derived estimate. With neither it returns ErrMissingPriceData.
func ResolveBaseUnitPrice(manual, estimated *float64) (float64, error) {
	for _, v := range []*float64{manual, estimated} {
		if v != nil && positive(*v) {
			return *v, nil
		}
	}
	return 0, ErrMissingPriceData
}

func clampDiscountMultiplier(m float64) float64 {
	if m == 0 || math.IsNaN(m) {
		return maxDiscountMultiplier
	}
	return lo.Clamp(m, minDiscountMultiplier, maxDiscountMultiplier)
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
