// Package quote prices uploaded meshes and cart lines against the stored
// pricing configuration.
package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Simplici0/printcost/internal/cache"
	"github.com/Simplici0/printcost/internal/cart"
	"github.com/Simplici0/printcost/internal/discount"
	"github.com/Simplici0/printcost/internal/logger"
	"github.com/Simplici0/printcost/internal/material"
	"github.com/Simplici0/printcost/internal/mesh"
	"github.com/Simplici0/printcost/internal/pricing"
	"github.com/Simplici0/printcost/internal/store"
)

// ErrNoGeometry is returned when a model stored without a parsable mesh is
// asked for a geometry-based quote.
var ErrNoGeometry = errors.New("model has no geometry")

// Store is the persistence the service needs.
type Store interface {
	PricingConfig(ctx context.Context) (pricing.Config, error)
	CreateModel(ctx context.Context, m store.Model) (store.Model, error)
	ModelByID(ctx context.Context, id uuid.UUID) (store.Model, error)
	UpdatePriceSnapshot(ctx context.Context, id uuid.UUID, b pricing.Breakdown, at time.Time) error
}

type Service struct {
	store     Store
	cache     cache.GeometryCache
	estimator *pricing.Estimator
	now       func() time.Time
}

// NewService wires the service. A nil cache disables caching.
func NewService(st Store, c cache.GeometryCache, estimator *pricing.Estimator) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	return &Service{
		store:     st,
		cache:     c,
		estimator: estimator,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Estimate is the unsaved result of pricing a mesh.
type Estimate struct {
	Geometry   mesh.GeometryStats `json:"geometry"`
	Suspicious bool               `json:"suspicious"`
	Breakdown  pricing.Breakdown  `json:"breakdown"`
}

// UploadRequest describes a model to persist.
type UploadRequest struct {
	Name        string
	Data        []byte
	Material    material.Material
	ManualPrice *float64
}

// LineRequest is a cart line as submitted by a buyer.
type LineRequest struct {
	ModelID  uuid.UUID         `json:"model_id"`
	Scale    float64           `json:"scale"`
	Material material.Material `json:"material"`
	Colors   []string          `json:"colors"`
	Quantity int               `json:"quantity"`
	Discount discount.Input    `json:"discount"`
}

// LineQuote is a priced cart line with the discount that was applied.
type LineQuote struct {
	Item     cart.LineItem    `json:"item"`
	Discount discount.Summary `json:"discount"`
}

// Analyze returns the geometry of data and its content hash, consulting the
// cache first. Cache failures are logged and never fail the request.
func (s *Service) Analyze(ctx context.Context, data []byte) (mesh.GeometryStats, string, error) {
	hash := cache.ContentHash(data)

	cached, err := s.cache.Get(ctx, hash)
	if err != nil {
		logger.Warn(ctx, "geometry cache read failed", logger.String("hash", hash), logger.ErrorF(err))
	}
	if cached != nil {
		return *cached, hash, nil
	}

	stats, err := mesh.Analyze(data)
	if err != nil {
		return mesh.GeometryStats{}, hash, err
	}
	if stats.Suspicious() {
		logger.Warn(ctx, "mesh volume is small for its bounding box",
			logger.String("hash", hash),
			logger.Float64("volume_mm3", stats.VolumeMM3),
			logger.Float64("bounding_box_mm3", stats.BoundingBoxVolumeMM3()),
		)
	}

	if err := s.cache.Set(ctx, hash, stats); err != nil {
		logger.Warn(ctx, "geometry cache write failed", logger.String("hash", hash), logger.ErrorF(err))
	}
	return stats, hash, nil
}

// Estimate prices data for material m without persisting anything.
func (s *Service) Estimate(ctx context.Context, data []byte, m material.Material) (Estimate, error) {
	stats, _, err := s.Analyze(ctx, data)
	if err != nil {
		return Estimate{}, err
	}
	cfg, err := s.store.PricingConfig(ctx)
	if err != nil {
		return Estimate{}, fmt.Errorf("load pricing config: %w", err)
	}
	return Estimate{
		Geometry:   stats,
		Suspicious: stats.Suspicious(),
		Breakdown:  s.estimator.Estimate(stats.VolumeMM3, m, cfg),
	}, nil
}

// Upload persists a model. A mesh that fails to parse is still stored when a
// positive manual price is supplied, so it can be sold at that price.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (store.Model, error) {
	model := store.Model{Name: req.Name, ManualPrice: req.ManualPrice}

	stats, hash, err := s.Analyze(ctx, req.Data)
	model.ContentHash = hash
	switch {
	case err == nil:
		cfg, err := s.store.PricingConfig(ctx)
		if err != nil {
			return store.Model{}, fmt.Errorf("load pricing config: %w", err)
		}
		b := s.estimator.Estimate(stats.VolumeMM3, material.Normalize(string(req.Material)), cfg)
		at := s.now()
		model.Geometry = &stats
		model.Breakdown = &b
		model.PriceSnapshot = &b.Price
		model.PricedAt = &at
	case errors.Is(err, mesh.ErrParseFailure) && hasManualPrice(req.ManualPrice):
		logger.Warn(ctx, "storing unparsable mesh with manual price",
			logger.String("name", req.Name), logger.ErrorF(err))
	default:
		return store.Model{}, err
	}

	created, err := s.store.CreateModel(ctx, model)
	if err != nil {
		return store.Model{}, fmt.Errorf("create model: %w", err)
	}
	logger.Info(ctx, "model stored",
		logger.String("model_id", created.ID.String()),
		logger.Bool("has_geometry", created.Geometry != nil))
	return created, nil
}

// Requote recomputes a stored model's breakdown for m against the current
// pricing configuration and refreshes its snapshot.
func (s *Service) Requote(ctx context.Context, id uuid.UUID, m material.Material) (store.Model, error) {
	model, err := s.store.ModelByID(ctx, id)
	if err != nil {
		return store.Model{}, err
	}
	if model.Geometry == nil {
		return store.Model{}, ErrNoGeometry
	}

	cfg, err := s.store.PricingConfig(ctx)
	if err != nil {
		return store.Model{}, fmt.Errorf("load pricing config: %w", err)
	}
	b := s.estimator.Estimate(model.Geometry.VolumeMM3, m, cfg)
	at := s.now()
	if err := s.store.UpdatePriceSnapshot(ctx, id, b, at); err != nil {
		return store.Model{}, err
	}

	model.Breakdown = &b
	model.PriceSnapshot = &b.Price
	model.PricedAt = &at
	return model, nil
}

// PriceLine prices a cart line. The base unit price is the model's manual
// price when set, otherwise its estimate in the default material; the line's
// material is then applied as a multiplier. A zero scale means unscaled.
func (s *Service) PriceLine(ctx context.Context, req LineRequest) (LineQuote, error) {
	model, err := s.store.ModelByID(ctx, req.ModelID)
	if err != nil {
		return LineQuote{}, err
	}
	cfg, err := s.store.PricingConfig(ctx)
	if err != nil {
		return LineQuote{}, fmt.Errorf("load pricing config: %w", err)
	}

	var estimated *float64
	if model.Geometry != nil {
		price := s.estimator.Estimate(model.Geometry.VolumeMM3, material.Default, cfg).Price
		estimated = &price
	}
	base, err := cart.ResolveBaseUnitPrice(model.ManualPrice, estimated)
	if err != nil {
		return LineQuote{}, err
	}

	scale := req.Scale
	if scale == 0 {
		scale = 1
	}

	summary := discount.Summarize(req.Discount)
	item, err := cart.NewPricer(s.estimator.Rates(cfg)).PriceLine(cart.Line{
		ModelID:            model.ID,
		BaseUnitPrice:      base,
		Scale:              scale,
		Material:           material.Normalize(string(req.Material)),
		Colors:             req.Colors,
		Quantity:           req.Quantity,
		DiscountMultiplier: discount.Multiplier(summary),
	})
	if err != nil {
		return LineQuote{}, err
	}
	return LineQuote{Item: item, Discount: summary}, nil
}

func hasManualPrice(p *float64) bool {
	_, err := cart.ResolveBaseUnitPrice(p, nil)
	return err == nil
}
