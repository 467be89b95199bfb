package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Simplici0/printcost/internal/cart"
	"github.com/Simplici0/printcost/internal/discount"
	"github.com/Simplici0/printcost/internal/logger"
	"github.com/Simplici0/printcost/internal/mesh"
	"github.com/Simplici0/printcost/internal/pricing"
	"github.com/Simplici0/printcost/internal/printer"
	"github.com/Simplici0/printcost/internal/quote"
	"github.com/Simplici0/printcost/internal/store"
)

const maxJSONBodyBytes = 1 << 20

type server struct {
	store          *store.Store
	quotes         *quote.Service
	maxUploadBytes int64
}

type modelResponse struct {
	ID            uuid.UUID           `json:"id"`
	Name          string              `json:"name"`
	ContentHash   string              `json:"content_hash"`
	Geometry      *mesh.GeometryStats `json:"geometry,omitempty"`
	Suspicious    bool                `json:"suspicious"`
	ManualPrice   *float64            `json:"manual_price,omitempty"`
	PriceSnapshot *float64            `json:"price_snapshot,omitempty"`
	Breakdown     *pricing.Breakdown  `json:"breakdown,omitempty"`
	PricedAt      *time.Time          `json:"priced_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

type discountResponse struct {
	discount.Summary
	Multiplier float64 `json:"multiplier"`
}

func newModelResponse(m store.Model) modelResponse {
	resp := modelResponse{
		ID:            m.ID,
		Name:          m.Name,
		ContentHash:   m.ContentHash,
		Geometry:      m.Geometry,
		ManualPrice:   m.ManualPrice,
		PriceSnapshot: m.PriceSnapshot,
		Breakdown:     m.Breakdown,
		PricedAt:      m.PricedAt,
		CreatedAt:     m.CreatedAt,
	}
	if m.Geometry != nil {
		resp.Suspicious = m.Geometry.Suspicious()
	}
	return resp
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger,
		middleware.Recoverer,
	)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/printer-profiles", s.handlePrinterProfiles)
		r.Get("/pricing-config", s.handleGetPricingConfig)
		r.Put("/pricing-config", s.handlePutPricingConfig)
		r.Post("/estimate", s.handleEstimate)
		r.Get("/models", s.handleModelsList)
		r.Post("/models", s.handleModelCreate)
		r.Get("/models/{id}/quote", s.handleModelQuote)
		r.Post("/cart/lines", s.handleCartLine)
		r.Post("/discounts/summary", s.handleDiscountSummary)
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		logger.Error(r.Context(), "health check failed", logger.ErrorF(err))
		http.Error(w, "NOT_SERVING", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "SERVING")
}

func (s *server) handlePrinterProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, printer.Profiles())
}

func (s *server) handleGetPricingConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.PricingConfig(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *server) handlePutPricingConfig(w http.ResponseWriter, r *http.Request) {
	var cfg pricing.Config
	if err := decodeJSON(r, &cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := cfg.Normalized()
	if err != nil {
		s.writeError(w, r, invalidf("%v", err))
		return
	}
	if err := validatePricingConfig(cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.SavePricingConfig(r.Context(), cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	logger.Info(r.Context(), "pricing config updated")

	saved, err := s.store.PricingConfig(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	data, err := s.readMesh(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	est, err := s.quotes.Estimate(r.Context(), data, parseMaterial(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (s *server) handleModelsList(w http.ResponseWriter, r *http.Request) {
	models, err := s.store.ListModels(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *server) handleModelCreate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	name := strings.TrimSpace(query.Get("name"))
	if name == "" {
		s.writeError(w, r, invalidf("name is required"))
		return
	}

	var manualPrice *float64
	if raw := strings.TrimSpace(query.Get("manual_price")); raw != "" {
		value, err := parsePositiveFloat(raw, "manual_price")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		manualPrice = &value
	}

	data, err := s.readMesh(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	model, err := s.quotes.Upload(r.Context(), quote.UploadRequest{
		Name:        name,
		Data:        data,
		Material:    parseMaterial(r),
		ManualPrice: manualPrice,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newModelResponse(model))
}

func (s *server) handleModelQuote(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	model, err := s.quotes.Requote(r.Context(), id, parseMaterial(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newModelResponse(model))
}

func (s *server) handleCartLine(w http.ResponseWriter, r *http.Request) {
	var req quote.LineRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ModelID == uuid.Nil {
		s.writeError(w, r, invalidf("model_id is required"))
		return
	}

	line, err := s.quotes.PriceLine(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (s *server) handleDiscountSummary(w http.ResponseWriter, r *http.Request) {
	var in discount.Input
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	summary := discount.Summarize(in)
	writeJSON(w, http.StatusOK, discountResponse{Summary: summary, Multiplier: discount.Multiplier(summary)})
}

func (s *server) readMesh(r *http.Request) ([]byte, error) {
	return mesh.ReadLimited(r.Body, s.maxUploadBytes)
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(r.Context(), "request failed", logger.String("path", r.URL.Path), logger.ErrorF(err))
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, mesh.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, mesh.ErrParseFailure),
		errors.Is(err, cart.ErrMissingPriceData),
		errors.Is(err, quote.ErrNoGeometry):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalidf("invalid JSON body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L().Warn("failed to encode response", logger.ErrorF(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			logger.Info(r.Context(), "http request",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", ww.Status()),
				logger.Int("bytes", ww.BytesWritten()),
				logger.Duration("duration", time.Since(start)),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
