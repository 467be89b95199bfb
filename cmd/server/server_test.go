package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Simplici0/printcost/internal/db"
	"github.com/Simplici0/printcost/internal/migrations"
	"github.com/Simplici0/printcost/internal/pricing"
	"github.com/Simplici0/printcost/internal/quote"
	"github.com/Simplici0/printcost/internal/store"
)

func newTestServer(t *testing.T) *server {
	t.Helper()

	ctx := context.Background()
	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "server-test.db"))
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := migrations.Up(ctx, database); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	st := store.New(database)
	return &server{
		store:          st,
		quotes:         quote.NewService(st, nil, pricing.NewEstimator(nil)),
		maxUploadBytes: 1 << 20,
	}
}

// cubeSTL renders a 100 mm text STL cube.
func cubeSTL() []byte {
	const s = 100.0
	quads := [][4][3]float64{
		{{0, 0, 0}, {0, s, 0}, {s, s, 0}, {s, 0, 0}},
		{{0, 0, s}, {s, 0, s}, {s, s, s}, {0, s, s}},
		{{0, 0, 0}, {s, 0, 0}, {s, 0, s}, {0, 0, s}},
		{{0, s, 0}, {0, s, s}, {s, s, s}, {s, s, 0}},
		{{0, 0, 0}, {0, 0, s}, {0, s, s}, {0, s, 0}},
		{{s, 0, 0}, {s, s, 0}, {s, s, s}, {s, 0, s}},
	}

	var b strings.Builder
	b.WriteString("solid cube\n")
	for _, q := range quads {
		for _, tri := range [][3][3]float64{{q[0], q[1], q[2]}, {q[0], q[2], q[3]}} {
			b.WriteString("facet normal 0 0 0\nouter loop\n")
			for _, v := range tri {
				fmt.Fprintf(&b, "vertex %g %g %g\n", v[0], v[1], v[2])
			}
			b.WriteString("endloop\nendfacet\n")
		}
	}
	b.WriteString("endsolid cube\n")
	return []byte(b.String())
}

func do(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	h := newTestServer(t).routes()

	rr := do(t, h, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "SERVING" {
		t.Fatalf("expected 200 SERVING, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestPrinterProfiles(t *testing.T) {
	h := newTestServer(t).routes()

	rr := do(t, h, http.MethodGet, "/api/printer-profiles", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	profiles := decodeBody[[]map[string]any](t, rr)
	if len(profiles) != 3 {
		t.Fatalf("expected 3 profiles, got %d", len(profiles))
	}
}

func TestEstimate(t *testing.T) {
	h := newTestServer(t).routes()

	rr := do(t, h, http.MethodPost, "/api/estimate?material=pla", cubeSTL())
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	est := decodeBody[quote.Estimate](t, rr)
	if est.Breakdown.Price != 6.70 {
		t.Fatalf("expected price 6.70, got %.2f", est.Breakdown.Price)
	}
	if est.Breakdown.Material != "PLA" {
		t.Fatalf("expected normalized material PLA, got %q", est.Breakdown.Material)
	}

	rr = do(t, h, http.MethodPost, "/api/estimate", []byte("not a mesh"))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 for unparsable mesh, got %d", rr.Code)
	}
}

func TestEstimateTooLarge(t *testing.T) {
	srv := newTestServer(t)
	srv.maxUploadBytes = 64

	rr := do(t, srv.routes(), http.MethodPost, "/api/estimate", cubeSTL())
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rr.Code)
	}
}

func TestModelCreateValidation(t *testing.T) {
	h := newTestServer(t).routes()

	tests := []struct {
		name   string
		target string
		body   []byte
		want   int
	}{
		{name: "missing name", target: "/api/models", body: cubeSTL(), want: http.StatusBadRequest},
		{name: "non numeric price", target: "/api/models?name=a&manual_price=abc", body: cubeSTL(), want: http.StatusBadRequest},
		{name: "zero price", target: "/api/models?name=a&manual_price=0", body: cubeSTL(), want: http.StatusBadRequest},
		{name: "junk without price", target: "/api/models?name=a", body: []byte("junk"), want: http.StatusUnprocessableEntity},
		{name: "junk with price", target: "/api/models?name=a&manual_price=12.5", body: []byte("junk"), want: http.StatusCreated},
		{name: "valid mesh", target: "/api/models?name=cube.stl", body: cubeSTL(), want: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, tt.target, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("expected status %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestModelQuoteRefreshesSnapshot(t *testing.T) {
	srv := newTestServer(t)
	h := srv.routes()

	rr := do(t, h, http.MethodPost, "/api/models?name=cube.stl", cubeSTL())
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	created := decodeBody[modelResponse](t, rr)
	if created.PriceSnapshot == nil || *created.PriceSnapshot != 6.70 {
		t.Fatalf("expected snapshot 6.70, got %v", created.PriceSnapshot)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/models/"+created.ID.String()+"/quote?material=PETG", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", created.ID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	quoted := httptest.NewRecorder()
	srv.handleModelQuote(quoted, req)
	if quoted.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", quoted.Code, quoted.Body.String())
	}

	want := pricing.NewEstimator(nil).Estimate(1e6, "PETG", pricing.Config{}).Price
	stored, err := srv.store.ModelByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("load model: %v", err)
	}
	if *stored.PriceSnapshot != want {
		t.Fatalf("expected stored snapshot %.2f, got %.2f", want, *stored.PriceSnapshot)
	}
}

func TestModelQuoteErrors(t *testing.T) {
	h := newTestServer(t).routes()

	rr := do(t, h, http.MethodGet, "/api/models/not-a-uuid/quote", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/api/models/"+uuid.NewString()+"/quote", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}

	rr = do(t, h, http.MethodPost, "/api/models?name=junk&manual_price=5", []byte("junk"))
	manual := decodeBody[modelResponse](t, rr)
	rr = do(t, h, http.MethodGet, "/api/models/"+manual.ID.String()+"/quote", nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 for model without geometry, got %d", rr.Code)
	}
}

func TestModelsList(t *testing.T) {
	h := newTestServer(t).routes()

	for _, name := range []string{"benchy.stl", "bracket.stl"} {
		if rr := do(t, h, http.MethodPost, "/api/models?name="+name, cubeSTL()); rr.Code != http.StatusCreated {
			t.Fatalf("create %s: status %d", name, rr.Code)
		}
	}

	rr := do(t, h, http.MethodGet, "/api/models?q=bench", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	models := decodeBody[[]store.ModelSummary](t, rr)
	if len(models) != 1 || models[0].Name != "benchy.stl" {
		t.Fatalf("expected only benchy.stl, got %+v", models)
	}
}

func TestCartLine(t *testing.T) {
	h := newTestServer(t).routes()

	rr := do(t, h, http.MethodPost, "/api/models?name=manual&manual_price=10", []byte("junk"))
	model := decodeBody[modelResponse](t, rr)

	body := fmt.Sprintf(`{
		"model_id": %q,
		"scale": 1,
		"material": "PLA",
		"colors": ["red", "blue"],
		"quantity": 2,
		"discount": {"discount_percent": 10, "friends_and_family_percent": 20, "is_friends_and_family": false}
	}`, model.ID)
	rr = do(t, h, http.MethodPost, "/api/cart/lines", []byte(body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	line := decodeBody[quote.LineQuote](t, rr)
	if line.Item.RawUnitPrice != 10.50 {
		t.Fatalf("expected raw unit price 10.50, got %.2f", line.Item.RawUnitPrice)
	}
	if line.Discount.TotalPercent != 10 {
		t.Fatalf("expected total discount 10, got %.2f", line.Discount.TotalPercent)
	}
	if line.Item.UnitPrice != 9.45 || line.Item.LineTotal != 18.90 {
		t.Fatalf("unexpected discounted prices: %+v", line.Item)
	}
}

func TestCartLineValidation(t *testing.T) {
	h := newTestServer(t).routes()

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "missing model id", body: `{"quantity": 1}`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"model_id": "` + uuid.NewString() + `", "price": 1}`, want: http.StatusBadRequest},
		{name: "malformed", body: `{`, want: http.StatusBadRequest},
		{name: "unknown model", body: `{"model_id": "` + uuid.NewString() + `"}`, want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/api/cart/lines", []byte(tt.body))
			if rr.Code != tt.want {
				t.Fatalf("expected status %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestDiscountSummary(t *testing.T) {
	h := newTestServer(t).routes()

	rr := do(t, h, http.MethodPost, "/api/discounts/summary",
		[]byte(`{"discount_percent": 80, "friends_and_family_percent": 30, "is_friends_and_family": true}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	resp := decodeBody[discountResponse](t, rr)
	if resp.TotalPercent != 95 {
		t.Fatalf("expected total clamped to 95, got %.2f", resp.TotalPercent)
	}
	if resp.Multiplier < 0.0499 || resp.Multiplier > 0.0501 {
		t.Fatalf("expected multiplier 0.05, got %f", resp.Multiplier)
	}
}

func TestPricingConfigEndpoints(t *testing.T) {
	h := newTestServer(t).routes()

	rr := do(t, h, http.MethodPut, "/api/pricing-config", []byte(`{"minimum_price": -1}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for negative minimum, got %d", rr.Code)
	}

	rr = do(t, h, http.MethodPut, "/api/pricing-config",
		[]byte(`{"minimum_price": 50, "material_prices_per_kg": {"PLA": 20}}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodGet, "/api/pricing-config", nil)
	cfg := decodeBody[pricing.Config](t, rr)
	if cfg.MinimumPrice == nil || *cfg.MinimumPrice != 50 || cfg.MaterialPricesPerKg["PLA"] != 20 {
		t.Fatalf("unexpected stored config: %+v", cfg)
	}

	rr = do(t, h, http.MethodPost, "/api/estimate", cubeSTL())
	est := decodeBody[quote.Estimate](t, rr)
	if est.Breakdown.Price != 50 || !est.Breakdown.MinimumApplied {
		t.Fatalf("expected floor of 50 to apply, got %+v", est.Breakdown)
	}
}

func TestPutPricingConfigCanonicalizesKeys(t *testing.T) {
	srv := newTestServer(t)
	h := srv.routes()

	rr := do(t, h, http.MethodPut, "/api/pricing-config", []byte(`{"material_prices_per_kg": {"pla": 20, "PLA": 30}}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for colliding keys, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodPut, "/api/pricing-config", []byte(`{"minimum_price": 7.504}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for sub-cent minimum, got %d", rr.Code)
	}

	rr = do(t, h, http.MethodPut, "/api/pricing-config", []byte(`{"material_prices_per_kg": {"pla": 20}}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	cfg := decodeBody[pricing.Config](t, rr)
	if len(cfg.MaterialPricesPerKg) != 1 || cfg.MaterialPricesPerKg["PLA"] != 20 {
		t.Fatalf("expected canonical PLA key, got %v", cfg.MaterialPricesPerKg)
	}

	var stored string
	if err := srv.store.DB().QueryRow(`SELECT material FROM material_prices`).Scan(&stored); err != nil {
		t.Fatalf("read stored material: %v", err)
	}
	if stored != "PLA" {
		t.Fatalf("expected PLA stored, got %q", stored)
	}
}
