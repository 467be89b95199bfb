package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/Simplici0/printcost/internal/mesh"
	"github.com/Simplici0/printcost/internal/pricing"
)

var ErrModelNotFound = errors.New("model not found")

// Model is an uploaded mesh with its last computed price.
type Model struct {
	ID          uuid.UUID
	Name        string
	ContentHash string
	// Geometry is nil when the mesh could not be parsed.
	Geometry      *mesh.GeometryStats
	ManualPrice   *float64
	PriceSnapshot *float64
	Breakdown     *pricing.Breakdown
	PricedAt      *time.Time
	CreatedAt     time.Time
}

// ModelSummary is a row of the model listing.
type ModelSummary struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	PriceSnapshot *float64  `json:"price_snapshot,omitempty"`
	ManualPrice   *float64  `json:"manual_price,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

var modelColumns = []string{
	"id", "name", "content_hash", "volume_mm3", "size_x_mm", "size_y_mm", "size_z_mm",
	"triangle_count", "mesh_format", "manual_price", "price_snapshot", "breakdown_json",
	"priced_at", "created_at",
}

// CreateModel inserts m. A zero ID is replaced with a fresh UUID and the
// stored model is returned.
func (s *Store) CreateModel(ctx context.Context, m Model) (Model, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}

	var (
		volume, sx, sy, sz *float64
		triangles          int
		format             *string
	)
	if g := m.Geometry; g != nil {
		volume = &g.VolumeMM3
		sx, sy, sz = g.SizeXMM, g.SizeYMM, g.SizeZMM
		triangles = g.TriangleCount
		f := string(g.Format)
		format = &f
	}

	breakdown, err := encodeBreakdown(m.Breakdown)
	if err != nil {
		return Model{}, err
	}
	var pricedAt *string
	if m.PricedAt != nil {
		v := formatTime(*m.PricedAt)
		pricedAt = &v
	}

	insert := s.sb.
		Insert("models").
		Columns(modelColumns...).
		Values(m.ID.String(), m.Name, m.ContentHash, volume, sx, sy, sz,
			triangles, format, m.ManualPrice, m.PriceSnapshot, breakdown,
			pricedAt, formatTime(m.CreatedAt))
	if err := execBuilder(ctx, s.db, insert); err != nil {
		return Model{}, fmt.Errorf("insert model: %w", err)
	}
	return m, nil
}

// ModelByID returns ErrModelNotFound when no model has the given id.
func (s *Store) ModelByID(ctx context.Context, id uuid.UUID) (Model, error) {
	query, args, err := s.sb.
		Select(modelColumns...).
		From("models").
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return Model{}, fmt.Errorf("build model query: %w", err)
	}

	m, err := scanModel(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Model{}, ErrModelNotFound
	}
	if err != nil {
		return Model{}, fmt.Errorf("query model %s: %w", id, err)
	}
	return m, nil
}

// UpdatePriceSnapshot stores the latest breakdown and its price on the model.
func (s *Store) UpdatePriceSnapshot(ctx context.Context, id uuid.UUID, b pricing.Breakdown, at time.Time) error {
	breakdown, err := encodeBreakdown(&b)
	if err != nil {
		return err
	}

	query, args, err := s.sb.
		Update("models").
		Set("price_snapshot", b.Price).
		Set("breakdown_json", breakdown).
		Set("priced_at", formatTime(at)).
		Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build snapshot update: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update price snapshot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update price snapshot: %w", err)
	}
	if affected == 0 {
		return ErrModelNotFound
	}
	return nil
}

// ListModels returns models newest first, optionally filtered by a name
// substring.
func (s *Store) ListModels(ctx context.Context, search string) ([]ModelSummary, error) {
	builder := s.sb.
		Select("id", "name", "price_snapshot", "manual_price", "created_at").
		From("models").
		OrderBy("created_at DESC", "id DESC")
	if search = strings.TrimSpace(search); search != "" {
		builder = builder.Where(sq.Like{"name": "%" + search + "%"})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build model list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	models := make([]ModelSummary, 0)
	for rows.Next() {
		var (
			item             ModelSummary
			id, created      string
			snapshot, manual sql.NullFloat64
		)
		if err := rows.Scan(&id, &item.Name, &snapshot, &manual, &created); err != nil {
			return nil, fmt.Errorf("scan model row: %w", err)
		}
		if item.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse model id: %w", err)
		}
		if item.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		item.PriceSnapshot = floatPtr(snapshot)
		item.ManualPrice = floatPtr(manual)
		models = append(models, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate models: %w", err)
	}
	return models, nil
}

func scanModel(row *sql.Row) (Model, error) {
	var (
		m                           Model
		id, created                 string
		volume, sx, sy, sz          sql.NullFloat64
		triangles                   int
		format, breakdown, pricedAt sql.NullString
		manual, snapshot            sql.NullFloat64
	)
	if err := row.Scan(&id, &m.Name, &m.ContentHash, &volume, &sx, &sy, &sz,
		&triangles, &format, &manual, &snapshot, &breakdown, &pricedAt, &created); err != nil {
		return Model{}, err
	}

	var err error
	if m.ID, err = uuid.Parse(id); err != nil {
		return Model{}, fmt.Errorf("parse model id: %w", err)
	}
	if m.CreatedAt, err = parseTime(created); err != nil {
		return Model{}, err
	}
	if volume.Valid {
		m.Geometry = &mesh.GeometryStats{
			VolumeMM3:     volume.Float64,
			SizeXMM:       floatPtr(sx),
			SizeYMM:       floatPtr(sy),
			SizeZMM:       floatPtr(sz),
			TriangleCount: triangles,
			Format:        mesh.Format(format.String),
		}
	}
	m.ManualPrice = floatPtr(manual)
	m.PriceSnapshot = floatPtr(snapshot)
	if breakdown.Valid && breakdown.String != "" {
		var b pricing.Breakdown
		if err := json.Unmarshal([]byte(breakdown.String), &b); err != nil {
			return Model{}, fmt.Errorf("decode breakdown: %w", err)
		}
		m.Breakdown = &b
	}
	if pricedAt.Valid {
		t, err := parseTime(pricedAt.String)
		if err != nil {
			return Model{}, err
		}
		m.PricedAt = &t
	}
	return m, nil
}

func encodeBreakdown(b *pricing.Breakdown) (*string, error) {
	if b == nil {
		return nil, nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode breakdown: %w", err)
	}
	s := string(raw)
	return &s, nil
}
