package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rentscope/api/internal/model"
)

const locationColumns = `id, name, sw_lng, sw_lat, ne_lng, ne_lat, last_data_update_at, created_at`

type LocationRepository struct {
	db *pgxpool.Pool
}

func NewLocationRepository(db *pgxpool.Pool) *LocationRepository {
	return &LocationRepository{db: db}
}

// Upsert registers a location or updates its name and bounding box.
func (r *LocationRepository) Upsert(ctx context.Context, loc *model.Location) error {
	var swLng, swLat, neLng, neLat *float64
	if bb := loc.BoundingBox; bb != nil {
		swLng, swLat, neLng, neLat = &bb.SwLng, &bb.SwLat, &bb.NeLng, &bb.NeLat
	}
	err := r.db.QueryRow(ctx, `INSERT INTO locations (id, name, sw_lng, sw_lat, ne_lng, ne_lat)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  sw_lng = EXCLUDED.sw_lng, sw_lat = EXCLUDED.sw_lat,
  ne_lng = EXCLUDED.ne_lng, ne_lat = EXCLUDED.ne_lat
RETURNING created_at, last_data_update_at`,
		loc.ID, loc.Name, swLng, swLat, neLng, neLat,
	).Scan(&loc.CreatedAt, &loc.LastDataUpdateAt)
	if err != nil {
		return fmt.Errorf("failed to upsert location %s: %w", loc.ID, err)
	}
	return nil
}

func (r *LocationRepository) Get(ctx context.Context, id string) (*model.Location, error) {
	loc, err := scanLocation(r.db.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NewNotFoundError("location not found: " + id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load location %s: %w", id, err)
	}
	return loc, nil
}

func (r *LocationRepository) ListAll(ctx context.Context) ([]*model.Location, error) {
	return r.query(ctx, `SELECT `+locationColumns+` FROM locations ORDER BY id`)
}

// ListStale returns locations never updated or last updated before cutoff.
func (r *LocationRepository) ListStale(ctx context.Context, cutoff time.Time) ([]*model.Location, error) {
	return r.query(ctx, `SELECT `+locationColumns+` FROM locations
WHERE last_data_update_at IS NULL OR last_data_update_at < $1
ORDER BY last_data_update_at NULLS FIRST, id`, cutoff)
}

func (r *LocationRepository) TouchDataUpdated(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE locations SET last_data_update_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch location %s: %w", id, err)
	}
	return nil
}

func (r *LocationRepository) query(ctx context.Context, q string, args ...interface{}) ([]*model.Location, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var locs []*model.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locs = append(locs, loc)
	}
	return locs, rows.Err()
}

func scanLocation(s pgx.Row) (*model.Location, error) {
	var (
		loc                        model.Location
		swLng, swLat, neLng, neLat *float64
	)
	if err := s.Scan(&loc.ID, &loc.Name, &swLng, &swLat, &neLng, &neLat, &loc.LastDataUpdateAt, &loc.CreatedAt); err != nil {
		return nil, err
	}
	if swLng != nil && swLat != nil && neLng != nil && neLat != nil {
		loc.BoundingBox = &model.BoundingBox{SwLng: *swLng, SwLat: *swLat, NeLng: *neLng, NeLat: *neLat}
	}
	return &loc, nil
}
