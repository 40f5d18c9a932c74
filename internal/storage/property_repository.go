package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rentscope/api/internal/model"
)

type PropertyRepository struct {
	db *pgxpool.Pool
}

func NewPropertyRepository(db *pgxpool.Pool) *PropertyRepository {
	return &PropertyRepository{db: db}
}

// IngestRecord upserts one scraped property and appends its availability
// months and price sample, all in one transaction. Replaying the same
// record for the same job attempt changes nothing but the mutable listing
// fields; a retried attempt appends new availability rows.
func (r *PropertyRepository) IngestRecord(ctx context.Context, locationID, jobID string, attempt int, p model.PropertyPayload, seenAt time.Time) (int64, error) {
	var sample *priceSampleRow
	if p.PriceSample != nil {
		s, err := newPriceSampleRow(p.PriceSample)
		if err != nil {
			return 0, err
		}
		sample = s
	}

	var propertyID int64
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO properties (
  location_id, platform, platform_id, latitude, longitude, title, property_type,
  price, currency, bedrooms, bathrooms, guests, rating, review_count, superhost,
  image_url, listing_url, first_seen_at, last_seen_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)
ON CONFLICT (platform, platform_id) DO UPDATE SET
  location_id = EXCLUDED.location_id,
  latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude,
  title = EXCLUDED.title, property_type = EXCLUDED.property_type,
  price = EXCLUDED.price, currency = EXCLUDED.currency,
  bedrooms = EXCLUDED.bedrooms, bathrooms = EXCLUDED.bathrooms, guests = EXCLUDED.guests,
  rating = EXCLUDED.rating, review_count = EXCLUDED.review_count, superhost = EXCLUDED.superhost,
  image_url = EXCLUDED.image_url, listing_url = EXCLUDED.listing_url,
  last_seen_at = GREATEST(properties.last_seen_at, EXCLUDED.last_seen_at)
RETURNING id`,
			locationID, string(p.Platform), p.PlatformID, p.Latitude, p.Longitude, p.Title, p.PropertyType,
			p.Price, p.Currency, p.Bedrooms, p.Bathrooms, p.Guests, p.Rating, p.ReviewCount, p.Superhost,
			p.ImageURL, p.ListingURL, seenAt,
		).Scan(&propertyID)
		if err != nil {
			return fmt.Errorf("failed to upsert property %s/%s: %w", p.Platform, p.PlatformID, err)
		}

		if len(p.Availability) > 0 {
			b := &pgx.Batch{}
			for _, a := range p.Availability {
				b.Queue(`INSERT INTO availability_records (
  property_id, month, total_days, available_days, booked_days, blocked_days,
  occupancy_ratio, source_job_id, attempt, recorded_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (property_id, month, source_job_id, attempt) DO NOTHING`,
					propertyID, a.Month, a.TotalDays, a.AvailableDays, a.BookedDays, a.BlockedDays,
					occupancy(a), jobID, attempt, seenAt,
				)
			}
			if err := tx.SendBatch(ctx, b).Close(); err != nil {
				return fmt.Errorf("failed to append availability for property %d: %w", propertyID, err)
			}
		}

		if sample != nil {
			_, err := tx.Exec(ctx, `INSERT INTO price_samples (
  property_id, window_start, window_end, nights, price, currency, sampled_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (property_id, window_start, window_end, sampled_at) DO NOTHING`,
				propertyID, sample.start, sample.end, sample.nights, sample.price, sample.currency, sample.sampledAt,
			)
			if err != nil {
				return fmt.Errorf("failed to append price sample for property %d: %w", propertyID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return propertyID, nil
}

func (r *PropertyRepository) ListByLocation(ctx context.Context, locationID string) ([]model.Property, error) {
	rows, err := r.db.Query(ctx, `SELECT id, location_id, platform, platform_id, latitude, longitude,
  title, property_type, price, currency, bedrooms, bathrooms, guests, rating, review_count,
  superhost, image_url, listing_url, first_seen_at, last_seen_at
FROM properties WHERE location_id = $1 ORDER BY platform, platform_id`, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	defer rows.Close()

	props := []model.Property{}
	for rows.Next() {
		var p model.Property
		var platform string
		if err := rows.Scan(&p.ID, &p.LocationID, &platform, &p.PlatformID, &p.Latitude, &p.Longitude,
			&p.Title, &p.PropertyType, &p.Price, &p.Currency, &p.Bedrooms, &p.Bathrooms, &p.Guests,
			&p.Rating, &p.ReviewCount, &p.Superhost, &p.ImageURL, &p.ListingURL, &p.FirstSeenAt, &p.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		p.Platform = model.Platform(platform)
		props = append(props, p)
	}
	return props, rows.Err()
}

// CountAvailability returns how many availability rows a property has.
func (r *PropertyRepository) CountAvailability(ctx context.Context, propertyID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM availability_records WHERE property_id = $1`, propertyID).Scan(&n)
	return n, err
}

type priceSampleRow struct {
	start, end time.Time
	nights     int
	price      float64
	currency   string
	sampledAt  time.Time
}

func newPriceSampleRow(s *model.PriceSamplePayload) (*priceSampleRow, error) {
	start, err := time.Parse(model.DateLayout, s.WindowStart)
	if err != nil {
		return nil, model.NewValidationError("invalid price sample window start: " + s.WindowStart)
	}
	end, err := time.Parse(model.DateLayout, s.WindowEnd)
	if err != nil {
		return nil, model.NewValidationError("invalid price sample window end: " + s.WindowEnd)
	}
	if !end.After(start) {
		return nil, model.NewValidationError("price sample window ends before it starts")
	}
	return &priceSampleRow{
		start:     start,
		end:       end,
		nights:    s.Nights,
		price:     s.Price,
		currency:  s.Currency,
		sampledAt: s.SampledAt,
	}, nil
}

// occupancy trusts the worker's ratio and derives one only when it is missing.
func occupancy(a model.AvailabilityPayload) float64 {
	if a.OccupancyRatio > 0 || a.BookedDays == 0 {
		return a.OccupancyRatio
	}
	return model.OccupancyRatio(a.TotalDays, a.BookedDays, a.BlockedDays)
}
