package model

import "time"

// Location is a market the fleet scrapes.
type Location struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	BoundingBox      *BoundingBox `json:"boundingBox,omitempty"`
	LastDataUpdateAt *time.Time   `json:"lastDataUpdateAt,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
}

// Property is the canonical listing row, unique per (Platform, PlatformID).
type Property struct {
	ID           int64     `json:"id"`
	LocationID   string    `json:"locationId"`
	Platform     Platform  `json:"platform"`
	PlatformID   string    `json:"platformId"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Title        string    `json:"title"`
	PropertyType string    `json:"propertyType"`
	Price        float64   `json:"price"`
	Currency     string    `json:"currency"`
	Bedrooms     int       `json:"bedrooms"`
	Bathrooms    float64   `json:"bathrooms"`
	Guests       int       `json:"guests"`
	Rating       float64   `json:"rating"`
	ReviewCount  int       `json:"reviewCount"`
	Superhost    bool      `json:"superhost"`
	ImageURL     string    `json:"imageUrl"`
	ListingURL   string    `json:"listingUrl"`
	FirstSeenAt  time.Time `json:"firstSeenAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
}

// AvailabilityRecord is one month of calendar counts from one scrape.
type AvailabilityRecord struct {
	ID             int64     `json:"id"`
	PropertyID     int64     `json:"propertyId"`
	Month          string    `json:"month"`
	TotalDays      int       `json:"totalDays"`
	AvailableDays  int       `json:"availableDays"`
	BookedDays     int       `json:"bookedDays"`
	BlockedDays    int       `json:"blockedDays"`
	OccupancyRatio float64   `json:"occupancyRatio"`
	SourceJobID    string    `json:"sourceJobId"`
	RecordedAt     time.Time `json:"recordedAt"`
}

// PriceSample is an immutable price quote for one stay window.
type PriceSample struct {
	ID          int64     `json:"id"`
	PropertyID  int64     `json:"propertyId"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	Nights      int       `json:"nights"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	SampledAt   time.Time `json:"sampledAt"`
}

// OccupancyRatio is booked / (total - blocked), zero when nothing is bookable.
func OccupancyRatio(totalDays, bookedDays, blockedDays int) float64 {
	bookable := totalDays - blockedDays
	if bookable <= 0 {
		return 0
	}
	return float64(bookedDays) / float64(bookable)
}
