package model

import "time"

// DateLayout is the wire format for calendar dates in queue messages.
const DateLayout = "2006-01-02"

// TimeWindow is a stay window with a fixed number of nights.
type TimeWindow struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Nights int       `json:"nights"`
}

// BoundingBox limits a location search to a map rectangle.
type BoundingBox struct {
	SwLng float64 `json:"swLng" validate:"min=-180,max=180"`
	SwLat float64 `json:"swLat" validate:"min=-90,max=90"`
	NeLng float64 `json:"neLng" validate:"min=-180,max=180"`
	NeLat float64 `json:"neLat" validate:"min=-90,max=90"`
}

// JobCreatedEvent is published on the job queue for the worker fleet.
type JobCreatedEvent struct {
	JobID             string       `json:"jobId"`
	LocationID        string       `json:"locationId"`
	LocationName      string       `json:"locationName"`
	JobKind           JobKind      `json:"jobKind"`
	Platform          Platform     `json:"platform"`
	SearchWindowStart string       `json:"searchWindowStart"`
	SearchWindowEnd   string       `json:"searchWindowEnd"`
	BoundingBox       *BoundingBox `json:"boundingBox,omitempty"`
	OccurredAt        time.Time    `json:"occurredAt"`
	Attempt           int          `json:"attempt"`
}

// JobCompletedEvent is sent back by a worker after a successful scrape.
// Properties are validated one by one by the consumer so a single bad
// record does not reject the whole message. Attempt echoes the attempt of
// the job-created message the scrape answered.
type JobCompletedEvent struct {
	JobID           string            `json:"jobId" validate:"required"`
	Attempt         int               `json:"attempt" validate:"min=0"`
	PropertiesFound int               `json:"propertiesFound" validate:"min=0"`
	OccurredAt      time.Time         `json:"occurredAt" validate:"required"`
	Properties      []PropertyPayload `json:"properties"`
}

// JobFailedEvent is sent back by a worker when a scrape gives up.
type JobFailedEvent struct {
	JobID        string    `json:"jobId" validate:"required"`
	Attempt      int       `json:"attempt" validate:"min=0"`
	ErrorMessage string    `json:"errorMessage" validate:"required"`
	OccurredAt   time.Time `json:"occurredAt" validate:"required"`
}

type PropertyPayload struct {
	Platform     Platform              `json:"platform" validate:"required,oneof=AIRBNB VRBO BOOKING"`
	PlatformID   string                `json:"platformId" validate:"required,max=128"`
	Latitude     float64               `json:"latitude" validate:"min=-90,max=90"`
	Longitude    float64               `json:"longitude" validate:"min=-180,max=180"`
	Title        string                `json:"title"`
	PropertyType string                `json:"propertyType"`
	Price        float64               `json:"price" validate:"min=0"`
	Currency     string                `json:"currency" validate:"omitempty,len=3"`
	Bedrooms     int                   `json:"bedrooms" validate:"min=0"`
	Bathrooms    float64               `json:"bathrooms" validate:"min=0"`
	Guests       int                   `json:"guests" validate:"min=0"`
	Rating       float64               `json:"rating" validate:"min=0,max=5"`
	ReviewCount  int                   `json:"reviewCount" validate:"min=0"`
	Superhost    bool                  `json:"superhost"`
	ImageURL     string                `json:"imageUrl" validate:"omitempty,url"`
	ListingURL   string                `json:"listingUrl" validate:"omitempty,url"`
	Availability []AvailabilityPayload `json:"availability,omitempty" validate:"omitempty,dive"`
	PriceSample  *PriceSamplePayload   `json:"priceSample,omitempty" validate:"omitempty"`
}

type AvailabilityPayload struct {
	Month          string  `json:"month" validate:"required,datetime=2006-01"`
	TotalDays      int     `json:"totalDays" validate:"min=0,max=31"`
	AvailableDays  int     `json:"availableDays" validate:"min=0,max=31"`
	BookedDays     int     `json:"bookedDays" validate:"min=0,max=31"`
	BlockedDays    int     `json:"blockedDays" validate:"min=0,max=31"`
	OccupancyRatio float64 `json:"occupancyRatio" validate:"min=0,max=1"`
}

type PriceSamplePayload struct {
	Price       float64   `json:"price" validate:"min=0"`
	Currency    string    `json:"currency" validate:"omitempty,len=3"`
	WindowStart string    `json:"windowStart" validate:"required,datetime=2006-01-02"`
	WindowEnd   string    `json:"windowEnd" validate:"required,datetime=2006-01-02"`
	Nights      int       `json:"nights" validate:"min=1"`
	SampledAt   time.Time `json:"sampledAt" validate:"required"`
}

// DataUpdatedEvent tells cache holders that a location's property data changed.
type DataUpdatedEvent struct {
	LocationID        string    `json:"locationId"`
	JobID             string    `json:"jobId"`
	PropertiesTouched int       `json:"propertiesTouched"`
	OccurredAt        time.Time `json:"occurredAt"`
}

// Websocket message types
const (
	WSMessageTypeJobUpdate = "job.updated"
	WSMessageTypePing      = "ping"
	WSMessageTypePong      = "pong"
)

// WSMessage is the envelope of client-sent websocket messages.
type WSMessage struct {
	Type string `json:"type"`
}

// JobUpdateMessage is pushed to websocket subscribers of a location.
type JobUpdateMessage struct {
	Type string      `json:"type"`
	Job  JobResponse `json:"job"`
}
