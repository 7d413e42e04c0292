package domain

import "time"

// Listing is a marketplace item with a location.
type Listing struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Category    string      `json:"category"`
	Price       float64     `json:"price"`
	Currency    string      `json:"currency"`
	Location    Coordinates `json:"location"`
	Distance    *float64    `json:"distance_km,omitempty"` // computed field
	CreatedAt   time.Time   `json:"created_at"`
}

// ListingQuery describes a listing lookup. Bounds, when set, restricts the
// remote query to the box; the exact radius check happens afterwards.
type ListingQuery struct {
	Search   string
	Category string
	Bounds   *BoundingBox
	Offset   int
	Limit    int
}
