package domain

import (
	"errors"
	"math"
	"strings"
	"time"
)

const (
	// UnboundedRadiusKm is the radius at and above which no geographic
	// restriction is applied.
	UnboundedRadiusKm = 100.0

	// AutoDetectRadiusKm is the radius used for positions found by auto-detection.
	AutoDetectRadiusKm = 10.0

	DefaultFilterName     = "Damascus"
	DefaultFilterRadiusKm = 25.0
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidFilter    = errors.New("invalid location filter")
	ErrPermissionDenied = errors.New("location permission denied")
)

// LocationFilter is the active geographic filter: a named centre and a radius.
type LocationFilter struct {
	Name        string      `json:"name"`
	Coordinates Coordinates `json:"coordinates"`
	RadiusKm    float64     `json:"radiusKm"`
}

// DefaultLocationFilter returns the filter used until the user picks a place
// or a position is auto-detected.
func DefaultLocationFilter() LocationFilter {
	return LocationFilter{
		Name:        DefaultFilterName,
		Coordinates: Coordinates{Latitude: 33.5138, Longitude: 36.2765},
		RadiusKm:    DefaultFilterRadiusKm,
	}
}

// Validate checks the invariants a filter must hold before it becomes active.
// The name is kept as given but must not be blank.
func (f LocationFilter) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return errors.Join(ErrInvalidFilter, errors.New("name must not be blank"))
	}
	if !f.Coordinates.Valid() {
		return errors.Join(ErrInvalidFilter, errors.New("coordinates out of range"))
	}
	if math.IsNaN(f.RadiusKm) || math.IsInf(f.RadiusKm, 0) || f.RadiusKm <= 0 {
		return errors.Join(ErrInvalidFilter, errors.New("radius must be a positive number"))
	}
	return nil
}

// FilterSource identifies what caused a filter change.
type FilterSource string

const (
	SourceUser  FilterSource = "user"
	SourceAuto  FilterSource = "auto"
	SourceClear FilterSource = "clear"
)

// FilterChangedEvent is published whenever the active filter changes.
type FilterChangedEvent struct {
	ID                string         `json:"id"`
	Source            FilterSource   `json:"source"`
	Filter            LocationFilter `json:"filter"`
	HasCustomLocation bool           `json:"has_custom_location"`
	At                time.Time      `json:"at"`
}

// NormalizeName trims surrounding whitespace from a place name.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}
