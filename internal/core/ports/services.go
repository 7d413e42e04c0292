package ports

import (
	"context"

	"github.com/samirrijal/souq/internal/core/domain"
)

// Permission is the answer to a location permission request.
type Permission int

const (
	PermissionDenied Permission = iota
	PermissionGranted
)

// Accuracy is the precision requested from a position provider.
type Accuracy int

const (
	AccuracyLow Accuracy = iota
	AccuracyBalanced
	AccuracyHigh
)

func (a Accuracy) String() string {
	switch a {
	case AccuracyLow:
		return "low"
	case AccuracyHigh:
		return "high"
	default:
		return "balanced"
	}
}

// PositionProvider resolves the current device position.
type PositionProvider interface {
	RequestPermission(ctx context.Context) (Permission, error)
	CurrentPosition(ctx context.Context, accuracy Accuracy) (domain.Coordinates, error)
}

// ReverseGeocoder turns coordinates into a human-readable place name.
type ReverseGeocoder interface {
	Lookup(ctx context.Context, coords domain.Coordinates) (string, error)
}

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishFilterChanged(ctx context.Context, event *domain.FilterChangedEvent) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
