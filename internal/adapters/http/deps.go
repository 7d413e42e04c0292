package http

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/souq/internal/core/usecases"
)

// Pinger is a backend that can report its connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Filter   *usecases.LocationFilterStore
	Detector *usecases.AutoLocationDetector
	Listings *usecases.ListingService
	NATS     *nats.Conn
	DB       Pinger // nil when listings are served by Supabase
	KV       Pinger // nil for backends without a cheap ping

	OpenAPIPath string // defaults to DefaultOpenAPIPath
}
