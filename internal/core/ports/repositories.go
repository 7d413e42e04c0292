package ports

import (
	"context"
	"errors"

	"github.com/samirrijal/souq/internal/core/domain"
)

// ErrKeyNotFound is returned by KeyValueStore.Get when the key is absent.
var ErrKeyNotFound = errors.New("key not found")

// KeyValueStore is durable string storage keyed by name.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// ListingRepository reads listings from the remote backend.
type ListingRepository interface {
	// Find returns listings matching q. When q.Bounds is set only listings
	// whose location lies inside the box are returned.
	Find(ctx context.Context, q domain.ListingQuery) ([]domain.Listing, error)
	GetByID(ctx context.Context, id string) (*domain.Listing, error)
}
