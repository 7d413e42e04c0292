package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/samirrijal/souq/internal/core/domain"
	"github.com/samirrijal/souq/internal/core/ports"
	"github.com/samirrijal/souq/internal/pkg/metrics"
)

// Page is an offset/limit window.
type Page struct {
	Offset int
	Limit  int
}

func (p Page) normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	return p
}

// ListingPage is one page of listings that passed the radius check.
// Offsets count repository rows, not returned listings, so HasMore is
// derived from how many rows the repository produced for the page.
type ListingPage struct {
	Listings []domain.Listing `json:"listings"`
	Scanned  int              `json:"scanned"`
	HasMore  bool             `json:"has_more"`
}

// ListingService runs listing queries constrained by the active location filter.
type ListingService struct {
	listings ports.ListingRepository
	filter   *LocationFilterStore
	cache    ports.CacheService
	cacheTTL int
	group    singleflight.Group
}

// ListingOption configures a ListingService.
type ListingOption func(*ListingService)

// WithCacheTTL sets how long query results stay cached, in seconds.
func WithCacheTTL(seconds int) ListingOption {
	return func(s *ListingService) {
		if seconds > 0 {
			s.cacheTTL = seconds
		}
	}
}

// NewListingService creates a new ListingService. cache may be nil.
func NewListingService(listings ports.ListingRepository, filter *LocationFilterStore, cache ports.CacheService, opts ...ListingOption) *ListingService {
	s := &ListingService{listings: listings, filter: filter, cache: cache, cacheTTL: 60}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Home returns the newest listings near the active filter.
func (s *ListingService) Home(ctx context.Context, page Page) (ListingPage, error) {
	return s.find(ctx, "home", domain.ListingQuery{}, page)
}

// ByCategory returns listings in a category near the active filter.
func (s *ListingService) ByCategory(ctx context.Context, category string, page Page) (ListingPage, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return ListingPage{}, fmt.Errorf("category must not be empty")
	}
	return s.find(ctx, "category", domain.ListingQuery{Category: category}, page)
}

// Search performs a text search on listing titles near the active filter.
func (s *ListingService) Search(ctx context.Context, query string, page Page) (ListingPage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return ListingPage{}, fmt.Errorf("search query must not be empty")
	}
	return s.find(ctx, "search", domain.ListingQuery{Search: query}, page)
}

// GetByID returns a single listing annotated with its distance from the filter centre.
func (s *ListingService) GetByID(ctx context.Context, id string) (*domain.Listing, error) {
	l, err := s.listings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d := s.filter.DistanceKm(l.Location.Latitude, l.Location.Longitude)
	l.Distance = &d
	return l, nil
}

func (s *ListingService) find(ctx context.Context, op string, q domain.ListingQuery, page Page) (ListingPage, error) {
	ctx, span := otel.Tracer("souq/listings").Start(ctx, "ListingService."+op)
	defer span.End()

	page = page.normalize()
	q.Offset, q.Limit = page.Offset, page.Limit
	f := s.filter.Get()
	q.Bounds = boundsFor(f)
	span.SetAttributes(attribute.Bool("geo.constrained", q.Bounds != nil))

	cacheKey := listingsCacheKey(op, q, f)

	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var cached ListingPage
			if err := json.Unmarshal(data, &cached); err == nil {
				metrics.CacheHits.WithLabelValues("listings_" + op).Inc()
				return cached, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("listings_" + op).Inc()
	}

	v, err, _ := s.group.Do(cacheKey, func() (interface{}, error) {
		rows, err := s.listings.Find(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("find listings: %w", err)
		}
		return ListingPage{
			Listings: withinRadius(f, rows),
			Scanned:  len(rows),
			HasMore:  len(rows) >= q.Limit,
		}, nil
	})
	if err != nil {
		return ListingPage{}, err
	}
	result := v.(ListingPage)

	if s.cache != nil {
		if data, err := json.Marshal(result); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, s.cacheTTL)
		}
	}

	return result, nil
}

// listingsCacheKey identifies a query under one exact filter. Floats are
// written in shortest round-trip form so distinct filters never share a key.
func listingsCacheKey(op string, q domain.ListingQuery, f domain.LocationFilter) string {
	ftoa := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return strings.Join([]string{
		"listings", op,
		strconv.Quote(q.Category), strconv.Quote(q.Search),
		strconv.Itoa(q.Offset), strconv.Itoa(q.Limit),
		ftoa(f.Coordinates.Latitude), ftoa(f.Coordinates.Longitude), ftoa(f.RadiusKm),
	}, ":")
}

// withinRadius drops listings outside the exact radius and annotates the
// rest with their distance.
func withinRadius(f domain.LocationFilter, listings []domain.Listing) []domain.Listing {
	out := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		lat, lon := l.Location.Latitude, l.Location.Longitude
		if !withinFilter(f, lat, lon) {
			metrics.ListingsOutsideRadius.Inc()
			continue
		}
		d := distanceFrom(f, lat, lon)
		l.Distance = &d
		out = append(out, l)
	}
	return out
}
