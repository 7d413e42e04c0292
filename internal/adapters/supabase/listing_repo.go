package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/samirrijal/souq/internal/core/domain"
)

const listingsTable = "listings"

// NewClient creates a Supabase client for the project at url.
func NewClient(url, key string) (*supabase.Client, error) {
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return client, nil
}

// ListingRepo implements ports.ListingRepository over the PostgREST API.
type ListingRepo struct {
	client *supabase.Client
}

func NewListingRepo(client *supabase.Client) *ListingRepo {
	return &ListingRepo{client: client}
}

type listingRow struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	LocationLat float64   `json:"location_lat"`
	LocationLon float64   `json:"location_lon"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r listingRow) toDomain() domain.Listing {
	return domain.Listing{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		Price:       r.Price,
		Currency:    r.Currency,
		Location:    domain.Coordinates{Latitude: r.LocationLat, Longitude: r.LocationLon},
		CreatedAt:   r.CreatedAt,
	}
}

func (r *ListingRepo) Find(ctx context.Context, q domain.ListingQuery) ([]domain.Listing, error) {
	b := r.client.From(listingsTable).Select("*", "", false)

	if q.Bounds != nil {
		b = b.Gte("location_lat", formatCoord(q.Bounds.MinLat)).
			Lte("location_lat", formatCoord(q.Bounds.MaxLat)).
			Gte("location_lon", formatCoord(q.Bounds.MinLon)).
			Lte("location_lon", formatCoord(q.Bounds.MaxLon))
	}
	if q.Category != "" {
		b = b.Eq("category", q.Category)
	}
	if q.Search != "" {
		b = b.Ilike("title", "*"+escapeLike(q.Search)+"*")
	}

	data, _, err := b.
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Range(q.Offset, q.Offset+q.Limit-1, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}

	var rows []listingRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode listings: %w", err)
	}

	listings := make([]domain.Listing, 0, len(rows))
	for _, row := range rows {
		listings = append(listings, row.toDomain())
	}
	return listings, nil
}

// GetByID returns a listing by UUID. Non-UUID IDs are not found.
func (r *ListingRepo) GetByID(ctx context.Context, id string) (*domain.Listing, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	data, _, err := r.client.From(listingsTable).
		Select("*", "", false).
		Eq("id", id).
		Limit(1, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}

	var rows []listingRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}
	l := rows[0].toDomain()
	return &l, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// escapeLike drops characters PostgREST treats as pattern or list syntax.
func escapeLike(s string) string {
	return strings.NewReplacer("*", "", ",", " ", "(", " ", ")", " ").Replace(s)
}
