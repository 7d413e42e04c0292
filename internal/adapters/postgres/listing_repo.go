package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/souq/internal/core/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var listingColumns = []string{
	"id::text",
	"title",
	"COALESCE(description, '')",
	"category",
	"price::float8",
	"currency",
	"location_lat",
	"location_lon",
	"created_at",
}

// ListingRepo implements ports.ListingRepository with pgx.
type ListingRepo struct {
	db Querier
}

// NewListingRepo creates a new ListingRepo.
func NewListingRepo(db Querier) *ListingRepo {
	return &ListingRepo{db: db}
}

// Find returns the newest listings matching q. The bounding box is applied as
// two BETWEEN ranges served by the (location_lat, location_lon) index.
func (r *ListingRepo) Find(ctx context.Context, q domain.ListingQuery) ([]domain.Listing, error) {
	qb := psql.Select(listingColumns...).From("listings")

	if b := q.Bounds; b != nil {
		qb = qb.Where("location_lat BETWEEN ? AND ?", b.MinLat, b.MaxLat).
			Where("location_lon BETWEEN ? AND ?", b.MinLon, b.MaxLon)
	}
	if q.Category != "" {
		qb = qb.Where(sq.Eq{"category": q.Category})
	}
	if q.Search != "" {
		qb = qb.Where(sq.ILike{"title": "%" + likeEscaper.Replace(q.Search) + "%"})
	}

	query, args, err := qb.
		OrderBy("created_at DESC").
		Limit(uint64(q.Limit)).
		Offset(uint64(q.Offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build listing query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// GetByID returns a listing by UUID. An ID that is not a UUID cannot match
// any row and is reported as not found.
func (r *ListingRepo) GetByID(ctx context.Context, id string) (*domain.Listing, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}

	query, args, err := psql.Select(listingColumns...).
		From("listings").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build listing query: %w", err)
	}

	l, err := scanListing(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// likeEscaper makes user text match literally inside an ILIKE pattern.
// Backslash is the default LIKE escape character in Postgres.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func scanListing(row pgx.Row) (domain.Listing, error) {
	var l domain.Listing
	err := row.Scan(
		&l.ID, &l.Title, &l.Description, &l.Category,
		&l.Price, &l.Currency,
		&l.Location.Latitude, &l.Location.Longitude,
		&l.CreatedAt,
	)
	return l, err
}
