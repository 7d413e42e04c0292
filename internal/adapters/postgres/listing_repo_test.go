package postgres_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/souq/internal/adapters/postgres"
	"github.com/samirrijal/souq/internal/core/domain"
)

var columns = []string{"id", "title", "description", "category", "price", "currency", "location_lat", "location_lon", "created_at"}

func TestListingRepo_FindWithBounds(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(
		"FROM listings WHERE location_lat BETWEEN $1 AND $2 AND location_lon BETWEEN $3 AND $4 AND category = $5 ORDER BY created_at DESC LIMIT 20 OFFSET 40",
	)).
		WithArgs(33.29, 33.74, 36.0, 36.55, "cars").
		WillReturnRows(mock.NewRows(columns).
			AddRow("a1", "Kia Rio", "", "cars", 4500.0, "USD", 33.5, 36.3, created).
			AddRow("a2", "Hyundai", "clean", "cars", 6000.0, "USD", 33.6, 36.4, created))

	repo := postgres.NewListingRepo(mock)
	listings, err := repo.Find(context.Background(), domain.ListingQuery{
		Category: "cars",
		Bounds:   &domain.BoundingBox{MinLat: 33.29, MaxLat: 33.74, MinLon: 36.0, MaxLon: 36.55},
		Offset:   40,
		Limit:    20,
	})
	require.NoError(t, err)

	require.Len(t, listings, 2)
	assert.Equal(t, "Kia Rio", listings[0].Title)
	assert.Equal(t, domain.Coordinates{Latitude: 33.6, Longitude: 36.4}, listings[1].Location)
	assert.Nil(t, listings[0].Distance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListingRepo_FindUnbounded(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM listings WHERE title ILIKE $1 ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("%bike%").
		WillReturnRows(mock.NewRows(columns))

	repo := postgres.NewListingRepo(mock)
	listings, err := repo.Find(context.Background(), domain.ListingQuery{Search: "bike", Limit: 20})
	require.NoError(t, err)

	assert.Empty(t, listings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListingRepo_SearchEscapesPatternCharacters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM listings WHERE title ILIKE $1")).
		WithArgs(`%50\% off\_sale\\%`).
		WillReturnRows(mock.NewRows(columns))

	repo := postgres.NewListingRepo(mock)
	_, err = repo.Find(context.Background(), domain.ListingQuery{Search: `50% off_sale\`, Limit: 20})
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListingRepo_GetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := "7d6f0a2e-3c1b-4c57-9a43-5f0e2b1d8c90"
	mock.ExpectQuery(regexp.QuoteMeta("FROM listings WHERE id = $1")).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	repo := postgres.NewListingRepo(mock)
	_, err = repo.GetByID(context.Background(), id)

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListingRepo_GetByIDMalformedID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := postgres.NewListingRepo(mock)
	_, err = repo.GetByID(context.Background(), "not-a-uuid")

	assert.ErrorIs(t, err, domain.ErrNotFound)
	// no query is sent for an ID that cannot match
	assert.NoError(t, mock.ExpectationsWereMet())
}
