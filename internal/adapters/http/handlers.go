package http

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/souq/internal/core/domain"
	"github.com/samirrijal/souq/internal/core/usecases"
	"github.com/samirrijal/souq/internal/pkg/geospatial"
)

// FilterResponse is the location filter as seen by clients.
type FilterResponse struct {
	Filter            domain.LocationFilter `json:"filter"`
	HasCustomLocation bool                  `json:"has_custom_location"`
	Loading           bool                  `json:"loading"`
	FilterActive      bool                  `json:"filter_active"`
	Zoom              int                   `json:"zoom"`
}

func filterResponse(s usecases.FilterState) FilterResponse {
	return FilterResponse{
		Filter:            s.Filter,
		HasCustomLocation: s.HasCustomLocation,
		Loading:           s.Loading,
		FilterActive:      geospatial.IsFilterActive(s.Filter.RadiusKm),
		Zoom:              geospatial.ZoomForRadius(s.Filter.RadiusKm),
	}
}

// GetLocationFilterHandler returns the active location filter.
func GetLocationFilterHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(filterResponse(deps.Filter.Snapshot()))
	}
}

// updateFilterRequest uses pointers so missing fields can be told apart
// from zero values.
type updateFilterRequest struct {
	Name        *string `json:"name"`
	Coordinates *struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"coordinates"`
	RadiusKm *float64 `json:"radiusKm"`
}

// UpdateLocationFilterHandler replaces the whole filter.
func UpdateLocationFilterHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dec := json.NewDecoder(bytes.NewReader(c.Body()))
		dec.DisallowUnknownFields()

		var req updateFilterRequest
		if err := dec.Decode(&req); err != nil {
			return errBadRequest(c, "invalid request body: "+err.Error())
		}
		switch {
		case req.Name == nil:
			return errBadRequest(c, "name is required")
		case req.Coordinates == nil || req.Coordinates.Latitude == nil || req.Coordinates.Longitude == nil:
			return errBadRequest(c, "coordinates.latitude and coordinates.longitude are required")
		case req.RadiusKm == nil:
			return errBadRequest(c, "radiusKm is required")
		}

		coords := domain.Coordinates{Latitude: *req.Coordinates.Latitude, Longitude: *req.Coordinates.Longitude}
		if err := deps.Filter.Update(*req.Name, coords, *req.RadiusKm); err != nil {
			return errFromDomain(c, err, "")
		}

		LoggerFromCtx(c.UserContext()).Info("location filter updated",
			"name", *req.Name, "radius_km", *req.RadiusKm)
		return c.JSON(filterResponse(deps.Filter.Snapshot()))
	}
}

// ClearLocationFilterHandler resets the filter to the default.
func ClearLocationFilterHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		deps.Filter.Clear()
		return c.JSON(filterResponse(deps.Filter.Snapshot()))
	}
}

// FilterBoundsHandler returns the bounding box of the active filter, or
// null when no geographic constraint applies.
func FilterBoundsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"bounds": deps.Filter.BoundingBox()})
	}
}

// FilterContainsHandler reports whether a point passes the active filter.
func FilterContainsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lat, err := strconv.ParseFloat(c.Query("lat"), 64)
		if err != nil {
			return errBadRequest(c, "lat is required and must be a number")
		}
		lon, err := strconv.ParseFloat(c.Query("lon"), 64)
		if err != nil {
			return errBadRequest(c, "lon is required and must be a number")
		}
		if !(domain.Coordinates{Latitude: lat, Longitude: lon}).Valid() {
			return errBadRequest(c, "lat must be within [-90, 90] and lon within [-180, 180]")
		}

		return c.JSON(fiber.Map{
			"within":      deps.Filter.IsWithinRadius(lat, lon),
			"distance_km": deps.Filter.DistanceKm(lat, lon),
		})
	}
}

// DetectionStatusHandler returns the auto-detection state and the result of
// the run that performed detection, if any.
func DetectionStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Detector == nil {
			return errNotFound(c, "auto-detection is not configured")
		}
		resp := fiber.Map{"state": deps.Detector.State().String()}
		if res, ok := deps.Detector.LastResult(); ok {
			resp["result"] = res
		}
		return c.JSON(resp)
	}
}

// RunDetectionHandler triggers detection. Only the first run in the
// process does anything; later calls report already_ran.
func RunDetectionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Detector == nil {
			return errNotFound(c, "auto-detection is not configured")
		}
		res := deps.Detector.Run(c.UserContext())
		return c.JSON(fiber.Map{
			"state":  deps.Detector.State().String(),
			"result": res,
		})
	}
}

// HomeListingsHandler returns the newest listings near the active filter.
func HomeListingsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		page := pageFromQuery(c)
		result, err := deps.Listings.Home(c.UserContext(), page)
		if err != nil {
			return errInternal(c, err)
		}
		return listingPage(c, page, result)
	}
}

// SearchListingsHandler searches listing titles near the active filter.
func SearchListingsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		query := strings.TrimSpace(c.Query("q"))
		if query == "" {
			return errBadRequest(c, "q query parameter is required")
		}
		if len(query) > 200 {
			return errBadRequest(c, "query too long (max 200 characters)")
		}

		page := pageFromQuery(c)
		result, err := deps.Listings.Search(c.UserContext(), query, page)
		if err != nil {
			return errInternal(c, err)
		}
		return listingPage(c, page, result)
	}
}

// CategoryListingsHandler returns listings in a category near the active filter.
func CategoryListingsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		category := strings.TrimSpace(c.Params("category"))
		if category == "" {
			return errBadRequest(c, "category is required")
		}

		page := pageFromQuery(c)
		result, err := deps.Listings.ByCategory(c.UserContext(), category, page)
		if err != nil {
			return errInternal(c, err)
		}
		return listingPage(c, page, result)
	}
}

// GetListingHandler returns a single listing by ID.
func GetListingHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "listing id is required")
		}
		listing, err := deps.Listings.GetByID(c.UserContext(), id)
		if err != nil {
			return errFromDomain(c, err, "listing not found")
		}
		return c.JSON(listing)
	}
}

func listingPage(c *fiber.Ctx, page usecases.Page, result usecases.ListingPage) error {
	listings := result.Listings
	if listings == nil {
		listings = []domain.Listing{}
	}
	pg := newPagination(page, len(listings), result.HasMore)
	SetLinkHeaders(c, pg)
	return c.JSON(PaginatedResponse{Data: listings, Pagination: pg})
}
