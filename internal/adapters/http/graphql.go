package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/souq/internal/core/domain"
	"github.com/samirrijal/souq/internal/core/usecases"
)

// buildSchema creates the GraphQL schema wired to our services.
// Field names follow the JSON tags so the default resolver can read the
// domain structs directly.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	coordinatesType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Coordinates",
		Fields: graphql.Fields{
			"latitude":  &graphql.Field{Type: graphql.Float},
			"longitude": &graphql.Field{Type: graphql.Float},
		},
	})

	filterType := graphql.NewObject(graphql.ObjectConfig{
		Name: "LocationFilter",
		Fields: graphql.Fields{
			"name":        &graphql.Field{Type: graphql.String},
			"coordinates": &graphql.Field{Type: coordinatesType},
			"radiusKm":    &graphql.Field{Type: graphql.Float},
		},
	})

	boundsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "BoundingBox",
		Fields: graphql.Fields{
			"minLat": &graphql.Field{Type: graphql.Float},
			"maxLat": &graphql.Field{Type: graphql.Float},
			"minLon": &graphql.Field{Type: graphql.Float},
			"maxLon": &graphql.Field{Type: graphql.Float},
		},
	})

	filterStateType := graphql.NewObject(graphql.ObjectConfig{
		Name: "LocationFilterState",
		Fields: graphql.Fields{
			"filter":              &graphql.Field{Type: filterType},
			"has_custom_location": &graphql.Field{Type: graphql.Boolean},
			"loading":             &graphql.Field{Type: graphql.Boolean},
			"filter_active":       &graphql.Field{Type: graphql.Boolean},
			"zoom":                &graphql.Field{Type: graphql.Int},
			"bounds": &graphql.Field{
				Type: boundsType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Filter.BoundingBox(), nil
				},
			},
		},
	})

	listingType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Listing",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.String},
			"title":       &graphql.Field{Type: graphql.String},
			"description": &graphql.Field{Type: graphql.String},
			"category":    &graphql.Field{Type: graphql.String},
			"price":       &graphql.Field{Type: graphql.Float},
			"currency":    &graphql.Field{Type: graphql.String},
			"location":    &graphql.Field{Type: coordinatesType},
			"distance_km": &graphql.Field{Type: graphql.Float},
			"created_at":  &graphql.Field{Type: graphql.DateTime},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"locationFilter": &graphql.Field{
				Type:        filterStateType,
				Description: "The active location filter",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return filterResponse(deps.Filter.Snapshot()), nil
				},
			},
			"withinRadius": &graphql.Field{
				Type:        graphql.Boolean,
				Description: "Whether a point passes the active location filter",
				Args: graphql.FieldConfigArgument{
					"lat": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lon": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					lat := p.Args["lat"].(float64)
					lon := p.Args["lon"].(float64)
					return deps.Filter.IsWithinRadius(lat, lon), nil
				},
			},
			"listings": &graphql.Field{
				Type:        graphql.NewList(listingType),
				Description: "Listings within the active location filter, newest first",
				Args: graphql.FieldConfigArgument{
					"category": &graphql.ArgumentConfig{Type: graphql.String},
					"query":    &graphql.ArgumentConfig{Type: graphql.String},
					"offset":   &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
					"limit":    &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					page := usecases.Page{Offset: p.Args["offset"].(int), Limit: p.Args["limit"].(int)}
					var (
						result usecases.ListingPage
						err    error
					)
					if q, ok := p.Args["query"].(string); ok && q != "" {
						result, err = deps.Listings.Search(p.Context, q, page)
					} else if cat, ok := p.Args["category"].(string); ok && cat != "" {
						result, err = deps.Listings.ByCategory(p.Context, cat, page)
					} else {
						result, err = deps.Listings.Home(p.Context, page)
					}
					if err != nil {
						return nil, resolverError(p.Context, "listings", err)
					}
					return result.Listings, nil
				},
			},
			"listing": &graphql.Field{
				Type:        listingType,
				Description: "Get a listing by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					l, err := deps.Listings.GetByID(p.Context, p.Args["id"].(string))
					if err != nil {
						return nil, resolverError(p.Context, "listing", err)
					}
					return l, nil
				},
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"setLocationFilter": &graphql.Field{
				Type:        filterStateType,
				Description: "Replace the active location filter",
				Args: graphql.FieldConfigArgument{
					"name":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"latitude":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"longitude": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"radiusKm":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					coords := domain.Coordinates{
						Latitude:  p.Args["latitude"].(float64),
						Longitude: p.Args["longitude"].(float64),
					}
					if err := deps.Filter.Update(p.Args["name"].(string), coords, p.Args["radiusKm"].(float64)); err != nil {
						return nil, resolverError(p.Context, "setLocationFilter", err)
					}
					return filterResponse(deps.Filter.Snapshot()), nil
				},
			},
			"clearLocationFilter": &graphql.Field{
				Type:        filterStateType,
				Description: "Reset the location filter to the default",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					deps.Filter.Clear()
					return filterResponse(deps.Filter.Snapshot()), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
}

var errGraphQLInternal = errors.New("internal server error")

// resolverError keeps repository and backend details out of GraphQL
// responses. Domain errors the caller can act on pass through.
func resolverError(ctx context.Context, field string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.ErrNotFound
	case errors.Is(err, domain.ErrInvalidFilter):
		return err
	default:
		LoggerFromCtx(ctx).Error("graphql resolver failed", "field", field, "error", err)
		return errGraphQLInternal
	}
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
