package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/souq/internal/pkg/metrics"
)

const requestTimeout = 15 * time.Second

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestLogger())

	// 120 requests per minute per IP
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())

	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	with := func(h fiber.Handler) fiber.Handler {
		return timeout.NewWithContext(h, requestTimeout)
	}

	v1 := app.Group("/v1")

	v1.Get("/location-filter", GetLocationFilterHandler(deps))
	v1.Put("/location-filter", UpdateLocationFilterHandler(deps))
	v1.Delete("/location-filter", ClearLocationFilterHandler(deps))
	v1.Get("/location-filter/bounds", FilterBoundsHandler(deps))
	v1.Get("/location-filter/contains", FilterContainsHandler(deps))
	v1.Get("/location-filter/detection", DetectionStatusHandler(deps))
	v1.Post("/location-filter/detection", with(RunDetectionHandler(deps)))

	// search must be registered before :id
	v1.Get("/listings", with(HomeListingsHandler(deps)))
	v1.Get("/listings/search", with(SearchListingsHandler(deps)))
	v1.Get("/listings/:id", with(GetListingHandler(deps)))
	v1.Get("/categories/:category/listings", with(CategoryListingsHandler(deps)))

	app.Post("/graphql", with(GraphQLHandler(deps)))

	specPath := deps.OpenAPIPath
	if specPath == "" {
		specPath = DefaultOpenAPIPath
	}
	SetupDocs(app, specPath)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps)))
}
