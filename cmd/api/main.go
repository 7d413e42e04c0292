package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/nats-io/nats.go"
	valkeygo "github.com/valkey-io/valkey-go"
	"golang.org/x/sync/errgroup"

	firestoreadapter "github.com/samirrijal/souq/internal/adapters/firestore"
	"github.com/samirrijal/souq/internal/adapters/http"
	"github.com/samirrijal/souq/internal/adapters/ipgeo"
	"github.com/samirrijal/souq/internal/adapters/memory"
	natsadapter "github.com/samirrijal/souq/internal/adapters/nats"
	"github.com/samirrijal/souq/internal/adapters/nominatim"
	"github.com/samirrijal/souq/internal/adapters/postgres"
	"github.com/samirrijal/souq/internal/adapters/supabase"
	"github.com/samirrijal/souq/internal/adapters/valkey"
	"github.com/samirrijal/souq/internal/core/ports"
	"github.com/samirrijal/souq/internal/core/usecases"
	"github.com/samirrijal/souq/internal/pkg/config"
	"github.com/samirrijal/souq/internal/pkg/logging"
	"github.com/samirrijal/souq/internal/pkg/metrics"
	"github.com/samirrijal/souq/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("souq-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	deps := &http.Dependencies{}

	// Valkey backs the filter store and the listing cache when reachable.
	var vk valkeygo.Client
	if cfg.Valkey.Addr != "" {
		vk, err = valkey.Dial(ctx, cfg.Valkey.Addr)
		if err != nil {
			slog.Warn("valkey unavailable", "addr", cfg.Valkey.Addr, "error", err)
		} else {
			defer vk.Close()
		}
	}

	// Location filter storage
	var kv ports.KeyValueStore
	switch cfg.Storage.Backend {
	case config.StorageValkey:
		if vk == nil {
			log.Fatalf("storage: valkey backend selected but %s is unreachable", cfg.Valkey.Addr)
		}
		store := valkey.NewStore(vk)
		kv, deps.KV = store, store
	case config.StorageFirestore:
		client, err := firestoreadapter.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			log.Fatalf("firestore: %v", err)
		}
		defer client.Close()
		kv = firestoreadapter.NewStore(client, cfg.Firestore.Collection)
	default:
		slog.Warn("location filter is not persisted", "backend", cfg.Storage.Backend)
		kv = memory.NewStore()
	}

	storeOpts := []usecases.StoreOption{
		usecases.WithFilterKey(cfg.Storage.FilterKey),
		usecases.WithWriteTimeout(cfg.Storage.WriteTimeout),
	}
	var natsConn *nats.Conn
	if cfg.NATS.Enabled {
		pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable, filter changes will not be published", "error", err)
		} else {
			defer pub.Close()
			storeOpts = append(storeOpts, usecases.WithPublisher(pub))
		}

		// separate connection for the WebSocket relay
		natsConn, err = natsadapter.RawConn(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats ws conn unavailable", "error", err)
		} else {
			defer natsConn.Drain()
		}
	}
	deps.NATS = natsConn

	filter := usecases.NewLocationFilterStore(kv, storeOpts...)
	deps.Filter = filter

	// Listings
	var repo ports.ListingRepository
	switch cfg.Listings.Backend {
	case config.ListingsSupabase:
		client, err := supabase.NewClient(cfg.Supabase.URL, cfg.Supabase.Key)
		if err != nil {
			log.Fatalf("supabase: %v", err)
		}
		repo = supabase.NewListingRepo(client)
	default:
		db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		repo = postgres.NewListingRepo(db.Pool)
		deps.DB = db
		go reportPoolStats(ctx, db)
	}

	var cache ports.CacheService
	if vk != nil {
		cache = valkey.NewCache(vk, "souq:")
	} else {
		cache = memory.NewCache(time.Minute)
	}
	deps.Listings = usecases.NewListingService(repo, filter, cache,
		usecases.WithCacheTTL(cfg.Listings.CacheTTL))

	// Auto-detection
	geocoder := nominatim.New(nominatim.Config{
		BaseURL:       cfg.Geocoder.URL,
		Language:      cfg.Geocoder.Language,
		UserAgent:     cfg.Geocoder.UserAgent,
		Timeout:       cfg.Geocoder.Timeout,
		RatePerSecond: cfg.Geocoder.RatePerSecond,
	})
	positions := ipgeo.New(cfg.Positioning.URL, cfg.Positioning.Consent, cfg.Positioning.Timeout)
	deps.Detector = usecases.NewAutoLocationDetector(filter, positions, geocoder,
		usecases.WithFallbackName(cfg.Geocoder.FallbackName),
		usecases.WithGeocodeTimeout(cfg.Geocoder.Timeout),
	)

	// Restore the filter, then detect once. Neither blocks startup.
	var bg errgroup.Group
	bg.Go(func() error {
		filter.Load(ctx)
		return nil
	})
	bg.Go(func() error {
		res := deps.Detector.Run(ctx)
		slog.Info("location auto-detection finished", "outcome", res.Outcome, "stage", res.Stage)
		return nil
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    64 * 1024,
		AppName:      "Souq API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "http://localhost:3000, http://localhost:5173",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, If-None-Match",
		MaxAge:       3600,
	}))

	http.SetupRoutes(app, deps)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	// stop detection, then flush filter writes before closing backends
	cancel()
	_ = bg.Wait()
	filter.Wait()

	slog.Info("server stopped")
}

func reportPoolStats(ctx context.Context, db *postgres.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			metrics.UpdateDBPoolMetrics(db.Stat())
		case <-ctx.Done():
			return
		}
	}
}
