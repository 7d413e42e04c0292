package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samirrijal/souq/internal/adapters/postgres"
	"github.com/samirrijal/souq/internal/pkg/config"
	"github.com/samirrijal/souq/internal/pkg/logging"
)

const migrationsDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|down>")
	}

	cfg, err := config.Load("souq-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, "text")

	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Database.DSN(), 1)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	files, err := migrationFiles(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			log.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Pool.Exec(ctx, string(data)); err != nil {
			log.Fatalf("exec %s: %v", f, err)
		}
		slog.Info("applied migration", "file", f)
	}

	slog.Info("all migrations applied", "direction", os.Args[1], "count", len(files))
}

// migrationFiles lists NNN_name.sql files in order for up, and their
// NNN_name.down.sql counterparts in reverse order for down.
func migrationFiles(direction string) ([]string, error) {
	all, err := filepath.Glob(filepath.Join(migrationsDir, "*.sql"))
	if err != nil {
		return nil, err
	}

	var files []string
	for _, f := range all {
		down := strings.HasSuffix(f, ".down.sql")
		switch direction {
		case "up":
			if !down {
				files = append(files, f)
			}
		case "down":
			if down {
				files = append(files, f)
			}
		default:
			log.Fatalf("unknown command: %s", direction)
		}
	}

	sort.Strings(files)
	if direction == "down" {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}
	return files, nil
}
