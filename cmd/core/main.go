// Package main provides the CareLog sync core entry point.
// The core is a library first; this binary opens the local cache, applies
// schema migrations and reports the conflict backlog, which is enough for
// host integrations to verify a data directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kimhsiao/carelog/backend/internal/config"
	"github.com/kimhsiao/carelog/backend/internal/db"
	"github.com/kimhsiao/carelog/backend/internal/logging"
	"github.com/kimhsiao/carelog/backend/internal/sync/conflict"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	dataDir := flag.String("data", ".carelog", "data directory for the local cache")
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	fmt.Printf("CareLog Sync Core v%s\n", Version)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	if cfg.DataDir == "" {
		cfg.DataDir = *dataDir
	}

	logging.Init(os.Stdout, logging.ParseLevel(cfg.Logging.Level))

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()

	if err := db.NewMigrator(database.DB).Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	policy := conflict.PolicyFromConfig(cfg.Policy)
	store := conflict.NewStore(database.DB, conflict.NewEngine(policy), nil)

	total, unresolved, err := store.Count(context.Background())
	if err != nil {
		log.Fatalf("count conflicts: %v", err)
	}

	fmt.Printf("data dir: %s\nconflicts: %d total, %d unresolved\n", cfg.DataDir, total, unresolved)
}
