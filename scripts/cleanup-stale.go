// scripts/cleanup-stale.go - Manual stale instance cleanup tool
//
// Removes engine instance rows whose heartbeat stopped. Reads the same
// configuration as the engine (including PLANWRIGHT_* env overrides), so the
// threshold matches what the serve loop considers stale.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/planwright/planwright/internal/config"
	"github.com/planwright/planwright/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "Config file (default planwright.yml if present)")
	staleAfter := flag.Int("stale-after", 0, "Override stale threshold in seconds")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	threshold := cfg.Instance.StaleAfterSeconds
	if *staleAfter > 0 {
		threshold = *staleAfter
	}

	ctx := context.Background()
	fmt.Printf("Connecting to database: %s\n", cfg.Storage.Path)

	store, err := storage.NewStorage(ctx, &storage.Config{Path: cfg.Storage.Path})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	fmt.Printf("Running cleanup (stale threshold: %d seconds)...\n", threshold)

	cleaned, err := store.CleanupStaleInstances(ctx, threshold)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error during cleanup: %v\n", err)
		os.Exit(1)
	}

	if cleaned > 0 {
		fmt.Printf("✓ Cleaned up %d stale instance(s)\n", cleaned)
	} else {
		fmt.Println("✓ No stale instances found")
	}
}
