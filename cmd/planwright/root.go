package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/planwright/planwright/internal/ai"
	"github.com/planwright/planwright/internal/audit"
	"github.com/planwright/planwright/internal/auth"
	"github.com/planwright/planwright/internal/config"
	"github.com/planwright/planwright/internal/handoff"
	"github.com/planwright/planwright/internal/pipeline"
	"github.com/planwright/planwright/internal/review"
	"github.com/planwright/planwright/internal/storage"
	"github.com/planwright/planwright/internal/types"
	"github.com/planwright/planwright/internal/unknowns"
)

var (
	cfgPath   string
	dbPath    string
	actorID   string
	actorRole string
)

var rootCmd = &cobra.Command{
	Use:   "planwright",
	Short: "Plan-generation governance engine",
	Long: `Planwright drives an idea through a five-phase planning pipeline
(ideation, validation, architecture, blueprint, tasking), gating every
phase transition on a quality score and keeping a hash-chained audit
ledger of everything that happened.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file path (default: ./planwright.yml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&actorID, "user", defaultActor(), "Acting user ID for governance actions")
	rootCmd.PersistentFlags().StringVar(&actorRole, "role", "admin", "Acting role: operator, supervisor, or admin")
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

// appEnv bundles the wired engine components behind one open/close pair
type appEnv struct {
	cfg      *config.Config
	store    storage.Storage
	ledger   *audit.Ledger
	broker   *handoff.Broker
	tracker  *unknowns.Tracker
	reviews  *review.Manager
	pipeline *pipeline.Pipeline
}

// unavailableGenerator stands in when a command does not need generation, so
// the pipeline can still be constructed for control operations
type unavailableGenerator struct{}

func (unavailableGenerator) Generate(context.Context, string) (json.RawMessage, error) {
	return nil, fmt.Errorf("generation client not configured (set ANTHROPIC_API_KEY)")
}

// openEnv loads config and wires storage, ledger, and the pipeline. Commands
// that run generation pass needsGenerator so a missing API key fails fast.
func openEnv(ctx context.Context, needsGenerator bool) (*appEnv, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}

	store, err := storage.NewStorage(ctx, &storage.Config{Path: cfg.Storage.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	ledger, err := audit.NewLedger(store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	broker, err := handoff.NewBroker(store, ledger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	tracker, err := unknowns.NewTracker(store, ledger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	reviews, err := review.NewManager(store, ledger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var gen ai.Generator
	if needsGenerator {
		retry := ai.DefaultRetryConfig()
		retry.MaxRetries = cfg.AI.MaxRetries
		retry.Timeout = time.Duration(cfg.AI.TimeoutSeconds) * time.Second
		retry.MaxConcurrentCalls = cfg.AI.MaxConcurrentCalls
		retry.RequestsPerMinute = cfg.AI.RequestsPerMinute
		client, err := ai.NewClient(&ai.Config{
			Model:     cfg.AI.Model,
			MaxTokens: int(cfg.AI.MaxTokens),
			Retry:     retry,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		gen = client
	} else {
		gen = unavailableGenerator{}
	}

	p, err := pipeline.New(&pipeline.Config{
		Store:             store,
		Ledger:            ledger,
		Generator:         gen,
		Broker:            broker,
		Tracker:           tracker,
		Reviews:           reviews,
		Thresholds:        cfg.PhaseThresholds(),
		DefaultThreshold:  cfg.Pipeline.DefaultThreshold,
		MaxSelfIterations: cfg.Pipeline.MaxSelfIterations,
		MaxGenAttempts:    cfg.Pipeline.MaxGenAttempts,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &appEnv{
		cfg:      cfg,
		store:    store,
		ledger:   ledger,
		broker:   broker,
		tracker:  tracker,
		reviews:  reviews,
		pipeline: p,
	}, nil
}

func (e *appEnv) Close() {
	_ = e.store.Close()
}

// actor builds the acting principal from the --user/--role flags
func actor() (auth.Principal, error) {
	role := types.Role(actorRole)
	if !role.IsValid() {
		return auth.Principal{}, fmt.Errorf("invalid role %q (use operator, supervisor, or admin)", actorRole)
	}
	return auth.Principal{UserID: actorID, Role: role, TenantID: "default"}, nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
