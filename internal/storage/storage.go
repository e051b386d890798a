package storage

import (
	"context"

	"github.com/planwright/planwright/internal/audit"
	"github.com/planwright/planwright/internal/storage/sqlite"
	"github.com/planwright/planwright/internal/types"
)

// Storage defines the interface for governance storage backends
type Storage interface {
	// Runs
	CreateRun(ctx context.Context, run *types.Run) error
	GetRun(ctx context.Context, id string) (*types.Run, error)
	UpdateRun(ctx context.Context, id string, updates map[string]interface{}) error
	ListRuns(ctx context.Context, filter types.RunFilter) ([]*types.Run, error)

	// Phase artifacts. CreateArtifact assigns the next version for the
	// run+phase atomically; rows are never updated afterward except for the
	// review bookkeeping columns.
	CreateArtifact(ctx context.Context, artifact *types.PhaseArtifact) error
	GetArtifact(ctx context.Context, id string) (*types.PhaseArtifact, error)
	GetLatestArtifact(ctx context.Context, runID string, phase types.Phase) (*types.PhaseArtifact, error)
	ListArtifacts(ctx context.Context, runID string) ([]*types.PhaseArtifact, error)
	SetArtifactVerdict(ctx context.Context, id string, verdict types.ReviewVerdict, iteration int) error
	SetArtifactScore(ctx context.Context, id string, overall int) error

	// Quality scores
	CreateScore(ctx context.Context, score *types.QualityScore) error
	GetScores(ctx context.Context, artifactID string) ([]*types.QualityScore, error)
	EffectiveScore(ctx context.Context, artifactID string) (*types.QualityScore, error)

	// Unknowns and resolutions
	CreateUnknown(ctx context.Context, unknown *types.Unknown) error
	GetUnknown(ctx context.Context, id string) (*types.Unknown, error)
	UpdateUnknown(ctx context.Context, id string, updates map[string]interface{}) error
	ListUnknowns(ctx context.Context, filter types.UnknownFilter) ([]*types.Unknown, error)
	CreateResolution(ctx context.Context, res *types.UnknownResolution) error
	GetActiveResolution(ctx context.Context, unknownID string) (*types.UnknownResolution, error)
	UpdateResolution(ctx context.Context, id string, updates map[string]interface{}) error
	AddResolutionStep(ctx context.Context, step *types.ResolutionStep) error
	GetResolutionSteps(ctx context.Context, workflowID string) ([]*types.ResolutionStep, error)

	// Handoffs
	CreateHandoff(ctx context.Context, handoff *types.Handoff) error
	GetHandoff(ctx context.Context, id string) (*types.Handoff, error)
	UpdateHandoffStatus(ctx context.Context, id string, status types.HandoffStatus) error
	ListHandoffs(ctx context.Context, runID string) ([]*types.Handoff, error)

	// Reviews and escalations
	CreateReview(ctx context.Context, review *types.OperatorReview) error
	ListReviews(ctx context.Context, decisionID string) ([]*types.OperatorReview, error)
	CreateEscalation(ctx context.Context, esc *types.Escalation) error
	GetEscalation(ctx context.Context, id string) (*types.Escalation, error)
	UpdateEscalation(ctx context.Context, id string, updates map[string]interface{}) error
	ListEscalations(ctx context.Context, status types.EscalationStatus) ([]*types.Escalation, error)

	// Users
	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, id string) (*types.User, error)

	// Audit chain and operator log (satisfies audit.Store)
	LastChainEntry(ctx context.Context, tenantID string) (*audit.ChainEntry, error)
	AppendChainEntry(ctx context.Context, entry *audit.ChainEntry) error
	ListChainEntries(ctx context.Context, tenantID string, fromSeq int64, limit int) ([]*audit.ChainEntry, error)
	RecordOperatorLog(ctx context.Context, entry *audit.OperatorLogEntry) error
	ListOperatorLog(ctx context.Context, tenantID string, limit int) ([]*audit.OperatorLogEntry, error)

	// Engine instances
	RegisterInstance(ctx context.Context, instance *types.EngineInstance) error
	UpdateHeartbeat(ctx context.Context, instanceID string) error
	CleanupStaleInstances(ctx context.Context, staleSeconds int) (int, error)

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path.
	// Special value ":memory:" creates an in-memory database (useful for tests).
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: "planwright.db",
	}
}

// NewStorage creates a new SQLite storage backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = "planwright.db"
	}
	return sqlite.New(cfg.Path)
}
