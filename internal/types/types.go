package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Run represents one end-to-end execution of the phase pipeline for a single idea
type Run struct {
	ID           string    `json:"id"`
	Idea         string    `json:"idea"`
	RefinedIdea  string    `json:"refined_idea,omitempty"`
	Status       RunStatus `json:"status"`
	CurrentPhase Phase     `json:"current_phase"`
	PivotCount   int       `json:"pivot_count"`
	Mode         RunMode   `json:"mode"`
	TenantID     string    `json:"tenant_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks if the run has valid field values
func (r *Run) Validate() error {
	if strings.TrimSpace(r.Idea) == "" {
		return fmt.Errorf("idea is required")
	}
	if len(r.Idea) > 10000 {
		return fmt.Errorf("idea must be 10000 characters or less (got %d)", len(r.Idea))
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid run status: %s", r.Status)
	}
	if !r.CurrentPhase.IsValid() {
		return fmt.Errorf("invalid phase: %s", r.CurrentPhase)
	}
	if !r.Mode.IsValid() {
		return fmt.Errorf("invalid run mode: %s", r.Mode)
	}
	return nil
}

// IsTerminal reports whether the run can no longer change state
func (r *Run) IsTerminal() bool {
	return r.Status == RunCompleted || r.Status == RunKilled
}

// RunStatus represents the lifecycle state of a run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunKilled    RunStatus = "killed"
)

// IsValid checks if the run status value is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunRunning, RunPaused, RunCompleted, RunKilled:
		return true
	}
	return false
}

// RunMode controls how much human gating a run gets
type RunMode string

const (
	// ModeSupervised requires operator review whenever gating triggers
	ModeSupervised RunMode = "supervised"
	// ModeAutonomous lets passing artifacts advance without review
	ModeAutonomous RunMode = "autonomous"
)

// IsValid checks if the run mode value is valid
func (m RunMode) IsValid() bool {
	switch m {
	case ModeSupervised, ModeAutonomous:
		return true
	}
	return false
}

// Phase identifies one ordered stage of the pipeline
type Phase string

const (
	PhaseIdeation     Phase = "ideation"
	PhaseValidation   Phase = "validation"
	PhaseArchitecture Phase = "architecture"
	PhaseBlueprint    Phase = "blueprint"
	PhaseTasking      Phase = "tasking"
)

// PhaseOrder is the canonical phase execution sequence
var PhaseOrder = []Phase{
	PhaseIdeation,
	PhaseValidation,
	PhaseArchitecture,
	PhaseBlueprint,
	PhaseTasking,
}

// IsValid checks if the phase value is valid
func (p Phase) IsValid() bool {
	for _, op := range PhaseOrder {
		if p == op {
			return true
		}
	}
	return false
}

// Next returns the successor phase, or false if p is the final phase
func (p Phase) Next() (Phase, bool) {
	for i, op := range PhaseOrder {
		if p == op && i+1 < len(PhaseOrder) {
			return PhaseOrder[i+1], true
		}
	}
	return "", false
}

// Index returns the position of the phase in the pipeline order, or -1
func (p Phase) Index() int {
	for i, op := range PhaseOrder {
		if p == op {
			return i
		}
	}
	return -1
}

// PhaseArtifact is one immutable versioned output of a phase's generation step.
// A new version is appended on every regeneration; existing rows never change.
type PhaseArtifact struct {
	ID              string          `json:"id"`
	RunID           string          `json:"run_id"`
	Phase           Phase           `json:"phase"`
	Version         int             `json:"version"`
	Content         json.RawMessage `json:"content"`
	ReviewVerdict   ReviewVerdict   `json:"review_verdict"`
	ReviewIteration int             `json:"review_iteration"`
	OverallScore    int             `json:"overall_score"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Validate checks if the artifact has valid field values
func (a *PhaseArtifact) Validate() error {
	if a.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if !a.Phase.IsValid() {
		return fmt.Errorf("invalid phase: %s", a.Phase)
	}
	if a.Version < 1 {
		return fmt.Errorf("version must be >= 1 (got %d)", a.Version)
	}
	if len(a.Content) == 0 {
		return fmt.Errorf("content is required")
	}
	return nil
}

// ReviewVerdict is the review outcome recorded on an artifact
type ReviewVerdict string

const (
	VerdictPending  ReviewVerdict = "pending"
	VerdictApproved ReviewVerdict = "approved"
	VerdictRejected ReviewVerdict = "rejected"
	VerdictRevised  ReviewVerdict = "revised"
)

// IsValid checks if the review verdict value is valid
func (v ReviewVerdict) IsValid() bool {
	switch v {
	case VerdictPending, VerdictApproved, VerdictRejected, VerdictRevised:
		return true
	}
	return false
}

// DimensionScore is one weighted scoring dimension with feedback
type DimensionScore struct {
	Dimension string  `json:"dimension"`
	Weight    float64 `json:"weight"`
	Score     int     `json:"score"`
	Feedback  string  `json:"feedback,omitempty"`
}

// Evaluator identifies what produced a quality score
type Evaluator string

const (
	EvaluatorAutomated Evaluator = "automated"
	EvaluatorOperator  Evaluator = "operator"
	EvaluatorHybrid    Evaluator = "hybrid"
)

// IsValid checks if the evaluator value is valid
func (e Evaluator) IsValid() bool {
	switch e {
	case EvaluatorAutomated, EvaluatorOperator, EvaluatorHybrid:
		return true
	}
	return false
}

// QualityScore records one grading of an artifact version. Operator overrides
// are stored as additional rows, never as updates to the automated row.
type QualityScore struct {
	ID          string           `json:"id"`
	ArtifactID  string           `json:"artifact_id"`
	RunID       string           `json:"run_id"`
	Phase       Phase            `json:"phase"`
	Overall     int              `json:"overall"`
	Dimensions  []DimensionScore `json:"dimensions,omitempty"`
	Evaluator   Evaluator        `json:"evaluator"`
	EvaluatorID string           `json:"evaluator_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Validate checks if the quality score has valid field values
func (q *QualityScore) Validate() error {
	if q.ArtifactID == "" {
		return fmt.Errorf("artifact_id is required")
	}
	if q.Overall < 0 || q.Overall > 100 {
		return fmt.Errorf("overall score must be in [0,100] (got %d)", q.Overall)
	}
	if !q.Evaluator.IsValid() {
		return fmt.Errorf("invalid evaluator: %s", q.Evaluator)
	}
	return nil
}

// Priority ranks unknowns for resolution urgency
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// IsValid checks if the priority value is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Blocking reports whether an unknown of this priority soft-blocks advancement
func (p Priority) Blocking() bool {
	return p == PriorityCritical || p == PriorityHigh
}

// UnknownStatus is the lifecycle state of a tracked knowledge gap
type UnknownStatus string

const (
	UnknownOpen          UnknownStatus = "open"
	UnknownInvestigating UnknownStatus = "investigating"
	UnknownAnswered      UnknownStatus = "answered"
	UnknownDeferred      UnknownStatus = "deferred"
	UnknownObsolete      UnknownStatus = "obsolete"
)

// IsValid checks if the unknown status value is valid
func (s UnknownStatus) IsValid() bool {
	switch s {
	case UnknownOpen, UnknownInvestigating, UnknownAnswered, UnknownDeferred, UnknownObsolete:
		return true
	}
	return false
}

// Unknown records a knowledge gap discovered during a phase. Never deleted;
// mutated only through the resolution workflow.
type Unknown struct {
	ID              string        `json:"id"`
	RunID           string        `json:"run_id"`
	PhaseDiscovered Phase         `json:"phase_discovered"`
	Category        string        `json:"category"`
	Priority        Priority      `json:"priority"`
	Status          UnknownStatus `json:"status"`
	Question        string        `json:"question"`
	Context         string        `json:"context,omitempty"`
	Assumptions     string        `json:"assumptions,omitempty"`
	Answer          string        `json:"answer,omitempty"`
	Confidence      int           `json:"confidence"`
	AnsweredInPhase Phase         `json:"answered_in_phase,omitempty"`
	AnsweredAt      *time.Time    `json:"answered_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Validate checks if the unknown has valid field values
func (u *Unknown) Validate() error {
	if u.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if strings.TrimSpace(u.Question) == "" {
		return fmt.Errorf("question is required")
	}
	if !u.PhaseDiscovered.IsValid() {
		return fmt.Errorf("invalid phase_discovered: %s", u.PhaseDiscovered)
	}
	if !u.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", u.Priority)
	}
	if !u.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", u.Status)
	}
	if u.Confidence < 0 || u.Confidence > 100 {
		return fmt.Errorf("confidence must be in [0,100] (got %d)", u.Confidence)
	}
	return nil
}

// ResolutionStatus is the lifecycle state of an unknown resolution workflow
type ResolutionStatus string

const (
	ResolutionInProgress ResolutionStatus = "in_progress"
	ResolutionCompleted  ResolutionStatus = "completed"
	ResolutionFailed     ResolutionStatus = "failed"
)

// IsValid checks if the resolution status value is valid
func (s ResolutionStatus) IsValid() bool {
	switch s {
	case ResolutionInProgress, ResolutionCompleted, ResolutionFailed:
		return true
	}
	return false
}

// UnknownResolution is one investigation workflow for an unknown.
// At most one non-terminal resolution may exist per unknown.
type UnknownResolution struct {
	ID          string           `json:"id"`
	UnknownID   string           `json:"unknown_id"`
	Status      ResolutionStatus `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// ResolutionStep is one append-only investigative action within a resolution
type ResolutionStep struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflow_id"`
	Phase       Phase     `json:"phase"`
	Action      string    `json:"action"`
	Result      string    `json:"result,omitempty"`
	Confidence  int       `json:"confidence"`
	CompletedAt time.Time `json:"completed_at"`
}

// Validate checks if the resolution step has valid field values
func (s *ResolutionStep) Validate() error {
	if s.WorkflowID == "" {
		return fmt.Errorf("workflow_id is required")
	}
	if strings.TrimSpace(s.Action) == "" {
		return fmt.Errorf("action is required")
	}
	if s.Confidence < 0 || s.Confidence > 100 {
		return fmt.Errorf("confidence must be in [0,100] (got %d)", s.Confidence)
	}
	return nil
}

// HandoffStatus is the lifecycle state of a phase-to-phase handoff
type HandoffStatus string

const (
	HandoffPending  HandoffStatus = "pending"
	HandoffAccepted HandoffStatus = "accepted"
	HandoffComplete HandoffStatus = "completed"
	HandoffRejected HandoffStatus = "rejected"
)

// IsValid checks if the handoff status value is valid
func (s HandoffStatus) IsValid() bool {
	switch s {
	case HandoffPending, HandoffAccepted, HandoffComplete, HandoffRejected:
		return true
	}
	return false
}

// IsTerminal reports whether the handoff can no longer change state
func (s HandoffStatus) IsTerminal() bool {
	return s == HandoffComplete || s == HandoffRejected
}

// Handoff transfers an artifact and instructions from one phase to the next.
// A rejected handoff is terminal; revision produces a new Handoff.
type Handoff struct {
	ID           string          `json:"id"`
	RunID        string          `json:"run_id"`
	FromPhase    Phase           `json:"from_phase"`
	ToPhase      Phase           `json:"to_phase"`
	Status       HandoffStatus   `json:"status"`
	ArtifactID   string          `json:"artifact_id"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Instructions string          `json:"instructions,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Validate checks if the handoff has valid field values, including that
// to_phase is the pipeline successor of from_phase
func (h *Handoff) Validate() error {
	if h.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if h.ArtifactID == "" {
		return fmt.Errorf("artifact_id is required")
	}
	if !h.FromPhase.IsValid() {
		return fmt.Errorf("invalid from_phase: %s", h.FromPhase)
	}
	if !h.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", h.Status)
	}
	next, ok := h.FromPhase.Next()
	if !ok {
		return fmt.Errorf("phase %s has no successor to hand off to", h.FromPhase)
	}
	if h.ToPhase != next {
		return fmt.Errorf("to_phase must be %s (the successor of %s), got %s", next, h.FromPhase, h.ToPhase)
	}
	return nil
}

// ReviewAction is one operator decision on a phase artifact
type ReviewAction string

const (
	ActionApprove  ReviewAction = "approve"
	ActionReject   ReviewAction = "reject"
	ActionRevise   ReviewAction = "revise"
	ActionEscalate ReviewAction = "escalate"
)

// IsValid checks if the review action value is valid
func (a ReviewAction) IsValid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionRevise, ActionEscalate:
		return true
	}
	return false
}

// OperatorReview is one immutable review action taken on a decision.
// A decision may accumulate many reviews.
type OperatorReview struct {
	ID                   string       `json:"id"`
	DecisionID           string       `json:"decision_id"`
	OperatorID           string       `json:"operator_id"`
	OperatorRole         Role         `json:"operator_role"`
	Action               ReviewAction `json:"action"`
	Confidence           int          `json:"confidence"`
	Feedback             string       `json:"feedback,omitempty"`
	RevisionInstructions string       `json:"revision_instructions,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
}

// Validate checks if the review has valid field values
func (r *OperatorReview) Validate() error {
	if r.DecisionID == "" {
		return fmt.Errorf("decision_id is required")
	}
	if r.OperatorID == "" {
		return fmt.Errorf("operator_id is required")
	}
	if !r.Action.IsValid() {
		return fmt.Errorf("invalid review action: %s", r.Action)
	}
	if !r.OperatorRole.IsValid() {
		return fmt.Errorf("invalid operator role: %s", r.OperatorRole)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("confidence must be in [0,100] (got %d)", r.Confidence)
	}
	if r.Action == ActionRevise && strings.TrimSpace(r.RevisionInstructions) == "" {
		return fmt.Errorf("revision_instructions are required for revise actions")
	}
	return nil
}

// EscalationStatus is the lifecycle state of an escalation
type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "pending"
	EscalationInReview EscalationStatus = "in_review"
	EscalationResolved EscalationStatus = "resolved"
	EscalationRejected EscalationStatus = "rejected"
)

// IsValid checks if the escalation status value is valid
func (s EscalationStatus) IsValid() bool {
	switch s {
	case EscalationPending, EscalationInReview, EscalationResolved, EscalationRejected:
		return true
	}
	return false
}

// EscalationPriority ranks escalations for supervisor attention
type EscalationPriority string

const (
	EscalationLow    EscalationPriority = "low"
	EscalationMedium EscalationPriority = "medium"
	EscalationHigh   EscalationPriority = "high"
	EscalationUrgent EscalationPriority = "urgent"
)

// IsValid checks if the escalation priority value is valid
func (p EscalationPriority) IsValid() bool {
	switch p {
	case EscalationLow, EscalationMedium, EscalationHigh, EscalationUrgent:
		return true
	}
	return false
}

// Escalation routes a review decision from an operator to a supervisor.
// Only a supervisor or admin may mutate it after creation.
type Escalation struct {
	ID             string             `json:"id"`
	DecisionID     string             `json:"decision_id"`
	FromOperatorID string             `json:"from_operator_id"`
	ToSupervisorID string             `json:"to_supervisor_id,omitempty"`
	Reason         string             `json:"reason"`
	Priority       EscalationPriority `json:"priority"`
	Status         EscalationStatus   `json:"status"`
	Resolution     string             `json:"resolution,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	ResolvedAt     *time.Time         `json:"resolved_at,omitempty"`
}

// Validate checks if the escalation has valid field values
func (e *Escalation) Validate() error {
	if e.DecisionID == "" {
		return fmt.Errorf("decision_id is required")
	}
	if e.FromOperatorID == "" {
		return fmt.Errorf("from_operator_id is required")
	}
	if strings.TrimSpace(e.Reason) == "" {
		return fmt.Errorf("reason is required")
	}
	if !e.Priority.IsValid() {
		return fmt.Errorf("invalid escalation priority: %s", e.Priority)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid escalation status: %s", e.Status)
	}
	return nil
}

// Role is the acting user's role, mapping to a fixed permission set
type Role string

const (
	RoleOperator   Role = "operator"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// IsValid checks if the role value is valid
func (r Role) IsValid() bool {
	switch r {
	case RoleOperator, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

// User is an operator account with a role
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
}
