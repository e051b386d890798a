package audit

// EventType identifies the kind of governed state change recorded in the chain
type EventType string

const (
	// Run lifecycle
	EventRunCreated         EventType = "run_created"
	EventPhaseStarted       EventType = "phase_started"
	EventArtifactGenerated  EventType = "artifact_generated"
	EventArtifactScored     EventType = "artifact_scored"
	EventScoreOverridden    EventType = "score_overridden"
	EventRunAdvanced        EventType = "run_advanced"
	EventRunAwaitingReview  EventType = "run_awaiting_review"
	EventRunBlockedUnknown  EventType = "run_blocked_on_unknown"
	EventRunPaused          EventType = "run_paused"
	EventRunResumed         EventType = "run_resumed"
	EventRunKilled          EventType = "run_killed"
	EventRunCompleted       EventType = "run_completed"
	EventGenerationFailed   EventType = "generation_failed"

	// Review and escalation
	EventReviewRecorded     EventType = "review_recorded"
	EventEscalationCreated  EventType = "escalation_created"
	EventEscalationUpdated  EventType = "escalation_updated"
	EventEscalationResolved EventType = "escalation_resolved"

	// Unknown tracking
	EventUnknownFiled       EventType = "unknown_filed"
	EventResolutionStarted  EventType = "resolution_started"
	EventResolutionStep     EventType = "resolution_step_added"
	EventUnknownAnswered    EventType = "unknown_answered"
	EventUnknownDeferred    EventType = "unknown_deferred"

	// Handoffs
	EventHandoffCreated   EventType = "handoff_created"
	EventHandoffAccepted  EventType = "handoff_accepted"
	EventHandoffCompleted EventType = "handoff_completed"
	EventHandoffRejected  EventType = "handoff_rejected"

	// Contract verification
	EventVerificationPassed EventType = "verification_passed"
	EventVerificationFailed EventType = "verification_failed"
	EventTaskRequeued       EventType = "task_requeued"
)
