package sqlite

// All timestamps are stored as integer epoch seconds. Free-form structured
// payloads (artifact content, handoff payloads, score dimensions) are stored
// as serialized JSON text.
const schema = `
-- Runs table
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    idea TEXT NOT NULL,
    refined_idea TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'running' CHECK(status IN ('running', 'paused', 'completed', 'killed')),
    current_phase TEXT NOT NULL DEFAULT 'ideation',
    pivot_count INTEGER NOT NULL DEFAULT 0,
    mode TEXT NOT NULL DEFAULT 'supervised' CHECK(mode IN ('supervised', 'autonomous')),
    tenant_id TEXT NOT NULL DEFAULT 'default',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_tenant ON runs(tenant_id);

-- Phase artifacts: versions are strictly increasing per run+phase and
-- immutable once written (only review bookkeeping columns may change)
CREATE TABLE IF NOT EXISTS phase_artifacts (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    phase TEXT NOT NULL,
    version INTEGER NOT NULL,
    content TEXT NOT NULL,
    review_verdict TEXT NOT NULL DEFAULT 'pending',
    review_iteration INTEGER NOT NULL DEFAULT 0,
    overall_score INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    UNIQUE(run_id, phase, version),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_artifacts_run_phase ON phase_artifacts(run_id, phase);

-- Quality scores: one or more rows per artifact version; operator overrides
-- are new rows, never updates
CREATE TABLE IF NOT EXISTS quality_scores (
    id TEXT PRIMARY KEY,
    artifact_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    phase TEXT NOT NULL,
    overall INTEGER NOT NULL CHECK(overall >= 0 AND overall <= 100),
    dimensions TEXT NOT NULL DEFAULT '[]',
    evaluator TEXT NOT NULL CHECK(evaluator IN ('automated', 'operator', 'hybrid')),
    evaluator_id TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    FOREIGN KEY (artifact_id) REFERENCES phase_artifacts(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_scores_artifact ON quality_scores(artifact_id);

-- Unknowns: never deleted, mutated only through the resolution workflow
CREATE TABLE IF NOT EXISTS unknowns (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    phase_discovered TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    priority TEXT NOT NULL CHECK(priority IN ('critical', 'high', 'medium', 'low')),
    status TEXT NOT NULL DEFAULT 'open' CHECK(status IN ('open', 'investigating', 'answered', 'deferred', 'obsolete')),
    question TEXT NOT NULL,
    context TEXT NOT NULL DEFAULT '',
    assumptions TEXT NOT NULL DEFAULT '',
    answer TEXT NOT NULL DEFAULT '',
    confidence INTEGER NOT NULL DEFAULT 0 CHECK(confidence >= 0 AND confidence <= 100),
    answered_in_phase TEXT NOT NULL DEFAULT '',
    answered_at INTEGER,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_unknowns_run_status ON unknowns(run_id, status);

-- Unknown resolutions: at most one non-terminal resolution per unknown
CREATE TABLE IF NOT EXISTS unknown_resolutions (
    id TEXT PRIMARY KEY,
    unknown_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'in_progress' CHECK(status IN ('in_progress', 'completed', 'failed')),
    started_at INTEGER NOT NULL,
    completed_at INTEGER,
    FOREIGN KEY (unknown_id) REFERENCES unknowns(id) ON DELETE CASCADE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_resolutions_active
    ON unknown_resolutions(unknown_id) WHERE status = 'in_progress';

-- Resolution steps: append-only sequence within a resolution
CREATE TABLE IF NOT EXISTS resolution_steps (
    id TEXT PRIMARY KEY,
    workflow_id TEXT NOT NULL,
    phase TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL,
    result TEXT NOT NULL DEFAULT '',
    confidence INTEGER NOT NULL DEFAULT 0 CHECK(confidence >= 0 AND confidence <= 100),
    completed_at INTEGER NOT NULL,
    FOREIGN KEY (workflow_id) REFERENCES unknown_resolutions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_steps_workflow ON resolution_steps(workflow_id);

-- Handoffs: terminal on completed/rejected; a rejected handoff is never reopened
CREATE TABLE IF NOT EXISTS handoffs (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    from_phase TEXT NOT NULL,
    to_phase TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'accepted', 'completed', 'rejected')),
    artifact_id TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    instructions TEXT NOT NULL DEFAULT '',
    dependencies TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_handoffs_run ON handoffs(run_id);

-- Operator reviews: one immutable row per review action
CREATE TABLE IF NOT EXISTS operator_reviews (
    id TEXT PRIMARY KEY,
    decision_id TEXT NOT NULL,
    operator_id TEXT NOT NULL,
    operator_role TEXT NOT NULL,
    action TEXT NOT NULL CHECK(action IN ('approve', 'reject', 'revise', 'escalate')),
    confidence INTEGER NOT NULL DEFAULT 0 CHECK(confidence >= 0 AND confidence <= 100),
    feedback TEXT NOT NULL DEFAULT '',
    revision_instructions TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reviews_decision ON operator_reviews(decision_id);

-- Escalations: mutated only by the target supervisor
CREATE TABLE IF NOT EXISTS escalations (
    id TEXT PRIMARY KEY,
    decision_id TEXT NOT NULL,
    from_operator_id TEXT NOT NULL,
    to_supervisor_id TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL,
    priority TEXT NOT NULL CHECK(priority IN ('low', 'medium', 'high', 'urgent')),
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'in_review', 'resolved', 'rejected')),
    resolution TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    resolved_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status);

-- Users with role column
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL CHECK(role IN ('operator', 'supervisor', 'admin')),
    tenant_id TEXT NOT NULL DEFAULT 'default',
    created_at INTEGER NOT NULL
);

-- Audit chain: per-tenant monotonic sequence, append-only
CREATE TABLE IF NOT EXISTS audit_chain (
    tenant_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    event_type TEXT NOT NULL,
    payload TEXT NOT NULL,
    prev_hash TEXT NOT NULL,
    hash TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (tenant_id, seq)
);

-- Operator audit log: one row per privileged action attempt
CREATE TABLE IF NOT EXISTS operator_audit_log (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL DEFAULT 'default',
    action TEXT NOT NULL,
    resource_type TEXT NOT NULL DEFAULT '',
    resource_id TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '',
    ip TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT '',
    success INTEGER NOT NULL DEFAULT 1,
    error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_oplog_tenant ON operator_audit_log(tenant_id, created_at);

-- Engine instances for multi-instance coordination
CREATE TABLE IF NOT EXISTS engine_instances (
    instance_id TEXT PRIMARY KEY,
    hostname TEXT NOT NULL,
    pid INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'running' CHECK(status IN ('running', 'stopped')),
    started_at INTEGER NOT NULL,
    last_heartbeat INTEGER NOT NULL,
    version TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_instances_heartbeat ON engine_instances(last_heartbeat);
`
