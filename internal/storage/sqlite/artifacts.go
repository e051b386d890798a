package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/planwright/planwright/internal/types"
)

// CreateArtifact inserts a new artifact version. The version is assigned
// inside a transaction so versions for a run+phase are strictly increasing
// even under concurrent writers.
func (s *SQLiteStorage) CreateArtifact(ctx context.Context, artifact *types.PhaseArtifact) error {
	if artifact.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if !artifact.Phase.IsValid() {
		return fmt.Errorf("invalid phase: %s", artifact.Phase)
	}
	if len(artifact.Content) == 0 {
		return fmt.Errorf("content is required")
	}
	if artifact.ReviewVerdict == "" {
		artifact.ReviewVerdict = types.VerdictPending
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxVersion sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM phase_artifacts WHERE run_id = ? AND phase = ?`,
		artifact.RunID, artifact.Phase).Scan(&maxVersion)
	if err != nil {
		return fmt.Errorf("failed to query max artifact version: %w", err)
	}
	artifact.Version = 1
	if maxVersion.Valid {
		artifact.Version = int(maxVersion.Int64) + 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO phase_artifacts (id, run_id, phase, version, content, review_verdict, review_iteration, overall_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.ID, artifact.RunID, artifact.Phase, artifact.Version,
		string(artifact.Content), artifact.ReviewVerdict, artifact.ReviewIteration,
		artifact.OverallScore, epoch(artifact.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create artifact for %s/%s: %w", artifact.RunID, artifact.Phase, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit artifact: %w", err)
	}
	return nil
}

const artifactColumns = `id, run_id, phase, version, content, review_verdict, review_iteration, overall_score, created_at`

func scanArtifact(scan func(dest ...interface{}) error) (*types.PhaseArtifact, error) {
	var a types.PhaseArtifact
	var content string
	var created int64
	err := scan(&a.ID, &a.RunID, &a.Phase, &a.Version, &content,
		&a.ReviewVerdict, &a.ReviewIteration, &a.OverallScore, &created)
	if err != nil {
		return nil, err
	}
	a.Content = json.RawMessage(content)
	a.CreatedAt = fromEpoch(created)
	return &a, nil
}

// GetArtifact retrieves an artifact by id
func (s *SQLiteStorage) GetArtifact(ctx context.Context, id string) (*types.PhaseArtifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM phase_artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact %s: %w", id, err)
	}
	return a, nil
}

// GetLatestArtifact retrieves the highest version for a run+phase
func (s *SQLiteStorage) GetLatestArtifact(ctx context.Context, runID string, phase types.Phase) (*types.PhaseArtifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM phase_artifacts
		 WHERE run_id = ? AND phase = ? ORDER BY version DESC LIMIT 1`, runID, phase)
	a, err := scanArtifact(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("artifact for %s/%s: %w", runID, phase, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest artifact for %s/%s: %w", runID, phase, err)
	}
	return a, nil
}

// ListArtifacts retrieves all artifacts for a run in phase-then-version order
func (s *SQLiteStorage) ListArtifacts(ctx context.Context, runID string) ([]*types.PhaseArtifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM phase_artifacts WHERE run_id = ? ORDER BY created_at, version`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts for run %s: %w", runID, err)
	}
	defer rows.Close()

	var artifacts []*types.PhaseArtifact
	for rows.Next() {
		a, err := scanArtifact(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// SetArtifactVerdict records the review outcome on an artifact.
// Content and version are immutable; only review bookkeeping changes.
func (s *SQLiteStorage) SetArtifactVerdict(ctx context.Context, id string, verdict types.ReviewVerdict, iteration int) error {
	if !verdict.IsValid() {
		return fmt.Errorf("invalid verdict: %s", verdict)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE phase_artifacts SET review_verdict = ?, review_iteration = ? WHERE id = ?`,
		verdict, iteration, id)
	if err != nil {
		return fmt.Errorf("failed to set verdict on artifact %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetArtifactScore caches the effective overall score on the artifact row
func (s *SQLiteStorage) SetArtifactScore(ctx context.Context, id string, overall int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE phase_artifacts SET overall_score = ? WHERE id = ?`, overall, id)
	if err != nil {
		return fmt.Errorf("failed to set score on artifact %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateScore inserts a quality score row
func (s *SQLiteStorage) CreateScore(ctx context.Context, score *types.QualityScore) error {
	if err := score.Validate(); err != nil {
		return fmt.Errorf("invalid score: %w", err)
	}
	if score.CreatedAt.IsZero() {
		score.CreatedAt = time.Now().UTC()
	}
	dims, err := json.Marshal(score.Dimensions)
	if err != nil {
		return fmt.Errorf("failed to marshal score dimensions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quality_scores (id, artifact_id, run_id, phase, overall, dimensions, evaluator, evaluator_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		score.ID, score.ArtifactID, score.RunID, score.Phase, score.Overall,
		string(dims), score.Evaluator, score.EvaluatorID, epoch(score.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create score for artifact %s: %w", score.ArtifactID, err)
	}
	return nil
}

// GetScores retrieves all score rows for an artifact, oldest first
func (s *SQLiteStorage) GetScores(ctx context.Context, artifactID string) ([]*types.QualityScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, artifact_id, run_id, phase, overall, dimensions, evaluator, evaluator_id, created_at
		FROM quality_scores WHERE artifact_id = ? ORDER BY created_at, id`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("failed to get scores for artifact %s: %w", artifactID, err)
	}
	defer rows.Close()

	var scores []*types.QualityScore
	for rows.Next() {
		q, err := scanScore(rows.Scan)
		if err != nil {
			return nil, err
		}
		scores = append(scores, q)
	}
	return scores, rows.Err()
}

func scanScore(scan func(dest ...interface{}) error) (*types.QualityScore, error) {
	var q types.QualityScore
	var dims string
	var created int64
	if err := scan(&q.ID, &q.ArtifactID, &q.RunID, &q.Phase, &q.Overall,
		&dims, &q.Evaluator, &q.EvaluatorID, &created); err != nil {
		return nil, fmt.Errorf("failed to scan score: %w", err)
	}
	if err := json.Unmarshal([]byte(dims), &q.Dimensions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal score dimensions: %w", err)
	}
	q.CreatedAt = fromEpoch(created)
	return &q, nil
}

// EffectiveScore returns the score that gates the artifact: the newest
// operator/hybrid row if any exists, otherwise the newest automated row.
func (s *SQLiteStorage) EffectiveScore(ctx context.Context, artifactID string) (*types.QualityScore, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, artifact_id, run_id, phase, overall, dimensions, evaluator, evaluator_id, created_at
		FROM quality_scores WHERE artifact_id = ?
		ORDER BY CASE evaluator WHEN 'automated' THEN 0 ELSE 1 END DESC, created_at DESC, id DESC
		LIMIT 1`, artifactID)
	q, err := scanScore(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("score for artifact %s: %w", artifactID, ErrNotFound)
		}
		return nil, err
	}
	return q, nil
}
