// Package server exposes the governance surface over HTTP: run lifecycle,
// operator review, escalations, unknown tracking, and audit verification.
// Every endpoint except /health requires a bearer operator token; role checks
// are enforced by the domain layer and surface as 403s.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/planwright/planwright/internal/audit"
	"github.com/planwright/planwright/internal/auth"
	"github.com/planwright/planwright/internal/pipeline"
	"github.com/planwright/planwright/internal/review"
	"github.com/planwright/planwright/internal/storage"
	"github.com/planwright/planwright/internal/storage/sqlite"
	"github.com/planwright/planwright/internal/types"
	"github.com/planwright/planwright/internal/unknowns"
)

// Config holds the server's collaborators
type Config struct {
	Pipeline  *pipeline.Pipeline
	Reviews   *review.Manager
	Tracker   *unknowns.Tracker
	Ledger    *audit.Ledger
	Store     storage.Storage
	JWTSecret string
}

// Server is the HTTP governance surface
type Server struct {
	pipeline  *pipeline.Pipeline
	reviews   *review.Manager
	tracker   *unknowns.Tracker
	ledger    *audit.Ledger
	store     storage.Storage
	jwtSecret string
}

// New validates collaborators and builds the server
func New(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.Reviews == nil {
		return nil, fmt.Errorf("review manager is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("unknown tracker is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &Server{
		pipeline:  cfg.Pipeline,
		reviews:   cfg.Reviews,
		tracker:   cfg.Tracker,
		ledger:    cfg.Ledger,
		store:     cfg.Store,
		jwtSecret: cfg.JWTSecret,
	}, nil
}

// Handler builds the route tree
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.requireAuth)

		api.Post("/runs", s.handleCreateRun)
		api.Get("/runs", s.handleListRuns)
		api.Get("/runs/{runID}", s.handleGetRun)
		api.Post("/runs/{runID}/execute", s.handleExecute)
		api.Post("/runs/{runID}/drive", s.handleDrive)
		api.Post("/runs/{runID}/regenerate", s.handleRegenerate)
		api.Post("/runs/{runID}/advance", s.handleAdvance)
		api.Post("/runs/{runID}/kill", s.handleKill)
		api.Post("/runs/{runID}/pause", s.handlePause)
		api.Post("/runs/{runID}/resume", s.handleResume)
		api.Get("/runs/{runID}/artifacts", s.handleListArtifacts)
		api.Get("/runs/{runID}/handoffs", s.handleListHandoffs)
		api.Get("/runs/{runID}/unknowns", s.handleListUnknowns)

		api.Post("/unknowns", s.handleFileUnknown)
		api.Post("/unknowns/{unknownID}/investigate", s.handleInvestigate)
		api.Post("/unknowns/{unknownID}/steps", s.handleAddStep)
		api.Post("/unknowns/{unknownID}/answer", s.handleAnswer)
		api.Post("/unknowns/{unknownID}/defer", s.handleDefer)

		api.Post("/reviews", s.handleReview)
		api.Get("/artifacts/{artifactID}/reviews", s.handleReviewHistory)
		api.Post("/artifacts/{artifactID}/score-override", s.handleScoreOverride)

		api.Get("/escalations", s.handleListEscalations)
		api.Post("/escalations/{escalationID}/take", s.handleTakeEscalation)
		api.Post("/escalations/{escalationID}/resolve", s.handleResolveEscalation)

		api.Get("/audit/entries", s.handleAuditEntries)
		api.Get("/audit/verify", s.handleAuditVerify)
	})

	return r
}

type createRunRequest struct {
	Idea     string `json:"idea"`
	Mode     string `json:"mode"`
	TenantID string `json:"tenant_id"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	actor, _ := principalFrom(r.Context())
	if err := auth.Require(actor.Role, auth.PermRunCreate); err != nil {
		writeError(w, err)
		return
	}
	var req createRunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	mode := types.RunMode(req.Mode)
	if req.Mode == "" {
		mode = types.ModeSupervised
	}
	tenant := req.TenantID
	if tenant == "" {
		tenant = actor.TenantID
	}
	run, err := s.pipeline.CreateRun(r.Context(), req.Idea, mode, tenant)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	actor, _ := principalFrom(r.Context())
	if err := auth.Require(actor.Role, auth.PermRunView); err != nil {
		writeError(w, err)
		return
	}
	filter := types.RunFilter{
		Status:   types.RunStatus(r.URL.Query().Get("status")),
		TenantID: r.URL.Query().Get("tenant_id"),
		Limit:    queryInt(r, "limit", 0),
	}
	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type executeResponse struct {
	Outcome    pipeline.Outcome      `json:"outcome"`
	Phase      types.Phase           `json:"phase"`
	Score      int                   `json:"score,omitempty"`
	Iterations int                   `json:"iterations,omitempty"`
	Artifact   *types.PhaseArtifact  `json:"artifact,omitempty"`
}

func toExecuteResponse(res *pipeline.Result) executeResponse {
	return executeResponse{
		Outcome:    res.Outcome,
		Phase:      res.Phase,
		Score:      res.Score,
		Iterations: res.Iterations,
		Artifact:   res.Artifact,
	}
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	res, err := s.pipeline.ExecutePhase(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExecuteResponse(res))
}

func (s *Server) handleDrive(w http.ResponseWriter, r *http.Request) {
	res, err := s.pipeline.Drive(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExecuteResponse(res))
}

type regenerateRequest struct {
	Instructions string `json:"instructions"`
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.pipeline.Regenerate(r.Context(), chi.URLParam(r, "runID"), req.Instructions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExecuteResponse(res))
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	res, err := s.pipeline.AdvanceApproved(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExecuteResponse(res))
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	actor, _ := principalFrom(r.Context())
	if err := s.pipeline.Kill(r.Context(), actor, chi.URLParam(r, "runID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "killed"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	actor, _ := principalFrom(r.Context())
	if err := s.pipeline.Pause(r.Context(), actor, chi.URLParam(r, "runID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	actor, _ := principalFrom(r.Context())
	if err := s.pipeline.Resume(r.Context(), actor, chi.URLParam(r, "runID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := s.store.ListArtifacts(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifacts)
}

func (s *Server) handleListHandoffs(w http.ResponseWriter, r *http.Request) {
	handoffs, err := s.store.ListHandoffs(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, handoffs)
}

func (s *Server) handleListUnknowns(w http.ResponseWriter, r *http.Request) {
	filter := types.UnknownFilter{
		RunID:        chi.URLParam(r, "runID"),
		Status:       types.UnknownStatus(r.URL.Query().Get("status")),
		BlockingOnly: r.URL.Query().Get("blocking") == "true",
	}
	list, err := s.store.ListUnknowns(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type fileUnknownRequest struct {
	RunID    string `json:"run_id"`
	Phase    string `json:"phase"`
	Category string `json:"category"`
	Priority string `json:"priority"`
	Question string `json:"question"`
	Context  string `json:"context"`
}

func (s *Server) handleFileUnknown(w http.ResponseWriter, r *http.Request) {
	actor, _ := principalFrom(r.Context())
	if err := auth.Require(actor.Role, auth.PermUnknownFile); err != nil {
		writeError(w, err)
		return
	}
	var req fileUnknownRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	u := &types.Unknown{
		RunID:           req.RunID,
		PhaseDiscovered: types.Phase(req.Phase),
		Category:        req.Category,
		Priority:        types.Priority(req.Priority),
		Question:        req.Question,
		Context:         req.Context,
	}
	if err := s.tracker.File(r.Context(), u); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	actor, _ := principalFrom(r.Context())
	if err := auth.Require(actor.Role, auth.PermUnknownWork); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.tracker.StartResolution(r.Context(), chi.URLParam(r, "unknownID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type addStepRequest struct {
	WorkflowID string `json:"workflow_id"`
	Phase      string `json:"phase"`
	Action     string `json:"action"`
	Result     string `json:"result"`
	Confidence int    `json:"confidence"`
}

func (s *Server) handleAddStep(w http.ResponseWriter, r *http.Request) {
	actor, _ := principalFrom(r.Context())
	if err := auth.Require(actor.Role, auth.PermUnknownWork); err != nil {
		writeError(w, err)
		return
	}
	var req addStepRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	step := &types.ResolutionStep{
		WorkflowID: req.WorkflowID,
		Phase:      types.Phase(req.Phase),
		Action:     req.Action,
		Result:     req.Result,
		Confidence: req.Confidence,
	}
	if err := s.tracker.AddStep(r.Context(), step); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, step)
}

type answerRequest struct {
	Answer     string `json:"answer"`
	Confidence int    `json:"confidence"`
	Phase      string `json:"phase"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	actor, _ := principalFrom(r.Context())
	if err := auth.Require(actor.Role, auth.PermUnknownWork); err != nil {
		writeError(w, err)
		return
	}
	var req answerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "unknownID")
	if err := s.tracker.Answer(r.Context(), id, req.Answer, req.Confidence, types.Phase(req.Phase)); err != nil {
		writeError(w, err)
		return
	}
	u, err := s.store.GetUnknown(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type deferRequest struct {
	Assumptions string `json:"assumptions"`
}

func (s *Server) handleDefer(w http.ResponseWriter, r *http.Request) {
	actor, _ := principalFrom(r.Context())
	if err := auth.Require(actor.Role, auth.PermUnknownWork); err != nil {
		writeError(w, err)
		return
	}
	var req deferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "unknownID")
	if err := s.tracker.Defer(r.Context(), id, req.Assumptions); err != nil {
		writeError(w, err)
		return
	}
	u, err := s.store.GetUnknown(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type reviewRequest struct {
	ArtifactID           string `json:"artifact_id"`
	Action               string `json:"action"`
	Confidence           int    `json:"confidence"`
	Feedback             string `json:"feedback"`
	RevisionInstructions string `json:"revision_instructions"`
	EscalationReason     string `json:"escalation_reason"`
	EscalationPriority   string `json:"escalation_priority"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	actor, _ := principalFrom(r.Context())
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.reviews.Review(r.Context(), actor, review.Request{
		ArtifactID:           req.ArtifactID,
		Action:               types.ReviewAction(req.Action),
		Confidence:           req.Confidence,
		Feedback:             req.Feedback,
		RevisionInstructions: req.RevisionInstructions,
		EscalationReason:     req.EscalationReason,
		EscalationPriority:   types.EscalationPriority(req.EscalationPriority),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleReviewHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.reviews.History(r.Context(), chi.URLParam(r, "artifactID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type scoreOverrideRequest struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

func (s *Server) handleScoreOverride(w http.ResponseWriter, r *http.Request) {
	actor, _ := principalFrom(r.Context())
	var req scoreOverrideRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	qs, err := s.reviews.OverrideScore(r.Context(), actor, chi.URLParam(r, "artifactID"), req.Score, req.Feedback)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, qs)
}

func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	escalations, err := s.reviews.PendingEscalations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, escalations)
}

func (s *Server) handleTakeEscalation(w http.ResponseWriter, r *http.Request) {
	actor, _ := principalFrom(r.Context())
	id := chi.URLParam(r, "escalationID")
	if err := s.reviews.TakeEscalation(r.Context(), actor, id); err != nil {
		writeError(w, err)
		return
	}
	esc, err := s.store.GetEscalation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

type resolveEscalationRequest struct {
	Resolution string `json:"resolution"`
	Accept     bool   `json:"accept"`
}

func (s *Server) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	actor, _ := principalFrom(r.Context())
	var req resolveEscalationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "escalationID")
	if err := s.reviews.ResolveEscalation(r.Context(), actor, id, req.Resolution, req.Accept); err != nil {
		writeError(w, err)
		return
	}
	esc, err := s.store.GetEscalation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

func (s *Server) handleAuditEntries(w http.ResponseWriter, r *http.Request) {
	actor, _ := principalFrom(r.Context())
	tenant := r.URL.Query().Get("tenant_id")
	if tenant == "" {
		tenant = actor.TenantID
	}
	fromSeq := int64(queryInt(r, "from", 1))
	limit := queryInt(r, "limit", 100)
	entries, err := s.store.ListChainEntries(r.Context(), tenant, fromSeq, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	actor, _ := principalFrom(r.Context())
	if err := auth.Require(actor.Role, auth.PermAuditVerify); err != nil {
		writeError(w, err)
		return
	}
	tenant := r.URL.Query().Get("tenant_id")
	if tenant == "" {
		tenant = actor.TenantID
	}
	result, err := s.ledger.Verify(r.Context(), tenant)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type errorBody struct {
	Error string `json:"error"`
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrPermissionDenied):
		writeErrorStatus(w, http.StatusForbidden, err.Error())
	case errors.Is(err, sqlite.ErrNotFound):
		writeErrorStatus(w, http.StatusNotFound, err.Error())
	default:
		writeErrorStatus(w, http.StatusBadRequest, err.Error())
	}
}
