package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowrule/flowrule/internal/domain"
	"github.com/flowrule/flowrule/internal/executor"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	GetRuleByID(ctx context.Context, ruleID uuid.UUID) (domain.AutomationRule, error)
	ListJobsByRule(ctx context.Context, ruleID uuid.UUID, limit, offset int) ([]domain.QueueJob, error)
}

// Notifier matches a trigger event against the rules in its scope and
// enqueues one job per match.
type Notifier interface {
	Notify(ctx context.Context, event domain.TriggerEvent) (int, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store    Store
	notifier Notifier
	db       HealthChecker
}

func NewHandler(store Store, notifier Notifier) *Handler {
	return &Handler{store: store, notifier: notifier}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/triggers" && r.Method == http.MethodPost:
		h.postTrigger(w, r)

	case strings.HasSuffix(path, "/jobs") && r.Method == http.MethodGet:
		h.listJobs(w, r)

	case strings.HasPrefix(path, "/rules/") && r.Method == http.MethodGet:
		h.getRule(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) postTrigger(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateTrigger(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	scopeID, err := uuid.Parse(req.ScopeID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope_id")
		return
	}

	event := domain.TriggerEvent{
		ScopeID:    scopeID,
		Kind:       domain.NormalizeTriggerKind(domain.TriggerKind(req.Kind)),
		PipelineID: req.PipelineID,
		StageID:    req.StageID,
		EntityID:   req.EntityID,
		EntityType: req.EntityType,
		OccurredAt: time.Now().UTC(),
	}

	enqueued, err := h.notifier.Notify(r.Context(), event)
	if err != nil {
		log.Printf("api: trigger error: %v", err)
		writeError(w, http.StatusBadGateway, "failed to process trigger")
		return
	}

	writeJSON(w, http.StatusAccepted, TriggerResponse{JobsEnqueued: enqueued})
}

func (h *Handler) getRule(w http.ResponseWriter, r *http.Request) {
	// Path: /rules/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "rules" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	ruleID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	rule, err := h.store.GetRuleByID(r.Context(), ruleID)
	if err != nil {
		if errors.Is(err, executor.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		log.Printf("api: get rule error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}

	writeJSON(w, http.StatusOK, ruleResponseFrom(rule))
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	// Path: /rules/{id}/jobs
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "rules" || parts[2] != "jobs" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	ruleID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, err := h.store.ListJobsByRule(r.Context(), ruleID, limit, offset)
	if err != nil {
		log.Printf("api: list jobs error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = jobResponseFrom(job)
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
