package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/hairizuanbinnoorazman/guiagent/artifact"
	"github.com/hairizuanbinnoorazman/guiagent/logger"
	"github.com/hairizuanbinnoorazman/guiagent/run"
	"github.com/hairizuanbinnoorazman/guiagent/runner"
)

// RunManager queues and cancels runs.
type RunManager interface {
	Submit(ctx context.Context, req runner.Request) (*run.Run, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// RunHandler handles run-related requests.
type RunHandler struct {
	runStore  run.Store
	runs      RunManager
	artifacts artifact.Store
	operators map[string]bool
	logger    logger.Logger
}

// NewRunHandler creates a new run handler. Only the named operators are
// accepted. artifacts may be nil when screenshots are not kept.
func NewRunHandler(runStore run.Store, runs RunManager, artifacts artifact.Store, operators []string, log logger.Logger) *RunHandler {
	allowed := make(map[string]bool, len(operators))
	for _, name := range operators {
		allowed[name] = true
	}
	return &RunHandler{
		runStore:  runStore,
		runs:      runs,
		artifacts: artifacts,
		operators: allowed,
		logger:    log,
	}
}

// Register mounts the run routes on r.
func (h *RunHandler) Register(r *mux.Router) {
	r.HandleFunc("/runs", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/runs", h.List).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}", h.GetByID).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/cancel", h.Cancel).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}/screenshots/{iteration}", h.Screenshot).Methods(http.MethodGet)
}

// CreateRunRequest represents a run creation request.
type CreateRunRequest struct {
	Instruction  string `json:"instruction"`
	Operator     string `json:"operator"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// Create queues a new run.
func (h *RunHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := parseJSON(r, &req, h.logger); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Instruction = strings.TrimSpace(req.Instruction)
	if req.Instruction == "" {
		respondError(w, http.StatusBadRequest, "instruction is required")
		return
	}
	if !h.operators[req.Operator] {
		respondError(w, http.StatusBadRequest, "unknown operator: "+req.Operator)
		return
	}

	rec, err := h.runs.Submit(r.Context(), runner.Request{
		Instruction:  req.Instruction,
		Operator:     req.Operator,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		if errors.Is(err, run.ErrInvalidInstruction) || errors.Is(err, run.ErrInvalidOperator) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error(r.Context(), "failed to queue run", map[string]interface{}{
			"error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, "failed to queue run")
		return
	}

	respondJSON(w, http.StatusAccepted, rec)
}

// List handles listing runs, newest first.
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	status := run.Status(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		respondError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	total, err := h.runStore.Count(r.Context(), status)
	if err != nil {
		h.logger.Error(r.Context(), "failed to count runs", map[string]interface{}{
			"error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, "failed to count runs")
		return
	}

	runs, err := h.runStore.List(r.Context(), status, limit, offset)
	if err != nil {
		h.logger.Error(r.Context(), "failed to list runs", map[string]interface{}{
			"error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	respondJSON(w, http.StatusOK, NewPaginatedResponse(runs, total, limit, offset))
}

// GetByID handles getting a single run by ID.
func (h *RunHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDOrRespond(w, r, "id", "run")
	if !ok {
		return
	}

	rec, ok := h.getRun(w, r, id)
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

// Cancel stops a queued or running run. A running run records itself as
// cancelled once its loop returns, so the response may still show it running.
func (h *RunHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDOrRespond(w, r, "id", "run")
	if !ok {
		return
	}

	if err := h.runs.Cancel(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, run.ErrRunNotFound):
			respondError(w, http.StatusNotFound, "run not found")
		case errors.Is(err, run.ErrRunNotActive):
			respondError(w, http.StatusConflict, "run already ended")
		default:
			h.logger.Error(r.Context(), "failed to cancel run", map[string]interface{}{
				"error":  err.Error(),
				"run_id": id,
			})
			respondError(w, http.StatusInternalServerError, "failed to cancel run")
		}
		return
	}

	rec, ok := h.getRun(w, r, id)
	if !ok {
		return
	}

	respondJSON(w, http.StatusAccepted, rec)
}

// Screenshot streams the PNG captured at one iteration of a run.
func (h *RunHandler) Screenshot(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDOrRespond(w, r, "id", "run")
	if !ok {
		return
	}

	iteration, err := strconv.Atoi(mux.Vars(r)["iteration"])
	if err != nil || iteration < 1 {
		respondError(w, http.StatusBadRequest, "invalid iteration: must be a positive integer")
		return
	}

	if h.artifacts == nil {
		respondError(w, http.StatusNotFound, "screenshots are not stored")
		return
	}

	body, err := h.artifacts.Get(r.Context(), artifact.ScreenshotKey(id.String(), iteration))
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			respondError(w, http.StatusNotFound, "screenshot not found")
			return
		}
		h.logger.Error(r.Context(), "failed to read screenshot", map[string]interface{}{
			"error":     err.Error(),
			"run_id":    id,
			"iteration": iteration,
		})
		respondError(w, http.StatusInternalServerError, "failed to read screenshot")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", artifact.ContentTypePNG)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}

func (h *RunHandler) getRun(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*run.Run, bool) {
	rec, err := h.runStore.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, run.ErrRunNotFound) {
			respondError(w, http.StatusNotFound, "run not found")
			return nil, false
		}
		h.logger.Error(r.Context(), "failed to get run", map[string]interface{}{
			"error":  err.Error(),
			"run_id": id,
		})
		respondError(w, http.StatusInternalServerError, "failed to get run")
		return nil, false
	}
	return rec, true
}
