package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/allfoodsicily/draftdesk/internal/models"
	"github.com/allfoodsicily/draftdesk/internal/orchestrator"
	"github.com/allfoodsicily/draftdesk/internal/sources"
)

// maxBodyBytes caps request bodies; run requests only carry a topic.
const maxBodyBytes = 4 << 10

// Supervisor is the part of *orchestrator.Supervisor the API drives.
type Supervisor interface {
	Submit(ctx context.Context, trigger orchestrator.Trigger) (orchestrator.Ack, error)
	Current() (models.RunReport, bool)
	LastReport() (models.RunReport, bool)
}

// RunHandler serves the run endpoints.
type RunHandler struct {
	supervisor Supervisor
	registry   *sources.Registry
	logger     *slog.Logger
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(supervisor Supervisor, registry *sources.Registry, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		supervisor: supervisor,
		registry:   registry,
		logger:     logger,
	}
}

// RunRequest is the body of POST /api/runs. Without a topic the run is a
// scheduled-kind run started on demand.
type RunRequest struct {
	Topic string `json:"topic"`
}

// RunResponse answers POST /api/runs.
type RunResponse struct {
	Status string `json:"status"` // accepted | busy
	RunID  string `json:"run_id,omitempty"`
}

// SourcesResponse lists the registry.
type SourcesResponse struct {
	Sources []models.Source `json:"sources"`
	Count   int             `json:"count"`
}

// ErrorResponse is the body of every JSON error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StartRun handles POST /api/runs
func (h *RunHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	trigger := orchestrator.Trigger{Kind: models.TriggerScheduled, Origin: "api"}
	if topic := strings.TrimSpace(req.Topic); topic != "" {
		trigger.Kind = models.TriggerInteractive
		trigger.Topic = topic
	}

	ack, err := h.supervisor.Submit(r.Context(), trigger)
	if err != nil {
		if models.KindOf(err) == models.ErrorKindMalformed {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to submit run", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if !ack.Accepted {
		writeJSON(w, http.StatusConflict, RunResponse{Status: "busy"}, h.logger)
		return
	}

	h.logger.Info("run accepted", "run_id", ack.RunID, "trigger", trigger.Kind)
	writeJSON(w, http.StatusAccepted, RunResponse{Status: "accepted", RunID: ack.RunID}, h.logger)
}

// LastRun handles GET /api/runs/last
func (h *RunHandler) LastRun(w http.ResponseWriter, r *http.Request) {
	report, ok := h.supervisor.LastReport()
	if !ok {
		writeError(w, http.StatusNotFound, "No run has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, report, h.logger)
}

// CurrentRun handles GET /api/runs/current
func (h *RunHandler) CurrentRun(w http.ResponseWriter, r *http.Request) {
	report, ok := h.supervisor.Current()
	if !ok {
		writeError(w, http.StatusNotFound, "No run in progress")
		return
	}
	writeJSON(w, http.StatusOK, report, h.logger)
}

// ListSources handles GET /api/sources
func (h *RunHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	list := h.registry.Sources()
	writeJSON(w, http.StatusOK, SourcesResponse{Sources: list, Count: len(list)}, h.logger)
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
