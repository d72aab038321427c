package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/common"
	"github.com/ternarybob/pagemill/internal/models"
	"github.com/ternarybob/pagemill/internal/queue"
)

// QueueHandler exposes the queue health snapshot and the pause/resume
// operator controls.
type QueueHandler struct {
	health *queue.HealthReporter
	logger arbor.ILogger
}

func NewQueueHandler(health *queue.HealthReporter) *QueueHandler {
	return &QueueHandler{
		health: health,
		logger: common.GetLogger(),
	}
}

// ListHandler returns per-queue and per-worker stats for every queue.
// GET /api/queues
func (h *QueueHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	snapshot, err := h.health.Snapshot(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Queue snapshot failed")
		WriteError(w, http.StatusInternalServerError, "queue snapshot failed")
		return
	}
	WriteJSON(w, http.StatusOK, snapshot)
}

// QueueRoutes handles /api/queues/{name} and /api/queues/{name}/pause|resume.
func (h *QueueHandler) QueueRoutes(w http.ResponseWriter, r *http.Request) {
	name := models.QueueName(PathSegment(r.URL.Path, "/api/queues/", 0))
	action := PathSegment(r.URL.Path, "/api/queues/", 1)

	switch action {
	case "":
		h.statsHandler(w, r, name)
	case "pause":
		h.pauseHandler(w, r, name)
	case "resume":
		h.resumeHandler(w, r, name)
	default:
		WriteError(w, http.StatusNotFound, "unknown queue action: "+action)
	}
}

// statsHandler returns one queue's stats.
// GET /api/queues/{name}
func (h *QueueHandler) statsHandler(w http.ResponseWriter, r *http.Request, name models.QueueName) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	stats, err := h.health.QueueStats(r.Context(), name)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	workers, err := h.health.WorkerStats(name)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"queue":   stats,
		"workers": workers,
	})
}

// pauseHandler pauses a queue. Idempotent.
// POST /api/queues/{name}/pause
func (h *QueueHandler) pauseHandler(w http.ResponseWriter, r *http.Request, name models.QueueName) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if err := h.health.Pause(name); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	WriteSuccess(w, "queue paused: "+string(name))
}

// resumeHandler resumes a queue. Idempotent.
// POST /api/queues/{name}/resume
func (h *QueueHandler) resumeHandler(w http.ResponseWriter, r *http.Request, name models.QueueName) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if err := h.health.Resume(name); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	WriteSuccess(w, "queue resumed: "+string(name))
}
