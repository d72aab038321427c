package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/common"
	"github.com/ternarybob/pagemill/internal/queue"
)

type APIHandler struct {
	health *queue.HealthReporter
	logger arbor.ILogger
}

func NewAPIHandler(health *queue.HealthReporter) *APIHandler {
	return &APIHandler{
		health: health,
		logger: common.GetLogger(),
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.GetBuild(),
		"git_commit": common.GetGitCommit(),
	})
}

// HealthHandler returns the aggregate engine health snapshot.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	snapshot, err := h.health.Snapshot(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Health snapshot failed")
		WriteError(w, http.StatusInternalServerError, "health snapshot failed")
		return
	}

	status := http.StatusOK
	if !snapshot.Healthy {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, snapshot)
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
