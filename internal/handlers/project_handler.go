package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/common"
	"github.com/ternarybob/pagemill/internal/interfaces"
	"github.com/ternarybob/pagemill/internal/models"
	"github.com/ternarybob/pagemill/internal/pipeline"
)

// ProjectHandler manages projects and starts their pipelines.
type ProjectHandler struct {
	store        interfaces.StorageManager
	orchestrator *pipeline.Orchestrator
	logger       arbor.ILogger
}

func NewProjectHandler(store interfaces.StorageManager, orchestrator *pipeline.Orchestrator) *ProjectHandler {
	return &ProjectHandler{
		store:        store,
		orchestrator: orchestrator,
		logger:       common.GetLogger(),
	}
}

// CreateHandler creates a project.
// POST /api/projects
func (h *ProjectHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req struct {
		Name   string `json:"name"`
		Domain string `json:"domain"`
	}
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.Name == "" || req.Domain == "" {
		WriteError(w, http.StatusBadRequest, "name and domain are required")
		return
	}

	now := time.Now()
	project := &models.Project{
		ID:        "proj_" + uuid.New().String(),
		Name:      req.Name,
		Domain:    req.Domain,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.Projects().SaveProject(r.Context(), project); err != nil {
		h.logger.Error().Err(err).Msg("Failed to create project")
		WriteError(w, http.StatusInternalServerError, "failed to create project")
		return
	}

	h.logger.Info().
		Str("project_id", project.ID).
		Str("domain", project.Domain).
		Msg("Project created")
	WriteJSON(w, http.StatusCreated, project)
}

// ProjectRoutes handles /api/projects/{id} and its sub-resources.
func (h *ProjectHandler) ProjectRoutes(w http.ResponseWriter, r *http.Request) {
	id := PathSegment(r.URL.Path, "/api/projects/", 0)
	if id == "" {
		WriteError(w, http.StatusBadRequest, "project id is required")
		return
	}

	switch PathSegment(r.URL.Path, "/api/projects/", 1) {
	case "":
		h.projectHandler(w, r, id)
	case "pipeline":
		if PathSegment(r.URL.Path, "/api/projects/", 2) == "start" {
			h.startPipelineHandler(w, r, id)
			return
		}
		WriteError(w, http.StatusNotFound, "unknown pipeline action")
	case "pages":
		h.listPagesHandler(w, r, id)
	case "monitor-runs":
		h.listMonitorRunsHandler(w, r, id)
	default:
		WriteError(w, http.StatusNotFound, "unknown project resource")
	}
}

// projectHandler gets or deletes one project.
// GET|DELETE /api/projects/{id}
func (h *ProjectHandler) projectHandler(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		project, err := h.store.Projects().GetProject(r.Context(), id)
		if err != nil {
			if models.IsEntityGone(err) {
				WriteError(w, http.StatusNotFound, "project not found")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, project)
	case http.MethodDelete:
		if err := h.store.Projects().DeleteProject(r.Context(), id); err != nil && !models.IsEntityGone(err) {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		WriteSuccess(w, "project deleted: "+id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// startPipelineHandler kicks off the build chain for a project.
// POST /api/projects/{id}/pipeline/start
func (h *ProjectHandler) startPipelineHandler(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	jobID, err := h.orchestrator.StartPipeline(r.Context(), id)
	if err != nil {
		if models.IsEntityGone(err) {
			WriteError(w, http.StatusNotFound, "project not found")
			return
		}
		h.logger.Error().Err(err).Str("project_id", id).Msg("Failed to start pipeline")
		WriteError(w, http.StatusInternalServerError, "failed to start pipeline")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":     "started",
		"project_id": id,
		"job_id":     jobID,
	})
}

// listPagesHandler lists a project's pages.
// GET /api/projects/{id}/pages
func (h *ProjectHandler) listPagesHandler(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	pages, err := h.store.Pages().ListPagesByProject(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"project_id": id,
		"pages":      pages,
		"count":      len(pages),
	})
}

// listMonitorRunsHandler lists a project's recent monitor runs.
// GET /api/projects/{id}/monitor-runs
func (h *ProjectHandler) listMonitorRunsHandler(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	runs, err := h.store.MonitorRuns().ListMonitorRuns(r.Context(), id, 50)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"project_id": id,
		"runs":       runs,
		"count":      len(runs),
	})
}
