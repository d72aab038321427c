package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket event stream
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Queues (health snapshot, pause/resume control)
	mux.HandleFunc("/api/queues", s.app.QueueHandler.ListHandler)  // GET - all queue stats
	mux.HandleFunc("/api/queues/", s.app.QueueHandler.QueueRoutes) // GET /{name}, POST /{name}/pause|resume

	// API routes - Projects and pipelines
	mux.HandleFunc("/api/projects", s.app.ProjectHandler.CreateHandler)   // POST - create project
	mux.HandleFunc("/api/projects/", s.app.ProjectHandler.ProjectRoutes)  // GET/DELETE /{id}, POST /{id}/pipeline/start

	// API routes - Webhooks
	mux.HandleFunc("/api/webhooks/inbound", s.app.WebhookHandler.InboundHandler) // POST - validated intake
	mux.HandleFunc("/api/webhooks", s.app.WebhookHandler.SubscriptionsHandler)   // GET (list), POST (create)
	mux.HandleFunc("/api/webhooks/", s.app.WebhookHandler.SubscriptionRoutes)    // GET/DELETE /{id}

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
