package server

import (
	"net/http"

	"github.com/ternarybob/doceo/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Jobs (crawl job management, user-scoped)
	mux.HandleFunc("/api/jobs", s.authed(s.handleJobsCollection))
	mux.HandleFunc("/api/jobs/active", s.authed(s.app.JobHandler.ListActiveJobsHandler))
	mux.HandleFunc("/api/jobs/", s.authed(s.handleJobRoutes)) // Handles /api/jobs/{id} and subpaths

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)
	mux.HandleFunc("/api/version", handlers.VersionHandler)
	mux.HandleFunc("/api/health", handlers.HealthHandler)

	// 404 handler for unmatched routes
	mux.HandleFunc("/api/", handlers.NotFoundHandler)
	mux.HandleFunc("/", handlers.NotFoundHandler)

	return mux
}

// handleJobsCollection routes /api/jobs requests
func (s *Server) handleJobsCollection(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodPost: s.app.JobHandler.CreateJobHandler,
	})
}

// handleJobRoutes routes /api/jobs/{id} and its subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	if RouteByPathSuffix(w, r, "/api/jobs/", []PathSuffixRouter{
		{Suffix: "/stream", Handler: s.app.StreamHandler.StreamJobEventsHandler},
		{Suffix: "/ws", Handler: s.app.WSHandler.ServeJobEventsHandler},
		{Suffix: "/download", Handler: s.app.JobHandler.DownloadJobHandler},
		{Suffix: "/logs", Handler: s.app.JobHandler.GetJobLogsHandler},
	}) {
		return
	}

	// Bare /api/jobs/{id}
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:    s.app.JobHandler.GetJobHandler,
		http.MethodDelete: s.app.JobHandler.CancelJobHandler,
	})
}
