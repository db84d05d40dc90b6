package server

import (
	"net/http"

	"github.com/ternarybob/aditus/internal/metrics"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Worker protocol
	mux.HandleFunc("/api/poll", s.app.BrokerHandler.PollHandler)       // POST - short poll + heartbeat
	mux.HandleFunc("/api/results", s.app.BrokerHandler.ResultsHandler) // POST - one result per origin

	// Regional analysis management
	mux.HandleFunc("/api/analyses", s.handleAnalysesRoute)                 // GET (list), POST (submit)
	mux.HandleFunc("/api/analyses/", s.app.AnalysisHandler.AnalysisRoutes) // GET/DELETE /{id}
	mux.HandleFunc("/api/jobs", s.app.AnalysisHandler.JobStatusesHandler)  // GET - live broker state
	mux.HandleFunc("/api/fleet", s.app.FleetHandler.FleetStatusHandler)    // GET - worker catalog

	// Event stream
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// System
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleAnalysesRoute dispatches /api/analyses by method
func (s *Server) handleAnalysesRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.AnalysisHandler.ListHandler(w, r)
	case http.MethodPost:
		s.app.AnalysisHandler.SubmitHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
