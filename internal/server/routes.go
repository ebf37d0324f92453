package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Documents
	mux.HandleFunc("/api/documents", s.handleDocumentsRoute)
	mux.HandleFunc("/api/documents/", s.app.DocumentHandler.GetHandler) // GET /{id}

	// API routes - Processing
	mux.HandleFunc("/api/process", s.app.ProcessHandler.ProcessHandler)
	mux.HandleFunc("/api/downgrade", s.app.ProcessHandler.DowngradeHandler)

	// API routes - Queue administration
	mux.HandleFunc("/api/daemon", s.app.QueueHandler.DaemonHandler)
	mux.HandleFunc("/api/queue/clear", s.app.QueueHandler.ClearHandler)

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)

	return mux
}

// handleDocumentsRoute dispatches /api/documents by method: POST is upload,
// GET is list.
func (s *Server) handleDocumentsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.app.DocumentHandler.UploadHandler(w, r)
	case http.MethodGet:
		s.app.DocumentHandler.ListHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
