// Package web exposes the JSON/HTTP surface: project CRUD, the event
// query and ingest paths, the live stream, and the AI correlation
// endpoints.
package web

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/calebhsu/codetrail/internal/archdoc"
	"github.com/calebhsu/codetrail/internal/broadcast"
	"github.com/calebhsu/codetrail/internal/config"
	"github.com/calebhsu/codetrail/internal/correlate"
	"github.com/calebhsu/codetrail/internal/llm"
	"github.com/calebhsu/codetrail/internal/watch"
)

// Deps carries everything the handlers need.
type Deps struct {
	DB         *sql.DB
	Cfg        *config.Config
	Bus        *broadcast.Broadcaster
	Supervisor *watch.Supervisor
	Correlator *correlate.Correlator
	Tracker    *archdoc.Tracker
	Client     llm.Client
	Version    string
}

// NewServer configures the HTTP server for the recorder API.
func NewServer(deps Deps) *http.Server {
	h := &Handlers{deps: deps}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.HandleHealth)

	mux.HandleFunc("POST /projects", h.HandleCreateProject)
	mux.HandleFunc("GET /projects", h.HandleListProjects)
	mux.HandleFunc("GET /projects/{id}", h.HandleGetProject)
	mux.HandleFunc("PATCH /projects/{id}", h.HandlePatchProject)
	mux.HandleFunc("DELETE /projects/{id}", h.HandleDeleteProject)
	mux.HandleFunc("GET /projects/{id}/config", h.HandleGetProjectConfig)
	mux.HandleFunc("PUT /projects/{id}/config", h.HandlePutProjectConfig)
	mux.HandleFunc("GET /projects/{id}/technical-doc", h.HandleGetTechnicalDoc)
	mux.HandleFunc("POST /projects/{id}/technical-doc/refresh", h.HandleRefreshTechnicalDoc)

	mux.HandleFunc("GET /events", h.HandleListEvents)
	mux.HandleFunc("GET /events/stream", h.HandleEventStream)
	mux.HandleFunc("GET /events/export", h.HandleExport)

	mux.HandleFunc("POST /prompt", h.HandleLogPrompt)
	mux.HandleFunc("POST /copilot", h.HandleLogChat)
	mux.HandleFunc("POST /error", h.HandleLogError)

	// /ai-chat/stats is more specific than /ai-chat/{id}, so the mux routes
	// it to the stats handler whatever the registration order.
	mux.HandleFunc("GET /ai-chat/stats", h.HandleAIStats)
	mux.HandleFunc("POST /ai-chat", h.HandleInsertConversation)
	mux.HandleFunc("GET /ai-chat", h.HandleListConversations)
	mux.HandleFunc("GET /ai-chat/{id}", h.HandleGetConversation)
	mux.HandleFunc("GET /ai-chat/{id}/timeline", h.HandleTimeline)
	mux.HandleFunc("POST /ai-chat/{id}/match", h.HandleManualMatch)

	mux.HandleFunc("POST /summary/run", h.HandleRunSummary)
	mux.HandleFunc("GET /summary/latest", h.HandleLatestSummary)
	mux.HandleFunc("POST /analyze-change", h.HandleAnalyzeChange)
	mux.HandleFunc("POST /implications", h.HandleImplications)

	var handler http.Handler = mux
	if deps.Cfg.CORSEnabled {
		handler = corsMiddleware(deps.Cfg.CORSOrigins, handler)
	}

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", deps.Cfg.Bind, deps.Cfg.Port),
		Handler: handler,
	}
}

// corsMiddleware applies the configured cross-origin policy.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on
// SIGINT/SIGTERM. onShutdown runs before the listener closes so watchers
// and background pools can drain.
func Run(srv *http.Server, onShutdown func()) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Printf("codetrail API on http://%s", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Printf("WARNING: binding to all interfaces; the API has no authentication")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Println("Shutting down...")
		if onShutdown != nil {
			onShutdown()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
