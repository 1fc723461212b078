// Package api serves the local dashboard: a JSON view of the shell plus an
// SSE relay of its live state.
package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"sdpdash/events"
	"sdpdash/logging"
	"sdpdash/shell"
)

// Server exposes one shell over HTTP.
type Server struct {
	shell  *shell.Shell
	broker *events.Broker
	logger *zap.Logger
	webDir string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithWebDir serves a built single-page app from dir. Unknown non-API paths
// fall back to its index.html.
func WithWebDir(dir string) ServerOption {
	return func(s *Server) { s.webDir = dir }
}

// NewServer creates a server for sh. Events are fanned out through broker.
func NewServer(sh *shell.Shell, broker *events.Broker, logger *zap.Logger, opts ...ServerOption) *Server {
	s := &Server{shell: sh, broker: broker, logger: logging.OrNop(logger)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, CORS-enabled handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/state", s.GetState)
	mux.HandleFunc("POST /api/navigate", s.PostNavigate)
	mux.HandleFunc("POST /api/stages/{kind}", s.PostStage)
	mux.HandleFunc("GET /api/search", s.GetSearch)
	mux.HandleFunc("GET /api/settings", s.GetSettings)
	mux.HandleFunc("PUT /api/settings", s.PutSettings)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.PostMarkRead)
	mux.HandleFunc("POST /api/notifications/read-all", s.PostMarkAllRead)
	mux.HandleFunc("PUT /api/changelog/filter", s.PutChangelogFilter)
	mux.HandleFunc("GET /api/runs", s.GetRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.GetRun)
	mux.HandleFunc("GET /api/stats", s.GetStats)
	mux.HandleFunc("GET /api/events", SSEHandler(s.broker))

	if s.webDir != "" {
		if _, err := os.Stat(s.webDir); err != nil {
			s.logger.Warn("web directory not found, serving API only", zap.String("dir", s.webDir))
		} else {
			fileServer := http.FileServer(http.Dir(s.webDir))
			mux.Handle("GET /assets/", fileServer)
			mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
				if strings.HasPrefix(r.URL.Path, "/api/") {
					http.NotFound(w, r)
					return
				}
				http.ServeFile(w, r, filepath.Join(s.webDir, "index.html"))
			})
		}
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
