package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/idvrelay/idvrelay/internal/events"
	"github.com/idvrelay/idvrelay/internal/platform/middleware"
	"github.com/idvrelay/idvrelay/internal/provider"
	"github.com/idvrelay/idvrelay/internal/webhook"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports database reachability for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all injected dependencies for the server. Nil handlers
// leave their routes unregistered.
type Dependencies struct {
	DB                 Pinger
	WebhookHandler     *webhook.Handler
	ProviderHandler    *provider.Handler
	EventsHandler      *events.Handler
	Logger             *slog.Logger
	CORSAllowedOrigins []string
	// APIKeys authenticate callers of the event routes and of session calls
	// that rely on the relay's provider token.
	APIKeys []string
}

type Server struct {
	httpServer *http.Server
	db         Pinger
	handler    http.Handler
}

func New(addr string, deps Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		db: deps.DB,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReadiness)
	mux.Handle("GET /metrics", promhttp.Handler())

	if deps.WebhookHandler != nil {
		deps.WebhookHandler.RegisterRoutes(mux)
	}
	if deps.ProviderHandler != nil {
		deps.ProviderHandler.RegisterRoutes(mux)
	}
	if deps.EventsHandler != nil {
		deps.EventsHandler.RegisterRoutes(mux)
	}

	var handler http.Handler = middleware.APIKey(deps.APIKeys)(mux)
	if deps.Logger != nil {
		handler = middleware.Logging(deps.Logger)(handler)
	}
	handler = middleware.RequestID(handler)
	if len(deps.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(deps.CORSAllowedOrigins)(handler)
	}

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness pings the database when one is configured. The relay can
// verify webhooks and proxy sessions without one.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "database": "disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database ping failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "database": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
