package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/idvrelay/idvrelay/internal/platform/database"
	"github.com/idvrelay/idvrelay/internal/platform/middleware"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	wsWriteTimeout   = 5 * time.Second
)

// HandlerConfig wires the event endpoints. DB may be nil when no database is
// configured; listing then returns an empty result.
type HandlerConfig struct {
	DB             database.Querier
	Store          *Store
	Hub            *Hub
	OriginPatterns []string
	Logger         *slog.Logger
}

// Handler serves stored events and the live event stream.
type Handler struct {
	db             database.Querier
	store          *Store
	hub            *Hub
	originPatterns []string
	logger         *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Store == nil {
		cfg.Store = NewStore()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		db:             cfg.DB,
		store:          cfg.Store,
		hub:            cfg.Hub,
		originPatterns: cfg.OriginPatterns,
		logger:         cfg.Logger,
	}
}

// RegisterRoutes registers the event routes. Both expose vendor data and
// require a relay API key.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /v1/events", middleware.Timed("events_stream",
		middleware.RequireAPIKey(http.HandlerFunc(h.HandleStream))))
	mux.Handle("GET /v1/session/{sessionId}/events", middleware.Timed("session_events",
		middleware.RequireAPIKey(http.HandlerFunc(h.HandleList))))
}

// HandleList returns stored events for a session.
// GET /v1/session/{sessionId}/events?limit=50
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing session id"})
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxListLimit {
			limit = n
		}
	}

	if h.db == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []Event{}, "count": 0})
		return
	}

	list, err := h.store.ListBySession(r.Context(), h.db, sessionID, limit)
	if err != nil {
		h.logger.Error("listing session events failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if list == nil {
		list = []Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": list, "count": len(list)})
}

// HandleStream upgrades to a WebSocket and pushes accepted events as JSON
// until the client goes away. GET /v1/events?session_id=<id>
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	acceptOpts := &websocket.AcceptOptions{}
	if len(h.originPatterns) > 0 {
		acceptOpts.OriginPatterns = h.originPatterns
	}
	conn, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// Long-lived connection; lift the server write deadline.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	sub := h.hub.Subscribe(sessionID)
	defer sub.Close()

	// Subscribers only listen; CloseRead handles control frames and cancels
	// ctx when the peer disconnects.
	ctx := conn.CloseRead(r.Context())
	h.relay(ctx, conn, sub)
}

func (h *Handler) relay(ctx context.Context, conn *websocket.Conn, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, evt)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
