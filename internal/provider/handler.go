package provider

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/idvrelay/idvrelay/internal/platform/middleware"
)

const maxRequestBody = 1 << 20

// Handler exposes the provider proxy routes.
type Handler struct {
	client *Client
	logger *slog.Logger
}

func NewHandler(client *Client, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{client: client, logger: logger}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /auth/v2/token", middleware.Timed("token", http.HandlerFunc(h.HandleToken)))
	mux.Handle("POST /v1/session", middleware.Timed("create_session", http.HandlerFunc(h.HandleCreateSession)))
	mux.Handle("GET /v1/session/{sessionId}/decision", middleware.Timed("get_decision", http.HandlerFunc(h.HandleGetDecision)))
}

// HandleToken relays a client-credentials exchange using the caller's own
// Basic credentials.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Basic ") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid authorization header"})
		return
	}

	resp, err := h.client.ExchangeToken(r.Context(), authHeader)
	if err != nil {
		h.logger.Error("fetching token failed", "error", err, "request_id", middleware.GetRequestID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch token"})
		return
	}
	relay(w, resp, http.StatusOK)
}

// createSessionRequest holds the fields the provider requires. Values are
// kept raw so they are forwarded exactly as the caller sent them.
type createSessionRequest struct {
	Features   json.RawMessage `json:"features"`
	Callback   json.RawMessage `json:"callback"`
	VendorData json.RawMessage `json:"vendor_data"`
}

func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	bearer, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}
	if !present(req.Features) || !present(req.Callback) || !present(req.VendorData) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required fields"})
		return
	}

	body, err := json.Marshal(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}

	resp, err := h.client.CreateSession(r.Context(), bearer, body)
	if err != nil {
		h.writeUpstreamError(w, r, err, "Failed to create session")
		return
	}
	relay(w, resp, http.StatusCreated)
}

func (h *Handler) HandleGetDecision(w http.ResponseWriter, r *http.Request) {
	bearer, ok := h.authorize(w, r)
	if !ok {
		return
	}

	sessionID := r.PathValue("sessionId")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing session id"})
		return
	}

	resp, err := h.client.GetDecision(r.Context(), bearer, sessionID)
	if err != nil {
		h.writeUpstreamError(w, r, err, "Failed to fetch session decision")
		return
	}
	relay(w, resp, http.StatusOK)
}

func (h *Handler) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	h.logger.Error(msg, "error", err, "request_id", middleware.GetRequestID(r.Context()))
	if errors.Is(err, ErrTokenUnavailable) {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "Failed to obtain provider token"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msg})
}

// authorize resolves the bearer token for a session call. Callers either
// bring their own provider token or present a relay API key, which lets the
// relay use its cached token. Anything else gets 401.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	bearer, ok := bearerToken(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid authorization header"})
		return "", false
	}
	if bearer == "" && !middleware.HasAPIKey(r.Context()) {
		h.logger.Warn("anonymous session call rejected",
			"path", r.URL.Path,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Missing authorization header"})
		return "", false
	}
	return bearer, true
}

// bearerToken returns the caller's bearer token, or "" when none was sent.
// A non-bearer Authorization header is rejected.
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", true
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// present reports whether a JSON value is set and not falsy.
func present(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", `""`, "false", "0":
		return false
	}
	return true
}

// relay writes an upstream reply. Successful replies use successStatus;
// failures keep the upstream status.
func relay(w http.ResponseWriter, resp *Response, successStatus int) {
	status := resp.StatusCode
	if resp.OK() {
		status = successStatus
	}
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
