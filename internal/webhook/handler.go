package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/idvrelay/idvrelay/internal/events"
	"github.com/idvrelay/idvrelay/internal/platform/middleware"
	"github.com/idvrelay/idvrelay/internal/platform/secrets"
)

// SignatureHeader carries the provider's hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Signature"

const defaultMaxBodyBytes = 1 << 20

// HandlerConfig wires the webhook endpoint.
type HandlerConfig struct {
	Verifier *Verifier
	Secret   string
	// SecretSource, when set, supplies the secret per request and takes
	// precedence over Secret.
	SecretSource SecretSource
	Sink         events.Sink
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// SecretSource returns the current shared webhook secret.
type SecretSource interface {
	Secret() []byte
}

// Handler is the HTTP adapter for inbound provider webhooks. It owns raw-body
// capture: the request body is read in full before any JSON decoding and the
// same bytes are handed to the verifier.
type Handler struct {
	verifier *Verifier
	secrets  SecretSource
	sink     events.Sink
	maxBody  int64
	logger   *slog.Logger
	now      func() time.Time
}

func NewHandler(cfg HandlerConfig) *Handler {
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = NewVerifier(DefaultTolerance)
	}
	sink := cfg.Sink
	if sink == nil {
		sink = events.NopSink{}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	secretSource := cfg.SecretSource
	if secretSource == nil {
		secretSource = secrets.Static(cfg.Secret)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		verifier: verifier,
		secrets:  secretSource,
		sink:     sink,
		maxBody:  maxBody,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterRoutes registers the webhook route on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /webhook", middleware.Timed("webhook", http.HandlerFunc(h.HandleWebhook)))
}

// HandleWebhook authenticates and accepts a provider callback.
// POST /webhook
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	log := h.logger.With("request_id", requestID)

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		h.reject(w, log, http.StatusUnauthorized, ErrMissingSignature, "Missing signature")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, log, http.StatusRequestEntityTooLarge, ErrMalformedRequest, "Request body too large")
			return
		}
		h.reject(w, log, http.StatusBadRequest, ErrMalformedRequest, "Invalid request body")
		return
	}

	envelope, err := ParseEnvelope(rawBody, signature)
	if err != nil {
		h.reject(w, log, http.StatusBadRequest, err, publicMalformedMessage(err))
		return
	}

	if err := h.verifier.Check(envelope.RawBody, envelope.Signature, envelope.Timestamp, h.secrets.Secret()); err != nil {
		log.Warn("webhook rejected",
			"reason", err.Error(),
			"session_id", envelope.SessionID,
			"created_at", envelope.Timestamp,
		)
		verifications.WithLabelValues(outcomeLabel(err)).Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
		return
	}
	verifications.WithLabelValues(outcomeLabel(nil)).Inc()

	evt := envelope.Event(h.now(), requestID)
	log.Info("webhook accepted",
		"session_id", evt.SessionID,
		"status", evt.Status,
		"event_id", evt.ID.String(),
	)
	h.sink.Deliver(r.Context(), evt)

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) reject(w http.ResponseWriter, log *slog.Logger, status int, reason error, message string) {
	log.Warn("webhook rejected", "reason", reason.Error(), "status", status)
	verifications.WithLabelValues(outcomeLabel(reason)).Inc()
	writeJSON(w, status, map[string]string{"error": message})
}

func publicMalformedMessage(err error) string {
	switch {
	case errors.Is(err, ErrEmptyBody):
		return "Missing request body"
	case errors.Is(err, ErrInvalidJSON):
		return "Invalid JSON body"
	case errors.Is(err, ErrMissingTimestamp):
		return "Missing created_at timestamp"
	case errors.Is(err, ErrInvalidTimestamp):
		return "Invalid created_at timestamp"
	default:
		return "Invalid request body"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
