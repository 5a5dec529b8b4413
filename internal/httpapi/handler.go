package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"tottag/controller/internal/dispatcher"
	"tottag/controller/internal/events"
	"tottag/controller/internal/faults"
	"tottag/controller/internal/metrics"
	"tottag/controller/internal/session"
)

// Dispatcher accepts operator intents.
//
// *dispatcher.Worker satisfies this.
type Dispatcher interface {
	Submit(in dispatcher.Intent) (dispatcher.Intent, error)
	Pending() int
}

type SessionView interface {
	Snapshot() session.Snapshot
}

type EventSource interface {
	Subscribe(name string, buffer int) *events.Subscription
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires the handler. Nil DB and Downloads disable readiness and
// archive browsing respectively.
type Options struct {
	Dispatcher Dispatcher
	Session    SessionView
	Events     EventSource
	DB         Pinger
	Downloads  DownloadQueries
	Metrics    *metrics.Metrics
}

type Handler struct {
	log        zerolog.Logger
	dispatcher Dispatcher
	session    SessionView
	events     EventSource
	db         Pinger
	downloads  DownloadQueries
	metrics    *metrics.Metrics
}

func NewHandler(log zerolog.Logger, opts Options) *Handler {
	return &Handler{
		log:        log,
		dispatcher: opts.Dispatcher,
		session:    opts.Session,
		events:     opts.Events,
		db:         opts.DB,
		downloads:  opts.Downloads,
		metrics:    opts.Metrics,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	// Long-lived; kept out of the request timeout.
	r.Get("/api/v1/events", h.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))

		// Health
		r.Get("/healthz", h.handleHealthz)
		r.Get("/readyz", h.handleReadyZ)
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

		// API
		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/intents", h.handleSubmitIntent)
			r.Get("/session", h.handleSession)

			r.Route("/downloads", func(r chi.Router) {
				r.Get("/", h.handleListDownloads)
				r.Get("/{id}", h.handleGetDownload)
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		h.metrics.ObserveHTTPRequest(r.Method, path, ww.Status(), duration)

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"version":  versioninfo.Short(),
		"revision": versioninfo.Revision,
	})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.dispatcher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "dispatcher_unavailable", "dispatcher not running", nil)
		return
	}
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

type intentAccepted struct {
	ID   string          `json:"id"`
	Kind dispatcher.Kind `json:"kind"`
}

func (h *Handler) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "dispatcher_unavailable", "dispatcher not running", nil)
		return
	}

	var req dispatcher.Intent
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "invalid JSON body", map[string]any{"error": err.Error()})
		return
	}
	if err := checkIntent(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}

	accepted, err := h.dispatcher.Submit(req)
	if err != nil {
		if errors.Is(err, faults.ErrValidation) {
			h.writeError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
			return
		}
		h.log.Error().Err(err).Str("kind", string(req.Kind)).Msg("submit intent failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "failed to queue intent", nil)
		return
	}

	h.writeJSON(w, http.StatusAccepted, intentAccepted{ID: accepted.ID, Kind: accepted.Kind})
}

// checkIntent rejects requests missing the field their kind needs. Deeper
// validation happens when the intent is handled.
func checkIntent(in dispatcher.Intent) error {
	kind, err := dispatcher.ParseKind(string(in.Kind))
	if err != nil {
		return err
	}
	switch kind {
	case dispatcher.KindConnect:
		if strings.TrimSpace(in.Address) == "" {
			return faults.Validation("connect requires address")
		}
	case dispatcher.KindConfigure:
		if in.Schedule == nil {
			return faults.Validation("configure requires schedule")
		}
	}
	return nil
}

type sessionResponse struct {
	session.Snapshot
	Pending int `json:"pending_intents"`
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if h.session == nil {
		h.writeError(w, http.StatusServiceUnavailable, "session_unavailable", "session not configured", nil)
		return
	}
	resp := sessionResponse{Snapshot: h.session.Snapshot()}
	if h.dispatcher != nil {
		resp.Pending = h.dispatcher.Pending()
	}
	h.writeJSON(w, http.StatusOK, resp)
}
