package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/antoniostano/careflow/internal/ambient"
	"github.com/antoniostano/careflow/internal/llm"
	"github.com/antoniostano/careflow/internal/notify"
	"github.com/antoniostano/careflow/internal/nurse"
	"github.com/antoniostano/careflow/internal/observability"
	"github.com/antoniostano/careflow/internal/record"
	"github.com/antoniostano/careflow/internal/session"
)

const defaultMaxAudioBytes = 25 << 20

// Options carries the collaborators behind the HTTP surface. Escalations,
// Notifier and Transcriber may be nil; their routes then answer 503.
type Options struct {
	Engine      *nurse.Engine
	Intake      *nurse.Intake
	Followup    *nurse.Followup
	Triage      *nurse.Triage
	Notes       *ambient.NoteGenerator
	Codes       *ambient.CodeSuggester
	Transcriber ambient.Transcriber
	Escalations record.EscalationLister
	Notifier    notify.Notifier
	Metrics     *observability.Metrics
	Logger      zerolog.Logger

	MaxAudioBytes  int64
	AllowAnyOrigin bool
	// Ready reports dependency readiness for /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	opts     Options
	metrics  *observability.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(opts Options) *Server {
	if opts.MaxAudioBytes <= 0 {
		opts.MaxAudioBytes = defaultMaxAudioBytes
	}
	allowAny := opts.AllowAnyOrigin
	return &Server{
		opts:    opts,
		metrics: opts.Metrics,
		log:     opts.Logger.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the serving origin.
				if allowAny {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1/nurse", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Get("/chat/ws", s.handleChatWS)
		r.Get("/chat/{id}/history", s.handleChatHistory)
		r.Delete("/chat/{id}", s.handleEndChat)

		r.Post("/intake/start", s.handleIntakeStart)
		r.Post("/intake/{id}/message", s.handleIntakeMessage)
		r.Get("/intake/{id}", s.handleIntakeStatus)

		r.Post("/followup/start", s.handleFollowupStart)
		r.Post("/followup/{id}/message", s.handleFollowupMessage)
		r.Get("/followup/{id}", s.handleFollowupStatus)

		r.Post("/triage", s.handleTriage)

		r.Get("/escalations", s.handleListEscalations)
		r.Get("/escalations/stream", s.handleEscalationStream)
	})

	r.Route("/v1/ambient", func(r chi.Router) {
		r.Post("/transcribe", s.handleTranscribe)
		r.Post("/notes", s.handleNotes)
		r.Post("/codes", s.handleCodes)
	})

	r.Get("/v1/ops/latency", s.handleOpsLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "careflow",
		"transcriber": s.opts.Transcriber != nil,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleOpsLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// fail maps flow and collaborator errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var pe *llm.ProviderError
	switch {
	case errors.Is(err, nurse.ErrInvalidInput), errors.Is(err, ambient.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, ambient.ErrAudioNotFound):
		respondError(w, http.StatusBadRequest, "audio_not_found", err.Error())
	case errors.As(err, &pe):
		s.log.Error().Err(err).Str("path", r.URL.Path).Str("provider", pe.Provider).Msg("model provider failed")
		respondError(w, http.StatusBadGateway, "model_unavailable", "the language model is unavailable, please retry")
	case errors.Is(err, context.DeadlineExceeded):
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request timed out")
		respondError(w, http.StatusBadGateway, "upstream_timeout", "the request timed out upstream")
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// decodeRequest writes a 400 and returns false when the body is not valid
// JSON. An empty body is accepted when allowEmpty is set.
func decodeRequest(w http.ResponseWriter, r *http.Request, out any, allowEmpty bool) bool {
	err := decodeJSON(r, out)
	if err == nil || (allowEmpty && errors.Is(err, errEmptyBody)) {
		return true
	}
	respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	return false
}
