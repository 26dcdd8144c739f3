// Package server exposes the admin HTTP surface: channel pairing management,
// runtime settings, credentials, health and metrics, and a websocket feed of
// emitted notifications.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gilibot/streamclips/config"
	"github.com/gilibot/streamclips/notify"
	"github.com/gilibot/streamclips/registry"
	"github.com/gilibot/streamclips/stream"
	"github.com/gilibot/streamclips/telemetry"
)

// Server wires the admin handlers. All fields are required unless noted.
type Server struct {
	Registry *registry.Registry
	Clients  map[stream.Platform]stream.Client
	Creds    stream.CredentialProvider

	// GetInterval/SetInterval read and write the stored poll interval.
	GetInterval func(ctx context.Context) (time.Duration, error)
	SetInterval func(ctx context.Context, d time.Duration) error

	// ClearCredentialAlert re-arms the poll engine's credential alert after
	// an update. Optional.
	ClearCredentialAlert func(p stream.Platform)

	// Dispatcher feeds the websocket endpoint. Optional; without it the
	// endpoint answers 503.
	Dispatcher *notify.Dispatcher

	StartedAt time.Time
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(correlationMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/channels", func(r chi.Router) {
		r.Get("/", s.handleListChannels)
		r.Post("/", s.handleAddChannel)
		r.Delete("/", s.handleRemoveChannel)
	})
	r.Put("/config/poll-interval", s.handleSetPollInterval)
	r.Put("/credentials/{platform}", s.handleSetCredentials)
	r.Get("/ws/notifications", s.handleNotificationsWS)

	return r
}

// correlationMiddleware tags every request with a correlation id, echoed in
// the response for log cross-referencing.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Correlation-ID", id)
		next.ServeHTTP(w, r.WithContext(telemetry.WithCorrelation(r.Context(), id)))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	interval := config.DefaultPollInterval
	if s.GetInterval != nil {
		if d, err := s.GetInterval(r.Context()); err == nil && d > 0 {
			interval = d
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds":        int(time.Since(s.StartedAt).Seconds()),
		"tracked_channels":      len(s.Registry.List()),
		"poll_interval_seconds": int(interval.Seconds()),
		"platforms":             platformTags(),
	})
}

func platformTags() []string {
	platforms := stream.Platforms()
	out := make([]string, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, p.String())
	}
	return out
}

type channelRequest struct {
	Platform    string `json:"platform"`
	Name        string `json:"name"`
	Destination string `json:"destination"`
}

func (s *Server) decodeChannelRequest(w http.ResponseWriter, r *http.Request) (stream.Platform, channelRequest, bool) {
	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return 0, req, false
	}
	if req.Name == "" || req.Destination == "" {
		writeError(w, http.StatusBadRequest, "name and destination are required")
		return 0, req, false
	}
	platform, err := stream.ParsePlatform(req.Platform)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, req, false
	}
	return platform, req, true
}

type channelResponse struct {
	Platform     string   `json:"platform"`
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name"`
	Destinations []string `json:"destinations"`
	KnownClips   int      `json:"known_clips"`
}

func (s *Server) handleListChannels(w http.ResponseWriter, _ *http.Request) {
	channels := s.Registry.List()
	out := make([]channelResponse, 0, len(channels))
	for _, ch := range channels {
		out = append(out, channelResponse{
			Platform:     ch.Platform.String(),
			ID:           ch.Identity.ID,
			Name:         ch.Identity.Name,
			Destinations: ch.Destinations,
			KnownClips:   len(ch.KnownClips),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddChannel(w http.ResponseWriter, r *http.Request) {
	platform, req, ok := s.decodeChannelRequest(w, r)
	if !ok {
		return
	}
	client, ok := s.Clients[platform]
	if !ok {
		writeError(w, http.StatusBadRequest, "platform not available")
		return
	}
	ctx := r.Context()

	// Verify the channel exists before pairing. An already-registered
	// channel skips the round trip.
	ident := stream.Identity{Name: req.Name}
	if existing, found := s.Registry.Find(platform, req.Name); found {
		ident = existing.Identity
	} else {
		resolved, err := client.ResolveIdentity(ctx, ident)
		if err != nil {
			s.writeStreamError(w, err)
			return
		}
		if _, err := client.FetchStreamStatus(ctx, resolved); err != nil {
			s.writeStreamError(w, err)
			return
		}
		ident = resolved
	}

	created, err := s.Registry.Add(ctx, platform, ident, req.Destination)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, map[string]any{"platform": platform.String(), "name": ident.Name, "created": created})
}

func (s *Server) writeStreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stream.ErrNotFound):
		writeError(w, http.StatusNotFound, "channel not found on platform")
	case errors.Is(err, stream.ErrInvalidCredentials):
		writeError(w, http.StatusConflict, "platform credentials are missing or invalid")
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleRemoveChannel(w http.ResponseWriter, r *http.Request) {
	platform, req, ok := s.decodeChannelRequest(w, r)
	if !ok {
		return
	}
	deleted, err := s.Registry.Remove(r.Context(), platform, req.Name, req.Destination)
	if errors.Is(err, stream.ErrNotFound) {
		writeError(w, http.StatusNotFound, "pairing not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (s *Server) handleSetPollInterval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds int `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d := time.Duration(req.Seconds) * time.Second
	if d < config.MinPollInterval {
		writeError(w, http.StatusBadRequest, "poll interval must be at least 60 seconds")
		return
	}
	if s.SetInterval == nil {
		writeError(w, http.StatusServiceUnavailable, "interval store not configured")
		return
	}
	if err := s.SetInterval(r.Context(), d); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	telemetry.SetPollInterval(d)
	writeJSON(w, http.StatusOK, map[string]int{"seconds": req.Seconds})
}

func (s *Server) handleSetCredentials(w http.ResponseWriter, r *http.Request) {
	platform, err := stream.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		APIKey       string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	creds := stream.Credentials{ClientID: req.ClientID, ClientSecret: req.ClientSecret, APIKey: req.APIKey}
	if err := s.Creds.SetCredentials(r.Context(), platform, creds); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.ClearCredentialAlert != nil {
		s.ClearCredentialAlert(platform)
	}
	slog.Info("platform credentials updated",
		slog.String("component", "server"),
		slog.String("platform", platform.String()))
	writeJSON(w, http.StatusOK, map[string]string{"platform": platform.String()})
}
