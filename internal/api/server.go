// Package api serves the HTTP status and item API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dokzlo13/huelink/internal/binding"
	"github.com/dokzlo13/huelink/internal/hue"
	"github.com/dokzlo13/huelink/internal/item"
	"github.com/dokzlo13/huelink/internal/ledger"
	"github.com/dokzlo13/huelink/internal/loop"
	"github.com/dokzlo13/huelink/internal/resources"
	"github.com/dokzlo13/huelink/internal/session"
)

// Caller is the caller identity of item writes received over HTTP.
const Caller = "http"

const defaultCommandLimit = 50

// Status reports the bridge session.
type Status interface {
	State() session.State
	Info() (hue.BridgeInfo, bool)
}

// CommandLog lists recent outbound commands.
type CommandLog interface {
	Recent(limit int) ([]*ledger.Entry, error)
}

// Deps holds what the server reads from. Commands may be nil.
type Deps struct {
	Addr            string
	ShutdownTimeout time.Duration
	Status          Status
	Registry        *item.Registry
	Bindings        *binding.Table
	Cache           *resources.Cache
	Loop            *loop.Loop
	Commands        CommandLog
	Logger          zerolog.Logger
}

// Server is the HTTP API.
type Server struct {
	deps   Deps
	logger zerolog.Logger
}

// New creates a server.
func New(deps Deps) *Server {
	return &Server{deps: deps, logger: deps.Logger}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/bridge", s.handleBridge)

	r.Route("/items", func(r chi.Router) {
		r.Get("/", s.handleListItems)
		r.Get("/{name}", s.handleGetItem)
		r.Put("/{name}", s.handleSetItem)
	})

	r.Get("/resources", s.handleListResources)
	r.Get("/resources/{id}", s.handleGetResource)
	r.Get("/commands", s.handleListCommands)

	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.deps.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.deps.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	s.logger.Info().Str("addr", s.deps.Addr).Msg("Starting API server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type errorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Status: status, Message: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	state := s.deps.Status.State()
	if state != session.Connected {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "session": state.String()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "session": state.String()})
}

type bridgeResponse struct {
	Session string          `json:"session"`
	Bridge  *hue.BridgeInfo `json:"bridge,omitempty"`
}

func (s *Server) handleBridge(w http.ResponseWriter, _ *http.Request) {
	resp := bridgeResponse{Session: s.deps.Status.State().String()}
	if info, ok := s.deps.Status.Info(); ok {
		resp.Bridge = &info
	}
	writeJSON(w, http.StatusOK, resp)
}

type itemResponse struct {
	item.Snapshot
	Binding string `json:"binding,omitempty"`
}

func (s *Server) itemView(v *item.Value) itemResponse {
	resp := itemResponse{Snapshot: v.Snapshot()}
	if s.deps.Bindings != nil {
		if b, ok := s.deps.Bindings.ForItem(v.Name()); ok {
			resp.Binding = b.Key.String()
		}
	}
	return resp
}

func (s *Server) handleListItems(w http.ResponseWriter, _ *http.Request) {
	all := s.deps.Registry.All()
	out := make([]itemResponse, 0, len(all))
	for _, v := range all {
		out = append(out, s.itemView(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	v, ok := s.deps.Registry.Get(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, s.itemView(v))
}

type setItemRequest struct {
	Value any `json:"value"`
}

func (s *Server) handleSetItem(w http.ResponseWriter, r *http.Request) {
	v, ok := s.deps.Registry.Get(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}

	var req setItemRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	v.Write(req.Value, Caller)
	writeJSON(w, http.StatusOK, s.itemView(v))
}

func (s *Server) handleListResources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Cache.IDs())
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var (
		snap  resources.Snapshot
		found bool
	)
	err := s.deps.Loop.DoSyncWithResult(r.Context(), func(context.Context) error {
		snap, found = s.deps.Cache.Snapshot(id)
		return nil
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.deps.Commands == nil {
		writeError(w, http.StatusNotFound, "command ledger disabled")
		return
	}

	limit := defaultCommandLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.deps.Commands.Recent(limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read command ledger")
		writeError(w, http.StatusInternalServerError, "failed to read command ledger")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
