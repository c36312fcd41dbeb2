// Package server exposes the engine over HTTP. The binding is deliberately
// thin: decode JSON, call the engine or gateway, encode JSON. Validation
// errors surface synchronously as 400s; runtime errors are observable only
// through run-state reads, never as transport failures of other runs.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/executor"
	"github.com/vk/flowgridgo/internal/graph"
	"github.com/vk/flowgridgo/internal/store"
)

// Server holds the handler dependencies.
type Server struct {
	engine *executor.Engine
	store  store.Gateway
}

// New creates the server.
func New(engine *executor.Engine, gw store.Gateway) *Server {
	return &Server{engine: engine, store: gw}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /graph/create", s.handleCreateGraph)
	mux.HandleFunc("POST /graph/run", s.handleRun)
	mux.HandleFunc("POST /graph/run_sync", s.handleRunSync)
	mux.HandleFunc("GET /graph/state/{run_id}", s.handleGetRun)
	mux.HandleFunc("POST /graph/stop/{run_id}", s.handleStopRun)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *Server) handleCreateGraph(w http.ResponseWriter, r *http.Request) {
	var g graph.Graph
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode graph spec: %w", err))
		return
	}

	if err := g.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	version, err := s.store.SaveGraph(r.Context(), &g)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	ctxlog.FromContext(r.Context()).Info("Graph created.", "graph_id", g.ID, "version", version)
	writeJSON(w, http.StatusCreated, map[string]any{
		"graph_id": g.ID,
		"version":  version,
	})
}

type runRequest struct {
	GraphID        string         `json:"graph_id"`
	InitialContext map[string]any `json:"initial_context"`
	// TimeoutSeconds bounds run_sync; 0 waits until terminal.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

func (s *Server) decodeRunRequest(w http.ResponseWriter, r *http.Request) (*runRequest, bool) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode run request: %w", err))
		return nil, false
	}
	if req.GraphID == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing graph_id"))
		return nil, false
	}
	return &req, true
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRunRequest(w, r)
	if !ok {
		return
	}

	state, err := s.engine.CreateRun(r.Context(), req.GraphID, req.InitialContext)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.engine.Start(r.Context(), state.RunID); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": state.RunID,
		"status": state.Status,
	})
}

func (s *Server) handleRunSync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRunRequest(w, r)
	if !ok {
		return
	}

	state, err := s.engine.CreateRun(r.Context(), req.GraphID, req.InitialContext)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	final, err := s.engine.RunSync(r.Context(), state.RunID, time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, final)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.LoadRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if err := s.engine.StopRun(r.Context(), runID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":  runID,
		"stopped": true,
	})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, graph.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
