package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cwygoda/livearchive/internal/domain"
	"github.com/cwygoda/livearchive/internal/worker"
)

// JobSource is the read side of the job tracker.
type JobSource interface {
	List() []worker.JobView
	Get(id string) (worker.JobView, error)
	Counts() map[domain.State]int
}

// Server exposes live job state over HTTP for the duration of a run.
type Server struct {
	jobs   JobSource
	runID  string
	mux    *http.ServeMux
	server *http.Server
	log    *zap.Logger
}

// NewServer creates a new status server.
func NewServer(jobs JobSource, runID, addr string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		jobs:  jobs,
		runID: runID,
		mux:   http.NewServeMux(),
		log:   log.Named("http"),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          zap.NewStdLog(s.log),
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// jobResponse is the JSON response for job endpoints.
type jobResponse struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	State      string `json:"state"`
	Strategy   string `json:"strategy,omitempty"`
	Succeeded  *bool  `json:"succeeded,omitempty"`
	RemotePath string `json:"remote_path,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	UpdatedAt  string `json:"updated_at"`
}

type listResponse struct {
	RunID  string         `json:"run_id"`
	Counts map[string]int `json:"counts"`
	Jobs   []jobResponse  `json:"jobs"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	views := s.jobs.List()
	resp := listResponse{
		RunID:  s.runID,
		Counts: make(map[string]int),
		Jobs:   make([]jobResponse, 0, len(views)),
	}
	for state, n := range s.jobs.Counts() {
		resp.Counts[string(state)] = n
	}
	for _, v := range views {
		resp.Jobs = append(resp.Jobs, jobToResponse(v))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	v, err := s.jobs.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.log.Error("get job", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, jobToResponse(v))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "run_id": s.runID})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func jobToResponse(v worker.JobView) jobResponse {
	return jobResponse{
		ID:         v.JobID,
		URL:        string(v.Source),
		State:      string(v.State),
		Strategy:   v.Strategy,
		Succeeded:  v.Succeeded,
		RemotePath: v.RemotePath,
		LocalPath:  v.LocalPath,
		Error:      v.Error,
		StartedAt:  v.StartedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  v.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// ListenAndServe starts the HTTP server. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}
