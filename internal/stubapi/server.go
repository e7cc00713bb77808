// Package stubapi serves a small in-memory store API that trafficgen can be
// pointed at for local runs and tests.
package stubapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/olympisai/trafficgen/internal/loadgen"
)

// Job states reported by the jobs endpoint.
const (
	JobQueued    = "queued"
	JobCompleted = "completed"
)

// Config controls the stub's routes and injected behavior.
type Config struct {
	Paths loadgen.Paths

	// Latency is added to every response
	Latency time.Duration

	// FailureRate is the chance of answering 500 instead of serving the request
	FailureRate float64

	Seed   int64
	Logger *zap.Logger
}

// Store is a created store.
type Store struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	SetupJobID string `json:"setup_job_id"`
}

type job struct {
	ID      string `json:"id"`
	StoreID string `json:"store_id"`
	Status  string `json:"status"`
}

// Server is the stub store API.
type Server struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	rng    *loadgen.Rand
	stores []Store
	jobs   map[string]*job

	requests atomic.Int64
	failures atomic.Int64
}

// New creates a stub server. Zero paths fall back to loadgen.DefaultPaths.
func New(cfg Config) *Server {
	defaults := loadgen.DefaultPaths()
	if cfg.Paths.Healthcheck == "" {
		cfg.Paths.Healthcheck = defaults.Healthcheck
	}
	if cfg.Paths.Profile == "" {
		cfg.Paths.Profile = defaults.Profile
	}
	if cfg.Paths.Stores == "" {
		cfg.Paths.Stores = defaults.Stores
	}
	if cfg.Paths.Jobs == "" {
		cfg.Paths.Jobs = defaults.Jobs
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		rng:    loadgen.NewRand(uint64(loadgen.RunSeed(cfg.Seed))),
		jobs:   make(map[string]*job),
	}
}

// Handler returns the routes of the store API.
func (s *Server) Handler() http.Handler {
	p := s.cfg.Paths
	r := mux.NewRouter()
	r.Use(s.middleware)

	r.HandleFunc(p.Healthcheck, s.healthcheck).Methods(http.MethodGet)
	r.HandleFunc(p.Profile, s.profile).Methods(http.MethodGet)
	r.HandleFunc(p.Stores, s.listStores).Methods(http.MethodGet)
	r.HandleFunc(p.Stores, s.createStore).Methods(http.MethodPost)
	r.HandleFunc(strings.TrimSuffix(p.Jobs, "/")+"/{id}", s.getJob).Methods(http.MethodGet)
	return r
}

// Requests is the number of requests served, including injected failures.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// Failures is the number of injected failures.
func (s *Server) Failures() int64 {
	return s.failures.Load()
}

// Stores returns a copy of the created stores.
func (s *Server) Stores() []Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Store(nil), s.stores...)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5*time.Second + s.cfg.Latency,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("stub store API listening",
		zap.String("addr", addr),
		zap.Duration("latency", s.cfg.Latency),
		zap.Float64("failureRate", s.cfg.FailureRate))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// middleware counts requests and applies injected latency and failures.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)

		if s.cfg.Latency > 0 {
			select {
			case <-time.After(s.cfg.Latency):
			case <-r.Context().Done():
				return
			}
		}

		if s.cfg.FailureRate > 0 && s.draw() < s.cfg.FailureRate {
			s.failures.Add(1)
			s.logger.Debug("injected failure", zap.String("method", r.Method), zap.String("path", r.URL.Path))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "injected failure"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) draw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Server) healthcheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"id":    "user-1",
		"email": "merchant@example.com",
		"name":  "Demo Merchant",
	})
}

func (s *Server) listStores(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.stores)
	start := 0
	if n > 20 {
		start = n - 20
	}
	page := append([]Store(nil), s.stores[start:]...)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"count": n, "results": page})
}

func (s *Server) createStore(w http.ResponseWriter, r *http.Request) {
	var payload loadgen.StorePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if payload.Name == "" || payload.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and url are required"})
		return
	}

	store := Store{
		ID:         uuid.NewString(),
		Name:       payload.Name,
		URL:        payload.URL,
		SetupJobID: uuid.NewString(),
	}

	s.mu.Lock()
	s.stores = append(s.stores, store)
	s.jobs[store.SetupJobID] = &job{ID: store.SetupJobID, StoreID: store.ID, Status: JobQueued}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, store)
}

// getJob reports a job, completing it on its first lookup.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	j, ok := s.jobs[id]
	var snapshot job
	if ok {
		snapshot = *j
		j.Status = JobCompleted
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
