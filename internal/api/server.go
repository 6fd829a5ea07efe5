// Package api exposes a running engine over HTTP. Every mutating route maps
// to exactly one atomic engine command.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
	"github.com/san-kum/kppsim/internal/engine"
)

// Plant is the engine surface the API drives.
type Plant interface {
	Start() error
	Stop() error
	Reset() error
	Acknowledge() error
	UpdateParams(config.Update) error
	SetTimeStep(dt float64) error
	Perturb(engine.Perturbation) error
	Snapshot() engine.Snapshot
	Ledger() engine.Ledger
	Config() config.Config
	Metrics() map[string]float64
}

type Config struct {
	Bind string
	Port int
	// CommandRate limits mutating requests; zero means unlimited.
	CommandRate  rate.Limit
	CommandBurst int
}

type Server struct {
	cfg     Config
	plant   Plant
	router  *chi.Mux
	logger  *slog.Logger
	limiter *rate.Limiter
}

// New builds the router. ws, when non-nil, is mounted at /ws.
func New(cfg Config, plant Plant, ws http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{cfg: cfg, plant: plant, logger: logger}
	if cfg.CommandRate > 0 {
		burst := cfg.CommandBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(cfg.CommandRate, burst)
	}

	r := chi.NewRouter()
	r.Use(s.accessLog)

	r.Get("/snapshot", s.getSnapshot)
	r.Get("/ledger", s.getLedger)
	r.Get("/config", s.getConfig)
	r.Get("/metrics", s.getMetrics)
	if ws != nil {
		r.Handle("/ws", ws)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.limit)
		r.Post("/start", s.command("start", plant.Start))
		r.Post("/stop", s.command("stop", plant.Stop))
		r.Post("/reset", s.command("reset", plant.Reset))
		r.Post("/ack", s.command("ack", plant.Acknowledge))
		r.Patch("/params", s.patchParams)
		r.Put("/timestep", s.putTimeStep)
		r.Post("/perturb", s.postPerturb)
	})

	s.router = r
	return s
}

// Router returns the underlying router, useful for tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Bind, fmt.Sprint(s.cfg.Port))
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr(), Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxTo, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctxTo)
	}()
	s.logger.Info("api listening", "addr", s.Addr())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "elapsed", time.Since(began))
	})
}

func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("command rate exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusResponse struct {
	Command string `json:"command"`
	State   string `json:"state"`
	Step    int    `json:"step"`
}

func (s *Server) command(name string, fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			s.fail(w, name, err)
			return
		}
		s.ok(w, name)
	}
}

func (s *Server) ok(w http.ResponseWriter, name string) {
	snap := s.plant.Snapshot()
	writeJSON(w, http.StatusOK, statusResponse{Command: name, State: snap.State.String(), Step: snap.Step})
}

func (s *Server) fail(w http.ResponseWriter, name string, err error) {
	s.logger.Warn("command rejected", "command", name, "error", err)
	writeError(w, statusFor(err), err)
}

func (s *Server) patchParams(w http.ResponseWriter, r *http.Request) {
	var u config.Update
	if !decode(w, r, &u) {
		return
	}
	if err := s.plant.UpdateParams(u); err != nil {
		s.fail(w, "params", err)
		return
	}
	s.ok(w, "params")
}

type timeStepRequest struct {
	Dt float64 `json:"dt"`
}

func (s *Server) putTimeStep(w http.ResponseWriter, r *http.Request) {
	var req timeStepRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.plant.SetTimeStep(req.Dt); err != nil {
		s.fail(w, "timestep", err)
		return
	}
	s.ok(w, "timestep")
}

func (s *Server) postPerturb(w http.ResponseWriter, r *http.Request) {
	var pt engine.Perturbation
	if !decode(w, r, &pt) {
		return
	}
	if err := s.plant.Perturb(pt); err != nil {
		s.fail(w, "perturb", err)
		return
	}
	s.ok(w, "perturb")
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.plant.Snapshot())
}

type ledgerResponse struct {
	engine.Ledger
	In       float64 `json:"in"`
	Out      float64 `json:"out"`
	Residual float64 `json:"residual"`
}

func (s *Server) getLedger(w http.ResponseWriter, r *http.Request) {
	l := s.plant.Ledger()
	writeJSON(w, http.StatusOK, ledgerResponse{Ledger: l, In: l.In(), Out: l.Out(), Residual: l.Residual()})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.plant.Config())
}

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.plant.Metrics())
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dynamo.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dynamo.ErrInvalidCommand), errors.Is(err, dynamo.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
