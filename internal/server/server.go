// Package server exposes the HTTP surface: health probes, run status,
// and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/venturescope/scraperd/internal/breaker"
	"github.com/venturescope/scraperd/internal/clock/system"
	"github.com/venturescope/scraperd/internal/config"
	"github.com/venturescope/scraperd/internal/metrics"
	"github.com/venturescope/scraperd/internal/pipeline"
)

// BreakerSource reports transport breaker state for /status.
type BreakerSource interface {
	Breakers() []breaker.Status
}

// ScheduleSource reports the last run and the next one for /status.
type ScheduleSource interface {
	Status() (*pipeline.Report, time.Time)
}

// Clock supplies uptime accounting.
type Clock interface {
	Now() time.Time
}

// Server wires the HTTP handlers and owns the listener lifecycle.
type Server struct {
	cfg       config.ServerConfig
	breakers  BreakerSource
	schedule  ScheduleSource
	log       *zap.Logger
	clock     Clock
	router    chi.Router
	startedAt time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithLogger sets the server's logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New constructs a Server with middleware and routes.
func New(cfg config.ServerConfig, breakers BreakerSource, schedule ScheduleSource, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		breakers: breakers,
		schedule: schedule,
		log:      zap.NewNop(),
		clock:    system.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.clock.Now()

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", s.health)
	r.Get("/ping", s.ping)
	r.Get("/status", s.status)
	r.Handle("/metrics", metrics.Handler())

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is canceled, then drains within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": s.clock.Now().Sub(s.startedAt).String(),
	})
}

func (s *Server) ping(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte("pong")); err != nil {
		s.log.Warn("ping write failed", zap.Error(err))
	}
}

// statusResponse is the /status payload.
type statusResponse struct {
	Breakers []breaker.Status `json:"breakers"`
	LastRun  *runSummary      `json:"last_run,omitempty"`
	NextRun  *time.Time       `json:"next_run,omitempty"`
}

type runSummary struct {
	StartedAt time.Time      `json:"started_at"`
	Duration  string         `json:"duration"`
	Sites     int            `json:"sites"`
	Errors    int            `json:"errors"`
	Stages    []stageSummary `json:"stages"`
}

type stageSummary struct {
	Site      string `json:"site"`
	Stage     string `json:"stage"`
	Extracted int    `json:"extracted"`
	Dropped   int    `json:"dropped"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

func summarizeStages(stages []pipeline.StageResult) []stageSummary {
	out := make([]stageSummary, 0, len(stages))
	for _, st := range stages {
		sum := stageSummary{
			Site:      st.Site,
			Stage:     st.Stage,
			Extracted: st.Extracted,
			Dropped:   st.Dropped,
			Inserted:  st.Inserted,
			Updated:   st.Updated,
			Unchanged: st.Unchanged,
			Failed:    st.Failed,
		}
		if st.Err != nil {
			sum.Error = st.Err.Error()
		}
		out = append(out, sum)
	}
	return out
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Breakers: s.breakers.Breakers()}

	if s.schedule != nil {
		report, next := s.schedule.Status()
		if report != nil {
			resp.LastRun = &runSummary{
				StartedAt: report.StartedAt,
				Duration:  report.Duration.String(),
				Sites:     report.Sites,
				Errors:    report.Errs(),
				Stages:    summarizeStages(report.Stages),
			}
		}
		if !next.IsZero() {
			resp.NextRun = &next
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", zap.Error(err))
	}
}
