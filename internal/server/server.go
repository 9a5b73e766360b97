// Package server exposes generated artifacts over HTTP and regenerates them
// on demand or on a cron schedule.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/r9s-ai/openclash-overwrite/internal/metrics"
	"github.com/r9s-ai/openclash-overwrite/internal/pipeline"
	"github.com/r9s-ai/openclash-overwrite/pkg/runid"
)

const (
	requestIDHeader = "X-Request-Id"
	shutdownTimeout = 10 * time.Second
)

type Options struct {
	Runner  *pipeline.Runner
	Metrics *metrics.Collector
	// OutputRoot is served under /overwrite.
	OutputRoot string
	// ProcessedRoot is served under /processed_configs when set.
	ProcessedRoot string
	Listen        string
	// Schedule is a standard 5-field cron expression; empty disables it.
	Schedule string
	// Token, when set, is required on POST /api/regenerate as a bearer token
	// or x-api-key header.
	Token  string
	Logger *slog.Logger
}

type Server struct {
	opts   Options
	log    *slog.Logger
	engine *gin.Engine

	mu   sync.Mutex
	cron *cron.Cron
}

func New(opts Options) (*Server, error) {
	if opts.Runner == nil {
		return nil, errors.New("server: runner is nil")
	}
	if strings.TrimSpace(opts.OutputRoot) == "" {
		return nil, errors.New("server: output root is empty")
	}
	if s := strings.TrimSpace(opts.Schedule); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			return nil, fmt.Errorf("server: invalid schedule %q: %w", s, err)
		}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{opts: opts, log: log.With("component", "server")}
	s.engine = s.newRouter()
	return s, nil
}

// Handler returns the gin engine.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(requestIDMiddleware(requestIDHeader))
	r.Use(accessLogMiddleware(s.log))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := r.Group("/api")
	api.GET("/summary", s.handleSummary)
	api.POST("/regenerate", tokenMiddleware(s.opts.Token), s.handleRegenerate)

	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	r.Static("/overwrite", s.opts.OutputRoot)
	if strings.TrimSpace(s.opts.ProcessedRoot) != "" {
		r.Static("/processed_configs", s.opts.ProcessedRoot)
	}
	return r
}

func (s *Server) handleSummary(c *gin.Context) {
	st, err := s.opts.Runner.Last()
	if st == nil && err == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run yet"})
		return
	}
	body := gin.H{"stats": st}
	if err != nil {
		body["last_error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// handleRegenerate runs a full batch. A started batch always completes, even
// when the client goes away.
func (s *Server) handleRegenerate(c *gin.Context) {
	ctx := runid.With(context.WithoutCancel(c.Request.Context()), c.GetString(requestIDHeader))
	st, err := s.opts.Runner.Run(ctx)
	if err != nil {
		s.log.Error("regenerate failed", "request_id", c.GetString(requestIDHeader), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":  st.RunID,
		"total":   st.Total,
		"errors":  st.Errors,
		"skipped": st.Skipped,
	})
}

// StartScheduler registers the cron job. It is a no-op without a schedule.
func (s *Server) StartScheduler(ctx context.Context) error {
	schedule := strings.TrimSpace(s.opts.Schedule)
	if schedule == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("server: scheduler already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { s.scheduledRun(ctx) }); err != nil {
		return fmt.Errorf("server: schedule regeneration: %w", err)
	}
	c.Start()
	s.cron = c
	s.log.Info("scheduler started", "schedule", schedule)
	return nil
}

func (s *Server) scheduledRun(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	st, err := s.opts.Runner.Run(ctx)
	if err != nil {
		s.log.Error("scheduled run failed", "err", err)
		return
	}
	s.log.Info("scheduled run finished", "run_id", st.RunID, "total", st.Total, "errors", st.Errors)
}

// StopScheduler stops the cron job and waits for a running regeneration.
func (s *Server) StopScheduler() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.log.Info("scheduler stopped")
}

// NextRun returns the next scheduled regeneration, or zero when unscheduled.
func (s *Server) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.StartScheduler(ctx); err != nil {
		return err
	}
	defer s.StopScheduler()

	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.opts.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen %s: %w", s.opts.Listen, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}
