package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluviusenergy/fluviusenergy/pkg/config"
	"github.com/fluviusenergy/fluviusenergy/pkg/coordinator"
	"github.com/fluviusenergy/fluviusenergy/pkg/log"
	"github.com/fluviusenergy/fluviusenergy/pkg/storage"
)

// Server refreshes every configured account on an interval and serves the
// results over HTTP.
type Server struct {
	loader  *config.Loader
	source  coordinator.DataSource
	storage storage.Database

	coordinators []*coordinator.Coordinator
	byID         map[string]*coordinator.Coordinator

	registry *prometheus.Registry
	metrics  *metrics

	listenAddr      string
	refreshInterval time.Duration
	refreshOnStart  bool
	serverName      string
	httpServer      *http.Server
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(loader *config.Loader, source coordinator.DataSource, s storage.Database) *Server {
	srv := &Server{
		loader:     loader,
		source:     source,
		storage:    s,
		serverName: "fluviusenergy",
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	refreshInterval := lflag.Duration("refresh-interval", time.Hour, "How often every account is refreshed")
	refreshOnStart := lflag.Bool("refresh-on-start", true, "Refresh every account right after startup")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.refreshInterval = *refreshInterval
		srv.refreshOnStart = *refreshOnStart
		if err := srv.Validate(); err != nil {
			panic(fmt.Sprintf("server validation failed: %v", err))
		}
	})

	return srv
}

// New returns a server for already built coordinators.
func New(s storage.Database, coordinators ...*coordinator.Coordinator) *Server {
	srv := &Server{
		storage:         s,
		refreshInterval: time.Hour,
		serverName:      "fluviusenergy",
	}
	srv.setCoordinators(coordinators)
	return srv
}

// Validate ensures the configuration is valid.
func (s *Server) Validate() error {
	if s.refreshInterval < time.Minute {
		return fmt.Errorf("refresh-interval must be at least 1m, got %s", s.refreshInterval)
	}
	return nil
}

func (s *Server) setCoordinators(cs []*coordinator.Coordinator) {
	s.coordinators = cs
	s.byID = make(map[string]*coordinator.Coordinator, len(cs))
	for _, c := range cs {
		s.byID[c.ID()] = c
	}
	sort.Slice(s.coordinators, func(i, j int) bool {
		return s.coordinators[i].ID() < s.coordinators[j].ID()
	})
	s.registry = prometheus.NewRegistry()
	s.metrics = newMetrics(s.registry)
}

// load builds a coordinator per configured account and reads their stored
// lifetime state.
func (s *Server) load(ctx context.Context) error {
	if s.loader != nil {
		accounts, err := s.loader.Load(ctx)
		if err != nil {
			return err
		}
		cs := make([]*coordinator.Coordinator, 0, len(accounts))
		for _, acct := range accounts {
			cs = append(cs, coordinator.New(acct, s.source, s.storage))
		}
		s.setCoordinators(cs)
	}
	for _, c := range s.coordinators {
		if err := c.Load(ctx); err != nil {
			return fmt.Errorf("failed to load account %s: %w", c.ID(), err)
		}
		s.metrics.observeTotals(c.ID(), c.Totals())
	}
	log.Ctx(ctx).InfoContext(ctx, "accounts loaded", slog.Int("accounts", len(s.coordinators)))
	return nil
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/accounts", s.handleListAccounts)
	apiMux.HandleFunc("GET /api/accounts/{id}", s.handleGetAccount)
	apiMux.HandleFunc("GET /api/accounts/{id}/daily", s.handleDaily)
	apiMux.HandleFunc("GET /api/accounts/{id}/diagnostics", s.handleDiagnostics)
	apiMux.HandleFunc("POST /api/accounts/{id}/refresh", s.handleRefresh)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiMux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run loads the accounts, starts the refresh scheduler and serves HTTP until
// the context is canceled or an error occurs. It also handles graceful
// shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.load(ctx); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		s.schedule(ctx)
	}()

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		<-schedulerDone
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
