package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/utkarshkpal/now-cli/internal/builder"
	"github.com/utkarshkpal/now-cli/internal/config"
	"github.com/utkarshkpal/now-cli/internal/domain"
	"github.com/utkarshkpal/now-cli/internal/logger"
	"github.com/utkarshkpal/now-cli/internal/metrics"
	"github.com/utkarshkpal/now-cli/internal/router"
)

// DevServer serves a project directory the way the deployment platform
// would: it builds the project's artifacts eagerly, routes requests per
// the configured route list and dispatches them to static files, a
// reverse proxy target, a redirect or a function invocation.
type DevServer struct {
	projectRoot string
	cfg         *config.ProjectConfig // nil means plain static mode
	settings    *config.Settings

	matcher      *router.Matcher
	orchestrator *builder.Orchestrator
	state        *stateMachine
	collector    *metrics.Collector
	ignore       []string

	// buildMu serializes orchestration runs; the Busy state is the
	// fast-path gate, this is the lock
	buildMu sync.Mutex

	// artifacts holds the published domain.ArtifactMap, swapped
	// wholesale after each successful build
	artifacts atomic.Value

	httpServer  *http.Server
	proxyClient *http.Client
}

// New assembles a dev server for one project directory. cfg may be nil
// when the project has no configuration file.
func New(
	projectRoot string,
	cfg *config.ProjectConfig,
	settings *config.Settings,
	orchestrator *builder.Orchestrator,
	collector *metrics.Collector,
) (*DevServer, error) {
	var (
		matcher *router.Matcher
		err     error
	)
	if cfg != nil {
		matcher, err = router.New(cfg.Routes)
		if err != nil {
			return nil, err
		}
	}

	ignore, err := config.LoadIgnorePatterns(projectRoot)
	if err != nil {
		return nil, err
	}

	s := &DevServer{
		projectRoot:  projectRoot,
		cfg:          cfg,
		settings:     settings,
		matcher:      matcher,
		orchestrator: orchestrator,
		state:        newStateMachine(),
		collector:    collector,
		ignore:       ignore,
		proxyClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	s.artifacts.Store(domain.ArtifactMap{})

	return s, nil
}

// Prepare runs the initial build. A failing startup build propagates
// to the caller; the server never serves half-built state.
func (s *DevServer) Prepare(ctx context.Context) error {
	if s.cfg != nil && len(s.cfg.Builds) > 0 {
		if err := s.rebuild(ctx); err != nil {
			return fmt.Errorf("startup build failed: %w", err)
		}
		return nil
	}

	s.state.SetIdle()
	logger.Info("No build configuration, serving static files",
		"root", s.projectRoot,
	)
	return nil
}

// Start prepares the server and blocks serving until the listener
// closes
func (s *DevServer) Start(ctx context.Context) error {
	if err := s.Prepare(ctx); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.settings.Port),
		Handler: s.Handler(),
	}

	logger.Info("Dev server listening", "port", s.settings.Port)
	return s.httpServer.ListenAndServe()
}

// Handler exposes the assembled route tree
func (s *DevServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/_now/health", s.handleHealth).Methods("GET")
	if s.collector != nil {
		r.Handle("/_now/metrics", s.collector.Handler()).Methods("GET")
	}
	r.HandleFunc("/_now/rebuild", s.handleRebuild).Methods("POST")

	r.PathPrefix("/").HandlerFunc(s.handleRequest)

	return r
}

// errBuildInProgress signals that another build holds the build lock
var errBuildInProgress = errors.New("a build is already in progress")

// rebuild runs one full orchestration. It holds Busy for the entire
// duration and publishes the new artifact map only after the run fully
// succeeds; on failure the previously published map stays in place.
// Only one build ever runs at a time: a caller losing the lock race
// backs off instead of queueing.
func (s *DevServer) rebuild(ctx context.Context) error {
	if !s.buildMu.TryLock() {
		return errBuildInProgress
	}
	defer s.buildMu.Unlock()

	start := time.Now()

	s.state.SetBusy("installing builders")
	if err := s.orchestrator.InstallAll(ctx, s.cfg.Builds); err != nil {
		s.recordBuild(false, start)
		s.state.SetError(err.Error())
		return err
	}

	s.state.SetBusy("building")
	built, err := s.orchestrator.Build(ctx, s.cfg.Builds, s.projectRoot, s.cfg.Env)
	if err != nil {
		s.recordBuild(false, start)
		s.state.SetError(err.Error())
		return err
	}

	old := s.artifacts.Swap(built).(domain.ArtifactMap)
	s.releaseArtifacts(context.Background(), old)

	s.recordBuild(true, start)
	s.state.SetIdle()
	return nil
}

// Rebuild runs a rebuild unless one is already active. The cron
// scheduler and the rebuild endpoint both come through here, so a
// firing schedule never stacks a second concurrent build.
func (s *DevServer) Rebuild(ctx context.Context) error {
	if s.cfg == nil || len(s.cfg.Builds) == 0 {
		return nil
	}

	if err := s.rebuild(ctx); err != nil {
		if errors.Is(err, errBuildInProgress) {
			logger.Debug("Rebuild skipped, build already running")
			return nil
		}
		return err
	}
	return nil
}

func (s *DevServer) recordBuild(success bool, start time.Time) {
	if s.collector != nil {
		s.collector.RecordBuild(success, time.Since(start))
	}
}

// currentArtifacts returns the published map; per-request readers hold
// only this snapshot and never see partial updates
func (s *DevServer) currentArtifacts() domain.ArtifactMap {
	return s.artifacts.Load().(domain.ArtifactMap)
}

// releaseArtifacts destroys every function package's launcher in a
// retired map and waits for all of them
func (s *DevServer) releaseArtifacts(ctx context.Context, m domain.ArtifactMap) {
	for _, fn := range m.Lambdas() {
		if fn.Launcher == nil {
			continue
		}
		if err := fn.Launcher.Destroy(ctx); err != nil {
			logger.Warn("Failed to release function package", "error", err)
		}
	}
}

// Stop releases every function artifact's execution resource and
// closes the listening socket, returning once both have completed
func (s *DevServer) Stop(ctx context.Context) error {
	var shutdownErr error
	if s.httpServer != nil {
		shutdownErr = s.httpServer.Shutdown(ctx)
	}

	old := s.artifacts.Swap(domain.ArtifactMap{}).(domain.ArtifactMap)
	s.releaseArtifacts(ctx, old)

	return shutdownErr
}

func (s *DevServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.state.Current()

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    string(state.Kind),
		"reason":    state.Reason,
		"artifacts": len(s.currentArtifacts()),
	})
}

// handleRebuild triggers a synchronous rebuild. Only one build runs at
// a time; a rebuild requested while another is active gets the busy
// notice instead of queueing a second run.
func (s *DevServer) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil || len(s.cfg.Builds) == 0 {
		s.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "no build configuration",
		})
		return
	}

	if err := s.rebuild(r.Context()); err != nil {
		if errors.Is(err, errBuildInProgress) {
			s.writeBusy(w, s.state.Current())
			return
		}
		logger.Error("Rebuild failed", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "rebuilt",
		"artifacts": len(s.currentArtifacts()),
	})
}

func (s *DevServer) writeBusy(w http.ResponseWriter, state State) {
	reason := state.Reason
	if reason == "" {
		reason = "building"
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprintf(w, "The server is busy (%s). Please retry.\n", reason)
}

func (s *DevServer) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
