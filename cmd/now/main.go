package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/utkarshkpal/now-cli/internal/builder"
	"github.com/utkarshkpal/now-cli/internal/cache"
	"github.com/utkarshkpal/now-cli/internal/config"
	"github.com/utkarshkpal/now-cli/internal/launcher"
	"github.com/utkarshkpal/now-cli/internal/logger"
	"github.com/utkarshkpal/now-cli/internal/metrics"
	"github.com/utkarshkpal/now-cli/internal/schedule"
	"github.com/utkarshkpal/now-cli/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "now",
		Short:         "Local serverless deployment tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newDevCmd())
	return root
}

func newDevCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "dev [dir]",
		Short: "Serve a project locally, emulating the deployment platform",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runDev(dir, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listening port (overrides NOW_DEV_PORT)")
	return cmd
}

func runDev(dir string, portOverride int) error {
	projectRoot, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}
	if portOverride != 0 {
		settings.Port = portOverride
	}

	logger.SetLevel(logger.ParseLevel(settings.LogLevel))
	logger.Info("now dev starting", "project", projectRoot)

	cfg, err := config.Load(projectRoot)
	if err != nil {
		return err
	}

	buildCache, err := initCache(settings)
	if err != nil {
		return err
	}
	defer buildCache.Close()

	factory := initLauncherFactory(projectRoot)
	if factory != nil {
		defer factory.Close()
	}

	registry, err := initRegistry(factory)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	orchestrator := builder.New(registry, buildCache, collector)

	srv, err := server.New(projectRoot, cfg, settings, orchestrator, collector)
	if err != nil {
		return err
	}

	scheduler, err := initScheduler(settings, srv)
	if err != nil {
		return err
	}

	return serveUntilSignal(srv, scheduler)
}

func initCache(settings *config.Settings) (cache.Cache, error) {
	if settings.CacheAddr == "" {
		return cache.NewMemoryCache(settings.CacheTTL), nil
	}
	return cache.NewRedisCache(settings.CacheAddr, settings.CacheTTL)
}

// initLauncherFactory connects to Docker for function execution. A
// missing daemon degrades the server to static-only artifacts rather
// than refusing to start.
func initLauncherFactory(projectRoot string) *launcher.DockerFactory {
	workDir := filepath.Join(os.TempDir(), "now-dev", filepath.Base(projectRoot))

	factory, err := launcher.NewDockerFactory(workDir)
	if err != nil {
		logger.Warn("Docker unavailable, function packages will not be invocable", "error", err)
		return nil
	}
	return factory
}

func initRegistry(factory *launcher.DockerFactory) (*builder.Registry, error) {
	if factory == nil {
		return builder.NewRegistry(
			builder.NewStaticBuilder(),
			builder.NewNodeBuilder(nil),
		)
	}
	return builder.NewRegistry(
		builder.NewStaticBuilder(),
		builder.NewNodeBuilder(factory),
	)
}

func initScheduler(settings *config.Settings, srv *server.DevServer) (*schedule.Scheduler, error) {
	if settings.RebuildSchedule == "" {
		return nil, nil
	}

	return schedule.New(settings.RebuildSchedule, func() {
		if err := srv.Rebuild(context.Background()); err != nil {
			logger.Error("Scheduled rebuild failed", "error", err)
		}
	})
}

func serveUntilSignal(srv *server.DevServer, scheduler *schedule.Scheduler) error {
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(context.Background()); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	if scheduler != nil {
		scheduler.Start()
		defer scheduler.Stop()
	}

	select {
	case err := <-errChan:
		return err
	case <-shutdownChan:
	}

	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		logger.Error("Error during shutdown", "error", err)
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}
