package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/shenshouer/ai-api/internal/platform/config"
	applog "github.com/shenshouer/ai-api/internal/platform/logging"
	"github.com/shenshouer/ai-api/internal/platform/telemetry"
	"github.com/shenshouer/ai-api/internal/server"
)

// Version can be overridden at build time: -ldflags "-X main.Version=1.2.3"
var Version = "dev"

const (
	configDirEnv     = "CONFIG_DIR"
	defaultConfigDir = "config"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	level := zap.NewAtomicLevel()
	container := buildContainer(configDir(), level)
	err := container.Invoke(func(srv *server.Server, logger *zap.Logger, loader *config.Loader) error {
		restore := zap.ReplaceGlobals(logger)
		defer restore()
		defer func() {
			if err := logger.Sync(); err != nil {
				applog.LogError(context.Background(), "logger sync error", err)
			}
		}()

		watchLevel(loader, level)
		return srv.Run(ctx)
	})
	if err != nil {
		// The container may have failed before the service logger existed.
		if logger, lerr := applog.New(level); lerr == nil {
			logger.Error("server failed", zap.Error(dig.RootCause(err)))
			_ = logger.Sync()
		}
	}
	return err
}

func configDir() string {
	if dir := os.Getenv(configDirEnv); dir != "" {
		return dir
	}
	return defaultConfigDir
}

// routerParams collects what the HTTP handler is built from.
type routerParams struct {
	dig.In

	Settings  *config.Settings
	Logger    *zap.Logger
	Telemetry *telemetry.Telemetry
}

func buildContainer(dir string, level zap.AtomicLevel) *dig.Container {
	container := dig.New()

	provide := func(constructor any) {
		if err := container.Provide(constructor); err != nil {
			// Provide only fails on malformed constructors.
			panic(err)
		}
	}

	// Configuration
	provide(func() *config.Loader { return config.NewLoader(dir) })
	provide(func(l *config.Loader) (*config.Settings, error) { return l.Load() })

	// Observability
	provide(func(s *config.Settings) (*zap.Logger, error) {
		level.SetLevel(applog.LevelFor(s.Debug))
		return applog.New(level)
	})
	provide(func(s *config.Settings) (*telemetry.Telemetry, error) {
		return telemetry.New(context.Background(), telemetryConfig(s))
	})

	// HTTP layer
	provide(func(p routerParams) http.Handler {
		router, _ := server.NewRouter(server.Options{
			Version:   Version,
			Logger:    p.Logger,
			Telemetry: p.Telemetry,
			Timeout:   p.Settings.Serve.Timeout,
		})
		return router
	})
	provide(func(s *config.Settings, h http.Handler, tel *telemetry.Telemetry) *server.Server {
		return server.New(s.Serve.Addr(), h, tel, s.Serve.Timeout)
	})

	return container
}

func telemetryConfig(s *config.Settings) telemetry.Config {
	return telemetry.Config{
		ServiceName:    s.Trace.ServiceName,
		ServiceVersion: Version,
		SampleRatio:    s.Trace.SampleRatio,
		QueueSize:      s.Trace.QueueSize,
		OTLP: telemetry.OTLPConfig{
			Endpoint:     s.OTLP.Endpoint,
			Timeout:      s.OTLP.Interval,
			Token:        s.OTLP.Token,
			Organization: s.OTLP.Organization,
			Stream:       s.OTLP.Stream,
		},
	}
}

// watchLevel switches the log level when the debug flag changes on disk.
func watchLevel(loader *config.Loader, level zap.AtomicLevel) {
	ok := loader.Watch(func(s *config.Settings) {
		next := applog.LevelFor(s.Debug)
		if level.Level() == next {
			return
		}
		level.SetLevel(next)
		applog.LogInfo(context.Background(), "log level changed", zap.Stringer("level", next))
	}, func(err error) {
		applog.LogError(context.Background(), "config reload rejected", err)
	})
	if !ok {
		applog.LogInfo(context.Background(), "config watch disabled", zap.String("dir", loader.Dir()))
	}
}
