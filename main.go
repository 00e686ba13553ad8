package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beast_bridge/internal/config"
	"beast_bridge/internal/daemon"
	"beast_bridge/internal/database"
	"beast_bridge/internal/dump1090"
	"beast_bridge/internal/hub"
	"beast_bridge/internal/observability"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const shutdownTimeout = 5 * time.Second

func initLogger(cfg *config.Config) {
	var logLevel slog.Level
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
}

func main() {
	flags := pflag.NewFlagSet("beast_bridge", pflag.ContinueOnError)
	config.RegisterFlags(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		// Logger isn't initialized yet
		basicLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		basicLogger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if printConfig, _ := flags.GetBool("print-config"); printConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	initLogger(cfg)

	if err := run(cfg); err != nil {
		slog.Error("Bridge exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []daemon.Option
	if cfg.Registry.DBPath != "" {
		registry, err := database.OpenRegistry(cfg.Registry.DBPath, cfg.Registry.CSVPaths)
		if err != nil {
			return fmt.Errorf("failed to open aircraft registry: %w", err)
		}
		defer registry.Close()
		opts = append(opts, daemon.WithRegistry(registry))
	}

	wsHub := hub.New(hub.Config{
		Port:       cfg.WebSocket.Port,
		Path:       cfg.WebSocket.Path,
		MaxClients: cfg.WebSocket.MaxClients,
		Verbose:    cfg.Verbose,
	})

	bridge := daemon.New(daemon.Config{
		Sources: cfg.Sources,
		Link: dump1090.Config{
			ReconnectInterval: cfg.ReconnectInterval,
			BroadcastInterval: cfg.AircraftUpdateInterval,
			ConnectTimeout:    cfg.ConnectTimeout,
			Escaped:           cfg.Beast.Escaped,
			MaxBuffered:       cfg.Beast.MaxBufferBytes,
		},
		MaxAge:          cfg.AircraftMaxAge,
		CleanupInterval: cfg.CleanupInterval,
		StatusInterval:  cfg.StatusInterval,
		Verbose:         cfg.Verbose,
	}, wsHub, opts...)

	wsHub.Mount("/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))
	wsHub.Mount("/status", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(bridge.Status()); err != nil {
			slog.Debug("Failed to write status", "error", err)
		}
	}))
	if cfg.Metrics.Enabled {
		wsHub.Mount(cfg.Metrics.Path, observability.Handler())
	}

	for _, src := range cfg.EnabledSources() {
		slog.Info("Configured Beast source", "source", src.DisplayName(), "addr", src.Addr())
	}

	bridge.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(wsHub.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return bridge.Stop(shutdownCtx)
	})

	return g.Wait()
}
