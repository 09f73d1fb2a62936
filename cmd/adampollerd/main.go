// Command adampollerd runs the acquisition service as a standalone daemon:
// it loads configuration, wires the sink and stream bridge, starts the
// service, serves the monitoring HTTP surface, and waits for a shutdown
// signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"adampoller"
	"adampoller/config"
	"adampoller/modbusdev"
	"adampoller/monitoring"
	"adampoller/sink"
	"adampoller/streamhub"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	appName    = "adam-poller"
	appVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	if *configPath == "" {
		log.Print("Error: -config flag is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("failed to load configuration: %v", err)
		os.Exit(2)
	}

	logger := setupLogging(cfg, *debug)
	logger.Info("starting adam-poller", "version", appVersion, "instance", cfg.App.InstanceID, "config", *configPath)

	backend, natsConn, err := buildSinkBackend(cfg, logger)
	if err != nil {
		logger.Error("failed to build sink backend", "error", err)
		os.Exit(3)
	}

	svc := adampoller.New(cfg, backend, logger)
	svc.SetConfigPath(*configPath)

	if cfg.Logging.RawTraceEnabled {
		tracePath := filepath.Join(cfg.Logging.BasePath, "adam-raw-trace.jsonl")
		tracer := modbusdev.NewRawTraceLogger(tracePath, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.Compress, logger)
		svc.SetRawTracer(tracer)
		defer tracer.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if natsConn != nil {
		subject := cfg.NATS.SubjectPrefix + ".events." + cfg.App.InstanceID
		events := streamhub.NewEventPublisher(natsConn.Conn, subject, cfg.App.InstanceID, logger)
		svc.SetEventPublisher(events, appVersion)

		bridge := streamhub.NewNATSBridge(natsConn, cfg.NATS.SubjectPrefix, logger)
		bridge.Attach(ctx, svc.Hub())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start service", "error", err)
		os.Exit(3)
	}

	var monServer *http.Server
	if cfg.Monitoring.Enabled {
		handler := monitoring.NewServer(svc, logger, cfg.Monitoring.Username, cfg.Monitoring.Password)
		monServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Monitoring.Port),
			Handler: handler,
		}
		go func() {
			if err := monServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("monitoring server failed", "error", err)
			}
		}()
		logger.Info("monitoring server listening", "port", cfg.Monitoring.Port)
	}

	logger.Info("adam-poller started successfully", "instance", cfg.App.InstanceID, "devices", len(cfg.Devices))

	sig := <-sigChan
	logger.Info("received shutdown signal", "signal", sig.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if monServer != nil {
		if err := monServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error stopping monitoring server", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		if err := svc.Stop(); err != nil {
			logger.Warn("error stopping service", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
	}

	if natsConn != nil {
		natsConn.Conn.Close()
	}

	logger.Info("adam-poller stopped")

	if sig == syscall.SIGINT {
		os.Exit(130)
	}
}

// buildSinkBackend wires the default concrete Backend: a JetStream publisher
// when NATS is enabled, falling back to a rotating log file otherwise.
// Either way it also returns the dialed NATS connection (nil if disabled)
// so main can reuse it for the streaming bridge and lifecycle events.
func buildSinkBackend(cfg *config.Config, logger *slog.Logger) (sink.Backend, *streamhub.NATSConnection, error) {
	if !cfg.NATS.Enabled {
		path := filepath.Join(cfg.Logging.BasePath, "adam-counters.jsonl")
		return sink.NewLogBackend(path, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.Compress), nil, nil
	}

	conn, err := streamhub.DialNATS(cfg.NATS.URL, cfg.NATS.MaxReconnects, cfg.NATS.ReconnectWait(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("dial nats: %w", err)
	}

	subject := cfg.NATS.SubjectPrefix + ".counters." + cfg.App.InstanceID
	backend, err := sink.NewJetStreamBackend(conn.Conn, "adam_counters", subject, logger)
	if err != nil {
		conn.Conn.Close()
		return nil, nil, fmt.Errorf("build jetstream backend: %w", err)
	}
	return backend, conn, nil
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// setupLogging builds the root logger: rotating JSON under the configured
// base path, plain text on stdout when no base path is set or the log
// directory can't be created.
func setupLogging(cfg *config.Config, debug bool) *slog.Logger {
	level := logLevels[cfg.Logging.Level]
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Logging.BasePath == "" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	if err := os.MkdirAll(cfg.Logging.BasePath, 0755); err != nil {
		log.Printf("warning: failed to create log directory, logging to stdout: %v", err)
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Logging.BasePath, "adam-poller.log"),
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	}
	return slog.New(slog.NewJSONHandler(writer, opts))
}
