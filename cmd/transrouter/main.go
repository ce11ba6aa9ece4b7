// Command transrouter captures microphone speech, streams every detected
// utterance to a real-time translation service and plays the translated
// speech back on a local output device.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MrWong99/transrouter/internal/app"
	"github.com/MrWong99/transrouter/internal/config"
	"github.com/MrWong99/transrouter/internal/health"
	"github.com/MrWong99/transrouter/internal/observe"
	"github.com/MrWong99/transrouter/pkg/audio/device"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "path to an optional .env file with API keys")
	listDevices := flag.Bool("list-devices", false, "print the available audio devices and exit")
	flag.Parse()

	if *listDevices {
		if err := printDevices(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "transrouter: %v\n", err)
			return 1
		}
		return 0
	}

	// ── Configuration ─────────────────────────────────────────────────────────
	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "transrouter: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "transrouter: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "transrouter: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logFile, err := openLogFile(cfg.Server.LogDir, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "transrouter: %v\n", err)
		return 1
	}
	defer logFile.Close()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.MultiWriter(os.Stderr, logFile), &slog.HandlerOptions{Level: level})))

	slog.Info("transrouter starting",
		"version", version,
		"config", *configPath,
		"log_file", logFile.Name(),
		"s2s", cfg.Providers.S2S.Name,
		"vad", cfg.Providers.VAD.Name,
		"modality", cfg.Remote.ResponseModality,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "transrouter", ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(cfg, providers,
		app.WithLevel(level),
		app.WithMetrics(observe.DefaultMetrics()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		go watcher.Run(ctx)
	}

	// ── HTTP endpoints ────────────────────────────────────────────────────────
	var srv *http.Server
	if addr := cfg.Server.ListenAddr; addr != "" {
		srv = newHTTPServer(addr, application, tel.MetricsHandler)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "addr", addr, "err", err)
			}
		}()
		slog.Info("http endpoints listening", "addr", addr)
	}

	slog.Info("pipeline ready, press Ctrl+C to stop")

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// newHTTPServer mounts the metrics and health endpoints behind the request
// middleware.
func newHTTPServer(addr string, application *app.App, metrics http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics)
	health.New(application.HealthCheckers(),
		health.WithStatus(func() any { return application.Status() }),
	).Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics(), observe.WithCurrentSession(application.SessionID))(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// openLogFile creates <dir>/translator_<YYYYmmdd_HHMMSS>.log.
func openLogFile(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := filepath.Join(dir, "translator_"+now.Format("20060102_150405")+".log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// printDevices writes the default input device and every host device to w.
func printDevices(w io.Writer) error {
	devs, err := device.List()
	if err != nil {
		return err
	}
	for _, d := range devs {
		if d.DefaultInput {
			fmt.Fprintf(w, "Default input device: %s (%.0f Hz)\n\n", d.Name, d.DefaultSampleRate)
			break
		}
	}
	fmt.Fprintln(w, "Available devices:")
	for _, d := range devs {
		marker := " "
		switch {
		case d.DefaultInput && d.DefaultOutput:
			marker = "*"
		case d.DefaultInput:
			marker = ">"
		case d.DefaultOutput:
			marker = "<"
		}
		fmt.Fprintf(w, "%s %2d %-40s %-12s in=%d out=%d %.0f Hz\n",
			marker, d.Index, d.Name, d.HostAPI, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
	}
	return nil
}
