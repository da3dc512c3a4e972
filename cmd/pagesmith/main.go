package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/throw-if-null/pagesmith/internal/codegen"
	"github.com/throw-if-null/pagesmith/internal/config"
	"github.com/throw-if-null/pagesmith/internal/hosting"
	"github.com/throw-if-null/pagesmith/internal/llm"
	"github.com/throw-if-null/pagesmith/internal/notify"
	"github.com/throw-if-null/pagesmith/internal/pipeline"
	"github.com/throw-if-null/pagesmith/internal/readme"
	"github.com/throw-if-null/pagesmith/internal/server"
	"github.com/throw-if-null/pagesmith/internal/store"
	"github.com/throw-if-null/pagesmith/internal/telemetry"
	"github.com/throw-if-null/pagesmith/internal/version"
)

// seams for tests
var (
	dotenvLoad    = godotenv.Load
	telemetryInit = telemetry.Init
	newChatModel  = func(ctx context.Context, cfg llm.Config) (codegen.ChatModel, error) {
		return llm.NewChatModel(ctx, cfg)
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("pagesmith exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	handler, addr, shutdown, err := build(ctx)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("pagesmith listening", "version", version.Version, "commit", version.Commit, "addr", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

// setup wires every component and returns the instrumented handler.
func setup(ctx context.Context) (http.Handler, func(context.Context) error, error) {
	h, _, shutdown, err := build(ctx)
	return h, shutdown, err
}

func build(ctx context.Context) (http.Handler, string, func(context.Context) error, error) {
	// .env is optional
	if err := dotenvLoad(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env", "error", err)
	}

	root, err := os.Getwd()
	if err != nil {
		return nil, "", nil, err
	}
	res := config.Load(root)
	if res.ParseError != nil {
		return nil, "", nil, fmt.Errorf("load %s: %w", res.Path, res.ParseError)
	}
	cfg, err := config.ApplyEnv(res.Config, os.LookupEnv)
	if err != nil {
		return nil, "", nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", nil, err
	}
	slog.SetDefault(slog.New(newLogHandler(cfg.Log)))
	if res.Found {
		slog.Info("loaded config", "path", res.Path)
	}

	shutdownTelemetry, err := telemetryInit(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return nil, "", nil, fmt.Errorf("telemetry: %w", err)
	}

	ledger, err := store.Open(cfg.Store.DSN)
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return nil, "", nil, fmt.Errorf("open run ledger: %w", err)
	}
	if n, err := ledger.ReconcileInFlightRuns(); err != nil {
		slog.Warn("reconcile in-flight runs", "error", err)
	} else if n > 0 {
		slog.Info("marked interrupted runs failed", "count", n)
	}

	provider, err := llm.ValidateProvider(cfg.LLM.Provider)
	if err != nil {
		return nil, "", nil, closeAll(ctx, err, ledger, shutdownTelemetry)
	}
	chat, err := newChatModel(ctx, llm.Config{
		Provider:   provider,
		Model:      cfg.LLM.Model,
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		HTTPClient: telemetry.HTTPClient(&http.Client{Timeout: 5 * time.Minute}, "llm"),
	})
	if err != nil {
		return nil, "", nil, closeAll(ctx, fmt.Errorf("chat model: %w", err), ledger, shutdownTelemetry)
	}

	gh, err := hosting.NewClient(telemetry.HTTPClient(&http.Client{Timeout: time.Minute}, "github"), cfg.GitHub.Token, cfg.GitHub.APIURL)
	if err != nil {
		return nil, "", nil, closeAll(ctx, fmt.Errorf("github client: %w", err), ledger, shutdownTelemetry)
	}

	gen := codegen.NewGenerator(chat, codegen.Options{
		Temperature:    cfg.LLM.Temperature,
		MinOutputBytes: cfg.LLM.MinOutputBytes,
	})
	rec := hosting.NewReconciler(gh, hosting.ReconcilerOptions{
		LicenseHolder: cfg.LicenseHolder(),
		LicenseYear:   cfg.License.Year,
	})
	p := pipeline.New(pipeline.Deps{
		Generator: gen,
		Repos:     rec,
		Pages:     hosting.NewPublisher(gh, hosting.PublisherOptions{UpdateMethod: cfg.GitHub.PagesUpdateMethod}),
		Readme:    readme.NewSynthesizer(gen, rec),
		Notifier: notify.New(telemetry.HTTPClient(nil, "evaluation"), notify.Options{
			MaxAttempts: cfg.Notify.MaxAttempts,
			Delay:       cfg.NotifyDelay(),
			Exponential: cfg.Notify.Backoff == "exponential",
			Timeout:     cfg.NotifyTimeout(),
		}),
		Ledger: ledger,
	}, pipeline.Options{Secret: cfg.Server.Secret, PagesPath: cfg.GitHub.PagesPath})

	srv := server.New(p, ledger, cfg.Server.MaxBodyBytes)
	handler := telemetry.Handler(srv.Handler(), "pagesmith.http")

	shutdown := func(ctx context.Context) error {
		return errors.Join(ledger.Close(), shutdownTelemetry(ctx))
	}
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	return handler, addr, shutdown, nil
}

func closeAll(ctx context.Context, err error, ledger *store.Store, shutdownTelemetry func(context.Context) error) error {
	_ = ledger.Close()
	_ = shutdownTelemetry(ctx)
	return err
}

func newLogHandler(cfg config.LogConfig) slog.Handler {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}
