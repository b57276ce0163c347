// Package server provides the public entry point for initializing the
// Concierge orchestration server.
//
// This package exists in pkg/ (not internal/) so that deployment
// wrappers can import it and compose the full server with extra
// middleware.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mypetparlor/concierge/internal/agents"
	"github.com/mypetparlor/concierge/internal/api"
	"github.com/mypetparlor/concierge/internal/audit"
	"github.com/mypetparlor/concierge/internal/config"
	"github.com/mypetparlor/concierge/internal/dispatch"
	"github.com/mypetparlor/concierge/internal/llm"
	"github.com/mypetparlor/concierge/internal/permission"
	"github.com/mypetparlor/concierge/internal/registry"
	"github.com/mypetparlor/concierge/internal/scheduler"
	"github.com/mypetparlor/concierge/internal/synthesis"
	"github.com/mypetparlor/concierge/internal/telemetry"
	"github.com/mypetparlor/concierge/internal/tools"
	"github.com/mypetparlor/concierge/internal/triage"
	"github.com/mypetparlor/concierge/internal/weather"
	"github.com/mypetparlor/concierge/pkg/models"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized Concierge orchestration core.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Config is the loaded server configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush
	// telemetry and close the audit store.
	ShutdownFunc func(context.Context) error
}

// New initializes all Concierge components and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the server with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// Tool registry: descriptor files when configured, built-in
	// MyPetParlor catalog otherwise.
	var reg *registry.Registry
	if cfg.Descriptors.Dir != "" {
		reg, err = registry.LoadDir(cfg.Descriptors.Dir)
		if err != nil {
			return nil, fmt.Errorf("load tool descriptors: %w", err)
		}
		log.Info().Str("dir", cfg.Descriptors.Dir).Int("operations", reg.Len()).Msg("tool descriptors loaded")
	} else {
		reg = registry.Builtin()
		log.Info().Int("operations", reg.Len()).Msg("built-in tool catalog loaded")
	}

	// Audit trail: Postgres when a database URL is configured, with a
	// retention janitor pruning expired records in the background.
	var recorder audit.Recorder
	var closeRecorder func()
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	if cfg.Audit.DatabaseURL != "" {
		pg, err := audit.NewPostgresRecorder(ctx, cfg.Audit.DatabaseURL)
		if err != nil {
			stopJanitor()
			return nil, fmt.Errorf("init audit store: %w", err)
		}
		recorder = pg
		closeRecorder = pg.Close
		go audit.NewJanitor(pg, cfg.Audit.RetentionMaxAge, cfg.Audit.RetentionInterval).Start(janitorCtx)
		log.Info().Msg("postgres audit store initialized")
	} else {
		recorder = audit.NewMemoryRecorder(1024)
		closeRecorder = func() {}
		log.Info().Msg("in-memory audit store initialized")
	}

	llmClient := llm.NewClient(cfg.LLM)
	invoker := tools.NewInvoker(cfg.Tools, recorder)

	var forecast weather.Source
	if cfg.Weather.Endpoint != "" {
		forecast = weather.NewHTTPSource(cfg.Weather)
	} else {
		forecast = &weather.StaticSource{}
	}

	agentReg := agents.NewRegistry(agents.Deps{
		Registry: reg,
		Invoker:  invoker,
		Narrator: llmClient,
		Booking: agents.BookingDeps{
			Optimizer: scheduler.New(cfg.Scheduler),
			Weather:   forecast,
			Depot:     models.LatLng{Lat: cfg.Scheduler.DepotLat, Lng: cfg.Scheduler.DepotLng},
		},
	})

	router := triage.NewRouter(llmClient, agentReg.Domains(), cfg.Triage)
	filter := permission.NewFilter(reg)
	synth := synthesis.New(cfg.Synthesis)
	dispatcher := dispatch.New(router, agentReg, filter, synth, cfg.Dispatch)

	handler := api.NewRouter(cfg, dispatcher, reg)

	shutdown := func(ctx context.Context) error {
		stopJanitor()
		closeRecorder()
		return shutdownTelemetry(ctx)
	}

	return &Server{
		Handler:      handler,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
