// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package surveyengine provides the survey engine HTTP service.
//
// # Description
//
// This package contains the Service type that coordinates all components:
// the session manager, LLM-backed question and review suppliers, the
// BadgerDB session store, the optional Weaviate product catalog, and the
// observability infrastructure (OTLP tracing + Prometheus metrics).
//
// # Usage
//
//	cfg := surveyengine.Config{Port: 12300, LLMBackend: "openai"}
//	svc, err := surveyengine.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package surveyengine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/surveysensei/sensei/services/llm"
	"github.com/surveysensei/sensei/services/surveyengine/audit"
	"github.com/surveysensei/sensei/services/surveyengine/catalog"
	"github.com/surveysensei/sensei/services/surveyengine/contexts"
	"github.com/surveysensei/sensei/services/surveyengine/datatypes"
	"github.com/surveysensei/sensei/services/surveyengine/middleware"
	"github.com/surveysensei/sensei/services/surveyengine/observability"
	"github.com/surveysensei/sensei/services/surveyengine/routes"
	"github.com/surveysensei/sensei/services/surveyengine/session"
	"github.com/surveysensei/sensei/services/surveyengine/store"
	"github.com/surveysensei/sensei/services/surveyengine/suppliers"
)

// ===== Interface Definition =====

// Service abstracts the survey engine lifecycle.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// ===== Configuration =====

// Config holds survey engine configuration options. All fields have
// defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 12300
	Port int

	// LLMBackend specifies the LLM provider.
	// Valid values: "openai", "ollama". Default: "ollama"
	LLMBackend string

	// WeaviateURL is the Weaviate vector database URL. If empty, the
	// service runs in lightweight mode: surveys work but product context
	// degrades to generic and selected reviews are not persisted to the
	// catalog. Example: "http://localhost:8080"
	WeaviateURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "sensei-otel-collector:4317"
	OTelEndpoint string

	// DataDir is the directory for the BadgerDB session store.
	// Default: "./data/sessions"
	DataDir string

	// AuditLogPath is the JSONL audit trail file.
	// Default: "./logs/survey_audit.log"
	AuditLogPath string

	// SupplierTimeout bounds each LLM generation call.
	// Default: 90 seconds.
	SupplierTimeout time.Duration

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	GinMode string
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12300
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "sensei-otel-collector:4317"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/sessions"
	}
	if cfg.AuditLogPath == "" {
		cfg.AuditLogPath = "./logs/survey_audit.log"
	}
	return cfg
}

// ===== Implementation =====

// service implements Service for production use.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config         Config
	router         *gin.Engine
	llmClient      llm.LLMClient
	weaviateClient *weaviate.Client
	sessions       *store.BadgerStore
	auditSink      audit.Sink
	manager        *session.Manager
	metrics        *observability.SurveyMetrics
	tracerCleanup  func(context.Context)
}

var _ Service = (*service)(nil)

// New creates a survey engine Service with the given configuration.
//
// Initialization order matters: tracing and metrics first, then the
// optional Weaviate client, then the session store and audit sinks, then
// the LLM client, and finally the session manager and router on top of
// all of them. Weaviate being unreachable is not fatal; the store or LLM
// client failing is.
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.metrics = observability.NewSurveyMetrics()

	if err := s.initWeaviate(); err != nil {
		slog.Warn("Weaviate initialization failed, running in lightweight mode",
			"error", err)
	}

	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	if err := s.initAudit(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize audit trail: %w", err)
	}

	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	s.initManager()
	s.initRouter()

	return s, nil
}

// ===== Service Interface Methods =====

func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting survey engine server", "port", s.config.Port)

	return s.router.Run(addr)
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// ===== Private Initialization Methods =====

// initTracer sets up the OTLP trace exporter. Uses an insecure gRPC
// connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("surveyengine-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initWeaviate creates the Weaviate client if WeaviateURL is configured.
// Returns nil when the URL is empty: the catalog is an optional dependency.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("Weaviate URL not configured, running in lightweight mode")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	clientConf := weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	}

	s.weaviateClient, err = weaviate.NewClient(clientConf)
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	datatypes.EnsureWeaviateSchema(s.weaviateClient)
	slog.Info("Weaviate client initialized", "url", weaviateURL)

	return nil
}

// initStore opens the BadgerDB session store under DataDir.
func (s *service) initStore() error {
	storeCfg := store.DefaultConfig()
	storeCfg.Path = s.config.DataDir
	storeCfg.Logger = slog.Default()

	sessions, err := store.Open(storeCfg)
	if err != nil {
		return err
	}
	s.sessions = sessions
	slog.Info("Session store opened", "path", s.config.DataDir)
	return nil
}

// initAudit builds the audit trail: always a JSONL file, plus Weaviate
// when the catalog is available.
func (s *service) initAudit() error {
	fileSink, err := audit.NewFileSink(s.config.AuditLogPath)
	if err != nil {
		return err
	}

	if s.weaviateClient != nil {
		s.auditSink = audit.NewMultiSink(fileSink, audit.NewWeaviateSink(s.weaviateClient))
	} else {
		s.auditSink = fileSink
	}
	return nil
}

// initLLMClient creates the LLM client for the configured backend.
func (s *service) initLLMClient() error {
	var err error

	switch s.config.LLMBackend {
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		s.llmClient, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to ollama", "backend", s.config.LLMBackend)
		s.llmClient, err = llm.NewOllamaClient()
	}

	return err
}

// initManager assembles the session manager from the initialized pieces.
func (s *service) initManager() {
	var cat catalog.Catalog
	if s.weaviateClient != nil {
		cat = catalog.NewWeaviateCatalog(s.weaviateClient,
			catalog.NewOpenAIEmbedder(os.Getenv("OPENAI_API_KEY")))
	} else {
		cat = catalog.Unavailable{}
	}

	questions := suppliers.NewLLMQuestionSupplier(s.llmClient)
	reviews := suppliers.NewLLMReviewSupplier(s.llmClient)
	provider := contexts.NewLLMProvider(cat, s.llmClient)

	s.manager = session.NewManager(s.sessions, questions, reviews, provider, cat, s.auditSink,
		session.Config{SupplierTimeout: s.config.SupplierTimeout})
}

// initRouter creates the Gin engine, applies middleware, and registers
// all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("surveyengine-service"))
	s.router.Use(middleware.RequestID())

	routes.SetupRoutes(s.router, s.manager, s.metrics)
}

// cleanup releases resources on Run() exit or initialization failure.
func (s *service) cleanup() {
	if s.auditSink != nil {
		if err := s.auditSink.Close(); err != nil {
			slog.Warn("audit sink close error", "error", err)
		}
	}
	if s.sessions != nil {
		if err := s.sessions.Close(); err != nil {
			slog.Warn("session store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
