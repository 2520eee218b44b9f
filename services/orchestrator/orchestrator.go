// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the log assistant service together.
//
// This package contains the Service type that coordinates every component:
// session storage, retrieval providers, model backends, the streaming
// orchestrator, HTTP routing and tracing.
//
// # Extension Points
//
// Authentication and audit logging are injected via
// extensions.ServiceOptions:
//   - AuthProvider: bearer token validation (static keys, or the local
//     single-user provider when no keys are configured)
//   - AuditLogger: records history and session mutations
//
// # Usage
//
//	cfg := orchestrator.Config{Listen: ":12210", InMemory: true}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//	svc.Run(ctx)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
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

	"github.com/AleutianAI/AleutianLogAssist/pkg/extensions"
	"github.com/AleutianAI/AleutianLogAssist/services/llm"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/services"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/storage"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/ttl"
	"github.com/AleutianAI/AleutianLogAssist/services/policy_engine"
)

const serviceName = "logassist-orchestrator"

// Model backends accepted in Config.ModelBackend.
const (
	BackendOllama    = "ollama"
	BackendOpenAI    = "openai"
	BackendLangChain = "langchain"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Description
//
// Run serves HTTP until ctx is cancelled, then drains in-flight requests
// for up to Config.ShutdownTimeout. Close releases the store, watchers and
// the tracer; it is safe to call after Run returned.
//
// # Thread Safety
//
// Run should only be called once per instance.
type Service interface {
	Run(ctx context.Context) error
	Router() *gin.Engine
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds everything New needs. Zero values take the defaults from
// applyConfigDefaults.
type Config struct {
	// Listen is the HTTP listen address. Default ":12210".
	Listen string

	// GinMode is passed to gin.SetMode when non-empty.
	GinMode string

	// DataDir holds the Badger session database. Ignored when InMemory.
	DataDir string

	// InMemory keeps sessions in RAM only.
	InMemory bool

	// StrictVersioning turns full-transcript rewrites into
	// compare-and-swap updates.
	StrictVersioning bool

	// SessionTTL deletes sessions idle longer than this. 0 keeps them
	// forever. SessionCleanupInterval defaults to one hour.
	SessionTTL             time.Duration
	SessionCleanupInterval time.Duration

	// MetadataTiming is stream_end, think_end or none.
	MetadataTiming string

	// SystemPrompt overrides the built-in system prompt.
	SystemPrompt string

	// TopK, KeywordScore and RetrievalTimeout tune the fuser.
	TopK             int
	KeywordScore     float64
	RetrievalTimeout time.Duration

	// LogDirs are indexed locally and, with Weaviate, ingested on demand.
	LogDirs []string

	// WeaviateURL enables the vector and BM25 providers. Empty disables.
	WeaviateURL string

	// WebSearch enables the DuckDuckGo provider for use_web_search.
	WebSearch    bool
	WebSearchURL string

	// ModelBackend is ollama, openai or langchain. Default ollama.
	ModelBackend string
	Model        string
	ModelBaseURL string
	ModelAPIKey  string

	// RedactionRules points at a YAML pattern file. Empty uses the
	// embedded set.
	RedactionRules         string
	RedactionMinConfidence string

	// APIKeys maps bearer tokens to user IDs. Empty runs single-user.
	APIKeys map[string]string

	// RateLimitMax requests per RateLimitInterval per user. 0 disables.
	RateLimitMax      int
	RateLimitInterval time.Duration

	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration

	// OTelEndpoint is the OTLP gRPC collector. Empty disables tracing.
	OTelEndpoint string

	// InsecureMemory keeps answers in swappable memory instead of
	// mlocked buffers.
	InsecureMemory bool
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
type service struct {
	config  Config
	opts    extensions.ServiceOptions
	logger  *slog.Logger
	router  *gin.Engine
	metrics *observability.Metrics
	promReg *prometheus.Registry

	db             *storage.DB
	store          storage.SessionStore
	generators     *llm.Registry
	weaviateClient *weaviate.Client
	localIndexes   []*retrieval.LocalLogIndex
	ingester       *retrieval.LogIngester
	fuser          *retrieval.Fuser
	chat           *services.StreamOrchestrator
	reaper         ttl.Scheduler

	tracerCleanup func(context.Context)
	stopWatch     context.CancelFunc
}

// Option customises New. Used by tests and embedders.
type Option func(*service)

// WithGenerator registers g in addition to the configured backend and
// makes it the default.
func WithGenerator(g llm.TokenGenerator) Option {
	return func(s *service) {
		s.generators.Register(g)
		_ = s.generators.SetDefault(g.Model())
	}
}

// WithLogger sets the service logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *service) { s.logger = l }
}

// New creates and fully initialises the service.
//
// # Description
//
// Initialisation order: tracer, metrics, session store, model backends,
// retrieval providers, streaming orchestrator, router. Weaviate and web
// search failures degrade to local-only retrieval instead of failing.
//
// # Inputs
//
//   - cfg: Configuration (defaults applied to zero values).
//   - opts: Auth and audit overrides. Nil derives them from cfg.APIKeys.
//   - options: Test and embedding hooks.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Store, model backend, redaction rules or config errors.
func New(cfg Config, opts *extensions.ServiceOptions, options ...Option) (Service, error) {
	s := &service{
		config:     applyConfigDefaults(cfg),
		logger:     slog.Default(),
		generators: llm.NewRegistry(),
	}

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.promReg = prometheus.NewRegistry()
	s.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = observability.NewMetrics(s.promReg)

	if err := s.initModelBackend(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize model backend: %w", err)
	}
	for _, opt := range options {
		opt(s)
	}

	s.opts, err = s.resolveOptions(opts)
	if err != nil {
		s.cleanup()
		return nil, err
	}

	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	if err := s.initWeaviate(); err != nil {
		s.logger.Warn("Weaviate initialization failed, running with local logs only", "error", err)
		s.weaviateClient = nil
	}
	s.initRetrieval()

	if err := s.initChat(); err != nil {
		s.cleanup()
		return nil, err
	}

	s.initRouter()
	return s, nil
}

// Run serves until ctx is cancelled.
func (s *service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting orchestrator server", "listen", s.config.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down orchestrator server", "timeout", s.config.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Close() error {
	return s.cleanup()
}

// =============================================================================
// Initialization Helpers
// =============================================================================

// applyConfigDefaults fills in default values for unset config fields.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Listen == "" {
		cfg.Listen = ":12210"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/sessions"
	}
	if cfg.ModelBackend == "" {
		cfg.ModelBackend = BackendOllama
	}
	if cfg.ModelBaseURL == "" && cfg.ModelBackend != BackendOpenAI {
		cfg.ModelBaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3"
	}
	if cfg.RateLimitInterval <= 0 {
		cfg.RateLimitInterval = time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return cfg
}

// resolveOptions fills auth from APIKeys unless the caller provided one.
func (s *service) resolveOptions(opts *extensions.ServiceOptions) (extensions.ServiceOptions, error) {
	var out extensions.ServiceOptions
	if opts != nil {
		out = *opts
	}
	if out.AuthProvider == nil && len(s.config.APIKeys) > 0 {
		provider, err := extensions.NewStaticKeyAuthProvider(s.config.APIKeys)
		if err != nil {
			return out, fmt.Errorf("invalid API keys: %w", err)
		}
		out.AuthProvider = provider
		s.logger.Info("API key authentication enabled", "keys", len(s.config.APIKeys))
	}
	if out.AuditLogger == nil {
		out.AuditLogger = extensions.NewSlogAuditLogger(s.logger)
	}
	out = out.Normalize()
	if len(s.config.APIKeys) == 0 && opts == nil {
		s.logger.Warn("No API keys configured, running single-user", "user_id", extensions.DefaultLocalUser)
	}
	return out, nil
}

// initTracer sets up OpenTelemetry tracing with the OTLP gRPC exporter.
// An empty endpoint leaves the global no-op provider in place.
func (s *service) initTracer() (func(context.Context), error) {
	if s.config.OTelEndpoint == "" {
		return func(context.Context) {}, nil
	}
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
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown tracer provider", "error", err)
		}
		_ = conn.Close()
	}, nil
}

func (s *service) initStore() error {
	dbCfg := storage.DefaultConfig(s.config.DataDir)
	if s.config.InMemory {
		dbCfg = storage.InMemoryConfig()
	}
	dbCfg.Logger = s.logger

	db, err := storage.OpenDB(dbCfg)
	if err != nil {
		return err
	}
	s.db = db
	store := storage.NewBadgerSessionStore(db,
		storage.WithStrictVersioning(s.config.StrictVersioning),
		storage.WithLogger(s.logger))
	s.store = store
	s.logger.Info("Session store ready", "in_memory", s.config.InMemory, "dir", s.config.DataDir,
		"strict_versioning", s.config.StrictVersioning)

	if s.config.SessionTTL <= 0 {
		return nil
	}
	reaper, err := ttl.NewScheduler(store, ttl.SchedulerConfig{
		TTL:      s.config.SessionTTL,
		Interval: s.config.SessionCleanupInterval,
	}, ttl.WithAudit(s.opts.AuditLogger), ttl.WithLogger(s.logger))
	if err != nil {
		return err
	}
	if err := reaper.Start(context.Background()); err != nil {
		return err
	}
	s.reaper = reaper
	return nil
}

// initModelBackend registers the configured generator.
func (s *service) initModelBackend() error {
	var (
		gen llm.TokenGenerator
		err error
	)
	switch s.config.ModelBackend {
	case BackendOllama:
		gen, err = llm.NewOllamaClient(s.config.ModelBaseURL, s.config.Model)
	case BackendOpenAI:
		gen, err = llm.NewOpenAIClient(s.config.ModelAPIKey, s.config.ModelBaseURL, s.config.Model)
	case BackendLangChain:
		gen, err = llm.NewLangChainOllamaClient(s.config.ModelBaseURL, s.config.Model)
	default:
		return fmt.Errorf("unknown model backend %q (want %s, %s or %s)",
			s.config.ModelBackend, BackendOllama, BackendOpenAI, BackendLangChain)
	}
	if err != nil {
		return err
	}
	s.generators.Register(gen)
	s.logger.Info("Model backend configured", "backend", s.config.ModelBackend, "model", gen.Model())
	return nil
}

// initWeaviate connects to Weaviate and makes sure the LogChunk class
// exists. An empty URL is not an error.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		s.logger.Info("Weaviate URL not configured, vector search disabled")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := datatypes.EnsureWeaviateSchema(ctx, client); err != nil {
		return err
	}
	s.weaviateClient = client
	s.logger.Info("Weaviate client initialized", "url", weaviateURL)
	return nil
}

// initRetrieval builds the fuser from whatever providers are available.
func (s *service) initRetrieval() {
	var opts []retrieval.FuserOption

	watchCtx, cancel := context.WithCancel(context.Background())
	s.stopWatch = cancel
	for _, dir := range s.config.LogDirs {
		idx := retrieval.NewLocalLogIndex(retrieval.LocalLogIndexConfig{Dir: dir}, s.logger)
		if err := idx.Watch(watchCtx); err != nil {
			s.logger.Warn("Failed to watch log directory", "dir", dir, "error", err)
		}
		s.localIndexes = append(s.localIndexes, idx)
		opts = append(opts, retrieval.WithKeyword(idx))
	}

	if s.weaviateClient != nil {
		opts = append(opts,
			retrieval.WithVector(retrieval.NewWeaviateVectorProvider(s.weaviateClient, 0)),
			retrieval.WithKeyword(retrieval.NewWeaviateKeywordProvider(s.weaviateClient)))
		s.ingester = retrieval.NewLogIngester(retrieval.NewWeaviateObjectWriter(s.weaviateClient, s.logger), nil, s.logger)
	}

	if s.config.WebSearch {
		opts = append(opts, retrieval.WithWeb(retrieval.NewDuckDuckGoProvider(s.config.WebSearchURL, s.config.RetrievalTimeout)))
	}
	opts = append(opts, retrieval.WithObserver(s.metrics))

	s.fuser = retrieval.NewFuser(retrieval.FuserConfig{
		TopK:            s.config.TopK,
		KeywordScore:    s.config.KeywordScore,
		ProviderTimeout: s.config.RetrievalTimeout,
	}, s.logger, opts...)
}

func (s *service) initChat() error {
	redactor, err := policy_engine.NewRedactor(s.config.RedactionRules,
		policy_engine.ConfidenceLevel(s.config.RedactionMinConfidence))
	if err != nil {
		return fmt.Errorf("failed to load redaction rules: %w", err)
	}

	deps := services.StreamDeps{
		Store:      s.store,
		Generators: s.generators,
		Retriever:  s.fuser,
		Redactor:   redactor,
		Metrics:    s.metrics,
		Logger:     s.logger,
	}
	if s.config.InsecureMemory {
		deps.NewAccumulator = func() (services.AnswerAccumulator, error) {
			return services.NewPlainAccumulator(), nil
		}
	}

	s.chat, err = services.NewStreamOrchestrator(deps, services.StreamConfig{
		MetadataTiming: services.MetadataTiming(s.config.MetadataTiming),
		TopK:           s.config.TopK,
		SystemPrompt:   s.config.SystemPrompt,
	})
	if err != nil {
		return fmt.Errorf("failed to build stream orchestrator: %w", err)
	}
	return nil
}

func (s *service) initRouter() {
	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware(serviceName))

	deps := routes.Deps{
		Chat:           s.chat,
		Store:          s.store,
		Models:         s.generators,
		Metrics:        s.metrics,
		Gatherer:       s.promReg,
		Options:        s.opts,
		AllowedOrigins: s.config.AllowedOrigins,
		Heartbeat:      s.config.HeartbeatInterval,
		LogDirs:        s.config.LogDirs,
		Logger:         s.logger,
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimitConfig{
			Max:      s.config.RateLimitMax,
			Interval: s.config.RateLimitInterval,
		}),
	}
	if s.ingester != nil {
		deps.Ingester = s.ingester
	}
	if len(s.localIndexes) > 0 {
		deps.Index = multiIndex(s.localIndexes)
	}
	routes.SetupRoutes(s.router, deps)
}

// multiIndex reloads several local indexes as one.
type multiIndex []*retrieval.LocalLogIndex

func (m multiIndex) Load(ctx context.Context) error {
	var errs []error
	for _, idx := range m {
		if err := idx.Load(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// cleanup releases resources in reverse init order.
func (s *service) cleanup() error {
	var errs []error
	if s.stopWatch != nil {
		s.stopWatch()
	}
	if s.reaper != nil {
		_ = s.reaper.Stop()
		s.reaper = nil
	}
	for _, idx := range s.localIndexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.localIndexes = nil
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session store: %w", err))
		}
		s.db = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
	return errors.Join(errs...)
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ Service = (*service)(nil)
