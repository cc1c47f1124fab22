package bootstrap

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/deepauras/auroraflow/ai"
	"github.com/deepauras/auroraflow/core"
	"github.com/deepauras/auroraflow/docstore"
	"github.com/deepauras/auroraflow/embedding"
	"github.com/deepauras/auroraflow/executor"
	"github.com/deepauras/auroraflow/memory"
	"github.com/deepauras/auroraflow/objectstore"
	"github.com/deepauras/auroraflow/orchestrator"
	"github.com/deepauras/auroraflow/repair"
	"github.com/deepauras/auroraflow/sandbox"
	"github.com/deepauras/auroraflow/telemetry"
	"github.com/deepauras/auroraflow/templates"
)

// Runtime is everything a process needs to either serve the task API or
// run the dispatch loop (often both, as cmd/worker and cmd/api do today
// from one shared Build call).
type Runtime struct {
	Config       *Config
	Logger       core.Logger
	RedisClient  *redis.Client
	Docs         docstore.Store
	Templates    templates.Repository
	Compiler     *sandbox.Compiler
	Orchestrator *orchestrator.Orchestrator
	Server       *orchestrator.Server
	WorkQueue    orchestrator.WorkQueue
}

// Build constructs every layer described in Config and wires them into an
// Orchestrator and its HTTP Server, mirroring the teacher's
// constructor-chain wiring (see weather-tool-v2/main.go) rather than a
// reflection-based container.
func Build(ctx context.Context, cfg *Config) (*Runtime, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	logger := core.NewProductionLogger(cfg.Logging, cfg.Development, cfg.ServiceName)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)

	docs := docstore.NewRedisStore(redisClient, cfg.Docstore, logger)

	var embedder embedding.Client
	if cfg.UseHashEmbedder {
		embedder = embedding.NewHashClient(cfg.Embedding.Dims)
	} else {
		embedder = embedding.NewHTTPClient(cfg.Embedding, logger)
	}

	mem := memory.New(docs, embedder, logger, 4)

	objects, err := objectstore.NewS3Store(ctx, cfg.ObjectStore, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: construct object store: %w", err)
	}

	aiClient := ai.NewOpenAIClient(cfg.OpenAIAPIKey, logger)

	compiler, err := sandbox.NewCompiler(cfg.SandboxBuildDir, cfg.SandboxPolicy, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: construct sandbox compiler: %w", err)
	}

	templatesRepo := templates.New(docs, embedder, cfg.SandboxPolicy, compiler, logger, cfg.Templates)

	tracker := repair.NewTracker(&cfg.RepairLimits)
	repairEngine := repair.NewEngine(templatesRepo, mem, aiClient, tracker, cfg.SandboxPolicy, logger)

	tasks := orchestrator.NewDocstoreTaskStore(docs, logger)
	wq := orchestrator.NewRedisWorkQueue(redisClient, &orchestrator.RedisWorkQueueConfig{
		QueueKey:     cfg.Orchestrator.QueueKey,
		CancelledKey: cfg.Orchestrator.CancelledKey,
	}, logger)

	// orch is declared ahead of buildCaps so the capability builder can
	// close over it as the DeliveryCanceller/RetryEnqueuer, the same
	// import-cycle-avoiding indirection executor.Capabilities documents.
	var orch *orchestrator.Orchestrator
	buildCaps := func() *executor.Capabilities {
		return executor.NewCapabilities(tasks, mem, aiClient, objects, repairEngine, logger,
			executor.WithDeliveryCanceller(orch),
			executor.WithRetryEnqueuer(orch),
		)
	}

	var telem core.Telemetry = &core.NoOpTelemetry{}
	if cfg.OTLPEndpoint != "" {
		provider, telemErr := telemetry.NewOTelProvider(cfg.ServiceName, cfg.OTLPEndpoint)
		if telemErr != nil {
			return nil, fmt.Errorf("bootstrap: construct telemetry provider: %w", telemErr)
		}
		telem = provider
	}

	orch = orchestrator.New(tasks, wq, templatesRepo, compiler, buildCaps, logger, telem)
	srv := orchestrator.NewServer(orch, logger)

	return &Runtime{
		Config:       cfg,
		Logger:       logger,
		RedisClient:  redisClient,
		Docs:         docs,
		Templates:    templatesRepo,
		Compiler:     compiler,
		Orchestrator: orch,
		Server:       srv,
		WorkQueue:    wq,
	}, nil
}
