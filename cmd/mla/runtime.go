package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/taskmesh/mla/internal/config"
	"github.com/taskmesh/mla/internal/contextbuilder"
	"github.com/taskmesh/mla/internal/events"
	"github.com/taskmesh/mla/internal/llm"
	"github.com/taskmesh/mla/internal/llm/providers"
	"github.com/taskmesh/mla/internal/observability"
	"github.com/taskmesh/mla/internal/store"
	"github.com/taskmesh/mla/internal/thinking"
	"github.com/taskmesh/mla/internal/toolexec"
)

// runtimeFlags are the configuration knobs shared by run and resume.
type runtimeFlags struct {
	configDir    string
	libraryRoot  string
	system       string
	stateDir     string
	stateBackend string
	stateDSN     string
	debug        bool
}

// openStore constructs the Persistence Store the flags select: the default
// filesystem JSON store, an embedded SQLite database, or Postgres via DSN.
func openStore(f runtimeFlags) (store.Store, error) {
	if f.stateDir == "" {
		f.stateDir = "./state"
	}
	switch f.stateBackend {
	case "", "file":
		return store.NewFileStore(f.stateDir, slog.Default())
	case "sqlite":
		path := f.stateDSN
		if path == "" {
			if err := os.MkdirAll(f.stateDir, 0o755); err != nil {
				return nil, fmt.Errorf("mla: create state dir: %w", err)
			}
			path = filepath.Join(f.stateDir, "mla.db")
		}
		return store.NewSQLiteStore(path, slog.Default())
	case "postgres":
		if f.stateDSN == "" {
			return nil, fmt.Errorf("mla: --state-dsn is required for the postgres backend")
		}
		return store.NewPostgresStoreFromDSN(f.stateDSN, nil, slog.Default())
	default:
		return nil, fmt.Errorf("mla: unknown state backend %q (want file, sqlite, or postgres)", f.stateBackend)
	}
}

// runtime bundles every long-lived dependency the driver wires once per
// invocation and threads explicitly, so nothing lives as a package-level
// singleton.
type runtime struct {
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	shutdown   func(context.Context) error
	llmConfig  *config.LLMConfig
	toolConfig *config.ToolConfig
	library    *config.AgentLibrary
	llmClient  *llm.Client
	toolServer *toolexec.ToolServerClient
	builder    *contextbuilder.Builder
	thinker    *thinking.Service
	store      store.Store
	stateDir   string
}

// buildRuntime loads run_env_config/*, the named agent_library/<system>
// directory, and constructs the LLM Client, Context Builder, and
// Persistence Store every task run shares.
func buildRuntime(f runtimeFlags) (*runtime, error) {
	logLevel := "info"
	if f.debug {
		logLevel = "debug"
	}
	logger := observability.MustNewLogger(observability.LogConfig{Level: logLevel, Format: "json", Output: os.Stderr})
	metrics := observability.NewMetrics()
	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName: "mla",
		Endpoint:    os.Getenv("OTEL_ENDPOINT"),
	})

	llmConfig, err := config.LoadLLMConfig(filepath.Join(f.configDir, "llm_config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("mla: load llm config: %w", err)
	}
	toolConfig, err := config.LoadToolConfig(filepath.Join(f.configDir, "tool_config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("mla: load tool config: %w", err)
	}
	library, err := config.LoadAgentLibrary(filepath.Join(f.libraryRoot, f.system))
	if err != nil {
		return nil, fmt.Errorf("mla: load agent library: %w", err)
	}

	llmProviders := map[string]llm.Provider{}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: key, BaseURL: llmConfig.BaseURL})
		if err != nil {
			return nil, fmt.Errorf("mla: anthropic provider: %w", err)
		}
		llmProviders["anthropic"] = p
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		llmProviders["openai"] = providers.NewOpenAIProvider(key)
	}
	if len(llmProviders) == 0 {
		return nil, fmt.Errorf("mla: no LLM provider configured (set ANTHROPIC_API_KEY or OPENAI_API_KEY)")
	}

	timeouts := llm.Timeouts{
		Overall:    time.Duration(llmConfig.TimeoutSeconds) * time.Second,
		InterChunk: time.Duration(llmConfig.StreamTimeout) * time.Second,
		FirstChunk: time.Duration(llmConfig.FirstChunkTimeout) * time.Second,
	}
	llmClient := llm.NewClient(llmProviders, timeouts, logger).WithObservability(metrics, tracer)

	toolServer := toolexec.NewToolServerClient(toolConfig.ToolsServer, 10*time.Minute)

	compressorModel := llmConfig.Models[0].Name
	if len(llmConfig.CompressorModels) > 0 {
		compressorModel = llmConfig.CompressorModels[0].Name
	}
	summarizer := contextbuilder.NewLLMSummarizer(llmClient, compressorModel)
	builder := contextbuilder.New(summarizer, llmConfig.MaxContextWindow)

	planModel := compressorModel
	thinker := thinking.New(llmClient, planModel)

	if f.stateDir == "" {
		f.stateDir = "./state"
	}
	st, err := openStore(f)
	if err != nil {
		return nil, err
	}

	return &runtime{
		logger:     logger,
		metrics:    metrics,
		tracer:     tracer,
		shutdown:   tracerShutdown,
		llmConfig:  llmConfig,
		toolConfig: toolConfig,
		library:    library,
		llmClient:  llmClient,
		toolServer: toolServer,
		builder:    builder,
		thinker:    thinker,
		store:      st,
		stateDir:   f.stateDir,
	}, nil
}

// eventLogPath returns the per-task JSONL event log file mla inspect replays.
func (r *runtime) eventLogPath(taskFingerprint string) string {
	return filepath.Join(r.stateDir, taskFingerprint+"_events.jsonl")
}

// buildEmitter opens (or creates) taskFingerprint's event log and fans events
// out to it alongside stdout, so mla inspect can replay a finished run.
func (r *runtime) buildEmitter(taskFingerprint string) (*events.Emitter, func(), error) {
	f, err := os.OpenFile(r.eventLogPath(taskFingerprint), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("mla: open event log: %w", err)
	}
	sink := events.NewMultiSink(events.NewWriterSink(os.Stdout), events.NewWriterSink(f))
	emitter := events.New(taskFingerprint, sink)
	return emitter, func() { _ = f.Close() }, nil
}
