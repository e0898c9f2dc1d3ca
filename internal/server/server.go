// Package server wires the worklens components and creates the MCP
// server instance.
//
// This is the composition root: it builds concrete implementations
// (store, tracker client, language model, pipeline, sync service,
// search engine) and injects them into the tools that depend on them.
// No business logic lives here, only wiring.
package server

import (
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/adolab/worklens/internal/config"
	"github.com/adolab/worklens/internal/llm"
	llmanthropic "github.com/adolab/worklens/internal/llm/anthropic"
	llmopenai "github.com/adolab/worklens/internal/llm/openai"
	"github.com/adolab/worklens/internal/search"
	"github.com/adolab/worklens/internal/store"
	"github.com/adolab/worklens/internal/summarize"
	"github.com/adolab/worklens/internal/syncer"
	"github.com/adolab/worklens/internal/tools"
	"github.com/adolab/worklens/internal/tracker"
)

// Version is set at build time via ldflags.
var Version = "dev"

// App bundles the MCP server with the services the entrypoint needs
// after construction.
type App struct {
	MCP    *server.MCPServer
	Syncer *syncer.Service

	store *store.Store
}

// Close releases the app's resources (the store's database handle).
func (a *App) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

// New creates and configures the MCP server with all tools registered.
// This is the single place where all dependencies are resolved.
func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	st, err := store.New(store.Config{DataDir: cfg.DataDir})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	source := tracker.NewAzureClient(tracker.AzureConfig{
		BaseURL:      cfg.Tracker.BaseURL,
		Organization: cfg.Tracker.Organization,
		Project:      cfg.Tracker.Project,
		PAT:          os.Getenv(cfg.Tracker.PATEnv),
		APIVersion:   cfg.Tracker.APIVersion,
		Timeout:      time.Duration(cfg.Tracker.TimeoutSecs) * time.Second,
	}, log)

	model, err := buildModel(cfg.LLM)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	pipeline := summarize.New(model, st, cfg.LLM.OpenAI.EmbeddingModel, log)
	syncSvc := syncer.New(source, st, pipeline, cfg.Tracker.AreaPath, log)
	planner := search.NewPlanner(model, log)
	engine := search.NewEngine(planner, model, st, log)

	s := server.NewMCPServer(
		"worklens",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	syncTool := tools.NewSyncTool(syncSvc, st)
	s.AddTool(syncTool.Definition(), syncTool.Handle)

	reindexTool := tools.NewReindexTool(syncSvc, st)
	s.AddTool(reindexTool.Definition(), reindexTool.Handle)

	searchTool := tools.NewSmartSearchTool(engine, syncSvc, st)
	s.AddTool(searchTool.Definition(), searchTool.Handle)

	listTool := tools.NewListItemsTool(st, syncSvc)
	s.AddTool(listTool.Definition(), listTool.Handle)

	getTool := tools.NewGetItemTool(st, syncSvc)
	s.AddTool(getTool.Definition(), getTool.Handle)

	metaTool := tools.NewMetadataTool(st, syncSvc)
	s.AddTool(metaTool.Definition(), metaTool.Handle)

	return &App{MCP: s, Syncer: syncSvc, store: st}, nil
}

// buildModel assembles the language model from the configured chat
// provider. Embeddings always come from OpenAI: Anthropic has no
// embeddings API, so selecting it for chat yields a composite model.
func buildModel(cfg config.LLMConfig) (llm.Model, error) {
	embedder := llmopenai.NewModel(func(o *llmopenai.Options) {
		o.Model = cfg.OpenAI.Model
		o.EmbeddingModel = cfg.OpenAI.EmbeddingModel
		o.APIKey = os.Getenv(cfg.OpenAI.APIKeyEnv)
	})

	switch cfg.ChatProvider {
	case "openai":
		return embedder, nil
	case "anthropic":
		chat := llmanthropic.NewModel(func(o *llmanthropic.Options) {
			o.Model = anthropic.Model(cfg.Anthropic.Model)
			o.APIKey = os.Getenv(cfg.Anthropic.APIKeyEnv)
		})
		return &llm.Composite{Chat: chat, Embedder: embedder}, nil
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.ChatProvider)
	}
}

func serverInstructions() string {
	return `worklens mirrors Azure DevOps work items into a local store and layers
AI-assisted search over them.

Start with 'sync' to populate or refresh the mirror (the first run is a full
sync and may take a while; later runs are incremental). Then:

- smart_search: ask in natural language; combines filters with semantic ranking
- list_items / get_item: browse the mirror with structured filters
- scope_metadata: see what types, states, and assignees exist
- reindex: rebuild AI summaries and embeddings after a model change`
}
