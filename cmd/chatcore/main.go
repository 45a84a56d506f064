// Command chatcore runs the agentic chat orchestration core as a standalone
// service: an admin HTTP surface for background jobs and metrics, with every
// chat turn driven through internal/turn.Runner rather than over HTTP.
//
// Usage:
//
//	chatcore serve --config config.yaml
//	chatcore validate --config config.yaml
//	chatcore schema
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"

	"github.com/aideny-kr/chatcore/internal/appconfig"
	"github.com/aideny-kr/chatcore/internal/audit"
	"github.com/aideny-kr/chatcore/internal/embedder"
	"github.com/aideny-kr/chatcore/internal/entitlement"
	"github.com/aideny-kr/chatcore/internal/history"
	"github.com/aideny-kr/chatcore/internal/httpclient"
	"github.com/aideny-kr/chatcore/internal/llm"
	"github.com/aideny-kr/chatcore/internal/localtools"
	"github.com/aideny-kr/chatcore/internal/memory"
	"github.com/aideny-kr/chatcore/internal/observability"
	"github.com/aideny-kr/chatcore/internal/ratelimit"
	"github.com/aideny-kr/chatcore/internal/retriever"
	"github.com/aideny-kr/chatcore/internal/specialist"
	"github.com/aideny-kr/chatcore/internal/storage"
	"github.com/aideny-kr/chatcore/internal/tool"
	"github.com/aideny-kr/chatcore/internal/turn"
	"github.com/aideny-kr/chatcore/internal/vault"
	"github.com/aideny-kr/chatcore/internal/vectorstore"
	"github.com/aideny-kr/chatcore/internal/vernacular"
	"github.com/aideny-kr/chatcore/internal/wallet"
	"github.com/aideny-kr/chatcore/internal/worker"
	"github.com/aideny-kr/chatcore/internal/xlog"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the orchestration core and its admin surface."`
	Validate ValidateCmd `cmd:"" help:"Load and validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema for the configuration document."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config string `short:"c" help:"Path to config file." type:"path" default:"chatcore.yaml"`
	Env    string `help:"Path to a .env file to load before anything else." type:"path" default:".env"`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	fmt.Printf("chatcore version %s\n", version)
	return nil
}

// ValidateCmd loads and validates a config file without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, err := appconfig.LoadFile(ctx, cli.Config)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	fmt.Printf("%s is valid: %d LLM provider(s), %d plan(s) configured\n",
		cli.Config, len(cfg.LLMProviders), len(cfg.Plans))
	return nil
}

// SchemaCmd emits the JSON Schema for appconfig.Config so deployment tooling
// can validate a config file without running the service.
type SchemaCmd struct{}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(&appconfig.Config{})
	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// ServeCmd starts the service: it builds every collaborator internal/turn
// needs, starts the background worker scheduler, and serves the admin HTTP
// surface (health, job triggers, metrics) until it receives SIGINT/SIGTERM.
type ServeCmd struct {
	AdminAddr string `name:"admin-addr" help:"Address for the admin/metrics HTTP surface." default:":8090"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, err := appconfig.LoadFile(ctx, cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := xlog.New(xlog.Options{Level: xlog.ParseLevel(cfg.Log.Level), Format: cfg.Log.Format})
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "path", cli.Config)

	obs, err := observability.NewManager(ctx, observability.Config{
		ServiceName:    "chatcore",
		MetricsEnabled: true,
		Namespace:      "chatcore",
		TracingEnabled: cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer obs.Shutdown(context.Background())

	pool, err := storage.Open(ctx, storage.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer pool.Close()
	db := pool.DB()

	keys := make(map[int]string, len(cfg.Vault.Keys))
	for v, k := range cfg.Vault.Keys {
		keys[v] = k
	}
	keyRing, err := vault.NewKeyRing(cfg.Vault.ActiveKeyVersion, keys)
	if err != nil {
		return fmt.Errorf("build vault key ring: %w", err)
	}
	credVault := vault.New(keyRing)

	auditLog := audit.New()

	client := httpclient.New(httpclient.WithTimeout(60*time.Second), httpclient.WithMaxRetries(3))

	providers := llm.NewRegistry()
	var mainProviderName, mainModel, fastModel string
	for name, pc := range cfg.LLMProviders {
		var p llm.Provider
		switch pc.Type {
		case "anthropic":
			p = llm.NewAnthropicProvider(pc.APIKey, pc.BaseURL, client)
		case "openai":
			p = llm.NewOpenAIProvider(pc.APIKey, pc.BaseURL, client)
		case "gemini":
			p = llm.NewGeminiProvider(pc.APIKey, pc.BaseURL, client)
		default:
			return fmt.Errorf("llm_providers.%s: unsupported type %q", name, pc.Type)
		}
		if err := providers.Register(name, p); err != nil {
			return fmt.Errorf("register llm provider %s: %w", name, err)
		}
		if mainProviderName == "" {
			mainProviderName, mainModel = name, pc.Model
		}
		if name == "fast" {
			fastModel = pc.Model
		}
	}
	if fastModel == "" {
		fastModel = mainModel
	}
	mainProvider, _ := providers.Get(mainProviderName)

	vsProvider, err := vectorstore.NewProvider(vectorstore.Config{
		Backend: vectorstore.BackendType(cfg.VectorStore.Provider),
		Chromem: vectorstore.ChromemConfig{PersistPath: cfg.VectorStore.Host},
		Pinecone: vectorstore.PineconeConfig{APIKey: cfg.VectorStore.APIKey, Host: cfg.VectorStore.Host},
		Qdrant:   vectorstore.QdrantConfig{Host: cfg.VectorStore.Host, APIKey: cfg.VectorStore.APIKey},
	})
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	defer vsProvider.Close()

	var emb retriever.Embedder
	if ec, ok := cfg.LLMProviders["embedder"]; ok {
		emb = embedder.NewOpenAIEmbedder(ec.APIKey, ec.BaseURL, ec.Model, client)
	}
	keywordSearcher := retriever.NewKeywordSearcher(db)
	retr := retriever.New(vsProvider, emb, keywordSearcher)

	limiter := ratelimit.New(cfg.RateLimit.DefaultRequestsPerMinute, nil)
	entitlements := entitlement.New(cfg.Plans, db)

	vernacularExtractor := vernacular.NewExtractor(mainProvider, fastModel)
	vernacularResolver := vernacular.NewResolver(db, cfg.Database.Driver, vernacularExtractor)

	compactor := history.NewCompactor(mainProvider, fastModel)
	memoryUpdater := memory.NewUpdater(db, mainProvider, fastModel, auditLog)

	scheduler := worker.NewScheduler(pool, auditLog, obs.Metrics(), logger)
	scheduler.ReconcileInterval = cfg.Billing.ReconcileInterval
	scheduler.RetentionDays = cfg.Billing.AuditRetentionDays

	connStore := localtools.DBConnectionStore{DB: db}
	suiteQL := localtools.NewSuiteQLRunner(connStore, credVault, client)

	workspaceRootDir := os.Getenv("CHATCORE_WORKSPACE_ROOT")
	discoveryJob := worker.NewMetadataDiscoveryJob(db, suiteQL)
	scheduler.RegisterOnDemand(discoveryJob)
	scheduler.RegisterOnDemand(worker.NewWorkspaceImportJob(db, workspaceRootDir))
	triggerDiscovery := func(ctx context.Context, tenantID uuid.UUID) (map[string]any, error) {
		job, err := scheduler.RunJob(ctx, discoveryJob.Name, tenantID, discoveryJob.Run)
		if err != nil {
			return nil, err
		}
		return job.ResultSummary, nil
	}

	toolRegistry := tool.NewRegistry()
	workspaceRoot := localtools.WorkspaceRoot{Root: workspaceRootDir}
	for _, def := range []tool.Definition{
		localtools.NetSuiteSuiteQLDefinition(connStore, credVault, client),
		localtools.ConnectivityCheckDefinition(suiteQL),
		localtools.RefreshMetadataDefinition(triggerDiscovery),
		localtools.RAGSearchDefinition(retr),
		localtools.ListFilesDefinition(workspaceRoot),
		localtools.ReadFileDefinition(workspaceRoot),
		localtools.SearchDefinition(workspaceRoot),
		localtools.ProposePatchDefinition(),
	} {
		if err := toolRegistry.Register(def.Name, def); err != nil {
			return fmt.Errorf("register tool %s: %w", def.Name, err)
		}
	}

	connectorStore := localtools.DBConnectorStore{DB: db, Vault: credVault, Client: client}
	sessionPool := tool.NewSessionPool(connectorStore, 30*time.Second)
	dispatcher := tool.NewDispatcher(toolRegistry, sessionPool, limiter, entitlements, auditLog, obs.Metrics())

	agents := map[string]*specialist.Agent{
		"suiteql":   specialist.NewSuiteQLAgent(mainProvider, mainModel, toolRegistry, dispatcher),
		"rag":       specialist.NewRAGAgent(mainProvider, mainModel, toolRegistry, dispatcher),
		"workspace": specialist.NewWorkspaceAgent(mainProvider, mainModel, toolRegistry, dispatcher),
		"analysis":  specialist.NewAnalysisAgent(mainProvider, mainModel, toolRegistry, dispatcher),
	}

	runner := &turn.Runner{
		Pool:           pool,
		Providers:      providers,
		MainProvider:   mainProviderName,
		MainModel:      mainModel,
		FastModel:      fastModel,
		SynthesisModel: cfg.Billing.SynthesisModelSetting,
		Compactor:      compactor,
		Vernacular:     vernacularResolver,
		Specialists:    agents,
		ToolRegistry:   toolRegistry,
		Dispatcher:     dispatcher,
		Wallet:         wallet.New(),
		MemoryUpdater:  memoryUpdater,
		AuditLog:       auditLog,
		Metrics:        obs.Metrics(),
	}
	_ = runner // held live by the caller that drives individual turns (omitted here: no HTTP chat endpoint per the non-goals)

	scheduler.Start(ctx)
	defer scheduler.Stop()

	mux := http.NewServeMux()
	mux.Handle("/", scheduler.AdminRouter())
	mux.Handle("/metrics", obs.MetricsHandler())

	srv := &http.Server{Addr: c.AdminAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("chatcore admin surface listening", "addr", c.AdminAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

func main() {
	cli := CLI{}
	parser := kong.Must(&cli,
		kong.Name("chatcore"),
		kong.Description("Agentic chat orchestration core"),
		kong.UsageOnError(),
	)

	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if cli.Env != "" {
		_ = godotenv.Load(cli.Env)
	}

	err = kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}
