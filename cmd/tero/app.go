package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vijoin/tero/internal/agent"
	"github.com/vijoin/tero/internal/agent/providers"
	"github.com/vijoin/tero/internal/auth"
	"github.com/vijoin/tero/internal/config"
	"github.com/vijoin/tero/internal/cron"
	"github.com/vijoin/tero/internal/oauth"
	"github.com/vijoin/tero/internal/observability"
	"github.com/vijoin/tero/internal/secrets"
	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/internal/testsuite"
	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/internal/tools/browser"
	"github.com/vijoin/tero/internal/tools/docs"
	"github.com/vijoin/tero/internal/tools/jira"
	"github.com/vijoin/tero/internal/tools/mcp"
	"github.com/vijoin/tero/internal/tools/web"
	"github.com/vijoin/tero/internal/usage"
	"github.com/vijoin/tero/pkg/models"
)

// app holds the wired core shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	stores  storage.StoreSet
	metrics *observability.Metrics

	configs *tools.ConfigService
	engine  *agent.Engine
	runner  *testsuite.Runner
	oauth   *oauth.Coordinator
	sweeper *oauth.Sweeper

	closers []func() error
}

// loadConfig reads the configuration and installs its logger as the default.
func loadConfig(path string, debug bool) (*config.Config, *slog.Logger, func() error, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Observability.Logging.Level = "debug"
	}
	logger, closeLog, err := observability.NewLogger(cfg.Observability.Logging)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)
	return cfg, logger, closeLog, nil
}

// openStores opens the configured database.
func openStores(cfg *config.Config) (storage.StoreSet, error) {
	box, err := secrets.NewBox(cfg.Secrets.EncryptionKey)
	if err != nil {
		return storage.StoreSet{}, fmt.Errorf("load encryption key: %w", err)
	}
	stores, err := storage.OpenSQL(cfg.Database.SQLConfig(), box)
	if err != nil {
		return storage.StoreSet{}, fmt.Errorf("open database: %w", err)
	}
	return stores, nil
}

// newApp wires every component over stores.
func newApp(cfg *config.Config, logger *slog.Logger, stores storage.StoreSet) (*app, error) {
	a := &app{cfg: cfg, logger: logger, stores: stores}
	if *cfg.Observability.Metrics.Enabled {
		a.metrics = observability.NewMetrics(nil)
	}

	provs, err := buildProviders(cfg.LLM)
	if err != nil {
		return nil, err
	}
	catalog, err := a.buildCatalog()
	if err != nil {
		a.close()
		return nil, err
	}
	logger.Info("tool catalog ready", "tools", catalog.IDs())

	a.configs = tools.NewConfigService(catalog, stores, logger)
	a.configs.SetFrontendURL(cfg.Server.FrontendURL)
	a.configs.SetTokenExpiryMargin(cfg.OAuth.ExpiryMargin)

	recorder := usage.NewRecorder(stores.Usage)
	engineCfg := agent.Config{
		Tools:     a.configs,
		Providers: provs,
		Models:    cfg.LLM.ModelMap(),
		Recorder:  recorder,
		Guard:     usage.NewGuard(stores.Users, stores.Usage, cfg.Usage.MonthlyUSDLimitDefault),
		Generator: agent.ModelChoice{
			ModelID:     cfg.LLM.GeneratorModel,
			Temperature: cfg.LLM.GeneratorTemperature,
		},
		Logger:        logger,
		MaxIterations: cfg.LLM.MaxIterations,
	}
	runnerCfg := testsuite.Config{
		Threads:  stores.Threads,
		Suites:   stores.TestSuites,
		Recorder: recorder,
		Evaluator: agent.ModelChoice{
			ModelID:     cfg.LLM.EvaluatorModel,
			Temperature: *cfg.LLM.EvaluatorTemperature,
		},
		Logger: logger,
	}
	// A nil *Metrics must not end up in the interface fields.
	if a.metrics != nil {
		engineCfg.Observer = a.metrics
		runnerCfg.Metrics = a.metrics
	}
	a.engine = agent.NewEngine(engineCfg)
	runnerCfg.Engine = a.engine
	a.runner = testsuite.NewRunner(runnerCfg)

	a.oauth = oauth.NewCoordinator(stores, a.configs, logger)
	a.sweeper = oauth.NewSweeper(stores.OAuth, oauth.SweepConfig{
		TokenTTL:        cfg.OAuth.TokenTTL,
		StateTTL:        cfg.OAuth.StateTTL,
		RegistrationTTL: cfg.OAuth.ClientRegistrationTTL,
	}, logger)
	return a, nil
}

func buildProviders(cfg config.LLMConfig) (agent.Providers, error) {
	provs := agent.Providers{}
	if pc, ok := cfg.Providers[config.ProviderAnthropic]; ok {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:     pc.APIKey,
			BaseURL:    pc.BaseURL,
			MaxRetries: pc.MaxRetries,
			RetryDelay: pc.RetryDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("init anthropic provider: %w", err)
		}
		provs[models.VendorAnthropic] = p
	}
	if pc, ok := cfg.Providers[config.ProviderOpenAI]; ok {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:     pc.APIKey,
			BaseURL:    pc.BaseURL,
			MaxRetries: pc.MaxRetries,
			RetryDelay: pc.RetryDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("init openai provider: %w", err)
		}
		provs[models.VendorOpenAI] = p
	}
	return provs, nil
}

// buildCatalog registers the tools the configuration enables. The web tool
// needs a Tavily key or a Google key with an engine id; docs needs an
// OpenAI key for embeddings.
func (a *app) buildCatalog() (*tools.Catalog, error) {
	cfg := a.cfg
	httpClient := &http.Client{Timeout: cfg.Tools.HTTPTimeout}
	catalog := tools.NewCatalog()

	if pc, ok := cfg.LLM.Providers[config.ProviderOpenAI]; ok {
		embedder, err := docs.NewOpenAIEmbedder(docs.OpenAIConfig{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   cfg.Tools.Docs.EmbeddingModel,
		})
		if err != nil {
			return nil, fmt.Errorf("init docs embedder: %w", err)
		}
		opts := docs.Options{
			ChunkSize:       cfg.Tools.Docs.ChunkSize,
			ChunkOverlap:    cfg.Tools.Docs.ChunkOverlap,
			RetrieveTop:     cfg.Tools.Docs.RetrieveTop,
			EmbeddingModel:  cfg.Tools.Docs.EmbeddingModel,
			CostPer1KTokens: cfg.Tools.Docs.EmbeddingCost,
		}
		catalog.Register(func() tools.Tool { return docs.New(embedder, opts) })
	} else {
		a.logger.Warn("docs tool disabled: no openai provider configured")
	}

	webCfg := cfg.Tools.Web
	if webCfg.TavilyAPIKey != "" || (webCfg.GoogleAPIKey != "" && webCfg.GoogleEngineID != "") {
		opts := web.Options{
			TavilyAPIKey:     webCfg.TavilyAPIKey,
			TavilyCostPer1K:  webCfg.TavilyCost,
			GoogleAPIKey:     webCfg.GoogleAPIKey,
			GoogleEngineID:   webCfg.GoogleEngineID,
			GoogleCostPer1K:  webCfg.GoogleCost,
			AllowPrivateURLs: webCfg.AllowPrivateURLs,
		}
		catalog.Register(func() tools.Tool { return web.New(httpClient, opts) })
	}

	catalog.Register(func() tools.Tool { return jira.New(httpClient) })
	catalog.Register(func() tools.Tool { return mcp.New(httpClient, version) })

	if cfg.Tools.Browser.Enabled {
		pool, err := browser.NewPool(browser.PoolConfig{
			MaxInstances: cfg.Tools.Browser.MaxInstances,
			Timeout:      cfg.Tools.Browser.Timeout,
			Headless:     *cfg.Tools.Browser.Headless,
			Install:      cfg.Tools.Browser.Install,
		})
		if err != nil {
			return nil, fmt.Errorf("init browser pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		catalog.Register(func() tools.Tool { return browser.New(pool) })
	}
	return catalog, nil
}

// authenticator returns the bearer token authenticator of the API.
func (a *app) authenticator() *auth.Authenticator {
	jwtService := auth.NewJWTService(a.cfg.Auth.JWTSecret, a.cfg.Auth.JWTIssuer, 0)
	return auth.NewAuthenticator(jwtService, a.stores.Users, a.cfg.Usage.MonthlyUSDLimitDefault, a.logger)
}

// sweep runs the OAuth and orphaned suite sweeps once.
// scheduler registers the maintenance sweeps on their configured schedules.
func (a *app) scheduler() (*cron.Scheduler, error) {
	s := cron.NewScheduler(cron.WithLogger(a.logger))
	if err := s.Add(cron.OAuthSweepJob, a.cfg.OAuth.SweepSchedule, cron.OAuthSweep(a.sweeper, a.logger)); err != nil {
		return nil, fmt.Errorf("schedule oauth sweep: %w", err)
	}
	if err := s.Add(cron.OrphanSweepJob, a.cfg.TestSuite.OrphanSweepSchedule,
		cron.OrphanSweep(a.runner, a.cfg.TestSuite.OrphanAfter, a.logger)); err != nil {
		return nil, fmt.Errorf("schedule orphan sweep: %w", err)
	}
	return s, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
