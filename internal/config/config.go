package config

import (
	"fmt"
	"time"

	"github.com/vijoin/tero/internal/observability"
	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/pkg/models"
)

// Config is the main configuration structure for tero.
type Config struct {
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Secrets       SecretsConfig       `yaml:"secrets"`
	Auth          AuthConfig          `yaml:"auth"`
	LLM           LLMConfig           `yaml:"llm"`
	OAuth         OAuthConfig         `yaml:"oauth"`
	Tools         ToolsConfig         `yaml:"tools"`
	Usage         UsageConfig         `yaml:"usage"`
	TestSuite     TestSuiteConfig     `yaml:"testsuite"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// FrontendURL is the public origin OAuth callbacks are redirected to.
	FrontendURL       string        `yaml:"frontend_url"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// SQLConfig converts the section to storage settings.
func (d DatabaseConfig) SQLConfig() storage.SQLConfig {
	return storage.SQLConfig{
		Driver:          d.Driver,
		DSN:             d.DSN,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
		ConnectTimeout:  d.ConnectTimeout,
	}
}

type SecretsConfig struct {
	// EncryptionKey is an age X25519 identity (AGE-SECRET-KEY-1...).
	EncryptionKey string `yaml:"encryption_key"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`
}

type LLMConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
	Models    []models.LLMModel         `yaml:"models"`

	GeneratorModel       string  `yaml:"generator_model"`
	GeneratorTemperature float64 `yaml:"generator_temperature"`
	// EvaluatorModel and EvaluatorTemperature default to the generator's.
	EvaluatorModel       string   `yaml:"evaluator_model"`
	EvaluatorTemperature *float64 `yaml:"evaluator_temperature"`

	MaxIterations int `yaml:"max_iterations"`
}

// Provider names accepted under llm.providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

type ProviderConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Model returns the configured model with id.
func (l LLMConfig) Model(id string) (*models.LLMModel, bool) {
	for i := range l.Models {
		if l.Models[i].ID == id {
			return &l.Models[i], true
		}
	}
	return nil, false
}

// ModelMap indexes the configured models by id.
func (l LLMConfig) ModelMap() map[string]*models.LLMModel {
	out := make(map[string]*models.LLMModel, len(l.Models))
	for i := range l.Models {
		out[l.Models[i].ID] = &l.Models[i]
	}
	return out
}

type OAuthConfig struct {
	TokenTTL              time.Duration `yaml:"token_ttl"`
	StateTTL              time.Duration `yaml:"state_ttl"`
	ClientRegistrationTTL time.Duration `yaml:"client_registration_ttl"`
	ExpiryMargin          time.Duration `yaml:"expiry_margin"`
	SweepSchedule         string        `yaml:"sweep_schedule"`
}

type ToolsConfig struct {
	Docs    DocsToolConfig    `yaml:"docs"`
	Web     WebToolConfig     `yaml:"web"`
	Browser BrowserToolConfig `yaml:"browser"`
	// HTTPTimeout bounds calls to MCP servers and web providers.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

type DocsToolConfig struct {
	ChunkSize      int     `yaml:"chunk_size"`
	ChunkOverlap   int     `yaml:"chunk_overlap"`
	RetrieveTop    int     `yaml:"retrieve_top"`
	EmbeddingModel string  `yaml:"embedding_model"`
	EmbeddingCost  float64 `yaml:"embedding_cost_per_1k_tokens"`
}

type WebToolConfig struct {
	TavilyAPIKey     string  `yaml:"tavily_api_key"`
	TavilyCost       float64 `yaml:"tavily_cost_per_1k_credits"`
	GoogleAPIKey     string  `yaml:"google_api_key"`
	GoogleEngineID   string  `yaml:"google_cse_id"`
	GoogleCost       float64 `yaml:"google_cost_per_1k_searches"`
	AllowPrivateURLs bool    `yaml:"allow_private_urls"`
}

type BrowserToolConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Headless     *bool         `yaml:"headless"`
	MaxInstances int           `yaml:"max_instances"`
	Timeout      time.Duration `yaml:"timeout"`
	Install      bool          `yaml:"install"`
}

type UsageConfig struct {
	MonthlyUSDLimitDefault float64 `yaml:"monthly_usd_limit_default"`
}

type TestSuiteConfig struct {
	OrphanSweepSchedule string        `yaml:"orphan_sweep_schedule"`
	OrphanAfter         time.Duration `yaml:"orphan_after"`
}

type ObservabilityConfig struct {
	Logging observability.LogConfig `yaml:"logging"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Tracing TracingConfig           `yaml:"tracing"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
}

// TraceConfig converts the section for observability.NewTracer.
func (t TracingConfig) TraceConfig(version string) observability.TraceConfig {
	return observability.TraceConfig{
		ServiceName:    "tero",
		ServiceVersion: version,
		Environment:    t.Environment,
		Endpoint:       t.Endpoint,
		SamplingRate:   t.SamplingRate,
		Insecure:       t.Insecure,
	}
}

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	sqlDefaults := storage.DefaultSQLConfig()
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = sqlDefaults.Driver
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = sqlDefaults.MaxOpenConns
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = sqlDefaults.MaxIdleConns
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = sqlDefaults.ConnMaxLifetime
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = sqlDefaults.ConnMaxIdleTime
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = sqlDefaults.ConnectTimeout
	}

	if cfg.Auth.JWTIssuer == "" {
		cfg.Auth.JWTIssuer = "tero"
	}

	if cfg.LLM.EvaluatorModel == "" {
		cfg.LLM.EvaluatorModel = cfg.LLM.GeneratorModel
	}
	if cfg.LLM.EvaluatorTemperature == nil {
		t := cfg.LLM.GeneratorTemperature
		cfg.LLM.EvaluatorTemperature = &t
	}
	if cfg.LLM.MaxIterations == 0 {
		cfg.LLM.MaxIterations = 20
	}

	if cfg.OAuth.TokenTTL == 0 {
		cfg.OAuth.TokenTTL = 30 * 24 * time.Hour
	}
	if cfg.OAuth.StateTTL == 0 {
		cfg.OAuth.StateTTL = 10 * time.Minute
	}
	if cfg.OAuth.ClientRegistrationTTL == 0 {
		cfg.OAuth.ClientRegistrationTTL = 30 * 24 * time.Hour
	}
	if cfg.OAuth.ExpiryMargin == 0 {
		cfg.OAuth.ExpiryMargin = 60 * time.Second
	}
	if cfg.OAuth.SweepSchedule == "" {
		cfg.OAuth.SweepSchedule = "@every 10m"
	}

	if cfg.Tools.HTTPTimeout == 0 {
		cfg.Tools.HTTPTimeout = 30 * time.Second
	}
	if cfg.Tools.Browser.Headless == nil {
		headless := true
		cfg.Tools.Browser.Headless = &headless
	}

	if cfg.TestSuite.OrphanSweepSchedule == "" {
		cfg.TestSuite.OrphanSweepSchedule = "@every 5m"
	}
	if cfg.TestSuite.OrphanAfter == 0 {
		cfg.TestSuite.OrphanAfter = time.Hour
	}

	if cfg.Observability.Logging.Level == "" {
		cfg.Observability.Logging.Level = "info"
	}
	if cfg.Observability.Logging.Format == "" {
		cfg.Observability.Logging.Format = "json"
	}
	if cfg.Observability.Metrics.Enabled == nil {
		enabled := true
		cfg.Observability.Metrics.Enabled = &enabled
	}
	if cfg.Observability.Metrics.Path == "" {
		cfg.Observability.Metrics.Path = "/metrics"
	}
}
