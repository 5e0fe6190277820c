package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vijoin/tero/internal/config"
	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/pkg/models"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"serve", "migrate", "sweep", "config", "version"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "tero dev") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestConfigSchemaCommand(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "schema"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(out.Bytes(), &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if schema["title"] != "tero configuration" {
		t.Errorf("title = %v", schema["title"])
	}
	if !strings.Contains(out.String(), "frontend_url") {
		t.Error("schema missing server.frontend_url")
	}
}

func TestConfigValidateCommandReportsIssues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tero.yaml")
	if err := os.WriteFile(path, []byte("server: {frontend_url: /relative}\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cmd := buildRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"config", "validate", "--config", path})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "server.frontend_url") {
		t.Fatalf("validate error = %v, want frontend_url issue", err)
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("TERO_CONFIG", "")
	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Fatalf("expected default path, got %q", got)
	}
	if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
		t.Fatalf("expected explicit path, got %q", got)
	}

	t.Setenv("TERO_CONFIG", "/etc/tero.yaml")
	if got := resolveConfigPath(defaultConfigPath); got != "/etc/tero.yaml" {
		t.Fatalf("expected env path, got %q", got)
	}
}

func testConfig() *config.Config {
	enabled := false
	headless := true
	temp := 0.0
	return &config.Config{
		Server: config.ServerConfig{FrontendURL: "https://app.example.com"},
		LLM: config.LLMConfig{
			Models: []models.LLMModel{{
				ID:               "gpt-4o",
				Vendor:           models.VendorOpenAI,
				TokenLimit:       128000,
				OutputTokenLimit: 4096,
			}},
			GeneratorModel:       "gpt-4o",
			EvaluatorModel:       "gpt-4o",
			EvaluatorTemperature: &temp,
			MaxIterations:        20,
		},
		OAuth: config.OAuthConfig{
			TokenTTL:              time.Hour,
			StateTTL:              time.Minute,
			ClientRegistrationTTL: time.Hour,
			ExpiryMargin:          time.Minute,
			SweepSchedule:         "@every 10m",
		},
		Tools: config.ToolsConfig{
			HTTPTimeout: time.Second,
			Browser:     config.BrowserToolConfig{Headless: &headless},
		},
		TestSuite: config.TestSuiteConfig{OrphanAfter: time.Hour, OrphanSweepSchedule: "@every 10m"},
		Observability: config.ObservabilityConfig{
			Metrics: config.MetricsConfig{Enabled: &enabled},
		},
	}
}

func TestBuildCatalogRegistersConfiguredTools(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		edit func(cfg *config.Config)
		want []string
	}{
		{
			name: "defaults",
			edit: func(*config.Config) {},
			want: []string{"jira", "mcp-*"},
		},
		{
			name: "google without engine id",
			edit: func(cfg *config.Config) {
				cfg.Tools.Web.GoogleAPIKey = "key"
			},
			want: []string{"jira", "mcp-*"},
		},
		{
			name: "tavily and openai",
			edit: func(cfg *config.Config) {
				cfg.Tools.Web.TavilyAPIKey = "tvly"
				cfg.LLM.Providers = map[string]config.ProviderConfig{
					config.ProviderOpenAI: {APIKey: "sk-test"},
				}
			},
			want: []string{"docs", "jira", "mcp-*", "web"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.edit(cfg)
			a := &app{cfg: cfg, logger: logger, stores: storage.NewMemoryStores()}
			catalog, err := a.buildCatalog()
			if err != nil {
				t.Fatalf("buildCatalog: %v", err)
			}
			got := catalog.IDs()
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("expected tools %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAppSweepOnEmptyStores(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	cfg.LLM.Providers = map[string]config.ProviderConfig{
		config.ProviderOpenAI: {APIKey: "sk-test"},
	}

	a, err := newApp(cfg, logger, storage.NewMemoryStores())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	var out bytes.Buffer
	if err := sweepOnce(context.Background(), &out, a); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	want := "oauth-sweep: ok\ntestsuite-orphan-sweep: ok\n"
	if out.String() != want {
		t.Fatalf("sweep output = %q, want %q", out.String(), want)
	}
}
