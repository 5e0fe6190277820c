package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/vijoin/tero/internal/secrets"
	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/pkg/models"
)

// ConfigValidationError lists every problem found in a configuration.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "invalid config:\n  - " + strings.Join(e.Issues, "\n  - ")
}

var vendorProviders = map[models.ModelVendor]string{
	models.VendorAnthropic: ProviderAnthropic,
	models.VendorOpenAI:    ProviderOpenAI,
}

// Validate reports every invalid setting at once. Defaults must already be
// applied.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		add("%v", err)
	}

	if u, err := url.Parse(c.Server.FrontendURL); c.Server.FrontendURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		add("server.frontend_url must be an absolute URL")
	}

	switch c.Database.Driver {
	case storage.DriverPostgres, storage.DriverSQLite:
	default:
		add("database.driver must be %q or %q", storage.DriverPostgres, storage.DriverSQLite)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		add("database.dsn is required")
	}

	if _, err := secrets.NewBox(c.Secrets.EncryptionKey); err != nil {
		add("secrets.encryption_key: %v", err)
	}
	if len(c.Auth.JWTSecret) < 16 {
		add("auth.jwt_secret must be at least 16 characters")
	}

	issues = append(issues, c.LLM.issues()...)

	for name, schedule := range map[string]string{
		"oauth.sweep_schedule":            c.OAuth.SweepSchedule,
		"testsuite.orphan_sweep_schedule": c.TestSuite.OrphanSweepSchedule,
	} {
		if _, err := cron.ParseStandard(schedule); err != nil {
			add("%s: %v", name, err)
		}
	}
	if c.OAuth.ExpiryMargin < 0 {
		add("oauth.expiry_margin must not be negative")
	}

	docs := c.Tools.Docs
	if docs.ChunkSize < 0 || docs.ChunkOverlap < 0 || docs.RetrieveTop < 0 {
		add("tools.docs sizes must not be negative")
	}
	if docs.ChunkSize > 0 && docs.ChunkOverlap >= docs.ChunkSize {
		add("tools.docs.chunk_overlap must be smaller than chunk_size")
	}
	if c.Tools.Web.GoogleAPIKey != "" && c.Tools.Web.GoogleEngineID == "" {
		add("tools.web.google_cse_id is required with google_api_key")
	}

	if c.Usage.MonthlyUSDLimitDefault < 0 {
		add("usage.monthly_usd_limit_default must not be negative")
	}
	if rate := c.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		add("observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func (l LLMConfig) issues() []string {
	var issues []string
	for name, p := range l.Providers {
		if name != ProviderAnthropic && name != ProviderOpenAI {
			issues = append(issues, fmt.Sprintf("llm.providers.%s: unknown provider", name))
			continue
		}
		if p.APIKey == "" {
			issues = append(issues, fmt.Sprintf("llm.providers.%s.api_key is required", name))
		}
	}

	seen := make(map[string]bool, len(l.Models))
	for i, m := range l.Models {
		switch {
		case m.ID == "":
			issues = append(issues, fmt.Sprintf("llm.models[%d].id is required", i))
			continue
		case seen[m.ID]:
			issues = append(issues, fmt.Sprintf("llm.models: duplicate id %q", m.ID))
		}
		seen[m.ID] = true
		provider, ok := vendorProviders[m.Vendor]
		if !ok {
			issues = append(issues, fmt.Sprintf("llm.models.%s: unknown vendor %q", m.ID, m.Vendor))
		} else if _, configured := l.Providers[provider]; !configured {
			issues = append(issues, fmt.Sprintf("llm.models.%s: provider %s is not configured", m.ID, provider))
		}
		if m.TokenLimit <= 0 {
			issues = append(issues, fmt.Sprintf("llm.models.%s.token_limit must be positive", m.ID))
		}
		if m.OutputTokenLimit < 0 || (m.OutputTokenLimit > 0 && m.OutputTokenLimit >= m.TokenLimit) {
			issues = append(issues, fmt.Sprintf("llm.models.%s.output_token_limit must be below token_limit", m.ID))
		}
	}

	if l.GeneratorModel == "" {
		issues = append(issues, "llm.generator_model is required")
	} else if !seen[l.GeneratorModel] {
		issues = append(issues, fmt.Sprintf("llm.generator_model %q is not a configured model", l.GeneratorModel))
	}
	if l.EvaluatorModel != "" && !seen[l.EvaluatorModel] {
		issues = append(issues, fmt.Sprintf("llm.evaluator_model %q is not a configured model", l.EvaluatorModel))
	}
	if l.MaxIterations < 0 {
		issues = append(issues, "llm.max_iterations must not be negative")
	}
	return issues
}
