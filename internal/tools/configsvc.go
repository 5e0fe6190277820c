package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/pkg/models"
)

// ErrFilesUnsupported is returned for file operations on tools without
// file support.
var ErrFilesUnsupported = errors.New("tool does not support files")

// ConfigService persists tool configurations around Setup. A setup that
// needs authorization is stored as a draft so it can be resumed after the
// provider callback.
type ConfigService struct {
	catalog     *Catalog
	stores      storage.StoreSet
	logger      *slog.Logger
	frontendURL string
	margin      time.Duration
}

// NewConfigService returns a ConfigService over the catalog and stores.
func NewConfigService(catalog *Catalog, stores storage.StoreSet, logger *slog.Logger) *ConfigService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigService{
		catalog: catalog,
		stores:  stores,
		logger:  logger.With("component", "tool-config"),
	}
}

// SetFrontendURL sets the base of OAuth redirect URIs handed to tools.
func (s *ConfigService) SetFrontendURL(url string) {
	s.frontendURL = url
}

// SetTokenExpiryMargin sets how early tools treat OAuth tokens as expired.
func (s *ConfigService) SetTokenExpiryMargin(margin time.Duration) {
	s.margin = margin
}

// Catalog returns the catalog tools are instantiated from.
func (s *ConfigService) Catalog() *Catalog { return s.catalog }

func (s *ConfigService) env(agent *models.Agent, userID string, config map[string]any) Env {
	return Env{
		Agent:       agent,
		UserID:      userID,
		Config:      config,
		Stores:      s.stores,
		Logger:      s.logger,
		FrontendURL: s.frontendURL,

		TokenExpiryMargin: s.margin,
	}
}

// Instantiate returns toolID configured for the agent with config.
func (s *ConfigService) Instantiate(agent *models.Agent, userID, toolID string, config map[string]any) (Tool, error) {
	return s.catalog.Instantiate(toolID, s.env(agent, userID, config))
}

// ForTurn instantiates every active tool of the agent for one conversation
// turn, scoped to threadID and the answering model.
func (s *ConfigService) ForTurn(ctx context.Context, agent *models.Agent, userID, threadID string, model *models.LLMModel) ([]Tool, error) {
	configs, err := s.stores.ToolConfigs.ListByAgent(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("list tool configs: %w", err)
	}
	out := make([]Tool, 0, len(configs))
	for _, cfg := range configs {
		env := s.env(agent, userID, cfg.Config)
		env.ThreadID = threadID
		env.Model = model
		t, err := s.catalog.Instantiate(cfg.ToolID, env)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// List returns the agent's active tool configs.
func (s *ConfigService) List(ctx context.Context, agentID string) ([]*models.ToolConfig, error) {
	return s.stores.ToolConfigs.ListByAgent(ctx, agentID)
}

// Configure sets up toolID for the agent with config. It returns the saved
// non-draft config, *AuthorizationRequiredError after saving a draft, or
// *InvalidConfigurationError.
func (s *ConfigService) Configure(ctx context.Context, agent *models.Agent, userID, toolID string, config map[string]any) (*models.ToolConfig, error) {
	t, err := s.catalog.Instantiate(toolID, s.env(agent, userID, config))
	if err != nil {
		return nil, err
	}
	prev, err := s.find(ctx, agent.ID, t.ID(), true)
	if err != nil {
		return nil, err
	}
	return s.setup(ctx, t, agent.ID, toolID, config, prev)
}

// Resume retries setup of the agent's pending configuration of toolID,
// typically after an authorization callback stored a token.
func (s *ConfigService) Resume(ctx context.Context, agent *models.Agent, userID, toolID string) (*models.ToolConfig, error) {
	pending, err := s.find(ctx, agent.ID, toolID, true)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, fmt.Errorf("resume tool %s: %w", toolID, storage.ErrNotFound)
	}
	t, err := s.catalog.Instantiate(toolID, s.env(agent, userID, pending.Config))
	if err != nil {
		return nil, err
	}
	return s.setup(ctx, t, agent.ID, toolID, pending.Config, pending)
}

func (s *ConfigService) setup(ctx context.Context, t Tool, agentID, requestedID string, config map[string]any, prev *models.ToolConfig) (*models.ToolConfig, error) {
	res := Classify(t.Setup(ctx, prev))
	switch res.Kind {
	case SetupOk:
		saved := res.Config
		if saved == nil {
			saved = config
		}
		if err := s.stores.ToolConfigs.DeleteDrafts(ctx, agentID, t.ID()); err != nil {
			return nil, err
		}
		return s.save(ctx, agentID, t.ID(), requestedID, saved, false)
	case SetupNeedsAuth:
		if _, err := s.save(ctx, agentID, t.ID(), requestedID, config, true); err != nil {
			return nil, err
		}
		return nil, res.Auth
	default:
		s.logger.Error("invalid tool configuration",
			"agent_id", agentID,
			"tool_id", t.ID(),
			"error", res.Err)
		if IsInvalidConfiguration(res.Err) {
			return nil, res.Err
		}
		return nil, &InvalidConfigurationError{Detail: res.Err.Error(), Cause: res.Err}
	}
}

func (s *ConfigService) save(ctx context.Context, agentID, toolID, requestedID string, config map[string]any, draft bool) (*models.ToolConfig, error) {
	// Wildcard ids only become concrete when the tool is configured.
	if requestedID != toolID {
		if err := s.stores.ToolConfigs.Delete(ctx, agentID, requestedID); err != nil {
			return nil, err
		}
	}
	cfg := &models.ToolConfig{AgentID: agentID, ToolID: toolID, Config: config, Draft: draft}
	if err := s.stores.ToolConfigs.Save(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *ConfigService) find(ctx context.Context, agentID, toolID string, includeDrafts bool) (*models.ToolConfig, error) {
	cfg, err := s.stores.ToolConfigs.Find(ctx, agentID, toolID, includeDrafts)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// configured instantiates the tool from its stored config.
func (s *ConfigService) configured(ctx context.Context, agent *models.Agent, userID, toolID string, includeDrafts bool) (Tool, error) {
	cfg, err := s.find(ctx, agent.ID, toolID, includeDrafts)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolID)
	}
	return s.catalog.Instantiate(toolID, s.env(agent, userID, cfg.Config))
}

// Remove tears the tool down and deletes its files, data and config. A
// failed teardown is logged and does not stop the deletion; its error is
// returned joined with any later failure.
func (s *ConfigService) Remove(ctx context.Context, agent *models.Agent, userID, toolID string) error {
	t, err := s.configured(ctx, agent, userID, toolID, true)
	if err != nil {
		return err
	}
	var errs []error
	if err := t.Teardown(ctx); err != nil {
		s.logger.WarnContext(ctx, "tool teardown failed", "agent_id", agent.ID, "tool_id", toolID, "error", err)
		errs = append(errs, fmt.Errorf("teardown tool %s: %w", toolID, err))
	}
	if err := s.deleteToolState(ctx, agent.ID, toolID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *ConfigService) deleteToolState(ctx context.Context, agentID, toolID string) error {
	files, err := s.stores.ToolFiles.List(ctx, agentID, toolID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := s.stores.ToolFiles.Remove(ctx, agentID, toolID, f.ID); err != nil {
			return err
		}
		if err := s.stores.Files.Delete(ctx, f.ID); err != nil {
			return err
		}
	}
	if err := s.stores.ToolData.DeleteAll(ctx, agentID, toolID); err != nil {
		return err
	}
	return s.stores.ToolConfigs.Delete(ctx, agentID, toolID)
}

func (s *ConfigService) fileTool(ctx context.Context, agent *models.Agent, userID, toolID string) (FileTool, error) {
	t, err := s.configured(ctx, agent, userID, toolID, false)
	if err != nil {
		return nil, err
	}
	ft, ok := t.(FileTool)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFilesUnsupported, toolID)
	}
	return ft, nil
}

// AddFile stores file, links it to the tool and hands it to the tool.
func (s *ConfigService) AddFile(ctx context.Context, agent *models.Agent, userID, toolID string, file *models.File) error {
	ft, err := s.fileTool(ctx, agent, userID, toolID)
	if err != nil {
		return err
	}
	if file.UserID == "" {
		file.UserID = userID
	}
	if err := s.stores.Files.Create(ctx, file); err != nil {
		return err
	}
	if err := s.stores.ToolFiles.Add(ctx, agent.ID, toolID, file.ID); err != nil {
		return err
	}
	return ft.AddFile(ctx, file)
}

// UpdateFile replaces the contents of a tool file.
func (s *ConfigService) UpdateFile(ctx context.Context, agent *models.Agent, userID, toolID string, file *models.File) error {
	ft, err := s.fileTool(ctx, agent, userID, toolID)
	if err != nil {
		return err
	}
	if err := s.stores.Files.Update(ctx, file); err != nil {
		return err
	}
	return ft.UpdateFile(ctx, file)
}

// RemoveFile detaches and deletes a tool file.
func (s *ConfigService) RemoveFile(ctx context.Context, agent *models.Agent, userID, toolID, fileID string) error {
	ft, err := s.fileTool(ctx, agent, userID, toolID)
	if err != nil {
		return err
	}
	file, err := s.stores.Files.Get(ctx, fileID)
	if err != nil {
		return err
	}
	if err := ft.RemoveFile(ctx, file); err != nil {
		return err
	}
	if err := s.stores.ToolFiles.Remove(ctx, agent.ID, toolID, fileID); err != nil {
		return err
	}
	return s.stores.Files.Delete(ctx, fileID)
}

// CloneAgentTools copies every active tool config of from to to and lets
// each tool duplicate its own persistent state.
func (s *ConfigService) CloneAgentTools(ctx context.Context, from, to *models.Agent, userID string) error {
	configs, err := s.stores.ToolConfigs.ListByAgent(ctx, from.ID)
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		clone := &models.ToolConfig{AgentID: to.ID, ToolID: cfg.ToolID, Config: cfg.Config}
		if err := s.stores.ToolConfigs.Save(ctx, clone); err != nil {
			return err
		}
		t, err := s.catalog.Instantiate(cfg.ToolID, s.env(from, userID, cfg.Config))
		if err != nil {
			return fmt.Errorf("tool %q configured in agent %s: %w", cfg.ToolID, from.ID, err)
		}
		if err := t.Clone(ctx, to.ID); err != nil {
			return fmt.Errorf("clone tool %s: %w", cfg.ToolID, err)
		}
	}
	return nil
}
