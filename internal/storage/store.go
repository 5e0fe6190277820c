// Package storage persists the entities the engine works with.
//
// Each concern has a narrow store interface. A StoreSet groups them and is
// backed either by SQL (Postgres or SQLite) or by process memory.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vijoin/tero/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// AgentStore persists agents.
type AgentStore interface {
	Create(ctx context.Context, agent *models.Agent) error
	Get(ctx context.Context, id string) (*models.Agent, error)
}

// UserStore persists resolved user identities.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	Get(ctx context.Context, id string) (*models.User, error)
}

// ThreadStore persists threads and their messages.
type ThreadStore interface {
	Create(ctx context.Context, thread *models.Thread) error
	Get(ctx context.Context, id string) (*models.Thread, error)
	UpdateName(ctx context.Context, id, name string) error
	// AddMessage stores msg and links its files, which must already exist.
	AddMessage(ctx context.Context, msg *models.Message) error
	// ListMessages returns the thread's messages oldest first, files attached.
	ListMessages(ctx context.Context, threadID string) ([]*models.Message, error)
}

// FileStore persists file contents.
type FileStore interface {
	Create(ctx context.Context, file *models.File) error
	Get(ctx context.Context, id string) (*models.File, error)
	// Update replaces the name, content type and contents of a file.
	Update(ctx context.Context, file *models.File) error
	Delete(ctx context.Context, id string) error
}

// ToolConfigStore persists agent tool configurations. Rows are keyed by
// (agent, tool, draft) so a draft can sit next to the active config.
type ToolConfigStore interface {
	// ListByAgent returns the agent's non-draft configs.
	ListByAgent(ctx context.Context, agentID string) ([]*models.ToolConfig, error)
	// Find returns the non-draft config, or the draft when includeDrafts is
	// set and one exists.
	Find(ctx context.Context, agentID, toolID string, includeDrafts bool) (*models.ToolConfig, error)
	Save(ctx context.Context, cfg *models.ToolConfig) error
	Delete(ctx context.Context, agentID, toolID string) error
	DeleteDrafts(ctx context.Context, agentID, toolID string) error
}

// ToolFileStore links files to an agent's tool.
type ToolFileStore interface {
	Add(ctx context.Context, agentID, toolID, fileID string) error
	List(ctx context.Context, agentID, toolID string) ([]*models.File, error)
	Remove(ctx context.Context, agentID, toolID, fileID string) error
}

// ToolDataStore keeps small tool-owned values per agent, such as a cached
// remote site id.
type ToolDataStore interface {
	Get(ctx context.Context, agentID, toolID, key string) (string, error)
	Put(ctx context.Context, agentID, toolID, key, value string) error
	DeleteAll(ctx context.Context, agentID, toolID string) error
}

// OAuthStore persists tokens, in-flight authorization states and client
// credentials. Secret fields are encrypted at rest by SQL implementations.
type OAuthStore interface {
	GetToken(ctx context.Context, userID, agentID, toolID string) (*models.OAuthToken, error)
	SaveToken(ctx context.Context, token *models.OAuthToken) error
	DeleteToken(ctx context.Context, userID, agentID, toolID string) error

	GetState(ctx context.Context, userID, toolID, state string) (*models.OAuthState, error)
	SaveState(ctx context.Context, state *models.OAuthState) error
	DeleteState(ctx context.Context, userID, toolID, state string) error

	GetClientInfo(ctx context.Context, userID, agentID, toolID string) (*models.OAuthClientInfo, error)
	SaveClientInfo(ctx context.Context, info *models.OAuthClientInfo) error
	DeleteClientInfo(ctx context.Context, userID, agentID, toolID string) error

	PruneTokens(ctx context.Context, before time.Time) (int64, error)
	PruneStates(ctx context.Context, before time.Time) (int64, error)
	// PruneClientInfo deletes registered credentials (non-empty client id)
	// of tools whose id starts with toolPrefix.
	PruneClientInfo(ctx context.Context, toolPrefix string, before time.Time) (int64, error)
}

// UsageStore persists billing records.
type UsageStore interface {
	Add(ctx context.Context, usage *models.Usage) error
	SumUSDSince(ctx context.Context, userID string, since time.Time) (float64, error)
}

// TestSuiteStore persists test cases, suite runs and per-case results.
type TestSuiteStore interface {
	CreateCase(ctx context.Context, tc *models.TestCase) error
	ListCases(ctx context.Context, agentID string) ([]*models.TestCase, error)

	CreateRun(ctx context.Context, run *models.TestSuiteRun) error
	UpdateRun(ctx context.Context, run *models.TestSuiteRun) error
	GetRun(ctx context.Context, id string) (*models.TestSuiteRun, error)
	// ListRunning returns RUNNING runs started before the given time.
	ListRunning(ctx context.Context, before time.Time) ([]*models.TestSuiteRun, error)

	CreateResult(ctx context.Context, result *models.TestCaseResult) error
	UpdateResult(ctx context.Context, result *models.TestCaseResult) error
	ListResults(ctx context.Context, runID string) ([]*models.TestCaseResult, error)
}

// DocStore persists embedded document chunks grouped by namespace.
type DocStore interface {
	SaveChunks(ctx context.Context, chunks []*models.DocChunk) error
	ListChunks(ctx context.Context, namespace string) ([]*models.DocChunk, error)
	DeleteFileChunks(ctx context.Context, namespace, fileID string) error
	DeleteNamespace(ctx context.Context, namespace string) error
}

// StoreSet groups storage dependencies.
type StoreSet struct {
	Agents      AgentStore
	Users       UserStore
	Threads     ThreadStore
	Files       FileStore
	ToolConfigs ToolConfigStore
	ToolFiles   ToolFileStore
	ToolData    ToolDataStore
	OAuth       OAuthStore
	Usage       UsageStore
	TestSuites  TestSuiteStore
	Docs        DocStore
	closer      func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
