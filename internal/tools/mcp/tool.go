// Package mcp exposes the tools of a remote MCP server as agent actions.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"reflect"

	mcpclient "github.com/vijoin/tero/internal/mcp"
	"github.com/vijoin/tero/internal/oauth"
	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/pkg/models"
)

// ToolID prefixes the id of every configured MCP tool.
const ToolID = "mcp"

var configSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"serverUrl": map[string]any{
			"type":   "string",
			"title":  "Server URL",
			"format": "uri",
		},
	},
	"required":             []any{"serverUrl"},
	"additionalProperties": false,
}

// Tool connects to one MCP server per agent. Its id is "mcp-<host>".
type Tool struct {
	tools.Base
	httpClient *http.Client
	version    string
}

// New returns an unconfigured MCP tool.
func New(httpClient *http.Client, version string) *Tool {
	return &Tool{
		Base:       tools.NewBase(ToolID+"-*", "MCP", "Allows to use a set of tools provided by a MCP server", configSchema),
		httpClient: httpClient,
		version:    version,
	}
}

func (t *Tool) serverURL() string {
	return t.StringSetting("serverUrl")
}

// Configure derives the concrete id from the server host.
func (t *Tool) Configure(env tools.Env) {
	t.Base.Configure(env)
	host := ""
	if u, err := url.Parse(t.serverURL()); err == nil {
		host = u.Hostname()
	}
	t.SetID(ToolID + "-" + host)
}

func (t *Tool) flow() *oauth.Flow {
	env := t.Env()
	return oauth.NewFlow(oauth.FlowConfig{
		ServerURL:   t.serverURL(),
		UserID:      env.UserID,
		AgentID:     env.Agent.ID,
		ToolID:      t.ID(),
		RedirectURI: oauth.RedirectURI(env.FrontendURL, t.ID()),
		Store:       env.Stores.OAuth,
		HTTPClient:  t.httpClient,
		Logger:      t.Logger(),

		ExpiryMargin: env.TokenExpiryMargin,
	})
}

// Setup connects once to verify the server. A changed server drops the
// credentials obtained for the previous one.
func (t *Tool) Setup(ctx context.Context, prev *models.ToolConfig) (map[string]any, error) {
	if err := t.ValidateConfig(); err != nil {
		return nil, err
	}
	if prev != nil && !reflect.DeepEqual(prev.Config, t.Config()) {
		if err := t.Teardown(ctx); err != nil {
			return nil, err
		}
	}

	h, err := t.Load(ctx)
	if err == nil {
		defer h.Release()
		_, err = h.BuildActions(ctx)
	}
	if err != nil {
		if _, ok := tools.AsAuthorizationRequired(err); ok {
			return nil, err
		}
		t.Logger().Error("failed to setup MCP tool", "error", err)
		return nil, &tools.InvalidConfigurationError{Detail: "Invalid MCP tool configuration", Cause: err}
	}
	return t.Config(), nil
}

// Load resolves tokens and opens a session with the server.
func (t *Tool) Load(ctx context.Context) (tools.Handle, error) {
	token, err := t.flow().SolveTokens(ctx)
	if err != nil {
		return nil, err
	}

	cfg := &mcpclient.ServerConfig{URL: t.serverURL(), Headers: http.Header{}}
	if token != nil {
		cfg.Headers.Set("Authorization", "Bearer "+token.AccessToken)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := mcpclient.NewClient(cfg, t.httpClient, t.Logger())
	if err := client.Connect(ctx, t.version); err != nil {
		return nil, err
	}
	return &handle{client: client}, nil
}

// Teardown deletes the token and client credentials.
func (t *Tool) Teardown(ctx context.Context) error {
	return t.flow().Forget(ctx)
}

// AuthCallback exchanges the authorization code for a token.
func (t *Tool) AuthCallback(ctx context.Context, params tools.CallbackParams, state *models.OAuthState) error {
	_, err := t.flow().Exchange(ctx, params.Code, state)
	return err
}

type handle struct {
	client *mcpclient.Client
	closed bool
}

func (h *handle) BuildActions(ctx context.Context) ([]tools.Action, error) {
	listed, err := h.client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list MCP tools: %w", err)
	}
	actions := make([]tools.Action, 0, len(listed))
	for _, tool := range listed {
		schema, err := FixSchema(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("schema of %s: %w", tool.Name, err)
		}
		actions = append(actions, &action{client: h.client, tool: tool, schema: schema})
	}
	return actions, nil
}

func (h *handle) Release() {
	if h.closed {
		return
	}
	h.closed = true
	_ = h.client.Close()
}

type action struct {
	client *mcpclient.Client
	tool   *mcpclient.MCPTool
	schema json.RawMessage
}

func (a *action) Name() string            { return a.tool.Name }
func (a *action) Description() string     { return a.tool.Description }
func (a *action) Schema() json.RawMessage { return a.schema }

func (a *action) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	res, err := a.client.CallTool(ctx, a.tool.Name, params)
	if err != nil {
		return nil, err
	}
	return &tools.Result{Content: res.Text(), IsError: res.IsError}, nil
}

// FixSchema patches input schemas that some servers publish incompletely:
// arrays without an item type get string items and objects without
// properties get an empty property set.
func FixSchema(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`), nil
	}
	var schema any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}
	return json.Marshal(fixSchema(schema))
}

func fixSchema(v any) any {
	switch node := v.(type) {
	case map[string]any:
		items, _ := node["items"].(map[string]any)
		switch {
		case node["type"] == "array" && items["type"] == nil:
			if len(items) == 0 {
				node["items"] = map[string]any{"type": "string"}
			} else {
				items["type"] = "string"
			}
			return node
		case node["type"] == "object" && isEmpty(node["properties"]):
			node["properties"] = map[string]any{}
			return node
		}
		for k, child := range node {
			node[k] = fixSchema(child)
		}
		return node
	case []any:
		for i, child := range node {
			node[i] = fixSchema(child)
		}
		return node
	default:
		return v
	}
}

func isEmpty(v any) bool {
	m, ok := v.(map[string]any)
	return v == nil || (ok && len(m) == 0)
}
