// Package jira lets agents work with Jira Cloud issues through the REST API,
// authorized per user with Atlassian OAuth 2.0 (3LO).
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/vijoin/tero/internal/oauth"
	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/pkg/models"
)

const (
	ToolID = "jira"

	// SecretMask replaces the client secret in the stored tool config. The
	// secret itself lives encrypted in the OAuth client info.
	SecretMask = "********"

	cloudIDKey = "cloud_id"
)

// Endpoints are the Atlassian services the tool talks to.
type Endpoints struct {
	Auth string
	API  string
}

// DefaultEndpoints are the Atlassian production endpoints.
var DefaultEndpoints = Endpoints{
	Auth: "https://auth.atlassian.com",
	API:  "https://api.atlassian.com",
}

var configSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"clientId":     map[string]any{"type": "string", "title": "Client ID"},
		"clientSecret": map[string]any{"type": "string", "title": "Client secret"},
		"scope": map[string]any{
			"type":        "array",
			"title":       "Scopes",
			"items":       map[string]any{"type": "string"},
			"uniqueItems": true,
			"default":     []any{"read:jira-work", "write:jira-work", "read:jira-user"},
		},
	},
	"required": []any{"clientId", "clientSecret", "scope"},
}

// Tool exposes a curated set of Jira REST operations.
type Tool struct {
	tools.Base
	httpClient *http.Client
	endpoints  Endpoints
}

// New returns an unconfigured Jira tool using the production endpoints.
func New(httpClient *http.Client) *Tool {
	return NewWithEndpoints(httpClient, DefaultEndpoints)
}

// NewWithEndpoints returns an unconfigured Jira tool using endpoints.
func NewWithEndpoints(httpClient *http.Client, endpoints Endpoints) *Tool {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Tool{
		Base:       tools.NewBase(ToolID, "Jira", "Allows to use interact with Jira", configSchema),
		httpClient: httpClient,
		endpoints:  endpoints,
	}
}

func (t *Tool) scope() string {
	var scopes []string
	switch v := t.Config()["scope"].(type) {
	case []any:
		for _, s := range v {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
	case []string:
		scopes = v
	}
	return strings.Join(scopes, " ")
}

func (t *Tool) flow(ctx context.Context) (*oauth.Flow, error) {
	env := t.Env()
	info, err := env.Stores.OAuth.GetClientInfo(ctx, env.UserID, env.Agent.ID, t.ID())
	if err != nil {
		return nil, fmt.Errorf("load jira client info: %w", err)
	}
	return oauth.NewFlow(oauth.FlowConfig{
		ServerURL: t.endpoints.Auth,
		Metadata: &oauth.Metadata{
			Issuer:                t.endpoints.Auth,
			AuthorizationEndpoint: t.endpoints.Auth + "/authorize",
			TokenEndpoint:         t.endpoints.Auth + "/oauth/token",
		},
		// offline_access yields a refresh token.
		Scope:       strings.TrimSpace(info.Scope + " offline_access"),
		UserID:      env.UserID,
		AgentID:     env.Agent.ID,
		ToolID:      t.ID(),
		RedirectURI: oauth.RedirectURI(env.FrontendURL, t.ID()),
		Store:       env.Stores.OAuth,
		HTTPClient:  t.httpClient,
		Logger:      t.Logger(),

		ExpiryMargin: env.TokenExpiryMargin,
	}), nil
}

// Setup stores the client credentials, drops tokens issued for a previous
// configuration and verifies access. The returned config masks the secret.
func (t *Tool) Setup(ctx context.Context, prev *models.ToolConfig) (map[string]any, error) {
	if err := t.ValidateConfig(); err != nil {
		return nil, err
	}
	if err := t.saveClientInfo(ctx); err != nil {
		return nil, err
	}
	env := t.Env()
	if prev != nil && !reflect.DeepEqual(prev.Config, t.Config()) {
		if err := env.Stores.OAuth.DeleteToken(ctx, env.UserID, env.Agent.ID, t.ID()); err != nil {
			return nil, err
		}
		if err := env.Stores.ToolData.DeleteAll(ctx, env.Agent.ID, t.ID()); err != nil {
			return nil, err
		}
	}

	h, err := t.Load(ctx)
	if err != nil {
		return nil, err
	}
	h.Release()

	masked := make(map[string]any, len(t.Config()))
	for k, v := range t.Config() {
		masked[k] = v
	}
	masked["clientSecret"] = SecretMask
	return masked, nil
}

func (t *Tool) saveClientInfo(ctx context.Context) error {
	env := t.Env()
	info, err := env.Stores.OAuth.GetClientInfo(ctx, env.UserID, env.Agent.ID, t.ID())
	if errors.Is(err, storage.ErrNotFound) {
		info = &models.OAuthClientInfo{UserID: env.UserID, AgentID: env.Agent.ID, ToolID: t.ID()}
	} else if err != nil {
		return err
	}
	info.ClientID = t.StringSetting("clientId")
	if secret := t.StringSetting("clientSecret"); secret != SecretMask {
		info.ClientSecret = secret
	}
	info.Scope = t.scope()
	return env.Stores.OAuth.SaveClientInfo(ctx, info)
}

// Load obtains a token and resolves the Jira site the token grants access to.
func (t *Tool) Load(ctx context.Context) (tools.Handle, error) {
	flow, err := t.flow(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := flow.SolveTokens(ctx); err != nil {
		return nil, err
	}
	c := &client{http: t.httpClient, flow: flow}
	cloudID, err := t.cloudID(ctx, c)
	if err != nil {
		return nil, err
	}
	c.baseURL = t.endpoints.API + "/ex/jira/" + cloudID

	ops, err := loadOperations()
	if err != nil {
		return nil, err
	}
	actions := make([]tools.Action, 0, len(ops))
	for _, op := range ops {
		actions = append(actions, &action{op: op, client: c})
	}
	return tools.NewStaticHandle(nil, actions...), nil
}

func (t *Tool) cloudID(ctx context.Context, c *client) (string, error) {
	env := t.Env()
	id, err := env.Stores.ToolData.Get(ctx, env.Agent.ID, t.ID(), cloudIDKey)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	body, err := c.do(ctx, http.MethodGet, t.endpoints.API+"/oauth/token/accessible-resources", nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("list accessible jira sites: %w", err)
	}
	var resources []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resources); err != nil {
		return "", fmt.Errorf("decode accessible resources: %w", err)
	}
	if len(resources) == 0 || resources[0].ID == "" {
		return "", errors.New("token grants access to no jira site")
	}
	id = resources[0].ID
	if err := env.Stores.ToolData.Put(ctx, env.Agent.ID, t.ID(), cloudIDKey, id); err != nil {
		return "", err
	}
	return id, nil
}

// Teardown deletes tokens, client credentials and the cached site id.
func (t *Tool) Teardown(ctx context.Context) error {
	env := t.Env()
	if err := env.Stores.OAuth.DeleteToken(ctx, env.UserID, env.Agent.ID, t.ID()); err != nil {
		return err
	}
	if err := env.Stores.OAuth.DeleteClientInfo(ctx, env.UserID, env.Agent.ID, t.ID()); err != nil {
		return err
	}
	return env.Stores.ToolData.DeleteAll(ctx, env.Agent.ID, t.ID())
}

// AuthCallback exchanges the authorization code for a token.
func (t *Tool) AuthCallback(ctx context.Context, params tools.CallbackParams, state *models.OAuthState) error {
	flow, err := t.flow(ctx)
	if err != nil {
		return err
	}
	_, err = flow.Exchange(ctx, params.Code, state)
	return err
}

type client struct {
	http    *http.Client
	flow    *oauth.Flow
	baseURL string
}

// do calls the API with a fresh token. A 204 yields an empty body.
func (c *client) do(ctx context.Context, method, endpoint string, query url.Values, header http.Header, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.flow.SolveTokens(ctx)
	if err != nil {
		return nil, err
	}
	if token != nil {
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("jira %s %s: status %d: %s", method, req.URL.Path, resp.StatusCode, truncate(string(data), 300))
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type action struct {
	op     operation
	client *client
}

func (a *action) Name() string            { return a.op.Name }
func (a *action) Description() string     { return a.op.Description }
func (a *action) Schema() json.RawMessage { return a.op.Schema }

func (a *action) Execute(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
	var args map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	if a.op.ParamType != "" {
		args = map[string]any{a.op.ParamType: args}
	}

	path := a.op.Path
	for k, v := range asMap(args["path"]) {
		path = strings.ReplaceAll(path, "{"+k+"}", url.PathEscape(fmt.Sprint(v)))
	}
	query := url.Values{}
	for k, v := range asMap(args["query"]) {
		if list, ok := v.([]any); ok {
			for _, item := range list {
				query.Add(k, fmt.Sprint(item))
			}
			continue
		}
		query.Set(k, fmt.Sprint(v))
	}
	header := http.Header{}
	for k, v := range asMap(args["header"]) {
		header.Set(k, fmt.Sprint(v))
	}
	var body any
	if b, ok := args[bodyLocation]; ok {
		body = b
	}

	data, err := a.client.do(ctx, a.op.Method, a.client.baseURL+path, query, header, body)
	if err != nil {
		return nil, err
	}
	return &tools.Result{Content: string(data)}, nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
