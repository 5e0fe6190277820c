// Package oauth implements the authorization-code flow tools use to obtain
// user tokens for remote servers.
//
// A Flow resolves a usable token or returns *tools.AuthorizationRequiredError
// after persisting the pending state. The provider callback later arrives on
// an unrelated request and is completed by the Coordinator.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"

	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/pkg/models"
)

// DefaultExpiryMargin is how long before expiry a token is already treated
// as expired.
const DefaultExpiryMargin = 60 * time.Second

// acceptHeader is sent on every authorization request. Some servers reject
// requests that do not accept both encodings.
const acceptHeader = "application/json, text/event-stream"

// Metadata is the subset of RFC 8414 authorization server metadata the flow
// needs.
type Metadata struct {
	Issuer                string   `json:"issuer,omitempty"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	RegistrationEndpoint  string   `json:"registration_endpoint,omitempty"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
}

// FlowConfig configures a Flow for one (user, agent, tool) triple.
type FlowConfig struct {
	// ServerURL is the protected resource, used for discovery.
	ServerURL string
	// Metadata skips discovery when set.
	Metadata *Metadata
	Scope    string

	UserID      string
	AgentID     string
	ToolID      string
	RedirectURI string

	Store        storage.OAuthStore
	HTTPClient   *http.Client
	ExpiryMargin time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// RedirectURI returns the frontend callback address for toolID.
func RedirectURI(frontendURL, toolID string) string {
	return strings.TrimRight(frontendURL, "/") + "/tools/" + toolID + "/oauth-callback"
}

// Flow resolves tokens for a tool.
type Flow struct {
	cfg      FlowConfig
	client   *http.Client
	metadata *Metadata
	// authBase is the authorization server origin used for default endpoints.
	authBase string
}

// NewFlow returns a Flow for cfg.
func NewFlow(cfg FlowConfig) *Flow {
	if cfg.ExpiryMargin <= 0 {
		cfg.ExpiryMargin = DefaultExpiryMargin
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client := *base
	client.Transport = &acceptTransport{base: transport}

	return &Flow{
		cfg:      cfg,
		client:   &client,
		metadata: cfg.Metadata,
		authBase: origin(cfg.ServerURL),
	}
}

type acceptTransport struct {
	base http.RoundTripper
}

func (t *acceptTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Accept", acceptHeader)
	return t.base.RoundTrip(req)
}

// SolveTokens returns a token that stays valid beyond the expiry margin.
// It returns nil without error when the server needs no authorization, and
// *tools.AuthorizationRequiredError once a redirect has been prepared.
func (f *Flow) SolveTokens(ctx context.Context) (*models.OAuthToken, error) {
	info, err := f.clientInfo(ctx)
	if err != nil {
		return nil, err
	}
	if info != nil && info.ClientID == "" {
		return nil, nil
	}

	token, err := f.cfg.Store.GetToken(ctx, f.cfg.UserID, f.cfg.AgentID, f.cfg.ToolID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load oauth token: %w", err)
	}
	if f.valid(token) {
		return token, nil
	}

	if err := f.discover(ctx); err != nil {
		return nil, err
	}

	if token != nil && token.RefreshToken != "" && info != nil {
		refreshed, err := f.refresh(ctx, info, token)
		if err == nil {
			return refreshed, nil
		}
		f.cfg.Logger.Warn("oauth token refresh failed",
			"tool_id", f.cfg.ToolID,
			"error", err)
	}

	if info == nil {
		info, err = f.register(ctx)
		if err != nil {
			return nil, err
		}
		if info.ClientID == "" {
			return nil, nil
		}
	}
	return nil, f.authorize(ctx, info)
}

func (f *Flow) valid(token *models.OAuthToken) bool {
	if token == nil || token.AccessToken == "" {
		return false
	}
	return !token.ExpiresWithin(f.cfg.Now(), f.cfg.ExpiryMargin)
}

func (f *Flow) clientInfo(ctx context.Context) (*models.OAuthClientInfo, error) {
	info, err := f.cfg.Store.GetClientInfo(ctx, f.cfg.UserID, f.cfg.AgentID, f.cfg.ToolID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load oauth client info: %w", err)
	}
	return info, nil
}

func (f *Flow) oauth2Config(info *models.OAuthClientInfo, tokenURL string) *oauth2.Config {
	cfg := &oauth2.Config{
		RedirectURL: f.cfg.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   f.authorizationEndpoint(),
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if info != nil {
		cfg.ClientID = info.ClientID
		cfg.ClientSecret = info.ClientSecret
	}
	if scope := f.scope(info); scope != "" {
		cfg.Scopes = strings.Fields(scope)
	}
	return cfg
}

func (f *Flow) scope(info *models.OAuthClientInfo) string {
	if f.cfg.Scope != "" {
		return f.cfg.Scope
	}
	if info != nil {
		return info.Scope
	}
	return ""
}

func (f *Flow) authorizationEndpoint() string {
	if f.metadata != nil && f.metadata.AuthorizationEndpoint != "" {
		return f.metadata.AuthorizationEndpoint
	}
	return f.authBase + "/authorize"
}

func (f *Flow) tokenEndpoint() string {
	if f.metadata != nil && f.metadata.TokenEndpoint != "" {
		return f.metadata.TokenEndpoint
	}
	return f.authBase + "/token"
}

func (f *Flow) registrationEndpoint() string {
	if f.metadata != nil && f.metadata.RegistrationEndpoint != "" {
		return f.metadata.RegistrationEndpoint
	}
	return f.authBase + "/register"
}

func (f *Flow) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, f.client)
}

func (f *Flow) refresh(ctx context.Context, info *models.OAuthClientInfo, token *models.OAuthToken) (*models.OAuthToken, error) {
	conf := f.oauth2Config(info, f.tokenEndpoint())
	// Without an access token the source always hits the token endpoint.
	src := conf.TokenSource(f.httpContext(ctx), &oauth2.Token{RefreshToken: token.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return nil, err
	}
	return f.save(ctx, fresh, token.RefreshToken)
}

// Exchange trades an authorization code for tokens using the verifier and
// token endpoint saved with state. A 401 from the provider is reported as
// *CallbackError.
func (f *Flow) Exchange(ctx context.Context, code string, state *models.OAuthState) (*models.OAuthToken, error) {
	info, err := f.clientInfo(ctx)
	if err != nil {
		return nil, err
	}
	tokenURL := state.TokenEndpoint
	if tokenURL == "" {
		if err := f.discover(ctx); err != nil {
			return nil, err
		}
		tokenURL = f.tokenEndpoint()
	}

	conf := f.oauth2Config(info, tokenURL)
	tok, err := conf.Exchange(f.httpContext(ctx), code, oauth2.VerifierOption(state.CodeVerifier))
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode == http.StatusUnauthorized {
			return nil, &CallbackError{Cause: err}
		}
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return f.save(ctx, tok, "")
}

func (f *Flow) save(ctx context.Context, tok *oauth2.Token, previousRefresh string) (*models.OAuthToken, error) {
	out := &models.OAuthToken{
		UserID:       f.cfg.UserID,
		AgentID:      f.cfg.AgentID,
		ToolID:       f.cfg.ToolID,
		AccessToken:  tok.AccessToken,
		TokenType:    strings.ToLower(tok.TokenType),
		RefreshToken: tok.RefreshToken,
	}
	if out.RefreshToken == "" {
		out.RefreshToken = previousRefresh
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry.UTC()
		out.ExpiresAt = &expiry
	}
	if err := f.cfg.Store.SaveToken(ctx, out); err != nil {
		return nil, fmt.Errorf("save oauth token: %w", err)
	}
	return out, nil
}

func (f *Flow) authorize(ctx context.Context, info *models.OAuthClientInfo) error {
	state, err := newStateToken()
	if err != nil {
		return err
	}
	verifier := oauth2.GenerateVerifier()
	if err := f.cfg.Store.SaveState(ctx, &models.OAuthState{
		UserID:        f.cfg.UserID,
		AgentID:       f.cfg.AgentID,
		ToolID:        f.cfg.ToolID,
		State:         state,
		CodeVerifier:  verifier,
		TokenEndpoint: f.tokenEndpoint(),
	}); err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}

	conf := f.oauth2Config(info, f.tokenEndpoint())
	return &tools.AuthorizationRequiredError{
		AuthURL: conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)),
		State:   state,
	}
}

func newStateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// discover loads authorization server metadata once. Servers without any
// discovery document fall back to default endpoints under their origin.
func (f *Flow) discover(ctx context.Context) error {
	if f.metadata != nil {
		return nil
	}

	if servers, err := f.protectedResource(ctx); err == nil && len(servers) > 0 {
		f.authBase = origin(servers[0])
		for _, candidate := range discoveryURLs(servers[0]) {
			if done := f.tryMetadata(ctx, candidate); done {
				break
			}
		}
		if f.metadata != nil {
			return nil
		}
	}

	for _, candidate := range discoveryURLs(f.cfg.ServerURL) {
		if done := f.tryMetadata(ctx, candidate); done {
			break
		}
	}
	return nil
}

func (f *Flow) protectedResource(ctx context.Context) ([]string, error) {
	endpoint := origin(f.cfg.ServerURL) + "/.well-known/oauth-protected-resource"
	body, status, err := f.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("protected resource metadata: status %d", status)
	}
	var doc struct {
		AuthorizationServers []string `json:"authorization_servers"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc.AuthorizationServers, nil
}

// tryMetadata fetches one discovery candidate. It reports whether the search
// should stop.
func (f *Flow) tryMetadata(ctx context.Context, endpoint string) bool {
	body, status, err := f.get(ctx, endpoint)
	if err != nil {
		f.cfg.Logger.Debug("oauth metadata discovery failed",
			"url", endpoint,
			"error", err)
		return false
	}
	switch {
	case status == http.StatusOK:
		var md Metadata
		if err := json.Unmarshal(body, &md); err != nil || md.TokenEndpoint == "" {
			return false
		}
		f.metadata = &md
		return true
	case status < 400 || status >= 500:
		return true
	default:
		return false
	}
}

func (f *Flow) get(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// register performs RFC 7591 dynamic client registration. A 4xx response
// stores the empty-client sentinel so later calls skip authorization.
func (f *Flow) register(ctx context.Context) (*models.OAuthClientInfo, error) {
	scope := f.scope(nil)
	payload := map[string]any{
		"redirect_uris":              []string{f.cfg.RedirectURI},
		"token_endpoint_auth_method": "client_secret_post",
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"response_types":             []string{"code"},
	}
	if scope != "" {
		payload["scope"] = scope
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := f.registrationEndpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(data)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("register oauth client: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	info := &models.OAuthClientInfo{
		UserID:  f.cfg.UserID,
		AgentID: f.cfg.AgentID,
		ToolID:  f.cfg.ToolID,
	}
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var registered struct {
			ClientID     string `json:"client_id"`
			ClientSecret string `json:"client_secret"`
			Scope        string `json:"scope"`
		}
		if err := json.Unmarshal(body, &registered); err != nil {
			return nil, fmt.Errorf("decode client registration: %w", err)
		}
		if registered.ClientID == "" {
			return nil, errors.New("client registration returned no client_id")
		}
		info.ClientID = registered.ClientID
		info.ClientSecret = registered.ClientSecret
		info.Scope = registered.Scope
		if info.Scope == "" {
			info.Scope = scope
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		if resp.StatusCode != http.StatusNotFound {
			f.cfg.Logger.Warn("oauth client registration rejected",
				"server", f.cfg.ServerURL,
				"status", resp.StatusCode,
				"body", truncate(string(body), 200))
		}
	default:
		return nil, fmt.Errorf("client registration failed: status %d", resp.StatusCode)
	}

	if err := f.cfg.Store.SaveClientInfo(ctx, info); err != nil {
		return nil, fmt.Errorf("save oauth client info: %w", err)
	}
	return info, nil
}

// Forget deletes the stored token and client credentials.
func (f *Flow) Forget(ctx context.Context) error {
	if err := f.cfg.Store.DeleteToken(ctx, f.cfg.UserID, f.cfg.AgentID, f.cfg.ToolID); err != nil {
		return err
	}
	return f.cfg.Store.DeleteClientInfo(ctx, f.cfg.UserID, f.cfg.AgentID, f.cfg.ToolID)
}

func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	return u.Scheme + "://" + u.Host
}

// discoveryURLs lists RFC 8414 and OpenID metadata locations for issuer,
// path-aware variants first.
func discoveryURLs(issuer string) []string {
	base := origin(issuer)
	var path string
	if u, err := url.Parse(issuer); err == nil {
		path = strings.TrimRight(u.Path, "/")
	}
	var out []string
	if path != "" {
		out = append(out,
			base+"/.well-known/oauth-authorization-server"+path,
			base+"/.well-known/openid-configuration"+path,
			base+path+"/.well-known/openid-configuration")
	}
	return append(out,
		base+"/.well-known/oauth-authorization-server",
		base+"/.well-known/openid-configuration")
}

// truncate shortens s to at most n bytes without splitting a UTF-8
// sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
