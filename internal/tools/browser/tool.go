// Package browser lets agents drive a headless Chromium page: navigating,
// reading, clicking, typing and taking screenshots.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vijoin/tero/internal/tokens"
	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/pkg/models"
)

const (
	ToolID = "browser"

	// maxSnapshotTokens bounds the page text returned to the model.
	maxSnapshotTokens = 8000

	screenshotNote = ". IT IS IMPORTANT TO AVOID USING PROVIDED PATH TO GENERATE RESPONSES, unless the user explicitly asks for it, " +
		"since the agent already provides other means to download the screenshot. IT IS VERY IMPORTANT TO NOT USE RETURNED URL AS SOURCE OF AN IMAGE."
)

var configSchema = map[string]any{
	"type":       "object",
	"properties": map[string]any{},
}

// Tool exposes browser actions backed by an Opener.
type Tool struct {
	tools.Base
	opener Opener
	now    func() time.Time
}

// New returns an unconfigured browser tool. opener may be nil when no
// browser is available, in which case setup fails.
func New(opener Opener) *Tool {
	return &Tool{
		Base:   tools.NewBase(ToolID, "Browser Tools", "Provides tools to control a browser like navigating, click elements, fill, get page contents, screenshots, etc.", configSchema),
		opener: opener,
		now:    time.Now,
	}
}

func (t *Tool) Setup(ctx context.Context, prev *models.ToolConfig) (map[string]any, error) {
	if t.opener == nil {
		return nil, tools.InvalidConfiguration("browser automation is not available")
	}
	if err := t.ValidateConfig(); err != nil {
		return nil, err
	}
	return t.Config(), nil
}

// Load returns a session whose page is opened on the first action and
// closed on Release.
func (t *Tool) Load(ctx context.Context) (tools.Handle, error) {
	if t.opener == nil {
		return nil, errors.New("browser tool has not been set up properly")
	}
	return &session{tool: t}, nil
}

type session struct {
	tool *Tool

	mu       sync.Mutex
	page     Page
	released bool
}

func (s *session) current(ctx context.Context) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, errors.New("browser session is closed")
	}
	if s.page == nil {
		page, err := s.tool.opener.Open(ctx)
		if err != nil {
			return nil, err
		}
		s.page = page
	}
	return s.page, nil
}

func (s *session) closePage() error {
	s.mu.Lock()
	page := s.page
	s.page = nil
	s.mu.Unlock()
	if page == nil {
		return nil
	}
	return page.Close()
}

func (s *session) Release() {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
	if err := s.closePage(); err != nil {
		s.tool.Logger().Warn("close browser page", "error", err)
	}
}

func (s *session) BuildActions(ctx context.Context) ([]tools.Action, error) {
	return []tools.Action{
		tools.NewFuncAction("browser_navigate", "Navigate to a URL", s.navigate),
		tools.NewFuncAction("browser_snapshot", "Get the URL, title and visible text of the current page", s.snapshot),
		tools.NewFuncAction("browser_click", "Click the first element matching a CSS or text selector", s.click),
		tools.NewFuncAction("browser_type", "Fill text into the first editable element matching a selector", s.typeText),
		tools.NewFuncAction("browser_take_screenshot", "Take a screenshot of the current page"+screenshotNote, s.screenshot),
		tools.NewFuncAction("browser_close", "Close the page", s.close),
	}, nil
}

type navigateParams struct {
	URL string `json:"url" jsonschema:"required,description=The URL to navigate to"`
}

func (s *session) navigate(ctx context.Context, p navigateParams) (*tools.Result, error) {
	if p.URL == "" {
		return errorResult("url is required"), nil
	}
	page, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	title, err := page.Navigate(ctx, p.URL)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return &tools.Result{Content: fmt.Sprintf("Navigated to %s. Page title: %s", p.URL, title)}, nil
}

type noParams struct{}

func (s *session) snapshot(ctx context.Context, _ noParams) (*tools.Result, error) {
	page, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := page.Snapshot(ctx)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	snap.Text = tokens.Truncate(strings.TrimSpace(snap.Text), maxSnapshotTokens)
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	return &tools.Result{Content: string(out)}, nil
}

type clickParams struct {
	Selector string `json:"selector" jsonschema:"required,description=Selector of the element to click"`
}

func (s *session) click(ctx context.Context, p clickParams) (*tools.Result, error) {
	if p.Selector == "" {
		return errorResult("selector is required"), nil
	}
	page, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	if err := page.Click(ctx, p.Selector); err != nil {
		return errorResult(fmt.Sprintf("click %s: %v", p.Selector, err)), nil
	}
	return &tools.Result{Content: "Clicked " + p.Selector}, nil
}

type typeParams struct {
	Selector string `json:"selector" jsonschema:"required,description=Selector of the element to fill"`
	Text     string `json:"text" jsonschema:"required,description=Text to fill"`
	Submit   bool   `json:"submit,omitempty" jsonschema:"description=Press Enter after filling"`
}

func (s *session) typeText(ctx context.Context, p typeParams) (*tools.Result, error) {
	if p.Selector == "" {
		return errorResult("selector is required"), nil
	}
	page, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	if err := page.Type(ctx, p.Selector, p.Text, p.Submit); err != nil {
		return errorResult(fmt.Sprintf("type into %s: %v", p.Selector, err)), nil
	}
	return &tools.Result{Content: "Typed into " + p.Selector}, nil
}

type screenshotParams struct {
	FullPage bool `json:"full_page,omitempty" jsonschema:"description=Capture the full scrollable page"`
}

// screenshot stores the capture as a file owned by the user. The model only
// sees the thread file path.
func (s *session) screenshot(ctx context.Context, p screenshotParams) (*tools.Result, error) {
	page, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	png, err := page.Screenshot(ctx, p.FullPage)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	env := s.tool.Env()
	now := s.tool.now().UTC()
	file := &models.File{
		Name:        fmt.Sprintf("screenshot-%s.png", now.Format("20060102-150405")),
		ContentType: "image/png",
		Content:     png,
		UserID:      env.UserID,
		CreatedAt:   now,
	}
	if err := env.Stores.Files.Create(ctx, file); err != nil {
		s.tool.Logger().Error("save screenshot", "error", err)
		return errorResult("Error saving screenshot"), nil
	}
	return &tools.Result{
		Content: fmt.Sprintf("Took a screenshot of the current page and saved it as %s", filePath(env.ThreadID, file.ID)),
		File:    file,
	}, nil
}

func (s *session) close(ctx context.Context, _ noParams) (*tools.Result, error) {
	if err := s.closePage(); err != nil {
		return errorResult(err.Error()), nil
	}
	return &tools.Result{Content: "Page closed"}, nil
}

func filePath(threadID, fileID string) string {
	return fmt.Sprintf("/chat/%s/files/%s", threadID, fileID)
}

func errorResult(msg string) *tools.Result {
	return &tools.Result{Content: msg, IsError: true}
}
