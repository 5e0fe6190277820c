package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// Page is one browser tab driven by the tool actions.
type Page interface {
	// Navigate loads url and returns the page title.
	Navigate(ctx context.Context, url string) (string, error)
	// Snapshot returns the current URL, title and visible text.
	Snapshot(ctx context.Context) (*Snapshot, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string, submit bool) error
	// Screenshot returns a PNG of the viewport, or of the whole page.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Close() error
}

// Snapshot is the readable state of a page.
type Snapshot struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Opener starts browser sessions.
type Opener interface {
	Open(ctx context.Context) (Page, error)
}

type playwrightPage struct {
	page    playwright.Page
	context playwright.BrowserContext

	once    sync.Once
	release func()
}

func (p *playwrightPage) Navigate(ctx context.Context, url string) (string, error) {
	if _, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", url, err)
	}
	return p.page.Title()
}

func (p *playwrightPage) Snapshot(ctx context.Context) (*Snapshot, error) {
	title, err := p.page.Title()
	if err != nil {
		return nil, err
	}
	text, err := p.page.Locator("body").InnerText()
	if err != nil {
		return nil, fmt.Errorf("read page text: %w", err)
	}
	return &Snapshot{URL: p.page.URL(), Title: title, Text: text}, nil
}

func (p *playwrightPage) Click(ctx context.Context, selector string) error {
	return p.page.Locator(selector).First().Click()
}

func (p *playwrightPage) Type(ctx context.Context, selector, text string, submit bool) error {
	loc := p.page.Locator(selector).First()
	if err := loc.Fill(text); err != nil {
		return err
	}
	if submit {
		return loc.Press("Enter")
	}
	return nil
}

func (p *playwrightPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
		Type:     playwright.ScreenshotTypePng,
	})
}

// Close ends the browser context and hands the browser back to the pool.
func (p *playwrightPage) Close() error {
	var err error
	p.once.Do(func() {
		err = p.context.Close()
		p.release()
	})
	return err
}
