package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ErrPoolClosed is returned by Open after Close.
var ErrPoolClosed = errors.New("browser pool is closed")

// PoolConfig configures the browser pool.
type PoolConfig struct {
	MaxInstances   int
	Timeout        time.Duration
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	// Install downloads the browser driver before starting.
	Install bool
}

// Pool shares a bounded set of Chromium processes. Every session gets its
// own browser context so cookies and storage never leak between users.
type Pool struct {
	cfg       PoolConfig
	pw        *playwright.Playwright
	instances chan playwright.Browser

	mu      sync.Mutex
	closed  bool
	created int
}

// NewPool starts playwright and returns an empty pool. Browsers are launched
// on demand.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1280
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 720
	}
	if cfg.Install {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	return &Pool{cfg: cfg, pw: pw, instances: make(chan playwright.Browser, cfg.MaxInstances)}, nil
}

// Open starts a session on a pooled browser, waiting for one to be free when
// all are in use.
func (p *Pool) Open(ctx context.Context) (Page, error) {
	browser, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:        &playwright.Size{Width: p.cfg.ViewportWidth, Height: p.cfg.ViewportHeight},
		AcceptDownloads: playwright.Bool(false),
	})
	if err != nil {
		p.release(browser)
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		p.release(browser)
		return nil, fmt.Errorf("create page: %w", err)
	}
	page.SetDefaultTimeout(float64(p.cfg.Timeout.Milliseconds()))
	return &playwrightPage{page: page, context: bctx, release: func() { p.release(browser) }}, nil
}

func (p *Pool) acquire(ctx context.Context) (playwright.Browser, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		select {
		case b := <-p.instances:
			p.mu.Unlock()
			if b.IsConnected() {
				return b, nil
			}
			p.discard(b)
			continue
		default:
		}
		if p.created < p.cfg.MaxInstances {
			p.created++
			p.mu.Unlock()
			b, err := p.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
				Headless: playwright.Bool(p.cfg.Headless),
				Timeout:  playwright.Float(float64(p.cfg.Timeout.Milliseconds())),
			})
			if err != nil {
				p.mu.Lock()
				p.created--
				p.mu.Unlock()
				return nil, fmt.Errorf("launch browser: %w", err)
			}
			return b, nil
		}
		p.mu.Unlock()

		select {
		case b := <-p.instances:
			if b.IsConnected() {
				return b, nil
			}
			p.discard(b)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) release(b playwright.Browser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		b.Close()
		p.created--
		return
	}
	select {
	case p.instances <- b:
	default:
		b.Close()
		p.created--
	}
}

func (p *Pool) discard(b playwright.Browser) {
	b.Close()
	p.mu.Lock()
	p.created--
	p.mu.Unlock()
}

// Close shuts every idle browser and stops playwright. Browsers still in use
// are closed when their session ends.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.instances)
	for b := range p.instances {
		b.Close()
		p.created--
	}
	p.mu.Unlock()
	if err := p.pw.Stop(); err != nil {
		return fmt.Errorf("stop playwright: %w", err)
	}
	return nil
}
