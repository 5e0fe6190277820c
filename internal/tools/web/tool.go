// Package web gives agents web search and page text extraction.
//
// Search uses Tavily when an API key is configured and Google Custom Search
// otherwise. Extraction uses Tavily when available and falls back to
// fetching pages directly.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/internal/usage"
	"github.com/vijoin/tero/pkg/models"
)

const (
	ToolID = "web"

	SearchResults = 5

	// defaultExtractLength applies when the answering model is unknown.
	defaultExtractLength = 16000
)

var configSchema = map[string]any{
	"type":       "object",
	"properties": map[string]any{},
}

// Options holds provider credentials and unit prices.
type Options struct {
	TavilyAPIKey string
	TavilyURL    string
	// TavilyCostPer1K is the price of a thousand Tavily credits.
	TavilyCostPer1K float64

	GoogleAPIKey    string
	GoogleEngineID  string
	GoogleURL       string
	GoogleCostPer1K float64

	// AllowPrivateURLs lets direct extraction reach private addresses.
	AllowPrivateURLs bool
}

// Tool exposes web_search and web_extract.
type Tool struct {
	tools.Base
	searcher   Searcher
	searchCost float64
	tavily     *Tavily
	tavilyCost float64
	extractor  *Extractor
}

// New returns an unconfigured web tool.
func New(httpClient *http.Client, opts Options) *Tool {
	t := &Tool{
		Base:      tools.NewBase(ToolID, "Web Tools", "Provides web search and web extraction capabilities.", configSchema),
		extractor: &Extractor{Client: httpClient, AllowPrivate: opts.AllowPrivateURLs},
	}
	switch {
	case opts.TavilyAPIKey != "":
		t.tavily = &Tavily{APIKey: opts.TavilyAPIKey, BaseURL: opts.TavilyURL, Client: httpClient}
		t.tavilyCost = opts.TavilyCostPer1K
		t.searcher, t.searchCost = t.tavily, opts.TavilyCostPer1K
	case opts.GoogleAPIKey != "" && opts.GoogleEngineID != "":
		t.searcher = &Google{APIKey: opts.GoogleAPIKey, EngineID: opts.GoogleEngineID, BaseURL: opts.GoogleURL, Client: httpClient}
		t.searchCost = opts.GoogleCostPer1K
	}
	return t
}

func (t *Tool) Setup(ctx context.Context, prev *models.ToolConfig) (map[string]any, error) {
	if err := t.ValidateConfig(); err != nil {
		return nil, err
	}
	return t.Config(), nil
}

func (t *Tool) Load(ctx context.Context) (tools.Handle, error) {
	var actions []tools.Action
	if t.searcher != nil {
		actions = append(actions, tools.NewFuncAction("web_search", "Searches the web for the given query", t.search))
	}
	actions = append(actions, tools.NewFuncAction("web_extract", "Extracts text from the given URLs", t.extract))
	return tools.NewStaticHandle(nil, actions...), nil
}

type searchParams struct {
	Query string `json:"query" jsonschema:"required,description=The query to search for"`
}

func (t *Tool) search(ctx context.Context, p searchParams) (*tools.Result, error) {
	if strings.TrimSpace(p.Query) == "" {
		return &tools.Result{Content: "query is required", IsError: true}, nil
	}
	results, err := t.searcher.Search(ctx, p.Query, SearchResults)
	if err != nil {
		return nil, err
	}
	if len(results) > SearchResults {
		results = results[:SearchResults]
	}
	content, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, err
	}
	return &tools.Result{
		Content: string(content),
		Usage:   &usage.ToolUsage{Type: models.UsageWebSearch, Quantity: 1, CostPer1KUnits: t.searchCost},
	}, nil
}

type extractParams struct {
	URLs []string `json:"urls" jsonschema:"required,description=The URLs to extract text from"`
}

func (t *Tool) extract(ctx context.Context, p extractParams) (*tools.Result, error) {
	if len(p.URLs) == 0 {
		return &tools.Result{Content: "urls are required", IsError: true}, nil
	}

	var (
		pages []Page
		tu    *usage.ToolUsage
	)
	if t.tavily != nil {
		var err error
		if pages, err = t.tavily.Extract(ctx, p.URLs); err != nil {
			return nil, err
		}
		tu = &usage.ToolUsage{Type: models.UsageWebExtract, Quantity: 1, CostPer1KUnits: t.tavilyCost}
	} else {
		pages = t.extractor.Extract(ctx, p.URLs)
	}
	t.limit(pages)

	content, err := json.MarshalIndent(pages, "", "  ")
	if err != nil {
		return nil, err
	}
	return &tools.Result{Content: string(content), Usage: tu}, nil
}

// limit truncates page texts so together they take at most half of the
// model input window, split evenly across the pages that have text.
func (t *Tool) limit(pages []Page) {
	total := defaultExtractLength
	if m := t.Env().Model; m != nil && m.TokenLimit > 0 {
		total = m.TokenLimit / 2
	}
	withText := 0
	for _, p := range pages {
		if p.Text != "" {
			withText++
		}
	}
	if withText == 0 {
		return
	}
	perPage := total / withText
	for i := range pages {
		n := utf8.RuneCountInString(pages[i].Text)
		if n <= perPage {
			continue
		}
		pages[i].Text = string([]rune(pages[i].Text)[:perPage])
		t.Logger().Warn("web extract result truncated", "url", pages[i].URL, "from", n, "to", perPage)
	}
}
