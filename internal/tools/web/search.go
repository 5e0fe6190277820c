package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

const (
	DefaultTavilyURL = "https://api.tavily.com"
	DefaultGoogleURL = "https://www.googleapis.com/customsearch/v1"
)

// SearchResult is one hit of a web search.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// Tavily is a client for the Tavily search and extract APIs.
type Tavily struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

type tavilySearchRequest struct {
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type tavilySearchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	var resp tavilySearchResponse
	if err := t.post(ctx, "/search", tavilySearchRequest{Query: query, SearchDepth: "basic", MaxResults: limit}, &resp); err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Content: r.Content})
	}
	return results, nil
}

type tavilyExtractRequest struct {
	URLs          []string `json:"urls"`
	ExtractDepth  string   `json:"extract_depth"`
	IncludeImages bool     `json:"include_images"`
}

type tavilyExtractResponse struct {
	Results []struct {
		URL        string `json:"url"`
		RawContent string `json:"raw_content"`
	} `json:"results"`
	FailedResults []struct {
		URL   string `json:"url"`
		Error string `json:"error"`
	} `json:"failed_results"`
}

// Extract returns the raw content of urls. Failed URLs are appended after
// the successful ones with their error.
func (t *Tavily) Extract(ctx context.Context, urls []string) ([]Page, error) {
	var resp tavilyExtractResponse
	if err := t.post(ctx, "/extract", tavilyExtractRequest{URLs: urls, ExtractDepth: "basic"}, &resp); err != nil {
		return nil, err
	}
	pages := make([]Page, 0, len(resp.Results)+len(resp.FailedResults))
	for _, r := range resp.Results {
		pages = append(pages, Page{URL: r.URL, Text: r.RawContent})
	}
	for _, r := range resp.FailedResults {
		pages = append(pages, Page{URL: r.URL, Error: r.Error})
	}
	return pages, nil
}

func (t *Tavily) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	base := t.BaseURL
	if base == "" {
		base = DefaultTavilyURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.APIKey)
	return doJSON(client(t.Client), req, "tavily", out)
}

// Google is a client for the Google Custom Search JSON API.
type Google struct {
	APIKey   string
	EngineID string
	BaseURL  string
	Client   *http.Client
}

type googleResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

func (g *Google) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	base := g.BaseURL
	if base == "" {
		base = DefaultGoogleURL
	}
	q := url.Values{}
	q.Set("key", g.APIKey)
	q.Set("cx", g.EngineID)
	q.Set("q", query)
	q.Set("num", strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var resp googleResponse
	if err := doJSON(client(g.Client), req, "google search", &resp); err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(resp.Items))
	for _, item := range resp.Items {
		results = append(results, SearchResult{Title: item.Title, URL: item.Link, Content: item.Snippet})
	}
	return results, nil
}

func client(c *http.Client) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	return c
}

func doJSON(c *http.Client, req *http.Request, service string, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", service, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s returned status %d: %s", service, resp.StatusCode, bytes.TrimSpace(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", service, err)
	}
	return nil
}
