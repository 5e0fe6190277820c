package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

const (
	maxPageBytes       = 10 * 1024 * 1024
	maxExtractParallel = 5
	userAgent          = "Mozilla/5.0 (compatible; TeroBot/1.0)"
)

var (
	errPrivateAddress = errors.New("URL resolves to a private or reserved address")

	droppedTags = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`),
		regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`),
		regexp.MustCompile(`(?is)<iframe[^>]*>.*?</iframe>`),
		regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`),
	}
	titleRe      = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	headRe       = regexp.MustCompile(`(?is)<head(\s[^>]*)?>.*?</head>`)
	bodyRe       = regexp.MustCompile(`(?is)<body[^>]*>(.*)</body>`)
	blockRe      = regexp.MustCompile(`(?i)</?(p|div|h[1-6]|li|br|tr|section|article|header|footer|nav|main)[^>]*>`)
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	spacesRe     = regexp.MustCompile(`[^\S\n]+`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)

	entities = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&apos;", "'",
	)
)

// Page is the text of a fetched URL, or the reason it could not be read.
type Page struct {
	URL   string `json:"url"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Extractor fetches pages and reduces them to readable text. Unless
// AllowPrivate is set, URLs resolving to loopback, private or link-local
// addresses are rejected.
type Extractor struct {
	Client       *http.Client
	AllowPrivate bool
}

// Extract fetches every URL with bounded parallelism. Pages keep the order
// of urls.
func (e *Extractor) Extract(ctx context.Context, urls []string) []Page {
	pages := make([]Page, len(urls))
	sem := make(chan struct{}, maxExtractParallel)
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, u string) {
			defer wg.Done()
			defer func() { <-sem }()
			text, err := e.fetch(ctx, u)
			if err != nil {
				pages[i] = Page{URL: u, Error: err.Error()}
				return
			}
			pages[i] = Page{URL: u, Text: text}
		}(i, u)
	}
	wg.Wait()
	return pages
}

func (e *Extractor) fetch(ctx context.Context, rawURL string) (string, error) {
	if err := e.checkURL(ctx, rawURL); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "text/html"), strings.Contains(contentType, "application/xhtml"):
		return Readable(string(body)), nil
	case strings.HasPrefix(contentType, "text/"), strings.Contains(contentType, "json"):
		return strings.TrimSpace(string(body)), nil
	default:
		return "", fmt.Errorf("unsupported content type: %s", contentType)
	}
}

func (e *Extractor) checkURL(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return errors.New("URL must have a hostname")
	}
	if e.AllowPrivate {
		return nil
	}
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return errPrivateAddress
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		// Resolution may happen behind a proxy.
		return nil
	}
	for _, a := range addrs {
		if reservedIP(a.IP) {
			return errPrivateAddress
		}
	}
	return nil
}

func reservedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast()
}

// Readable reduces an HTML document to its title and visible text, one
// block element per line.
func Readable(html string) string {
	for _, re := range droppedTags {
		html = re.ReplaceAllString(html, "")
	}
	var title string
	if m := titleRe.FindStringSubmatch(html); len(m) > 1 {
		title = cleanText(tagRe.ReplaceAllString(m[1], ""))
	}
	body := headRe.ReplaceAllString(html, "")
	if m := bodyRe.FindStringSubmatch(body); len(m) > 1 {
		body = m[1]
	}
	body = blockRe.ReplaceAllString(body, "\n")
	text := cleanText(tagRe.ReplaceAllString(body, ""))

	if title == "" {
		return text
	}
	if text == "" {
		return title
	}
	return title + "\n\n" + text
}

func cleanText(text string) string {
	text = entities.Replace(text)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spacesRe.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
