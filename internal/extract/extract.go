package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"newsloom/internal/core"
	"newsloom/internal/logger"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// Fetcher retrieves raw HTML for a URL. The production implementation is
// HTTPFetcher; tests substitute stubs.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// Renderer returns fully-rendered HTML for a URL, used for JS-heavy pages.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// Options configures the extractor.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultOptions returns the extraction defaults.
func DefaultOptions() Options {
	return Options{
		UserAgent:  "Mozilla/5.0 (compatible; newsloom/1.0)",
		Timeout:    30 * time.Second,
		MaxRetries: 2,
	}
}

// Extractor turns a URL into clean article text. It tries fast HTML parsing
// first and escalates to the rendered-DOM path when the fast path fails the
// quality gate on a JS-classified site.
type Extractor struct {
	fetcher  Fetcher
	renderer Renderer // nil disables the rendered path
}

// NewExtractor creates an extractor with the given fetcher and optional
// renderer.
func NewExtractor(fetcher Fetcher, renderer Renderer) *Extractor {
	return &Extractor{fetcher: fetcher, renderer: renderer}
}

// Extract runs the extraction pipeline for one URL.
func (e *Extractor) Extract(ctx context.Context, pageURL string) core.ExtractionResult {
	domain := SourceDomain(pageURL)

	html, err := e.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return core.ExtractionResult{
			Success:      false,
			SourceDomain: domain,
			Error:        fmt.Sprintf("fetch failed: %v", err),
		}
	}

	result := parsePage(html, domain)
	if result.Success {
		return result
	}

	if e.renderer != nil && IsJSHeavy(pageURL, html) {
		logger.Debug("fast path failed quality gate, rendering", "url", pageURL)
		rendered, rerr := e.renderer.Render(ctx, pageURL)
		if rerr != nil {
			result.Error = fmt.Sprintf("%s; render failed: %v", result.Error, rerr)
			return result
		}
		renderedResult := parsePage(rendered, domain)
		if renderedResult.Success {
			if renderedResult.Method == core.MethodFast {
				renderedResult.Method = core.MethodRendered
			}
			return renderedResult
		}
		result.Error = fmt.Sprintf("%s; rendered content also failed quality gate", result.Error)
	}

	return result
}

// parsePage parses HTML, applies the body cascade, the summary fallback,
// and the quality gate.
func parsePage(html, domain string) core.ExtractionResult {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return core.ExtractionResult{
			Success:      false,
			SourceDomain: domain,
			Error:        fmt.Sprintf("HTML parse failed: %v", err),
		}
	}

	// Remove non-content elements before text extraction.
	doc.Find("script, style, nav, footer, header, aside, form, iframe, noscript, " +
		".sidebar, #sidebar, .ad, .advertisement, .popup, .modal, .cookie-banner, " +
		".newsletter-signup, .related-articles, .comments").Remove()

	title := extractTitle(doc)
	description := extractDescription(doc)
	body := extractBody(doc)
	method := core.MethodFast

	// A thin body with a substantial meta description still yields a usable
	// article.
	if len(body) < 200 && len(description) >= 140 {
		body = description
		method = core.MethodSummaryFallback
	}

	result := core.ExtractionResult{
		Title:        title,
		Body:         body,
		Description:  description,
		Author:       extractAuthor(doc),
		PublishDate:  extractPublishDate(doc),
		SourceDomain: domain,
		Method:       method,
	}

	minChars, minWords := 200, 20
	if method == core.MethodSummaryFallback {
		minChars, minWords = 140, 15
	}
	if reason := meaningfulnessMin(title, body, minChars, minWords); reason != "" {
		result.Success = false
		result.Error = "quality gate failed: " + reason
		return result
	}

	result.Success = true
	return result
}

// extractTitle probes, in order: OpenGraph, Twitter card, <title>, first h1.
func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	if tw, ok := doc.Find("meta[name='twitter:title']").Attr("content"); ok && strings.TrimSpace(tw) != "" {
		return strings.TrimSpace(tw)
	}
	if t := strings.TrimSpace(doc.Find("head title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func extractDescription(doc *goquery.Document) string {
	probes := []string{
		"meta[property='og:description']",
		"meta[name='description']",
		"meta[name='twitter:description']",
	}
	for _, probe := range probes {
		if d, ok := doc.Find(probe).Attr("content"); ok && strings.TrimSpace(d) != "" {
			return cleanText(d)
		}
	}
	return ""
}

// extractBody tries, in order: the first <article>, main-content selectors,
// common container classes, then cleaned body text capped at 2000 chars.
func extractBody(doc *goquery.Document) string {
	if article := doc.Find("article").First(); article.Length() > 0 {
		if text := selectionText(article); len(text) >= 200 {
			return text
		}
	}

	mainSelectors := []string{"main", "[role='main']", ".content", ".article-content", ".post-content"}
	for _, selector := range mainSelectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			if text := selectionText(sel); len(text) >= 200 {
				return text
			}
		}
	}

	containerClasses := []string{".article", ".story", ".entry", ".post"}
	for _, selector := range containerClasses {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			if text := selectionText(sel); len(text) >= 200 {
				return text
			}
		}
	}

	text := selectionText(doc.Find("body"))
	if len(text) > 2000 {
		text = text[:2000]
	}
	return text
}

// selectionText extracts paragraph-level text from a selection, preserving
// breaks between block elements.
func selectionText(sel *goquery.Selection) string {
	var builder strings.Builder
	sel.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote").Each(func(_ int, item *goquery.Selection) {
		t := strings.TrimSpace(item.Text())
		if t != "" {
			builder.WriteString(t)
			builder.WriteString("\n")
		}
	})
	text := builder.String()
	if strings.TrimSpace(text) == "" {
		text = sel.Text()
	}
	return cleanText(text)
}

var (
	whitespaceRe  = regexp.MustCompile(`[ \t]+`)
	blankLinesRe  = regexp.MustCompile(`\n{2,}`)
	boilerplateRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\badvertisement\b.*`),
		regexp.MustCompile(`(?i)^(share|follow us) (this|on) .*$`),
		regexp.MustCompile(`(?i)(copyright|©)\s*\d{4}.*`),
		regexp.MustCompile(`(?i)all rights reserved\.?`),
		regexp.MustCompile(`\b\d{1,2}:\d{2}\s*/\s*\d{1,2}:\d{2}\b`),
		regexp.MustCompile(`(?i)^(by|written by)\s+[A-Z][a-z]+ [A-Z][a-z]+\s*$`),
		regexp.MustCompile(`(?i)sign up for our newsletter.*`),
		regexp.MustCompile(`(?i)click here to subscribe.*`),
	}
)

// cleanText normalizes whitespace and strips boilerplate patterns.
func cleanText(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = whitespaceRe.ReplaceAllString(strings.TrimSpace(line), " ")
		for _, re := range boilerplateRe {
			line = re.ReplaceAllString(line, "")
		}
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return blankLinesRe.ReplaceAllString(strings.Join(cleaned, "\n"), "\n")
}

var jsonLDAuthorRe = regexp.MustCompile(`"author"\s*:\s*{[^}]*"name"\s*:\s*"([^"]+)"`)

// extractAuthor is best-effort: meta tags, JSON-LD, common byline selectors.
func extractAuthor(doc *goquery.Document) string {
	if a, ok := doc.Find("meta[name='author']").Attr("content"); ok && strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	if a, ok := doc.Find("meta[property='article:author']").Attr("content"); ok && strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	found := ""
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := jsonLDAuthorRe.FindStringSubmatch(s.Text()); m != nil {
			found = m[1]
			return false
		}
		return true
	})
	if found != "" {
		return found
	}
	for _, selector := range []string{".byline", ".author", "[rel='author']"} {
		if a := strings.TrimSpace(doc.Find(selector).First().Text()); a != "" {
			return strings.TrimPrefix(a, "By ")
		}
	}
	return ""
}

var jsonLDDateRe = regexp.MustCompile(`"datePublished"\s*:\s*"([^"]+)"`)

func extractPublishDate(doc *goquery.Document) string {
	if d, ok := doc.Find("meta[property='article:published_time']").Attr("content"); ok && d != "" {
		return d
	}
	found := ""
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := jsonLDDateRe.FindStringSubmatch(s.Text()); m != nil {
			found = m[1]
			return false
		}
		return true
	})
	if found != "" {
		return found
	}
	if d, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		return d
	}
	return ""
}

// SourceDomain extracts the registrable host from a URL, without the www
// prefix. Returns "unknown" when the URL does not parse.
func SourceDomain(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// HTTPFetcher fetches pages over HTTP with retries and a configured
// user-agent. Transient errors (transport failures, 5xx) are retried with
// backoff; 4xx responses fail immediately.
type HTTPFetcher struct {
	client  *http.Client
	opts    Options
	backoff time.Duration
}

// NewHTTPFetcher builds a fetcher from options.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	return &HTTPFetcher{
		client:  &http.Client{Timeout: opts.Timeout},
		opts:    opts,
		backoff: 2 * time.Second,
	}
}

// Fetch retrieves the page body as UTF-8 text.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(f.backoff * time.Duration(attempt)):
			}
		}

		body, retryable, err := f.fetchOnce(ctx, pageURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", fmt.Errorf("fetch failed after %d attempts: %w", f.opts.MaxRetries+1, lastErr)
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, pageURL string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("invalid request for %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("server error %d from %s", resp.StatusCode, pageURL)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("status %d from %s", resp.StatusCode, pageURL)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", true, fmt.Errorf("failed to read body: %w", err)
	}

	// Honor the response-declared charset; fall back to UTF-8 as-is.
	reader, err := charset.NewReader(bytes.NewReader(raw), resp.Header.Get("Content-Type"))
	if err != nil {
		return string(raw), false, nil
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return string(raw), false, nil
	}
	return string(decoded), false, nil
}
