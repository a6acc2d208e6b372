package extract

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"newsloom/internal/core"
)

// stubFetcher serves canned HTML per URL.
type stubFetcher struct {
	pages map[string]string
	err   error
}

func (f *stubFetcher) Fetch(_ context.Context, pageURL string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.pages[pageURL], nil
}

// stubRenderer returns one canned rendered page.
type stubRenderer struct {
	html   string
	err    error
	called bool
}

func (r *stubRenderer) Render(_ context.Context, _ string) (string, error) {
	r.called = true
	return r.html, r.err
}

const goodArticleHTML = `<!DOCTYPE html>
<html><head>
<title>Head Title</title>
<meta property="og:title" content="Storm Batters Coastal Towns in Florida">
<meta property="og:description" content="A powerful storm made landfall on Tuesday.">
<meta property="article:published_time" content="2026-08-20T10:00:00Z">
<meta name="author" content="Jane Reporter">
</head><body>
<nav><a href="/">Home</a></nav>
<article>
<p>A powerful storm made landfall near Tampa on Tuesday morning, officials said,
bringing sustained winds of more than ninety miles per hour to coastal towns.</p>
<p>Governor Maria Santos declared a state of emergency and warned residents in
low-lying areas to evacuate before conditions deteriorated further.</p>
<p>The National Weather Service reported that flooding was expected across three
counties through Thursday, with rainfall totals approaching twelve inches in 2026.</p>
</article>
<footer>Copyright 2026 Example News. All rights reserved.</footer>
</body></html>`

func TestExtractFastPath(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://www.example.com/storm": goodArticleHTML,
	}}
	e := NewExtractor(fetcher, nil)

	result := e.Extract(context.Background(), "https://www.example.com/storm")
	if !result.Success {
		t.Fatalf("extraction failed: %s", result.Error)
	}
	if result.Method != core.MethodFast {
		t.Errorf("method = %s, want fast", result.Method)
	}
	if result.Title != "Storm Batters Coastal Towns in Florida" {
		t.Errorf("title = %q", result.Title)
	}
	if result.SourceDomain != "example.com" {
		t.Errorf("source domain = %q, want example.com", result.SourceDomain)
	}
	if result.Author != "Jane Reporter" {
		t.Errorf("author = %q", result.Author)
	}
	if result.PublishDate != "2026-08-20T10:00:00Z" {
		t.Errorf("publish date = %q", result.PublishDate)
	}
	if !strings.Contains(result.Body, "state of emergency") {
		t.Errorf("body missing article text: %q", result.Body)
	}
	if strings.Contains(result.Body, "All rights reserved") {
		t.Errorf("body contains boilerplate: %q", result.Body)
	}
	if strings.Contains(result.Body, "Home") && strings.Contains(result.Body, "href") {
		t.Errorf("body contains navigation markup: %q", result.Body)
	}
}

func TestExtractFetchError(t *testing.T) {
	fetcher := &stubFetcher{err: fmt.Errorf("connection refused")}
	e := NewExtractor(fetcher, nil)

	result := e.Extract(context.Background(), "https://example.com/x")
	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Error, "fetch failed") {
		t.Errorf("error = %q", result.Error)
	}
	if result.SourceDomain != "example.com" {
		t.Errorf("source domain should be set even on failure, got %q", result.SourceDomain)
	}
}

func TestSummaryFallback(t *testing.T) {
	description := "Officials in Lisbon said on Tuesday that wildfire crews had contained " +
		"the blaze near the coast, and Prime Minister Ana Costa confirmed that no injuries " +
		"were reported during the 2026 evacuation."
	html := fmt.Sprintf(`<html><head>
<title>Wildfire Contained Near Lisbon Coast</title>
<meta property="og:description" content=%q>
</head><body><div>Loading article…</div></body></html>`, description)

	fetcher := &stubFetcher{pages: map[string]string{"https://example.org/fire": html}}
	e := NewExtractor(fetcher, nil)

	result := e.Extract(context.Background(), "https://example.org/fire")
	if !result.Success {
		t.Fatalf("extraction failed: %s", result.Error)
	}
	if result.Method != core.MethodSummaryFallback {
		t.Errorf("method = %s, want summary_fallback", result.Method)
	}
	if result.Body != description {
		t.Errorf("body should be the description, got %q", result.Body)
	}
}

func TestRenderedEscalation(t *testing.T) {
	shell := `<html><head><title>Spa Shell Page Title</title><script>window.__NEXT_DATA__ = {}</script></head>
<body><div id="root"></div></body></html>`

	renderer := &stubRenderer{html: goodArticleHTML}
	fetcher := &stubFetcher{pages: map[string]string{"https://example.net/spa": shell}}
	e := NewExtractor(fetcher, renderer)

	result := e.Extract(context.Background(), "https://example.net/spa")
	if !result.Success {
		t.Fatalf("extraction failed: %s", result.Error)
	}
	if !renderer.called {
		t.Fatal("renderer was not invoked")
	}
	if result.Method != core.MethodRendered {
		t.Errorf("method = %s, want rendered", result.Method)
	}
}

func TestRenderedEscalationDisabled(t *testing.T) {
	shell := `<html><head><title>Spa Shell Page Title</title></head>
<body><div id="root" data-reactroot></div></body></html>`

	fetcher := &stubFetcher{pages: map[string]string{"https://example.net/spa": shell}}
	e := NewExtractor(fetcher, nil)

	result := e.Extract(context.Background(), "https://example.net/spa")
	if result.Success {
		t.Fatal("expected quality gate failure without a renderer")
	}
	if !strings.Contains(result.Error, "quality gate failed") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestRenderedContentStillFailing(t *testing.T) {
	shell := `<html><head><title>Spa Shell Page Title</title><script>window.__NEXT_DATA__={}</script></head><body></body></html>`
	renderer := &stubRenderer{html: shell}
	fetcher := &stubFetcher{pages: map[string]string{"https://example.net/spa": shell}}
	e := NewExtractor(fetcher, renderer)

	result := e.Extract(context.Background(), "https://example.net/spa")
	if result.Success {
		t.Fatal("expected failure when rendered content is also a shell")
	}
	if !strings.Contains(result.Error, "rendered content also failed") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestSourceDomain(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://www.bbc.co.uk/news/article", "bbc.co.uk"},
		{"http://example.com/path?q=1", "example.com"},
		{"https://WWW.Example.COM/x", "example.com"},
		{"not a url", "unknown"},
		{"", "unknown"},
	}
	for _, tc := range cases {
		if got := SourceDomain(tc.url); got != tc.want {
			t.Errorf("SourceDomain(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestCleanText(t *testing.T) {
	in := "Real  article   text here.\n\n\nAdvertisement\nShare this on Facebook\n" +
		"More   article text.\n1:23 / 4:56\nCopyright 2026 Somebody"
	out := cleanText(in)
	if strings.Contains(out, "Advertisement") {
		t.Errorf("advertisement kept: %q", out)
	}
	if strings.Contains(out, "Copyright") {
		t.Errorf("copyright kept: %q", out)
	}
	if strings.Contains(out, "1:23") {
		t.Errorf("video timestamp kept: %q", out)
	}
	if !strings.Contains(out, "Real article text here.") {
		t.Errorf("content lost or whitespace not collapsed: %q", out)
	}
	if !strings.Contains(out, "More article text.") {
		t.Errorf("content lost: %q", out)
	}
}
