package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// Hard indicators that a body is an HTML/UI fragment rather than prose.
var fragmentIndicators = []string{
	"function(",
	"window.",
	"document.",
	"javascript is disabled",
	"enable javascript",
	"share on facebook",
	"share on twitter",
	"follow us on",
	"accept cookies",
	"cookie settings",
	"sign in to continue",
	"<div",
	"</",
	"{display:",
}

var (
	reportingVerbsRe = regexp.MustCompile(`(?i)\b(said|says|reported|announced|according to|told|confirmed|stated|added|warned|claimed|described)\b`)
	properNounRe     = regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`)
	yearMentionRe    = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// IsMeaningful reports whether an extracted title/body pair looks like a
// real article rather than a fragment or boilerplate shell.
func IsMeaningful(title, body string) bool {
	return meaningfulness(title, body) == ""
}

// meaningfulness returns an empty string for acceptable content, otherwise
// the reason the quality gate rejected it.
func meaningfulness(title, body string) string {
	return meaningfulnessMin(title, body, 200, 20)
}

// meaningfulnessMin is the gate with configurable length floors. The
// summary-fallback path uses relaxed floors because meta descriptions are
// shorter than article bodies.
func meaningfulnessMin(title, body string, minChars, minWords int) string {
	if len(title) < 10 {
		return fmt.Sprintf("title too short (%d chars)", len(title))
	}
	if len(body) < minChars {
		return fmt.Sprintf("body too short (%d chars)", len(body))
	}

	words := strings.Fields(body)
	if len(words) < minWords {
		return fmt.Sprintf("too few words (%d)", len(words))
	}

	total := 0
	for _, w := range words {
		total += len(w)
	}
	avg := float64(total) / float64(len(words))
	if avg < 3 || avg > 12 {
		return fmt.Sprintf("average word length %.1f outside [3,12]", avg)
	}

	lower := strings.ToLower(body)
	for _, indicator := range fragmentIndicators {
		if strings.Contains(lower, indicator) {
			return "HTML fragment indicator present: " + indicator
		}
	}

	signals := 0
	if reportingVerbsRe.MatchString(body) {
		signals++
	}
	if properNounRe.MatchString(body) {
		signals++
	}
	if yearMentionRe.MatchString(body) {
		signals++
	}
	if signals < 2 {
		return fmt.Sprintf("only %d article-like text patterns", signals)
	}

	return ""
}

// Domains known to require JavaScript rendering for article content.
var jsHeavyDomains = map[string]bool{
	"bloomberg.com":       true,
	"politico.com":        true,
	"businessinsider.com": true,
	"axios.com":           true,
	"theatlantic.com":     true,
	"forbes.com":          true,
	"medium.com":          true,
	"semafor.com":         true,
}

var frameworkMarkers = []string{
	"__NEXT_DATA__",
	"data-reactroot",
	"window.__NUXT__",
	"ng-version=",
	"webpackJsonp",
	"__remixContext",
}

// IsJSHeavy classifies a page as requiring the rendered-DOM path, either by
// domain whitelist or by modern-framework markers in the raw HTML.
func IsJSHeavy(pageURL, rawHTML string) bool {
	if jsHeavyDomains[SourceDomain(pageURL)] {
		return true
	}
	for _, marker := range frameworkMarkers {
		if strings.Contains(rawHTML, marker) {
			return true
		}
	}
	// SPA shells carry an empty mount node and almost no text.
	if (strings.Contains(rawHTML, `id="root"`) || strings.Contains(rawHTML, `id="app"`)) &&
		len(rawHTML) < 20000 {
		return true
	}
	return false
}
