package normalize

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"newsloom/internal/logger"
)

// TextGenerator is the optional model capability used for title/excerpt
// generation. Absence is tolerated; the deterministic fallback always
// suffices.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const (
	titleMinChars   = 10
	titleMaxChars   = 100
	excerptMinWords = 50
	excerptMaxWords = 200

	titlePromptTemplate = `Write a neutral news headline for the following article text.
Requirements: 10-100 characters, factual, no editorializing, no quotation marks,
no site branding. Output only the headline.

Article:
%s`

	excerptPromptTemplate = `Write a neutral summary of the following article text.
Requirements: 50-200 words (target 150), factual, no opinion, no meta-commentary.
Output only the summary.

Article:
%s`
)

// Normalizer produces a neutral title and excerpt for extracted article
// text. It attempts the model path first and falls back to deterministic
// rule-based extraction when the model output is missing or invalid.
type Normalizer struct {
	generator TextGenerator // nil disables the model path
	attempts  int
	backoff   time.Duration
}

// NewNormalizer creates a normalizer. Pass a nil generator to run
// fallback-only.
func NewNormalizer(generator TextGenerator) *Normalizer {
	return &Normalizer{
		generator: generator,
		attempts:  2,
		backoff:   2 * time.Second,
	}
}

// GenerateTitle returns a neutral title between 10 and 100 characters. It
// never fails on non-empty input.
func (n *Normalizer) GenerateTitle(ctx context.Context, body, originalTitle string) string {
	if n.generator != nil {
		input := body
		if len(input) > 4000 {
			input = input[:4000]
		}
		raw, err := n.generateWithRetry(ctx, fmt.Sprintf(titlePromptTemplate, input))
		if err == nil {
			title := CleanModelOutput(raw)
			if err := ValidateTitle(title); err == nil {
				return title
			}
			logger.Debug("model title rejected", "title", title)
		} else {
			logger.Debug("model title generation failed", "error", err.Error())
		}
	}
	return FallbackTitle(body, originalTitle)
}

// GenerateExcerpt returns a neutral excerpt of 50-200 words (target 150).
func (n *Normalizer) GenerateExcerpt(ctx context.Context, body, originalTitle string) string {
	if n.generator != nil {
		input := body
		if len(input) > 8000 {
			input = input[:8000]
		}
		raw, err := n.generateWithRetry(ctx, fmt.Sprintf(excerptPromptTemplate, input))
		if err == nil {
			excerpt := CleanModelOutput(raw)
			if err := ValidateExcerpt(excerpt); err == nil {
				return excerpt
			}
			logger.Debug("model excerpt rejected")
		} else {
			logger.Debug("model excerpt generation failed", "error", err.Error())
		}
	}
	return FallbackExcerpt(body, originalTitle)
}

func (n *Normalizer) generateWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < n.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(n.backoff):
			}
		}
		out, err := n.generator.Generate(ctx, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return "", lastErr
}

var (
	preambleRe   = regexp.MustCompile(`(?i)^(sure[,!]?\s*)?(here('s| is)\s+(a|the|your)\s+\w+[:.]?\s*)?`)
	labelRe      = regexp.MustCompile(`(?i)^(headline|title|summary|excerpt)\s*[:\-]\s*`)
	codeFenceRe  = regexp.MustCompile("```[a-z]*\\n?")
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	cssBlockRe   = regexp.MustCompile(`\{[^}]*\}`)
	mdHeaderRe   = regexp.MustCompile(`(?m)^#+\s*`)
	refusalWords = []string{"cannot", "unable", "inappropriate", "i'm sorry", "as an ai"}
	bannedRes    = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*[.#][a-zA-Z][\w-]*\s*\{`), // CSS selectors
		regexp.MustCompile("```"),
		regexp.MustCompile(`(?i)@media|!important|font-family:`),
	}
)

// CleanModelOutput strips chat preamble, labels, code fences, HTML tags,
// CSS braces, markdown headers, and wrapping quotes from model output.
func CleanModelOutput(raw string) string {
	out := strings.TrimSpace(raw)
	out = codeFenceRe.ReplaceAllString(out, "")
	out = mdHeaderRe.ReplaceAllString(out, "")
	out = preambleRe.ReplaceAllString(out, "")
	out = labelRe.ReplaceAllString(out, "")
	out = htmlTagRe.ReplaceAllString(out, "")
	out = cssBlockRe.ReplaceAllString(out, "")
	out = strings.TrimSpace(out)
	out = strings.Trim(out, `"'`)
	return strings.TrimSpace(out)
}

// ValidateTitle rejects refusals, out-of-bounds lengths, and banned
// patterns.
func ValidateTitle(title string) error {
	if err := rejectCommon(title); err != nil {
		return err
	}
	if len(title) < titleMinChars || len(title) > titleMaxChars {
		return fmt.Errorf("title length %d outside [%d,%d]", len(title), titleMinChars, titleMaxChars)
	}
	return nil
}

// ValidateExcerpt rejects refusals, out-of-bounds word counts, and banned
// patterns.
func ValidateExcerpt(excerpt string) error {
	if err := rejectCommon(excerpt); err != nil {
		return err
	}
	words := len(strings.Fields(excerpt))
	if words < excerptMinWords || words > excerptMaxWords {
		return fmt.Errorf("excerpt word count %d outside [%d,%d]", words, excerptMinWords, excerptMaxWords)
	}
	return nil
}

func rejectCommon(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("empty output")
	}
	lower := strings.ToLower(text)
	for _, word := range refusalWords {
		if strings.Contains(lower, word) {
			return fmt.Errorf("refusal marker %q present", word)
		}
	}
	for _, re := range bannedRes {
		if re.MatchString(text) {
			return fmt.Errorf("banned pattern present")
		}
	}
	return nil
}
