package normalize

import (
	"regexp"
	"sort"
	"strings"
)

const (
	fallbackTitleMax  = 80
	excerptWordTarget = 150
)

var (
	sentenceSplitRe = regexp.MustCompile(`(?s)(.*?[.!?])(?:\s+|$)`)
	metadataRe      = regexp.MustCompile(`(?i)(image credit|photo[:s]|getty|reuters/|ap photo|^by [A-Z]|follow us|subscribe|share this|sign up|read more|advertisement|updated:|published:|min read)`)
	casualtyRe      = regexp.MustCompile(`(?i)\b(killed|dead|died|injured|wounded|shot|attack|explosion|crash|fire|arrested|charged|evacuated|missing|victims?)\b`)
	entityTokenRe   = regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+){1,2}\b`)
	numericFactRe   = regexp.MustCompile(`\b\d+(?:[.,]\d+)?\b`)
)

// splitSentences breaks text into trimmed sentences.
func splitSentences(text string) []string {
	matches := sentenceSplitRe.FindAllStringSubmatch(text, -1)
	sentences := make([]string, 0, len(matches))
	for _, m := range matches {
		s := strings.TrimSpace(strings.ReplaceAll(m[1], "\n", " "))
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// FallbackTitle derives a title deterministically: the first non-metadata
// sentence of the body truncated to 80 chars, then the original title, then
// a fixed default.
func FallbackTitle(body, originalTitle string) string {
	for _, sentence := range splitSentences(body) {
		if metadataRe.MatchString(sentence) {
			continue
		}
		title := normalizeTitlePunctuation(sentence)
		if len(title) < titleMinChars {
			continue
		}
		if len(title) > fallbackTitleMax {
			title = truncateAtWord(title, fallbackTitleMax)
		}
		return title
	}

	original := strings.TrimSpace(originalTitle)
	if len(original) >= titleMinChars {
		if len(original) > titleMaxChars {
			original = truncateAtWord(original, fallbackTitleMax)
		}
		return original
	}

	return "News Update"
}

func normalizeTitlePunctuation(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".!?;: ")
	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

func truncateAtWord(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if idx := strings.LastIndex(cut, " "); idx > max/2 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, ",;: ")
}

// FallbackExcerpt builds an excerpt from the top-ranked sentences of the
// body. Sentences carrying event keywords, named entities, and numeric
// facts rank higher; sentences with metadata markers are rejected.
func FallbackExcerpt(body, originalTitle string) string {
	type ranked struct {
		index int
		score int
		text  string
	}

	var candidates []ranked
	for i, sentence := range splitSentences(body) {
		if metadataRe.MatchString(sentence) {
			continue
		}
		words := len(strings.Fields(sentence))
		if words < 5 {
			continue
		}
		score := 0
		score += 3 * len(casualtyRe.FindAllString(sentence, -1))
		score += 2 * len(entityTokenRe.FindAllString(sentence, -1))
		score += len(numericFactRe.FindAllString(sentence, -1))
		// Earlier sentences carry the lede.
		if i < 3 {
			score += 2
		}
		candidates = append(candidates, ranked{index: i, score: score, text: sentence})
	}

	if len(candidates) == 0 {
		return fallbackExcerptFromRaw(body, originalTitle)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	// Take top-ranked sentences until the word budget is reached, then
	// restore document order so the excerpt reads naturally.
	var picked []ranked
	words := 0
	for _, c := range candidates {
		if words >= excerptWordTarget {
			break
		}
		picked = append(picked, c)
		words += len(strings.Fields(c.text))
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].index < picked[j].index })

	parts := make([]string, 0, len(picked))
	total := 0
	for _, p := range picked {
		w := len(strings.Fields(p.text))
		if total+w > excerptMaxWords {
			break
		}
		parts = append(parts, p.text)
		total += w
	}

	excerpt := strings.Join(parts, " ")
	return ensureTerminalPunctuation(excerpt)
}

// fallbackExcerptFromRaw covers bodies with no sentence structure at all.
func fallbackExcerptFromRaw(body, originalTitle string) string {
	words := strings.Fields(body)
	if len(words) == 0 {
		words = strings.Fields(originalTitle)
	}
	if len(words) > excerptWordTarget {
		words = words[:excerptWordTarget]
	}
	return ensureTerminalPunctuation(strings.Join(words, " "))
}

func ensureTerminalPunctuation(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	last := s[len(s)-1]
	if last != '.' && last != '!' && last != '?' {
		s += "."
	}
	return s
}
