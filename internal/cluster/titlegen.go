package cluster

import (
	"regexp"
	"sort"
	"strings"
)

const (
	clusterTitleMax     = 90
	clusterSummaryWords = 140
)

// Member is one article's contribution to cluster title/summary generation.
type Member struct {
	Title string
	Text  string
}

// GenerateClusterTitle deterministically synthesizes a cluster title from
// member headlines: a centrality-scored member headline when one stands
// out, otherwise a location/topic composition, otherwise the most frequent
// capitalized tokens.
func GenerateClusterTitle(members []Member) string {
	if len(members) == 0 {
		return "News Story"
	}

	if title := centralHeadline(members); title != "" {
		return capTitle(normalizeTitleCase(title))
	}

	var aggregated strings.Builder
	for _, m := range members {
		aggregated.WriteString(m.Title)
		aggregated.WriteString(" ")
		aggregated.WriteString(m.Text)
		aggregated.WriteString(" ")
	}
	text := aggregated.String()

	location := topLocation(text)
	topic := topEventCategory(text)
	if location != "" && topic != "" {
		return capTitle(normalizeTitleCase(location + " — " + topic))
	}

	if fallback := frequentCapitalizedTokens(text); fallback != "" {
		return capTitle(fallback)
	}
	return capTitle(normalizeTitleCase(members[0].Title))
}

// centralHeadline picks the member headline with the highest mean token
// Jaccard against the others, requiring a minimum centrality so an outlier
// set falls through to composition.
func centralHeadline(members []Member) string {
	if len(members) == 1 {
		if len(members[0].Title) >= 10 {
			return members[0].Title
		}
		return ""
	}

	bestScore := -1.0
	best := ""
	for i, m := range members {
		tokens := Tokenize(m.Title)
		if len(tokens) < 2 {
			continue
		}
		total := 0.0
		for j, other := range members {
			if i == j {
				continue
			}
			total += TokenJaccard(tokens, Tokenize(other.Title))
		}
		score := total / float64(len(members)-1)
		if score > bestScore {
			bestScore = score
			best = m.Title
		}
	}

	if bestScore < 0.15 || len(best) < 10 {
		return ""
	}
	return best
}

func topLocation(text string) string {
	counts := make(map[string]int)
	lower := strings.ToLower(text)
	for gpe := range ExtractLocations(text) {
		counts[gpe] = strings.Count(lower, gpe)
		// Count synonym mentions toward the canonical form.
		for synonym, canonical := range gpeCanonical {
			if canonical == gpe && synonym != gpe {
				counts[gpe] += strings.Count(lower, synonym)
			}
		}
	}
	best, bestCount := "", 0
	for gpe, count := range counts {
		if count > bestCount || (count == bestCount && gpe < best) {
			best, bestCount = gpe, count
		}
	}
	return best
}

func topEventCategory(text string) string {
	lower := strings.ToLower(text)
	best, bestCount := "", 0
	categories := make([]string, 0, len(eventTerms))
	for category := range eventTerms {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		count := 0
		for _, variant := range eventTerms[category] {
			count += strings.Count(lower, variant)
		}
		if count > bestCount {
			best, bestCount = category, count
		}
	}
	return best
}

var capitalizedTokenRe = regexp.MustCompile(`\b[A-Z][a-z]{2,}\b`)

func frequentCapitalizedTokens(text string) string {
	counts := make(map[string]int)
	for _, token := range capitalizedTokenRe.FindAllString(text, -1) {
		if stopWords[strings.ToLower(token)] {
			continue
		}
		counts[token]++
	}
	tokens := make([]string, 0, len(counts))
	for t := range counts {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if counts[tokens[i]] != counts[tokens[j]] {
			return counts[tokens[i]] > counts[tokens[j]]
		}
		return tokens[i] < tokens[j]
	})
	if len(tokens) == 0 {
		return ""
	}
	if len(tokens) == 1 {
		return tokens[0]
	}
	return tokens[0] + " " + tokens[1]
}

var acronymRe = regexp.MustCompile(`^[A-Z]{2,5}$`)

// normalizeTitleCase applies Title Case while preserving acronyms.
func normalizeTitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if acronymRe.MatchString(w) {
			continue
		}
		lower := strings.ToLower(w)
		if i > 0 && stopWords[lower] && len(lower) <= 3 {
			words[i] = lower
			continue
		}
		words[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(words, " ")
}

func capTitle(s string) string {
	if len(s) <= clusterTitleMax {
		return s
	}
	cut := s[:clusterTitleMax]
	if idx := strings.LastIndex(cut, " "); idx > clusterTitleMax/2 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, ",;:— ")
}

var summarySentenceRe = regexp.MustCompile(`(?s)(.*?[.!?])(?:\s+|$)`)
var summaryNoiseRe = regexp.MustCompile(`(?i)(advertisement|subscribe|sign up|cookie|javascript|\{|\}|</|function\()`)

// GenerateClusterSummary joins the first informative sentence of up to
// three member texts, deduplicated, capped at 140 words.
func GenerateClusterSummary(members []Member) string {
	seen := make(map[string]bool)
	var parts []string
	total := 0

	limit := len(members)
	if limit > 3 {
		limit = 3
	}
	for _, m := range members[:limit] {
		sentence := firstInformativeSentence(m.Text)
		if sentence == "" {
			continue
		}
		key := strings.ToLower(sentence)
		if seen[key] {
			continue
		}
		seen[key] = true

		words := len(strings.Fields(sentence))
		if total+words > clusterSummaryWords {
			break
		}
		parts = append(parts, sentence)
		total += words
	}

	if len(parts) == 0 {
		return ""
	}
	summary := strings.Join(parts, " ")
	if !strings.HasSuffix(summary, ".") && !strings.HasSuffix(summary, "!") && !strings.HasSuffix(summary, "?") {
		summary += "."
	}
	return summary
}

func firstInformativeSentence(text string) string {
	for _, m := range summarySentenceRe.FindAllStringSubmatch(text, -1) {
		sentence := strings.TrimSpace(strings.ReplaceAll(m[1], "\n", " "))
		if len(sentence) < 30 || len(sentence) > 240 {
			continue
		}
		if summaryNoiseRe.MatchString(sentence) {
			continue
		}
		return sentence
	}
	return ""
}
