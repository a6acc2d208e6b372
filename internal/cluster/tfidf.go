package cluster

import (
	"math"
	"regexp"
	"strings"
)

// English stop words removed before vectorization.
var stopWords = map[string]bool{
	"a": true, "about": true, "above": true, "after": true, "again": true,
	"all": true, "also": true, "an": true, "and": true, "any": true,
	"are": true, "as": true, "at": true, "be": true, "because": true,
	"been": true, "before": true, "being": true, "between": true, "both": true,
	"but": true, "by": true, "can": true, "could": true, "did": true,
	"do": true, "does": true, "down": true, "during": true, "each": true,
	"few": true, "for": true, "from": true, "further": true, "had": true,
	"has": true, "have": true, "having": true, "he": true, "her": true,
	"here": true, "him": true, "his": true, "how": true, "i": true,
	"if": true, "in": true, "into": true, "is": true, "it": true,
	"its": true, "just": true, "me": true, "more": true, "most": true,
	"my": true, "no": true, "nor": true, "not": true, "now": true,
	"of": true, "off": true, "on": true, "once": true, "only": true,
	"or": true, "other": true, "our": true, "out": true, "over": true,
	"own": true, "said": true, "same": true, "she": true, "should": true,
	"so": true, "some": true, "such": true, "than": true, "that": true,
	"the": true, "their": true, "them": true, "then": true, "there": true,
	"these": true, "they": true, "this": true, "those": true, "through": true,
	"to": true, "too": true, "under": true, "until": true, "up": true,
	"very": true, "was": true, "we": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "while": true, "who": true,
	"whom": true, "why": true, "will": true, "with": true, "would": true,
	"you": true, "your": true,
}

var tokenRe = regexp.MustCompile(`[a-z0-9]+(?:'[a-z]+)?`)

// Tokenize lowercases text and returns word tokens with stop words removed.
func Tokenize(text string) []string {
	raw := tokenRe.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		if stopWords[t] || len(t) < 2 {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}

// ngrams produces contiguous n-grams joined by spaces.
func ngrams(tokens []string, n int) []string {
	if len(tokens) < n {
		return nil
	}
	grams := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		grams = append(grams, strings.Join(tokens[i:i+n], " "))
	}
	return grams
}

// terms expands tokens into unigrams through trigrams.
func terms(tokens []string) []string {
	out := make([]string, 0, len(tokens)*3)
	for n := 1; n <= 3; n++ {
		out = append(out, ngrams(tokens, n)...)
	}
	return out
}

// TFIDF holds document vectors over a shared vocabulary. It is rebuilt per
// clustering call; there is no cross-call state.
type TFIDF struct {
	vectors []map[string]float64
}

// NewTFIDF vectorizes the given documents with unigram-trigram terms and
// smoothed inverse document frequency.
func NewTFIDF(docs []string) *TFIDF {
	n := len(docs)
	docTerms := make([][]string, n)
	df := make(map[string]int)

	for i, doc := range docs {
		ts := terms(Tokenize(doc))
		docTerms[i] = ts
		seen := make(map[string]bool, len(ts))
		for _, t := range ts {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}

	vectors := make([]map[string]float64, n)
	for i, ts := range docTerms {
		tf := make(map[string]float64, len(ts))
		for _, t := range ts {
			tf[t]++
		}
		vec := make(map[string]float64, len(tf))
		var norm float64
		for t, count := range tf {
			w := (count / float64(max(len(ts), 1))) * (math.Log(float64(n+1)/float64(df[t]+1)) + 1)
			vec[t] = w
			norm += w * w
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for t := range vec {
				vec[t] /= norm
			}
		}
		vectors[i] = vec
	}
	return &TFIDF{vectors: vectors}
}

// Cosine returns the cosine similarity between documents i and j.
func (v *TFIDF) Cosine(i, j int) float64 {
	a, b := v.vectors[i], v.vectors[j]
	if len(a) > len(b) {
		a, b = b, a
	}
	var dot float64
	for t, w := range a {
		dot += w * b[t]
	}
	return dot
}

// TokenJaccard computes the Jaccard index of two token sets.
func TokenJaccard(a, b []string) float64 {
	return setJaccard(toSet(a), toSet(b))
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

func setJaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// SequenceRatio is a similarity ratio over two lowercased strings, computed
// from the total length of recursively-found longest common substrings:
// 2*M / (len(a)+len(b)).
func SequenceRatio(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	m := matchedLength([]rune(a), []rune(b))
	return 2 * float64(m) / float64(len([]rune(a))+len([]rune(b)))
}

func matchedLength(a, b []rune) int {
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchedLength(a[:ai], b[:bi])
	total += matchedLength(a[ai+size:], b[bi+size:])
	return total
}

func longestCommonSubstring(a, b []rune) (int, int, int) {
	bestA, bestB, bestLen := 0, 0, 0
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > bestLen {
					bestLen = cur[j]
					bestA = i - bestLen
					bestB = j - bestLen
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return bestA, bestB, bestLen
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
