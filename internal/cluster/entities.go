package cluster

import (
	"regexp"
	"sort"
	"strings"
)

// gpeCanonical maps geopolitical-entity synonyms onto one canonical form.
var gpeCanonical = map[string]string{
	"uk": "united kingdom", "britain": "united kingdom", "united kingdom": "united kingdom",
	"great britain": "united kingdom", "england": "united kingdom",
	"us": "united states", "usa": "united states", "united states": "united states",
	"america": "united states", "u.s.": "united states",
	"uae": "united arab emirates", "united arab emirates": "united arab emirates",
	"holland": "netherlands", "netherlands": "netherlands",
	"burma": "myanmar", "myanmar": "myanmar",
}

// knownGPEs is the single-word geography vocabulary used both for location
// overlap and for the geography-only rejection rule.
var knownGPEs = map[string]bool{
	"afghanistan": true, "africa": true, "america": true, "argentina": true,
	"asia": true, "australia": true, "austria": true, "belgium": true,
	"brazil": true, "britain": true, "california": true, "canada": true,
	"china": true, "colorado": true, "egypt": true, "england": true,
	"europe": true, "florida": true, "france": true, "gaza": true,
	"germany": true, "greece": true, "india": true, "indonesia": true,
	"iran": true, "iraq": true, "ireland": true, "israel": true,
	"italy": true, "japan": true, "kenya": true, "korea": true,
	"lebanon": true, "london": true, "mexico": true,
	"michigan": true, "moscow": true, "myanmar": true, "netherlands": true,
	"nigeria": true, "norway": true, "ohio": true, "pakistan": true,
	"paris": true, "poland": true, "portugal": true, "russia": true,
	"scotland": true, "spain": true, "sweden": true, "switzerland": true,
	"syria": true, "taiwan": true, "texas": true, "turkey": true,
	"ukraine": true, "wales": true, "washington": true, "yemen": true,
}

// eventTerms is the event-entity vocabulary grouped by topic keyword.
var eventTerms = map[string][]string{
	"shooting":    {"shooting", "shooter", "gunman", "gunfire", "shot"},
	"attack":      {"attack", "bombing", "explosion", "blast", "strike"},
	"crash":       {"crash", "collision", "derailment", "accident"},
	"fire":        {"fire", "blaze", "wildfire", "arson"},
	"ceasefire":   {"ceasefire", "truce", "armistice"},
	"election":    {"election", "vote", "ballot", "poll", "referendum"},
	"protest":     {"protest", "demonstration", "march", "rally", "riot"},
	"arrest":      {"arrest", "arrested", "detained", "charged", "indicted"},
	"storm":       {"storm", "hurricane", "flood", "tornado", "earthquake"},
	"strike":      {"walkout", "industrial action", "picket"},
	"resignation": {"resignation", "resigned", "stepped down", "ousted"},
}

var capitalizedSeqRe = regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+){1,2}\b`)

// CanonicalGPE maps a geography token to its canonical form, or returns it
// unchanged when no synonym is known.
func CanonicalGPE(token string) string {
	token = strings.ToLower(strings.TrimSpace(token))
	if canonical, ok := gpeCanonical[token]; ok {
		return canonical
	}
	return token
}

// ExtractLocations returns the set of canonicalized geopolitical entities
// mentioned in the text.
func ExtractLocations(text string) map[string]bool {
	locations := make(map[string]bool)
	for _, token := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		if knownGPEs[token] {
			locations[CanonicalGPE(token)] = true
		}
	}
	// Multi-word names the token scan misses.
	lower := strings.ToLower(text)
	for synonym, canonical := range gpeCanonical {
		if strings.Contains(synonym, " ") && strings.Contains(lower, synonym) {
			locations[canonical] = true
		}
	}
	return locations
}

// ExtractEvents returns the set of event categories mentioned in the text.
func ExtractEvents(text string) map[string]bool {
	lower := strings.ToLower(text)
	events := make(map[string]bool)
	for category, variants := range eventTerms {
		for _, v := range variants {
			if strings.Contains(lower, v) {
				events[category] = true
				break
			}
		}
	}
	return events
}

// ExtractNamedEntities returns capitalized 2-3 word sequences, which stand
// in for named entities when no NER is available.
func ExtractNamedEntities(text string) map[string]bool {
	entities := make(map[string]bool)
	for _, seq := range capitalizedSeqRe.FindAllString(text, -1) {
		// Sentence-initial "The Something" style matches are noise.
		first := strings.ToLower(strings.Fields(seq)[0])
		if stopWords[first] {
			continue
		}
		entities[strings.ToLower(seq)] = true
	}
	return entities
}

// SharedEntityOverlap reports whether two texts share at least one named
// entity: a capitalized multi-word sequence or a single-word geopolitical
// entity.
func SharedEntityOverlap(a, b string) bool {
	entitiesA, entitiesB := ExtractNamedEntities(a), ExtractNamedEntities(b)
	for e := range entitiesA {
		if entitiesB[e] {
			return true
		}
	}
	locationsA, locationsB := ExtractLocations(a), ExtractLocations(b)
	for l := range locationsA {
		if locationsB[l] {
			return true
		}
	}
	return false
}

// StorySignature is a structural fingerprint of a story: title 3-grams,
// named entities, and salient title tokens.
func StorySignature(title, text string) map[string]bool {
	signature := make(map[string]bool)
	titleTokens := Tokenize(title)
	for _, g := range ngrams(titleTokens, 3) {
		signature[g] = true
	}
	for e := range ExtractNamedEntities(text) {
		signature[e] = true
	}
	for _, t := range topTokens(titleTokens, 5) {
		signature[t] = true
	}
	return signature
}

// SignatureOverlap measures signature intersection against the smaller
// signature.
func SignatureOverlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for s := range small {
		if large[s] {
			inter++
		}
	}
	return float64(inter) / float64(len(small))
}

// topTokens returns the n most frequent tokens, longest first on ties.
func topTokens(tokens []string, n int) []string {
	counts := make(map[string]int)
	for _, t := range tokens {
		counts[t]++
	}
	unique := make([]string, 0, len(counts))
	for t := range counts {
		unique = append(unique, t)
	}
	sort.Slice(unique, func(i, j int) bool {
		if counts[unique[i]] != counts[unique[j]] {
			return counts[unique[i]] > counts[unique[j]]
		}
		if len(unique[i]) != len(unique[j]) {
			return len(unique[i]) > len(unique[j])
		}
		return unique[i] < unique[j]
	})
	if len(unique) > n {
		unique = unique[:n]
	}
	return unique
}

// isGeographyToken reports whether a token is a pure geography term.
func isGeographyToken(token string) bool {
	return knownGPEs[token]
}
