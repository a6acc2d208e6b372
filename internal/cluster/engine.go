package cluster

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// ArticleType selects the weight vector and base threshold.
type ArticleType string

const (
	TypeBreaking ArticleType = "breaking"
	TypePolicy   ArticleType = "policy"
)

// Weights are the per-signal weights of the similarity score.
type Weights struct {
	Lexical  float64 `json:"lexical"`
	Semantic float64 `json:"semantic"`
	Location float64 `json:"location"`
	Event    float64 `json:"event"`
}

// Params are the tunable clusterer parameters. The currently-effective set
// is the most recent row of cluster_params_history; audit proposes new
// versions.
type Params struct {
	BreakingThreshold   float64 `json:"breaking_threshold"`
	PolicyThreshold     float64 `json:"policy_threshold"`
	TitleSimilarityMin  float64 `json:"title_similarity_min"`
	TokenJaccardMin     float64 `json:"token_jaccard_min"`
	TokenJaccardEntity  float64 `json:"token_jaccard_entity"`
	SignatureOverlapMin float64 `json:"signature_overlap_min"`
	TimeWindowHours     int     `json:"time_window_hours"`
	BreakingWeights     Weights `json:"breaking_weights"`
	PolicyWeights       Weights `json:"policy_weights"`
	TopicGeoBoost       float64 `json:"topic_geo_boost"`
	MaxAccepted         int     `json:"max_accepted"`
}

// DefaultParams returns the conservative defaults.
func DefaultParams() Params {
	return Params{
		BreakingThreshold:   0.22,
		PolicyThreshold:     0.16,
		TitleSimilarityMin:  0.40,
		TokenJaccardMin:     0.10,
		TokenJaccardEntity:  0.15,
		SignatureOverlapMin: 0.08,
		TimeWindowHours:     72,
		BreakingWeights:     Weights{Lexical: 0.6, Semantic: 0.0, Location: 0.3, Event: 0.1},
		PolicyWeights:       Weights{Lexical: 0.45, Semantic: 0.0, Location: 0.35, Event: 0.20},
		TopicGeoBoost:       0.03,
		MaxAccepted:         10,
	}
}

var (
	breakingVocabRe = regexp.MustCompile(`(?i)\b(shooting|shot|gunman|killed|dead|attack|explosion|blast|crash|collision|fire|arrested|stabbing|murder|hostage|earthquake|hurricane|flood|evacuat)\w*\b`)
	policyVocabRe   = regexp.MustCompile(`(?i)\b(policy|bill|legislation|regulation|reform|analysis|budget|tax|minister|parliament|congress|senate|committee|strategy|proposal|framework|consultation|white paper|digital id)\w*\b`)

	digitalIdentityRe = regexp.MustCompile(`(?i)\b(digital (id|identity|identification)|id card|identity card|biometric|e-?id)\b`)
)

// topicGeoPairs are topic+geography combinations that earn the additive
// policy boost when both texts share them.
var topicGeoPairs = []struct {
	geo   string
	topic *regexp.Regexp
}{
	{"united kingdom", digitalIdentityRe},
	{"united states", regexp.MustCompile(`(?i)\b(border|immigration|tariff)\b`)},
	{"europe", regexp.MustCompile(`(?i)\b(migration|energy|sanction)\w*\b`)},
}

// InferType classifies an article as breaking or policy from its vocabulary.
func InferType(text string) ArticleType {
	breaking := len(breakingVocabRe.FindAllString(text, -1))
	policy := len(policyVocabRe.FindAllString(text, -1))
	if policy > breaking {
		return TypePolicy
	}
	return TypeBreaking
}

// Candidate is one recent article considered for clustering, as seen by the
// pure decision engine.
type Candidate struct {
	ID        int64
	Title     string
	Text      string
	Domain    string
	CreatedAt time.Time
}

// Match is an accepted candidate with its similarity breakdown.
type Match struct {
	Candidate  Candidate
	Similarity float64
	TitleSim   float64
	Jaccard    float64
}

// EvaluateCandidates scores and gates every candidate against the subject
// and returns accepted matches sorted by similarity descending, capped at
// params.MaxAccepted. The vectorizer is rebuilt per call; the engine holds
// no cross-call state.
func EvaluateCandidates(subject Candidate, candidates []Candidate, params Params) []Match {
	if len(candidates) == 0 {
		return nil
	}

	articleType := InferType(subject.Text)
	weights := params.BreakingWeights
	threshold := params.BreakingThreshold
	if articleType == TypePolicy {
		weights = params.PolicyWeights
		threshold = params.PolicyThreshold
	}

	docs := make([]string, 0, len(candidates)+1)
	docs = append(docs, subject.Text)
	for _, c := range candidates {
		docs = append(docs, c.Text)
	}
	tfidf := NewTFIDF(docs)

	subjectTokens := Tokenize(subject.Text)
	subjectLocations := ExtractLocations(subject.Text)
	subjectEvents := ExtractEvents(subject.Text)
	subjectSignature := StorySignature(subject.Title, subject.Text)
	window := time.Duration(params.TimeWindowHours) * time.Hour

	var accepted []Match
	for i, candidate := range candidates {
		if candidate.ID == subject.ID {
			continue
		}

		lexical := tfidf.Cosine(0, i+1)
		locationSim := setJaccard(subjectLocations, ExtractLocations(candidate.Text))
		eventSim := setJaccard(subjectEvents, ExtractEvents(candidate.Text))

		similarity := weights.Lexical*lexical + weights.Location*locationSim + weights.Event*eventSim
		if articleType == TypePolicy {
			similarity += topicGeoBoost(subject.Text, candidate.Text, params.TopicGeoBoost)
		}
		if similarity > 1 {
			similarity = 1
		}
		if similarity < threshold {
			continue
		}

		candidateTokens := Tokenize(candidate.Text)
		titleSim := SequenceRatio(subject.Title, candidate.Title)
		jaccard := TokenJaccard(subjectTokens, candidateTokens)
		entityOverlap := SharedEntityOverlap(subject.Text, candidate.Text)
		signatureOverlap := SignatureOverlap(subjectSignature, StorySignature(candidate.Title, candidate.Text))
		timeOK := withinWindow(subject.CreatedAt, candidate.CreatedAt, window)

		if !timeOK {
			continue
		}

		if candidate.Domain != "" && candidate.Domain == subject.Domain {
			// Same-domain pairs are usually the same outlet re-filing a
			// story; require stricter agreement.
			if titleSim < 0.30 || jaccard < 0.08 {
				continue
			}
		} else {
			jaccardGate := params.TokenJaccardMin
			if entityOverlap {
				jaccardGate = params.TokenJaccardEntity
			}
			signals := 0
			if titleSim >= params.TitleSimilarityMin {
				signals++
			}
			if jaccard >= jaccardGate {
				signals++
			}
			if entityOverlap {
				signals++
			}
			if signatureOverlap >= params.SignatureOverlapMin {
				signals++
			}
			if signals < 1 {
				continue
			}
		}

		if geographyOnlyOverlap(subjectTokens, candidateTokens) && titleSim < 0.30 {
			continue
		}

		accepted = append(accepted, Match{
			Candidate:  candidate,
			Similarity: similarity,
			TitleSim:   titleSim,
			Jaccard:    jaccard,
		})
	}

	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].Similarity > accepted[j].Similarity
	})
	if len(accepted) > params.MaxAccepted {
		accepted = accepted[:params.MaxAccepted]
	}
	return accepted
}

func withinWindow(a, b time.Time, window time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}

// topicGeoBoost returns the additive boost when both texts share one of the
// known topic+geography pairings.
func topicGeoBoost(a, b string, boost float64) float64 {
	locationsA, locationsB := ExtractLocations(a), ExtractLocations(b)
	for _, pair := range topicGeoPairs {
		if locationsA[pair.geo] && locationsB[pair.geo] &&
			pair.topic.MatchString(a) && pair.topic.MatchString(b) {
			return boost
		}
	}
	return 0
}

// geographyOnlyOverlap reports whether the shared content tokens are
// exclusively geography terms. Such overlap alone must not cluster two
// otherwise unrelated articles.
func geographyOnlyOverlap(a, b []string) bool {
	setB := toSet(b)
	shared := 0
	for _, t := range a {
		if !setB[t] {
			continue
		}
		shared++
		if !isGeographyToken(strings.ToLower(t)) {
			return false
		}
	}
	return shared > 0
}
