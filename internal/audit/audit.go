package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"newsloom/internal/cluster"
	"newsloom/internal/core"
	"newsloom/internal/logger"
	"newsloom/internal/store"
)

const (
	maxAuditedClusters = 50

	cohesionCorrectMin = 0.22
	cohesionSplitMax   = 0.12
	separationGoodMin  = 0.65
	separationMergeMax = 0.40

	thresholdStep = 0.02
	thresholdMin  = 0.16
	thresholdMax  = 0.28
)

// Storage is the slice of the store the auditor needs.
type Storage interface {
	GetClusters(limit int) ([]core.Cluster, error)
	GetClusterArticles(clusterID int64) ([]core.Article, error)
	UpsertClusterEvaluation(eval core.ClusterEvaluation) error
	GetCurrentClusterParams() (string, error)
	SaveClusterParams(paramsJSON string) error
}

// Metrics is the per-cluster quality snapshot persisted as JSON.
type Metrics struct {
	Size              int     `json:"size"`
	CohesionMean      float64 `json:"cohesion_mean"`
	CohesionMedian    float64 `json:"cohesion_median"`
	SeparationMin     float64 `json:"separation_min"`
	TitleOverlapRate  float64 `json:"title_overlap_rate"`
	EntityOverlapRate float64 `json:"entity_overlap_rate"`
}

// Evaluation pairs a cluster with its computed metrics and label.
type Evaluation struct {
	ClusterID int64
	Title     string
	Metrics   Metrics
	Label     core.EvaluationLabel
}

// Report is the outcome of one audit run.
type Report struct {
	RunID       string
	Evaluations []Evaluation
	Proposed    *cluster.Params
}

// Auditor evaluates recent clusters and proposes parameter adjustments. It
// only writes evaluations and parameter history; it never modifies
// memberships.
type Auditor struct {
	storage  Storage
	defaults cluster.Params
}

// NewAuditor creates an auditor over the given storage.
func NewAuditor(storage Storage, defaults cluster.Params) *Auditor {
	return &Auditor{storage: storage, defaults: defaults}
}

// Run audits up to 50 recently-updated clusters, persists one evaluation
// per cluster, and proposes a threshold adjustment when the label
// distribution warrants one.
func (a *Auditor) Run(propose bool) (*Report, error) {
	clusters, err := a.storage.GetClusters(maxAuditedClusters)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}

	report := &Report{RunID: uuid.New().String()}
	if len(clusters) == 0 {
		return report, nil
	}

	members := make(map[int64][]core.Article, len(clusters))
	var docs []string
	docIndex := make(map[int64][]int)
	docCluster := make([]int64, 0)
	for _, cl := range clusters {
		arts, err := a.storage.GetClusterArticles(cl.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load cluster %d articles: %w", cl.ID, err)
		}
		members[cl.ID] = arts
		for _, art := range arts {
			docIndex[cl.ID] = append(docIndex[cl.ID], len(docs))
			docCluster = append(docCluster, cl.ID)
			docs = append(docs, art.CombinedText())
		}
	}
	tfidf := cluster.NewTFIDF(docs)

	for _, cl := range clusters {
		metrics := computeMetrics(cl.ID, members[cl.ID], docIndex, docCluster, tfidf)
		label := labelFor(metrics)
		report.Evaluations = append(report.Evaluations, Evaluation{
			ClusterID: cl.ID,
			Title:     cl.Title,
			Metrics:   metrics,
			Label:     label,
		})

		metricsJSON, err := json.Marshal(metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metrics: %w", err)
		}
		eval := core.ClusterEvaluation{
			ID:          uuid.New().String(),
			ClusterID:   cl.ID,
			MetricsJSON: string(metricsJSON),
			Label:       label,
			CreatedAt:   time.Now().UTC(),
		}
		if err := a.storage.UpsertClusterEvaluation(eval); err != nil {
			return nil, fmt.Errorf("failed to save evaluation for cluster %d: %w", cl.ID, err)
		}
	}

	if propose {
		proposed, err := a.ProposeParams(report.Evaluations)
		if err != nil {
			return nil, err
		}
		report.Proposed = proposed
	}

	logger.Info("audit run complete", "run_id", report.RunID, "clusters", len(report.Evaluations))
	return report, nil
}

// computeMetrics builds the quality snapshot for one cluster using the
// shared vectorizer over all audited members.
func computeMetrics(clusterID int64, arts []core.Article, docIndex map[int64][]int, docCluster []int64, tfidf *cluster.TFIDF) Metrics {
	indices := docIndex[clusterID]
	metrics := Metrics{Size: len(arts), SeparationMin: 1}

	// Pairwise cohesion within the cluster.
	var sims []float64
	for i := 0; i < len(indices); i++ {
		for j := i + 1; j < len(indices); j++ {
			sims = append(sims, tfidf.Cosine(indices[i], indices[j]))
		}
	}
	if len(sims) > 0 {
		sort.Float64s(sims)
		var sum float64
		for _, s := range sims {
			sum += s
		}
		metrics.CohesionMean = sum / float64(len(sims))
		mid := len(sims) / 2
		if len(sims)%2 == 1 {
			metrics.CohesionMedian = sims[mid]
		} else {
			metrics.CohesionMedian = (sims[mid-1] + sims[mid]) / 2
		}
	}

	// Separation against every member of every other cluster.
	best := 0.0
	for _, i := range indices {
		for j, owner := range docCluster {
			if owner == clusterID {
				continue
			}
			if s := tfidf.Cosine(i, j); s > best {
				best = s
			}
		}
	}
	metrics.SeparationMin = 1 - best

	metrics.TitleOverlapRate = pairRate(arts, func(a, b core.Article) bool {
		return cluster.SequenceRatio(a.GeneratedTitle, b.GeneratedTitle) >= 0.40
	})
	metrics.EntityOverlapRate = pairRate(arts, func(a, b core.Article) bool {
		return cluster.SharedEntityOverlap(a.CombinedText(), b.CombinedText())
	})
	return metrics
}

func pairRate(arts []core.Article, pred func(a, b core.Article) bool) float64 {
	pairs, hits := 0, 0
	for i := 0; i < len(arts); i++ {
		for j := i + 1; j < len(arts); j++ {
			pairs++
			if pred(arts[i], arts[j]) {
				hits++
			}
		}
	}
	if pairs == 0 {
		return 0
	}
	return float64(hits) / float64(pairs)
}

// labelFor maps metrics to an evaluation label. Thresholds err toward
// "mixed" when the evidence is ambiguous.
func labelFor(m Metrics) core.EvaluationLabel {
	switch {
	case m.Size >= 2 && m.CohesionMean < cohesionSplitMax:
		return core.LabelSplitNeeded
	case m.Size >= 2 && m.SeparationMin < separationMergeMax:
		return core.LabelShouldMerge
	case m.Size >= 3 && m.CohesionMean >= cohesionCorrectMin && m.SeparationMin >= separationGoodMin:
		return core.LabelCorrect
	default:
		return core.LabelMixed
	}
}

// ProposeParams nudges the breaking threshold one step tighter when more
// clusters look over-merged than over-split, one step looser in the
// opposite case, and saves the new set to parameter history. The proposal
// is advisory: it takes effect only because the clusterer reads the latest
// saved set.
func (a *Auditor) ProposeParams(evals []Evaluation) (*cluster.Params, error) {
	splits, merges := 0, 0
	for _, e := range evals {
		switch e.Label {
		case core.LabelSplitNeeded:
			splits++
		case core.LabelShouldMerge:
			merges++
		}
	}
	if splits == merges {
		return nil, nil
	}

	params := a.defaults
	current, err := a.storage.GetCurrentClusterParams()
	if err == nil {
		if uerr := json.Unmarshal([]byte(current), &params); uerr != nil {
			logger.Warn("invalid saved params, proposing from defaults", "error", uerr.Error())
			params = a.defaults
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load current params: %w", err)
	}

	if splits > merges {
		params.BreakingThreshold += thresholdStep
	} else {
		params.BreakingThreshold -= thresholdStep
	}
	params.BreakingThreshold = clamp(params.BreakingThreshold, thresholdMin, thresholdMax)

	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proposed params: %w", err)
	}
	if err := a.storage.SaveClusterParams(string(encoded)); err != nil {
		return nil, fmt.Errorf("failed to save proposed params: %w", err)
	}

	logger.Info("proposed cluster params",
		"breaking_threshold", params.BreakingThreshold, "split_needed", splits, "should_merge", merges)
	return &params, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
