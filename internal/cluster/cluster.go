package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"newsloom/internal/core"
	"newsloom/internal/logger"
	"newsloom/internal/store"
)

// Storage is the slice of the store the clusterer needs.
type Storage interface {
	GetRecentArticles(limit int, includeProcessing bool) ([]core.Article, error)
	GetArticle(articleID int64) (*core.Article, error)
	GetArticleClusters(articleID int64) ([]core.Membership, error)
	CreateCluster(title, summary string) (int64, error)
	AddToCluster(articleID, clusterID int64, similarity float64) error
	GetCurrentClusterParams() (string, error)
}

// Clusterer decides cluster membership for completed articles. It is
// stateless across calls: parameters are re-read and the vectorizer rebuilt
// on every Cluster invocation, so it is safe under concurrent callers.
type Clusterer struct {
	storage  Storage
	defaults Params
	poolSize int
}

// NewClusterer creates a clusterer reading candidates from storage.
func NewClusterer(storage Storage, defaults Params, poolSize int) *Clusterer {
	if poolSize <= 0 {
		poolSize = 150
	}
	return &Clusterer{storage: storage, defaults: defaults, poolSize: poolSize}
}

// currentParams returns the most recent saved parameter set, falling back
// to the configured defaults.
func (c *Clusterer) currentParams() Params {
	paramsJSON, err := c.storage.GetCurrentClusterParams()
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warn("failed to load cluster params, using defaults", "error", err.Error())
		}
		return c.defaults
	}
	params := c.defaults
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		logger.Warn("invalid cluster params row, using defaults", "error", err.Error())
		return c.defaults
	}
	return params
}

// Cluster evaluates one article against the recent candidate pool and
// either joins an existing cluster, founds a new one with cross-domain
// corroboration, or leaves the article as a singleton. Cluster insertion is
// the final step; on any earlier error no membership is persisted.
func (c *Clusterer) Cluster(ctx context.Context, articleID int64, combinedText string) (core.ClusterDecision, error) {
	singleton := core.ClusterDecision{Kind: core.DecisionSingleton}

	if err := ctx.Err(); err != nil {
		return singleton, err
	}

	article, err := c.storage.GetArticle(articleID)
	if err != nil {
		return singleton, fmt.Errorf("failed to load article %d: %w", articleID, err)
	}

	recent, err := c.storage.GetRecentArticles(c.poolSize, true)
	if err != nil {
		return singleton, fmt.Errorf("failed to load candidate pool: %w", err)
	}

	subject := Candidate{
		ID:        article.ID,
		Title:     article.GeneratedTitle,
		Text:      combinedText,
		Domain:    article.SourceDomain,
		CreatedAt: article.CreatedAt,
	}
	candidates := make([]Candidate, 0, len(recent))
	for _, r := range recent {
		if r.ID == article.ID {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:        r.ID,
			Title:     r.GeneratedTitle,
			Text:      r.CombinedText(),
			Domain:    r.SourceDomain,
			CreatedAt: r.CreatedAt,
		})
	}

	accepted := EvaluateCandidates(subject, candidates, c.currentParams())
	if len(accepted) == 0 {
		return singleton, nil
	}

	// Join the cluster of the best already-clustered accepted candidate.
	for _, match := range accepted {
		memberships, err := c.storage.GetArticleClusters(match.Candidate.ID)
		if err != nil {
			return singleton, fmt.Errorf("failed to load memberships for %d: %w", match.Candidate.ID, err)
		}
		if len(memberships) == 0 {
			continue
		}
		clusterID := memberships[0].ClusterID
		if err := c.storage.AddToCluster(article.ID, clusterID, match.Similarity); err != nil {
			return singleton, fmt.Errorf("failed to join cluster %d: %w", clusterID, err)
		}
		logger.Info("article joined cluster",
			"article_id", article.ID, "cluster_id", clusterID, "similarity", match.Similarity)
		return core.ClusterDecision{
			Kind:       core.DecisionJoined,
			ClusterID:  clusterID,
			Similarity: match.Similarity,
		}, nil
	}

	// No accepted candidate is clustered yet: founding a new cluster
	// requires corroboration from at least one other source domain.
	var peers []Match
	for _, match := range accepted {
		if match.Candidate.Domain != subject.Domain {
			peers = append(peers, match)
		}
	}
	if len(peers) == 0 {
		return singleton, nil
	}
	if len(peers) > 3 {
		peers = peers[:3]
	}

	members := []Member{{Title: subject.Title, Text: subject.Text}}
	for _, p := range peers {
		members = append(members, Member{Title: p.Candidate.Title, Text: p.Candidate.Text})
	}
	title := GenerateClusterTitle(members)
	summary := GenerateClusterSummary(members)

	clusterID, err := c.storage.CreateCluster(title, summary)
	if err != nil {
		return singleton, fmt.Errorf("failed to create cluster: %w", err)
	}
	if err := c.storage.AddToCluster(article.ID, clusterID, peers[0].Similarity); err != nil {
		return singleton, fmt.Errorf("failed to add founder to cluster %d: %w", clusterID, err)
	}

	decision := core.ClusterDecision{
		Kind:       core.DecisionFounded,
		ClusterID:  clusterID,
		Similarity: peers[0].Similarity,
	}
	for _, p := range peers {
		if err := c.storage.AddToCluster(p.Candidate.ID, clusterID, p.Similarity); err != nil {
			return decision, fmt.Errorf("failed to add peer %d to cluster %d: %w", p.Candidate.ID, clusterID, err)
		}
		decision.PeerIDs = append(decision.PeerIDs, p.Candidate.ID)
		decision.PeerSims = append(decision.PeerSims, p.Similarity)
	}

	logger.Info("article founded cluster",
		"article_id", article.ID, "cluster_id", clusterID, "title", title, "peers", len(peers))
	return decision, nil
}
