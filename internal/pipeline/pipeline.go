package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"newsloom/internal/config"
	"newsloom/internal/core"
	"newsloom/internal/logger"
	"newsloom/internal/normalize"
	"newsloom/internal/store"
)

const (
	extractTimeout   = 120 * time.Second
	normalizeTimeout = 240 * time.Second
)

// ArticleExtractor turns a URL into an extraction result.
type ArticleExtractor interface {
	Extract(ctx context.Context, pageURL string) core.ExtractionResult
}

// StoryClusterer assigns a completed article to a cluster.
type StoryClusterer interface {
	Cluster(ctx context.Context, articleID int64, combinedText string) (core.ClusterDecision, error)
}

// Pipeline drives articles from submission through extraction,
// normalization, and clustering. One Run loop processes items sequentially;
// multiple loops may share a store because queue claims are guarded.
type Pipeline struct {
	store      *store.Store
	extractor  ArticleExtractor
	normalizer *normalize.Normalizer
	clusterer  StoryClusterer
	cfg        *config.Config
	sem        chan struct{}
}

// New wires a pipeline from its parts.
func New(s *store.Store, extractor ArticleExtractor, normalizer *normalize.Normalizer, clusterer StoryClusterer, cfg *config.Config) *Pipeline {
	concurrent := cfg.Extract.MaxConcurrent
	if concurrent <= 0 {
		concurrent = 4
	}
	return &Pipeline{
		store:      s,
		extractor:  extractor,
		normalizer: normalizer,
		clusterer:  clusterer,
		cfg:        cfg,
		sem:        make(chan struct{}, concurrent),
	}
}

// Submit registers a URL for processing. Resubmitting a known URL is a
// no-op: the existing article ID is returned with enqueued=false.
func (p *Pipeline) Submit(url, originalTitle string, priority int) (articleID int64, enqueued bool, err error) {
	articleID, err = p.store.AddArticle(url, originalTitle)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateURL) {
			existing, lookupErr := p.store.GetArticleByURL(url)
			if lookupErr != nil {
				return 0, false, lookupErr
			}
			logger.Debug("url already submitted", "url", url, "article_id", existing.ID)
			return existing.ID, false, nil
		}
		return 0, false, err
	}
	if _, err := p.store.Enqueue(articleID, priority); err != nil {
		return articleID, false, fmt.Errorf("failed to enqueue article %d: %w", articleID, err)
	}
	logger.Info("article submitted", "article_id", articleID, "url", url, "priority", priority)
	return articleID, true, nil
}

// Run processes queue items until the context is cancelled or the per-run
// article limit is reached. Stale claims are reset on startup and singleton
// re-clustering runs every few cycles.
func (p *Pipeline) Run(ctx context.Context) error {
	if reset, err := p.ResetStale(); err != nil {
		logger.Error("watchdog reset failed", err)
	} else if reset > 0 {
		logger.Warn("reset stale queue items", "count", reset)
	}

	if err := p.store.UpdateSystemStatus(0, true); err != nil {
		logger.Error("failed to mark pipeline running", err)
	}
	defer func() {
		if err := p.store.UpdateSystemStatus(0, false); err != nil {
			logger.Error("failed to mark pipeline stopped", err)
		}
	}()

	poll := secondsToDuration(p.cfg.Processor.PollIntervalSeconds, 5*time.Second)
	delay := secondsToDuration(p.cfg.Processor.PerArticleDelaySeconds, time.Second)
	sweepEvery := p.cfg.Processor.SweepEveryNCycles
	if sweepEvery <= 0 {
		sweepEvery = 25
	}
	maxPerRun := p.cfg.Processor.MaxArticlesPerRun

	processed := 0
	cycle := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if maxPerRun > 0 && processed >= maxPerRun {
			logger.Info("per-run article limit reached", "processed", processed)
			return nil
		}

		cycle++
		if cycle%sweepEvery == 0 {
			if _, err := p.ResetStale(); err != nil {
				logger.Error("watchdog reset failed", err)
			}
			if _, _, err := p.SweepSingletons(ctx); err != nil {
				logger.Error("singleton sweep failed", err)
			}
		}

		item, err := p.store.ClaimNextQueueItem()
		if err != nil {
			logger.Error("failed to claim queue item", err)
			if !sleepCtx(ctx, poll) {
				return ctx.Err()
			}
			continue
		}
		if item == nil {
			if !sleepCtx(ctx, poll) {
				return ctx.Err()
			}
			continue
		}

		p.ProcessItem(ctx, item)
		processed++

		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
	}
}

// ProcessItem runs one claimed queue item through extract, normalize, and
// cluster. Failures are recorded on the article and queue item; they never
// abort the loop.
func (p *Pipeline) ProcessItem(ctx context.Context, item *core.QueueItem) {
	article, err := p.store.GetArticle(item.ArticleID)
	if err != nil {
		logger.Error("failed to load claimed article", err, "article_id", item.ArticleID)
		p.failItem(item, item.ArticleID, fmt.Sprintf("article lookup failed: %v", err))
		return
	}

	processing := core.ArticleStatusProcessing
	if err := p.store.UpdateArticle(article.ID, store.ArticleUpdate{Status: &processing}); err != nil {
		logger.Error("failed to mark article processing", err, "article_id", article.ID)
	}

	result := p.extract(ctx, article.URL)
	if !result.Success {
		logger.Warn("extraction failed", "article_id", article.ID, "url", article.URL, "reason", result.Error)
		p.failItem(item, article.ID, result.Error)
		return
	}

	normCtx, cancel := context.WithTimeout(ctx, normalizeTimeout)
	title := p.normalizer.GenerateTitle(normCtx, result.Body, firstNonEmpty(result.Title, article.OriginalTitle))
	excerpt := p.normalizer.GenerateExcerpt(normCtx, result.Body, title)
	cancel()

	now := time.Now().UTC()
	completed := core.ArticleStatusCompleted
	upd := store.ArticleUpdate{
		Status:           &completed,
		GeneratedTitle:   &title,
		Excerpt:          &excerpt,
		Content:          &result.Body,
		SourceDomain:     &result.SourceDomain,
		ExtractionMethod: &result.Method,
		ProcessedAt:      &now,
	}
	if err := p.store.UpdateArticle(article.ID, upd); err != nil {
		logger.Error("failed to persist extracted article", err, "article_id", article.ID)
		p.failItem(item, article.ID, fmt.Sprintf("persist failed: %v", err))
		return
	}

	updated, err := p.store.GetArticle(article.ID)
	if err != nil {
		logger.Error("failed to reload article", err, "article_id", article.ID)
		updated = article
	}
	decision, err := p.clusterer.Cluster(ctx, article.ID, updated.CombinedText())
	if err != nil {
		// Clustering failure leaves the article a singleton; the periodic
		// sweep retries it.
		logger.Error("clustering failed", err, "article_id", article.ID)
	} else {
		logger.Info("article processed",
			"article_id", article.ID, "method", result.Method, "decision", string(decision.Kind))
	}

	if err := p.store.CompleteQueueItem(item.ID, true, ""); err != nil {
		logger.Error("failed to complete queue item", err, "queue_id", item.ID)
	}
	if err := p.store.UpdateSystemStatus(article.ID, true); err != nil {
		logger.Error("failed to update system status", err)
	}
}

func (p *Pipeline) extract(ctx context.Context, url string) core.ExtractionResult {
	p.sem <- struct{}{}
	defer func() { <-p.sem }()

	extractCtx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()
	return p.extractor.Extract(extractCtx, url)
}

func (p *Pipeline) failItem(item *core.QueueItem, articleID int64, reason string) {
	failed := core.ArticleStatusFailed
	if err := p.store.UpdateArticle(articleID, store.ArticleUpdate{Status: &failed}); err != nil {
		logger.Error("failed to mark article failed", err, "article_id", articleID)
	}
	if err := p.store.CompleteQueueItem(item.ID, false, reason); err != nil {
		logger.Error("failed to fail queue item", err, "queue_id", item.ID)
	}
}

// SweepSingletons re-evaluates recent unclustered articles against the
// current pool and returns how many joined or founded clusters.
func (p *Pipeline) SweepSingletons(ctx context.Context) (joined, founded int, err error) {
	limit := p.cfg.Processor.SingletonSweepLimit
	if limit <= 0 {
		limit = 300
	}
	window := time.Duration(p.cfg.Processor.SingletonSweepWindowHours) * time.Hour
	if window <= 0 {
		window = 72 * time.Hour
	}

	singletons, err := p.store.GetSingletonArticles(limit, window)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list singletons: %w", err)
	}

	for _, article := range singletons {
		if err := ctx.Err(); err != nil {
			return joined, founded, err
		}
		if article.Status != core.ArticleStatusCompleted {
			continue
		}
		decision, err := p.clusterer.Cluster(ctx, article.ID, article.CombinedText())
		if err != nil {
			logger.Warn("sweep clustering failed", "article_id", article.ID, "error", err.Error())
			continue
		}
		switch decision.Kind {
		case core.DecisionJoined:
			joined++
		case core.DecisionFounded:
			founded++
		}
	}
	if joined+founded > 0 {
		logger.Info("singleton sweep", "examined", len(singletons), "joined", joined, "founded", founded)
	}
	return joined, founded, nil
}

// ListClusters returns recent non-empty clusters, newest update first.
func (p *Pipeline) ListClusters(limit int) ([]core.Cluster, error) {
	return p.store.GetClusters(limit)
}

// ListSingletons returns completed articles with no cluster membership
// inside the sweep window.
func (p *Pipeline) ListSingletons(limit int) ([]core.Article, error) {
	window := time.Duration(p.cfg.Processor.SingletonSweepWindowHours) * time.Hour
	if window <= 0 {
		window = 72 * time.Hour
	}
	return p.store.GetSingletonArticles(limit, window)
}

// GetCluster returns one cluster with its member articles.
func (p *Pipeline) GetCluster(clusterID int64) (*core.Cluster, []core.Article, error) {
	cl, err := p.store.GetCluster(clusterID)
	if err != nil {
		return nil, nil, err
	}
	articles, err := p.store.GetClusterArticles(clusterID)
	if err != nil {
		return nil, nil, err
	}
	return cl, articles, nil
}

// GetArticle returns one article by id.
func (p *Pipeline) GetArticle(articleID int64) (*core.Article, error) {
	return p.store.GetArticle(articleID)
}

// ResetStale releases queue claims older than the watchdog interval back to
// queued so a crashed worker cannot strand them.
func (p *Pipeline) ResetStale() (int, error) {
	minutes := p.cfg.Processor.WatchdogMinutes
	if minutes <= 0 {
		minutes = 30
	}
	return p.store.ResetStaleQueueItems(time.Duration(minutes) * time.Minute)
}

func secondsToDuration(seconds float64, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
