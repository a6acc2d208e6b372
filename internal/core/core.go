package core

import "time"

// ArticleStatus tracks an article through the processing pipeline.
type ArticleStatus string

const (
	ArticleStatusPending    ArticleStatus = "pending"
	ArticleStatusProcessing ArticleStatus = "processing"
	ArticleStatusCompleted  ArticleStatus = "completed"
	ArticleStatusFailed     ArticleStatus = "failed"
)

// QueueStatus tracks a processing-queue item.
type QueueStatus string

const (
	QueueStatusQueued     QueueStatus = "queued"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// Article represents a single document extracted from one URL.
type Article struct {
	ID               int64         `json:"id"`
	URL              string        `json:"url"`
	OriginalTitle    string        `json:"original_title"`
	GeneratedTitle   string        `json:"generated_title"`
	Excerpt          string        `json:"excerpt"`
	Content          string        `json:"content"`
	SourceDomain     string        `json:"source_domain"`
	ExtractionMethod string        `json:"extraction_method"`
	Status           ArticleStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	ProcessedAt      *time.Time    `json:"processed_at,omitempty"`
}

// CombinedText builds the text the clusterer scores: generated title,
// excerpt, and a preview of the extracted body.
func (a Article) CombinedText() string {
	preview := a.Content
	if len(preview) > 1500 {
		preview = preview[:1500]
	}
	return a.GeneratedTitle + " " + a.Excerpt + " " + preview
}

// Cluster is a named group of articles judged to describe the same story.
type Cluster struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	ArticleCount int       `json:"article_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Membership links an article to a cluster with the similarity computed at
// insertion time.
type Membership struct {
	ArticleID       int64     `json:"article_id"`
	ClusterID       int64     `json:"cluster_id"`
	SimilarityScore float64   `json:"similarity_score"`
	AddedAt         time.Time `json:"added_at"`
}

// QueueItem is one unit of work in the processing queue.
type QueueItem struct {
	ID           int64       `json:"id"`
	ArticleID    int64       `json:"article_id"`
	Priority     int         `json:"priority"`
	Status       QueueStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// SystemStatus is the singleton row tracking overall pipeline activity.
type SystemStatus struct {
	LastProcessedArticle int64     `json:"last_processed_article"`
	TotalArticles        int       `json:"total_articles"`
	TotalClusters        int       `json:"total_clusters"`
	LastActivity         time.Time `json:"last_activity"`
	IsRunning            bool      `json:"is_running"`
}

// EvaluationLabel classifies a cluster during an audit pass.
type EvaluationLabel string

const (
	LabelCorrect     EvaluationLabel = "correct"
	LabelMixed       EvaluationLabel = "mixed"
	LabelDuplicate   EvaluationLabel = "duplicate"
	LabelSplitNeeded EvaluationLabel = "split_needed"
	LabelShouldMerge EvaluationLabel = "should_merge"
)

// ClusterEvaluation is a per-cluster audit snapshot.
type ClusterEvaluation struct {
	ID          string          `json:"id"`
	ClusterID   int64           `json:"cluster_id"`
	MetricsJSON string          `json:"metrics_json"`
	Label       EvaluationLabel `json:"label"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Extraction method names recorded on articles and results.
const (
	MethodFast            = "fast"
	MethodRendered        = "rendered"
	MethodSummaryFallback = "summary_fallback"
)

// ExtractionResult is the outcome of extracting one URL. Failure is a value,
// not an error: the processor records it on the queue item and moves on.
type ExtractionResult struct {
	Success      bool   `json:"success"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	Description  string `json:"description"`
	Author       string `json:"author"`
	PublishDate  string `json:"publish_date"`
	SourceDomain string `json:"source_domain"`
	Method       string `json:"method"`
	Error        string `json:"error,omitempty"`
}

// DecisionKind tags a clustering decision.
type DecisionKind string

const (
	DecisionJoined    DecisionKind = "joined"
	DecisionFounded   DecisionKind = "founded"
	DecisionSingleton DecisionKind = "singleton"
)

// ClusterDecision is the tagged outcome of evaluating one article against
// its candidate pool.
type ClusterDecision struct {
	Kind       DecisionKind `json:"kind"`
	ClusterID  int64        `json:"cluster_id,omitempty"`
	Similarity float64      `json:"similarity,omitempty"`
	// PeerIDs holds the accepted cross-domain peers that corroborated a
	// founded cluster, parallel to PeerSims.
	PeerIDs  []int64   `json:"peer_ids,omitempty"`
	PeerSims []float64 `json:"peer_sims,omitempty"`
}
