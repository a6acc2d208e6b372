package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"newsloom/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrDuplicateURL is returned by AddArticle when the URL already exists.
	ErrDuplicateURL = errors.New("article URL already exists")
	// ErrNotFound is returned by getters when no row matches.
	ErrNotFound = errors.New("not found")
)

// Store is the sole owner of persistent state. Every mutation is a single
// transaction; the store never retries on behalf of callers.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the SQLite database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "newsloom.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the schema. Idempotent.
func (s *Store) initialize() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS articles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			original_title TEXT NOT NULL DEFAULT '',
			generated_title TEXT NOT NULL DEFAULT '',
			excerpt TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			source_domain TEXT NOT NULL DEFAULT '',
			extraction_method TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending','processing','completed','failed')),
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			processed_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS clusters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			article_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS article_clusters (
			article_id INTEGER NOT NULL REFERENCES articles(id),
			cluster_id INTEGER NOT NULL REFERENCES clusters(id),
			similarity_score REAL NOT NULL DEFAULT 0,
			added_at DATETIME NOT NULL,
			PRIMARY KEY (article_id, cluster_id)
		);`,
		`CREATE TABLE IF NOT EXISTS processing_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			article_id INTEGER NOT NULL REFERENCES articles(id),
			priority INTEGER NOT NULL DEFAULT 1,
			status TEXT NOT NULL DEFAULT 'queued'
				CHECK (status IN ('queued','processing','completed','failed')),
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME,
			error_message TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS system_status (
			status_id INTEGER PRIMARY KEY CHECK (status_id = 1),
			last_processed_article INTEGER NOT NULL DEFAULT 0,
			total_articles INTEGER NOT NULL DEFAULT 0,
			total_clusters INTEGER NOT NULL DEFAULT 0,
			last_activity DATETIME,
			is_running INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS cluster_evaluations (
			id TEXT PRIMARY KEY,
			cluster_id INTEGER NOT NULL REFERENCES clusters(id),
			metrics_json TEXT NOT NULL DEFAULT '{}',
			label TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cluster_feedback (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cluster_id INTEGER NOT NULL REFERENCES clusters(id),
			label TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cluster_params_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			params_json TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_articles_status ON articles(status);`,
		`CREATE INDEX IF NOT EXISTS idx_articles_created_at ON articles(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_queue_status ON processing_queue(status);`,
		`CREATE INDEX IF NOT EXISTS idx_article_clusters_cluster ON article_clusters(cluster_id);`,
	}

	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	// Seed the singleton status row.
	_, err := s.db.Exec(`INSERT OR IGNORE INTO system_status (status_id) VALUES (1)`)
	if err != nil {
		return fmt.Errorf("failed to seed system_status: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddArticle creates a pending article row. Returns ErrDuplicateURL when the
// URL is already known.
func (s *Store) AddArticle(url, originalTitle string) (int64, error) {
	if strings.TrimSpace(url) == "" {
		return 0, fmt.Errorf("url must not be empty")
	}
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO articles (url, original_title, status, created_at, updated_at)
		 VALUES (?, ?, 'pending', ?, ?)`,
		url, originalTitle, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrDuplicateURL
		}
		return 0, fmt.Errorf("failed to insert article: %w", err)
	}
	return res.LastInsertId()
}

// ArticleUpdate is a partial update; nil fields are left untouched.
type ArticleUpdate struct {
	Status           *core.ArticleStatus
	GeneratedTitle   *string
	Excerpt          *string
	Content          *string
	SourceDomain     *string
	ExtractionMethod *string
	ProcessedAt      *time.Time
}

// UpdateArticle applies a partial update and bumps updated_at.
func (s *Store) UpdateArticle(articleID int64, upd ArticleUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.GeneratedTitle != nil {
		sets = append(sets, "generated_title = ?")
		args = append(args, *upd.GeneratedTitle)
	}
	if upd.Excerpt != nil {
		sets = append(sets, "excerpt = ?")
		args = append(args, *upd.Excerpt)
	}
	if upd.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *upd.Content)
	}
	if upd.SourceDomain != nil {
		sets = append(sets, "source_domain = ?")
		args = append(args, *upd.SourceDomain)
	}
	if upd.ExtractionMethod != nil {
		sets = append(sets, "extraction_method = ?")
		args = append(args, *upd.ExtractionMethod)
	}
	if upd.ProcessedAt != nil {
		sets = append(sets, "processed_at = ?")
		args = append(args, upd.ProcessedAt.UTC())
	}

	args = append(args, articleID)
	query := "UPDATE articles SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update article %d: %w", articleID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Enqueue appends a queue item for the article.
func (s *Store) Enqueue(articleID int64, priority int) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO processing_queue (article_id, priority, status, created_at)
		 VALUES (?, ?, 'queued', ?)`,
		articleID, priority, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue article %d: %w", articleID, err)
	}
	return res.LastInsertId()
}

// ClaimNextQueueItem atomically claims the highest-priority oldest queued
// item, marking it processing. Returns nil when the queue is empty. The
// predicate on status inside the UPDATE guarantees at most one claimant per
// row even under concurrent callers.
func (s *Store) ClaimNextQueueItem() (*core.QueueItem, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	var item core.QueueItem
	err = tx.QueryRow(
		`SELECT id, article_id, priority, created_at FROM processing_queue
		 WHERE status = 'queued'
		 ORDER BY priority DESC, created_at ASC, id ASC
		 LIMIT 1`,
	).Scan(&item.ID, &item.ArticleID, &item.Priority, &item.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select queued item: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.Exec(
		`UPDATE processing_queue SET status = 'processing', started_at = ?
		 WHERE id = ? AND status = 'queued'`,
		now, item.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue item %d: %w", item.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race to another claimant; report empty for this poll.
		return nil, tx.Commit()
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	item.Status = core.QueueStatusProcessing
	item.StartedAt = &now
	return &item, nil
}

// GetQueueItem returns one queue item by id.
func (s *Store) GetQueueItem(queueID int64) (*core.QueueItem, error) {
	row := s.db.QueryRow(
		`SELECT id, article_id, priority, status, created_at, started_at, completed_at, error_message
		 FROM processing_queue WHERE id = ?`,
		queueID,
	)
	item, err := scanQueueItem(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to read queue item %d: %w", queueID, err)
	}
	return item, err
}

// CompleteQueueItem records the terminal transition for a queue item.
func (s *Store) CompleteQueueItem(queueID int64, success bool, errMsg string) error {
	status := core.QueueStatusCompleted
	if !success {
		status = core.QueueStatusFailed
	}
	res, err := s.db.Exec(
		`UPDATE processing_queue
		 SET status = ?, completed_at = ?, error_message = ?
		 WHERE id = ? AND status = 'processing'`,
		string(status), time.Now().UTC(), errMsg, queueID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete queue item %d: %w", queueID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue item %d is not in processing state", queueID)
	}
	return nil
}

// ResetStaleQueueItems requeues processing items whose claim is older than
// olderThan. Used by the crash-recovery watchdog.
func (s *Store) ResetStaleQueueItems(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.Exec(
		`UPDATE processing_queue
		 SET status = 'queued', started_at = NULL
		 WHERE status = 'processing' AND started_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale queue items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CreateCluster creates a new, empty cluster.
func (s *Store) CreateCluster(title, summary string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO clusters (title, summary, article_count, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?)`,
		title, summary, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create cluster: %w", err)
	}
	return res.LastInsertId()
}

// AddToCluster upserts membership and recomputes the cluster's article
// count in the same transaction. Idempotent on repeated identical calls.
func (s *Store) AddToCluster(articleID, clusterID int64, similarity float64) error {
	if similarity < 0 || similarity > 1 {
		return fmt.Errorf("similarity %f out of range [0,1]", similarity)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin membership transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.Exec(
		`INSERT INTO article_clusters (article_id, cluster_id, similarity_score, added_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(article_id, cluster_id) DO UPDATE SET similarity_score = excluded.similarity_score`,
		articleID, clusterID, similarity, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert membership: %w", err)
	}

	_, err = tx.Exec(
		`UPDATE clusters
		 SET article_count = (SELECT COUNT(*) FROM article_clusters WHERE cluster_id = ?),
		     updated_at = ?
		 WHERE id = ?`,
		clusterID, now, clusterID,
	)
	if err != nil {
		return fmt.Errorf("failed to recompute cluster count: %w", err)
	}

	return tx.Commit()
}

// GetArticle returns one article by id.
func (s *Store) GetArticle(articleID int64) (*core.Article, error) {
	row := s.db.QueryRow(articleSelect+` WHERE id = ?`, articleID)
	return scanArticle(row)
}

// GetArticleByURL returns one article by its unique URL.
func (s *Store) GetArticleByURL(url string) (*core.Article, error) {
	row := s.db.QueryRow(articleSelect+` WHERE url = ?`, url)
	return scanArticle(row)
}

// GetRecentArticles returns the newest articles, optionally including those
// still in processing. Only completed (and optionally processing) articles
// are candidates for clustering.
func (s *Store) GetRecentArticles(limit int, includeProcessing bool) ([]core.Article, error) {
	statuses := "'completed'"
	if includeProcessing {
		statuses = "'completed','processing'"
	}
	rows, err := s.db.Query(
		articleSelect+` WHERE status IN (`+statuses+`) ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// GetSingletonArticles returns completed articles with no cluster
// membership, newest first, restricted to the given window.
func (s *Store) GetSingletonArticles(limit int, window time.Duration) ([]core.Article, error) {
	cutoff := time.Now().UTC().Add(-window)
	rows, err := s.db.Query(
		articleSelect+`
		 WHERE status = 'completed'
		   AND created_at >= ?
		   AND id NOT IN (SELECT article_id FROM article_clusters)
		 ORDER BY created_at DESC LIMIT ?`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query singleton articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// GetArticleClusters returns the memberships for one article.
func (s *Store) GetArticleClusters(articleID int64) ([]core.Membership, error) {
	rows, err := s.db.Query(
		`SELECT article_id, cluster_id, similarity_score, added_at
		 FROM article_clusters WHERE article_id = ?`,
		articleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query article clusters: %w", err)
	}
	defer rows.Close()

	var memberships []core.Membership
	for rows.Next() {
		var m core.Membership
		if err := rows.Scan(&m.ArticleID, &m.ClusterID, &m.SimilarityScore, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// GetClusterArticles returns the member articles of a cluster.
func (s *Store) GetClusterArticles(clusterID int64) ([]core.Article, error) {
	rows, err := s.db.Query(
		articleSelect+`
		 WHERE id IN (SELECT article_id FROM article_clusters WHERE cluster_id = ?)
		 ORDER BY created_at ASC`,
		clusterID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cluster articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// GetCluster returns one cluster by id.
func (s *Store) GetCluster(clusterID int64) (*core.Cluster, error) {
	row := s.db.QueryRow(
		`SELECT id, title, summary, article_count, created_at, updated_at
		 FROM clusters WHERE id = ?`,
		clusterID,
	)
	var c core.Cluster
	err := row.Scan(&c.ID, &c.Title, &c.Summary, &c.ArticleCount, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan cluster: %w", err)
	}
	return &c, nil
}

// GetClusters returns non-empty clusters ordered by recency of update.
func (s *Store) GetClusters(limit int) ([]core.Cluster, error) {
	rows, err := s.db.Query(
		`SELECT id, title, summary, article_count, created_at, updated_at
		 FROM clusters WHERE article_count > 0
		 ORDER BY updated_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []core.Cluster
	for rows.Next() {
		var c core.Cluster
		if err := rows.Scan(&c.ID, &c.Title, &c.Summary, &c.ArticleCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

// UpsertClusterEvaluation writes an audit snapshot for a cluster.
func (s *Store) UpsertClusterEvaluation(eval core.ClusterEvaluation) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO cluster_evaluations (id, cluster_id, metrics_json, label, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		eval.ID, eval.ClusterID, eval.MetricsJSON, string(eval.Label), eval.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cluster evaluation: %w", err)
	}
	return nil
}

// InsertClusterFeedback records advisory feedback on a cluster.
func (s *Store) InsertClusterFeedback(clusterID int64, label core.EvaluationLabel, note string) error {
	_, err := s.db.Exec(
		`INSERT INTO cluster_feedback (cluster_id, label, note, created_at) VALUES (?, ?, ?, ?)`,
		clusterID, string(label), note, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cluster feedback: %w", err)
	}
	return nil
}

// SaveClusterParams appends a new clusterer parameter version.
func (s *Store) SaveClusterParams(paramsJSON string) error {
	_, err := s.db.Exec(
		`INSERT INTO cluster_params_history (params_json, created_at) VALUES (?, ?)`,
		paramsJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save cluster params: %w", err)
	}
	return nil
}

// GetCurrentClusterParams returns the most recent parameter version, or
// ErrNotFound when none has been saved.
func (s *Store) GetCurrentClusterParams() (string, error) {
	var paramsJSON string
	err := s.db.QueryRow(
		`SELECT params_json FROM cluster_params_history ORDER BY id DESC LIMIT 1`,
	).Scan(&paramsJSON)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cluster params: %w", err)
	}
	return paramsJSON, nil
}

// UpdateSystemStatus refreshes the singleton status row, recomputing the
// aggregate counters.
func (s *Store) UpdateSystemStatus(lastProcessed int64, isRunning bool) error {
	running := 0
	if isRunning {
		running = 1
	}
	_, err := s.db.Exec(
		`UPDATE system_status SET
			last_processed_article = CASE WHEN ? > 0 THEN ? ELSE last_processed_article END,
			total_articles = (SELECT COUNT(*) FROM articles),
			total_clusters = (SELECT COUNT(*) FROM clusters WHERE article_count > 0),
			last_activity = ?,
			is_running = ?
		 WHERE status_id = 1`,
		lastProcessed, lastProcessed, time.Now().UTC(), running,
	)
	if err != nil {
		return fmt.Errorf("failed to update system status: %w", err)
	}
	return nil
}

// GetSystemStatus returns the singleton status row.
func (s *Store) GetSystemStatus() (*core.SystemStatus, error) {
	var st core.SystemStatus
	var lastActivity sql.NullTime
	var running int
	err := s.db.QueryRow(
		`SELECT last_processed_article, total_articles, total_clusters, last_activity, is_running
		 FROM system_status WHERE status_id = 1`,
	).Scan(&st.LastProcessedArticle, &st.TotalArticles, &st.TotalClusters, &lastActivity, &running)
	if err != nil {
		return nil, fmt.Errorf("failed to read system status: %w", err)
	}
	if lastActivity.Valid {
		st.LastActivity = lastActivity.Time
	}
	st.IsRunning = running != 0
	return &st, nil
}

const articleSelect = `SELECT id, url, original_title, generated_title, excerpt, content,
	source_domain, extraction_method, status, created_at, updated_at, processed_at
	FROM articles`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*core.Article, error) {
	var a core.Article
	var status string
	var processedAt sql.NullTime
	err := row.Scan(&a.ID, &a.URL, &a.OriginalTitle, &a.GeneratedTitle, &a.Excerpt,
		&a.Content, &a.SourceDomain, &a.ExtractionMethod, &status,
		&a.CreatedAt, &a.UpdatedAt, &processedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan article: %w", err)
	}
	a.Status = core.ArticleStatus(status)
	if processedAt.Valid {
		t := processedAt.Time
		a.ProcessedAt = &t
	}
	return &a, nil
}

func scanArticles(rows *sql.Rows) ([]core.Article, error) {
	var articles []core.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}

func scanQueueItem(row rowScanner) (*core.QueueItem, error) {
	var item core.QueueItem
	var status string
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&item.ID, &item.ArticleID, &item.Priority, &status,
		&item.CreatedAt, &startedAt, &completedAt, &item.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	item.Status = core.QueueStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		item.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		item.CompletedAt = &t
	}
	return &item, nil
}
