package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"newsloom/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddArticleRejectsDuplicateURL(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddArticle("https://example.com/story", "Original")
	if err != nil {
		t.Fatalf("AddArticle failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero article id")
	}

	_, err = s.AddArticle("https://example.com/story", "Other title")
	if !errors.Is(err, ErrDuplicateURL) {
		t.Fatalf("expected ErrDuplicateURL, got %v", err)
	}

	if _, err := s.AddArticle("  ", ""); err == nil {
		t.Fatal("expected error for empty URL")
	}

	article, err := s.GetArticleByURL("https://example.com/story")
	if err != nil {
		t.Fatalf("GetArticleByURL failed: %v", err)
	}
	if article.ID != id || article.Status != core.ArticleStatusPending {
		t.Fatalf("unexpected article: %+v", article)
	}
}

func TestUpdateArticlePartial(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddArticle("https://example.com/a", "Original")
	if err != nil {
		t.Fatalf("AddArticle failed: %v", err)
	}

	completed := core.ArticleStatusCompleted
	title := "Generated Title"
	now := time.Now().UTC()
	err = s.UpdateArticle(id, ArticleUpdate{
		Status:         &completed,
		GeneratedTitle: &title,
		ProcessedAt:    &now,
	})
	if err != nil {
		t.Fatalf("UpdateArticle failed: %v", err)
	}

	article, err := s.GetArticle(id)
	if err != nil {
		t.Fatalf("GetArticle failed: %v", err)
	}
	if article.Status != core.ArticleStatusCompleted {
		t.Errorf("status = %s, want completed", article.Status)
	}
	if article.GeneratedTitle != title {
		t.Errorf("generated title = %q, want %q", article.GeneratedTitle, title)
	}
	if article.OriginalTitle != "Original" {
		t.Errorf("original title should be untouched, got %q", article.OriginalTitle)
	}
	if article.ProcessedAt == nil {
		t.Error("processed_at should be set")
	}

	if err := s.UpdateArticle(9999, ArticleUpdate{Status: &completed}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing article, got %v", err)
	}
}

func TestQueueClaimOrderAndLifecycle(t *testing.T) {
	s := newTestStore(t)

	lowID, _ := s.AddArticle("https://example.com/low", "")
	highID, _ := s.AddArticle("https://example.com/high", "")

	if _, err := s.Enqueue(lowID, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	highQueueID, err := s.Enqueue(highID, 5)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Higher priority wins even though it was enqueued later.
	item, err := s.ClaimNextQueueItem()
	if err != nil {
		t.Fatalf("ClaimNextQueueItem failed: %v", err)
	}
	if item == nil || item.ID != highQueueID {
		t.Fatalf("expected high-priority item %d first, got %+v", highQueueID, item)
	}
	if item.Status != core.QueueStatusProcessing || item.StartedAt == nil {
		t.Fatalf("claimed item should be processing with started_at, got %+v", item)
	}

	if err := s.CompleteQueueItem(item.ID, true, ""); err != nil {
		t.Fatalf("CompleteQueueItem failed: %v", err)
	}
	// Terminal transition is one-shot.
	if err := s.CompleteQueueItem(item.ID, true, ""); err == nil {
		t.Fatal("completing an already-completed item should fail")
	}

	stored, err := s.GetQueueItem(item.ID)
	if err != nil {
		t.Fatalf("GetQueueItem failed: %v", err)
	}
	if stored.Status != core.QueueStatusCompleted || stored.CompletedAt == nil {
		t.Fatalf("unexpected completed item: %+v", stored)
	}

	item, err = s.ClaimNextQueueItem()
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if item == nil || item.ArticleID != lowID {
		t.Fatalf("expected low-priority item, got %+v", item)
	}
	if err := s.CompleteQueueItem(item.ID, false, "fetch failed"); err != nil {
		t.Fatalf("CompleteQueueItem(failed) failed: %v", err)
	}
	stored, _ = s.GetQueueItem(item.ID)
	if stored.Status != core.QueueStatusFailed || stored.ErrorMessage != "fetch failed" {
		t.Fatalf("unexpected failed item: %+v", stored)
	}

	// Queue drained.
	item, err = s.ClaimNextQueueItem()
	if err != nil {
		t.Fatalf("claim on empty queue failed: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil on empty queue, got %+v", item)
	}
}

func TestClaimIsExactlyOnceUnderConcurrency(t *testing.T) {
	s := newTestStore(t)

	const n = 10
	for i := 0; i < n; i++ {
		id, _ := s.AddArticle(fmt.Sprintf("https://example.com/%d", i), "")
		if _, err := s.Enqueue(id, 0); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	var mu sync.Mutex
	claimed := make(map[int64]int)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := s.ClaimNextQueueItem()
				if err != nil {
					// Contention; try again.
					time.Sleep(time.Millisecond)
					continue
				}
				if item == nil {
					return
				}
				mu.Lock()
				claimed[item.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != n {
		t.Fatalf("claimed %d distinct items, want %d", len(claimed), n)
	}
	for id, count := range claimed {
		if count != 1 {
			t.Errorf("queue item %d claimed %d times", id, count)
		}
	}
}

func TestResetStaleQueueItems(t *testing.T) {
	s := newTestStore(t)

	id, _ := s.AddArticle("https://example.com/stale", "")
	if _, err := s.Enqueue(id, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	item, err := s.ClaimNextQueueItem()
	if err != nil || item == nil {
		t.Fatalf("claim failed: %v %+v", err, item)
	}

	// A fresh claim is not stale.
	n, err := s.ResetStaleQueueItems(time.Hour)
	if err != nil {
		t.Fatalf("ResetStaleQueueItems failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("reset %d items, want 0", n)
	}

	time.Sleep(20 * time.Millisecond)
	n, err = s.ResetStaleQueueItems(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("ResetStaleQueueItems failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("reset %d items, want 1", n)
	}

	// The item is claimable again.
	again, err := s.ClaimNextQueueItem()
	if err != nil || again == nil || again.ID != item.ID {
		t.Fatalf("expected to re-claim item %d, got %+v (%v)", item.ID, again, err)
	}
}

func TestAddToClusterIdempotentAndCounts(t *testing.T) {
	s := newTestStore(t)

	a1, _ := s.AddArticle("https://one.example.com/x", "")
	a2, _ := s.AddArticle("https://two.example.com/y", "")

	clusterID, err := s.CreateCluster("Test Story", "Summary.")
	if err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}

	if err := s.AddToCluster(a1, clusterID, 0.5); err != nil {
		t.Fatalf("AddToCluster failed: %v", err)
	}
	if err := s.AddToCluster(a2, clusterID, 0.4); err != nil {
		t.Fatalf("AddToCluster failed: %v", err)
	}
	// Repeated insertion updates the score without inflating the count.
	if err := s.AddToCluster(a1, clusterID, 0.7); err != nil {
		t.Fatalf("repeated AddToCluster failed: %v", err)
	}

	cl, err := s.GetCluster(clusterID)
	if err != nil {
		t.Fatalf("GetCluster failed: %v", err)
	}
	if cl.ArticleCount != 2 {
		t.Errorf("article_count = %d, want 2", cl.ArticleCount)
	}

	memberships, err := s.GetArticleClusters(a1)
	if err != nil {
		t.Fatalf("GetArticleClusters failed: %v", err)
	}
	if len(memberships) != 1 || memberships[0].SimilarityScore != 0.7 {
		t.Fatalf("unexpected memberships: %+v", memberships)
	}

	if err := s.AddToCluster(a1, clusterID, 1.5); err == nil {
		t.Error("similarity above 1 should be rejected")
	}
}

func TestGetSingletonArticles(t *testing.T) {
	s := newTestStore(t)

	completed := core.ArticleStatusCompleted

	clustered, _ := s.AddArticle("https://a.example.com/1", "")
	lone, _ := s.AddArticle("https://b.example.com/2", "")
	pending, _ := s.AddArticle("https://c.example.com/3", "")

	if err := s.UpdateArticle(clustered, ArticleUpdate{Status: &completed}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateArticle(lone, ArticleUpdate{Status: &completed}); err != nil {
		t.Fatal(err)
	}
	_ = pending // stays pending, must not appear

	clusterID, _ := s.CreateCluster("Story", "")
	if err := s.AddToCluster(clustered, clusterID, 0.5); err != nil {
		t.Fatal(err)
	}

	singletons, err := s.GetSingletonArticles(10, time.Hour)
	if err != nil {
		t.Fatalf("GetSingletonArticles failed: %v", err)
	}
	if len(singletons) != 1 || singletons[0].ID != lone {
		t.Fatalf("expected only article %d, got %+v", lone, singletons)
	}
}

func TestClusterParamsHistory(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetCurrentClusterParams(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any save, got %v", err)
	}

	if err := s.SaveClusterParams(`{"breaking_threshold":0.22}`); err != nil {
		t.Fatalf("SaveClusterParams failed: %v", err)
	}
	if err := s.SaveClusterParams(`{"breaking_threshold":0.24}`); err != nil {
		t.Fatalf("SaveClusterParams failed: %v", err)
	}

	current, err := s.GetCurrentClusterParams()
	if err != nil {
		t.Fatalf("GetCurrentClusterParams failed: %v", err)
	}
	if current != `{"breaking_threshold":0.24}` {
		t.Errorf("current params = %s, want the latest version", current)
	}
}

func TestSystemStatusCounters(t *testing.T) {
	s := newTestStore(t)

	completed := core.ArticleStatusCompleted
	a1, _ := s.AddArticle("https://a.example.com/1", "")
	a2, _ := s.AddArticle("https://b.example.com/2", "")
	_ = s.UpdateArticle(a1, ArticleUpdate{Status: &completed})
	_ = s.UpdateArticle(a2, ArticleUpdate{Status: &completed})

	clusterID, _ := s.CreateCluster("Story", "")
	_ = s.AddToCluster(a1, clusterID, 0.3)
	emptyID, _ := s.CreateCluster("Empty", "")
	_ = emptyID // empty clusters are not counted

	if err := s.UpdateSystemStatus(a2, true); err != nil {
		t.Fatalf("UpdateSystemStatus failed: %v", err)
	}

	status, err := s.GetSystemStatus()
	if err != nil {
		t.Fatalf("GetSystemStatus failed: %v", err)
	}
	if status.TotalArticles != 2 {
		t.Errorf("total_articles = %d, want 2", status.TotalArticles)
	}
	if status.TotalClusters != 1 {
		t.Errorf("total_clusters = %d, want 1", status.TotalClusters)
	}
	if status.LastProcessedArticle != a2 {
		t.Errorf("last_processed_article = %d, want %d", status.LastProcessedArticle, a2)
	}
	if !status.IsRunning {
		t.Error("expected is_running true")
	}

	// Zero last-processed keeps the previous value.
	if err := s.UpdateSystemStatus(0, false); err != nil {
		t.Fatal(err)
	}
	status, _ = s.GetSystemStatus()
	if status.LastProcessedArticle != a2 {
		t.Errorf("last_processed_article changed to %d on zero update", status.LastProcessedArticle)
	}
	if status.IsRunning {
		t.Error("expected is_running false")
	}
}
