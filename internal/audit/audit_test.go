package audit

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"newsloom/internal/cluster"
	"newsloom/internal/core"
	"newsloom/internal/store"
)

// recordingStore passes through to a real store while capturing the
// evaluations the auditor persists.
type recordingStore struct {
	*store.Store
	evals []core.ClusterEvaluation
}

func (r *recordingStore) UpsertClusterEvaluation(eval core.ClusterEvaluation) error {
	r.evals = append(r.evals, eval)
	return r.Store.UpsertClusterEvaluation(eval)
}

func newAuditStore(t *testing.T) *recordingStore {
	t.Helper()
	st, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return &recordingStore{Store: st}
}

func addCompleted(t *testing.T, st *store.Store, url, title, text string) int64 {
	t.Helper()
	id, err := st.AddArticle(url, "")
	if err != nil {
		t.Fatalf("AddArticle(%s) failed: %v", url, err)
	}
	completed := core.ArticleStatusCompleted
	upd := store.ArticleUpdate{
		Status:         &completed,
		GeneratedTitle: &title,
		Excerpt:        &text,
	}
	if err := st.UpdateArticle(id, upd); err != nil {
		t.Fatalf("UpdateArticle(%d) failed: %v", id, err)
	}
	return id
}

func addCluster(t *testing.T, st *store.Store, title string, articleIDs ...int64) int64 {
	t.Helper()
	clusterID, err := st.CreateCluster(title, "")
	if err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}
	for _, id := range articleIDs {
		if err := st.AddToCluster(id, clusterID, 0.5); err != nil {
			t.Fatalf("AddToCluster(%d, %d) failed: %v", id, clusterID, err)
		}
	}
	return clusterID
}

func TestAuditLabelsAndProposal(t *testing.T) {
	rs := newAuditStore(t)

	// A coherent cluster: three reports of the same shooting.
	a1 := addCompleted(t, rs.Store, "https://alpha.example.com/1",
		"Michigan Church Shooting Leaves Four Dead",
		"A gunman opened fire during Sunday services at a church in Grand Rapids, Michigan, killing four worshippers before police arrested him.")
	a2 := addCompleted(t, rs.Store, "https://beta.example.com/1",
		"Four Dead in Michigan Church Shooting",
		"Police in Grand Rapids, Michigan said a gunman was arrested after a shooting at a Sunday church service left four people dead.")
	a3 := addCompleted(t, rs.Store, "https://gamma.example.com/1",
		"Gunman Attacks Michigan Church During Sunday Service",
		"A gunman attacked worshippers at a Grand Rapids, Michigan church on Sunday and police said four people were killed in the shooting.")
	coherent := addCluster(t, rs.Store, "Michigan Church Shooting", a1, a2, a3)

	// An incoherent cluster: two stories with nothing in common.
	b1 := addCompleted(t, rs.Store, "https://alpha.example.com/2",
		"Grape Harvest Begins",
		"Growers across rural vineyards celebrated a bountiful grape harvest under clear autumn skies, reporting exceptional yields.")
	b2 := addCompleted(t, rs.Store, "https://beta.example.com/2",
		"Semiconductor Export Controls Announced",
		"Regulators announced new export controls covering advanced semiconductor equipment, citing national security reviews.")
	incoherent := addCluster(t, rs.Store, "Mixed Stories", b1, b2)

	auditor := NewAuditor(rs, cluster.DefaultParams())
	report, err := auditor.Run(true)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.RunID == "" {
		t.Error("report has no run id")
	}
	if len(report.Evaluations) != 2 {
		t.Fatalf("evaluated %d clusters, want 2: %+v", len(report.Evaluations), report.Evaluations)
	}

	labels := map[int64]core.EvaluationLabel{}
	metrics := map[int64]Metrics{}
	for _, e := range report.Evaluations {
		labels[e.ClusterID] = e.Label
		metrics[e.ClusterID] = e.Metrics
	}
	if labels[coherent] != core.LabelCorrect {
		t.Errorf("coherent cluster labeled %s, metrics %+v", labels[coherent], metrics[coherent])
	}
	if labels[incoherent] != core.LabelSplitNeeded {
		t.Errorf("incoherent cluster labeled %s, metrics %+v", labels[incoherent], metrics[incoherent])
	}
	if m := metrics[coherent]; m.Size != 3 || m.TitleOverlapRate == 0 {
		t.Errorf("coherent metrics = %+v", m)
	}
	if m := metrics[incoherent]; m.CohesionMean >= 0.12 {
		t.Errorf("incoherent cohesion = %f, want near zero", m.CohesionMean)
	}

	// One evaluation persisted per cluster, metrics round-trip as JSON.
	if len(rs.evals) != 2 {
		t.Fatalf("persisted %d evaluations, want 2", len(rs.evals))
	}
	for _, e := range rs.evals {
		var m Metrics
		if err := json.Unmarshal([]byte(e.MetricsJSON), &m); err != nil {
			t.Errorf("metrics for cluster %d not valid JSON: %v", e.ClusterID, err)
		}
	}

	// One split and no merges loosens the breaking threshold by one step.
	if report.Proposed == nil {
		t.Fatal("expected a parameter proposal")
	}
	if got := report.Proposed.BreakingThreshold; math.Abs(got-0.24) > 1e-9 {
		t.Errorf("proposed breaking threshold = %f, want 0.24", got)
	}

	saved, err := rs.GetCurrentClusterParams()
	if err != nil {
		t.Fatalf("proposal was not saved: %v", err)
	}
	var savedParams cluster.Params
	if err := json.Unmarshal([]byte(saved), &savedParams); err != nil {
		t.Fatalf("saved params not valid JSON: %v", err)
	}
	if math.Abs(savedParams.BreakingThreshold-0.24) > 1e-9 {
		t.Errorf("saved breaking threshold = %f, want 0.24", savedParams.BreakingThreshold)
	}
}

func TestAuditEmptyStore(t *testing.T) {
	rs := newAuditStore(t)
	auditor := NewAuditor(rs, cluster.DefaultParams())

	report, err := auditor.Run(true)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Evaluations) != 0 || report.Proposed != nil {
		t.Errorf("empty store produced report %+v", report)
	}
	if _, err := rs.GetCurrentClusterParams(); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("empty run should not save params, got err=%v", err)
	}
}

func TestProposeParamsBalancedIsNoOp(t *testing.T) {
	rs := newAuditStore(t)
	auditor := NewAuditor(rs, cluster.DefaultParams())

	evals := []Evaluation{
		{ClusterID: 1, Label: core.LabelSplitNeeded},
		{ClusterID: 2, Label: core.LabelShouldMerge},
	}
	proposed, err := auditor.ProposeParams(evals)
	if err != nil {
		t.Fatalf("ProposeParams failed: %v", err)
	}
	if proposed != nil {
		t.Errorf("balanced labels should propose nothing, got %+v", proposed)
	}
	if _, err := rs.GetCurrentClusterParams(); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("no-op proposal should not save params, got err=%v", err)
	}
}

func TestProposeParamsTightensAndClamps(t *testing.T) {
	rs := newAuditStore(t)
	auditor := NewAuditor(rs, cluster.DefaultParams())

	// More merges than splits tightens the threshold.
	merges := []Evaluation{
		{ClusterID: 1, Label: core.LabelShouldMerge},
		{ClusterID: 2, Label: core.LabelShouldMerge},
		{ClusterID: 3, Label: core.LabelSplitNeeded},
	}
	proposed, err := auditor.ProposeParams(merges)
	if err != nil {
		t.Fatalf("ProposeParams failed: %v", err)
	}
	if proposed == nil || math.Abs(proposed.BreakingThreshold-0.20) > 1e-9 {
		t.Fatalf("proposed = %+v, want breaking threshold 0.20", proposed)
	}

	// Proposals start from the latest saved set and never leave the clamp
	// range.
	if err := rs.SaveClusterParams(`{"breaking_threshold":0.28}`); err != nil {
		t.Fatalf("SaveClusterParams failed: %v", err)
	}
	splits := []Evaluation{{ClusterID: 1, Label: core.LabelSplitNeeded}}
	proposed, err = auditor.ProposeParams(splits)
	if err != nil {
		t.Fatalf("ProposeParams failed: %v", err)
	}
	if proposed == nil || proposed.BreakingThreshold != 0.28 {
		t.Fatalf("proposed = %+v, want clamped at 0.28", proposed)
	}
}
