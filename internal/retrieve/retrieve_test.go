package retrieve

import (
	"strings"
	"testing"
	"time"

	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

// fixedEmbedder returns the same vector for every query so tests control
// similarity purely through the thread embeddings.
type fixedEmbedder struct {
	vec []float64
}

func (f *fixedEmbedder) Embed(string) ([]float64, error) { return f.vec, nil }
func (f *fixedEmbedder) Dimensions() int                 { return len(f.vec) }
func (f *fixedEmbedder) Name() string                    { return "fixed" }

func newTestRanker(t *testing.T, queryVec []float64) (*Ranker, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return NewRanker(st, &fixedEmbedder{vec: queryVec}), st
}

func putThread(t *testing.T, st *store.Store, id, title string, status types.ThreadStatus, emb []float64, weight float64) *types.Thread {
	t.Helper()
	now := time.Now()
	th := &types.Thread{
		ID: id, Title: title, Status: status,
		Embedding: emb, Weight: weight, RelevanceScore: 1.0,
		CreatedAt: now, LastActive: now.Add(-2 * time.Hour), LastDecay: now,
	}
	if err := st.PutThread(th); err != nil {
		t.Fatal(err)
	}
	return th
}

func TestRankOrdersByPriority(t *testing.T) {
	r, st := newTestRanker(t, []float64{1, 0, 0})
	putThread(t, st, "thread_close", "close", types.ThreadActive, []float64{1, 0, 0}, 0.9)
	putThread(t, st, "thread_mid", "mid", types.ThreadActive, []float64{0.7071, 0.7071, 0}, 0.9)
	putThread(t, st, "thread_far", "far", types.ThreadActive, []float64{0, 1, 0}, 0.9)

	got := r.Rank("query", nil, false, 10, PriorityFloor)
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2 (orthogonal thread floored)", len(got))
	}
	if got[0].Thread.ID != "thread_close" || got[1].Thread.ID != "thread_mid" {
		t.Errorf("order = %s, %s", got[0].Thread.ID, got[1].Thread.ID)
	}
	if got[0].Priority <= got[1].Priority {
		t.Errorf("priorities not descending: %.3f <= %.3f", got[0].Priority, got[1].Priority)
	}
}

func TestRankHonorsLimitAndSuspendedFilter(t *testing.T) {
	r, st := newTestRanker(t, []float64{1, 0, 0})
	putThread(t, st, "thread_a", "a", types.ThreadActive, []float64{1, 0, 0}, 0.9)
	putThread(t, st, "thread_b", "b", types.ThreadActive, []float64{1, 0, 0}, 0.8)
	putThread(t, st, "thread_s", "s", types.ThreadSuspended, []float64{1, 0, 0}, 0.9)

	if got := r.Rank("query", nil, false, 1, 0); len(got) != 1 {
		t.Errorf("limit ignored: %d results", len(got))
	}
	for _, s := range r.Rank("query", nil, false, 10, 0) {
		if s.Thread.ID == "thread_s" {
			t.Error("suspended thread ranked without includeSuspended")
		}
	}
	found := false
	for _, s := range r.Rank("query", nil, true, 10, 0) {
		found = found || s.Thread.ID == "thread_s"
	}
	if !found {
		t.Error("includeSuspended did not surface the suspended thread")
	}
}

func TestFocusBoostWeightsAndClamp(t *testing.T) {
	th := &types.Thread{ID: "thread_x", Title: "Login flow rework", Topics: []string{"auth"}}

	cases := []struct {
		name  string
		focus []types.FocusEntry
		want  float64
	}{
		{"id match", []types.FocusEntry{{Topic: "thread_x", Weight: 0.4}}, 0.2},
		{"topic match", []types.FocusEntry{{Topic: "auth", Weight: 0.5}}, 0.15},
		{"title substring", []types.FocusEntry{{Topic: "login", Weight: 0.5}}, 0.1},
		{"no match", []types.FocusEntry{{Topic: "billing", Weight: 1.0}}, 0},
		{"clamped", []types.FocusEntry{
			{Topic: "thread_x", Weight: 1.0},
			{Topic: "auth", Weight: 1.0},
		}, MaxFocusBoost},
	}
	for _, tc := range cases {
		if got := FocusBoost(th, tc.focus); !almostEqual(got, tc.want) {
			t.Errorf("%s: boost = %.3f, want %.3f", tc.name, got, tc.want)
		}
	}
}

func almostEqual(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}

func TestRecallReactivatesStrongSuspendedHits(t *testing.T) {
	r, st := newTestRanker(t, []float64{1, 0, 0})
	// sim 0.7: above the reactivation bar
	putThread(t, st, "thread_wake", "dormant auth work", types.ThreadSuspended, []float64{1, 0, 0}, 0.3)
	// sim 0.35: ranked but left asleep
	putThread(t, st, "thread_stay", "faint echo", types.ThreadSuspended, []float64{0.5, 0.8660254, 0}, 0.9)

	block, matches, err := r.Recall("auth", true, 10)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}

	byID := map[string]RecallMatch{}
	for _, m := range matches {
		byID[m.ID] = m
	}
	if !byID["thread_wake"].Reactivated {
		t.Error("strong hit not reactivated")
	}
	if byID["thread_stay"].Reactivated {
		t.Error("weak hit reactivated below similarity bar")
	}

	woken, err := st.GetThread("thread_wake")
	if err != nil {
		t.Fatal(err)
	}
	if woken.Status != types.ThreadActive {
		t.Errorf("status = %s, want active", woken.Status)
	}
	if woken.Weight <= 0.3 {
		t.Errorf("reactivated thread not boosted: %.2f", woken.Weight)
	}
	asleep, _ := st.GetThread("thread_stay")
	if asleep.Status != types.ThreadSuspended {
		t.Errorf("weak hit woke up: %s", asleep.Status)
	}

	if !strings.Contains(block, "(reactivated)") {
		t.Error("recall block missing reactivation marker")
	}
	if !strings.Contains(block, "dormant auth work") {
		t.Error("recall block missing thread title")
	}
}

func TestRecallBudgetGatePrecedesReactivation(t *testing.T) {
	r, st := newTestRanker(t, []float64{1, 0, 0})
	// The first entry consumes nearly the whole block budget.
	putThread(t, st, "thread_huge", strings.Repeat("a", 7800), types.ThreadActive, []float64{1, 0, 0}, 0.9)
	putThread(t, st, "thread_cut", "over budget", types.ThreadSuspended, []float64{1, 0, 0}, 0.5)

	_, matches, err := r.Recall("query", true, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ID != "thread_huge" {
		t.Fatalf("matches = %+v, want only the thread that fit", matches)
	}

	// The hit dropped for budget must not have been woken.
	cut, errGet := st.GetThread("thread_cut")
	if errGet != nil {
		t.Fatal(errGet)
	}
	if cut.Status != types.ThreadSuspended || cut.Weight != 0.5 {
		t.Errorf("over-budget thread mutated: status %s, weight %.2f", cut.Status, cut.Weight)
	}
}

func TestRecallNoMatches(t *testing.T) {
	r, _ := newTestRanker(t, []float64{1, 0, 0})
	block, matches, err := r.Recall("anything", true, 5)
	if err != nil {
		t.Fatal(err)
	}
	if matches != nil {
		t.Errorf("matches = %v, want none", matches)
	}
	if !strings.Contains(block, "No memory threads match") {
		t.Errorf("block = %q", block)
	}
}

func TestRecallListsBridges(t *testing.T) {
	r, st := newTestRanker(t, []float64{1, 0, 0})
	putThread(t, st, "thread_hit", "the hit", types.ThreadActive, []float64{1, 0, 0}, 0.9)
	putThread(t, st, "thread_other", "the neighbor", types.ThreadActive, []float64{0, 1, 0}, 0.9)
	now := time.Now()
	if err := st.PutBridge(&types.ThinkBridge{
		ID: "bridge_1", SourceID: "thread_hit", TargetID: "thread_other",
		RelationType: types.RelExtends, Status: types.BridgeActive,
		Weight: 0.6, CreatedAt: now, LastDecay: now,
	}); err != nil {
		t.Fatal(err)
	}

	block, _, err := r.Recall("hit", true, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(block, "the neighbor") {
		t.Errorf("bridge neighbor missing from block:\n%s", block)
	}
}

func TestHumanizeDelta(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{49 * time.Hour, "2d ago"},
	}
	for _, tc := range cases {
		if got := HumanizeDelta(tc.d); got != tc.want {
			t.Errorf("HumanizeDelta(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
