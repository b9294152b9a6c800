package consolidate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vthunder/plexus/internal/classify"
	"github.com/vthunder/plexus/internal/embedding"
	"github.com/vthunder/plexus/internal/extract"
	"github.com/vthunder/plexus/internal/memory"
	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

type stubClient struct {
	reply string
	avail bool
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return s.reply, nil
}
func (s *stubClient) Available() bool { return s.avail }

func newTestConsolidator(t *testing.T, client *stubClient) (*Consolidator, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	mgr := memory.New(st, embedding.NewHashEmbedder(64), extract.New(nil), classify.New(nil))
	var c *Consolidator
	if client == nil {
		c = New(st, nil, mgr)
	} else {
		c = New(st, client, mgr)
	}
	return c, st
}

func putActive(t *testing.T, st *store.Store, id, title string, weight float64, pinned bool) *types.Thread {
	t.Helper()
	now := time.Now()
	th := &types.Thread{
		ID: id, Title: title, Status: types.ThreadActive,
		Weight: weight, RelevanceScore: 1.0,
		CreatedAt: now, LastActive: now, LastDecay: now,
	}
	if pinned {
		th.Tags = []string{"pinned"}
	}
	if err := st.PutThread(th); err != nil {
		t.Fatal(err)
	}
	return th
}

func TestCompactHeuristicWithoutModel(t *testing.T) {
	c, st := newTestConsolidator(t, nil)
	putActive(t, st, "thread_a", "auth rework", 0.9, false)
	putActive(t, st, "thread_b", "cache layer", 0.5, false)

	sy, report, err := c.Compact(context.Background(), StrategyNormal, 15, false)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if report.UsedModel {
		t.Error("heuristic path flagged as model synthesis")
	}
	if report.ThreadsCovered != 2 {
		t.Errorf("covered = %d", report.ThreadsCovered)
	}
	if !strings.Contains(sy.Summary, "auth rework") {
		t.Errorf("digest missing thread title: %q", sy.Summary)
	}
	got := st.LatestSynthesis()
	if got == nil || got.ID != sy.ID {
		t.Fatal("synthesis not persisted")
	}
	if got.Strategy != "heuristic" {
		t.Errorf("strategy = %q, degraded digest must stay marked heuristic", got.Strategy)
	}
}

func TestCompactUsesModelSynthesis(t *testing.T) {
	c, st := newTestConsolidator(t, &stubClient{
		avail: true,
		reply: `{"summary": "Auth rework mid-flight.", "decisions": ["use JWT"], "open_questions": ["rotate keys?"]}`,
	})
	putActive(t, st, "thread_a", "auth rework", 0.9, false)

	sy, report, err := c.Compact(context.Background(), StrategyNormal, 15, false)
	if err != nil {
		t.Fatal(err)
	}
	if !report.UsedModel {
		t.Error("model synthesis not used")
	}
	if sy.Summary != "Auth rework mid-flight." {
		t.Errorf("summary = %q", sy.Summary)
	}
	if len(sy.Decisions) != 1 || sy.Decisions[0] != "use JWT" {
		t.Errorf("decisions = %v", sy.Decisions)
	}
	if sy.Strategy != string(StrategyNormal) {
		t.Errorf("strategy = %q, want %q", sy.Strategy, StrategyNormal)
	}
}

func TestCompactAggressiveSuspendsBeyondHalfQuota(t *testing.T) {
	c, st := newTestConsolidator(t, nil)
	putActive(t, st, "thread_1", "keep one", 0.9, false)
	putActive(t, st, "thread_2", "keep two", 0.8, false)
	putActive(t, st, "thread_3", "pinned low", 0.2, true)
	putActive(t, st, "thread_4", "drop me", 0.1, false)

	// quota 4: aggressive keeps the top 2, suspends the rest except pinned
	_, report, err := c.Compact(context.Background(), StrategyAggressive, 4, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.SuspendedIDs) != 1 || report.SuspendedIDs[0] != "thread_4" {
		t.Fatalf("suspended = %v, want [thread_4]", report.SuspendedIDs)
	}
	dropped, _ := st.GetThread("thread_4")
	if dropped.Status != types.ThreadSuspended {
		t.Errorf("status = %s, want suspended", dropped.Status)
	}
	pinned, _ := st.GetThread("thread_3")
	if pinned.Status != types.ThreadActive {
		t.Error("pinned thread suspended by aggressive compaction")
	}
}

func TestCompactDryRunWritesNothing(t *testing.T) {
	c, st := newTestConsolidator(t, nil)
	putActive(t, st, "thread_1", "keep", 0.9, false)
	putActive(t, st, "thread_2", "drop", 0.1, false)

	_, report, err := c.Compact(context.Background(), StrategyAggressive, 2, true)
	if err != nil {
		t.Fatal(err)
	}
	if !report.DryRun || len(report.SuspendedIDs) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if st.LatestSynthesis() != nil {
		t.Error("dry run persisted a synthesis")
	}
	th, _ := st.GetThread("thread_2")
	if th.Status != types.ThreadActive {
		t.Error("dry run mutated thread status")
	}
}

func TestArchiveStaleRespectsHorizonAndPins(t *testing.T) {
	c, st := newTestConsolidator(t, nil)
	now := time.Now()
	tick := 5 * time.Minute
	horizon := time.Duration(StaleBeats) * tick

	mk := func(id string, age time.Duration, pinned bool) {
		th := &types.Thread{
			ID: id, Title: id, Status: types.ThreadSuspended,
			Weight: 0.05, RelevanceScore: 1.0,
			CreatedAt: now.Add(-2 * horizon), LastActive: now.Add(-age), LastDecay: now,
		}
		if pinned {
			th.Tags = []string{"pinned"}
		}
		if err := st.PutThread(th); err != nil {
			t.Fatal(err)
		}
	}
	mk("thread_stale", horizon+time.Hour, false)
	mk("thread_fresh", horizon/2, false)
	mk("thread_pinned", horizon+time.Hour, true)

	archived := c.ArchiveStale(context.Background(), now, tick)
	if len(archived) != 1 || archived[0] != "thread_stale" {
		t.Fatalf("archived = %v, want [thread_stale]", archived)
	}
	if _, err := st.GetArchived("thread_stale"); err != nil {
		t.Errorf("stale thread not in archive: %v", err)
	}
	if _, err := st.GetThread("thread_fresh"); err != nil {
		t.Error("fresh thread archived")
	}
	if _, err := st.GetThread("thread_pinned"); err != nil {
		t.Error("pinned thread archived")
	}

	sy := st.LatestSynthesis()
	if sy == nil || sy.Strategy != "archival" {
		t.Fatalf("archival synthesis missing: %+v", sy)
	}
	if !strings.Contains(sy.Summary, "Archived 1 dormant") {
		t.Errorf("summary = %q", sy.Summary)
	}
}

func TestArchiveStaleNoopWhenNothingStale(t *testing.T) {
	c, st := newTestConsolidator(t, nil)
	if got := c.ArchiveStale(context.Background(), time.Now(), 5*time.Minute); got != nil {
		t.Errorf("archived = %v, want none", got)
	}
	if st.LatestSynthesis() != nil {
		t.Error("noop pass persisted a synthesis")
	}
}
