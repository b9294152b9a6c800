package suggest

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return New(st), st
}

func putThread(t *testing.T, st *store.Store, th *types.Thread) *types.Thread {
	t.Helper()
	now := time.Now()
	if th.Status == "" {
		th.Status = types.ThreadActive
	}
	th.RelevanceScore = 1.0
	th.CreatedAt, th.LastActive, th.LastDecay = now, now, now
	if err := st.PutThread(th); err != nil {
		t.Fatal(err)
	}
	return th
}

func TestMergeCandidatesFindNearDuplicates(t *testing.T) {
	a, st := newTestAnalyzer(t)
	putThread(t, st, &types.Thread{ID: "thread_a", Title: "auth", Embedding: []float64{1, 0, 0}, Weight: 0.9})
	putThread(t, st, &types.Thread{ID: "thread_b", Title: "auth again", Embedding: []float64{0.99, 0.01, 0}, Weight: 0.5})
	putThread(t, st, &types.Thread{ID: "thread_c", Title: "unrelated", Embedding: []float64{0, 1, 0}, Weight: 0.5})

	r := a.Analyze()
	if len(r.Merges) != 1 {
		t.Fatalf("merges = %+v, want exactly one pair", r.Merges)
	}
	m := r.Merges[0]
	if m.SurvivorID != "thread_a" || m.AbsorbedID != "thread_b" {
		t.Errorf("pair = %s <- %s, heavier thread should survive", m.SurvivorID, m.AbsorbedID)
	}
	if m.Similarity < MergeSimilarity {
		t.Errorf("similarity %.3f below bar", m.Similarity)
	}
}

func TestMergeCandidatesSkipSplitLocked(t *testing.T) {
	a, st := newTestAnalyzer(t)
	locked := &types.Thread{ID: "thread_a", Title: "a", Embedding: []float64{1, 0, 0}, Weight: 0.9}
	locked.SplitLocked = true
	putThread(t, st, locked)
	putThread(t, st, &types.Thread{ID: "thread_b", Title: "b", Embedding: []float64{1, 0, 0}, Weight: 0.5})

	if r := a.Analyze(); len(r.Merges) != 0 {
		t.Errorf("split-locked thread proposed for merge: %+v", r.Merges)
	}
}

func TestSplitCandidatesNeedBothSizeAndSpread(t *testing.T) {
	a, st := newTestAnalyzer(t)

	sprawling := &types.Thread{ID: "thread_big", Title: "kitchen sink", Weight: 0.8}
	for i := 0; i < SplitMessageBar; i++ {
		sprawling.Messages = append(sprawling.Messages, types.Message{
			ID: fmt.Sprintf("msg_%d", i), Content: "x", Source: "tool", Timestamp: time.Now(),
		})
		if i < SplitTopicSpread {
			sprawling.Topics = append(sprawling.Topics, fmt.Sprintf("topic%d", i))
		}
	}
	putThread(t, st, sprawling)

	longButFocused := &types.Thread{ID: "thread_long", Title: "one topic", Weight: 0.8, Topics: []string{"auth"}}
	for i := 0; i < SplitMessageBar+5; i++ {
		longButFocused.Messages = append(longButFocused.Messages, types.Message{
			ID: fmt.Sprintf("msg_f%d", i), Content: "x", Source: "tool", Timestamp: time.Now(),
		})
	}
	putThread(t, st, longButFocused)

	r := a.Analyze()
	if len(r.Splits) != 1 || r.Splits[0].ThreadID != "thread_big" {
		t.Fatalf("splits = %+v, want only thread_big", r.Splits)
	}
	if r.Splits[0].Messages != SplitMessageBar || r.Splits[0].Topics != SplitTopicSpread {
		t.Errorf("counts = %+v", r.Splits[0])
	}
}

func TestRecallHintsTopThreeByWeight(t *testing.T) {
	a, st := newTestAnalyzer(t)
	for i, w := range []float64{0.2, 0.9, 0.5, 0.7} {
		putThread(t, st, &types.Thread{
			ID: fmt.Sprintf("thread_%d", i), Title: fmt.Sprintf("t%d", i),
			Status: types.ThreadSuspended, Weight: w,
		})
	}

	r := a.Analyze()
	if len(r.Recalls) != 3 {
		t.Fatalf("recalls = %d, want 3", len(r.Recalls))
	}
	for _, want := range []float64{0.9, 0.7, 0.5} {
		got := r.Recalls[0].Weight
		r.Recalls = r.Recalls[1:]
		if got != want {
			t.Errorf("recall weight = %.1f, want %.1f", got, want)
		}
	}
}

func TestHealthReportsThisProcess(t *testing.T) {
	a, st := newTestAnalyzer(t)
	putThread(t, st, &types.Thread{ID: "thread_a", Title: "a", Weight: 0.5})

	h := a.Analyze().Health
	if h.PID != os.Getpid() {
		t.Errorf("pid = %d, want %d", h.PID, os.Getpid())
	}
	if h.Stats.Active != 1 {
		t.Errorf("stats = %+v", h.Stats)
	}
	if h.Uptime == "" {
		t.Error("uptime empty")
	}
}
