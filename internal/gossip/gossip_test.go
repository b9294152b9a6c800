package gossip

import (
	"context"
	"testing"
	"time"

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

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return st
}

func putThread(t *testing.T, st *store.Store, id string, emb []float64, topics []string) *types.Thread {
	t.Helper()
	now := time.Now()
	th := &types.Thread{
		ID: id, Title: id, Status: types.ThreadActive,
		Topics: topics, Embedding: emb,
		Weight: 0.8, RelevanceScore: 1.0,
		CreatedAt: now, LastActive: now, LastDecay: now,
	}
	if err := st.PutThread(th); err != nil {
		t.Fatal(err)
	}
	return th
}

func putBridge(t *testing.T, st *store.Store, id, a, b string, weight float64) *types.ThinkBridge {
	t.Helper()
	now := time.Now()
	br := &types.ThinkBridge{
		ID: id, SourceID: a, TargetID: b,
		RelationType: types.RelExtends, Status: types.BridgeActive,
		Weight: weight, Confidence: weight,
		CreatedAt: now, LastDecay: now,
	}
	if err := st.PutBridge(br); err != nil {
		t.Fatal(err)
	}
	return br
}

func TestOnThreadModifiedCreatesBridgeAboveThreshold(t *testing.T) {
	st := openStore(t)
	p := New(st, nil)

	a := putThread(t, st, "thread_a", []float64{1, 0, 0}, []string{"auth"})
	putThread(t, st, "thread_b", []float64{1, 0.1, 0}, []string{"auth", "jwt"})
	putThread(t, st, "thread_far", []float64{0, 1, 0}, nil)

	p.OnThreadModified(context.Background(), a)

	b := st.FindBridge("thread_a", "thread_b")
	if b == nil {
		t.Fatal("expected bridge between similar threads")
	}
	if b.RelationType != types.RelExtends {
		t.Errorf("relation without model = %s, want extends fallback", b.RelationType)
	}
	if b.Weight < BridgeThreshold {
		t.Errorf("bridge weight %.2f below creation threshold", b.Weight)
	}
	if len(b.SharedConcepts) != 1 || b.SharedConcepts[0] != "auth" {
		t.Errorf("shared concepts = %v", b.SharedConcepts)
	}
	if st.FindBridge("thread_a", "thread_far") != nil {
		t.Error("dissimilar threads must not bridge")
	}
}

func TestOnThreadModifiedBoostsExistingBridge(t *testing.T) {
	st := openStore(t)
	p := New(st, nil)

	a := putThread(t, st, "thread_a", []float64{1, 0, 0}, nil)
	putThread(t, st, "thread_b", []float64{1, 0, 0}, nil)
	putBridge(t, st, "bridge_ab", "thread_a", "thread_b", 0.4)

	p.OnThreadModified(context.Background(), a)

	b, err := st.GetBridge("bridge_ab")
	if err != nil {
		t.Fatal(err)
	}
	if b.Weight <= 0.4 {
		t.Errorf("existing bridge not boosted: %.2f", b.Weight)
	}
	if b.UseCount != 1 {
		t.Errorf("use count = %d", b.UseCount)
	}
	if bridges := st.BridgesFor("thread_a"); len(bridges) != 1 {
		t.Errorf("duplicate bridge created: %d", len(bridges))
	}
}

func TestOnThreadModifiedUsesModelRelation(t *testing.T) {
	st := openStore(t)
	p := New(st, &stubClient{avail: true, reply: `{"relation": "contradicts", "reason": "opposite approaches"}`})

	a := putThread(t, st, "thread_a", []float64{1, 0, 0}, nil)
	putThread(t, st, "thread_b", []float64{1, 0, 0}, nil)

	p.OnThreadModified(context.Background(), a)

	b := st.FindBridge("thread_a", "thread_b")
	if b == nil || b.RelationType != types.RelContradicts {
		t.Errorf("model relation not applied: %+v", b)
	}
}

func TestGossipOneHopCreatesSiblingAtDepthOne(t *testing.T) {
	st := openStore(t)
	p := New(st, nil)

	// a -strong- b -any- c, with a similar to c but not yet bridged
	a := putThread(t, st, "thread_a", []float64{1, 0, 0}, nil)
	putThread(t, st, "thread_b", []float64{0.9, 0.1, 0}, nil)
	putThread(t, st, "thread_c", []float64{1, 0.05, 0}, nil)
	putBridge(t, st, "bridge_ab", "thread_a", "thread_b", 0.6)
	hop := putBridge(t, st, "bridge_bc", "thread_b", "thread_c", 0.5)

	p.gossipOneHop(a)

	b := st.FindBridge("thread_a", "thread_c")
	if b == nil {
		t.Fatal("one-hop gossip should bridge a to c")
	}
	if b.RelationType != types.RelSibling || b.PropagationDepth != 1 {
		t.Errorf("gossiped bridge = %+v", b)
	}
	if b.PropagatedFrom != hop.ID {
		t.Errorf("provenance = %q, want %q", b.PropagatedFrom, hop.ID)
	}
}

func TestGossipSkipsWeakBridges(t *testing.T) {
	st := openStore(t)
	p := New(st, nil)

	a := putThread(t, st, "thread_a", []float64{1, 0, 0}, nil)
	putThread(t, st, "thread_b", []float64{0.9, 0.1, 0}, nil)
	putThread(t, st, "thread_c", []float64{1, 0.05, 0}, nil)
	putBridge(t, st, "bridge_ab", "thread_a", "thread_b", 0.1) // below StrongBridge
	putBridge(t, st, "bridge_bc", "thread_b", "thread_c", 0.5)

	p.gossipOneHop(a)

	if st.FindBridge("thread_a", "thread_c") != nil {
		t.Error("weak bridges must not propagate")
	}
}

func TestDecayAllDeletesDeadAndOrphanedBridges(t *testing.T) {
	st := openStore(t)
	p := New(st, nil)
	now := time.Now()

	putThread(t, st, "thread_a", []float64{1, 0, 0}, nil)
	putThread(t, st, "thread_b", []float64{1, 0, 0}, nil)

	healthy := putBridge(t, st, "bridge_ok", "thread_a", "thread_b", 0.8)
	dying := putBridge(t, st, "bridge_dying", "thread_a", "thread_b", 0.06)
	dying.LastDecay = now.Add(-48 * time.Hour) // two half-lives -> 0.015
	if err := st.PutBridge(dying); err != nil {
		t.Fatal(err)
	}
	putBridge(t, st, "bridge_orphan", "thread_a", "thread_gone", 0.9)

	deleted := p.DecayAll(now, types.HalfLifeBridgeDays)
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	if _, err := st.GetBridge(healthy.ID); err != nil {
		t.Error("healthy bridge deleted")
	}
	if _, err := st.GetBridge("bridge_dying"); err == nil {
		t.Error("dead bridge survived")
	}
	if _, err := st.GetBridge("bridge_orphan"); err == nil {
		t.Error("orphaned bridge survived")
	}
}

func TestOnBridgeUsedBoosts(t *testing.T) {
	st := openStore(t)
	p := New(st, nil)
	putThread(t, st, "thread_a", []float64{1, 0, 0}, nil)
	putThread(t, st, "thread_b", []float64{1, 0, 0}, nil)
	putBridge(t, st, "bridge_ab", "thread_a", "thread_b", 0.5)

	if err := p.OnBridgeUsed("bridge_ab"); err != nil {
		t.Fatalf("OnBridgeUsed: %v", err)
	}
	b, _ := st.GetBridge("bridge_ab")
	if b.UseCount != 1 || b.Weight <= 0.5 {
		t.Errorf("bridge not boosted: %+v", b)
	}
}
