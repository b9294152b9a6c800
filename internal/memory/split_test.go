package memory

import (
	"math"
	"testing"
	"time"

	"github.com/vthunder/plexus/internal/types"
)

func seedSplittable(t *testing.T, m *Manager) *types.Thread {
	t.Helper()
	base := time.Now()
	src := seedThread(t, m.store, "thread_src", "mixed work", types.ThreadActive, 0.8)
	src.Topics = []string{"auth", "caching"}
	src.Messages = []types.Message{
		{ID: "msg_1", Content: "the auth login flow", Source: "user", Timestamp: base},
		{ID: "msg_2", Content: "redis caching layer", Source: "tool", Timestamp: base.Add(time.Minute)},
		{ID: "msg_3", Content: "auth token refresh", Source: "tool", Timestamp: base.Add(2 * time.Minute)},
	}
	if err := m.store.PutThread(src); err != nil {
		t.Fatal(err)
	}
	return src
}

func TestListMessagesIsRepeatable(t *testing.T) {
	m, _ := newTestManager(t)
	seedSplittable(t, m)

	first, err := m.ListMessages("thread_src")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	second, err := m.ListMessages("thread_src")
	if err != nil {
		t.Fatalf("second ListMessages: %v", err)
	}
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("listing lengths %d/%d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Position != i {
			t.Errorf("listing not stable at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestSplitPartialLeavesResidue(t *testing.T) {
	m, st := newTestManager(t)
	seedSplittable(t, m)

	res, err := m.Split("thread_src",
		[]string{"auth thread"},
		[][]string{{"msg_1", "msg_3"}},
		"")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(res.NewIDs) != 1 || res.Archived {
		t.Fatalf("result = %+v", res)
	}

	child, err := st.GetThread(res.NewIDs[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(child.Messages) != 2 || child.Messages[0].ID != "msg_1" {
		t.Errorf("child messages = %+v", child.Messages)
	}
	if !child.SplitLocked || child.SplitLockedMode != types.LockUntilRelease {
		t.Errorf("child not split-locked: %+v", child)
	}
	if child.OriginType != types.OriginSplit {
		t.Errorf("origin = %s", child.OriginType)
	}
	if want := 0.8 * 0.8; math.Abs(child.Weight-want) > 1e-6 {
		t.Errorf("child weight = %.3f, want %.3f", child.Weight, want)
	}

	src, _ := st.GetThread("thread_src")
	if len(src.Messages) != 1 || src.Messages[0].ID != "msg_2" {
		t.Errorf("residue = %+v", src.Messages)
	}
	if b := st.FindBridge("thread_src", child.ID); b == nil || b.RelationType != types.RelChildOf {
		t.Errorf("missing hierarchy bridge: %+v", b)
	}
}

func TestSplitFullPartitionArchivesSource(t *testing.T) {
	m, st := newTestManager(t)
	seedSplittable(t, m)

	res, err := m.Split("thread_src",
		[]string{"auth thread", "caching thread"},
		[][]string{{"msg_1", "msg_3"}, {"msg_2"}},
		types.LockUntilCompaction)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !res.Archived || len(res.NewIDs) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if _, err := st.GetArchived("thread_src"); err != nil {
		t.Errorf("source not archived: %v", err)
	}
	for _, id := range res.NewIDs {
		child, err := st.GetThread(id)
		if err != nil {
			t.Fatal(err)
		}
		if child.SplitLockedMode != types.LockUntilCompaction {
			t.Errorf("lock mode = %s", child.SplitLockedMode)
		}
	}
}

func TestSplitRejectsUnknownMessage(t *testing.T) {
	m, _ := newTestManager(t)
	seedSplittable(t, m)

	_, err := m.Split("thread_src", []string{"x"}, [][]string{{"msg_nope"}}, "")
	if err == nil {
		t.Fatal("expected unknown-message error")
	}
	if types.KindOf(err) != types.KindNotFound {
		t.Errorf("kind = %s", types.KindOf(err))
	}
}

func TestSplitRejectsDoubleClaimedMessage(t *testing.T) {
	m, _ := newTestManager(t)
	seedSplittable(t, m)

	_, err := m.Split("thread_src",
		[]string{"a", "b"},
		[][]string{{"msg_1"}, {"msg_1"}},
		"")
	if err == nil {
		t.Fatal("expected double-claim error")
	}
	if types.KindOf(err) != types.KindInvalidState {
		t.Errorf("kind = %s", types.KindOf(err))
	}
}

func TestSplitRejectsTitleGroupMismatch(t *testing.T) {
	m, _ := newTestManager(t)
	seedSplittable(t, m)

	if _, err := m.Split("thread_src", []string{"only one"}, [][]string{{"msg_1"}, {"msg_2"}}, ""); err == nil {
		t.Fatal("expected title/group arity error")
	}
}

func TestSplitChildTopicsInheritFromContent(t *testing.T) {
	m, st := newTestManager(t)
	seedSplittable(t, m)

	res, err := m.Split("thread_src", []string{"caching"}, [][]string{{"msg_2"}}, "")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	child, _ := st.GetThread(res.NewIDs[0])
	for _, topic := range child.Topics {
		if topic == "auth" {
			t.Errorf("child inherited topic absent from its messages: %v", child.Topics)
		}
	}
}
