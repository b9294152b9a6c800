package types

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"
)

func TestThreadDecayHalfLife(t *testing.T) {
	now := time.Now()
	th := &Thread{
		ID:         "thread_1",
		Status:     ThreadActive,
		Weight:     1.0,
		LastActive: now.Add(-time.Duration(HalfLifeThreadDays * 24 * float64(time.Hour))),
		CreatedAt:  now.Add(-48 * time.Hour),
	}

	th.Decay(now)

	if math.Abs(th.Weight-0.5) > 1e-6 {
		t.Errorf("expected weight 0.5 after one half-life, got %f", th.Weight)
	}
}

func TestThreadDecaySevenDays(t *testing.T) {
	now := time.Now()
	th := &Thread{
		ID:         "thread_1",
		Status:     ThreadActive,
		Weight:     1.0,
		LastActive: now.Add(-7 * 24 * time.Hour),
	}

	th.Decay(now)

	want := math.Pow(0.5, 7/HalfLifeThreadDays)
	if math.Abs(th.Weight-want) > 1e-6 {
		t.Errorf("expected weight %f after 7 days, got %f", want, th.Weight)
	}
	if !th.ShouldSuspend() {
		t.Errorf("weight %f should be below suspend threshold %f", th.Weight, SuspendThreshold)
	}
}

func TestThreadDecayWithConfiguredHalfLife(t *testing.T) {
	now := time.Now()
	th := &Thread{
		ID:         "thread_1",
		Status:     ThreadActive,
		Weight:     1.0,
		LastActive: now.Add(-12 * time.Hour),
	}

	th.DecayWith(now, 0.5) // 12h half-life

	if math.Abs(th.Weight-0.5) > 1e-6 {
		t.Errorf("expected weight 0.5 after one configured half-life, got %f", th.Weight)
	}

	// Non-positive settings fall back to the default half-life.
	th2 := &Thread{ID: "thread_2", Status: ThreadActive, Weight: 1.0,
		LastActive: now.Add(-time.Duration(HalfLifeThreadDays * 24 * float64(time.Hour)))}
	th2.DecayWith(now, 0)
	if math.Abs(th2.Weight-0.5) > 1e-6 {
		t.Errorf("zero half-life did not fall back to default: %f", th2.Weight)
	}
}

func TestBridgeDecayWithConfiguredHalfLife(t *testing.T) {
	now := time.Now()
	b := &ThinkBridge{
		ID: "bridge_1", Status: BridgeActive, Weight: 1.0,
		LastUsed: now.Add(-6 * time.Hour),
	}

	b.DecayWith(now, 0.25) // 6h half-life

	if math.Abs(b.Weight-0.5) > 1e-6 {
		t.Errorf("expected weight 0.5 after one configured half-life, got %f", b.Weight)
	}
}

func TestThreadDecayZeroElapsed(t *testing.T) {
	now := time.Now()
	th := &Thread{ID: "thread_1", Status: ThreadActive, Weight: 0.7, LastActive: now}

	th.Decay(now)

	if th.Weight != 0.7 {
		t.Errorf("zero-elapsed decay changed weight: %f", th.Weight)
	}
}

func TestThreadDecayIncremental(t *testing.T) {
	// Two half-interval decays compose to one full-interval decay.
	start := time.Now()
	half := time.Duration(HalfLifeThreadDays * 24 * float64(time.Hour) / 2)

	a := &Thread{ID: "a", Status: ThreadActive, Weight: 1.0, LastActive: start}
	a.Decay(start.Add(half))
	a.Decay(start.Add(2 * half))

	b := &Thread{ID: "b", Status: ThreadActive, Weight: 1.0, LastActive: start}
	b.Decay(start.Add(2 * half))

	if math.Abs(a.Weight-b.Weight) > 1e-9 {
		t.Errorf("incremental decay diverged: %f vs %f", a.Weight, b.Weight)
	}
}

func TestThreadBoostClamp(t *testing.T) {
	now := time.Now()
	th := &Thread{ID: "thread_1", Status: ThreadActive, Weight: 0.95}

	th.Boost(HebbianBoost, now)
	if th.Weight != 1.0 {
		t.Errorf("expected clamp at 1.0, got %f", th.Weight)
	}

	th.Tags = []string{"pinned"}
	th.Weight = 1.45
	th.Boost(HebbianBoost, now)
	if th.Weight != PinnedMaxWeight {
		t.Errorf("expected pinned clamp at %f, got %f", PinnedMaxWeight, th.Weight)
	}
}

func TestPinnedNeverAutoSuspends(t *testing.T) {
	th := &Thread{ID: "thread_1", Status: ThreadActive, Weight: 0.01, Tags: []string{"pinned"}}
	if th.ShouldSuspend() {
		t.Error("pinned thread must not auto-suspend")
	}
}

func TestRecordRatingFoldsRelevance(t *testing.T) {
	th := &Thread{ID: "thread_1", RelevanceScore: 1.0}
	now := time.Now()

	th.RecordRating(Rating{Useful: true, Timestamp: now})
	th.RecordRating(Rating{Useful: false, Timestamp: now})
	th.RecordRating(Rating{Useful: true, Timestamp: now})
	th.RecordRating(Rating{Useful: true, Timestamp: now})

	if math.Abs(th.RelevanceScore-0.75) > 1e-9 {
		t.Errorf("expected relevance 0.75, got %f", th.RelevanceScore)
	}

	// Only the most recent MaxRatingsKept survive.
	for i := 0; i < MaxRatingsKept+5; i++ {
		th.RecordRating(Rating{Useful: false, Timestamp: now})
	}
	if len(th.Ratings) != MaxRatingsKept {
		t.Errorf("expected %d kept ratings, got %d", MaxRatingsKept, len(th.Ratings))
	}
	if th.RelevanceScore != 0 {
		t.Errorf("expected relevance 0 after all-negative window, got %f", th.RelevanceScore)
	}
}

func TestBridgeDecayAndDeath(t *testing.T) {
	now := time.Now()
	b := &ThinkBridge{
		ID:       "bridge_1",
		SourceID: "a", TargetID: "b",
		RelationType: RelExtends,
		Weight:       0.6,
		LastUsed:     now.Add(-5 * 24 * time.Hour),
		CreatedAt:    now.Add(-10 * 24 * time.Hour),
	}

	b.Decay(now)

	want := 0.6 * math.Pow(0.5, 5/HalfLifeBridgeDays)
	if math.Abs(b.Weight-want) > 1e-6 {
		t.Errorf("expected weight %f, got %f", want, b.Weight)
	}
	if !b.Dead() {
		t.Errorf("weight %f should be below death threshold", b.Weight)
	}
}

func TestChildBridgeSurvivesLonger(t *testing.T) {
	b := &ThinkBridge{RelationType: RelChildOf, Weight: 0.02}
	if b.Dead() {
		t.Error("child_of bridge at 0.02 should survive (threshold 0.01)")
	}
	b.RelationType = RelExtends
	if !b.Dead() {
		t.Error("extends bridge at 0.02 should be dead (threshold 0.05)")
	}
}

func TestBridgeMarkUsed(t *testing.T) {
	now := time.Now()
	b := &ThinkBridge{Weight: 0.25, Status: BridgeWeak}

	b.MarkUsed(now)

	if b.UseCount != 1 || !b.LastUsed.Equal(now) {
		t.Errorf("use not recorded: count=%d", b.UseCount)
	}
	if math.Abs(b.Weight-0.35) > 1e-9 {
		t.Errorf("expected weight 0.35, got %f", b.Weight)
	}
	if b.Status != BridgeActive {
		t.Errorf("expected status active above weak threshold, got %s", b.Status)
	}
}

func TestNewIDShape(t *testing.T) {
	id := NewThreadID()
	if !strings.HasPrefix(id, "thread_") {
		t.Errorf("unexpected id prefix: %s", id)
	}
	if id == NewThreadID() {
		t.Error("two generated ids collided")
	}
}

func TestHeartbeatSinceLast(t *testing.T) {
	h := &Heartbeat{Beat: 120, LastInteractionBeat: 100}
	if h.SinceLastInteraction() != 20 {
		t.Errorf("expected 20, got %d", h.SinceLastInteraction())
	}
}

func TestKindOf(t *testing.T) {
	err := E(KindNotFound, "thread %s not found", "x")
	if KindOf(err) != KindNotFound {
		t.Errorf("expected not_found, got %s", KindOf(err))
	}
	wrapped := fmt.Errorf("dispatch: %w", err)
	if KindOf(wrapped) != KindNotFound {
		t.Errorf("expected not_found through wrap, got %s", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindTransient {
		t.Errorf("plain errors default to transient")
	}
}
