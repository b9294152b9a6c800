package types

import (
	"math"
	"strings"
	"time"
)

// Tuning constants for the memory graph. Half-lives are in days; weights
// live in [0, 1] except pinned threads which may reach PinnedMaxWeight.
const (
	HalfLifeThreadDays = 1.5
	HalfLifeBridgeDays = 1.0

	SuspendThreshold     = 0.1  // thread weight below this -> SUSPENDED
	BridgeDeathThreshold = 0.05 // bridge weight below this -> deleted
	ChildDeathThreshold  = 0.01 // CHILD_OF bridges die later
	BridgeWeakThreshold  = 0.3  // bridge weight below this -> WEAK

	HebbianBoost    = 0.1 // weight increment on any use
	PinnedMaxWeight = 1.5

	MaxMessageChars = 5000
	MaxRatingsKept  = 10
	MaxUserRules    = 20
)

// ThreadStatus is the lifecycle state of a thread
type ThreadStatus string

const (
	ThreadActive    ThreadStatus = "active"
	ThreadSuspended ThreadStatus = "suspended"
	ThreadArchived  ThreadStatus = "archived"
)

// OriginType records how a thread came to exist. Immutable after creation.
type OriginType string

const (
	OriginPrompt       OriginType = "prompt"
	OriginFileRead     OriginType = "file_read"
	OriginTask         OriginType = "task"
	OriginFetch        OriginType = "fetch"
	OriginSplit        OriginType = "split"
	OriginReactivation OriginType = "reactivation"
)

// LockMode says what releases a split lock
type LockMode string

const (
	LockUntilCompaction LockMode = "compaction"
	LockUntilRelease    LockMode = "agent_release"
	LockForce           LockMode = "force"
)

// Message is one captured observation inside a thread. Content is capped
// at MaxMessageChars; messages are append-only per thread.
type Message struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Source    string         `json:"source"` // user, assistant, tool, agent_pin
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Rating is user feedback on whether a thread's injection helped
type Rating struct {
	Useful    bool      `json:"useful"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Thread is a topic-scoped stream of captured observations; the vertex of
// the memory graph.
type Thread struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Status          ThreadStatus `json:"status"`
	Messages        []Message    `json:"messages"`
	Summary         string       `json:"summary,omitempty"`
	Topics          []string     `json:"topics,omitempty"` // lowercase, deduped
	OriginType      OriginType   `json:"origin_type"`
	ParentID        string       `json:"parent_id,omitempty"`
	ChildIDs        []string     `json:"child_ids,omitempty"`
	Weight          float64      `json:"weight"`
	LastActive      time.Time    `json:"last_active"`
	CreatedAt       time.Time    `json:"created_at"`
	LastDecay       time.Time    `json:"last_decay,omitempty"` // decay watermark
	ActivationCount int          `json:"activation_count"`
	Embedding       []float64    `json:"embedding,omitempty"`
	Ratings         []Rating     `json:"ratings,omitempty"`
	RelevanceScore  float64      `json:"relevance_score"`
	SplitLocked     bool         `json:"split_locked,omitempty"`
	SplitLockedMode LockMode     `json:"split_locked_until,omitempty"`
	Tags            []string     `json:"tags,omitempty"`
}

// IsPinned reports whether the thread carries the pinned tag
func (t *Thread) IsPinned() bool {
	return t.HasTag("pinned")
}

// HasTag checks tag membership
func (t *Thread) HasTag(tag string) bool {
	for _, g := range t.Tags {
		if g == tag {
			return true
		}
	}
	return false
}

// AddTag appends a tag if missing
func (t *Thread) AddTag(tag string) {
	if !t.HasTag(tag) {
		t.Tags = append(t.Tags, tag)
	}
}

// HasTopic checks topic membership, case-insensitive
func (t *Thread) HasTopic(topic string) bool {
	topic = strings.ToLower(topic)
	for _, tp := range t.Topics {
		if strings.ToLower(tp) == topic {
			return true
		}
	}
	return false
}

// MaxWeight is 1.0, or PinnedMaxWeight for pinned threads
func (t *Thread) MaxWeight() float64 {
	if t.IsPinned() {
		return PinnedMaxWeight
	}
	return 1.0
}

// Boost raises the weight by delta, clamped to the thread's max, and moves
// the decay watermark so the boost is not immediately decayed away.
func (t *Thread) Boost(delta float64, now time.Time) {
	t.Weight = clamp(t.Weight+delta, 0, t.MaxWeight())
	t.LastDecay = now
}

// Touch records an activation
func (t *Thread) Touch(now time.Time) {
	t.LastActive = now
	t.ActivationCount++
}

// Decay applies exponential half-life decay for the time elapsed since the
// decay watermark (or last activity when never decayed). Zero or negative
// elapsed time is a no-op.
func (t *Thread) Decay(now time.Time) {
	t.DecayWith(now, HalfLifeThreadDays)
}

// DecayWith decays against a configured half-life. Non-positive values
// fall back to the default.
func (t *Thread) DecayWith(now time.Time, halfLifeDays float64) {
	if halfLifeDays <= 0 {
		halfLifeDays = HalfLifeThreadDays
	}
	base := t.LastDecay
	if base.IsZero() {
		base = t.LastActive
	}
	if base.IsZero() {
		base = t.CreatedAt
	}
	dt := now.Sub(base)
	if dt <= 0 {
		return
	}
	days := dt.Hours() / 24
	t.Weight = clamp(t.Weight*math.Pow(0.5, days/halfLifeDays), 0, t.MaxWeight())
	t.LastDecay = now
}

// ShouldSuspend reports whether decay has taken the thread below the
// suspension threshold. Pinned threads never auto-suspend.
func (t *Thread) ShouldSuspend() bool {
	return t.Status == ThreadActive && t.Weight < SuspendThreshold && !t.IsPinned()
}

// RecordRating appends a rating (keeping the most recent MaxRatingsKept)
// and refolds the relevance score: the useful-ratio of kept ratings, with
// a neutral 1.0 default when unrated.
func (t *Thread) RecordRating(r Rating) {
	t.Ratings = append(t.Ratings, r)
	if len(t.Ratings) > MaxRatingsKept {
		t.Ratings = t.Ratings[len(t.Ratings)-MaxRatingsKept:]
	}
	useful := 0
	for _, kept := range t.Ratings {
		if kept.Useful {
			useful++
		}
	}
	t.RelevanceScore = float64(useful) / float64(len(t.Ratings))
}

// BridgeRelation classifies the semantic link between two threads
type BridgeRelation string

const (
	RelExtends     BridgeRelation = "extends"
	RelDepends     BridgeRelation = "depends"
	RelContradicts BridgeRelation = "contradicts"
	RelReplaces    BridgeRelation = "replaces"
	RelChildOf     BridgeRelation = "child_of"
	RelSibling     BridgeRelation = "sibling"
)

// BridgeStatus is a derived view over bridge weight
type BridgeStatus string

const (
	BridgeActive  BridgeStatus = "active"
	BridgeWeak    BridgeStatus = "weak"
	BridgeInvalid BridgeStatus = "invalid"
)

// ThinkBridge is a weighted semantic edge between two threads. One record
// exists per undirected pair; source/target order is creation order.
type ThinkBridge struct {
	ID               string         `json:"id"`
	SourceID         string         `json:"source_id"`
	TargetID         string         `json:"target_id"`
	RelationType     BridgeRelation `json:"relation_type"`
	Reason           string         `json:"reason,omitempty"`
	SharedConcepts   []string       `json:"shared_concepts,omitempty"`
	Confidence       float64        `json:"confidence"`
	Status           BridgeStatus   `json:"status"`
	Weight           float64        `json:"weight"`
	UseCount         int            `json:"use_count"`
	LastUsed         time.Time      `json:"last_used,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	LastDecay        time.Time      `json:"last_decay,omitempty"`
	PropagatedFrom   string         `json:"propagated_from,omitempty"`
	PropagationDepth int            `json:"propagation_depth,omitempty"`
}

// Touches reports whether the bridge has the given thread as an endpoint
func (b *ThinkBridge) Touches(threadID string) bool {
	return b.SourceID == threadID || b.TargetID == threadID
}

// Other returns the endpoint opposite to threadID ("" when not an endpoint)
func (b *ThinkBridge) Other(threadID string) string {
	switch threadID {
	case b.SourceID:
		return b.TargetID
	case b.TargetID:
		return b.SourceID
	}
	return ""
}

// DeathThreshold is lower for parent-child bridges so hierarchy outlives
// ordinary semantic links.
func (b *ThinkBridge) DeathThreshold() float64 {
	if b.RelationType == RelChildOf {
		return ChildDeathThreshold
	}
	return BridgeDeathThreshold
}

// Dead reports whether decay has taken the bridge below its death threshold
func (b *ThinkBridge) Dead() bool {
	return b.Weight < b.DeathThreshold()
}

// MarkUsed records a traversal and applies the Hebbian boost
func (b *ThinkBridge) MarkUsed(now time.Time) {
	b.LastUsed = now
	b.UseCount++
	b.Weight = clamp(b.Weight+HebbianBoost, 0, 1)
	b.LastDecay = now
	b.refreshStatus()
}

// Decay applies exponential half-life decay since the decay watermark
// (falling back to last_used, then created_at).
func (b *ThinkBridge) Decay(now time.Time) {
	b.DecayWith(now, HalfLifeBridgeDays)
}

// DecayWith decays against a configured half-life. Non-positive values
// fall back to the default.
func (b *ThinkBridge) DecayWith(now time.Time, halfLifeDays float64) {
	if halfLifeDays <= 0 {
		halfLifeDays = HalfLifeBridgeDays
	}
	base := b.LastDecay
	if base.IsZero() {
		base = b.LastUsed
	}
	if base.IsZero() {
		base = b.CreatedAt
	}
	dt := now.Sub(base)
	if dt <= 0 {
		return
	}
	days := dt.Hours() / 24
	b.Weight = clamp(b.Weight*math.Pow(0.5, days/halfLifeDays), 0, 1)
	b.LastDecay = now
	b.refreshStatus()
}

func (b *ThinkBridge) refreshStatus() {
	if b.Status == BridgeInvalid {
		return
	}
	if b.Weight < BridgeWeakThreshold {
		b.Status = BridgeWeak
	} else {
		b.Status = BridgeActive
	}
}

// SynthesisThread is a one-line thread state inside a synthesis record
type SynthesisThread struct {
	ThreadID string `json:"thread_id"`
	Title    string `json:"title"`
	State    string `json:"state"`
}

// Synthesis is a compact state snapshot produced at high context pressure.
// Read-only after creation; injectable while fresh.
type Synthesis struct {
	ID            string            `json:"id"`
	GeneratedAt   time.Time         `json:"generated_at"`
	Summary       string            `json:"summary"`
	Threads       []SynthesisThread `json:"threads,omitempty"`
	Decisions     []string          `json:"decisions,omitempty"`
	OpenQuestions []string          `json:"open_questions,omitempty"`
	Strategy      string            `json:"strategy,omitempty"`
}

// UserRule is a persistent imperative distilled from a prompt
type UserRule struct {
	Text         string    `json:"text"`
	SourcePrompt string    `json:"source_prompt,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Heartbeat is the coarse internal clock, one record per project
type Heartbeat struct {
	Beat                int64     `json:"beat"`
	StartedAt           time.Time `json:"started_at"`
	LastBeatAt          time.Time `json:"last_beat_at"`
	LastInteractionAt   time.Time `json:"last_interaction_at,omitempty"`
	LastInteractionBeat int64     `json:"last_interaction_beat"`
	LastSessionID       string    `json:"last_session_id,omitempty"`
	LastThreadID        string    `json:"last_thread_id,omitempty"`
	LastThreadTitle     string    `json:"last_thread_title,omitempty"`
}

// SinceLastInteraction is the beat distance used in injection metadata
func (h *Heartbeat) SinceLastInteraction() int64 {
	return h.Beat - h.LastInteractionBeat
}

// FocusEntry boosts a topic or thread id during retrieval ranking
type FocusEntry struct {
	Topic  string    `json:"topic"`
	Weight float64   `json:"weight"`
	SetAt  time.Time `json:"set_at"`
}

// DecisionKind tags the classifier outcome
type DecisionKind string

const (
	DecideContinue   DecisionKind = "continue"
	DecideFork       DecisionKind = "fork"
	DecideReactivate DecisionKind = "reactivate"
	DecideNewThread  DecisionKind = "new_thread"
	DecideSkip       DecisionKind = "skip" // incoherent orphan, no capture
)

// Decision is the classifier verdict for one capture
type Decision struct {
	Kind     DecisionKind `json:"kind"`
	ThreadID string       `json:"thread_id,omitempty"`
	Score    float64      `json:"score"`
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 { return clamp(v, lo, hi) }
