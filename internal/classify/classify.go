package classify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vthunder/plexus/internal/embedding"
	"github.com/vthunder/plexus/internal/extract"
	"github.com/vthunder/plexus/internal/llm"
	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/types"
)

// Decision thresholds. The model only sees the ambiguous bands; embedding
// similarity decides the confident majority.
const (
	ContinueThreshold   = 0.35
	ReactivateThreshold = 0.50
	ForkCoherence       = 0.60
	OrphanCoherence     = 0.30
	ExactTopicBonus     = 0.15
	PendingTTL          = 10 * time.Minute
)

// PendingContext remembers the thread the previous capture landed on, so
// the next capture can be scored for topical coherence against it. Held in
// daemon memory only.
type PendingContext struct {
	ThreadID string
	Digest   string
	TS       time.Time
}

// Classifier routes each capture to a thread decision. A nil or
// unavailable client degrades every band to the numeric thresholds.
type Classifier struct {
	client llm.Client

	mu      sync.Mutex
	pending *PendingContext

	now func() time.Time
}

func New(client llm.Client) *Classifier {
	return &Classifier{client: client, now: time.Now}
}

// Similarity combines embedding cosine, subject/topic overlap, and an
// exact-match bonus into one score in [0,1].
func Similarity(emb []float64, subjects []string, t *types.Thread) float64 {
	s := 0.7*embedding.CosineSimilarity(emb, t.Embedding) +
		0.3*topicOverlap(subjects, t.Topics)
	if anyExactTopic(subjects, t.Topics) {
		s += ExactTopicBonus
	}
	return types.Clamp(s, 0, 1)
}

// topicOverlap = |A∩B| / max(|A|,1), case-insensitive
func topicOverlap(a, b []string) float64 {
	if len(a) == 0 {
		return 0
	}
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[strings.ToLower(t)] = true
	}
	hits := 0
	for _, t := range a {
		if set[strings.ToLower(t)] {
			hits++
		}
	}
	return float64(hits) / float64(len(a))
}

func anyExactTopic(a, b []string) bool {
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[strings.ToLower(t)] = true
	}
	for _, t := range a {
		if set[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

// Decide picks what to do with one capture. Bands, in order: best ACTIVE
// at or above 0.35 continues it; best SUSPENDED at or above 0.50
// reactivates, with a model tie-break between 0.35 and 0.50; a live
// pending context is scored for coherence to fork, orphan, or skip;
// otherwise the capture becomes a new thread.
func (c *Classifier) Decide(ctx context.Context, x extract.Extraction, content string, emb []float64, active, suspended []*types.Thread) types.Decision {
	bestActive, sa := best(emb, x.Subjects, active)
	if bestActive != nil && sa >= ContinueThreshold {
		return types.Decision{Kind: types.DecideContinue, ThreadID: bestActive.ID, Score: sa}
	}

	bestSusp, ss := best(emb, x.Subjects, suspended)
	if bestSusp != nil {
		if ss >= ReactivateThreshold {
			return types.Decision{Kind: types.DecideReactivate, ThreadID: bestSusp.ID, Score: ss}
		}
		if ss >= ContinueThreshold && c.confirmReactivate(ctx, bestSusp, content) {
			return types.Decision{Kind: types.DecideReactivate, ThreadID: bestSusp.ID, Score: ss}
		}
	}

	if p := c.Pending(); p != nil && c.llmUp() {
		coherence, err := c.scoreCoherence(ctx, p, content)
		if err == nil {
			switch {
			case coherence >= ForkCoherence:
				return types.Decision{Kind: types.DecideFork, ThreadID: p.ThreadID, Score: coherence}
			case coherence >= OrphanCoherence:
				return types.Decision{Kind: types.DecideNewThread, Score: coherence}
			default:
				return types.Decision{Kind: types.DecideSkip, Score: coherence}
			}
		}
		logging.Debug("classify", "coherence check failed, treating as new thread: %v", err)
	}

	return types.Decision{Kind: types.DecideNewThread, Score: sa}
}

func best(emb []float64, subjects []string, threads []*types.Thread) (*types.Thread, float64) {
	var top *types.Thread
	topScore := -1.0
	for _, t := range threads {
		if s := Similarity(emb, subjects, t); s > topScore {
			top, topScore = t, s
		}
	}
	if top == nil {
		return nil, 0
	}
	return top, topScore
}

// SetPending stashes the thread the latest capture touched
func (c *Classifier) SetPending(threadID, digest string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = &PendingContext{ThreadID: threadID, Digest: digest, TS: c.now()}
}

// Pending returns the live pending context, expiring it past the TTL
func (c *Classifier) Pending() *PendingContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	if c.now().Sub(c.pending.TS) > PendingTTL {
		c.pending = nil
		return nil
	}
	p := *c.pending
	return &p
}

// ClearPending drops the pending context, for tests and daemon shutdown
func (c *Classifier) ClearPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
}

func (c *Classifier) llmUp() bool {
	return c.client != nil && c.client.Available()
}

// confirmReactivate asks the model whether the incoming text really
// belongs to the dormant thread. Declines on any failure.
func (c *Classifier) confirmReactivate(ctx context.Context, t *types.Thread, content string) bool {
	if !c.llmUp() {
		return false
	}

	prompt := fmt.Sprintf(`A dormant work thread exists:

Title: %s
Topics: %s
Summary: %s

New input:
%s

Is the new input a continuation of that dormant thread?

Return your answer as JSON:

{"same_topic": true}
`, t.Title, strings.Join(t.Topics, ", "), logging.Truncate(t.Summary, 300), logging.Truncate(content, 800))

	var out struct {
		SameTopic bool `json:"same_topic"`
	}
	if err := llm.CompleteJSON(ctx, c.client, prompt, &out); err != nil {
		logging.Debug("classify", "reactivation tie-break failed: %v", err)
		return false
	}
	return out.SameTopic
}

// scoreCoherence rates the new content against the previous capture's
// digest in [0,1].
func (c *Classifier) scoreCoherence(ctx context.Context, p *PendingContext, content string) (float64, error) {
	prompt := fmt.Sprintf(`The previous capture in this session was:

%s

The new input is:

%s

Score how coherently the new input continues the previous capture, from 0.0
(unrelated) to 1.0 (same piece of work).

Return your answer as JSON:

{"coherence": 0.8}
`, logging.Truncate(p.Digest, 500), logging.Truncate(content, 800))

	var out struct {
		Coherence float64 `json:"coherence"`
	}
	if err := llm.CompleteJSON(ctx, c.client, prompt, &out); err != nil {
		return 0, err
	}
	return types.Clamp(out.Coherence, 0, 1), nil
}
