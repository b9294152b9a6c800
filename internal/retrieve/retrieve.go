// Package retrieve ranks threads against a query and assembles the
// agent-facing recall output. Ranking combines embedding similarity, topic
// overlap, thread weight, rating feedback, and focus boosts.
package retrieve

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vthunder/plexus/internal/classify"
	"github.com/vthunder/plexus/internal/embedding"
	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

const (
	// DefaultLimit caps how many threads one query surfaces
	DefaultLimit = 5
	// PriorityFloor drops noise matches from injection
	PriorityFloor = 0.15
	// ReactivateSim is the similarity at which recall wakes a suspended
	// thread.
	ReactivateSim = 0.5
	// RecallBudgetChars caps the recall block
	RecallBudgetChars = 8000
	// MaxFocusBoost clamps the summed focus contribution
	MaxFocusBoost = 0.5
)

// Scored pairs a thread with its query similarity and final priority
type Scored struct {
	Thread   *types.Thread
	Score    float64 // raw similarity to the query
	Priority float64 // similarity x weight x relevance + focus boost
}

// Ranker scores threads against free-text queries
type Ranker struct {
	store    *store.Store
	embedder embedding.Embedder

	now func() time.Time
}

func NewRanker(st *store.Store, emb embedding.Embedder) *Ranker {
	return &Ranker{store: st, embedder: emb, now: time.Now}
}

// Rank scores candidate threads against the query and returns them in
// descending priority, capped at limit, floored at floor.
func (r *Ranker) Rank(query string, focus []types.FocusEntry, includeSuspended bool, limit int, floor float64) []Scored {
	if limit <= 0 {
		limit = DefaultLimit
	}
	emb, err := r.embedder.Embed(query)
	if err != nil {
		logging.Debug("retrieve", "query embedding failed: %v", err)
	}
	subjects := embedding.Tokenize(query)

	statuses := []types.ThreadStatus{types.ThreadActive}
	if includeSuspended {
		statuses = append(statuses, types.ThreadSuspended)
	}

	var scored []Scored
	for _, t := range r.store.ThreadsByStatus(statuses...) {
		sim := classify.Similarity(emb, subjects, t)
		priority := sim*t.Weight*t.RelevanceScore + FocusBoost(t, focus)
		if priority < floor {
			continue
		}
		scored = append(scored, Scored{Thread: t, Score: sim, Priority: priority})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Priority != scored[j].Priority {
			return scored[i].Priority > scored[j].Priority
		}
		return scored[i].Thread.ID < scored[j].Thread.ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// FocusBoost sums the focus entries' contributions for one thread: id
// match 0.5x, topic membership 0.3x, title substring 0.2x, the total
// clamped to MaxFocusBoost.
func FocusBoost(t *types.Thread, focus []types.FocusEntry) float64 {
	total := 0.0
	for _, f := range focus {
		switch {
		case f.Topic == t.ID:
			total += f.Weight * 0.5
		case t.HasTopic(f.Topic):
			total += f.Weight * 0.3
		case strings.Contains(strings.ToLower(t.Title), strings.ToLower(f.Topic)):
			total += f.Weight * 0.2
		}
	}
	return types.Clamp(total, 0, MaxFocusBoost)
}

// RecallMatch reports one recall hit across the RPC boundary
type RecallMatch struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Score       float64 `json:"score"`
	Reactivated bool    `json:"reactivated,omitempty"`
}

// Recall is the agent-facing search: rank threads (suspended included by
// default), reactivate dormant hits above the similarity bar, and format a
// Markdown block with related bridges, capped at the char budget.
func (r *Ranker) Recall(query string, includeSuspended bool, limit int) (string, []RecallMatch, error) {
	scored := r.Rank(query, nil, includeSuspended, limit, 0.05)
	if len(scored) == 0 {
		return fmt.Sprintf("No memory threads match %q.", query), nil, nil
	}

	now := r.now()
	var matches []RecallMatch
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Memory recall: %q\n\n", query)

	for _, s := range scored {
		t := s.Thread
		wake := t.Status == types.ThreadSuspended && s.Score > ReactivateSim

		// Budget gate first: a thread that will not appear in the block
		// must not be woken or reported.
		if sb.Len()+len(r.formatThread(t, s.Score, wake, now)) > RecallBudgetChars {
			break
		}

		match := RecallMatch{ID: t.ID, Title: t.Title, Score: s.Score}
		if wake {
			unlock := r.store.Lock(store.ThreadKey(t.ID))
			fresh, err := r.store.GetThread(t.ID)
			if err == nil {
				fresh.Status = types.ThreadActive
				fresh.Boost(types.HebbianBoost, now)
				fresh.Touch(now)
				if err := r.store.PutThread(fresh); err == nil {
					t = fresh
					match.Reactivated = true
				}
			}
			unlock()
		}
		matches = append(matches, match)
		sb.WriteString(r.formatThread(t, s.Score, match.Reactivated, now))
	}
	return sb.String(), matches, nil
}

func (r *Ranker) formatThread(t *types.Thread, score float64, reactivated bool, now time.Time) string {
	var sb strings.Builder
	marker := ""
	if reactivated {
		marker = " (reactivated)"
	}
	fmt.Fprintf(&sb, "### %s%s\n", t.Title, marker)
	fmt.Fprintf(&sb, "- id: %s | status: %s | weight: %.2f | score: %.2f\n", t.ID, t.Status, t.Weight, score)
	if len(t.Topics) > 0 {
		fmt.Fprintf(&sb, "- topics: %s\n", strings.Join(t.Topics, ", "))
	}
	if t.Summary != "" {
		fmt.Fprintf(&sb, "- %s\n", logging.Truncate(t.Summary, 160))
	}
	fmt.Fprintf(&sb, "- last active: %s\n", HumanizeDelta(now.Sub(t.LastActive)))

	bridges := r.store.BridgesFor(t.ID)
	sort.Slice(bridges, func(i, j int) bool { return bridges[i].Weight > bridges[j].Weight })
	if len(bridges) > 5 {
		bridges = bridges[:5]
	}
	for _, b := range bridges {
		other := b.Other(t.ID)
		title := other
		if ot, err := r.store.GetThread(other); err == nil {
			title = ot.Title
		}
		fmt.Fprintf(&sb, "  - %s -> %s (%.2f)\n", b.RelationType, logging.Truncate(title, 50), b.Weight)
	}
	sb.WriteString("\n")
	return sb.String()
}

// HumanizeDelta renders a duration the way a person would say it
func HumanizeDelta(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
