// Package consolidate produces synthesis snapshots at high context
// pressure and retires threads that have been dormant too long. Both paths
// work without a model: the heuristic digest is always available.
package consolidate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vthunder/plexus/internal/llm"
	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/memory"
	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

// StaleBeats is how many suspended beats a thread survives before the
// archival pass considers it dead weight (72 beats at a 5 minute tick).
const StaleBeats = 72

// Strategy tunes how aggressively compaction trims the working set
type Strategy string

const (
	StrategyGentle     Strategy = "gentle"
	StrategyNormal     Strategy = "normal"
	StrategyAggressive Strategy = "aggressive"
)

// Report summarizes what one compaction did (or would do, for dry runs)
type Report struct {
	SynthesisID     string   `json:"synthesis_id,omitempty"`
	Summary         string   `json:"summary"`
	ThreadsCovered  int      `json:"threads_covered"`
	SuspendedIDs    []string `json:"suspended_ids,omitempty"`
	DryRun          bool     `json:"dry_run,omitempty"`
	UsedModel       bool     `json:"used_model"`
	EstimatedTokens int      `json:"estimated_tokens,omitempty"`
}

// Consolidator builds syntheses and archives stale threads
type Consolidator struct {
	store   *store.Store
	client  llm.Client
	manager *memory.Manager

	now func() time.Time
}

func New(st *store.Store, client llm.Client, mgr *memory.Manager) *Consolidator {
	return &Consolidator{store: st, client: client, manager: mgr, now: time.Now}
}

// Compact builds a synthesis of the active working set and persists it.
// Aggressive additionally suspends bottom-weight actives beyond half the
// quota. DryRun reports without writing.
func (c *Consolidator) Compact(ctx context.Context, strategy Strategy, quota int, dryRun bool) (*types.Synthesis, *Report, error) {
	if strategy == "" {
		strategy = StrategyNormal
	}

	active := c.store.ThreadsByStatus(types.ThreadActive)
	sort.Slice(active, func(i, j int) bool { return active[i].Weight > active[j].Weight })

	sy := c.synthesize(ctx, active)
	report := &Report{
		Summary:        sy.Summary,
		ThreadsCovered: len(active),
		DryRun:         dryRun,
		UsedModel:      sy.Strategy != "heuristic",
	}
	// The record keeps the heuristic marker when the model was skipped;
	// only model syntheses carry the requested strategy.
	if report.UsedModel {
		sy.Strategy = string(strategy)
	}

	if strategy == StrategyAggressive && quota > 0 {
		keep := quota / 2
		for i := len(active) - 1; i >= keep && i >= 0; i-- {
			if active[i].IsPinned() {
				continue
			}
			report.SuspendedIDs = append(report.SuspendedIDs, active[i].ID)
		}
	}

	if dryRun {
		return sy, report, nil
	}

	if err := c.store.PutSynthesis(sy); err != nil {
		return nil, nil, err
	}
	report.SynthesisID = sy.ID
	for _, id := range report.SuspendedIDs {
		if err := c.manager.Suspend(id); err != nil {
			logging.Warn("consolidate", "suspend %s failed: %v", id, err)
		}
	}
	logging.Info("consolidate", "synthesis %s persisted (%d threads, strategy %s)",
		sy.ID, len(active), strategy)
	return sy, report, nil
}

// synthesize produces the snapshot, via the model when available
func (c *Consolidator) synthesize(ctx context.Context, active []*types.Thread) *types.Synthesis {
	now := c.now()
	sy := &types.Synthesis{
		ID:          types.NewID("synthesis"),
		GeneratedAt: now,
	}
	for _, t := range active {
		sy.Threads = append(sy.Threads, types.SynthesisThread{
			ThreadID: t.ID,
			Title:    t.Title,
			State:    logging.Truncate(t.Summary, 100),
		})
		if len(sy.Threads) == 15 {
			break
		}
	}

	digest := c.stateDigest(active)
	if c.client != nil && c.client.Available() {
		var out struct {
			Summary       string   `json:"summary"`
			Decisions     []string `json:"decisions"`
			OpenQuestions []string `json:"open_questions"`
		}
		if err := llm.CompleteJSON(ctx, c.client, synthesisPrompt(digest), &out); err == nil && out.Summary != "" {
			sy.Summary = out.Summary
			sy.Decisions = out.Decisions
			sy.OpenQuestions = out.OpenQuestions
			return sy
		} else if err != nil {
			logging.Debug("consolidate", "model synthesis failed, using digest: %v", err)
		}
	}

	sy.Summary = logging.Truncate(digest, 600)
	sy.Strategy = "heuristic"
	return sy
}

// stateDigest is the structured state summary fed to the model (and the
// fallback synthesis body).
func (c *Consolidator) stateDigest(active []*types.Thread) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Active work (%d threads):\n", len(active))
	for i, t := range active {
		if i == 15 {
			break
		}
		fmt.Fprintf(&sb, "- %s", t.Title)
		if t.Summary != "" {
			fmt.Fprintf(&sb, ": %s", logging.Truncate(t.Summary, 120))
		}
		if len(t.Topics) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(t.Topics, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func synthesisPrompt(digest string) string {
	var sb strings.Builder
	sb.WriteString(`The coding session is about to compact its context. Synthesize the working state so it can be reinjected later.

`)
	sb.WriteString(digest)
	sb.WriteString(`
Produce:
1. summary: 3-5 sentences covering what is in progress and where it stands
2. decisions: choices already made that must not be relitigated
3. open_questions: unresolved points the next session should pick up

Return your analysis as JSON:

{
  "summary": "...",
  "decisions": ["..."],
  "open_questions": ["..."]
}
`)
	return sb.String()
}

// ArchiveStale retires threads that have sat suspended past the stale
// horizon without recall. Each batch leaves a synthesis note behind so the
// content remains findable. Returns the ids archived.
func (c *Consolidator) ArchiveStale(ctx context.Context, now time.Time, tick time.Duration) []string {
	horizon := time.Duration(StaleBeats) * tick
	var stale []*types.Thread
	for _, t := range c.store.ThreadsByStatus(types.ThreadSuspended) {
		if t.IsPinned() {
			continue
		}
		if now.Sub(t.LastActive) > horizon {
			stale = append(stale, t)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	sy := &types.Synthesis{
		ID:          types.NewID("synthesis"),
		GeneratedAt: now,
		Strategy:    "archival",
	}
	var archived []string
	for _, t := range stale {
		if err := c.manager.Archive(t.ID); err != nil {
			logging.Warn("consolidate", "archive %s failed: %v", t.ID, err)
			continue
		}
		sy.Threads = append(sy.Threads, types.SynthesisThread{
			ThreadID: t.ID,
			Title:    t.Title,
			State:    "archived after prolonged dormancy",
		})
		archived = append(archived, t.ID)
	}
	if len(archived) == 0 {
		return nil
	}
	sy.Summary = fmt.Sprintf("Archived %d dormant threads: %s",
		len(archived), logging.Truncate(titleList(stale), 300))
	if err := c.store.PutSynthesis(sy); err != nil {
		logging.Warn("consolidate", "archival synthesis persist failed: %v", err)
	}
	logging.Info("consolidate", "archived %d stale threads", len(archived))
	return archived
}

func titleList(threads []*types.Thread) string {
	titles := make([]string, 0, len(threads))
	for _, t := range threads {
		titles = append(titles, t.Title)
	}
	return strings.Join(titles, "; ")
}
