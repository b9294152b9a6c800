// Package suggest analyzes the graph and proposes maintenance the agent
// can act on: near-duplicate threads worth merging, sprawling threads
// worth splitting, dormant threads worth recalling, plus a process health
// snapshot.
package suggest

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/vthunder/plexus/internal/embedding"
	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

// Thresholds for the structural suggestions
const (
	MergeSimilarity  = 0.85
	SplitMessageBar  = 20
	SplitTopicSpread = 6
)

// MergeCandidate is a near-duplicate pair
type MergeCandidate struct {
	SurvivorID string  `json:"survivor_id"`
	AbsorbedID string  `json:"absorbed_id"`
	Similarity float64 `json:"similarity"`
	Reason     string  `json:"reason"`
}

// SplitCandidate is a thread that has grown past one topic
type SplitCandidate struct {
	ThreadID string `json:"thread_id"`
	Messages int    `json:"messages"`
	Topics   int    `json:"topics"`
	Reason   string `json:"reason"`
}

// RecallHint points at dormant work that still carries weight
type RecallHint struct {
	ThreadID string  `json:"thread_id"`
	Title    string  `json:"title"`
	Weight   float64 `json:"weight"`
}

// Health is the process and store health snapshot
type Health struct {
	Stats      store.Stats `json:"stats"`
	PID        int         `json:"pid"`
	CPUPercent float64     `json:"cpu_percent"`
	RSSBytes   uint64      `json:"rss_bytes"`
	Uptime     string      `json:"uptime"`
}

// Report is the full suggestions payload
type Report struct {
	Merges  []MergeCandidate `json:"merge_candidates,omitempty"`
	Splits  []SplitCandidate `json:"split_candidates,omitempty"`
	Recalls []RecallHint     `json:"recall_hints,omitempty"`
	Health  Health           `json:"health"`
}

// Analyzer builds suggestion reports over the store
type Analyzer struct {
	store     *store.Store
	startedAt time.Time
}

func New(st *store.Store) *Analyzer {
	return &Analyzer{store: st, startedAt: time.Now()}
}

// Analyze scans the graph once and returns every suggestion class
func (a *Analyzer) Analyze() *Report {
	active := a.store.ThreadsByStatus(types.ThreadActive)
	r := &Report{
		Merges:  a.mergeCandidates(active),
		Splits:  a.splitCandidates(active),
		Recalls: a.recallHints(),
		Health:  a.health(),
	}
	return r
}

// mergeCandidates pairs active threads whose embeddings nearly coincide.
// Split-locked threads are excluded: the lock exists to prevent exactly
// this re-absorption.
func (a *Analyzer) mergeCandidates(active []*types.Thread) []MergeCandidate {
	var out []MergeCandidate
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			x, y := active[i], active[j]
			if x.SplitLocked || y.SplitLocked {
				continue
			}
			sim := embedding.CosineSimilarity(x.Embedding, y.Embedding)
			if sim < MergeSimilarity {
				continue
			}
			survivor, absorbed := x, y
			if y.Weight > x.Weight {
				survivor, absorbed = y, x
			}
			out = append(out, MergeCandidate{
				SurvivorID: survivor.ID,
				AbsorbedID: absorbed.ID,
				Similarity: sim,
				Reason:     fmt.Sprintf("%q and %q cover the same ground", survivor.Title, absorbed.Title),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func (a *Analyzer) splitCandidates(active []*types.Thread) []SplitCandidate {
	var out []SplitCandidate
	for _, t := range active {
		if len(t.Messages) >= SplitMessageBar && len(t.Topics) >= SplitTopicSpread {
			out = append(out, SplitCandidate{
				ThreadID: t.ID,
				Messages: len(t.Messages),
				Topics:   len(t.Topics),
				Reason:   fmt.Sprintf("%q spans %d topics across %d messages", t.Title, len(t.Topics), len(t.Messages)),
			})
		}
	}
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// recallHints surfaces the heaviest suspended threads: dormant but not
// forgotten.
func (a *Analyzer) recallHints() []RecallHint {
	suspended := a.store.ThreadsByStatus(types.ThreadSuspended)
	sort.Slice(suspended, func(i, j int) bool { return suspended[i].Weight > suspended[j].Weight })
	var out []RecallHint
	for _, t := range suspended {
		if len(out) == 3 {
			break
		}
		out = append(out, RecallHint{ThreadID: t.ID, Title: t.Title, Weight: t.Weight})
	}
	return out
}

// health reports store stats plus this process's CPU and RSS via gopsutil
func (a *Analyzer) health() Health {
	h := Health{
		Stats:  a.store.Stats(),
		PID:    os.Getpid(),
		Uptime: time.Since(a.startedAt).Round(time.Second).String(),
	}
	if p, err := process.NewProcess(int32(h.PID)); err == nil {
		if cpu, err := p.CPUPercent(); err == nil {
			h.CPUPercent = cpu
		}
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			h.RSSBytes = mem.RSS
		}
	}
	return h
}
