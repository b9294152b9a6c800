// Package inject builds the system-reminder block prepended to each user
// prompt: new-session onboarding, fresh synthesis, focus, user rules, and
// relevance-ranked threads, assembled within a hard character budget.
package inject

import (
	"fmt"
	"strings"
	"time"

	"github.com/vthunder/plexus/internal/config"
	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/retrieve"
	"github.com/vthunder/plexus/internal/state"
	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

// Marker wraps the payload so the host treats it as a system reminder
const (
	MarkerOpen  = "<system-reminder>"
	MarkerClose = "</system-reminder>"
)

// SynthesisFreshness bounds how old a synthesis may be and still inject
const SynthesisFreshness = 2 * time.Hour

// Builder assembles injection payloads
type Builder struct {
	store     *store.Store
	ranker    *retrieve.Ranker
	heartbeat *state.HeartbeatFile
	focus     *state.FocusFile
	rules     *state.RulesFile
	cfg       func() config.Config
	journal   *Journal

	now func() time.Time
}

// New wires a Builder. cfg is called per build so config hot-reloads
// apply.
func New(st *store.Store, ranker *retrieve.Ranker, hb *state.HeartbeatFile, focus *state.FocusFile, rules *state.RulesFile, cfg func() config.Config) *Builder {
	return &Builder{
		store:     st,
		ranker:    ranker,
		heartbeat: hb,
		focus:     focus,
		rules:     rules,
		cfg:       cfg,
		journal:   NewJournal(st.Paths().InjectLog()),
		now:       time.Now,
	}
}

// section is one ordered payload block. Atomic sections are included whole
// or not at all; entry-granular sections (relevance) trim entry by entry.
type section struct {
	name    string
	header  string
	entries []string
	atomic  bool
}

func (s *section) size() int {
	if len(s.entries) == 0 {
		return 0
	}
	n := len(s.header) + 1
	for _, e := range s.entries {
		n += len(e) + 1
	}
	return n
}

// Build produces the injection payload for one user turn, already wrapped
// in the system-reminder marker. Empty string means nothing to inject.
func (b *Builder) Build(prompt, sessionID string) string {
	cfg := b.cfg()
	now := b.now()
	hb := b.heartbeat.Get()
	budget := cfg.Settings.InjectBudgetChars
	focus := b.focus.List()

	newSession := b.isNewSession(hb, sessionID, now, cfg)

	var sections []section
	var hotSynthesis string
	if newSession {
		sec, usedSynthesis := b.newSessionSection(prompt, hb, now, cfg)
		hotSynthesis = usedSynthesis
		sections = append(sections, sec)
	}
	rel := b.relevanceSection(prompt, focus)
	sections = append(sections,
		b.synthesisSection(now, hotSynthesis),
		b.focusSection(focus),
		b.rulesSection(),
		rel.section,
		b.sharedSection(prompt),
	)
	heartbeatLine := fmt.Sprintf("memory: beat %d, %d beats since last interaction", hb.Beat, hb.SinceLastInteraction())
	sections = append(sections, section{name: "heartbeat", entries: []string{heartbeatLine}, atomic: true})

	payload, included := assemble(sections, budget-len(MarkerOpen)-len(MarkerClose)-2)
	if strings.TrimSpace(payload) == "" {
		return ""
	}

	out := MarkerOpen + "\n" + payload + MarkerClose
	b.journal.Record(sessionID, included, len(out), now)

	threadID, threadTitle := hb.LastThreadID, hb.LastThreadTitle
	if len(rel.entries) > 0 && rel.topID != "" {
		threadID, threadTitle = rel.topID, rel.topTitle
	}
	b.heartbeat.RecordInteraction(sessionID, threadID, threadTitle, now)
	return out
}

func (b *Builder) isNewSession(hb types.Heartbeat, sessionID string, now time.Time, cfg config.Config) bool {
	gap := time.Duration(cfg.Settings.SessionGapMinutes) * time.Minute
	if sessionID != "" && sessionID != hb.LastSessionID {
		return true
	}
	return !hb.LastInteractionAt.IsZero() && now.Sub(hb.LastInteractionAt) > gap
}

// newSessionSection is the onboarding block: capabilities, the hot thread
// (or freshest synthesis), and a proactive recall hint. Returns the id of
// the synthesis it showed, if any, so the synthesis section can skip it.
func (b *Builder) newSessionSection(prompt string, hb types.Heartbeat, now time.Time, cfg config.Config) (section, string) {
	sec := section{name: "new_session", header: "## Session memory", atomic: true}
	usedSynthesis := ""

	sec.entries = append(sec.entries,
		"Persistent memory is active. Agent tools: memory_recall, memory_pin, memory_focus, memory_rate.")
	for _, hint := range guardHints(cfg.Guardcode) {
		sec.entries = append(sec.entries, hint)
	}

	if hb.LastThreadID != "" {
		if t, err := b.store.GetThread(hb.LastThreadID); err == nil {
			sec.entries = append(sec.entries, fmt.Sprintf("Hot thread: %s (topics: %s) — %s",
				t.Title, strings.Join(t.Topics, ", "), logging.Truncate(t.Summary, 120)))
		}
	} else if sy := b.store.LatestSynthesis(); sy != nil && now.Sub(sy.GeneratedAt) < SynthesisFreshness {
		sec.entries = append(sec.entries, "Last state: "+logging.Truncate(sy.Summary, 200))
		usedSynthesis = sy.ID
	}

	if hint := b.recallHint(prompt); hint != "" {
		sec.entries = append(sec.entries, hint)
	}
	return sec, usedSynthesis
}

func guardHints(g config.Guardcode) []string {
	var out []string
	if g.EnforcePlanMode {
		out = append(out, "Reminder: plan before editing.")
	}
	if g.WarnQuickSolutions {
		out = append(out, "Reminder: prefer root-cause fixes over quick patches.")
	}
	if g.RequireAllChoices {
		out = append(out, "Reminder: surface all viable options before choosing.")
	}
	return out
}

// recallHint suggests a recall when a prompt token is a known topic
func (b *Builder) recallHint(prompt string) string {
	tokens := strings.Fields(strings.ToLower(prompt))
	if len(tokens) == 0 {
		return ""
	}
	known := make(map[string]bool)
	for _, t := range b.store.ThreadsByStatus(types.ThreadActive, types.ThreadSuspended) {
		for _, topic := range t.Topics {
			known[strings.ToLower(topic)] = true
		}
	}
	for _, tok := range tokens {
		tok = strings.Trim(tok, ".,!?;:'\"")
		if len(tok) >= 3 && known[tok] {
			return fmt.Sprintf("Past work mentions %q — try: ai recall %s", tok, tok)
		}
	}
	return ""
}

func (b *Builder) synthesisSection(now time.Time, alreadyShown string) section {
	sec := section{name: "synthesis", header: "## Last synthesis", atomic: true}
	sy := b.store.LatestSynthesis()
	if sy == nil || sy.ID == alreadyShown || now.Sub(sy.GeneratedAt) >= SynthesisFreshness {
		return sec
	}
	sec.entries = append(sec.entries, logging.Truncate(sy.Summary, 400))
	for _, d := range sy.Decisions {
		sec.entries = append(sec.entries, "- decided: "+logging.Truncate(d, 100))
	}
	return sec
}

func (b *Builder) focusSection(focus []types.FocusEntry) section {
	sec := section{name: "focus", header: "## Current focus", atomic: true}
	for _, f := range focus {
		sec.entries = append(sec.entries, fmt.Sprintf("- %s (%.1f)", f.Topic, f.Weight))
	}
	return sec
}

func (b *Builder) rulesSection() section {
	sec := section{name: "user_rules", header: "## Standing rules", atomic: true}
	for _, r := range b.rules.List() {
		sec.entries = append(sec.entries, "- "+logging.Truncate(r.Text, 150))
	}
	return sec
}

// relevance holds the ranked thread entries plus the top thread identity
type relevance struct {
	section
	topID    string
	topTitle string
}

func (b *Builder) relevanceSection(prompt string, focus []types.FocusEntry) relevance {
	sec := relevance{section: section{name: "relevance", header: "## Relevant memory threads"}}
	if strings.TrimSpace(prompt) == "" {
		return sec
	}
	for _, s := range b.ranker.Rank(prompt, focus, false, retrieve.DefaultLimit, retrieve.PriorityFloor) {
		t := s.Thread
		entry := fmt.Sprintf("- %s [%s]", t.Title, strings.Join(t.Topics, ", "))
		if t.Summary != "" {
			entry += ": " + logging.Truncate(t.Summary, 100)
		}
		sec.entries = append(sec.entries, entry)
		if sec.topID == "" {
			sec.topID, sec.topTitle = t.ID, t.Title
		}
	}
	return sec
}

// assemble walks sections in order, including atomic sections only when
// they fit whole and entry-granular sections entry by entry. Entries are
// already priority-ordered, so dropping from the tail drops the least
// relevant first. Returns the payload and the names of included sections.
func assemble(sections []section, budget int) (string, []string) {
	var sb strings.Builder
	var included []string
	used := 0
	for _, sec := range sections {
		if len(sec.entries) == 0 {
			continue
		}
		if sec.atomic {
			if used+sec.size() > budget {
				continue
			}
			writeSection(&sb, sec, sec.entries)
			used += sec.size()
			included = append(included, sec.name)
			continue
		}
		// Entry-granular: take the prefix that fits
		n := len(sec.header) + 1
		var kept []string
		for _, e := range sec.entries {
			if used+n+len(e)+1 > budget {
				break
			}
			kept = append(kept, e)
			n += len(e) + 1
		}
		if len(kept) == 0 {
			continue
		}
		writeSection(&sb, sec, kept)
		used += n
		included = append(included, sec.name)
	}
	return sb.String(), included
}

func writeSection(sb *strings.Builder, sec section, entries []string) {
	if sec.header != "" {
		sb.WriteString(sec.header)
		sb.WriteByte('\n')
	}
	for _, e := range entries {
		sb.WriteString(e)
		sb.WriteByte('\n')
	}
}

// TokenEstimate is the advisory token count for a payload (chars are
// authoritative).
func TokenEstimate(payload string) int {
	return int(float64(len(payload)) / 3.5)
}
