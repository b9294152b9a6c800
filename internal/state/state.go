// Package state owns the singleton records that live directly under .ai/:
// heartbeat.json, focus.json, and user_rules.json. Each file has one
// in-process owner guarded by a mutex and is rewritten atomically on every
// mutation.
package state

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

// HeartbeatFile is the coarse internal clock for one project
type HeartbeatFile struct {
	path string

	mu sync.Mutex
	hb types.Heartbeat
}

// OpenHeartbeat loads heartbeat.json, initializing it on first run
func OpenHeartbeat(path string) (*HeartbeatFile, error) {
	h := &HeartbeatFile{path: path}
	if err := store.LoadJSON(path, &h.hb); err != nil {
		if !os.IsNotExist(err) {
			store.Quarantine(path)
		}
		h.hb = types.Heartbeat{StartedAt: time.Now()}
		if err := store.SaveJSON(path, &h.hb); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Beat increments the counter and returns the new snapshot
func (h *HeartbeatFile) Beat(now time.Time) types.Heartbeat {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hb.Beat++
	h.hb.LastBeatAt = now
	h.saveLocked()
	return h.hb
}

// RecordInteraction marks a user turn: which session and which thread the
// agent is on. Empty thread arguments keep the previous hot thread.
func (h *HeartbeatFile) RecordInteraction(sessionID, threadID, threadTitle string, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hb.LastInteractionAt = now
	h.hb.LastInteractionBeat = h.hb.Beat
	if sessionID != "" {
		h.hb.LastSessionID = sessionID
	}
	if threadID != "" {
		h.hb.LastThreadID = threadID
		h.hb.LastThreadTitle = threadTitle
	}
	h.saveLocked()
}

// Get returns a copy of the current heartbeat
func (h *HeartbeatFile) Get() types.Heartbeat {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hb
}

func (h *HeartbeatFile) saveLocked() {
	// Heartbeat loss is recoverable; the daemon keeps beating
	_ = store.SaveJSON(h.path, &h.hb)
}

// MaxFocusEntries bounds the focus set; ranking boosts are already clamped
// so more entries add noise, not signal.
const MaxFocusEntries = 5

// FocusFile is the set of user-or-agent-declared topic boosts
type FocusFile struct {
	path string

	mu      sync.Mutex
	entries []types.FocusEntry
}

// OpenFocus loads focus.json (absent file = empty focus)
func OpenFocus(path string) (*FocusFile, error) {
	f := &FocusFile{path: path}
	if err := store.LoadJSON(path, &f.entries); err != nil && !os.IsNotExist(err) {
		store.Quarantine(path)
	}
	return f, nil
}

// Set adds or updates a focus entry. When the set is full the oldest entry
// is dropped.
func (f *FocusFile) Set(topic string, weight float64, now time.Time) []types.FocusEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	weight = types.Clamp(weight, 0, 1)
	for i := range f.entries {
		if strings.EqualFold(f.entries[i].Topic, topic) {
			f.entries[i].Weight = weight
			f.entries[i].SetAt = now
			f.saveLocked()
			return f.listLocked()
		}
	}
	f.entries = append(f.entries, types.FocusEntry{Topic: topic, Weight: weight, SetAt: now})
	if len(f.entries) > MaxFocusEntries {
		oldest := 0
		for i := range f.entries {
			if f.entries[i].SetAt.Before(f.entries[oldest].SetAt) {
				oldest = i
			}
		}
		f.entries = append(f.entries[:oldest], f.entries[oldest+1:]...)
	}
	f.saveLocked()
	return f.listLocked()
}

// Unset removes a focus entry; removes everything when topic is empty
func (f *FocusFile) Unset(topic string) []types.FocusEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	if topic == "" {
		f.entries = nil
	} else {
		kept := f.entries[:0]
		for _, e := range f.entries {
			if !strings.EqualFold(e.Topic, topic) {
				kept = append(kept, e)
			}
		}
		f.entries = kept
	}
	f.saveLocked()
	return f.listLocked()
}

// List returns a copy of the current focus entries
func (f *FocusFile) List() []types.FocusEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listLocked()
}

func (f *FocusFile) listLocked() []types.FocusEntry {
	out := make([]types.FocusEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

func (f *FocusFile) saveLocked() {
	_ = store.SaveJSON(f.path, f.entries)
}

// RulesFile is the bounded set of persistent user imperatives
type RulesFile struct {
	path string

	mu    sync.Mutex
	rules []types.UserRule
}

// OpenRules loads user_rules.json (absent file = no rules)
func OpenRules(path string) (*RulesFile, error) {
	r := &RulesFile{path: path}
	if err := store.LoadJSON(path, &r.rules); err != nil && !os.IsNotExist(err) {
		store.Quarantine(path)
	}
	return r, nil
}

// Add appends a rule, dropping the oldest past types.MaxUserRules.
// Duplicate texts refresh the existing rule instead of stacking.
func (r *RulesFile) Add(text, sourcePrompt string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	for i := range r.rules {
		if strings.EqualFold(r.rules[i].Text, text) {
			r.rules[i].CreatedAt = now
			r.rules[i].SourcePrompt = sourcePrompt
			r.saveLocked()
			return
		}
	}
	r.rules = append(r.rules, types.UserRule{Text: text, SourcePrompt: sourcePrompt, CreatedAt: now})
	if len(r.rules) > types.MaxUserRules {
		r.rules = r.rules[len(r.rules)-types.MaxUserRules:]
	}
	r.saveLocked()
}

// List returns a copy of the stored rules, oldest first
func (r *RulesFile) List() []types.UserRule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.UserRule, len(r.rules))
	copy(out, r.rules)
	return out
}

func (r *RulesFile) saveLocked() {
	_ = store.SaveJSON(r.path, r.rules)
}
