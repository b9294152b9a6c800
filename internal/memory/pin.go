package memory

import (
	"strings"

	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

// MaxPinnedThreads is a hard cap; pins past it are rejected so pinned
// weight cannot crowd out the whole quota.
const MaxPinnedThreads = 10

// Pin creates (or refreshes) a pinned thread that bypasses the classifier.
// Pinned threads sit above normal weight (1 + boost, boost in [0, 0.5])
// and never auto-suspend.
func (m *Manager) Pin(content, title string, topics []string, boost float64) (*types.Thread, error) {
	boost = types.Clamp(boost, 0, 0.5)
	title = strings.TrimSpace(title)
	if title == "" {
		title = logging.Truncate(strings.Split(strings.TrimSpace(content), "\n")[0], 80)
	}

	// Re-pin by title updates the existing pin
	for _, t := range m.store.ThreadsByStatus(types.ThreadActive) {
		if t.IsPinned() && strings.EqualFold(t.Title, title) {
			return m.repin(t.ID, content, topics, boost)
		}
	}

	pinned := 0
	for _, t := range m.store.ThreadsByStatus(types.ThreadActive, types.ThreadSuspended) {
		if t.IsPinned() {
			pinned++
		}
	}
	if pinned >= MaxPinnedThreads {
		return nil, types.E(types.KindInvalidState,
			"pin cap reached (%d); unpin or merge something first", MaxPinnedThreads)
	}

	now := m.now()
	t := &types.Thread{
		ID:              types.NewThreadID(),
		Title:           title,
		Status:          types.ThreadActive,
		Topics:          lowerAll(topics),
		OriginType:      types.OriginPrompt,
		Weight:          1 + boost,
		CreatedAt:       now,
		LastActive:      now,
		LastDecay:       now,
		ActivationCount: 1,
		RelevanceScore:  1.0,
		Tags:            []string{"pinned"},
	}
	m.appendMessage(t, content, "agent_pin", nil, now)
	m.refreshEmbedding(t)

	unlock := m.store.Lock(store.ThreadKey(t.ID))
	defer unlock()
	if err := m.store.PutThread(t); err != nil {
		return nil, err
	}
	logging.Info("memory", "pinned %s: %s", t.ID, logging.Truncate(title, 60))
	return t, nil
}

func (m *Manager) repin(threadID, content string, topics []string, boost float64) (*types.Thread, error) {
	unlock := m.store.Lock(store.ThreadKey(threadID))
	defer unlock()

	t, err := m.store.GetThread(threadID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	m.appendMessage(t, content, "agent_pin", nil, now)
	mergeTopics(t, topics)
	t.Weight = 1 + boost
	t.LastDecay = now
	t.Touch(now)
	m.refreshEmbedding(t)
	if err := m.store.PutThread(t); err != nil {
		return nil, err
	}
	return t, nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
