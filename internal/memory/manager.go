// Package memory owns the thread lifecycle. The Manager is the only writer
// of thread records: every mutation takes the per-thread lock from the
// store's lock table, and locks are never held across an LLM or embedder
// call.
package memory

import (
	"context"
	"strings"
	"time"

	"github.com/vthunder/plexus/internal/classify"
	"github.com/vthunder/plexus/internal/embedding"
	"github.com/vthunder/plexus/internal/extract"
	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

// Notifier receives thread-modified signals. The gossip propagator
// implements it; tests stub it.
type Notifier interface {
	OnThreadModified(ctx context.Context, t *types.Thread)
}

// Manager applies classifier decisions to the thread graph
type Manager struct {
	store      *store.Store
	embedder   embedding.Embedder
	extractor  *extract.Extractor
	classifier *classify.Classifier
	notifier   Notifier

	now func() time.Time
}

// New wires a Manager. The notifier may be set later (daemon wiring order).
func New(st *store.Store, emb embedding.Embedder, ex *extract.Extractor, cl *classify.Classifier) *Manager {
	return &Manager{
		store:      st,
		embedder:   emb,
		extractor:  ex,
		classifier: cl,
		now:        time.Now,
	}
}

// SetNotifier attaches the gossip propagator
func (m *Manager) SetNotifier(n Notifier) { m.notifier = n }

// SourceForTool maps a host tool name to the capture source type. The
// table is closed; unknown tools count as task output.
func SourceForTool(tool string) string {
	switch tool {
	case "", "prompt", "UserPrompt":
		return "prompt"
	case "Read", "Write", "Edit", "Glob", "Grep", "NotebookEdit":
		return "file_read"
	case "WebFetch", "WebSearch":
		return "fetch"
	case "Bash":
		return "command"
	default:
		return "task"
	}
}

// originFor maps a source type to the immutable thread origin
func originFor(sourceType string) types.OriginType {
	switch sourceType {
	case "prompt":
		return types.OriginPrompt
	case "file_read":
		return types.OriginFileRead
	case "fetch":
		return types.OriginFetch
	default:
		return types.OriginTask
	}
}

// ProcessInput is the capture pipeline entrypoint: extract, embed,
// classify, apply. The returned thread is nil for skip decisions. Every
// LLM step happens before any lock is taken.
func (m *Manager) ProcessInput(ctx context.Context, content, sourceType string, metadata map[string]any) (*types.Thread, types.Decision, error) {
	x := m.extractor.Extract(ctx, content, sourceType)
	emb, err := m.embedder.Embed(content)
	if err != nil {
		logging.Warn("memory", "embedding failed, capture scored by topics only: %v", err)
		emb = nil
	}

	active := m.store.ThreadsByStatus(types.ThreadActive)
	suspended := m.store.ThreadsByStatus(types.ThreadSuspended)
	decision := m.classifier.Decide(ctx, x, content, emb, active, suspended)

	var t *types.Thread
	switch decision.Kind {
	case types.DecideContinue:
		t, err = m.appendTo(decision.ThreadID, content, sourceType, metadata, x, false)
	case types.DecideReactivate:
		t, err = m.appendTo(decision.ThreadID, content, sourceType, metadata, x, true)
	case types.DecideFork:
		t, err = m.Fork(ctx, decision.ThreadID, content, sourceType, metadata, x)
	case types.DecideNewThread:
		t, err = m.createThread(content, sourceType, metadata, x)
	case types.DecideSkip:
		logging.Debug("memory", "capture skipped (coherence %.2f)", decision.Score)
		return nil, decision, nil
	}
	if err != nil {
		return nil, decision, err
	}

	m.classifier.SetPending(t.ID, logging.Truncate(content, 500))
	if m.notifier != nil {
		m.notifier.OnThreadModified(ctx, t)
	}
	return t, decision, nil
}

// appendTo continues (or reactivates) an existing thread with one message
func (m *Manager) appendTo(threadID, content, sourceType string, metadata map[string]any, x extract.Extraction, reactivate bool) (*types.Thread, error) {
	unlock := m.store.Lock(store.ThreadKey(threadID))
	defer unlock()

	t, err := m.store.GetThread(threadID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if reactivate {
		t.Status = types.ThreadActive
	}
	m.appendMessage(t, content, sourceTag(sourceType), metadata, now)
	t.Boost(types.HebbianBoost, now)
	t.Touch(now)
	mergeTopics(t, x.Topics)
	if t.Summary == "" && x.Summary != "" {
		t.Summary = x.Summary
	}
	m.refreshEmbedding(t)

	if err := m.store.PutThread(t); err != nil {
		return nil, err
	}
	logging.Debug("memory", "thread %s continued (%d messages)", t.ID, len(t.Messages))
	return t, nil
}

// createThread starts a fresh thread from one capture
func (m *Manager) createThread(content, sourceType string, metadata map[string]any, x extract.Extraction) (*types.Thread, error) {
	now := m.now()
	t := &types.Thread{
		ID:             types.NewThreadID(),
		Title:          x.Title,
		Status:         types.ThreadActive,
		Summary:        x.Summary,
		Topics:         x.Topics,
		OriginType:     originFor(sourceType),
		Weight:         0.5 + types.HebbianBoost,
		CreatedAt:      now,
		LastActive:     now,
		LastDecay:      now,
		RelevanceScore: 1.0,
	}
	if t.Title == "" {
		t.Title = "untitled capture"
	}
	m.appendMessage(t, content, sourceTag(sourceType), metadata, now)
	t.ActivationCount = 1
	m.refreshEmbedding(t)

	unlock := m.store.Lock(store.ThreadKey(t.ID))
	defer unlock()
	if err := m.store.PutThread(t); err != nil {
		return nil, err
	}
	logging.Info("memory", "new thread %s: %s", t.ID, logging.Truncate(t.Title, 60))
	return t, nil
}

// Fork creates a child thread under parentID for a coherent subtopic. The
// child inherits 0.8x of the parent weight and gets a CHILD_OF bridge.
func (m *Manager) Fork(ctx context.Context, parentID, content, sourceType string, metadata map[string]any, x extract.Extraction) (*types.Thread, error) {
	child, err := m.createThread(content, sourceType, metadata, x)
	if err != nil {
		return nil, err
	}

	unlock := m.store.Lock(store.ThreadKey(parentID))
	parent, err := m.store.GetThread(parentID)
	if err != nil {
		unlock()
		m.store.DeleteThread(child.ID)
		return nil, err
	}
	parent.ChildIDs = append(parent.ChildIDs, child.ID)
	if err := m.store.PutThread(parent); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	unlockChild := m.store.Lock(store.ThreadKey(child.ID))
	child.ParentID = parent.ID
	child.Weight = types.Clamp(parent.Weight*0.8, 0, 1)
	err = m.store.PutThread(child)
	unlockChild()
	if err != nil {
		return nil, err
	}

	m.linkChild(parent, child)
	logging.Info("memory", "forked %s from %s", child.ID, parent.ID)
	return child, nil
}

// linkChild records the hierarchy bridge between parent and child
func (m *Manager) linkChild(parent, child *types.Thread) {
	now := m.now()
	cos := types.Clamp(embedding.CosineSimilarity(parent.Embedding, child.Embedding), 0.5, 1)
	b := &types.ThinkBridge{
		ID:             types.NewBridgeID(),
		SourceID:       parent.ID,
		TargetID:       child.ID,
		RelationType:   types.RelChildOf,
		Reason:         "forked subtopic",
		SharedConcepts: intersectTopics(parent.Topics, child.Topics),
		Confidence:     cos,
		Status:         types.BridgeActive,
		Weight:         cos,
		CreatedAt:      now,
		LastDecay:      now,
	}
	unlock := m.store.Lock(store.PairKey(parent.ID, child.ID))
	defer unlock()
	if m.store.FindBridge(parent.ID, child.ID) != nil {
		return
	}
	if err := m.store.PutBridge(b); err != nil {
		logging.Warn("memory", "child bridge persist failed: %v", err)
	}
}

// Reactivate wakes a suspended thread and boosts it
func (m *Manager) Reactivate(threadID string) (*types.Thread, error) {
	unlock := m.store.Lock(store.ThreadKey(threadID))
	defer unlock()

	t, err := m.store.GetThread(threadID)
	if err != nil {
		return nil, err
	}
	if t.Status == types.ThreadArchived {
		return nil, types.E(types.KindInvalidState, "thread %s is archived", threadID)
	}
	now := m.now()
	t.Status = types.ThreadActive
	t.Boost(types.HebbianBoost, now)
	t.Touch(now)
	if err := m.store.PutThread(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Suspend puts a thread dormant. Nothing is deleted; embeddings stay.
func (m *Manager) Suspend(threadID string) error {
	unlock := m.store.Lock(store.ThreadKey(threadID))
	defer unlock()

	t, err := m.store.GetThread(threadID)
	if err != nil {
		return err
	}
	t.Status = types.ThreadSuspended
	return m.store.PutThread(t)
}

// Archive retires a thread. Live bridges are redirected to its merge
// successor when one exists, deleted otherwise.
func (m *Manager) Archive(threadID string) error {
	unlock := m.store.Lock(store.ThreadKey(threadID))
	defer unlock()

	t, err := m.store.GetThread(threadID)
	if err != nil {
		return err
	}
	successor := mergeSuccessor(t)
	m.redirectBridges(t.ID, successor)
	return m.store.ArchiveThread(t)
}

// mergeSuccessor extracts the target of a merged_into tag, if any
func mergeSuccessor(t *types.Thread) string {
	for _, tag := range t.Tags {
		if rest, ok := strings.CutPrefix(tag, "merged_into:"); ok {
			return rest
		}
	}
	return ""
}

// redirectBridges re-points every bridge touching oldID at successor, or
// deletes them when there is none. Self-bridges and duplicates collapse
// (keeping the max weight).
func (m *Manager) redirectBridges(oldID, successor string) {
	for _, b := range m.store.BridgesFor(oldID) {
		other := b.Other(oldID)
		if successor == "" || other == successor {
			m.store.DeleteBridge(b.ID)
			continue
		}
		unlock := m.store.Lock(store.PairKey(successor, other))
		if dup := m.store.FindBridge(successor, other); dup != nil {
			if b.Weight > dup.Weight {
				dup.Weight = b.Weight
				m.store.PutBridge(dup)
			}
			m.store.DeleteBridge(b.ID)
			unlock()
			continue
		}
		m.store.DeleteBridge(b.ID)
		if b.SourceID == oldID {
			b.SourceID = successor
		} else {
			b.TargetID = successor
		}
		m.store.PutBridge(b)
		unlock()
	}
}

// Rename retitles a thread and refreshes its embedding
func (m *Manager) Rename(threadID, newTitle string) (*types.Thread, error) {
	newTitle = strings.TrimSpace(newTitle)
	if newTitle == "" {
		return nil, types.E(types.KindInvalidState, "empty title")
	}
	unlock := m.store.Lock(store.ThreadKey(threadID))
	defer unlock()

	t, err := m.store.GetThread(threadID)
	if err != nil {
		return nil, err
	}
	t.Title = newTitle
	m.refreshEmbedding(t)
	if err := m.store.PutThread(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Unlock clears a split lock
func (m *Manager) Unlock(threadID string) (*types.Thread, error) {
	unlock := m.store.Lock(store.ThreadKey(threadID))
	defer unlock()

	t, err := m.store.GetThread(threadID)
	if err != nil {
		return nil, err
	}
	t.SplitLocked = false
	t.SplitLockedMode = ""
	if err := m.store.PutThread(t); err != nil {
		return nil, err
	}
	return t, nil
}

// RateContext folds one usefulness rating into the thread's relevance
func (m *Manager) RateContext(threadID string, useful bool, reason string) (*types.Thread, error) {
	unlock := m.store.Lock(store.ThreadKey(threadID))
	defer unlock()

	t, err := m.store.GetThread(threadID)
	if err != nil {
		return nil, err
	}
	t.RecordRating(types.Rating{Useful: useful, Timestamp: m.now(), Reason: reason})
	if err := m.store.PutThread(t); err != nil {
		return nil, err
	}
	return t, nil
}

// DecayAll applies time decay to every non-archived thread and suspends
// those that fall below the threshold. Returns the number suspended.
func (m *Manager) DecayAll(now time.Time, halfLifeDays float64) int {
	suspended := 0
	for _, id := range m.store.ThreadIDs(types.ThreadActive, types.ThreadSuspended) {
		unlock := m.store.Lock(store.ThreadKey(id))
		t, err := m.store.GetThread(id)
		if err != nil {
			unlock()
			continue
		}
		t.DecayWith(now, halfLifeDays)
		if t.ShouldSuspend() {
			t.Status = types.ThreadSuspended
			suspended++
			logging.Debug("memory", "thread %s suspended (weight %.3f)", t.ID, t.Weight)
		}
		if err := m.store.PutThread(t); err != nil {
			logging.Warn("memory", "decay persist failed for %s: %v", t.ID, err)
		}
		unlock()
	}
	return suspended
}

// appendMessage adds one bounded message record
func (m *Manager) appendMessage(t *types.Thread, content, source string, metadata map[string]any, now time.Time) {
	if len(content) > types.MaxMessageChars {
		content = content[:types.MaxMessageChars]
	}
	t.Messages = append(t.Messages, types.Message{
		ID:        types.NewMessageID(),
		Content:   content,
		Source:    source,
		Timestamp: now,
		Metadata:  metadata,
	})
}

func sourceTag(sourceType string) string {
	if sourceType == "prompt" {
		return "user"
	}
	return "tool"
}

// refreshEmbedding recomputes the thread vector from title, topics, and
// the head of the summary. Must run before the thread is next scored.
func (m *Manager) refreshEmbedding(t *types.Thread) {
	text := t.Title + " " + strings.Join(t.Topics, " ")
	if t.Summary != "" {
		text += " " + logging.Truncate(t.Summary, 200)
	}
	vec, err := m.embedder.Embed(text)
	if err != nil {
		logging.Warn("memory", "embedding refresh failed for %s: %v", t.ID, err)
		return
	}
	t.Embedding = vec
}

// mergeTopics unions new topics into the thread, case-insensitive
func mergeTopics(t *types.Thread, topics []string) {
	for _, topic := range topics {
		if !t.HasTopic(topic) {
			t.Topics = append(t.Topics, strings.ToLower(topic))
		}
	}
}

func intersectTopics(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[strings.ToLower(t)] = true
	}
	var out []string
	for _, t := range b {
		if set[strings.ToLower(t)] {
			out = append(out, strings.ToLower(t))
		}
	}
	return out
}
