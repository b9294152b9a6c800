package memory

import (
	"strings"

	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

// MessageInfo is the read-only listing returned by split step one
type MessageInfo struct {
	Position int    `json:"position"`
	ID       string `json:"id"`
	Source   string `json:"source"`
	Preview  string `json:"preview"`
}

// SplitResult is the step-two outcome
type SplitResult struct {
	NewIDs   []string `json:"new_ids"`
	SourceID string   `json:"source_id"`
	Archived bool     `json:"source_archived"`
}

// ListMessages is split step one: a read-only, repeatable listing of the
// source thread's messages with their positions, so the caller can propose
// groupings.
func (m *Manager) ListMessages(threadID string) ([]MessageInfo, error) {
	t, err := m.store.GetThread(threadID)
	if err != nil {
		return nil, err
	}
	if t.Status == types.ThreadArchived {
		return nil, types.E(types.KindInvalidState, "cannot split archived thread %s", threadID)
	}
	out := make([]MessageInfo, 0, len(t.Messages))
	for i, msg := range t.Messages {
		out = append(out, MessageInfo{
			Position: i,
			ID:       msg.ID,
			Source:   msg.Source,
			Preview:  logging.Truncate(msg.Content, 120),
		})
	}
	return out, nil
}

// Split is step two: partition the source thread's messages into new child
// threads. Every message must land in exactly one group (residue stays on
// the source; a fully partitioned source is archived). Children are
// split-locked so the merge engine cannot immediately re-absorb them.
func (m *Manager) Split(threadID string, titles []string, groups [][]string, lockMode types.LockMode) (*SplitResult, error) {
	if len(titles) == 0 || len(titles) != len(groups) {
		return nil, types.E(types.KindInvalidState,
			"need one title per message group (%d titles, %d groups)", len(titles), len(groups))
	}
	if lockMode == "" {
		lockMode = types.LockUntilRelease
	}

	src, result, err := m.splitLocked(threadID, titles, groups, lockMode)
	if err != nil {
		return nil, err
	}

	// Hierarchy bridges after the source lock is released
	for _, id := range result.NewIDs {
		if child, err := m.store.GetThread(id); err == nil {
			m.linkChild(src, child)
		}
	}

	logging.Info("memory", "split %s into %d children (locked: %s)", threadID, len(result.NewIDs), lockMode)
	return result, nil
}

// splitLocked executes the partition under the source thread lock
func (m *Manager) splitLocked(threadID string, titles []string, groups [][]string, lockMode types.LockMode) (*types.Thread, *SplitResult, error) {
	release, ok := m.store.TryLock(store.ThreadKey(threadID))
	if !ok {
		return nil, nil, types.E(types.KindConflict, "thread busy, retry split")
	}
	defer release()

	src, err := m.store.GetThread(threadID)
	if err != nil {
		return nil, nil, err
	}
	if src.Status == types.ThreadArchived {
		return nil, nil, types.E(types.KindInvalidState, "cannot split archived thread %s", threadID)
	}

	byID := make(map[string]types.Message, len(src.Messages))
	for _, msg := range src.Messages {
		byID[msg.ID] = msg
	}
	claimed := make(map[string]bool)
	for _, group := range groups {
		for _, id := range group {
			if _, exists := byID[id]; !exists {
				return nil, nil, types.E(types.KindNotFound, "message %s not in thread %s", id, threadID)
			}
			if claimed[id] {
				return nil, nil, types.E(types.KindInvalidState, "message %s appears in two groups", id)
			}
			claimed[id] = true
		}
	}

	now := m.now()
	result := &SplitResult{SourceID: src.ID}
	for i, group := range groups {
		child := &types.Thread{
			ID:              types.NewThreadID(),
			Title:           strings.TrimSpace(titles[i]),
			Status:          types.ThreadActive,
			OriginType:      types.OriginSplit,
			ParentID:        src.ID,
			Weight:          types.Clamp(src.Weight*0.8, 0, 1),
			CreatedAt:       now,
			LastActive:      now,
			LastDecay:       now,
			ActivationCount: 1,
			RelevanceScore:  1.0,
			SplitLocked:     true,
			SplitLockedMode: lockMode,
		}
		for _, id := range group {
			child.Messages = append(child.Messages, byID[id])
		}
		mergeTopics(child, topicsFromMessages(child.Messages, src.Topics))
		m.refreshEmbedding(child)
		if err := m.store.PutThread(child); err != nil {
			return nil, nil, err
		}
		src.ChildIDs = append(src.ChildIDs, child.ID)
		result.NewIDs = append(result.NewIDs, child.ID)
	}

	// Residue: messages no group claimed stay on the source
	var residue []types.Message
	for _, msg := range src.Messages {
		if !claimed[msg.ID] {
			residue = append(residue, msg)
		}
	}
	src.Messages = residue
	if len(residue) == 0 {
		src.Status = types.ThreadArchived
		result.Archived = true
	}
	m.refreshEmbedding(src)

	if result.Archived {
		if err := m.store.ArchiveThread(src); err != nil {
			return nil, nil, err
		}
	} else if err := m.store.PutThread(src); err != nil {
		return nil, nil, err
	}
	return src, result, nil
}

// topicsFromMessages seeds child topics from the source topics that still
// appear in the child's messages.
func topicsFromMessages(msgs []types.Message, srcTopics []string) []string {
	var text strings.Builder
	for _, msg := range msgs {
		text.WriteString(strings.ToLower(msg.Content))
		text.WriteByte(' ')
	}
	blob := text.String()
	var out []string
	for _, topic := range srcTopics {
		if strings.Contains(blob, strings.ToLower(topic)) {
			out = append(out, topic)
		}
	}
	return out
}
