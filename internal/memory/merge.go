package memory

import (
	"fmt"
	"sort"

	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

// Merge absorbs one thread into a survivor: messages are stable-merged by
// timestamp, topics unioned, and every live bridge pointing at the
// absorbed thread is re-pointed at the survivor. The absorbed thread is
// archived with a merged_into tag. Split-locked threads refuse absorption.
func (m *Manager) Merge(survivorID, absorbedID string) (*types.Thread, error) {
	if survivorID == absorbedID {
		return nil, types.E(types.KindInvalidState, "cannot merge a thread into itself")
	}

	// Both locks, id-ordered, try-acquire so concurrent merges conflict
	// instead of deadlocking.
	keys := []string{store.ThreadKey(survivorID), store.ThreadKey(absorbedID)}
	sort.Strings(keys)
	var releases []func()
	for _, key := range keys {
		release, ok := m.store.TryLock(key)
		if !ok {
			for _, r := range releases {
				r()
			}
			return nil, types.E(types.KindConflict, "thread busy, retry merge")
		}
		releases = append(releases, release)
	}
	defer func() {
		for _, r := range releases {
			r()
		}
	}()

	survivor, err := m.store.GetThread(survivorID)
	if err != nil {
		return nil, err
	}
	absorbed, err := m.store.GetThread(absorbedID)
	if err != nil {
		return nil, err
	}
	if absorbed.SplitLocked {
		return nil, types.E(types.KindInvalidState,
			"thread %s is split-locked (%s); unlock before merging", absorbedID, absorbed.SplitLockedMode)
	}
	if survivor.Status == types.ThreadArchived || absorbed.Status == types.ThreadArchived {
		return nil, types.E(types.KindInvalidState, "cannot merge archived threads")
	}

	now := m.now()
	survivor.Messages = append(survivor.Messages, absorbed.Messages...)
	sort.SliceStable(survivor.Messages, func(i, j int) bool {
		return survivor.Messages[i].Timestamp.Before(survivor.Messages[j].Timestamp)
	})
	mergeTopics(survivor, absorbed.Topics)
	survivor.Weight = types.Clamp(max(survivor.Weight, absorbed.Weight)+types.HebbianBoost, 0, survivor.MaxWeight())
	survivor.LastDecay = now
	survivor.Touch(now)
	if survivor.Summary == "" {
		survivor.Summary = absorbed.Summary
	}
	// Adopt the absorbed thread's children so the forest stays rooted
	for _, child := range absorbed.ChildIDs {
		if ct, err := m.store.GetThread(child); err == nil {
			ct.ParentID = survivor.ID
			m.store.PutThread(ct)
			survivor.ChildIDs = append(survivor.ChildIDs, child)
		}
	}
	m.refreshEmbedding(survivor)
	if err := m.store.PutThread(survivor); err != nil {
		return nil, err
	}

	absorbed.Status = types.ThreadArchived
	absorbed.AddTag(fmt.Sprintf("merged_into:%s", survivor.ID))
	m.redirectBridges(absorbed.ID, survivor.ID)
	if err := m.store.ArchiveThread(absorbed); err != nil {
		return nil, err
	}

	logging.Info("memory", "merged %s into %s (%d messages)", absorbedID, survivorID, len(survivor.Messages))
	return survivor, nil
}
