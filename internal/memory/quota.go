package memory

import (
	"sort"

	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

// EnforceQuota suspends the lowest-weight ACTIVE threads until the active
// count is within quota. Pinned threads are exempt from eviction. Returns
// the ids suspended.
func (m *Manager) EnforceQuota(quota int) []string {
	if quota <= 0 {
		return nil
	}
	active := m.store.ThreadsByStatus(types.ThreadActive)
	over := len(active) - quota
	if over <= 0 {
		return nil
	}

	candidates := make([]*types.Thread, 0, len(active))
	for _, t := range active {
		if !t.IsPinned() {
			candidates = append(candidates, t)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Weight != candidates[j].Weight {
			return candidates[i].Weight < candidates[j].Weight
		}
		return candidates[i].LastActive.Before(candidates[j].LastActive)
	})

	var suspended []string
	for _, t := range candidates {
		if len(suspended) == over {
			break
		}
		unlock := m.store.Lock(store.ThreadKey(t.ID))
		fresh, err := m.store.GetThread(t.ID)
		if err == nil && fresh.Status == types.ThreadActive {
			fresh.Status = types.ThreadSuspended
			if err := m.store.PutThread(fresh); err == nil {
				suspended = append(suspended, fresh.ID)
			}
		}
		unlock()
	}
	if len(suspended) > 0 {
		logging.Info("memory", "quota %d enforced: suspended %d threads", quota, len(suspended))
	}
	return suspended
}
