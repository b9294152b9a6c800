// Package store persists every memory record as one JSON file under the
// project-local .ai/ directory. Writes are atomic (temp file + fsync +
// rename); corrupt records are quarantined, never fatal. The store keeps
// two in-memory indexes rebuilt on open: thread status partitions and a
// thread -> bridge adjacency.
package store

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/types"
)

// Store owns all disk state for one project
type Store struct {
	paths Paths

	mu        sync.RWMutex
	byStatus  map[types.ThreadStatus]map[string]struct{}
	adjacency map[string]map[string]struct{} // thread id -> bridge ids

	locks LockTable

	corrupted int // quarantined records since open, reported by health
}

// Open creates the directory layout, sweeps stale temp files, and rebuilds
// the in-memory indexes from disk.
func Open(root string) (*Store, error) {
	p := Paths{Root: root}
	for _, dir := range p.AllDirs() {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	s := &Store{
		paths:     p,
		byStatus:  make(map[types.ThreadStatus]map[string]struct{}),
		adjacency: make(map[string]map[string]struct{}),
	}
	s.locks.init()

	sweepTemp(p.DB(KindThread))
	sweepTemp(p.DB(KindBridge))
	sweepTemp(p.DB(KindSynthesis))
	sweepTemp(p.DB(KindArchive))
	sweepTemp(p.Root)

	if err := s.reindex(); err != nil {
		return nil, err
	}
	return s, nil
}

// Paths exposes the layout to subsystems that own sibling files (pidfile,
// socket, logs, singleton state).
func (s *Store) Paths() Paths { return s.paths }

// Lock serializes mutations on a per-record key ("thread:<id>" or a sorted
// bridge pair). The returned func releases.
func (s *Store) Lock(key string) func() { return s.locks.Acquire(key) }

// TryLock is Lock for operations that reject on contention instead of
// waiting (merge, split, pin).
func (s *Store) TryLock(key string) (func(), bool) { return s.locks.TryAcquire(key) }

// reindex scans the db directories and rebuilds both indexes. Corrupt
// records are quarantined and skipped.
func (s *Store) reindex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byStatus = map[types.ThreadStatus]map[string]struct{}{
		types.ThreadActive:    {},
		types.ThreadSuspended: {},
		types.ThreadArchived:  {},
	}
	s.adjacency = make(map[string]map[string]struct{})

	entries, err := os.ReadDir(s.paths.DB(KindThread))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !isRecordFile(e.Name()) {
			continue
		}
		path := filepath.Join(s.paths.DB(KindThread), e.Name())
		var t types.Thread
		if err := LoadJSON(path, &t); err != nil {
			Quarantine(path)
			s.corrupted++
			continue
		}
		s.indexThreadLocked(&t)
	}

	entries, err = os.ReadDir(s.paths.DB(KindBridge))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !isRecordFile(e.Name()) {
			continue
		}
		path := filepath.Join(s.paths.DB(KindBridge), e.Name())
		var b types.ThinkBridge
		if err := LoadJSON(path, &b); err != nil {
			Quarantine(path)
			s.corrupted++
			continue
		}
		s.indexBridgeLocked(&b)
	}

	logging.Debug("store", "reindexed: %d active, %d suspended threads, %d bridged",
		len(s.byStatus[types.ThreadActive]), len(s.byStatus[types.ThreadSuspended]), len(s.adjacency))
	return nil
}

// Reindex rebuilds indexes on demand (the CLI reindex command)
func (s *Store) Reindex() error { return s.reindex() }

func (s *Store) indexThreadLocked(t *types.Thread) {
	for _, set := range s.byStatus {
		delete(set, t.ID)
	}
	set, ok := s.byStatus[t.Status]
	if !ok {
		set = make(map[string]struct{})
		s.byStatus[t.Status] = set
	}
	set[t.ID] = struct{}{}
}

func (s *Store) indexBridgeLocked(b *types.ThinkBridge) {
	for _, end := range []string{b.SourceID, b.TargetID} {
		set, ok := s.adjacency[end]
		if !ok {
			set = make(map[string]struct{})
			s.adjacency[end] = set
		}
		set[b.ID] = struct{}{}
	}
}

func (s *Store) unindexBridgeLocked(b *types.ThinkBridge) {
	for _, end := range []string{b.SourceID, b.TargetID} {
		if set, ok := s.adjacency[end]; ok {
			delete(set, b.ID)
			if len(set) == 0 {
				delete(s.adjacency, end)
			}
		}
	}
}

// PutThread persists a thread and refreshes the status index
func (s *Store) PutThread(t *types.Thread) error {
	if err := SaveJSON(s.paths.Record(KindThread, t.ID), t); err != nil {
		return err
	}
	s.mu.Lock()
	s.indexThreadLocked(t)
	s.mu.Unlock()
	return nil
}

// GetThread loads one thread. Unknown ids yield a not_found kind; corrupt
// records are quarantined and reported as corruption.
func (s *Store) GetThread(id string) (*types.Thread, error) {
	path := s.paths.Record(KindThread, id)
	var t types.Thread
	if err := LoadJSON(path, &t); err != nil {
		if os.IsNotExist(err) {
			return nil, types.E(types.KindNotFound, "thread %s not found", id)
		}
		Quarantine(path)
		s.mu.Lock()
		s.corrupted++
		for _, set := range s.byStatus {
			delete(set, id)
		}
		s.mu.Unlock()
		return nil, types.E(types.KindCorruption, "thread %s unreadable: %v", id, err)
	}
	return &t, nil
}

// DeleteThread removes a thread record and its index entries
func (s *Store) DeleteThread(id string) error {
	if err := os.Remove(s.paths.Record(KindThread, id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	s.mu.Lock()
	for _, set := range s.byStatus {
		delete(set, id)
	}
	s.mu.Unlock()
	return nil
}

// ThreadIDs lists thread ids, optionally filtered by status, from the
// in-memory index. Sorted for stable output.
func (s *Store) ThreadIDs(statuses ...types.ThreadStatus) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	if len(statuses) == 0 {
		statuses = []types.ThreadStatus{types.ThreadActive, types.ThreadSuspended, types.ThreadArchived}
	}
	for _, st := range statuses {
		for id := range s.byStatus[st] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ThreadsByStatus loads full records for the given statuses. Records that
// fail to load are skipped (already quarantined by GetThread).
func (s *Store) ThreadsByStatus(statuses ...types.ThreadStatus) []*types.Thread {
	var out []*types.Thread
	for _, id := range s.ThreadIDs(statuses...) {
		t, err := s.GetThread(id)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

// PutBridge persists a bridge and refreshes the adjacency
func (s *Store) PutBridge(b *types.ThinkBridge) error {
	if err := SaveJSON(s.paths.Record(KindBridge, b.ID), b); err != nil {
		return err
	}
	s.mu.Lock()
	s.indexBridgeLocked(b)
	s.mu.Unlock()
	return nil
}

// GetBridge loads one bridge
func (s *Store) GetBridge(id string) (*types.ThinkBridge, error) {
	path := s.paths.Record(KindBridge, id)
	var b types.ThinkBridge
	if err := LoadJSON(path, &b); err != nil {
		if os.IsNotExist(err) {
			return nil, types.E(types.KindNotFound, "bridge %s not found", id)
		}
		Quarantine(path)
		s.mu.Lock()
		s.corrupted++
		s.mu.Unlock()
		return nil, types.E(types.KindCorruption, "bridge %s unreadable: %v", id, err)
	}
	return &b, nil
}

// DeleteBridge removes a bridge record and its adjacency entries
func (s *Store) DeleteBridge(id string) error {
	b, err := s.GetBridge(id)
	if err == nil {
		s.mu.Lock()
		s.unindexBridgeLocked(b)
		s.mu.Unlock()
	}
	if err := os.Remove(s.paths.Record(KindBridge, id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// BridgeIDs lists all bridge ids (directory scan, sorted)
func (s *Store) BridgeIDs() []string {
	entries, err := os.ReadDir(s.paths.DB(KindBridge))
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && isRecordFile(e.Name()) {
			ids = append(ids, recordID(e.Name()))
		}
	}
	sort.Strings(ids)
	return ids
}

// BridgesFor returns the live bridges touching a thread, O(deg) via the
// adjacency index.
func (s *Store) BridgesFor(threadID string) []*types.ThinkBridge {
	s.mu.RLock()
	var ids []string
	for id := range s.adjacency[threadID] {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	var out []*types.ThinkBridge
	for _, id := range ids {
		b, err := s.GetBridge(id)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

// FindBridge returns the bridge between two threads regardless of record
// order, or nil.
func (s *Store) FindBridge(a, b string) *types.ThinkBridge {
	for _, br := range s.BridgesFor(a) {
		if br.Touches(b) {
			return br
		}
	}
	return nil
}

// PutSynthesis persists a synthesis snapshot
func (s *Store) PutSynthesis(sy *types.Synthesis) error {
	return SaveJSON(s.paths.Record(KindSynthesis, sy.ID), sy)
}

// GetSynthesis loads one synthesis record
func (s *Store) GetSynthesis(id string) (*types.Synthesis, error) {
	var sy types.Synthesis
	path := s.paths.Record(KindSynthesis, id)
	if err := LoadJSON(path, &sy); err != nil {
		if os.IsNotExist(err) {
			return nil, types.E(types.KindNotFound, "synthesis %s not found", id)
		}
		Quarantine(path)
		return nil, types.E(types.KindCorruption, "synthesis %s unreadable: %v", id, err)
	}
	return &sy, nil
}

// LatestSynthesis returns the most recently generated synthesis, or nil
// when none exist.
func (s *Store) LatestSynthesis() *types.Synthesis {
	entries, err := os.ReadDir(s.paths.DB(KindSynthesis))
	if err != nil {
		return nil
	}
	var latest *types.Synthesis
	for _, e := range entries {
		if e.IsDir() || !isRecordFile(e.Name()) {
			continue
		}
		sy, err := s.GetSynthesis(recordID(e.Name()))
		if err != nil {
			continue
		}
		if latest == nil || sy.GeneratedAt.After(latest.GeneratedAt) {
			latest = sy
		}
	}
	return latest
}

// ArchiveThread moves a thread record from db/threads/ to db/archives/.
// The caller has already set status and tags.
func (s *Store) ArchiveThread(t *types.Thread) error {
	t.Status = types.ThreadArchived
	if err := SaveJSON(s.paths.Record(KindArchive, t.ID), t); err != nil {
		return err
	}
	if err := os.Remove(s.paths.Record(KindThread, t.ID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	s.mu.Lock()
	for _, set := range s.byStatus {
		delete(set, t.ID)
	}
	s.byStatus[types.ThreadArchived][t.ID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// GetArchived loads an archived thread record
func (s *Store) GetArchived(id string) (*types.Thread, error) {
	var t types.Thread
	path := s.paths.Record(KindArchive, id)
	if err := LoadJSON(path, &t); err != nil {
		if os.IsNotExist(err) {
			return nil, types.E(types.KindNotFound, "archive %s not found", id)
		}
		Quarantine(path)
		return nil, types.E(types.KindCorruption, "archive %s unreadable: %v", id, err)
	}
	return &t, nil
}

// Stats summarizes record counts for status and health output
type Stats struct {
	Active    int `json:"active"`
	Suspended int `json:"suspended"`
	Archived  int `json:"archived"`
	Bridges   int `json:"bridges"`
	Synthesis int `json:"synthesis"`
	Corrupted int `json:"corrupted"`
}

// Stats counts records by kind and status
func (s *Store) Stats() Stats {
	s.mu.RLock()
	st := Stats{
		Active:    len(s.byStatus[types.ThreadActive]),
		Suspended: len(s.byStatus[types.ThreadSuspended]),
		Corrupted: s.corrupted,
	}
	s.mu.RUnlock()

	if entries, err := os.ReadDir(s.paths.DB(KindArchive)); err == nil {
		for _, e := range entries {
			if !e.IsDir() && isRecordFile(e.Name()) {
				st.Archived++
			}
		}
	}
	st.Bridges = len(s.BridgeIDs())
	if entries, err := os.ReadDir(s.paths.DB(KindSynthesis)); err == nil {
		for _, e := range entries {
			if !e.IsDir() && isRecordFile(e.Name()) {
				st.Synthesis++
			}
		}
	}
	return st
}
