// Package share implements the cross-agent snapshot surface: published
// deep copies of threads, subscriptions to other agents' snapshots, and
// bilateral bridge proposals with a TTL. Original thread ids never cross
// the boundary; snapshots update only on explicit sync.
package share

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

// ProposalTTL bounds how long a bridge proposal waits for acceptance
const ProposalTTL = 24 * time.Hour

// SharedThread is a sanitized snapshot of a thread. SharedID is fresh;
// nothing references the source thread id.
type SharedThread struct {
	SharedID    string          `json:"shared_id"`
	Agent       string          `json:"agent,omitempty"`
	Title       string          `json:"title"`
	Summary     string          `json:"summary,omitempty"`
	Topics      []string        `json:"topics,omitempty"`
	Messages    []types.Message `json:"messages,omitempty"`
	Embedding   []float64       `json:"embedding,omitempty"`
	PublishedAt time.Time       `json:"published_at"`
	SyncedAt    time.Time       `json:"synced_at,omitempty"`
}

// Proposal is a pending cross-agent bridge awaiting bilateral consent
type Proposal struct {
	ID             string               `json:"id"`
	FromAgent      string               `json:"from_agent"`
	SharedID       string               `json:"shared_id"`
	TargetSharedID string               `json:"target_shared_id"`
	Relation       types.BridgeRelation `json:"relation"`
	Reason         string               `json:"reason,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	ExpiresAt      time.Time            `json:"expires_at"`
}

// InterAgentBridge is a materialized cross-agent link (both sides agreed)
type InterAgentBridge struct {
	ID             string               `json:"id"`
	SharedID       string               `json:"shared_id"`
	TargetSharedID string               `json:"target_shared_id"`
	Relation       types.BridgeRelation `json:"relation"`
	Reason         string               `json:"reason,omitempty"`
	AcceptedAt     time.Time            `json:"accepted_at"`
}

// Exchange manages the shared-cognition directories for one project
type Exchange struct {
	store *store.Store
	agent string

	now func() time.Time
}

func New(st *store.Store, agent string) *Exchange {
	return &Exchange{store: st, agent: agent, now: time.Now}
}

// Publish snapshots a thread under db/shared/published/. The snapshot
// carries a fresh shared id and copies of the messages with fresh ids.
func (e *Exchange) Publish(threadID string) (*SharedThread, error) {
	t, err := e.store.GetThread(threadID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	snap := &SharedThread{
		SharedID:    types.NewID("share"),
		Agent:       e.agent,
		Title:       t.Title,
		Summary:     t.Summary,
		Topics:      append([]string(nil), t.Topics...),
		Embedding:   append([]float64(nil), t.Embedding...),
		PublishedAt: now,
		SyncedAt:    now,
	}
	for _, msg := range t.Messages {
		msg.ID = types.NewMessageID()
		msg.Metadata = nil
		snap.Messages = append(snap.Messages, msg)
	}
	path := e.store.Paths().SharedRecord(store.SharedPublished, snap.SharedID)
	if err := store.SaveJSON(path, snap); err != nil {
		return nil, err
	}
	// Remember which thread feeds this snapshot so sync can find it. The
	// mapping stays on our side of the boundary.
	e.rememberSource(snap.SharedID, threadID)
	logging.Info("share", "published %s as %s", threadID, snap.SharedID)
	return snap, nil
}

// sourceMap records shared_id -> thread_id, private to this agent
type sourceMap map[string]string

func (e *Exchange) sourcePath() string {
	return filepath.Join(e.store.Paths().Shared(store.SharedPublished), ".sources.json")
}

func (e *Exchange) rememberSource(sharedID, threadID string) {
	m := e.loadSources()
	m[sharedID] = threadID
	if err := store.SaveJSON(e.sourcePath(), m); err != nil {
		logging.Warn("share", "source map save failed: %v", err)
	}
}

func (e *Exchange) loadSources() sourceMap {
	m := sourceMap{}
	if err := store.LoadJSON(e.sourcePath(), &m); err != nil && !os.IsNotExist(err) {
		logging.Warn("share", "source map unreadable: %v", err)
	}
	return m
}

// Unshare removes a published snapshot
func (e *Exchange) Unshare(sharedID string) error {
	path := e.store.Paths().SharedRecord(store.SharedPublished, sharedID)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return types.E(types.KindNotFound, "shared snapshot %s not found", sharedID)
		}
		return err
	}
	m := e.loadSources()
	delete(m, sharedID)
	store.SaveJSON(e.sourcePath(), m)
	return nil
}

// Sync re-snapshots a published share from its source thread. Updates
// cross the boundary only through this explicit call.
func (e *Exchange) Sync(sharedID string) (*SharedThread, error) {
	threadID, ok := e.loadSources()[sharedID]
	if !ok {
		return nil, types.E(types.KindNotFound, "no source thread for %s", sharedID)
	}
	path := e.store.Paths().SharedRecord(store.SharedPublished, sharedID)
	var snap SharedThread
	if err := store.LoadJSON(path, &snap); err != nil {
		return nil, types.E(types.KindNotFound, "shared snapshot %s not found", sharedID)
	}
	t, err := e.store.GetThread(threadID)
	if err != nil {
		return nil, err
	}
	snap.Title = t.Title
	snap.Summary = t.Summary
	snap.Topics = append([]string(nil), t.Topics...)
	snap.Embedding = append([]float64(nil), t.Embedding...)
	snap.Messages = nil
	for _, msg := range t.Messages {
		msg.ID = types.NewMessageID()
		msg.Metadata = nil
		snap.Messages = append(snap.Messages, msg)
	}
	snap.SyncedAt = e.now()
	if err := store.SaveJSON(path, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Subscribe copies a published snapshot (from this or another agent's
// published directory) under db/shared/subscriptions/.
func (e *Exchange) Subscribe(snap *SharedThread) error {
	if snap == nil || snap.SharedID == "" {
		return types.E(types.KindInvalidState, "empty snapshot")
	}
	path := e.store.Paths().SharedRecord(store.SharedSubscriptions, snap.SharedID)
	return store.SaveJSON(path, snap)
}

// SubscribeByID subscribes to a snapshot already present in the local
// published directory (same-machine agent exchange).
func (e *Exchange) SubscribeByID(sharedID string) (*SharedThread, error) {
	var snap SharedThread
	path := e.store.Paths().SharedRecord(store.SharedPublished, sharedID)
	if err := store.LoadJSON(path, &snap); err != nil {
		return nil, types.E(types.KindNotFound, "shared snapshot %s not found", sharedID)
	}
	if err := e.Subscribe(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Subscriptions lists the snapshots this agent follows
func (e *Exchange) Subscriptions() []*SharedThread {
	return readSnapshots(e.store.Paths().Shared(store.SharedSubscriptions))
}

// Published lists this agent's published snapshots
func (e *Exchange) Published() []*SharedThread {
	return readSnapshots(e.store.Paths().Shared(store.SharedPublished))
}

func readSnapshots(dir string) []*SharedThread {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []*SharedThread
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") ||
			strings.Contains(name, ".corrupt.") {
			continue
		}
		var snap SharedThread
		if err := store.LoadJSON(filepath.Join(dir, name), &snap); err != nil {
			continue
		}
		out = append(out, &snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SharedID < out[j].SharedID })
	return out
}

// Propose records an outgoing bridge proposal with a 24h TTL
func (e *Exchange) Propose(sharedID, targetSharedID string, relation types.BridgeRelation, reason string) (*Proposal, error) {
	if relation == "" {
		relation = types.RelExtends
	}
	now := e.now()
	p := &Proposal{
		ID:             types.NewID("proposal"),
		FromAgent:      e.agent,
		SharedID:       sharedID,
		TargetSharedID: targetSharedID,
		Relation:       relation,
		Reason:         reason,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ProposalTTL),
	}
	path := e.store.Paths().SharedRecord(store.SharedProposalsOut, p.ID)
	if err := store.SaveJSON(path, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Accept materializes an incoming (or locally outgoing, for same-machine
// exchange) proposal into an inter-agent bridge and removes the proposal.
func (e *Exchange) Accept(proposalID string) (*InterAgentBridge, error) {
	var p Proposal
	var src string
	for _, sub := range []string{store.SharedProposalsIn, store.SharedProposalsOut} {
		path := e.store.Paths().SharedRecord(sub, proposalID)
		if err := store.LoadJSON(path, &p); err == nil {
			src = path
			break
		}
	}
	if src == "" {
		return nil, types.E(types.KindNotFound, "proposal %s not found", proposalID)
	}
	if e.now().After(p.ExpiresAt) {
		os.Remove(src)
		return nil, types.E(types.KindInvalidState, "proposal %s expired", proposalID)
	}

	b := &InterAgentBridge{
		ID:             types.NewBridgeID(),
		SharedID:       p.SharedID,
		TargetSharedID: p.TargetSharedID,
		Relation:       p.Relation,
		Reason:         p.Reason,
		AcceptedAt:     e.now(),
	}
	path := e.store.Paths().SharedRecord(store.SharedBridges, b.ID)
	if err := store.SaveJSON(path, b); err != nil {
		return nil, err
	}
	os.Remove(src)
	logging.Info("share", "accepted proposal %s -> bridge %s", proposalID, b.ID)
	return b, nil
}

// SweepExpired deletes proposals past their TTL. Called by the daemon
// maintenance tick. Returns the number removed.
func (e *Exchange) SweepExpired(now time.Time) int {
	removed := 0
	for _, sub := range []string{store.SharedProposalsIn, store.SharedProposalsOut} {
		dir := e.store.Paths().Shared(sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			var p Proposal
			if err := store.LoadJSON(path, &p); err != nil {
				continue
			}
			if now.After(p.ExpiresAt) {
				os.Remove(path)
				removed++
			}
		}
	}
	if removed > 0 {
		logging.Debug("share", "swept %d expired proposals", removed)
	}
	return removed
}
