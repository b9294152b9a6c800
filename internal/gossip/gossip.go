// Package gossip maintains the bridge set reactively: direct bridges when
// a modified thread resembles another active thread, one-hop propagation
// through strong neighbors, and the periodic decay that kills unused
// edges.
package gossip

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vthunder/plexus/internal/embedding"
	"github.com/vthunder/plexus/internal/llm"
	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

// BridgeThreshold is the cosine similarity at which two threads earn a
// bridge; StrongBridge gates one-hop propagation.
const (
	BridgeThreshold = 0.50
	StrongBridge    = 0.30
)

// Propagator owns bridge creation, boost, gossip, and decay
type Propagator struct {
	store  *store.Store
	client llm.Client

	now func() time.Time
}

func New(st *store.Store, client llm.Client) *Propagator {
	return &Propagator{store: st, client: client, now: time.Now}
}

// OnThreadModified reacts to a thread change: bridges to every similar
// active thread are created or boosted, then strong neighbors gossip the
// thread one hop outward. Satisfies memory.Notifier.
func (p *Propagator) OnThreadModified(ctx context.Context, t *types.Thread) {
	if t == nil || len(t.Embedding) == 0 {
		return
	}

	for _, u := range p.store.ThreadsByStatus(types.ThreadActive) {
		if u.ID == t.ID {
			continue
		}
		cos := embedding.CosineSimilarity(t.Embedding, u.Embedding)
		if cos < BridgeThreshold {
			continue
		}
		p.bridgeOrBoost(ctx, t, u, cos)
	}

	p.gossipOneHop(t)
}

// bridgeOrBoost creates a direct bridge or applies the Hebbian boost to an
// existing one. The relation type comes from the model when available.
func (p *Propagator) bridgeOrBoost(ctx context.Context, t, u *types.Thread, cos float64) {
	// Relation choice happens before the pair lock; never hold a lock
	// across an LLM call.
	var relation types.BridgeRelation
	var reason string
	existing := p.store.FindBridge(t.ID, u.ID)
	if existing == nil {
		relation, reason = p.chooseRelation(ctx, t, u)
	}

	unlock := p.store.Lock(store.PairKey(t.ID, u.ID))
	defer unlock()

	now := p.now()
	if b := p.store.FindBridge(t.ID, u.ID); b != nil {
		b.MarkUsed(now)
		if err := p.store.PutBridge(b); err != nil {
			logging.Warn("gossip", "bridge boost persist failed: %v", err)
		}
		return
	}

	b := &types.ThinkBridge{
		ID:             types.NewBridgeID(),
		SourceID:       t.ID,
		TargetID:       u.ID,
		RelationType:   relation,
		Reason:         reason,
		SharedConcepts: sharedTopics(t.Topics, u.Topics),
		Confidence:     types.Clamp(cos, 0, 1),
		Status:         types.BridgeActive,
		Weight:         types.Clamp(cos, 0, 1),
		CreatedAt:      now,
		LastDecay:      now,
	}
	if err := p.store.PutBridge(b); err != nil {
		logging.Warn("gossip", "bridge persist failed: %v", err)
		return
	}
	logging.Debug("gossip", "bridged %s <-> %s (%s, %.2f)", t.ID, u.ID, relation, cos)
}

// gossipOneHop walks strong neighbors of t and bridges t to their
// neighbors when similarity allows. Propagation depth is capped at one:
// gossiped bridges never themselves propagate.
func (p *Propagator) gossipOneHop(t *types.Thread) {
	for _, tb := range p.store.BridgesFor(t.ID) {
		if tb.Weight < StrongBridge {
			continue
		}
		uID := tb.Other(t.ID)
		for _, ub := range p.store.BridgesFor(uID) {
			vID := ub.Other(uID)
			if vID == t.ID || p.store.FindBridge(t.ID, vID) != nil {
				continue
			}
			v, err := p.store.GetThread(vID)
			if err != nil || v.Status != types.ThreadActive {
				continue
			}
			cos := embedding.CosineSimilarity(t.Embedding, v.Embedding)
			if cos < BridgeThreshold {
				continue
			}

			unlock := p.store.Lock(store.PairKey(t.ID, vID))
			if p.store.FindBridge(t.ID, vID) != nil {
				unlock()
				continue
			}
			now := p.now()
			b := &types.ThinkBridge{
				ID:               types.NewBridgeID(),
				SourceID:         t.ID,
				TargetID:         vID,
				RelationType:     types.RelSibling,
				Reason:           fmt.Sprintf("gossiped via %s", uID),
				SharedConcepts:   sharedTopics(t.Topics, v.Topics),
				Confidence:       types.Clamp(cos, 0, 1),
				Status:           types.BridgeActive,
				Weight:           types.Clamp(cos, 0, 1),
				CreatedAt:        now,
				LastDecay:        now,
				PropagatedFrom:   ub.ID,
				PropagationDepth: 1,
			}
			if err := p.store.PutBridge(b); err != nil {
				logging.Warn("gossip", "gossip bridge persist failed: %v", err)
			}
			unlock()
		}
	}
}

// DecayAll applies half-life decay to every bridge and deletes the dead
// ones, plus any bridge whose endpoint has vanished or been archived.
// Returns the number deleted.
func (p *Propagator) DecayAll(now time.Time, halfLifeDays float64) int {
	deleted := 0
	for _, id := range p.store.BridgeIDs() {
		b, err := p.store.GetBridge(id)
		if err != nil {
			continue
		}

		unlock := p.store.Lock(store.PairKey(b.SourceID, b.TargetID))
		if !p.endpointLive(b.SourceID) || !p.endpointLive(b.TargetID) {
			p.store.DeleteBridge(b.ID)
			deleted++
			unlock()
			continue
		}
		b.DecayWith(now, halfLifeDays)
		if b.Dead() {
			p.store.DeleteBridge(b.ID)
			deleted++
			logging.Debug("gossip", "bridge %s died (weight %.3f)", b.ID, b.Weight)
		} else if err := p.store.PutBridge(b); err != nil {
			logging.Warn("gossip", "bridge decay persist failed: %v", err)
		}
		unlock()
	}
	return deleted
}

// OnBridgeUsed records a traversal: timestamp, use count, Hebbian boost
func (p *Propagator) OnBridgeUsed(bridgeID string) error {
	b, err := p.store.GetBridge(bridgeID)
	if err != nil {
		return err
	}
	unlock := p.store.Lock(store.PairKey(b.SourceID, b.TargetID))
	defer unlock()

	b, err = p.store.GetBridge(bridgeID)
	if err != nil {
		return err
	}
	b.MarkUsed(p.now())
	return p.store.PutBridge(b)
}

func (p *Propagator) endpointLive(threadID string) bool {
	t, err := p.store.GetThread(threadID)
	return err == nil && t.Status != types.ThreadArchived
}

// chooseRelation asks the model to classify the link; EXTENDS on any
// failure or when no model is wired.
func (p *Propagator) chooseRelation(ctx context.Context, t, u *types.Thread) (types.BridgeRelation, string) {
	if p.client == nil || !p.client.Available() {
		return types.RelExtends, "semantic similarity"
	}

	prompt := fmt.Sprintf(`Two work threads are semantically close:

A: %s (topics: %s)
B: %s (topics: %s)

Pick the relation of A to B: extends, depends, contradicts, replaces, or sibling.

Return your answer as JSON:

{"relation": "extends", "reason": "A continues the work B started"}
`, t.Title, strings.Join(t.Topics, ", "), u.Title, strings.Join(u.Topics, ", "))

	var out struct {
		Relation string `json:"relation"`
		Reason   string `json:"reason"`
	}
	if err := llm.CompleteJSON(ctx, p.client, prompt, &out); err != nil {
		logging.Debug("gossip", "relation choice failed, using extends: %v", err)
		return types.RelExtends, "semantic similarity"
	}
	switch types.BridgeRelation(strings.ToLower(out.Relation)) {
	case types.RelExtends, types.RelDepends, types.RelContradicts, types.RelReplaces, types.RelSibling:
		return types.BridgeRelation(strings.ToLower(out.Relation)), out.Reason
	}
	return types.RelExtends, "semantic similarity"
}

func sharedTopics(a, b []string) []string {
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
