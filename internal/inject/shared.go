package inject

import (
	"fmt"
	"strings"

	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/share"
)

// sharedSection surfaces subscribed cross-agent snapshots whose topics
// intersect the prompt. Read-only: snapshots never become threads here.
func (b *Builder) sharedSection(prompt string) section {
	sec := section{name: "shared", header: "## Shared snapshots", atomic: true}
	subs := b.subscriptions()
	if len(subs) == 0 {
		return sec
	}

	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(prompt)) {
		tokens[strings.Trim(tok, ".,!?;:'\"")] = true
	}

	for _, snap := range subs {
		matched := false
		for _, topic := range snap.Topics {
			if tokens[strings.ToLower(topic)] {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		entry := fmt.Sprintf("- [%s] %s", snap.Agent, snap.Title)
		if snap.Summary != "" {
			entry += ": " + logging.Truncate(snap.Summary, 100)
		}
		sec.entries = append(sec.entries, entry)
		if len(sec.entries) == 3 {
			break
		}
	}
	return sec
}

func (b *Builder) subscriptions() []*share.SharedThread {
	return share.New(b.store, "").Subscriptions()
}
