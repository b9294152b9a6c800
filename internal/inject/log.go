package inject

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// JournalEntry is one line of the injection log
type JournalEntry struct {
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session,omitempty"`
	Sections  []string  `json:"sections"`
	Chars     int       `json:"chars"`
}

// Journal appends injection events to .ai/inject.log as JSONL, for
// debugging what the agent was shown and when.
type Journal struct {
	path string
	mu   sync.Mutex
}

func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Record writes one entry. Journal loss never fails an injection.
func (j *Journal) Record(sessionID string, sections []string, chars int, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(JournalEntry{
		Timestamp: now,
		SessionID: sessionID,
		Sections:  sections,
		Chars:     chars,
	})
	if err != nil {
		return
	}
	f.Write(append(data, '\n'))
}
