package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/vthunder/plexus/internal/config"
	"github.com/vthunder/plexus/internal/types"
)

type stubClient struct {
	reply string
	err   error
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return s.reply, s.err
}
func (s *stubClient) Available() bool { return s.err == nil }

func TestExtractJSONFencedBlock(t *testing.T) {
	in := "Here is the result:\n```json\n{\"title\": \"auth work\"}\n```\nDone."
	got := ExtractJSON(in)
	if got != `{"title": "auth work"}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONBareFence(t *testing.T) {
	in := "```\n{\"ok\": true}\n```"
	if got := ExtractJSON(in); got != `{"ok": true}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONNoFence(t *testing.T) {
	in := "  {\"raw\": 1}  "
	if got := ExtractJSON(in); got != `{"raw": 1}` {
		t.Errorf("got %q", got)
	}
}

func TestCompleteJSONDecodes(t *testing.T) {
	c := &stubClient{reply: "```json\n{\"decision\": \"continue\", \"score\": 0.7}\n```"}

	var out struct {
		Decision string  `json:"decision"`
		Score    float64 `json:"score"`
	}
	if err := CompleteJSON(context.Background(), c, "classify this", &out); err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if out.Decision != "continue" || out.Score != 0.7 {
		t.Errorf("decoded %+v", out)
	}
}

func TestCompleteJSONBadPayloadIsTransient(t *testing.T) {
	c := &stubClient{reply: "I cannot answer that in JSON, sorry."}

	var out map[string]any
	err := CompleteJSON(context.Background(), c, "classify", &out)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if types.KindOf(err) != types.KindTransient {
		t.Errorf("kind = %q, want transient", types.KindOf(err))
	}
}

func TestCompleteJSONPropagatesClientError(t *testing.T) {
	c := &stubClient{err: errors.New("boom")}

	var out map[string]any
	if err := CompleteJSON(context.Background(), c, "x", &out); err == nil {
		t.Fatal("expected error from client")
	}
}

func TestCLIClientMissingBinary(t *testing.T) {
	c := NewCLI(config.LLM{ClaudeCLIPath: "/nonexistent/claude-cli"}, t.TempDir())
	if c.Available() {
		t.Fatal("bogus path should not resolve")
	}
	if _, err := c.Complete(context.Background(), "hello"); err == nil {
		t.Fatal("expected error when CLI missing")
	}
}
