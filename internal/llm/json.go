package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/vthunder/plexus/internal/types"
)

// CompleteJSON runs a prompt expected to yield JSON and decodes it into
// out, stripping markdown fences first. Models sometimes wrap JSON in
// prose or code blocks despite instructions.
func CompleteJSON(ctx context.Context, c Client, prompt string, out any) error {
	raw, err := c.Complete(ctx, prompt)
	if err != nil {
		return err
	}
	cleaned := ExtractJSON(raw)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return types.E(types.KindTransient, "failed to parse model JSON: %v", err)
	}
	return nil
}

// ExtractJSON extracts JSON from markdown code blocks or returns the input if no code block found
func ExtractJSON(s string) string {
	if start := strings.Index(s, "```json"); start != -1 {
		start += 7 // Skip past ```json
		if end := strings.Index(s[start:], "```"); end != -1 {
			return strings.TrimSpace(s[start : start+end])
		}
	}
	if start := strings.Index(s, "```"); start != -1 {
		start += 3 // Skip past ```
		if end := strings.Index(s[start:], "```"); end != -1 {
			content := strings.TrimSpace(s[start : start+end])
			// Skip language identifier line if present
			if idx := strings.Index(content, "\n"); idx != -1 {
				content = content[idx+1:]
			}
			return strings.TrimSpace(content)
		}
	}
	return strings.TrimSpace(s)
}
