package inject

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/vthunder/plexus/internal/logging"
)

// cliPromptRe matches prompts that are really CLI invocations. Anchored so
// prose mentioning "ai status" mid-sentence does not trigger.
var cliPromptRe = regexp.MustCompile(`^ai\s+(status|threads?|bridges?|search|reindex|health|daemon|mode|help)(?:\s+.*)?$`)

// IsCLIPrompt reports whether the prompt should be routed to the CLI
// instead of the injection pipeline.
func IsCLIPrompt(prompt string) bool {
	return cliPromptRe.MatchString(strings.TrimSpace(prompt))
}

// RunCLIPrompt executes the prompt as an ai subcommand and wraps its
// stdout as the entire injection block. binPath is the ai executable
// (usually the running binary itself).
func RunCLIPrompt(ctx context.Context, binPath, prompt string) string {
	fields := strings.Fields(strings.TrimSpace(prompt))
	if len(fields) < 2 {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, binPath, fields[1:]...)
	out, err := cmd.Output()
	if err != nil && len(out) == 0 {
		logging.Debug("inject", "CLI-in-prompt failed: %v", err)
		return ""
	}
	text := strings.TrimSpace(string(out))
	if text == "" {
		return ""
	}
	return MarkerOpen + "\n" + text + "\n" + MarkerClose
}
