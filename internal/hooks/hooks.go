// Package hooks implements the shims the coding agent's hook system
// invokes around each turn. The contract is strict: read one JSON event
// from stdin, talk to the daemon inside the connect budget, and never
// fail loudly. A broken memory layer must not break the agent.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/vthunder/plexus/internal/config"
	"github.com/vthunder/plexus/internal/daemon"
	"github.com/vthunder/plexus/internal/embedding"
	"github.com/vthunder/plexus/internal/inject"
	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/retrieve"
	"github.com/vthunder/plexus/internal/state"
	"github.com/vthunder/plexus/internal/store"
)

// Event is the host's hook payload. Field names follow the hook wire
// format; unknown fields are ignored.
type Event struct {
	SessionID string `json:"session_id,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	ToolInput struct {
		FilePath string `json:"file_path,omitempty"`
		Command  string `json:"command,omitempty"`
	} `json:"tool_input,omitempty"`
	ToolResponse json.RawMessage `json:"tool_response,omitempty"`
	Trigger      string          `json:"trigger,omitempty"`
}

func readEvent(r io.Reader) (Event, error) {
	var ev Event
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return ev, err
	}
	if len(data) == 0 {
		return ev, nil
	}
	err = json.Unmarshal(data, &ev)
	return ev, err
}

// toolContent flattens the tool response into capture text
func (ev Event) toolContent() string {
	if len(ev.ToolResponse) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(ev.ToolResponse, &s); err == nil {
		return s
	}
	return string(ev.ToolResponse)
}

// UserPrompt handles the pre-turn hook: print the context injection for
// this prompt to stdout. Always exits 0; a silent turn beats a broken one.
func UserPrompt(root string, stdin io.Reader, stdout io.Writer) int {
	if config.SkipHooks() {
		return 0
	}
	ev, err := readEvent(stdin)
	if err != nil || ev.Prompt == "" {
		return 0
	}

	if inject.IsCLIPrompt(ev.Prompt) {
		bin, err := os.Executable()
		if err != nil {
			return 0
		}
		if out := inject.RunCLIPrompt(context.Background(), bin, ev.Prompt); out != "" {
			fmt.Fprintln(stdout, out)
		}
		return 0
	}

	paths := store.Paths{Root: root}
	client := daemon.NewClient(paths.Socket(), daemon.HookTimeout)
	reply, err := client.Call(daemon.Request{
		Op:        "prompt_classify",
		Prompt:    ev.Prompt,
		SessionID: ev.SessionID,
	})
	if err == nil && reply.Result != nil {
		var out struct {
			Payload string `json:"payload"`
		}
		if json.Unmarshal(reply.Result, &out) == nil && out.Payload != "" {
			fmt.Fprintln(stdout, out.Payload)
		}
		return 0
	}

	// Daemon down: build the injection locally from the on-disk graph.
	// No classification happens in this path, reads only.
	logging.Debug("hooks", "daemon unreachable, local injection: %v", err)
	if payload := localInjection(root, ev.Prompt, ev.SessionID); payload != "" {
		fmt.Fprintln(stdout, payload)
	}
	return 0
}

// localInjection assembles a read-only payload without the daemon
func localInjection(root, prompt, sessionID string) string {
	st, err := store.Open(root)
	if err != nil {
		return ""
	}
	paths := st.Paths()
	cfg, err := config.Load(paths.Config())
	if err != nil {
		return ""
	}
	hb, err := state.OpenHeartbeat(paths.Heartbeat())
	if err != nil {
		return ""
	}
	focus, err := state.OpenFocus(paths.Focus())
	if err != nil {
		return ""
	}
	rules, err := state.OpenRules(paths.UserRules())
	if err != nil {
		return ""
	}
	ranker := retrieve.NewRanker(st, embedding.New(cfg.LLM.EmbeddingURL, cfg.LLM.EmbeddingModel, 0))
	builder := inject.New(st, ranker, hb, focus, rules, func() config.Config { return cfg })
	return builder.Build(prompt, sessionID)
}

// PostTool handles the post-tool hook: fire one capture at the daemon.
// Best effort, no local fallback, nothing printed.
func PostTool(root string, stdin io.Reader) int {
	if config.SkipHooks() {
		return 0
	}
	ev, err := readEvent(stdin)
	if err != nil || ev.ToolName == "" {
		return 0
	}
	content := ev.toolContent()
	if content == "" {
		return 0
	}

	paths := store.Paths{Root: root}
	client := daemon.NewClient(paths.Socket(), daemon.HookTimeout)
	_, err = client.Call(daemon.Request{
		Op:        "capture",
		Tool:      ev.ToolName,
		Content:   content,
		FilePath:  ev.ToolInput.FilePath,
		SessionID: ev.SessionID,
	})
	if err != nil {
		logging.Debug("hooks", "capture dropped: %v", err)
	}
	return 0
}

// PreCompact handles the pre-compaction hook: ask the daemon to
// synthesize the working state and print it for reinjection.
func PreCompact(root string, stdin io.Reader, stdout io.Writer) int {
	if config.SkipHooks() {
		return 0
	}
	io.Copy(io.Discard, stdin)

	paths := store.Paths{Root: root}
	client := daemon.NewClient(paths.Socket(), daemon.CLITimeout)
	reply, err := client.Call(daemon.Request{Op: "compact", Strategy: "normal"})
	if err != nil || reply.Result == nil {
		logging.Debug("hooks", "pre-compact synthesis unavailable: %v", err)
		return 0
	}
	var out struct {
		Synthesis struct {
			Summary string `json:"summary"`
		} `json:"synthesis"`
	}
	if json.Unmarshal(reply.Result, &out) == nil && out.Synthesis.Summary != "" {
		fmt.Fprintln(stdout, inject.MarkerOpen+"\nWorking state before compaction:\n"+out.Synthesis.Summary+"\n"+inject.MarkerClose)
	}
	return 0
}
