// Package mcp exposes the memory graph as MCP tools over stdio. Every
// handler forwards to the daemon socket; when the daemon is down the
// tool returns an error result instead of failing the protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/plexus/internal/daemon"
)

// Serve runs the stdio MCP server until the client hangs up. socketPath
// is the daemon socket for this project.
func Serve(socketPath, version string) error {
	s := server.NewMCPServer(
		"plexus-memory",
		version,
		server.WithToolCapabilities(true),
	)

	t := &toolset{socketPath: socketPath}

	s.AddTool(recallTool(), t.handleRecall)
	s.AddTool(pinTool(), t.handlePin)
	s.AddTool(mergeTool(), t.handleMerge)
	s.AddTool(splitTool(), t.handleSplit)
	s.AddTool(unlockTool(), t.handleUnlock)
	s.AddTool(focusTool(), t.handleFocus)
	s.AddTool(unfocusTool(), t.handleUnfocus)
	s.AddTool(rateTool(), t.handleRate)
	s.AddTool(suggestionsTool(), t.handleSuggestions)
	s.AddTool(statusTool(), t.handleStatus)

	return server.ServeStdio(s)
}

type toolset struct {
	socketPath string
}

// call forwards one op to the daemon and renders the result as tool text
func (t *toolset) call(req daemon.Request) (*mcp.CallToolResult, error) {
	client := daemon.NewClient(t.socketPath, daemon.CLITimeout)
	reply, err := client.Call(req)
	if err != nil {
		if reply != nil && reply.Error != nil {
			return mcp.NewToolResultError(reply.Error.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("memory daemon unavailable: %v (start it with `ai daemon start`)", err)), nil
	}
	if reply.Status != "ok" {
		return mcp.NewToolResultError("unexpected daemon reply"), nil
	}
	if reply.Result == nil {
		return mcp.NewToolResultText("ok"), nil
	}
	pretty, err := json.MarshalIndent(json.RawMessage(reply.Result), "", "  ")
	if err != nil {
		return mcp.NewToolResultText(string(reply.Result)), nil
	}
	return mcp.NewToolResultText(string(pretty)), nil
}

func args(req mcp.CallToolRequest) map[string]any {
	m, _ := req.Params.Arguments.(map[string]any)
	return m
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) float64 {
	n, _ := m[key].(float64)
	return n
}

func boolean(m map[string]any, key string, def bool) bool {
	b, ok := m[key].(bool)
	if !ok {
		return def
	}
	return b
}

func strSlice(m map[string]any, key string) []string {
	raw, _ := m[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func recallTool() mcp.Tool {
	return mcp.NewTool("memory_recall",
		mcp.WithDescription("Search the persistent memory graph for past work relevant to a query. Suspended threads matching strongly are reactivated. Returns matching threads with summaries and related bridges."),
		mcp.WithString("query", mcp.Required(), mcp.Description("What to search for (free text)")),
		mcp.WithBoolean("include_suspended", mcp.Description("Whether to search dormant threads too. Default: true")),
		mcp.WithNumber("limit", mcp.Description("Maximum threads to return (default 5)")),
	)
}

func (t *toolset) handleRecall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := args(req)
	query := str(a, "query")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	return t.call(daemon.Request{
		Op:               "recall",
		Query:            query,
		IncludeSuspended: boolean(a, "include_suspended", true),
		Limit:            int(num(a, "limit")),
	})
}

func pinTool() mcp.Tool {
	return mcp.NewTool("memory_pin",
		mcp.WithDescription("Pin important context as a protected thread. Pinned threads never decay below their boosted weight and survive quota enforcement. Re-pinning the same title updates it."),
		mcp.WithString("content", mcp.Required(), mcp.Description("The context to remember")),
		mcp.WithString("title", mcp.Description("Short title for the pinned thread")),
		mcp.WithNumber("weight_boost", mcp.Description("Extra weight above 1.0, clamped to [0, 0.5]")),
	)
}

func (t *toolset) handlePin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := args(req)
	content := str(a, "content")
	if content == "" {
		return mcp.NewToolResultError("content is required"), nil
	}
	return t.call(daemon.Request{
		Op:          "pin",
		Content:     content,
		Title:       str(a, "title"),
		Topics:      strSlice(a, "topics"),
		WeightBoost: num(a, "weight_boost"),
	})
}

func mergeTool() mcp.Tool {
	return mcp.NewTool("memory_merge",
		mcp.WithDescription("Merge two threads covering the same work. The absorbed thread's messages, topics, and bridges move to the survivor; the absorbed thread is archived."),
		mcp.WithString("survivor_id", mcp.Required(), mcp.Description("Thread that remains")),
		mcp.WithString("absorbed_id", mcp.Required(), mcp.Description("Thread to fold into the survivor")),
	)
}

func (t *toolset) handleMerge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := args(req)
	survivor, absorbed := str(a, "survivor_id"), str(a, "absorbed_id")
	if survivor == "" || absorbed == "" {
		return mcp.NewToolResultError("survivor_id and absorbed_id are required"), nil
	}
	return t.call(daemon.Request{Op: "merge", SurvivorID: survivor, AbsorbedID: absorbed})
}

func splitTool() mcp.Tool {
	return mcp.NewTool("memory_split",
		mcp.WithDescription("Split a thread that has grown past one topic. Call without confirm to list its messages, then call with confirm, titles, and message_groups (arrays of message ids, one array per new thread). Split children are lock-protected against re-merge until unlocked."),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread to split")),
		mcp.WithBoolean("confirm", mcp.Description("False (default) lists messages; true performs the split")),
		mcp.WithArray("titles", mcp.Description("Title per new thread, same order as message_groups")),
		mcp.WithArray("message_groups", mcp.Description("Message id arrays, one per new thread")),
		mcp.WithString("lock", mcp.Description("Lock mode: agent_release (default) or compaction")),
	)
}

func (t *toolset) handleSplit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := args(req)
	threadID := str(a, "thread_id")
	if threadID == "" {
		return mcp.NewToolResultError("thread_id is required"), nil
	}
	var groups [][]string
	if raw, ok := a["message_groups"].([]any); ok {
		for _, g := range raw {
			if inner, ok := g.([]any); ok {
				var ids []string
				for _, v := range inner {
					if s, ok := v.(string); ok {
						ids = append(ids, s)
					}
				}
				groups = append(groups, ids)
			}
		}
	}
	return t.call(daemon.Request{
		Op:            "split",
		ThreadID:      threadID,
		Confirm:       boolean(a, "confirm", false),
		Titles:        strSlice(a, "titles"),
		MessageGroups: groups,
		Lock:          str(a, "lock"),
	})
}

func unlockTool() mcp.Tool {
	return mcp.NewTool("memory_unlock",
		mcp.WithDescription("Release the split lock on a thread, making it eligible for merge suggestions again."),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread to unlock")),
	)
}

func (t *toolset) handleUnlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := args(req)
	threadID := str(a, "thread_id")
	if threadID == "" {
		return mcp.NewToolResultError("thread_id is required"), nil
	}
	return t.call(daemon.Request{Op: "unlock", ThreadID: threadID})
}

func focusTool() mcp.Tool {
	return mcp.NewTool("memory_focus",
		mcp.WithDescription("Boost a topic, thread id, or title fragment in context ranking for upcoming turns. Up to 5 focus entries; setting a sixth evicts the oldest."),
		mcp.WithString("topic", mcp.Required(), mcp.Description("Topic, thread id, or title fragment to prioritize")),
		mcp.WithNumber("weight", mcp.Description("Boost strength in (0, 1], default 0.5")),
	)
}

func (t *toolset) handleFocus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := args(req)
	topic := str(a, "topic")
	if topic == "" {
		return mcp.NewToolResultError("topic is required"), nil
	}
	weight := num(a, "weight")
	if weight == 0 {
		weight = 0.5
	}
	return t.call(daemon.Request{Op: "focus", Topic: topic, Weight: weight})
}

func unfocusTool() mcp.Tool {
	return mcp.NewTool("memory_unfocus",
		mcp.WithDescription("Remove a focus entry set earlier with memory_focus."),
		mcp.WithString("topic", mcp.Required(), mcp.Description("The focus entry to remove")),
	)
}

func (t *toolset) handleUnfocus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := args(req)
	topic := str(a, "topic")
	if topic == "" {
		return mcp.NewToolResultError("topic is required"), nil
	}
	return t.call(daemon.Request{Op: "unfocus", Topic: topic})
}

func rateTool() mcp.Tool {
	return mcp.NewTool("memory_rate",
		mcp.WithDescription("Rate whether an injected thread was actually useful this turn. Ratings adjust the thread's relevance score, which scales its future ranking."),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread that was injected")),
		mcp.WithBoolean("useful", mcp.Required(), mcp.Description("Whether the context helped")),
		mcp.WithString("reason", mcp.Description("Short note on why (optional)")),
	)
}

func (t *toolset) handleRate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := args(req)
	threadID := str(a, "thread_id")
	if threadID == "" {
		return mcp.NewToolResultError("thread_id is required"), nil
	}
	return t.call(daemon.Request{
		Op:       "rate_context",
		ThreadID: threadID,
		Useful:   boolean(a, "useful", false),
		Reason:   str(a, "reason"),
	})
}

func suggestionsTool() mcp.Tool {
	return mcp.NewTool("memory_suggestions",
		mcp.WithDescription("Get maintenance suggestions: near-duplicate threads worth merging, sprawling threads worth splitting, dormant threads worth recalling, plus daemon health."),
	)
}

func (t *toolset) handleSuggestions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.call(daemon.Request{Op: "suggestions"})
}

func statusTool() mcp.Tool {
	return mcp.NewTool("memory_status",
		mcp.WithDescription("Get the memory daemon's status: thread counts by state, bridge count, mode and quota, heartbeat, focus entries."),
	)
}

func (t *toolset) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return t.call(daemon.Request{Op: "status"})
}
