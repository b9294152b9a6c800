package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/vthunder/plexus/internal/consolidate"
	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/memory"
	"github.com/vthunder/plexus/internal/retrieve"
	"github.com/vthunder/plexus/internal/types"
)

// Request is one RPC frame. Ops use the subset of fields they need; the
// rest stay zero.
type Request struct {
	Op string `json:"op"`

	// capture / inject
	Tool      string `json:"tool,omitempty"`
	Content   string `json:"content,omitempty"`
	FilePath  string `json:"file_path,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Prompt    string `json:"prompt,omitempty"`

	// recall
	Query            string `json:"query,omitempty"`
	IncludeSuspended bool   `json:"include_suspended,omitempty"`
	Limit            int    `json:"limit,omitempty"`

	// merge / split / unlock
	SurvivorID    string     `json:"survivor_id,omitempty"`
	AbsorbedID    string     `json:"absorbed_id,omitempty"`
	ThreadID      string     `json:"thread_id,omitempty"`
	Confirm       bool       `json:"confirm,omitempty"`
	Titles        []string   `json:"titles,omitempty"`
	MessageGroups [][]string `json:"message_groups,omitempty"`
	Lock          string     `json:"lock,omitempty"`

	// focus / pin / rate
	Topic       string   `json:"topic,omitempty"`
	Weight      float64  `json:"weight,omitempty"`
	Title       string   `json:"title,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	WeightBoost float64  `json:"weight_boost,omitempty"`
	Useful      bool     `json:"useful,omitempty"`
	Reason      string   `json:"reason,omitempty"`

	// compact
	Strategy string `json:"strategy,omitempty"`
	DryRun   bool   `json:"dry_run,omitempty"`

	// share
	SharedID       string `json:"shared_id,omitempty"`
	TargetSharedID string `json:"target_shared_id,omitempty"`
	ProposalID     string `json:"proposal_id,omitempty"`
	Relation       string `json:"relation,omitempty"`
}

// Reply is one response frame. Result holds the op-specific payload.
type Reply struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *types.OpError  `json:"error,omitempty"`
}

func okReply(result any) Reply {
	if result == nil {
		return Reply{Status: "ok"}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return errorReply(types.KindCorruption, "marshal result: %v", err)
	}
	return Reply{Status: "ok", Result: raw}
}

func errorReply(kind types.ErrKind, format string, args ...any) Reply {
	return Reply{
		Status: "error",
		Error:  &types.OpError{Kind: kind, Message: fmt.Sprintf(format, args...)},
	}
}

func errReply(err error) Reply {
	var op *types.OpError
	if e, ok := err.(*types.OpError); ok {
		op = e
	} else {
		op = &types.OpError{Kind: types.KindTransient, Message: err.Error()}
	}
	return Reply{Status: "error", Error: op}
}

// dispatchSafe wraps dispatch with panic recovery so one bad request
// cannot take the daemon down.
func (s *Server) dispatchSafe(ctx context.Context, req Request) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("daemon", "panic in op %s: %v", req.Op, r)
			reply = errorReply(types.KindInvalidState, "internal error handling %s", req.Op)
		}
	}()
	return s.dispatch(ctx, req)
}

func (s *Server) dispatch(ctx context.Context, req Request) Reply {
	logging.Debug("daemon", "op %s", req.Op)
	switch req.Op {
	case "ping":
		return okReply(map[string]any{"pong": true, "pid": os.Getpid(), "uptime": time.Since(s.startTime).Round(time.Second).String()})
	case "capture":
		return s.opCapture(ctx, req)
	case "prompt_classify":
		return s.opPromptClassify(ctx, req)
	case "recall":
		return s.opRecall(req)
	case "merge":
		return s.opMerge(req)
	case "split":
		return s.opSplit(req)
	case "unlock":
		return s.opUnlock(req)
	case "rename":
		return s.opRename(req)
	case "suggestions":
		return okReply(s.analyzer.Analyze())
	case "compact":
		return s.opCompact(ctx, req)
	case "focus":
		return okReply(s.focus.Set(req.Topic, req.Weight, time.Now()))
	case "unfocus":
		return okReply(s.focus.Unset(req.Topic))
	case "pin":
		return s.opPin(req)
	case "rate_context":
		return s.opRate(req)
	case "status":
		return s.opStatus()
	case "shutdown":
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.Stop()
		}()
		return okReply(map[string]string{"message": "shutting down"})
	case "share":
		return wrap(s.exchange.Publish(req.ThreadID))
	case "unshare":
		if err := s.exchange.Unshare(req.SharedID); err != nil {
			return errReply(err)
		}
		return okReply(nil)
	case "sync":
		return wrap(s.exchange.Sync(req.SharedID))
	case "subscribe":
		return wrap(s.exchange.SubscribeByID(req.SharedID))
	case "propose_bridge":
		return wrap(s.exchange.Propose(req.SharedID, req.TargetSharedID, types.BridgeRelation(req.Relation), req.Reason))
	case "accept_bridge":
		return wrap(s.exchange.Accept(req.ProposalID))
	default:
		return errorReply(types.KindInvalidState, "unknown op %q", req.Op)
	}
}

func wrap[T any](result T, err error) Reply {
	if err != nil {
		return errReply(err)
	}
	return okReply(result)
}

// opCapture feeds one tool result (or user prompt) through the
// classification pipeline. Honors the auto-capture switch.
func (s *Server) opCapture(ctx context.Context, req Request) Reply {
	cfg := s.Config()
	if !cfg.Settings.AutoCapture && req.Tool != "" {
		return okReply(map[string]string{"skipped": "auto_capture disabled"})
	}
	if req.Content == "" {
		return errorReply(types.KindInvalidState, "capture needs content")
	}
	meta := map[string]any{}
	if req.FilePath != "" {
		meta["file_path"] = req.FilePath
	}
	if req.SessionID != "" {
		meta["session_id"] = req.SessionID
	}
	thread, decision, err := s.manager.ProcessInput(ctx, req.Content, memory.SourceForTool(req.Tool), meta)
	if err != nil {
		return errReply(err)
	}
	out := map[string]any{"decision": decision}
	if thread != nil {
		out["thread_id"] = thread.ID
		out["thread_title"] = thread.Title
	}
	return okReply(out)
}

// opPromptClassify builds the context payload for one user turn. The
// prompt is classified into the graph off the request path so the hook
// gets its reply inside the connect budget.
func (s *Server) opPromptClassify(ctx context.Context, req Request) Reply {
	payload := s.injector.Build(req.Prompt, req.SessionID)

	prompt := req.Prompt
	sessionID := req.SessionID
	if prompt != "" {
		go func() {
			bctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
			defer cancel()
			meta := map[string]any{}
			if sessionID != "" {
				meta["session_id"] = sessionID
			}
			if _, _, err := s.manager.ProcessInput(bctx, prompt, "prompt", meta); err != nil {
				logging.Debug("daemon", "prompt classification: %v", err)
			}
		}()
	}
	return okReply(map[string]string{"payload": payload})
}

func (s *Server) opRecall(req Request) Reply {
	if req.Query == "" {
		return errorReply(types.KindInvalidState, "recall needs a query")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = retrieve.DefaultLimit
	}
	block, matches, err := s.ranker.Recall(req.Query, req.IncludeSuspended, limit)
	if err != nil {
		return errReply(err)
	}
	return okReply(map[string]any{"block": block, "matches": matches})
}

func (s *Server) opMerge(req Request) Reply {
	if req.SurvivorID == "" || req.AbsorbedID == "" {
		return errorReply(types.KindInvalidState, "merge needs survivor_id and absorbed_id")
	}
	return wrap(s.manager.Merge(req.SurvivorID, req.AbsorbedID))
}

// opSplit is two-step: without confirm it returns the message inventory
// so the caller can assign groups, with confirm it performs the split.
func (s *Server) opSplit(req Request) Reply {
	if req.ThreadID == "" {
		return errorReply(types.KindInvalidState, "split needs thread_id")
	}
	if !req.Confirm {
		msgs, err := s.manager.ListMessages(req.ThreadID)
		if err != nil {
			return errReply(err)
		}
		return okReply(map[string]any{"messages": msgs, "confirm_required": true})
	}
	lock := types.LockMode(req.Lock)
	return wrap(s.manager.Split(req.ThreadID, req.Titles, req.MessageGroups, lock))
}

func (s *Server) opUnlock(req Request) Reply {
	if req.ThreadID == "" {
		return errorReply(types.KindInvalidState, "unlock needs thread_id")
	}
	return wrap(s.manager.Unlock(req.ThreadID))
}

func (s *Server) opRename(req Request) Reply {
	if req.ThreadID == "" || req.Title == "" {
		return errorReply(types.KindInvalidState, "rename needs thread_id and title")
	}
	return wrap(s.manager.Rename(req.ThreadID, req.Title))
}

func (s *Server) opCompact(ctx context.Context, req Request) Reply {
	cfg := s.Config()
	sy, report, err := s.consolidator.Compact(ctx, consolidate.Strategy(req.Strategy), cfg.Quota(), req.DryRun)
	if err != nil {
		return errReply(err)
	}
	return okReply(map[string]any{"synthesis": sy, "report": report})
}

func (s *Server) opPin(req Request) Reply {
	if req.Content == "" {
		return errorReply(types.KindInvalidState, "pin needs content")
	}
	return wrap(s.manager.Pin(req.Content, req.Title, req.Topics, req.WeightBoost))
}

func (s *Server) opRate(req Request) Reply {
	if req.ThreadID == "" {
		return errorReply(types.KindInvalidState, "rate_context needs thread_id")
	}
	t, err := s.manager.RateContext(req.ThreadID, req.Useful, req.Reason)
	if err != nil {
		return errReply(err)
	}
	return okReply(map[string]any{"thread_id": t.ID, "relevance_score": t.RelevanceScore})
}

func (s *Server) opStatus() Reply {
	cfg := s.Config()
	hb := s.heartbeat.Get()
	return okReply(map[string]any{
		"pid":     os.Getpid(),
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
		"mode":    cfg.Settings.ThreadMode,
		"quota":   cfg.Quota(),
		"stats":   s.store.Stats(),
		"beat":    hb.Beat,
		"session": hb.LastSessionID,
		"focus":   s.focus.List(),
	})
}
