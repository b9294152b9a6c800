package daemon

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vthunder/plexus/internal/types"
)

// newTestServer builds a daemon over a scratch root with the model CLI
// pointed nowhere so every pipeline takes its heuristic path.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	cfg := `{"llm": {"claude_cli_path": "/nonexistent/claude"}}`
	if err := os.WriteFile(filepath.Join(root, "config.json"), []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func dispatch(t *testing.T, s *Server, req Request) Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.dispatchSafe(ctx, req)
}

func decodeResult(t *testing.T, reply Reply, v any) {
	t.Helper()
	if reply.Status != "ok" {
		t.Fatalf("reply = %+v", reply)
	}
	if err := json.Unmarshal(reply.Result, v); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestDispatchPing(t *testing.T) {
	s := newTestServer(t)
	var out struct {
		Pong bool `json:"pong"`
		PID  int  `json:"pid"`
	}
	decodeResult(t, dispatch(t, s, Request{Op: "ping"}), &out)
	if !out.Pong {
		t.Error("ping reply missing pong")
	}
	if out.PID != os.Getpid() {
		t.Errorf("pid = %d", out.PID)
	}
}

func TestDispatchUnknownOp(t *testing.T) {
	s := newTestServer(t)
	reply := dispatch(t, s, Request{Op: "definitely_not_an_op"})
	if reply.Status != "error" || reply.Error.Kind != types.KindInvalidState {
		t.Errorf("reply = %+v", reply)
	}
}

func TestDispatchCaptureThenRecall(t *testing.T) {
	s := newTestServer(t)

	var capOut struct {
		Decision string `json:"decision"`
		ThreadID string `json:"thread_id"`
	}
	decodeResult(t, dispatch(t, s, Request{
		Op:      "capture",
		Content: "refactoring the jwt token refresh flow",
	}), &capOut)
	if capOut.ThreadID == "" {
		t.Fatalf("capture made no thread: %+v", capOut)
	}

	var rec struct {
		Block   string `json:"block"`
		Matches []struct {
			ID string `json:"id"`
		} `json:"matches"`
	}
	decodeResult(t, dispatch(t, s, Request{
		Op:               "recall",
		Query:            "jwt token refresh flow",
		IncludeSuspended: true,
	}), &rec)
	if len(rec.Matches) == 0 {
		t.Fatalf("recall found nothing: %q", rec.Block)
	}
	if rec.Matches[0].ID != capOut.ThreadID {
		t.Errorf("top match = %s, want %s", rec.Matches[0].ID, capOut.ThreadID)
	}
}

func TestDispatchCaptureHonorsAutoCaptureSwitch(t *testing.T) {
	s := newTestServer(t)
	s.cfgMu.Lock()
	s.cfg.Settings.AutoCapture = false
	s.cfgMu.Unlock()

	var out map[string]string
	decodeResult(t, dispatch(t, s, Request{
		Op: "capture", Tool: "Bash", Content: "ls -la",
	}), &out)
	if out["skipped"] == "" {
		t.Errorf("tool capture not skipped: %v", out)
	}

	// Direct (non-tool) content still lands.
	reply := dispatch(t, s, Request{Op: "capture", Content: "remember this decision"})
	if reply.Status != "ok" {
		t.Errorf("non-tool capture refused: %+v", reply)
	}
}

func TestDispatchRecallNeedsQuery(t *testing.T) {
	s := newTestServer(t)
	reply := dispatch(t, s, Request{Op: "recall"})
	if reply.Status != "error" || reply.Error.Kind != types.KindInvalidState {
		t.Errorf("reply = %+v", reply)
	}
}

func TestDispatchPromptClassifyReturnsPayload(t *testing.T) {
	s := newTestServer(t)
	var out struct {
		Payload string `json:"payload"`
	}
	decodeResult(t, dispatch(t, s, Request{
		Op: "prompt_classify", SessionID: "sess_1",
	}), &out)
	if !strings.Contains(out.Payload, "<system-reminder>") {
		t.Errorf("payload = %q", out.Payload)
	}
}

func TestDispatchFocusAndStatus(t *testing.T) {
	s := newTestServer(t)
	if reply := dispatch(t, s, Request{Op: "focus", Topic: "auth", Weight: 1.0}); reply.Status != "ok" {
		t.Fatalf("focus: %+v", reply)
	}

	var status struct {
		Mode  string `json:"mode"`
		Quota int    `json:"quota"`
		Focus []struct {
			Topic string `json:"topic"`
		} `json:"focus"`
	}
	decodeResult(t, dispatch(t, s, Request{Op: "status"}), &status)
	if status.Mode != "normal" || status.Quota <= 0 {
		t.Errorf("status = %+v", status)
	}
	if len(status.Focus) != 1 || status.Focus[0].Topic != "auth" {
		t.Errorf("focus = %+v", status.Focus)
	}
}

func TestDispatchPanicsBecomeErrorReplies(t *testing.T) {
	s := newTestServer(t)
	s.analyzer = nil // force a nil dereference inside the handler
	reply := dispatch(t, s, Request{Op: "suggestions"})
	if reply.Status != "error" || reply.Error.Kind != types.KindInvalidState {
		t.Errorf("panic not converted to reply: %+v", reply)
	}
}

func TestTickDecaysWithConfiguredHalfLife(t *testing.T) {
	s := newTestServer(t)
	s.cfgMu.Lock()
	s.cfg.Settings.ThreadHalfLifeDays = 0.5
	s.cfgMu.Unlock()

	now := time.Now()
	th := &types.Thread{
		ID: "thread_h", Title: "halved", Status: types.ThreadActive,
		Weight: 0.8, RelevanceScore: 1.0,
		CreatedAt: now.Add(-24 * time.Hour), LastActive: now.Add(-12 * time.Hour),
		LastDecay: now.Add(-12 * time.Hour),
	}
	if err := s.store.PutThread(th); err != nil {
		t.Fatal(err)
	}

	s.tick(now)

	got, err := s.store.GetThread("thread_h")
	if err != nil {
		t.Fatal(err)
	}
	if got.Weight < 0.39 || got.Weight > 0.41 {
		t.Errorf("weight = %.3f, want ~0.40 under the 0.5-day setting", got.Weight)
	}
}

func TestServerSocketRoundTrip(t *testing.T) {
	s := newTestServer(t)

	done := make(chan error, 1)
	go func() { done <- s.Run() }()

	sock := s.paths.Socket()
	var err error
	for i := 0; i < 40; i++ {
		if err = Ping(sock); err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("daemon never came up: %v", err)
	}

	// An op error crosses the wire as *types.OpError.
	client := NewClient(sock, CLITimeout)
	if _, err := client.Call(Request{Op: "recall"}); types.KindOf(err) != types.KindInvalidState {
		t.Errorf("wire error kind = %s", types.KindOf(err))
	}

	// Malformed frames get an error reply, not a dropped connection.
	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	conn.Write([]byte("this is not json\n"))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	conn.Close()
	if err != nil || !strings.Contains(string(buf[:n]), "malformed") {
		t.Errorf("malformed-frame reply = %q, err %v", string(buf[:n]), err)
	}

	if _, err := client.Call(Request{Op: "shutdown"}); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit after shutdown op")
	}

	if _, err := os.Stat(s.paths.PIDFile()); !os.IsNotExist(err) {
		t.Error("pidfile left behind")
	}
}
