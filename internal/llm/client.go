package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vthunder/plexus/internal/config"
	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/types"
)

// Client is the narrow surface the pipeline needs from an LLM. Callers
// must treat every error as transient and fall back to numeric heuristics;
// the daemon keeps working with no model at all.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Available() bool
}

// CLIClient shells out to the claude CLI in one-shot --print mode. Each
// call is a fresh stateless session; no identity, no tools, no resumption.
type CLIClient struct {
	path    string
	model   string
	workDir string
	timeout time.Duration

	lookOnce sync.Once
	found    bool
}

// NewCLI builds a client from config. Zero values fall back to the
// claude binary on PATH and a 30s per-call timeout.
func NewCLI(cfg config.LLM, workDir string) *CLIClient {
	path := cfg.ClaudeCLIPath
	if path == "" {
		path = "claude"
	}
	return &CLIClient{
		path:    path,
		model:   cfg.ExtractionModel,
		workDir: workDir,
		timeout: 30 * time.Second,
	}
}

// Available reports whether the CLI binary resolves. Checked once; a
// binary appearing mid-run is picked up on the next daemon restart.
func (c *CLIClient) Available() bool {
	c.lookOnce.Do(func() {
		_, err := exec.LookPath(c.path)
		c.found = err == nil
	})
	return c.found
}

// Complete runs one prompt through the CLI and returns the accumulated
// text output. The subprocess inherits our env plus the skip-hooks marker
// so a CLI that itself fires hooks cannot re-enter the daemon.
func (c *CLIClient) Complete(ctx context.Context, prompt string) (string, error) {
	if !c.Available() {
		return "", types.E(types.KindTransient, "claude CLI not found at %q", c.path)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := []string{
		"--print",
		"--dangerously-skip-permissions",
		"--output-format", "stream-json",
		"--verbose", // Required by claude CLI when using --print with stream-json
		"--session-id", uuid.NewString(),
	}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	args = append(args, prompt)

	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.Env = append(os.Environ(), config.EnvSkipHooks+"=1")
	if c.workDir != "" {
		cmd.Dir = c.workDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	logging.Debug("llm", "Starting one-shot session: %s", logging.Truncate(prompt, 100))

	if err := cmd.Start(); err != nil {
		return "", types.E(types.KindTransient, "failed to start claude: %v", err)
	}

	var wg sync.WaitGroup
	var outputBuf, stderrBuf strings.Builder

	wg.Add(2)
	go func() {
		defer wg.Done()
		accumulateStream(stdout, &outputBuf)
	}()
	go func() {
		defer wg.Done()
		drainStderr(stderr, &stderrBuf)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", types.E(types.KindTransient, "claude timed out: %v", ctx.Err())
		}
		if stderrBuf.Len() > 0 {
			return "", types.E(types.KindTransient, "claude exited with error: %v, stderr: %s",
				err, logging.Truncate(stderrBuf.String(), 300))
		}
		return "", types.E(types.KindTransient, "claude exited with error: %v", err)
	}

	return outputBuf.String(), nil
}

// streamEvent is the subset of claude stream-json events we care about
type streamEvent struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// accumulateStream parses stream-json output and collects text content
func accumulateStream(r io.Reader, output *strings.Builder) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			logging.Debug("llm", "Failed to parse stream event: %v", err)
			continue
		}

		switch event.Type {
		case "result":
			if event.Result != nil {
				var text string
				if err := json.Unmarshal(event.Result, &text); err == nil && text != "" {
					output.WriteString(text)
				}
			}
		case "content_block_delta":
			var delta struct {
				Delta struct {
					Text string `json:"text"`
				} `json:"delta"`
			}
			if err := json.Unmarshal(event.Content, &delta); err == nil && delta.Delta.Text != "" {
				output.WriteString(delta.Delta.Text)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		logging.Debug("llm", "Scanner error: %v", err)
	}
}

func drainStderr(r io.Reader, buf *strings.Builder) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			logging.Debug("llm stderr", "%s", line)
			buf.WriteString(line + "\n")
		}
	}
}
