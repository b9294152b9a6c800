package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/vthunder/plexus/internal/types"
)

// Connect timeouts: hook shims must never stall the agent's turn, the CLI
// can afford to wait a little longer.
const (
	HookTimeout = 500 * time.Millisecond
	CLITimeout  = 2 * time.Second
)

// Client talks to the daemon socket: one request, one reply, one
// connection.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient builds a client for the daemon at socketPath
func NewClient(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = CLITimeout
	}
	return &Client{socketPath: socketPath, timeout: timeout}
}

// Call sends one request frame and decodes the reply. Errors the daemon
// classified come back as *types.OpError.
func (c *Client) Call(req Request) (*Reply, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, types.E(types.KindTransient, "daemon unreachable: %v", err)
	}
	defer conn.Close()

	// Reply deadline is generous: ops may wait on an LLM call
	conn.SetDeadline(time.Now().Add(35 * time.Second))

	frame, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := conn.Write(append(frame, '\n')); err != nil {
		return nil, types.E(types.KindTransient, "write request: %v", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, types.E(types.KindTransient, "read reply: %v", err)
	}
	var reply Reply
	if err := json.Unmarshal(line, &reply); err != nil {
		return nil, types.E(types.KindTransient, "malformed reply: %v", err)
	}
	if reply.Status != "ok" && reply.Error != nil {
		return &reply, reply.Error
	}
	return &reply, nil
}

// Ping checks socket liveness with a short deadline
func Ping(socketPath string) error {
	c := NewClient(socketPath, HookTimeout)
	reply, err := c.Call(Request{Op: "ping"})
	if err != nil {
		return err
	}
	if reply.Status != "ok" {
		return types.E(types.KindTransient, "unexpected ping reply")
	}
	return nil
}
