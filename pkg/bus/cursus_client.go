package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/downfa11-org/go-itest/util"
)

const (
	cursusDialTimeout    = 2 * time.Second
	cursusCommandTimeout = 2 * time.Second
)

// cursusClient wraps one connection to a cursus broker.
type cursusClient struct {
	addrs  []string
	conn   net.Conn
	mu     sync.Mutex
	closed bool
}

func newCursusClient(addrs []string) *cursusClient {
	return &cursusClient{addrs: addrs}
}

// connect must be called with mu held.
func (c *cursusClient) connect(ctx context.Context) error {
	if c.closed {
		return errors.New("cursus client is closed")
	}
	if c.conn != nil {
		return nil
	}

	d := net.Dialer{Timeout: cursusDialTimeout}
	var lastErr error
	for _, addr := range c.addrs {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			c.conn = conn
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed to connect to any broker in %v: %w", c.addrs, lastErr)
}

func (c *cursusClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.closed = true
}

// dropLocked discards a connection whose framing can no longer be trusted.
func (c *cursusClient) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// roundTrip sends one command frame and reads one response frame.
func (c *cursusClient) roundTrip(ctx context.Context, cmdTopic, cmd string, readTimeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	if err := util.WriteWithLength(c.conn, util.EncodeMessage(cmdTopic, cmd)); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("send command: %w", err)
	}

	deadline := time.Now().Add(readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	resp, err := util.ReadWithLength(c.conn)
	if err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		util.Warn("failed to reset read deadline: %v", err)
	}
	return resp, nil
}

// command executes a text command and rejects "ERROR:" responses.
func (c *cursusClient) command(ctx context.Context, cmdTopic, cmd string) (string, error) {
	raw, err := c.roundTrip(ctx, cmdTopic, cmd, cursusCommandTimeout)
	if err != nil {
		return "", err
	}
	resp := strings.TrimSpace(string(raw))
	if strings.HasPrefix(resp, "ERROR:") {
		return "", fmt.Errorf("broker error: %s", resp)
	}
	return resp, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// parseJoinResponse reads "OK generation=<n> member=<id> assignments=[...]".
func parseJoinResponse(resp, fallbackMember string) (int, string) {
	gen := 0
	member := fallbackMember
	for _, part := range strings.Fields(resp) {
		switch {
		case strings.HasPrefix(part, "generation="):
			if n, err := strconv.Atoi(strings.TrimPrefix(part, "generation=")); err == nil {
				gen = n
			} else {
				util.Warn("JOIN_GROUP response did not contain valid generation info: %s", resp)
			}
		case strings.HasPrefix(part, "member="):
			if m := strings.TrimPrefix(part, "member="); m != "" {
				member = m
			}
		}
	}
	return gen, member
}

// parseAssignments extracts the partition list from "... assignments=[0 1 2]".
func parseAssignments(resp string) ([]int, error) {
	const prefix = "assignments="
	idx := strings.Index(resp, prefix)
	if idx == -1 {
		return nil, nil
	}
	rest := resp[idx+len(prefix):]
	start := strings.Index(rest, "[")
	end := strings.Index(rest, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("malformed assignments in %q", resp)
	}

	list := strings.ReplaceAll(rest[start+1:end], ",", " ")
	var out []int
	for _, f := range strings.Fields(list) {
		p, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid partition ID format '%s': %w", f, err)
		}
		out = append(out, p)
	}
	return out, nil
}
