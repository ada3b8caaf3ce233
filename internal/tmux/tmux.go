// ABOUTME: Pane inventory reader invoking the tmux binary as a subprocess.
// ABOUTME: Single point of adaptation for the tmux list-panes output format.

package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNotInstalled indicates the tmux binary could not be found.
var ErrNotInstalled = errors.New("tmux not installed")

// ErrTimeout indicates a tmux command exceeded its time bound.
var ErrTimeout = errors.New("tmux command timed out")

// ListTimeout bounds every pane listing invocation.
const ListTimeout = 5 * time.Second

// paneFormat requests location, pane pid, and foreground command per pane,
// tab-separated so commands containing spaces stay in one field.
const paneFormat = "#{session_name}:#{window_index}.#{pane_index}\t#{pane_pid}\t#{pane_current_command}"

// Pane is one raw inventory entry. Location is the tmux target string
// (session:window.pane) used by collaborators to address the pane.
type Pane struct {
	Location    string
	PID         int
	Command     string
	SessionName string
}

// Runner executes tmux commands. Tests substitute a fake to avoid a real
// tmux server.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// Client reads the pane inventory from a tmux server.
type Client struct {
	runner  Runner
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient returns a client that shells out to the tmux binary.
func NewClient() *Client {
	return NewClientWithRunner(execRunner{})
}

// NewClientWithRunner returns a client using a custom command runner.
func NewClientWithRunner(runner Runner) *Client {
	return &Client{
		runner:  runner,
		timeout: ListTimeout,
		logger:  slog.Default().With("component", "tmux"),
	}
}

// SetTimeout overrides the listing time bound. Non-positive values are
// ignored.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// ListPanes returns every pane across all sessions, or only the named
// session when sessionFilter is non-empty.
//
// A missing tmux binary yields ErrNotInstalled and a command overrunning
// ListTimeout yields ErrTimeout. A tmux server with no sessions is not an
// error; it yields an empty inventory. Individual malformed output lines are
// skipped so one odd pane cannot abort a whole scan.
func (c *Client) ListPanes(ctx context.Context, sessionFilter string) ([]Pane, error) {
	args := []string{"list-panes", "-F", paneFormat}
	if sessionFilter != "" {
		args = append(args, "-s", "-t", sessionFilter)
	} else {
		args = append(args, "-a")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	output, err := c.runner.Run(ctx, args...)
	if err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound):
			return nil, fmt.Errorf("%w: %v", ErrNotInstalled, err)
		case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		case isNoServer(output):
			return []Pane{}, nil
		default:
			return nil, fmt.Errorf("tmux list-panes failed: %w", err)
		}
	}

	return c.parsePanes(output), nil
}

// parsePanes converts raw list-panes output into inventory entries,
// skipping lines that do not match the requested format.
func (c *Client) parsePanes(output []byte) []Pane {
	panes := []Pane{}
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			c.logger.Debug("skipping malformed pane line", "line", line)
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			c.logger.Debug("skipping pane with bad pid", "line", line)
			continue
		}
		location := strings.TrimSpace(fields[0])
		session, _, found := strings.Cut(location, ":")
		if !found {
			c.logger.Debug("skipping pane with bad location", "line", line)
			continue
		}
		panes = append(panes, Pane{
			Location:    location,
			PID:         pid,
			Command:     strings.TrimSpace(fields[2]),
			SessionName: session,
		})
	}
	return panes
}

// isNoServer reports whether tmux failed only because no server is running.
func isNoServer(output []byte) bool {
	msg := strings.ToLower(string(bytes.TrimSpace(output)))
	return strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "error connecting to") ||
		strings.Contains(msg, "can't find session") ||
		strings.Contains(msg, "no current session")
}

// execRunner invokes the real tmux binary.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	return cmd.CombinedOutput()
}
