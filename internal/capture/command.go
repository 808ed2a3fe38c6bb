package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultCommandTimeout bounds an external screenshotter run.
const DefaultCommandTimeout = 60 * time.Second

// Command runs an external screenshotter. The request is appended to Args
// as --region=X,Y,W,H or --window=ID; a full screen request adds nothing.
// The process writes the encoded image to standard output.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// Run executes the command for req and returns its standard output.
func (c *Command) Run(ctx context.Context, req Request) ([]byte, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultCommandTimeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, c.Args...), requestArgs(req)...)
	cmd := exec.CommandContext(timeoutCtx, c.Path, args...)
	// Ask politely first, kill if the process lingers.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("screenshotter timed out after %s", timeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("screenshotter failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("screenshotter produced no output")
	}
	return stdout.Bytes(), nil
}

func requestArgs(req Request) []string {
	switch {
	case req.Region != nil:
		r := req.Region
		return []string{fmt.Sprintf("--region=%d,%d,%d,%d", r.X, r.Y, r.W, r.H)}
	case req.Window != nil:
		return []string{"--window=" + strconv.FormatUint(*req.Window, 10)}
	}
	return nil
}
