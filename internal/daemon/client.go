package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/jandubois/shutter/internal/capture"
	"github.com/jandubois/shutter/internal/config"
	"github.com/jandubois/shutter/internal/deliver"
)

const dialTimeout = 5 * time.Second

// DefaultSocketPath returns the well-known socket path of this installation.
func DefaultSocketPath() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.TempDir(), "shutter.sock")
	}
	return "/tmp/shutter.sock"
}

// ServerError is an {"error": ...} response from the daemon.
type ServerError struct {
	Request string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("daemon error on %s: %s", e.Request, e.Message)
}

// Client talks to a running daemon over one connection. Calls are
// serialized, matching the server's one-request-at-a-time handling.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

// Dial connects to the daemon listening on socketPath.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", socketPath, err)
	}
	return &Client{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// GetConfig returns the daemon's current configuration.
func (c *Client) GetConfig(ctx context.Context) (*config.Config, error) {
	var cfg config.Config
	if err := c.call(ctx, Request{GetConfig: &GetConfigRequest{}}, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetConfig replaces the daemon's configuration. The daemon does not
// acknowledge the request.
func (c *Client) SetConfig(ctx context.Context, cfg *config.Config) error {
	return c.call(ctx, Request{SetConfig: &SetConfigRequest{Config: cfg}}, nil)
}

// Upload delivers data to every configured destination.
func (c *Client) Upload(ctx context.Context, data []byte, format string) ([]deliver.Outcome, error) {
	var outcomes []deliver.Outcome
	if err := c.call(ctx, Request{Upload: &UploadRequest{Data: data, Format: format}}, &outcomes); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// Screenshot asks the daemon to capture req.
func (c *Client) Screenshot(ctx context.Context, req capture.Request) (*capture.Shot, error) {
	var resp ScreenshotResponse
	if err := c.call(ctx, Request{Screenshot: &req}, &resp); err != nil {
		return nil, err
	}
	return &capture.Shot{Data: resp.Data, Format: resp.Format}, nil
}

// call sends req and, when result is non-nil, decodes the response into it.
func (c *Client) call(ctx context.Context, req Request, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	c.conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()

	kind := req.Kind()
	if err := c.enc.Encode(req); err != nil {
		return c.wrap(ctx, fmt.Errorf("send %s: %w", kind, err))
	}
	if result == nil {
		return nil
	}

	var raw json.RawMessage
	if err := c.dec.Decode(&raw); err != nil {
		return c.wrap(ctx, fmt.Errorf("read %s response: %w", kind, err))
	}

	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		var probe struct {
			Error *string `json:"error"`
		}
		if err := json.Unmarshal(raw, &probe); err == nil && probe.Error != nil {
			return &ServerError{Request: kind, Message: *probe.Error}
		}
	}

	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode %s response: %w", kind, err)
	}
	return nil
}

func (c *Client) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}
