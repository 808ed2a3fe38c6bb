// Package daemon serves capture, configuration and delivery requests to
// local clients over a Unix domain socket.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"time"

	units "github.com/docker/go-units"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jandubois/shutter/internal/capture"
	"github.com/jandubois/shutter/internal/config"
	"github.com/jandubois/shutter/internal/deliver"
)

// DefaultMaxRequestSize caps a single request document.
const DefaultMaxRequestSize = 16 * units.MiB

const writeTimeout = 10 * time.Second

// Deliverer runs the delivery pipeline.
type Deliverer interface {
	Deliver(ctx context.Context, cfg *config.Config, data []byte, format string) []deliver.Outcome
}

// Capturer acquires screenshots.
type Capturer interface {
	Capture(ctx context.Context, req capture.Request, override *config.Screenshotter) (*capture.Shot, error)
}

// Recorder persists delivery outcomes.
type Recorder interface {
	RecordOutcomes(ctx context.Context, requestID uuid.UUID, format string, size int64, outcomes []deliver.Outcome) error
}

// Server is the control-plane daemon.
type Server struct {
	socketPath     string
	shared         *config.Shared
	pipeline       Deliverer
	capturer       Capturer
	save           func(*config.Config) error
	recorder       Recorder
	maxRequestSize int64
	ready          chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithSaver persists the configuration after SetConfig and after every
// counter change. save runs while the configuration guard is held.
func WithSaver(save func(*config.Config) error) Option {
	return func(s *Server) { s.save = save }
}

// WithRecorder records every upload's outcomes.
func WithRecorder(r Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithMaxRequestSize caps a single request document. Zero disables the cap.
func WithMaxRequestSize(n int64) Option {
	return func(s *Server) { s.maxRequestSize = n }
}

// NewServer creates a daemon listening on socketPath.
func NewServer(socketPath string, shared *config.Shared, pipeline Deliverer, capturer Capturer, opts ...Option) *Server {
	s := &Server{
		socketPath:     socketPath,
		shared:         shared,
		pipeline:       pipeline,
		capturer:       capturer,
		maxRequestSize: DefaultMaxRequestSize,
		ready:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready is closed once the server accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Serve accepts connections until ctx is canceled, then closes every open
// connection and waits for its handler to return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	if err := os.Chmod(s.socketPath, 0600); err != nil {
		return fmt.Errorf("restrict socket permissions: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	slog.Info("daemon listening", "socket", s.socketPath)
	close(s.ready)

	var handlers errgroup.Group
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			slog.Error("accept failed", "error", err)
			continue
		}

		handlers.Go(func() error {
			s.handleConnection(ctx, conn)
			return nil
		})
	}

	err = handlers.Wait()
	slog.Info("daemon stopped")
	return err
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	slog.Debug("client connected", peerAttrs(conn)...)
	defer slog.Debug("client disconnected")

	frames := &frameLimiter{r: conn, limit: s.maxRequestSize}
	dec := json.NewDecoder(frames)
	enc := json.NewEncoder(conn)
	enc.SetEscapeHTML(false)

	for {
		frames.reset()

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			// The stream position is unknown; the connection cannot continue.
			slog.Warn("malformed request", "error", err)
			s.respond(conn, enc, ErrorResponse{Error: fmt.Sprintf("malformed request: %v", err)})
			return
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			slog.Warn("invalid request", "error", err)
			if !s.respond(conn, enc, ErrorResponse{Error: fmt.Sprintf("invalid request: %v", err)}) {
				return
			}
			continue
		}

		resp := s.dispatch(ctx, req)
		if ctx.Err() != nil {
			return
		}
		if resp == nil {
			continue
		}
		if !s.respond(conn, enc, resp) {
			return
		}
	}
}

func (s *Server) respond(conn net.Conn, enc *json.Encoder, resp any) bool {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := enc.Encode(resp); err != nil {
		slog.Debug("failed to write response", "error", err)
		return false
	}
	return true
}

// dispatch handles one request and returns its response, or nil when the
// request has none.
func (s *Server) dispatch(ctx context.Context, req Request) any {
	slog.Debug("request", "kind", req.Kind())

	switch {
	case req.SetConfig != nil:
		s.setConfig(ctx, req.SetConfig.Config)
		return nil

	case req.GetConfig != nil:
		cfg, err := s.shared.Snapshot(ctx)
		if err != nil {
			return ErrorResponse{Error: err.Error()}
		}
		return cfg

	case req.Upload != nil:
		outcomes, err := s.upload(ctx, req.Upload.Data, req.Upload.Format)
		if err != nil {
			return ErrorResponse{Error: err.Error()}
		}
		return outcomes

	case req.Screenshot != nil:
		shot, err := s.screenshot(ctx, *req.Screenshot)
		if err != nil {
			slog.Warn("screenshot failed", "request", req.Screenshot.String(), "error", err)
			return ErrorResponse{Error: err.Error()}
		}
		return ScreenshotResponse{Data: shot.Data, Format: shot.Format}
	}
	return ErrorResponse{Error: "empty request"}
}

func (s *Server) setConfig(ctx context.Context, cfg *config.Config) {
	var saveErr error
	err := s.shared.Update(ctx, func(current *config.Config) error {
		*current = *cfg.Clone()
		if s.save != nil {
			saveErr = s.save(current)
		}
		return nil
	})
	if err != nil {
		slog.Error("failed to apply configuration", "error", err)
		return
	}
	slog.Info("configuration replaced", "uploaders", len(cfg.Uploaders))
	if saveErr != nil {
		// The new value is live; only the file on disk is stale.
		slog.Error("failed to persist configuration", "error", saveErr)
	}
}

// upload runs the pipeline while holding the configuration guard, then
// advances the counter in the same section.
func (s *Server) upload(ctx context.Context, data []byte, format string) ([]deliver.Outcome, error) {
	var outcomes []deliver.Outcome
	err := s.shared.Update(ctx, func(cfg *config.Config) error {
		outcomes = s.pipeline.Deliver(ctx, cfg, data, format)
		if len(cfg.Uploaders) == 0 {
			return nil
		}
		cfg.LastIndex++
		if s.save != nil {
			if err := s.save(cfg); err != nil {
				slog.Error("failed to persist counter", "error", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcomes == nil {
		outcomes = []deliver.Outcome{}
	}

	if s.recorder != nil && len(outcomes) > 0 {
		if err := s.recorder.RecordOutcomes(ctx, uuid.New(), format, int64(len(data)), outcomes); err != nil {
			slog.Error("failed to record deliveries", "error", err)
		}
	}
	return outcomes, nil
}

func (s *Server) screenshot(ctx context.Context, req capture.Request) (*capture.Shot, error) {
	cfg, err := s.shared.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.capturer.Capture(ctx, req, cfg.Screenshotter)
}

// ErrFrameTooLarge is returned when a request exceeds the size cap.
var ErrFrameTooLarge = errors.New("request exceeds maximum size")

// frameLimiter caps the bytes read for one request. Data the decoder has
// already buffered for the next request does not count against it.
type frameLimiter struct {
	r     io.Reader
	limit int64
	n     int64
}

func (l *frameLimiter) reset() { l.n = 0 }

func (l *frameLimiter) Read(p []byte) (int, error) {
	if l.limit > 0 {
		if l.n >= l.limit {
			return 0, ErrFrameTooLarge
		}
		if remaining := l.limit - l.n; int64(len(p)) > remaining {
			p = p[:remaining]
		}
	}
	n, err := l.r.Read(p)
	l.n += int64(n)
	return n, err
}
