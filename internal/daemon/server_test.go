package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jandubois/shutter/internal/capture"
	"github.com/jandubois/shutter/internal/config"
	"github.com/jandubois/shutter/internal/deliver"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// blockingPipeline holds every delivery until released.
type blockingPipeline struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingPipeline() *blockingPipeline {
	return &blockingPipeline{started: make(chan struct{}, 10), release: make(chan struct{})}
}

func (p *blockingPipeline) Deliver(ctx context.Context, cfg *config.Config, data []byte, format string) []deliver.Outcome {
	p.started <- struct{}{}
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	outcomes := make([]deliver.Outcome, 0, len(cfg.Uploaders))
	for _, u := range cfg.Uploaders {
		outcomes = append(outcomes, deliver.Outcome{Name: u.Name(), Success: true, URL: "https://example.com/" + format})
	}
	return outcomes
}

type fakeCapturer struct {
	mu       sync.Mutex
	override *config.Screenshotter
	err      error
}

func (f *fakeCapturer) Capture(ctx context.Context, req capture.Request, override *config.Screenshotter) (*capture.Shot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.override = override
	if f.err != nil {
		return nil, f.err
	}
	return &capture.Shot{Data: []byte(req.String()), Format: "png"}, nil
}

type memoryRecorder struct {
	mu       sync.Mutex
	requests []uuid.UUID
	outcomes [][]deliver.Outcome
}

func (r *memoryRecorder) RecordOutcomes(ctx context.Context, requestID uuid.UUID, format string, size int64, outcomes []deliver.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, requestID)
	r.outcomes = append(r.outcomes, outcomes)
	return nil
}

// logBuffer collects log output written from server goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogs(t *testing.T) *logBuffer {
	t.Helper()
	logs := &logBuffer{}
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(logs, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })
	return logs
}

func socketPath(t *testing.T) string {
	t.Helper()
	// Unix socket paths are short; t.TempDir can exceed the limit.
	dir, err := os.MkdirTemp("", "shutter")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "d.sock")
}

func startServer(t *testing.T, shared *config.Shared, pipeline Deliverer, capturer Capturer, opts ...Option) string {
	t.Helper()
	path := socketPath(t)
	if capturer == nil {
		capturer = &fakeCapturer{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(path, shared, pipeline, capturer, opts...)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("server failed to start: %v", err)
	}

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		_, err := os.Stat(path)
		assert.True(t, errors.Is(err, os.ErrNotExist), "socket should be removed on shutdown")
	})
	return path
}

func dial(t *testing.T, path string) *Client {
	t.Helper()
	client, err := Dial(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func rawConn(t *testing.T, path string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn, bufio.NewReader(conn)
}

func fileConfig(name, dir string) *config.Config {
	return &config.Config{
		Uploaders: []config.Uploader{
			{File: &config.FileUploader{Name: name, FilePath: dir, FileName: name + "-%i"}},
		},
		Screenshotter:   &config.Screenshotter{Path: "/usr/bin/" + name, Args: []string{name}},
		CopyToClipboard: true,
		TessdataPath:    "/data/" + name,
	}
}

func TestGetConfig(t *testing.T) {
	cfg := fileConfig("a", "/tmp/a")
	path := startServer(t, config.NewShared(cfg.Clone()), deliver.NewPipeline(), nil)

	got, err := dial(t, path).GetConfig(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentSetConfigNeverMixes(t *testing.T) {
	a := fileConfig("a", "/tmp/a")
	b := fileConfig("b", "/tmp/b")
	b.LastIndex = 99
	b.FreezeScreen = true

	for i := 0; i < 20; i++ {
		path := startServer(t, config.NewShared(nil), deliver.NewPipeline(), nil)

		var wg sync.WaitGroup
		for _, cfg := range []*config.Config{a, b} {
			cfg := cfg
			client := dial(t, path)
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, client.SetConfig(context.Background(), cfg))
				// A response on the same connection proves SetConfig was applied.
				_, err := client.GetConfig(context.Background())
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := dial(t, path).GetConfig(context.Background())
		require.NoError(t, err)
		if cmp.Diff(a, got) != "" && cmp.Diff(b, got) != "" {
			t.Fatalf("configuration is a mix of both submissions: %+v", got)
		}
	}
}

func TestGetConfigWaitsForUpload(t *testing.T) {
	pipeline := newBlockingPipeline()
	shared := config.NewShared(fileConfig("a", "/tmp/a"))
	path := startServer(t, shared, pipeline, nil)

	uploader := dial(t, path)
	reader := dial(t, path)

	uploaded := make(chan []deliver.Outcome, 1)
	go func() {
		outcomes, err := uploader.Upload(context.Background(), []byte("img"), "png")
		assert.NoError(t, err)
		uploaded <- outcomes
	}()
	<-pipeline.started

	read := make(chan *config.Config, 1)
	go func() {
		cfg, err := reader.GetConfig(context.Background())
		assert.NoError(t, err)
		read <- cfg
	}()

	select {
	case <-read:
		t.Fatal("GetConfig completed while an upload held the configuration")
	case <-time.After(100 * time.Millisecond):
	}

	close(pipeline.release)

	outcomes := <-uploaded
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	assert.Equal(t, "https://example.com/png", outcomes[0].URL)

	cfg := <-read
	assert.Equal(t, uint64(1), cfg.LastIndex, "GetConfig should observe the counter advanced by the upload")
}

func TestUploadDeliversAndAdvancesCounter(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		LastIndex: 4,
		Uploaders: []config.Uploader{
			{File: &config.FileUploader{Name: "disk", FilePath: dir, FileName: "shot-%i"}},
		},
	}

	var saved []uint64
	var mu sync.Mutex
	saver := func(c *config.Config) error {
		mu.Lock()
		defer mu.Unlock()
		saved = append(saved, c.LastIndex)
		return nil
	}
	recorder := &memoryRecorder{}

	path := startServer(t, config.NewShared(cfg), deliver.NewPipeline(), nil,
		WithSaver(saver), WithRecorder(recorder))
	client := dial(t, path)

	for i := 0; i < 2; i++ {
		outcomes, err := client.Upload(context.Background(), []byte("pixels"), "png")
		require.NoError(t, err)
		require.Len(t, outcomes, 1)
		require.True(t, outcomes[0].Success, outcomes[0].ErrorMessage)
	}

	for _, name := range []string{"shot-4.png", "shot-5.png"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, "pixels", string(data))
	}

	got, err := client.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(6), got.LastIndex)

	mu.Lock()
	assert.Equal(t, []uint64{5, 6}, saved)
	mu.Unlock()

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.requests, 2)
	assert.NotEqual(t, recorder.requests[0], recorder.requests[1])
}

func TestUploadWithoutUploaders(t *testing.T) {
	recorder := &memoryRecorder{}
	path := startServer(t, config.NewShared(&config.Config{LastIndex: 3}), deliver.NewPipeline(), nil, WithRecorder(recorder))
	client := dial(t, path)

	outcomes, err := client.Upload(context.Background(), []byte("x"), "png")
	require.NoError(t, err)
	assert.Empty(t, outcomes)

	cfg, err := client.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cfg.LastIndex)
	assert.Empty(t, recorder.requests)
}

func TestSetConfigPersists(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	saver := func(c *config.Config) error { return config.Save(cfgPath, c) }
	path := startServer(t, config.NewShared(nil), deliver.NewPipeline(), nil, WithSaver(saver))
	client := dial(t, path)

	want := fileConfig("a", "/tmp/a")
	require.NoError(t, client.SetConfig(context.Background(), want))
	_, err := client.GetConfig(context.Background())
	require.NoError(t, err)

	onDisk, err := config.Load(cfgPath)
	require.NoError(t, err)
	if diff := cmp.Diff(want, onDisk); diff != "" {
		t.Errorf("persisted config mismatch (-want +got):\n%s", diff)
	}
}

func TestSetConfigSaveFailureKeepsNewValue(t *testing.T) {
	saver := func(c *config.Config) error { return errors.New("disk full") }
	path := startServer(t, config.NewShared(nil), deliver.NewPipeline(), nil, WithSaver(saver))
	logs := captureLogs(t)
	client := dial(t, path)

	want := fileConfig("a", "/tmp/a")
	require.NoError(t, client.SetConfig(context.Background(), want))
	got, err := client.GetConfig(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("live config mismatch (-want +got):\n%s", diff)
	}

	out := logs.String()
	assert.Contains(t, out, "failed to persist configuration")
	assert.Contains(t, out, "disk full")
	assert.NotContains(t, out, "failed to apply configuration")
}

func TestGetConfigEmitsEmptyUploaderList(t *testing.T) {
	path := startServer(t, config.NewShared(nil), deliver.NewPipeline(), nil)
	conn, reader := rawConn(t, path)

	_, err := conn.Write([]byte(`{"GetConfig":{}}`))
	require.NoError(t, err)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"uploaders":[]`)
}

func TestScreenshot(t *testing.T) {
	capturer := &fakeCapturer{}
	cfg := &config.Config{Screenshotter: &config.Screenshotter{Path: "/bin/grab"}}
	path := startServer(t, config.NewShared(cfg), deliver.NewPipeline(), capturer)
	client := dial(t, path)

	shot, err := client.Screenshot(context.Background(), capture.WindowRequest(12))
	require.NoError(t, err)
	assert.Equal(t, "png", shot.Format)
	assert.Equal(t, "window 12", string(shot.Data))

	capturer.mu.Lock()
	defer capturer.mu.Unlock()
	require.NotNil(t, capturer.override)
	assert.Equal(t, "/bin/grab", capturer.override.Path)
}

func TestScreenshotError(t *testing.T) {
	capturer := &fakeCapturer{err: fmt.Errorf("%w: window 3", capture.ErrNoTarget)}
	path := startServer(t, config.NewShared(nil), deliver.NewPipeline(), capturer)
	client := dial(t, path)

	_, err := client.Screenshot(context.Background(), capture.WindowRequest(3))
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Contains(t, serverErr.Message, "no capture target")

	// The connection survives a failed capture.
	_, err = client.GetConfig(context.Background())
	assert.NoError(t, err)
}

func TestInvalidRequestKeepsConnection(t *testing.T) {
	path := startServer(t, config.NewShared(&config.Config{LastIndex: 7}), deliver.NewPipeline(), nil)
	conn, reader := rawConn(t, path)

	_, err := conn.Write([]byte(`{"Bogus":{}}` + "\n" + `{"GetConfig":{}}`))
	require.NoError(t, err)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(line), &errResp))
	assert.Contains(t, errResp.Error, "unknown request")

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(line), &cfg))
	assert.Equal(t, uint64(7), cfg.LastIndex)
}

func TestMalformedRequestClosesConnection(t *testing.T) {
	path := startServer(t, config.NewShared(nil), deliver.NewPipeline(), nil)
	conn, reader := rawConn(t, path)

	_, err := conn.Write([]byte(`{"GetConfig":]`))
	require.NoError(t, err)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "malformed request")

	_, err = reader.ReadString('\n')
	assert.Error(t, err, "connection should be closed after a malformed request")
}

func TestBatchedRequestsAnsweredInOrder(t *testing.T) {
	path := startServer(t, config.NewShared(nil), deliver.NewPipeline(), nil)
	conn, reader := rawConn(t, path)

	batch := `{"SetConfig":{"config":{"uploaders":[],"last_index":41}}}"GetConfig"{"GetConfig":null}`
	_, err := conn.Write([]byte(batch))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		var cfg config.Config
		require.NoError(t, json.Unmarshal([]byte(line), &cfg))
		assert.Equal(t, uint64(41), cfg.LastIndex)
	}
}

func TestBareStringGetConfig(t *testing.T) {
	path := startServer(t, config.NewShared(&config.Config{LastIndex: 3}), deliver.NewPipeline(), nil)
	conn, reader := rawConn(t, path)

	// A top-level string ends at the next byte, here the newline.
	_, err := conn.Write([]byte(`"GetConfig"` + "\n"))
	require.NoError(t, err)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(line), &cfg))
	assert.Equal(t, uint64(3), cfg.LastIndex)
}

func TestLargeUploadWithinLimit(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Uploaders: []config.Uploader{
		{File: &config.FileUploader{Name: "disk", FilePath: dir, FileName: "big"}},
	}}
	path := startServer(t, config.NewShared(cfg), deliver.NewPipeline(), nil)

	data := []byte(strings.Repeat("0123456789", 100_000))
	outcomes, err := dial(t, path).Upload(context.Background(), data, "png")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Success, outcomes[0].ErrorMessage)

	written, err := os.ReadFile(filepath.Join(dir, "big.png"))
	require.NoError(t, err)
	assert.Equal(t, len(data), len(written))
}

func TestFrameTooLarge(t *testing.T) {
	path := startServer(t, config.NewShared(nil), deliver.NewPipeline(), nil, WithMaxRequestSize(64))
	conn, reader := rawConn(t, path)

	payload := fmt.Sprintf(`{"Upload":{"data":%q,"format":"png"}}`, strings.Repeat("A", 256))
	_, err := conn.Write([]byte(payload))
	require.NoError(t, err)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, ErrFrameTooLarge.Error())
}

func TestShutdownClosesIdleConnections(t *testing.T) {
	path := socketPath(t)
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(path, config.NewShared(nil), deliver.NewPipeline(), &fakeCapturer{})
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	<-srv.Ready()

	conn, reader := rawConn(t, path)
	_, err := conn.Write([]byte(`{"GetConfig":{}}`))
	require.NoError(t, err)
	_, err = reader.ReadString('\n')
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	_, err = reader.ReadString('\n')
	assert.Error(t, err)
}
