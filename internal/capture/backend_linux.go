//go:build linux

package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strconv"
)

// importBackend captures the X11 display with ImageMagick's import tool.
type importBackend struct {
	path string
}

// NewBackend returns the platform capture backend.
func NewBackend() Backend {
	return &importBackend{path: "import"}
}

func (b *importBackend) Capture(ctx context.Context, req Request) (image.Image, error) {
	path, err := exec.LookPath(b.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrUnsupported, b.path)
	}

	cmd := &Command{Path: path, Args: importArgs(req)}
	// import takes the target through its own flags, not ours.
	data, err := cmd.Run(ctx, Request{Screen: true})
	if err != nil {
		if req.Window != nil {
			return nil, fmt.Errorf("%w: window %d: %v", ErrNoTarget, *req.Window, err)
		}
		return nil, err
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}
	return img, nil
}

func importArgs(req Request) []string {
	args := []string{"-silent", "-window"}
	switch {
	case req.Window != nil:
		args = append(args, strconv.FormatUint(*req.Window, 10))
	default:
		args = append(args, "root")
	}
	if r := req.Region; r != nil {
		args = append(args, "-crop", fmt.Sprintf("%dx%d%+d%+d", r.W, r.H, r.X, r.Y), "+repage")
	}
	return append(args, "png:-")
}
