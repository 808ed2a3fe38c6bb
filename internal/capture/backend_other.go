//go:build !linux

package capture

import (
	"context"
	"image"
)

type unsupportedBackend struct{}

// NewBackend returns the platform capture backend. Only a configured
// screenshotter or a pre-captured snapshot works on this platform.
func NewBackend() Backend {
	return unsupportedBackend{}
}

func (unsupportedBackend) Capture(ctx context.Context, req Request) (image.Image, error) {
	return nil, ErrUnsupported
}
