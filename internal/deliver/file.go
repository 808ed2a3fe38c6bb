package deliver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/jandubois/shutter/internal/config"
	"github.com/jandubois/shutter/internal/filename"
)

// Formats reach us from socket clients and become file extensions.
var validFormat = regexp.MustCompile(`^[A-Za-z0-9]{1,16}$`)

// FileDestination writes images into a local directory.
type FileDestination struct {
	name     string
	dir      string
	template string
	counter  uint64
	now      func() time.Time
}

// NewFileDestination creates a file destination.
func NewFileDestination(cfg *config.FileUploader, counter uint64, now func() time.Time) *FileDestination {
	if now == nil {
		now = time.Now
	}
	return &FileDestination{
		name:     cfg.Name,
		dir:      cfg.FilePath,
		template: cfg.FileName,
		counter:  counter,
		now:      now,
	}
}

// Name returns the display name.
func (f *FileDestination) Name() string {
	return f.name
}

// Type returns the destination type.
func (f *FileDestination) Type() string {
	return "file"
}

// Deliver writes data to <dir>/<rendered template>.<format>, creating the
// directory if needed.
func (f *FileDestination) Deliver(ctx context.Context, data []byte, format string) Outcome {
	if !validFormat.MatchString(format) {
		return failure(f.name, fmt.Errorf("invalid image format %q", format))
	}
	if f.dir == "" {
		return failure(f.name, fmt.Errorf("no directory configured"))
	}
	if err := ctx.Err(); err != nil {
		return failure(f.name, err)
	}

	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return failure(f.name, fmt.Errorf("create directory: %w", err))
	}

	path := filepath.Join(f.dir, filename.Render(f.template, f.counter, f.now())+"."+format)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return failure(f.name, fmt.Errorf("write file: %w", err))
	}

	return Outcome{
		Name:     f.name,
		Success:  true,
		FilePath: path,
	}
}
