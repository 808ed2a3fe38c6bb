package deliver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jandubois/shutter/internal/config"
)

// Destination is one place an image can be delivered.
type Destination interface {
	Deliver(ctx context.Context, data []byte, format string) Outcome
	Name() string
	Type() string
}

// newDestination builds the destination for one configured uploader.
// counter is the value %i expands to in filename templates.
func newDestination(u config.Uploader, counter uint64, client *http.Client, now func() time.Time) (Destination, error) {
	switch {
	case u.HTTP != nil:
		return NewHTTPDestination(u.HTTP, client), nil
	case u.File != nil:
		return NewFileDestination(u.File, counter, now), nil
	default:
		return nil, fmt.Errorf("uploader has no destination configured")
	}
}
