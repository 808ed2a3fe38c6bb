// Package capture acquires screen pixels for a Request.
//
// Pixel acquisition is platform specific and lives behind Backend. A
// configured external screenshotter process replaces the backend entirely.
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"strings"

	units "github.com/docker/go-units"
	"github.com/jandubois/shutter/internal/config"
)

var (
	// ErrNoTarget means the request names nothing that can be captured.
	ErrNoTarget = errors.New("no capture target")
	// ErrUnsupported means this platform has no capture backend.
	ErrUnsupported = errors.New("screen capture not supported on this platform")
)

// Region is a rectangle in screen coordinates.
type Region struct {
	X int  `json:"x"`
	Y int  `json:"y"`
	W uint `json:"w"`
	H uint `json:"h"`

	// Snapshot holds pixels captured before the region was chosen, for
	// example while the screen was frozen. It is never serialized.
	Snapshot image.Image `json:"-"`
}

// Rect returns the region as an image rectangle.
func (r *Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+int(r.W), r.Y+int(r.H))
}

// Request describes the pixels to acquire. Exactly one of Region, Window
// and Screen is set.
type Request struct {
	Region *Region
	Window *uint64
	Screen bool
}

// ScreenRequest returns a full screen request.
func ScreenRequest() Request { return Request{Screen: true} }

// WindowRequest returns a request for the window with the given id.
func WindowRequest(id uint64) Request { return Request{Window: &id} }

// RegionRequest returns a request for a screen rectangle.
func RegionRequest(x, y int, w, h uint) Request {
	return Request{Region: &Region{X: x, Y: y, W: w, H: h}}
}

// Validate reports ErrNoTarget for requests that cannot yield pixels.
func (r Request) Validate() error {
	set := 0
	if r.Region != nil {
		set++
		if r.Region.W == 0 || r.Region.H == 0 {
			return fmt.Errorf("%w: empty region %dx%d", ErrNoTarget, r.Region.W, r.Region.H)
		}
	}
	if r.Window != nil {
		set++
	}
	if r.Screen {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: request must name exactly one of region, window or screen", ErrNoTarget)
	}
	return nil
}

func (r Request) String() string {
	switch {
	case r.Region != nil:
		return fmt.Sprintf("region %dx%d+%d+%d", r.Region.W, r.Region.H, r.Region.X, r.Region.Y)
	case r.Window != nil:
		return fmt.Sprintf("window %d", *r.Window)
	case r.Screen:
		return "screen"
	}
	return "nothing"
}

// MarshalJSON writes the externally tagged form: {"Region":{...}},
// {"Window":id} or "Screen".
func (r Request) MarshalJSON() ([]byte, error) {
	switch {
	case r.Region != nil:
		return json.Marshal(map[string]*Region{"Region": r.Region})
	case r.Window != nil:
		return json.Marshal(map[string]uint64{"Window": *r.Window})
	case r.Screen:
		return json.Marshal("Screen")
	}
	return nil, fmt.Errorf("marshal capture request: %w", ErrNoTarget)
}

// UnmarshalJSON reads the externally tagged form. {"Screen":null} is
// accepted as a synonym for "Screen".
func (r *Request) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		if tag != "Screen" {
			return fmt.Errorf("unknown capture request %q", tag)
		}
		*r = ScreenRequest()
		return nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("decode capture request: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("capture request must have exactly one variant, got %d", len(tagged))
	}

	for key, value := range tagged {
		switch key {
		case "Region":
			var region Region
			if err := json.Unmarshal(value, &region); err != nil {
				return fmt.Errorf("decode region: %w", err)
			}
			*r = Request{Region: &region}
		case "Window":
			var id uint64
			if err := json.Unmarshal(value, &id); err != nil {
				return fmt.Errorf("decode window id: %w", err)
			}
			*r = WindowRequest(id)
		case "Screen":
			*r = ScreenRequest()
		default:
			return fmt.Errorf("unknown capture request %q", key)
		}
	}
	return nil
}

// Shot is an encoded capture.
type Shot struct {
	Data   []byte
	Format string
}

// Backend acquires pixels from the display.
type Backend interface {
	Capture(ctx context.Context, req Request) (image.Image, error)
}

// Service turns capture requests into encoded images.
type Service struct {
	backend Backend
}

// NewService creates a Service. A nil backend selects the platform default.
func NewService(backend Backend) *Service {
	if backend == nil {
		backend = NewBackend()
	}
	return &Service{backend: backend}
}

// Capture acquires and encodes the pixels req describes. A configured
// screenshotter takes precedence over everything else; a region carrying a
// snapshot is cropped from it without touching the display.
func (s *Service) Capture(ctx context.Context, req Request, override *config.Screenshotter) (*Shot, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if override != nil && override.Path != "" {
		cmd := &Command{Path: override.Path, Args: override.Args}
		data, err := cmd.Run(ctx, req)
		if err != nil {
			return nil, err
		}
		format, err := sniffFormat(data)
		if err != nil {
			return nil, fmt.Errorf("screenshotter %s: %w", override.Path, err)
		}
		slog.Debug("captured with screenshotter", "path", override.Path, "request", req, "size", units.HumanSize(float64(len(data))))
		return &Shot{Data: data, Format: format}, nil
	}

	var img image.Image
	if req.Region != nil && req.Region.Snapshot != nil {
		cropped, err := crop(req.Region.Snapshot, req.Region.Rect())
		if err != nil {
			return nil, err
		}
		img = cropped
	} else {
		captured, err := s.backend.Capture(ctx, req)
		if err != nil {
			return nil, err
		}
		img = captured
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	slog.Debug("captured", "request", req, "size", units.HumanSize(float64(buf.Len())))
	return &Shot{Data: buf.Bytes(), Format: "png"}, nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func crop(img image.Image, rect image.Rectangle) (image.Image, error) {
	bounded := rect.Intersect(img.Bounds())
	if bounded.Empty() {
		return nil, fmt.Errorf("%w: region %v lies outside the snapshot %v", ErrNoTarget, rect, img.Bounds())
	}
	s, ok := img.(subImager)
	if !ok {
		return nil, fmt.Errorf("snapshot of type %T cannot be cropped", img)
	}
	return s.SubImage(bounded), nil
}

// sniffFormat names the image format of encoded data.
func sniffFormat(data []byte) (string, error) {
	contentType := http.DetectContentType(data)
	format, ok := strings.CutPrefix(contentType, "image/")
	if !ok {
		return "", fmt.Errorf("output is not an image (%s)", contentType)
	}
	switch format {
	case "jpeg":
		return "jpg", nil
	case "x-icon":
		return "ico", nil
	}
	return format, nil
}
