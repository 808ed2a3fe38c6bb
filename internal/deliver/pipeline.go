// Package deliver sends captured images to the configured destinations.
package deliver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	units "github.com/docker/go-units"
	"github.com/jandubois/shutter/internal/config"
)

// Pipeline delivers one image to every configured uploader in order.
type Pipeline struct {
	client  *http.Client
	now     func() time.Time
	timeout time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHTTPClient sets the client used by HTTP destinations.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Pipeline) { p.client = client }
}

// WithClock sets the time source for filename templates.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithTimeout bounds each destination's delivery. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// NewPipeline creates a delivery pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		client: &http.Client{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Deliver sends data to every uploader in cfg and returns one Outcome per
// uploader, in configuration order. A failing destination never prevents
// the remaining ones from running.
func (p *Pipeline) Deliver(ctx context.Context, cfg *config.Config, data []byte, format string) []Outcome {
	outcomes := make([]Outcome, 0, len(cfg.Uploaders))

	for _, u := range cfg.Uploaders {
		dest, err := newDestination(u, cfg.LastIndex, p.client, p.now)
		if err != nil {
			slog.Error("invalid uploader", "name", u.Name(), "error", err)
			outcomes = append(outcomes, failure(u.Name(), err))
			continue
		}

		outcome := p.deliverOne(ctx, dest, data, format)
		if outcome.Success {
			slog.Info("delivered",
				"destination", dest.Name(),
				"type", dest.Type(),
				"size", units.HumanSize(float64(len(data))),
				"location", outcome.Location(),
			)
		} else {
			slog.Error("delivery failed",
				"destination", dest.Name(),
				"type", dest.Type(),
				"error", outcome.ErrorMessage,
			)
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes
}

func (p *Pipeline) deliverOne(ctx context.Context, dest Destination, data []byte, format string) Outcome {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return dest.Deliver(ctx, data, format)
}
