package deliver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jandubois/shutter/internal/config"
	"github.com/jandubois/shutter/internal/response"
)

// maxResponseSize bounds how much of a destination's reply is read.
const maxResponseSize = 4 << 20

// HTTPDestination uploads images to a web service.
type HTTPDestination struct {
	cfg    *config.HTTPUploader
	client *http.Client
}

// NewHTTPDestination creates an HTTP destination.
func NewHTTPDestination(cfg *config.HTTPUploader, client *http.Client) *HTTPDestination {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPDestination{
		cfg:    cfg,
		client: client,
	}
}

// Name returns the display name.
func (h *HTTPDestination) Name() string {
	return h.cfg.Name
}

// Type returns the destination type.
func (h *HTTPDestination) Type() string {
	return "http"
}

// Deliver sends one request and resolves the response templates.
func (h *HTTPDestination) Deliver(ctx context.Context, data []byte, format string) Outcome {
	req, err := h.newRequest(ctx, data, format)
	if err != nil {
		return failure(h.cfg.Name, err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return failure(h.cfg.Name, fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return failure(h.cfg.Name, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if h.cfg.ErrorMessage != "" {
			message = h.render(h.cfg.ErrorMessage, body)
		}
		return failure(h.cfg.Name, fmt.Errorf("destination returned status %d: %s", resp.StatusCode, message))
	}

	return Outcome{
		Name:         h.cfg.Name,
		Success:      true,
		URL:          h.render(h.cfg.URL, body),
		ThumbnailURL: h.render(h.cfg.ThumbnailURL, body),
		DeletionURL:  h.render(h.cfg.DeletionURL, body),
	}
}

// render resolves a response template. Failures are logged and the
// partially resolved text is used.
func (h *HTTPDestination) render(template string, body []byte) string {
	result, err := response.Render(template, body)
	if err != nil {
		slog.Error("resolve response template", "destination", h.cfg.Name, "error", err)
	}
	return result
}

func (h *HTTPDestination) newRequest(ctx context.Context, data []byte, format string) (*http.Request, error) {
	target, err := url.Parse(h.cfg.RequestURL)
	if err != nil {
		return nil, fmt.Errorf("parse request URL: %w", err)
	}
	if len(h.cfg.Parameters) > 0 {
		query := target.Query()
		for k, v := range h.cfg.Parameters {
			query.Set(k, v)
		}
		target.RawQuery = query.Encode()
	}

	body, contentType, err := encodeBody(h.cfg, data, format)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, h.cfg.Method(), target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	for k, v := range h.cfg.Headers {
		if strings.EqualFold(k, "Host") {
			req.Host = v
			continue
		}
		req.Header.Set(k, v)
	}
	return req, nil
}
