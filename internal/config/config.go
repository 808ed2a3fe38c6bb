package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Config is the application configuration shared by the CLI and the daemon.
type Config struct {
	Uploaders          []Uploader     `json:"uploaders"`
	Screenshotter      *Screenshotter `json:"screenshotter"`
	LastIndex          uint64         `json:"last_index"`
	CopyToClipboard    bool           `json:"copy_to_clipboard"`
	CopyURLToClipboard bool           `json:"copy_url_to_clipboard"`
	FreezeScreen       bool           `json:"freeze_screen"`
	TessdataPath       string         `json:"tessdata_path,omitempty"`
}

// Screenshotter replaces the built-in capture with an external program whose
// standard output is the encoded image.
type Screenshotter struct {
	Path string   `json:"path"`
	Args []string `json:"args"`
}

// Uploader is one configured destination. Exactly one of HTTP and File is set.
type Uploader struct {
	HTTP *HTTPUploader
	File *FileUploader
}

// Name returns the display name of the destination.
func (u Uploader) Name() string {
	switch {
	case u.HTTP != nil:
		return u.HTTP.Name
	case u.File != nil:
		return u.File.Name
	}
	return ""
}

// Kind returns "HTTP", "File", or "" for an empty Uploader.
func (u Uploader) Kind() string {
	switch {
	case u.HTTP != nil:
		return "HTTP"
	case u.File != nil:
		return "File"
	}
	return ""
}

// MarshalJSON encodes the uploader as a single-key object tagged with its kind.
func (u Uploader) MarshalJSON() ([]byte, error) {
	switch {
	case u.HTTP != nil:
		return json.Marshal(map[string]*HTTPUploader{"HTTP": u.HTTP})
	case u.File != nil:
		return json.Marshal(map[string]*FileUploader{"File": u.File})
	}
	return nil, fmt.Errorf("uploader has no variant set")
}

// UnmarshalJSON decodes {"HTTP": {...}} or {"File": {...}}.
func (u *Uploader) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("uploader: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("uploader: expected exactly one variant, got %d", len(tagged))
	}

	*u = Uploader{}
	for kind, raw := range tagged {
		switch kind {
		case "HTTP":
			u.HTTP = &HTTPUploader{}
			return json.Unmarshal(raw, u.HTTP)
		case "File":
			u.File = &FileUploader{}
			return json.Unmarshal(raw, u.File)
		default:
			return fmt.Errorf("uploader: unknown variant %q", kind)
		}
	}
	return nil
}

// DestinationType classifies an HTTP destination. It is informational only.
type DestinationType string

const (
	DestinationNone              DestinationType = "None"
	DestinationImageUploader     DestinationType = "ImageUploader"
	DestinationTextUploader      DestinationType = "TextUploader"
	DestinationFileUploader      DestinationType = "FileUploader"
	DestinationURLShortener      DestinationType = "URLShortener"
	DestinationURLSharingService DestinationType = "URLSharingService"
)

// Body selects how the payload is encoded in the request body.
type Body string

const (
	BodyNone              Body = "None"
	BodyMultipartFormData Body = "MultipartFormData"
	BodyFormURLEncoded    Body = "FormURLEncoded"
	BodyJSON              Body = "JSON"
	BodyXML               Body = "XML"
	BodyBinary            Body = "Binary"
)

var bodies = []Body{BodyNone, BodyMultipartFormData, BodyFormURLEncoded, BodyJSON, BodyXML, BodyBinary}

// UnmarshalText rejects unknown body encodings.
func (b *Body) UnmarshalText(text []byte) error {
	for _, known := range bodies {
		if string(text) == string(known) {
			*b = known
			return nil
		}
	}
	return fmt.Errorf("unknown body encoding %q", string(text))
}

// HTTPUploader sends the image to a web service.
type HTTPUploader struct {
	Name            string            `json:"name"`
	DestinationType DestinationType   `json:"destination_type"`
	RequestMethod   string            `json:"request_method"`
	RequestURL      string            `json:"request_url"`
	Parameters      map[string]string `json:"parameters,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            Body              `json:"body"`
	Arguments       map[string]string `json:"arguments,omitempty"`
	FileFormName    string            `json:"file_form_name,omitempty"`

	// Response templates, resolved against the destination's reply.
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	DeletionURL  string `json:"deletion_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// DefaultFileFormName is the payload field name when none is configured.
const DefaultFileFormName = "image"

var methods = []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "CONNECT", "OPTIONS", "TRACE"}

// Method returns the request method, falling back to POST for anything
// outside the standard verb set.
func (u *HTTPUploader) Method() string {
	method := strings.ToUpper(strings.TrimSpace(u.RequestMethod))
	if slices.Contains(methods, method) {
		return method
	}
	return "POST"
}

// FormName returns the payload field name.
func (u *HTTPUploader) FormName() string {
	if u.FileFormName == "" {
		return DefaultFileFormName
	}
	return u.FileFormName
}

// FileUploader writes the image into a local directory.
type FileUploader struct {
	Name     string `json:"name"`
	FilePath string `json:"file_path"` // directory
	FileName string `json:"file_name"` // template, without extension
}

// Clone returns a deep copy of c. A nil uploader list becomes an empty one, so
// the copy always encodes "uploaders" as an array.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Uploaders = make([]Uploader, len(c.Uploaders))
	for i, u := range c.Uploaders {
		clone.Uploaders[i] = u.clone()
	}
	if c.Screenshotter != nil {
		s := *c.Screenshotter
		s.Args = slices.Clone(c.Screenshotter.Args)
		clone.Screenshotter = &s
	}
	return &clone
}

func (u Uploader) clone() Uploader {
	var out Uploader
	if u.HTTP != nil {
		h := *u.HTTP
		h.Parameters = maps.Clone(u.HTTP.Parameters)
		h.Headers = maps.Clone(u.HTTP.Headers)
		h.Arguments = maps.Clone(u.HTTP.Arguments)
		out.HTTP = &h
	}
	if u.File != nil {
		f := *u.File
		out.File = &f
	}
	return out
}
