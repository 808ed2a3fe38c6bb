package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
)

// sharexUploader is the ShareX custom uploader (.sxcu) file format.
type sharexUploader struct {
	Name            string            `json:"Name"`
	DestinationType string            `json:"DestinationType"`
	RequestMethod   string            `json:"RequestMethod"`
	RequestType     string            `json:"RequestType"` // pre-13.0 name for RequestMethod
	RequestURL      string            `json:"RequestURL"`
	Parameters      map[string]string `json:"Parameters"`
	Headers         map[string]string `json:"Headers"`
	Body            string            `json:"Body"`
	Arguments       map[string]string `json:"Arguments"`
	FileFormName    string            `json:"FileFormName"`
	URL             string            `json:"URL"`
	ThumbnailURL    string            `json:"ThumbnailURL"`
	DeletionURL     string            `json:"DeletionURL"`
	ErrorMessage    string            `json:"ErrorMessage"`
}

// ShareX 14 writes response queries as {json:path}.
var sharexQuery = regexp.MustCompile(`\{json:([^{}]+)\}`)

// ImportShareX converts a ShareX custom uploader definition into an
// HTTPUploader.
func ImportShareX(data []byte) (*HTTPUploader, error) {
	var sx sharexUploader
	if err := json.Unmarshal(jsonc.ToJSON(data), &sx); err != nil {
		return nil, fmt.Errorf("decode custom uploader: %w", err)
	}
	if sx.RequestURL == "" {
		return nil, fmt.Errorf("custom uploader %q has no RequestURL", sx.Name)
	}

	method := sx.RequestMethod
	if method == "" {
		method = sx.RequestType
	}

	body := BodyMultipartFormData
	if sx.Body != "" {
		if err := body.UnmarshalText([]byte(sx.Body)); err != nil {
			return nil, fmt.Errorf("custom uploader %q: %w", sx.Name, err)
		}
	}

	// DestinationType may list several roles ("ImageUploader, FileUploader");
	// the first one is kept.
	destination := DestinationNone
	if first, _, _ := strings.Cut(sx.DestinationType, ","); strings.TrimSpace(first) != "" {
		destination = DestinationType(strings.TrimSpace(first))
	}

	u := &HTTPUploader{
		Name:            sx.Name,
		DestinationType: destination,
		RequestMethod:   method,
		RequestURL:      sx.RequestURL,
		Parameters:      sx.Parameters,
		Headers:         sx.Headers,
		Body:            body,
		Arguments:       sx.Arguments,
		FileFormName:    sx.FileFormName,
		URL:             convertShareXTemplate(sx.URL),
		ThumbnailURL:    convertShareXTemplate(sx.ThumbnailURL),
		DeletionURL:     convertShareXTemplate(sx.DeletionURL),
		ErrorMessage:    convertShareXTemplate(sx.ErrorMessage),
	}
	if u.Name == "" {
		u.Name = sx.RequestURL
	}
	return u, nil
}

func convertShareXTemplate(s string) string {
	converted := sharexQuery.ReplaceAllString(s, "$$json:$1$$")
	if strings.Contains(converted, "{") {
		slog.Warn("custom uploader template has unsupported syntax", "template", s)
	}
	return converted
}
