package daemon

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jandubois/shutter/internal/capture"
	"github.com/jandubois/shutter/internal/config"
)

// Request is one client request. Exactly one field is set. On the wire it
// is externally tagged: {"SetConfig":{...}}, {"GetConfig":{}},
// {"Upload":{...}} or {"Screenshot":<capture request>}.
type Request struct {
	SetConfig  *SetConfigRequest
	GetConfig  *GetConfigRequest
	Upload     *UploadRequest
	Screenshot *capture.Request
}

// SetConfigRequest replaces the shared configuration. It has no response.
type SetConfigRequest struct {
	Config *config.Config `json:"config"`
}

// GetConfigRequest asks for the current configuration.
type GetConfigRequest struct{}

// UploadRequest delivers data to every configured destination. The
// response is the list of outcomes.
type UploadRequest struct {
	Data   Bytes  `json:"data"`
	Format string `json:"format"`
}

// ScreenshotResponse carries a successful capture.
type ScreenshotResponse struct {
	Data   Bytes  `json:"data"`
	Format string `json:"format"`
}

// ErrorResponse reports a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Bytes is binary data. It encodes as base64 and decodes from either a
// base64 string or an array of byte values.
type Bytes []byte

// UnmarshalJSON accepts "aGVsbG8=" as well as [104,101,108,108,111].
func (b *Bytes) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var values []uint8
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("decode byte array: %w", err)
		}
		*b = values
		return nil
	}

	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode bytes: %w", err)
	}
	if s == nil {
		*b = nil
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(*s)
	if err != nil {
		return fmt.Errorf("decode base64: %w", err)
	}
	*b = decoded
	return nil
}

// Kind returns the request's tag, or "" when none is set.
func (r Request) Kind() string {
	switch {
	case r.SetConfig != nil:
		return "SetConfig"
	case r.GetConfig != nil:
		return "GetConfig"
	case r.Upload != nil:
		return "Upload"
	case r.Screenshot != nil:
		return "Screenshot"
	}
	return ""
}

// MarshalJSON writes the externally tagged form.
func (r Request) MarshalJSON() ([]byte, error) {
	switch {
	case r.SetConfig != nil:
		return json.Marshal(map[string]*SetConfigRequest{"SetConfig": r.SetConfig})
	case r.GetConfig != nil:
		return json.Marshal(map[string]*GetConfigRequest{"GetConfig": r.GetConfig})
	case r.Upload != nil:
		return json.Marshal(map[string]*UploadRequest{"Upload": r.Upload})
	case r.Screenshot != nil:
		return json.Marshal(map[string]*capture.Request{"Screenshot": r.Screenshot})
	}
	return nil, errors.New("request has no variant set")
}

// UnmarshalJSON reads the externally tagged form. The payload-free
// GetConfig may also be sent as the bare string "GetConfig". On a stream the
// bare form must be followed by whitespace or another request, since the
// decoder cannot end a top-level string until it sees the next byte.
func (r *Request) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		if tag != "GetConfig" {
			return fmt.Errorf("unknown request %q", tag)
		}
		*r = Request{GetConfig: &GetConfigRequest{}}
		return nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("request must have exactly one variant, got %d", len(tagged))
	}

	*r = Request{}
	for kind, payload := range tagged {
		switch kind {
		case "SetConfig":
			var req SetConfigRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				return fmt.Errorf("decode SetConfig: %w", err)
			}
			if req.Config == nil {
				return errors.New("SetConfig: missing config")
			}
			r.SetConfig = &req
		case "GetConfig":
			r.GetConfig = &GetConfigRequest{}
		case "Upload":
			var req UploadRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				return fmt.Errorf("decode Upload: %w", err)
			}
			r.Upload = &req
		case "Screenshot":
			var req capture.Request
			if err := json.Unmarshal(payload, &req); err != nil {
				return fmt.Errorf("decode Screenshot: %w", err)
			}
			r.Screenshot = &req
		default:
			return fmt.Errorf("unknown request %q", kind)
		}
	}
	return nil
}
