package deliver

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"slices"
	"strings"

	"github.com/jandubois/shutter/internal/config"
	"github.com/jandubois/shutter/internal/filename"
)

// xmlUpload is the document sent for XML bodies.
type xmlUpload struct {
	XMLName xml.Name `xml:"upload"`
	Field   string   `xml:"field"`
	Data    string   `xml:"data"`
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeBody lays out data according to the uploader's body encoding and
// returns the body together with its content type.
func encodeBody(u *config.HTTPUploader, data []byte, format string) (io.Reader, string, error) {
	switch u.Body {
	case config.BodyMultipartFormData:
		return encodeMultipart(u, data, format)

	case config.BodyFormURLEncoded:
		// The payload is treated as an already-encoded form and re-serialized.
		// Image bytes rarely survive this; kept for compatibility with
		// existing configurations.
		slog.Warn("form-urlencoded body re-encodes the payload as a query string", "destination", u.Name)
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return nil, "", fmt.Errorf("payload is not a key=value form: %w", err)
		}
		return strings.NewReader(values.Encode()), "application/x-www-form-urlencoded", nil

	case config.BodyJSON:
		payload, err := json.Marshal(map[string]string{u.FormName(): string(data)})
		if err != nil {
			return nil, "", fmt.Errorf("marshal payload: %w", err)
		}
		return bytes.NewReader(payload), "application/json", nil

	case config.BodyXML:
		payload, err := xml.Marshal(xmlUpload{Field: u.FormName(), Data: string(data)})
		if err != nil {
			return nil, "", fmt.Errorf("marshal payload: %w", err)
		}
		return bytes.NewReader(append([]byte(xml.Header), payload...)), "application/xml", nil

	case config.BodyBinary, config.BodyNone, "":
		return bytes.NewReader(data), "application/octet-stream", nil
	}
	return nil, "", fmt.Errorf("unsupported body encoding %q", u.Body)
}

func encodeMultipart(u *config.HTTPUploader, data []byte, format string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	contentType := "application/octet-stream"
	if format != "" {
		if t := mime.TypeByExtension("." + format); t != "" {
			contentType = t
		}
	}

	name := filename.RandomString(filename.DefaultRandomLength)
	if format != "" {
		name += "." + format
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(u.FormName()), quoteEscaper.Replace(name)))
	header.Set("Content-Type", contentType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}

	keys := make([]string, 0, len(u.Arguments))
	for k := range u.Arguments {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := w.WriteField(k, u.Arguments[k]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
