package deliver

// Outcome is the result of delivering one image to one destination.
type Outcome struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`

	// Set on success for HTTP destinations.
	URL          string `json:"url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	DeletionURL  string `json:"deletion_url,omitempty"`

	// Set on success for file destinations.
	FilePath string `json:"file_path,omitempty"`

	// Set on failure.
	ErrorMessage string `json:"error_message,omitempty"`
}

// Location returns the URL or file path the image was delivered to.
func (o *Outcome) Location() string {
	if o.FilePath != "" {
		return o.FilePath
	}
	return o.URL
}

func failure(name string, err error) Outcome {
	return Outcome{Name: name, ErrorMessage: err.Error()}
}
