package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultPath returns ~/.config/shutter/config.json.
func DefaultPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// DefaultHistoryPath returns ~/.local/share/shutter/history.db.
func DefaultHistoryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "shutter", "history.db"), nil
}

// DefaultImageDir returns ~/Screenshots.
func DefaultImageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "Screenshots"
	}
	return filepath.Join(home, "Screenshots")
}

// configDir returns the path to the shutter config directory.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "shutter"), nil
}

// Default returns the built-in configuration: save every capture under
// ~/Screenshots and upload it to imgur.
func Default() *Config {
	return &Config{
		Uploaders: []Uploader{
			{File: &FileUploader{
				Name:     "File",
				FilePath: DefaultImageDir(),
				FileName: "%ts",
			}},
			{HTTP: &HTTPUploader{
				Name:            "imgur",
				DestinationType: DestinationImageUploader,
				RequestMethod:   "POST",
				RequestURL:      "https://api.imgur.com/3/image",
				Headers: map[string]string{
					// Register an application at https://api.imgur.com/oauth2/addclient.
					"Authorization": "Client-ID YOUR_CLIENT_ID",
				},
				Body:         BodyMultipartFormData,
				Arguments:    map[string]string{"type": "file"},
				FileFormName: DefaultFileFormName,
				URL:          "$json:data.link$",
				DeletionURL:  "https://imgur.com/delete/$json:data.deletehash$",
			}},
		},
		CopyToClipboard: true,
		FreezeScreen:    true,
		TessdataPath:    defaultTessdataPath(),
	}
}

func defaultTessdataPath() string {
	switch runtime.GOOS {
	case "windows":
		return `C:\Program Files\Tesseract-OCR\tessdata`
	case "darwin":
		return "/opt/homebrew/share/tessdata"
	default:
		return "/usr/share/tessdata"
	}
}
