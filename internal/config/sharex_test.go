package config

import "testing"

func TestImportShareX(t *testing.T) {
	sxcu := []byte(`{
		"Version": "14.1.0",
		"Name": "catbox",
		"DestinationType": "ImageUploader, FileUploader",
		"RequestMethod": "POST",
		"RequestURL": "https://example.com/upload",
		"Headers": {"X-Key": "secret"},
		"Body": "MultipartFormData",
		"Arguments": {"reqtype": "fileupload"},
		"FileFormName": "fileToUpload",
		"URL": "{json:data.url}",
		"DeletionURL": "https://example.com/delete/{json:data.id}",
		"ErrorMessage": "{json:error}"
	}`)

	u, err := ImportShareX(sxcu)
	if err != nil {
		t.Fatalf("ImportShareX failed: %v", err)
	}

	if u.Name != "catbox" {
		t.Errorf("unexpected name %q", u.Name)
	}
	if u.DestinationType != DestinationImageUploader {
		t.Errorf("unexpected destination type %q", u.DestinationType)
	}
	if u.Body != BodyMultipartFormData {
		t.Errorf("unexpected body %q", u.Body)
	}
	if u.FormName() != "fileToUpload" {
		t.Errorf("unexpected form name %q", u.FormName())
	}
	if u.URL != "$json:data.url$" {
		t.Errorf("unexpected url template %q", u.URL)
	}
	if u.DeletionURL != "https://example.com/delete/$json:data.id$" {
		t.Errorf("unexpected deletion template %q", u.DeletionURL)
	}
	if u.ErrorMessage != "$json:error$" {
		t.Errorf("unexpected error template %q", u.ErrorMessage)
	}
}

func TestImportShareXLegacyFields(t *testing.T) {
	u, err := ImportShareX([]byte(`{"RequestType": "PUT", "RequestURL": "https://example.com", "Body": "Binary", "URL": "$json:link$"}`))
	if err != nil {
		t.Fatalf("ImportShareX failed: %v", err)
	}
	if u.Method() != "PUT" {
		t.Errorf("expected PUT, got %q", u.Method())
	}
	if u.Name != "https://example.com" {
		t.Errorf("expected name to fall back to the URL, got %q", u.Name)
	}
	if u.URL != "$json:link$" {
		t.Errorf("existing query syntax should pass through, got %q", u.URL)
	}
}

func TestImportShareXErrors(t *testing.T) {
	tests := map[string]string{
		"not json":    `nope`,
		"missing url": `{"Name": "x"}`,
		"bad body":    `{"RequestURL": "https://example.com", "Body": "Carrier pigeon"}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ImportShareX([]byte(doc)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
