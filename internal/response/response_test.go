package response

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	body := []byte(`{
		"data": {
			"link": "http://x/y",
			"deletehash": "abc123",
			"size": 2048,
			"ok": true,
			"tags": ["one", "two"],
			"html": "<a href=\"q\">&</a>"
		},
		"files": ["https://legacy/one.png"]
	}`)

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"simple path", "$json:data.link$", "http://x/y"},
		{"embedded in text", "https://imgur.com/delete/$json:data.deletehash$", "https://imgur.com/delete/abc123"},
		{"two spans", "$json:data.link$?h=$json:data.deletehash$", "http://x/y?h=abc123"},
		{"number", "size=$json:data.size$", "size=2048"},
		{"bool", "$json:data.ok$", "true"},
		{"array index", "$json:data.tags[1]$", "two"},
		{"legacy single-element array", "$json:files$", "https://legacy/one.png"},
		{"multi-element array kept as JSON", "$json:data.tags$", `["one","two"]`},
		{"html not escaped", "$json:data.html$", `<a href="q">&</a>`},
		{"missing path", "[$json:data.nope$]", "[]"},
		{"no span", "static text", "static text"},
		{"empty template", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Render(tt.template, body)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRenderWithoutSpanIgnoresBody(t *testing.T) {
	for _, body := range [][]byte{nil, []byte("not json"), []byte("{")} {
		result, err := Render("https://example.com/static", body)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/static", result)
	}
}

func TestRenderInvalidJSON(t *testing.T) {
	result, err := Render("url: $json:data.link$", []byte("<html>oops</html>"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidJSON))
	assert.Equal(t, "url: ", result)
}

func TestRenderNestedLink(t *testing.T) {
	result, err := Render("$json:data.link$", []byte(`{"data":{"link":"http://x/y"}}`))
	require.NoError(t, err)
	assert.Equal(t, "http://x/y", result)
}

func TestHasQuery(t *testing.T) {
	assert.True(t, HasQuery("$json:a$"))
	assert.True(t, HasQuery("prefix $json:a.b[0]$ suffix"))
	assert.False(t, HasQuery("$json:$"))
	assert.False(t, HasQuery("plain"))
}
