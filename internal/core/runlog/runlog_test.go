package runlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Deployment URL Extraction Tests
// =============================================================================

func TestExtractDeploymentURL(t *testing.T) {
	logs := "Building...\nDeployment URL: https://app-abc123.example.dev\nDone."

	url, ok := ExtractDeploymentURL(logs)
	require.True(t, ok)
	assert.Equal(t, "https://app-abc123.example.dev", url)
}

func TestExtractDeploymentURL_TrailingPunctuation(t *testing.T) {
	tests := []struct {
		logs string
		want string
	}{
		{"Deployment URL: https://app.example.dev.", "https://app.example.dev"},
		{"Deployment URL: https://app.example.dev, done", "https://app.example.dev"},
		{`Deployment URL: https://app.example.dev"`, "https://app.example.dev"},
		{"(Deployment URL: https://app.example.dev)", "https://app.example.dev"},
	}

	for _, tt := range tests {
		url, ok := ExtractDeploymentURL(tt.logs)
		require.True(t, ok, "logs %q", tt.logs)
		assert.Equal(t, tt.want, url)
	}
}

func TestExtractDeploymentURL_FirstMatchWins(t *testing.T) {
	logs := "Deployment URL: https://first.example.dev\nDeployment URL: https://second.example.dev"

	url, ok := ExtractDeploymentURL(logs)
	require.True(t, ok)
	assert.Equal(t, "https://first.example.dev", url)
}

func TestExtractDeploymentURL_NoMarker(t *testing.T) {
	for _, logs := range []string{
		"",
		"Building...\nDone.",
		"deployment url: https://lowercase.example.dev",
		"Deployment URL:",
	} {
		_, ok := ExtractDeploymentURL(logs)
		assert.False(t, ok, "logs %q", logs)
	}
}

// =============================================================================
// Payload Decoding Tests
// =============================================================================

func TestDecodePayload_PlainText(t *testing.T) {
	assert.Equal(t, "line one\nline two", DecodePayload([]byte("  line one\nline two\n")))
}

func TestDecodePayload_Empty(t *testing.T) {
	assert.Equal(t, "", DecodePayload(nil))
	assert.Equal(t, "", DecodePayload([]byte{}))
}

func TestDecodePayload_JSONString(t *testing.T) {
	assert.Equal(t, "wrapped log body", DecodePayload([]byte(`"wrapped log body"`)))
}

func TestDecodePayload_JSONObject(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"logs key", `{"logs": "from logs key"}`, "from logs key"},
		{"message key", `{"message": "from message key"}`, "from message key"},
		{"content key", `{"content": "from content key"}`, "from content key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodePayload([]byte(tt.payload)))
		})
	}
}

func TestDecodePayload_JSONObjectWithoutTextKey(t *testing.T) {
	payload := `{"status": 200, "count": 3}`

	// No recognized text field, keep the raw JSON.
	assert.Equal(t, payload, DecodePayload([]byte(payload)))
}

func TestDecodePayload_JSONArray(t *testing.T) {
	assert.Equal(t, "first\nsecond", DecodePayload([]byte(`["first", "second"]`)))
}

func TestDecodePayload_InvalidJSONFallsThrough(t *testing.T) {
	assert.Equal(t, `{"broken`, DecodePayload([]byte(`{"broken`)))
	assert.Equal(t, `"unterminated`, DecodePayload([]byte(`"unterminated`)))
}

func TestDecodePayload_InvalidUTF8Replaced(t *testing.T) {
	decoded := DecodePayload([]byte{'o', 'k', 0xff, 0xfe})

	assert.Contains(t, decoded, "ok")
	assert.True(t, len(decoded) > 2)
	assert.NotContains(t, decoded, string(byte(0xff)))
}
