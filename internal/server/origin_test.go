package server

import (
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestOriginPolicy(t *testing.T) {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	policy := newOriginPolicy([]string{"http://example.com", " https://Chat.Example.com:8443 ", "not-a-url", ""}, log)

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"exact match", "http://example.com", true},
		{"case insensitive host", "http://EXAMPLE.COM", true},
		{"case insensitive scheme", "HTTP://example.com", true},
		{"port must match", "https://chat.example.com:8443", true},
		{"other port", "https://chat.example.com", false},
		{"other scheme", "https://example.com", false},
		{"missing origin", "", false},
		{"malformed", "javascript:alert(1)", false},
		{"scheme only", "http://", false},
		{"unknown host", "http://evil.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			require.Equal(t, tt.want, policy.checkOrigin(r))
		})
	}
}

func TestOriginPolicy_Wildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, logs.GetLoggerFromLevel(slog.LevelDebug))

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://anywhere.example")
	require.True(t, policy.checkOrigin(r))

	// A wildcard still needs a well-formed Origin header.
	r.Header.Del("Origin")
	require.False(t, policy.checkOrigin(r))
}
