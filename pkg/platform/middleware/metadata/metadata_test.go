package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadgate/pkg/requestcontext"
)

func TestMiddlewareHandler(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		trusted    string
		wantIP     string
		wantUA     string
	}{
		{
			name:       "ignores XFF without trusted proxies",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1", "User-Agent": "Mozilla/5.0"},
			remoteAddr: "192.168.1.1:12345",
			wantIP:     "192.168.1.1",
			wantUA:     "Mozilla/5.0",
		},
		{
			name:       "trusts first XFF hop from trusted proxy",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.2"},
			remoteAddr: "10.0.0.1:12345",
			trusted:    "10.0.0.0/8",
			wantIP:     "203.0.113.1",
		},
		{
			name:       "uses X-Real-IP from trusted proxy",
			headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
			remoteAddr: "10.0.0.1:12345",
			trusted:    "10.0.0.1",
			wantIP:     "198.51.100.7",
		},
		{
			name:       "falls back on malformed XFF",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip"},
			remoteAddr: "10.0.0.1:12345",
			trusted:    "10.0.0.0/8",
			wantIP:     "10.0.0.1",
		},
		{
			name:       "handles bracketed IPv6 remote",
			remoteAddr: "[2001:db8::1]:443",
			wantIP:     "2001:db8::1",
		},
		{
			name:       "unknown remote address",
			remoteAddr: "garbage",
			wantIP:     "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefixes, err := ParseTrustedProxies(tt.trusted)
			require.NoError(t, err)

			var gotIP, gotUA string
			handler := NewMiddleware(&Config{TrustedProxies: prefixes}).Handler(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					gotIP = requestcontext.ClientIP(r.Context())
					gotUA = requestcontext.UserAgent(r.Context())
				}),
			)

			req := httptest.NewRequest(http.MethodGet, "/session", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.wantIP, gotIP)
			assert.Equal(t, tt.wantUA, gotUA)
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	prefixes, err := ParseTrustedProxies("10.0.0.0/8, 192.168.1.5 ,")
	require.NoError(t, err)
	require.Len(t, prefixes, 2)
	assert.Equal(t, "192.168.1.5/32", prefixes[1].String())

	_, err = ParseTrustedProxies("10.0.0.0/99")
	assert.Error(t, err)
}
