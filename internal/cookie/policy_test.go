package cookie

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name         string
		frontend     string
		backend      string
		production   bool
		wantDomain   string
		wantSameSite http.SameSite
		wantSecure   bool
	}{
		{
			name:         "split hosts in production",
			frontend:     "https://app.example.com",
			backend:      "https://api.example.org",
			production:   true,
			wantDomain:   "",
			wantSameSite: http.SameSiteNoneMode,
			wantSecure:   true,
		},
		{
			name:         "split hosts in development",
			frontend:     "http://localhost:5173",
			backend:      "http://127.0.0.1:8080",
			production:   false,
			wantDomain:   "",
			wantSameSite: http.SameSiteLaxMode,
			wantSecure:   false,
		},
		{
			name:         "www frontend with apex backend",
			frontend:     "https://www.example.com",
			backend:      "https://example.com",
			production:   true,
			wantDomain:   "example.com",
			wantSameSite: http.SameSiteLaxMode,
			wantSecure:   true,
		},
		{
			name:         "same host in development",
			frontend:     "http://shorts.test:5173",
			backend:      "http://shorts.test:8080",
			production:   false,
			wantDomain:   "shorts.test",
			wantSameSite: http.SameSiteLaxMode,
			wantSecure:   false,
		},
		{
			name:         "same localhost gets no domain",
			frontend:     "http://localhost:5173",
			backend:      "http://localhost:8080",
			production:   false,
			wantDomain:   "",
			wantSameSite: http.SameSiteLaxMode,
			wantSecure:   false,
		},
		{
			name:         "host comparison is case insensitive",
			frontend:     "https://Example.COM",
			backend:      "https://example.com",
			production:   true,
			wantDomain:   "example.com",
			wantSameSite: http.SameSiteLaxMode,
			wantSecure:   true,
		},
		{
			name:         "unparseable frontend falls back to host-only",
			frontend:     "::not a url",
			backend:      "https://api.example.com",
			production:   true,
			wantDomain:   "",
			wantSameSite: http.SameSiteNoneMode,
			wantSecure:   true,
		},
		{
			name:         "relative origin falls back to host-only",
			frontend:     "example.com",
			backend:      "example.com",
			production:   false,
			wantDomain:   "",
			wantSameSite: http.SameSiteLaxMode,
			wantSecure:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := Decide(tt.frontend, tt.backend, tt.production)

			assert.Equal(t, tt.wantDomain, attrs.Domain)
			assert.Equal(t, tt.wantSameSite, attrs.SameSite)
			assert.Equal(t, tt.wantSecure, attrs.Secure)
			assert.True(t, attrs.HTTPOnly)
			assert.Equal(t, "/", attrs.Path)
			assert.Equal(t, 7*24*time.Hour, attrs.MaxAge)

			if attrs.SameSite == http.SameSiteNoneMode {
				assert.True(t, attrs.Secure, "SameSite=None requires Secure")
			}
		})
	}
}

func TestSession_SetAndClear(t *testing.T) {
	attrs := Decide("https://app.example.com", "https://api.example.org", true)
	jar := NewSession("", attrs)
	assert.Equal(t, DefaultSessionName, jar.Name())

	rec := httptest.NewRecorder()
	jar.Set(rec, "token-value")

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "session", c.Name)
	assert.Equal(t, "token-value", c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteNoneMode, c.SameSite)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), c.MaxAge)

	rec = httptest.NewRecorder()
	jar.Clear(rec)
	cookies = rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session", cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Less(t, cookies[0].MaxAge, 0)
	assert.Equal(t, http.SameSiteNoneMode, cookies[0].SameSite)
	assert.True(t, cookies[0].Secure)
}

func TestSession_Value(t *testing.T) {
	jar := NewSession("sid", Decide("https://example.com", "https://example.com", true))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := jar.Value(req)
	assert.ErrorIs(t, err, http.ErrNoCookie)

	req.AddCookie(&http.Cookie{Name: "sid", Value: "abc"})
	value, err := jar.Value(req)
	require.NoError(t, err)
	assert.Equal(t, "abc", value)
}

func TestSession_DomainWritten(t *testing.T) {
	jar := NewSession("session", Decide("https://www.example.com", "https://example.com", true))

	rec := httptest.NewRecorder()
	jar.Set(rec, "v")
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "Domain=example.com")
}
