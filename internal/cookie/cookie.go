package cookie

import (
	"net/http"

	"github.com/shortsai/backend/internal/log"
)

// DefaultSessionName is the session cookie name when none is configured
const DefaultSessionName = "session"

// Session reads and writes the session cookie with fixed attributes
type Session struct {
	name  string
	attrs Attributes
}

// NewSession creates a session cookie jar
func NewSession(name string, attrs Attributes) *Session {
	if name == "" {
		name = DefaultSessionName
	}
	return &Session{name: name, attrs: attrs}
}

// Name returns the cookie name
func (s *Session) Name() string {
	return s.name
}

// Set writes the session cookie
func (s *Session) Set(w http.ResponseWriter, value string) {
	http.SetCookie(w, s.cookie(value, int(s.attrs.MaxAge.Seconds())))

	log.LogTraceWithFields("cookie", "Session cookie set", map[string]any{
		"name":     s.name,
		"domain":   s.attrs.Domain,
		"maxAge":   s.attrs.MaxAge.String(),
		"secure":   s.attrs.Secure,
		"sameSite": SameSiteName(s.attrs.SameSite),
	})
}

// Clear expires the session cookie. Domain, path, and SameSite must match
// the original write or browsers keep the old cookie.
func (s *Session) Clear(w http.ResponseWriter) {
	http.SetCookie(w, s.cookie("", -1))
	log.LogTraceWithFields("cookie", "Session cookie cleared", map[string]any{
		"name": s.name,
	})
}

// Value retrieves the session cookie value from the request
func (s *Session) Value(r *http.Request) (string, error) {
	c, err := r.Cookie(s.name)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

func (s *Session) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     s.name,
		Value:    value,
		Path:     s.attrs.Path,
		Domain:   s.attrs.Domain,
		HttpOnly: true,
		Secure:   s.attrs.Secure,
		SameSite: s.attrs.SameSite,
		MaxAge:   maxAge,
	}
}
