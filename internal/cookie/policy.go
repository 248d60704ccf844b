package cookie

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shortsai/backend/internal/log"
)

// SessionMaxAge matches the session token lifetime
const SessionMaxAge = 7 * 24 * time.Hour

// Attributes are the cookie attributes derived from the deployment topology
type Attributes struct {
	HTTPOnly bool
	Secure   bool
	SameSite http.SameSite
	Domain   string
	Path     string
	MaxAge   time.Duration
}

// Decide derives cookie attributes from where the frontend and backend live.
//
// Split deployments (different hosts) get a host-only cookie that must be
// SameSite=None in production to be sent on cross-site fetches at all. When
// both sides share a host the cookie is scoped to the bare domain so
// subdomains share it. Unparseable origins degrade to a host-only cookie.
func Decide(frontendOrigin, backendOrigin string, production bool) Attributes {
	attrs := Attributes{
		HTTPOnly: true,
		Secure:   production,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		MaxAge:   SessionMaxAge,
	}

	frontendHost, ferr := originHost(frontendOrigin)
	backendHost, berr := originHost(backendOrigin)
	if ferr != nil || berr != nil {
		log.LogWarnWithFields("cookie", "Failed to parse origins, cookie will be host-only", map[string]any{
			"frontendOrigin": frontendOrigin,
			"backendOrigin":  backendOrigin,
			"frontendError":  errString(ferr),
			"backendError":   errString(berr),
		})
		return finish(attrs, production, true)
	}

	if bareHost(frontendHost) != bareHost(backendHost) {
		return finish(attrs, production, true)
	}

	if domain := bareHost(frontendHost); domain != "localhost" && net.ParseIP(domain) == nil {
		attrs.Domain = domain
	}
	return finish(attrs, production, false)
}

func finish(attrs Attributes, production, crossSite bool) Attributes {
	if crossSite && production {
		attrs.SameSite = http.SameSiteNoneMode
	}
	// Browsers drop SameSite=None cookies that are not Secure
	if attrs.SameSite == http.SameSiteNoneMode {
		attrs.Secure = true
	}
	return attrs
}

func originHost(origin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return "", fmt.Errorf("origin %q is not an absolute URL", origin)
	}
	return strings.ToLower(u.Hostname()), nil
}

func bareHost(host string) string {
	return strings.TrimPrefix(host, "www.")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// SameSiteName renders a SameSite mode for logs
func SameSiteName(s http.SameSite) string {
	switch s {
	case http.SameSiteStrictMode:
		return "Strict"
	case http.SameSiteLaxMode:
		return "Lax"
	case http.SameSiteNoneMode:
		return "None"
	default:
		return "Default"
	}
}
