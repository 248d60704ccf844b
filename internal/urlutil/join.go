package urlutil

import (
	"net/url"
	"path"
	"strings"
)

// JoinPath safely joins URL paths, handling trailing and leading slashes correctly
func JoinPath(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	allPaths := append([]string{u.Path}, paths...)
	u.Path = path.Join(allPaths...)

	// Preserve trailing slash if the last path component had one
	if len(paths) > 0 && strings.HasSuffix(paths[len(paths)-1], "/") {
		u.Path += "/"
	}

	return u.String(), nil
}

// NormalizeOrigin trims whitespace and trailing slashes so that
// "https://a.com/" and "https://a.com" compare equal.
func NormalizeOrigin(origin string) string {
	return strings.TrimRight(strings.TrimSpace(origin), "/")
}

// FrontendURL builds origin+path and appends params, using "&" when the path
// already carries a query string.
func FrontendURL(origin, pathAndQuery string, params url.Values) string {
	target := NormalizeOrigin(origin) + pathAndQuery
	if len(params) == 0 {
		return target
	}
	sep := "?"
	if strings.Contains(pathAndQuery, "?") {
		sep = "&"
	}
	return target + sep + params.Encode()
}
