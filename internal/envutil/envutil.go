package envutil

import (
	"os"
	"strings"
)

// IsProduction reports whether SHORTSAI_ENV, or NODE_ENV when that is unset,
// names a production environment.
func IsProduction() bool {
	env := os.Getenv("SHORTSAI_ENV")
	if env == "" {
		env = os.Getenv("NODE_ENV")
	}
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "production" || env == "prod"
}
