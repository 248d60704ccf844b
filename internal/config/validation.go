package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

var bashStyleRegex = regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateBytes(data), nil
}

// ValidateBytes validates config JSON structure without resolving env vars
func ValidateBytes(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": \"%s\"", VersionPrefix)
	} else if !strings.HasPrefix(version, VersionPrefix) {
		result.addError("version", "unsupported version '%s' - use '%s'", version, VersionPrefix)
	}

	validateOriginsStructure(rawConfig, result)
	validateSessionStructure(rawConfig, result)
	validateSecretsStructure(rawConfig, result)
	validateStorageStructure(rawConfig, result)
	validateDurationsStructure(rawConfig, result)
	validateDriveStructure(rawConfig, result)

	return result
}

func validateOriginsStructure(rawConfig map[string]any, result *ValidationResult) {
	required := []struct {
		name    string
		example string
	}{
		{"frontendOrigin", "https://shortsai.ru"},
		{"backendBaseURL", "https://api.shortsai.ru"},
	}
	for _, field := range required {
		if _, ok := rawConfig[field.name]; !ok {
			result.addError(field.name, "%s is required. Example: \"%s\"", field.name, field.example)
		}
	}

	if origins, ok := rawConfig["allowedOrigins"]; ok {
		if _, isList := origins.([]any); !isList {
			result.addError("allowedOrigins", "allowedOrigins must be an array of origins")
		}
	}
}

func validateSessionStructure(rawConfig map[string]any, result *ValidationResult) {
	session, ok := rawConfig["session"].(map[string]any)
	if !ok {
		result.addError("session", "session is required and must be an object with at least a secret")
		return
	}
	if _, ok := session["secret"]; !ok {
		result.addError("session.secret", "secret is required. Hint: Must be at least %d bytes long for HMAC-SHA256", minSecretLength)
	}
	if name, ok := session["cookieName"].(string); ok && strings.ContainsAny(name, " ;,=") {
		result.addError("session.cookieName", "cookie name '%s' contains invalid characters", name)
	}
}

func validateSecretsStructure(rawConfig map[string]any, result *ValidationResult) {
	for _, path := range secretFields {
		value, ok := lookupPath(rawConfig, path)
		if !ok {
			continue
		}
		if err := validateEnvVarReference(value, path, path); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	}

	if prev, ok := lookupPath(rawConfig, "session.previousSecrets"); ok {
		list, isList := prev.([]any)
		if !isList {
			result.addError("session.previousSecrets", "previousSecrets must be an array of environment variable references")
			return
		}
		for i, v := range list {
			path := fmt.Sprintf("session.previousSecrets[%d]", i)
			if err := validateEnvVarReference(v, "previous secret", path); err != nil {
				result.Errors = append(result.Errors, *err)
			}
		}
	}
}

func validateStorageStructure(rawConfig map[string]any, result *ValidationResult) {
	storage, ok := rawConfig["storage"].(map[string]any)
	if !ok {
		return
	}

	kind, _ := storage["kind"].(string)
	switch StorageKind(kind) {
	case "", StorageMemory:
		if prod, _ := rawConfig["production"].(bool); prod {
			result.addWarning("storage.kind", "memory storage loses Drive connections and used nonces on restart")
		}
	case StorageFirestore:
		if _, ok := storage["gcpProject"]; !ok {
			result.addError("storage.gcpProject", "gcpProject is required when using firestore storage")
		}
		if _, ok := rawConfig["encryptionKey"]; !ok {
			result.addError("encryptionKey", "encryptionKey is required when using firestore storage. Hint: Must be exactly %d bytes", encryptionKeyLength)
		}
	default:
		result.addError("storage.kind", "unknown storage kind '%s' - use 'memory' or 'firestore'", kind)
	}
}

func validateDurationsStructure(rawConfig map[string]any, result *ValidationResult) {
	for _, path := range []string{"firebase.identityLookupTimeout", "storage.cleanupInterval"} {
		value, ok := lookupPath(rawConfig, path)
		if !ok {
			continue
		}
		s, isString := value.(string)
		if !isString {
			result.addError(path, "must be a duration string such as \"2s\" or \"10m\"")
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			result.addError(path, "invalid duration '%s': %v", s, err)
			continue
		}
		if d < 0 {
			result.addError(path, "duration cannot be negative")
		}
	}

	if timeout, ok := lookupPath(rawConfig, "firebase.identityLookupTimeout"); ok {
		if s, _ := timeout.(string); s != "" {
			if d, err := time.ParseDuration(s); err == nil && d > 10*time.Second {
				result.addWarning("firebase.identityLookupTimeout", "%s adds up to that much latency to every authenticated request when the identity provider is slow", s)
			}
		}
	}
}

func validateDriveStructure(rawConfig map[string]any, result *ValidationResult) {
	drive, ok := rawConfig["googleDrive"].(map[string]any)
	if !ok {
		result.addWarning("googleDrive", "Google Drive OAuth is not configured; connect requests will fail with reason=oauth_config")
		return
	}

	_, hasID := drive["clientId"]
	_, hasSecret := drive["clientSecret"]
	if hasID != hasSecret {
		result.addError("googleDrive", "clientId and clientSecret must be set together")
	}
	if p, ok := drive["redirectPath"].(string); ok && !strings.HasPrefix(p, "/") {
		result.addError("googleDrive.redirectPath", "redirectPath must start with '/'. Example: \"%s\"", DefaultRedirectPath)
	}
	if scopes, ok := drive["scopes"]; ok {
		list, isList := scopes.([]any)
		if !isList || len(list) == 0 {
			result.addError("googleDrive.scopes", "scopes must be a non-empty array")
		}
	}
}

// validateEnvVarReference validates that a field uses proper env var reference format
func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 1 {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead. Hint: JSON syntax prevents accidental shell expansion and ensures security", v, matches[1]),
			}
		}
		// Never echo the plain text value: it is a secret
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text. Hint: This prevents secrets from being stored in config files", fieldName),
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"YOUR_ENV_VAR\"} format", fieldName),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", fieldName, value),
		}
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead. Hint: JSON syntax prevents accidental shell expansion in scripts/CI and ensures unambiguous parsing", match, varName)
		}
	case map[string]any:
		// Skip if this is already an env ref
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
