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

func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidateFile checks a config file's structure without resolving $env
// references, so it can run on a machine that lacks the secrets.
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return validateBytes(data), nil
}

func validateBytes(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	switch {
	case !ok:
		result.addError("version", "version field is required. Hint: Add \"version\": %q", Version)
	case version != Version:
		result.addError("version", "unsupported version '%s' - use '%s'", version, Version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		result.addError("", "%v", err)
	}

	validateAPIStructure(rawConfig, result)
	validateAuthStructure(rawConfig, result)
	validatePersistenceStructure(rawConfig, result)

	for key := range rawConfig {
		switch key {
		case "version", "api", "auth", "persistence", "console", "telemetry":
		default:
			result.addWarning(key, "unknown top-level field '%s' is ignored", key)
		}
	}
	return result
}

func section(rawConfig map[string]any, name string, result *ValidationResult) (map[string]any, bool) {
	v, exists := rawConfig[name]
	if !exists {
		return nil, false
	}
	m, ok := v.(map[string]any)
	if !ok {
		result.addError(name, "%s must be an object", name)
		return nil, false
	}
	return m, true
}

func checkDuration(sec map[string]any, path, field string, result *ValidationResult) {
	v, ok := sec[field]
	if !ok {
		return
	}
	s, isString := v.(string)
	if !isString {
		result.addError(path+"."+field, "%s must be a duration string such as \"30s\"", field)
		return
	}
	if _, err := time.ParseDuration(s); err != nil {
		result.addError(path+"."+field, "invalid duration %q: %v", s, err)
	}
}

func validateAPIStructure(rawConfig map[string]any, result *ValidationResult) {
	api, ok := section(rawConfig, "api", result)
	if !ok {
		result.addWarning("api", "api section missing; baseURL defaults to %s", Default().API.BaseURL)
		return
	}
	if _, ok := api["baseURL"]; !ok {
		result.addWarning("api.baseURL", "baseURL not set; defaults to %s", Default().API.BaseURL)
	}
	checkDuration(api, "api", "timeout", result)
}

func validateAuthStructure(rawConfig map[string]any, result *ValidationResult) {
	auth, ok := section(rawConfig, "auth", result)
	if !ok {
		result.addError("auth", "auth section is required")
		return
	}
	if _, ok := auth["url"]; !ok {
		result.addError("auth.url", "url is required. Example: \"https://project.supabase.co/auth/v1\"")
	}
	checkDuration(auth, "auth", "refreshMargin", result)
	checkDuration(auth, "auth", "refreshRetry", result)
	if _, ok := auth["redirectURI"]; !ok {
		result.addWarning("auth.redirectURI", "redirectURI not set; OAuth sign-in will use %s", Default().Auth.RedirectURI)
	}
}

func validatePersistenceStructure(rawConfig map[string]any, result *ValidationResult) {
	p, ok := section(rawConfig, "persistence", result)
	if !ok {
		return
	}
	kind, _ := p["kind"].(string)
	switch PersistenceKind(kind) {
	case "", PersistenceFile:
		if _, hasKey := p["encryptionKey"]; !hasKey {
			result.addWarning("persistence.encryptionKey", "session tokens will be stored unencrypted on disk")
		}
	case PersistenceMemory:
		result.addWarning("persistence.kind", "memory persistence forgets the session when the process exits")
	case PersistenceFirestore:
		if _, ok := p["gcpProject"]; !ok {
			result.addError("persistence.gcpProject", "gcpProject is required for firestore persistence")
		}
		if _, ok := p["encryptionKey"]; !ok {
			result.addError("persistence.encryptionKey", "encryptionKey is required for firestore persistence")
		}
	default:
		result.addError("persistence.kind", "unknown persistence kind '%s' - use file, memory or firestore", kind)
	}
}

var bashStyleRegex = regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

// checkBashStyleSyntax warns about "$VAR" strings that look like they were
// meant to be env references.
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName)
		}
	case map[string]any:
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
