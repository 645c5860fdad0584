package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgellow/orgctl/internal/log"
)

// secretFields must be written as {"$env": "VAR"} references in config files.
var secretFields = map[string][]string{
	"auth":        {"apiKey", "stateKey"},
	"persistence": {"encryptionKey"},
}

// Load reads a config file, resolves $env references and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if version != Version {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	config.applyDefaults()

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	log.LogDebugWithFields("config", "Loaded configuration", map[string]any{
		"path":        path,
		"api":         config.API.BaseURL,
		"auth":        config.Auth.URL,
		"persistence": config.Persistence.Kind,
	})
	return config, nil
}

// validateRawConfig rejects inline secrets before any env resolution happens.
func validateRawConfig(rawConfig map[string]any) error {
	for section, names := range secretFields {
		sec, ok := rawConfig[section].(map[string]any)
		if !ok {
			continue
		}
		for _, name := range names {
			value, exists := sec[name]
			if !exists {
				continue
			}
			if _, isString := value.(string); isString {
				return fmt.Errorf("%s.%s must use environment variable reference for security", section, name)
			}
			refMap, isMap := value.(map[string]any)
			if !isMap {
				return fmt.Errorf("%s.%s must use {\"$env\": \"VAR_NAME\"} format", section, name)
			}
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("%s.%s must use {\"$env\": \"VAR_NAME\"} format", section, name)
			}
		}
	}
	return nil
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if err := validateHTTPURL("api.baseURL", config.API.BaseURL); err != nil {
		return err
	}
	if err := validateHTTPURL("auth.url", config.Auth.URL); err != nil {
		return err
	}
	if config.Auth.ClientID == "" {
		return fmt.Errorf("auth.clientId is required")
	}
	if config.Auth.RedirectURI != "" {
		if err := validateHTTPURL("auth.redirectURI", config.Auth.RedirectURI); err != nil {
			return err
		}
	}
	if config.Auth.StateKey != "" && len(config.Auth.StateKey) < 32 {
		return fmt.Errorf("auth.stateKey must be at least 32 bytes, got %d", len(config.Auth.StateKey))
	}

	p := config.Persistence
	switch p.Kind {
	case PersistenceMemory, PersistenceFile:
	case PersistenceFirestore:
		if p.GCPProject == "" {
			return fmt.Errorf("persistence.gcpProject is required for firestore persistence")
		}
		if p.EncryptionKey == "" {
			return fmt.Errorf("persistence.encryptionKey is required for firestore persistence")
		}
	default:
		return fmt.Errorf("persistence.kind must be one of file, memory, firestore; got %q", p.Kind)
	}
	if p.EncryptionKey != "" && len(p.EncryptionKey) < 32 {
		return fmt.Errorf("persistence.encryptionKey must be at least 32 bytes, got %d", len(p.EncryptionKey))
	}
	if strings.ContainsAny(p.Profile, `/\`) {
		return fmt.Errorf("persistence.profile must not contain path separators")
	}

	for name, path := range map[string]string{
		"console.signInPath":        config.Console.SignInPath,
		"console.defaultReturnPath": config.Console.DefaultReturnPath,
	} {
		if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
			return fmt.Errorf("%s must be a local absolute path, got %q", name, path)
		}
	}
	return nil
}

func validateHTTPURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	return nil
}

// WriteDefault writes a starter config file. It refuses to overwrite unless
// force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	d := Default()
	doc := map[string]any{
		"version": Version,
		"api": map[string]any{
			"baseURL": d.API.BaseURL,
			"timeout": d.API.Timeout.String(),
		},
		"auth": map[string]any{
			"url":           d.Auth.URL,
			"clientId":      d.Auth.ClientID,
			"apiKey":        map[string]string{"$env": "ORGCTL_AUTH_API_KEY"},
			"redirectURI":   d.Auth.RedirectURI,
			"refreshMargin": d.Auth.RefreshMargin.String(),
		},
		"persistence": map[string]any{
			"kind":    string(d.Persistence.Kind),
			"profile": d.Persistence.Profile,
		},
		"console": map[string]any{
			"addr": d.Console.Addr,
		},
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// DefaultPath is the config file location used when --config is not given.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "orgctl", "config.json"), nil
}
