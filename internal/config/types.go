package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Version is the only config file version this build understands.
const Version = "orgctl/v1"

// Secret is a string type that redacts itself when printed
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON keeps secrets out of JSON logs and `config` output.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// PersistenceKind selects where the session survives between invocations.
type PersistenceKind string

const (
	PersistenceFile      PersistenceKind = "file"
	PersistenceMemory    PersistenceKind = "memory"
	PersistenceFirestore PersistenceKind = "firestore"
)

// Config is the fully resolved configuration. $env references have already
// been substituted by the time a Config exists.
type Config struct {
	Version     string            `json:"version"`
	API         APIConfig         `json:"api"`
	Auth        AuthConfig        `json:"auth"`
	Persistence PersistenceConfig `json:"persistence"`
	Console     ConsoleConfig     `json:"console"`
	Telemetry   TelemetryConfig   `json:"telemetry"`
}

// APIConfig points at the organization backend.
type APIConfig struct {
	BaseURL string        `json:"baseURL"`
	Timeout time.Duration `json:"timeout"`
}

// AuthConfig points at the GoTrue-compatible auth provider.
type AuthConfig struct {
	URL         string   `json:"url"`
	ClientID    string   `json:"clientId"`
	APIKey      Secret   `json:"apiKey"`
	Scopes      []string `json:"scopes,omitempty"`
	RedirectURI string   `json:"redirectURI"`
	// OAuthProviders are offered on the sign-in page. Defaults to github.
	OAuthProviders []string      `json:"oauthProviders,omitempty"`
	RefreshMargin  time.Duration `json:"refreshMargin"`
	RefreshRetry   time.Duration `json:"refreshRetry"`
	// StateKey signs OAuth state and console CSRF tokens. Generated per
	// process when empty.
	StateKey Secret `json:"stateKey"`
}

type PersistenceConfig struct {
	Kind                PersistenceKind `json:"kind"`
	Path                string          `json:"path,omitempty"`
	Profile             string          `json:"profile"`
	GCPProject          string          `json:"gcpProject,omitempty"`
	FirestoreDatabase   string          `json:"firestoreDatabase,omitempty"`
	FirestoreCollection string          `json:"firestoreCollection,omitempty"`
	CredentialsFile     string          `json:"credentialsFile,omitempty"`
	EncryptionKey       Secret          `json:"encryptionKey,omitempty"`
}

type ConsoleConfig struct {
	Addr              string `json:"addr"`
	SignInPath        string `json:"signInPath"`
	DefaultReturnPath string `json:"defaultReturnPath"`
	// AllowedOrigins may call the console's JSON routes cross-origin.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlpEndpoint,omitempty"`
	ServiceName  string `json:"serviceName,omitempty"`
}

// Default returns a configuration usable against a local backend.
func Default() Config {
	return Config{
		Version: Version,
		API: APIConfig{
			BaseURL: "http://localhost:8000/api",
			Timeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			URL:           "http://localhost:9999/auth/v1",
			ClientID:      "orgctl",
			RedirectURI:   "http://localhost:8787/auth/callback",
			RefreshMargin: time.Minute,
			RefreshRetry:  15 * time.Second,
		},
		Persistence: PersistenceConfig{
			Kind:                PersistenceFile,
			Profile:             "default",
			FirestoreCollection: "orgctl_sessions",
		},
		Console: ConsoleConfig{
			Addr:              "127.0.0.1:8787",
			SignInPath:        "/login",
			DefaultReturnPath: "/organizations",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "orgctl",
		},
	}
}

// applyDefaults fills zero values from Default so partial files stay valid.
func (c *Config) applyDefaults() {
	d := Default()
	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = d.API.Timeout
	}
	if c.Auth.ClientID == "" {
		c.Auth.ClientID = d.Auth.ClientID
	}
	if c.Auth.RefreshMargin == 0 {
		c.Auth.RefreshMargin = d.Auth.RefreshMargin
	}
	if c.Auth.RefreshRetry == 0 {
		c.Auth.RefreshRetry = d.Auth.RefreshRetry
	}
	if c.Persistence.Kind == "" {
		c.Persistence.Kind = d.Persistence.Kind
	}
	if c.Persistence.Profile == "" {
		c.Persistence.Profile = d.Persistence.Profile
	}
	if c.Persistence.FirestoreCollection == "" {
		c.Persistence.FirestoreCollection = d.Persistence.FirestoreCollection
	}
	if c.Console.Addr == "" {
		c.Console.Addr = d.Console.Addr
	}
	if c.Console.SignInPath == "" {
		c.Console.SignInPath = d.Console.SignInPath
	}
	if c.Console.DefaultReturnPath == "" {
		c.Console.DefaultReturnPath = d.Console.DefaultReturnPath
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = d.Telemetry.ServiceName
	}
}

// ParseConfigValue resolves a JSON value that is either a plain string or an
// {"$env": "VAR"} reference.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip one matching pair of surrounding quotes left by sloppy .env files
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}
