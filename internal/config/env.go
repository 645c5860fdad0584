package config

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// envConfig mirrors Config for environment-only operation.
type envConfig struct {
	APIBase       string        `env:"ORGCTL_API_BASE,default=http://localhost:8000/api"`
	APITimeout    time.Duration `env:"ORGCTL_API_TIMEOUT,default=30s"`
	AuthURL       string        `env:"ORGCTL_AUTH_URL,default=http://localhost:9999/auth/v1"`
	ClientID      string        `env:"ORGCTL_AUTH_CLIENT_ID,default=orgctl"`
	APIKey        string        `env:"ORGCTL_AUTH_API_KEY"`
	Scopes        []string      `env:"ORGCTL_AUTH_SCOPES"`
	RedirectURI   string        `env:"ORGCTL_AUTH_REDIRECT_URI,default=http://localhost:8787/auth/callback"`
	Providers     []string      `env:"ORGCTL_AUTH_OAUTH_PROVIDERS"`
	RefreshMargin time.Duration `env:"ORGCTL_AUTH_REFRESH_MARGIN,default=1m"`
	StateKey      string        `env:"ORGCTL_AUTH_STATE_KEY"`

	PersistenceKind     string `env:"ORGCTL_PERSISTENCE,default=file"`
	PersistencePath     string `env:"ORGCTL_PERSISTENCE_PATH"`
	Profile             string `env:"ORGCTL_PROFILE,default=default"`
	GCPProject          string `env:"ORGCTL_GCP_PROJECT"`
	FirestoreDatabase   string `env:"ORGCTL_FIRESTORE_DATABASE"`
	FirestoreCollection string `env:"ORGCTL_FIRESTORE_COLLECTION"`
	CredentialsFile     string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	EncryptionKey       string `env:"ORGCTL_ENCRYPTION_KEY"`

	ConsoleAddr           string   `env:"ORGCTL_CONSOLE_ADDR,default=127.0.0.1:8787"`
	ConsoleAllowedOrigins []string `env:"ORGCTL_CONSOLE_ALLOWED_ORIGINS"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME,default=orgctl"`
}

// LoadFromEnv builds a Config from ORGCTL_* variables. A .env file in the
// working directory is loaded first when present; real environment variables
// take precedence over it.
func LoadFromEnv(ctx context.Context) (Config, error) {
	_ = godotenv.Load()
	return loadFromLookuper(ctx, envconfig.OsLookuper())
}

func loadFromLookuper(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var env envConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &env,
		Lookuper: l,
	}); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}

	cfg := Config{
		Version: Version,
		API: APIConfig{
			BaseURL: env.APIBase,
			Timeout: env.APITimeout,
		},
		Auth: AuthConfig{
			URL:            env.AuthURL,
			ClientID:       env.ClientID,
			APIKey:         Secret(env.APIKey),
			Scopes:         env.Scopes,
			RedirectURI:    env.RedirectURI,
			OAuthProviders: env.Providers,
			RefreshMargin:  env.RefreshMargin,
			StateKey:       Secret(env.StateKey),
		},
		Persistence: PersistenceConfig{
			Kind:                PersistenceKind(env.PersistenceKind),
			Path:                env.PersistencePath,
			Profile:             env.Profile,
			GCPProject:          env.GCPProject,
			FirestoreDatabase:   env.FirestoreDatabase,
			FirestoreCollection: env.FirestoreCollection,
			CredentialsFile:     env.CredentialsFile,
			EncryptionKey:       Secret(env.EncryptionKey),
		},
		Console: ConsoleConfig{
			Addr:           env.ConsoleAddr,
			AllowedOrigins: env.ConsoleAllowedOrigins,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: env.OTLPEndpoint,
			ServiceName:  env.ServiceName,
		},
	}
	cfg.applyDefaults()

	if err := ValidateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
