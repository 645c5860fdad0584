package config

import (
	"encoding/json"
	"fmt"
	"time"
)

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

// ref pairs a raw, possibly $env-referencing value with its destination.
type ref struct {
	raw json.RawMessage
	dst *string
}

// resolveInto parses each non-nil raw value into its destination string.
func resolveInto(fields map[string]ref) error {
	for name, f := range fields {
		if f.raw == nil {
			continue
		}
		v, err := ParseConfigValue(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", name, err)
		}
		*f.dst = v
	}
	return nil
}

func (a *APIConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		BaseURL json.RawMessage `json:"baseURL"`
		Timeout string          `json:"timeout"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	timeout, err := parseDuration("timeout", raw.Timeout)
	if err != nil {
		return err
	}
	a.Timeout = timeout
	return resolveInto(map[string]ref{
		"baseURL": {raw.BaseURL, &a.BaseURL},
	})
}

func (a *AuthConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		URL           json.RawMessage `json:"url"`
		ClientID      json.RawMessage `json:"clientId"`
		APIKey        json.RawMessage `json:"apiKey"`
		Scopes        []string        `json:"scopes"`
		RedirectURI   json.RawMessage `json:"redirectURI"`
		Providers     []string        `json:"oauthProviders"`
		RefreshMargin string          `json:"refreshMargin"`
		RefreshRetry  string          `json:"refreshRetry"`
		StateKey      json.RawMessage `json:"stateKey"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	if a.RefreshMargin, err = parseDuration("refreshMargin", raw.RefreshMargin); err != nil {
		return err
	}
	if a.RefreshRetry, err = parseDuration("refreshRetry", raw.RefreshRetry); err != nil {
		return err
	}
	a.Scopes = raw.Scopes
	a.OAuthProviders = raw.Providers

	var apiKey, stateKey string
	if err := resolveInto(map[string]ref{
		"url":         {raw.URL, &a.URL},
		"clientId":    {raw.ClientID, &a.ClientID},
		"apiKey":      {raw.APIKey, &apiKey},
		"redirectURI": {raw.RedirectURI, &a.RedirectURI},
		"stateKey":    {raw.StateKey, &stateKey},
	}); err != nil {
		return err
	}
	a.APIKey = Secret(apiKey)
	a.StateKey = Secret(stateKey)
	return nil
}

func (p *PersistenceConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind                PersistenceKind `json:"kind"`
		Path                json.RawMessage `json:"path"`
		Profile             string          `json:"profile"`
		GCPProject          json.RawMessage `json:"gcpProject"`
		FirestoreDatabase   string          `json:"firestoreDatabase"`
		FirestoreCollection string          `json:"firestoreCollection"`
		CredentialsFile     json.RawMessage `json:"credentialsFile"`
		EncryptionKey       json.RawMessage `json:"encryptionKey"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Kind = raw.Kind
	p.Profile = raw.Profile
	p.FirestoreDatabase = raw.FirestoreDatabase
	p.FirestoreCollection = raw.FirestoreCollection

	var key string
	if err := resolveInto(map[string]ref{
		"path":            {raw.Path, &p.Path},
		"gcpProject":      {raw.GCPProject, &p.GCPProject},
		"credentialsFile": {raw.CredentialsFile, &p.CredentialsFile},
		"encryptionKey":   {raw.EncryptionKey, &key},
	}); err != nil {
		return err
	}
	p.EncryptionKey = Secret(key)
	return nil
}
