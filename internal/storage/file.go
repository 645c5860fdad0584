package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgellow/orgctl/internal/crypto"
	"github.com/dgellow/orgctl/internal/log"
)

// FileStorage writes one JSON document per profile, readable only by the
// owner. Token fields are sealed when an encryptor is configured.
type FileStorage struct {
	dir       string
	encryptor crypto.Encryptor
	mu        sync.Mutex
}

var _ SessionStore = (*FileStorage)(nil)

type fileDocument struct {
	Encrypted bool `json:"encrypted,omitempty"`
	PersistedSession
}

func NewFileStorage(dir string, encryptor crypto.Encryptor) (*FileStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	return &FileStorage{dir: dir, encryptor: encryptor}, nil
}

// DefaultDir is the per-user session directory.
func DefaultDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "orgctl", "sessions"), nil
}

func (f *FileStorage) path(profile string) string {
	return filepath.Join(f.dir, profile+".json")
}

func (f *FileStorage) Load(_ context.Context, profile string) (*PersistedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(profile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing session file: %w", err)
	}
	s := doc.PersistedSession
	if doc.Encrypted {
		if f.encryptor == nil {
			return nil, fmt.Errorf("session file is encrypted but no encryption key is configured")
		}
		if err := openTokens(f.encryptor, &s); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func (f *FileStorage) Save(_ context.Context, profile string, s *PersistedSession) error {
	doc := fileDocument{PersistedSession: *s}
	doc.UpdatedAt = time.Now().UTC()
	if f.encryptor != nil {
		if err := sealTokens(f.encryptor, &doc.PersistedSession); err != nil {
			return err
		}
		doc.Encrypted = true
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, "."+profile+"-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(profile)); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}

	log.LogTraceWithFields("storage", "Session persisted", map[string]any{
		"profile":   profile,
		"encrypted": doc.Encrypted,
	})
	return nil
}

func (f *FileStorage) Delete(_ context.Context, profile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(profile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

func sealTokens(enc crypto.Encryptor, s *PersistedSession) error {
	var err error
	if s.AccessToken, err = enc.Encrypt(s.AccessToken); err != nil {
		return fmt.Errorf("encrypting access token: %w", err)
	}
	if s.RefreshToken != "" {
		if s.RefreshToken, err = enc.Encrypt(s.RefreshToken); err != nil {
			return fmt.Errorf("encrypting refresh token: %w", err)
		}
	}
	return nil
}

func openTokens(enc crypto.Encryptor, s *PersistedSession) error {
	var err error
	if s.AccessToken, err = enc.Decrypt(s.AccessToken); err != nil {
		return fmt.Errorf("decrypting access token: %w", err)
	}
	if s.RefreshToken != "" {
		if s.RefreshToken, err = enc.Decrypt(s.RefreshToken); err != nil {
			return fmt.Errorf("decrypting refresh token: %w", err)
		}
	}
	return nil
}
