package storage

import (
	"context"
	"fmt"

	"github.com/dgellow/orgctl/internal/config"
	"github.com/dgellow/orgctl/internal/crypto"
	"google.golang.org/api/option"
)

// New builds the SessionStore selected by cfg.Kind.
func New(ctx context.Context, cfg config.PersistenceConfig) (SessionStore, error) {
	var enc crypto.Encryptor
	if cfg.EncryptionKey != "" {
		var err error
		enc, err = crypto.NewEncryptor([]byte(cfg.EncryptionKey))
		if err != nil {
			return nil, fmt.Errorf("persistence encryption: %w", err)
		}
	}

	switch cfg.Kind {
	case config.PersistenceMemory:
		return NewMemoryStorage(), nil
	case config.PersistenceFile, "":
		dir := cfg.Path
		if dir == "" {
			var err error
			if dir, err = DefaultDir(); err != nil {
				return nil, fmt.Errorf("locating session directory: %w", err)
			}
		}
		return NewFileStorage(dir, enc)
	case config.PersistenceFirestore:
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		return NewFirestoreStorage(ctx, cfg.GCPProject, cfg.FirestoreDatabase, cfg.FirestoreCollection, enc, opts...)
	default:
		return nil, fmt.Errorf("unknown persistence kind %q", cfg.Kind)
	}
}
