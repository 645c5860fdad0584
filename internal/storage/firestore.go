package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/orgctl/internal/crypto"
	"github.com/dgellow/orgctl/internal/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStorage keeps one document per profile so an operator's session
// follows them across machines. Token fields are always encrypted.
type FirestoreStorage struct {
	client     *firestore.Client
	collection string
	encryptor  crypto.Encryptor
}

var (
	_ SessionStore = (*FirestoreStorage)(nil)
	_ Closer       = (*FirestoreStorage)(nil)
)

// SessionDoc is the Firestore representation of a PersistedSession.
type SessionDoc struct {
	AccessToken  string    `firestore:"access_token"`
	RefreshToken string    `firestore:"refresh_token,omitempty"`
	TokenType    string    `firestore:"token_type,omitempty"`
	ExpiresAt    time.Time `firestore:"expires_at,omitempty"`
	UserID       string    `firestore:"user_id"`
	UserEmail    string    `firestore:"user_email"`
	UpdatedAt    time.Time `firestore:"updated_at"`
}

// NewFirestoreStorage connects to Firestore. database may be empty or
// "(default)" for the default database.
func NewFirestoreStorage(ctx context.Context, projectID, database, collection string, encryptor crypto.Encryptor, opts ...option.ClientOption) (*FirestoreStorage, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database, opts...)
	} else {
		client, err = firestore.NewClient(ctx, projectID, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Using Firestore session persistence", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreStorage{
		client:     client,
		collection: collection,
		encryptor:  encryptor,
	}, nil
}

func (s *FirestoreStorage) Load(ctx context.Context, profile string) (*PersistedSession, error) {
	doc, err := s.client.Collection(s.collection).Doc(profile).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session from Firestore: %w", err)
	}

	var sd SessionDoc
	if err := doc.DataTo(&sd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return fromSessionDoc(&sd, s.encryptor)
}

func (s *FirestoreStorage) Save(ctx context.Context, profile string, ps *PersistedSession) error {
	sd, err := toSessionDoc(ps, s.encryptor)
	if err != nil {
		return err
	}
	if _, err := s.client.Collection(s.collection).Doc(profile).Set(ctx, sd); err != nil {
		return fmt.Errorf("failed to store session in Firestore: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) Delete(ctx context.Context, profile string) error {
	_, err := s.client.Collection(s.collection).Doc(profile).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete session from Firestore: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}

func toSessionDoc(ps *PersistedSession, enc crypto.Encryptor) (*SessionDoc, error) {
	sealed := *ps
	if err := sealTokens(enc, &sealed); err != nil {
		return nil, err
	}
	return &SessionDoc{
		AccessToken:  sealed.AccessToken,
		RefreshToken: sealed.RefreshToken,
		TokenType:    sealed.TokenType,
		ExpiresAt:    sealed.ExpiresAt,
		UserID:       sealed.UserID,
		UserEmail:    sealed.UserEmail,
		UpdatedAt:    time.Now().UTC(),
	}, nil
}

func fromSessionDoc(sd *SessionDoc, enc crypto.Encryptor) (*PersistedSession, error) {
	ps := &PersistedSession{
		AccessToken:  sd.AccessToken,
		RefreshToken: sd.RefreshToken,
		TokenType:    sd.TokenType,
		ExpiresAt:    sd.ExpiresAt,
		UserID:       sd.UserID,
		UserEmail:    sd.UserEmail,
		UpdatedAt:    sd.UpdatedAt,
	}
	if err := openTokens(enc, ps); err != nil {
		return nil, err
	}
	return ps, nil
}
