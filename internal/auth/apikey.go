// Package auth implements API-key authentication for the CropSense API.
// Raw keys are shown once at creation; the database stores only a bcrypt hash
// and a short lookup prefix.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"cropsense/internal/types"
)

// bcryptCost is the bcrypt cost factor used for API key hashing. Keys are
// high-entropy random strings, so the interactive-login cost of 12 is not
// needed; 10 keeps per-request verification under a few milliseconds.
const bcryptCost = 10

// keyPrefixLen is the number of leading raw-key characters stored in clear
// for database lookup.
const keyPrefixLen = 12

// keySecretBytes is the number of random bytes in a generated key.
const keySecretBytes = 24

// APIKeyRepo abstracts the API key lookups the service needs.
type APIKeyRepo interface {
	GetByPrefix(ctx context.Context, prefix string) (*types.APIKey, error)
}

// KeyHasher abstracts bcrypt operations for testability.
type KeyHasher interface {
	Hash(raw string) (string, error)
	Compare(hash, raw string) error
}

// bcryptHasher is the production implementation of KeyHasher.
type bcryptHasher struct{}

func (bcryptHasher) Hash(raw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(raw), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (bcryptHasher) Compare(hash, raw string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
}

// Service resolves raw API keys to Actors. It implements core.Authenticator.
type Service struct {
	repo   APIKeyRepo
	hasher KeyHasher
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an authentication service.
func NewService(repo APIKeyRepo, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		hasher: bcryptHasher{},
		logger: logger,
		now:    time.Now,
	}
}

// Authenticate resolves a raw API key to an Actor. All failure modes return
// auth-class AppErrors; the distinction between unknown, revoked, and expired
// keys is logged but the first two share a client-facing code to avoid
// confirming key existence.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (types.Actor, error) {
	if len(rawKey) < keyPrefixLen {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthKeyInvalid, "API key is not valid", nil)
	}

	key, err := s.repo.GetByPrefix(ctx, rawKey[:keyPrefixLen])
	if err != nil {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthKeyInvalid, "API key is not valid", err)
	}

	if err := s.hasher.Compare(key.KeyHash, rawKey); err != nil {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthKeyInvalid, "API key is not valid", nil)
	}

	if key.RevokedAt != nil {
		s.logger.WarnContext(ctx, "revoked API key presented", "key_id", key.ID)
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthKeyRevoked, "API key has been revoked", nil)
	}
	if key.ExpiresAt != nil && s.now().After(*key.ExpiresAt) {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthKeyExpired, "API key has expired", nil)
	}

	return types.Actor{
		ID:             key.ID,
		Type:           types.ActorTypeAPIKey,
		OrganizationID: key.OrganizationID,
	}, nil
}

// GenerateKey produces a new raw key plus its stored representation.
// The raw value is returned exactly once.
func (s *Service) GenerateKey(orgID, name string) (raw string, key *types.APIKey, err error) {
	buf := make([]byte, keySecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generating key material: %w", err)
	}
	raw = "cs_" + hex.EncodeToString(buf)

	hash, err := s.hasher.Hash(raw)
	if err != nil {
		return "", nil, fmt.Errorf("hashing key: %w", err)
	}

	return raw, &types.APIKey{
		OrganizationID: orgID,
		KeyPrefix:      raw[:keyPrefixLen],
		KeyHash:        hash,
		Name:           name,
		CreatedAt:      s.now().UTC(),
	}, nil
}
