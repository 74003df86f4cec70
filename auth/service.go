package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/koorukuroo/contest-engine/domain"
)

// Store is the persistence surface the auth service needs. Order/
// competition storage lives elsewhere; this is deliberately narrow.
type Store interface {
	GetUserByExternalID(ctx context.Context, externalID string) (*domain.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetApiKeyByHash(ctx context.Context, keyHash string) (*domain.ApiKey, error)
	CountActiveApiKeys(ctx context.Context, userID uuid.UUID) (int, error)
	CreateApiKey(ctx context.Context, key *domain.ApiKey) error
	TouchApiKeyLastUsed(ctx context.Context, keyID uuid.UUID) error
}

// Service handles admin session login and API key issuance/verification.
type Service struct {
	store     Store
	adminUser domain.User
	adminHash []byte
	jwtSecret []byte
}

// NewService creates the auth service with admin credentials and JWT secret
func NewService(store Store, adminEmail, adminPasswordHash, jwtSecret string) *Service {
	var hash []byte
	if adminPasswordHash != "" {
		hash = []byte(adminPasswordHash)
	} else {
		log.Println("[SECURITY WARNING] No ADMIN_PASSWORD_HASH provided - using insecure default password")
		hash, _ = bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	}

	secret := []byte(jwtSecret)
	if len(secret) == 0 {
		log.Println("[SECURITY WARNING] No JWT_SECRET provided - using insecure default secret")
		secret = []byte("super_secret_dev_key_do_not_use_in_prod")
	}

	return &Service{
		store:     store,
		adminUser: domain.User{ID: uuid.Nil, ExternalID: adminEmail, IsAdmin: true},
		adminHash: hash,
		jwtSecret: secret,
	}
}

// AdminLogin validates the operator password and issues a session token.
// There is exactly one admin identity; it is not a row in the users
// table, matching the thin admin surface the rest of this package describes.
func (s *Service) AdminLogin(password string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(s.adminHash, []byte(password)); err != nil {
		log.Printf("[WARN] admin login failed (invalid password)")
		return "", errors.New("invalid credentials")
	}

	token, err := s.GenerateToken(&s.adminUser)
	if err != nil {
		log.Printf("[CRITICAL] JWT generation failed: %v", err)
		return "", errors.New("system error")
	}
	return token, nil
}

// GenerateToken creates an admin session token using the service's secret
func (s *Service) GenerateToken(user *domain.User) (string, error) {
	return GenerateJWTWithSecret(user, s.jwtSecret)
}

// ValidateToken validates an admin session token using the service's secret
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(tokenString, s.jwtSecret)
}

// keyPrefixLen is how much of the plaintext key is kept, unhashed, for
// display in key-management UIs ("ck_3f9a1c07b...").
const keyPrefixLen = 12

// IssueApiKey generates a new random API key for userID, persists its
// hash, and returns the plaintext token. The plaintext is never
// recoverable after this call returns.
func (s *Service) IssueApiKey(ctx context.Context, userID uuid.UUID) (plaintext string, key *domain.ApiKey, err error) {
	active, err := s.store.CountActiveApiKeys(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	if active >= domain.MaxActiveApiKeysPerUser {
		return "", nil, errors.New("active API key limit reached")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	plaintext = "ck_" + hex.EncodeToString(raw)
	hash := HashApiKey(plaintext)

	key = &domain.ApiKey{
		ID:       uuid.New(),
		UserID:   userID,
		KeyHash:  hash,
		Prefix:   plaintext[:keyPrefixLen],
		IsActive: true,
	}

	if err := s.store.CreateApiKey(ctx, key); err != nil {
		return "", nil, err
	}

	return plaintext, key, nil
}

// AuthenticateApiKey resolves a plaintext API key to its owning user,
// rejecting revoked keys. The hash, not the plaintext, is ever
// persisted or compared against the store.
func (s *Service) AuthenticateApiKey(ctx context.Context, plaintext string) (*domain.User, error) {
	hash := HashApiKey(plaintext)

	key, err := s.store.GetApiKeyByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !key.IsActive {
		return nil, errors.New("API key revoked")
	}

	user, err := s.store.GetUserByID(ctx, key.UserID)
	if err != nil {
		return nil, err
	}

	_ = s.store.TouchApiKeyLastUsed(ctx, key.ID)

	return user, nil
}

// HashApiKey is the one-way digest stored in place of the plaintext key.
func HashApiKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
