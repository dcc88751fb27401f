// Package services contains server-side business logic. This file implements
// UserService: registration, login, profile access, and rotation of the
// sealed per-user Gemini API key.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowguard/flowguard/internal/common"
	"github.com/flowguard/flowguard/internal/cryptox"
	"github.com/flowguard/flowguard/internal/server/auth"
	"github.com/flowguard/flowguard/internal/server/config"
	"github.com/flowguard/flowguard/internal/server/gemini"
	"github.com/flowguard/flowguard/internal/server/models"
	"github.com/flowguard/flowguard/internal/server/repositories/repomanager"
)

// validateGeminiKey is a seam for testing key validation without network.
var validateGeminiKey = gemini.ValidateKey

// UserService provides authentication-related operations:
// - Register: validate the Gemini key, hash the password, create the account
// - Login: verify credentials and mint an access token
// - Profile: load the caller's account
// - UpdateAPIKey: validate and reseal a new Gemini key
type UserService struct {
	db                          *sql.DB
	repomanager                 repomanager.RepositoryManager
	jwtSecret                   []byte
	sealKey                     []byte
	accessTokenValidityDuration time.Duration
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *UserService {
	return &UserService{
		db:                          db,
		repomanager:                 m,
		jwtSecret:                   []byte(cfg.SecretKey),
		sealKey:                     cryptox.DeriveSealKey(cfg.APIKeySealSecret),
		accessTokenValidityDuration: cfg.AccessTokenValidityDuration,
	}
}

// Register creates a new account. The Gemini key is checked against the live
// API before anything is stored; a dead key fails the whole signup.
func (s *UserService) Register(ctx context.Context, fullName, email, password, geminiKey string) (*models.User, error) {
	fullName = strings.TrimSpace(fullName)
	email = strings.ToLower(strings.TrimSpace(email))

	if fullName == "" || email == "" || password == "" {
		return nil, fmt.Errorf("%w: full name, email and password are required", common.ErrorValidation)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email address", common.ErrorValidation)
	}

	if err := validateGeminiKey(ctx, geminiKey); err != nil {
		if errors.Is(err, common.ErrInvalidAPIKey) {
			return nil, common.ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("error validating gemini key: %w", err)
	}

	hash, err := cryptox.HashPassword([]byte(password))
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	cipher, nonce, err := cryptox.Seal([]byte(geminiKey), s.sealKey)
	if err != nil {
		return nil, fmt.Errorf("error sealing gemini key: %w", err)
	}

	user := &models.User{
		FullName:     fullName,
		Email:        email,
		PasswordHash: hash,
		APIKeyCipher: cipher,
		APIKeyNonce:  nonce,
	}

	repo := s.repomanager.Users(s.db)
	created, err := repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	return created, nil
}

// Login verifies the email/password pair and, on success, returns a signed
// access token. Unknown emails and wrong passwords are indistinguishable.
func (s *UserService) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", common.ErrorUnauthorized
		}
		return "", common.ErrorInternal
	}

	ok, err := cryptox.VerifyPassword([]byte(password), user.PasswordHash)
	if err != nil || !ok {
		return "", common.ErrorUnauthorized
	}

	return auth.GenerateToken(user.ID, s.jwtSecret, s.accessTokenValidityDuration)
}

// Profile loads the account for userID.
func (s *UserService) Profile(ctx context.Context, userID int64) (*models.User, error) {
	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	return user, nil
}

// UpdateAPIKey validates the replacement Gemini key against the live API and
// reseals it for storage.
func (s *UserService) UpdateAPIKey(ctx context.Context, userID int64, geminiKey string) error {
	if err := validateGeminiKey(ctx, geminiKey); err != nil {
		if errors.Is(err, common.ErrInvalidAPIKey) {
			return common.ErrInvalidAPIKey
		}
		return fmt.Errorf("error validating gemini key: %w", err)
	}

	cipher, nonce, err := cryptox.Seal([]byte(geminiKey), s.sealKey)
	if err != nil {
		return fmt.Errorf("error sealing gemini key: %w", err)
	}

	repo := s.repomanager.Users(s.db)
	if err := repo.UpdateAPIKey(ctx, userID, cipher, nonce); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("error updating gemini key: %w", err)
	}

	return nil
}

// ValidateGeminiKey probes the live Gemini API with the candidate key.
// A dead key reports false; transport problems surface as an error.
func (s *UserService) ValidateGeminiKey(ctx context.Context, geminiKey string) (bool, error) {
	if err := validateGeminiKey(ctx, geminiKey); err != nil {
		if errors.Is(err, common.ErrInvalidAPIKey) {
			return false, nil
		}
		return false, fmt.Errorf("error validating gemini key: %w", err)
	}
	return true, nil
}

// openGeminiKey unseals the user's stored Gemini key for agent calls.
func openGeminiKey(user *models.User, sealKey []byte) (string, error) {
	if !user.HasAPIKey() {
		return "", fmt.Errorf("%w: no gemini key on file", common.ErrorValidation)
	}
	plain, err := cryptox.Open(user.APIKeyCipher, user.APIKeyNonce, sealKey)
	if err != nil {
		return "", fmt.Errorf("error unsealing gemini key: %w", err)
	}
	return string(plain), nil
}
