package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"

	"crisisengine/internal/models"
	"crisisengine/internal/repository"
)

var (
	ErrReviewerNotFound   = errors.New("reviewer not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var jwtSecret = loadJWTSecret()

func loadJWTSecret() []byte {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		return []byte(secret)
	}
	return []byte("crisisengine-dev-secret")
}

// GetJWTSecret returns the JWT secret key.
func GetJWTSecret() []byte {
	return jwtSecret
}

// AuthService issues bearer tokens to crisis-response staff.
type AuthService interface {
	Login(username, password string) (string, time.Time, error)
	HashPassword(password string) (string, error)
}

type authService struct {
	reviewers repository.ReviewerRepository
	logger    *zap.Logger
}

func NewAuthService(reviewers repository.ReviewerRepository, logger *zap.Logger) AuthService {
	return &authService{reviewers: reviewers, logger: logger}
}

func (s *authService) Login(username, password string) (string, time.Time, error) {
	reviewer, err := s.reviewers.GetReviewerByUsername(username)
	if err != nil {
		s.logger.Error("Failed to get reviewer by username", zap.Error(err))
		return "", time.Time{}, fmt.Errorf("failed to retrieve reviewer: %w", err)
	}
	if reviewer == nil {
		return "", time.Time{}, ErrReviewerNotFound
	}

	if !s.verifyPassword(reviewer.PasswordHash, password) {
		return "", time.Time{}, ErrInvalidCredentials
	}

	expirationTime := time.Now().Add(12 * time.Hour)
	claims := &models.Claims{
		ReviewerID: reviewer.ID,
		Username:   reviewer.Username,
		Role:       reviewer.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtSecret)
	if err != nil {
		s.logger.Error("Failed to generate JWT token", zap.Error(err))
		return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}

	s.logger.Info("Reviewer logged in", zap.String("username", reviewer.Username))
	return tokenString, expirationTime, nil
}

// HashPassword uses Argon2id and encodes salt and parameters alongside
// the hash.
func (s *authService) HashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)

	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedHash := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s", argon2.Version, 64*1024, 1, 4, encodedSalt, encodedHash), nil
}

// verifyPassword re-derives the hash with the stored parameters and
// compares in constant time.
func (s *authService) verifyPassword(hashedPassword, password string) bool {
	sections := strings.Split(strings.TrimPrefix(hashedPassword, "$"), "$")
	// Expected: ["argon2id", "v=19", "m=65536,t=1,p=4", salt, hash]
	if len(sections) != 5 || sections[0] != "argon2id" {
		return false
	}

	var m, t, p uint32
	if _, err := fmt.Sscanf(sections[2], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(sections[3])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, t, m, uint8(p), uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}
