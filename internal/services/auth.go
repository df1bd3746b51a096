package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"sitewatch/internal/database"
	"sitewatch/internal/logger"
	"sitewatch/internal/models"
)

const (
	// APIKeyPrefix marks every raw key handed out at registration
	APIKeyPrefix = "sw_"

	verifyCodeTTL       = 24 * time.Hour
	maxVerifyAttempts   = 5
	unsubscribeTokenTTL = 30 * 24 * time.Hour
)

// AuthService handles API keys, email verification, and unsubscribe tokens
type AuthService struct {
	unsubscribeKey []byte
}

// NewAuthService creates a new auth service. The unsubscribe key signs
// opt-out links embedded in alert emails.
func NewAuthService(unsubscribeKey string) *AuthService {
	return &AuthService{unsubscribeKey: []byte(unsubscribeKey)}
}

// GenerateAPIKey returns a new raw key and its storage hash. The raw key is
// shown to the caller exactly once and never persisted.
func (s *AuthService) GenerateAPIKey() (raw, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate API key: %w", err)
	}
	raw = APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashAPIKey(raw), nil
}

// HashAPIKey returns the SHA-256 hex digest under which a key is stored
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HashEmail returns the deterministic lookup hash of an email address
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// ValidateAPIKey resolves a raw key to its owning tenant. Usage metadata on
// the key record is updated best-effort; a lost update is acceptable.
func (s *AuthService) ValidateAPIKey(raw string) (*models.Tenant, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}

	db := database.GetDB()

	var key models.APIKey
	if err := db.Where("key_hash = ?", HashAPIKey(raw)).First(&key).Error; err != nil {
		return nil, ErrInvalidToken
	}

	var tenant models.Tenant
	if err := db.Where("id = ?", key.TenantID).First(&tenant).Error; err != nil {
		return nil, ErrInvalidToken
	}

	if err := db.Model(&models.APIKey{}).Where("key_hash = ?", key.KeyHash).Updates(map[string]interface{}{
		"last_used_at":  time.Now(),
		"request_count": key.RequestCount + 1,
	}).Error; err != nil {
		logger.L().Warn("failed to update API key usage", zap.Error(err))
	}

	return &tenant, nil
}

// GenerateVerifyCode returns a random 6-digit code
func GenerateVerifyCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// VerifyEmail checks a verification code for the tenant registered under the
// given email. Wrong attempts are counted; the attempt after the limit is
// rate-limited. Expired codes are rejected.
func (s *AuthService) VerifyEmail(email, code string) error {
	db := database.GetDB()

	var tenant models.Tenant
	if err := db.Where("email_hash = ?", HashEmail(email)).First(&tenant).Error; err != nil {
		return ErrNotFound
	}

	if tenant.Verified {
		return nil
	}

	if tenant.VerifyAttempts >= maxVerifyAttempts {
		return ErrRateLimited
	}

	if time.Now().After(tenant.VerifyExpiry) {
		return ErrInvalidCode
	}

	if tenant.VerifyCode == "" || code != tenant.VerifyCode {
		db.Model(&tenant).Update("verify_attempts", tenant.VerifyAttempts+1)
		return ErrInvalidCode
	}

	return db.Model(&tenant).Updates(map[string]interface{}{
		"verified":        true,
		"verify_code":     "",
		"verify_attempts": 0,
	}).Error
}

// ResetVerifyCode issues a fresh code for an unverified tenant
func (s *AuthService) ResetVerifyCode(tenant *models.Tenant) (string, error) {
	code, err := GenerateVerifyCode()
	if err != nil {
		return "", err
	}

	err = database.GetDB().Model(tenant).Updates(map[string]interface{}{
		"verify_code":     code,
		"verify_expiry":   time.Now().Add(verifyCodeTTL),
		"verify_attempts": 0,
	}).Error
	if err != nil {
		return "", err
	}
	return code, nil
}

// UnsubscribeToken signs an opt-out token for an email address
func (s *AuthService) UnsubscribeToken(email string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   HashEmail(email),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(unsubscribeTokenTTL)),
		Issuer:    "sitewatch",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.unsubscribeKey)
}

// VerifyUnsubscribeToken checks an opt-out token against an email address
func (s *AuthService) VerifyUnsubscribeToken(email, tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.unsubscribeKey, nil
	})
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject != HashEmail(email) {
		return ErrInvalidToken
	}
	return nil
}
