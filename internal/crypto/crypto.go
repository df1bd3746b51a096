package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"sitewatch/internal/logger"
)

// Sentinel prefixes every encrypted envelope. Values without it are treated
// as plaintext, a transitional state tolerated for pre-encryption records.
const Sentinel = "ENC:"

// Cipher encrypts and decrypts persisted personal identifiers. A nil or
// keyless Cipher is a no-op passthrough.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives an AES-256-GCM key from the master key. An empty master
// key returns a passthrough cipher and warns: personal data will be stored
// in plaintext.
func NewCipher(masterKey string) (*Cipher, error) {
	if masterKey == "" {
		logger.L().Warn("no PII key configured, personal identifiers will be stored unencrypted")
		return &Cipher{}, nil
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(masterKey), []byte("sitewatch-pii"), nil)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Enabled reports whether a key is configured
func (c *Cipher) Enabled() bool {
	return c != nil && c.aead != nil
}

// IsEncrypted reports whether a value carries the envelope sentinel
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Sentinel)
}

// Encrypt seals a plaintext into an envelope. Already-encrypted values and
// empty strings pass through unchanged.
func (c *Cipher) Encrypt(plaintext string) string {
	if !c.Enabled() || plaintext == "" || IsEncrypted(plaintext) {
		return plaintext
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		logger.L().Warn("failed to generate nonce, storing plaintext", zap.Error(err))
		return plaintext
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Sentinel + base64.StdEncoding.EncodeToString(sealed)
}

// Decrypt opens an envelope. Non-enveloped values pass through unchanged.
// On authentication failure the input is returned unchanged and a warning
// is logged; callers must treat the value as opaque.
func (c *Cipher) Decrypt(value string) string {
	if !IsEncrypted(value) {
		return value
	}
	if !c.Enabled() {
		logger.L().Warn("encrypted value found but no PII key configured")
		return value
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Sentinel))
	if err != nil || len(raw) < c.aead.NonceSize() {
		logger.L().Warn("malformed encrypted envelope")
		return value
	}

	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		logger.L().Warn("failed to decrypt value, wrong key?", zap.Error(err))
		return value
	}

	return string(plaintext)
}

// DecryptStrict is Decrypt that surfaces authentication failures. Used by
// key rotation, where a silent passthrough would corrupt data.
func (c *Cipher) DecryptStrict(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	if !c.Enabled() {
		return "", fmt.Errorf("encrypted value but no key configured")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Sentinel))
	if err != nil {
		return "", fmt.Errorf("malformed envelope: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("envelope too short")
	}

	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// MaskEmail returns a log-safe form of an email address, e.g. a***c@g***.com
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if len(email) <= 2 {
			return "***"
		}
		return email[:1] + "***"
	}

	local, domain := email[:at], email[at+1:]
	masked := maskPart(local)

	dot := strings.LastIndex(domain, ".")
	if dot <= 0 {
		return masked + "@" + maskPart(domain)
	}
	return masked + "@" + maskPart(domain[:dot]) + domain[dot:]
}

func maskPart(s string) string {
	switch {
	case len(s) <= 1:
		return "***"
	case len(s) == 2:
		return s[:1] + "***"
	default:
		return s[:1] + "***" + s[len(s)-1:]
	}
}
