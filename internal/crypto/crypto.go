// Package crypto implements C1: pepper-hashed opaque tokens and envelope
// encryption of integration secrets at rest.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// legacyPrefix marks the older base64-only encoding this package still
// accepts for decryption, so previously-written rows keep decrypting after
// a key-format change.
const legacyPrefix = "b64:"

// HashToken computes the deterministic keyed digest stored for an opaque
// token's secret half. pepper is the process-wide HMAC key (TOKEN_PEPPER).
func HashToken(secret, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyToken reports whether secret hashes to digest under pepper, in
// constant time.
func VerifyToken(secret, digest, pepper string) bool {
	computed := HashToken(secret, pepper)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

// Box encrypts and decrypts integration secrets with NaCl secretbox, keyed
// by a 32-byte key derived from ENCRYPTION_KEY.
type Box struct {
	key [32]byte
}

// NewBox derives a Box from the raw ENCRYPTION_KEY env value. The key is
// hashed with SHA-256 so operators can supply a passphrase of any length.
func NewBox(rawKey string) *Box {
	var key [32]byte
	sum := sha256.Sum256([]byte(rawKey))
	copy(key[:], sum[:])
	return &Box{key: key}
}

// Encrypt returns a base64-encoded nonce||ciphertext. Encrypting an
// already-encrypted value is a no-op (idempotent per spec invariant 2).
func (b *Box) Encrypt(plaintext string) (string, error) {
	if b.IsEncrypted(plaintext) {
		return plaintext, nil
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It also accepts the legacy base64-prefixed
// format for data written before this encoding was adopted.
func (b *Box) Decrypt(ciphertext string) (string, error) {
	if strings.HasPrefix(ciphertext, legacyPrefix) {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, legacyPrefix))
		if err != nil {
			return "", fmt.Errorf("decoding legacy ciphertext: %w", err)
		}
		return string(raw), nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext: %w", err)
	}
	if len(raw) < 24 {
		return "", fmt.Errorf("invalid ciphertext: too short")
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])

	plaintext, ok := secretbox.Open(nil, raw[24:], &nonce, &b.key)
	if !ok {
		return "", fmt.Errorf("invalid ciphertext: decryption failed")
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether s already looks like a value this package
// produced, so re-encryption is a no-op.
func (b *Box) IsEncrypted(s string) bool {
	if strings.HasPrefix(s, legacyPrefix) {
		return true
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}
	// A value we produced is always nonce(24) + ciphertext + overhead(16).
	return len(raw) >= 24+secretbox.Overhead
}

// sensitiveNames identifies field names that encryptDict treats as secret,
// matching the Python original's closed set of name patterns (config_models.py).
var sensitiveNames = []string{
	"api_key", "apikey", "secret", "password", "token", "credential",
	"private_key", "client_secret", "webhook_url", "access_key", "auth",
}

// IsSensitiveField reports whether key should be encrypted when found
// anywhere in a config document, including nested under "metadata" — per
// SPEC_FULL's decision on Open Question 3, nesting never bypasses
// encryption.
func IsSensitiveField(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range sensitiveNames {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// EncryptDict recurses through a JSON-like value (map[string]any,
// []any, or scalar) and encrypts every string leaf whose containing key
// matches IsSensitiveField. It returns a new value; the input is not
// mutated.
func (b *Box) EncryptDict(v any) (any, error) {
	return b.walkDict(v, false)
}

// DecryptDict is the inverse of EncryptDict.
func (b *Box) DecryptDict(v any) (any, error) {
	return b.walkDict(v, true)
}

func (b *Box) walkDict(v any, decrypt bool) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if str, ok := child.(string); ok && IsSensitiveField(k) {
				var (
					transformed string
					err         error
				)
				if decrypt {
					transformed, err = b.Decrypt(str)
				} else {
					transformed, err = b.Encrypt(str)
				}
				if err != nil {
					return nil, fmt.Errorf("field %q: %w", k, err)
				}
				out[k] = transformed
				continue
			}
			transformedChild, err := b.walkDict(child, decrypt)
			if err != nil {
				return nil, err
			}
			out[k] = transformedChild
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			transformedChild, err := b.walkDict(child, decrypt)
			if err != nil {
				return nil, err
			}
			out[i] = transformedChild
		}
		return out, nil
	default:
		return v, nil
	}
}
