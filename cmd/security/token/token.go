package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var holding the code hashing key.
	// #nosec G101 -- env var name, not a credential.
	HMACEnvKey = "MES_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the shortest key RequireHMAC accepts.
	MinHMACKeyBytes = 32

	defaultCodeBytes = 24
)

// Hasher turns plain codes into storage digests.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher using key; an empty key selects plain SHA-256.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return Hasher{key: k}
}

// HasherFromEnv builds a Hasher from MES_TOKEN_HMAC_KEY.
// When requireHMAC is set a missing or short key is an error.
func HasherFromEnv(requireHMAC bool) (Hasher, error) {
	key, err := HMACKeyFromEnv(MinHMACKeyBytes)
	if err != nil {
		if requireHMAC || errors.Is(err, ErrHMACKeyTooShort) {
			return Hasher{}, err
		}
		return Hasher{}, nil
	}
	return NewHasher(key), nil
}

// Keyed reports whether h uses HMAC.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

// Hash returns the hex digest of the trimmed code.
func (h Hasher) Hash(code string) string {
	code = strings.TrimSpace(code)
	if len(h.key) == 0 {
		return HashSHA256Hex(code)
	}
	return HashHMACSHA256Hex(code, h.key)
}

// Equal compares two hex digests in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// NewCode returns a URL-safe random code of nBytes entropy.
func NewCode(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = defaultCodeBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the trimmed key bytes, enforcing minBytes when > 0.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}
