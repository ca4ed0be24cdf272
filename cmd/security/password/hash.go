package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

var b64 = base64.RawStdEncoding

// Hash validates password against the policy and returns its PHC-encoded Argon2id hash.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	p := c.Params
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.MemoryKiB, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded.
// A malformed or over-cost hash yields (false, ErrInvalidHash).
func (c Config) Verify(encoded, password string) (bool, error) {
	got, salt, want, err := decode(encoded)
	if err != nil {
		return false, err
	}
	if !c.acceptable(got) {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey([]byte(password), salt, got.Iterations, got.MemoryKiB, got.Parallelism, got.KeyLength)
	return subtle.ConstantTimeCompare(key, want) == 1, nil
}

// NeedsRehash reports whether encoded was produced with parameters other than c.Params.
func (c Config) NeedsRehash(encoded string) bool {
	got, _, _, err := decode(encoded)
	if err != nil {
		return true
	}
	return got != c.Params
}

// acceptable lets older, cheaper hashes verify but refuses anything far above
// the configured cost.
func (c Config) acceptable(got Argon2idParams) bool {
	lim := c.Params
	switch {
	case got.MemoryKiB > lim.MemoryKiB*2:
		return false
	case got.Iterations > lim.Iterations*2:
		return false
	case uint32(got.Parallelism) > uint32(lim.Parallelism)*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

func decode(encoded string) (Argon2idParams, []byte, []byte, error) {
	fail := func() (Argon2idParams, []byte, []byte, error) {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return fail()
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return fail()
	}

	var p Argon2idParams
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fail()
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return fail()
		}
		switch k {
		case "m":
			p.MemoryKiB = uint32(n)
		case "t":
			p.Iterations = uint32(n)
		case "p":
			if n > 255 {
				return fail()
			}
			p.Parallelism = uint8(n)
		default:
			return fail()
		}
	}
	if p.MemoryKiB == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return fail()
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return fail()
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return fail()
	}

	p.SaltLength = uint32(len(salt)) // #nosec G115 -- bounded by acceptable().
	p.KeyLength = uint32(len(key))   // #nosec G115 -- bounded by acceptable().

	return p, salt, key, nil
}
