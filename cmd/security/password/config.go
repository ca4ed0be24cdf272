package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost. MemoryKiB is in KiB.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted passwords.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig is tuned for interactive logins on shop-floor terminals.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 10,
			MaxLength: 256,
		},
	}
}

type envBinding struct {
	key   string
	apply func(c *Config, raw string) error
}

var envBindings = []envBinding{
	{"MES_PASSWORD_MIN_LEN", func(c *Config, raw string) (err error) {
		c.Policy.MinLength, err = parseIntIn(raw, 1, 1024)
		return err
	}},
	{"MES_PASSWORD_MAX_LEN", func(c *Config, raw string) (err error) {
		c.Policy.MaxLength, err = parseIntIn(raw, 1, 4096)
		return err
	}},
	{"MES_PASSWORD_REJECT_VERY_WEAK", func(c *Config, raw string) (err error) {
		c.Policy.RejectVeryWeak, err = strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid boolean")
		}
		return nil
	}},
	{"MES_ARGON2_MEMORY_KIB", func(c *Config, raw string) (err error) {
		c.Params.MemoryKiB, err = parseUint32In(raw, 8*1024, 1024*1024)
		return err
	}},
	{"MES_ARGON2_ITERATIONS", func(c *Config, raw string) (err error) {
		c.Params.Iterations, err = parseUint32In(raw, 1, 20)
		return err
	}},
	{"MES_ARGON2_PARALLELISM", func(c *Config, raw string) error {
		u, err := parseUint32In(raw, 1, math.MaxUint8)
		if err != nil {
			return err
		}
		c.Params.Parallelism = uint8(u) // #nosec G115 -- bounded above.
		return nil
	}},
	{"MES_ARGON2_SALT_LEN", func(c *Config, raw string) (err error) {
		c.Params.SaltLength, err = parseUint32In(raw, 8, 64)
		return err
	}},
	{"MES_ARGON2_KEY_LEN", func(c *Config, raw string) (err error) {
		c.Params.KeyLength, err = parseUint32In(raw, 16, 64)
		return err
	}},
}

// FromEnv applies MES_PASSWORD_* and MES_ARGON2_* overrides to DefaultConfig.
// Errors are EnvError values naming the offending variable.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	for _, b := range envBindings {
		raw, ok := os.LookupEnv(b.key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if err := b.apply(&cfg, raw); err != nil {
			return Config{}, EnvError{Key: b.key, Detail: err.Error()}
		}
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, EnvError{
			Key:    "MES_PASSWORD_MIN_LEN",
			Detail: fmt.Sprintf("min_len(%d) > max_len(%d)", cfg.Policy.MinLength, cfg.Policy.MaxLength),
		}
	}

	return cfg, nil
}

func parseIntIn(raw string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("out of range [%d..%d]", lo, hi)
	}
	return n, nil
}

func parseUint32In(raw string, lo, hi uint32) (uint32, error) {
	u, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	if uint32(u) < lo || uint32(u) > hi {
		return 0, fmt.Errorf("out of range [%d..%d]", lo, hi)
	}
	return uint32(u), nil
}
